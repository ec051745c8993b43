// Command crdtsim runs several replicated datastores against one hub, applies
// random edits, undos and redos with interleaved delivery, and checks that
// every replica converges to the same state.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/andreyvit/datastore"
	"github.com/andreyvit/datastore/hub"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "crdtsim: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("crdtsim", flag.ContinueOnError)
	flags.SetOutput(stderr)
	peerCount := flags.Int("peers", 3, "number of replicas")
	opCount := flags.Int("ops", 200, "number of random operations")
	seed := flags.Uint64("seed", 0, "random seed (0 picks one from the clock)")
	schemaPath := flags.String("schema", "", "YAML schema file (default: built-in notes schema)")
	dbPath := flags.String("db", "", "Bolt file for the hub log (default: in memory)")
	undoRate := flags.Float64("undo", 0.1, "probability of an undo or redo per operation")
	fetchRate := flags.Float64("fetch", 0.25, "probability of a delivery round per operation")
	encName := flags.String("encoding", "msgpack", "wire encoding: msgpack or json")
	dump := flags.Bool("dump", false, "print internal state of the first replica")
	verbose := flags.Bool("v", false, "verbose logging")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() > 0 {
		return fmt.Errorf("unknown arguments: %v", flags.Args())
	}
	if *peerCount < 1 {
		return fmt.Errorf("-peers must be positive")
	}

	ll := &slog.LevelVar{}
	ll.Set(slog.LevelInfo)
	if *verbose {
		ll.Set(slog.LevelDebug)
	}
	logw, noColor := stderr, true
	if f, ok := stderr.(*os.File); ok {
		logw, noColor = colorable.NewColorable(f), !isatty.IsTerminal(f.Fd())
	}
	logger := slog.New(tint.NewHandler(logw, &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000",
		NoColor:    noColor,
	}))

	enc, err := datastore.ParseEncoding(*encName)
	if err != nil {
		return err
	}
	schemas := defaultSchemas
	if *schemaPath != "" {
		schemas, err = datastore.LoadSchemaFile(*schemaPath)
		if err != nil {
			return err
		}
	}
	if *seed == 0 {
		*seed = uint64(time.Now().UnixNano())
	}
	logger.Info("starting", "seed", *seed, "peers", *peerCount, "ops", *opCount, "encoding", enc)

	h, err := hub.Open(hub.Options{
		Path:     *dbPath,
		Encoding: enc,
		Manual:   true,
		Logger:   logger,
		Verbose:  *verbose,
	})
	if err != nil {
		return err
	}
	defer h.Close()

	sim := &simulation{
		rnd:     rand.New(rand.NewPCG(*seed, uint64(*peerCount))),
		schemas: schemas,
		logger:  logger,
	}
	for range *peerCount {
		p := h.Connect(schemas...)
		ds, err := datastore.Create(ctx, datastore.Options{
			Schemas: schemas,
			Adapter: p,
			Logger:  logger,
			Verbose: *verbose,
		})
		if err != nil {
			return err
		}
		sim.replicas = append(sim.replicas, &replica{ds: ds, peer: p})
	}

	start := time.Now()
	for i := range *opCount {
		if err := ctx.Err(); err != nil {
			return err
		}
		r := sim.pick()
		switch roll := sim.rnd.Float64(); {
		case roll < *undoRate && len(sim.txIDs) > 0:
			err = sim.undoOrRedo(ctx, r)
		case roll < *undoRate+*fetchRate:
			_, err = r.peer.Fetch(ctx)
		default:
			err = sim.edit(r)
		}
		if err != nil {
			return fmt.Errorf("operation %d: %w", i, err)
		}
	}
	if err := sim.settle(ctx); err != nil {
		return err
	}

	stats, err := h.Stats()
	if err != nil {
		return err
	}
	first := sim.replicas[0].ds
	logger.Info("settled",
		"elapsed", time.Since(start).Round(time.Millisecond),
		"transactions", stats.Transactions,
		"events", stats.Events,
		"undos", sim.undos,
		"redos", sim.redos,
		"version", first.Version())

	if *dump {
		fmt.Fprint(stderr, first.Dump(datastore.DumpAll))
	}
	if err := sim.verify(); err != nil {
		return err
	}
	fmt.Fprintln(stdout, first.String())
	return nil
}

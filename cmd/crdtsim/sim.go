package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/andreyvit/datastore"
	"github.com/andreyvit/datastore/field"
	"github.com/andreyvit/datastore/hub"
)

var defaultSchemas = []*datastore.Schema{
	datastore.DefineSchema("notes", func(b *datastore.SchemaBuilder) {
		b.Register("title", "")
		b.Text("body")
		b.List("tags")
		b.Map("attrs")
	}),
	datastore.DefineSchema("todos", func(b *datastore.SchemaBuilder) {
		b.Register("done", false)
		b.Text("label")
	}),
}

const recordsPerTable = 4

type replica struct {
	ds   *datastore.Datastore
	peer *hub.Peer
}

type simulation struct {
	rnd      *rand.Rand
	schemas  []*datastore.Schema
	replicas []*replica
	logger   *slog.Logger

	txIDs        []string
	undos, redos int
}

func (sim *simulation) pick() *replica {
	return sim.replicas[sim.rnd.IntN(len(sim.replicas))]
}

// edit applies one random update to one random field.
func (sim *simulation) edit(r *replica) error {
	scm := sim.schemas[sim.rnd.IntN(len(sim.schemas))]
	names := scm.FieldNames()
	if len(names) == 0 {
		return nil
	}
	recordID := fmt.Sprintf("r%d", sim.rnd.IntN(recordsPerTable))
	name := names[sim.rnd.IntN(len(names))]
	tbl, err := r.ds.Get(scm.ID())
	if err != nil {
		return err
	}
	current := tbl.Get(recordID)[name]

	var upd any
	switch scm.Field(name).Kind() {
	case field.KindRegister:
		upd = fmt.Sprintf("v%d", sim.rnd.IntN(1000))
	case field.KindText:
		s, _ := current.(string)
		n := len([]rune(s))
		upd = field.TextSplice{
			Index:  sim.rnd.IntN(n + 1),
			Remove: sim.rnd.IntN(3),
			Text:   randomWord(sim.rnd),
		}
	case field.KindList:
		l, _ := current.([]any)
		upd = field.ListSplice{
			Index:  sim.rnd.IntN(len(l) + 1),
			Remove: sim.rnd.IntN(2),
			Values: []any{fmt.Sprintf("i%d", sim.rnd.IntN(100))},
		}
	case field.KindMap:
		var v any
		if sim.rnd.IntN(4) > 0 {
			v = fmt.Sprintf("m%d", sim.rnd.IntN(100))
		}
		upd = field.MapUpdate{fmt.Sprintf("k%d", sim.rnd.IntN(4)): v}
	default:
		return fmt.Errorf("unsupported field kind %v", scm.Field(name).Kind())
	}

	var id string
	err = r.ds.Write(func(tx *datastore.Tx) error {
		id = tx.ID()
		return tx.Update(scm.ID(), datastore.TableUpdate{recordID: {name: upd}})
	})
	if err != nil {
		return err
	}
	// every generated update inserts or writes something, so it is broadcast
	sim.txIDs = append(sim.txIDs, id)
	return nil
}

func (sim *simulation) undoOrRedo(ctx context.Context, r *replica) error {
	id := sim.txIDs[sim.rnd.IntN(len(sim.txIDs))]
	var err error
	if sim.rnd.IntN(2) == 0 {
		sim.undos++
		err = r.ds.Undo(ctx, id)
	} else {
		sim.redos++
		err = r.ds.Redo(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	return nil
}

// settle fetches until no replica has pending events.
func (sim *simulation) settle(ctx context.Context) error {
	for {
		var delivered int
		for _, r := range sim.replicas {
			n, err := r.peer.Fetch(ctx)
			if err != nil {
				return err
			}
			delivered += n
		}
		if delivered == 0 {
			return nil
		}
	}
}

func (sim *simulation) verify() error {
	want := sim.replicas[0].ds.Fingerprint()
	var diverged bool
	for _, r := range sim.replicas {
		fp := r.ds.Fingerprint()
		level := slog.LevelDebug
		if fp != want {
			level = slog.LevelError
			diverged = true
		}
		sim.logger.LogAttrs(context.Background(), level, "replica", slog.Uint64("store", uint64(r.ds.StoreID())), slog.String("fingerprint", fmt.Sprintf("%016x", fp)))
	}
	if diverged {
		return fmt.Errorf("replicas diverged")
	}
	return nil
}

func randomWord(rnd *rand.Rand) string {
	n := 1 + rnd.IntN(4)
	b := make([]rune, n)
	for i := range b {
		b[i] = rune('a' + rnd.IntN(26))
	}
	return string(b)
}

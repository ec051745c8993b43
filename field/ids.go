package field

import (
	"encoding/base32"
	"encoding/binary"
	"fmt"
)

// Element ids are dense positions in the style of Logoot. An id is a sequence
// of fixed-width components, each encoding:
//
//	digit:32 version:64 storeID:32 seq:32
//
// with an order-preserving base32hex encoding, so plain string comparison
// orders ids the same way as comparing component tuples, with a shorter prefix
// sorting first. List order is id order.

const (
	componentBytes = 4 + 8 + 4 + 4
	componentLen   = componentBytes * 8 / 5 // 32 chars, no padding

	duplexBytes = 8 + 4

	digitSpan = 1 << 32
	boundary  = 1 << 16
)

var idEncoding = base32.HexEncoding.WithPadding(base32.NoPadding)

var zeroComponent = encodeComponent(0, 0, 0, 0)

// Clock stamps freshly minted ids with the transaction that created them.
// A single clock must be used for all updates of one transaction.
type Clock struct {
	Version uint64
	StoreID uint32

	seq uint32
}

func NewClock(version uint64, storeID uint32) *Clock {
	return &Clock{Version: version, StoreID: storeID}
}

func (c *Clock) String() string {
	return fmt.Sprintf("v%d@%d#%d", c.Version, c.StoreID, c.seq)
}

func (c *Clock) tick() uint32 {
	c.seq++
	if c.seq == 0 {
		panic("field: clock sequence overflow")
	}
	return c.seq
}

// DuplexID returns an id whose string order matches (version, storeID) order.
func DuplexID(version uint64, storeID uint32) string {
	var b [duplexBytes]byte
	binary.BigEndian.PutUint64(b[0:8], version)
	binary.BigEndian.PutUint32(b[8:12], storeID)
	return idEncoding.EncodeToString(b[:])
}

// ParseDuplexID is the inverse of DuplexID.
func ParseDuplexID(id string) (version uint64, storeID uint32, ok bool) {
	b, err := idEncoding.DecodeString(id)
	if err != nil || len(b) != duplexBytes {
		return 0, 0, false
	}
	return binary.BigEndian.Uint64(b[0:8]), binary.BigEndian.Uint32(b[8:12]), true
}

func encodeComponent(digit uint32, version uint64, storeID, seq uint32) string {
	var b [componentBytes]byte
	binary.BigEndian.PutUint32(b[0:4], digit)
	binary.BigEndian.PutUint64(b[4:12], version)
	binary.BigEndian.PutUint32(b[12:16], storeID)
	binary.BigEndian.PutUint32(b[16:20], seq)
	return idEncoding.EncodeToString(b[:])
}

func decodeComponent(s string) (digit uint32, version uint64) {
	b, err := idEncoding.DecodeString(s)
	if err != nil || len(b) != componentBytes {
		panic(fmt.Errorf("field: malformed id component %q", s))
	}
	return binary.BigEndian.Uint32(b[0:4]), binary.BigEndian.Uint64(b[4:12])
}

func component(id string, depth int) (string, bool) {
	end := (depth + 1) * componentLen
	if len(id) < end {
		return "", false
	}
	return id[end-componentLen : end], true
}

// IDVersion returns the version of the transaction that minted the id.
func IDVersion(id string) uint64 {
	n := len(id) / componentLen
	if n == 0 || len(id)%componentLen != 0 {
		return 0
	}
	last, _ := component(id, n-1)
	_, version := decodeComponent(last)
	return version
}

func validID(id string) bool {
	if id == "" || len(id)%componentLen != 0 {
		return false
	}
	_, err := idEncoding.DecodeString(id)
	return err == nil
}

// idBetween returns a fresh id strictly between lower and upper. An empty lower
// means the start of the sequence, an empty upper means the end.
func idBetween(lower, upper string, clock *Clock) string {
	seq := clock.tick()
	var prefix []byte
	tied := upper != ""
	for depth := 0; ; depth++ {
		lc, lok := component(lower, depth)
		var uc string
		if tied {
			var uok bool
			uc, uok = component(upper, depth)
			if !uok {
				panic(fmt.Errorf("field: invalid id bounds %q >= %q", lower, upper))
			}
		}

		lo := int64(-1)
		if lok {
			d, _ := decodeComponent(lc)
			lo = int64(d)
		}
		hi := int64(digitSpan)
		if tied {
			d, _ := decodeComponent(uc)
			hi = int64(d)
		}

		if hi-lo > 1 {
			digit := pickDigit(lo, hi)
			prefix = append(prefix, encodeComponent(digit, clock.Version, clock.StoreID, seq)...)
			return string(prefix)
		}

		if lok {
			prefix = append(prefix, lc...)
			if tied && lc != uc {
				tied = false
			}
		} else {
			prefix = append(prefix, zeroComponent...)
			if zeroComponent != uc {
				tied = false
			}
		}
	}
}

func pickDigit(lo, hi int64) uint32 {
	gap := hi - lo - 1
	step := min(gap, boundary)
	return uint32(lo + 1 + (step-1)/2)
}

// mintIDs returns n increasing ids strictly between lower and upper.
func mintIDs(n int, lower, upper string, clock *Clock) []string {
	if n == 0 {
		return nil
	}
	ids := make([]string, n)
	prev := lower
	for i := range ids {
		prev = idBetween(prev, upper, clock)
		ids[i] = prev
	}
	return ids
}

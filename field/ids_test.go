package field

import (
	"math/rand/v2"
	"slices"
	"testing"
)

func TestDuplexID_order(t *testing.T) {
	ids := []string{
		DuplexID(0, 0),
		DuplexID(1, 5),
		DuplexID(1, 6),
		DuplexID(2, 0),
		DuplexID(255, 1),
		DuplexID(256, 0),
		DuplexID(1<<40, 3),
	}
	if !slices.IsSorted(ids) {
		t.Errorf("** duplex ids are not sorted: %v", ids)
	}
	for _, id := range ids {
		deepEqual(t, len(id), 20)
	}

	v, s, ok := ParseDuplexID(DuplexID(1<<40, 3))
	deepEqual(t, ok, true)
	deepEqual(t, v, uint64(1<<40))
	deepEqual(t, s, uint32(3))

	_, _, ok = ParseDuplexID("nope")
	deepEqual(t, ok, false)
}

func TestIDBetween_randomInsertionsStayOrdered(t *testing.T) {
	rnd := rand.New(rand.NewPCG(5, 5))
	var ids []string
	seen := make(map[string]bool)
	for i := range 2000 {
		k := rnd.IntN(len(ids) + 1)
		var lower, upper string
		if k > 0 {
			lower = ids[k-1]
		}
		if k < len(ids) {
			upper = ids[k]
		}
		clock := NewClock(uint64(i+1), uint32(rnd.IntN(3)+1))
		id := idBetween(lower, upper, clock)
		if id <= lower || (upper != "" && id >= upper) {
			t.Fatalf("** idBetween(%q, %q) = %q, not strictly between", lower, upper, id)
		}
		if !validID(id) {
			t.Fatalf("** idBetween produced malformed id %q", id)
		}
		if seen[id] {
			t.Fatalf("** duplicate id %q", id)
		}
		seen[id] = true
		ids = slices.Insert(ids, k, id)
		deepEqual(t, IDVersion(id), uint64(i+1))
	}
	if !slices.IsSorted(ids) {
		t.Errorf("** ids are not sorted")
	}
}

func TestIDBetween_adjacentDigitsDescend(t *testing.T) {
	lower := encodeComponent(7, 1, 1, 1)
	upper := encodeComponent(8, 1, 1, 1)
	id := idBetween(lower, upper, NewClock(2, 2))
	deepEqual(t, len(id), 2*componentLen)
	if id <= lower || id >= upper {
		t.Errorf("** got %q, wanted between %q and %q", id, lower, upper)
	}
}

func TestIDBetween_sameTransactionDoesNotCollide(t *testing.T) {
	clock := NewClock(4, 4)
	a := idBetween("", "", clock)
	b := idBetween("", "", clock)
	if a == b {
		t.Errorf("** two ids minted by one clock collide: %q", a)
	}
}

func TestMintIDs(t *testing.T) {
	ids := mintIDs(100, "", "", NewClock(1, 1))
	deepEqual(t, len(ids), 100)
	if !slices.IsSorted(ids) {
		t.Errorf("** minted ids are not sorted")
	}
	deepEqual(t, ids, mintIDs(100, "", "", NewClock(1, 1)))
	deepEqual(t, len(mintIDs(0, "", "", NewClock(1, 1))), 0)
}

func TestCemetery(t *testing.T) {
	cem := make(Cemetery)
	cem.Bury("a", 3)
	cem.Bury("a", 2)
	deepEqual(t, cem["a"], Tombstone{Count: 2, Version: 3})

	deepEqual(t, cem.Resurrect("a", 4), true)
	deepEqual(t, cem.Resurrect("a", 4), true)
	deepEqual(t, cem.Resurrect("a", 4), false)
	deepEqual(t, len(cem), 0)

	cem.Bury("b", 1)
	cem.Bury("c", 9)
	deepEqual(t, cem.Compact(5), 1)
	deepEqual(t, cem.Count("b"), 0)
	deepEqual(t, cem.Count("c"), 1)
}

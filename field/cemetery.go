package field

import "maps"

// Cemetery counts removals of element ids that are not matched by a visible
// element. Counts are kept symmetric: Bury adds one, Resurrect takes one away,
// and an entry disappears when its count returns to zero.
type Cemetery map[string]Tombstone

type Tombstone struct {
	Count   int    `json:"count" msgpack:"c"`
	Version uint64 `json:"version" msgpack:"v"` // last transaction that touched the entry
}

func (cem Cemetery) Count(id string) int {
	return cem[id].Count
}

func (cem Cemetery) Bury(id string, version uint64) {
	ts := cem[id]
	ts.Count++
	ts.Version = max(ts.Version, version)
	cem[id] = ts
}

// Resurrect decrements the count of a buried id and reports whether the id
// was buried at all.
func (cem Cemetery) Resurrect(id string, version uint64) bool {
	ts, ok := cem[id]
	if !ok {
		return false
	}
	ts.Count--
	if ts.Count <= 0 {
		delete(cem, id)
	} else {
		ts.Version = max(ts.Version, version)
		cem[id] = ts
	}
	return true
}

func (cem Cemetery) Clone() Cemetery {
	if cem == nil {
		return make(Cemetery)
	}
	return maps.Clone(cem)
}

// Compact drops tombstones that were last touched at or below horizon and
// returns how many were dropped.
func (cem Cemetery) Compact(horizon uint64) int {
	var n int
	for id, ts := range cem {
		if ts.Version <= horizon {
			delete(cem, id)
			n++
		}
	}
	return n
}

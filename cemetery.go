package datastore

// txCemetery tracks, per transaction id, how many times the transaction has
// been applied minus how many times it has been undone. A transaction's patch
// is in effect exactly while its count is 1.
type txCemetery map[string]*txEntry

type txEntry struct {
	Count   int
	Seen    bool // original delivery happened
	Version uint64
}

func (cem txCemetery) entry(id string, version uint64) *txEntry {
	e := cem[id]
	if e == nil {
		e = &txEntry{Version: version}
		cem[id] = e
	}
	return e
}

// transition adjusts the count of a transaction and reports whether its patch
// must be applied (+1), unapplied (-1), or left alone (0).
func (cem txCemetery) transition(id string, version uint64, typ TransactionType) int {
	e := cem.entry(id, version)
	switch typ {
	case TypeTransaction:
		if e.Seen {
			return 0
		}
		e.Seen = true
		e.Count++
		if e.Count == 1 {
			return 1
		}
	case TypeRedo:
		e.Count++
		if e.Count == 1 {
			return 1
		}
	case TypeUndo:
		e.Count--
		if e.Count == 0 {
			return -1
		}
	default:
		panic("invalid transaction type")
	}
	return 0
}

// compact drops the entries of transactions at or below horizon and records
// their ids in final.
func (cem txCemetery) compact(horizon uint64, final map[string]struct{}) int {
	var n int
	for id, e := range cem {
		if e.Version <= horizon {
			delete(cem, id)
			final[id] = struct{}{}
			n++
		}
	}
	return n
}

package field

import (
	"slices"
)

// sequence is the ordered CRDT shared by List and Text. values and ids are
// parallel and sorted by id; cem holds removals that did not match a visible
// element.
type sequence[T any] struct {
	values []T
	ids    []string
	cem    Cemetery
	edits  []edit[T]
}

// edit is a positional change: at Index, Removed was taken out and Inserted
// was put in.
type edit[T any] struct {
	Index    int
	Removed  []T
	Inserted []T
}

// segment is the identity-based form of one splice.
type segment[T any] struct {
	RemovedIDs     []string
	RemovedValues  []T
	InsertedIDs    []string
	InsertedValues []T
}

func newSequence[T any](values []T, ids []string, cem Cemetery) *sequence[T] {
	if len(values) != len(ids) {
		panic("field: sequence values and ids are out of sync")
	}
	return &sequence[T]{
		values: slices.Clone(values),
		ids:    slices.Clone(ids),
		cem:    cem.Clone(),
	}
}

func normalizeSplice(n, index, remove int) (int, int) {
	if index < 0 {
		index = max(0, index+n)
	} else if index > n {
		index = n
	}
	remove = max(0, min(remove, n-index))
	return index, remove
}

func (s *sequence[T]) splice(index, remove int, inserted []T, clock *Clock) (segment[T], edit[T], bool) {
	index, remove = normalizeSplice(len(s.values), index, remove)
	if remove == 0 && len(inserted) == 0 {
		return segment[T]{}, edit[T]{}, false
	}

	seg := segment[T]{
		RemovedIDs:     slices.Clone(s.ids[index : index+remove]),
		RemovedValues:  slices.Clone(s.values[index : index+remove]),
		InsertedValues: slices.Clone(inserted),
	}
	s.ids = slices.Delete(s.ids, index, index+remove)
	s.values = slices.Delete(s.values, index, index+remove)

	var lower, upper string
	if index > 0 {
		lower = s.ids[index-1]
	}
	if index < len(s.ids) {
		upper = s.ids[index]
	}
	seg.InsertedIDs = mintIDs(len(inserted), lower, upper, clock)
	s.ids = slices.Insert(s.ids, index, seg.InsertedIDs...)
	s.values = slices.Insert(s.values, index, seg.InsertedValues...)

	ed := edit[T]{
		Index:    index,
		Removed:  orEmpty(seg.RemovedValues),
		Inserted: orEmpty(seg.InsertedValues),
	}
	return seg, ed, true
}

func (s *sequence[T]) apply(seg segment[T], version uint64) {
	for _, id := range seg.RemovedIDs {
		s.remove(id, version)
	}
	for i, id := range seg.InsertedIDs {
		s.insert(id, valueAt(seg.InsertedValues, i), version)
	}
}

func (s *sequence[T]) unapply(seg segment[T], version uint64) {
	for _, id := range seg.InsertedIDs {
		s.remove(id, version)
	}
	for i, id := range seg.RemovedIDs {
		s.insert(id, valueAt(seg.RemovedValues, i), version)
	}
}

// remove takes out a visible element, or buries the id if it is not visible,
// so that its eventual insertion is cancelled.
func (s *sequence[T]) remove(id string, version uint64) {
	i, found := slices.BinarySearch(s.ids, id)
	if !found {
		s.cem.Bury(id, version)
		return
	}
	v := s.values[i]
	s.ids = slices.Delete(s.ids, i, i+1)
	s.values = slices.Delete(s.values, i, i+1)
	s.record(i, []T{v}, []T{})
}

// insert puts an element at the position its id dictates, unless the id is
// buried, in which case one burial is cancelled instead.
func (s *sequence[T]) insert(id string, v T, version uint64) {
	if s.cem.Resurrect(id, version) {
		return
	}
	i, found := slices.BinarySearch(s.ids, id)
	if found {
		return
	}
	s.ids = slices.Insert(s.ids, i, id)
	s.values = slices.Insert(s.values, i, v)
	s.record(i, []T{}, []T{v})
}

// record appends an edit, coalescing it with the previous one when they form
// a contiguous run.
func (s *sequence[T]) record(index int, removed, inserted []T) {
	if n := len(s.edits); n > 0 {
		last := &s.edits[n-1]
		if len(removed) == 0 && last.Index+len(last.Inserted) == index {
			last.Inserted = append(last.Inserted, inserted...)
			return
		}
		if len(inserted) == 0 && len(last.Inserted) == 0 && last.Index == index {
			last.Removed = append(last.Removed, removed...)
			return
		}
	}
	s.edits = append(s.edits, edit[T]{Index: index, Removed: removed, Inserted: inserted})
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func valueAt[T any](values []T, i int) T {
	if i < len(values) {
		return values[i]
	}
	var zero T
	return zero
}

func restoreSequence[T any](values []T) ([]T, []string) {
	ids := mintIDs(len(values), "", "", NewClock(0, 0))
	return slices.Clone(values), ids
}

func validSegmentIDs(ids []string) bool {
	for _, id := range ids {
		if !validID(id) {
			return false
		}
	}
	return true
}

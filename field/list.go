package field

import (
	"fmt"
	"slices"
)

// List is an ordered sequence of arbitrary values.
type List struct {
	// Equal, when set, lets the list skip splices that would replace
	// elements with equal ones.
	Equal func(a, b any) bool
}

// ListSplice removes Remove elements at Index and inserts Values there.
// An update is either a ListSplice or a []ListSplice.
type ListSplice struct {
	Index  int   `json:"index"`
	Remove int   `json:"remove"`
	Values []any `json:"values"`
}

type ListMetadata struct {
	IDs      []string `json:"ids" msgpack:"i"`
	Cemetery Cemetery `json:"cemetery" msgpack:"c"`
}

type ListChangePart struct {
	Index    int   `json:"index" msgpack:"i"`
	Removed  []any `json:"removed" msgpack:"r"`
	Inserted []any `json:"inserted" msgpack:"n"`
}

type ListChange []ListChangePart

type ListPatchPart struct {
	RemovedIDs     []string `json:"removedIds" msgpack:"ri"`
	RemovedValues  []any    `json:"removedValues" msgpack:"rv"`
	InsertedIDs    []string `json:"insertedIds" msgpack:"ii"`
	InsertedValues []any    `json:"insertedValues" msgpack:"iv"`
}

type ListPatch []ListPatchPart

func (*ListMetadata) Kind() Kind { return KindList }
func (ListChange) Kind() Kind    { return KindList }
func (ListPatch) Kind() Kind     { return KindList }

func (md *ListMetadata) IsEmpty() bool { return len(md.IDs) == 0 && len(md.Cemetery) == 0 }
func (c ListChange) IsEmpty() bool     { return len(c) == 0 }
func (p ListPatch) IsEmpty() bool      { return len(p) == 0 }

func (f *List) Kind() Kind { return KindList }

func (f *List) CreateValue() any {
	return []any{}
}

func (f *List) CreateMetadata() Metadata {
	return &ListMetadata{Cemetery: make(Cemetery)}
}

func (f *List) ApplyUpdate(args UpdateArgs) (UpdateResult, error) {
	var splices []ListSplice
	switch u := args.Update.(type) {
	case ListSplice:
		splices = []ListSplice{u}
	case *ListSplice:
		splices = []ListSplice{*u}
	case []ListSplice:
		splices = u
	default:
		return UpdateResult{}, updateErrf(KindList, args.Update, "want ListSplice or []ListSplice")
	}

	md := args.Metadata.(*ListMetadata)
	s := newSequence(args.Previous.([]any), md.IDs, md.Cemetery)
	var change ListChange
	var patch ListPatch
	for _, sp := range splices {
		values, err := normalizeValues(sp.Values)
		if err != nil {
			return UpdateResult{}, updateErrf(KindList, args.Update, "%w", err)
		}
		sp.Values = values
		if f.Equal != nil && f.sameValues(s.values, sp) {
			continue
		}
		seg, ed, ok := s.splice(sp.Index, sp.Remove, sp.Values, args.Clock)
		if !ok {
			continue
		}
		change = append(change, ListChangePart(ed))
		patch = append(patch, ListPatchPart(seg))
	}
	return UpdateResult{
		Value:    s.values,
		Metadata: &ListMetadata{IDs: s.ids, Cemetery: s.cem},
		Change:   change,
		Patch:    patch,
	}, nil
}

func (f *List) sameValues(values []any, sp ListSplice) bool {
	index, remove := normalizeSplice(len(values), sp.Index, sp.Remove)
	if remove != len(sp.Values) {
		return false
	}
	for i, v := range sp.Values {
		if !f.Equal(values[index+i], v) {
			return false
		}
	}
	return true
}

func (f *List) ApplyPatch(args PatchArgs) PatchResult {
	return f.patch(args, false)
}

func (f *List) UnapplyPatch(args PatchArgs) PatchResult {
	return f.patch(args, true)
}

func (f *List) patch(args PatchArgs, undo bool) PatchResult {
	md := args.Metadata.(*ListMetadata)
	s := newSequence(args.Previous.([]any), md.IDs, md.Cemetery)
	p := args.Patch.(ListPatch)
	if undo {
		for _, part := range slices.Backward(p) {
			s.unapply(segment[any](part), args.Version)
		}
	} else {
		for _, part := range p {
			s.apply(segment[any](part), args.Version)
		}
	}
	change := make(ListChange, 0, len(s.edits))
	for _, ed := range s.edits {
		change = append(change, ListChangePart(ed))
	}
	return PatchResult{
		Value:    s.values,
		Metadata: &ListMetadata{IDs: s.ids, Cemetery: s.cem},
		Change:   change,
	}
}

func (f *List) MergeChange(a, b Change) Change {
	ca, _ := a.(ListChange)
	cb, _ := b.(ListChange)
	return slices.Concat(ca, cb)
}

func (f *List) MergePatch(a, b Patch) Patch {
	pa, _ := a.(ListPatch)
	pb, _ := b.(ListPatch)
	return slices.Concat(pa, pb)
}

func (f *List) DecodePatch(decode func(v any) error) (Patch, error) {
	var p ListPatch
	if err := decode(&p); err != nil {
		return nil, err
	}
	for i := range p {
		part := &p[i]
		if len(part.RemovedIDs) != len(part.RemovedValues) || len(part.InsertedIDs) != len(part.InsertedValues) {
			return nil, fmt.Errorf("list patch: ids and values differ in length")
		}
		if !validSegmentIDs(part.RemovedIDs) || !validSegmentIDs(part.InsertedIDs) {
			return nil, fmt.Errorf("list patch: malformed element id")
		}
		var err error
		if part.RemovedValues, err = normalizeValues(part.RemovedValues); err != nil {
			return nil, fmt.Errorf("list patch: %w", err)
		}
		if part.InsertedValues, err = normalizeValues(part.InsertedValues); err != nil {
			return nil, fmt.Errorf("list patch: %w", err)
		}
	}
	return p, nil
}

func (f *List) Restore(v any) (any, Metadata, error) {
	if v == nil {
		return f.CreateValue(), f.CreateMetadata(), nil
	}
	values, ok := v.([]any)
	if !ok {
		return nil, nil, mismatch(KindList, v)
	}
	values, err := normalizeValues(values)
	if err != nil {
		return nil, nil, err
	}
	values, ids := restoreSequence(values)
	return values, &ListMetadata{IDs: ids, Cemetery: make(Cemetery)}, nil
}

func (f *List) Compact(md Metadata, horizon uint64) (Metadata, int) {
	lmd := md.(*ListMetadata)
	cem := lmd.Cemetery.Clone()
	n := cem.Compact(horizon)
	return &ListMetadata{IDs: lmd.IDs, Cemetery: cem}, n
}

func (f *List) Validate() []string {
	return nil
}

package field

import (
	"slices"
	"strings"
)

// Register is a last-writer-wins scalar. The current value is the one written
// with the greatest (version, storeID) pair ever recorded, whatever the order
// in which writes arrive.
type Register struct {
	Initial any
}

// RegisterMetadata is the write history, sorted by id.
type RegisterMetadata struct {
	IDs    []string `json:"ids" msgpack:"i"`
	Values []any    `json:"values" msgpack:"v"`
}

type RegisterChange struct {
	Previous any `json:"previous" msgpack:"p"`
	Current  any `json:"current" msgpack:"c"`
}

type RegisterPatch struct {
	ID    string `json:"id" msgpack:"i"`
	Value any    `json:"value" msgpack:"v"`
}

func (*RegisterMetadata) Kind() Kind { return KindRegister }
func (*RegisterChange) Kind() Kind   { return KindRegister }
func (*RegisterPatch) Kind() Kind    { return KindRegister }

func (md *RegisterMetadata) IsEmpty() bool { return len(md.IDs) == 0 }
func (c *RegisterChange) IsEmpty() bool     { return c == nil }
func (p *RegisterPatch) IsEmpty() bool      { return p == nil }

func (md *RegisterMetadata) clone() *RegisterMetadata {
	return &RegisterMetadata{
		IDs:    slices.Clone(md.IDs),
		Values: slices.Clone(md.Values),
	}
}

func (f *Register) Kind() Kind { return KindRegister }

func (f *Register) CreateValue() any {
	v, _ := Normalize(f.Initial)
	return v
}

func (f *Register) CreateMetadata() Metadata {
	return &RegisterMetadata{}
}

func (f *Register) ApplyUpdate(args UpdateArgs) (UpdateResult, error) {
	md := args.Metadata.(*RegisterMetadata).clone()
	v, err := Normalize(args.Update)
	if err != nil {
		return UpdateResult{}, updateErrf(KindRegister, args.Update, "%w", err)
	}
	id := DuplexID(args.Clock.Version, args.Clock.StoreID)
	value, change := f.record(md, args.Previous, id, v)
	return UpdateResult{
		Value:    value,
		Metadata: md,
		Change:   change,
		Patch:    &RegisterPatch{ID: id, Value: v},
	}, nil
}

func (f *Register) ApplyPatch(args PatchArgs) PatchResult {
	md := args.Metadata.(*RegisterMetadata).clone()
	p := args.Patch.(*RegisterPatch)
	value, change := f.record(md, args.Previous, p.ID, p.Value)
	return PatchResult{Value: value, Metadata: md, Change: change}
}

func (f *Register) UnapplyPatch(args PatchArgs) PatchResult {
	md := args.Metadata.(*RegisterMetadata).clone()
	p := args.Patch.(*RegisterPatch)
	value, change := f.forget(md, args.Previous, p.ID)
	return PatchResult{Value: value, Metadata: md, Change: change}
}

// record inserts (id, v) into the history, replacing an entry with the same id
// (several writes of one transaction share an id).
func (f *Register) record(md *RegisterMetadata, previous any, id string, v any) (any, Change) {
	i, found := slices.BinarySearch(md.IDs, id)
	if found {
		md.Values[i] = v
	} else {
		md.IDs = slices.Insert(md.IDs, i, id)
		md.Values = slices.Insert(md.Values, i, v)
	}
	if i != len(md.IDs)-1 {
		return previous, nil
	}
	return v, &RegisterChange{Previous: previous, Current: v}
}

func (f *Register) forget(md *RegisterMetadata, previous any, id string) (any, Change) {
	i, found := slices.BinarySearch(md.IDs, id)
	if !found {
		return previous, nil
	}
	last := i == len(md.IDs)-1
	md.IDs = slices.Delete(md.IDs, i, i+1)
	md.Values = slices.Delete(md.Values, i, i+1)
	if !last {
		return previous, nil
	}
	current := f.CreateValue()
	if n := len(md.Values); n > 0 {
		current = md.Values[n-1]
	}
	return current, &RegisterChange{Previous: previous, Current: current}
}

func (f *Register) MergeChange(a, b Change) Change {
	return mergeRegisterChange(a, b)
}

func mergeRegisterChange(a, b Change) Change {
	ca, _ := a.(*RegisterChange)
	cb, _ := b.(*RegisterChange)
	switch {
	case ca == nil && cb == nil:
		return nil
	case ca == nil:
		return cb
	case cb == nil:
		return ca
	default:
		return &RegisterChange{Previous: ca.Previous, Current: cb.Current}
	}
}

func (f *Register) MergePatch(a, b Patch) Patch {
	pa, _ := a.(*RegisterPatch)
	pb, _ := b.(*RegisterPatch)
	if pb == nil {
		if pa == nil {
			return nil
		}
		return pa
	}
	return pb
}

func (f *Register) DecodePatch(decode func(v any) error) (Patch, error) {
	p := new(RegisterPatch)
	if err := decode(p); err != nil {
		return nil, err
	}
	if _, _, ok := ParseDuplexID(p.ID); !ok {
		return nil, mismatch(KindRegister, p.ID)
	}
	v, err := Normalize(p.Value)
	if err != nil {
		return nil, err
	}
	p.Value = v
	return p, nil
}

func (f *Register) Restore(v any) (any, Metadata, error) {
	v, err := Normalize(v)
	if err != nil {
		return nil, nil, err
	}
	return v, &RegisterMetadata{
		IDs:    []string{DuplexID(0, 0)},
		Values: []any{v},
	}, nil
}

func (f *Register) Compact(md Metadata, horizon uint64) (Metadata, int) {
	rmd := md.(*RegisterMetadata)
	n := finalPrefix(rmd.IDs, horizon)
	if n == 0 {
		return rmd, 0
	}
	out := &RegisterMetadata{
		IDs:    slices.Clone(rmd.IDs[n:]),
		Values: slices.Clone(rmd.Values[n:]),
	}
	return out, n
}

// finalPrefix returns how many leading history entries are superseded by a
// later entry that is itself final at horizon, and thus can never become
// current again.
func finalPrefix(ids []string, horizon uint64) int {
	limit := DuplexID(horizon, ^uint32(0))
	i, _ := slices.BinarySearchFunc(ids, limit, strings.Compare)
	// ids[:i] are final; the newest of them must stay.
	if i <= 1 {
		return 0
	}
	return i - 1
}

func (f *Register) Validate() []string {
	if _, err := Normalize(f.Initial); err != nil {
		return []string{"initial value: " + err.Error()}
	}
	return nil
}

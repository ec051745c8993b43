package field

import (
	"fmt"
	"maps"
	"slices"
)

// Map is a string-keyed map whose keys are independent last-writer-wins
// registers. Writing nil deletes a key.
type Map struct{}

// MapUpdate sets keys to values; a nil value deletes the key.
type MapUpdate map[string]any

// MapMetadata keeps one write history per key. A nil value in a history is a
// deletion.
type MapMetadata struct {
	Keys map[string]*RegisterMetadata `json:"keys" msgpack:"k"`
}

// MapChange lists the previous and current value of each touched key; a
// missing key is reported as nil.
type MapChange struct {
	Previous map[string]any `json:"previous" msgpack:"p"`
	Current  map[string]any `json:"current" msgpack:"c"`
}

type MapPatch map[string]*RegisterPatch

func (*MapMetadata) Kind() Kind { return KindMap }
func (*MapChange) Kind() Kind   { return KindMap }
func (MapPatch) Kind() Kind     { return KindMap }

func (md *MapMetadata) IsEmpty() bool { return len(md.Keys) == 0 }
func (c *MapChange) IsEmpty() bool    { return c == nil || len(c.Current) == 0 }
func (p MapPatch) IsEmpty() bool      { return len(p) == 0 }

func (f *Map) Kind() Kind { return KindMap }

func (f *Map) CreateValue() any {
	return map[string]any{}
}

func (f *Map) CreateMetadata() Metadata {
	return &MapMetadata{Keys: make(map[string]*RegisterMetadata)}
}

func (f *Map) ApplyUpdate(args UpdateArgs) (UpdateResult, error) {
	var upd map[string]any
	switch u := args.Update.(type) {
	case MapUpdate:
		upd = u
	case map[string]any:
		upd = u
	default:
		return UpdateResult{}, updateErrf(KindMap, args.Update, "want MapUpdate")
	}

	id := DuplexID(args.Clock.Version, args.Clock.StoreID)
	patch := make(MapPatch, len(upd))
	for _, key := range slices.Sorted(maps.Keys(upd)) {
		v, err := Normalize(upd[key])
		if err != nil {
			return UpdateResult{}, updateErrf(KindMap, args.Update, "key %q: %w", key, err)
		}
		patch[key] = &RegisterPatch{ID: id, Value: v}
	}
	r := f.patch(args.Previous, args.Metadata, patch, false)
	return UpdateResult{
		Value:    r.Value,
		Metadata: r.Metadata,
		Change:   r.Change,
		Patch:    patch,
	}, nil
}

func (f *Map) ApplyPatch(args PatchArgs) PatchResult {
	return f.patch(args.Previous, args.Metadata, args.Patch.(MapPatch), false)
}

func (f *Map) UnapplyPatch(args PatchArgs) PatchResult {
	return f.patch(args.Previous, args.Metadata, args.Patch.(MapPatch), true)
}

func (f *Map) patch(previous any, metadata Metadata, patch MapPatch, undo bool) PatchResult {
	prev := previous.(map[string]any)
	md := metadata.(*MapMetadata)

	value := maps.Clone(prev)
	out := &MapMetadata{Keys: maps.Clone(md.Keys)}
	if out.Keys == nil {
		out.Keys = make(map[string]*RegisterMetadata)
	}
	change := &MapChange{
		Previous: make(map[string]any),
		Current:  make(map[string]any),
	}

	reg := Register{}
	for key, p := range patch {
		kmd, ok := out.Keys[key]
		if !ok {
			kmd = &RegisterMetadata{}
		} else {
			kmd = kmd.clone()
		}

		var cur any
		var c Change
		if undo {
			cur, c = reg.forget(kmd, prev[key], p.ID)
		} else {
			cur, c = reg.record(kmd, prev[key], p.ID, p.Value)
		}
		if len(kmd.IDs) == 0 {
			delete(out.Keys, key)
		} else {
			out.Keys[key] = kmd
		}
		if c == nil {
			continue
		}
		if _, had := prev[key]; !had && cur == nil {
			continue
		}
		if cur == nil {
			delete(value, key)
		} else {
			value[key] = cur
		}
		change.Previous[key] = prev[key]
		change.Current[key] = cur
	}
	if change.IsEmpty() {
		return PatchResult{Value: value, Metadata: out}
	}
	return PatchResult{Value: value, Metadata: out, Change: change}
}

func (f *Map) MergeChange(a, b Change) Change {
	ca, _ := a.(*MapChange)
	cb, _ := b.(*MapChange)
	switch {
	case ca.IsEmpty() && cb.IsEmpty():
		return nil
	case ca.IsEmpty():
		return cb
	case cb.IsEmpty():
		return ca
	}
	out := &MapChange{
		Previous: maps.Clone(ca.Previous),
		Current:  maps.Clone(ca.Current),
	}
	for key, v := range cb.Current {
		if _, seen := out.Previous[key]; !seen {
			out.Previous[key] = cb.Previous[key]
		}
		out.Current[key] = v
	}
	return out
}

func (f *Map) MergePatch(a, b Patch) Patch {
	pa, _ := a.(MapPatch)
	pb, _ := b.(MapPatch)
	out := make(MapPatch, len(pa)+len(pb))
	maps.Copy(out, pa)
	maps.Copy(out, pb)
	return out
}

func (f *Map) DecodePatch(decode func(v any) error) (Patch, error) {
	var p MapPatch
	if err := decode(&p); err != nil {
		return nil, err
	}
	for key, rp := range p {
		if rp == nil {
			return nil, fmt.Errorf("map patch: missing entry for key %q", key)
		}
		if _, _, ok := ParseDuplexID(rp.ID); !ok {
			return nil, fmt.Errorf("map patch: malformed id for key %q", key)
		}
		v, err := Normalize(rp.Value)
		if err != nil {
			return nil, fmt.Errorf("map patch: key %q: %w", key, err)
		}
		rp.Value = v
	}
	return p, nil
}

func (f *Map) Restore(v any) (any, Metadata, error) {
	if v == nil {
		return f.CreateValue(), f.CreateMetadata(), nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, nil, mismatch(KindMap, v)
	}
	value := make(map[string]any, len(m))
	md := &MapMetadata{Keys: make(map[string]*RegisterMetadata, len(m))}
	id := DuplexID(0, 0)
	for key, kv := range m {
		kv, err := Normalize(kv)
		if err != nil {
			return nil, nil, fmt.Errorf("key %q: %w", key, err)
		}
		if kv == nil {
			continue
		}
		value[key] = kv
		md.Keys[key] = &RegisterMetadata{IDs: []string{id}, Values: []any{kv}}
	}
	return value, md, nil
}

func (f *Map) Compact(md Metadata, horizon uint64) (Metadata, int) {
	mmd := md.(*MapMetadata)
	out := &MapMetadata{Keys: make(map[string]*RegisterMetadata, len(mmd.Keys))}
	var dropped int
	for key, kmd := range mmd.Keys {
		n := finalPrefix(kmd.IDs, horizon)
		if n > 0 {
			kmd = &RegisterMetadata{
				IDs:    slices.Clone(kmd.IDs[n:]),
				Values: slices.Clone(kmd.Values[n:]),
			}
			dropped += n
		}
		// A key whose only remaining entry is a final deletion is gone for good.
		if len(kmd.IDs) == 1 && kmd.Values[0] == nil && duplexVersion(kmd.IDs[0]) <= horizon {
			dropped++
			continue
		}
		out.Keys[key] = kmd
	}
	return out, dropped
}

func duplexVersion(id string) uint64 {
	v, _, _ := ParseDuplexID(id)
	return v
}

func (f *Map) Validate() []string {
	return nil
}

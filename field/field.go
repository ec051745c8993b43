// Package field implements the conflict-free replicated field kinds stored in
// datastore records: last-writer-wins registers and maps, and ordered list and
// text sequences.
//
// Fields are pure: every operation receives the previous value and metadata
// and returns new ones, never mutating its inputs. Local edits go through
// ApplyUpdate, which produces a Change (a positional diff for UIs) and a Patch
// (an identity-based operation for peers). Remote patches go through
// ApplyPatch, and undo goes through UnapplyPatch. Applying the same set of
// patches in any order converges to the same value.
package field

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindRegister Kind = iota + 1
	KindList
	KindText
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindRegister:
		return "register"
	case KindList:
		return "list"
	case KindText:
		return "text"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("invalid kind %d", int(k))
	}
}

func ParseKind(s string) (Kind, bool) {
	switch s {
	case "register":
		return KindRegister, true
	case "list":
		return KindList, true
	case "text":
		return KindText, true
	case "map":
		return KindMap, true
	default:
		return 0, false
	}
}

// Metadata is the private per-field bookkeeping of a kind. Metadata is empty
// when no applied patch contributes to it.
type Metadata interface {
	Kind() Kind
	IsEmpty() bool
}

// Patch is the durable, identity-based operation broadcast to peers.
type Patch interface {
	Kind() Kind
	IsEmpty() bool
}

// Change is the positional diff observed locally after applying an update or
// a patch.
type Change interface {
	Kind() Kind
	IsEmpty() bool
}

type UpdateArgs struct {
	Previous any
	Update   any
	Metadata Metadata
	Clock    *Clock
}

type UpdateResult struct {
	Value    any
	Metadata Metadata
	Change   Change
	Patch    Patch
}

type PatchArgs struct {
	Previous any
	Metadata Metadata
	Patch    Patch
	Version  uint64 // version of the transaction that carries the patch
}

type PatchResult struct {
	Value    any
	Metadata Metadata
	Change   Change
}

// Field is implemented by every field kind. Each method is exhaustive over
// its kind's value, metadata, update, change and patch types.
type Field interface {
	Kind() Kind

	CreateValue() any
	CreateMetadata() Metadata

	ApplyUpdate(args UpdateArgs) (UpdateResult, error)
	ApplyPatch(args PatchArgs) PatchResult
	UnapplyPatch(args PatchArgs) PatchResult

	MergeChange(a, b Change) Change
	MergePatch(a, b Patch) Patch

	// DecodePatch decodes a wire patch of this kind using decode, which
	// unmarshals into the pointer it is given.
	DecodePatch(decode func(v any) error) (Patch, error)

	// Restore rebuilds a value and deterministic metadata from a serialized
	// value, such that replicas restoring the same state agree on ids.
	Restore(v any) (any, Metadata, error)

	// Compact drops bookkeeping made unreachable by finalizing every
	// transaction at or below horizon. Returns the number of entries dropped.
	Compact(md Metadata, horizon uint64) (Metadata, int)

	// Validate reports problems with the field definition itself.
	Validate() []string
}

var ErrInvalidUpdate = errors.New("invalid update")

// UpdateError reports a local update whose shape does not match its field.
type UpdateError struct {
	Kind   Kind
	Update any
	Err    error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("%v field: cannot apply update of type %T: %v", e.Kind, e.Update, e.Err)
}

func (e *UpdateError) Unwrap() error {
	return e.Err
}

func updateErrf(kind Kind, update any, format string, args ...any) error {
	return &UpdateError{kind, update, fmt.Errorf("%w: "+format, append([]any{ErrInvalidUpdate}, args...)...)}
}

func mismatch(kind Kind, v any) error {
	return fmt.Errorf("%v field: unexpected %T", kind, v)
}

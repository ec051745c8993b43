package field

import (
	"fmt"
	"slices"
)

// Text is a sequence of characters (runes). Indices are rune indices.
type Text struct{}

// TextSplice removes Remove characters at Index and inserts Text there.
// An update is either a TextSplice or a []TextSplice.
type TextSplice struct {
	Index  int    `json:"index"`
	Remove int    `json:"remove"`
	Text   string `json:"text"`
}

type TextMetadata struct {
	IDs      []string `json:"ids" msgpack:"i"`
	Cemetery Cemetery `json:"cemetery" msgpack:"c"`
}

type TextChangePart struct {
	Index    int    `json:"index" msgpack:"i"`
	Removed  string `json:"removed" msgpack:"r"`
	Inserted string `json:"inserted" msgpack:"n"`
}

type TextChange []TextChangePart

type TextPatchPart struct {
	RemovedIDs   []string `json:"removedIds" msgpack:"ri"`
	RemovedText  string   `json:"removedText" msgpack:"rt"`
	InsertedIDs  []string `json:"insertedIds" msgpack:"ii"`
	InsertedText string   `json:"insertedText" msgpack:"it"`
}

type TextPatch []TextPatchPart

func (*TextMetadata) Kind() Kind { return KindText }
func (TextChange) Kind() Kind    { return KindText }
func (TextPatch) Kind() Kind     { return KindText }

func (md *TextMetadata) IsEmpty() bool { return len(md.IDs) == 0 && len(md.Cemetery) == 0 }
func (c TextChange) IsEmpty() bool     { return len(c) == 0 }
func (p TextPatch) IsEmpty() bool      { return len(p) == 0 }

func (f *Text) Kind() Kind { return KindText }

func (f *Text) CreateValue() any {
	return ""
}

func (f *Text) CreateMetadata() Metadata {
	return &TextMetadata{Cemetery: make(Cemetery)}
}

func (f *Text) ApplyUpdate(args UpdateArgs) (UpdateResult, error) {
	var splices []TextSplice
	switch u := args.Update.(type) {
	case TextSplice:
		splices = []TextSplice{u}
	case *TextSplice:
		splices = []TextSplice{*u}
	case []TextSplice:
		splices = u
	default:
		return UpdateResult{}, updateErrf(KindText, args.Update, "want TextSplice or []TextSplice")
	}

	md := args.Metadata.(*TextMetadata)
	s := newSequence([]rune(args.Previous.(string)), md.IDs, md.Cemetery)
	var change TextChange
	var patch TextPatch
	for _, sp := range splices {
		seg, ed, ok := s.splice(sp.Index, sp.Remove, []rune(sp.Text), args.Clock)
		if !ok {
			continue
		}
		change = append(change, textEdit(ed))
		patch = append(patch, TextPatchPart{
			RemovedIDs:   seg.RemovedIDs,
			RemovedText:  string(seg.RemovedValues),
			InsertedIDs:  seg.InsertedIDs,
			InsertedText: string(seg.InsertedValues),
		})
	}
	return UpdateResult{
		Value:    string(s.values),
		Metadata: &TextMetadata{IDs: s.ids, Cemetery: s.cem},
		Change:   change,
		Patch:    patch,
	}, nil
}

func (f *Text) ApplyPatch(args PatchArgs) PatchResult {
	return f.patch(args, false)
}

func (f *Text) UnapplyPatch(args PatchArgs) PatchResult {
	return f.patch(args, true)
}

func (f *Text) patch(args PatchArgs, undo bool) PatchResult {
	md := args.Metadata.(*TextMetadata)
	s := newSequence([]rune(args.Previous.(string)), md.IDs, md.Cemetery)
	p := args.Patch.(TextPatch)
	if undo {
		for _, part := range slices.Backward(p) {
			s.unapply(textSegment(part), args.Version)
		}
	} else {
		for _, part := range p {
			s.apply(textSegment(part), args.Version)
		}
	}
	change := make(TextChange, 0, len(s.edits))
	for _, ed := range s.edits {
		change = append(change, textEdit(ed))
	}
	return PatchResult{
		Value:    string(s.values),
		Metadata: &TextMetadata{IDs: s.ids, Cemetery: s.cem},
		Change:   change,
	}
}

func textSegment(part TextPatchPart) segment[rune] {
	return segment[rune]{
		RemovedIDs:     part.RemovedIDs,
		RemovedValues:  []rune(part.RemovedText),
		InsertedIDs:    part.InsertedIDs,
		InsertedValues: []rune(part.InsertedText),
	}
}

func textEdit(ed edit[rune]) TextChangePart {
	return TextChangePart{
		Index:    ed.Index,
		Removed:  string(ed.Removed),
		Inserted: string(ed.Inserted),
	}
}

func (f *Text) MergeChange(a, b Change) Change {
	ca, _ := a.(TextChange)
	cb, _ := b.(TextChange)
	return slices.Concat(ca, cb)
}

func (f *Text) MergePatch(a, b Patch) Patch {
	pa, _ := a.(TextPatch)
	pb, _ := b.(TextPatch)
	return slices.Concat(pa, pb)
}

func (f *Text) DecodePatch(decode func(v any) error) (Patch, error) {
	var p TextPatch
	if err := decode(&p); err != nil {
		return nil, err
	}
	for _, part := range p {
		if len(part.RemovedIDs) != len([]rune(part.RemovedText)) || len(part.InsertedIDs) != len([]rune(part.InsertedText)) {
			return nil, fmt.Errorf("text patch: ids and text differ in length")
		}
		if !validSegmentIDs(part.RemovedIDs) || !validSegmentIDs(part.InsertedIDs) {
			return nil, fmt.Errorf("text patch: malformed element id")
		}
	}
	return p, nil
}

func (f *Text) Restore(v any) (any, Metadata, error) {
	if v == nil {
		return f.CreateValue(), f.CreateMetadata(), nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, nil, mismatch(KindText, v)
	}
	runes, ids := restoreSequence([]rune(s))
	return string(runes), &TextMetadata{IDs: ids, Cemetery: make(Cemetery)}, nil
}

func (f *Text) Compact(md Metadata, horizon uint64) (Metadata, int) {
	tmd := md.(*TextMetadata)
	cem := tmd.Cemetery.Clone()
	n := cem.Compact(horizon)
	return &TextMetadata{IDs: tmd.IDs, Cemetery: cem}, n
}

func (f *Text) Validate() []string {
	return nil
}

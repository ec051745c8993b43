package datastore

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/andreyvit/datastore/field"
)

// Encoding selects the wire format of transactions.
type Encoding int

const (
	MsgPack Encoding = iota
	JSON

	DefaultEncoding = MsgPack
)

func (enc Encoding) String() string {
	switch enc {
	case MsgPack:
		return "msgpack"
	case JSON:
		return "json"
	default:
		return fmt.Sprintf("invalid encoding %d", int(enc))
	}
}

func ParseEncoding(s string) (Encoding, error) {
	switch s {
	case "msgpack", "":
		return MsgPack, nil
	case "json":
		return JSON, nil
	default:
		return 0, fmt.Errorf("unknown encoding %q", s)
	}
}

// wireTransaction mirrors Transaction with patches left undecoded.
type wireTransaction[R any] struct {
	ID      string                             `json:"id" msgpack:"id"`
	StoreID uint32                             `json:"storeId" msgpack:"storeId"`
	Version uint64                             `json:"version" msgpack:"version"`
	Patch   map[string]map[string]map[string]R `json:"patch" msgpack:"patch"`
}

func EncodeTransaction(tx *Transaction, enc Encoding) ([]byte, error) {
	switch enc {
	case MsgPack:
		var buf bytes.Buffer
		e := msgpack.GetEncoder()
		e.Reset(&buf)
		e.SetSortMapKeys(true)
		err := e.Encode(tx)
		msgpack.PutEncoder(e)
		if err != nil {
			return nil, fmt.Errorf("failed to encode transaction %s using MsgPack: %w", tx.ID, err)
		}
		return buf.Bytes(), nil
	case JSON:
		raw, err := json.Marshal(tx)
		if err != nil {
			return nil, fmt.Errorf("failed to encode transaction %s to JSON: %w", tx.ID, err)
		}
		return raw, nil
	default:
		panic("unsupported encoding")
	}
}

// DecodeTransaction decodes a transaction, decoding each field patch with
// the field of the matching schema. Patches of schemas or fields that are not
// among schemas are kept as nil, which makes a datastore discard the
// transaction.
func DecodeTransaction(data []byte, enc Encoding, schemas ...*Schema) (*Transaction, error) {
	bySchema := make(map[string]*Schema, len(schemas))
	for _, scm := range schemas {
		bySchema[scm.id] = scm
	}

	switch enc {
	case MsgPack:
		var w wireTransaction[msgpack.RawMessage]
		dec := msgpack.GetDecoder()
		dec.Reset(bytes.NewReader(data))
		err := dec.Decode(&w)
		msgpack.PutDecoder(dec)
		if err != nil {
			return nil, dataErrf(data, err, "failed to decode msgpack transaction")
		}
		return decodePatches(data, &w, bySchema, func(raw msgpack.RawMessage, v any) error {
			dec := msgpack.GetDecoder()
			defer msgpack.PutDecoder(dec)
			dec.Reset(bytes.NewReader(raw))
			dec.UseLooseInterfaceDecoding(true)
			return dec.Decode(v)
		})
	case JSON:
		var w wireTransaction[json.RawMessage]
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, dataErrf(data, err, "failed to decode JSON transaction")
		}
		return decodePatches(data, &w, bySchema, func(raw json.RawMessage, v any) error {
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.UseNumber()
			return dec.Decode(v)
		})
	default:
		panic("unsupported encoding")
	}
}

func decodePatches[R any](data []byte, w *wireTransaction[R], bySchema map[string]*Schema, unmarshal func(raw R, v any) error) (*Transaction, error) {
	tx := &Transaction{
		ID:      w.ID,
		StoreID: w.StoreID,
		Version: w.Version,
		Patch:   make(TransactionPatch, len(w.Patch)),
	}
	for schemaID, wtp := range w.Patch {
		scm := bySchema[schemaID]
		tp := make(TablePatch, len(wtp))
		tx.Patch[schemaID] = tp
		for recordID, wrp := range wtp {
			rp := make(RecordPatch, len(wrp))
			tp[recordID] = rp
			for name, raw := range wrp {
				var f field.Field
				if scm != nil {
					f = scm.fields[name]
				}
				if f == nil {
					rp[name] = nil
					continue
				}
				p, err := f.DecodePatch(func(v any) error {
					return unmarshal(raw, v)
				})
				if err != nil {
					return nil, dataErrf(data, err, "failed to decode patch of %s/%s.%s", schemaID, recordID, name)
				}
				rp[name] = p
			}
		}
	}
	return tx, nil
}

// DecodeTransaction decodes a transaction using the schemas of ds.
func (ds *Datastore) DecodeTransaction(data []byte, enc Encoding) (*Transaction, error) {
	return DecodeTransaction(data, enc, ds.schemas...)
}

// Package change implements the plaintext Change value (spec §3): a
// single row-column mutation, self-describing so a replica can decode
// a column's value without consulting any schema.
package change

import (
	"github.com/evolu-go/sync/synerr"
	"github.com/evolu-go/sync/wire"
)

// Kind discriminates the self-describing value encoding.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindString
	KindBlob
)

// Value is a typed scalar, a binary blob, or the null marker used to
// represent a logical delete (spec §3: "all-null columns represent a
// logical delete").
type Value struct {
	Kind  Kind
	Int   int64
	Float float64
	Str   string
	Blob  []byte
}

func NullValue() Value           { return Value{Kind: KindNull} }
func IntValue(v int64) Value     { return Value{Kind: KindInt, Int: v} }
func FloatValue(v float64) Value { return Value{Kind: KindFloat, Float: v} }
func StringValue(v string) Value { return Value{Kind: KindString, Str: v} }
func BlobValue(v []byte) Value   { return Value{Kind: KindBlob, Blob: v} }

func (v Value) IsNull() bool { return v.Kind == KindNull }

// Change is a single (table, rowId, column, value) mutation — the
// register identified by (rowId, column) within table.
type Change struct {
	Table  string
	RowID  string
	Column string
	Value  Value
}

// Encode serializes c to the schema-agnostic self-describing binary
// form stored (AEAD-sealed) as a Message's plaintext.
func Encode(c Change) []byte {
	w := wire.NewWriter(64 + len(c.Table) + len(c.RowID) + len(c.Column))
	w.PutVarBytes([]byte(c.Table))
	w.PutVarBytes([]byte(c.RowID))
	w.PutVarBytes([]byte(c.Column))
	w.PutU8(uint8(c.Value.Kind))
	switch c.Value.Kind {
	case KindNull:
	case KindInt:
		w.PutU64(uint64(c.Value.Int))
	case KindFloat:
		w.PutU64(float64bits(c.Value.Float))
	case KindString:
		w.PutVarBytes([]byte(c.Value.Str))
	case KindBlob:
		w.PutVarBytes(c.Value.Blob)
	}
	return w.Bytes()
}

// Decode parses the form produced by Encode.
func Decode(b []byte) (Change, error) {
	r := wire.NewReader(b)
	table, err := r.GetVarBytes()
	if err != nil {
		return Change{}, err
	}
	rowID, err := r.GetVarBytes()
	if err != nil {
		return Change{}, err
	}
	column, err := r.GetVarBytes()
	if err != nil {
		return Change{}, err
	}
	kindByte, err := r.GetU8()
	if err != nil {
		return Change{}, err
	}
	kind := Kind(kindByte)
	var v Value
	switch kind {
	case KindNull:
		v = NullValue()
	case KindInt:
		raw, err := r.GetU64()
		if err != nil {
			return Change{}, err
		}
		v = IntValue(int64(raw))
	case KindFloat:
		raw, err := r.GetU64()
		if err != nil {
			return Change{}, err
		}
		v = FloatValue(float64frombits(raw))
	case KindString:
		raw, err := r.GetVarBytes()
		if err != nil {
			return Change{}, err
		}
		v = StringValue(string(raw))
	case KindBlob:
		raw, err := r.GetVarBytes()
		if err != nil {
			return Change{}, err
		}
		v = BlobValue(append([]byte(nil), raw...))
	default:
		return Change{}, &synerr.Protocol{Detail: "change: unknown value kind"}
	}
	return Change{
		Table:  string(table),
		RowID:  string(rowID),
		Column: string(column),
		Value:  v,
	}, nil
}

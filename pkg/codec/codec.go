// Package codec implements the key/value codec (C5): application-level
// structured keys and values are encoded into opaque, order-preserving
// backend byte strings and decoded back. The key encoding is a
// self-delimiting field concatenation (hand-rolled rather than an
// ecosystem encoder — see DESIGN.md for why) chosen so lexicographic byte
// comparison of two encodings matches field-by-field comparison of the
// decoded tuples: fixed-size fields (int64, float64, bool) are tagged and
// written at a fixed width, while variable-length fields (string,
// []byte) are escaped and terminator-delimited rather than
// length-prefixed, so that two encodings of differing length still
// compare by content first — a length header compared ahead of the
// payload would make a short value's encoding sort as "less" even when
// its content is lexicographically greater. comparator: descending is
// handled by reversing merge direction in the fanout layer (C6), not by
// transforming the encoding, per the open design note in spec.md §9.
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	enterdberrors "github.com/shardkv/enterdb/internal/errors"
)

// Field is one named value of a key or a row's non-key columns.
type Field struct {
	Name  string
	Value any
}

// fieldType tags the encoded representation of a Field's value so
// DecodeKey/DecodeValue can reconstruct it without external type info.
type fieldType byte

const (
	typeString fieldType = iota
	typeInt64
	typeFloat64
	typeBytes
	typeBool
)

// EncodeKey assembles fields into a canonical tuple form in the exact
// order of keyDef. |fields| must equal |keyDef| and every keyDef name
// must be present in fields, or the call fails with key_mismatch.
func EncodeKey(keyDef []string, fields []Field) ([]byte, error) {
	if len(fields) != len(keyDef) {
		return nil, enterdberrors.New(enterdberrors.KindInvalidArgument, "key_mismatch", "field count does not match key_def").WithField(fmt.Sprintf("want %d got %d", len(keyDef), len(fields)))
	}
	byName := make(map[string]any, len(fields))
	for _, f := range fields {
		byName[f.Name] = f.Value
	}

	var buf bytes.Buffer
	for _, name := range keyDef {
		v, ok := byName[name]
		if !ok {
			return nil, enterdberrors.New(enterdberrors.KindInvalidArgument, "key_mismatch", "missing key field").WithField(name)
		}
		encoded, err := encodeFieldValue(v)
		if err != nil {
			return nil, err
		}
		buf.Write(encoded)
	}
	return buf.Bytes(), nil
}

// HashKeyDef returns the subset of keyDef an external writer hashes to
// pick a row's shard when time_series splitting applies: the
// designated timestamp component, by convention the last field of
// keyDef, is excluded so rows sharing every other key field land on the
// same shard regardless of when they were written. Non-time-series
// tables hash on the full key.
func HashKeyDef(keyDef []string, timeSeries bool) []string {
	if !timeSeries || len(keyDef) <= 1 {
		return keyDef
	}
	return keyDef[:len(keyDef)-1]
}

// EncodeHashKey encodes the hash-key projection of fields per
// HashKeyDef, per spec.md §3's "the key hashes without and sorts with a
// designated timestamp component": this is the byte string an external
// writer hashes against the ring to choose a shard, distinct from
// EncodeKey's full-key, sort-order-preserving encoding used for range
// reads within a shard. Row-to-shard hashing itself happens in the
// per-shard writer process, out of scope per spec.md §1; this function
// is the codec-owned half of that split.
func EncodeHashKey(keyDef []string, fields []Field, timeSeries bool) ([]byte, error) {
	hashDef := HashKeyDef(keyDef, timeSeries)
	if len(hashDef) == len(keyDef) {
		return EncodeKey(keyDef, fields)
	}

	byName := make(map[string]Field, len(fields))
	for _, f := range fields {
		byName[f.Name] = f
	}
	filtered := make([]Field, 0, len(hashDef))
	for _, name := range hashDef {
		f, ok := byName[name]
		if !ok {
			return nil, enterdberrors.New(enterdberrors.KindInvalidArgument, "key_mismatch", "missing key field").WithField(name)
		}
		filtered = append(filtered, f)
	}
	return EncodeKey(hashDef, filtered)
}

// DecodeKey is the pure inverse of EncodeKey for the same keyDef.
func DecodeKey(keyDef []string, data []byte) ([]Field, error) {
	r := bytes.NewReader(data)
	fields := make([]Field, len(keyDef))
	for i, name := range keyDef {
		v, err := decodeFieldValue(r)
		if err != nil {
			return nil, enterdberrors.Wrap(err, enterdberrors.KindDownstream, "key_decode_failed", "failed to decode key field").WithField(name)
		}
		fields[i] = Field{Name: name, Value: v}
	}
	return fields, nil
}

// EncodeValue serializes columns according to dataModel. columnsDef gives
// the table's declared column order, required for the array model.
func EncodeValue(dataModel string, columnsDef []string, columns []Field) ([]byte, error) {
	switch dataModel {
	case "array":
		return encodeArrayValue(columnsDef, columns)
	case "hash":
		return encodeAssocValue(columns, true)
	case "binary":
		return encodeAssocValue(columns, false)
	default:
		return nil, enterdberrors.New(enterdberrors.KindInvalidArgument, "invalid_data_model", "unrecognized data model").WithField(dataModel)
	}
}

// DecodeValue is the pure inverse of EncodeValue for the same
// columnsDef/dataModel.
func DecodeValue(dataModel string, columnsDef []string, data []byte) ([]Field, error) {
	switch dataModel {
	case "array":
		return decodeArrayValue(columnsDef, data)
	case "hash", "binary":
		return decodeAssocValue(data)
	default:
		return nil, enterdberrors.New(enterdberrors.KindInvalidArgument, "invalid_data_model", "unrecognized data model").WithField(dataModel)
	}
}

// encodeArrayValue stores values in columnsDef order (positions, no
// names); |columns| must equal |columnsDef|.
func encodeArrayValue(columnsDef []string, columns []Field) ([]byte, error) {
	if len(columns) != len(columnsDef) {
		return nil, enterdberrors.New(enterdberrors.KindInvalidArgument, "column_mismatch", "column count does not match columns_def")
	}
	byName := make(map[string]any, len(columns))
	for _, c := range columns {
		byName[c.Name] = c.Value
	}
	var buf bytes.Buffer
	for _, name := range columnsDef {
		v, ok := byName[name]
		if !ok {
			return nil, enterdberrors.New(enterdberrors.KindInvalidArgument, "column_mismatch", "missing column").WithField(name)
		}
		encoded, err := encodeFieldValue(v)
		if err != nil {
			return nil, err
		}
		buf.Write(encoded)
	}
	return buf.Bytes(), nil
}

// decodeArrayValue zips columnsDef with the positional values.
func decodeArrayValue(columnsDef []string, data []byte) ([]Field, error) {
	r := bytes.NewReader(data)
	fields := make([]Field, len(columnsDef))
	for i, name := range columnsDef {
		v, err := decodeFieldValue(r)
		if err != nil {
			return nil, enterdberrors.Wrap(err, enterdberrors.KindDownstream, "value_decode_failed", "failed to decode column").WithField(name)
		}
		fields[i] = Field{Name: name, Value: v}
	}
	return fields, nil
}

// encodeAssocValue serializes an arbitrary name/value association: a
// 4-byte count followed by, per field, a length-prefixed name and an
// encoded value. Used for both the binary and hash data models, which
// share the wire shape: the hash model writes fields sorted by name, the
// binary model keeps the caller's order so decoding returns it unchanged.
func encodeAssocValue(columns []Field, sortByName bool) ([]byte, error) {
	sorted := make([]Field, len(columns))
	copy(sorted, columns)
	if sortByName {
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	}

	var buf bytes.Buffer
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(sorted)))
	buf.Write(count[:])
	for _, f := range sorted {
		var nameLen [4]byte
		binary.BigEndian.PutUint32(nameLen[:], uint32(len(f.Name)))
		buf.Write(nameLen[:])
		buf.WriteString(f.Name)
		encoded, err := encodeFieldValue(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(encoded)
	}
	return buf.Bytes(), nil
}

func decodeAssocValue(data []byte) ([]Field, error) {
	r := bytes.NewReader(data)
	var count [4]byte
	if _, err := r.Read(count[:]); err != nil {
		return nil, enterdberrors.Wrap(err, enterdberrors.KindDownstream, "value_decode_failed", "truncated association header")
	}
	n := binary.BigEndian.Uint32(count[:])
	fields := make([]Field, 0, n)
	for i := uint32(0); i < n; i++ {
		var nameLen [4]byte
		if _, err := r.Read(nameLen[:]); err != nil {
			return nil, enterdberrors.Wrap(err, enterdberrors.KindDownstream, "value_decode_failed", "truncated field name length")
		}
		name := make([]byte, binary.BigEndian.Uint32(nameLen[:]))
		if _, err := r.Read(name); err != nil {
			return nil, enterdberrors.Wrap(err, enterdberrors.KindDownstream, "value_decode_failed", "truncated field name")
		}
		v, err := decodeFieldValue(r)
		if err != nil {
			return nil, enterdberrors.Wrap(err, enterdberrors.KindDownstream, "value_decode_failed", "failed to decode field value")
		}
		fields = append(fields, Field{Name: string(name), Value: v})
	}
	return fields, nil
}

// EncodeIndexes fails with not_supported_yet for any non-empty index
// list; empty lists return an empty result (Open Question (c)).
func EncodeIndexes(indexes []string) ([]byte, error) {
	if len(indexes) == 0 {
		return nil, nil
	}
	return nil, enterdberrors.ErrNotSupported("not_supported_yet")
}

// encodeFieldValue writes a one-byte type tag followed by the value's
// encoding. Fixed-size types (int64, float64, bool) follow the tag at a
// fixed width; variable-length types (string, []byte) are escaped and
// terminator-delimited by encodeOrderedBytes so the encoding stays
// self-delimiting without a length header ahead of the payload.
// Integer and float payloads flip the sign bit so unsigned big-endian
// byte comparison matches numeric order.
func encodeFieldValue(v any) ([]byte, error) {
	switch val := v.(type) {
	case string:
		return append([]byte{byte(typeString)}, encodeOrderedBytes([]byte(val))...), nil
	case []byte:
		return append([]byte{byte(typeBytes)}, encodeOrderedBytes(val)...), nil
	case bool:
		b := byte(0)
		if val {
			b = 1
		}
		return []byte{byte(typeBool), b}, nil
	case int:
		return append([]byte{byte(typeInt64)}, encodeOrderedInt64(int64(val))...), nil
	case int64:
		return append([]byte{byte(typeInt64)}, encodeOrderedInt64(val)...), nil
	case float64:
		return append([]byte{byte(typeFloat64)}, encodeOrderedFloat64(val)...), nil
	default:
		return nil, enterdberrors.New(enterdberrors.KindInvalidArgument, "unsupported_value_type", fmt.Sprintf("unsupported value type %T", v))
	}
}

func decodeFieldValue(r *bytes.Reader) (any, error) {
	tagByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}

	switch fieldType(tagByte) {
	case typeString:
		payload, err := decodeOrderedBytes(r)
		if err != nil {
			return nil, err
		}
		return string(payload), nil
	case typeBytes:
		return decodeOrderedBytes(r)
	case typeBool:
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		return b == 1, nil
	case typeInt64:
		var payload [8]byte
		if _, err := r.Read(payload[:]); err != nil {
			return nil, err
		}
		return decodeOrderedInt64(payload[:]), nil
	case typeFloat64:
		var payload [8]byte
		if _, err := r.Read(payload[:]); err != nil {
			return nil, err
		}
		return decodeOrderedFloat64(payload[:]), nil
	default:
		return nil, enterdberrors.New(enterdberrors.KindDownstream, "unknown_field_type", "unrecognized field type tag")
	}
}

// escByte delimits encodeOrderedBytes: a literal 0x00 in the payload is
// escaped as escByte,escEscaped, and the field ends at the first
// unescaped escByte,escByte pair. 0x00 is chosen as the escape byte
// (rather than a higher value) so that a prefix of another field's
// payload always compares as "less", preserving order between a value
// and one that extends it.
const (
	escByte    byte = 0x00
	escEscaped byte = 0xFF
)

// encodeOrderedBytes escapes any literal escByte in b and appends an
// escByte,escByte terminator, so that byte-order comparison of two
// encodings matches content comparison of the un-escaped payloads
// regardless of their relative length — unlike a length-prefixed
// encoding, where a shorter payload's length header is compared before
// its content and can sort "less" than a longer payload whose content is
// actually lexicographically greater.
func encodeOrderedBytes(b []byte) []byte {
	out := make([]byte, 0, len(b)+2)
	for _, c := range b {
		if c == escByte {
			out = append(out, escByte, escEscaped)
		} else {
			out = append(out, c)
		}
	}
	out = append(out, escByte, escByte)
	return out
}

// decodeOrderedBytes is the inverse of encodeOrderedBytes, reading until
// the unescaped terminator.
func decodeOrderedBytes(r *bytes.Reader) ([]byte, error) {
	var out []byte
	for {
		c, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if c != escByte {
			out = append(out, c)
			continue
		}
		next, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch next {
		case escByte:
			return out, nil
		case escEscaped:
			out = append(out, escByte)
		default:
			return nil, enterdberrors.New(enterdberrors.KindDownstream, "invalid_escape", "invalid escape sequence in encoded bytes field")
		}
	}
}

// encodeOrderedInt64 flips the sign bit of v's two's-complement bit
// pattern so that unsigned big-endian comparison of the result matches
// signed numeric comparison of v.
func encodeOrderedInt64(v int64) []byte {
	u := uint64(v) ^ (1 << 63)
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], u)
	return out[:]
}

func decodeOrderedInt64(b []byte) int64 {
	u := binary.BigEndian.Uint64(b)
	return int64(u ^ (1 << 63))
}

// encodeOrderedFloat64 flips all bits for negative values and the sign
// bit for non-negative ones, a standard order-preserving transform for
// IEEE-754 doubles.
func encodeOrderedFloat64(v float64) []byte {
	bits := math.Float64bits(v)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits ^= 1 << 63
	}
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], bits)
	return out[:]
}

func decodeOrderedFloat64(b []byte) float64 {
	bits := binary.BigEndian.Uint64(b)
	if bits&(1<<63) != 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits)
}

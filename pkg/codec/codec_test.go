package codec

import (
	"bytes"
	"testing"

	enterdberrors "github.com/shardkv/enterdb/internal/errors"
)

func TestEncodeDecodeKey_RoundTrip_S2(t *testing.T) {
	keyDef := []string{"a", "b"}
	fields := []Field{{Name: "a", Value: int64(1)}, {Name: "b", Value: int64(2)}}

	k, err := EncodeKey(keyDef, fields)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	decoded, err := DecodeKey(keyDef, k)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(decoded) != 2 || decoded[0].Value.(int64) != 1 || decoded[1].Value.(int64) != 2 {
		t.Errorf("unexpected decode result: %+v", decoded)
	}

	// Order of the input fields list must not affect the encoding.
	k2, err := EncodeKey(keyDef, []Field{{Name: "b", Value: int64(2)}, {Name: "a", Value: int64(1)}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(k, k2) {
		t.Error("expected encoding to be independent of input field order")
	}
}

func TestEncodeKey_Mismatch(t *testing.T) {
	_, err := EncodeKey([]string{"a", "b"}, []Field{{Name: "a", Value: int64(1)}})
	if !enterdberrors.Is(err, enterdberrors.KindInvalidArgument) {
		t.Fatalf("expected invalid_argument, got %v", err)
	}
}

func TestOrderPreservation_Int(t *testing.T) {
	keyDef := []string{"x"}
	cases := []int64{-100, -1, 0, 1, 100, 1 << 40}
	var prev []byte
	for _, v := range cases {
		enc, err := EncodeKey(keyDef, []Field{{Name: "x", Value: v}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if prev != nil && bytes.Compare(prev, enc) >= 0 {
			t.Errorf("expected strictly increasing byte order for %v", cases)
		}
		prev = enc
	}
}

func TestOrderPreservation_String(t *testing.T) {
	keyDef := []string{"x"}
	a, _ := EncodeKey(keyDef, []Field{{Name: "x", Value: "apple"}})
	b, _ := EncodeKey(keyDef, []Field{{Name: "x", Value: "banana"}})
	if bytes.Compare(a, b) >= 0 {
		t.Error("expected apple < banana in byte order")
	}
}

// TestOrderPreservation_String_DifferingLengthNonPrefix covers pairs
// where the shorter string is not a content-prefix of the longer one and
// sorts greater by content — a length-prefixed encoding would compare
// the shorter length header first and get this backwards.
func TestOrderPreservation_String_DifferingLengthNonPrefix(t *testing.T) {
	keyDef := []string{"x"}
	encode := func(s string) []byte {
		enc, err := EncodeKey(keyDef, []Field{{Name: "x", Value: s}})
		if err != nil {
			t.Fatalf("unexpected error encoding %q: %v", s, err)
		}
		return enc
	}

	// "aa" < "b" by content, even though "b" is the shorter string.
	aa := encode("aa")
	b := encode("b")
	if bytes.Compare(aa, b) >= 0 {
		t.Errorf("expected encode(%q) < encode(%q), content order disagrees with length order", "aa", "b")
	}

	// And the reverse pairing: "c" > "ab" by content.
	c := encode("c")
	ab := encode("ab")
	if bytes.Compare(ab, c) >= 0 {
		t.Errorf("expected encode(%q) < encode(%q)", "ab", "c")
	}

	// A string that is a strict prefix of another must still sort first.
	short := encode("ab")
	long := encode("abc")
	if bytes.Compare(short, long) >= 0 {
		t.Errorf("expected encode(%q) < encode(%q) as a content prefix", "ab", "abc")
	}
}

// TestOrderPreservation_Bytes_EmbeddedZero exercises the escape path of
// encodeOrderedBytes directly, since a literal 0x00 in the payload must
// not be confused with the field terminator.
func TestOrderPreservation_Bytes_EmbeddedZero(t *testing.T) {
	keyDef := []string{"x"}
	a, err := EncodeKey(keyDef, []Field{{Name: "x", Value: []byte("a")}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	aZeroB, err := EncodeKey(keyDef, []Field{{Name: "x", Value: []byte("a\x00b")}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bytes.Compare(a, aZeroB) >= 0 {
		t.Error("expected encode(\"a\") < encode(\"a\\x00b\") since \"a\" is a strict prefix")
	}

	decoded, err := DecodeKey(keyDef, aZeroB)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if got := string(decoded[0].Value.([]byte)); got != "a\x00b" {
		t.Errorf("expected round-trip of embedded zero byte, got %q", got)
	}
}

func TestEncodeDecodeValue_Array(t *testing.T) {
	columnsDef := []string{"c1", "c2", "c3"}
	columns := []Field{{Name: "c1", Value: "a"}, {Name: "c2", Value: "b"}, {Name: "c3", Value: "c"}}

	data, err := EncodeValue("array", columnsDef, columns)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	decoded, err := DecodeValue("array", columnsDef, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, f := range decoded {
		if f.Name != columnsDef[i] || f.Value != columns[i].Value {
			t.Errorf("field %d mismatch: got %+v", i, f)
		}
	}
}

func TestEncodeValue_Array_ColumnMismatch_S3(t *testing.T) {
	columnsDef := []string{"c1", "c2", "c3"}
	columns := []Field{{Name: "c1", Value: "a"}, {Name: "c3", Value: "c"}}

	_, err := EncodeValue("array", columnsDef, columns)
	var e *enterdberrors.Error
	if !enterdberrors.As(err, &e) || e.Reason != "column_mismatch" {
		t.Fatalf("expected column_mismatch, got %v", err)
	}
}

func TestEncodeDecodeValue_Hash(t *testing.T) {
	columns := []Field{{Name: "y", Value: "2"}, {Name: "x", Value: "1"}}
	data, err := EncodeValue("hash", nil, columns)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	decoded, err := DecodeValue("hash", nil, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(decoded))
	}
}

func TestEncodeHashKey_TimeSeriesExcludesTrailingField(t *testing.T) {
	keyDef := []string{"device_id", "ts"}
	fieldsA := []Field{{Name: "device_id", Value: "d1"}, {Name: "ts", Value: int64(100)}}
	fieldsB := []Field{{Name: "device_id", Value: "d1"}, {Name: "ts", Value: int64(200)}}

	hashA, err := EncodeHashKey(keyDef, fieldsA, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hashB, err := EncodeHashKey(keyDef, fieldsB, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(hashA, hashB) {
		t.Error("expected identical hash keys for rows differing only in the designated timestamp field")
	}

	fullA, _ := EncodeKey(keyDef, fieldsA)
	fullB, _ := EncodeKey(keyDef, fieldsB)
	if bytes.Equal(fullA, fullB) {
		t.Error("expected the full sort-key encoding to still differ by timestamp")
	}
}

func TestEncodeHashKey_NonTimeSeriesUsesFullKey(t *testing.T) {
	keyDef := []string{"device_id", "ts"}
	fields := []Field{{Name: "device_id", Value: "d1"}, {Name: "ts", Value: int64(100)}}

	hashKey, err := EncodeHashKey(keyDef, fields, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fullKey, err := EncodeKey(keyDef, fields)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(hashKey, fullKey) {
		t.Error("expected non-time-series hash key to equal the full key encoding")
	}
}

func TestHashKeyDef_SingleFieldKeyNeverSplits(t *testing.T) {
	keyDef := []string{"id"}
	if got := HashKeyDef(keyDef, true); len(got) != 1 || got[0] != "id" {
		t.Errorf("expected single-field key_def to pass through unchanged, got %v", got)
	}
}

func TestEncodeIndexes(t *testing.T) {
	data, err := EncodeIndexes(nil)
	if err != nil || data != nil {
		t.Fatalf("expected nil, nil for empty indexes, got %v, %v", data, err)
	}
	_, err = EncodeIndexes([]string{"idx1"})
	if !enterdberrors.Is(err, enterdberrors.KindUnsupported) {
		t.Fatalf("expected unsupported for non-empty indexes, got %v", err)
	}
}

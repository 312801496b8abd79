// Package models holds the wire/catalog types shared by every component of
// the table/shard control plane: table and shard descriptors, the wrapper
// (bucket rotation) configuration, and the request/response shapes the
// range-fanout core exchanges with callers.
package models

import "time"

// DataModel selects how a row's non-key columns are serialized.
type DataModel string

const (
	DataModelBinary DataModel = "binary"
	DataModelArray  DataModel = "array"
	DataModelHash   DataModel = "hash"
)

// Comparator is the total ordering imposed on a table's keys.
type Comparator string

const (
	ComparatorAscending  Comparator = "ascending"
	ComparatorDescending Comparator = "descending"
)

// ShardType is the sum type dispatched on by the shard lifecycle (C4).
// ets_leveldb / ets_leveldb_wrapped are accepted as input aliases (Open
// Question (b)) and normalize to the two members below.
type ShardType string

const (
	ShardTypeOrdered        ShardType = "ordered"
	ShardTypeOrderedWrapped ShardType = "ordered_wrapped"
)

// NormalizeShardType maps the reserved ets_* aliases and the leveldb /
// leveldb_wrapped names onto ordered / ordered_wrapped; any other value
// passes through unchanged.
func NormalizeShardType(t string) ShardType {
	switch t {
	case "ets_leveldb", string(ShardTypeOrdered), "leveldb":
		return ShardTypeOrdered
	case "ets_leveldb_wrapped", string(ShardTypeOrderedWrapped), "leveldb_wrapped":
		return ShardTypeOrderedWrapped
	default:
		return ShardType(t)
	}
}

// TimeUnit is the unit a wrapper's time_margin is expressed in.
type TimeUnit string

const (
	TimeUnitSeconds TimeUnit = "seconds"
	TimeUnitMinutes TimeUnit = "minutes"
	TimeUnitHours   TimeUnit = "hours"
)

// TimeMargin bounds how long a bucket may stay open before rotation.
type TimeMargin struct {
	Unit  TimeUnit
	Value int
}

// Duration converts the margin into a time.Duration.
func (m TimeMargin) Duration() time.Duration {
	switch m.Unit {
	case TimeUnitSeconds:
		return time.Duration(m.Value) * time.Second
	case TimeUnitMinutes:
		return time.Duration(m.Value) * time.Minute
	case TimeUnitHours:
		return time.Duration(m.Value) * time.Hour
	default:
		return 0
	}
}

// SizeMargin bounds how large a bucket may grow before rotation.
type SizeMargin struct {
	Megabytes int
}

// Bytes converts the margin into a byte count.
func (m SizeMargin) Bytes() int64 {
	return int64(m.Megabytes) * 1024 * 1024
}

// Wrapper configures bucket rotation for an ordered_wrapped shard. At least
// one of Time or Size must be set.
type Wrapper struct {
	NumOfBuckets int
	Time         *TimeMargin
	Size         *SizeMargin
}

// Options is the canonical, normalized form of a create_table argument
// list. It is produced by validation.VerifyCreateTableArgs.
type Options struct {
	Shards            int
	Distributed       bool
	ReplicationFactor int
	Type              ShardType
	DataModel         DataModel
	Wrapper           *Wrapper
	Comparator        Comparator
	TimeSeries        bool
}

// Option is a single raw (option, value) pair as accepted by
// verify_create_table_args before normalization.
type Option struct {
	Name  string
	Value any
}

// ShardPlacement pairs a shard id with its ring entry (DC -> node list).
// Local (non-distributed) tables carry a nil RingEntry.
type ShardPlacement struct {
	ShardID   string
	RingEntry map[string][]string // datacenter -> ordered node list
}

// Table is the immutable-after-creation table descriptor (T in spec.md §3).
type Table struct {
	Name        string
	Key         []string
	Columns     []string
	Indexes     []string
	Options     Options
	Shards      []ShardPlacement
	Distributed bool
}

// Type is T's derived shard type.
func (t *Table) Type() ShardType { return t.Options.Type }

// DataModelOf is T's derived data model.
func (t *Table) DataModelOf() DataModel { return t.Options.DataModel }

// ComparatorOf is T's derived key ordering.
func (t *Table) ComparatorOf() Comparator { return t.Options.Comparator }

// WrapperOf is T's derived bucket-rotation configuration, nil for
// non-wrapped tables.
func (t *Table) WrapperOf() *Wrapper { return t.Options.Wrapper }

// TimeSeriesOf reports whether the table's key hashes without and sorts
// with a designated timestamp component.
func (t *Table) TimeSeriesOf() bool { return t.Options.TimeSeries }

// HashKeyDef returns the subset of Key an external writer hashes to pick
// a row's shard. The designated timestamp component is, by convention,
// the last field of Key (the common trailing-timestamp composite-key
// layout); it is excluded here so rows sharing every other key field
// land on the same shard regardless of when they were written, and
// included by codec.EncodeKey's ordinary full-key encoding so range
// reads within that shard still sort by time. Non-time-series tables
// hash on the full key.
func (t *Table) HashKeyDef() []string {
	if !t.Options.TimeSeries || len(t.Key) <= 1 {
		return t.Key
	}
	return t.Key[:len(t.Key)-1]
}

// ShardIDs returns the flat list of shard identifiers, independent of
// whether the table is distributed.
func (t *Table) ShardIDs() []string {
	ids := make([]string, len(t.Shards))
	for i, s := range t.Shards {
		ids[i] = s.ShardID
	}
	return ids
}

// Shard is the per-shard descriptor (S in spec.md §3). Buckets is mutable
// (rotated by the wrapper); every other field is fixed at creation and is a
// pure function of the owning table's descriptor.
type Shard struct {
	ShardID    string
	Name       string // owning table name
	Type       ShardType
	Key        []string
	Columns    []string
	Indexes    []string
	Comparator Comparator
	DataModel  DataModel
	Wrapper    *Wrapper
	Buckets    []string // nil for non-wrapped shards
}

// IsWrapped reports whether this shard rotates buckets.
func (s *Shard) IsWrapped() bool {
	return s.Type == ShardTypeOrderedWrapped && s.Wrapper != nil
}

// KVPair is one decoded application-level (key, value) pair, or its
// backend-encoded byte-string form depending on context.
type KVPair struct {
	Key   []byte
	Value []byte
}

// KeyRange bounds a range read. Either end may be nil/empty to mean
// "unbounded" on that side, matching the backend's {start,stop} shape.
type KeyRange struct {
	Start []byte
	Stop  []byte
}

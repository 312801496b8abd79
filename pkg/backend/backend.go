// Package backend defines the interfaces the shard lifecycle (C4) and
// range fanout (C6) consume from the per-shard ordered KV worker and the
// wrapped-bucket wrapper (§6). Both are external collaborators per
// spec.md §1 — the writer/iterator process itself is out of scope — so
// this package is deliberately interface-only; backend/badgerbackend
// ships one concrete reference implementation.
package backend

import (
	"context"

	"github.com/shardkv/enterdb/pkg/models"
)

// OpenOptions mirrors the "create_if_missing=true, error_if_exists=true"
// (and the open-time inverse) semantics spec.md §3/§4.4 requires of every
// store open call.
type OpenOptions struct {
	CreateIfMissing bool
	ErrorIfExists   bool
	Comparator      models.Comparator
}

// Store is the ordered embedded KV backend's per-shard worker interface.
type Store interface {
	// ReadRangeBinary reads up to chunk sorted (key, value) pairs within
	// [start, stop), returning either the complete sentinel or a
	// continuation key in backend-bytes form.
	ReadRangeBinary(ctx context.Context, r models.KeyRange, chunk int) (kvl []models.KVPair, cont []byte, complete bool, err error)

	// ReadRangeNBinary reads up to n sorted (key, value) pairs at or
	// after start.
	ReadRangeNBinary(ctx context.Context, start []byte, n int) ([]models.KVPair, error)

	// ApproximateSize estimates the store's on-disk size in bytes.
	ApproximateSize(ctx context.Context) (int64, error)

	// DeleteDB removes the store's on-disk data and closes its handle.
	DeleteDB(ctx context.Context) error

	// Close terminates the per-shard worker without deleting data.
	Close(ctx context.Context) error
}

// Opener constructs or opens a Store for one shard (or bucket).
type Opener interface {
	Open(ctx context.Context, path string, opts OpenOptions) (Store, error)
}

// Wrapper is the bucket-rotation subsystem backing ordered_wrapped
// shards (§6). It owns the set of per-bucket Store handles for one
// shard and is the sole caller of the backend for that shard.
type Wrapper interface {
	// CreateBucketList generates the initial bucket id sequence for a
	// newly created wrapped shard.
	CreateBucketList(shard *models.Shard, wrapper *models.Wrapper) ([]string, error)

	// InitBuckets opens (or creates) one Store per bucket id.
	InitBuckets(ctx context.Context, shard *models.Shard, buckets []string, wrapper *models.Wrapper, opts OpenOptions) error

	// ReadRangeBinary fans a range read across every open bucket of
	// shard and merges the results according to dir (1 ascending, 0
	// descending), matching the per-shard request shape C6 builds for
	// wrapped shards.
	ReadRangeBinary(ctx context.Context, shard *models.Shard, r models.KeyRange, chunk int, dir int) (kvl []models.KVPair, cont []byte, complete bool, err error)

	// ReadRangeNBinary is the bounded-count counterpart of
	// ReadRangeBinary.
	ReadRangeNBinary(ctx context.Context, shard *models.Shard, start []byte, n int) ([]models.KVPair, error)

	// ApproximateSize sums every open bucket's on-disk size estimate.
	ApproximateSize(ctx context.Context, shard *models.Shard) (int64, error)

	// CloseShard closes every bucket belonging to shard.
	CloseShard(ctx context.Context, shard *models.Shard) error

	// DeleteShard deletes every bucket belonging to shard.
	DeleteShard(ctx context.Context, shard *models.Shard) error
}

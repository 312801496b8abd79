// Package lifecycle implements the shard lifecycle (C4): per-shard
// create/open/close/delete, dispatched by shard type onto the ordered
// backend (non-wrapped) or the bucket wrapper (wrapped), plus the
// distributed two-phase revert-on-failure wiring for table-level
// operations. Type dispatch is a switch over the two members of the
// models.ShardType sum type — Ordered and OrderedWrapped — per spec.md
// §9's "avoid string tags at call sites" design note.
package lifecycle

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	enterdberrors "github.com/shardkv/enterdb/internal/errors"
	"github.com/shardkv/enterdb/pkg/backend"
	"github.com/shardkv/enterdb/pkg/catalog"
	"github.com/shardkv/enterdb/pkg/models"
	"github.com/shardkv/enterdb/pkg/topology"
	"go.uber.org/zap"
)

// Lifecycle drives per-shard create/open/close/delete for every local
// shard this node owns.
type Lifecycle struct {
	catalog catalog.Catalog
	opener  backend.Opener
	wrapper backend.Wrapper
	baseDir string
	logger  *zap.Logger

	mu     sync.RWMutex
	stores map[string]backend.Store // shard id -> store, for ordered (non-wrapped) shards
}

// New builds a Lifecycle driver. baseDir roots every ordered (non-wrapped)
// shard's on-disk path; wrapper owns its own bucket roots.
func New(cat catalog.Catalog, opener backend.Opener, wrapper backend.Wrapper, baseDir string, logger *zap.Logger) *Lifecycle {
	return &Lifecycle{
		catalog: cat,
		opener:  opener,
		wrapper: wrapper,
		baseDir: baseDir,
		logger:  logger,
		stores:  make(map[string]backend.Store),
	}
}

// BuildShard derives a shard descriptor S from table T for shardID, per
// spec.md §4.4 "build S from T".
func BuildShard(table *models.Table, shardID string) *models.Shard {
	return &models.Shard{
		ShardID:    shardID,
		Name:       table.Name,
		Type:       table.Type(),
		Key:        table.Key,
		Columns:    table.Columns,
		Indexes:    table.Indexes,
		Comparator: table.ComparatorOf(),
		DataModel:  table.DataModelOf(),
		Wrapper:    table.WrapperOf(),
	}
}

func (l *Lifecycle) shardPath(shardID string) string {
	return filepath.Join(l.baseDir, shardID)
}

// CreateShard builds the on-disk store(s) for shard with
// create_if_missing=true, error_if_exists=true, persists S, and — for
// wrapped shards — computes and initializes the bucket set first.
func (l *Lifecycle) CreateShard(ctx context.Context, shard *models.Shard) error {
	opts := backend.OpenOptions{CreateIfMissing: true, ErrorIfExists: true, Comparator: shard.Comparator}

	switch shard.Type {
	case models.ShardTypeOrdered:
		store, err := l.opener.Open(ctx, l.shardPath(shard.ShardID), opts)
		if err != nil {
			return err
		}
		l.mu.Lock()
		l.stores[shard.ShardID] = store
		l.mu.Unlock()

	case models.ShardTypeOrderedWrapped:
		if shard.Wrapper == nil {
			// A wrapped shard constructed with wrapper=nil degrades to
			// the non-wrapped form (spec.md §4.4).
			shard.Type = models.ShardTypeOrdered
			return l.CreateShard(ctx, shard)
		}
		buckets, err := l.wrapper.CreateBucketList(shard, shard.Wrapper)
		if err != nil {
			return err
		}
		shard.Buckets = buckets
		if err := l.wrapper.InitBuckets(ctx, shard, buckets, shard.Wrapper, opts); err != nil {
			return err
		}

	default:
		return enterdberrors.New(enterdberrors.KindUnsupported, "unknown_shard_type", "no lifecycle driver for shard type").WithField(string(shard.Type))
	}

	if err := l.catalog.PutShard(shard); err != nil {
		return err
	}
	return nil
}

// OpenShard mirrors CreateShard with create_if_missing=false,
// error_if_exists=false.
func (l *Lifecycle) OpenShard(ctx context.Context, shard *models.Shard) error {
	opts := backend.OpenOptions{CreateIfMissing: false, ErrorIfExists: false, Comparator: shard.Comparator}

	switch shard.Type {
	case models.ShardTypeOrdered:
		store, err := l.opener.Open(ctx, l.shardPath(shard.ShardID), opts)
		if err != nil {
			return err
		}
		l.mu.Lock()
		l.stores[shard.ShardID] = store
		l.mu.Unlock()
		return nil

	case models.ShardTypeOrderedWrapped:
		if shard.Wrapper == nil {
			shard.Type = models.ShardTypeOrdered
			return l.OpenShard(ctx, shard)
		}
		return l.wrapper.InitBuckets(ctx, shard, shard.Buckets, shard.Wrapper, opts)

	default:
		return enterdberrors.New(enterdberrors.KindUnsupported, "unknown_shard_type", "no lifecycle driver for shard type").WithField(string(shard.Type))
	}
}

// CloseShard terminates the shard's worker(s) without deleting data.
func (l *Lifecycle) CloseShard(ctx context.Context, shard *models.Shard) error {
	switch shard.Type {
	case models.ShardTypeOrdered:
		l.mu.Lock()
		store, ok := l.stores[shard.ShardID]
		delete(l.stores, shard.ShardID)
		l.mu.Unlock()
		if !ok {
			return nil
		}
		return store.Close(ctx)

	case models.ShardTypeOrderedWrapped:
		return l.wrapper.CloseShard(ctx, shard)

	default:
		return enterdberrors.New(enterdberrors.KindUnsupported, "unknown_shard_type", "no lifecycle driver for shard type").WithField(string(shard.Type))
	}
}

// DeleteShard removes on-disk data via the backend (or, for wrapped
// shards, the wrapper) and removes S from the catalog.
func (l *Lifecycle) DeleteShard(ctx context.Context, shard *models.Shard) error {
	switch shard.Type {
	case models.ShardTypeOrdered:
		l.mu.Lock()
		store, ok := l.stores[shard.ShardID]
		delete(l.stores, shard.ShardID)
		l.mu.Unlock()
		if ok {
			if err := store.DeleteDB(ctx); err != nil {
				return err
			}
		}

	case models.ShardTypeOrderedWrapped:
		if err := l.wrapper.DeleteShard(ctx, shard); err != nil {
			return err
		}

	default:
		return enterdberrors.New(enterdberrors.KindUnsupported, "unknown_shard_type", "no lifecycle driver for shard type").WithField(string(shard.Type))
	}

	return l.catalog.DeleteShard(shard.ShardID)
}

// Store returns the open backend.Store for a non-wrapped local shard, or
// false if it isn't open on this node.
func (l *Lifecycle) Store(shardID string) (backend.Store, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.stores[shardID]
	return s, ok
}

// CreateTableDistributed executes create_table's distributed path: the
// ring is committed first (with revert-on-failure rolling it back); only
// if the ring load succeeds does shard creation fan out via the topology
// layer, per spec.md §4.4.
func CreateTableDistributed(ctx context.Context, topo topology.Topology, nodes []string, commitRing func(ctx context.Context) error, revertRing func(ctx context.Context) error, createOnNode topology.Action, revertOnNode topology.Revert) error {
	if err := commitRing(ctx); err != nil {
		return enterdberrors.Wrap(err, enterdberrors.KindTransient, "ring_commit_failed", "failed to commit ring before shard creation")
	}

	if err := topo.TopoCall(ctx, nodes, createOnNode, revertOnNode); err != nil {
		if revertErr := revertRing(ctx); revertErr != nil {
			return enterdberrors.Wrap(fmt.Errorf("%v (ring revert also failed: %w)", err, revertErr), enterdberrors.KindTransient, "create_table_failed", "distributed create_table failed and ring revert failed")
		}
		return err
	}
	return nil
}

// DeleteTableDistributed executes delete_table's distributed path.
// Deletion is terminal: there is no revert (spec.md §4.4/§7).
func DeleteTableDistributed(ctx context.Context, topo topology.Topology, nodes []string, deleteOnNode topology.Action) error {
	return topo.TopoCall(ctx, nodes, deleteOnNode, nil)
}

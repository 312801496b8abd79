// Package enterdb is the root facade wiring the six control-plane
// components together into the single entry point a caller drives:
// create_table, open_table/close_table/delete_table, and
// read_range/read_range_n, per spec.md §2's call graph. Engine plays the
// orchestration role the teacher's Manager plays over its own
// catalog/resharder/pricing collaborators — here retargeted from
// reshard-job bookkeeping to table/shard lifecycle and range fanout.
package enterdb

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	enterdberrors "github.com/shardkv/enterdb/internal/errors"
	"github.com/shardkv/enterdb/pkg/backend"
	"github.com/shardkv/enterdb/pkg/catalog"
	"github.com/shardkv/enterdb/pkg/config"
	"github.com/shardkv/enterdb/pkg/fanout"
	"github.com/shardkv/enterdb/pkg/lifecycle"
	"github.com/shardkv/enterdb/pkg/models"
	"github.com/shardkv/enterdb/pkg/placement"
	"github.com/shardkv/enterdb/pkg/topology"
	"github.com/shardkv/enterdb/pkg/validation"
)

// RemoteLifecycle is the caller-supplied mechanism for invoking shard
// lifecycle operations on another node (e.g. over gRPC). A single-node
// deployment running topology.LocalTopology never needs one, since every
// action it's asked to perform already targets this node. Wiring an
// actual wire protocol onto this interface is out of scope (spec.md §1
// non-goals), per DESIGN.md.
type RemoteLifecycle interface {
	CreateShard(ctx context.Context, nodeID string, shard *models.Shard) error
	OpenShard(ctx context.Context, nodeID string, shard *models.Shard) error
	CloseShard(ctx context.Context, nodeID string, shard *models.Shard) error
	DeleteShard(ctx context.Context, nodeID string, shard *models.Shard) error
}

// Engine is the control plane entry point for one node: it owns this
// node's catalog handle, ring, local shard lifecycle driver, and range
// fanout reader, and wires them together per table operation.
type Engine struct {
	cat       catalog.Catalog
	ring      placement.Ring
	lifecycle *lifecycle.Lifecycle
	reader    fanout.ShardReader
	topo      topology.Topology
	remote    RemoteLifecycle
	rotation  *lifecycle.RotationScheduler
	logger    *zap.Logger

	nodeID                string
	dc                    string
	numLocalShardsDefault int

	mu sync.RWMutex
}

// Config bundles Engine's construction-time dependencies.
type Config struct {
	NodeID                string
	DC                    string
	NumOfLocalShardsDefault int
	Catalog               catalog.Catalog
	Ring                  placement.Ring
	Opener                backend.Opener
	Wrapper               backend.Wrapper
	BaseDir               string
	Topology              topology.Topology
	Remote                RemoteLifecycle
	Logger                *zap.Logger
}

// New builds an Engine. Topology defaults to topology.LocalTopology when
// cfg.Topology is nil, matching a single-node / non-distributed
// deployment.
func New(cfg Config) *Engine {
	topo := cfg.Topology
	if topo == nil {
		topo = topology.NewLocalTopology()
	}

	lc := lifecycle.New(cfg.Catalog, cfg.Opener, cfg.Wrapper, cfg.BaseDir, cfg.Logger)
	reader := lifecycle.NewLocalShardReader(lc, cfg.Catalog, cfg.Wrapper)
	rotation := lifecycle.NewRotationScheduler(cfg.Catalog, cfg.Wrapper, cfg.Logger)

	return &Engine{
		cat:                   cfg.Catalog,
		ring:                  cfg.Ring,
		lifecycle:             lc,
		reader:                reader,
		topo:                  topo,
		remote:                cfg.Remote,
		rotation:              rotation,
		logger:                cfg.Logger,
		nodeID:                cfg.NodeID,
		dc:                    cfg.DC,
		numLocalShardsDefault: cfg.NumOfLocalShardsDefault,
	}
}

// Rotation exposes the bucket rotation scheduler so callers can Start/Stop
// it alongside the engine's own lifecycle.
func (e *Engine) Rotation() *lifecycle.RotationScheduler { return e.rotation }

// WatchConfig builds a config.HotReloader over path and wires it so a
// live edit to rotation.check_interval restarts the rotation scheduler
// at the new interval without losing any shard's tracked rotation
// clock. Callers Start/Stop the returned reloader themselves, the same
// pattern as Rotation().
func (e *Engine) WatchConfig(path string) (*config.HotReloader, error) {
	hr, err := config.NewHotReloader(e.logger, path, 0)
	if err != nil {
		return nil, err
	}
	hr.OnReload(func(old, newCfg *config.Config) error {
		if newCfg.Rotation.CheckInterval == old.Rotation.CheckInterval {
			return nil
		}
		e.logger.Info("rotation check_interval changed, restarting scheduler",
			zap.Duration("old", old.Rotation.CheckInterval), zap.Duration("new", newCfg.Rotation.CheckInterval))
		return e.rotation.Restart(newCfg.Rotation.CheckInterval)
	})
	return hr, nil
}

// CreateTable validates args, places shards (via the ring for distributed
// tables, or locally for non-distributed ones), persists the table and
// shard rows, and creates every shard this node owns — fanning the
// remaining shards out to their owning nodes when the table is
// distributed, per spec.md §4.4's two-phase ring-then-topology sequence.
func (e *Engine) CreateTable(ctx context.Context, args []models.Option) (*models.Table, error) {
	table, err := validation.VerifyCreateTableArgs(args, e.cat, e.numLocalShardsDefault)
	if err != nil {
		return nil, err
	}

	if !table.Distributed {
		placements := placement.AllocateLocal(table.Name, table.Options.Shards)
		table.Shards = placements
		shards := buildShards(table, placements)
		for _, shard := range shards {
			if err := e.lifecycle.CreateShard(ctx, shard); err != nil {
				return nil, err
			}
			e.rotation.Watch(shard)
		}
		if err := e.cat.DoCreateShards(table, shards); err != nil {
			return nil, err
		}
		return table, nil
	}

	// Distributed path: the ring commits first (spec.md §4.4's two-phase
	// sequence), then every node that owns a shard creates it locally —
	// this node creates its own subset directly, every other node's
	// subset is fanned out through the topology layer.
	shardIDs := placement.AllocateLocal(table.Name, table.Options.Shards)
	ids := make([]string, len(shardIDs))
	for i, p := range shardIDs {
		ids[i] = p.ShardID
	}
	if err := e.ring.CreateRing(table.Name, ids, table.Options.ReplicationFactor, placement.RingOptions{}); err != nil {
		return nil, err
	}
	placements, ok := e.ring.GetNodes(table.Name)
	if !ok {
		return nil, enterdberrors.New(enterdberrors.KindDownstream, "ring_lookup_failed", "ring entry missing immediately after create_ring").WithField(table.Name)
	}
	table.Shards = placements
	shards := buildShards(table, placements)
	shardByID := make(map[string]*models.Shard, len(shards))
	for _, shard := range shards {
		shardByID[shard.ShardID] = shard
	}

	local := placement.FindLocalShards(placements, e.nodeID, e.dc)
	for _, p := range local {
		if err := e.lifecycle.CreateShard(ctx, shardByID[p.ShardID]); err != nil {
			e.revertCreateRing(ctx, table.Name)
			return nil, err
		}
		e.rotation.Watch(shardByID[p.ShardID])
	}

	remoteNodes := remoteNodesOf(placements, e.nodeID)
	if len(remoteNodes) > 0 && e.remote != nil {
		err = lifecycle.CreateTableDistributed(ctx, e.topo, remoteNodes,
			func(ctx context.Context) error { return nil }, // ring already committed above
			func(ctx context.Context) error { return e.ring.DeleteRing(table.Name) },
			func(ctx context.Context, nodeID string) error {
				return remoteCreateShards(ctx, e.remote, nodeID, placements, shardByID)
			},
			func(ctx context.Context, nodeID string) error {
				return remoteDeleteShards(ctx, e.remote, nodeID, placements, shardByID)
			},
		)
		if err != nil {
			return nil, err
		}
	}

	if err := e.cat.DoCreateShards(table, shards); err != nil {
		return nil, err
	}
	return table, nil
}

func buildShards(table *models.Table, placements []models.ShardPlacement) []*models.Shard {
	shards := make([]*models.Shard, len(placements))
	for i, p := range placements {
		shards[i] = lifecycle.BuildShard(table, p.ShardID)
	}
	return shards
}

func (e *Engine) revertCreateRing(ctx context.Context, name string) {
	if err := e.ring.DeleteRing(name); err != nil {
		e.logger.Warn("ring revert failed after local shard creation failure", zap.String("table", name), zap.Error(err))
	}
}

// OpenTable reopens every shard this node owns for an already-persisted
// table, e.g. after a restart.
func (e *Engine) OpenTable(ctx context.Context, name string) error {
	table, err := e.cat.GetTable(name)
	if err != nil {
		return err
	}
	local := e.localPlacements(table)
	for _, p := range local {
		shard, err := e.cat.GetShard(p.ShardID)
		if err != nil {
			return err
		}
		if err := e.lifecycle.OpenShard(ctx, shard); err != nil {
			return err
		}
		e.rotation.Watch(shard)
	}
	return nil
}

// CloseTable closes every shard this node owns without deleting data.
func (e *Engine) CloseTable(ctx context.Context, name string) error {
	table, err := e.cat.GetTable(name)
	if err != nil {
		return err
	}
	for _, p := range e.localPlacements(table) {
		shard, err := e.cat.GetShard(p.ShardID)
		if err != nil {
			return err
		}
		if err := e.lifecycle.CloseShard(ctx, shard); err != nil {
			return err
		}
		e.rotation.Unwatch(shard.ShardID)
	}
	return nil
}

// DeleteTable deletes every shard this node owns (and, for distributed
// tables, fans the remaining deletes out via the remote lifecycle, which
// has no revert), then removes the table row and ring entry.
func (e *Engine) DeleteTable(ctx context.Context, name string) error {
	table, err := e.cat.GetTable(name)
	if err != nil {
		return err
	}

	for _, p := range e.localPlacements(table) {
		shard, err := e.cat.GetShard(p.ShardID)
		if err != nil {
			return err
		}
		if err := e.lifecycle.DeleteShard(ctx, shard); err != nil {
			return err
		}
		e.rotation.Unwatch(shard.ShardID)
	}

	if table.Distributed {
		remoteNodes := remoteNodesOf(table.Shards, e.nodeID)
		if len(remoteNodes) > 0 && e.remote != nil {
			shardByNode := make(map[string]*models.Shard, len(table.Shards))
			for _, p := range table.Shards {
				shard, err := e.cat.GetShard(p.ShardID)
				if err != nil {
					continue
				}
				shardByNode[p.ShardID] = shard
			}
			if err := lifecycle.DeleteTableDistributed(ctx, e.topo, remoteNodes,
				func(ctx context.Context, nodeID string) error {
					return remoteDeleteShards(ctx, e.remote, nodeID, table.Shards, shardByNode)
				},
			); err != nil {
				return err
			}
		}
		if err := e.ring.DeleteRing(table.Name); err != nil {
			return err
		}
	}

	return e.cat.DeleteTable(name)
}

// ReadRange fans a range read across every shard of name and merges the
// sorted results, returning a continuation key when more data remains.
func (e *Engine) ReadRange(ctx context.Context, name string, r models.KeyRange, chunk int) ([]models.KVPair, []byte, error) {
	table, err := e.cat.GetTable(name)
	if err != nil {
		return nil, nil, err
	}
	shardIDs := table.ShardIDs()
	nodesByShard := nodesByShardOf(table.Shards)
	return fanout.ReadRangeOnShards(ctx, shardIDs, table, r, chunk, e.reader, table.Distributed, e.topo, nodesByShard)
}

// ReadRangeN asks every shard of name for up to n sorted items and merges
// down to the first n.
func (e *Engine) ReadRangeN(ctx context.Context, name string, start []byte, n int) ([]models.KVPair, error) {
	table, err := e.cat.GetTable(name)
	if err != nil {
		return nil, err
	}
	shardIDs := table.ShardIDs()
	nodesByShard := nodesByShardOf(table.Shards)
	return fanout.ReadRangeNOnShards(ctx, shardIDs, table, start, n, e.reader, table.Distributed, e.topo, nodesByShard)
}

// ApproximateSize sums every shard's on-disk size estimate for name.
func (e *Engine) ApproximateSize(ctx context.Context, name string) (int64, error) {
	table, err := e.cat.GetTable(name)
	if err != nil {
		return 0, err
	}
	return fanout.ApproximateSize(ctx, table.ShardIDs(), table, e.reader)
}

func (e *Engine) localPlacements(table *models.Table) []models.ShardPlacement {
	if !table.Distributed {
		return table.Shards
	}
	return placement.FindLocalShards(table.Shards, e.nodeID, e.dc)
}

func nodesByShardOf(placements []models.ShardPlacement) map[string][]string {
	out := make(map[string][]string, len(placements))
	for _, p := range placements {
		var nodes []string
		for _, dcNodes := range p.RingEntry {
			nodes = append(nodes, dcNodes...)
		}
		out[p.ShardID] = nodes
	}
	return out
}

func remoteNodesOf(placements []models.ShardPlacement, thisNode string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range placements {
		for _, nodes := range p.RingEntry {
			for _, n := range nodes {
				if n == thisNode || seen[n] {
					continue
				}
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out
}

func remoteCreateShards(ctx context.Context, remote RemoteLifecycle, nodeID string, placements []models.ShardPlacement, shardByNode map[string]*models.Shard) error {
	for _, p := range placements {
		if !placementHasNode(p, nodeID) {
			continue
		}
		shard := shardByNode[p.ShardID]
		if err := remote.CreateShard(ctx, nodeID, shard); err != nil {
			return fmt.Errorf("create shard %s on node %s: %w", shard.ShardID, nodeID, err)
		}
	}
	return nil
}

func remoteDeleteShards(ctx context.Context, remote RemoteLifecycle, nodeID string, placements []models.ShardPlacement, shardByNode map[string]*models.Shard) error {
	for _, p := range placements {
		if !placementHasNode(p, nodeID) {
			continue
		}
		shard := shardByNode[p.ShardID]
		if shard == nil {
			continue
		}
		if err := remote.DeleteShard(ctx, nodeID, shard); err != nil {
			return fmt.Errorf("delete shard %s on node %s: %w", shard.ShardID, nodeID, err)
		}
	}
	return nil
}

func placementHasNode(p models.ShardPlacement, nodeID string) bool {
	for _, nodes := range p.RingEntry {
		for _, n := range nodes {
			if n == nodeID {
				return true
			}
		}
	}
	return false
}

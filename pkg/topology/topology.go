// Package topology defines the distributed topology layer (§6): the
// component, external to this control plane, that fans a call out to the
// nodes owning a table's shards and collects one successful reply per
// shard. Two implementations exist: LocalTopology, a no-op for
// non-distributed tables and single-node tests, and
// topology/k8stopology.K8sTopology, which resolves owning nodes from
// Kubernetes Endpoints.
package topology

import (
	"context"
	"time"

	enterdberrors "github.com/shardkv/enterdb/internal/errors"
)

// DefaultTimeout is the 10s topology-call timeout spec.md §4.4/§5 fixes
// for every distributed create/open/close/delete.
const DefaultTimeout = 10 * time.Second

// Action is the forward half of a two-phase distributed operation:
// perform the operation on nodeID and return an error on failure.
type Action func(ctx context.Context, nodeID string) error

// Revert is the inverse of an Action, invoked when any node-level Action
// fails or the call times out. delete_table has no revert — callers pass
// nil.
type Revert func(ctx context.Context, nodeID string) error

// ShardResult is one shard's reply from a fanned-out call.
type ShardResult struct {
	ShardID string
	Value   any
	Err     error
}

// Topology is the interface the C4 shard lifecycle and C6 range fanout
// depend on.
type Topology interface {
	// TopoCall executes action on every node in nodes, within
	// DefaultTimeout, reverting every node that already succeeded if any
	// node fails or the call times out. revert may be nil (delete_table).
	TopoCall(ctx context.Context, nodes []string, action Action, revert Revert) error

	// MapShardsSeq executes fn against exactly one replica per shard
	// (the first node in each shard's owning list that answers) and
	// returns one ShardResult per shard, each tagged with its ShardID;
	// because shards is a map, the order of the results is not defined.
	MapShardsSeq(ctx context.Context, shards map[string][]string, fn func(ctx context.Context, nodeID, shardID string) (any, error)) []ShardResult
}

// LocalTopology is a no-op Topology for non-distributed tables: every
// "node" is this process, so TopoCall and MapShardsSeq execute locally
// and synchronously.
type LocalTopology struct{}

// NewLocalTopology constructs the single-node topology.
func NewLocalTopology() *LocalTopology { return &LocalTopology{} }

func (*LocalTopology) TopoCall(ctx context.Context, nodes []string, action Action, revert Revert) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	succeeded := make([]string, 0, len(nodes))
	for _, node := range nodes {
		if err := action(ctx, node); err != nil {
			if revert != nil {
				for _, done := range succeeded {
					_ = revert(ctx, done)
				}
			}
			return enterdberrors.Wrap(err, enterdberrors.KindTransient, "topo_call_failed", "local topology action failed").WithField(node)
		}
		succeeded = append(succeeded, node)
	}
	if ctx.Err() != nil {
		if revert != nil {
			for _, done := range succeeded {
				_ = revert(ctx, done)
			}
		}
		return enterdberrors.New(enterdberrors.KindTransient, "topo_call_timeout", "local topology call timed out")
	}
	return nil
}

func (*LocalTopology) MapShardsSeq(ctx context.Context, shards map[string][]string, fn func(ctx context.Context, nodeID, shardID string) (any, error)) []ShardResult {
	results := make([]ShardResult, 0, len(shards))
	for shardID, nodes := range shards {
		var node string
		if len(nodes) > 0 {
			node = nodes[0]
		}
		val, err := fn(ctx, node, shardID)
		results = append(results, ShardResult{ShardID: shardID, Value: val, Err: err})
	}
	return results
}

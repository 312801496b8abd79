// Package placement implements shard placement (C3): shard id generation,
// allocation of shards to nodes via the consistent-hash ring, and the
// local-shard filter a node uses to find the shards it owns. The ring
// layer itself (§6) is modeled as the Ring interface; LocalRing is the
// in-process default implementation built on pkg/hashing, the way the
// teacher's ConsistentHashRing wraps hashing.ConsistentHash with catalog
// integration — here retargeted to produce DC-aware ring entries instead
// of a flat shard->id map.
package placement

import (
	"fmt"
	"sort"
	"sync"

	enterdberrors "github.com/shardkv/enterdb/internal/errors"
	"github.com/shardkv/enterdb/pkg/hashing"
	"github.com/shardkv/enterdb/pkg/models"
)

// DefaultVNodeCount mirrors the teacher's default of 256 virtual nodes
// per ring member when the caller doesn't specify one.
const DefaultVNodeCount = 256

// RingOptions carries the "opts ⊇ {algorithm, strategy, [local]}" bag
// spec.md §6 requires create_ring to accept.
type RingOptions struct {
	Algorithm string // "sha" in the spec's vocabulary; this module's ring uses murmur3/xxhash
	Strategy  string // "uniform"
	Local     bool
}

// Ring is the external ring layer interface (§6).
type Ring interface {
	CreateRing(name string, shardIDs []string, rf int, opts RingOptions) error
	GetNodes(name string) ([]models.ShardPlacement, bool)
	DeleteRing(name string) error
	Exists(name string) bool
	AllocateNodes(shardIDs []string, rf int) ([]models.ShardPlacement, error)
}

// Node is one ring member: a node id in a datacenter.
type Node struct {
	ID string
	DC string
}

// LocalRing is the default, in-process Ring implementation: a single
// consistent-hash ring over the configured node pool, with one ring per
// table tracked for Exists/GetNodes/DeleteRing.
type LocalRing struct {
	mu       sync.RWMutex
	nodePool []Node
	nodeDC   map[string]string
	hashFunc hashing.HashFunction

	rings map[string][]models.ShardPlacement // table name -> placements
}

// NewLocalRing builds a ring over the given node pool using the named
// hash function ("murmur3" or "xxhash").
func NewLocalRing(nodePool []Node, hashFuncName string) *LocalRing {
	nodeDC := make(map[string]string, len(nodePool))
	for _, n := range nodePool {
		nodeDC[n.ID] = n.DC
	}
	return &LocalRing{
		nodePool: nodePool,
		nodeDC:   nodeDC,
		hashFunc: hashing.NewHashFunction(hashFuncName),
		rings:    make(map[string][]models.ShardPlacement),
	}
}

// CreateRing computes a placement for shardIDs and stores it under name.
func (r *LocalRing) CreateRing(name string, shardIDs []string, rf int, opts RingOptions) error {
	placements, err := r.AllocateNodes(shardIDs, rf)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.rings[name] = placements
	r.mu.Unlock()
	return nil
}

// GetNodes returns the stored placement for name, mirroring
// "get_nodes(name) -> {ok, shards} | undefined".
func (r *LocalRing) GetNodes(name string) ([]models.ShardPlacement, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.rings[name]
	return p, ok
}

// DeleteRing removes a table's ring entry.
func (r *LocalRing) DeleteRing(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rings, name)
	return nil
}

// Exists reports whether name has a ring entry.
func (r *LocalRing) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rings[name]
	return ok
}

// AllocateNodes assigns each shard id to rf distinct nodes, grouped by DC,
// by looking the shard id up on the consistent-hash ring, then derived
// probe keys, and collecting distinct nodes until rf have been gathered.
func (r *LocalRing) AllocateNodes(shardIDs []string, rf int) ([]models.ShardPlacement, error) {
	if len(r.nodePool) == 0 {
		return nil, enterdberrors.New(enterdberrors.KindUnsupported, "empty_node_pool", "ring has no nodes configured")
	}
	if rf > len(r.nodePool) {
		return nil, enterdberrors.New(enterdberrors.KindInvalidArgument, "rf_exceeds_pool", "replication_factor exceeds node pool size")
	}

	ring := hashing.NewConsistentHash(r.hashFunc)
	for _, n := range r.nodePool {
		ring.AddShard(n.ID, DefaultVNodeCount)
	}

	placements := make([]models.ShardPlacement, len(shardIDs))
	for i, shardID := range shardIDs {
		nodes := r.collectDistinctNodes(ring, shardID, rf)
		entry := make(map[string][]string)
		for _, node := range nodes {
			dc := r.nodeDC[node]
			entry[dc] = append(entry[dc], node)
		}
		placements[i] = models.ShardPlacement{ShardID: shardID, RingEntry: entry}
	}
	return placements, nil
}

// collectDistinctNodes looks up shardID on the ring and then the probe
// keys "<shardID>-next-<n>" for n = 1, 2, ..., gathering up to rf
// distinct node ids; a probe that lands on a node already gathered is
// skipped.
func (r *LocalRing) collectDistinctNodes(ring *hashing.ConsistentHash, shardID string, rf int) []string {
	seen := make(map[string]bool, rf)
	out := make([]string, 0, rf)
	key := shardID
	for probe := 1; len(out) < rf && len(out) < len(r.nodePool); probe++ {
		node := ring.GetShard(key)
		if node == "" {
			break
		}
		if !seen[node] {
			seen[node] = true
			out = append(out, node)
		}
		// Advance the probe key deterministically; it changes on every
		// iteration, so a repeated node does not repeat the lookup.
		key = fmt.Sprintf("%s-next-%d", shardID, probe)
	}
	return out
}

// Allocate generates shard ids of the form "<name>_shard<i>" and assigns
// each to rf nodes via ring. For local-only tables use AllocateLocal
// instead.
func Allocate(ring Ring, name string, nShards, rf int) ([]models.ShardPlacement, error) {
	shardIDs := shardIDs(name, nShards)
	return ring.AllocateNodes(shardIDs, rf)
}

// AllocateLocal generates shard ids without ring entries, for
// non-distributed tables.
func AllocateLocal(name string, nShards int) []models.ShardPlacement {
	ids := shardIDs(name, nShards)
	placements := make([]models.ShardPlacement, len(ids))
	for i, id := range ids {
		placements[i] = models.ShardPlacement{ShardID: id}
	}
	return placements
}

func shardIDs(name string, nShards int) []string {
	ids := make([]string, nShards)
	for i := 0; i < nShards; i++ {
		ids[i] = fmt.Sprintf("%s_shard%d", name, i)
	}
	return ids
}

// FindLocalShards filters a placed sequence down to those whose ring
// entry's DC list contains thisNode. If every placement has a nil
// RingEntry (a local table), the input is returned unchanged.
func FindLocalShards(placements []models.ShardPlacement, thisNode, thisDC string) []models.ShardPlacement {
	allLocal := true
	for _, p := range placements {
		if p.RingEntry != nil {
			allLocal = false
			break
		}
	}
	if allLocal {
		return placements
	}

	out := make([]models.ShardPlacement, 0, len(placements))
	for _, p := range placements {
		nodes, ok := p.RingEntry[thisDC]
		if !ok {
			continue
		}
		for _, n := range nodes {
			if n == thisNode {
				out = append(out, p)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShardID < out[j].ShardID })
	return out
}

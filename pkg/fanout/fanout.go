// Package fanout implements the range fanout/merge core (C6): parallel-
// mapping a range request to shard workers (local or distributed),
// merging sorted per-shard results, and cutting the merge at a
// continuation key so pagination never returns a key a lagging shard
// might still beat to the punch. Local parallel fan-out is a bounded
// sync.WaitGroup dispatch writing into a slice pre-sized by index —
// grounded on, but fixing the order-dependence of, the teacher's
// MultiClusterScanner.ScanClusters concurrency shape (see DESIGN.md).
package fanout

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	enterdberrors "github.com/shardkv/enterdb/internal/errors"
	"github.com/shardkv/enterdb/pkg/models"
	"github.com/shardkv/enterdb/pkg/topology"
)

var (
	mergeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "enterdb",
		Subsystem: "fanout",
		Name:      "merge_duration_seconds",
		Help:      "Wall-clock time spent merging per-shard range results.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"table"})

	shardErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "enterdb",
		Subsystem: "fanout",
		Name:      "shard_errors_total",
		Help:      "Shard errors observed during range fanout, by error kind.",
	}, []string{"table", "kind"})

	approximateSizeGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "enterdb",
		Subsystem: "fanout",
		Name:      "approximate_size_bytes",
		Help:      "Last observed approximate_size() per table.",
	}, []string{"table"})
)

// MustRegister registers the fanout metrics with reg, matching the
// teacher's observability.QueryDuration/monitoring.ShardMetrics pattern
// retargeted from per-query SQL metrics to per-fanout-call KV metrics.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(mergeDuration, shardErrors, approximateSizeGauge)
}

// ShardReader is the per-type callback dispatch spec.md §4.6 step 2
// describes: ordered shards call the worker's read_range_binary
// directly; ordered_wrapped shards call the wrapper's read_range_binary
// with an extra dir argument. Implementations (e.g. a lifecycle-backed
// LocalShardReader) hide that dispatch behind this single interface.
type ShardReader interface {
	ReadRangeBinary(ctx context.Context, shardID string, r models.KeyRange, chunk, dir int) (kvl []models.KVPair, cont []byte, complete bool, err error)
	ReadRangeNBinary(ctx context.Context, shardID string, start []byte, n int) ([]models.KVPair, error)
	ApproximateSize(ctx context.Context, shardID string) (int64, error)
}

type shardRangeResult struct {
	shardID  string
	kvl      []models.KVPair
	cont     []byte
	complete bool
	err      error
}

// ReadRangeOnShards fans r out to every shard in shardIDs (local
// dispatch, or distributed via topo/nodesByShard when distributed is
// true), merges the sorted per-shard results by table's comparator, and
// returns the merged chunk plus a continuation key (nil when complete).
func ReadRangeOnShards(ctx context.Context, shardIDs []string, table *models.Table, r models.KeyRange, chunk int, reader ShardReader, distributed bool, topo topology.Topology, nodesByShard map[string][]string) ([]models.KVPair, []byte, error) {
	start := time.Now()
	dir := dirOf(table)

	results, err := dispatch(ctx, shardIDs, distributed, topo, nodesByShard, func(ctx context.Context, shardID string) (any, error) {
		kvl, cont, complete, err := reader.ReadRangeBinary(ctx, shardID, r, chunk, dir)
		return shardRangeResult{shardID: shardID, kvl: kvl, cont: cont, complete: complete, err: err}, err
	})
	if err != nil {
		shardErrors.WithLabelValues(table.Name, errorKind(err)).Inc()
		return nil, nil, err
	}

	merged, contKey, err := mergeRangeResults(results, dir == 1)
	mergeDuration.WithLabelValues(table.Name).Observe(time.Since(start).Seconds())
	return merged, contKey, err
}

// ReadRangeNOnShards asks every shard for up to n sorted items, merges,
// and takes the first n (spec.md §4.6 "asking each shard for n is the
// safe upper bound").
func ReadRangeNOnShards(ctx context.Context, shardIDs []string, table *models.Table, start []byte, n int, reader ShardReader, distributed bool, topo topology.Topology, nodesByShard map[string][]string) ([]models.KVPair, error) {
	dir := dirOf(table)

	results, err := dispatch(ctx, shardIDs, distributed, topo, nodesByShard, func(ctx context.Context, shardID string) (any, error) {
		kvl, err := reader.ReadRangeNBinary(ctx, shardID, start, n)
		return kvl, err
	})
	if err != nil {
		shardErrors.WithLabelValues(table.Name, errorKind(err)).Inc()
		return nil, err
	}

	var merged []models.KVPair
	for _, r := range results {
		if r.err != nil {
			return nil, r.err
		}
		kvl, _ := r.value.([]models.KVPair)
		merged = append(merged, kvl...)
	}
	sortKVPairs(merged, dir == 1)
	if len(merged) > n {
		merged = merged[:n]
	}
	return merged, nil
}

// ApproximateSize sums per-shard backend size estimates. Supported only
// for the ordered type, else fails type_not_supported.
func ApproximateSize(ctx context.Context, shardIDs []string, table *models.Table, reader ShardReader) (int64, error) {
	if table.Type() != models.ShardTypeOrdered {
		return 0, enterdberrors.New(enterdberrors.KindUnsupported, "type_not_supported", "approximate_size is only supported for ordered shards").WithField(string(table.Type()))
	}
	var total int64
	for _, shardID := range shardIDs {
		size, err := reader.ApproximateSize(ctx, shardID)
		if err != nil {
			return 0, err
		}
		total += size
	}
	approximateSizeGauge.WithLabelValues(table.Name).Set(float64(total))
	return total, nil
}

func dirOf(table *models.Table) int {
	if table.ComparatorOf() == models.ComparatorAscending {
		return 1
	}
	return 0
}

type dispatchResult struct {
	shardID string
	value   any
	err     error
}

// dispatch runs fn against every shard in shardIDs: local via a bounded
// parallel map whose results are positionally aligned with shardIDs,
// distributed via the topology layer's map_shards_seq (one successful
// replica per shard), whose results come back in the order it returns.
func dispatch(ctx context.Context, shardIDs []string, distributed bool, topo topology.Topology, nodesByShard map[string][]string, fn func(ctx context.Context, shardID string) (any, error)) ([]dispatchResult, error) {
	if distributed {
		shardNodes := make(map[string][]string, len(shardIDs))
		for _, id := range shardIDs {
			shardNodes[id] = nodesByShard[id]
		}
		raw := topo.MapShardsSeq(ctx, shardNodes, func(ctx context.Context, nodeID, shardID string) (any, error) {
			return fn(ctx, shardID)
		})
		results := make([]dispatchResult, len(raw))
		for i, r := range raw {
			results[i] = dispatchResult{shardID: r.ShardID, value: r.Value, err: r.Err}
			if r.Err != nil {
				return results, r.Err
			}
		}
		return results, nil
	}

	// Local parallel map: a slice pre-sized to len(shardIDs), written by
	// index so results stay positionally aligned regardless of
	// completion order.
	results := make([]dispatchResult, len(shardIDs))
	var wg sync.WaitGroup
	for i, shardID := range shardIDs {
		wg.Add(1)
		go func(i int, shardID string) {
			defer wg.Done()
			val, err := fn(ctx, shardID)
			results[i] = dispatchResult{shardID: shardID, value: val, err: err}
		}(i, shardID)
	}
	wg.Wait()

	for _, r := range results {
		if r.err != nil {
			return results, r.err
		}
	}
	return results, nil
}

// mergeRangeResults implements the cont*-sentinel merge algorithm of
// spec.md §4.6 step 6-7: if no shard has a pending continuation, merge
// everything and report complete; otherwise prepend the earliest pending
// frontier as a sentinel, merge, and truncate the merged sequence at its
// first occurrence (exclusive).
func mergeRangeResults(results []dispatchResult, ascending bool) ([]models.KVPair, []byte, error) {
	var (
		merged []models.KVPair
		conts  [][]byte
	)
	for _, r := range results {
		rr, ok := r.value.(shardRangeResult)
		if !ok {
			continue
		}
		merged = append(merged, rr.kvl...)
		if !rr.complete && rr.cont != nil {
			conts = append(conts, rr.cont)
		}
	}

	if len(conts) == 0 {
		sortKVPairs(merged, ascending)
		return merged, nil, nil
	}

	contStar := conts[0]
	for _, c := range conts[1:] {
		if less(c, contStar, ascending) {
			contStar = c
		}
	}

	merged = append(merged, models.KVPair{Key: contStar, Value: nil})
	sortKVPairs(merged, ascending)

	out := make([]models.KVPair, 0, len(merged))
	for _, kv := range merged {
		if compareBytes(kv.Key, contStar) == 0 {
			break
		}
		out = append(out, kv)
	}
	return out, contStar, nil
}

func less(a, b []byte, ascending bool) bool {
	cmp := compareBytes(a, b)
	if ascending {
		return cmp < 0
	}
	return cmp > 0
}

func sortKVPairs(kvl []models.KVPair, ascending bool) {
	sort.Slice(kvl, func(i, j int) bool { return less(kvl[i].Key, kvl[j].Key, ascending) })
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return len(a) - len(b)
}

func errorKind(err error) string {
	var e *enterdberrors.Error
	if enterdberrors.As(err, &e) {
		return string(e.Kind)
	}
	return "unknown"
}

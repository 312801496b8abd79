package badgerbackend

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	enterdberrors "github.com/shardkv/enterdb/internal/errors"
	"github.com/shardkv/enterdb/pkg/backend"
	"github.com/shardkv/enterdb/pkg/models"
)

// BucketWrapper is the reference implementation of backend.Wrapper: one
// badgerbackend.Store per live bucket, rooted under baseDir/<shard>/<bucket>.
// It is the sole caller of the backend for a wrapped shard, per spec.md §5
// ("shard workers own their backend handle exclusively").
type BucketWrapper struct {
	opener  backend.Opener
	baseDir string

	mu      sync.RWMutex
	buckets map[string]map[string]backend.Store // shard id -> bucket id -> store
}

// NewBucketWrapper builds a BucketWrapper rooted at baseDir.
func NewBucketWrapper(baseDir string) *BucketWrapper {
	return &BucketWrapper{
		opener:  NewOpener(),
		baseDir: baseDir,
		buckets: make(map[string]map[string]backend.Store),
	}
}

// CreateBucketList generates wrapper.NumOfBuckets sequential bucket ids
// for a newly created wrapped shard.
func (w *BucketWrapper) CreateBucketList(shard *models.Shard, wrapper *models.Wrapper) ([]string, error) {
	if wrapper == nil || wrapper.NumOfBuckets < 3 {
		return nil, enterdberrors.New(enterdberrors.KindInvalidArgument, "invalid_wrapper", "wrapper requires num_of_buckets >= 3").WithField(shard.ShardID)
	}
	ids := make([]string, wrapper.NumOfBuckets)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s_bucket%d", shard.ShardID, i)
	}
	return ids, nil
}

// InitBuckets opens (or creates) one Store per bucket id.
func (w *BucketWrapper) InitBuckets(ctx context.Context, shard *models.Shard, buckets []string, wrapper *models.Wrapper, opts backend.OpenOptions) error {
	stores := make(map[string]backend.Store, len(buckets))
	for _, bucketID := range buckets {
		store, err := w.opener.Open(ctx, filepath.Join(w.baseDir, shard.ShardID, bucketID), opts)
		if err != nil {
			for _, opened := range stores {
				_ = opened.Close(ctx)
			}
			return err
		}
		stores[bucketID] = store
	}

	w.mu.Lock()
	w.buckets[shard.ShardID] = stores
	w.mu.Unlock()
	return nil
}

// ReadRangeBinary fans a range read across every open bucket and merges
// the per-bucket results by dir (1 ascending, 0 descending). If any
// bucket read fails, the first failing bucket's error is returned and no
// partial merge is produced.
func (w *BucketWrapper) ReadRangeBinary(ctx context.Context, shard *models.Shard, r models.KeyRange, chunk int, dir int) ([]models.KVPair, []byte, bool, error) {
	stores := w.shardStores(shard.ShardID)
	if len(stores) == 0 {
		return nil, nil, true, nil
	}

	type bucketResult struct {
		kvl      []models.KVPair
		cont     []byte
		complete bool
		err      error
	}
	results := make([]bucketResult, len(stores))
	var wg sync.WaitGroup
	for i, store := range stores {
		wg.Add(1)
		go func(i int, store backend.Store) {
			defer wg.Done()
			kvl, cont, complete, err := store.ReadRangeBinary(ctx, r, chunk)
			if err != nil {
				results[i] = bucketResult{err: err}
				return
			}
			results[i] = bucketResult{kvl: kvl, cont: cont, complete: complete}
		}(i, store)
	}
	wg.Wait()

	for _, res := range results {
		if res.err != nil {
			return nil, nil, false, res.err
		}
	}

	var merged []models.KVPair
	var conts [][]byte
	for _, res := range results {
		merged = append(merged, res.kvl...)
		if !res.complete {
			conts = append(conts, res.cont)
		}
	}
	ascending := dir == 1
	sortKVPairs(merged, ascending)

	if len(conts) == 0 {
		return merged, nil, true, nil
	}
	contStar := conts[0]
	for _, c := range conts[1:] {
		if (ascending && compareBytes(c, contStar) < 0) || (!ascending && compareBytes(c, contStar) > 0) {
			contStar = c
		}
	}
	truncated := truncateAt(merged, contStar, ascending)
	return truncated, contStar, false, nil
}

// ReadRangeNBinary asks every bucket for n items and merges, taking the
// first n.
func (w *BucketWrapper) ReadRangeNBinary(ctx context.Context, shard *models.Shard, start []byte, n int) ([]models.KVPair, error) {
	stores := w.shardStores(shard.ShardID)
	var merged []models.KVPair
	for _, store := range stores {
		kvl, err := store.ReadRangeNBinary(ctx, start, n)
		if err != nil {
			return nil, err
		}
		merged = append(merged, kvl...)
	}
	sortKVPairs(merged, true)
	if len(merged) > n {
		merged = merged[:n]
	}
	return merged, nil
}

// ApproximateSize sums every open bucket's on-disk size estimate.
func (w *BucketWrapper) ApproximateSize(ctx context.Context, shard *models.Shard) (int64, error) {
	var total int64
	for _, store := range w.shardStores(shard.ShardID) {
		size, err := store.ApproximateSize(ctx)
		if err != nil {
			return 0, err
		}
		total += size
	}
	return total, nil
}

// CloseShard closes every bucket belonging to shard.
func (w *BucketWrapper) CloseShard(ctx context.Context, shard *models.Shard) error {
	w.mu.Lock()
	stores := w.buckets[shard.ShardID]
	delete(w.buckets, shard.ShardID)
	w.mu.Unlock()

	for _, store := range stores {
		if err := store.Close(ctx); err != nil {
			return err
		}
	}
	return nil
}

// DeleteShard deletes every bucket belonging to shard.
func (w *BucketWrapper) DeleteShard(ctx context.Context, shard *models.Shard) error {
	w.mu.Lock()
	stores := w.buckets[shard.ShardID]
	delete(w.buckets, shard.ShardID)
	w.mu.Unlock()

	for _, store := range stores {
		if err := store.DeleteDB(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (w *BucketWrapper) shardStores(shardID string) []backend.Store {
	w.mu.RLock()
	defer w.mu.RUnlock()
	byBucket := w.buckets[shardID]
	stores := make([]backend.Store, 0, len(byBucket))
	for _, s := range byBucket {
		stores = append(stores, s)
	}
	return stores
}

func sortKVPairs(kvl []models.KVPair, ascending bool) {
	sort.Slice(kvl, func(i, j int) bool {
		cmp := compareBytes(kvl[i].Key, kvl[j].Key)
		if ascending {
			return cmp < 0
		}
		return cmp > 0
	})
}

func truncateAt(kvl []models.KVPair, cont []byte, ascending bool) []models.KVPair {
	out := make([]models.KVPair, 0, len(kvl))
	for _, kv := range kvl {
		cmp := compareBytes(kv.Key, cont)
		if cmp == 0 {
			break
		}
		if ascending && cmp > 0 {
			break
		}
		if !ascending && cmp < 0 {
			break
		}
		out = append(out, kv)
	}
	return out
}

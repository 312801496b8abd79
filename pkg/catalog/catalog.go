// Package catalog implements the metadata catalog (C2): two logical
// relations, tables(name -> T) and shards(shard_id -> S), persisted in
// etcd with durable disk copies. Writes that must be atomic go through a
// single etcd Txn; get/delete are dirty (non-transactional) reads/deletes
// per spec.md §4.2. Structure follows the teacher's EtcdCatalog: an etcd
// client, a logger, and an in-process read-through cache kept current by
// Watch.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	enterdberrors "github.com/shardkv/enterdb/internal/errors"
	"github.com/shardkv/enterdb/pkg/models"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const (
	tableKeyPrefix = "/enterdb/tables/"
	shardKeyPrefix = "/enterdb/shards/"
)

func tableKey(name string) string    { return tableKeyPrefix + name }
func shardKey(shardID string) string { return shardKeyPrefix + shardID }

// Catalog is the C2 interface the rest of the control plane depends on.
type Catalog interface {
	Exists(name string) (bool, error)
	GetTable(name string) (*models.Table, error)
	GetShard(shardID string) (*models.Shard, error)
	PutTable(table *models.Table) error
	PutShard(shard *models.Shard) error
	// DoCreateShards writes every shard row and, only on success, the
	// table row, as a single transaction (spec.md §4.2 atomicity
	// requirement).
	DoCreateShards(table *models.Table, shards []*models.Shard) error
	UpdateBucketList(shardID string, buckets []string) error
	DeleteTable(name string) error
	DeleteShard(shardID string) error
	Watch(ctx context.Context) (<-chan Event, error)
	Close() error
}

// Event is emitted on every catalog mutation observed via Watch, used to
// invalidate dependent in-process caches (spec.md §9).
type Event struct {
	Kind    string // "table" or "shard"
	Key     string
	Deleted bool
}

// EtcdCatalog implements Catalog against an etcd v3 cluster.
type EtcdCatalog struct {
	client *clientv3.Client
	logger *zap.Logger

	mu          sync.RWMutex
	tableCache  map[string]*models.Table
	shardCache  map[string]*models.Shard
}

// NewEtcdCatalog connects to endpoints and primes the in-process cache
// from the current etcd contents.
func NewEtcdCatalog(endpoints []string, logger *zap.Logger) (*EtcdCatalog, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	c := &EtcdCatalog{
		client:     client,
		logger:     logger,
		tableCache: make(map[string]*models.Table),
		shardCache: make(map[string]*models.Shard),
	}
	if err := c.reload(); err != nil {
		logger.Warn("failed to load initial catalog", zap.Error(err))
	}
	return c, nil
}

// Close releases the underlying etcd client.
func (c *EtcdCatalog) Close() error {
	return c.client.Close()
}

// Exists reports whether a table name is already registered.
func (c *EtcdCatalog) Exists(name string) (bool, error) {
	c.mu.RLock()
	_, ok := c.tableCache[name]
	c.mu.RUnlock()
	if ok {
		return true, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := c.client.Get(ctx, tableKey(name))
	if err != nil {
		return false, enterdberrors.Wrap(err, enterdberrors.KindTransient, "etcd_get_failed", "exists check failed")
	}
	return len(resp.Kvs) > 0, nil
}

// GetTable is a dirty read of a table row.
func (c *EtcdCatalog) GetTable(name string) (*models.Table, error) {
	c.mu.RLock()
	if t, ok := c.tableCache[name]; ok {
		c.mu.RUnlock()
		return t, nil
	}
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := c.client.Get(ctx, tableKey(name))
	if err != nil {
		return nil, enterdberrors.Wrap(err, enterdberrors.KindTransient, "etcd_get_failed", "get_table failed").WithField(name)
	}
	if len(resp.Kvs) == 0 {
		return nil, enterdberrors.ErrNoTable(name)
	}
	var t models.Table
	if err := json.Unmarshal(resp.Kvs[0].Value, &t); err != nil {
		return nil, enterdberrors.Wrap(err, enterdberrors.KindDownstream, "decode_failed", "failed to decode table row").WithField(name)
	}
	c.mu.Lock()
	c.tableCache[name] = &t
	c.mu.Unlock()
	return &t, nil
}

// GetShard is a dirty read of a shard row.
func (c *EtcdCatalog) GetShard(shardID string) (*models.Shard, error) {
	c.mu.RLock()
	if s, ok := c.shardCache[shardID]; ok {
		c.mu.RUnlock()
		return s, nil
	}
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := c.client.Get(ctx, shardKey(shardID))
	if err != nil {
		return nil, enterdberrors.Wrap(err, enterdberrors.KindTransient, "etcd_get_failed", "get_shard failed").WithField(shardID)
	}
	if len(resp.Kvs) == 0 {
		return nil, enterdberrors.New(enterdberrors.KindNotFound, "no_shard", "shard not found").WithField(shardID)
	}
	var s models.Shard
	if err := json.Unmarshal(resp.Kvs[0].Value, &s); err != nil {
		return nil, enterdberrors.Wrap(err, enterdberrors.KindDownstream, "decode_failed", "failed to decode shard row").WithField(shardID)
	}
	c.mu.Lock()
	c.shardCache[shardID] = &s
	c.mu.Unlock()
	return &s, nil
}

// PutTable is a transactional write of a single table row.
func (c *EtcdCatalog) PutTable(table *models.Table) error {
	data, err := json.Marshal(table)
	if err != nil {
		return enterdberrors.Wrap(err, enterdberrors.KindInvalidArgument, "encode_failed", "failed to encode table")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.client.Put(ctx, tableKey(table.Name), string(data)); err != nil {
		return enterdberrors.Wrap(err, enterdberrors.KindTransient, "etcd_put_failed", "put_table failed").WithField(table.Name)
	}
	c.mu.Lock()
	c.tableCache[table.Name] = table
	c.mu.Unlock()
	return nil
}

// PutShard is a transactional write of a single shard row.
func (c *EtcdCatalog) PutShard(shard *models.Shard) error {
	data, err := json.Marshal(shard)
	if err != nil {
		return enterdberrors.Wrap(err, enterdberrors.KindInvalidArgument, "encode_failed", "failed to encode shard")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.client.Put(ctx, shardKey(shard.ShardID), string(data)); err != nil {
		return enterdberrors.Wrap(err, enterdberrors.KindTransient, "etcd_put_failed", "put_shard failed").WithField(shard.ShardID)
	}
	c.mu.Lock()
	c.shardCache[shard.ShardID] = shard
	c.mu.Unlock()
	return nil
}

// DoCreateShards writes every shard row and the table row as one etcd
// transaction: either all rows land, or none do. A reader that later
// observes the table row is guaranteed to find every shard row on the
// same node (spec.md §4.2).
func (c *EtcdCatalog) DoCreateShards(table *models.Table, shards []*models.Shard) error {
	ops := make([]clientv3.Op, 0, len(shards)+1)
	cmps := make([]clientv3.Cmp, 0, len(shards)+1)

	cmps = append(cmps, clientv3.Compare(clientv3.Version(tableKey(table.Name)), "=", 0))
	for _, s := range shards {
		data, err := json.Marshal(s)
		if err != nil {
			return enterdberrors.Wrap(err, enterdberrors.KindInvalidArgument, "encode_failed", "failed to encode shard").WithField(s.ShardID)
		}
		ops = append(ops, clientv3.OpPut(shardKey(s.ShardID), string(data)))
		cmps = append(cmps, clientv3.Compare(clientv3.Version(shardKey(s.ShardID)), "=", 0))
	}
	tableData, err := json.Marshal(table)
	if err != nil {
		return enterdberrors.Wrap(err, enterdberrors.KindInvalidArgument, "encode_failed", "failed to encode table")
	}
	ops = append(ops, clientv3.OpPut(tableKey(table.Name), string(tableData)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, err := c.client.Txn(ctx).If(cmps...).Then(ops...).Commit()
	if err != nil {
		return enterdberrors.Wrap(err, enterdberrors.KindTransient, "txn_failed", "do_create_shards transaction failed").WithField(table.Name)
	}
	if !resp.Succeeded {
		return enterdberrors.ErrTableExists(table.Name)
	}

	c.mu.Lock()
	c.tableCache[table.Name] = table
	for _, s := range shards {
		c.shardCache[s.ShardID] = s
	}
	c.mu.Unlock()
	return nil
}

// UpdateBucketList performs a transactional read-modify-write of a
// shard's bucket set, guarded by the row's ModRevision to detect
// concurrent rotation.
func (c *EtcdCatalog) UpdateBucketList(shardID string, buckets []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := c.client.Get(ctx, shardKey(shardID))
	if err != nil {
		return enterdberrors.Wrap(err, enterdberrors.KindTransient, "etcd_get_failed", "update_bucket_list read failed").WithField(shardID)
	}
	if len(resp.Kvs) == 0 {
		return enterdberrors.New(enterdberrors.KindNotFound, "no_shard", "shard not found").WithField(shardID)
	}

	var s models.Shard
	if err := json.Unmarshal(resp.Kvs[0].Value, &s); err != nil {
		return enterdberrors.Wrap(err, enterdberrors.KindDownstream, "decode_failed", "failed to decode shard row").WithField(shardID)
	}
	s.Buckets = buckets
	data, err := json.Marshal(&s)
	if err != nil {
		return enterdberrors.Wrap(err, enterdberrors.KindInvalidArgument, "encode_failed", "failed to encode shard")
	}

	modRev := resp.Kvs[0].ModRevision
	txn := c.client.Txn(ctx)
	txn.If(clientv3.Compare(clientv3.ModRevision(shardKey(shardID)), "=", modRev)).
		Then(clientv3.OpPut(shardKey(shardID), string(data)))
	txnResp, err := txn.Commit()
	if err != nil {
		return enterdberrors.Wrap(err, enterdberrors.KindTransient, "txn_failed", "update_bucket_list transaction failed").WithField(shardID)
	}
	if !txnResp.Succeeded {
		return enterdberrors.New(enterdberrors.KindTransient, "concurrent_rotation", "bucket list changed concurrently").WithField(shardID)
	}

	c.mu.Lock()
	c.shardCache[shardID] = &s
	c.mu.Unlock()
	return nil
}

// DeleteTable is a dirty delete of the table row.
func (c *EtcdCatalog) DeleteTable(name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.client.Delete(ctx, tableKey(name)); err != nil {
		return enterdberrors.Wrap(err, enterdberrors.KindTransient, "etcd_delete_failed", "delete_table failed").WithField(name)
	}
	c.mu.Lock()
	delete(c.tableCache, name)
	c.mu.Unlock()
	return nil
}

// DeleteShard is a dirty delete of the shard row.
func (c *EtcdCatalog) DeleteShard(shardID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.client.Delete(ctx, shardKey(shardID)); err != nil {
		return enterdberrors.Wrap(err, enterdberrors.KindTransient, "etcd_delete_failed", "delete_shard failed").WithField(shardID)
	}
	c.mu.Lock()
	delete(c.shardCache, shardID)
	c.mu.Unlock()
	return nil
}

// Watch streams table/shard mutation events, dropping the affected cache
// entry on each one (the next read refetches it) so other components (e.g. the ring layer) can
// invalidate dependent state per spec.md §9.
func (c *EtcdCatalog) Watch(ctx context.Context) (<-chan Event, error) {
	out := make(chan Event, 16)

	go func() {
		defer close(out)
		tableWatch := c.client.Watch(ctx, tableKeyPrefix, clientv3.WithPrefix())
		shardWatch := c.client.Watch(ctx, shardKeyPrefix, clientv3.WithPrefix())

		for {
			select {
			case <-ctx.Done():
				return
			case resp, ok := <-tableWatch:
				if !ok {
					return
				}
				c.handleWatchResponse(ctx, out, "table", resp)
			case resp, ok := <-shardWatch:
				if !ok {
					return
				}
				c.handleWatchResponse(ctx, out, "shard", resp)
			}
		}
	}()

	return out, nil
}

func (c *EtcdCatalog) handleWatchResponse(ctx context.Context, out chan<- Event, kind string, resp clientv3.WatchResponse) {
	for _, ev := range resp.Events {
		key := string(ev.Kv.Key)
		deleted := ev.Type == clientv3.EventTypeDelete

		c.mu.Lock()
		switch kind {
		case "table":
			delete(c.tableCache, key[len(tableKeyPrefix):])
		case "shard":
			delete(c.shardCache, key[len(shardKeyPrefix):])
		}
		c.mu.Unlock()

		select {
		case out <- Event{Kind: kind, Key: key, Deleted: deleted}:
		case <-ctx.Done():
			return
		}
	}
}

// reload primes the in-process cache from etcd's current contents.
func (c *EtcdCatalog) reload() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tableResp, err := c.client.Get(ctx, tableKeyPrefix, clientv3.WithPrefix())
	if err != nil {
		return fmt.Errorf("failed to get tables from etcd: %w", err)
	}
	shardResp, err := c.client.Get(ctx, shardKeyPrefix, clientv3.WithPrefix())
	if err != nil {
		return fmt.Errorf("failed to get shards from etcd: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.tableCache = make(map[string]*models.Table, len(tableResp.Kvs))
	for _, kv := range tableResp.Kvs {
		var t models.Table
		if err := json.Unmarshal(kv.Value, &t); err != nil {
			c.logger.Warn("failed to unmarshal table", zap.Error(err))
			continue
		}
		c.tableCache[t.Name] = &t
	}

	c.shardCache = make(map[string]*models.Shard, len(shardResp.Kvs))
	for _, kv := range shardResp.Kvs {
		var s models.Shard
		if err := json.Unmarshal(kv.Value, &s); err != nil {
			c.logger.Warn("failed to unmarshal shard", zap.Error(err))
			continue
		}
		c.shardCache[s.ShardID] = &s
	}
	return nil
}

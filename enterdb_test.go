package enterdb

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"

	enterdberrors "github.com/shardkv/enterdb/internal/errors"
	"github.com/shardkv/enterdb/pkg/backend"
	"github.com/shardkv/enterdb/pkg/catalog"
	"github.com/shardkv/enterdb/pkg/models"
)

// fakeCatalog is an in-memory catalog.Catalog, standing in for EtcdCatalog
// in tests that don't need a live etcd cluster.
type fakeCatalog struct {
	mu     sync.Mutex
	tables map[string]*models.Table
	shards map[string]*models.Shard
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{tables: make(map[string]*models.Table), shards: make(map[string]*models.Shard)}
}

func (c *fakeCatalog) Exists(name string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tables[name]
	return ok, nil
}

func (c *fakeCatalog) GetTable(name string) (*models.Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[name]
	if !ok {
		return nil, enterdberrors.ErrNoTable(name)
	}
	return t, nil
}

func (c *fakeCatalog) GetShard(shardID string) (*models.Shard, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.shards[shardID]
	if !ok {
		return nil, enterdberrors.New(enterdberrors.KindNotFound, "no_shard", "shard not found").WithField(shardID)
	}
	return s, nil
}

func (c *fakeCatalog) PutTable(t *models.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables[t.Name] = t
	return nil
}

func (c *fakeCatalog) PutShard(s *models.Shard) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shards[s.ShardID] = s
	return nil
}

func (c *fakeCatalog) DoCreateShards(t *models.Table, shards []*models.Shard) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tables[t.Name]; ok {
		return enterdberrors.ErrTableExists(t.Name)
	}
	for _, s := range shards {
		c.shards[s.ShardID] = s
	}
	c.tables[t.Name] = t
	return nil
}

func (c *fakeCatalog) UpdateBucketList(shardID string, buckets []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.shards[shardID]
	if !ok {
		return enterdberrors.New(enterdberrors.KindNotFound, "no_shard", "shard not found").WithField(shardID)
	}
	s.Buckets = buckets
	return nil
}

func (c *fakeCatalog) DeleteTable(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tables, name)
	return nil
}

func (c *fakeCatalog) DeleteShard(shardID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.shards, shardID)
	return nil
}

func (c *fakeCatalog) Watch(ctx context.Context) (<-chan catalog.Event, error) {
	ch := make(chan catalog.Event)
	close(ch)
	return ch, nil
}

func (c *fakeCatalog) Close() error { return nil }

// fakeStore is an in-memory backend.Store, standing in for badgerbackend.Store.
type fakeStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (s *fakeStore) ReadRangeBinary(ctx context.Context, r models.KeyRange, chunk int) ([]models.KVPair, []byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.KVPair
	for k, v := range s.data {
		out = append(out, models.KVPair{Key: []byte(k), Value: v})
	}
	return out, nil, true, nil
}

func (s *fakeStore) ReadRangeNBinary(ctx context.Context, start []byte, n int) ([]models.KVPair, error) {
	kvl, _, _, _ := s.ReadRangeBinary(ctx, models.KeyRange{}, n)
	if len(kvl) > n {
		kvl = kvl[:n]
	}
	return kvl, nil
}

func (s *fakeStore) ApproximateSize(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, v := range s.data {
		total += int64(len(v))
	}
	return total, nil
}

func (s *fakeStore) DeleteDB(ctx context.Context) error { return nil }
func (s *fakeStore) Close(ctx context.Context) error    { return nil }

type fakeOpener struct{}

func (fakeOpener) Open(ctx context.Context, path string, opts backend.OpenOptions) (backend.Store, error) {
	return &fakeStore{data: make(map[string][]byte)}, nil
}

func TestEngine_CreateTable_NonDistributed(t *testing.T) {
	cat := newFakeCatalog()
	logger := zap.NewNop()
	engine := New(Config{
		NodeID:                  "node-1",
		DC:                      "dc1",
		NumOfLocalShardsDefault: 4,
		Catalog:                 cat,
		Opener:                  fakeOpener{},
		BaseDir:                 t.TempDir(),
		Logger:                  logger,
	})

	args := []models.Option{
		{Name: "name", Value: "orders"},
		{Name: "key", Value: []string{"order_id"}},
		{Name: "columns", Value: []string{"order_id", "customer_id"}},
		{Name: "distributed", Value: false},
		{Name: "shards", Value: 2},
	}

	table, err := engine.CreateTable(context.Background(), args)
	if err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	if len(table.Shards) != 2 {
		t.Fatalf("expected 2 shards, got %d", len(table.Shards))
	}

	if _, err := cat.GetTable("orders"); err != nil {
		t.Fatalf("table not persisted: %v", err)
	}
}

func TestEngine_CreateTable_DuplicateName(t *testing.T) {
	cat := newFakeCatalog()
	engine := New(Config{
		NodeID:                  "node-1",
		NumOfLocalShardsDefault: 2,
		Catalog:                 cat,
		Opener:                  fakeOpener{},
		BaseDir:                 t.TempDir(),
		Logger:                  zap.NewNop(),
	})

	args := []models.Option{
		{Name: "name", Value: "orders"},
		{Name: "key", Value: []string{"order_id"}},
		{Name: "columns", Value: []string{"order_id"}},
		{Name: "distributed", Value: false},
	}
	if _, err := engine.CreateTable(context.Background(), args); err != nil {
		t.Fatalf("first create_table failed: %v", err)
	}
	if _, err := engine.CreateTable(context.Background(), args); err == nil {
		t.Fatal("expected table_exists error on duplicate create_table")
	}
}

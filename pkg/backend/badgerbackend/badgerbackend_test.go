package badgerbackend

import (
	"context"
	"path/filepath"
	"testing"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/shardkv/enterdb/pkg/backend"
	"github.com/shardkv/enterdb/pkg/models"
)

func openTestStore(t *testing.T, descending bool) *Store {
	t.Helper()
	opener := NewOpener()
	comparator := models.ComparatorAscending
	if descending {
		comparator = models.ComparatorDescending
	}
	s, err := opener.Open(context.Background(), filepath.Join(t.TempDir(), "shard0"), backend.OpenOptions{
		CreateIfMissing: true,
		Comparator:      comparator,
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s.(*Store)
}

func seed(t *testing.T, s *Store, kvs map[string]string) {
	t.Helper()
	if err := s.db.Update(func(txn *badger.Txn) error {
		for k, v := range kvs {
			if err := txn.Set([]byte(k), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

func TestStore_ReadRangeBinary_Ascending(t *testing.T) {
	s := openTestStore(t, false)
	defer s.Close(context.Background())
	seed(t, s, map[string]string{"a": "1", "b": "2", "c": "3"})

	kvl, cont, complete, err := s.ReadRangeBinary(context.Background(), models.KeyRange{}, 10)
	if err != nil {
		t.Fatalf("ReadRangeBinary failed: %v", err)
	}
	if !complete || cont != nil {
		t.Fatalf("expected complete read, got cont=%v complete=%v", cont, complete)
	}
	if len(kvl) != 3 {
		t.Fatalf("expected 3 pairs, got %d", len(kvl))
	}
	for i, want := range []string{"a", "b", "c"} {
		if string(kvl[i].Key) != want {
			t.Errorf("position %d: expected key %q, got %q", i, want, kvl[i].Key)
		}
	}
}

func TestStore_ReadRangeBinary_ChunkedContinuation(t *testing.T) {
	s := openTestStore(t, false)
	defer s.Close(context.Background())
	seed(t, s, map[string]string{"a": "1", "b": "2", "c": "3"})

	kvl, cont, complete, err := s.ReadRangeBinary(context.Background(), models.KeyRange{}, 2)
	if err != nil {
		t.Fatalf("ReadRangeBinary failed: %v", err)
	}
	if complete || cont == nil {
		t.Fatalf("expected incomplete read with a continuation key")
	}
	if len(kvl) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(kvl))
	}
	if string(cont) != "c" {
		t.Errorf("expected continuation key 'c', got %q", cont)
	}
}

func TestStore_ReadRangeNBinary(t *testing.T) {
	s := openTestStore(t, false)
	defer s.Close(context.Background())
	seed(t, s, map[string]string{"a": "1", "b": "2", "c": "3"})

	kvl, err := s.ReadRangeNBinary(context.Background(), nil, 2)
	if err != nil {
		t.Fatalf("ReadRangeNBinary failed: %v", err)
	}
	if len(kvl) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(kvl))
	}
}

func TestStore_ApproximateSizeAndDelete(t *testing.T) {
	s := openTestStore(t, false)
	seed(t, s, map[string]string{"a": "1"})

	if _, err := s.ApproximateSize(context.Background()); err != nil {
		t.Fatalf("ApproximateSize failed: %v", err)
	}
	if err := s.DeleteDB(context.Background()); err != nil {
		t.Fatalf("DeleteDB failed: %v", err)
	}
}

func TestOpener_ErrorIfExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "shard0")
	opener := NewOpener()
	if _, err := opener.Open(context.Background(), dir, backend.OpenOptions{CreateIfMissing: true}); err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	if _, err := opener.Open(context.Background(), dir, backend.OpenOptions{CreateIfMissing: true, ErrorIfExists: true}); err == nil {
		t.Fatal("expected error on re-creating an existing store")
	}
}

func TestOpener_NotFoundWhenMissing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nonexistent")
	opener := NewOpener()
	if _, err := opener.Open(context.Background(), dir, backend.OpenOptions{CreateIfMissing: false}); err == nil {
		t.Fatal("expected error opening a missing store with create_if_missing=false")
	}
}

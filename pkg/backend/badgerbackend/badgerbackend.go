// Package badgerbackend implements backend.Store over
// github.com/dgraph-io/badger/v4, grounded on the embedded-Badger usage
// in the example pack's disk_eject program (badger.Open, txn.Set/Get,
// iterator-based scans). Badger's LSM-tree iterator yields keys in
// sorted byte order, making it a faithful stand-in for the real (and, per
// spec.md §1, out-of-scope) ordered embedded log-structured backend in
// tests and local/non-distributed deployments.
package badgerbackend

import (
	"context"
	"os"

	badger "github.com/dgraph-io/badger/v4"

	enterdberrors "github.com/shardkv/enterdb/internal/errors"
	"github.com/shardkv/enterdb/pkg/backend"
	"github.com/shardkv/enterdb/pkg/models"
)

// Opener opens one Badger instance per shard/bucket directory.
type Opener struct{}

// NewOpener constructs a badgerbackend.Opener.
func NewOpener() *Opener { return &Opener{} }

// Open opens (or creates) a Badger instance rooted at path, honoring the
// create_if_missing/error_if_exists semantics backend.OpenOptions
// carries.
func (Opener) Open(ctx context.Context, path string, opts backend.OpenOptions) (backend.Store, error) {
	_, statErr := os.Stat(path)
	exists := statErr == nil

	if exists && opts.ErrorIfExists {
		return nil, enterdberrors.New(enterdberrors.KindConflict, "store_exists", "backend store already exists").WithField(path)
	}
	if !exists && !opts.CreateIfMissing {
		return nil, enterdberrors.New(enterdberrors.KindNotFound, "no_store", "backend store does not exist").WithField(path)
	}

	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, enterdberrors.Wrap(err, enterdberrors.KindDownstream, "badger_open_failed", "failed to open backend store").WithField(path)
	}
	return &Store{db: db, descending: opts.Comparator == models.ComparatorDescending}, nil
}

// Store is a badger.DB-backed backend.Store for one shard or bucket.
type Store struct {
	db         *badger.DB
	descending bool
}

// ReadRangeBinary reads up to chunk sorted (key, value) pairs within
// [start, stop), returning a continuation key when more data remains.
func (s *Store) ReadRangeBinary(ctx context.Context, r models.KeyRange, chunk int) ([]models.KVPair, []byte, bool, error) {
	var (
		kvl  []models.KVPair
		cont []byte
	)

	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Reverse = s.descending
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		if len(r.Start) > 0 {
			it.Seek(r.Start)
		} else {
			it.Rewind()
		}

		for ; it.Valid(); it.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			item := it.Item()
			key := item.KeyCopy(nil)
			if outOfRange(key, r, s.descending) {
				break
			}
			if len(kvl) >= chunk {
				cont = key
				return nil
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			kvl = append(kvl, models.KVPair{Key: key, Value: val})
		}
		return nil
	})
	if err != nil {
		return nil, nil, false, enterdberrors.Wrap(err, enterdberrors.KindDownstream, "read_range_failed", "backend read_range_binary failed")
	}
	return kvl, cont, cont == nil, nil
}

func outOfRange(key []byte, r models.KeyRange, descending bool) bool {
	if len(r.Stop) == 0 {
		return false
	}
	if descending {
		return compareBytes(key, r.Stop) < 0
	}
	return compareBytes(key, r.Stop) >= 0
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

// ReadRangeNBinary reads up to n sorted (key, value) pairs at or after
// start.
func (s *Store) ReadRangeNBinary(ctx context.Context, start []byte, n int) ([]models.KVPair, error) {
	var kvl []models.KVPair

	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Reverse = s.descending
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		if len(start) > 0 {
			it.Seek(start)
		} else {
			it.Rewind()
		}

		for ; it.Valid() && len(kvl) < n; it.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			item := it.Item()
			key := item.KeyCopy(nil)
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			kvl = append(kvl, models.KVPair{Key: key, Value: val})
		}
		return nil
	})
	if err != nil {
		return nil, enterdberrors.Wrap(err, enterdberrors.KindDownstream, "read_range_n_failed", "backend read_range_n_binary failed")
	}
	return kvl, nil
}

// ApproximateSize sums Badger's reported LSM and value-log sizes.
func (s *Store) ApproximateSize(ctx context.Context) (int64, error) {
	lsm, vlog := s.db.Size()
	return lsm + vlog, nil
}

// DeleteDB removes the store's on-disk data and closes its handle.
func (s *Store) DeleteDB(ctx context.Context) error {
	path := s.db.Opts().Dir
	if err := s.db.Close(); err != nil {
		return enterdberrors.Wrap(err, enterdberrors.KindDownstream, "badger_close_failed", "failed to close backend store")
	}
	if err := os.RemoveAll(path); err != nil {
		return enterdberrors.Wrap(err, enterdberrors.KindDownstream, "delete_db_failed", "failed to delete backend store data").WithField(path)
	}
	return nil
}

// Close terminates the per-shard worker without deleting data.
func (s *Store) Close(ctx context.Context) error {
	if err := s.db.Close(); err != nil {
		return enterdberrors.Wrap(err, enterdberrors.KindDownstream, "badger_close_failed", "failed to close backend store")
	}
	return nil
}

package autofilter

import (
	"context"
	"fmt"
	"time"

	"github.com/DuyNguyen1879/autofilter/store"
	badger "github.com/dgraph-io/badger/v3"
	log "github.com/sirupsen/logrus"
)

const (
	badgerDiscardRatio = 0.5
	badgerGCInterval   = 10 * time.Minute
)

// BadgerDB wraps a BadgerDB backend database so it satisfies store.KVStore.
// The daemon uses it to keep resolver results across restarts.
type BadgerDB struct {
	db  *badger.DB
	ctx context.Context
}

// NewBadgerDB opens the database at dataDir and starts its GC loop.
func NewBadgerDB(ctx context.Context, dataDir string) (store.KVStore, error) {
	opts := badger.DefaultOptions(dataDir)
	opts.SyncWrites = true
	opts.Logger = nil

	badgerDB, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	bdb := &BadgerDB{
		db:  badgerDB,
		ctx: ctx,
	}

	go bdb.runGC()
	return bdb, nil
}

// Get returns the value stored for key in the given namespace.
func (bdb *BadgerDB) Get(namespace, key []byte) ([]byte, error) {
	var value []byte

	err := bdb.db.View(func(txn *badger.Txn) error {
		item, err2 := txn.Get(bdb.namespaceKey(namespace, key))
		if err2 != nil {
			return err2
		}

		return item.Value(func(data []byte) error {
			value = make([]byte, len(data))
			copy(value, data)
			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return value, nil
}

// Set stores value for key in the given namespace without a TTL.
func (bdb *BadgerDB) Set(namespace, key, value []byte) error {
	return bdb.db.Update(func(txn *badger.Txn) error {
		return txn.Set(bdb.namespaceKey(namespace, key), value)
	})
}

// SetEx stores the given key and value for the time given by ttl.
func (bdb *BadgerDB) SetEx(namespace, key, value []byte, ttl time.Duration) error {
	return bdb.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(bdb.namespaceKey(namespace, key), value).WithTTL(ttl)
		return txn.SetEntry(e)
	})
}

// Has reports whether the namespace contains key.
func (bdb *BadgerDB) Has(namespace, key []byte) (ok bool, err error) {
	_, err = bdb.Get(namespace, key)
	switch err {
	case badger.ErrKeyNotFound:
		ok, err = false, nil
	case nil:
		ok, err = true, nil
	}

	return
}

// Remove removes a single entry from the database.
func (bdb *BadgerDB) Remove(namespace, key []byte) error {
	return bdb.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(bdb.namespaceKey(namespace, key))
	})
}

// Each iterates over all items that match namespace and prefix.
func (bdb *BadgerDB) Each(namespace, prefix []byte, callback store.KVStoreEachFunc) error {
	return bdb.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := bdb.namespaceKey(namespace, prefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(v []byte) error {
				callback(v)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Count returns the number of entries that match namespace and prefix.
func (bdb *BadgerDB) Count(namespace, prefix []byte) (int, error) {
	c := 0

	err := bdb.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := bdb.namespaceKey(namespace, prefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			c++
		}
		return nil
	})

	return c, err
}

// Close closes the connection to the underlying BadgerDB database.
func (bdb *BadgerDB) Close() error {
	return bdb.db.Close()
}

// ErrNotFound is the error badger returns when it can't find a key in the database.
func (bdb *BadgerDB) ErrNotFound() error {
	return badger.ErrKeyNotFound
}

// runGC triggers the garbage collection for the BadgerDB backend database.
func (bdb *BadgerDB) runGC() {
	ticker := time.NewTicker(badgerGCInterval)
	for {
		select {
		case <-ticker.C:
			err := bdb.db.RunValueLogGC(badgerDiscardRatio)
			if err != nil {
				// don't report error when GC didn't result in any cleanup
				if err == badger.ErrNoRewrite {
					log.Debugf("no BadgerDB GC occurred: %v", err)
				} else {
					log.Errorf("failed to GC BadgerDB: %v", err)
				}
			}
		case <-bdb.ctx.Done():
			ticker.Stop()
			return
		}
	}
}

func (bdb *BadgerDB) namespaceKey(namespace, key []byte) []byte {
	return []byte(fmt.Sprintf("%s/%s", string(namespace), string(key)))
}

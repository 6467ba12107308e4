//go:build mobile
// +build mobile

package bootstrap

/*

This file is a duplicate of badger_cache.go but imports a fork of badger db.
This fork does not attempt to acquire a directory lock, which fails on some
Android versions.

*/

import (
	"fmt"

	"github.com/jonknight73/badger"
	badger_options "github.com/jonknight73/badger/options"
	"github.com/sirupsen/logrus"
)

const sessionKeyPrefix = "sessionkey"

// BadgerKeyCache implements KeyCache on a badger database.
type BadgerKeyCache struct {
	db   *badger.DB
	path string
}

// NewBadgerKeyCache opens an existing database or creates a new one if nothing
// is found in path.
func NewBadgerKeyCache(path string, logger *logrus.Entry) (*BadgerKeyCache, error) {
	opts := badger.DefaultOptions(path).
		WithSyncWrites(false).
		WithTruncate(true).
		WithTableLoadingMode(badger_options.FileIO).
		WithValueLogLoadingMode(badger_options.FileIO)

	if logger != nil {
		sub := logger.WithFields(logrus.Fields{"ns": "badger"})
		opts = opts.WithLogger(sub)
	}

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &BadgerKeyCache{
		db:   handle,
		path: path,
	}, nil
}

func sessionKeyKey(callID string) []byte {
	return []byte(fmt.Sprintf("%s_%s", sessionKeyPrefix, callID))
}

// Get implements KeyCache
func (c *BadgerKeyCache) Get(callID string) ([]byte, error) {
	var data []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKeyKey(callID))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})

	if err == badger.ErrKeyNotFound {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	entry := new(cacheEntry)
	if err := entry.Unmarshal(data); err != nil {
		return nil, err
	}

	return entry.key()
}

// Set implements KeyCache
func (c *BadgerKeyCache) Set(callID string, key []byte) error {
	entry := newCacheEntry(callID, key)
	val, err := entry.Marshal()
	if err != nil {
		return err
	}

	tx := c.db.NewTransaction(true)
	defer tx.Discard()

	if err := tx.Set(sessionKeyKey(callID), val); err != nil {
		return err
	}

	return tx.Commit()
}

// Delete implements KeyCache
func (c *BadgerKeyCache) Delete(callID string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(sessionKeyKey(callID))
	})
}

// Close implements KeyCache
func (c *BadgerKeyCache) Close() error {
	return c.db.Close()
}

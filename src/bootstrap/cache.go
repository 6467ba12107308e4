package bootstrap

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/mosaicnetworks/callrelay/src/crypto"
	"github.com/ugorji/go/codec"
)

// ErrCacheMiss is returned by a KeyCache that holds no key for a call.
var ErrCacheMiss = errors.New("session key not cached")

// KeyCache stores session keys per call on this device, so that a rejoining
// participant does not need the key to be wrapped again.
type KeyCache interface {
	Get(callID string) ([]byte, error)
	Set(callID string, key []byte) error
	Delete(callID string) error
	Close() error
}

// cacheEntry is the persisted form of a cached key. The key is kept in its
// exported (base64) form.
type cacheEntry struct {
	CallID   string
	Key      string
	CachedAt int64
}

func newCacheEntry(callID string, key []byte) cacheEntry {
	return cacheEntry{
		CallID:   callID,
		Key:      crypto.ExportSessionKey(key),
		CachedAt: time.Now().Unix(),
	}
}

// Marshal encodes the entry as canonical JSON.
func (e *cacheEntry) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(e); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal ...
func (e *cacheEntry) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(e)
}

func (e *cacheEntry) key() ([]byte, error) {
	return crypto.ImportSessionKey(e.Key)
}

// InmemKeyCache implements KeyCache in memory.
type InmemKeyCache struct {
	sync.RWMutex
	keys map[string][]byte
}

// NewInmemKeyCache ...
func NewInmemKeyCache() *InmemKeyCache {
	return &InmemKeyCache{
		keys: make(map[string][]byte),
	}
}

// Get implements KeyCache
func (c *InmemKeyCache) Get(callID string) ([]byte, error) {
	c.RLock()
	defer c.RUnlock()

	key, ok := c.keys[callID]
	if !ok {
		return nil, ErrCacheMiss
	}

	return append([]byte(nil), key...), nil
}

// Set implements KeyCache
func (c *InmemKeyCache) Set(callID string, key []byte) error {
	c.Lock()
	defer c.Unlock()

	c.keys[callID] = append([]byte(nil), key...)

	return nil
}

// Delete implements KeyCache
func (c *InmemKeyCache) Delete(callID string) error {
	c.Lock()
	defer c.Unlock()

	delete(c.keys, callID)

	return nil
}

// Close implements KeyCache
func (c *InmemKeyCache) Close() error {
	return nil
}

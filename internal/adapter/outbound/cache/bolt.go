package cache

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var entriesBucket = []byte("entries")

// Bolt persists entries in a bbolt file so they survive restarts.
// Each value is stored as an 8-byte big-endian expiry (unix nanos) followed by the payload.
type Bolt struct {
	mu     sync.RWMutex
	db     *bolt.DB
	closed bool
	now    func() time.Time
}

// OpenBolt opens or creates the cache file at path and drops expired entries.
func OpenBolt(path string) (*Bolt, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("bolt cache path is required")
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, fmt.Errorf("ensure cache dir: %w", err)
	}
	db, err := bolt.Open(trimmed, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(entriesBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init cache db: %w", err)
	}
	b := &Bolt{db: db, now: time.Now}
	if _, err := b.Sweep(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

// WithClock replaces the time source. For tests.
func (b *Bolt) WithClock(now func() time.Time) *Bolt {
	b.now = now
	return b
}

func (b *Bolt) Get(_ context.Context, key string) ([]byte, bool, error) {
	var (
		value   []byte
		expired bool
	)
	err := b.view(func(tx *bolt.Tx) error {
		raw := tx.Bucket(entriesBucket).Get([]byte(key))
		if len(raw) < 8 {
			return nil
		}
		if !b.now().Before(expiryOf(raw)) {
			expired = true
			return nil
		}
		value = append([]byte(nil), raw[8:]...)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if expired {
		_ = b.Invalidate(context.Background(), key)
		return nil, false, nil
	}
	return value, value != nil, nil
}

func (b *Bolt) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	raw := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(raw, uint64(b.now().Add(ttl).UnixNano()))
	copy(raw[8:], value)
	return b.update(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).Put([]byte(key), raw)
	})
}

func (b *Bolt) Invalidate(_ context.Context, key string) error {
	return b.update(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).Delete([]byte(key))
	})
}

// Sweep deletes every expired entry and returns how many were removed.
func (b *Bolt) Sweep() (int, error) {
	removed := 0
	err := b.update(func(tx *bolt.Tx) error {
		c := tx.Bucket(entriesBucket).Cursor()
		now := b.now()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if len(v) < 8 || !now.Before(expiryOf(v)) {
				if err := c.Delete(); err != nil {
					return err
				}
				removed++
			}
		}
		return nil
	})
	return removed, err
}

// Close closes the database file.
func (b *Bolt) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

func expiryOf(raw []byte) time.Time {
	return time.Unix(0, int64(binary.BigEndian.Uint64(raw[:8])))
}

func (b *Bolt) view(fn func(*bolt.Tx) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return b.db.View(fn)
}

func (b *Bolt) update(fn func(*bolt.Tx) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return b.db.Update(fn)
}

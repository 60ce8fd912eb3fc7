package badger

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/geodex-cloud/geodex/internal/db"
)

// Get retrieves a value by key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, db.ErrKeyNotFound
		}
		return nil, &db.Error{Op: db.OpGet, Err: err}
	}
	return out, nil
}

// Set stores a value at the given key.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return &db.Error{Op: db.OpSet, Err: err}
	}
	return nil
}

// SetWithTTL stores a value with an expiration.
func (s *Store) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(key), value).WithTTL(ttl))
	})
	if err != nil {
		return &db.Error{Op: db.OpSet, Err: err}
	}
	return nil
}

// Del removes a key.
func (s *Store) Del(_ context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return &db.Error{Op: db.OpDel, Err: err}
	}
	return nil
}

// Exists checks if a key exists.
func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return false, nil
		}
		return false, &db.Error{Op: db.OpExists, Err: err}
	}
	return true, nil
}

// IncrBy atomically increments a key by the given amount. Values are stored
// as decimal strings, matching the Redis counter format.
func (s *Store) IncrBy(_ context.Context, key string, val int64) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		var current int64
		item, err := txn.Get([]byte(key))
		switch {
		case err == nil:
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			current, err = strconv.ParseInt(string(raw), 10, 64)
			if err != nil {
				return err
			}
		case errors.Is(err, badger.ErrKeyNotFound):
			current = 0
		default:
			return err
		}
		next := strconv.FormatInt(current+val, 10)
		if err == nil {
			// Keep the existing TTL when the key already has one.
			if exp := item.ExpiresAt(); exp > 0 {
				ttl := time.Until(time.Unix(int64(exp), 0))
				if ttl > 0 {
					return txn.SetEntry(badger.NewEntry([]byte(key), []byte(next)).WithTTL(ttl))
				}
			}
		}
		return txn.Set([]byte(key), []byte(next))
	})
	if err != nil {
		return &db.Error{Op: db.OpIncrBy, Err: err}
	}
	return nil
}

// Expire sets TTL on a key. When nx=true, sets TTL only if the key has no
// expiry yet. Missing keys are a no-op, matching Redis EXPIRE.
func (s *Store) Expire(_ context.Context, key string, ttl time.Duration, nx bool) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		if nx && item.ExpiresAt() > 0 {
			return nil
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return txn.SetEntry(badger.NewEntry([]byte(key), value).WithTTL(ttl))
	})
	if err != nil {
		return &db.Error{Op: db.OpExpire, Err: err}
	}
	return nil
}

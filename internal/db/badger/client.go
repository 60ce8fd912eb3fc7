// Package badger implements the db.Store facade on an embedded BadgerDB.
// It serves single-node deployments that want a persistent embedding cache
// without running a separate Redis.
package badger

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"

	"github.com/geodex-cloud/geodex/internal/db"
)

// Compile-time check: Store implements db.Store.
var _ db.Store = (*Store)(nil)

// Config holds open parameters for a Badger store.
type Config struct {
	Path     string
	InMemory bool
}

// Store implements db.Store via an embedded BadgerDB instance.
type Store struct {
	db *badger.DB
}

// NewStore opens a Badger database at cfg.Path, creating the directory if
// needed. With cfg.InMemory the store lives entirely in RAM.
func NewStore(cfg Config, logger *zap.Logger) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("path is required")
		}
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create badger dir: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts.Logger = &zapAdapter{s: logger.Sugar()}
	opts.Compression = options.None

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: bdb}, nil
}

// Ping reports whether the database is open.
func (s *Store) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return fmt.Errorf("ping: database is closed")
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() {
	_ = s.db.Close()
}

// WaitForReady is immediate for an embedded database.
func (s *Store) WaitForReady(ctx context.Context, _ time.Duration) error {
	return s.Ping(ctx)
}

// zapAdapter adapts zap to the badger.Logger interface.
type zapAdapter struct {
	s *zap.SugaredLogger
}

var _ badger.Logger = (*zapAdapter)(nil)

func (l *zapAdapter) Errorf(msg string, args ...any)   { l.s.Errorf(msg, args...) }
func (l *zapAdapter) Warningf(msg string, args ...any) { l.s.Warnf(msg, args...) }
func (l *zapAdapter) Infof(msg string, args ...any)    { l.s.Infof(msg, args...) }
func (l *zapAdapter) Debugf(msg string, args ...any)   { l.s.Debugf(msg, args...) }

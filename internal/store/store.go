// Fleet Rollout - Device Deployment Rollout Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetrollout

package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/goccy/go-json"

	"github.com/tomtom215/fleetrollout/internal/logging"
	"github.com/tomtom215/fleetrollout/internal/metrics"
)

var (
	// ErrNotFound is returned when a deployment, item or device does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when creating a record whose key is taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrStatusMismatch is returned when a compare-and-set finds an unexpected status.
	ErrStatusMismatch = errors.New("status mismatch")

	// ErrItemsOutstanding is returned when finishing a deployment that still has pending or running items.
	ErrItemsOutstanding = errors.New("work items still outstanding")

	// ErrConflict is returned when a transaction keeps losing write conflicts.
	ErrConflict = errors.New("transaction conflict")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store is closed")
)

// StatusMismatchError carries the status found by a failed compare-and-set.
type StatusMismatchError struct {
	Current string
}

func (e *StatusMismatchError) Error() string {
	return fmt.Sprintf("%s: current status is %s", ErrStatusMismatch, e.Current)
}

func (e *StatusMismatchError) Unwrap() error { return ErrStatusMismatch }

// Config configures the Badger database.
type Config struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path string `koanf:"path"`

	// InMemory keeps everything in RAM. Used by tests and demos.
	InMemory bool `koanf:"in_memory"`

	// SyncWrites fsyncs every commit.
	SyncWrites bool `koanf:"sync_writes"`

	// Compression enables Snappy block compression.
	Compression bool `koanf:"compression"`

	// GCInterval is how often value-log GC runs. Zero disables it.
	GCInterval time.Duration `koanf:"gc_interval"`

	// GCRatio is the discard ratio passed to RunValueLogGC.
	GCRatio float64 `koanf:"gc_ratio"`

	// ConflictRetries bounds how often a conflicting transaction is retried.
	ConflictRetries int `koanf:"conflict_retries"`

	// CloseTimeout bounds how long Close waits for Badger.
	CloseTimeout time.Duration `koanf:"close_timeout"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Path:            "/data/fleetrollout",
		SyncWrites:      true,
		Compression:     true,
		GCInterval:      10 * time.Minute,
		GCRatio:         0.5,
		ConflictRetries: 16,
		CloseTimeout:    30 * time.Second,
	}
}

// Store is the Badger-backed persistence layer.
type Store struct {
	db  *badger.DB
	cfg Config

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the database described by cfg.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("store path is required")
	}
	if cfg.ConflictRetries <= 0 {
		cfg.ConflictRetries = DefaultConfig().ConflictRetries
	}
	if cfg.GCRatio <= 0 || cfg.GCRatio >= 1 {
		cfg.GCRatio = 0.5
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = cfg.SyncWrites
	if cfg.Compression {
		opts.Compression = options.Snappy
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("Store opened")

	return &Store{db: db, cfg: cfg}, nil
}

// OpenInMemory opens an in-memory store.
func OpenInMemory() (*Store, error) {
	cfg := DefaultConfig()
	cfg.InMemory = true
	cfg.SyncWrites = false
	cfg.Path = ""
	return Open(cfg)
}

// DB exposes the underlying database to packages that keep their own key
// space in it, such as the device directory.
func (s *Store) DB() *badger.DB {
	return s.db
}

// Close closes the database, giving up after CloseTimeout.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	timeout := s.cfg.CloseTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.db.Close() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close BadgerDB: %w", err)
		}
		logging.Info().Msg("Store closed")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("badgerdb close timeout after %v", timeout)
	}
}

// RunGC runs value-log GC until there is nothing left to rewrite.
func (s *Store) RunGC() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.cfg.InMemory {
		return nil
	}
	for {
		err := s.db.RunValueLogGC(s.cfg.GCRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

// GCInterval returns the configured GC interval.
func (s *Store) GCInterval() time.Duration {
	return s.cfg.GCInterval
}

// Ping checks that the database is open and readable.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.View(func(*badger.Txn) error { return nil })
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// update runs fn in a read-write transaction, retrying on write conflicts.
func (s *Store) update(ctx context.Context, op string, fn func(txn *badger.Txn) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	start := time.Now()
	defer func() { metrics.RecordStoreOperation(op, time.Since(start)) }()

	for attempt := 0; ; attempt++ {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		if attempt >= s.cfg.ConflictRetries {
			return fmt.Errorf("%s: %w", op, ErrConflict)
		}
		metrics.StoreConflictRetries.WithLabelValues(op).Inc()

		backoff := time.Duration(rand.Int64N(int64(time.Millisecond) * int64(attempt+1)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// view runs fn in a read-only transaction.
func (s *Store) view(op string, fn func(txn *badger.Txn) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	start := time.Now()
	defer func() { metrics.RecordStoreOperation(op, time.Since(start)) }()
	return s.db.View(fn)
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := txn.Set(key, data); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("get %s: %w", key, err)
}

func unmarshal(val []byte, v any) error {
	return json.Unmarshal(val, v)
}

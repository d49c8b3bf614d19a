package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/burrow/pkg/log"
)

const dataFileName = "data.db"

// Options configure an environment at open time.
type Options struct {
	// MaxMappedSize is the initial memory-map reservation in bytes.
	MaxMappedSize int
	// MaxReaders bounds concurrent read transactions. 0 means unlimited.
	MaxReaders int
	// MaxSubDatabases bounds the number of named databases. 0 means
	// unlimited.
	MaxSubDatabases int
}

// DefaultOptions match the incumbent's environment sizing.
func DefaultOptions() Options {
	return Options{
		MaxMappedSize:   1 << 30,
		MaxReaders:      126,
		MaxSubDatabases: 20,
	}
}

// Env is one storage environment: a single memory-mapped file holding
// named databases, with snapshot read transactions and a single long-lived
// write transaction.
//
// Environments are single-open per process. The package keeps a registry
// keyed by path, so a read-only open of a path already held by a writer
// shares the writer's handle; its read transactions see the latest
// committed state.
type Env struct {
	path     string
	db       *bolt.DB
	writable bool
	logger   zerolog.Logger

	writeMu  sync.Mutex
	writeTxn *bolt.Tx

	maxReaders  int
	readers     atomic.Int64
	databaseCap int
	closed      atomic.Bool

	refs int
}

var registry = struct {
	sync.Mutex
	envs map[string]*Env
}{envs: make(map[string]*Env)}

// Exists reports whether an environment has been created at path.
func Exists(path string) bool {
	_, err := os.Stat(filepath.Join(path, dataFileName))
	return err == nil
}

// OpenRw opens (or creates) a writable environment at path, a directory.
func OpenRw(path string, opts Options) (*Env, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve environment path: %w", err)
	}

	registry.Lock()
	defer registry.Unlock()
	if existing, ok := registry.envs[abs]; ok {
		if !existing.writable {
			return nil, fmt.Errorf("environment %s is already open read-only", abs)
		}
		existing.refs++
		return existing, nil
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create environment directory: %w", err)
	}
	db, err := bolt.Open(filepath.Join(abs, dataFileName), 0o600, &bolt.Options{
		Timeout:         time.Second,
		InitialMmapSize: opts.MaxMappedSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open environment: %w", err)
	}

	env := &Env{
		path:        abs,
		db:          db,
		writable:    true,
		logger:      log.WithEnvironment(abs),
		maxReaders:  opts.MaxReaders,
		databaseCap: opts.MaxSubDatabases,
		refs:        1,
	}
	registry.envs[abs] = env
	return env, nil
}

// OpenRo opens a read-only view of the environment at path. If the path is
// already open in this process the handle is shared; otherwise the file is
// opened read-only and must already exist.
func OpenRo(path string) (*Env, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve environment path: %w", err)
	}

	registry.Lock()
	defer registry.Unlock()
	if existing, ok := registry.envs[abs]; ok {
		existing.refs++
		return existing, nil
	}

	db, err := bolt.Open(filepath.Join(abs, dataFileName), 0o600, &bolt.Options{
		Timeout:  time.Second,
		ReadOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open environment read-only: %w", err)
	}
	env := &Env{
		path:   abs,
		db:     db,
		logger: log.WithEnvironment(abs),
		refs:   1,
	}
	registry.envs[abs] = env
	return env, nil
}

// Path returns the environment directory.
func (e *Env) Path() string { return e.path }

// Writable reports whether this handle accepts write transactions.
func (e *Env) Writable() bool { return e.writable }

// Close releases one reference; the file closes when the last reference
// goes. An open write transaction is rolled back.
func (e *Env) Close() error {
	registry.Lock()
	defer registry.Unlock()
	e.refs--
	if e.refs > 0 {
		return nil
	}
	delete(registry.envs, e.path)
	e.closed.Store(true)
	e.writeMu.Lock()
	if e.writeTxn != nil {
		_ = e.writeTxn.Rollback()
		e.writeTxn = nil
	}
	e.writeMu.Unlock()
	return e.db.Close()
}

// Txn is a transaction handle. Read transactions see the snapshot taken at
// begin; the write transaction sees its own uncommitted writes.
type Txn struct {
	tx       *bolt.Tx
	writable bool
	env      *Env
	done     bool
}

// BeginRead starts a snapshot read transaction.
func (e *Env) BeginRead() (*Txn, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if e.maxReaders > 0 && e.readers.Load() >= int64(e.maxReaders) {
		return nil, ErrReadersFull
	}
	tx, err := e.db.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("failed to begin read transaction: %w", err)
	}
	e.readers.Add(1)
	return &Txn{tx: tx, env: e}, nil
}

// Discard ends a read transaction. It is a no-op on the write transaction
// (which ends via Commit or Abort) and on already-finished handles.
func (t *Txn) Discard() {
	if t.writable || t.done {
		return
	}
	t.done = true
	_ = t.tx.Rollback()
	t.env.readers.Add(-1)
}

// WriteTxn returns the environment's single write transaction, beginning
// one if none is open. Writes accumulate until Commit.
func (e *Env) WriteTxn() (*Txn, error) {
	if !e.writable {
		return nil, ErrReadOnly
	}
	if e.closed.Load() {
		return nil, ErrClosed
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if e.writeTxn == nil {
		tx, err := e.db.Begin(true)
		if err != nil {
			return nil, fmt.Errorf("failed to begin write transaction: %w", err)
		}
		e.writeTxn = tx
	}
	return &Txn{tx: e.writeTxn, writable: true, env: e}, nil
}

// Commit durably commits the open write transaction. Writes become visible
// to readers that begin after Commit returns.
func (e *Env) Commit() error {
	if !e.writable {
		return ErrReadOnly
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if e.writeTxn == nil {
		return nil
	}
	err := e.writeTxn.Commit()
	e.writeTxn = nil
	if err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Abort rolls back the open write transaction, discarding uncommitted
// writes.
func (e *Env) Abort() {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if e.writeTxn != nil {
		_ = e.writeTxn.Rollback()
		e.writeTxn = nil
	}
}

// EnsureDatabases creates the named databases if absent. Must be called on
// a writable environment before first use; the creation commits
// immediately.
func (e *Env) EnsureDatabases(names ...string) error {
	if !e.writable {
		return ErrReadOnly
	}
	if e.databaseCap > 0 && len(names) > e.databaseCap {
		return ErrMapFull
	}
	err := e.db.Update(func(tx *bolt.Tx) error {
		for _, name := range names {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("failed to create database %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return nil
}

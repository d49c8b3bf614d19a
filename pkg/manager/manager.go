package manager

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/cache"
	"github.com/cuemby/burrow/pkg/indexing"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// aliasEnvName is the directory of the alias environment under the base
// path. The name keeps it clear of any labels rendering.
const aliasEnvName = "__aliases__"

const dbAliases = "aliases"

// Options configure a cache manager.
type Options struct {
	// Path is the base directory holding every cache. Required.
	Path string
	// MaxReaders, MaxMappedSize and IntersectionChunkSize are passed to
	// each cache; zero values take the cache defaults.
	MaxReaders            int
	MaxMappedSize         int
	IntersectionChunkSize int
	// NumIndexingThreads sizes the indexing pool (default 4).
	NumIndexingThreads int
}

// Manager owns a base directory of caches and the indexing thread pool.
// Caches are addressed by label sets; aliases map one name onto another
// with a single hop.
type Manager struct {
	opts     Options
	basePath string
	logger   zerolog.Logger

	aliasEnv *storage.Env
	aliasDB  storage.Database
	aliasMu  sync.Mutex

	pool *indexing.Pool

	mu   sync.Mutex
	open map[string]cache.RwCache
}

// New creates a manager over opts.Path, creating the directory and the
// alias environment as needed.
func New(opts Options) (*Manager, error) {
	if opts.Path == "" {
		return nil, errors.New("manager: path not set")
	}
	if err := os.MkdirAll(opts.Path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	aliasEnv, err := storage.OpenRw(filepath.Join(opts.Path, aliasEnvName), storage.DefaultOptions())
	if err != nil {
		return nil, err
	}
	if err := aliasEnv.EnsureDatabases(dbAliases); err != nil {
		_ = aliasEnv.Close()
		return nil, err
	}
	return &Manager{
		opts:     opts,
		basePath: opts.Path,
		logger:   log.WithComponent("cache-manager"),
		aliasEnv: aliasEnv,
		aliasDB:  storage.NewDatabase(dbAliases),
		pool:     indexing.NewPool(opts.NumIndexingThreads),
		open:     make(map[string]cache.RwCache),
	}, nil
}

func (m *Manager) cacheOptions() cache.Options {
	opts := cache.DefaultOptions()
	if m.opts.MaxReaders > 0 {
		opts.MaxReaders = m.opts.MaxReaders
	}
	if m.opts.MaxMappedSize > 0 {
		opts.MaxMappedSize = m.opts.MaxMappedSize
	}
	if m.opts.IntersectionChunkSize > 0 {
		opts.IntersectionChunkSize = m.opts.IntersectionChunkSize
	}
	return opts
}

// cacheName renders the canonical name for a label set. Empty label sets
// get a generated unique name; such caches are only addressable through
// aliases.
func cacheName(labels types.Labels) string {
	if name := labels.String(); name != "" {
		return name
	}
	return "cache_" + uuid.NewString()
}

// CreateCache creates a new cache for the label set, stores its schema
// and index definitions, and registers it with the indexing pool.
func (m *Manager) CreateCache(labels types.Labels, schema types.Schema, indexes []types.IndexDefinition, writeOptions cache.WriteOptions) (cache.RwCache, error) {
	name := cacheName(labels)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.open[name]; ok {
		return nil, fmt.Errorf("cache %s is already open", name)
	}
	c, err := cache.CreateRwCache(m.basePath, name, labels, schema, indexes, m.cacheOptions(), writeOptions, m.wakeFunc(name))
	if err != nil {
		return nil, err
	}
	m.open[name] = c
	m.pool.AddCache(c)
	m.logger.Info().Str("cache", name).Msg("Cache created")
	return c, nil
}

// OpenRwCache opens the cache for the label set, or returns nil when it
// does not exist. An already-open cache is returned as-is.
func (m *Manager) OpenRwCache(labels types.Labels, writeOptions cache.WriteOptions) (cache.RwCache, error) {
	name, err := m.Resolve(cacheName(labels))
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.open[name]; ok {
		return c, nil
	}
	if !storage.Exists(cache.MainPath(m.basePath, name)) {
		return nil, nil
	}
	c, err := cache.OpenRwCache(m.basePath, name, labels, m.cacheOptions(), writeOptions, m.wakeFunc(name))
	if err != nil {
		return nil, err
	}
	m.open[name] = c
	m.pool.AddCache(c)
	return c, nil
}

// OpenRoCache opens a read-only view of the cache for the label set, or
// returns nil when it does not exist. If this manager already holds the
// cache open for writing, the same cache is returned: reads from the
// same process see the latest committed state.
func (m *Manager) OpenRoCache(labels types.Labels) (cache.RoCache, error) {
	name, err := m.Resolve(cacheName(labels))
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if c, ok := m.open[name]; ok {
		m.mu.Unlock()
		return c, nil
	}
	m.mu.Unlock()

	if !storage.Exists(cache.MainPath(m.basePath, name)) {
		return nil, nil
	}
	return cache.OpenRoCache(m.basePath, name, labels, m.cacheOptions())
}

// CreateAlias maps alias onto a real cache name, transactionally.
// Resolution follows at most one hop.
func (m *Manager) CreateAlias(name, alias string) error {
	m.aliasMu.Lock()
	defer m.aliasMu.Unlock()
	txn, err := m.aliasEnv.WriteTxn()
	if err != nil {
		return err
	}
	if err := m.aliasDB.Put(txn, []byte(alias), []byte(name)); err != nil {
		m.aliasEnv.Abort()
		return err
	}
	return m.aliasEnv.Commit()
}

// Resolve follows at most one alias hop.
func (m *Manager) Resolve(name string) (string, error) {
	txn, err := m.aliasEnv.BeginRead()
	if err != nil {
		return "", err
	}
	defer txn.Discard()
	real, err := m.aliasDB.Get(txn, []byte(name))
	if errors.Is(err, storage.ErrNotFound) {
		return name, nil
	}
	if err != nil {
		return "", err
	}
	return string(real), nil
}

// WaitUntilIndexingCatchup blocks until every secondary index of every
// registered cache has replayed up to its main environment's current
// position. Commits made during the call may or may not be covered.
func (m *Manager) WaitUntilIndexingCatchup() error {
	return m.pool.WaitUntilCatchup()
}

func (m *Manager) wakeFunc(name string) func() {
	return func() { m.pool.Wake(name) }
}

// Close shuts down the indexing pool and every open cache.
func (m *Manager) Close() error {
	m.pool.Close()
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for name, c := range m.open {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.open, name)
	}
	if err := m.aliasEnv.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

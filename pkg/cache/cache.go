package cache

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/encoding"
	"github.com/cuemby/burrow/pkg/expression"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/plan"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// Options size a cache's environments and query execution.
type Options struct {
	// MaxReaders bounds concurrent read transactions per environment.
	MaxReaders int
	// MaxMappedSize is the initial memory-map reservation per
	// environment, in bytes.
	MaxMappedSize int
	// MaxSubDatabases bounds named databases per environment.
	MaxSubDatabases int
	// IntersectionChunkSize is the batch size used when intersecting
	// full-text posting lists.
	IntersectionChunkSize int
}

// DefaultOptions match the incumbent's sizing.
func DefaultOptions() Options {
	return Options{
		MaxReaders:            126,
		MaxMappedSize:         1 << 30,
		MaxSubDatabases:       20,
		IntersectionChunkSize: 100,
	}
}

func (o Options) storageOptions() storage.Options {
	return storage.Options{
		MaxMappedSize:   o.MaxMappedSize,
		MaxReaders:      o.MaxReaders,
		MaxSubDatabases: o.MaxSubDatabases,
	}
}

// WriteOptions configure the write side of a cache.
type WriteOptions struct {
	ConflictResolution types.ConflictResolution
}

// IndexProgress describes one secondary index's replay position for
// diagnostics and the describe surface.
type IndexProgress struct {
	Definition types.IndexDefinition
	Position   uint64
	Failed     bool
}

// RoCache is the read surface of a cache.
type RoCache interface {
	Name() string
	Labels() types.Labels
	Schema() types.Schema
	Indexes() []types.IndexDefinition
	// Get returns the live record under the given primary-key fields
	// (in primary-index order).
	Get(pk []types.Field) (types.RecordWithMeta, error)
	// Count returns the number of live records.
	Count() (uint64, error)
	// Query plans and executes a query.
	Query(q expression.QueryExpression) ([]types.RecordWithMeta, error)
	// CommitState returns the embedder bytes stored with the last
	// commit.
	CommitState() ([]byte, bool, error)
	// IndexProgress reports each secondary index's replay position.
	IndexProgress() ([]IndexProgress, error)
	Close() error
}

// RwCache adds the single-writer surface.
type RwCache interface {
	RoCache
	Insert(record types.Record) (types.UpsertResult, error)
	Update(old, new types.Record) (types.UpsertResult, error)
	Delete(record types.Record) (*types.RecordMeta, error)
	// SetCommitState stages embedder bytes into the current write
	// transaction.
	SetCommitState(state []byte) error
	// Commit persists all writes since the previous commit, storing
	// state (if non-nil) in the same transaction.
	Commit(state []byte) error
	// EvictExpired deletes every record expired at now.
	EvictExpired(now time.Time) (int, error)
	// MainEnvironment exposes the primary store for the indexing pool.
	MainEnvironment() *MainEnvironment
	// SecondaryEnvironments exposes the writable secondary indexes for
	// the indexing pool.
	SecondaryEnvironments() []*RwSecondaryEnvironment
}

// MainPath returns the main environment directory of a cache named name
// under basePath. The layout is part of the on-disk contract.
func MainPath(basePath, name string) string {
	return filepath.Join(basePath, name, "main")
}

// SecondaryPath returns the directory of one secondary environment.
func SecondaryPath(basePath, name string, def types.IndexDefinition) string {
	return filepath.Join(basePath, name+"_index", def.Name())
}

type rwCache struct {
	name   string
	labels types.Labels
	logger zerolog.Logger
	chunk  int

	writerMu    sync.Mutex
	main        *RwMainEnvironment
	secondaries []*RwSecondaryEnvironment
	roViews     []*SecondaryEnvironment
	onCommit    func()
}

// CreateRwCache creates a cache on disk: main environment with the schema
// stored, one secondary environment per index definition. onCommit is
// invoked after every successful commit (the manager uses it to wake the
// indexing pool); it may be nil.
func CreateRwCache(basePath, name string, labels types.Labels, schema types.Schema, indexes []types.IndexDefinition, opts Options, writeOptions WriteOptions, onCommit func()) (RwCache, error) {
	return newRwCache(basePath, name, labels, &schemaRecord{Schema: schema, Indexes: indexes}, opts, writeOptions, onCommit)
}

// OpenRwCache opens an existing cache, loading schema and index
// definitions from disk.
func OpenRwCache(basePath, name string, labels types.Labels, opts Options, writeOptions WriteOptions, onCommit func()) (RwCache, error) {
	return newRwCache(basePath, name, labels, nil, opts, writeOptions, onCommit)
}

func newRwCache(basePath, name string, labels types.Labels, given *schemaRecord, opts Options, writeOptions WriteOptions, onCommit func()) (RwCache, error) {
	main, err := OpenRwMainEnvironment(MainPath(basePath, name), given, opts, writeOptions)
	if err != nil {
		return nil, err
	}
	c := &rwCache{
		name:     name,
		labels:   labels.Clone(),
		logger:   log.WithCache(name),
		chunk:    opts.IntersectionChunkSize,
		main:     main,
		onCommit: onCommit,
	}
	for i := range main.Indexes() {
		def := main.Indexes()[i]
		sec, err := OpenRwSecondaryEnvironment(SecondaryPath(basePath, name, def), &def, opts)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		c.secondaries = append(c.secondaries, sec)
		c.roViews = append(c.roViews, &sec.SecondaryEnvironment)
	}
	return c, nil
}

func (c *rwCache) Name() string                    { return c.name }
func (c *rwCache) Labels() types.Labels            { return c.labels }
func (c *rwCache) Schema() types.Schema            { return c.main.Schema() }
func (c *rwCache) Indexes() []types.IndexDefinition { return c.main.Indexes() }

func (c *rwCache) MainEnvironment() *MainEnvironment { return &c.main.MainEnvironment }

func (c *rwCache) SecondaryEnvironments() []*RwSecondaryEnvironment { return c.secondaries }

func (c *rwCache) Insert(record types.Record) (types.UpsertResult, error) {
	c.writerMu.Lock()
	defer c.writerMu.Unlock()
	res, err := c.main.Insert(record)
	if err == nil {
		metrics.WriteOperationsTotal.WithLabelValues(c.name, "insert").Inc()
	}
	return res, err
}

func (c *rwCache) Update(old, new types.Record) (types.UpsertResult, error) {
	c.writerMu.Lock()
	defer c.writerMu.Unlock()
	res, err := c.main.Update(old, new)
	if err == nil {
		metrics.WriteOperationsTotal.WithLabelValues(c.name, "update").Inc()
	}
	return res, err
}

func (c *rwCache) Delete(record types.Record) (*types.RecordMeta, error) {
	c.writerMu.Lock()
	defer c.writerMu.Unlock()
	meta, err := c.main.Delete(record)
	if err == nil {
		metrics.WriteOperationsTotal.WithLabelValues(c.name, "delete").Inc()
	}
	return meta, err
}

func (c *rwCache) SetCommitState(state []byte) error {
	c.writerMu.Lock()
	defer c.writerMu.Unlock()
	return c.main.SetCommitState(state)
}

func (c *rwCache) Commit(state []byte) error {
	c.writerMu.Lock()
	defer c.writerMu.Unlock()
	if state != nil {
		if err := c.main.SetCommitState(state); err != nil {
			return err
		}
	}
	if err := c.main.Commit(); err != nil {
		return err
	}
	metrics.CommitsTotal.WithLabelValues(c.name).Inc()
	if count, err := c.Count(); err == nil {
		metrics.RecordsLive.WithLabelValues(c.name).Set(float64(count))
	}
	if c.onCommit != nil {
		c.onCommit()
	}
	return nil
}

func (c *rwCache) EvictExpired(now time.Time) (int, error) {
	c.writerMu.Lock()
	defer c.writerMu.Unlock()
	n, err := c.main.EvictExpired(now)
	if n > 0 {
		metrics.EvictedRecordsTotal.WithLabelValues(c.name).Add(float64(n))
	}
	return n, err
}

func (c *rwCache) Get(pk []types.Field) (types.RecordWithMeta, error) {
	return getRecord(&c.main.MainEnvironment, pk)
}

func (c *rwCache) Count() (uint64, error) {
	return countLive(&c.main.MainEnvironment)
}

func (c *rwCache) Query(q expression.QueryExpression) ([]types.RecordWithMeta, error) {
	return queryCache(c.name, &c.main.MainEnvironment, c.roViews, c.chunk, q)
}

func (c *rwCache) CommitState() ([]byte, bool, error) {
	return commitState(&c.main.MainEnvironment)
}

func (c *rwCache) IndexProgress() ([]IndexProgress, error) {
	return indexProgress(c.name, c.roViews)
}

func (c *rwCache) Close() error {
	var firstErr error
	for _, sec := range c.secondaries {
		if err := sec.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := c.main.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

type roCache struct {
	name        string
	labels      types.Labels
	chunk       int
	main        *MainEnvironment
	secondaries []*SecondaryEnvironment
}

// OpenRoCache opens a read-only view of an existing cache.
func OpenRoCache(basePath, name string, labels types.Labels, opts Options) (RoCache, error) {
	main, err := OpenRoMainEnvironment(MainPath(basePath, name))
	if err != nil {
		return nil, err
	}
	c := &roCache{
		name:   name,
		labels: labels.Clone(),
		chunk:  opts.IntersectionChunkSize,
		main:   main,
	}
	for _, def := range main.Indexes() {
		sec, err := OpenRoSecondaryEnvironment(SecondaryPath(basePath, name, def))
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		c.secondaries = append(c.secondaries, sec)
	}
	return c, nil
}

func (c *roCache) Name() string                     { return c.name }
func (c *roCache) Labels() types.Labels             { return c.labels }
func (c *roCache) Schema() types.Schema             { return c.main.Schema() }
func (c *roCache) Indexes() []types.IndexDefinition { return c.main.Indexes() }

func (c *roCache) Get(pk []types.Field) (types.RecordWithMeta, error) {
	return getRecord(c.main, pk)
}

func (c *roCache) Count() (uint64, error) {
	return countLive(c.main)
}

func (c *roCache) Query(q expression.QueryExpression) ([]types.RecordWithMeta, error) {
	return queryCache(c.name, c.main, c.secondaries, c.chunk, q)
}

func (c *roCache) CommitState() ([]byte, bool, error) {
	return commitState(c.main)
}

func (c *roCache) IndexProgress() ([]IndexProgress, error) {
	return indexProgress(c.name, c.secondaries)
}

func (c *roCache) Close() error {
	var firstErr error
	for _, sec := range c.secondaries {
		if err := sec.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := c.main.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func getRecord(main *MainEnvironment, pk []types.Field) (types.RecordWithMeta, error) {
	txn, err := main.BeginRead()
	if err != nil {
		return types.RecordWithMeta{}, err
	}
	defer txn.Discard()
	return main.GetByPrimaryKey(txn, encoding.FieldsKey(pk))
}

func countLive(main *MainEnvironment) (uint64, error) {
	txn, err := main.BeginRead()
	if err != nil {
		return 0, err
	}
	defer txn.Discard()
	return main.CountLive(txn)
}

func commitState(main *MainEnvironment) ([]byte, bool, error) {
	txn, err := main.BeginRead()
	if err != nil {
		return nil, false, err
	}
	defer txn.Discard()
	return main.CommitState(txn)
}

// queryCache plans and executes under snapshots on the main environment
// and, for index scans, the chosen secondary.
func queryCache(name string, main *MainEnvironment, secondaries []*SecondaryEnvironment, chunk int, q expression.QueryExpression) ([]types.RecordWithMeta, error) {
	p, err := plan.Build(main.Schema(), main.Indexes(), q)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	mainTxn, err := main.BeginRead()
	if err != nil {
		return nil, err
	}
	defer mainTxn.Discard()

	ex := executor{main: main, mainTxn: mainTxn, chunk: chunk}
	planKind := "seq_scan"
	if p.Kind == plan.IndexScan {
		planKind = "index_scan"
		if p.IndexPos >= len(secondaries) {
			return nil, fmt.Errorf("%w: plan references undeclared index %d", ErrInternal, p.IndexPos)
		}
		sec := secondaries[p.IndexPos]
		if sec.Failed() {
			return nil, ErrIndexUnavailable
		}
		secTxn, err := sec.BeginRead()
		if err != nil {
			return nil, err
		}
		defer secTxn.Discard()
		ex.secondary = sec
		ex.secTxn = secTxn
	}

	results, err := ex.run(p)
	if err != nil {
		return nil, err
	}
	metrics.QueryDurationSeconds.WithLabelValues(name, planKind).Observe(time.Since(start).Seconds())
	return results, nil
}

func indexProgress(name string, secondaries []*SecondaryEnvironment) ([]IndexProgress, error) {
	out := make([]IndexProgress, len(secondaries))
	for i, sec := range secondaries {
		pos, err := sec.CurrentOperationID()
		if err != nil {
			return nil, err
		}
		out[i] = IndexProgress{Definition: sec.Definition(), Position: pos, Failed: sec.Failed()}
		metrics.IndexPositions.WithLabelValues(name, sec.Definition().Name()).Set(float64(pos))
	}
	return out, nil
}

package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/encoding"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// Stable sub-database names of a main environment. They are part of the
// on-disk contract.
const (
	dbRecords         = "records"
	dbMetadata        = "metadata"
	dbPrimaryKeyToID  = "primary_key_to_id"
	dbOperationLog    = "operation_log"
	dbSchema          = "schema"
	dbCommitState     = "commit_state"
	dbNextID          = "next_id"
	dbNextOperationID = "next_operation_id"
	dbLiveCount       = "live_count"
	dbEvictions       = "evictions"
)

var mainDatabaseNames = []string{
	dbRecords, dbMetadata, dbPrimaryKeyToID, dbOperationLog, dbSchema,
	dbCommitState, dbNextID, dbNextOperationID, dbLiveCount, dbEvictions,
}

// Records expired by TTL are deleted a few at a time on each write, so
// eviction cost stays amortized constant.
const evictionSweepBudget = 2

// schemaRecord is the persisted form of the schema slot: the schema plus
// the declared secondary indexes.
type schemaRecord struct {
	Schema  types.Schema            `json:"schema"`
	Indexes []types.IndexDefinition `json:"indexes"`
}

// MainEnvironment is the read side of a cache's primary store: records
// keyed by internal id, per-id metadata, the primary-key map and the
// operation log, all in one storage environment.
type MainEnvironment struct {
	env     *storage.Env
	schema  types.Schema
	indexes []types.IndexDefinition
	logger  zerolog.Logger

	records         storage.Database
	metadata        storage.Database
	primaryKeyToID  storage.Multimap
	operationLog    storage.Database
	schemaSlot      storage.OptionSlot
	commitStateSlot storage.OptionSlot
	nextID          storage.Counter
	nextOperationID storage.Counter
	liveCount       storage.Counter
	evictions       storage.Database
}

func newMainEnvironment(env *storage.Env) *MainEnvironment {
	return &MainEnvironment{
		env:             env,
		logger:          log.WithEnvironment(env.Path()),
		records:         storage.NewDatabase(dbRecords),
		metadata:        storage.NewDatabase(dbMetadata),
		primaryKeyToID:  storage.NewMultimap(dbPrimaryKeyToID),
		operationLog:    storage.NewDatabase(dbOperationLog),
		schemaSlot:      storage.NewOptionSlot(dbSchema),
		commitStateSlot: storage.NewOptionSlot(dbCommitState),
		nextID:          storage.NewCounter(dbNextID),
		nextOperationID: storage.NewCounter(dbNextOperationID),
		liveCount:       storage.NewCounter(dbLiveCount),
		evictions:       storage.NewDatabase(dbEvictions),
	}
}

// OpenRoMainEnvironment opens the main environment at path read-only. The
// schema must already be stored.
func OpenRoMainEnvironment(path string) (*MainEnvironment, error) {
	env, err := storage.OpenRo(path)
	if err != nil {
		return nil, err
	}
	m := newMainEnvironment(env)
	if err := m.loadSchema(nil); err != nil {
		_ = env.Close()
		return nil, err
	}
	return m, nil
}

// BeginRead starts a snapshot read transaction on the environment.
func (m *MainEnvironment) BeginRead() (*storage.Txn, error) { return m.env.BeginRead() }

// Close releases the environment handle.
func (m *MainEnvironment) Close() error { return m.env.Close() }

// Schema returns the authoritative schema.
func (m *MainEnvironment) Schema() types.Schema { return m.schema }

// Indexes returns the declared secondary index definitions.
func (m *MainEnvironment) Indexes() []types.IndexDefinition { return m.indexes }

// Path returns the environment directory.
func (m *MainEnvironment) Path() string { return m.env.Path() }

// loadSchema reads the schema slot and checks it against the given
// schema, or stores the given one if the slot is empty (rw only).
func (m *MainEnvironment) loadSchema(given *schemaRecord) error {
	txn, err := m.env.BeginRead()
	if err != nil {
		return err
	}
	data, ok, err := m.schemaSlot.Load(txn)
	txn.Discard()
	if err != nil {
		return err
	}

	if ok {
		var stored schemaRecord
		if err := json.Unmarshal(data, &stored); err != nil {
			return fmt.Errorf("%w: undecodable schema slot: %v", storage.ErrCorrupted, err)
		}
		if given != nil {
			if !given.Schema.Equal(stored.Schema) {
				return SchemaMismatchError{Path: m.env.Path(), Given: given.Schema, Stored: stored.Schema}
			}
			if !indexesEqual(given.Indexes, stored.Indexes) {
				return fmt.Errorf("index list mismatch at %s: given %v, stored %v", m.env.Path(), given.Indexes, stored.Indexes)
			}
		}
		m.schema = stored.Schema
		m.indexes = stored.Indexes
		return nil
	}

	if given == nil {
		return fmt.Errorf("no schema stored at %s", m.env.Path())
	}
	data, err = json.Marshal(given)
	if err != nil {
		return err
	}
	wtxn, err := m.env.WriteTxn()
	if err != nil {
		return err
	}
	if err := m.schemaSlot.Store(wtxn, data); err != nil {
		m.env.Abort()
		return err
	}
	if err := m.env.Commit(); err != nil {
		return err
	}
	m.schema = given.Schema
	m.indexes = given.Indexes
	return nil
}

func indexesEqual(a, b []types.IndexDefinition) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// NextOperationID returns the id the next appended operation will get.
func (m *MainEnvironment) NextOperationID(t *storage.Txn) (uint64, error) {
	return m.nextOperationID.Load(t)
}

// GetOperation reads one operation log entry. ok is false when the entry
// is not visible in this snapshot.
func (m *MainEnvironment) GetOperation(t *storage.Txn, opID uint64) (Operation, bool, error) {
	data, err := m.operationLog.Get(t, encoding.EncodeUint64(opID))
	if errors.Is(err, storage.ErrNotFound) {
		return Operation{}, false, nil
	}
	if err != nil {
		return Operation{}, false, err
	}
	op, err := decodeOperation(data)
	if err != nil {
		return Operation{}, false, err
	}
	return op, true, nil
}

// ScanOperationLog calls fn for every entry with from <= id < to, in
// order, stopping at the first not-yet-visible entry.
func (m *MainEnvironment) ScanOperationLog(t *storage.Txn, from, to uint64, fn func(uint64, Operation) error) error {
	for opID := from; opID < to; opID++ {
		op, ok, err := m.GetOperation(t, opID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := fn(opID, op); err != nil {
			return err
		}
	}
	return nil
}

// CountLive returns the number of live records.
func (m *MainEnvironment) CountLive(t *storage.Txn) (uint64, error) {
	return m.liveCount.Load(t)
}

// CommitState returns the embedder's commit-state bytes, if any.
func (m *MainEnvironment) CommitState(t *storage.Txn) ([]byte, bool, error) {
	return m.commitStateSlot.Load(t)
}

// GetByID returns the live record stored under an internal id.
func (m *MainEnvironment) GetByID(t *storage.Txn, id uint64) (types.RecordWithMeta, bool, error) {
	meta, ok, err := m.getMeta(t, id)
	if err != nil || !ok || meta.Deleted() {
		return types.RecordWithMeta{}, false, err
	}
	record, ok, err := m.getRecord(t, id)
	if err != nil || !ok {
		return types.RecordWithMeta{}, false, err
	}
	return types.RecordWithMeta{Meta: meta, Record: record}, true, nil
}

// GetByPrimaryKey returns the live record whose primary key encodes to
// pkBytes, or ErrPrimaryKeyNotFound.
func (m *MainEnvironment) GetByPrimaryKey(t *storage.Txn, pkBytes []byte) (types.RecordWithMeta, error) {
	id, found, err := m.lookupLiveID(t, primaryKeyHash(pkBytes), pkBytes)
	if err != nil {
		return types.RecordWithMeta{}, err
	}
	if !found {
		return types.RecordWithMeta{}, ErrPrimaryKeyNotFound
	}
	out, ok, err := m.GetByID(t, id)
	if err != nil {
		return types.RecordWithMeta{}, err
	}
	if !ok {
		return types.RecordWithMeta{}, fmt.Errorf("%w: primary key map points at missing id %d", ErrInternal, id)
	}
	return out, nil
}

func (m *MainEnvironment) getMeta(t *storage.Txn, id uint64) (types.RecordMeta, bool, error) {
	data, err := m.metadata.Get(t, encoding.EncodeUint64(id))
	if errors.Is(err, storage.ErrNotFound) {
		return types.RecordMeta{}, false, nil
	}
	if err != nil {
		return types.RecordMeta{}, false, err
	}
	var meta types.RecordMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return types.RecordMeta{}, false, fmt.Errorf("%w: undecodable metadata for id %d: %v", storage.ErrCorrupted, id, err)
	}
	return meta, true, nil
}

func (m *MainEnvironment) getRecord(t *storage.Txn, id uint64) (types.Record, bool, error) {
	data, err := m.records.Get(t, encoding.EncodeUint64(id))
	if errors.Is(err, storage.ErrNotFound) {
		return types.Record{}, false, nil
	}
	if err != nil {
		return types.Record{}, false, err
	}
	var record types.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return types.Record{}, false, fmt.Errorf("%w: undecodable record for id %d: %v", storage.ErrCorrupted, id, err)
	}
	return record, true, nil
}

// lookupLiveID resolves a primary key to its live internal id. Hash
// collisions are resolved by re-encoding each candidate's primary key.
func (m *MainEnvironment) lookupLiveID(t *storage.Txn, hashKey, pkBytes []byte) (uint64, bool, error) {
	ids, err := m.primaryKeyToID.Values(t, hashKey)
	if err != nil {
		return 0, false, err
	}
	for _, id := range ids {
		record, ok, err := m.getRecord(t, id)
		if err != nil {
			return 0, false, err
		}
		if !ok {
			continue
		}
		if bytes.Equal(encoding.PrimaryKey(record, m.schema.PrimaryIndex), pkBytes) {
			return id, true, nil
		}
	}
	return 0, false, nil
}

func primaryKeyHash(pkBytes []byte) []byte {
	return encoding.EncodeUint64(xxhash.Sum64(pkBytes))
}

// RwMainEnvironment is the single-writer side of a cache's primary store.
type RwMainEnvironment struct {
	MainEnvironment
	writeOptions WriteOptions
	now          func() time.Time
}

// OpenRwMainEnvironment opens or creates the main environment at path.
// With a non-nil schema the slot is created or checked; with nil the
// stored schema is loaded (plain re-open).
func OpenRwMainEnvironment(path string, given *schemaRecord, opts Options, writeOptions WriteOptions) (*RwMainEnvironment, error) {
	env, err := storage.OpenRw(path, opts.storageOptions())
	if err != nil {
		return nil, err
	}
	if err := env.EnsureDatabases(mainDatabaseNames...); err != nil {
		_ = env.Close()
		return nil, err
	}
	m := &RwMainEnvironment{
		MainEnvironment: *newMainEnvironment(env),
		writeOptions:    writeOptions,
		now:             time.Now,
	}
	if err := m.loadSchema(given); err != nil {
		_ = env.Close()
		return nil, err
	}
	return m, nil
}

// Insert stores a record under its primary key, applying the insert
// conflict policy when the key is already live.
func (m *RwMainEnvironment) Insert(record types.Record) (types.UpsertResult, error) {
	if err := m.schema.ValidateRecord(record); err != nil {
		return types.UpsertResult{}, fmt.Errorf("invalid record: %w", err)
	}
	txn, err := m.env.WriteTxn()
	if err != nil {
		return types.UpsertResult{}, err
	}
	if _, err := m.sweepExpired(txn, m.now(), evictionSweepBudget); err != nil {
		return types.UpsertResult{}, m.abort(err)
	}

	pkBytes := encoding.PrimaryKey(record, m.schema.PrimaryIndex)
	hashKey := primaryKeyHash(pkBytes)
	id, found, err := m.lookupLiveID(txn, hashKey, pkBytes)
	if err != nil {
		return types.UpsertResult{}, m.abort(err)
	}

	if !found {
		meta, err := m.insertNew(txn, record, hashKey)
		if err != nil {
			return types.UpsertResult{}, m.abort(err)
		}
		return types.UpsertResult{Kind: types.UpsertInserted, Meta: meta}, nil
	}

	switch m.writeOptions.ConflictResolution.OnInsert {
	case types.OnInsertNothing:
		return types.UpsertResult{Kind: types.UpsertIgnored}, nil
	case types.OnInsertPanic:
		return types.UpsertResult{}, ErrPrimaryKeyExists
	default: // OnInsertUpdate
		oldMeta, newMeta, err := m.replaceRecord(txn, id, record)
		if err != nil {
			return types.UpsertResult{}, m.abort(err)
		}
		return types.UpsertResult{Kind: types.UpsertUpdated, Meta: newMeta, OldMeta: oldMeta}, nil
	}
}

// Update replaces the record stored under old's primary key with new,
// applying the update conflict policy when the key is not live. A changed
// primary key is a delete plus an insert under a fresh internal id.
func (m *RwMainEnvironment) Update(old, new types.Record) (types.UpsertResult, error) {
	if err := m.schema.ValidateRecord(new); err != nil {
		return types.UpsertResult{}, fmt.Errorf("invalid record: %w", err)
	}
	txn, err := m.env.WriteTxn()
	if err != nil {
		return types.UpsertResult{}, err
	}
	if _, err := m.sweepExpired(txn, m.now(), evictionSweepBudget); err != nil {
		return types.UpsertResult{}, m.abort(err)
	}

	oldPK := encoding.PrimaryKey(old, m.schema.PrimaryIndex)
	oldHash := primaryKeyHash(oldPK)
	id, found, err := m.lookupLiveID(txn, oldHash, oldPK)
	if err != nil {
		return types.UpsertResult{}, m.abort(err)
	}

	if found {
		newPK := encoding.PrimaryKey(new, m.schema.PrimaryIndex)
		if bytes.Equal(oldPK, newPK) {
			oldMeta, newMeta, err := m.replaceRecord(txn, id, new)
			if err != nil {
				return types.UpsertResult{}, m.abort(err)
			}
			return types.UpsertResult{Kind: types.UpsertUpdated, Meta: newMeta, OldMeta: oldMeta}, nil
		}
		oldMeta, err := m.deleteByID(txn, id, oldHash)
		if err != nil {
			return types.UpsertResult{}, m.abort(err)
		}
		newMeta, err := m.insertNew(txn, new, primaryKeyHash(newPK))
		if err != nil {
			return types.UpsertResult{}, m.abort(err)
		}
		return types.UpsertResult{Kind: types.UpsertUpdated, Meta: newMeta, OldMeta: oldMeta}, nil
	}

	switch m.writeOptions.ConflictResolution.OnUpdate {
	case types.OnUpdateNothing:
		return types.UpsertResult{Kind: types.UpsertIgnored}, nil
	case types.OnUpdatePanic:
		return types.UpsertResult{}, ErrPrimaryKeyNotFound
	default: // OnUpdateUpsert
		newPK := encoding.PrimaryKey(new, m.schema.PrimaryIndex)
		meta, err := m.insertNew(txn, new, primaryKeyHash(newPK))
		if err != nil {
			return types.UpsertResult{}, m.abort(err)
		}
		return types.UpsertResult{Kind: types.UpsertInserted, Meta: meta}, nil
	}
}

// Delete removes the record stored under the record's primary key,
// applying the delete conflict policy when the key is not live. Returns
// the deleted record's metadata, or nil for a policy no-op.
func (m *RwMainEnvironment) Delete(record types.Record) (*types.RecordMeta, error) {
	txn, err := m.env.WriteTxn()
	if err != nil {
		return nil, err
	}
	if _, err := m.sweepExpired(txn, m.now(), evictionSweepBudget); err != nil {
		return nil, m.abort(err)
	}

	pkBytes := encoding.PrimaryKey(record, m.schema.PrimaryIndex)
	hashKey := primaryKeyHash(pkBytes)
	id, found, err := m.lookupLiveID(txn, hashKey, pkBytes)
	if err != nil {
		return nil, m.abort(err)
	}
	if !found {
		if m.writeOptions.ConflictResolution.OnDelete == types.OnDeletePanic {
			return nil, ErrPrimaryKeyNotFound
		}
		return nil, nil
	}
	meta, err := m.deleteByID(txn, id, hashKey)
	if err != nil {
		return nil, m.abort(err)
	}
	return &meta, nil
}

// SetCommitState stages opaque embedder bytes; they are persisted in the
// same transaction as the writes committed next.
func (m *RwMainEnvironment) SetCommitState(state []byte) error {
	txn, err := m.env.WriteTxn()
	if err != nil {
		return err
	}
	if err := m.commitStateSlot.Store(txn, state); err != nil {
		return m.abort(err)
	}
	return nil
}

// Commit durably commits all staged writes.
func (m *RwMainEnvironment) Commit() error {
	return m.env.Commit()
}

// abort rolls back the open transaction after a storage failure and
// passes the error through.
func (m *RwMainEnvironment) abort(err error) error {
	m.env.Abort()
	m.logger.Error().Err(err).Msg("Write transaction aborted")
	return err
}

func (m *RwMainEnvironment) appendOperation(t *storage.Txn, op Operation) (uint64, error) {
	opID, err := m.nextOperationID.FetchAdd(t, 1)
	if err != nil {
		return 0, err
	}
	data, err := encodeOperation(op)
	if err != nil {
		return 0, err
	}
	if err := m.operationLog.Put(t, encoding.EncodeUint64(opID), data); err != nil {
		return 0, err
	}
	return opID, nil
}

func (m *RwMainEnvironment) insertNew(t *storage.Txn, record types.Record, hashKey []byte) (types.RecordMeta, error) {
	id, err := m.nextID.FetchAdd(t, 1)
	if err != nil {
		return types.RecordMeta{}, err
	}
	opID, err := m.appendOperation(t, Operation{Kind: OperationInsert, RecordID: id, Record: &record})
	if err != nil {
		return types.RecordMeta{}, err
	}
	meta := types.RecordMeta{ID: id, Version: 1, InsertOperationID: opID}
	if err := m.storeRecord(t, id, record); err != nil {
		return types.RecordMeta{}, err
	}
	if err := m.storeMeta(t, meta); err != nil {
		return types.RecordMeta{}, err
	}
	if err := m.primaryKeyToID.Insert(t, hashKey, id); err != nil {
		return types.RecordMeta{}, err
	}
	if _, err := m.liveCount.FetchAdd(t, 1); err != nil {
		return types.RecordMeta{}, err
	}
	if record.Lifetime != nil {
		if err := m.addEvictionEntry(t, id, record.Lifetime.Deadline()); err != nil {
			return types.RecordMeta{}, err
		}
	}
	return meta, nil
}

// replaceRecord rewrites the record under an existing internal id: a
// Delete of the previous insert followed by a fresh Insert, with the
// version bumped.
func (m *RwMainEnvironment) replaceRecord(t *storage.Txn, id uint64, record types.Record) (types.RecordMeta, types.RecordMeta, error) {
	oldMeta, ok, err := m.getMeta(t, id)
	if err != nil {
		return types.RecordMeta{}, types.RecordMeta{}, err
	}
	if !ok {
		return types.RecordMeta{}, types.RecordMeta{}, fmt.Errorf("%w: no metadata for live id %d", ErrInternal, id)
	}
	oldRecord, _, err := m.getRecord(t, id)
	if err != nil {
		return types.RecordMeta{}, types.RecordMeta{}, err
	}
	if _, err := m.appendOperation(t, Operation{Kind: OperationDelete, InsertOperationID: oldMeta.InsertOperationID}); err != nil {
		return types.RecordMeta{}, types.RecordMeta{}, err
	}
	opID, err := m.appendOperation(t, Operation{Kind: OperationInsert, RecordID: id, Record: &record})
	if err != nil {
		return types.RecordMeta{}, types.RecordMeta{}, err
	}
	newMeta := types.RecordMeta{ID: id, Version: oldMeta.Version + 1, InsertOperationID: opID}
	if err := m.storeRecord(t, id, record); err != nil {
		return types.RecordMeta{}, types.RecordMeta{}, err
	}
	if err := m.storeMeta(t, newMeta); err != nil {
		return types.RecordMeta{}, types.RecordMeta{}, err
	}
	if oldRecord.Lifetime != nil {
		if err := m.removeEvictionEntry(t, id, oldRecord.Lifetime.Deadline()); err != nil {
			return types.RecordMeta{}, types.RecordMeta{}, err
		}
	}
	if record.Lifetime != nil {
		if err := m.addEvictionEntry(t, id, record.Lifetime.Deadline()); err != nil {
			return types.RecordMeta{}, types.RecordMeta{}, err
		}
	}
	return oldMeta, newMeta, nil
}

// deleteByID tombstones an internal id: a Delete log entry, the metadata
// marked, the record and primary-key entry removed.
func (m *RwMainEnvironment) deleteByID(t *storage.Txn, id uint64, hashKey []byte) (types.RecordMeta, error) {
	meta, ok, err := m.getMeta(t, id)
	if err != nil {
		return types.RecordMeta{}, err
	}
	if !ok {
		return types.RecordMeta{}, fmt.Errorf("%w: no metadata for live id %d", ErrInternal, id)
	}
	record, _, err := m.getRecord(t, id)
	if err != nil {
		return types.RecordMeta{}, err
	}
	opID, err := m.appendOperation(t, Operation{Kind: OperationDelete, InsertOperationID: meta.InsertOperationID})
	if err != nil {
		return types.RecordMeta{}, err
	}
	deleted := meta
	deleted.DeleteOperationID = &opID
	if err := m.storeMeta(t, deleted); err != nil {
		return types.RecordMeta{}, err
	}
	if err := m.records.Delete(t, encoding.EncodeUint64(id)); err != nil {
		return types.RecordMeta{}, err
	}
	if err := m.primaryKeyToID.Remove(t, hashKey, id); err != nil {
		return types.RecordMeta{}, err
	}
	count, err := m.liveCount.Load(t)
	if err != nil {
		return types.RecordMeta{}, err
	}
	if count == 0 {
		return types.RecordMeta{}, fmt.Errorf("%w: live count underflow", ErrInternal)
	}
	if err := m.liveCount.Store(t, count-1); err != nil {
		return types.RecordMeta{}, err
	}
	if record.Lifetime != nil {
		if err := m.removeEvictionEntry(t, id, record.Lifetime.Deadline()); err != nil {
			return types.RecordMeta{}, err
		}
	}
	return meta, nil
}

func (m *RwMainEnvironment) storeRecord(t *storage.Txn, id uint64, record types.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return m.records.Put(t, encoding.EncodeUint64(id), data)
}

func (m *RwMainEnvironment) storeMeta(t *storage.Txn, meta types.RecordMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return m.metadata.Put(t, encoding.EncodeUint64(meta.ID), data)
}

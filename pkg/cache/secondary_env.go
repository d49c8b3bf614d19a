package cache

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/encoding"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// Stable sub-database names of a secondary environment.
const (
	dbIndex              = "database"
	dbIndexDefinition    = "index_definition"
	dbIndexNextOperation = "next_operation_id"
)

var secondaryDatabaseNames = []string{dbIndex, dbIndexDefinition, dbIndexNextOperation}

// SecondaryEnvironment is one secondary index: a multimap from index key
// to internal id, plus the position in the operation log it has replayed
// up to. Each lives in its own storage environment.
type SecondaryEnvironment struct {
	env    *storage.Env
	def    types.IndexDefinition
	logger zerolog.Logger

	database        storage.Multimap
	definitionSlot  storage.OptionSlot
	nextOperationID storage.Counter

	failed atomic.Bool
}

func newSecondaryEnvironment(env *storage.Env) *SecondaryEnvironment {
	return &SecondaryEnvironment{
		env:             env,
		logger:          log.WithEnvironment(env.Path()),
		database:        storage.NewMultimap(dbIndex),
		definitionSlot:  storage.NewOptionSlot(dbIndexDefinition),
		nextOperationID: storage.NewCounter(dbIndexNextOperation),
	}
}

// Definition returns the index definition this environment serves.
func (s *SecondaryEnvironment) Definition() types.IndexDefinition { return s.def }

// Database exposes the index multimap for executors and tests.
func (s *SecondaryEnvironment) Database() storage.Multimap { return s.database }

// BeginRead starts a snapshot read transaction.
func (s *SecondaryEnvironment) BeginRead() (*storage.Txn, error) { return s.env.BeginRead() }

// Close releases the environment handle.
func (s *SecondaryEnvironment) Close() error { return s.env.Close() }

// MarkFailed takes the index out of service after a permanent error.
// Queries that need it fail with ErrIndexUnavailable; the main
// environment keeps serving.
func (s *SecondaryEnvironment) MarkFailed(err error) {
	s.failed.Store(true)
	s.logger.Error().Err(err).Msg("Secondary index taken out of service")
}

// Failed reports whether the index is out of service.
func (s *SecondaryEnvironment) Failed() bool { return s.failed.Load() }

// CurrentOperationID returns the committed replay position.
func (s *SecondaryEnvironment) CurrentOperationID() (uint64, error) {
	txn, err := s.env.BeginRead()
	if err != nil {
		return 0, err
	}
	defer txn.Discard()
	return s.nextOperationID.Load(txn)
}

// CountEntries returns the number of (key, id) entries, for tests and
// diagnostics.
func (s *SecondaryEnvironment) CountEntries() (uint64, error) {
	txn, err := s.env.BeginRead()
	if err != nil {
		return 0, err
	}
	defer txn.Discard()
	return s.database.Count(txn)
}

func (s *SecondaryEnvironment) loadDefinition(given *types.IndexDefinition, writable bool) error {
	txn, err := s.env.BeginRead()
	if err != nil {
		return err
	}
	data, ok, err := s.definitionSlot.Load(txn)
	txn.Discard()
	if err != nil {
		return err
	}
	if ok {
		var stored types.IndexDefinition
		if err := json.Unmarshal(data, &stored); err != nil {
			return fmt.Errorf("%w: undecodable index definition: %v", storage.ErrCorrupted, err)
		}
		if given != nil && !given.Equal(stored) {
			return IndexDefinitionMismatchError{Path: s.env.Path(), Given: *given, Stored: stored}
		}
		s.def = stored
		return nil
	}
	if given == nil || !writable {
		return fmt.Errorf("no index definition stored at %s", s.env.Path())
	}
	data, err = json.Marshal(given)
	if err != nil {
		return err
	}
	wtxn, err := s.env.WriteTxn()
	if err != nil {
		return err
	}
	if err := s.definitionSlot.Store(wtxn, data); err != nil {
		s.env.Abort()
		return err
	}
	if err := s.env.Commit(); err != nil {
		return err
	}
	s.def = *given
	return nil
}

// RwSecondaryEnvironment is the writable side, driven by the indexing
// thread pool.
type RwSecondaryEnvironment struct {
	SecondaryEnvironment
}

// OpenRwSecondaryEnvironment opens or creates a secondary environment.
// With a non-nil definition the slot is created or checked; with nil the
// stored definition is loaded.
func OpenRwSecondaryEnvironment(path string, given *types.IndexDefinition, opts Options) (*RwSecondaryEnvironment, error) {
	env, err := storage.OpenRw(path, opts.storageOptions())
	if err != nil {
		return nil, err
	}
	if err := env.EnsureDatabases(secondaryDatabaseNames...); err != nil {
		_ = env.Close()
		return nil, err
	}
	s := &RwSecondaryEnvironment{SecondaryEnvironment: *newSecondaryEnvironment(env)}
	if err := s.loadDefinition(given, true); err != nil {
		_ = env.Close()
		return nil, err
	}
	return s, nil
}

// OpenRoSecondaryEnvironment opens an existing secondary environment
// read-only.
func OpenRoSecondaryEnvironment(path string) (*SecondaryEnvironment, error) {
	env, err := storage.OpenRo(path)
	if err != nil {
		return nil, err
	}
	s := newSecondaryEnvironment(env)
	if err := s.loadDefinition(nil, false); err != nil {
		_ = env.Close()
		return nil, err
	}
	return s, nil
}

// Index replays the operation log visible in mainTxn until this index has
// caught up with the main environment. Returns true when up to date, and
// false when an entry is not yet visible in the snapshot (the caller
// reschedules). Progress made before either outcome is committed.
func (s *RwSecondaryEnvironment) Index(main *MainEnvironment, mainTxn *storage.Txn) (bool, error) {
	target, err := main.NextOperationID(mainTxn)
	if err != nil {
		return false, err
	}
	txn, err := s.env.WriteTxn()
	if err != nil {
		return false, err
	}
	for {
		opID, err := s.nextOperationID.Load(txn)
		if err != nil {
			return false, s.abortIndexing(err)
		}
		if opID >= target {
			return true, s.env.Commit()
		}
		op, ok, err := main.GetOperation(mainTxn, opID)
		if err != nil {
			return false, s.abortIndexing(err)
		}
		if !ok {
			// Not visible in this snapshot; try again after the next
			// main commit.
			s.logger.Debug().Uint64("operation_id", opID).Msg("Operation not yet visible")
			return false, s.env.Commit()
		}
		switch op.Kind {
		case OperationInsert:
			for _, key := range indexKeys(*op.Record, s.def) {
				if err := s.database.Insert(txn, key, op.RecordID); err != nil {
					return false, s.abortIndexing(err)
				}
			}
		case OperationDelete:
			insertOp, ok, err := main.GetOperation(mainTxn, op.InsertOperationID)
			if err != nil {
				return false, s.abortIndexing(err)
			}
			if !ok {
				return false, s.env.Commit()
			}
			if insertOp.Kind != OperationInsert || insertOp.Record == nil {
				return false, s.abortIndexing(fmt.Errorf("%w: delete %d references non-insert operation %d", ErrInternal, opID, op.InsertOperationID))
			}
			for _, key := range indexKeys(*insertOp.Record, s.def) {
				if err := s.database.Remove(txn, key, insertOp.RecordID); err != nil {
					return false, s.abortIndexing(err)
				}
			}
		default:
			return false, s.abortIndexing(fmt.Errorf("%w: unknown operation kind %d", ErrInternal, op.Kind))
		}
		if err := s.nextOperationID.Store(txn, opID+1); err != nil {
			return false, s.abortIndexing(err)
		}
	}
}

func (s *RwSecondaryEnvironment) abortIndexing(err error) error {
	s.env.Abort()
	return err
}

// indexKeys derives the index keys a record contributes under a
// definition: one composite key for a sorted-inverted index, one entry
// per distinct token for a full-text index.
func indexKeys(record types.Record, def types.IndexDefinition) [][]byte {
	switch def.Kind {
	case types.IndexFullText:
		value := record.Values[def.Fields[0]]
		if value.IsNull() {
			return nil
		}
		tokens := encoding.Tokenize(value.StringVal)
		keys := make([][]byte, len(tokens))
		for i, tok := range tokens {
			keys[i] = []byte(tok)
		}
		return keys
	default:
		return [][]byte{encoding.CompositeKey(record, def.Fields)}
	}
}

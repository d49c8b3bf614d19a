package types

// UpsertKind tags the outcome of a write operation.
type UpsertKind uint8

const (
	// UpsertInserted: a new record was stored under a fresh internal id.
	UpsertInserted UpsertKind = iota
	// UpsertUpdated: an existing record was replaced; version bumped.
	UpsertUpdated
	// UpsertIgnored: the operation was dropped by conflict resolution.
	UpsertIgnored
)

// UpsertResult reports what a write did. Meta is set for Inserted and
// Updated (the new state); OldMeta is set for Updated only.
type UpsertResult struct {
	Kind    UpsertKind
	Meta    RecordMeta
	OldMeta RecordMeta
}

// OnInsertPolicy selects the behavior when an insert hits an existing
// primary key. The zero value is OnInsertUpdate.
type OnInsertPolicy uint8

const (
	// OnInsertUpdate promotes the insert to an update of the live record.
	OnInsertUpdate OnInsertPolicy = iota
	// OnInsertNothing ignores the insert.
	OnInsertNothing
	// OnInsertPanic surfaces ErrPrimaryKeyExists.
	OnInsertPanic
)

// OnUpdatePolicy selects the behavior when an update misses its primary
// key. The zero value is OnUpdateUpsert.
type OnUpdatePolicy uint8

const (
	// OnUpdateUpsert treats the update as an insert of the new record.
	OnUpdateUpsert OnUpdatePolicy = iota
	// OnUpdateNothing silently skips the update.
	OnUpdateNothing
	// OnUpdatePanic surfaces ErrPrimaryKeyNotFound.
	OnUpdatePanic
)

// OnDeletePolicy selects the behavior when a delete misses its primary
// key. The zero value is OnDeleteNothing.
type OnDeletePolicy uint8

const (
	// OnDeleteNothing succeeds as a no-op.
	OnDeleteNothing OnDeletePolicy = iota
	// OnDeletePanic surfaces ErrPrimaryKeyNotFound.
	OnDeletePanic
)

// ConflictResolution bundles the three per-cache policies.
type ConflictResolution struct {
	OnInsert OnInsertPolicy `json:"on_insert" yaml:"on_insert"`
	OnUpdate OnUpdatePolicy `json:"on_update" yaml:"on_update"`
	OnDelete OnDeletePolicy `json:"on_delete" yaml:"on_delete"`
}

package cache

import (
	"errors"
	"fmt"

	"github.com/cuemby/burrow/pkg/types"
)

var (
	// ErrPrimaryKeyExists: an insert hit a live primary key under the
	// Panic policy.
	ErrPrimaryKeyExists = errors.New("cache: primary key exists")
	// ErrPrimaryKeyNotFound: an update/delete (or a get) missed its
	// primary key.
	ErrPrimaryKeyNotFound = errors.New("cache: primary key not found")
	// ErrIndexUnavailable: the query needs a secondary index that has
	// been taken out of service after a permanent failure.
	ErrIndexUnavailable = errors.New("cache: index unavailable")
	// ErrInternal marks invariant violations. Treat as fatal.
	ErrInternal = errors.New("cache: internal invariant violation")
)

// SchemaMismatchError: the stored schema does not equal the schema given
// at open. Fatal; nothing is read or written past this point.
type SchemaMismatchError struct {
	Path   string
	Given  types.Schema
	Stored types.Schema
}

func (e SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch at %s: given %s, stored %s", e.Path, e.Given, e.Stored)
}

// IndexDefinitionMismatchError: likewise for a secondary environment.
type IndexDefinitionMismatchError struct {
	Path   string
	Given  types.IndexDefinition
	Stored types.IndexDefinition
}

func (e IndexDefinitionMismatchError) Error() string {
	return fmt.Sprintf("index definition mismatch at %s: given %s, stored %s", e.Path, e.Given, e.Stored)
}

package cache

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/burrow/pkg/types"
)

// OperationKind tags an operation log entry.
type OperationKind uint8

const (
	// OperationInsert carries the record and the internal id it was
	// stored under.
	OperationInsert OperationKind = iota
	// OperationDelete points at the insert whose record was removed.
	OperationDelete
)

// Operation is one entry of the append-only operation log. Secondary
// environments replay these to stay consistent with the main environment.
type Operation struct {
	Kind OperationKind `json:"kind"`

	// Insert fields.
	RecordID uint64        `json:"record_id,omitempty"`
	Record   *types.Record `json:"record,omitempty"`

	// Delete fields: the operation id of the insert being undone.
	InsertOperationID uint64 `json:"insert_operation_id,omitempty"`
}

func encodeOperation(op Operation) ([]byte, error) {
	data, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("failed to encode operation: %w", err)
	}
	return data, nil
}

func decodeOperation(data []byte) (Operation, error) {
	var op Operation
	if err := json.Unmarshal(data, &op); err != nil {
		return Operation{}, fmt.Errorf("failed to decode operation: %w", err)
	}
	return op, nil
}

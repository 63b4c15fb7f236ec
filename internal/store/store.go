package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidCollectionPath indicates an empty or malformed collection path.
	ErrInvalidCollectionPath = errors.New("store: invalid collection path")
	// ErrInvalidDocumentID indicates an empty document identifier.
	ErrInvalidDocumentID = errors.New("store: invalid document id")
)

// Fields holds the JSON-compatible field payload of one document.
type Fields map[string]any

// Clone returns a shallow copy of the field payload.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	copied := make(Fields, len(f))
	for key, value := range f {
		copied[key] = value
	}
	return copied
}

// Snapshot is the result of a point read.
type Snapshot struct {
	ID     string
	Exists bool
	fields Fields
}

// NewSnapshot constructs a snapshot for an existing document.
func NewSnapshot(id string, fields Fields) Snapshot {
	return Snapshot{ID: id, Exists: true, fields: fields}
}

// MissingSnapshot constructs a snapshot for a document that was not found.
func MissingSnapshot(id string) Snapshot {
	return Snapshot{ID: id, Exists: false}
}

// Data returns the document fields. It is nil when the document does not exist.
func (s Snapshot) Data() Fields {
	return s.fields
}

// ChangeType enumerates change-feed event revisions.
type ChangeType string

const (
	// ChangeTypeAdded marks a document newly visible to the subscription.
	ChangeTypeAdded ChangeType = "added"
	// ChangeTypeModified marks an updated document.
	ChangeTypeModified ChangeType = "modified"
	// ChangeTypeRemoved marks a deleted document.
	ChangeTypeRemoved ChangeType = "removed"
)

// Event is one change-feed notification for a single document.
type Event struct {
	ID     string
	Change ChangeType
	Fields Fields
}

// FilterOp enumerates supported query predicates.
type FilterOp string

const (
	// FilterOpEqual matches documents whose field equals the value.
	FilterOpEqual FilterOp = "=="
	// FilterOpArrayContains matches documents whose array field contains the value.
	FilterOpArrayContains FilterOp = "array-contains"
)

// Filter restricts a query to documents matching a field predicate.
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

// Order sorts query results by a field value.
type Order struct {
	Field      string
	Descending bool
}

// Store is the remote document store the synchronization core operates
// against: asynchronous point reads, queries, a push change feed, and an
// all-or-nothing multi-record write.
type Store interface {
	NewID() (string, error)
	Get(ctx context.Context, collectionPath, id string) (Snapshot, error)
	Query(ctx context.Context, collectionPath string, filters []Filter, order *Order) ([]Snapshot, error)
	Subscribe(ctx context.Context, collectionPath string, order *Order, onEvents func([]Event), onError func(error)) (func(), error)
	WriteAtomic(ctx context.Context, operations []Operation) error
}

// JoinPath assembles a nested collection path from its segments.
func JoinPath(segments ...string) (string, error) {
	cleaned := make([]string, 0, len(segments))
	for _, segment := range segments {
		trimmed := strings.TrimSpace(segment)
		if trimmed == "" || strings.Contains(trimmed, "/") {
			return "", fmt.Errorf("%w: %q", ErrInvalidCollectionPath, segment)
		}
		cleaned = append(cleaned, trimmed)
	}
	if len(cleaned) == 0 {
		return "", fmt.Errorf("%w: empty", ErrInvalidCollectionPath)
	}
	return strings.Join(cleaned, "/"), nil
}

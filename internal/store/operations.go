package store

import (
	"errors"
	"fmt"
	"strings"
)

// OperationKind enumerates the write primitives accepted by WriteAtomic.
type OperationKind string

const (
	// OperationKindCreate inserts a new document.
	OperationKindCreate OperationKind = "create"
	// OperationKindUpdate merges fields into an existing document.
	OperationKindUpdate OperationKind = "update"
	// OperationKindDelete removes a document.
	OperationKindDelete OperationKind = "delete"
)

var (
	// ErrInvalidOperation indicates a write operation with missing or inconsistent parts.
	ErrInvalidOperation = errors.New("store: invalid write operation")
	// ErrDocumentNotFound indicates an update against a document that does not exist.
	ErrDocumentNotFound = errors.New("store: document not found")
)

// Operation is one record touch inside an atomic multi-record write.
type Operation struct {
	Kind           OperationKind
	CollectionPath string
	DocumentID     string
	Fields         Fields
}

// Validate checks the operation for structural consistency.
func (op Operation) Validate() error {
	if strings.TrimSpace(op.CollectionPath) == "" {
		return fmt.Errorf("%w: missing collection path", ErrInvalidOperation)
	}
	if strings.TrimSpace(op.DocumentID) == "" {
		return fmt.Errorf("%w: missing document id", ErrInvalidOperation)
	}
	switch op.Kind {
	case OperationKindCreate, OperationKindUpdate:
		if len(op.Fields) == 0 {
			return fmt.Errorf("%w: %s requires fields", ErrInvalidOperation, op.Kind)
		}
	case OperationKindDelete:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidOperation, op.Kind)
	}
	return nil
}

// CreateOperation builds a document insert.
func CreateOperation(collectionPath, documentID string, fields Fields) Operation {
	return Operation{Kind: OperationKindCreate, CollectionPath: collectionPath, DocumentID: documentID, Fields: fields}
}

// UpdateOperation builds a field merge against an existing document.
func UpdateOperation(collectionPath, documentID string, fields Fields) Operation {
	return Operation{Kind: OperationKindUpdate, CollectionPath: collectionPath, DocumentID: documentID, Fields: fields}
}

// DeleteOperation builds a document removal.
func DeleteOperation(collectionPath, documentID string) Operation {
	return Operation{Kind: OperationKindDelete, CollectionPath: collectionPath, DocumentID: documentID}
}

type serverTimestampValue struct{}

type incrementValue struct {
	delta int64
}

type arrayUnionValue struct {
	element any
}

type arrayRemoveValue struct {
	element any
}

// ServerTimestamp yields a sentinel resolved to the store's clock at write time.
func ServerTimestamp() any {
	return serverTimestampValue{}
}

// Increment yields a sentinel adding delta to the current numeric field value.
func Increment(delta int64) any {
	return incrementValue{delta: delta}
}

// ArrayUnion yields a sentinel appending element to an array field unless present.
func ArrayUnion(element any) any {
	return arrayUnionValue{element: element}
}

// ArrayRemove yields a sentinel removing element from an array field if present.
func ArrayRemove(element any) any {
	return arrayRemoveValue{element: element}
}

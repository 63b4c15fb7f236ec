package sqlitestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/studyloop/drift/internal/store"
)

var (
	errMissingDatabase = errors.New("sqlitestore: database handle is required")
	// ErrDocumentExists indicates a create against an already-present document id.
	ErrDocumentExists = errors.New("sqlitestore: document already exists")
)

type documentRecord struct {
	CollectionPath  string `gorm:"column:collection_path;primaryKey;size:400;not null"`
	DocID           string `gorm:"column:doc_id;primaryKey;size:190;not null"`
	FieldsJSON      string `gorm:"column:fields_json;type:text;not null"`
	UpdatedAtMillis int64  `gorm:"column:updated_at_ms;not null;index:idx_documents_collection_updated,priority:2"`
}

func (documentRecord) TableName() string {
	return "documents"
}

// Config bundles store construction parameters.
type Config struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Store is a document store backed by a single SQLite database. It provides
// point reads, filtered queries, an in-process change feed, and all-or-nothing
// multi-record writes with server-resolved field operators.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	logger     *zap.Logger
	dispatcher *changeDispatcher
}

// Migrate ensures the document table exists.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&documentRecord{})
}

// New constructs a Store over an existing database handle, ensuring the
// schema is present.
func New(cfg Config) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if err := cfg.Database.AutoMigrate(&documentRecord{}); err != nil {
		return nil, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:         cfg.Database,
		clock:      clock,
		logger:     logger,
		dispatcher: newChangeDispatcher(),
	}, nil
}

// NewID issues a fresh UUIDv7 document identifier.
func (s *Store) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// Get performs a point read.
func (s *Store) Get(ctx context.Context, collectionPath, id string) (store.Snapshot, error) {
	var record documentRecord
	err := s.db.WithContext(ctx).
		Where("collection_path = ? AND doc_id = ?", collectionPath, id).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.MissingSnapshot(id), nil
	}
	if err != nil {
		return store.Snapshot{}, err
	}
	fields, err := decodeFields(record.FieldsJSON)
	if err != nil {
		return store.Snapshot{}, err
	}
	return store.NewSnapshot(record.DocID, fields), nil
}

// Query returns all documents in the collection matching the filters,
// ordered by the requested field.
func (s *Store) Query(ctx context.Context, collectionPath string, filters []store.Filter, order *store.Order) ([]store.Snapshot, error) {
	var records []documentRecord
	err := s.db.WithContext(ctx).
		Where("collection_path = ?", collectionPath).
		Order("updated_at_ms ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	snapshots := make([]store.Snapshot, 0, len(records))
	for _, record := range records {
		fields, err := decodeFields(record.FieldsJSON)
		if err != nil {
			s.logger.Warn("skipping undecodable document",
				zap.String("collection", collectionPath),
				zap.String("doc_id", record.DocID),
				zap.Error(err))
			continue
		}
		matched := true
		for _, filter := range filters {
			if !matchesFilter(fields, filter) {
				matched = false
				break
			}
		}
		if matched {
			snapshots = append(snapshots, store.NewSnapshot(record.DocID, fields))
		}
	}

	if order != nil {
		field := order.Field
		descending := order.Descending
		sort.SliceStable(snapshots, func(i, j int) bool {
			cmp := compareOrderValues(snapshots[i].Data()[field], snapshots[j].Data()[field])
			if descending {
				return cmp > 0
			}
			return cmp < 0
		})
	}
	return snapshots, nil
}

// Subscribe delivers the current collection contents as an added batch and
// then pushes committed changes until the context ends or the returned
// unsubscribe function runs. Subscription faults are reported through
// onError; the feed does not reconnect itself.
func (s *Store) Subscribe(ctx context.Context, collectionPath string, order *store.Order, onEvents func([]store.Event), onError func(error)) (func(), error) {
	if onEvents == nil {
		return nil, fmt.Errorf("sqlitestore: event handler is required")
	}

	subscriber, cleanup := s.dispatcher.register(collectionPath)

	initial, err := s.Query(ctx, collectionPath, nil, order)
	if err != nil {
		cleanup()
		return nil, err
	}
	seed := make([]store.Event, 0, len(initial))
	for _, snapshot := range initial {
		seed = append(seed, store.Event{ID: snapshot.ID, Change: store.ChangeTypeAdded, Fields: snapshot.Data()})
	}

	done := make(chan struct{})
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			close(done)
			cleanup()
		})
	}

	go func() {
		if len(seed) > 0 {
			onEvents(seed)
		}
		for {
			select {
			case <-ctx.Done():
				if onError != nil {
					onError(ctx.Err())
				}
				return
			case <-done:
				return
			case batch := <-subscriber.stream:
				onEvents(batch)
			}
		}
	}()

	return unsubscribe, nil
}

// WriteAtomic applies every operation inside one transaction; partial
// application is never observable. Committed changes are fanned out to the
// collection subscribers afterwards.
func (s *Store) WriteAtomic(ctx context.Context, operations []store.Operation) error {
	if len(operations) == 0 {
		return fmt.Errorf("%w: no operations", store.ErrInvalidOperation)
	}
	for _, op := range operations {
		if err := op.Validate(); err != nil {
			return err
		}
	}

	now := s.clock().UTC().UnixMilli()
	events := make(map[string][]store.Event)

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, op := range operations {
			event, err := s.applyOperation(tx, op, now)
			if err != nil {
				return err
			}
			if event != nil {
				events[op.CollectionPath] = append(events[op.CollectionPath], *event)
			}
		}
		return nil
	})
	if txErr != nil {
		return txErr
	}

	for collectionPath, batch := range events {
		s.dispatcher.publish(collectionPath, batch)
	}
	return nil
}

func (s *Store) applyOperation(tx *gorm.DB, op store.Operation, nowMillis int64) (*store.Event, error) {
	var existing documentRecord
	err := tx.Where("collection_path = ? AND doc_id = ?", op.CollectionPath, op.DocumentID).
		Take(&existing).Error
	found := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	switch op.Kind {
	case store.OperationKindCreate:
		if found {
			return nil, fmt.Errorf("%w: %s/%s", ErrDocumentExists, op.CollectionPath, op.DocumentID)
		}
		fields, err := store.ResolveOperators(store.Fields{}, op.Fields, nowMillis)
		if err != nil {
			return nil, err
		}
		canonical, err := canonicalize(fields)
		if err != nil {
			return nil, err
		}
		encoded, err := encodeFields(canonical)
		if err != nil {
			return nil, err
		}
		record := documentRecord{
			CollectionPath:  op.CollectionPath,
			DocID:           op.DocumentID,
			FieldsJSON:      encoded,
			UpdatedAtMillis: nowMillis,
		}
		if err := tx.Create(&record).Error; err != nil {
			return nil, err
		}
		return &store.Event{ID: op.DocumentID, Change: store.ChangeTypeAdded, Fields: canonical}, nil

	case store.OperationKindUpdate:
		if !found {
			return nil, fmt.Errorf("%w: %s/%s", store.ErrDocumentNotFound, op.CollectionPath, op.DocumentID)
		}
		current, err := decodeFields(existing.FieldsJSON)
		if err != nil {
			return nil, err
		}
		fields, err := store.ResolveOperators(current, op.Fields, nowMillis)
		if err != nil {
			return nil, err
		}
		canonical, err := canonicalize(fields)
		if err != nil {
			return nil, err
		}
		encoded, err := encodeFields(canonical)
		if err != nil {
			return nil, err
		}
		existing.FieldsJSON = encoded
		existing.UpdatedAtMillis = nowMillis
		if err := tx.Save(&existing).Error; err != nil {
			return nil, err
		}
		return &store.Event{ID: op.DocumentID, Change: store.ChangeTypeModified, Fields: canonical}, nil

	case store.OperationKindDelete:
		if !found {
			return nil, nil
		}
		err := tx.Where("collection_path = ? AND doc_id = ?", op.CollectionPath, op.DocumentID).
			Delete(&documentRecord{}).Error
		if err != nil {
			return nil, err
		}
		return &store.Event{ID: op.DocumentID, Change: store.ChangeTypeRemoved}, nil

	default:
		return nil, fmt.Errorf("%w: unknown kind %q", store.ErrInvalidOperation, op.Kind)
	}
}

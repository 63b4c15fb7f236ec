package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultTTL is the freshness window applied when none is configured.
const DefaultTTL = 60 * time.Minute

var (
	errMissingDatabase   = errors.New("cache: database handle is required")
	errMissingStorageKey = errors.New("cache: storage key is required")
)

type entryRecord struct {
	StorageKey       string `gorm:"column:storage_key;primaryKey;size:190;not null"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null"`
	CapturedAtMillis int64  `gorm:"column:captured_at_ms;not null"`
	PartitionKey     string `gorm:"column:partition_key;size:190;not null"`
}

func (entryRecord) TableName() string {
	return "cache_entries"
}

// Migrate ensures the cache schema is present.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&entryRecord{})
}

// Config bundles cache construction parameters. One cache instance owns one
// logical resource identified by StorageKey.
type Config struct {
	Database   *gorm.DB
	StorageKey string
	TTL        time.Duration
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Cache persists a single typed payload with its capture time and partition
// key. It is best-effort: storage failures are logged and swallowed, never
// surfaced as a source of truth.
type Cache struct {
	db         *gorm.DB
	storageKey string
	ttl        time.Duration
	clock      func() time.Time
	logger     *zap.Logger
}

// ReadResult carries a cache hit. SamePartition distinguishes partition
// mismatch from time-based staleness so the caller can decide whether to
// show stale data while revalidating.
type ReadResult struct {
	Payload       json.RawMessage
	SamePartition bool
}

// New constructs a Cache.
func New(cfg Config) (*Cache, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if strings.TrimSpace(cfg.StorageKey) == "" {
		return nil, errMissingStorageKey
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		db:         cfg.Database,
		storageKey: cfg.StorageKey,
		ttl:        ttl,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Write persists the payload with the current time and partition key,
// overwriting any previous entry. Failures are logged and swallowed.
func (c *Cache) Write(ctx context.Context, partitionKey string, payload any) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		c.logger.Warn("cache payload marshal failed",
			zap.String("storage_key", c.storageKey), zap.Error(err))
		return
	}

	record := entryRecord{
		StorageKey:       c.storageKey,
		PayloadJSON:      string(encoded),
		CapturedAtMillis: c.clock().UnixMilli(),
		PartitionKey:     partitionKey,
	}
	err = c.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&record).Error
	if err != nil {
		c.logger.Warn("cache write failed",
			zap.String("storage_key", c.storageKey), zap.Error(err))
	}
}

// Read returns the cached payload when an entry exists and its age does not
// exceed the TTL. Exactly-at-TTL entries are still fresh; staleness requires
// age strictly greater than the window. Read errors report a miss.
func (c *Cache) Read(ctx context.Context, partitionKey string) (ReadResult, bool) {
	var record entryRecord
	err := c.db.WithContext(ctx).
		Where("storage_key = ?", c.storageKey).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ReadResult{}, false
	}
	if err != nil {
		c.logger.Warn("cache read failed",
			zap.String("storage_key", c.storageKey), zap.Error(err))
		return ReadResult{}, false
	}

	age := c.clock().UnixMilli() - record.CapturedAtMillis
	if age > c.ttl.Milliseconds() {
		return ReadResult{}, false
	}

	return ReadResult{
		Payload:       json.RawMessage(record.PayloadJSON),
		SamePartition: record.PartitionKey == partitionKey,
	}, true
}

// Clear removes the entry unconditionally. It is idempotent.
func (c *Cache) Clear(ctx context.Context) {
	err := c.db.WithContext(ctx).
		Where("storage_key = ?", c.storageKey).
		Delete(&entryRecord{}).Error
	if err != nil {
		c.logger.Warn("cache clear failed",
			zap.String("storage_key", c.storageKey), zap.Error(err))
	}
}

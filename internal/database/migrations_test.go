package database

import (
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/studyloop/drift/internal/store/sqlitestore"
)

func TestApplyMigrationsStripsIdpSubjectPrefix(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	if err := sqlitestore.Migrate(database); err != nil {
		testContext.Fatalf("failed to migrate document schema: %v", err)
	}

	seedDocument := "INSERT INTO documents (collection_path, doc_id, fields_json, updated_at_ms) VALUES (?, ?, ?, ?)"
	if err := database.Exec(seedDocument, "users", "google:subject-1", `{"username":"Ada"}`, int64(1000)).Error; err != nil {
		testContext.Fatalf("failed to seed user document: %v", err)
	}
	if err := database.Exec(seedDocument, "posts", "google:post-1", `{"content":"hello"}`, int64(1000)).Error; err != nil {
		testContext.Fatalf("failed to seed post document: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var userDocCount int64
	if err := database.Raw("SELECT COUNT(*) FROM documents WHERE collection_path = 'users' AND doc_id = 'subject-1'").Scan(&userDocCount).Error; err != nil {
		testContext.Fatalf("failed to query rewritten user document: %v", err)
	}
	if userDocCount != 1 {
		testContext.Fatalf("expected user document id to lose the idp prefix, found %d rewritten rows", userDocCount)
	}

	var postDocCount int64
	if err := database.Raw("SELECT COUNT(*) FROM documents WHERE collection_path = 'posts' AND doc_id = 'google:post-1'").Scan(&postDocCount).Error; err != nil {
		testContext.Fatalf("failed to query post document: %v", err)
	}
	if postDocCount != 1 {
		testContext.Fatalf("expected non-user documents to be untouched, found %d rows", postDocCount)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationStripIdpSubjectPrefix).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestApplyMigrationsRunsOnce(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	seedDocument := "INSERT INTO documents (collection_path, doc_id, fields_json, updated_at_ms) VALUES (?, ?, ?, ?)"
	if err := database.Exec(seedDocument, "users", "google:subject-2", `{"username":"Grace"}`, int64(1000)).Error; err != nil {
		testContext.Fatalf("failed to seed user document: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to re-apply migrations: %v", err)
	}

	var untouchedCount int64
	if err := database.Raw("SELECT COUNT(*) FROM documents WHERE collection_path = 'users' AND doc_id = 'google:subject-2'").Scan(&untouchedCount).Error; err != nil {
		testContext.Fatalf("failed to query seeded document: %v", err)
	}
	if untouchedCount != 1 {
		testContext.Fatalf("expected recorded migration to stay applied, found %d prefixed rows", untouchedCount)
	}
}

package db

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Migration represents a database migration
type Migration struct {
	Version string
	Name    string
	SQL     string
}

// MigrationRunner applies versioned SQL files on top of the auto-migrated schema
type MigrationRunner struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewMigrationRunner creates a new migration runner
func NewMigrationRunner(db *gorm.DB, logger *zap.Logger) *MigrationRunner {
	return &MigrationRunner{
		db:     db,
		logger: logger,
	}
}

// MigrationRecord tracks applied migrations
type MigrationRecord struct {
	Version   string    `gorm:"primaryKey;size:64"`
	Name      string    `gorm:"size:255"`
	AppliedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for MigrationRecord
func (MigrationRecord) TableName() string {
	return "schema_migrations"
}

// RunMigrations auto-migrates the models and then applies SQL files from
// migrationsDir when it is set.
func RunMigrations(conn *Connection, migrationsDir string, logger *zap.Logger) error {
	if err := conn.AutoMigrate(); err != nil {
		return fmt.Errorf("failed to auto-migrate models: %w", err)
	}
	logger.Info("schema auto-migrated")

	if migrationsDir == "" {
		return nil
	}
	return NewMigrationRunner(conn.DB(), logger).Run(migrationsDir)
}

// Run executes all pending migrations from a directory
func (r *MigrationRunner) Run(migrationsDir string) error {
	// Ensure migrations table exists
	if err := r.db.AutoMigrate(&MigrationRecord{}); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := r.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	migrations, err := r.readMigrationFiles(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migration files: %w", err)
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}

		r.logger.Info("applying migration",
			zap.String("version", migration.Version),
			zap.String("name", migration.Name))

		if err := r.applyMigration(migration); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
	}

	return nil
}

func (r *MigrationRunner) getAppliedMigrations() (map[string]bool, error) {
	var history []MigrationRecord
	if err := r.db.Find(&history).Error; err != nil {
		return nil, err
	}

	applied := make(map[string]bool, len(history))
	for _, h := range history {
		applied[h.Version] = true
	}
	return applied, nil
}

// readMigrationFiles reads "<version>_<name>.sql" files sorted by version
func (r *MigrationRunner) readMigrationFiles(dir string) ([]Migration, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []Migration
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".sql") {
			continue
		}

		content, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", file.Name(), err)
		}

		name := strings.TrimSuffix(file.Name(), ".sql")
		parts := strings.SplitN(name, "_", 2)
		migrationName := name
		if len(parts) > 1 {
			migrationName = parts[1]
		}

		migrations = append(migrations, Migration{
			Version: parts[0],
			Name:    migrationName,
			SQL:     string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

func (r *MigrationRunner) applyMigration(migration Migration) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(migration.SQL).Error; err != nil {
			return fmt.Errorf("failed to execute SQL: %w", err)
		}

		record := MigrationRecord{
			Version:   migration.Version,
			Name:      migration.Name,
			AppliedAt: time.Now().UTC(),
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}
		return nil
	})
}

// Status returns the applied migrations in version order
func (r *MigrationRunner) Status() ([]MigrationRecord, error) {
	var history []MigrationRecord
	if err := r.db.Order("version ASC").Find(&history).Error; err != nil {
		return nil, err
	}
	return history, nil
}

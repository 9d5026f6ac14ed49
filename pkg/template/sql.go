package template

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yourorg/provision-gateway/pkg/db/models"
)

// SQLStore keeps template documents in the relational database
type SQLStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSQLStore creates a store over the device_templates table
func NewSQLStore(db *gorm.DB, logger *zap.Logger) *SQLStore {
	return &SQLStore{
		db:     db,
		logger: logger,
	}
}

// Get implements Store
func (s *SQLStore) Get(ctx context.Context, key string) (Document, error) {
	return s.first(ctx, "doc_key = ?", key)
}

// FindByModel implements Store
func (s *SQLStore) FindByModel(ctx context.Context, model, ext string) (Document, error) {
	return s.first(ctx, "model_key = ? AND (extension = ? OR file_type = ?)", strings.ToLower(model), ext, ext)
}

// FindAnyByExtension implements Store
func (s *SQLStore) FindAnyByExtension(ctx context.Context, ext string) (Document, error) {
	return s.first(ctx, "extension = ? OR file_type = ?", ext, ext)
}

// Put implements Store
func (s *SQLStore) Put(ctx context.Context, doc Document) error {
	row, err := toRow(doc)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "doc_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"model", "model_key", "extension", "file_type", "body", "fields", "updated_at"}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("failed to store template %q: %w", row.Key, err)
	}
	return nil
}

// Ping implements Store
func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLStore) first(ctx context.Context, query string, args ...interface{}) (Document, error) {
	var row models.TemplateDocument
	err := s.db.WithContext(ctx).Where(query, args...).Order("doc_key").First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	return fromRow(&row), nil
}

func toRow(doc Document) (*models.TemplateDocument, error) {
	key := doc.ID()
	if key == "" {
		return nil, ErrInvalidKey
	}

	row := &models.TemplateDocument{
		Key:       key,
		Model:     doc.Model(),
		ModelKey:  strings.ToLower(doc.Model()),
		Extension: doc.str(FieldExtension),
		FileType:  doc.str(FieldFileType),
		Fields:    datatypes.JSONMap{},
	}
	if body, err := doc.Body(); err == nil {
		row.Body = &body
	}

	for k, v := range doc {
		switch k {
		case FieldID, FieldModel, FieldExtension, FieldFileType, FieldBody, FieldContent:
		default:
			row.Fields[k] = v
		}
	}
	return row, nil
}

func fromRow(row *models.TemplateDocument) Document {
	doc := make(Document, len(row.Fields)+5)
	for k, v := range row.Fields {
		doc[k] = v
	}
	doc[FieldID] = row.Key
	if row.Model != "" {
		doc[FieldModel] = row.Model
	}
	if row.Extension != "" {
		doc[FieldExtension] = row.Extension
	}
	if row.FileType != "" {
		doc[FieldFileType] = row.FileType
	}
	if row.Body != nil {
		doc[FieldBody] = *row.Body
	}
	return doc
}

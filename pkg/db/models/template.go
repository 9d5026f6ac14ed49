package models

import (
	"time"

	"gorm.io/datatypes"
)

// TemplateDocument is a template document kept in the relational store,
// for deployments that run without a document database. Fields holds every
// document field that has no column of its own.
type TemplateDocument struct {
	Key       string            `gorm:"column:doc_key;primaryKey;size:191" json:"_id"`
	Model     string            `gorm:"size:100;index" json:"model"`
	ModelKey  string            `gorm:"size:100;index" json:"-"`
	Extension string            `gorm:"size:16;index" json:"extension,omitempty"`
	FileType  string            `gorm:"size:16;index" json:"file_type,omitempty"`
	Body      *string           `gorm:"type:text" json:"template,omitempty"`
	Fields    datatypes.JSONMap `json:"fields,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// TableName returns the table name for TemplateDocument
func (TemplateDocument) TableName() string {
	return "device_templates"
}

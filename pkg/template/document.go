// Package template holds device configuration templates and the lookup
// strategies that pick one for a device.
package template

import (
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrNotFound is returned when no document matches a lookup
	ErrNotFound = errors.New("template not found")
	// ErrInvalidStructure is returned when a document has no usable body
	ErrInvalidStructure = errors.New("template document has no body")
	// ErrInvalidKey is returned when storing a document without a key
	ErrInvalidKey = errors.New("template document has no key")
)

// Document field names
const (
	FieldID        = "_id"
	FieldModel     = "model"
	FieldExtension = "extension"
	FieldFileType  = "file_type"
	FieldBody      = "template"
	FieldContent   = "content"
)

// Document is a template document as stored in the document store
type Document map[string]interface{}

// ID returns the document key
func (d Document) ID() string {
	switch v := d[FieldID].(type) {
	case string:
		return v
	case primitive.ObjectID:
		return v.Hex()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Model returns the device model the document targets
func (d Document) Model() string {
	return d.str(FieldModel)
}

// Extension returns the declared file extension, preferring "extension"
// over the older "file_type" field.
func (d Document) Extension() string {
	if ext := d.str(FieldExtension); ext != "" {
		return ext
	}
	return d.str(FieldFileType)
}

// HasExtension reports whether either extension field equals ext
func (d Document) HasExtension(ext string) bool {
	return d.str(FieldExtension) == ext || d.str(FieldFileType) == ext
}

// Body returns the template source from "template", or the legacy
// "content" field.
func (d Document) Body() (string, error) {
	for _, field := range []string{FieldBody, FieldContent} {
		if v, ok := d[field]; ok {
			if s, ok := v.(string); ok {
				return s, nil
			}
		}
	}
	return "", ErrInvalidStructure
}

// Clone returns a shallow copy of the document
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func (d Document) str(field string) string {
	s, _ := d[field].(string)
	return s
}

// ExtensionFor derives the template extension from a requested filename.
// Only names ending in ".cfg" map to "cfg"; everything else is "xml".
func ExtensionFor(filename string) string {
	if strings.HasSuffix(strings.ToLower(filename), ".cfg") {
		return "cfg"
	}
	return "xml"
}

package template

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Importer loads template documents from JSON or YAML files into a Store
type Importer struct {
	store  Store
	logger *zap.Logger
}

// NewImporter creates a new template importer
func NewImporter(store Store, logger *zap.Logger) *Importer {
	return &Importer{
		store:  store,
		logger: logger,
	}
}

// Import reads each path, a file or a directory of files, and upserts
// every document found. It returns the number of documents stored.
func (i *Importer) Import(ctx context.Context, paths ...string) (int, error) {
	files, err := expand(paths)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, file := range files {
		docs, err := ReadFile(file)
		if err != nil {
			return count, err
		}

		for _, doc := range docs {
			if err := i.store.Put(ctx, doc); err != nil {
				return count, fmt.Errorf("failed to import %s: %w", file, err)
			}
			count++

			i.logger.Info("template imported",
				zap.String("file", file),
				zap.String("template_key", doc.ID()),
				zap.String("model", doc.Model()),
				zap.String("extension", doc.Extension()))
		}
	}

	return count, nil
}

// ReadFile parses one file holding a single document or a list of them.
// Documents without a key are keyed by their lowercased model.
func ReadFile(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file: %w", err)
	}

	var raw interface{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &raw)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	default:
		return nil, fmt.Errorf("unsupported template file type: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	var items []interface{}
	switch v := raw.(type) {
	case []interface{}:
		items = v
	case map[string]interface{}:
		items = []interface{}{v}
	default:
		return nil, fmt.Errorf("%s: expected a document or a list of documents", path)
	}

	docs := make([]Document, 0, len(items))
	for n, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%s: entry %d is not a document", path, n)
		}
		doc := Document(m)
		if doc.ID() == "" {
			model := strings.ToLower(strings.TrimSpace(doc.Model()))
			if model == "" {
				return nil, fmt.Errorf("%s: entry %d has neither a key nor a model", path, n)
			}
			doc[FieldID] = model
		}
		if _, err := doc.Body(); err != nil {
			return nil, fmt.Errorf("%s: entry %d: %w", path, n, err)
		}
		docs = append(docs, doc)
	}

	return docs, nil
}

func expand(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}

		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read directory %s: %w", p, err)
		}

		var found []string
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			switch strings.ToLower(filepath.Ext(e.Name())) {
			case ".json", ".yaml", ".yml":
				found = append(found, filepath.Join(p, e.Name()))
			}
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}

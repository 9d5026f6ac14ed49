package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// QuickwitConfig represents the audit mirror configuration
type QuickwitConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	IndexID       string        `mapstructure:"index_id"`
	Timeout       time.Duration `mapstructure:"timeout"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// DefaultQuickwitConfig returns default Quickwit configuration
func DefaultQuickwitConfig() *QuickwitConfig {
	return &QuickwitConfig{
		URL:           "http://localhost:7280",
		IndexID:       "provisioning-audit",
		Timeout:       10 * time.Second,
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
	}
}

// QuickwitClient provides HTTP client for Quickwit
type QuickwitClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	indexID    string
}

// NewQuickwitClient creates a new Quickwit client
func NewQuickwitClient(config *QuickwitConfig, logger *zap.Logger) *QuickwitClient {
	return &QuickwitClient{
		baseURL: strings.TrimSuffix(config.URL, "/"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:  logger,
		indexID: config.IndexID,
	}
}

// CreateIndex creates the audit index
func (c *QuickwitClient) CreateIndex(ctx context.Context, config *QuickwitIndexConfig) error {
	data, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal index config: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/api/v1/indexes", c.baseURL),
		bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		c.logger.Info("index already exists", zap.String("index_id", config.IndexID))
		return nil
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to create index: status=%d body=%s", resp.StatusCode, string(body))
	}

	c.logger.Info("index created", zap.String("index_id", config.IndexID))
	return nil
}

// IndexExists checks if an index exists
func (c *QuickwitClient) IndexExists(ctx context.Context, indexID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/v1/indexes/%s", c.baseURL, indexID),
		nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to check index: %w", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK, nil
}

// Ingest sends events as NDJSON to the index
func (c *QuickwitClient) Ingest(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	var buffer bytes.Buffer
	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			c.logger.Error("failed to marshal event", zap.Error(err), zap.String("event_id", event.ID))
			continue
		}
		buffer.Write(data)
		buffer.WriteByte('\n')
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/api/v1/%s/ingest", c.baseURL, c.indexID),
		&buffer)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to ingest events: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to ingest events: status=%d body=%s", resp.StatusCode, string(body))
	}

	return nil
}

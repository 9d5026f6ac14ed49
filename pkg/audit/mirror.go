package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sink receives a copy of every audit write
type Sink interface {
	Log(ctx context.Context, event *Event) error
}

// Mirror ships audit events to Quickwit, batching when BatchSize > 1
type Mirror struct {
	client *QuickwitClient
	logger *zap.Logger
	config *QuickwitConfig

	mu          sync.Mutex
	batch       []Event
	flushTicker *time.Ticker
	stopChan    chan struct{}
	wg          sync.WaitGroup
}

// NewMirror creates a new audit mirror
func NewMirror(client *QuickwitClient, config *QuickwitConfig, logger *zap.Logger) *Mirror {
	m := &Mirror{
		client:   client,
		logger:   logger,
		config:   config,
		batch:    make([]Event, 0, config.BatchSize),
		stopChan: make(chan struct{}),
	}

	if m.batching() {
		m.startBatchProcessor()
	}

	return m
}

func (m *Mirror) batching() bool {
	return m.config.BatchSize > 1
}

// startBatchProcessor starts the background batch processor
func (m *Mirror) startBatchProcessor() {
	interval := m.config.FlushInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	m.flushTicker = time.NewTicker(interval)
	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-m.flushTicker.C:
				if err := m.Flush(context.Background()); err != nil {
					m.logger.Error("failed to flush audit events", zap.Error(err))
				}
			case <-m.stopChan:
				return
			}
		}
	}()
}

// Close stops the mirror and flushes remaining events
func (m *Mirror) Close() error {
	if m.flushTicker != nil {
		m.flushTicker.Stop()
	}

	close(m.stopChan)
	m.wg.Wait()

	return m.Flush(context.Background())
}

// Log queues or sends one event
func (m *Mirror) Log(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if m.batching() {
		return m.addToBatch(ctx, event)
	}

	return m.client.Ingest(ctx, []Event{*event})
}

// addToBatch adds an event to the batch
func (m *Mirror) addToBatch(ctx context.Context, event *Event) error {
	m.mu.Lock()
	m.batch = append(m.batch, *event)
	shouldFlush := len(m.batch) >= m.config.BatchSize
	m.mu.Unlock()

	if shouldFlush {
		return m.Flush(ctx)
	}

	return nil
}

// Flush sends the current batch. On failure the events are kept for the
// next attempt, bounded to ten batches.
func (m *Mirror) Flush(ctx context.Context) error {
	m.mu.Lock()
	if len(m.batch) == 0 {
		m.mu.Unlock()
		return nil
	}

	batch := m.batch
	m.batch = make([]Event, 0, m.config.BatchSize)
	m.mu.Unlock()

	if err := m.client.Ingest(ctx, batch); err != nil {
		m.mu.Lock()
		m.batch = append(batch, m.batch...)
		if limit := 10 * m.config.BatchSize; limit > 0 && len(m.batch) > limit {
			dropped := len(m.batch) - limit
			m.batch = m.batch[dropped:]
			m.logger.Warn("dropped audit events", zap.Int("count", dropped))
		}
		m.mu.Unlock()
		return err
	}

	m.logger.Debug("flushed audit events", zap.Int("count", len(batch)))
	return nil
}

// EnsureIndex creates the audit index when it does not exist
func (m *Mirror) EnsureIndex(ctx context.Context) error {
	exists, err := m.client.IndexExists(ctx, m.config.IndexID)
	if err != nil {
		return fmt.Errorf("failed to check index existence: %w", err)
	}

	if !exists {
		if err := m.client.CreateIndex(ctx, DefaultIndexConfig(m.config.IndexID)); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

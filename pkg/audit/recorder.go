// Package audit records provisioning attempts in the relational store and,
// optionally, mirrors them to a Quickwit index.
package audit

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yourorg/provision-gateway/pkg/db/models"
	"github.com/yourorg/provision-gateway/pkg/metrics"
)

// Entry carries the request facts copied into an audit row
type Entry struct {
	Device      *models.DeviceConfig
	MACAddress  string
	Identifier  string
	Vendor      string
	Model       string
	Version     string
	PublicIP    string
	PrivateIP   string
	Filename    string
	TemplateRef string
	UserAgent   string
	Notes       string
}

// Recorder writes provisioning audit rows. Write failures are logged and
// never returned.
type Recorder struct {
	db      *gorm.DB
	sink    Sink
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewRecorder creates a new recorder. sink and m may be nil.
func NewRecorder(db *gorm.DB, sink Sink, m *metrics.Metrics, logger *zap.Logger) *Recorder {
	return &Recorder{
		db:      db,
		sink:    sink,
		metrics: m,
		logger:  logger,
	}
}

// RecordRejected writes a forbidden row without a device reference
func (r *Recorder) RecordRejected(ctx context.Context, e Entry) {
	row := r.row(e, models.ProvisioningStatusForbidden)
	row.DeviceID = nil

	err := r.db.WithContext(ctx).Create(row).Error
	r.metrics.ObserveRecord(string(row.Status), err)
	if err != nil {
		r.logger.Error("failed to record rejected provisioning",
			zap.String("identifier", e.Identifier),
			zap.Error(err))
		return
	}

	r.mirror(ctx, ActionRejected, row)
}

// Begin writes the ok row for a matched device and returns it for later
// patching. It returns nil when the write failed.
func (r *Recorder) Begin(ctx context.Context, e Entry) *models.Provisioning {
	row := r.row(e, models.ProvisioningStatusOK)

	err := r.db.WithContext(ctx).Create(row).Error
	r.metrics.ObserveRecord(string(row.Status), err)
	if err != nil {
		r.logger.Error("failed to record provisioning",
			zap.String("identifier", e.Identifier),
			zap.Error(err))
		return nil
	}

	r.mirror(ctx, ActionBegin, row)
	return row
}

// Fail patches the status and note of a row written by Begin
func (r *Recorder) Fail(ctx context.Context, rec *models.Provisioning, status models.ProvisioningStatus, note string) {
	r.patch(ctx, ActionFail, rec, map[string]interface{}{
		"status": status,
		"notes":  note,
	})
}

// Complete annotates a row written by Begin once the file was served
func (r *Recorder) Complete(ctx context.Context, rec *models.Provisioning, note string) {
	r.patch(ctx, ActionComplete, rec, map[string]interface{}{
		"notes": note,
	})
}

func (r *Recorder) patch(ctx context.Context, action EventAction, rec *models.Provisioning, updates map[string]interface{}) {
	if rec == nil {
		r.logger.Debug("no provisioning record to update", zap.String("action", string(action)))
		return
	}

	err := r.db.WithContext(ctx).Model(&models.Provisioning{}).
		Where("id = ?", rec.ID).
		UpdateColumns(updates).Error

	status := rec.Status
	if s, ok := updates["status"].(models.ProvisioningStatus); ok {
		status = s
	}
	r.metrics.ObserveRecord(string(status), err)
	if err != nil {
		r.logger.Error("failed to update provisioning record",
			zap.String("record_id", rec.ID),
			zap.String("action", string(action)),
			zap.Error(err))
		return
	}

	rec.Status = status
	if note, ok := updates["notes"].(string); ok {
		rec.Notes = note
	}
	r.mirror(ctx, action, rec)
}

func (r *Recorder) row(e Entry, status models.ProvisioningStatus) *models.Provisioning {
	row := &models.Provisioning{
		ID:          uuid.New().String(),
		MACAddress:  e.MACAddress,
		Identifier:  e.Identifier,
		Vendor:      e.Vendor,
		Model:       e.Model,
		Version:     e.Version,
		PublicIP:    e.PublicIP,
		PrivateIP:   e.PrivateIP,
		Filename:    e.Filename,
		TemplateRef: e.TemplateRef,
		Status:      status,
		UserAgent:   e.UserAgent,
		Notes:       e.Notes,
		CreatedAt:   time.Now().UTC(),
	}
	if e.Device != nil {
		id := e.Device.ID
		row.DeviceID = &id
		if row.MACAddress == "" {
			row.MACAddress = e.Device.MACAddress
		}
		if row.Identifier == "" {
			row.Identifier = e.Device.Identifier
		}
	}

	// Column widths of the provisionings table
	row.MACAddress = truncate(row.MACAddress, 14)
	row.Identifier = truncate(row.Identifier, 100)
	row.Vendor = truncate(row.Vendor, 50)
	row.Model = truncate(row.Model, 50)
	row.Version = truncate(row.Version, 50)
	row.PublicIP = truncate(row.PublicIP, 45)
	row.PrivateIP = truncate(row.PrivateIP, 45)
	row.Filename = truncate(row.Filename, 255)
	row.TemplateRef = truncate(row.TemplateRef, 255)
	row.UserAgent = strings.ToValidUTF8(row.UserAgent, "\uFFFD")
	row.Notes = strings.ToValidUTF8(row.Notes, "\uFFFD")
	return row
}

// truncate limits s to n characters and replaces invalid UTF-8
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func (r *Recorder) mirror(ctx context.Context, action EventAction, row *models.Provisioning) {
	if r.sink == nil {
		return
	}

	event := &Event{
		RecordID:    row.ID,
		Action:      action,
		Status:      string(row.Status),
		MACAddress:  row.MACAddress,
		Identifier:  row.Identifier,
		Vendor:      row.Vendor,
		Model:       row.Model,
		Version:     row.Version,
		PublicIP:    row.PublicIP,
		PrivateIP:   row.PrivateIP,
		Filename:    row.Filename,
		TemplateRef: row.TemplateRef,
		UserAgent:   row.UserAgent,
		Notes:       row.Notes,
	}
	if row.DeviceID != nil {
		event.DeviceID = *row.DeviceID
	}

	if err := r.sink.Log(ctx, event); err != nil {
		r.logger.Warn("failed to mirror audit event",
			zap.String("record_id", row.ID),
			zap.Error(err))
	}
}

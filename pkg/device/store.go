// Package device resolves and mutates device records.
package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yourorg/provision-gateway/pkg/db/models"
	"github.com/yourorg/provision-gateway/pkg/identity"
	"github.com/yourorg/provision-gateway/pkg/origin"
)

var (
	// ErrNotFound is returned when no device matches a lookup
	ErrNotFound = errors.New("device not found")
	// ErrLookupFailed joins ErrNotFound when a lookup could not reach storage
	ErrLookupFailed = errors.New("device lookup failed")
)

// Store persists device records in the relational database
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore creates a new device store
func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// FindByMAC looks up a device by its normalized hardware address
func (s *Store) FindByMAC(ctx context.Context, mac string) (*models.DeviceConfig, error) {
	return s.findOne(ctx, "mac_address = ?", mac)
}

// FindByIdentifier looks up a device by its exact logical identifier
func (s *Store) FindByIdentifier(ctx context.Context, identifier string) (*models.DeviceConfig, error) {
	return s.findOne(ctx, "identifier = ?", identifier)
}

func (s *Store) findOne(ctx context.Context, query string, arg string) (*models.DeviceConfig, error) {
	var device models.DeviceConfig
	err := s.db.WithContext(ctx).Preload("Profile").Where(query, arg).First(&device).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return &device, nil
}

// Create validates and inserts a device, assigning an ID when missing
func (s *Store) Create(ctx context.Context, device *models.DeviceConfig) error {
	if err := device.Validate(); err != nil {
		return err
	}
	if device.ID == "" {
		device.ID = uuid.New().String()
	}
	if err := s.db.WithContext(ctx).Create(device).Error; err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}
	return nil
}

// CreateProfile validates and inserts a profile, assigning an ID when missing
func (s *Store) CreateProfile(ctx context.Context, profile *models.DeviceProfile) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	if profile.ID == "" {
		profile.ID = uuid.New().String()
	}
	if err := s.db.WithContext(ctx).Create(profile).Error; err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}
	return nil
}

// UpdateObservedIPs writes the observed addresses that differ from the
// stored ones. It reports whether anything was written.
func (s *Store) UpdateObservedIPs(ctx context.Context, device *models.DeviceConfig, observed origin.Origin) (bool, error) {
	updates := make(map[string]interface{})
	if observed.PublicIP != "" && deref(device.PublicIP) != observed.PublicIP {
		updates["public_ip"] = observed.PublicIP
	}
	if observed.PrivateIP != "" && deref(device.PrivateIP) != observed.PrivateIP {
		updates["private_ip"] = observed.PrivateIP
	}
	if len(updates) == 0 {
		return false, nil
	}
	updates["updated_at"] = time.Now()

	result := s.db.WithContext(ctx).Model(&models.DeviceConfig{}).
		Where("id = ?", device.ID).
		UpdateColumns(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to update device addresses: %w", result.Error)
	}

	if ip, ok := updates["public_ip"].(string); ok {
		device.PublicIP = &ip
	}
	if ip, ok := updates["private_ip"].(string); ok {
		device.PrivateIP = &ip
	}
	return true, nil
}

// IncrementAttempts bumps the attempt counter in the database itself so
// concurrent requests from the same device never lose an update.
func (s *Store) IncrementAttempts(ctx context.Context, deviceID string) error {
	result := s.db.WithContext(ctx).Model(&models.DeviceConfig{}).
		Where("id = ?", deviceID).
		UpdateColumn("attempts_provisioning", gorm.Expr("attempts_provisioning + ?", 1))
	if result.Error != nil {
		return fmt.Errorf("failed to increment attempts: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkProvisioned records a successful render. The attempt counter is left alone.
func (s *Store) MarkProvisioned(ctx context.Context, deviceID string, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&models.DeviceConfig{}).
		Where("id = ?", deviceID).
		UpdateColumn("provisioned_at", at)
	if result.Error != nil {
		return fmt.Errorf("failed to mark device provisioned: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetAttempts zeroes the attempt counter of the device matching key,
// tried first as a hardware address and then as an identifier. It is an
// administrative action and never called by the download pipeline.
func (s *Store) ResetAttempts(ctx context.Context, key string) (*models.DeviceConfig, error) {
	device, err := s.lookup(ctx, key)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(&models.DeviceConfig{}).
		Where("id = ?", device.ID).
		UpdateColumn("attempts_provisioning", 0).Error; err != nil {
		return nil, fmt.Errorf("failed to reset attempts: %w", err)
	}

	s.logger.Info("device attempts reset",
		zap.String("device_id", device.ID),
		zap.String("identifier", device.Identifier),
		zap.Uint("previous_attempts", device.AttemptsProvisioning))

	device.AttemptsProvisioning = 0
	return device, nil
}

func (s *Store) lookup(ctx context.Context, key string) (*models.DeviceConfig, error) {
	if mac := identity.NormalizeMAC(key); mac != "" {
		device, err := s.FindByMAC(ctx, mac)
		if err == nil {
			return device, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return s.FindByIdentifier(ctx, key)
}

// Get retrieves a device by primary key
func (s *Store) Get(ctx context.Context, id string) (*models.DeviceConfig, error) {
	return s.findOne(ctx, "id = ?", id)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

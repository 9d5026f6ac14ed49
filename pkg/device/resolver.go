package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/provision-gateway/pkg/db/models"
	"github.com/yourorg/provision-gateway/pkg/identity"
)

// Finder is the lookup surface the resolver needs
type Finder interface {
	FindByMAC(ctx context.Context, mac string) (*models.DeviceConfig, error)
	FindByIdentifier(ctx context.Context, identifier string) (*models.DeviceConfig, error)
}

// Resolver maps an announced identity to a device record
type Resolver struct {
	finder  Finder
	logger  *zap.Logger
	timeout time.Duration
}

// NewResolver creates a resolver. A zero timeout leaves lookups bounded
// only by the caller's context.
func NewResolver(finder Finder, timeout time.Duration, logger *zap.Logger) *Resolver {
	return &Resolver{
		finder:  finder,
		logger:  logger,
		timeout: timeout,
	}
}

// Resolve tries the normalized hardware address first and then the raw
// identity as a legacy identifier. A miss is ErrNotFound. When a lookup
// failed in storage the error also matches ErrLookupFailed and carries the
// last storage error.
func (r *Resolver) Resolve(ctx context.Context, rawIdentity string) (*models.DeviceConfig, error) {
	var lastErr error

	if mac := identity.NormalizeMAC(rawIdentity); mac != "" {
		device, err := r.find(ctx, "mac_address", mac, r.finder.FindByMAC)
		if err == nil {
			return device, nil
		}
		if !errors.Is(err, ErrNotFound) {
			lastErr = err
		}
	}

	if rawIdentity != "" {
		device, err := r.find(ctx, "identifier", rawIdentity, r.finder.FindByIdentifier)
		if err == nil {
			return device, nil
		}
		if !errors.Is(err, ErrNotFound) {
			lastErr = err
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w (%w: %w)", ErrNotFound, ErrLookupFailed, lastErr)
	}
	return nil, ErrNotFound
}

func (r *Resolver) find(ctx context.Context, key, value string, fn func(context.Context, string) (*models.DeviceConfig, error)) (*models.DeviceConfig, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	device, err := fn(ctx, value)
	if err == nil {
		return device, nil
	}
	if !errors.Is(err, ErrNotFound) {
		r.logger.Error("device lookup failed",
			zap.String("key", key),
			zap.String("value", value),
			zap.Error(err))
	}
	return nil, err
}

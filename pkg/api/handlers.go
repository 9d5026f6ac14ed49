package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourorg/provision-gateway/internal/version"
	"github.com/yourorg/provision-gateway/pkg/auth"
	"github.com/yourorg/provision-gateway/pkg/provision"
)

// Provisioner is the pipeline behind the device endpoints
type Provisioner interface {
	Download(ctx context.Context, req provision.Request) (*provision.Result, error)
	DeviceInfo(ctx context.Context, req provision.Request) (*provision.DeviceInfo, error)
}

// ReadinessCheck probes one dependency
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handlers contains all API handlers
type Handlers struct {
	logger      *zap.Logger
	provisioner Provisioner
	checks      []ReadinessCheck
}

// NewHandlers creates new API handlers
func NewHandlers(logger *zap.Logger, provisioner Provisioner, checks []ReadinessCheck) *Handlers {
	return &Handlers{
		logger:      logger,
		provisioner: provisioner,
		checks:      checks,
	}
}

// HealthCheck returns the health status
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"version": version.Version,
	})
}

// Readiness pings every dependency
func (h *Handlers) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	results := gin.H{}
	for _, check := range h.checks {
		if err := check.Check(ctx); err != nil {
			h.logger.Warn("readiness check failed",
				zap.String("check", check.Name),
				zap.Error(fmt.Errorf("%w: %w", provision.ErrStorageUnavailable, err)))
			results[check.Name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		results[check.Name] = "ok"
	}

	c.JSON(status, gin.H{
		"ready":  status == http.StatusOK,
		"checks": results,
	})
}

// Download serves a rendered configuration file to a device
func (h *Handlers) Download(c *gin.Context) {
	req := provision.NewRequest(c.Request, c.Param("filename"))

	res, err := h.provisioner.Download(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		c.String(http.StatusForbidden, provision.PublicMessage(err))
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, res.Filename))
	c.Data(http.StatusOK, res.ContentType, []byte(res.Body))
}

// DeviceInfo returns the caller's device record as JSON
func (h *Handlers) DeviceInfo(c *gin.Context) {
	req := provision.NewRequest(c.Request, "")

	info, err := h.provisioner.DeviceInfo(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		if errors.Is(err, provision.ErrDeviceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
			return
		}
		c.JSON(http.StatusForbidden, gin.H{"error": provision.PublicMessage(err)})
		return
	}

	c.JSON(http.StatusOK, info)
}

// WhoAmI echoes the bearer token claims
func (h *Handlers) WhoAmI(c *gin.Context) {
	claims := auth.GetClaimsFromGin(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var expiresAt *time.Time
	if claims.ExpiresAt != nil {
		t := claims.ExpiresAt.Time.UTC()
		expiresAt = &t
	}

	c.JSON(http.StatusOK, gin.H{
		"subject":          claims.Subject,
		"issuer":           claims.Issuer,
		"scopes":           claims.Scopes,
		"type":             claims.Type,
		"expires_at":       expiresAt,
		"is_authenticated": true,
		"token_present":    true,
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	})
}

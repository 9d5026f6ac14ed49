// Package provision runs the device configuration download pipeline.
package provision

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/provision-gateway/pkg/audit"
	"github.com/yourorg/provision-gateway/pkg/db/models"
	"github.com/yourorg/provision-gateway/pkg/device"
	"github.com/yourorg/provision-gateway/pkg/identity"
	"github.com/yourorg/provision-gateway/pkg/metrics"
	"github.com/yourorg/provision-gateway/pkg/origin"
	"github.com/yourorg/provision-gateway/pkg/render"
	"github.com/yourorg/provision-gateway/pkg/template"
)

// Authorizer checks request credentials
type Authorizer interface {
	Authorize(r *http.Request) error
}

// DeviceResolver finds the device named by a descriptor identity
type DeviceResolver interface {
	Resolve(ctx context.Context, rawIdentity string) (*models.DeviceConfig, error)
}

// DeviceUpdater applies the per-request device side effects
type DeviceUpdater interface {
	UpdateObservedIPs(ctx context.Context, d *models.DeviceConfig, o origin.Origin) (bool, error)
	IncrementAttempts(ctx context.Context, id string) error
	MarkProvisioned(ctx context.Context, id string, at time.Time) error
}

// TemplateResolver selects a template document
type TemplateResolver interface {
	Resolve(ctx context.Context, req template.Request) (*template.Resolved, error)
}

// Renderer turns a template body into the file served to the device
type Renderer interface {
	Render(body string, ctx render.Context) (string, error)
}

// Recorder writes audit rows; it never fails
type Recorder interface {
	RecordRejected(ctx context.Context, e audit.Entry)
	Begin(ctx context.Context, e audit.Entry) *models.Provisioning
	Fail(ctx context.Context, rec *models.Provisioning, status models.ProvisioningStatus, note string)
	Complete(ctx context.Context, rec *models.Provisioning, note string)
}

// Timeouts bound side effects, which run detached from the caller
type Timeouts struct {
	SideEffect time.Duration `mapstructure:"side_effect"`
}

// Request is one download or device-info call
type Request struct {
	HTTP      *http.Request
	UserAgent string
	Filename  string
	Origin    origin.Origin
}

// NewRequest captures the fields the pipeline reads from r
func NewRequest(r *http.Request, filename string) Request {
	return Request{
		HTTP:      r,
		UserAgent: r.Header.Get("User-Agent"),
		Filename:  filename,
		Origin:    origin.Observe(r),
	}
}

// Result is a rendered configuration file
type Result struct {
	Body        string
	ContentType string
	Filename    string
	Extension   string
	Device      *models.DeviceConfig
	Template    *template.Resolved
}

// Service runs the provisioning pipeline
type Service struct {
	auth      Authorizer
	devices   DeviceResolver
	updater   DeviceUpdater
	templates TemplateResolver
	renderer  Renderer
	recorder  Recorder
	metrics   *metrics.Metrics
	timeouts  Timeouts
	logger    *zap.Logger
	now       func() time.Time
}

// Deps groups the collaborators of a Service
type Deps struct {
	Auth      Authorizer
	Devices   DeviceResolver
	Updater   DeviceUpdater
	Templates TemplateResolver
	Renderer  Renderer
	Recorder  Recorder
	Metrics   *metrics.Metrics
}

// NewService creates a new provisioning service
func NewService(deps Deps, timeouts Timeouts, logger *zap.Logger) *Service {
	if timeouts.SideEffect <= 0 {
		timeouts.SideEffect = 5 * time.Second
	}
	return &Service{
		auth:      deps.Auth,
		devices:   deps.Devices,
		updater:   deps.Updater,
		templates: deps.Templates,
		renderer:  deps.Renderer,
		recorder:  deps.Recorder,
		metrics:   deps.Metrics,
		timeouts:  timeouts,
		logger:    logger,
		now:       time.Now,
	}
}

// Download authenticates the caller, resolves its device and template and
// renders the configuration file. Every refusal is a *Rejection.
func (s *Service) Download(ctx context.Context, req Request) (*Result, error) {
	desc, d, err := s.admit(ctx, req, true)
	if err != nil {
		return nil, err
	}

	ext := template.ExtensionFor(req.Filename)
	filename := DownloadName(req.Filename, desc.Model, ext)
	templateRef := ""
	if d.Profile != nil {
		templateRef = d.Profile.TemplateRef
	}

	// Each effect is isolated; none of them can change the response.
	s.effect(ctx, "observe-ips", func(ctx context.Context) error {
		_, err := s.updater.UpdateObservedIPs(ctx, d, req.Origin)
		return err
	})
	s.effect(ctx, "increment-attempts", func(ctx context.Context) error {
		return s.updater.IncrementAttempts(ctx, d.ID)
	})
	var rec *models.Provisioning
	s.effect(ctx, "record-begin", func(ctx context.Context) error {
		rec = s.recorder.Begin(ctx, s.entry(req, desc, d, filename, templateRef, ""))
		return nil
	})

	resolved, err := s.templates.Resolve(ctx, template.Request{
		Model:       desc.Model,
		Extension:   ext,
		TemplateRef: templateRef,
	})
	if err != nil {
		return nil, s.templateFailure(ctx, req, desc, rec, err)
	}
	s.metrics.ObserveTemplate(string(resolved.Strategy))

	start := time.Now()
	body, err := s.renderer.Render(resolved.Body, render.BuildContext(d, d.Profile, desc, req.Origin))
	s.metrics.ObserveRender(time.Since(start))
	if err != nil {
		s.logger.Error("template render failed",
			zap.String("identifier", d.Identifier),
			zap.String("template_key", resolved.Key),
			zap.Error(err))
		s.effect(ctx, "record-fail", func(ctx context.Context) error {
			s.recorder.Fail(ctx, rec, models.ProvisioningStatusError, "render failed: "+err.Error())
			return nil
		})
		return nil, s.rejected(reject(ErrRenderError, StageRender, err), req)
	}

	s.effect(ctx, "mark-provisioned", func(ctx context.Context) error {
		return s.updater.MarkProvisioned(ctx, d.ID, s.now().UTC())
	})
	s.effect(ctx, "record-complete", func(ctx context.Context) error {
		s.recorder.Complete(ctx, rec, fmt.Sprintf("served template %s via %s", resolved.Key, resolved.Strategy))
		return nil
	})

	s.metrics.ObserveRequest("ok", "")
	s.logger.Info("configuration served",
		zap.String("identifier", d.Identifier),
		zap.String("mac_address", d.MACAddress),
		zap.String("model", desc.Model),
		zap.String("template_key", resolved.Key),
		zap.String("strategy", string(resolved.Strategy)),
		zap.String("filename", filename))

	return &Result{
		Body:        body,
		ContentType: ContentTypeFor(ext),
		Filename:    filename,
		Extension:   ext,
		Device:      d,
		Template:    resolved,
	}, nil
}

// DeviceInfo authenticates the caller and returns its device record. It
// has no side effects.
func (s *Service) DeviceInfo(ctx context.Context, req Request) (*DeviceInfo, error) {
	_, d, err := s.admit(ctx, req, false)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveRequest("ok", "device-info")
	return NewDeviceInfo(d), nil
}

// admit runs authentication, descriptor parsing and device resolution.
// With record set, refusals are written to the audit log.
func (s *Service) admit(ctx context.Context, req Request, record bool) (identity.Descriptor, *models.DeviceConfig, error) {
	if err := s.auth.Authorize(req.HTTP); err != nil {
		desc, _ := identity.ParseDescriptor(req.UserAgent)
		return desc, nil, s.refuse(ctx, req, desc, reject(ErrAuthFailure, StageAuth, err), "authentication failed", record)
	}

	desc, err := identity.ParseDescriptor(req.UserAgent)
	if err != nil {
		return desc, nil, s.refuse(ctx, req, desc, reject(ErrInvalidDescriptor, StageDescriptor, err), "invalid user agent", record)
	}

	d, err := s.devices.Resolve(ctx, desc.Identity)
	if err != nil {
		if errors.Is(err, device.ErrLookupFailed) {
			err = fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
		return desc, nil, s.refuse(ctx, req, desc, reject(ErrDeviceNotFound, StageDevice, err), "device not found", record)
	}

	return desc, d, nil
}

func (s *Service) refuse(ctx context.Context, req Request, desc identity.Descriptor, rej *Rejection, note string, record bool) error {
	if record {
		s.effect(ctx, "record-rejected", func(ctx context.Context) error {
			e := s.entry(req, desc, nil, SanitizeFilename(req.Filename), "", note)
			e.MACAddress = desc.MAC()
			e.Identifier = desc.Identity
			s.recorder.RecordRejected(ctx, e)
			return nil
		})
	}
	return s.rejected(rej, req)
}

func (s *Service) templateFailure(ctx context.Context, req Request, desc identity.Descriptor, rec *models.Provisioning, err error) error {
	kind, status := ErrTemplateNotFound, models.ProvisioningStatusForbidden
	if errors.Is(err, template.ErrInvalidStructure) {
		kind, status = ErrInvalidTemplateStructure, models.ProvisioningStatusError
	}

	note := fmt.Sprintf("%v (model %s)", kind, desc.Model)
	s.effect(ctx, "record-fail", func(ctx context.Context) error {
		s.recorder.Fail(ctx, rec, status, note)
		return nil
	})
	return s.rejected(reject(kind, StageTemplate, err), req)
}

func (s *Service) rejected(rej *Rejection, req Request) error {
	s.metrics.ObserveRequest("rejected", string(rej.Stage))
	s.logger.Warn("provisioning request rejected",
		zap.String("stage", string(rej.Stage)),
		zap.String("user_agent", req.UserAgent),
		zap.String("public_ip", req.Origin.PublicIP),
		zap.String("private_ip", req.Origin.PrivateIP),
		zap.Error(rej))
	return rej
}

// effect runs fn on a context that survives client disconnects, bounded
// by the side-effect timeout. Failures are logged and counted only.
func (s *Service) effect(parent context.Context, name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.timeouts.SideEffect)
	defer cancel()

	if err := fn(ctx); err != nil {
		s.metrics.ObserveEffectFailure(name)
		s.logger.Error("side effect failed",
			zap.String("effect", name),
			zap.Error(err))
	}
}

func (s *Service) entry(req Request, desc identity.Descriptor, d *models.DeviceConfig, filename, templateRef, note string) audit.Entry {
	return audit.Entry{
		Device:      d,
		Vendor:      desc.Vendor,
		Model:       desc.Model,
		Version:     desc.Version,
		PublicIP:    req.Origin.PublicIP,
		PrivateIP:   req.Origin.PrivateIP,
		Filename:    filename,
		TemplateRef: templateRef,
		UserAgent:   req.UserAgent,
		Notes:       note,
	}
}

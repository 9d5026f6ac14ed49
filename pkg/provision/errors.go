package provision

import (
	"errors"
	"fmt"
)

// Rejection kinds. Every one of them reaches the caller as 403.
var (
	ErrAuthFailure              = errors.New("authentication failed")
	ErrInvalidDescriptor        = errors.New("invalid client descriptor")
	ErrDeviceNotFound           = errors.New("device not found")
	ErrTemplateNotFound         = errors.New("template not found")
	ErrInvalidTemplateStructure = errors.New("invalid template structure")
	ErrRenderError              = errors.New("render error")
	ErrStorageUnavailable       = errors.New("storage unavailable")
)

// Stage names the pipeline step that rejected a request
type Stage string

const (
	StageAuth       Stage = "auth"
	StageDescriptor Stage = "descriptor"
	StageDevice     Stage = "device"
	StageTemplate   Stage = "template"
	StageRender     Stage = "render"
)

// Rejection is returned by Service for every refused request. It matches
// its Kind and its underlying cause with errors.Is.
type Rejection struct {
	Kind  error
	Stage Stage
	Err   error
}

func (r *Rejection) Error() string {
	if r.Err == nil {
		return fmt.Sprintf("%s: %v", r.Stage, r.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", r.Stage, r.Kind, r.Err)
}

// Unwrap exposes both the kind and the cause
func (r *Rejection) Unwrap() []error {
	if r.Err == nil {
		return []error{r.Kind}
	}
	return []error{r.Kind, r.Err}
}

func reject(kind error, stage Stage, err error) *Rejection {
	return &Rejection{Kind: kind, Stage: stage, Err: err}
}

// PublicMessage is the short text sent to a device for err. It never
// includes internal detail.
func PublicMessage(err error) string {
	switch {
	case errors.Is(err, ErrAuthFailure):
		return "Forbidden: Invalid API key"
	case errors.Is(err, ErrInvalidDescriptor):
		return "Forbidden: Invalid User-Agent format"
	case errors.Is(err, ErrDeviceNotFound):
		return "Forbidden: Identifier not found"
	case errors.Is(err, ErrTemplateNotFound):
		return "Configuration template not found for this model and extension"
	case errors.Is(err, ErrInvalidTemplateStructure):
		return "Configuration template is invalid"
	case errors.Is(err, ErrRenderError):
		return "Configuration could not be generated"
	default:
		return "Forbidden"
	}
}

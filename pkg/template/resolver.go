package template

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Strategy names the lookup that produced a template
type Strategy string

// Lookup strategies, tried in this order
const (
	StrategyRef            Strategy = "ref"
	StrategyRefLower       Strategy = "ref_lower"
	StrategyModelExtension Strategy = "model_extension"
	StrategyModelKey       Strategy = "model_key"
	StrategyExtensionOnly  Strategy = "extension_only"
)

// Request describes the template a device needs
type Request struct {
	Model       string
	Extension   string
	TemplateRef string
}

// Resolved is the outcome of a successful lookup
type Resolved struct {
	Document Document
	Key      string
	Ref      string
	Strategy Strategy
	Body     string
}

// ResolverOptions tunes the resolver
type ResolverOptions struct {
	// AllowExtensionFallback enables the last-resort lookup by extension
	// alone, which may hand a device a template for another model.
	AllowExtensionFallback bool
	// Timeout bounds each store round-trip. Zero disables it.
	Timeout time.Duration
}

// Resolver selects the template document for a device
type Resolver struct {
	store  Store
	opts   ResolverOptions
	logger *zap.Logger
}

// NewResolver creates a new template resolver
func NewResolver(store Store, opts ResolverOptions, logger *zap.Logger) *Resolver {
	return &Resolver{
		store:  store,
		opts:   opts,
		logger: logger,
	}
}

type step struct {
	strategy Strategy
	lookup   func(ctx context.Context) (Document, error)
}

// Resolve runs the lookup strategies in order and returns the first hit.
// The first document found is final: if it carries no body the result is
// ErrInvalidStructure, later strategies are not consulted.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Resolved, error) {
	var lastErr error

	for _, s := range r.steps(req) {
		doc, err := r.run(ctx, s)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				r.logger.Error("template lookup failed",
					zap.String("strategy", string(s.strategy)),
					zap.String("model", req.Model),
					zap.Error(err))
				lastErr = err
			}
			continue
		}

		if s.strategy == StrategyExtensionOnly {
			r.logger.Warn("template selected by extension only",
				zap.String("model", req.Model),
				zap.String("extension", req.Extension),
				zap.String("template_key", doc.ID()))
		}

		body, err := doc.Body()
		if err != nil {
			return nil, fmt.Errorf("%w: key %q", err, doc.ID())
		}

		return &Resolved{
			Document: doc,
			Key:      doc.ID(),
			Ref:      req.TemplateRef,
			Strategy: s.strategy,
			Body:     body,
		}, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w (last storage error: %w)", ErrNotFound, lastErr)
	}
	return nil, ErrNotFound
}

func (r *Resolver) steps(req Request) []step {
	var steps []step

	ref := req.TemplateRef
	if ref != "" {
		steps = append(steps, step{StrategyRef, func(ctx context.Context) (Document, error) {
			return r.store.Get(ctx, ref)
		}})
		if lower := strings.ToLower(ref); lower != ref {
			steps = append(steps, step{StrategyRefLower, func(ctx context.Context) (Document, error) {
				return r.store.Get(ctx, lower)
			}})
		}
	}

	model := strings.ToLower(strings.TrimSpace(req.Model))
	if model != "" {
		steps = append(steps,
			step{StrategyModelExtension, func(ctx context.Context) (Document, error) {
				return r.store.FindByModel(ctx, model, req.Extension)
			}},
			step{StrategyModelKey, func(ctx context.Context) (Document, error) {
				return r.store.Get(ctx, model)
			}},
		)
	}

	if r.opts.AllowExtensionFallback {
		steps = append(steps, step{StrategyExtensionOnly, func(ctx context.Context) (Document, error) {
			return r.store.FindAnyByExtension(ctx, req.Extension)
		}})
	}

	return steps
}

func (r *Resolver) run(ctx context.Context, s step) (Document, error) {
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}
	return s.lookup(ctx)
}

// Package policy evaluates tracked requests against operator-configured
// safety filters. Every active filter runs on every request; the engine
// aggregates reasons and flags instead of short-circuiting so a denied
// request still carries the full diagnostic picture.
package policy

import (
	"context"
	"time"

	"github.com/vasudvy/billfrog/internal/models"
	"github.com/vasudvy/billfrog/internal/utils"
)

// Request is the evaluation context for one tracked call.
type Request struct {
	Identity models.Identity
	Provider models.Provider
	Model    string
	Prompt   string

	// ProjectedCost is the estimated cost of this call, computed from the
	// token estimate and the pricing snapshot taken before dispatch.
	ProjectedCost float64
}

// Reason explains one filter's denial.
type Reason struct {
	Filter string `json:"filter"`
	Reason string `json:"reason"`
}

// Decision is the aggregated outcome of a policy evaluation.
type Decision struct {
	Allowed bool           `json:"allowed"`
	Reasons []Reason       `json:"reasons,omitempty"`
	Flags   map[string]any `json:"flags,omitempty"`
}

// FilterSource supplies the active filter set.
type FilterSource interface {
	ListActive(ctx context.Context) ([]*models.SafetyFilter, error)
}

// UsageReader answers the identity-scoped counting queries the rate and
// cost filters need. Counters are derived from persisted records, never
// from shared in-memory state.
type UsageReader interface {
	CountSince(ctx context.Context, identity models.Identity, since time.Time) (int, error)
	CostSince(ctx context.Context, identity models.Identity, since time.Time) (float64, error)
}

// Engine runs the configured filters.
type Engine struct {
	filters FilterSource
	usage   UsageReader
	logger  *utils.Logger
	now     func() time.Time
}

// NewEngine creates a policy engine
func NewEngine(filters FilterSource, usage UsageReader, logger *utils.Logger) *Engine {
	if logger == nil {
		logger = utils.NewLogger("policy")
	}
	return &Engine{
		filters: filters,
		usage:   usage,
		logger:  logger,
		now:     time.Now,
	}
}

// Evaluate runs every active filter against the request. A filter that
// cannot be evaluated (malformed rules, store error) contributes an
// engine_error flag and allows; a bad rule must not take down metering.
func (e *Engine) Evaluate(ctx context.Context, req Request) Decision {
	decision := Decision{Allowed: true, Flags: make(map[string]any)}

	active, err := e.filters.ListActive(ctx)
	if err != nil {
		e.logger.Error("failed to load active filters", "error", err)
		decision.Flags["engine_error"] = err.Error()
		return decision
	}

	for _, filter := range active {
		parsed, err := filter.ParseRules()
		if err != nil {
			e.logger.Error("skipping filter with malformed rules", "filter", filter.Name, "error", err)
			decision.Flags[filter.Name] = map[string]any{"engine_error": err.Error()}
			continue
		}

		var result filterResult
		switch rules := parsed.(type) {
		case *models.ContentRules:
			result = e.evaluateContent(req, rules)
		case *models.CostRules:
			result = e.evaluateCost(ctx, req, rules)
		case *models.RateRules:
			result = e.evaluateRate(ctx, req, rules)
		case *models.ModelRules:
			result = e.evaluateModel(req, rules)
		}

		if len(result.flags) > 0 {
			decision.Flags[filter.Name] = result.flags
		}
		if result.denied {
			decision.Allowed = false
			decision.Reasons = append(decision.Reasons, Reason{Filter: filter.Name, Reason: result.reason})
		}
	}

	if len(decision.Flags) == 0 {
		decision.Flags = nil
	}
	return decision
}

// filterResult is one filter's contribution to the decision.
type filterResult struct {
	denied bool
	reason string
	flags  map[string]any
}

func (r *filterResult) flag(key string, value any) {
	if r.flags == nil {
		r.flags = make(map[string]any)
	}
	r.flags[key] = value
}

func (r *filterResult) deny(reason string) {
	// The first triggered rule within a filter names the denial; later
	// rules still record their flags.
	if !r.denied {
		r.denied = true
		r.reason = reason
	}
}

// startOfDay returns midnight of the current calendar day in the store's
// timezone.
func (e *Engine) startOfDay() time.Time {
	now := e.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)
}

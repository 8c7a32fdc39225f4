// Package tracking sequences one metered completion request end to end:
// validate, policy pre-check, provider dispatch, token and cost
// accounting, quality classification, a single persist, and fire-and-
// forget notification.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/vasudvy/billfrog/internal/archive"
	"github.com/vasudvy/billfrog/internal/models"
	"github.com/vasudvy/billfrog/internal/notify"
	"github.com/vasudvy/billfrog/internal/policy"
	"github.com/vasudvy/billfrog/internal/pricing"
	"github.com/vasudvy/billfrog/internal/providers"
	"github.com/vasudvy/billfrog/internal/quality"
	"github.com/vasudvy/billfrog/internal/storage"
	"github.com/vasudvy/billfrog/internal/tokenizer"
	"github.com/vasudvy/billfrog/internal/utils"
)

// TrackRequest is one metering request from a caller.
type TrackRequest struct {
	UserID     string                   `json:"user_id,omitempty"`
	TeamID     string                   `json:"team_id,omitempty"`
	SessionID  string                   `json:"session_id,omitempty"`
	Provider   models.Provider          `json:"model_provider"`
	Model      string                   `json:"model_name"`
	Prompt     string                   `json:"prompt"`
	Credential string                   `json:"credential"`
	Options    models.GenerationOptions `json:"options,omitempty"`
	Metadata   map[string]any           `json:"metadata,omitempty"`
}

func (r TrackRequest) identity() models.Identity {
	return models.Identity{UserID: r.UserID, TeamID: r.TeamID, SessionID: r.SessionID}
}

// RecordStore is the persistence surface the orchestrator needs.
type RecordStore interface {
	Create(ctx context.Context, record *models.UsageRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.UsageRecord, error)
}

// FallbackPersister retries a failed write asynchronously so a billable
// record is not lost when the store is briefly unavailable.
type FallbackPersister interface {
	Enqueue(ctx context.Context, record *models.UsageRecord) error
}

// PolicyEvaluator runs the safety filter pre-check.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, req policy.Request) policy.Decision
}

// PriceSource supplies the pricing snapshot taken before dispatch.
type PriceSource interface {
	SnapshotFor(ctx context.Context, provider models.Provider, modelName string) (pricing.Snapshot, error)
}

// AdapterSource resolves a provider name to its adapter.
type AdapterSource interface {
	Get(provider models.Provider) (providers.Adapter, error)
}

// Orchestrator runs the tracking state machine.
type Orchestrator struct {
	store      RecordStore
	fallback   FallbackPersister
	policy     PolicyEvaluator
	pricing    PriceSource
	adapters   AdapterSource
	classifier *quality.Classifier
	notifier   notify.Notifier
	archive    archive.Sink
	logger     *utils.Logger
}

// NewOrchestrator wires the pipeline. fallback, notifier and sink may be
// nil; the corresponding steps are skipped.
func NewOrchestrator(
	store RecordStore,
	fallback FallbackPersister,
	policyEngine PolicyEvaluator,
	priceSource PriceSource,
	adapters AdapterSource,
	classifier *quality.Classifier,
	notifier notify.Notifier,
	sink archive.Sink,
	logger *utils.Logger,
) *Orchestrator {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if sink == nil {
		sink = archive.NewNoopSink()
	}
	if logger == nil {
		logger = utils.NewLogger("tracking")
	}
	return &Orchestrator{
		store:      store,
		fallback:   fallback,
		policy:     policyEngine,
		pricing:    priceSource,
		adapters:   adapters,
		classifier: classifier,
		notifier:   notifier,
		archive:    sink,
		logger:     logger,
	}
}

// Track runs one request through the full pipeline. It returns the
// finalized record, a *ValidationError, or a *PolicyDenialError. A failed
// provider call is not an error here: the caller receives a completed
// record with status failure.
func (o *Orchestrator) Track(ctx context.Context, req TrackRequest) (*models.UsageRecord, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	retryCount, err := o.resolveRetry(ctx, req)
	if err != nil {
		return nil, err
	}

	record := &models.UsageRecord{
		ID:         uuid.New(),
		UserID:     req.UserID,
		TeamID:     req.TeamID,
		SessionID:  req.SessionID,
		Provider:   req.Provider,
		ModelName:  req.Model,
		Prompt:     req.Prompt,
		Options:    optionsJSONB(req.Options),
		Status:     models.StatusProcessing,
		RetryCount: retryCount,
		Metadata:   models.JSONB(req.Metadata),
		CreatedAt:  time.Now(),
	}

	// Pricing snapshot before dispatch. A missing entry meters the call
	// at zero cost with a flag rather than rejecting it.
	snapshot, err := o.pricing.SnapshotFor(ctx, req.Provider, req.Model)
	if err != nil {
		o.logger.Error("pricing lookup failed, metering at zero cost", "provider", req.Provider, "model", req.Model, "error", err)
		snapshot = pricing.Snapshot{Missing: true}
	}
	record.CostPerInputToken = snapshot.PerInputToken
	record.CostPerOutputToken = snapshot.PerOutputToken
	if snapshot.Missing {
		record.MergeSafetyFlags(map[string]any{"no_pricing_info": true})
	}

	decision := o.policy.Evaluate(ctx, policy.Request{
		Identity:      req.identity(),
		Provider:      req.Provider,
		Model:         req.Model,
		Prompt:        req.Prompt,
		ProjectedCost: projectedCost(req, snapshot),
	})
	record.MergeSafetyFlags(decision.Flags)
	if !decision.Allowed {
		// Policy rejection is not metered usage; nothing is persisted.
		return nil, &PolicyDenialError{Reasons: decision.Reasons, Flags: decision.Flags}
	}

	adapter, err := o.adapters.Get(req.Provider)
	if err != nil {
		return nil, &ValidationError{Field: "model_provider", Message: err.Error()}
	}

	start := time.Now()
	completion, err := adapter.Complete(ctx, req.Credential, req.Model, req.Prompt, providers.Options{
		MaxTokens:   req.Options.MaxTokens,
		Temperature: req.Options.Temperature,
		TopP:        req.Options.TopP,
	})
	record.ResponseTimeMS = int(time.Since(start).Milliseconds())

	if err != nil {
		// Every upstream failure lands the same way: a failure record
		// with the provider's message, zero tokens, zero cost.
		record.ErrorMessage = err.Error()
		record.ApplyTokens(0, 0)
		if ferr := record.Finalize(models.StatusFailure); ferr != nil {
			o.logger.Error("failed to finalize failure record", "record_id", record.ID, "error", ferr)
		}
		o.persist(ctx, record)
		return record, nil
	}

	record.Response = completion.Text
	inputTokens, outputTokens := o.countTokens(req, completion)
	record.ApplyTokens(inputTokens, outputTokens)

	finalStatus := models.StatusSuccess
	if o.classifier != nil {
		report := o.classifier.Classify(req.Prompt, completion.Text, completion.FinishReason)
		if report.Escalates() {
			record.MergeSafetyFlags(map[string]any{"quality": report.Flags})
			finalStatus = models.StatusHallucination
		}
	}
	if ferr := record.Finalize(finalStatus); ferr != nil {
		o.logger.Error("failed to finalize record", "record_id", record.ID, "error", ferr)
	}

	o.persist(ctx, record)
	return record, nil
}

// TestCredential performs one minimal provider call to report credential
// validity. It never touches usage accounting.
func (o *Orchestrator) TestCredential(ctx context.Context, provider models.Provider, credential, model string) (bool, string) {
	if !models.KnownProvider(provider) {
		return false, "unknown provider"
	}
	if credential == "" {
		return false, "credential is required"
	}
	adapter, err := o.adapters.Get(provider)
	if err != nil {
		return false, err.Error()
	}
	if model == "" {
		model = defaultValidationModel(provider)
	}
	if err := adapter.Validate(ctx, credential, model); err != nil {
		return false, err.Error()
	}
	return true, "credential is valid"
}

func validate(req TrackRequest) error {
	switch {
	case req.Provider == "":
		return &ValidationError{Field: "model_provider", Message: "is required"}
	case !models.KnownProvider(req.Provider):
		return &ValidationError{Field: "model_provider", Message: "unsupported provider"}
	case req.Model == "":
		return &ValidationError{Field: "model_name", Message: "is required"}
	case req.Prompt == "":
		return &ValidationError{Field: "prompt", Message: "is required"}
	case utf8.RuneCountInString(req.Prompt) > models.MaxPromptLength:
		return &ValidationError{Field: "prompt", Message: "exceeds maximum length"}
	case req.Credential == "":
		return &ValidationError{Field: "credential", Message: "is required"}
	}
	return nil
}

// resolveRetry checks the retry_of reference and returns the retry count
// for the new record. A retry of an already successful record is rejected
// before dispatch.
func (o *Orchestrator) resolveRetry(ctx context.Context, req TrackRequest) (int, error) {
	if req.Options.RetryOf == "" {
		return 0, nil
	}

	id, err := uuid.Parse(req.Options.RetryOf)
	if err != nil {
		return 0, &ValidationError{Field: "options.retry_of", Message: "not a valid record id"}
	}

	original, err := o.store.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, &ValidationError{Field: "options.retry_of", Message: "referenced record not found"}
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve retry reference %s: %w", id, err)
	}
	if original.Status == models.StatusSuccess {
		return 0, &ValidationError{Field: "options.retry_of", Message: "cannot retry a successful request"}
	}
	return original.RetryCount + 1, nil
}

// countTokens prefers provider-reported usage and falls back to the
// estimator when the provider did not report counts.
func (o *Orchestrator) countTokens(req TrackRequest, completion *providers.Completion) (int, int) {
	if completion.Usage != nil {
		return completion.Usage.InputTokens, completion.Usage.OutputTokens
	}
	return tokenizer.Estimate(req.Prompt, req.Provider), tokenizer.Estimate(completion.Text, req.Provider)
}

// projectedCost estimates the worst-case cost of the call for the cost
// filter. Output is projected at the caller's max_tokens when set,
// otherwise at the size of the prompt.
func projectedCost(req TrackRequest, snapshot pricing.Snapshot) float64 {
	inputTokens := tokenizer.Estimate(req.Prompt, req.Provider)
	outputTokens := req.Options.MaxTokens
	if outputTokens <= 0 {
		outputTokens = inputTokens
	}
	return float64(inputTokens)*snapshot.PerInputToken + float64(outputTokens)*snapshot.PerOutputToken
}

// persist writes the finalized record exactly once, falling back to the
// async retry queue when the store is unavailable, then broadcasts it.
// Losing a successful, billable call silently is worse than a duplicate.
func (o *Orchestrator) persist(ctx context.Context, record *models.UsageRecord) {
	if err := o.store.Create(ctx, record); err != nil {
		o.logger.Error("failed to persist usage record", "record_id", record.ID, "error", err)
		if o.fallback != nil {
			if qerr := o.fallback.Enqueue(ctx, record); qerr != nil {
				o.logger.Error("failed to queue record for retry", "record_id", record.ID, "error", qerr)
			}
		}
	}

	o.notifier.Publish(ctx, record)
	o.archive.Enqueue(record)
}

func optionsJSONB(opts models.GenerationOptions) models.JSONB {
	out := models.JSONB{}
	if opts.MaxTokens > 0 {
		out["max_tokens"] = opts.MaxTokens
	}
	if opts.Temperature > 0 {
		out["temperature"] = opts.Temperature
	}
	if opts.TopP > 0 {
		out["top_p"] = opts.TopP
	}
	if opts.RetryOf != "" {
		out["retry_of"] = opts.RetryOf
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func defaultValidationModel(provider models.Provider) string {
	switch provider {
	case models.ProviderOpenAI:
		return "gpt-3.5-turbo"
	case models.ProviderAnthropic:
		return "claude-3-haiku-20240307"
	case models.ProviderGoogle:
		return "gemini-pro"
	}
	return ""
}

package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vasudvy/billfrog/internal/models"
	"github.com/vasudvy/billfrog/internal/policy"
	"github.com/vasudvy/billfrog/internal/pricing"
	"github.com/vasudvy/billfrog/internal/providers"
	"github.com/vasudvy/billfrog/internal/quality"
	"github.com/vasudvy/billfrog/internal/storage"
)

type fakeStore struct {
	mu        sync.Mutex
	records   []*models.UsageRecord
	createErr error
	getErr    error
}

func (s *fakeStore) Create(ctx context.Context, record *models.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.records = append(s.records, record)
	return nil
}

func (s *fakeStore) GetByID(ctx context.Context, id uuid.UUID) (*models.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	for _, r := range s.records {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// CountSince and CostSince let the fake store double as the policy
// engine's usage reader.
func (s *fakeStore) CountSince(ctx context.Context, identity models.Identity, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, r := range s.records {
		if r.UserID == identity.UserID && r.TeamID == identity.TeamID && !r.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) CostSince(ctx context.Context, identity models.Identity, since time.Time) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0.0
	for _, r := range s.records {
		if r.UserID == identity.UserID && r.TeamID == identity.TeamID && !r.CreatedAt.Before(since) {
			total += r.TotalCost
		}
	}
	return total, nil
}

type fakeFallback struct {
	mu       sync.Mutex
	enqueued []*models.UsageRecord
}

func (f *fakeFallback) Enqueue(ctx context.Context, record *models.UsageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, record)
	return nil
}

type fakeAdapter struct {
	name        models.Provider
	completion  *providers.Completion
	completeErr error
	validateErr error

	mu            sync.Mutex
	completeCalls int
	validateCalls int
}

func (a *fakeAdapter) Name() models.Provider { return a.name }

func (a *fakeAdapter) Complete(ctx context.Context, credential, model, prompt string, opts providers.Options) (*providers.Completion, error) {
	a.mu.Lock()
	a.completeCalls++
	a.mu.Unlock()
	if a.completeErr != nil {
		return nil, a.completeErr
	}
	return a.completion, nil
}

func (a *fakeAdapter) Validate(ctx context.Context, credential, model string) error {
	a.mu.Lock()
	a.validateCalls++
	a.mu.Unlock()
	return a.validateErr
}

type staticPricing struct {
	snapshot pricing.Snapshot
	err      error
}

func (p *staticPricing) SnapshotFor(ctx context.Context, provider models.Provider, modelName string) (pricing.Snapshot, error) {
	return p.snapshot, p.err
}

type allowAllPolicy struct{}

func (allowAllPolicy) Evaluate(ctx context.Context, req policy.Request) policy.Decision {
	return policy.Decision{Allowed: true}
}

type staticFilters struct {
	filters []*models.SafetyFilter
}

func (s *staticFilters) ListActive(ctx context.Context) ([]*models.SafetyFilter, error) {
	return s.filters, nil
}

// harness bundles the fakes behind an orchestrator with sane defaults.
type harness struct {
	store        *fakeStore
	fallback     *fakeFallback
	adapter      *fakeAdapter
	orchestrator *Orchestrator
}

type harnessOptions struct {
	adapter  *fakeAdapter
	pricing  PriceSource
	policy   PolicyEvaluator
	filters  []*models.SafetyFilter
	storeErr error
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()

	store := &fakeStore{createErr: opts.storeErr}
	fallback := &fakeFallback{}

	adapter := opts.adapter
	if adapter == nil {
		adapter = &fakeAdapter{
			name: models.ProviderOpenAI,
			completion: &providers.Completion{
				Text:         "Hi there",
				FinishReason: "stop",
				Usage:        &providers.TokenUsage{InputTokens: 2, OutputTokens: 3},
			},
		}
	}

	priceSource := opts.pricing
	if priceSource == nil {
		priceSource = &staticPricing{snapshot: pricing.Snapshot{
			PerInputToken:  0.001 / 1000,
			PerOutputToken: 0.002 / 1000,
			Currency:       "USD",
		}}
	}

	var evaluator PolicyEvaluator
	switch {
	case opts.policy != nil:
		evaluator = opts.policy
	case opts.filters != nil:
		evaluator = policy.NewEngine(&staticFilters{filters: opts.filters}, store, nil)
	default:
		evaluator = allowAllPolicy{}
	}

	classifier, err := quality.NewClassifier(quality.DefaultConfig())
	if err != nil {
		t.Fatalf("NewClassifier returned error: %v", err)
	}

	return &harness{
		store:    store,
		fallback: fallback,
		adapter:  adapter,
		orchestrator: NewOrchestrator(
			store,
			fallback,
			evaluator,
			priceSource,
			providers.NewRegistry(adapter),
			classifier,
			nil,
			nil,
			nil,
		),
	}
}

func validRequest() TrackRequest {
	return TrackRequest{
		UserID:     "alice",
		TeamID:     "research",
		Provider:   models.ProviderOpenAI,
		Model:      "gpt-3.5-turbo",
		Prompt:     "Hello",
		Credential: "sk-test",
	}
}

func TestTrackSuccess(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	record, err := h.orchestrator.Track(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Track returned error: %v", err)
	}

	if record.Status != models.StatusSuccess {
		t.Errorf("status = %s, want success", record.Status)
	}
	if record.Response != "Hi there" {
		t.Errorf("response = %q", record.Response)
	}
	if record.InputTokens != 2 || record.OutputTokens != 3 || record.TotalTokens != 5 {
		t.Errorf("tokens = %d/%d/%d, want 2/3/5", record.InputTokens, record.OutputTokens, record.TotalTokens)
	}
	wantCost := 2*(0.001/1000) + 3*(0.002/1000)
	if math.Abs(record.TotalCost-wantCost) > 1e-12 {
		t.Errorf("total cost = %v, want %v", record.TotalCost, wantCost)
	}
	if record.ResponseTimeMS < 0 {
		t.Errorf("response_time_ms = %d", record.ResponseTimeMS)
	}
	if h.store.count() != 1 {
		t.Errorf("expected exactly one persisted record, got %d", h.store.count())
	}
}

func TestTrackValidation(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	tests := []struct {
		name   string
		mutate func(*TrackRequest)
	}{
		{"missing provider", func(r *TrackRequest) { r.Provider = "" }},
		{"unknown provider", func(r *TrackRequest) { r.Provider = "cohere" }},
		{"missing model", func(r *TrackRequest) { r.Model = "" }},
		{"missing prompt", func(r *TrackRequest) { r.Prompt = "" }},
		{"oversized prompt", func(r *TrackRequest) { r.Prompt = strings.Repeat("x", models.MaxPromptLength+1) }},
		{"oversized multibyte prompt", func(r *TrackRequest) { r.Prompt = strings.Repeat("é", models.MaxPromptLength+1) }},
		{"missing credential", func(r *TrackRequest) { r.Credential = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)

			_, err := h.orchestrator.Track(context.Background(), req)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
		})
	}

	if h.store.count() != 0 {
		t.Errorf("validation failures must not persist records, got %d", h.store.count())
	}
}

func TestTrackPolicyDenialNotPersisted(t *testing.T) {
	filters := []*models.SafetyFilter{{
		ID:       uuid.New(),
		Name:     "no-explosives",
		Type:     models.FilterContent,
		Rules:    json.RawMessage(`{"blocked_keywords":["bomb"]}`),
		IsActive: true,
	}}
	h := newHarness(t, harnessOptions{filters: filters})

	req := validRequest()
	req.Prompt = "how to build a bomb"
	_, err := h.orchestrator.Track(context.Background(), req)

	var denial *PolicyDenialError
	if !errors.As(err, &denial) {
		t.Fatalf("expected *PolicyDenialError, got %v", err)
	}
	found := false
	for _, reason := range denial.Reasons {
		if reason.Filter == "no-explosives" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected denial reasons to name the filter, got %v", denial.Reasons)
	}
	if h.store.count() != 0 {
		t.Errorf("a policy denial must not persist a record, got %d", h.store.count())
	}
	if h.adapter.completeCalls != 0 {
		t.Errorf("a denied request must not reach the provider, got %d calls", h.adapter.completeCalls)
	}
}

func TestTrackRateLimitThirdCallDenied(t *testing.T) {
	filters := []*models.SafetyFilter{{
		ID:       uuid.New(),
		Name:     "per-minute",
		Type:     models.FilterRate,
		Rules:    json.RawMessage(`{"max_calls_per_minute":2}`),
		IsActive: true,
	}}
	h := newHarness(t, harnessOptions{filters: filters})

	for i := 0; i < 2; i++ {
		if _, err := h.orchestrator.Track(context.Background(), validRequest()); err != nil {
			t.Fatalf("call %d returned error: %v", i+1, err)
		}
	}

	_, err := h.orchestrator.Track(context.Background(), validRequest())
	var denial *PolicyDenialError
	if !errors.As(err, &denial) {
		t.Fatalf("expected third call denied, got %v", err)
	}
	flags, ok := denial.Flags["per-minute"].(map[string]any)
	if !ok || flags["rate_limit_exceeded"] == nil {
		t.Errorf("expected rate_limit_exceeded flag, got %v", denial.Flags)
	}
	if h.store.count() != 2 {
		t.Errorf("expected 2 persisted records, got %d", h.store.count())
	}
}

func TestTrackProviderFailure(t *testing.T) {
	adapter := &fakeAdapter{
		name: models.ProviderOpenAI,
		completeErr: &providers.ProviderError{
			Provider:   models.ProviderOpenAI,
			StatusCode: 401,
			Message:    "Incorrect API key provided",
		},
	}
	h := newHarness(t, harnessOptions{adapter: adapter})

	record, err := h.orchestrator.Track(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("a provider failure must return a record, got error %v", err)
	}

	if record.Status != models.StatusFailure {
		t.Errorf("status = %s, want failure", record.Status)
	}
	if !strings.Contains(record.ErrorMessage, "Incorrect API key provided") {
		t.Errorf("error message %q does not preserve the provider message", record.ErrorMessage)
	}
	if record.TotalTokens != 0 || record.TotalCost != 0 {
		t.Errorf("failure must carry zero tokens and cost, got %d/%v", record.TotalTokens, record.TotalCost)
	}
	if h.store.count() != 1 {
		t.Errorf("failures are metered, expected 1 record, got %d", h.store.count())
	}
}

func TestTrackHallucinationEscalation(t *testing.T) {
	longResponse := strings.Repeat("The committee unanimously approved the proposal during its session. ", 10)
	adapter := &fakeAdapter{
		name:       models.ProviderOpenAI,
		completion: &providers.Completion{Text: longResponse, FinishReason: "stop"},
	}
	h := newHarness(t, harnessOptions{adapter: adapter})

	req := validRequest()
	req.Prompt = "Summarize."
	record, err := h.orchestrator.Track(context.Background(), req)
	if err != nil {
		t.Fatalf("Track returned error: %v", err)
	}

	if record.Status != models.StatusHallucination {
		t.Errorf("status = %s, want hallucination", record.Status)
	}
	if record.SafetyFlags["quality"] == nil {
		t.Errorf("expected quality flags on the record, got %v", record.SafetyFlags)
	}
	if record.TotalCost <= 0 {
		t.Error("an escalated call still incurred cost")
	}
}

func TestTrackEstimatorFallback(t *testing.T) {
	adapter := &fakeAdapter{
		name:       models.ProviderOpenAI,
		completion: &providers.Completion{Text: "Hello back to you", FinishReason: "stop"},
	}
	h := newHarness(t, harnessOptions{adapter: adapter})

	record, err := h.orchestrator.Track(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Track returned error: %v", err)
	}

	// "Hello" is one word at the openai factor 1.3, "Hello back to you"
	// is four words.
	if record.InputTokens != 2 {
		t.Errorf("input tokens = %d, want 2", record.InputTokens)
	}
	if record.OutputTokens != 6 {
		t.Errorf("output tokens = %d, want 6", record.OutputTokens)
	}
	if record.TotalTokens != record.InputTokens+record.OutputTokens {
		t.Errorf("total tokens %d != %d + %d", record.TotalTokens, record.InputTokens, record.OutputTokens)
	}
}

func TestTrackMissingPricing(t *testing.T) {
	h := newHarness(t, harnessOptions{
		pricing: &staticPricing{snapshot: pricing.Snapshot{Missing: true, Currency: "USD"}},
	})

	record, err := h.orchestrator.Track(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Track returned error: %v", err)
	}

	if record.TotalCost != 0 {
		t.Errorf("missing pricing must meter at zero cost, got %v", record.TotalCost)
	}
	if record.SafetyFlags["no_pricing_info"] != true {
		t.Errorf("expected no_pricing_info flag, got %v", record.SafetyFlags)
	}
	if record.Status != models.StatusSuccess {
		t.Errorf("status = %s, want success", record.Status)
	}
}

func TestTrackStorageFallback(t *testing.T) {
	h := newHarness(t, harnessOptions{storeErr: errors.New("connection refused")})

	record, err := h.orchestrator.Track(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("a storage failure must not fail the response, got %v", err)
	}
	if record.Status != models.StatusSuccess {
		t.Errorf("status = %s, want success", record.Status)
	}
	if len(h.fallback.enqueued) != 1 {
		t.Fatalf("expected the record queued for retry, got %d", len(h.fallback.enqueued))
	}
	if h.fallback.enqueued[0].ID != record.ID {
		t.Error("queued record does not match the returned record")
	}
}

func TestTrackRetrySemantics(t *testing.T) {
	failing := &fakeAdapter{
		name:        models.ProviderOpenAI,
		completeErr: &providers.ProviderError{Provider: models.ProviderOpenAI, Message: "quota exceeded"},
	}
	h := newHarness(t, harnessOptions{adapter: failing})

	original, err := h.orchestrator.Track(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Track returned error: %v", err)
	}
	if original.Status != models.StatusFailure {
		t.Fatalf("setup: expected failure record, got %s", original.Status)
	}

	// Retry the failed call; the adapter now succeeds.
	h.adapter.completeErr = nil
	h.adapter.completion = &providers.Completion{
		Text:         "Hi there",
		FinishReason: "stop",
		Usage:        &providers.TokenUsage{InputTokens: 2, OutputTokens: 3},
	}

	req := validRequest()
	req.Options.RetryOf = original.ID.String()
	retry, err := h.orchestrator.Track(context.Background(), req)
	if err != nil {
		t.Fatalf("retry returned error: %v", err)
	}

	if retry.ID == original.ID {
		t.Error("a retry must be a new record, not a mutation of the original")
	}
	if retry.RetryCount != original.RetryCount+1 {
		t.Errorf("retry count = %d, want %d", retry.RetryCount, original.RetryCount+1)
	}
	if retry.Options["retry_of"] != original.ID.String() {
		t.Errorf("expected retry_of in options, got %v", retry.Options)
	}
	if h.store.count() != 2 {
		t.Errorf("expected 2 records after retry, got %d", h.store.count())
	}
}

func TestTrackRetryOfSuccessRejected(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	original, err := h.orchestrator.Track(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Track returned error: %v", err)
	}
	if original.Status != models.StatusSuccess {
		t.Fatalf("setup: expected success record, got %s", original.Status)
	}
	callsBefore := h.adapter.completeCalls

	req := validRequest()
	req.Options.RetryOf = original.ID.String()
	_, err = h.orchestrator.Track(context.Background(), req)

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if h.adapter.completeCalls != callsBefore {
		t.Error("a rejected retry must not reach the provider")
	}
}

func TestTrackRetryOfUnknownRecord(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	req := validRequest()
	req.Options.RetryOf = uuid.New().String()
	if _, err := h.orchestrator.Track(context.Background(), req); err == nil {
		t.Error("expected error for retry of unknown record")
	}

	req.Options.RetryOf = "not-a-uuid"
	if _, err := h.orchestrator.Track(context.Background(), req); err == nil {
		t.Error("expected error for malformed retry_of")
	}
}

func TestTrackRetryLookupFailure(t *testing.T) {
	// A transient store failure while resolving retry_of is not the
	// caller's fault and must not be reported as a validation error.
	h := newHarness(t, harnessOptions{})
	h.store.getErr = errors.New("connection refused")

	req := validRequest()
	req.Options.RetryOf = uuid.New().String()

	_, err := h.orchestrator.Track(context.Background(), req)
	if err == nil {
		t.Fatal("expected error when the retry lookup fails")
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		t.Fatalf("store failure must not surface as *ValidationError, got %v", err)
	}
}

func TestTrackPromptLimitCountsCharacters(t *testing.T) {
	// The prompt bound is 50000 characters, not bytes. A prompt of
	// exactly the limit in two-byte runes must pass validation.
	h := newHarness(t, harnessOptions{})

	req := validRequest()
	req.Prompt = strings.Repeat("é", models.MaxPromptLength)

	record, err := h.orchestrator.Track(context.Background(), req)
	if err != nil {
		t.Fatalf("a %d-character prompt is within the limit, got %v", models.MaxPromptLength, err)
	}
	if record.Status != models.StatusSuccess && record.Status != models.StatusHallucination {
		t.Errorf("expected a completed record, got status %s", record.Status)
	}
}

func TestTestCredentialNeverPersists(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	valid, msg := h.orchestrator.TestCredential(context.Background(), models.ProviderOpenAI, "sk-test", "")
	if !valid {
		t.Errorf("expected valid credential, got %q", msg)
	}
	if h.adapter.validateCalls != 1 {
		t.Errorf("expected one validation call, got %d", h.adapter.validateCalls)
	}
	if h.store.count() != 0 {
		t.Errorf("testCredential must not persist records, got %d", h.store.count())
	}

	h.adapter.validateErr = &providers.ProviderError{Provider: models.ProviderOpenAI, StatusCode: 401, Message: "invalid API key"}
	valid, msg = h.orchestrator.TestCredential(context.Background(), models.ProviderOpenAI, "sk-bad", "")
	if valid {
		t.Error("expected invalid credential")
	}
	if !strings.Contains(msg, "invalid API key") {
		t.Errorf("expected provider message preserved, got %q", msg)
	}
	if h.store.count() != 0 {
		t.Errorf("testCredential must not persist records, got %d", h.store.count())
	}
}

func TestTrackStatusTransitionsOnce(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	record, err := h.orchestrator.Track(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Track returned error: %v", err)
	}

	if err := record.Finalize(models.StatusFailure); err == nil {
		t.Error("a finalized record must reject further transitions")
	}
}

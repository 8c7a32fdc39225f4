// Package pricing resolves the current per-token prices for a
// (provider, model) pair. Prices are an append-only history: updating a
// pair deactivates the old entry and inserts a new one, so records that
// snapshotted earlier prices keep their cost basis.
package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/vasudvy/billfrog/internal/models"
	"github.com/vasudvy/billfrog/internal/storage"
)

// ErrNoPricing mirrors the storage sentinel so callers outside the
// storage package can test for it without importing storage.
var ErrNoPricing = storage.ErrNoPricing

// Snapshot is the per-token price pair captured at call time.
type Snapshot struct {
	PerInputToken  float64
	PerOutputToken float64
	Currency       string
	// Missing is true when no active entry existed; cost computations
	// proceed at zero and the record carries a no_pricing_info flag.
	Missing bool
}

// EntrySource is the slice of the pricing repository the service needs.
type EntrySource interface {
	ActiveEntry(ctx context.Context, provider models.Provider, modelName string) (*models.PricingEntry, error)
	Update(ctx context.Context, entry *models.PricingEntry) error
	List(ctx context.Context, provider models.Provider) ([]*models.PricingEntry, error)
}

// Service fronts the pricing repository with a short-lived cache.
type Service struct {
	repo  EntrySource
	cache *storage.LRUCache
}

// NewService creates a pricing service
func NewService(repo EntrySource, cache *storage.LRUCache) *Service {
	return &Service{repo: repo, cache: cache}
}

// Lookup returns the most recent active entry for (provider, model).
// Returns ErrNoPricing when none exists.
func (s *Service) Lookup(ctx context.Context, provider models.Provider, modelName string) (*models.PricingEntry, error) {
	key := cacheKey(provider, modelName)
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			return cached.(*models.PricingEntry), nil
		}
	}

	entry, err := s.repo.ActiveEntry(ctx, provider, modelName)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(key, entry)
	}
	return entry, nil
}

// SnapshotFor converts a lookup into the per-token snapshot the pipeline
// stamps on every record. A missing price is not an error here: the call
// is still metered, just at zero cost with a diagnostic flag.
func (s *Service) SnapshotFor(ctx context.Context, provider models.Provider, modelName string) (Snapshot, error) {
	entry, err := s.Lookup(ctx, provider, modelName)
	if errors.Is(err, ErrNoPricing) {
		return Snapshot{Missing: true, Currency: "USD"}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("pricing lookup failed: %w", err)
	}

	return Snapshot{
		PerInputToken:  entry.PerInputToken(),
		PerOutputToken: entry.PerOutputToken(),
		Currency:       entry.Currency,
	}, nil
}

// Update replaces the active entry for (provider, model) and invalidates
// the cache so the next evaluation sees the new price.
func (s *Service) Update(ctx context.Context, entry *models.PricingEntry) error {
	if !models.KnownProvider(entry.Provider) {
		return fmt.Errorf("unknown provider %q", entry.Provider)
	}
	if entry.ModelName == "" {
		return fmt.Errorf("model name is required")
	}
	if entry.InputCostPer1K < 0 || entry.OutputCostPer1K < 0 {
		return fmt.Errorf("costs must be non-negative")
	}

	if err := s.repo.Update(ctx, entry); err != nil {
		return err
	}

	if s.cache != nil {
		s.cache.Delete(cacheKey(entry.Provider, entry.ModelName))
	}
	return nil
}

// List returns the price history, optionally scoped to one provider.
func (s *Service) List(ctx context.Context, provider models.Provider) ([]*models.PricingEntry, error) {
	return s.repo.List(ctx, provider)
}

func cacheKey(provider models.Provider, modelName string) string {
	return "pricing:" + string(provider) + ":" + modelName
}

// Package httpapi exposes the metering pipeline and its configuration
// surfaces over HTTP.
package httpapi

import (
	"context"

	"github.com/google/uuid"

	"github.com/vasudvy/billfrog/internal/models"
	"github.com/vasudvy/billfrog/internal/storage"
	"github.com/vasudvy/billfrog/internal/tracking"
	"github.com/vasudvy/billfrog/internal/utils"
)

// Tracker runs the metering pipeline.
type Tracker interface {
	Track(ctx context.Context, req tracking.TrackRequest) (*models.UsageRecord, error)
	TestCredential(ctx context.Context, provider models.Provider, credential, model string) (bool, string)
}

// UsageReader serves the logs and summary endpoints.
type UsageReader interface {
	List(ctx context.Context, filter storage.ListFilter, limit, offset int) ([]*models.UsageRecord, error)
	Summarize(ctx context.Context, filter storage.ListFilter, groupBy storage.GroupBy) ([]storage.SummaryRow, error)
}

// PricingService serves the pricing configuration surface.
type PricingService interface {
	List(ctx context.Context, provider models.Provider) ([]*models.PricingEntry, error)
	Update(ctx context.Context, entry *models.PricingEntry) error
}

// FilterStore serves the safety filter configuration surface.
type FilterStore interface {
	List(ctx context.Context) ([]*models.SafetyFilter, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.SafetyFilter, error)
	Create(ctx context.Context, filter *models.SafetyFilter) error
	Update(ctx context.Context, filter *models.SafetyFilter) error
}

// OperatorStore authenticates operators for the configuration surfaces.
type OperatorStore interface {
	GetByUsername(ctx context.Context, username string) (*models.Operator, error)
}

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	Tracker   Tracker
	Usage     UsageReader
	Pricing   PricingService
	Filters   FilterStore
	Operators OperatorStore
	JWTSecret []byte
	Logger    *utils.Logger

	// Health reports whether the backing store is reachable.
	Health func(ctx context.Context) error

	// closers are torn down in reverse order on shutdown.
	closers []func() error
}

// Close releases every resource NewRouter opened
func (d *Dependencies) Close() error {
	var firstErr error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vasudvy/billfrog/internal/models"
)

const pricingColumns = `
	id, provider, model_name, input_cost_per_1k, output_cost_per_1k,
	currency, effective_date, is_active, created_at`

// PricingRepository manages the append-only price history. At most one
// entry per (provider, model) is active at a time; updates deactivate the
// prior entry and insert a fresh one in the same transaction.
type PricingRepository struct {
	db *DB
}

// NewPricingRepository creates a new pricing repository
func NewPricingRepository(db *DB) *PricingRepository {
	return &PricingRepository{db: db}
}

// ActiveEntry returns the most recent active entry for (provider, model).
func (r *PricingRepository) ActiveEntry(ctx context.Context, provider models.Provider, modelName string) (*models.PricingEntry, error) {
	query := `
		SELECT ` + pricingColumns + `
		FROM pricing_entries
		WHERE provider = $1 AND model_name = $2 AND is_active = TRUE
		ORDER BY effective_date DESC, created_at DESC
		LIMIT 1
	`

	var entry models.PricingEntry
	err := r.db.conn.GetContext(ctx, &entry, query, provider, modelName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoPricing
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up pricing: %w", err)
	}

	return &entry, nil
}

// List returns the full price history, optionally scoped to a provider.
func (r *PricingRepository) List(ctx context.Context, provider models.Provider) ([]*models.PricingEntry, error) {
	query := `SELECT ` + pricingColumns + ` FROM pricing_entries`
	var args []any
	if provider != "" {
		query += ` WHERE provider = $1`
		args = append(args, provider)
	}
	query += ` ORDER BY provider, model_name, effective_date DESC`

	var entries []*models.PricingEntry
	if err := r.db.conn.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list pricing entries: %w", err)
	}

	return entries, nil
}

// Update deactivates the current active entry for (provider, model) and
// inserts the replacement in one transaction. Concurrent readers see
// either the old entry or the new one, never both and never neither.
func (r *PricingRepository) Update(ctx context.Context, entry *models.PricingEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.EffectiveDate.IsZero() {
		entry.EffectiveDate = time.Now()
	}
	if entry.Currency == "" {
		entry.Currency = "USD"
	}
	entry.IsActive = true

	tx, err := r.db.conn.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin pricing update: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE pricing_entries
		SET is_active = FALSE
		WHERE provider = $1 AND model_name = $2 AND is_active = TRUE
	`, entry.Provider, entry.ModelName)
	if err != nil {
		return fmt.Errorf("failed to deactivate prior pricing: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pricing_entries (`+pricingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`, entry.ID, entry.Provider, entry.ModelName, entry.InputCostPer1K,
		entry.OutputCostPer1K, entry.Currency, entry.EffectiveDate, entry.IsActive)
	if err != nil {
		return fmt.Errorf("failed to insert pricing entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pricing update: %w", err)
	}

	return nil
}

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

const filterColumns = `
	id, name, filter_type, rules, is_active, created_at, updated_at`

// FilterRepository manages safety filter configuration rows.
type FilterRepository struct {
	db *DB
}

// NewFilterRepository creates a new filter repository
func NewFilterRepository(db *DB) *FilterRepository {
	return &FilterRepository{db: db}
}

// ListActive returns all active filters; the result is cached briefly so
// the policy engine does not hit the table per request. Changes take
// effect on the next evaluation after the cache entry expires or is
// invalidated, never retroactively.
func (r *FilterRepository) ListActive(ctx context.Context) ([]*models.SafetyFilter, error) {
	const cacheKey = "filters:active"
	if cached, ok := r.db.filterCache.Get(cacheKey); ok {
		return cached.([]*models.SafetyFilter), nil
	}

	query := `SELECT ` + filterColumns + ` FROM safety_filters WHERE is_active = TRUE ORDER BY name`

	var filters []*models.SafetyFilter
	if err := r.db.conn.SelectContext(ctx, &filters, query); err != nil {
		return nil, fmt.Errorf("failed to list active filters: %w", err)
	}

	r.db.filterCache.Set(cacheKey, filters)
	return filters, nil
}

// List returns all filters regardless of active state.
func (r *FilterRepository) List(ctx context.Context) ([]*models.SafetyFilter, error) {
	query := `SELECT ` + filterColumns + ` FROM safety_filters ORDER BY name`

	var filters []*models.SafetyFilter
	if err := r.db.conn.SelectContext(ctx, &filters, query); err != nil {
		return nil, fmt.Errorf("failed to list filters: %w", err)
	}

	return filters, nil
}

// GetByID retrieves a single filter
func (r *FilterRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SafetyFilter, error) {
	query := `SELECT ` + filterColumns + ` FROM safety_filters WHERE id = $1`

	var filter models.SafetyFilter
	err := r.db.conn.GetContext(ctx, &filter, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get filter: %w", err)
	}

	return &filter, nil
}

// Create inserts a new filter. Rules are validated before insert so a
// malformed payload is rejected at configuration time.
func (r *FilterRepository) Create(ctx context.Context, filter *models.SafetyFilter) error {
	if _, err := filter.ParseRules(); err != nil {
		return err
	}

	if filter.ID == uuid.Nil {
		filter.ID = uuid.New()
	}
	now := time.Now()
	filter.CreatedAt = now
	filter.UpdatedAt = now

	query := `
		INSERT INTO safety_filters (` + filterColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.conn.ExecContext(ctx, query,
		filter.ID, filter.Name, filter.Type, []byte(filter.Rules),
		filter.IsActive, filter.CreatedAt, filter.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create filter: %w", err)
	}

	r.db.filterCache.Delete("filters:active")
	return nil
}

// Update replaces a filter's name, rules and active flag.
func (r *FilterRepository) Update(ctx context.Context, filter *models.SafetyFilter) error {
	if _, err := filter.ParseRules(); err != nil {
		return err
	}

	filter.UpdatedAt = time.Now()

	query := `
		UPDATE safety_filters
		SET name = $2, filter_type = $3, rules = $4, is_active = $5, updated_at = $6
		WHERE id = $1
	`
	res, err := r.db.conn.ExecContext(ctx, query,
		filter.ID, filter.Name, filter.Type, []byte(filter.Rules),
		filter.IsActive, filter.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update filter: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	r.db.filterCache.Delete("filters:active")
	return nil
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vasudvy/billfrog/internal/models"
)

// usageColumns lists every usage_records column in insert order.
const usageColumns = `
	id, user_id, team_id, session_id, model_provider, model_name, prompt,
	options, status, response, error_message, input_tokens, output_tokens,
	total_tokens, cost_per_input_token, cost_per_output_token, total_cost,
	safety_flags, retry_count, response_time_ms, metadata, created_at`

// UsageRepository handles usage record database operations. Records are
// append-only: there is no update or delete path.
type UsageRepository struct {
	db *DB
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Create persists a finalized usage record. This is the pipeline's single
// persistence point; callers must not write the same record twice.
func (r *UsageRepository) Create(ctx context.Context, record *models.UsageRecord) error {
	if record.Status == models.StatusProcessing {
		return fmt.Errorf("refusing to persist record %s before finalization", record.ID)
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO usage_records (` + usageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		        $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`

	_, err := r.db.conn.ExecContext(
		ctx, query,
		record.ID, record.UserID, record.TeamID, record.SessionID,
		record.Provider, record.ModelName, record.Prompt, record.Options,
		record.Status, record.Response, record.ErrorMessage,
		record.InputTokens, record.OutputTokens, record.TotalTokens,
		record.CostPerInputToken, record.CostPerOutputToken, record.TotalCost,
		record.SafetyFlags, record.RetryCount, record.ResponseTimeMS,
		record.Metadata, record.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return fmt.Errorf("usage record %s: %w", record.ID, ErrDuplicate)
		}
		return fmt.Errorf("failed to create usage record: %w", err)
	}

	return nil
}

// GetByID retrieves a single usage record
func (r *UsageRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.UsageRecord, error) {
	query := `SELECT ` + usageColumns + ` FROM usage_records WHERE id = $1`

	var record models.UsageRecord
	err := r.db.conn.GetContext(ctx, &record, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage record: %w", err)
	}

	return &record, nil
}

// ListFilter narrows queries over the usage log. Zero values are ignored.
type ListFilter struct {
	UserID    string
	TeamID    string
	Provider  models.Provider
	ModelName string
	Status    models.RecordStatus
	From      time.Time
	To        time.Time
}

func (f ListFilter) whereClause() (string, []any) {
	var conds []string
	var args []any

	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.TeamID != "" {
		add("team_id = $%d", f.TeamID)
	}
	if f.Provider != "" {
		add("model_provider = $%d", f.Provider)
	}
	if f.ModelName != "" {
		add("model_name = $%d", f.ModelName)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at < $%d", f.To)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns matching usage records, newest first.
func (r *UsageRepository) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*models.UsageRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	where, args := filter.whereClause()
	query := fmt.Sprintf(
		`SELECT %s FROM usage_records%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		usageColumns, where, len(args)+1, len(args)+2,
	)
	args = append(args, limit, offset)

	var records []*models.UsageRecord
	if err := r.db.conn.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}

	return records, nil
}

// GroupBy selects the aggregation bucket for Summarize.
type GroupBy string

const (
	GroupByDay      GroupBy = "day"
	GroupByWeek     GroupBy = "week"
	GroupByMonth    GroupBy = "month"
	GroupByModel    GroupBy = "model"
	GroupByProvider GroupBy = "provider"
)

// SummaryRow is one aggregated bucket of the usage log.
type SummaryRow struct {
	GroupKey     string  `db:"group_key" json:"group_key"`
	Requests     int     `db:"requests" json:"requests"`
	InputTokens  int     `db:"input_tokens" json:"input_tokens"`
	OutputTokens int     `db:"output_tokens" json:"output_tokens"`
	TotalTokens  int     `db:"total_tokens" json:"total_tokens"`
	TotalCost    float64 `db:"total_cost" json:"total_cost"`
}

// Summarize aggregates matching records into buckets.
func (r *UsageRepository) Summarize(ctx context.Context, filter ListFilter, groupBy GroupBy) ([]SummaryRow, error) {
	var keyExpr string
	switch groupBy {
	case GroupByDay:
		keyExpr = `to_char(date_trunc('day', created_at), 'YYYY-MM-DD')`
	case GroupByWeek:
		keyExpr = `to_char(date_trunc('week', created_at), 'IYYY-"W"IW')`
	case GroupByMonth:
		keyExpr = `to_char(date_trunc('month', created_at), 'YYYY-MM')`
	case GroupByModel:
		keyExpr = `model_name`
	case GroupByProvider:
		keyExpr = `model_provider`
	default:
		return nil, fmt.Errorf("unsupported group_by %q", groupBy)
	}

	where, args := filter.whereClause()
	query := fmt.Sprintf(`
		SELECT %s AS group_key,
		       COUNT(*) AS requests,
		       COALESCE(SUM(input_tokens), 0) AS input_tokens,
		       COALESCE(SUM(output_tokens), 0) AS output_tokens,
		       COALESCE(SUM(total_tokens), 0) AS total_tokens,
		       COALESCE(SUM(total_cost), 0) AS total_cost
		FROM usage_records%s
		GROUP BY group_key
		ORDER BY group_key DESC
	`, keyExpr, where)

	var rows []SummaryRow
	if err := r.db.conn.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to summarize usage: %w", err)
	}

	return rows, nil
}

// CountSince returns how many records the identity has accrued since the
// given instant. Used by the rate filter; consistency is whatever the
// store gives us for read-after-write on the same identity.
func (r *UsageRepository) CountSince(ctx context.Context, identity models.Identity, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM usage_records
		WHERE user_id = $1 AND team_id = $2 AND created_at >= $3
	`

	var count int
	err := r.db.conn.GetContext(ctx, &count, query, identity.UserID, identity.TeamID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count usage records: %w", err)
	}

	return count, nil
}

// CostSince returns the identity's summed cost since the given instant.
// Used by the cost filter's daily ceiling.
func (r *UsageRepository) CostSince(ctx context.Context, identity models.Identity, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(total_cost), 0)
		FROM usage_records
		WHERE user_id = $1 AND team_id = $2 AND created_at >= $3
	`

	var total float64
	err := r.db.conn.GetContext(ctx, &total, query, identity.UserID, identity.TeamID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to sum usage cost: %w", err)
	}

	return total, nil
}

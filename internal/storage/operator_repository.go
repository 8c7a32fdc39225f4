package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vasudvy/billfrog/internal/models"
)

// OperatorRepository reads administrative accounts used to gate the
// pricing and filter configuration surfaces.
type OperatorRepository struct {
	db *DB
}

// NewOperatorRepository creates a new operator repository
func NewOperatorRepository(db *DB) *OperatorRepository {
	return &OperatorRepository{db: db}
}

// Create inserts a new operator account
func (r *OperatorRepository) Create(ctx context.Context, op *models.Operator) error {
	query := `
		INSERT INTO operators (id, username, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.db.conn.ExecContext(ctx, query, op.ID, op.Username, op.PasswordHash, op.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create operator: %w", err)
	}
	return nil
}

// Count returns the number of operator accounts
func (r *OperatorRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.conn.GetContext(ctx, &count, `SELECT COUNT(*) FROM operators`); err != nil {
		return 0, fmt.Errorf("failed to count operators: %w", err)
	}
	return count, nil
}

// GetByUsername retrieves an operator account
func (r *OperatorRepository) GetByUsername(ctx context.Context, username string) (*models.Operator, error) {
	query := `
		SELECT id, username, password_hash, created_at
		FROM operators
		WHERE username = $1
	`

	var op models.Operator
	err := r.db.conn.GetContext(ctx, &op, query, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get operator: %w", err)
	}

	return &op, nil
}

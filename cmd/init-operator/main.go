package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/vasudvy/billfrog/internal/auth"
	"github.com/vasudvy/billfrog/internal/config"
	"github.com/vasudvy/billfrog/internal/models"
	"github.com/vasudvy/billfrog/internal/storage"
)

// init-operator bootstraps the first operator account so the pricing and
// filter configuration surfaces can be reached on a fresh deployment.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	username := os.Getenv("OPERATOR_BOOTSTRAP_USERNAME")
	password := os.Getenv("OPERATOR_BOOTSTRAP_PASSWORD")

	if username == "" || password == "" {
		fmt.Fprintln(os.Stderr, "ERROR: OPERATOR_BOOTSTRAP_USERNAME and OPERATOR_BOOTSTRAP_PASSWORD must be set")
		os.Exit(1)
	}
	if len(password) < 8 {
		fmt.Fprintln(os.Stderr, "ERROR: Password must be at least 8 characters long")
		os.Exit(1)
	}

	fmt.Println("Connecting to database...")
	db, err := storage.NewDB(storage.DBConfig{
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.EnsureSchema(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to ensure schema: %v\n", err)
		os.Exit(1)
	}

	repo := storage.NewOperatorRepository(db)

	count, err := repo.Count(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to check existing operators: %v\n", err)
		os.Exit(1)
	}
	if count > 0 {
		fmt.Printf("Found %d existing operator(s), nothing to do\n", count)
		return
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to hash password: %v\n", err)
		os.Exit(1)
	}

	operator := &models.Operator{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}
	if err := repo.Create(ctx, operator); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to create operator: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Created operator %q (%s)\n", operator.Username, operator.ID)
}

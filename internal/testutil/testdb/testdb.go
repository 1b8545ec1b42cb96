//go:build integration
// +build integration

package testdb

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/tutorhive/tutorhive-api/pkg/database"
)

// Handle owns a throwaway Postgres container with all migrations applied.
type Handle struct {
	DB *sqlx.DB

	cancel    func()
	terminate func(context.Context) error
}

// Close tears the container down. Safe on a partially constructed handle.
func (h *Handle) Close() {
	if h.DB != nil {
		_ = h.DB.Close()
	}
	if h.terminate != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = h.terminate(ctx)
	}
	if h.cancel != nil {
		h.cancel()
	}
}

// Start launches a Postgres container and applies the goose migrations from
// migrationsDir. Callers skip their test when Start fails, so a machine
// without Docker degrades to the sqlmock-only suite.
func Start(ctx context.Context, migrationsDir string) (*Handle, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	h := &Handle{cancel: cancel}

	pg, err := postgres.RunContainer(ctx,
		tc.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("tutorhive"),
		postgres.WithUsername("tutorhive"),
		postgres.WithPassword("tutorhive"),
	)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("start postgres container: %w", err)
	}
	h.terminate = pg.Terminate

	uri, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("container connection string: %w", err)
	}

	db, err := sqlx.Open("postgres", uri)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	h.DB = db

	if err := waitReady(ctx, db); err != nil {
		h.Close()
		return nil, err
	}
	if err := database.Migrate(ctx, db, migrationsDir); err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

func waitReady(ctx context.Context, db *sqlx.DB) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		if err := db.PingContext(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres never became ready: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

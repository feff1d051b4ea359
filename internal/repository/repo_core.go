package repository

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(dbURL string) (*Repository, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse db url: %w", err)
	}

	if maxConnStr := os.Getenv("DB_MAX_OPEN_CONNS"); maxConnStr != "" {
		if maxConn, err := strconv.Atoi(maxConnStr); err == nil {
			config.MaxConns = int32(maxConn)
		}
	}
	if minConnStr := os.Getenv("DB_MAX_IDLE_CONNS"); minConnStr != "" {
		if minConn, err := strconv.Atoi(minConnStr); err == nil {
			config.MinConns = int32(minConn)
		}
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	return &Repository{db: pool}, nil
}

func (r *Repository) Migrate(schemaPath string) error {
	content, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}

	_, err = r.db.Exec(context.Background(), string(content))
	if err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// SeedChains inserts the static chain enumeration.
func (r *Repository) SeedChains(ctx context.Context) error {
	chains := []struct{ slug, name string }{
		{"evm", "Ethereum"},
		{"utxo", "Bitcoin"},
		{"perp", "Hyperliquid"},
	}
	for _, c := range chains {
		_, err := r.db.Exec(ctx, `
			INSERT INTO chains (slug, name) VALUES ($1, $2)
			ON CONFLICT (slug) DO NOTHING`, c.slug, c.name)
		if err != nil {
			return fmt.Errorf("failed to seed chain %s: %w", c.slug, err)
		}
	}
	return nil
}

func (r *Repository) GetChainBySlug(ctx context.Context, slug string) (int, error) {
	var id int
	err := r.db.QueryRow(ctx, "SELECT id FROM chains WHERE slug = $1", slug).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *Repository) Close() {
	r.db.Close()
}

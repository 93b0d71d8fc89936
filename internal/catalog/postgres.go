package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgxpool.Pool used by the Postgres repository
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresRepository reads published products from the catalog_products table
type PostgresRepository struct {
	db Querier
}

// NewPostgresRepository creates a Postgres backed repository
func NewPostgresRepository(db Querier) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// ListIDs implements Repository. Paging is by OFFSET over the primary key, so
// products inserted during a cycle can be skipped or seen twice.
func (r *PostgresRepository) ListIDs(ctx context.Context, limit, offset int) ([]ItemID, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id FROM catalog_products WHERE published ORDER BY id ASC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list product ids: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to scan product ids: %w", err)
	}

	out := make([]ItemID, len(ids))
	for i, id := range ids {
		out[i] = ItemID(id)
	}
	return out, nil
}

// Get implements Repository
func (r *PostgresRepository) Get(ctx context.Context, id ItemID) (*Product, error) {
	var (
		p      Product
		rawID  int64
		prices []byte
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, title, description, link, image_link, brand, availability, condition, gtin, prices
		FROM catalog_products
		WHERE id = $1 AND published`, int64(id),
	).Scan(&rawID, &p.Title, &p.Description, &p.Link, &p.ImageLink, &p.Brand,
		&p.Availability, &p.Condition, &p.GTIN, &prices)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to load product %d: %w", id, err)
	}
	p.ID = ItemID(rawID)

	if len(prices) > 0 {
		if err := json.Unmarshal(prices, &p.Prices); err != nil {
			return nil, fmt.Errorf("failed to decode prices of product %d: %w", id, err)
		}
	}
	return &p, nil
}

// Upsert writes a product. It is used to seed catalogs from exports.
func (r *PostgresRepository) Upsert(ctx context.Context, p Product) error {
	prices, err := json.Marshal(p.Prices)
	if err != nil {
		return fmt.Errorf("failed to encode prices of product %d: %w", p.ID, err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO catalog_products
			(id, title, description, link, image_link, brand, availability, condition, gtin, prices, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			link = EXCLUDED.link,
			image_link = EXCLUDED.image_link,
			brand = EXCLUDED.brand,
			availability = EXCLUDED.availability,
			condition = EXCLUDED.condition,
			gtin = EXCLUDED.gtin,
			prices = EXCLUDED.prices,
			updated_at = now()`,
		int64(p.ID), p.Title, p.Description, p.Link, p.ImageLink, p.Brand,
		p.Availability, p.Condition, p.GTIN, prices)
	if err != nil {
		return fmt.Errorf("failed to upsert product %d: %w", p.ID, err)
	}
	return nil
}

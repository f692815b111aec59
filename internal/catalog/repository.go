package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists products in PostgreSQL.
type Repository interface {
	List(ctx context.Context, includeInactive bool) ([]Product, error)
	Get(ctx context.Context, id int64) (Product, error)
	GetByNameKey(ctx context.Context, nameKey string) (Product, error)
	Create(ctx context.Context, product Product, nameKey string) (Product, error)
	Update(ctx context.Context, id int64, product Product, nameKey string) error
	Deactivate(ctx context.Context, id int64) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs a Repository backed by the given pool.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const productColumns = `id, name, kind, organic, cost, supplier, is_active, created_at, updated_at`

func (r *repository) List(ctx context.Context, includeInactive bool) ([]Product, error) {
	query := `SELECT ` + productColumns + ` FROM products`
	if !includeInactive {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY name ASC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Kind, &p.Organic, &p.Cost, &p.Supplier, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Product, error) {
	var p Product
	err := r.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Kind, &p.Organic, &p.Cost, &p.Supplier, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	return p, err
}

func (r *repository) GetByNameKey(ctx context.Context, nameKey string) (Product, error) {
	var p Product
	err := r.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE name_key = $1`, nameKey).
		Scan(&p.ID, &p.Name, &p.Kind, &p.Organic, &p.Cost, &p.Supplier, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	return p, err
}

func (r *repository) Create(ctx context.Context, product Product, nameKey string) (Product, error) {
	now := time.Now()
	err := r.db.QueryRow(ctx, `INSERT INTO products (name, name_key, kind, organic, cost, supplier, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8) RETURNING id`,
		product.Name, nameKey, product.Kind, product.Organic, product.Cost, product.Supplier, product.IsActive, now).Scan(&product.ID)
	if err != nil {
		return Product{}, translateUnique(err)
	}
	product.CreatedAt = now
	product.UpdatedAt = now
	return product, nil
}

func (r *repository) Update(ctx context.Context, id int64, product Product, nameKey string) error {
	tag, err := r.db.Exec(ctx, `UPDATE products SET name = $1, name_key = $2, kind = $3, organic = $4, cost = $5, supplier = $6, is_active = $7, updated_at = $8 WHERE id = $9`,
		product.Name, nameKey, product.Kind, product.Organic, product.Cost, product.Supplier, product.IsActive, time.Now(), id)
	if err != nil {
		return translateUnique(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) Deactivate(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE products SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func translateUnique(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateName
	}
	return err
}

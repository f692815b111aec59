// Package catalog manages the product registry referenced by ledger entries.
package catalog

import (
	"errors"
	"time"
)

// Product represents a catalog product.
type Product struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Organic   bool      `json:"organic"`
	Cost      float64   `json:"cost"`
	Supplier  string    `json:"supplier"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ErrNotFound indicates the product does not exist.
var ErrNotFound = errors.New("catalog: product not found")

// ErrDuplicateName indicates another product already uses the name.
var ErrDuplicateName = errors.New("catalog: product name already exists")

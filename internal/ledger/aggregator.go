package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/stockledger/stockledger/internal/catalog"
)

// ReadPort abstracts the ledger read queries used by the aggregator.
type ReadPort interface {
	SumAmount(ctx context.Context, productID int64) (float64, error)
	StockTotals(ctx context.Context) ([]StockTotal, error)
	ListEntries(ctx context.Context, productID int64) ([]Entry, error)
}

// CatalogPort is the product catalog collaborator: identity resolution and the
// descriptive fields shown in stock listings.
type CatalogPort interface {
	List(ctx context.Context, includeInactive bool) ([]catalog.Product, error)
	Get(ctx context.Context, id int64) (catalog.Product, error)
	Resolve(ctx context.Context, name string) (catalog.Product, error)
}

// Aggregator derives balances and stock summaries from ledger contents.
type Aggregator struct {
	repo    ReadPort
	catalog CatalogPort
	cache   *Cache
}

// NewAggregator builds Aggregator. cache may be nil.
func NewAggregator(repo ReadPort, catalogPort CatalogPort, cache *Cache) *Aggregator {
	return &Aggregator{repo: repo, catalog: catalogPort, cache: cache}
}

// CurrentStock returns the sum of all entry amounts of one product, shortages
// included. A known product with no entries yields 0.
func (a *Aggregator) CurrentStock(ctx context.Context, productID int64) (float64, error) {
	if _, err := a.catalog.Get(ctx, productID); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return 0, ErrProductNotFound
		}
		return 0, err
	}
	return a.repo.SumAmount(ctx, productID)
}

// ListStock returns one row per active catalog product. Products without any
// movement appear with zero stock and no last movement date.
func (a *Aggregator) ListStock(ctx context.Context) ([]StockRow, error) {
	key, err := a.cache.BuildKey(ctx, "stock", "summary")
	if err != nil {
		return nil, err
	}
	var rows []StockRow
	err = a.cache.FetchJSON(ctx, key, &rows, func(ctx context.Context) (any, error) {
		return a.loadStock(ctx)
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (a *Aggregator) loadStock(ctx context.Context) ([]StockRow, error) {
	products, err := a.catalog.List(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("ledger: load catalog: %w", err)
	}
	totals, err := a.repo.StockTotals(ctx)
	if err != nil {
		return nil, err
	}
	byProduct := make(map[int64]StockTotal, len(totals))
	for _, t := range totals {
		byProduct[t.ProductID] = t
	}

	rows := make([]StockRow, 0, len(products))
	for _, p := range products {
		row := StockRow{
			ProductID: p.ID,
			Name:      p.Name,
			Kind:      p.Kind,
			Organic:   p.Organic,
			Cost:      p.Cost,
			Supplier:  p.Supplier,
		}
		if t, ok := byProduct[p.ID]; ok {
			row.CurrentStock = t.Total
			last := t.LastMovement
			row.LastMovementDate = &last
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Entries returns the full movement history of one product.
func (a *Aggregator) Entries(ctx context.Context, productID int64) ([]Entry, error) {
	if _, err := a.catalog.Get(ctx, productID); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return a.repo.ListEntries(ctx, productID)
}

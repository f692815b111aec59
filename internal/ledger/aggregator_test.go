package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/stockledger/stockledger/internal/catalog"
)

func seedMovements(t *testing.T, svc *Service) {
	t.Helper()
	ctx := context.Background()
	_, err := svc.RecordDelivery(ctx, DeliveryInput{ProductID: 1, Date: mustDate(t, "2025-03-01"), Amount: 10})
	require.NoError(t, err)
	_, err = svc.Consume(ctx, ConsumeInput{ProductID: 1, Date: mustDate(t, "2025-03-02"), Amount: 4})
	require.NoError(t, err)
}

func TestAggregatorCurrentStock(t *testing.T) {
	store := newMemoryStore()
	cat := newFakeCatalog(
		catalog.Product{ID: 1, Name: "Tomatoes", IsActive: true},
		catalog.Product{ID: 2, Name: "Flour", IsActive: true},
	)
	svc := NewService(store, cat, nil, nil, nil, nil, ServiceConfig{AllowNegativeStock: true})
	seedMovements(t, svc)
	agg := NewAggregator(store, cat, nil)
	ctx := context.Background()

	stock, err := agg.CurrentStock(ctx, 1)
	require.NoError(t, err)
	require.InDelta(t, 6.0, stock, 1e-9)

	// Known product without entries is zero, not an error.
	stock, err = agg.CurrentStock(ctx, 2)
	require.NoError(t, err)
	require.Zero(t, stock)

	_, err = agg.CurrentStock(ctx, 99)
	require.ErrorIs(t, err, ErrProductNotFound)
}

func TestAggregatorListStockIncludesZeroStock(t *testing.T) {
	store := newMemoryStore()
	cat := newFakeCatalog(
		catalog.Product{ID: 1, Name: "Tomatoes", IsActive: true},
		catalog.Product{ID: 2, Name: "Flour", IsActive: true},
		catalog.Product{ID: 3, Name: "Retired", IsActive: false},
	)
	svc := NewService(store, cat, nil, nil, nil, nil, ServiceConfig{AllowNegativeStock: true})
	seedMovements(t, svc)
	agg := NewAggregator(store, cat, nil)

	rows, err := agg.ListStock(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.Equal(t, int64(1), rows[0].ProductID)
	require.InDelta(t, 6.0, rows[0].CurrentStock, 1e-9)
	require.NotNil(t, rows[0].LastMovementDate)
	require.Equal(t, "2025-03-02", rows[0].LastMovementDate.String())

	require.Equal(t, int64(2), rows[1].ProductID)
	require.Zero(t, rows[1].CurrentStock)
	require.Nil(t, rows[1].LastMovementDate)
}

func TestAggregatorReadsAreIdempotent(t *testing.T) {
	store := newMemoryStore()
	cat := newFakeCatalog(catalog.Product{ID: 1, Name: "Tomatoes", IsActive: true})
	svc := NewService(store, cat, nil, nil, nil, nil, ServiceConfig{AllowNegativeStock: true})
	seedMovements(t, svc)
	agg := NewAggregator(store, cat, nil)
	ctx := context.Background()

	first, err := agg.ListStock(ctx)
	require.NoError(t, err)
	second, err := agg.ListStock(ctx)
	require.NoError(t, err)
	require.Equal(t, first, second)

	stockA, err := agg.CurrentStock(ctx, 1)
	require.NoError(t, err)
	stockB, err := agg.CurrentStock(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, stockA, stockB)
}

func TestAggregatorEntriesOrdering(t *testing.T) {
	store := newMemoryStore()
	cat := newFakeCatalog(catalog.Product{ID: 1, Name: "Tomatoes", IsActive: true})
	svc := NewService(store, cat, nil, nil, nil, nil, ServiceConfig{AllowNegativeStock: true})
	ctx := context.Background()

	_, err := svc.RecordDelivery(ctx, DeliveryInput{ProductID: 1, Date: mustDate(t, "2025-03-05"), Amount: 5})
	require.NoError(t, err)
	_, err = svc.RecordDelivery(ctx, DeliveryInput{ProductID: 1, Date: mustDate(t, "2025-03-01"), Amount: 3})
	require.NoError(t, err)

	agg := NewAggregator(store, cat, nil)
	entries, err := agg.Entries(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "2025-03-01", entries[0].EntryDate.String())
	require.Equal(t, "2025-03-05", entries[1].EntryDate.String())

	_, err = agg.Entries(ctx, 99)
	require.ErrorIs(t, err, ErrProductNotFound)
}

func TestAggregatorCacheInvalidation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ledgerCache := NewCache(client, time.Minute)

	store := newMemoryStore()
	cat := newFakeCatalog(catalog.Product{ID: 1, Name: "Tomatoes", IsActive: true})
	svc := NewService(store, cat, nil, nil, ledgerCache, nil, ServiceConfig{AllowNegativeStock: true})
	agg := NewAggregator(store, cat, ledgerCache)
	ctx := context.Background()

	_, err := svc.RecordDelivery(ctx, DeliveryInput{ProductID: 1, Date: mustDate(t, "2025-03-01"), Amount: 10})
	require.NoError(t, err)

	rows, err := agg.ListStock(ctx)
	require.NoError(t, err)
	require.InDelta(t, 10.0, rows[0].CurrentStock, 1e-9)

	// A second read is served from the cache.
	rows, err = agg.ListStock(ctx)
	require.NoError(t, err)
	require.InDelta(t, 10.0, rows[0].CurrentStock, 1e-9)

	// A write bumps the version, so the next read sees the new balance.
	_, err = svc.Consume(ctx, ConsumeInput{ProductID: 1, Date: mustDate(t, "2025-03-02"), Amount: 4})
	require.NoError(t, err)

	rows, err = agg.ListStock(ctx)
	require.NoError(t, err)
	require.InDelta(t, 6.0, rows[0].CurrentStock, 1e-9)
}

package ledger

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stockledger/stockledger/internal/catalog"
)

// memoryStore implements StorePort and ReadPort with staged, all-or-nothing
// transaction semantics. The mutex doubles as the per-product writer lock.
type memoryStore struct {
	mu              sync.Mutex
	entries         []Entry
	allocs          []Allocation
	nextID          int64
	failAllocations bool
}

type memoryTx struct {
	store         *memoryStore
	stagedEntries []Entry
	stagedAllocs  []Allocation
}

func newMemoryStore() *memoryStore {
	return &memoryStore{}
}

func (m *memoryStore) WithProductTx(ctx context.Context, productID int64, fn func(context.Context, TxStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memoryTx{store: m}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.entries = append(m.entries, tx.stagedEntries...)
	m.allocs = append(m.allocs, tx.stagedAllocs...)
	return nil
}

func (m *memoryStore) InsertDelivery(ctx context.Context, entry Entry) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	entry.ID = m.nextID
	m.entries = append(m.entries, entry)
	return entry, nil
}

func (m *memoryStore) SumAmount(ctx context.Context, productID int64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total float64
	for _, e := range m.entries {
		if e.ProductID == productID {
			total += e.Amount
		}
	}
	return total, nil
}

func (m *memoryStore) StockTotals(ctx context.Context) ([]StockTotal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byProduct := map[int64]*StockTotal{}
	for _, e := range m.entries {
		t, ok := byProduct[e.ProductID]
		if !ok {
			t = &StockTotal{ProductID: e.ProductID, LastMovement: e.EntryDate}
			byProduct[e.ProductID] = t
		}
		t.Total += e.Amount
		if t.LastMovement.Before(e.EntryDate) {
			t.LastMovement = e.EntryDate
		}
	}
	var totals []StockTotal
	for _, t := range byProduct {
		totals = append(totals, *t)
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].ProductID < totals[j].ProductID })
	return totals, nil
}

func (m *memoryStore) ListEntries(ctx context.Context, productID int64) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []Entry
	for _, e := range m.entries {
		if e.ProductID == productID {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].EntryDate.Before(entries[j].EntryDate) {
			return true
		}
		if entries[j].EntryDate.Before(entries[i].EntryDate) {
			return false
		}
		return entries[i].ID < entries[j].ID
	})
	return entries, nil
}

// remaining reports the consumable quantity left on one batch.
func (m *memoryStore) remaining(batchID int64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remainingLocked(batchID)
}

func (m *memoryStore) remainingLocked(batchID int64) float64 {
	var amount, consumed float64
	for _, e := range m.entries {
		if e.ID == batchID {
			amount = e.Amount
		}
	}
	for _, a := range m.allocs {
		if a.BatchID == batchID {
			consumed += a.Qty
		}
	}
	return amount - consumed
}

func (tx *memoryTx) ListOpenBatches(ctx context.Context, productID int64) ([]Batch, error) {
	var batches []Batch
	for _, e := range tx.store.entries {
		if e.ProductID != productID || e.Kind != KindDelivery {
			continue
		}
		remaining := tx.store.remainingLocked(e.ID)
		if remaining <= 0 {
			continue
		}
		batches = append(batches, Batch{EntryID: e.ID, EntryDate: e.EntryDate, Amount: e.Amount, Remaining: remaining})
	}
	sort.Slice(batches, func(i, j int) bool {
		if batches[i].EntryDate.Before(batches[j].EntryDate) {
			return true
		}
		if batches[j].EntryDate.Before(batches[i].EntryDate) {
			return false
		}
		return batches[i].EntryID < batches[j].EntryID
	})
	return batches, nil
}

func (tx *memoryTx) InsertEntry(ctx context.Context, entry Entry) (int64, error) {
	tx.store.nextID++
	entry.ID = tx.store.nextID
	tx.stagedEntries = append(tx.stagedEntries, entry)
	return entry.ID, nil
}

func (tx *memoryTx) InsertAllocations(ctx context.Context, entryID int64, plan []deduction) error {
	if tx.store.failAllocations {
		return context.DeadlineExceeded
	}
	for _, d := range plan {
		tx.store.nextID++
		tx.stagedAllocs = append(tx.stagedAllocs, Allocation{ID: tx.store.nextID, EntryID: entryID, BatchID: d.BatchID, Qty: d.Qty})
	}
	return nil
}

type fakeCatalog struct {
	products map[int64]catalog.Product
}

func newFakeCatalog(products ...catalog.Product) *fakeCatalog {
	byID := make(map[int64]catalog.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return &fakeCatalog{products: byID}
}

func (f *fakeCatalog) List(ctx context.Context, includeInactive bool) ([]catalog.Product, error) {
	var out []catalog.Product
	for _, p := range f.products {
		if p.IsActive || includeInactive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeCatalog) Get(ctx context.Context, id int64) (catalog.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return catalog.Product{}, catalog.ErrNotFound
	}
	return p, nil
}

func (f *fakeCatalog) Resolve(ctx context.Context, name string) (catalog.Product, error) {
	for _, p := range f.products {
		if p.Name == name {
			return p, nil
		}
	}
	return catalog.Product{}, catalog.ErrNotFound
}

func mustDate(t *testing.T, s string) Date {
	t.Helper()
	d, err := ParseDate(s)
	require.NoError(t, err)
	return d
}

func newTestService(store *memoryStore, cfg ServiceConfig) *Service {
	cat := newFakeCatalog(catalog.Product{ID: 1, Name: "Tomatoes", IsActive: true})
	return NewService(store, cat, nil, nil, nil, nil, cfg)
}

func TestRecordDeliveryValidation(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, ServiceConfig{AllowNegativeStock: true})
	ctx := context.Background()

	_, err := svc.RecordDelivery(ctx, DeliveryInput{ProductID: 1, Amount: 0})
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.RecordDelivery(ctx, DeliveryInput{ProductID: 1, Amount: -1})
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.RecordDelivery(ctx, DeliveryInput{ProductID: 99, Amount: 5})
	require.ErrorIs(t, err, ErrProductNotFound)

	require.Empty(t, store.entries)
}

func TestRecordDeliveryConservation(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, ServiceConfig{AllowNegativeStock: true})
	ctx := context.Background()

	for _, amount := range []float64{3, 5, 2} {
		_, err := svc.RecordDelivery(ctx, DeliveryInput{ProductID: 1, Date: mustDate(t, "2025-03-01"), Amount: amount})
		require.NoError(t, err)
	}

	total, err := store.SumAmount(ctx, 1)
	require.NoError(t, err)
	require.InDelta(t, 10.0, total, 1e-9)
}

func TestConsumeFIFOAcrossBatches(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, ServiceConfig{AllowNegativeStock: true})
	ctx := context.Background()

	b1, err := svc.RecordDelivery(ctx, DeliveryInput{ProductID: 1, Date: mustDate(t, "2025-03-01"), Amount: 10})
	require.NoError(t, err)
	b2, err := svc.RecordDelivery(ctx, DeliveryInput{ProductID: 1, Date: mustDate(t, "2025-03-02"), Amount: 5})
	require.NoError(t, err)

	result, err := svc.Consume(ctx, ConsumeInput{ProductID: 1, Date: mustDate(t, "2025-03-03"), Amount: 12})
	require.NoError(t, err)
	require.InDelta(t, 12.0, result.Allocated, 1e-9)
	require.InDelta(t, 0.0, result.Shortage, 1e-9)

	require.InDelta(t, 0.0, store.remaining(b1.ID), 1e-9)
	require.InDelta(t, 3.0, store.remaining(b2.ID), 1e-9)

	total, err := store.SumAmount(ctx, 1)
	require.NoError(t, err)
	require.InDelta(t, 3.0, total, 1e-9)
}

func TestConsumeTieBreakOnSameDate(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, ServiceConfig{AllowNegativeStock: true})
	ctx := context.Background()
	date := mustDate(t, "2025-03-01")

	first, err := svc.RecordDelivery(ctx, DeliveryInput{ProductID: 1, Date: date, Amount: 4})
	require.NoError(t, err)
	second, err := svc.RecordDelivery(ctx, DeliveryInput{ProductID: 1, Date: date, Amount: 4})
	require.NoError(t, err)

	_, err = svc.Consume(ctx, ConsumeInput{ProductID: 1, Date: date, Amount: 5})
	require.NoError(t, err)

	// Same date: the lower entry id is drained first.
	require.InDelta(t, 0.0, store.remaining(first.ID), 1e-9)
	require.InDelta(t, 3.0, store.remaining(second.ID), 1e-9)
}

func TestConsumeRecordsShortage(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, ServiceConfig{AllowNegativeStock: true})
	ctx := context.Background()

	_, err := svc.RecordDelivery(ctx, DeliveryInput{ProductID: 1, Date: mustDate(t, "2025-03-01"), Amount: 10})
	require.NoError(t, err)
	_, err = svc.RecordDelivery(ctx, DeliveryInput{ProductID: 1, Date: mustDate(t, "2025-03-02"), Amount: 5})
	require.NoError(t, err)

	result, err := svc.Consume(ctx, ConsumeInput{ProductID: 1, Date: mustDate(t, "2025-03-03"), Amount: 20})
	require.NoError(t, err)
	require.InDelta(t, 20.0, result.Allocated, 1e-9)
	require.InDelta(t, 5.0, result.Shortage, 1e-9)

	var shortageEntries []Entry
	for _, e := range store.entries {
		if e.Kind == KindShortage {
			shortageEntries = append(shortageEntries, e)
		}
	}
	require.Len(t, shortageEntries, 1)
	require.InDelta(t, -5.0, shortageEntries[0].Amount, 1e-9)

	total, err := store.SumAmount(ctx, 1)
	require.NoError(t, err)
	require.InDelta(t, -5.0, total, 1e-9)
}

func TestConsumeStrictPolicyRejects(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, ServiceConfig{AllowNegativeStock: false})
	ctx := context.Background()

	_, err := svc.RecordDelivery(ctx, DeliveryInput{ProductID: 1, Date: mustDate(t, "2025-03-01"), Amount: 15})
	require.NoError(t, err)

	_, err = svc.Consume(ctx, ConsumeInput{ProductID: 1, Date: mustDate(t, "2025-03-02"), Amount: 20})
	require.ErrorIs(t, err, ErrInsufficientStock)

	// The rejected withdrawal left no trace.
	require.Len(t, store.entries, 1)
	require.Empty(t, store.allocs)

	total, err := store.SumAmount(ctx, 1)
	require.NoError(t, err)
	require.InDelta(t, 15.0, total, 1e-9)
}

func TestConsumeValidation(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, ServiceConfig{AllowNegativeStock: true})
	ctx := context.Background()

	_, err := svc.Consume(ctx, ConsumeInput{ProductID: 1, Amount: 0})
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.Consume(ctx, ConsumeInput{ProductID: 42, Amount: 5})
	require.ErrorIs(t, err, ErrProductNotFound)

	require.Empty(t, store.entries)
}

func TestConsumeRollsBackOnStorageFailure(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, ServiceConfig{AllowNegativeStock: true})
	ctx := context.Background()

	_, err := svc.RecordDelivery(ctx, DeliveryInput{ProductID: 1, Date: mustDate(t, "2025-03-01"), Amount: 10})
	require.NoError(t, err)

	store.failAllocations = true
	_, err = svc.Consume(ctx, ConsumeInput{ProductID: 1, Date: mustDate(t, "2025-03-02"), Amount: 4})
	require.ErrorIs(t, err, ErrAllocationFailed)

	// Nothing from the aborted allocation may remain.
	require.Len(t, store.entries, 1)
	require.Empty(t, store.allocs)
}

func TestConcurrentConsumeNoDoubleSpend(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, ServiceConfig{AllowNegativeStock: true})
	ctx := context.Background()

	batch, err := svc.RecordDelivery(ctx, DeliveryInput{ProductID: 1, Date: mustDate(t, "2025-03-01"), Amount: 10})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]ConsumeResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Consume(ctx, ConsumeInput{ProductID: 1, Date: mustDate(t, "2025-03-02"), Amount: 6})
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	// The batch is drained exactly once and the overdraw is a shortage of 2.
	require.InDelta(t, 0.0, store.remaining(batch.ID), 1e-9)
	require.InDelta(t, 2.0, results[0].Shortage+results[1].Shortage, 1e-9)

	total, err := store.SumAmount(ctx, 1)
	require.NoError(t, err)
	require.InDelta(t, -2.0, total, 1e-9)
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/stockledger/stockledger/internal/catalog"
	"github.com/stockledger/stockledger/internal/observability"
	"github.com/stockledger/stockledger/internal/shared"
)

// StorePort abstracts repository usage for the write path.
type StorePort interface {
	WithProductTx(ctx context.Context, productID int64, fn func(context.Context, TxStore) error) error
	InsertDelivery(ctx context.Context, entry Entry) (Entry, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// AllowNegativeStock keeps withdrawals succeeding when batches run out,
	// recording the deficit as a shortage entry. When false, an uncoverable
	// withdrawal is rejected and the ledger stays untouched.
	AllowNegativeStock bool
}

// Service coordinates ledger writes: delivery recording and FIFO consumption
// allocation with the configured shortage policy.
type Service struct {
	store       StorePort
	catalog     CatalogPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	cache       *Cache
	metrics     *observability.Metrics
	shortage    ShortageHandler
	allowNeg    bool
}

// NewService builds Service.
func NewService(store StorePort, catalogPort CatalogPort, audit AuditPort, idem *shared.IdempotencyStore, cache *Cache, metrics *observability.Metrics, cfg ServiceConfig) *Service {
	return &Service{
		store:       store,
		catalog:     catalogPort,
		audit:       audit,
		idempotency: idem,
		cache:       cache,
		metrics:     metrics,
		allowNeg:    cfg.AllowNegativeStock,
	}
}

// RecordDelivery appends one DELIVERY entry with a fixed positive amount.
func (s *Service) RecordDelivery(ctx context.Context, input DeliveryInput) (Entry, error) {
	if input.Amount <= 0 {
		return Entry{}, ErrInvalidAmount
	}
	if input.Date.IsZero() {
		input.Date = NewDate(time.Now().UTC())
	}
	if err := s.resolveProduct(ctx, input.ProductID); err != nil {
		return Entry{}, err
	}
	if input.Ref != "" {
		if _, err := uuid.Parse(input.Ref); err != nil {
			return Entry{}, fmt.Errorf("ledger: invalid ref: %w", err)
		}
	}

	key, inserted, err := s.claimKey(ctx, "DELIVERY", input.Ref)
	if err != nil {
		return Entry{}, err
	}

	entry, err := s.store.InsertDelivery(ctx, Entry{
		ProductID: input.ProductID,
		EntryDate: input.Date,
		Amount:    input.Amount,
		Kind:      KindDelivery,
		Ref:       input.Ref,
	})
	if err != nil {
		if inserted {
			_ = s.idempotency.Delete(ctx, key)
		}
		return Entry{}, err
	}

	_ = s.cache.Bump(ctx)
	s.metrics.ObserveMovement(string(KindDelivery))
	s.recordAudit(ctx, "ledger:delivery", entry.ID, map[string]any{
		"product_id": input.ProductID,
		"amount":     input.Amount,
		"date":       input.Date.String(),
	})
	return entry, nil
}

// Consume satisfies a withdrawal from open batches oldest-first and commits
// the deductions, plus any shortage entry, as one atomic unit.
func (s *Service) Consume(ctx context.Context, input ConsumeInput) (ConsumeResult, error) {
	if input.Amount <= 0 {
		return ConsumeResult{}, ErrInvalidAmount
	}
	if input.Date.IsZero() {
		input.Date = NewDate(time.Now().UTC())
	}
	if err := s.resolveProduct(ctx, input.ProductID); err != nil {
		return ConsumeResult{}, err
	}
	if input.Ref != "" {
		if _, err := uuid.Parse(input.Ref); err != nil {
			return ConsumeResult{}, fmt.Errorf("ledger: invalid ref: %w", err)
		}
	}

	key, inserted, err := s.claimKey(ctx, "CONSUME", input.Ref)
	if err != nil {
		return ConsumeResult{}, err
	}

	var result ConsumeResult
	err = s.store.WithProductTx(ctx, input.ProductID, func(ctx context.Context, tx TxStore) error {
		batches, err := tx.ListOpenBatches(ctx, input.ProductID)
		if err != nil {
			return err
		}
		plan, shortage := planAllocation(batches, input.Amount)
		if shortage > 0 && !s.allowNeg {
			return ErrInsufficientStock
		}
		if covered := coveredQuantity(plan); covered > 0 {
			entryID, err := tx.InsertEntry(ctx, Entry{
				ProductID: input.ProductID,
				EntryDate: input.Date,
				Amount:    -covered,
				Kind:      KindConsumption,
				Ref:       input.Ref,
			})
			if err != nil {
				return err
			}
			if err := tx.InsertAllocations(ctx, entryID, plan); err != nil {
				return err
			}
		}
		if shortage > 0 {
			if _, err := s.shortage.Record(ctx, tx, input.ProductID, input.Date, shortage, input.Ref); err != nil {
				return err
			}
		}
		result = ConsumeResult{Allocated: input.Amount, Shortage: shortage}
		return nil
	})
	if err != nil {
		if inserted {
			_ = s.idempotency.Delete(ctx, key)
		}
		if errors.Is(err, ErrInsufficientStock) {
			return ConsumeResult{}, err
		}
		return ConsumeResult{}, fmt.Errorf("%w: %v", ErrAllocationFailed, err)
	}

	_ = s.cache.Bump(ctx)
	s.metrics.ObserveMovement(string(KindConsumption))
	s.metrics.ObserveShortage(result.Shortage)
	s.recordAudit(ctx, "ledger:consume", input.ProductID, map[string]any{
		"product_id": input.ProductID,
		"amount":     input.Amount,
		"shortage":   result.Shortage,
		"date":       input.Date.String(),
	})
	return result, nil
}

func (s *Service) resolveProduct(ctx context.Context, productID int64) error {
	if _, err := s.catalog.Get(ctx, productID); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return ErrProductNotFound
		}
		return err
	}
	return nil
}

// claimKey reserves the idempotency key for a write, when a ref was supplied.
func (s *Service) claimKey(ctx context.Context, op, ref string) (string, bool, error) {
	if s.idempotency == nil || ref == "" {
		return "", false, nil
	}
	key := op + ":" + ref
	if err := s.idempotency.CheckAndInsert(ctx, key, "ledger"); err != nil {
		return "", false, err
	}
	return key, true, nil
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   "ledger_entry",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	})
}

// Package ledger implements the stock ledger: append-only signed quantity
// entries per product, FIFO consumption allocation and balance aggregation.
package ledger

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"time"
)

// EntryKind enumerates ledger entry kinds.
type EntryKind string

const (
	// KindDelivery is an inbound batch with a fixed positive amount.
	KindDelivery EntryKind = "DELIVERY"
	// KindConsumption is a withdrawal covered by existing batches.
	KindConsumption EntryKind = "CONSUMPTION"
	// KindShortage is a compensating entry for the unmet part of a withdrawal.
	KindShortage EntryKind = "SHORTAGE"
)

// Date is a calendar date without a time component.
type Date struct {
	t time.Time
}

// NewDate truncates the given time to a UTC calendar date.
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses an ISO-8601 date string (2006-01-02).
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("ledger: invalid date %q: %w", s, err)
	}
	return Date{t: t}, nil
}

// Time returns the date as midnight UTC.
func (d Date) Time() time.Time { return d.t }

// IsZero reports whether the date is unset.
func (d Date) IsZero() bool { return d.t.IsZero() }

// Before reports whether d sorts before o.
func (d Date) Before(o Date) bool { return d.t.Before(o.t) }

func (d Date) String() string { return d.t.Format("2006-01-02") }

// MarshalJSON renders the date as "2006-01-02".
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON accepts a "2006-01-02" string.
func (d *Date) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("ledger: invalid date literal %s", s)
	}
	parsed, err := ParseDate(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Scan implements sql.Scanner for DATE columns.
func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*d = NewDate(v)
		return nil
	case string:
		parsed, err := ParseDate(v)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	default:
		return fmt.Errorf("ledger: cannot scan %T into Date", src)
	}
}

// Value implements driver.Valuer.
func (d Date) Value() (driver.Value, error) { return d.t, nil }

// Entry is one signed, dated quantity record attributed to a product.
// Entries are append-only: once written, id, amount and date never change.
type Entry struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"product_id"`
	EntryDate Date      `json:"date"`
	Amount    float64   `json:"amount"`
	Kind      EntryKind `json:"kind"`
	Ref       string    `json:"ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Batch is a DELIVERY entry viewed as a consumable quantity pool. Remaining is
// derived from the allocations drawn against it, never stored on the entry.
type Batch struct {
	EntryID   int64
	EntryDate Date
	Amount    float64
	Remaining float64
}

// Allocation links a CONSUMPTION entry to the batch it drew from.
type Allocation struct {
	ID      int64
	EntryID int64
	BatchID int64
	Qty     float64
}

// DeliveryInput describes a request to record an inbound batch.
type DeliveryInput struct {
	ProductID int64
	Date      Date
	Amount    float64
	Ref       string
}

// ConsumeInput describes a withdrawal request.
type ConsumeInput struct {
	ProductID int64
	Date      Date
	Amount    float64
	Ref       string
}

// ConsumeResult reports how a withdrawal was satisfied. Shortage is the part
// of the request no batch could cover; it is not an error.
type ConsumeResult struct {
	Allocated float64 `json:"allocated"`
	Shortage  float64 `json:"shortage"`
}

// StockRow is one line of the stock overview.
type StockRow struct {
	ProductID        int64   `json:"product_id"`
	Name             string  `json:"name"`
	Kind             string  `json:"kind"`
	Organic          bool    `json:"organic"`
	Cost             float64 `json:"cost"`
	Supplier         string  `json:"supplier"`
	CurrentStock     float64 `json:"current_stock"`
	LastMovementDate *Date   `json:"last_movement_date"`
}

// StockTotal is the per-product fold of ledger amounts.
type StockTotal struct {
	ProductID    int64
	Total        float64
	LastMovement Date
}

// ErrInvalidAmount indicates a non-positive quantity.
var ErrInvalidAmount = errors.New("ledger: amount must be positive")

// ErrProductNotFound indicates the referenced product does not exist.
var ErrProductNotFound = errors.New("ledger: product not found")

// ErrInsufficientStock rejects a withdrawal under the strict shortage policy.
var ErrInsufficientStock = errors.New("ledger: insufficient stock")

// ErrAllocationFailed indicates the allocation could not be committed; the
// ledger is unchanged and the whole request may be retried.
var ErrAllocationFailed = errors.New("ledger: allocation failed")

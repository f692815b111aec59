package ledger

import (
	"context"
)

// ShortageHandler records the compensating entry for the unmet part of a
// withdrawal. It always runs inside the allocator's transaction: a shortage
// entry is never committed independently of the deductions it compensates.
type ShortageHandler struct{}

// Record inserts one SHORTAGE entry of amount -deficit.
func (ShortageHandler) Record(ctx context.Context, tx TxStore, productID int64, date Date, deficit float64, ref string) (int64, error) {
	entry := Entry{
		ProductID: productID,
		EntryDate: date,
		Amount:    -deficit,
		Kind:      KindShortage,
		Ref:       ref,
	}
	return tx.InsertEntry(ctx, entry)
}

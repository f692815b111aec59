package ledger

// qtyEpsilon guards float comparisons on quantities.
const qtyEpsilon = 1e-9

// deduction is one planned reduction of a batch's remaining quantity.
type deduction struct {
	BatchID int64
	Qty     float64
}

// planAllocation walks open batches oldest-first and plans deductions until
// the requested quantity is satisfied or the batches are exhausted. Batches
// must already be ordered by (entry date, entry id) ascending. The returned
// shortage is the unmet part of the request.
func planAllocation(batches []Batch, requested float64) ([]deduction, float64) {
	remaining := requested
	var plan []deduction
	for _, batch := range batches {
		if remaining <= qtyEpsilon {
			break
		}
		available := batch.Remaining
		if available <= qtyEpsilon {
			continue
		}
		qty := available
		if remaining < available {
			qty = remaining
		}
		plan = append(plan, deduction{BatchID: batch.EntryID, Qty: qty})
		remaining -= qty
	}
	if remaining < qtyEpsilon {
		remaining = 0
	}
	return plan, remaining
}

// coveredQuantity sums the planned deductions.
func coveredQuantity(plan []deduction) float64 {
	var total float64
	for _, d := range plan {
		total += d.Qty
	}
	return total
}

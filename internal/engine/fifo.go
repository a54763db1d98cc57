package engine

import (
	"sort"

	"github.com/shopspring/decimal"
)

// FIFOResult is the outcome of one allocation run over a lot snapshot.
type FIFOResult struct {
	Allocations []Allocation
	Shortfalls  []ShortfallEvent
	// QtySold holds the post-run consumption per (batch_id, internal_sku),
	// including the snapshot's starting qty_sold.
	QtySold map[[2]string]int64
}

// AllocatedUnits returns the total units bound to lots in this run.
func (r *FIFOResult) AllocatedUnits() int64 {
	var n int64
	for _, a := range r.Allocations {
		n += a.Qty
	}
	return n
}

// AllocateFIFO consumes each demand against the lot snapshot in strict FIFO
// order: lots sorted by inbound_date ascending, tie-broken by batch_id
// ascending. Demands are processed in the order given (the normalizer
// emits canonical order; fixture streams may choose their own).
//
// Partial fills span lots. Unit costs are copied from the lot at the
// instant of allocation, so later cost edits never leak into existing
// allocations. When inventory runs out, the remainder is recorded as a
// shortfall; no balance ever goes negative. With allowNegative, the
// remainder instead allocates against the synthetic PENDING lot at zero
// cost.
func AllocateFIFO(demands []Demand, lots []Lot, allowNegative bool) *FIFOResult {
	bySKU := make(map[string][]*Lot)
	res := &FIFOResult{QtySold: make(map[[2]string]int64, len(lots))}
	for i := range lots {
		l := &lots[i]
		bySKU[l.InternalSKU] = append(bySKU[l.InternalSKU], l)
		res.QtySold[[2]string{l.BatchID, l.InternalSKU}] = l.QtySold
	}
	for sku := range bySKU {
		ls := bySKU[sku]
		sort.Slice(ls, func(i, j int) bool {
			if ls[i].InboundDate != ls[j].InboundDate {
				return ls[i].InboundDate < ls[j].InboundDate
			}
			return ls[i].BatchID < ls[j].BatchID
		})
		bySKU[sku] = ls
	}

	for _, d := range demands {
		remaining := d.Qty
		for _, l := range bySKU[d.InternalSKU] {
			if remaining == 0 {
				break
			}
			take := l.Remaining()
			if take <= 0 {
				continue
			}
			if take > remaining {
				take = remaining
			}
			res.Allocations = append(res.Allocations, Allocation{
				HappenedAt:    d.HappenedAt,
				OrderID:       d.OrderID,
				Marketplace:   d.Marketplace,
				InternalSKU:   d.InternalSKU,
				BatchID:       l.BatchID,
				Qty:           take,
				FOBUnit:       l.FOBUnit,
				FreightUnit:   l.FreightUnit,
				ClearanceUnit: l.ClearanceUnit,
				DutyUnit:      l.DutyUnit,
			})
			l.QtySold += take
			res.QtySold[[2]string{l.BatchID, l.InternalSKU}] = l.QtySold
			remaining -= take
		}
		if remaining > 0 {
			if allowNegative {
				res.Allocations = append(res.Allocations, Allocation{
					HappenedAt:    d.HappenedAt,
					OrderID:       d.OrderID,
					Marketplace:   d.Marketplace,
					InternalSKU:   d.InternalSKU,
					BatchID:       PendingBatchID,
					Qty:           remaining,
					FOBUnit:       decimal.Zero,
					FreightUnit:   decimal.Zero,
					ClearanceUnit: decimal.Zero,
					DutyUnit:      decimal.Zero,
				})
			}
			res.Shortfalls = append(res.Shortfalls, ShortfallEvent{
				OrderID:     d.OrderID,
				InternalSKU: d.InternalSKU,
				Marketplace: d.Marketplace,
				HappenedAt:  d.HappenedAt,
				Requested:   d.Qty,
				Short:       remaining,
			})
		}
	}
	return res
}

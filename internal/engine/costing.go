package engine

import (
	"sort"

	"github.com/shopspring/decimal"
)

// ComputeLotCosts distributes batch-level pools (freight, clearance,
// duty-by-category) down to per-(batch, internal_sku) per-unit costs.
//
// It is a pure function of the inbound tables: identical input produces
// identical output, with results ordered by (batch_id, internal_sku).
// Freight and clearance prorate by CBM share; duty prorates by FOB-value
// share within each (batch, category), after subtracting any per-item duty
// overrides from the pool. Zero denominators zero out the affected share
// and surface a ZeroDenominator warning when the pool is non-zero.
//
// Per-unit shares keep full division precision so that sum(unit x qty_in)
// reconciles with each batch pool to within 0.01. Rounding happens only at
// report boundaries.
func ComputeLotCosts(batches []Batch, items []InboundItem, pools []DutyPool, overrides []DutyOverride) ([]LotCost, []Warning, error) {
	if err := validateInbound(batches, items, pools, overrides); err != nil {
		return nil, nil, err
	}

	batchByID := make(map[string]Batch, len(batches))
	for _, b := range batches {
		batchByID[b.BatchID] = b
	}
	poolByKey := make(map[[2]string]decimal.Decimal, len(pools))
	for _, p := range pools {
		poolByKey[[2]string{p.BatchID, p.Category}] = p.DutyTotal
	}
	overrideByKey := make(map[[2]string]decimal.Decimal, len(overrides))
	for _, o := range overrides {
		overrideByKey[[2]string{o.BatchID, o.InternalSKU}] = o.DutyAmount
	}

	itemsByBatch := make(map[string][]InboundItem)
	for _, it := range items {
		itemsByBatch[it.BatchID] = append(itemsByBatch[it.BatchID], it)
	}

	var warnings []Warning
	var out []LotCost

	batchIDs := make([]string, 0, len(itemsByBatch))
	for id := range itemsByBatch {
		batchIDs = append(batchIDs, id)
	}
	sort.Strings(batchIDs)

	for _, batchID := range batchIDs {
		b, ok := batchByID[batchID]
		if !ok {
			return nil, nil, Errf(KindInvalidInbound, "inbound items reference unknown batch %q", batchID)
		}
		bi := itemsByBatch[batchID]
		sort.Slice(bi, func(i, j int) bool { return bi[i].InternalSKU < bi[j].InternalSKU })

		costs, w := allocateBatch(b, bi, poolByKey, overrideByKey)
		warnings = append(warnings, w...)
		out = append(out, costs...)
	}
	return out, warnings, nil
}

func allocateBatch(b Batch, items []InboundItem, pools map[[2]string]decimal.Decimal, overrides map[[2]string]decimal.Decimal) ([]LotCost, []Warning) {
	var warnings []Warning

	totalCBM := decimal.Zero
	for _, it := range items {
		totalCBM = totalCBM.Add(decimal.NewFromInt(it.QtyIn).Mul(it.CBMPerUnit))
	}
	if totalCBM.IsZero() {
		if b.FreightTotal.IsPositive() {
			warnings = append(warnings, Warnf(KindZeroDenominator,
				"batch %s: freight pool %s with zero total CBM, freight shares set to 0", b.BatchID, b.FreightTotal))
		}
		if b.ClearanceTotal.IsPositive() {
			warnings = append(warnings, Warnf(KindZeroDenominator,
				"batch %s: clearance pool %s with zero total CBM, clearance shares set to 0", b.BatchID, b.ClearanceTotal))
		}
	}

	// Per-category FOB denominators exclude overridden items: their duty is
	// pinned, and the remaining pool spreads over the rest of the category.
	fobByCategory := make(map[string]decimal.Decimal)
	overrideSumByCategory := make(map[string]decimal.Decimal)
	for _, it := range items {
		if _, pinned := overrides[[2]string{it.BatchID, it.InternalSKU}]; pinned {
			ov := overrides[[2]string{it.BatchID, it.InternalSKU}]
			overrideSumByCategory[it.Category] = overrideSumByCategory[it.Category].Add(ov)
			continue
		}
		fob := decimal.NewFromInt(it.QtyIn).Mul(it.FOBUnit)
		fobByCategory[it.Category] = fobByCategory[it.Category].Add(fob)
	}

	seenCategory := make(map[string]bool)
	costs := make([]LotCost, 0, len(items))
	for _, it := range items {
		qty := decimal.NewFromInt(it.QtyIn)

		freightUnit := decimal.Zero
		clearanceUnit := decimal.Zero
		if !totalCBM.IsZero() {
			cbm := qty.Mul(it.CBMPerUnit)
			freightUnit = b.FreightTotal.Mul(cbm).Div(totalCBM).Div(qty)
			clearanceUnit = b.ClearanceTotal.Mul(cbm).Div(totalCBM).Div(qty)
		}

		dutyUnit, w := dutyUnitFor(b.BatchID, it, pools, overrides, fobByCategory, overrideSumByCategory, seenCategory)
		warnings = append(warnings, w...)

		costs = append(costs, LotCost{
			BatchID:       it.BatchID,
			InternalSKU:   it.InternalSKU,
			FOBUnit:       it.FOBUnit,
			FreightUnit:   freightUnit,
			ClearanceUnit: clearanceUnit,
			DutyUnit:      dutyUnit,
		})
	}
	return costs, warnings
}

func dutyUnitFor(batchID string, it InboundItem, pools map[[2]string]decimal.Decimal, overrides map[[2]string]decimal.Decimal, fobByCategory, overrideSumByCategory map[string]decimal.Decimal, seenCategory map[string]bool) (decimal.Decimal, []Warning) {
	qty := decimal.NewFromInt(it.QtyIn)

	if ov, pinned := overrides[[2]string{batchID, it.InternalSKU}]; pinned {
		return ov.Div(qty), nil
	}

	pool, hasPool := pools[[2]string{batchID, it.Category}]
	if it.Category == "" {
		// Batches that carry any duty pool must warn when an item cannot
		// participate for lack of a category.
		if batchHasAnyPool(batchID, pools) {
			return decimal.Zero, []Warning{Warnf(KindMissingDutyPool,
				"batch %s: item %s has no category, duty share set to 0", batchID, it.InternalSKU)}
		}
		return decimal.Zero, nil
	}
	if !hasPool {
		if seenCategory[it.Category] {
			return decimal.Zero, nil
		}
		seenCategory[it.Category] = true
		return decimal.Zero, []Warning{Warnf(KindMissingDutyPool,
			"batch %s: no duty pool for category %s, duty shares set to 0", batchID, it.Category)}
	}

	remaining := pool.Sub(overrideSumByCategory[it.Category])
	if remaining.IsNegative() {
		remaining = decimal.Zero
		if !seenCategory[it.Category+"\x00over"] {
			seenCategory[it.Category+"\x00over"] = true
			return decimal.Zero, []Warning{Warnf(KindZeroDenominator,
				"batch %s: duty overrides exceed pool for category %s, remaining shares set to 0", batchID, it.Category)}
		}
		return decimal.Zero, nil
	}

	fobDen := fobByCategory[it.Category]
	if fobDen.IsZero() {
		if remaining.IsPositive() && !seenCategory[it.Category+"\x00den"] {
			seenCategory[it.Category+"\x00den"] = true
			return decimal.Zero, []Warning{Warnf(KindZeroDenominator,
				"batch %s: duty pool %s for category %s with zero FOB denominator, duty shares set to 0", batchID, remaining, it.Category)}
		}
		return decimal.Zero, nil
	}

	fob := qty.Mul(it.FOBUnit)
	return remaining.Mul(fob).Div(fobDen).Div(qty), nil
}

func batchHasAnyPool(batchID string, pools map[[2]string]decimal.Decimal) bool {
	for k := range pools {
		if k[0] == batchID {
			return true
		}
	}
	return false
}

func validateInbound(batches []Batch, items []InboundItem, pools []DutyPool, overrides []DutyOverride) error {
	for _, b := range batches {
		if b.BatchID == "" {
			return Errf(KindInvalidInbound, "batch with empty batch_id")
		}
		if b.FreightTotal.IsNegative() || b.ClearanceTotal.IsNegative() {
			return Errf(KindInvalidInbound, "batch %s: negative freight or clearance total", b.BatchID)
		}
	}
	for _, it := range items {
		if it.BatchID == "" || it.InternalSKU == "" {
			return Errf(KindInvalidInbound, "inbound item with empty batch_id or internal_sku")
		}
		if it.QtyIn <= 0 {
			return Errf(KindInvalidInbound, "item %s/%s: qty_in must be positive, got %d", it.BatchID, it.InternalSKU, it.QtyIn)
		}
		if it.FOBUnit.IsNegative() {
			return Errf(KindInvalidInbound, "item %s/%s: negative fob_unit", it.BatchID, it.InternalSKU)
		}
		if it.CBMPerUnit.IsNegative() {
			return Errf(KindInvalidInbound, "item %s/%s: negative cbm_per_unit", it.BatchID, it.InternalSKU)
		}
	}
	for _, p := range pools {
		if p.DutyTotal.IsNegative() {
			return Errf(KindInvalidInbound, "duty pool %s/%s: negative duty_total", p.BatchID, p.Category)
		}
	}
	for _, o := range overrides {
		if o.DutyAmount.IsNegative() {
			return Errf(KindInvalidInbound, "duty override %s/%s: negative duty_amount", o.BatchID, o.InternalSKU)
		}
	}
	return nil
}

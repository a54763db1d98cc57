package engine

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Normalize projects raw marketplace transactions into the ordered demand
// stream the FIFO engine consumes.
//
// Only rows whose type case-insensitively equals orderLabel and whose qty
// is positive are considered. Each considered row expands through its
// active sku_map rows (several rows per marketplace SKU form a kit); rows
// with no mapping are collected as unmapped and never allocated. Demands
// come back in canonical order: (happened_at, order_id, internal_sku,
// source_amazon_sku) ascending.
func Normalize(rows []SalesRow, mappings []Mapping, orderLabel string) ([]Demand, []UnmappedSale, []Warning) {
	label := strings.ToLower(strings.TrimSpace(orderLabel))

	byKey := make(map[[2]string][]Mapping, len(mappings))
	for _, m := range mappings {
		k := [2]string{m.Marketplace, m.AmazonSKU}
		byKey[k] = append(byKey[k], m)
	}
	for k := range byKey {
		ms := byKey[k]
		sort.Slice(ms, func(i, j int) bool { return ms[i].InternalSKU < ms[j].InternalSKU })
		byKey[k] = ms
	}

	var demands []Demand
	var unmapped []UnmappedSale
	var warnings []Warning

	for _, row := range rows {
		if strings.ToLower(strings.TrimSpace(row.Type)) != label {
			continue
		}
		if row.Qty <= 0 {
			continue
		}
		ms, ok := byKey[[2]string{row.Marketplace, row.AmazonSKU}]
		if !ok || len(ms) == 0 {
			unmapped = append(unmapped, UnmappedSale{
				Marketplace: row.Marketplace,
				AmazonSKU:   row.AmazonSKU,
				OrderID:     row.OrderID,
				Qty:         row.Qty,
			})
			continue
		}
		for _, m := range ms {
			qty := m.UnitMultiplier.Mul(decimal.NewFromInt(row.Qty))
			if !qty.IsInteger() || !qty.IsPositive() {
				warnings = append(warnings, Warnf(KindInvalidRow,
					"order %s: %s x%d via %s yields non-integer demand %s, row skipped",
					row.OrderID, row.AmazonSKU, row.Qty, m.InternalSKU, qty))
				continue
			}
			demands = append(demands, Demand{
				OrderID:         row.OrderID,
				HappenedAt:      row.HappenedAt,
				Marketplace:     row.Marketplace,
				InternalSKU:     m.InternalSKU,
				SourceAmazonSKU: row.AmazonSKU,
				Qty:             qty.IntPart(),
			})
		}
	}

	sort.SliceStable(demands, func(i, j int) bool {
		a, b := demands[i], demands[j]
		if !a.HappenedAt.Equal(b.HappenedAt) {
			return a.HappenedAt.Before(b.HappenedAt)
		}
		if a.OrderID != b.OrderID {
			return a.OrderID < b.OrderID
		}
		if a.InternalSKU != b.InternalSKU {
			return a.InternalSKU < b.InternalSKU
		}
		return a.SourceAmazonSKU < b.SourceAmazonSKU
	})

	seqByOrder := make(map[string]int)
	for i := range demands {
		seqByOrder[demands[i].OrderID]++
		demands[i].Seq = seqByOrder[demands[i].OrderID]
	}

	return demands, unmapped, warnings
}

package engine

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// reportScale is the fractional precision of summary money columns.
const reportScale = 2

// SummarizeMonth folds live allocations of one month into per-marketplace
// aggregates plus the synthetic ALL row. It is pure over its input;
// rerunning it over the same allocations yields identical rows (modulo
// updated_at, which the caller stamps at persistence time).
func SummarizeMonth(ym string, allocations []Allocation, now time.Time) []MonthSummary {
	type agg struct {
		orders    map[string]struct{}
		units     int64
		fob       decimal.Decimal
		freight   decimal.Decimal
		clearance decimal.Decimal
		duty      decimal.Decimal
	}
	newAgg := func() *agg { return &agg{orders: make(map[string]struct{})} }

	perMkt := make(map[string]*agg)
	total := newAgg()

	for _, a := range allocations {
		m, ok := perMkt[a.Marketplace]
		if !ok {
			m = newAgg()
			perMkt[a.Marketplace] = m
		}
		qty := decimal.NewFromInt(a.Qty)
		for _, g := range []*agg{m, total} {
			g.orders[a.OrderID] = struct{}{}
			g.units += a.Qty
			g.fob = g.fob.Add(qty.Mul(a.FOBUnit))
			g.freight = g.freight.Add(qty.Mul(a.FreightUnit))
			g.clearance = g.clearance.Add(qty.Mul(a.ClearanceUnit))
			g.duty = g.duty.Add(qty.Mul(a.DutyUnit))
		}
	}

	stamp := now.UTC().Format(time.RFC3339)
	row := func(marketplace string, g *agg) MonthSummary {
		return MonthSummary{
			YM:          ym,
			Marketplace: marketplace,
			Orders:      int64(len(g.orders)),
			Units:       g.units,
			FOB:         g.fob.Round(reportScale),
			Freight:     g.freight.Round(reportScale),
			Clearance:   g.clearance.Round(reportScale),
			Duty:        g.duty.Round(reportScale),
			UpdatedAt:   stamp,
		}
	}

	markets := make([]string, 0, len(perMkt))
	for m := range perMkt {
		markets = append(markets, m)
	}
	sort.Strings(markets)

	out := make([]MonthSummary, 0, len(markets)+1)
	for _, m := range markets {
		out = append(out, row(m, perMkt[m]))
	}
	out = append(out, row(AllMarketplaces, total))
	return out
}

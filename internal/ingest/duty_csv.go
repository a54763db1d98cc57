package ingest

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"fifo-costing/internal/engine"
)

var dutyRequired = []string{"batch_id", "category", "duty_total"}

// ParseDutyCSV reads the duty sheet: one (batch, category) pool per row.
// An optional internal_sku column turns a row into a per-item override
// (duty_total is then the pinned amount for that item).
func ParseDutyCSV(r io.Reader) ([]engine.DutyPool, []engine.DutyOverride, []engine.Warning, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	cols, line, err := locateHeader(cr, dutyRequired)
	if err != nil {
		return nil, nil, nil, engine.Errf(engine.KindInvalidInbound, "duty csv: %v", err)
	}
	skuCol, hasSKU := cols["internal_sku"]

	var (
		pools     []engine.DutyPool
		overrides []engine.DutyOverride
		warnings  []engine.Warning
	)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			warnings = append(warnings, engine.Warnf(engine.KindInvalidRow, "duty csv line %d: %v", line, err))
			continue
		}
		if isBlankRecord(rec) {
			continue
		}

		get := func(i int) string {
			if i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		batchID := get(cols["batch_id"])
		if batchID == "" {
			warnings = append(warnings, engine.Warnf(engine.KindInvalidRow, "duty csv line %d: empty batch_id", line))
			continue
		}
		amount, err := decimal.NewFromString(get(cols["duty_total"]))
		if err != nil {
			warnings = append(warnings, engine.Warnf(engine.KindInvalidRow, "duty csv line %d: bad duty_total %q", line, get(cols["duty_total"])))
			continue
		}

		if hasSKU {
			if sku := get(skuCol); sku != "" {
				overrides = append(overrides, engine.DutyOverride{BatchID: batchID, InternalSKU: sku, DutyAmount: amount})
				continue
			}
		}
		category := get(cols["category"])
		if category == "" {
			warnings = append(warnings, engine.Warnf(engine.KindInvalidRow, "duty csv line %d: empty category", line))
			continue
		}
		pools = append(pools, engine.DutyPool{BatchID: batchID, Category: category, DutyTotal: amount})
	}
	return pools, overrides, warnings, nil
}

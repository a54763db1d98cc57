package ingest

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"fifo-costing/internal/engine"
)

// flat inbound sheet: one row per (batch, item), batch-level columns
// repeated on every row. entryfees_total is the clearance pool.
var inboundRequired = []string{
	"batch_id", "inbound_date", "internal_sku", "category",
	"qty_in", "fob_unit", "cbm_per_unit", "freight_total", "entryfees_total",
}

// ParseInboundCSV reads the flat inbound sheet into batch headers and
// items. The batch header is taken from the first row seen for each
// batch_id; later rows repeating different batch-level values produce a
// warning and keep the first values.
func ParseInboundCSV(r io.Reader) ([]engine.Batch, []engine.InboundItem, []engine.Warning, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	cols, line, err := locateHeader(cr, inboundRequired)
	if err != nil {
		return nil, nil, nil, engine.Errf(engine.KindInvalidInbound, "inbound csv: %v", err)
	}

	var (
		batches  []engine.Batch
		items    []engine.InboundItem
		warnings []engine.Warning
		seen     = make(map[string]engine.Batch)
	)

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			warnings = append(warnings, engine.Warnf(engine.KindInvalidRow, "inbound csv line %d: %v", line, err))
			continue
		}
		if isBlankRecord(rec) {
			continue
		}

		get := func(name string) string {
			i := cols[name]
			if i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		batchID := get("batch_id")
		sku := get("internal_sku")
		if batchID == "" || sku == "" {
			warnings = append(warnings, engine.Warnf(engine.KindInvalidRow, "inbound csv line %d: empty batch_id or internal_sku", line))
			continue
		}

		qty, err := strconv.ParseInt(get("qty_in"), 10, 64)
		if err != nil {
			warnings = append(warnings, engine.Warnf(engine.KindInvalidRow, "inbound csv line %d: non-numeric qty_in %q", line, get("qty_in")))
			continue
		}
		fob, err := decimal.NewFromString(get("fob_unit"))
		if err != nil {
			warnings = append(warnings, engine.Warnf(engine.KindInvalidRow, "inbound csv line %d: bad fob_unit %q", line, get("fob_unit")))
			continue
		}
		cbm, err := decimal.NewFromString(get("cbm_per_unit"))
		if err != nil {
			warnings = append(warnings, engine.Warnf(engine.KindInvalidRow, "inbound csv line %d: bad cbm_per_unit %q", line, get("cbm_per_unit")))
			continue
		}
		freight, err := decimal.NewFromString(get("freight_total"))
		if err != nil {
			warnings = append(warnings, engine.Warnf(engine.KindInvalidRow, "inbound csv line %d: bad freight_total %q", line, get("freight_total")))
			continue
		}
		clearance, err := decimal.NewFromString(get("entryfees_total"))
		if err != nil {
			warnings = append(warnings, engine.Warnf(engine.KindInvalidRow, "inbound csv line %d: bad entryfees_total %q", line, get("entryfees_total")))
			continue
		}

		b := engine.Batch{
			BatchID:        batchID,
			InboundDate:    get("inbound_date"),
			FreightTotal:   freight,
			ClearanceTotal: clearance,
		}
		if prev, ok := seen[batchID]; ok {
			if prev.InboundDate != b.InboundDate || !prev.FreightTotal.Equal(b.FreightTotal) || !prev.ClearanceTotal.Equal(b.ClearanceTotal) {
				warnings = append(warnings, engine.Warnf(engine.KindInvalidRow, "inbound csv line %d: batch %s repeats conflicting header values, keeping first", line, batchID))
			}
		} else {
			seen[batchID] = b
			batches = append(batches, b)
		}

		items = append(items, engine.InboundItem{
			BatchID:     batchID,
			InternalSKU: sku,
			Category:    get("category"),
			QtyIn:       qty,
			FOBUnit:     fob,
			CBMPerUnit:  cbm,
		})
	}

	return batches, items, warnings, nil
}

// locateHeader scans forward for the first line containing every required
// column token (case-insensitive), returning name to index.
func locateHeader(cr *csv.Reader, required []string) (map[string]int, int, error) {
	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return nil, line, engine.Errf(engine.KindInvalidRow, "no header row with columns %s", strings.Join(required, ", "))
		}
		line++
		if err != nil {
			continue
		}
		cols := make(map[string]int, len(rec))
		for i, c := range rec {
			cols[normalizeHeader(c)] = i
		}
		ok := true
		for _, tok := range required {
			if _, found := cols[tok]; !found {
				ok = false
				break
			}
		}
		if ok {
			return cols, line, nil
		}
	}
}

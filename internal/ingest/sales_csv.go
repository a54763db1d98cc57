// Package ingest parses the CSV formats fed into the costing core: the
// marketplace transaction report, the flat inbound sheet, and the duty
// sheet. Parsers are tolerant of preface lines and column order; they
// locate the header row by its column tokens.
package ingest

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"fifo-costing/internal/engine"
)

// Amazon exports the date column in a handful of layouts depending on the
// report flavor and account locale. Layouts without a zone are interpreted
// in the caller's reporting timezone.
var salesDateLayouts = []string{
	"Jan 2, 2006 3:04:05 PM MST",
	"2006-01-02T15:04:05-07:00",
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05",
	"02.01.2006 15:04:05 MST",
	"2/1/2006 15:04:05",
	"2006-01-02",
}

// header tokens required by the transaction report contract.
var salesRequired = []string{"date/time", "type", "order id", "sku", "quantity"}

type salesHeader struct {
	date, typ, order, sku, qty, marketplace int
}

// ParseSalesCSV reads a marketplace transaction report. Preface lines
// before the header are skipped; the header is the first line containing
// every required column token (case-insensitive). Rows with a non-numeric
// quantity or an unparseable date are skipped with a warning. Rows whose
// marketplace column is empty, or reports without one, fall back to
// defaultMarketplace.
func ParseSalesCSV(r io.Reader, defaultMarketplace string, loc *time.Location) ([]engine.SalesRow, []engine.Warning, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var warnings []engine.Warning

	hdr, line, err := locateSalesHeader(cr)
	if err != nil {
		return nil, nil, err
	}

	var out []engine.SalesRow
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			warnings = append(warnings, engine.Warnf(engine.KindInvalidRow, "line %d: %v", line, err))
			continue
		}
		row, warn := parseSalesRecord(rec, hdr, line, defaultMarketplace, loc)
		if warn != nil {
			warnings = append(warnings, *warn)
			continue
		}
		if row != nil {
			out = append(out, *row)
		}
	}
	return out, warnings, nil
}

func locateSalesHeader(cr *csv.Reader) (salesHeader, int, error) {
	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return salesHeader{}, line, engine.Errf(engine.KindInvalidRow, "no header row with columns %s", strings.Join(salesRequired, ", "))
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
		for _, tok := range salesRequired {
			if _, found := cols[tok]; !found {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		h := salesHeader{marketplace: -1}
		h.date = cols["date/time"]
		h.typ = cols["type"]
		h.order = cols["order id"]
		h.sku = cols["sku"]
		h.qty = cols["quantity"]
		if i, found := cols["marketplace"]; found {
			h.marketplace = i
		}
		return h, line, nil
	}
}

func parseSalesRecord(rec []string, h salesHeader, line int, defaultMarketplace string, loc *time.Location) (*engine.SalesRow, *engine.Warning) {
	max := h.date
	for _, i := range []int{h.typ, h.order, h.sku, h.qty} {
		if i > max {
			max = i
		}
	}
	if len(rec) <= max {
		if isBlankRecord(rec) {
			return nil, nil
		}
		w := engine.Warnf(engine.KindInvalidRow, "line %d: short row (%d columns)", line, len(rec))
		return nil, &w
	}

	qtyStr := strings.ReplaceAll(strings.TrimSpace(rec[h.qty]), ",", "")
	qty, err := strconv.ParseInt(qtyStr, 10, 64)
	if err != nil {
		w := engine.Warnf(engine.KindInvalidRow, "line %d: non-numeric quantity %q", line, rec[h.qty])
		return nil, &w
	}

	happened, ok := parseSalesDate(strings.TrimSpace(rec[h.date]), loc)
	if !ok {
		w := engine.Warnf(engine.KindInvalidRow, "line %d: unparseable date %q", line, rec[h.date])
		return nil, &w
	}

	marketplace := defaultMarketplace
	if h.marketplace >= 0 && h.marketplace < len(rec) {
		if v := strings.TrimSpace(rec[h.marketplace]); v != "" {
			marketplace = v
		}
	}

	return &engine.SalesRow{
		HappenedAt:  happened.UTC(),
		Type:        strings.TrimSpace(rec[h.typ]),
		OrderID:     strings.TrimSpace(rec[h.order]),
		Marketplace: marketplace,
		AmazonSKU:   strings.TrimSpace(rec[h.sku]),
		Qty:         qty,
	}, nil
}

func parseSalesDate(s string, loc *time.Location) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range salesDateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func normalizeHeader(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	return strings.ToLower(strings.TrimSpace(s))
}

func isBlankRecord(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

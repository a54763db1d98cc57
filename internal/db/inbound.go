package db

import (
	"fmt"
	"strings"
	"time"

	"fifo-costing/internal/engine"
)

// InboundImport is the payload of one import_inbound command: batch headers
// plus their items, duty pools, and optional per-item duty overrides.
type InboundImport struct {
	Batches       []engine.Batch        `json:"batches"`
	Items         []engine.InboundItem  `json:"items"`
	DutyPools     []engine.DutyPool     `json:"duty_pools"`
	DutyOverrides []engine.DutyOverride `json:"duty_overrides,omitempty"`
}

// ImportCounts reports what one inbound import touched.
type ImportCounts struct {
	Batches       int `json:"batches"`
	Items         int `json:"items"`
	DutyPools     int `json:"duty_pools"`
	DutyOverrides int `json:"duty_overrides"`
}

// ImportInbound upserts batches, items, duty pools, and duty overrides in
// one transaction. Items must reference a batch from the same import or
// one already on file; violations roll the whole import back.
func (d *DB) ImportInbound(imp InboundImport) (ImportCounts, error) {
	var counts ImportCounts

	if err := validateImport(imp); err != nil {
		return counts, err
	}

	tx, err := d.sql.Begin()
	if err != nil {
		return counts, err
	}
	defer tx.Rollback()

	known := make(map[string]bool)
	rows, err := tx.Query(`SELECT batch_id FROM batch`)
	if err != nil {
		return counts, err
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return counts, err
		}
		known[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return counts, err
	}

	batchStmt, err := tx.Prepare(`
		INSERT INTO batch (batch_id, inbound_date, freight_total, clearance_total, marketplace)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(batch_id) DO UPDATE SET
			inbound_date = excluded.inbound_date,
			freight_total = excluded.freight_total,
			clearance_total = excluded.clearance_total,
			marketplace = excluded.marketplace
	`)
	if err != nil {
		return counts, err
	}
	defer batchStmt.Close()

	for _, b := range imp.Batches {
		if _, err := batchStmt.Exec(b.BatchID, b.InboundDate, b.FreightTotal.String(), b.ClearanceTotal.String(), b.Marketplace); err != nil {
			return counts, err
		}
		known[b.BatchID] = true
		counts.Batches++
	}

	itemStmt, err := tx.Prepare(`
		INSERT INTO inbound_item (batch_id, internal_sku, category, qty_in, fob_unit, cbm_per_unit)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(batch_id, internal_sku) DO UPDATE SET
			category = excluded.category,
			qty_in = excluded.qty_in,
			fob_unit = excluded.fob_unit,
			cbm_per_unit = excluded.cbm_per_unit
	`)
	if err != nil {
		return counts, err
	}
	defer itemStmt.Close()

	for _, it := range imp.Items {
		if !known[it.BatchID] {
			return counts, engine.Errf(engine.KindInvalidInbound, "item %s/%s: missing batch header", it.BatchID, it.InternalSKU)
		}
		if _, err := itemStmt.Exec(it.BatchID, it.InternalSKU, it.Category, it.QtyIn, it.FOBUnit.String(), it.CBMPerUnit.String()); err != nil {
			return counts, err
		}
		counts.Items++
	}

	poolStmt, err := tx.Prepare(`
		INSERT INTO duty_pool (batch_id, category, duty_total)
		VALUES (?, ?, ?)
		ON CONFLICT(batch_id, category) DO UPDATE SET
			duty_total = excluded.duty_total
	`)
	if err != nil {
		return counts, err
	}
	defer poolStmt.Close()

	for _, p := range imp.DutyPools {
		if !known[p.BatchID] {
			return counts, engine.Errf(engine.KindInvalidInbound, "duty pool %s/%s: missing batch header", p.BatchID, p.Category)
		}
		if _, err := poolStmt.Exec(p.BatchID, p.Category, p.DutyTotal.String()); err != nil {
			return counts, err
		}
		counts.DutyPools++
	}

	overrideStmt, err := tx.Prepare(`
		INSERT INTO duty_override (batch_id, internal_sku, duty_amount)
		VALUES (?, ?, ?)
		ON CONFLICT(batch_id, internal_sku) DO UPDATE SET
			duty_amount = excluded.duty_amount
	`)
	if err != nil {
		return counts, err
	}
	defer overrideStmt.Close()

	for _, o := range imp.DutyOverrides {
		if !known[o.BatchID] {
			return counts, engine.Errf(engine.KindInvalidInbound, "duty override %s/%s: missing batch header", o.BatchID, o.InternalSKU)
		}
		if _, err := overrideStmt.Exec(o.BatchID, o.InternalSKU, o.DutyAmount.String()); err != nil {
			return counts, err
		}
		counts.DutyOverrides++
	}

	return counts, tx.Commit()
}

func validateImport(imp InboundImport) error {
	for i := range imp.Batches {
		b := &imp.Batches[i]
		b.BatchID = strings.TrimSpace(b.BatchID)
		if b.BatchID == "" {
			return engine.Errf(engine.KindInvalidInbound, "batch with empty batch_id")
		}
		if _, err := time.Parse("2006-01-02", b.InboundDate); err != nil {
			return engine.Errf(engine.KindInvalidInbound, "batch %s: invalid inbound_date %q (want YYYY-MM-DD)", b.BatchID, b.InboundDate)
		}
		if b.FreightTotal.IsNegative() || b.ClearanceTotal.IsNegative() {
			return engine.Errf(engine.KindInvalidInbound, "batch %s: negative freight or clearance total", b.BatchID)
		}
	}
	for i := range imp.Items {
		it := &imp.Items[i]
		it.BatchID = strings.TrimSpace(it.BatchID)
		it.InternalSKU = strings.TrimSpace(it.InternalSKU)
		it.Category = strings.TrimSpace(it.Category)
		if it.BatchID == "" || it.InternalSKU == "" {
			return engine.Errf(engine.KindInvalidInbound, "inbound item with empty batch_id or internal_sku")
		}
		if it.QtyIn <= 0 {
			return engine.Errf(engine.KindInvalidInbound, "item %s/%s: qty_in must be positive", it.BatchID, it.InternalSKU)
		}
		if it.FOBUnit.IsNegative() || it.CBMPerUnit.IsNegative() {
			return engine.Errf(engine.KindInvalidInbound, "item %s/%s: negative fob_unit or cbm_per_unit", it.BatchID, it.InternalSKU)
		}
	}
	for _, p := range imp.DutyPools {
		if p.DutyTotal.IsNegative() {
			return engine.Errf(engine.KindInvalidInbound, "duty pool %s/%s: negative duty_total", p.BatchID, p.Category)
		}
	}
	for _, o := range imp.DutyOverrides {
		if o.DutyAmount.IsNegative() {
			return engine.Errf(engine.KindInvalidInbound, "duty override %s/%s: negative duty_amount", o.BatchID, o.InternalSKU)
		}
	}
	return nil
}

// LoadInbound reads the full inbound ledger in the shape the cost
// allocator consumes.
func (d *DB) LoadInbound() ([]engine.Batch, []engine.InboundItem, []engine.DutyPool, []engine.DutyOverride, error) {
	var batches []engine.Batch
	rows, err := d.sql.Query(`SELECT batch_id, inbound_date, freight_total, clearance_total, marketplace FROM batch ORDER BY batch_id`)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	for rows.Next() {
		var b engine.Batch
		var freight, clearance string
		if err := rows.Scan(&b.BatchID, &b.InboundDate, &freight, &clearance, &b.Marketplace); err != nil {
			rows.Close()
			return nil, nil, nil, nil, err
		}
		b.FreightTotal = decOrZero(freight)
		b.ClearanceTotal = decOrZero(clearance)
		batches = append(batches, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, nil, nil, err
	}

	var items []engine.InboundItem
	rows, err = d.sql.Query(`SELECT batch_id, internal_sku, category, qty_in, fob_unit, cbm_per_unit FROM inbound_item ORDER BY batch_id, internal_sku`)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	for rows.Next() {
		var it engine.InboundItem
		var fob, cbm string
		if err := rows.Scan(&it.BatchID, &it.InternalSKU, &it.Category, &it.QtyIn, &fob, &cbm); err != nil {
			rows.Close()
			return nil, nil, nil, nil, err
		}
		it.FOBUnit = decOrZero(fob)
		it.CBMPerUnit = decOrZero(cbm)
		items = append(items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, nil, nil, err
	}

	var pools []engine.DutyPool
	rows, err = d.sql.Query(`SELECT batch_id, category, duty_total FROM duty_pool ORDER BY batch_id, category`)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	for rows.Next() {
		var p engine.DutyPool
		var duty string
		if err := rows.Scan(&p.BatchID, &p.Category, &duty); err != nil {
			rows.Close()
			return nil, nil, nil, nil, err
		}
		p.DutyTotal = decOrZero(duty)
		pools = append(pools, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, nil, nil, err
	}

	var overrides []engine.DutyOverride
	rows, err = d.sql.Query(`SELECT batch_id, internal_sku, duty_amount FROM duty_override ORDER BY batch_id, internal_sku`)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	for rows.Next() {
		var o engine.DutyOverride
		var amt string
		if err := rows.Scan(&o.BatchID, &o.InternalSKU, &amt); err != nil {
			rows.Close()
			return nil, nil, nil, nil, err
		}
		o.DutyAmount = decOrZero(amt)
		overrides = append(overrides, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, nil, nil, err
	}

	return batches, items, pools, overrides, nil
}

// String formats counts for log lines.
func (c ImportCounts) String() string {
	return fmt.Sprintf("%d batches, %d items, %d duty pools, %d overrides", c.Batches, c.Items, c.DutyPools, c.DutyOverrides)
}

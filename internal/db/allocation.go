package db

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/google/uuid"

	"fifo-costing/internal/engine"
)

const (
	ReversalKindOrder   = "reverse_order"
	ReversalKindRebuild = "rebuild"
)

// RebuildResult reports one month rebuild: the reversal id stamped onto the
// prior allocations and the fresh FIFO outcome.
type RebuildResult struct {
	RebuildID    string                  `json:"rebuild_id"`
	ReversedRows int                     `json:"reversed_rows"`
	Allocated    int64                   `json:"allocated_units"`
	Shortfalls   []engine.ShortfallEvent `json:"shortfalls,omitempty"`
}

// ReversalResult reports one reverse_order call.
type ReversalResult struct {
	ReversalID   string   `json:"reversal_id,omitempty"`
	OrderID      string   `json:"order_id"`
	ReversedRows int      `json:"reversed_rows"`
	ReversedQty  int64    `json:"reversed_qty"`
	Lots         []LotRef `json:"lots,omitempty"`
	Months       []string `json:"months,omitempty"`
}

// LotRef identifies one lot touched by a reversal.
type LotRef struct {
	BatchID     string `json:"batch_id"`
	InternalSKU string `json:"internal_sku"`
	Qty         int64  `json:"qty"`
}

// ReplaceLotCosts overwrites lot_cost with the allocator's output and
// refreshes lot_balance.qty_in from the inbound items, never touching
// qty_sold. lot_cost is exclusively owned by the cost allocator.
func (d *DB) ReplaceLotCosts(costs []engine.LotCost, items []engine.InboundItem) error {
	tx, err := d.sql.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM lot_cost`); err != nil {
		return err
	}

	costStmt, err := tx.Prepare(`
		INSERT INTO lot_cost (batch_id, internal_sku, fob_unit, freight_unit, clearance_unit, duty_unit)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer costStmt.Close()

	for _, c := range costs {
		if _, err := costStmt.Exec(
			c.BatchID, c.InternalSKU,
			c.FOBUnit.String(), c.FreightUnit.String(), c.ClearanceUnit.String(), c.DutyUnit.String(),
		); err != nil {
			return err
		}
	}

	balStmt, err := tx.Prepare(`
		INSERT INTO lot_balance (batch_id, internal_sku, qty_in, qty_sold)
		VALUES (?, ?, ?, 0)
		ON CONFLICT(batch_id, internal_sku) DO UPDATE SET
			qty_in = excluded.qty_in
	`)
	if err != nil {
		return err
	}
	defer balStmt.Close()

	for _, it := range items {
		if _, err := balStmt.Exec(it.BatchID, it.InternalSKU, it.QtyIn); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RebuildMonth atomically reverses the window's live allocations, restores
// the affected balances, replays the demand stream through the FIFO engine
// against the restored snapshot, and persists the fresh allocations.
// Cancellation or any store failure rolls the whole transaction back.
func (d *DB) RebuildMonth(ctx context.Context, start, end time.Time, marketplace string, demands []engine.Demand, allowNegative bool) (*RebuildResult, error) {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rebuildID := uuid.NewString()
	lo := start.UTC().Format(time.RFC3339)
	hi := end.UTC().Format(time.RFC3339)

	reversed, err := reverseWindowTx(ctx, tx, rebuildID, lo, hi, marketplace)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO reversal (reversal_id, order_id, kind, note, created_at)
		VALUES (?, '', ?, ?, ?)
	`, rebuildID, ReversalKindRebuild, "month rebuild "+lo[:7], time.Now().UTC().Format(time.RFC3339)); err != nil {
		return nil, err
	}

	lots, err := lotSnapshotTx(ctx, tx)
	if err != nil {
		return nil, err
	}

	res := engine.AllocateFIFO(demands, lots, allowNegative)

	allocStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO allocation_detail (
			happened_at, order_id, marketplace, internal_sku, batch_id, qty,
			fob_unit, freight_unit, clearance_unit, duty_unit, reversed_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`)
	if err != nil {
		return nil, err
	}
	defer allocStmt.Close()

	for _, a := range res.Allocations {
		if _, err := allocStmt.ExecContext(ctx,
			a.HappenedAt.UTC().Format(time.RFC3339),
			a.OrderID, a.Marketplace, a.InternalSKU, a.BatchID, a.Qty,
			a.FOBUnit.String(), a.FreightUnit.String(), a.ClearanceUnit.String(), a.DutyUnit.String(),
		); err != nil {
			return nil, err
		}
	}

	balStmt, err := tx.PrepareContext(ctx, `
		UPDATE lot_balance SET qty_sold = ? WHERE batch_id = ? AND internal_sku = ?
	`)
	if err != nil {
		return nil, err
	}
	defer balStmt.Close()

	for key, sold := range res.QtySold {
		if _, err := balStmt.ExecContext(ctx, sold, key[0], key[1]); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &RebuildResult{
		RebuildID:    rebuildID,
		ReversedRows: reversed,
		Allocated:    res.AllocatedUnits(),
		Shortfalls:   res.Shortfalls,
	}, nil
}

// reverseWindowTx marks the window's live allocations reversed and restores
// the consumed quantities onto their lots. The synthetic pending lot has no
// balance row; its restore update touches nothing, which is correct.
func reverseWindowTx(ctx context.Context, tx *sql.Tx, reversalID, lo, hi, marketplace string) (int, error) {
	query := `
		SELECT batch_id, internal_sku, SUM(qty), COUNT(*)
		  FROM allocation_detail
		 WHERE reversed_by IS NULL AND happened_at >= ? AND happened_at < ?
	`
	args := []interface{}{lo, hi}
	if marketplace != "" {
		query += ` AND marketplace = ?`
		args = append(args, marketplace)
	}
	query += ` GROUP BY batch_id, internal_sku`

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	type restore struct {
		batchID, sku string
		qty          int64
	}
	var restores []restore
	total := 0
	for rows.Next() {
		var r restore
		var n int
		if err := rows.Scan(&r.batchID, &r.sku, &r.qty, &n); err != nil {
			rows.Close()
			return 0, err
		}
		restores = append(restores, r)
		total += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, r := range restores {
		if _, err := tx.ExecContext(ctx, `
			UPDATE lot_balance SET qty_sold = qty_sold - ?
			 WHERE batch_id = ? AND internal_sku = ?
		`, r.qty, r.batchID, r.sku); err != nil {
			return 0, err
		}
	}

	mark := `
		UPDATE allocation_detail SET reversed_by = ?
		 WHERE reversed_by IS NULL AND happened_at >= ? AND happened_at < ?
	`
	markArgs := []interface{}{reversalID, lo, hi}
	if marketplace != "" {
		mark += ` AND marketplace = ?`
		markArgs = append(markArgs, marketplace)
	}
	if _, err := tx.ExecContext(ctx, mark, markArgs...); err != nil {
		return 0, err
	}
	return total, nil
}

// lotSnapshotTx reads lot balances joined with frozen costs and inbound
// dates, inside the rebuild transaction so the restored balances are seen.
func lotSnapshotTx(ctx context.Context, tx *sql.Tx) ([]engine.Lot, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT lb.batch_id, lb.internal_sku, b.inbound_date, lb.qty_in, lb.qty_sold,
		       COALESCE(lc.fob_unit, '0'), COALESCE(lc.freight_unit, '0'),
		       COALESCE(lc.clearance_unit, '0'), COALESCE(lc.duty_unit, '0')
		  FROM lot_balance lb
		  JOIN batch b ON b.batch_id = lb.batch_id
		  LEFT JOIN lot_cost lc ON lc.batch_id = lb.batch_id AND lc.internal_sku = lb.internal_sku
		 ORDER BY b.inbound_date, lb.batch_id, lb.internal_sku
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lots []engine.Lot
	for rows.Next() {
		var l engine.Lot
		var fob, freight, clearance, duty string
		if err := rows.Scan(&l.BatchID, &l.InternalSKU, &l.InboundDate, &l.QtyIn, &l.QtySold,
			&fob, &freight, &clearance, &duty); err != nil {
			return nil, err
		}
		l.FOBUnit = decOrZero(fob)
		l.FreightUnit = decOrZero(freight)
		l.ClearanceUnit = decOrZero(clearance)
		l.DutyUnit = decOrZero(duty)
		lots = append(lots, l)
	}
	return lots, rows.Err()
}

// ReverseOrder reverses all live allocations for one order_id, restoring
// the consumed units onto their source lots. Idempotent: a second call
// finds no live rows and changes nothing. Rows are never deleted; the
// audit trail is preserved via reversed_by and the reversal table.
// Does not rebuild or re-summarize; the affected months come back so the
// caller knows what is stale.
func (d *DB) ReverseOrder(orderID, note string, loc *time.Location) (*ReversalResult, error) {
	tx, err := d.sql.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT id, batch_id, internal_sku, qty, happened_at
		  FROM allocation_detail
		 WHERE order_id = ? AND reversed_by IS NULL
	`, orderID)
	if err != nil {
		return nil, err
	}
	type live struct {
		id           int64
		batchID, sku string
		qty          int64
		happenedAt   string
	}
	var lives []live
	for rows.Next() {
		var l live
		if err := rows.Scan(&l.id, &l.batchID, &l.sku, &l.qty, &l.happenedAt); err != nil {
			rows.Close()
			return nil, err
		}
		lives = append(lives, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := &ReversalResult{OrderID: orderID}
	if len(lives) == 0 {
		return result, tx.Commit()
	}

	reversalID := uuid.NewString()
	result.ReversalID = reversalID

	lotQty := make(map[[2]string]int64)
	months := make(map[string]struct{})
	for _, l := range lives {
		lotQty[[2]string{l.batchID, l.sku}] += l.qty
		result.ReversedQty += l.qty
		if t, err := time.Parse(time.RFC3339, l.happenedAt); err == nil {
			months[engine.MonthOf(t, loc)] = struct{}{}
		}
		if _, err := tx.Exec(`UPDATE allocation_detail SET reversed_by = ? WHERE id = ?`, reversalID, l.id); err != nil {
			return nil, err
		}
		result.ReversedRows++
	}

	for key, qty := range lotQty {
		if _, err := tx.Exec(`
			UPDATE lot_balance SET qty_sold = qty_sold - ?
			 WHERE batch_id = ? AND internal_sku = ?
		`, qty, key[0], key[1]); err != nil {
			return nil, err
		}
		result.Lots = append(result.Lots, LotRef{BatchID: key[0], InternalSKU: key[1], Qty: qty})
	}

	if _, err := tx.Exec(`
		INSERT INTO reversal (reversal_id, order_id, kind, note, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, reversalID, orderID, ReversalKindOrder, note, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return nil, err
	}

	for m := range months {
		result.Months = append(result.Months, m)
	}
	sort.Strings(result.Months)
	sortLotRefs(result.Lots)

	return result, tx.Commit()
}

func sortLotRefs(refs []LotRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].BatchID != refs[j].BatchID {
			return refs[i].BatchID < refs[j].BatchID
		}
		return refs[i].InternalSKU < refs[j].InternalSKU
	})
}

// LiveAllocationsInWindow returns live allocation rows with happened_at in
// [start, end), in insertion order. Input to the month summarizer.
func (d *DB) LiveAllocationsInWindow(start, end time.Time) ([]engine.Allocation, error) {
	rows, err := d.sql.Query(`
		SELECT happened_at, order_id, marketplace, internal_sku, batch_id, qty,
		       fob_unit, freight_unit, clearance_unit, duty_unit
		  FROM allocation_detail
		 WHERE reversed_by IS NULL AND happened_at >= ? AND happened_at < ?
		 ORDER BY id
	`, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Allocation
	for rows.Next() {
		var a engine.Allocation
		var happened, fob, freight, clearance, duty string
		if err := rows.Scan(&happened, &a.OrderID, &a.Marketplace, &a.InternalSKU, &a.BatchID, &a.Qty,
			&fob, &freight, &clearance, &duty); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339, happened); err == nil {
			a.HappenedAt = t.UTC()
		}
		a.FOBUnit = decOrZero(fob)
		a.FreightUnit = decOrZero(freight)
		a.ClearanceUnit = decOrZero(clearance)
		a.DutyUnit = decOrZero(duty)
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveMonthSummaries replaces the month's summary rows in one transaction.
func (d *DB) SaveMonthSummaries(ym string, summaries []engine.MonthSummary) error {
	tx, err := d.sql.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM month_summary WHERE ym = ?`, ym); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO month_summary (ym, marketplace, orders, units, fob, freight, clearance, duty, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range summaries {
		if _, err := stmt.Exec(
			s.YM, s.Marketplace, s.Orders, s.Units,
			s.FOB.String(), s.Freight.String(), s.Clearance.String(), s.Duty.String(),
			s.UpdatedAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// MonthSummaries returns the stored summary rows for one month (all months
// when ym is empty), most recent month first, ALL row last per month.
func (d *DB) MonthSummaries(ym string) ([]engine.MonthSummary, error) {
	query := `
		SELECT ym, marketplace, orders, units, fob, freight, clearance, duty, updated_at
		  FROM month_summary
	`
	var args []interface{}
	if ym != "" {
		query += ` WHERE ym = ?`
		args = append(args, ym)
	}
	query += ` ORDER BY ym DESC, marketplace = 'ALL', marketplace`

	rows, err := d.sql.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.MonthSummary
	for rows.Next() {
		var s engine.MonthSummary
		var fob, freight, clearance, duty string
		if err := rows.Scan(&s.YM, &s.Marketplace, &s.Orders, &s.Units, &fob, &freight, &clearance, &duty, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.FOB = decOrZero(fob)
		s.Freight = decOrZero(freight)
		s.Clearance = decOrZero(clearance)
		s.Duty = decOrZero(duty)
		out = append(out, s)
	}
	return out, rows.Err()
}

// InventoryRow is one lot balance with its inbound date, for the
// get_inventory command.
type InventoryRow struct {
	BatchID     string `json:"batch_id"`
	InternalSKU string `json:"internal_sku"`
	InboundDate string `json:"inbound_date"`
	QtyIn       int64  `json:"qty_in"`
	QtySold     int64  `json:"qty_sold"`
	Remaining   int64  `json:"remaining"`
}

// InventoryRows returns current lot balances in FIFO order, optionally
// filtered to one internal SKU.
func (d *DB) InventoryRows(sku string) ([]InventoryRow, error) {
	query := `
		SELECT lb.batch_id, lb.internal_sku, b.inbound_date, lb.qty_in, lb.qty_sold
		  FROM lot_balance lb
		  JOIN batch b ON b.batch_id = lb.batch_id
	`
	var args []interface{}
	if sku != "" {
		query += ` WHERE lb.internal_sku = ?`
		args = append(args, sku)
	}
	query += ` ORDER BY lb.internal_sku, b.inbound_date, lb.batch_id`

	rows, err := d.sql.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InventoryRow
	for rows.Next() {
		var r InventoryRow
		if err := rows.Scan(&r.BatchID, &r.InternalSKU, &r.InboundDate, &r.QtyIn, &r.QtySold); err != nil {
			return nil, err
		}
		r.Remaining = r.QtyIn - r.QtySold
		out = append(out, r)
	}
	return out, rows.Err()
}

// AllocationsForOrder returns every allocation row for an order, live and
// reversed, oldest first.
func (d *DB) AllocationsForOrder(orderID string) ([]engine.Allocation, []string, error) {
	rows, err := d.sql.Query(`
		SELECT happened_at, order_id, marketplace, internal_sku, batch_id, qty,
		       fob_unit, freight_unit, clearance_unit, duty_unit, COALESCE(reversed_by, '')
		  FROM allocation_detail
		 WHERE order_id = ?
		 ORDER BY id
	`, orderID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var out []engine.Allocation
	var reversedBy []string
	for rows.Next() {
		var a engine.Allocation
		var happened, fob, freight, clearance, duty, rev string
		if err := rows.Scan(&happened, &a.OrderID, &a.Marketplace, &a.InternalSKU, &a.BatchID, &a.Qty,
			&fob, &freight, &clearance, &duty, &rev); err != nil {
			return nil, nil, err
		}
		if t, err := time.Parse(time.RFC3339, happened); err == nil {
			a.HappenedAt = t.UTC()
		}
		a.FOBUnit = decOrZero(fob)
		a.FreightUnit = decOrZero(freight)
		a.ClearanceUnit = decOrZero(clearance)
		a.DutyUnit = decOrZero(duty)
		out = append(out, a)
		reversedBy = append(reversedBy, rev)
	}
	return out, reversedBy, rows.Err()
}

package db

import (
	"fmt"
	"time"

	"fifo-costing/internal/engine"
)

// InsertSalesRows appends raw transaction rows, deduplicated on
// (marketplace, order_id, amazon_sku, happened_at). One call is one
// transaction (one uploaded file). Returns the number of newly inserted
// rows; re-importing the same file is a no-op.
func (d *DB) InsertSalesRows(rows []engine.SalesRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := d.sql.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO sales_raw (happened_at, type, order_id, marketplace, amazon_sku, qty)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(marketplace, order_id, amazon_sku, happened_at) DO NOTHING
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, r := range rows {
		res, err := stmt.Exec(
			r.HappenedAt.UTC().Format(time.RFC3339),
			r.Type, r.OrderID, r.Marketplace, r.AmazonSKU, r.Qty,
		)
		if err != nil {
			return 0, err
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// SalesRowsInWindow returns raw rows with happened_at in [start, end),
// optionally filtered to one marketplace, ordered for the normalizer.
func (d *DB) SalesRowsInWindow(start, end time.Time, marketplace string) ([]engine.SalesRow, error) {
	query := `
		SELECT happened_at, type, order_id, marketplace, amazon_sku, qty
		  FROM sales_raw
		 WHERE happened_at >= ? AND happened_at < ?
	`
	args := []interface{}{start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339)}
	if marketplace != "" {
		query += ` AND marketplace = ?`
		args = append(args, marketplace)
	}
	query += ` ORDER BY happened_at, order_id, amazon_sku`

	rows, err := d.sql.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.SalesRow
	for rows.Next() {
		var r engine.SalesRow
		var happened string
		if err := rows.Scan(&happened, &r.Type, &r.OrderID, &r.Marketplace, &r.AmazonSKU, &r.Qty); err != nil {
			return nil, err
		}
		// This package only ever writes RFC3339, so a parse failure means
		// the row is corrupt and must not be silently dropped.
		t, err := time.Parse(time.RFC3339, happened)
		if err != nil {
			return nil, fmt.Errorf("sales_raw %s/%s: bad happened_at %q: %w", r.OrderID, r.AmazonSKU, happened, err)
		}
		r.HappenedAt = t.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

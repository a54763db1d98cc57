package db

import (
	"database/sql"
	"fmt"

	"fifo-costing/internal/logger"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite store holding catalog, inbound, sales, and the
// allocation ledger.
type DB struct {
	sql *sql.DB
}

// Open opens (or creates) the SQLite database at path and runs migrations.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	d := &DB{sql: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	logger.Success("DB", fmt.Sprintf("Opened %s", path))
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) migrate() error {
	version := 0
	// Try to read current version
	d.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS config (
				key   TEXT PRIMARY KEY,
				value TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS product (
				internal_sku TEXT PRIMARY KEY,
				category     TEXT NOT NULL DEFAULT '',
				cbm_per_unit TEXT NOT NULL DEFAULT '0'
			);

			CREATE TABLE IF NOT EXISTS sku_map (
				marketplace     TEXT NOT NULL,
				amazon_sku      TEXT NOT NULL,
				internal_sku    TEXT NOT NULL,
				unit_multiplier TEXT NOT NULL,
				active          INTEGER NOT NULL DEFAULT 1,
				PRIMARY KEY (marketplace, amazon_sku, internal_sku)
			);

			CREATE TABLE IF NOT EXISTS batch (
				batch_id        TEXT PRIMARY KEY,
				inbound_date    TEXT NOT NULL,
				freight_total   TEXT NOT NULL DEFAULT '0',
				clearance_total TEXT NOT NULL DEFAULT '0',
				marketplace     TEXT NOT NULL DEFAULT ''
			);

			CREATE TABLE IF NOT EXISTS inbound_item (
				batch_id     TEXT NOT NULL,
				internal_sku TEXT NOT NULL,
				category     TEXT NOT NULL DEFAULT '',
				qty_in       INTEGER NOT NULL,
				fob_unit     TEXT NOT NULL DEFAULT '0',
				cbm_per_unit TEXT NOT NULL DEFAULT '0',
				PRIMARY KEY (batch_id, internal_sku)
			);

			CREATE TABLE IF NOT EXISTS duty_pool (
				batch_id   TEXT NOT NULL,
				category   TEXT NOT NULL,
				duty_total TEXT NOT NULL DEFAULT '0',
				PRIMARY KEY (batch_id, category)
			);

			CREATE TABLE IF NOT EXISTS duty_override (
				batch_id     TEXT NOT NULL,
				internal_sku TEXT NOT NULL,
				duty_amount  TEXT NOT NULL DEFAULT '0',
				PRIMARY KEY (batch_id, internal_sku)
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
		logger.Info("DB", "Applied migration v1 (catalog & inbound)")
	}

	if version < 2 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS sales_raw (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				happened_at TEXT NOT NULL,
				type        TEXT NOT NULL,
				order_id    TEXT NOT NULL,
				marketplace TEXT NOT NULL,
				amazon_sku  TEXT NOT NULL,
				qty         INTEGER NOT NULL,
				payload     TEXT NOT NULL DEFAULT '{}',
				UNIQUE (marketplace, order_id, amazon_sku, happened_at)
			);
			CREATE INDEX IF NOT EXISTS idx_sales_raw_happened ON sales_raw(happened_at);

			INSERT OR IGNORE INTO schema_version (version) VALUES (2);
		`)
		if err != nil {
			return fmt.Errorf("migration v2: %w", err)
		}
		logger.Info("DB", "Applied migration v2 (sales raw)")
	}

	if version < 3 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS lot_cost (
				batch_id       TEXT NOT NULL,
				internal_sku   TEXT NOT NULL,
				fob_unit       TEXT NOT NULL,
				freight_unit   TEXT NOT NULL,
				clearance_unit TEXT NOT NULL,
				duty_unit      TEXT NOT NULL,
				PRIMARY KEY (batch_id, internal_sku)
			);

			CREATE TABLE IF NOT EXISTS lot_balance (
				batch_id     TEXT NOT NULL,
				internal_sku TEXT NOT NULL,
				qty_in       INTEGER NOT NULL,
				qty_sold     INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (batch_id, internal_sku),
				CHECK (qty_sold >= 0 AND qty_sold <= qty_in)
			);

			CREATE TABLE IF NOT EXISTS allocation_detail (
				id             INTEGER PRIMARY KEY AUTOINCREMENT,
				happened_at    TEXT NOT NULL,
				order_id       TEXT NOT NULL,
				marketplace    TEXT NOT NULL,
				internal_sku   TEXT NOT NULL,
				batch_id       TEXT NOT NULL,
				qty            INTEGER NOT NULL CHECK (qty > 0),
				fob_unit       TEXT NOT NULL,
				freight_unit   TEXT NOT NULL,
				clearance_unit TEXT NOT NULL,
				duty_unit      TEXT NOT NULL,
				reversed_by    TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_alloc_order ON allocation_detail(order_id);
			CREATE INDEX IF NOT EXISTS idx_alloc_happened ON allocation_detail(happened_at);

			CREATE TABLE IF NOT EXISTS reversal (
				reversal_id TEXT PRIMARY KEY,
				order_id    TEXT NOT NULL DEFAULT '',
				kind        TEXT NOT NULL,
				note        TEXT NOT NULL DEFAULT '',
				created_at  TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS month_summary (
				ym          TEXT NOT NULL,
				marketplace TEXT NOT NULL,
				orders      INTEGER NOT NULL,
				units       INTEGER NOT NULL,
				fob         TEXT NOT NULL,
				freight     TEXT NOT NULL,
				clearance   TEXT NOT NULL,
				duty        TEXT NOT NULL,
				updated_at  TEXT NOT NULL,
				PRIMARY KEY (ym, marketplace)
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (3);
		`)
		if err != nil {
			return fmt.Errorf("migration v3: %w", err)
		}
		logger.Info("DB", "Applied migration v3 (allocation ledger)")
	}

	return nil
}

// SqlDB returns the underlying *sql.DB for use by other packages.
func (d *DB) SqlDB() *sql.DB {
	return d.sql
}

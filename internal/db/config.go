package db

import (
	"strconv"

	"fifo-costing/internal/config"
)

// LoadConfig reads runtime config from SQLite. Keys never written fall
// back to defaults, so new fields pick up their default on upgrade.
func (d *DB) LoadConfig() *config.Config {
	cfg := config.Default()

	rows, err := d.sql.Query(`SELECT key, value FROM config`)
	if err != nil {
		return cfg
	}
	defer rows.Close()

	m := make(map[string]string)
	for rows.Next() {
		var k, v string
		rows.Scan(&k, &v)
		m[k] = v
	}

	if len(m) == 0 {
		return cfg
	}

	if v, ok := m["order_type_label"]; ok {
		cfg.OrderTypeLabel = v
	}
	if v, ok := m["reporting_timezone"]; ok {
		cfg.ReportingTimezone = v
	}
	if v, ok := m["default_marketplace"]; ok {
		cfg.DefaultMarketplace = v
	}
	if v, ok := m["allow_negative_lots"]; ok {
		cfg.AllowNegativeLots, _ = strconv.ParseBool(v)
	}
	if v, ok := m["integer_kit_multipliers"]; ok {
		cfg.IntegerKitMultipliers, _ = strconv.ParseBool(v)
	}
	if v, ok := m["rebuild_timeout_minutes"]; ok {
		cfg.RebuildTimeoutMinutes, _ = strconv.Atoi(v)
	}

	return cfg
}

// HasConfig reports whether any config keys have been persisted yet.
func (d *DB) HasConfig() bool {
	var n int
	d.sql.QueryRow(`SELECT COUNT(*) FROM config`).Scan(&n)
	return n > 0
}

// SaveConfig writes runtime config to SQLite (upsert all fields).
func (d *DB) SaveConfig(cfg *config.Config) error {
	pairs := map[string]string{
		"order_type_label":        cfg.OrderTypeLabel,
		"reporting_timezone":      cfg.ReportingTimezone,
		"default_marketplace":     cfg.DefaultMarketplace,
		"allow_negative_lots":     strconv.FormatBool(cfg.AllowNegativeLots),
		"integer_kit_multipliers": strconv.FormatBool(cfg.IntegerKitMultipliers),
		"rebuild_timeout_minutes": strconv.Itoa(cfg.RebuildTimeoutMinutes),
	}

	tx, err := d.sql.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO config (key, value) VALUES (?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for k, v := range pairs {
		if _, err := stmt.Exec(k, v); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

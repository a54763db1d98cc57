package db

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"fifo-costing/internal/engine"
)

// Product is one internal catalog entry.
type Product struct {
	InternalSKU string          `json:"internal_sku"`
	Category    string          `json:"category"`
	CBMPerUnit  decimal.Decimal `json:"cbm_per_unit"`
}

// SkuMapping is one marketplace-SKU → internal-SKU component with a
// multiplicity. Several active rows for the same (marketplace, amazon_sku)
// form a kit.
type SkuMapping struct {
	Marketplace    string          `json:"marketplace"`
	AmazonSKU      string          `json:"amazon_sku"`
	InternalSKU    string          `json:"internal_sku"`
	UnitMultiplier decimal.Decimal `json:"unit_multiplier"`
	Active         bool            `json:"active"`
}

func normalizeSKU(s string) string {
	return strings.TrimSpace(s)
}

// UpsertProducts inserts or updates catalog entries.
func (d *DB) UpsertProducts(products []Product) (int, error) {
	if len(products) == 0 {
		return 0, nil
	}
	tx, err := d.sql.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO product (internal_sku, category, cbm_per_unit)
		VALUES (?, ?, ?)
		ON CONFLICT(internal_sku) DO UPDATE SET
			category = excluded.category,
			cbm_per_unit = excluded.cbm_per_unit
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	n := 0
	for _, p := range products {
		sku := normalizeSKU(p.InternalSKU)
		if sku == "" {
			continue
		}
		if p.CBMPerUnit.IsNegative() {
			return 0, fmt.Errorf("product %s: negative cbm_per_unit", sku)
		}
		if _, err := stmt.Exec(sku, strings.TrimSpace(p.Category), p.CBMPerUnit.String()); err != nil {
			return 0, err
		}
		n++
	}
	return n, tx.Commit()
}

// ListProducts returns the catalog ordered by internal_sku.
func (d *DB) ListProducts() ([]Product, error) {
	rows, err := d.sql.Query(`
		SELECT internal_sku, category, cbm_per_unit
		  FROM product
		 ORDER BY internal_sku
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		var cbm string
		if err := rows.Scan(&p.InternalSKU, &p.Category, &cbm); err != nil {
			return nil, err
		}
		p.CBMPerUnit = decOrZero(cbm)
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertSkuMappings inserts or updates sku_map rows. With integerOnly the
// default catalog policy rejects fractional multipliers.
func (d *DB) UpsertSkuMappings(mappings []SkuMapping, integerOnly bool) (int, error) {
	if len(mappings) == 0 {
		return 0, nil
	}
	tx, err := d.sql.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO sku_map (marketplace, amazon_sku, internal_sku, unit_multiplier, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(marketplace, amazon_sku, internal_sku) DO UPDATE SET
			unit_multiplier = excluded.unit_multiplier,
			active = excluded.active
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	n := 0
	for _, m := range mappings {
		mkt := strings.TrimSpace(m.Marketplace)
		azn := normalizeSKU(m.AmazonSKU)
		sku := normalizeSKU(m.InternalSKU)
		if mkt == "" || azn == "" || sku == "" {
			continue
		}
		if !m.UnitMultiplier.IsPositive() {
			return 0, fmt.Errorf("sku_map %s/%s/%s: unit_multiplier must be positive", mkt, azn, sku)
		}
		if integerOnly && !m.UnitMultiplier.IsInteger() {
			return 0, fmt.Errorf("sku_map %s/%s/%s: fractional unit_multiplier %s not allowed by catalog policy", mkt, azn, sku, m.UnitMultiplier)
		}
		active := 0
		if m.Active {
			active = 1
		}
		if _, err := stmt.Exec(mkt, azn, sku, m.UnitMultiplier.String(), active); err != nil {
			return 0, err
		}
		n++
	}
	return n, tx.Commit()
}

// ListSkuMappings returns all sku_map rows, active or not.
func (d *DB) ListSkuMappings() ([]SkuMapping, error) {
	rows, err := d.sql.Query(`
		SELECT marketplace, amazon_sku, internal_sku, unit_multiplier, active
		  FROM sku_map
		 ORDER BY marketplace, amazon_sku, internal_sku
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SkuMapping
	for rows.Next() {
		var m SkuMapping
		var mult string
		var active int
		if err := rows.Scan(&m.Marketplace, &m.AmazonSKU, &m.InternalSKU, &mult, &active); err != nil {
			return nil, err
		}
		m.UnitMultiplier = decOrZero(mult)
		m.Active = active != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// ActiveMappings returns the active sku_map rows in the shape the sales
// normalizer consumes.
func (d *DB) ActiveMappings() ([]engine.Mapping, error) {
	rows, err := d.sql.Query(`
		SELECT marketplace, amazon_sku, internal_sku, unit_multiplier
		  FROM sku_map
		 WHERE active = 1
		 ORDER BY marketplace, amazon_sku, internal_sku
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Mapping
	for rows.Next() {
		var m engine.Mapping
		var mult string
		if err := rows.Scan(&m.Marketplace, &m.AmazonSKU, &m.InternalSKU, &mult); err != nil {
			return nil, err
		}
		m.UnitMultiplier = decOrZero(mult)
		out = append(out, m)
	}
	return out, rows.Err()
}

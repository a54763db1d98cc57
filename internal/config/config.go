package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds runtime settings for the costing core (in-memory
// representation). Persistence of user-edited values is handled by the
// internal/db package; an optional YAML file seeds the initial values.
type Config struct {
	// OrderTypeLabel is the sales_raw type value that marks an order row.
	// Matching is case-insensitive and whitespace-tolerant.
	OrderTypeLabel string `json:"order_type_label" yaml:"order_type_label"`

	// ReportingTimezone resolves YYYY-MM month boundaries. Storage stays UTC.
	ReportingTimezone string `json:"reporting_timezone" yaml:"reporting_timezone"`

	// DefaultMarketplace is assumed for sales rows without a marketplace column.
	DefaultMarketplace string `json:"default_marketplace" yaml:"default_marketplace"`

	// AllowNegativeLots permits allocating unfilled demand against the
	// synthetic pending lot instead of leaving it unallocated.
	AllowNegativeLots bool `json:"allow_negative_lots" yaml:"allow_negative_lots"`

	// IntegerKitMultipliers rejects non-integer unit multipliers at
	// sku_map upsert time (the default catalog policy).
	IntegerKitMultipliers bool `json:"integer_kit_multipliers" yaml:"integer_kit_multipliers"`

	// RebuildTimeoutMinutes bounds one month rebuild; on expiry the
	// transaction is rolled back.
	RebuildTimeoutMinutes int `json:"rebuild_timeout_minutes" yaml:"rebuild_timeout_minutes"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		OrderTypeLabel:        "Order",
		ReportingTimezone:     "UTC",
		DefaultMarketplace:    "US",
		AllowNegativeLots:     false,
		IntegerKitMultipliers: true,
		RebuildTimeoutMinutes: 10,
	}
}

// LoadFile reads a YAML config file over the defaults. A missing file is
// not an error; a malformed one is.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Location resolves the reporting timezone, falling back to UTC when the
// configured name does not load.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ReportingTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// RebuildTimeout returns the rebuild deadline as a duration.
func (c *Config) RebuildTimeout() time.Duration {
	if c.RebuildTimeoutMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.RebuildTimeoutMinutes) * time.Minute
}

package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// PendingBatchID is the synthetic lot used when allow_negative_lots permits
// allocating demand that exceeds on-hand inventory. It carries zero costs
// and never touches a real lot balance.
const PendingBatchID = "PENDING"

// Batch is one container arrival: an indivisible cost unit identified by
// batch_id and dated by inbound_date (YYYY-MM-DD).
type Batch struct {
	BatchID        string          `json:"batch_id"`
	InboundDate    string          `json:"inbound_date"`
	FreightTotal   decimal.Decimal `json:"freight_total"`
	ClearanceTotal decimal.Decimal `json:"clearance_total"`
	Marketplace    string          `json:"marketplace,omitempty"`
}

// InboundItem is one (batch, internal_sku) line of an arrival.
type InboundItem struct {
	BatchID     string          `json:"batch_id"`
	InternalSKU string          `json:"internal_sku"`
	Category    string          `json:"category"`
	QtyIn       int64           `json:"qty_in"`
	FOBUnit     decimal.Decimal `json:"fob_unit"`
	CBMPerUnit  decimal.Decimal `json:"cbm_per_unit"`
}

// DutyPool is a (batch, category) bucket of customs duty, distributed
// across the category's items by FOB-value share.
type DutyPool struct {
	BatchID   string          `json:"batch_id"`
	Category  string          `json:"category"`
	DutyTotal decimal.Decimal `json:"duty_total"`
}

// DutyOverride pins a fixed duty total on one (batch, internal_sku),
// bypassing the category pool distribution for that item.
type DutyOverride struct {
	BatchID     string          `json:"batch_id"`
	InternalSKU string          `json:"internal_sku"`
	DutyAmount  decimal.Decimal `json:"duty_amount"`
}

// LotCost is the per-unit landed cost of one (batch, internal_sku) lot.
type LotCost struct {
	BatchID       string          `json:"batch_id"`
	InternalSKU   string          `json:"internal_sku"`
	FOBUnit       decimal.Decimal `json:"fob_unit"`
	FreightUnit   decimal.Decimal `json:"freight_unit"`
	ClearanceUnit decimal.Decimal `json:"clearance_unit"`
	DutyUnit      decimal.Decimal `json:"duty_unit"`
}

// SalesRow is one raw marketplace transaction line.
type SalesRow struct {
	HappenedAt  time.Time `json:"happened_at"`
	Type        string    `json:"type"`
	OrderID     string    `json:"order_id"`
	Marketplace string    `json:"marketplace"`
	AmazonSKU   string    `json:"amazon_sku"`
	Qty         int64     `json:"qty"`
}

// Mapping is one active sku_map row: a marketplace SKU component mapped to
// an internal SKU with a multiplicity. Several rows for the same
// (marketplace, amazon_sku) form a kit.
type Mapping struct {
	Marketplace    string          `json:"marketplace"`
	AmazonSKU      string          `json:"amazon_sku"`
	InternalSKU    string          `json:"internal_sku"`
	UnitMultiplier decimal.Decimal `json:"unit_multiplier"`
}

// Demand is one internal-SKU requirement produced by the sales normalizer.
// The FIFO engine consumes demands regardless of origin (orders, fixtures,
// a future returns stream).
type Demand struct {
	OrderID         string    `json:"order_id"`
	Seq             int       `json:"seq"`
	HappenedAt      time.Time `json:"happened_at"`
	Marketplace     string    `json:"marketplace"`
	InternalSKU     string    `json:"internal_sku"`
	SourceAmazonSKU string    `json:"source_amazon_sku"`
	Qty             int64     `json:"qty"`
}

// Lot is a FIFO consumption snapshot: a lot balance joined with its frozen
// per-unit costs and the batch inbound date.
type Lot struct {
	BatchID       string
	InternalSKU   string
	InboundDate   string
	QtyIn         int64
	QtySold       int64
	FOBUnit       decimal.Decimal
	FreightUnit   decimal.Decimal
	ClearanceUnit decimal.Decimal
	DutyUnit      decimal.Decimal
}

// Remaining returns the unconsumed units of the lot.
func (l *Lot) Remaining() int64 {
	return l.QtyIn - l.QtySold
}

// Allocation binds sold units to the specific lot they were drawn from,
// carrying that lot's per-unit cost components at allocation time.
type Allocation struct {
	HappenedAt    time.Time       `json:"happened_at"`
	OrderID       string          `json:"order_id"`
	Marketplace   string          `json:"marketplace"`
	InternalSKU   string          `json:"internal_sku"`
	BatchID       string          `json:"batch_id"`
	Qty           int64           `json:"qty"`
	FOBUnit       decimal.Decimal `json:"fob_unit"`
	FreightUnit   decimal.Decimal `json:"freight_unit"`
	ClearanceUnit decimal.Decimal `json:"clearance_unit"`
	DutyUnit      decimal.Decimal `json:"duty_unit"`
}

// ShortfallEvent records demand the FIFO engine could not fill.
type ShortfallEvent struct {
	OrderID     string    `json:"order_id"`
	InternalSKU string    `json:"internal_sku"`
	Marketplace string    `json:"marketplace"`
	HappenedAt  time.Time `json:"happened_at"`
	Requested   int64     `json:"requested"`
	Short       int64     `json:"short"`
}

// UnmappedSale records a sales row with no sku_map coverage; it is reported
// but never allocated.
type UnmappedSale struct {
	Marketplace string `json:"marketplace"`
	AmazonSKU   string `json:"amazon_sku"`
	OrderID     string `json:"order_id"`
	Qty         int64  `json:"qty"`
}

// MonthSummary is one (ym, marketplace) aggregate over live allocations.
// Marketplace "ALL" carries the cross-marketplace totals.
type MonthSummary struct {
	YM          string          `json:"ym"`
	Marketplace string          `json:"marketplace"`
	Orders      int64           `json:"orders"`
	Units       int64           `json:"units"`
	FOB         decimal.Decimal `json:"fob"`
	Freight     decimal.Decimal `json:"freight"`
	Clearance   decimal.Decimal `json:"clearance"`
	Duty        decimal.Decimal `json:"duty"`
	UpdatedAt   string          `json:"updated_at"`
}

// AllMarketplaces is the synthetic marketplace key for the total row.
const AllMarketplaces = "ALL"

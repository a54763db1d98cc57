package db

import (
	"context"
	"testing"
	"time"

	"fifo-costing/internal/engine"
)

// seedLots imports the single-batch inbound fixture and freezes its costs:
// B1 2025-01-05, sku A qty 10, fob 3.00, freight 2.00/u, clearance 0.50/u,
// duty 1.00/u.
func seedLots(t *testing.T, d *DB) {
	t.Helper()
	imp := testImport(t)
	if _, err := d.ImportInbound(imp); err != nil {
		t.Fatalf("seed import: %v", err)
	}
	batches, items, pools, overrides, err := d.LoadInbound()
	if err != nil {
		t.Fatalf("seed load: %v", err)
	}
	costs, _, err := engine.ComputeLotCosts(batches, items, pools, overrides)
	if err != nil {
		t.Fatalf("seed costs: %v", err)
	}
	if err := d.ReplaceLotCosts(costs, items); err != nil {
		t.Fatalf("seed replace: %v", err)
	}
}

func januaryWindow(t *testing.T) (time.Time, time.Time) {
	t.Helper()
	start, end, err := engine.MonthWindow("2025-01", time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	return start, end
}

func demandFixture(t *testing.T, orderID string, day int, qty int64) engine.Demand {
	t.Helper()
	return engine.Demand{
		OrderID:     orderID,
		HappenedAt:  time.Date(2025, 1, day, 12, 0, 0, 0, time.UTC),
		Marketplace: "US",
		InternalSKU: "A",
		Qty:         qty,
	}
}

func rebuildJanuary(t *testing.T, d *DB, demands []engine.Demand) *RebuildResult {
	t.Helper()
	start, end := januaryWindow(t)
	res, err := d.RebuildMonth(context.Background(), start, end, "", demands, false)
	if err != nil {
		t.Fatalf("RebuildMonth: %v", err)
	}
	return res
}

func lotBalance(t *testing.T, d *DB, batchID, sku string) (qtyIn, qtySold int64) {
	t.Helper()
	err := d.sql.QueryRow(`SELECT qty_in, qty_sold FROM lot_balance WHERE batch_id=? AND internal_sku=?`, batchID, sku).
		Scan(&qtyIn, &qtySold)
	if err != nil {
		t.Fatalf("read balance %s/%s: %v", batchID, sku, err)
	}
	return
}

func TestReplaceLotCosts_SeedsBalances(t *testing.T) {
	d := openTestDB(t)
	seedLots(t, d)

	qtyIn, qtySold := lotBalance(t, d, "B1", "A")
	if qtyIn != 10 || qtySold != 0 {
		t.Errorf("balance = %d/%d, want 10/0", qtyIn, qtySold)
	}

	var fob, freight, clearance, duty string
	err := d.sql.QueryRow(`SELECT fob_unit, freight_unit, clearance_unit, duty_unit FROM lot_cost WHERE batch_id='B1' AND internal_sku='A'`).
		Scan(&fob, &freight, &clearance, &duty)
	if err != nil {
		t.Fatalf("read lot_cost: %v", err)
	}
	if !decOrZero(fob).Equal(mustDec(t, "3.00")) || !decOrZero(freight).Equal(mustDec(t, "2")) ||
		!decOrZero(clearance).Equal(mustDec(t, "0.5")) || !decOrZero(duty).Equal(mustDec(t, "1")) {
		t.Errorf("lot_cost = %s/%s/%s/%s", fob, freight, clearance, duty)
	}
}

func TestReplaceLotCosts_PreservesQtySold(t *testing.T) {
	d := openTestDB(t)
	seedLots(t, d)
	rebuildJanuary(t, d, []engine.Demand{demandFixture(t, "O1", 10, 10)})

	// inbound correction: qty_in grows, costs re-freeze
	imp := testImport(t)
	imp.Items[0].QtyIn = 12
	if _, err := d.ImportInbound(imp); err != nil {
		t.Fatal(err)
	}
	batches, items, pools, overrides, _ := d.LoadInbound()
	costs, _, err := engine.ComputeLotCosts(batches, items, pools, overrides)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.ReplaceLotCosts(costs, items); err != nil {
		t.Fatalf("ReplaceLotCosts: %v", err)
	}

	qtyIn, qtySold := lotBalance(t, d, "B1", "A")
	if qtyIn != 12 {
		t.Errorf("qty_in = %d, want refreshed 12", qtyIn)
	}
	if qtySold != 10 {
		t.Errorf("qty_sold = %d, cost rebuild must not touch consumption", qtySold)
	}
}

func TestRebuildMonth_AllocatesAndBalances(t *testing.T) {
	d := openTestDB(t)
	seedLots(t, d)

	res := rebuildJanuary(t, d, []engine.Demand{demandFixture(t, "O1", 10, 10)})
	if res.Allocated != 10 || res.ReversedRows != 0 || len(res.Shortfalls) != 0 {
		t.Fatalf("result = %+v", res)
	}
	if res.RebuildID == "" {
		t.Error("rebuild id missing")
	}

	start, end := januaryWindow(t)
	live, err := d.LiveAllocationsInWindow(start, end)
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 1 {
		t.Fatalf("live allocations = %d, want 1", len(live))
	}
	a := live[0]
	if a.BatchID != "B1" || a.Qty != 10 || a.OrderID != "O1" {
		t.Errorf("allocation = %+v", a)
	}
	if !a.FOBUnit.Equal(mustDec(t, "3.00")) || !a.FreightUnit.Equal(mustDec(t, "2")) {
		t.Errorf("allocation costs = %s/%s", a.FOBUnit, a.FreightUnit)
	}

	if _, qtySold := lotBalance(t, d, "B1", "A"); qtySold != 10 {
		t.Errorf("qty_sold = %d, want 10", qtySold)
	}
}

func TestRebuildMonth_Shortfall(t *testing.T) {
	d := openTestDB(t)
	seedLots(t, d)

	res := rebuildJanuary(t, d, []engine.Demand{demandFixture(t, "O1", 10, 18)})
	if res.Allocated != 10 {
		t.Errorf("allocated = %d, want 10", res.Allocated)
	}
	if len(res.Shortfalls) != 1 || res.Shortfalls[0].Short != 8 {
		t.Fatalf("shortfalls = %v", res.Shortfalls)
	}
	if _, qtySold := lotBalance(t, d, "B1", "A"); qtySold != 10 {
		t.Errorf("qty_sold = %d, balance must never exceed qty_in", qtySold)
	}
}

func TestRebuildMonth_Deterministic(t *testing.T) {
	d := openTestDB(t)
	seedLots(t, d)
	demands := []engine.Demand{
		demandFixture(t, "O1", 10, 4),
		demandFixture(t, "O2", 15, 5),
	}

	first := rebuildJanuary(t, d, demands)
	start, end := januaryWindow(t)
	before, err := d.LiveAllocationsInWindow(start, end)
	if err != nil {
		t.Fatal(err)
	}

	second := rebuildJanuary(t, d, demands)
	if second.ReversedRows != len(before) {
		t.Errorf("second rebuild reversed %d rows, want %d", second.ReversedRows, len(before))
	}
	if first.Allocated != second.Allocated {
		t.Errorf("allocated differs: %d vs %d", first.Allocated, second.Allocated)
	}

	after, err := d.LiveAllocationsInWindow(start, end)
	if err != nil {
		t.Fatal(err)
	}
	if len(before) != len(after) {
		t.Fatalf("row count differs: %d vs %d", len(before), len(after))
	}
	for i := range before {
		b, a := before[i], after[i]
		if b.OrderID != a.OrderID || b.BatchID != a.BatchID || b.Qty != a.Qty || !b.FOBUnit.Equal(a.FOBUnit) {
			t.Fatalf("rebuild not deterministic at %d: %+v vs %+v", i, b, a)
		}
	}
	if _, qtySold := lotBalance(t, d, "B1", "A"); qtySold != 9 {
		t.Errorf("qty_sold = %d, want 9", qtySold)
	}
}

func TestRebuildMonth_Conservation(t *testing.T) {
	d := openTestDB(t)
	seedLots(t, d)
	rebuildJanuary(t, d, []engine.Demand{demandFixture(t, "O1", 10, 6)})

	rows, err := d.InventoryRows("")
	if err != nil {
		t.Fatal(err)
	}
	var remaining int64
	for _, r := range rows {
		remaining += r.Remaining
	}
	if remaining != 4 {
		t.Errorf("on-hand = %d, want qty_in minus allocated = 4", remaining)
	}
}

func TestRebuildMonth_CancelledLeavesNoPartialState(t *testing.T) {
	d := openTestDB(t)
	seedLots(t, d)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start, end := januaryWindow(t)
	_, err := d.RebuildMonth(ctx, start, end, "", []engine.Demand{demandFixture(t, "O1", 10, 10)}, false)
	if err == nil {
		t.Fatal("cancelled rebuild must fail")
	}

	var n int
	d.sql.QueryRow(`SELECT COUNT(*) FROM allocation_detail`).Scan(&n)
	if n != 0 {
		t.Errorf("cancelled rebuild left %d allocation rows", n)
	}
	if _, qtySold := lotBalance(t, d, "B1", "A"); qtySold != 0 {
		t.Errorf("qty_sold = %d after rollback, want 0", qtySold)
	}
}

func TestReverseOrder_Idempotent(t *testing.T) {
	d := openTestDB(t)
	seedLots(t, d)
	rebuildJanuary(t, d, []engine.Demand{demandFixture(t, "O1", 10, 10)})

	res, err := d.ReverseOrder("O1", "customer return", time.UTC)
	if err != nil {
		t.Fatalf("ReverseOrder: %v", err)
	}
	if res.ReversedRows != 1 || res.ReversedQty != 10 {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Months) != 1 || res.Months[0] != "2025-01" {
		t.Errorf("stale months = %v", res.Months)
	}
	if len(res.Lots) != 1 || res.Lots[0].BatchID != "B1" || res.Lots[0].Qty != 10 {
		t.Errorf("lots = %v", res.Lots)
	}
	if _, qtySold := lotBalance(t, d, "B1", "A"); qtySold != 0 {
		t.Errorf("qty_sold = %d after reversal, want 0", qtySold)
	}

	// audit preserved: row still present, marked reversed
	var reversed int
	d.sql.QueryRow(`SELECT COUNT(*) FROM allocation_detail WHERE order_id='O1' AND reversed_by IS NOT NULL`).Scan(&reversed)
	if reversed != 1 {
		t.Errorf("reversed rows on file = %d, want 1", reversed)
	}

	// second call is a no-op
	res2, err := d.ReverseOrder("O1", "again", time.UTC)
	if err != nil {
		t.Fatalf("second ReverseOrder: %v", err)
	}
	if res2.ReversedRows != 0 || res2.ReversalID != "" {
		t.Fatalf("second reversal must be a no-op, got %+v", res2)
	}
	if _, qtySold := lotBalance(t, d, "B1", "A"); qtySold != 0 {
		t.Errorf("state changed by idempotent call")
	}
}

func TestReverseOrder_ThenResell(t *testing.T) {
	d := openTestDB(t)
	seedLots(t, d)
	rebuildJanuary(t, d, []engine.Demand{demandFixture(t, "O1", 10, 10)})

	if _, err := d.ReverseOrder("O1", "", time.UTC); err != nil {
		t.Fatal(err)
	}

	// a later sale consumes the restored units at the original frozen costs
	res := rebuildJanuary(t, d, []engine.Demand{demandFixture(t, "O2", 20, 4)})
	if res.Allocated != 4 || len(res.Shortfalls) != 0 {
		t.Fatalf("result = %+v", res)
	}

	start, end := januaryWindow(t)
	live, err := d.LiveAllocationsInWindow(start, end)
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 1 || live[0].OrderID != "O2" || live[0].BatchID != "B1" || live[0].Qty != 4 {
		t.Fatalf("live = %+v", live)
	}
	if !live[0].FOBUnit.Equal(mustDec(t, "3.00")) || !live[0].DutyUnit.Equal(mustDec(t, "1")) {
		t.Errorf("resell must use original lot costs, got %+v", live[0])
	}
	if _, qtySold := lotBalance(t, d, "B1", "A"); qtySold != 4 {
		t.Errorf("qty_sold = %d, want 4", qtySold)
	}
}

func TestRebuildMonth_ReplacesPriorAllocations(t *testing.T) {
	d := openTestDB(t)
	seedLots(t, d)
	rebuildJanuary(t, d, []engine.Demand{demandFixture(t, "O1", 10, 10)})
	rebuildJanuary(t, d, []engine.Demand{demandFixture(t, "O1", 10, 6)})

	start, end := januaryWindow(t)
	live, _ := d.LiveAllocationsInWindow(start, end)
	if len(live) != 1 || live[0].Qty != 6 {
		t.Fatalf("live after second rebuild = %+v", live)
	}
	if _, qtySold := lotBalance(t, d, "B1", "A"); qtySold != 6 {
		t.Errorf("qty_sold = %d, want 6", qtySold)
	}

	var total int
	d.sql.QueryRow(`SELECT COUNT(*) FROM allocation_detail`).Scan(&total)
	if total != 2 {
		t.Errorf("audit rows = %d, want old + new", total)
	}
}

func TestInventoryRows(t *testing.T) {
	d := openTestDB(t)
	seedLots(t, d)

	// second, later batch of the same sku
	imp := InboundImport{
		Batches: []engine.Batch{{BatchID: "B2", InboundDate: "2025-02-01"}},
		Items: []engine.InboundItem{{
			BatchID: "B2", InternalSKU: "A", Category: "X", QtyIn: 5,
			FOBUnit: mustDec(t, "3.10"), CBMPerUnit: mustDec(t, "0.1"),
		}},
	}
	if _, err := d.ImportInbound(imp); err != nil {
		t.Fatal(err)
	}
	batches, items, pools, overrides, _ := d.LoadInbound()
	costs, _, err := engine.ComputeLotCosts(batches, items, pools, overrides)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.ReplaceLotCosts(costs, items); err != nil {
		t.Fatal(err)
	}
	rebuildJanuary(t, d, []engine.Demand{demandFixture(t, "O1", 10, 6)})

	rows, err := d.InventoryRows("A")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].BatchID != "B1" || rows[1].BatchID != "B2" {
		t.Errorf("rows not in FIFO order: %s, %s", rows[0].BatchID, rows[1].BatchID)
	}
	if rows[0].Remaining != 4 || rows[1].Remaining != 5 {
		t.Errorf("remaining = %d, %d", rows[0].Remaining, rows[1].Remaining)
	}

	none, err := d.InventoryRows("ZZZ")
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("filter leaked rows: %v", none)
	}
}

func TestSaveMonthSummaries_RoundTrip(t *testing.T) {
	d := openTestDB(t)
	seedLots(t, d)
	rebuildJanuary(t, d, []engine.Demand{demandFixture(t, "O1", 10, 10)})

	start, end := januaryWindow(t)
	live, err := d.LiveAllocationsInWindow(start, end)
	if err != nil {
		t.Fatal(err)
	}
	summaries := engine.SummarizeMonth("2025-01", live, time.Now())
	if err := d.SaveMonthSummaries("2025-01", summaries); err != nil {
		t.Fatalf("SaveMonthSummaries: %v", err)
	}

	got, err := d.MonthSummaries("2025-01")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows, want US + ALL", len(got))
	}
	if got[len(got)-1].Marketplace != engine.AllMarketplaces {
		t.Errorf("ALL row must come last, got %v", got)
	}
	if got[0].Units != 10 || !got[0].FOB.Equal(mustDec(t, "30")) || !got[0].Freight.Equal(mustDec(t, "20")) {
		t.Errorf("summary row = %+v", got[0])
	}

	// re-save replaces, never duplicates
	if err := d.SaveMonthSummaries("2025-01", summaries); err != nil {
		t.Fatal(err)
	}
	got, _ = d.MonthSummaries("2025-01")
	if len(got) != 2 {
		t.Errorf("re-save duplicated rows: %d", len(got))
	}
}

func TestAllocationsForOrder(t *testing.T) {
	d := openTestDB(t)
	seedLots(t, d)
	rebuildJanuary(t, d, []engine.Demand{demandFixture(t, "O1", 10, 10)})
	if _, err := d.ReverseOrder("O1", "", time.UTC); err != nil {
		t.Fatal(err)
	}

	allocations, reversedBy, err := d.AllocationsForOrder("O1")
	if err != nil {
		t.Fatal(err)
	}
	if len(allocations) != 1 || reversedBy[0] == "" {
		t.Fatalf("reversed allocation must stay on file with its reversal id, got %d rows", len(allocations))
	}
}

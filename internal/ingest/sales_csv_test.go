package ingest

import (
	"strings"
	"testing"
	"time"
)

const salesReport = `"Some preface text about the report"
"Another preface line"
"date/time","settlement id","type","order id","sku","quantity","marketplace"
"2025-01-10 12:00:00","123","Order","O1","K","10","US"
"2025-01-11 08:30:00","123","Refund","O1","K","-10","US"
"2025-01-12 09:00:00","123","Order","O2","K","abc","US"
"2025-01-13 10:00:00","123","Order","O3","K","2",""
`

func TestParseSalesCSV_LocatesHeaderAfterPreface(t *testing.T) {
	rows, warnings, err := ParseSalesCSV(strings.NewReader(salesReport), "DEFAULT", time.UTC)
	if err != nil {
		t.Fatalf("ParseSalesCSV: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3 (bad quantity skipped)", len(rows))
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0].Message, "non-numeric quantity") {
		t.Fatalf("warnings = %v", warnings)
	}

	first := rows[0]
	if first.OrderID != "O1" || first.AmazonSKU != "K" || first.Qty != 10 || first.Type != "Order" {
		t.Errorf("row = %+v", first)
	}
	if first.Marketplace != "US" {
		t.Errorf("marketplace = %q", first.Marketplace)
	}
	if !first.HappenedAt.Equal(time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("happened_at = %v", first.HappenedAt)
	}

	// refund rows come through; the normalizer filters by type
	if rows[1].Type != "Refund" || rows[1].Qty != -10 {
		t.Errorf("refund row = %+v", rows[1])
	}

	// empty marketplace column falls back to the default
	if rows[2].Marketplace != "DEFAULT" {
		t.Errorf("fallback marketplace = %q", rows[2].Marketplace)
	}
}

func TestParseSalesCSV_TimezoneConversion(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	csv := "date/time,type,order id,sku,quantity\n2025-01-10 12:00:00,Order,O1,A,1\n"
	rows, _, err := ParseSalesCSV(strings.NewReader(csv), "US", loc)
	if err != nil {
		t.Fatal(err)
	}
	// noon Eastern is 17:00 UTC
	if !rows[0].HappenedAt.Equal(time.Date(2025, 1, 10, 17, 0, 0, 0, time.UTC)) {
		t.Errorf("happened_at = %v", rows[0].HappenedAt)
	}
}

func TestParseSalesCSV_NoMarketplaceColumn(t *testing.T) {
	csv := "date/time,type,order id,sku,quantity\n2025-01-10 12:00:00,Order,O1,A,1\n"
	rows, _, err := ParseSalesCSV(strings.NewReader(csv), "DE", time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if rows[0].Marketplace != "DE" {
		t.Errorf("marketplace = %q, want default DE", rows[0].Marketplace)
	}
}

func TestParseSalesCSV_HeaderCaseAndWhitespace(t *testing.T) {
	csv := " Date/Time , TYPE , Order ID , SKU , Quantity \n2025-01-10 12:00:00,Order,O1,A,3\n"
	rows, _, err := ParseSalesCSV(strings.NewReader(csv), "US", time.UTC)
	if err != nil {
		t.Fatalf("case-insensitive header should parse: %v", err)
	}
	if len(rows) != 1 || rows[0].Qty != 3 {
		t.Fatalf("rows = %v", rows)
	}
}

func TestParseSalesCSV_UnparseableDateSkipped(t *testing.T) {
	csv := "date/time,type,order id,sku,quantity\nnot-a-date,Order,O1,A,1\n"
	rows, warnings, err := ParseSalesCSV(strings.NewReader(csv), "US", time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 || len(warnings) != 1 {
		t.Fatalf("rows = %v, warnings = %v", rows, warnings)
	}
}

func TestParseSalesCSV_NoHeader(t *testing.T) {
	csv := "just,some,columns\n1,2,3\n"
	_, _, err := ParseSalesCSV(strings.NewReader(csv), "US", time.UTC)
	if err == nil {
		t.Fatal("missing required header must fail")
	}
}

func TestParseSalesCSV_ThousandsSeparatorQty(t *testing.T) {
	csv := "date/time,type,order id,sku,quantity\n2025-01-10 12:00:00,Order,O1,A,\"1,200\"\n"
	rows, _, err := ParseSalesCSV(strings.NewReader(csv), "US", time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Qty != 1200 {
		t.Fatalf("rows = %v", rows)
	}
}

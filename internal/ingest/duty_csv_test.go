package ingest

import (
	"strings"
	"testing"
)

func TestParseDutyCSV_Pools(t *testing.T) {
	sheet := `batch_id,category,duty_total
B1,X,10
B1,Y,4.50
B2,X,7
`
	pools, overrides, warnings, err := ParseDutyCSV(strings.NewReader(sheet))
	if err != nil {
		t.Fatalf("ParseDutyCSV: %v", err)
	}
	if len(warnings) != 0 || len(overrides) != 0 {
		t.Fatalf("warnings = %v, overrides = %v", warnings, overrides)
	}
	if len(pools) != 3 {
		t.Fatalf("got %d pools, want 3", len(pools))
	}
	if pools[1].Category != "Y" || pools[1].DutyTotal.String() != "4.5" {
		t.Errorf("pool = %+v", pools[1])
	}
}

func TestParseDutyCSV_OverrideRows(t *testing.T) {
	sheet := `batch_id,category,internal_sku,duty_total
B1,X,,30
B1,,A,10
`
	pools, overrides, _, err := ParseDutyCSV(strings.NewReader(sheet))
	if err != nil {
		t.Fatal(err)
	}
	if len(pools) != 1 || pools[0].Category != "X" {
		t.Fatalf("pools = %v", pools)
	}
	if len(overrides) != 1 || overrides[0].InternalSKU != "A" || overrides[0].DutyAmount.String() != "10" {
		t.Fatalf("overrides = %v", overrides)
	}
}

func TestParseDutyCSV_BadAmountWarns(t *testing.T) {
	sheet := `batch_id,category,duty_total
B1,X,lots
B1,Y,4
`
	pools, _, warnings, err := ParseDutyCSV(strings.NewReader(sheet))
	if err != nil {
		t.Fatal(err)
	}
	if len(pools) != 1 || len(warnings) != 1 {
		t.Fatalf("pools = %v, warnings = %v", pools, warnings)
	}
}

func TestParseDutyCSV_MissingHeader(t *testing.T) {
	if _, _, _, err := ParseDutyCSV(strings.NewReader("x,y\n1,2\n")); err == nil {
		t.Fatal("missing header must fail")
	}
}

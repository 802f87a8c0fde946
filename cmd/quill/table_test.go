package main

import (
	"strings"
	"testing"
	"time"
)

func TestRenderTableBasic(t *testing.T) {
	out := renderTable(
		[]string{"Stage", "USD"},
		[][]string{{"developmental", "0.1200"}, {"keywords", "0.0100"}},
		[]columnAlignment{alignLeft, alignRight},
	)
	for _, want := range []string{"Stage", "USD", "developmental", "0.0100"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected table to contain %q, got:\n%s", want, out)
		}
	}
}

func TestRenderTableKeepsHeaderCase(t *testing.T) {
	out := renderTable([]string{"Cost Center"}, [][]string{{"analysis"}}, nil)
	if strings.Contains(out, "COST CENTER") {
		t.Fatalf("header was upper-cased:\n%s", out)
	}
	if !strings.Contains(out, "Cost Center") {
		t.Fatalf("expected header as given, got:\n%s", out)
	}
}

func TestUSDCellPrecision(t *testing.T) {
	if got := usdCell(0.1); got != "0.1000" {
		t.Fatalf("usdCell(0.1) = %q", got)
	}
	if got := usdCell(0); got != "0.0000" {
		t.Fatalf("usdCell(0) = %q", got)
	}
}

func TestTimeCellZeroValueIsBlank(t *testing.T) {
	if got := timeCell(time.Time{}); got != "" {
		t.Fatalf("timeCell(zero) = %q", got)
	}
	ts := time.Date(2026, 3, 1, 12, 30, 0, 0, time.Local)
	if got := timeCell(ts); got != "2026-03-01 12:30:00" {
		t.Fatalf("timeCell = %q", got)
	}
}

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"only"}}, nil)
	if !strings.Contains(out, "only") {
		t.Fatalf("expected row content, got:\n%s", out)
	}
}

func TestRenderTableEmptyHeaders(t *testing.T) {
	if out := renderTable(nil, nil, nil); out != "" {
		t.Fatalf("expected empty output, got %q", out)
	}
}

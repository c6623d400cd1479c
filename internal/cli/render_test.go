package cli

import (
	"strings"
	"testing"
)

func TestRenderTableAlignsColumns(t *testing.T) {
	out := RenderTable(Table{
		Headers: []string{"Category", "Spent"},
		Rows: [][]string{
			{"Groceries", "$120.00"},
			{"---"},
			{"Dining", "$8.50"},
		},
	})

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 7 {
		t.Fatalf("table has %d lines, want 7:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[5], "  $8.50") {
		t.Fatalf("numeric column not right-aligned: %q", lines[5])
	}
	if !strings.Contains(lines[3], "Groceries") {
		t.Fatalf("row missing: %q", lines[3])
	}
}

func TestRenderTableEmpty(t *testing.T) {
	if got := RenderTable(Table{}); got != "" {
		t.Fatalf("RenderTable(empty) = %q, want empty", got)
	}
}

func TestRenderSparkline(t *testing.T) {
	if got := RenderSparkline([]float64{0, 1, 2, 4}); got != "▁▂▄█" {
		t.Fatalf("RenderSparkline = %q, want ▁▂▄█", got)
	}
	if got := RenderSparkline([]float64{0, 0}); got != "▁▁" {
		t.Fatalf("RenderSparkline(zeros) = %q, want ▁▁", got)
	}
}

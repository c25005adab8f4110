package stats

import (
	"testing"
	"time"
)

func TestParseMetricLine(t *testing.T) {
	tests := []struct {
		line  string
		name  string
		value float64
		ok    bool
	}{
		{`sessiontag_workspaces 3`, "sessiontag_workspaces", 3, true},
		{`sessiontag_decisions_total{result="tagged"} 12`, "sessiontag_decisions_total", 12, true},
		{`sessiontag_store_latency_seconds_sum{op="touch"} 0.25`, "sessiontag_store_latency_seconds_sum", 0.25, true},
		{`broken{label="x" 1`, "", 0, false},
		{`novalue`, "", 0, false},
	}
	for _, tt := range tests {
		name, value, ok := parseMetricLine(tt.line)
		if ok != tt.ok || name != tt.name || value != tt.value {
			t.Errorf("parseMetricLine(%q) = (%q, %v, %v), want (%q, %v, %v)",
				tt.line, name, value, ok, tt.name, tt.value, tt.ok)
		}
	}
}

func TestCollector_CountsDuplicateMarkers(t *testing.T) {
	c := NewCollector()
	c.AddTab("a", time.Millisecond, time.Millisecond)
	c.AddTab("b", time.Millisecond, time.Millisecond)
	c.AddTab("a", time.Millisecond, time.Millisecond)

	if got := c.TabCount(); got != 3 {
		t.Errorf("TabCount() = %d, want 3", got)
	}
	if got := c.Duplicates(); got != 1 {
		t.Errorf("Duplicates() = %d, want 1", got)
	}
}

func TestCollector_Violations(t *testing.T) {
	c := NewCollector()
	c.AddViolation()
	c.AddViolation()
	if got := c.Violations(); got != 2 {
		t.Errorf("Violations() = %d, want 2", got)
	}
}

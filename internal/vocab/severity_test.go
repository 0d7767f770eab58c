package vocab

import (
	"testing"

	"github.com/casebridge/casebridge/internal/database"
)

func TestClassifyScore(t *testing.T) {
	tests := []struct {
		score float64
		want  database.EventSeverity
	}{
		{0, database.EventSeverityLow},
		{39, database.EventSeverityLow},
		{39.9, database.EventSeverityLow},
		{40, database.EventSeverityMedium},
		{59.9, database.EventSeverityMedium},
		{60, database.EventSeverityHigh},
		{79.9, database.EventSeverityHigh},
		{80, database.EventSeverityCritical},
		{100, database.EventSeverityCritical},
		// out-of-range values are clamped, not rejected
		{-5, database.EventSeverityLow},
		{150, database.EventSeverityCritical},
	}

	for _, tt := range tests {
		if got := ClassifyScore(tt.score); got != tt.want {
			t.Errorf("ClassifyScore(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestSeverityFromLabel(t *testing.T) {
	tests := []struct {
		label string
		want  database.EventSeverity
	}{
		{"critical", database.EventSeverityCritical},
		{"Disaster", database.EventSeverityCritical},
		{"HIGH", database.EventSeverityHigh},
		{"major", database.EventSeverityHigh},
		{"warning", database.EventSeverityMedium},
		{"  info  ", database.EventSeverityLow},
		{"p1", database.EventSeverityCritical},
		{"", database.EventSeverityUnset},
		{"banana", database.EventSeverityUnset},
	}

	for _, tt := range tests {
		if got := SeverityFromLabel(tt.label); got != tt.want {
			t.Errorf("SeverityFromLabel(%q) = %q, want %q", tt.label, got, tt.want)
		}
	}
}

package vocab

import (
	"strings"

	"github.com/casebridge/casebridge/internal/database"
)

// ClassifyScore buckets a 0-100 severity score into the canonical severity
// scale. Scores outside the range are clamped.
func ClassifyScore(score float64) database.EventSeverity {
	switch {
	case score < 0:
		return database.EventSeverityLow
	case score < 40:
		return database.EventSeverityLow
	case score < 60:
		return database.EventSeverityMedium
	case score < 80:
		return database.EventSeverityHigh
	default:
		return database.EventSeverityCritical
	}
}

// severityAliases maps common vendor severity labels to canonical severities
var severityAliases = map[database.EventSeverity][]string{
	database.EventSeverityCritical: {"critical", "disaster", "p1", "emergency", "fatal"},
	database.EventSeverityHigh:     {"high", "major", "p2", "error", "severe", "urgent"},
	database.EventSeverityMedium:   {"medium", "moderate", "warning", "average", "p3"},
	database.EventSeverityLow:      {"low", "informational", "info", "minor", "p4", "notice"},
}

// SeverityFromLabel normalizes a vendor severity label. Unknown labels map to
// Unset so the reconciler's non-empty-field rule can keep an earlier value.
func SeverityFromLabel(label string) database.EventSeverity {
	normalized := strings.ToLower(strings.TrimSpace(label))
	if normalized == "" {
		return database.EventSeverityUnset
	}
	for severity, aliases := range severityAliases {
		for _, alias := range aliases {
			if alias == normalized {
				return severity
			}
		}
	}
	return database.EventSeverityUnset
}

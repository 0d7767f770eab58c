package sync

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/casebridge/casebridge/internal/database"
	"github.com/casebridge/casebridge/internal/vocab"
)

// fieldCandidates lists, per canonical field, the vendor field names to try
// in order; the first non-empty value wins. Each vendor exposes the same
// semantic field under a different name, and keeping the aliases in data
// means adding one is a table edit, not a control-flow change.
var fieldCandidates = map[string][]string{
	"external_id": {"id", "event_id", "alert_id", "_id", "uuid", "rid"},
	"legacy_key":  {"ticket_id", "case_number", "number", "offense_ticket"},
	"title":       {"title", "rule_title", "rule_name", "name", "description"},
	"description": {"rule_description", "message", "summary", "body", "description"},
	"status":      {"status", "event_status", "state"},
	"assignee":    {"assigned_to", "owner", "assignee"},
	"created_at":  {"start_time", "first_seen", "created_at", "_time", "@timestamp"},
	"modified_at": {"last_updated_time", "last_persisted_time", "updated_at", "modified_at", "_time", "@timestamp"},
	"follow_up":   {"follow_up", "followup"},
	"severity":    {"severity", "urgency", "priority"},
	"score":       {"magnitude", "risk_score", "severity_score", "severity"},
}

// Normalizer converts one raw vendor record into a CanonicalEvent
type Normalizer struct{}

// NewNormalizer creates a Normalizer
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize builds a CanonicalEvent from a raw vendor record. The full raw
// record is preserved inside VendorMetadata. A record without any usable
// external identifier is a per-record failure.
func (n *Normalizer) Normalize(raw RawRecord, vendorSource string, integrationID uint) (*database.CanonicalEvent, error) {
	externalID := firstString(raw, "external_id")
	if externalID == "" {
		return nil, RecordFailure("record from %s has no external identifier", vendorSource)
	}

	followUp := firstBool(raw, "follow_up")
	status := vocab.ToCanonical(vendorSource, firstString(raw, "status"), followUp)

	event := &database.CanonicalEvent{
		UUID:             uuid.New().String(),
		VendorSource:     vendorSource,
		ExternalID:       externalID,
		LegacyKey:        firstString(raw, "legacy_key"),
		Kind:             kindForVendor(vendorSource),
		Title:            firstString(raw, "title"),
		Description:      firstString(raw, "description"),
		Status:           status,
		Severity:         n.normalizeSeverity(raw, vendorSource),
		Assignee:         firstString(raw, "assignee"),
		VendorCreatedAt:  firstTime(raw, "created_at"),
		VendorModifiedAt: firstTime(raw, "modified_at"),
		VendorMetadata:   database.JSONB(raw),
		IntegrationID:    integrationID,
	}

	if event.VendorModifiedAt.IsZero() {
		event.VendorModifiedAt = event.VendorCreatedAt
	}

	return event, nil
}

// normalizeSeverity tries a severity label first, then a numeric score run
// through the bucket classifier. Offense magnitude is reported 0-10 and is
// scaled onto the 0-100 range before bucketing.
func (n *Normalizer) normalizeSeverity(raw RawRecord, vendorSource string) database.EventSeverity {
	if label := firstString(raw, "severity"); label != "" {
		if severity := vocab.SeverityFromLabel(label); severity != database.EventSeverityUnset {
			return severity
		}
	}

	score, ok := firstNumber(raw, "score")
	if !ok {
		return database.EventSeverityUnset
	}
	if vendorSource == "offense" {
		score *= 10
	}
	return vocab.ClassifyScore(score)
}

// kindForVendor decides whether a vendor's records enter the store as cases
// or alerts. The offense manager is the only vendor whose model distinguishes
// cases from alerts; its offenses are cases.
func kindForVendor(vendorSource string) database.EventKind {
	if vendorSource == "offense" {
		return database.EventKindCase
	}
	return database.EventKindAlert
}

// MergeMetadata shallow-merges a newly fetched vendor record over previously
// captured metadata, new-overrides-old per key. Keys the newer record does
// not carry are kept, so a later narrower record shape cannot erase vendor
// fields captured earlier.
func MergeMetadata(old, incoming database.JSONB) database.JSONB {
	merged := make(database.JSONB, len(old)+len(incoming))
	for k, v := range old {
		merged[k] = v
	}
	for k, v := range incoming {
		merged[k] = v
	}
	return merged
}

// ========== candidate-field extraction ==========

func firstValue(raw RawRecord, canonicalField string) interface{} {
	for _, name := range fieldCandidates[canonicalField] {
		if v, ok := raw[name]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstString(raw RawRecord, canonicalField string) string {
	for _, name := range fieldCandidates[canonicalField] {
		v, ok := raw[name]
		if !ok || v == nil {
			continue
		}
		switch s := v.(type) {
		case string:
			if s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(s, 'f', -1, 64)
		case int:
			return strconv.Itoa(s)
		case json.Number:
			return s.String()
		}
	}
	return ""
}

func firstBool(raw RawRecord, canonicalField string) bool {
	v := firstValue(raw, canonicalField)
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(b, "true")
	}
	return false
}

func firstNumber(raw RawRecord, canonicalField string) (float64, bool) {
	for _, name := range fieldCandidates[canonicalField] {
		v, ok := raw[name]
		if !ok || v == nil {
			continue
		}
		switch x := v.(type) {
		case float64:
			return x, true
		case int:
			return float64(x), true
		case json.Number:
			if f, err := x.Float64(); err == nil {
				return f, true
			}
		case string:
			if f, err := strconv.ParseFloat(x, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func firstTime(raw RawRecord, canonicalField string) time.Time {
	for _, name := range fieldCandidates[canonicalField] {
		v, ok := raw[name]
		if !ok || v == nil {
			continue
		}
		if t, ok := parseVendorTime(v); ok {
			return t
		}
	}
	return time.Time{}
}

// parseVendorTime handles the timestamp shapes the three vendors produce:
// epoch milliseconds, epoch seconds, RFC3339, and "2006-01-02 15:04:05".
func parseVendorTime(v interface{}) (time.Time, bool) {
	switch x := v.(type) {
	case float64:
		return epochToTime(x), true
	case int64:
		return epochToTime(float64(x)), true
	case int:
		return epochToTime(float64(x)), true
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return epochToTime(f), true
		}
	case string:
		if x == "" {
			return time.Time{}, false
		}
		if t, err := time.Parse(time.RFC3339, x); err == nil {
			return t, true
		}
		if t, err := time.Parse("2006-01-02 15:04:05", x); err == nil {
			return t, true
		}
		if f, err := strconv.ParseFloat(x, 64); err == nil {
			return epochToTime(f), true
		}
	}
	return time.Time{}, false
}

// epochToTime treats values above 1e12 as milliseconds, otherwise seconds
func epochToTime(v float64) time.Time {
	if v > 1e12 {
		return time.UnixMilli(int64(v)).UTC()
	}
	sec := int64(v)
	frac := v - float64(sec)
	return time.Unix(sec, int64(frac*1e9)).UTC()
}

// describeRecord is used in per-record error logs
func describeRecord(raw RawRecord) string {
	if id := firstString(raw, "external_id"); id != "" {
		return id
	}
	data, err := json.Marshal(raw)
	if err != nil || len(data) > 120 {
		return fmt.Sprintf("<record with %d fields>", len(raw))
	}
	return string(data)
}

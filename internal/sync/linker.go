package sync

import (
	"encoding/json"
	"log"
	"strconv"
	"strings"

	"github.com/casebridge/casebridge/internal/database"
)

// correlationFields are the vendor metadata fields that may carry a case
// reference on an alert record.
var correlationFields = []string{
	"case_id", "offense_id", "parent_id", "correlation_id", "related_case",
}

// Linker runs the best-effort cross-entity pass that associates a case with
// the alerts referencing it. Link failures for an individual alert are
// logged and skipped; they never fail the case upsert.
type Linker struct {
	store Store
}

// NewLinker creates a Linker
func NewLinker(store Store) *Linker {
	return &Linker{store: store}
}

// LinkCase finds alerts from the case's integration that reference the
// case's external id and creates idempotent links. Returns the number of
// links written (existing links count as written pairs in no sense; re-runs
// are no-ops at the store level).
func (l *Linker) LinkCase(caseEvent *database.CanonicalEvent) int {
	if caseEvent.Kind != database.EventKindCase {
		return 0
	}

	alerts, err := l.store.ListAlertsByIntegration(caseEvent.IntegrationID)
	if err != nil {
		log.Printf("Linker: failed to list alerts for integration %d: %v", caseEvent.IntegrationID, err)
		return 0
	}

	linked := 0
	for _, alert := range alerts {
		if !referencesCase(&alert, caseEvent.ExternalID) {
			continue
		}
		if err := l.store.LinkCaseAlert(caseEvent.ID, alert.ID); err != nil {
			log.Printf("Linker: failed to link case %s to alert %s: %v", caseEvent.ExternalID, alert.ExternalID, err)
			continue
		}
		linked++
	}
	return linked
}

// referencesCase checks whether an alert points at the case: first an exact
// match on a known correlation field, then a substring match against the
// alert's title and description as a fallback.
func referencesCase(alert *database.CanonicalEvent, caseExternalID string) bool {
	if caseExternalID == "" {
		return false
	}

	for _, field := range correlationFields {
		v, ok := alert.VendorMetadata[field]
		if !ok || v == nil {
			continue
		}
		if stringValue(v) == caseExternalID {
			return true
		}
	}

	return strings.Contains(alert.Title, caseExternalID) ||
		strings.Contains(alert.Description, caseExternalID)
}

// stringValue renders a metadata value for identifier comparison. JSON
// decoding turns numeric ids into float64.
func stringValue(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	}
	return ""
}

// Package vocab maps vendor-specific status and severity vocabularies to the
// canonical vocabulary and back. All mappings are pure table lookups.
package vocab

import (
	"strings"

	"github.com/casebridge/casebridge/internal/database"
)

// Offense vendor statuses. The offense manager has only three states plus a
// follow-up flag; the canonical model needs four. InProgress is therefore
// represented as OPEN with the follow-up flag set. Downstream polling for
// "cases needing follow-up" depends on that composite being reproduced
// exactly on the reverse mapping.
const (
	OffenseStatusOpen   = "OPEN"
	OffenseStatusHidden = "HIDDEN"
	OffenseStatusClosed = "CLOSED"
)

// toCanonicalTables maps lowercased vendor statuses to canonical statuses,
// per vendor source. Unknown values fall back to New and are never dropped.
var toCanonicalTables = map[string]map[string]database.EventStatus{
	"offense": {
		"open":   database.EventStatusNew,
		"hidden": database.EventStatusIgnored,
		"closed": database.EventStatusClosed,
	},
	"searchjob": {
		"new":         database.EventStatusNew,
		"unassigned":  database.EventStatusNew,
		"in progress": database.EventStatusInProgress,
		"pending":     database.EventStatusInProgress,
		"suppressed":  database.EventStatusIgnored,
		"resolved":    database.EventStatusClosed,
		"closed":      database.EventStatusClosed,
	},
	"logstore": {
		"open":         database.EventStatusNew,
		"acknowledged": database.EventStatusInProgress,
		"in_progress":  database.EventStatusInProgress,
		"ignored":      database.EventStatusIgnored,
		"closed":       database.EventStatusClosed,
	},
}

// fromCanonicalTables maps canonical statuses back to the vendor vocabulary
// for vendors with a plain 1:1 mapping. The offense vendor is handled
// separately because of its status composite.
var fromCanonicalTables = map[string]map[database.EventStatus]string{
	"searchjob": {
		database.EventStatusNew:        "new",
		database.EventStatusInProgress: "in progress",
		database.EventStatusIgnored:    "suppressed",
		database.EventStatusClosed:     "closed",
	},
	"logstore": {
		database.EventStatusNew:        "open",
		database.EventStatusInProgress: "acknowledged",
		database.EventStatusIgnored:    "ignored",
		database.EventStatusClosed:     "closed",
	},
}

// ToCanonical translates a vendor status into the canonical vocabulary.
// followUp only matters for the offense vendor, where OPEN plus follow-up
// means a case is actively being worked.
func ToCanonical(vendor, vendorStatus string, followUp bool) database.EventStatus {
	normalized := strings.ToLower(strings.TrimSpace(vendorStatus))

	if vendor == "offense" && normalized == "open" && followUp {
		return database.EventStatusInProgress
	}

	table, ok := toCanonicalTables[vendor]
	if !ok {
		return database.EventStatusNew
	}
	status, ok := table[normalized]
	if !ok {
		return database.EventStatusNew
	}
	return status
}

// FromCanonical translates a canonical status back into a vendor status plus
// the offense follow-up flag. For the offense vendor InProgress maps to the
// OPEN + follow-up composite; for other vendors the flag is always false.
func FromCanonical(vendor string, status database.EventStatus) (string, bool) {
	if vendor == "offense" {
		switch status {
		case database.EventStatusInProgress:
			return OffenseStatusOpen, true
		case database.EventStatusIgnored:
			return OffenseStatusHidden, false
		case database.EventStatusClosed:
			return OffenseStatusClosed, false
		default:
			return OffenseStatusOpen, false
		}
	}

	table, ok := fromCanonicalTables[vendor]
	if !ok {
		return string(status), false
	}
	vendorStatus, ok := table[status]
	if !ok {
		return table[database.EventStatusNew], false
	}
	return vendorStatus, false
}

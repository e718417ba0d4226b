// Package ingest orchestrates data ingestion from the OWS API into Postgres:
// a resumable cursor-checkpointed backfill and an incremental journal-driven
// sync, both recorded in etl_runs.
package ingest

import "strings"

// EntityKind is the closed set of upstream entity types the journal can
// reference. Journal dispatch goes through this enum so an unhandled type is
// an explicit skip, never a silent misroute.
type EntityKind int

const (
	KindUnknown EntityKind = iota
	KindTrdBuy
	KindLots
	KindTrdApp
	KindContract
	KindSubject
	KindRnu
)

// KindFromJournal maps a journal entity_type string to its EntityKind.
// Unrecognized types map to KindUnknown.
func KindFromJournal(entityType string) EntityKind {
	switch strings.ToLower(strings.TrimSpace(entityType)) {
	case "trd_buy", "trdbuy", "tender":
		return KindTrdBuy
	case "lots", "lot":
		return KindLots
	case "trd_app", "trdapp", "application":
		return KindTrdApp
	case "contract":
		return KindContract
	case "subject":
		return KindSubject
	case "rnu":
		return KindRnu
	default:
		return KindUnknown
	}
}

// String returns the canonical name (also the target table name).
func (k EntityKind) String() string {
	switch k {
	case KindTrdBuy:
		return "trd_buy"
	case KindLots:
		return "lots"
	case KindTrdApp:
		return "trd_app"
	case KindContract:
		return "contract"
	case KindSubject:
		return "subject"
	case KindRnu:
		return "rnu"
	default:
		return "unknown"
	}
}

// Endpoint returns the REST endpoint serving single objects of this kind.
func (k EntityKind) Endpoint() string {
	switch k {
	case KindTrdBuy:
		return "/v3/trd-buy"
	case KindLots:
		return "/v3/lots"
	case KindTrdApp:
		return "/v3/trd-app"
	case KindContract:
		return "/v3/contract"
	case KindSubject:
		return "/v3/subject/biin"
	case KindRnu:
		return "/v3/rnu"
	default:
		return ""
	}
}

// SoftDeletable reports whether journal "D" actions apply to this kind.
// Soft-deletable entities carry is_deleted; the rest keep their own lifecycle
// fields (rnu.is_active, application protocol status).
func (k EntityKind) SoftDeletable() bool {
	switch k {
	case KindTrdBuy, KindLots, KindContract, KindSubject:
		return true
	default:
		return false
	}
}

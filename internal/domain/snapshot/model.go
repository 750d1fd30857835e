// Package snapshot stores and serves the clinical records pulled from a
// patient's external health-record connections. Rows are written only by the
// export ingest, which replaces a connection's whole snapshot at once; reads
// are plain per-patient lists.
package snapshot

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ObservationSnapshot is one lab result or vital sign from the last
// successful export.
type ObservationSnapshot struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	ConnectionID uuid.UUID       `db:"connection_id" json:"connection_id"`
	PatientID    uuid.UUID       `db:"patient_id" json:"patient_id"`
	Code         *string         `db:"code" json:"code,omitempty"`
	Display      *string         `db:"display" json:"display,omitempty"`
	Value        *string         `db:"value" json:"value,omitempty"`
	Unit         *string         `db:"unit" json:"unit,omitempty"`
	EffectiveAt  *time.Time      `db:"effective_at" json:"effective_at,omitempty"`
	Raw          json.RawMessage `db:"raw" json:"raw"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// MedicationSnapshot is one medication order or statement.
type MedicationSnapshot struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	ConnectionID uuid.UUID       `db:"connection_id" json:"connection_id"`
	PatientID    uuid.UUID       `db:"patient_id" json:"patient_id"`
	Name         *string         `db:"name" json:"name,omitempty"`
	Dosage       *string         `db:"dosage" json:"dosage,omitempty"`
	Raw          json.RawMessage `db:"raw" json:"raw"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// ConditionSnapshot is one diagnosis or problem-list entry.
type ConditionSnapshot struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	ConnectionID uuid.UUID       `db:"connection_id" json:"connection_id"`
	PatientID    uuid.UUID       `db:"patient_id" json:"patient_id"`
	Display      *string         `db:"display" json:"display,omitempty"`
	Raw          json.RawMessage `db:"raw" json:"raw"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// EncounterSnapshot is one visit record.
type EncounterSnapshot struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	ConnectionID uuid.UUID       `db:"connection_id" json:"connection_id"`
	PatientID    uuid.UUID       `db:"patient_id" json:"patient_id"`
	TypeDisplay  *string         `db:"type_display" json:"type_display,omitempty"`
	Reason       *string         `db:"reason" json:"reason,omitempty"`
	ServiceType  *string         `db:"service_type" json:"service_type,omitempty"`
	PeriodStart  *time.Time      `db:"period_start" json:"period_start,omitempty"`
	PeriodEnd    *time.Time      `db:"period_end" json:"period_end,omitempty"`
	Raw          json.RawMessage `db:"raw" json:"raw"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// RowSet is everything one ingest extracted for a connection. It is handed to
// the repository as a unit so the replace stays atomic.
type RowSet struct {
	Observations []*ObservationSnapshot
	Medications  []*MedicationSnapshot
	Conditions   []*ConditionSnapshot
	Encounters   []*EncounterSnapshot
}

// Counts reports how many rows of each kind one ingest stored.
type Counts struct {
	Observations int `json:"observations"`
	Medications  int `json:"medications"`
	Conditions   int `json:"conditions"`
	Encounters   int `json:"encounters"`
}

func (r *RowSet) Counts() Counts {
	return Counts{
		Observations: len(r.Observations),
		Medications:  len(r.Medications),
		Conditions:   len(r.Conditions),
		Encounters:   len(r.Encounters),
	}
}

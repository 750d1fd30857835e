package snapshot

import (
	"encoding/json"
	"fmt"

	"github.com/carelink/carelink/internal/platform/fhir"
)

// Wire shapes of the export records. Only the fields the extractors read are
// declared; everything else survives in the raw document.

type observationResource struct {
	Code                 *fhir.CodeableConcept `json:"code"`
	ValueQuantity        *fhir.Quantity        `json:"valueQuantity"`
	ValueString          string                `json:"valueString"`
	ValueCodeableConcept *fhir.CodeableConcept `json:"valueCodeableConcept"`
	EffectiveDateTime    string                `json:"effectiveDateTime"`
	EffectivePeriod      *fhir.Period          `json:"effectivePeriod"`
}

type medicationResource struct {
	MedicationCodeableConcept *fhir.CodeableConcept `json:"medicationCodeableConcept"`
	MedicationReference       *fhir.Reference       `json:"medicationReference"`
	DosageInstruction         []fhir.Dosage         `json:"dosageInstruction"`
	Dosage                    []fhir.Dosage         `json:"dosage"` // MedicationStatement spells it this way
}

type conditionResource struct {
	Code *fhir.CodeableConcept `json:"code"`
}

type encounterResource struct {
	Type        []fhir.CodeableConcept `json:"type"`
	ReasonCode  []fhir.CodeableConcept `json:"reasonCode"`
	ServiceType *fhir.CodeableConcept  `json:"serviceType"`
	Period      *fhir.Period           `json:"period"`
}

// extractObservation maps one Observation record. Field precedence:
// code from the first coding's code, else the concept text; display from the
// first coding's display; value from a quantity rendered "value unit", else
// the plain string, else the coded concept's text; unit from the quantity;
// effective time from the point-in-time field, else the period start.
func extractObservation(raw []byte) (*ObservationSnapshot, error) {
	var res observationResource
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}

	value := res.ValueQuantity.Render()
	if value == nil && res.ValueString != "" {
		v := res.ValueString
		value = &v
	}
	if value == nil && res.ValueCodeableConcept != nil && res.ValueCodeableConcept.Text != "" {
		v := res.ValueCodeableConcept.Text
		value = &v
	}

	var unit *string
	if res.ValueQuantity != nil && res.ValueQuantity.Unit != "" {
		u := res.ValueQuantity.Unit
		unit = &u
	}

	effective := fhir.ParseTime(res.EffectiveDateTime)
	if effective == nil {
		effective = res.EffectivePeriod.StartTime()
	}

	return &ObservationSnapshot{
		Code:        res.Code.CodeOrText(),
		Display:     res.Code.FirstDisplay(),
		Value:       value,
		Unit:        unit,
		EffectiveAt: effective,
		Raw:         raw,
	}, nil
}

// extractMedication maps one MedicationRequest or MedicationStatement record.
// Name comes from the coded concept's text, else its first coding's display,
// else the referenced resource's display. Dosage is the free-text instruction
// when present, else composed from the first structured dose-and-rate entry.
func extractMedication(raw []byte) (*MedicationSnapshot, error) {
	var res medicationResource
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}

	name := res.MedicationCodeableConcept.TextOrDisplay()
	if name == nil && res.MedicationReference != nil && res.MedicationReference.Display != "" {
		n := res.MedicationReference.Display
		name = &n
	}

	dosages := res.DosageInstruction
	if len(dosages) == 0 {
		dosages = res.Dosage
	}

	return &MedicationSnapshot{
		Name:   name,
		Dosage: extractDosage(dosages),
		Raw:    raw,
	}, nil
}

func extractDosage(dosages []fhir.Dosage) *string {
	if len(dosages) == 0 {
		return nil
	}
	d := dosages[0]
	if d.Text != "" {
		t := d.Text
		return &t
	}
	if len(d.DoseAndRate) == 0 {
		return nil
	}
	dar := d.DoseAndRate[0]
	if dose := dar.DoseQuantity.Render(); dose != nil {
		return dose
	}
	if rate := dar.RateQuantity.Render(); rate != nil {
		s := fmt.Sprintf("%s/day", *rate)
		return &s
	}
	return nil
}

// extractCondition maps one Condition record: the concept's text, else its
// first coding's display.
func extractCondition(raw []byte) (*ConditionSnapshot, error) {
	var res conditionResource
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}
	return &ConditionSnapshot{
		Display: res.Code.TextOrDisplay(),
		Raw:     raw,
	}, nil
}

// extractEncounter maps one Encounter record. Type, reason and service type
// each follow the text-else-first-display pattern.
func extractEncounter(raw []byte) (*EncounterSnapshot, error) {
	var res encounterResource
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}

	enc := &EncounterSnapshot{
		ServiceType: res.ServiceType.TextOrDisplay(),
		PeriodStart: res.Period.StartTime(),
		PeriodEnd:   res.Period.EndTime(),
		Raw:         raw,
	}
	if len(res.Type) > 0 {
		enc.TypeDisplay = res.Type[0].TextOrDisplay()
	}
	if len(res.ReasonCode) > 0 {
		enc.Reason = res.ReasonCode[0].TextOrDisplay()
	}
	return enc, nil
}

package snapshot

import (
	"testing"
	"time"
)

func TestExtractObservation_QuantityValue(t *testing.T) {
	raw := []byte(`{"resourceType":"Observation","code":{"coding":[{"code":"8302-2","display":"Height"}]},"valueQuantity":{"value":180,"unit":"cm"},"effectiveDateTime":"2024-01-01"}`)

	obs, err := extractObservation(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obs.Code == nil || *obs.Code != "8302-2" {
		t.Errorf("expected coding code, got %v", obs.Code)
	}
	if obs.Display == nil || *obs.Display != "Height" {
		t.Errorf("expected coding display, got %v", obs.Display)
	}
	if obs.Value == nil || *obs.Value != "180 cm" {
		t.Errorf("expected \"180 cm\", got %v", obs.Value)
	}
	if obs.Unit == nil || *obs.Unit != "cm" {
		t.Errorf("expected quantity unit, got %v", obs.Unit)
	}
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if obs.EffectiveAt == nil || !obs.EffectiveAt.Equal(want) {
		t.Errorf("expected %v, got %v", want, obs.EffectiveAt)
	}
}

func TestExtractObservation_ValueFallbacks(t *testing.T) {
	obs, err := extractObservation([]byte(`{"valueString": "positive"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obs.Value == nil || *obs.Value != "positive" {
		t.Errorf("expected string value, got %v", obs.Value)
	}

	obs, err = extractObservation([]byte(`{"valueCodeableConcept": {"text": "detected"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obs.Value == nil || *obs.Value != "detected" {
		t.Errorf("expected concept text, got %v", obs.Value)
	}

	obs, err = extractObservation([]byte(`{"code": {"text": "Height"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obs.Value != nil {
		t.Errorf("expected absent value, got %q", *obs.Value)
	}
	if obs.Code == nil || *obs.Code != "Height" {
		t.Errorf("expected text code fallback, got %v", obs.Code)
	}
}

func TestExtractObservation_QuantityBeatsString(t *testing.T) {
	raw := []byte(`{
		"valueQuantity": {"value": 98.6, "unit": "F"},
		"valueString": "ignored"
	}`)
	obs, err := extractObservation(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obs.Value == nil || *obs.Value != "98.6 F" {
		t.Errorf("expected quantity to win, got %v", obs.Value)
	}
}

func TestExtractObservation_EffectivePeriodFallback(t *testing.T) {
	raw := []byte(`{"effectivePeriod": {"start": "2024-01-15", "end": "2024-01-20"}}`)
	obs, err := extractObservation(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	if obs.EffectiveAt == nil || !obs.EffectiveAt.Equal(want) {
		t.Errorf("expected period start, got %v", obs.EffectiveAt)
	}
}

func TestExtractMedication_NamePrecedence(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "concept text wins",
			raw:  `{"medicationCodeableConcept": {"text": "Lisinopril 10mg", "coding": [{"display": "Lisinopril"}]}}`,
			want: "Lisinopril 10mg",
		},
		{
			name: "coding display fallback",
			raw:  `{"medicationCodeableConcept": {"coding": [{"display": "Lisinopril"}]}}`,
			want: "Lisinopril",
		},
		{
			name: "reference display fallback",
			raw:  `{"medicationReference": {"reference": "Medication/m1", "display": "Atorvastatin"}}`,
			want: "Atorvastatin",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			med, err := extractMedication([]byte(tc.raw))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if med.Name == nil || *med.Name != tc.want {
				t.Errorf("expected %q, got %v", tc.want, med.Name)
			}
		})
	}
}

func TestExtractMedication_Dosage(t *testing.T) {
	med, err := extractMedication([]byte(`{"dosageInstruction": [{"text": "Take one tablet daily"}]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if med.Dosage == nil || *med.Dosage != "Take one tablet daily" {
		t.Errorf("expected instruction text, got %v", med.Dosage)
	}

	med, err = extractMedication([]byte(`{"dosageInstruction": [{"doseAndRate": [{"doseQuantity": {"value": 10, "unit": "mg"}}]}]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if med.Dosage == nil || *med.Dosage != "10 mg" {
		t.Errorf("expected composed dose, got %v", med.Dosage)
	}

	med, err = extractMedication([]byte(`{"dosageInstruction": [{"doseAndRate": [{"rateQuantity": {"value": 2, "unit": "mL"}}]}]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if med.Dosage == nil || *med.Dosage != "2 mL/day" {
		t.Errorf("expected composed rate, got %v", med.Dosage)
	}
}

func TestExtractMedication_StatementDosageField(t *testing.T) {
	med, err := extractMedication([]byte(`{"dosage": [{"text": "As needed"}]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if med.Dosage == nil || *med.Dosage != "As needed" {
		t.Errorf("expected statement dosage, got %v", med.Dosage)
	}
}

func TestExtractCondition(t *testing.T) {
	cond, err := extractCondition([]byte(`{"code": {"text": "High blood pressure", "coding": [{"display": "Hypertension"}]}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cond.Display == nil || *cond.Display != "High blood pressure" {
		t.Errorf("expected text, got %v", cond.Display)
	}

	cond, err = extractCondition([]byte(`{"code": {"coding": [{"display": "Hypertension"}]}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cond.Display == nil || *cond.Display != "Hypertension" {
		t.Errorf("expected display fallback, got %v", cond.Display)
	}
}

func TestExtractEncounter(t *testing.T) {
	raw := []byte(`{
		"type": [{"coding": [{"display": "Office visit"}]}],
		"reasonCode": [{"text": "Annual physical"}],
		"serviceType": {"coding": [{"display": "Primary care"}]},
		"period": {"start": "2024-02-01T09:00:00Z", "end": "2024-02-01T09:30:00Z"}
	}`)
	enc, err := extractEncounter(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enc.TypeDisplay == nil || *enc.TypeDisplay != "Office visit" {
		t.Errorf("unexpected type: %v", enc.TypeDisplay)
	}
	if enc.Reason == nil || *enc.Reason != "Annual physical" {
		t.Errorf("unexpected reason: %v", enc.Reason)
	}
	if enc.ServiceType == nil || *enc.ServiceType != "Primary care" {
		t.Errorf("unexpected service type: %v", enc.ServiceType)
	}
	if enc.PeriodStart == nil || enc.PeriodEnd == nil {
		t.Error("expected period bounds")
	}
}

func TestExtract_RawRetained(t *testing.T) {
	raw := []byte(`{"resourceType": "Condition", "code": {"text": "Asthma"}, "severity": {"text": "mild"}}`)
	cond, err := extractCondition(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(cond.Raw) != string(raw) {
		t.Error("expected verbatim original record retained")
	}
}

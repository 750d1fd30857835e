// Package fhir holds the FHIR R4 element types that appear in partner export
// records. Only the elements the ingest extractors read are modelled; every
// field is optional because third-party feeds omit freely.
package fhir

import (
	"fmt"
	"strconv"
	"time"
)

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// CodeOrText returns the first coding's code, falling back to the textual
// description. Nil when neither is present.
func (c *CodeableConcept) CodeOrText() *string {
	if c == nil {
		return nil
	}
	if len(c.Coding) > 0 && c.Coding[0].Code != "" {
		return &c.Coding[0].Code
	}
	if c.Text != "" {
		return &c.Text
	}
	return nil
}

// TextOrDisplay returns the concept's text, falling back to the first
// coding's display name. Nil when neither is present.
func (c *CodeableConcept) TextOrDisplay() *string {
	if c == nil {
		return nil
	}
	if c.Text != "" {
		return &c.Text
	}
	if len(c.Coding) > 0 && c.Coding[0].Display != "" {
		return &c.Coding[0].Display
	}
	return nil
}

// FirstDisplay returns the first coding's display name, or nil.
func (c *CodeableConcept) FirstDisplay() *string {
	if c == nil || len(c.Coding) == 0 || c.Coding[0].Display == "" {
		return nil
	}
	return &c.Coding[0].Display
}

type Reference struct {
	Reference string `json:"reference,omitempty"`
	Type      string `json:"type,omitempty"`
	Display   string `json:"display,omitempty"`
}

// Period keeps its bounds as raw strings because FHIR dateTimes come in
// several precisions (full timestamp, date, year-month). Use ParseTime to get
// a concrete time.
type Period struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// StartTime parses the period's start, or nil when absent or unparseable.
func (p *Period) StartTime() *time.Time {
	if p == nil {
		return nil
	}
	return ParseTime(p.Start)
}

// EndTime parses the period's end, or nil when absent or unparseable.
func (p *Period) EndTime() *time.Time {
	if p == nil {
		return nil
	}
	return ParseTime(p.End)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006-01",
	"2006",
}

// ParseTime parses a FHIR dateTime at any of its allowed precisions. Returns
// nil for empty or unparseable input; extraction treats that as "absent".
func ParseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

type Quantity struct {
	Value *float64 `json:"value,omitempty"`
	Unit  string   `json:"unit,omitempty"`
	Code  string   `json:"code,omitempty"`
}

// Render formats the quantity as "value unit" ("180 cm"), or just the value
// when the unit is absent. Nil when there is no value.
func (q *Quantity) Render() *string {
	if q == nil || q.Value == nil {
		return nil
	}
	s := strconv.FormatFloat(*q.Value, 'f', -1, 64)
	if q.Unit != "" {
		s = fmt.Sprintf("%s %s", s, q.Unit)
	}
	return &s
}

// Dosage is the FHIR dosage element carried on medication resources.
type Dosage struct {
	Text        string        `json:"text,omitempty"`
	DoseAndRate []DoseAndRate `json:"doseAndRate,omitempty"`
}

type DoseAndRate struct {
	DoseQuantity *Quantity `json:"doseQuantity,omitempty"`
	RateQuantity *Quantity `json:"rateQuantity,omitempty"`
}

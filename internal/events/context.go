package events

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// DecodeIncidentContext decodes raw one field at a time. A field that is
// absent, null or of the wrong JSON type is left unset and its name is
// returned in dropped; the other fields survive. Only input that is not a
// JSON object is an error.
func DecodeIncidentContext(raw []byte) (ic *IncidentContext, dropped []string, err error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, nil, fmt.Errorf("incident context is not a JSON object: %w", err)
	}

	ic = &IncidentContext{}
	if v, ok := decodeField[string](fields, "goalId", &dropped); ok {
		ic.GoalID = v
	}
	if v, ok := decodeField[decimal.Decimal](fields, "expectedAmount", &dropped); ok {
		ic.ExpectedAmount = &v
	}
	if v, ok := decodeField[decimal.Decimal](fields, "actualAmount", &dropped); ok {
		ic.ActualAmount = &v
	}
	if v, ok := decodeField[int](fields, "month", &dropped); ok {
		ic.Month = v
	}
	if v, ok := decodeField[int](fields, "year", &dropped); ok {
		ic.Year = v
	}
	if v, ok := decodeField[string](fields, "additionalNotes", &dropped); ok {
		ic.AdditionalNotes = v
	}
	return ic, dropped, nil
}

func decodeField[T any](fields map[string]json.RawMessage, name string, dropped *[]string) (T, bool) {
	var v T
	raw, ok := fields[name]
	if !ok || string(raw) == "null" {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		*dropped = append(*dropped, name)
		var zero T
		return zero, false
	}
	return v, true
}

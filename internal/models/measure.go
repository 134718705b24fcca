package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Measure is a value that may not have been computable. An unknown measure
// carries the reason instead of a sentinel number.
type Measure struct {
	value  decimal.Decimal
	reason string
	known  bool
}

// Known wraps a computed value
func Known(v decimal.Decimal) Measure {
	return Measure{value: v, known: true}
}

// KnownFloat wraps a computed float value rounded to the given places
func KnownFloat(v float64, places int32) Measure {
	return Known(decimal.NewFromFloat(v).Round(places))
}

// Unknown records why a value could not be computed
func Unknown(reason string) Measure {
	return Measure{reason: reason}
}

// Get returns the value and whether it is known
func (m Measure) Get() (decimal.Decimal, bool) {
	return m.value, m.known
}

// IsKnown reports whether the measure holds a value
func (m Measure) IsKnown() bool { return m.known }

// Reason is empty for known measures
func (m Measure) Reason() string { return m.reason }

type measureJSON struct {
	Known  bool             `json:"known"`
	Value  *decimal.Decimal `json:"value,omitempty"`
	Reason string           `json:"reason,omitempty"`
}

// MarshalJSON renders {"known":true,"value":"0.93"} or {"known":false,"reason":"..."}
func (m Measure) MarshalJSON() ([]byte, error) {
	out := measureJSON{Known: m.known, Reason: m.reason}
	if m.known {
		v := m.value
		out.Value = &v
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON
func (m *Measure) UnmarshalJSON(data []byte) error {
	var in measureJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.Known && in.Value != nil {
		*m = Known(*in.Value)
		return nil
	}
	*m = Unknown(in.Reason)
	return nil
}

package telemetry

import (
	"math"
	"time"
)

// Measurement is a single channel reading. The zero value is the missing marker.
type Measurement struct {
	value float64
	valid bool
}

// Value wraps a reading. NaN and infinities are treated as missing.
func Value(v float64) Measurement {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Measurement{}
	}
	return Measurement{value: v, valid: true}
}

// Missing returns the invalid marker.
func Missing() Measurement {
	return Measurement{}
}

func (m Measurement) Float() (float64, bool) {
	return m.value, m.valid
}

func (m Measurement) Valid() bool {
	return m.valid
}

// Sample is one reading set produced per reporting cycle.
type Sample struct {
	Temperature Measurement
	Humidity    Measurement
	WindSpeed   Measurement
	NoiseLevel  Measurement
	TakenAt     time.Time
}

// Valid reports whether every channel carries a finite value.
func (s Sample) Valid() bool {
	return len(s.MissingFields()) == 0
}

// MissingFields lists the wire names of the channels without a value.
func (s Sample) MissingFields() []string {
	var out []string
	for _, f := range s.fields() {
		if !f.m.valid {
			out = append(out, f.name)
		}
	}
	return out
}

type namedMeasurement struct {
	name string
	m    Measurement
}

func (s Sample) fields() [4]namedMeasurement {
	return [4]namedMeasurement{
		{"temperature", s.Temperature},
		{"humidity", s.Humidity},
		{"windSpeed", s.WindSpeed},
		{"noiseLevel", s.NoiseLevel},
	}
}

// LogAttrs flattens the sample for structured logs; missing channels are nil.
func (s Sample) LogAttrs() []any {
	attrs := make([]any, 0, 8)
	for _, f := range s.fields() {
		if v, ok := f.m.Float(); ok {
			attrs = append(attrs, f.name, v)
		} else {
			attrs = append(attrs, f.name, nil)
		}
	}
	return attrs
}

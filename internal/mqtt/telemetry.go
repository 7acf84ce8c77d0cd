package mqtt

import "cloudpico-node/internal/telemetry"

// FromSample converts a node sample; missing channels are omitted.
func FromSample(stationID string, s telemetry.Sample) Telemetry {
	return Telemetry{
		StationID:   stationID,
		Timestamp:   s.TakenAt,
		Temperature: ptr(s.Temperature),
		Humidity:    ptr(s.Humidity),
		WindSpeed:   ptr(s.WindSpeed),
		NoiseLevel:  ptr(s.NoiseLevel),
	}
}

func ptr(m telemetry.Measurement) *float64 {
	v, ok := m.Float()
	if !ok {
		return nil
	}
	return &v
}

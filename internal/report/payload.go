package report

import (
	"encoding/json"
	"fmt"
	"strconv"

	"cloudpico-node/internal/telemetry"
)

// ContentType is sent with every report.
const ContentType = "application/json"

// fixed2 marshals as a JSON number with exactly two fractional digits.
type fixed2 float64

func (f fixed2) MarshalJSON() ([]byte, error) {
	return strconv.AppendFloat(nil, float64(f), 'f', 2, 64), nil
}

type payload struct {
	Temperature fixed2 `json:"temperature"`
	Humidity    fixed2 `json:"humidity"`
	WindSpeed   fixed2 `json:"windSpeed"`
	NoiseLevel  fixed2 `json:"noiseLevel"`
}

// EncodePayload renders a fully valid sample. It refuses samples with any
// missing channel so a partial payload can never be produced.
func EncodePayload(s telemetry.Sample) ([]byte, error) {
	if missing := s.MissingFields(); len(missing) > 0 {
		return nil, fmt.Errorf("sample has invalid fields %v", missing)
	}
	t, _ := s.Temperature.Float()
	h, _ := s.Humidity.Float()
	w, _ := s.WindSpeed.Float()
	n, _ := s.NoiseLevel.Float()

	return json.Marshal(payload{
		Temperature: fixed2(t),
		Humidity:    fixed2(h),
		WindSpeed:   fixed2(w),
		NoiseLevel:  fixed2(n),
	})
}

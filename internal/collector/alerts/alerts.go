// Package alerts turns a reading into human-readable threshold warnings.
package alerts

// Reading carries the four channels alerts are evaluated on.
type Reading struct {
	Temperature float64
	Humidity    float64
	WindSpeed   float64
	NoiseLevel  float64
}

// Build lists every threshold the reading crosses. Within a channel only
// the most severe message is reported.
func Build(r Reading) []string {
	var out []string

	switch t := r.Temperature; {
	case t >= 45:
		out = append(out, "EXTREME DANGER! Risk of heat stroke.")
	case t >= 38:
		out = append(out, "VERY HOT: stay hydrated.")
	case t >= 30:
		out = append(out, "Warm: monitor comfort.")
	case t < 10:
		out = append(out, "Very cold: keep warm.")
	}

	if r.Humidity < 30 {
		out = append(out, "Air too dry: use a humidifier.")
	}
	if r.Humidity > 80 {
		out = append(out, "High humidity: mold risk.")
	}

	switch w := r.WindSpeed; {
	case w > 80:
		out = append(out, "Extreme wind danger.")
	case w > 50:
		out = append(out, "High wind detected.")
	}

	switch n := r.NoiseLevel; {
	case n > 100:
		out = append(out, "Dangerous noise level.")
	case n > 80:
		out = append(out, "Loud noise: unsafe long exposure.")
	}

	return out
}

// ShouldNotify reports whether the reading warrants an outbound alert.
// alertTemp is the configured temperature trigger.
func ShouldNotify(r Reading, alertTemp float64) bool {
	return r.Temperature >= alertTemp ||
		r.Humidity < 30 ||
		r.Humidity > 80 ||
		r.WindSpeed > 50 ||
		r.NoiseLevel > 80
}

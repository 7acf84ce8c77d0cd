// Package sample provides the sensor readers the scheduler pulls one
// telemetry sample from per cycle.
package sample

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"cloudpico-node/internal/telemetry"
)

// Source produces one sample per call. Failed channels come back missing
// rather than as an error.
type Source interface {
	Read(ctx context.Context) telemetry.Sample
}

// Aux holds the values reported for channels the hardware does not measure.
type Aux struct {
	WindSpeed  float64
	NoiseLevel float64
}

// Fixed always reports the same reading.
type Fixed struct {
	Temperature float64
	Humidity    float64
	Aux
}

func (f Fixed) Read(context.Context) telemetry.Sample {
	return telemetry.Sample{
		Temperature: telemetry.Value(f.Temperature),
		Humidity:    telemetry.Value(f.Humidity),
		WindSpeed:   telemetry.Value(f.WindSpeed),
		NoiseLevel:  telemetry.Value(f.NoiseLevel),
		TakenAt:     time.Now(),
	}
}

type walk struct {
	value, step, min, max float64
}

func (w *walk) next(r *rand.Rand) float64 {
	w.value += (r.Float64()*2 - 1) * w.step
	w.value = min(max(w.value, w.min), w.max)
	return w.value
}

// Simulated is a bounded random walk seeded from a Fixed reading. It is
// meant for running the node on a desk without sensors attached.
type Simulated struct {
	mu   sync.Mutex
	rng  *rand.Rand
	temp walk
	hum  walk
	wind walk
	nois walk
}

func NewSimulated(start Fixed, seed uint64) *Simulated {
	return &Simulated{
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		temp: walk{value: start.Temperature, step: 0.2, min: -20, max: 50},
		hum:  walk{value: start.Humidity, step: 0.5, min: 0, max: 100},
		wind: walk{value: start.WindSpeed, step: 1, min: 0, max: 120},
		nois: walk{value: start.NoiseLevel, step: 2, min: 0, max: 130},
	}
}

func (s *Simulated) Read(context.Context) telemetry.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return telemetry.Sample{
		Temperature: telemetry.Value(s.temp.next(s.rng)),
		Humidity:    telemetry.Value(s.hum.next(s.rng)),
		WindSpeed:   telemetry.Value(s.wind.next(s.rng)),
		NoiseLevel:  telemetry.Value(s.nois.next(s.rng)),
		TakenAt:     time.Now(),
	}
}

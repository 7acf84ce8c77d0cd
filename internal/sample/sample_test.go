package sample

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	clocktesting "k8s.io/utils/clock/testing"
	"periph.io/x/conn/v3/physic"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFixed_Read(t *testing.T) {
	s := Fixed{Temperature: 26.5, Humidity: 51.2}.Read(context.Background())
	if !s.Valid() {
		t.Fatalf("Fixed sample invalid: %v", s.MissingFields())
	}
	if v, _ := s.Temperature.Float(); v != 26.5 {
		t.Errorf("Temperature = %v", v)
	}
	if v, _ := s.NoiseLevel.Float(); v != 0 {
		t.Errorf("NoiseLevel = %v", v)
	}
}

func TestFixed_NaNIsMissing(t *testing.T) {
	s := Fixed{Temperature: math.NaN(), Humidity: 40}.Read(context.Background())
	if got := s.MissingFields(); len(got) != 1 || got[0] != "temperature" {
		t.Fatalf("MissingFields() = %v", got)
	}
}

func TestSimulated_StaysInBounds(t *testing.T) {
	sim := NewSimulated(Fixed{Temperature: 49.9, Humidity: 0.1}, 42)
	for i := 0; i < 1000; i++ {
		s := sim.Read(context.Background())
		if !s.Valid() {
			t.Fatalf("read %d invalid", i)
		}
		temp, _ := s.Temperature.Float()
		hum, _ := s.Humidity.Float()
		if temp < -20 || temp > 50 {
			t.Fatalf("temperature %v out of range", temp)
		}
		if hum < 0 || hum > 100 {
			t.Fatalf("humidity %v out of range", hum)
		}
	}
}

func TestSimulated_Deterministic(t *testing.T) {
	a := NewSimulated(Fixed{Temperature: 20, Humidity: 50}, 7)
	b := NewSimulated(Fixed{Temperature: 20, Humidity: 50}, 7)
	for i := 0; i < 10; i++ {
		ta, _ := a.Read(context.Background()).Temperature.Float()
		tb, _ := b.Read(context.Background()).Temperature.Float()
		if ta != tb {
			t.Fatalf("read %d: %v != %v", i, ta, tb)
		}
	}
}

type fakeSenser struct {
	env    physic.Env
	err    error
	halted bool
}

func (f *fakeSenser) Sense(e *physic.Env) error {
	if f.err != nil {
		return f.err
	}
	*e = f.env
	return nil
}

func (f *fakeSenser) Halt() error {
	f.halted = true
	return nil
}

func TestBME280_Read(t *testing.T) {
	dev := &fakeSenser{env: physic.Env{
		Temperature: physic.ZeroCelsius + 21500*physic.MilliKelvin,
		Humidity:    45 * physic.PercentRH,
	}}
	b := newBME280(dev, nil, Aux{WindSpeed: 3, NoiseLevel: 40}, quietLogger())

	s := b.Read(context.Background())
	if !s.Valid() {
		t.Fatalf("sample invalid: %v", s.MissingFields())
	}
	if v, _ := s.Temperature.Float(); math.Abs(v-21.5) > 1e-9 {
		t.Errorf("Temperature = %v, want 21.5", v)
	}
	if v, _ := s.Humidity.Float(); v != 45 {
		t.Errorf("Humidity = %v, want 45", v)
	}
	if v, _ := s.WindSpeed.Float(); v != 3 {
		t.Errorf("WindSpeed = %v, want 3", v)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !dev.halted {
		t.Fatal("Close() did not halt the device")
	}
}

func TestBME280_SenseFailure(t *testing.T) {
	b := newBME280(&fakeSenser{err: errors.New("i2c nack")}, nil, Aux{}, quietLogger())

	got := b.Read(context.Background()).MissingFields()
	if len(got) != 2 || got[0] != "temperature" || got[1] != "humidity" {
		t.Fatalf("MissingFields() = %v", got)
	}
}

const testDeviceID = 0xCAFE

// beaconPayload encodes manufacturer data the way the sensor firmware does:
// magic, device_id, reading_id, then T/P/H as float32.
func beaconPayload(id uint32, temp, press, hum float32) []byte {
	b := make([]byte, 22)
	b[0], b[1] = 0x01, 0xD0
	binary.LittleEndian.PutUint32(b[2:6], testDeviceID)
	binary.LittleEndian.PutUint32(b[6:10], id)
	binary.LittleEndian.PutUint32(b[10:14], math.Float32bits(temp))
	binary.LittleEndian.PutUint32(b[14:18], math.Float32bits(press))
	binary.LittleEndian.PutUint32(b[18:22], math.Float32bits(hum))
	return b
}

func TestParseBeacon(t *testing.T) {
	r, err := ParseBeacon(beaconPayload(9, 22.25, 1013.5, 40.5))
	if err != nil {
		t.Fatalf("ParseBeacon() error = %v", err)
	}
	if r.DeviceID != testDeviceID || r.ReadingID != 9 {
		t.Fatalf("ParseBeacon() ids = %+v", r)
	}
	if r.Temperature != 22.25 || r.Pressure != 1013.5 || r.Humidity != 40.5 {
		t.Fatalf("ParseBeacon() = %+v", r)
	}

	if _, err := ParseBeacon(beaconPayload(9, 22.25, 1013.5, 40.5)[:18]); err == nil {
		t.Error("ParseBeacon(18 bytes) error = nil")
	}

	if _, err := ParseBeacon([]byte{0x01, 0xD0}); err == nil {
		t.Error("ParseBeacon(short) error = nil")
	}
	bad := beaconPayload(1, 0, 0, 0)
	bad[1] = 0xAA
	if _, err := ParseBeacon(bad); err == nil {
		t.Error("ParseBeacon(bad magic) error = nil")
	}
}

func TestBeacon_FirmwareReading(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Unix(1700000000, 0))
	b := NewBeacon(Aux{WindSpeed: 3, NoiseLevel: 40}, 30*time.Second, clk, quietLogger())

	b.HandleMatch(Match{Address: "AA:BB", Data: beaconPayload(1, 21.5, 1013.25, 45)})

	s := b.Read(context.Background())
	temp, _ := s.Temperature.Float()
	hum, _ := s.Humidity.Float()
	if temp != 21.5 || hum != 45 {
		t.Fatalf("Read() temperature=%v humidity=%v, want 21.5/45", temp, hum)
	}

	b.HandleMatch(Match{Address: "AA:BB", Data: beaconPayload(2, 22, 1013.25, 46)})
	s = b.Read(context.Background())
	if v, _ := s.Temperature.Float(); v != 22 {
		t.Fatalf("Temperature = %v, want 22 from the next reading of the same device", v)
	}
}

func TestBeacon_LatestAndStale(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Unix(1700000000, 0))
	b := NewBeacon(Aux{}, 30*time.Second, clk, quietLogger())

	if s := b.Read(context.Background()); s.Valid() {
		t.Fatal("sample valid before any beacon was seen")
	}

	b.HandleMatch(Match{Address: "AA:BB", Data: beaconPayload(1, 18, 1000, 60)})
	b.HandleMatch(Match{Address: "AA:BB", Data: []byte{0xFF}})
	b.HandleMatch(Match{Address: "AA:BB", Data: beaconPayload(2, 19, 1000, 61)})

	s := b.Read(context.Background())
	if !s.Valid() {
		t.Fatalf("sample invalid: %v", s.MissingFields())
	}
	if v, _ := s.Temperature.Float(); v != 19 {
		t.Fatalf("Temperature = %v, want latest 19", v)
	}

	clk.Step(31 * time.Second)
	if s := b.Read(context.Background()); s.Temperature.Valid() {
		t.Fatal("stale beacon reading still reported")
	}
}

package sample

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Beacon manufacturer data (little-endian): [0:2] magic 0x01 0xD0,
// [2:6] device_id uint32, [6:10] reading_id uint32, [10:14] temperature float32,
// [14:18] pressure float32, [18:22] humidity float32.
const (
	BeaconCompanyID = 0xFFFF

	beaconMagic0 = 0x01
	beaconMagic1 = 0xD0
	beaconLen    = 22
)

// BeaconPrefix is the manufacturer data prefix the listener filters on.
var BeaconPrefix = []byte{beaconMagic0, beaconMagic1}

type BeaconReading struct {
	DeviceID    uint32
	ReadingID   uint32
	Temperature float64
	Pressure    float64
	Humidity    float64
}

func ParseBeacon(data []byte) (BeaconReading, error) {
	if len(data) < beaconLen {
		return BeaconReading{}, fmt.Errorf("payload too short: %d", len(data))
	}
	if data[0] != beaconMagic0 || data[1] != beaconMagic1 {
		return BeaconReading{}, fmt.Errorf("invalid magic: %02X %02X", data[0], data[1])
	}
	return BeaconReading{
		DeviceID:    binary.LittleEndian.Uint32(data[2:6]),
		ReadingID:   binary.LittleEndian.Uint32(data[6:10]),
		Temperature: float64(math.Float32frombits(binary.LittleEndian.Uint32(data[10:14]))),
		Pressure:    float64(math.Float32frombits(binary.LittleEndian.Uint32(data[14:18]))),
		Humidity:    float64(math.Float32frombits(binary.LittleEndian.Uint32(data[18:22]))),
	}, nil
}

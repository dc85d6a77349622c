// Package sensors provides the temperature probe and combo sensor drivers and
// converts their raw output into sampling readings. Sentinel values never
// leave this package.
package sensors

import (
	"context"
	"errors"
	"math"

	"github.com/ryansname/sensorctl/src/sampling"
)

var (
	// ErrDisconnected means the device did not answer on the bus
	ErrDisconnected = errors.New("device disconnected")
	// ErrCRC means the device answered with a corrupted scratchpad
	ErrCRC = errors.New("crc check failed")
	// ErrBadResponse means the device answered with something unparseable
	ErrBadResponse = errors.New("bad response")
)

// DS18B20 raw values that are not temperatures
const (
	DisconnectedCelsius = -127.0 // Library value for an absent device
	PowerOnResetCelsius = 85.0   // Scratchpad default before the first conversion
	ProbeMinCelsius     = -55.0
	ProbeMaxCelsius     = 125.0
	ComboMinCelsius     = -40.0
	ComboMaxCelsius     = 80.0
	ComboMinHumidity    = 0.0
	ComboMaxHumidity    = 100.0
)

// ProbeBus is a shared bus of temperature probes, e.g. 1-Wire DS18B20s.
type ProbeBus interface {
	// RequestConversion starts a temperature conversion on every probe
	RequestConversion(ctx context.Context) error
	// ReadCelsius reads back one probe's last conversion
	ReadCelsius(ctx context.Context, address string) (float64, error)
}

// ComboSensor is a single device measuring temperature and humidity, e.g. a
// DHT11. Each quantity is read and may fail independently.
type ComboSensor interface {
	ReadTemperature(ctx context.Context) (float64, error)
	ReadHumidity(ctx context.Context) (float64, error)
}

// ValidateProbe turns a raw probe result into a reading. Driver errors, the
// disconnected value, the power-on reset value and anything outside the
// probe's range are invalid.
func ValidateProbe(celsius float64, err error) sampling.Reading {
	if err != nil {
		return sampling.Invalid()
	}
	if celsius == DisconnectedCelsius || celsius == PowerOnResetCelsius {
		return sampling.Invalid()
	}
	return inRange(celsius, ProbeMinCelsius, ProbeMaxCelsius)
}

// ValidateComboTemperature turns a raw combo temperature into a reading
func ValidateComboTemperature(celsius float64, err error) sampling.Reading {
	if err != nil {
		return sampling.Invalid()
	}
	return inRange(celsius, ComboMinCelsius, ComboMaxCelsius)
}

// ValidateComboHumidity turns a raw combo humidity into a reading
func ValidateComboHumidity(percent float64, err error) sampling.Reading {
	if err != nil {
		return sampling.Invalid()
	}
	return inRange(percent, ComboMinHumidity, ComboMaxHumidity)
}

func inRange(v, lo, hi float64) sampling.Reading {
	if math.IsNaN(v) || v < lo || v > hi {
		return sampling.Invalid()
	}
	return sampling.Valid(v)
}

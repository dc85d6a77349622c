package sensors

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// W1Bus reads DS18B20 probes through the Linux w1_therm sysfs interface.
// Reading a probe's w1_slave file returns the scratchpad of a fresh
// conversion; RequestConversion uses the bus master's bulk trigger when the
// kernel exposes it so all probes convert together.
type W1Bus struct {
	devicesPath string
}

// NewW1Bus creates a bus rooted at devicesPath, normally /sys/bus/w1/devices
func NewW1Bus(devicesPath string) *W1Bus {
	return &W1Bus{devicesPath: devicesPath}
}

// RequestConversion triggers a bulk conversion on every bus master
func (b *W1Bus) RequestConversion(ctx context.Context) error {
	masters, err := filepath.Glob(filepath.Join(b.devicesPath, "w1_bus_master*", "therm_bulk_read"))
	if err != nil {
		return fmt.Errorf("find bus masters: %w", err)
	}

	for _, trigger := range masters {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.WriteFile(trigger, []byte("trigger\n"), 0); err != nil {
			return fmt.Errorf("trigger bulk conversion %s: %w", trigger, err)
		}
	}
	return nil
}

// ReadCelsius reads one probe. address may be a w1 id (28-3de104579588) or
// a ROM code as printed by Arduino sketches (28 88 95 57 04 E1 3D 02).
func (b *W1Bus) ReadCelsius(ctx context.Context, address string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	id, err := SysfsID(address)
	if err != nil {
		return 0, err
	}

	data, err := os.ReadFile(filepath.Join(b.devicesPath, id, "w1_slave"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("probe %s: %w", id, ErrDisconnected)
		}
		return 0, fmt.Errorf("probe %s: %w", id, err)
	}

	celsius, err := parseW1Slave(string(data))
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", id, err)
	}
	return celsius, nil
}

// parseW1Slave parses the two line w1_slave format:
//
//	72 01 4b 46 7f ff 0e 10 57 : crc=57 YES
//	72 01 4b 46 7f ff 0e 10 57 t=23125
func parseW1Slave(data string) (float64, error) {
	lines := strings.Split(strings.TrimSpace(data), "\n")
	if len(lines) < 2 {
		return 0, fmt.Errorf("%w: %d lines", ErrBadResponse, len(lines))
	}
	if !strings.HasSuffix(strings.TrimSpace(lines[0]), "YES") {
		return 0, ErrCRC
	}

	_, raw, found := strings.Cut(lines[1], "t=")
	if !found {
		return 0, fmt.Errorf("%w: no temperature field", ErrBadResponse)
	}
	milli, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return float64(milli) / 1000, nil
}

// SysfsID converts a probe address into the w1 sysfs device id. Ids already
// in sysfs form are returned lower-cased.
func SysfsID(address string) (string, error) {
	addr := strings.ToLower(strings.TrimSpace(address))
	if strings.Contains(addr, "-") {
		return addr, nil
	}

	rom, err := ParseROM(addr)
	if err != nil {
		return "", err
	}

	// sysfs prints the 48-bit serial most significant byte first
	serial := make([]byte, 6)
	for i := range serial {
		serial[i] = rom[6-i]
	}
	return fmt.Sprintf("%02x-%s", rom[0], hex.EncodeToString(serial)), nil
}

// ParseROM parses an 8 byte 1-Wire ROM code in family-first order and checks
// its CRC. Separators and 0x prefixes are ignored.
func ParseROM(s string) ([8]byte, error) {
	var rom [8]byte

	clean := strings.NewReplacer("0x", "", "0X", "", " ", "", ",", "", ":", "", "{", "", "}", "").Replace(s)
	raw, err := hex.DecodeString(clean)
	if err != nil {
		return rom, fmt.Errorf("parse rom %q: %w", s, err)
	}
	if len(raw) != len(rom) {
		return rom, fmt.Errorf("parse rom %q: want %d bytes, got %d", s, len(rom), len(raw))
	}
	copy(rom[:], raw)

	if crc := crc8(rom[:7]); crc != rom[7] {
		return rom, fmt.Errorf("parse rom %q: %w (want %02x, got %02x)", s, ErrCRC, rom[7], crc)
	}
	return rom, nil
}

// crc8 is the Dallas/Maxim 1-Wire CRC (polynomial x^8 + x^5 + x^4 + 1)
func crc8(data []byte) byte {
	var crc byte
	for _, b := range data {
		for i := 0; i < 8; i++ {
			mix := (crc ^ b) & 0x01
			crc >>= 1
			if mix != 0 {
				crc ^= 0x8C
			}
			b >>= 1
		}
	}
	return crc
}

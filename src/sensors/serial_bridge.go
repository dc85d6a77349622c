package sensors

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// DefaultBridgeBaudRate matches the bridge sketch's Serial.begin
const DefaultBridgeBaudRate = 9600

// bridgePort is the subset of serial.Port the bridge uses
type bridgePort interface {
	io.ReadWriter
	ResetInputBuffer() error
}

// SerialBridge reads a DHT temperature/humidity sensor attached to a
// microcontroller that answers line commands over a serial port:
//
//	-> R
//	<- T:23.40,H:55.10
//
// A failed DHT read is reported as nan by the bridge.
type SerialBridge struct {
	mu      sync.Mutex
	port    bridgePort
	closer  io.Closer
	timeout time.Duration
}

// OpenSerialBridge opens the bridge on portName
func OpenSerialBridge(portName string, baudRate int, timeout time.Duration) (*SerialBridge, error) {
	if baudRate == 0 {
		baudRate = DefaultBridgeBaudRate
	}

	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baudRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	// Short read timeout so a silent bridge can't wedge the caller
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", portName, err)
	}

	b := newSerialBridge(port, timeout)
	b.closer = port
	return b, nil
}

func newSerialBridge(port bridgePort, timeout time.Duration) *SerialBridge {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &SerialBridge{port: port, timeout: timeout}
}

// Close closes the serial port
func (b *SerialBridge) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer.Close()
}

// ReadTemperature returns the DHT temperature in Celsius. NaN means the DHT
// read failed on the bridge.
func (b *SerialBridge) ReadTemperature(ctx context.Context) (float64, error) {
	t, _, err := b.query(ctx)
	return t, err
}

// ReadHumidity returns the DHT relative humidity in percent. NaN means the
// DHT read failed on the bridge.
func (b *SerialBridge) ReadHumidity(ctx context.Context) (float64, error) {
	_, h, err := b.query(ctx)
	return h, err
}

func (b *SerialBridge) query(ctx context.Context) (temperature, humidity float64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Drop anything stale from a previous timed-out query
	if err := b.port.ResetInputBuffer(); err != nil {
		return 0, 0, fmt.Errorf("reset bridge input: %w", err)
	}
	if _, err := b.port.Write([]byte("R\n")); err != nil {
		return 0, 0, fmt.Errorf("write bridge command: %w", err)
	}

	line, err := b.readLine(ctx)
	if err != nil {
		return 0, 0, err
	}
	return parseBridgeLine(line)
}

// readLine reads until newline, the bridge timeout or ctx cancellation. The
// port returns zero bytes without error when its read timeout expires.
func (b *SerialBridge) readLine(ctx context.Context) (string, error) {
	deadline := time.Now().Add(b.timeout)
	var line bytes.Buffer
	buf := make([]byte, 64)

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("bridge read timed out after %v: %w", b.timeout, ErrDisconnected)
		}

		n, err := b.port.Read(buf)
		if n > 0 {
			line.Write(buf[:n])
			if idx := bytes.IndexByte(line.Bytes(), '\n'); idx >= 0 {
				return strings.TrimSpace(string(line.Bytes()[:idx])), nil
			}
		}
		if err != nil {
			return "", fmt.Errorf("read bridge: %w", err)
		}
	}
}

// parseBridgeLine parses "T:<celsius>,H:<percent>"
func parseBridgeLine(line string) (temperature, humidity float64, err error) {
	var gotT, gotH bool
	for _, field := range strings.Split(line, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(field), ":")
		if !ok {
			return 0, 0, fmt.Errorf("%w: field %q", ErrBadResponse, field)
		}
		v, perr := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if perr != nil {
			return 0, 0, fmt.Errorf("%w: field %q: %v", ErrBadResponse, field, perr)
		}
		switch strings.ToUpper(key) {
		case "T":
			temperature, gotT = v, true
		case "H":
			humidity, gotH = v, true
		}
	}
	if !gotT || !gotH {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadResponse, line)
	}
	return temperature, humidity, nil
}

// Package rangefinder reads distance measurements from a ranging sensor
// attached to a serial port and publishes the most recent value for the
// tripwire's polling loop to consume.
package rangefinder

import (
	"bufio"
	"context"
	"io"
	"sync/atomic"

	"go.bug.st/serial"

	"github.com/banshee-data/tripwire/internal/monitoring"
)

// Porter is the minimal interface the rangefinder needs from a serial port.
// The abstraction enables unit testing without real serial hardware.
type Porter interface {
	io.Reader
	io.Closer
}

// Serial reads newline-delimited distance readings from a serial port.
// Range returns the latest parsed value, so the sensor's own report rate and
// the tripwire's poll rate are decoupled.
type Serial struct {
	port   Porter
	latest atomic.Int64
}

// NewSerial creates a rangefinder reading from an already-open port.
func NewSerial(port Porter) *Serial {
	return &Serial{port: port}
}

// Open opens the serial device at path with the given options and returns a
// rangefinder backed by it.
func Open(path string, opts PortOptions) (*Serial, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}

	return NewSerial(port), nil
}

// Range returns the most recent distance reading, or zero before the first
// line has been parsed.
func (s *Serial) Range() int64 {
	return s.latest.Load()
}

// Monitor reads lines from the serial port until the context is cancelled or
// the port reaches EOF. Unparseable lines are logged and skipped.
func (s *Serial) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// Read from the serial port in a goroutine so the blocking scan.Scan
	// does not interfere with the outer loop awaiting context cancellation.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return err

		case line, ok := <-lineChan:
			if !ok {
				// Port closed or EOF; the latest value remains
				// readable.
				return nil
			}
			v, err := ParseReading(line)
			if err != nil {
				monitoring.Logf("skipping unreadable sensor line: %v", err)
				continue
			}
			s.latest.Store(v)
		}
	}
}

// Close closes the underlying port.
func (s *Serial) Close() error {
	return s.port.Close()
}

package rangefinder

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// Fixture replays recorded readings in a loop, for dev mode and tests where
// no sensor hardware is attached. Lines are parsed with the same grammar as
// live serial input; blank lines and #-comments are skipped.
type Fixture struct {
	mu       sync.Mutex
	readings []int64
	idx      int
}

// NewFixture creates a fixture source from a slice of readings.
func NewFixture(readings []int64) (*Fixture, error) {
	if len(readings) == 0 {
		return nil, fmt.Errorf("fixture requires at least one reading")
	}
	return &Fixture{readings: readings}, nil
}

// NewFixtureFromFile loads readings from a fixtures file, one per line.
func NewFixtureFromFile(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures file: %w", err)
	}

	var readings []int64
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		v, err := ParseReading(line)
		if err != nil {
			return nil, fmt.Errorf("bad fixture line: %w", err)
		}
		readings = append(readings, v)
	}

	return NewFixture(readings)
}

// Range returns the next recorded reading, wrapping around at the end.
func (f *Fixture) Range() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.readings[f.idx]
	f.idx = (f.idx + 1) % len(f.readings)
	return v
}

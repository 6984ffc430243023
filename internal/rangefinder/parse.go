package rangefinder

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// jsonReading is the JSON shape some sensor firmware emits per line.
type jsonReading struct {
	Range *int64 `json:"range"`
}

// ParseReading extracts a distance from one line of sensor output. Three
// shapes are accepted: a bare integer ("742"), an R-prefixed reading
// ("R742"), and a JSON object ({"range": 742}).
func ParseReading(line string) (int64, error) {
	s := strings.TrimSpace(line)
	if s == "" {
		return 0, fmt.Errorf("empty reading")
	}

	if strings.HasPrefix(s, "{") {
		var r jsonReading
		if err := json.Unmarshal([]byte(s), &r); err != nil {
			return 0, fmt.Errorf("failed to unmarshal JSON reading: %w", err)
		}
		if r.Range == nil {
			return 0, fmt.Errorf("JSON reading missing range field: %q", s)
		}
		return *r.Range, nil
	}

	s = strings.TrimPrefix(s, "R")
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse reading %q: %w", line, err)
	}
	return v, nil
}

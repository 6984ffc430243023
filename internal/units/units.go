// Package units provides shared constants and validation for distance units
package units

// Unit constants
const (
	MM = "mm"
	CM = "cm"
	M  = "m"
	IN = "in"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MM, CM, M, IN}

// millimetres per unit
var toMM = map[string]float64{
	MM: 1,
	CM: 10,
	M:  1000,
	IN: 25.4,
}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "mm, cm, m, in"
}

// ConvertDistance converts a distance between units. The sensor is
// unit-agnostic, so the source unit is whatever the deployment configured;
// unknown units on either side return the value unchanged.
func ConvertDistance(value float64, fromUnits, targetUnits string) float64 {
	from, ok := toMM[fromUnits]
	if !ok {
		return value
	}
	to, ok := toMM[targetUnits]
	if !ok {
		return value
	}
	return value * from / to
}

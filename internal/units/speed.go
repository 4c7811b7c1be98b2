// Package units provides shared constants and conversions for speed units.
// The pipeline computes in meters per second; configuration files and the
// report tool speak km/h or mph.
package units

// Unit constants
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// ValidUnits contains all accepted unit values.
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

// IsValid checks whether unit is one of the accepted unit values.
func IsValid(unit string) bool {
	for _, u := range ValidUnits {
		if unit == u {
			return true
		}
	}
	return false
}

// FromMPS converts a speed in meters per second to the target units. An
// unknown target leaves the value in m/s.
func FromMPS(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedMPS * 2.2369362920544
	case KMPH, KPH:
		return speedMPS * 3.6
	default:
		return speedMPS
	}
}

// KmhToMps converts km/h to m/s.
func KmhToMps(kmh float64) float64 { return kmh / 3.6 }

// MphToMps converts mph to m/s.
func MphToMps(mph float64) float64 { return mph / 2.2369362920544 }

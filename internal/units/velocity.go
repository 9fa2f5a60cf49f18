// Package units converts simulation speeds (m/s) for display.
package units

import "strconv"

const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// ConvertSpeed converts a speed in m/s to the target units. Unknown units
// leave the value in m/s.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedMPS * 2.2369362920544
	case KMPH, KPH:
		return speedMPS * 3.6
	default:
		return speedMPS
	}
}

// Label is the axis label abbreviation for units.
func Label(units string) string {
	switch units {
	case MPH:
		return "mph"
	case KMPH, KPH:
		return "km/h"
	default:
		return "m/s"
	}
}

// Format renders a speed in m/s as "54.0 km/h".
func Format(speedMPS float64, units string) string {
	return strconv.FormatFloat(ConvertSpeed(speedMPS, units), 'f', 1, 64) + " " + Label(units)
}

// Package units provides the speed unit conversions shared by the geometry
// and forwarding code. Speeds are computed in m/s and reported in km/h.
package units

// KPHPerMPS is the factor from metres per second to kilometres per hour.
const KPHPerMPS = 3.6

// KPH converts a speed in metres per second to kilometres per hour.
func KPH(speedMPS float64) float64 {
	return speedMPS * KPHPerMPS
}

// BatteryPercent converts a 0..1 charge fraction into a whole percentage,
// truncating toward zero and clamping to 0..100.
func BatteryPercent(level float64) int {
	p := int(level * 100)
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

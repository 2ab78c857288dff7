package tsl2561

import "math"

// Lux converts raw channel counts to illuminance using the T/FN/CL package
// formula from the datasheet (p.24), in single precision. A zero channel 0
// yields 0 rather than dividing by zero.
func Lux(ch0, ch1 uint16) float32 {
	if ch0 == 0 {
		return 0
	}
	c0 := float32(ch0)
	c1 := float32(ch1)
	ratio := c1 / c0
	switch {
	case ratio <= 0.5:
		return 0.0304*c0 - 0.062*c0*float32(math.Pow(float64(ratio), 1.4))
	case ratio <= 0.61:
		return 0.0224*c0 - 0.031*c1
	case ratio <= 0.80:
		return 0.00128*c0 - 0.0153*c1
	case ratio <= 1.3:
		return 0.00146*c0 - 0.00112*c1
	default:
		return 0
	}
}

// Lux converts a reading with the package formula.
func (r RawReading) Lux() float32 {
	return Lux(r.Channel0, r.Channel1)
}

// Returns the normalized output for a given spectrum type
func GetNormalizedOutput(spectrumType byte, ch0, ch1 uint16) float64 {
	switch spectrumType {
	case TSL2561_VISIBLE:
		visible := float64(ch0) - float64(ch1)
		if visible < 0 {
			visible = 0
		}
		return visible / 0xFFFF
	case TSL2561_INFRARED:
		return float64(ch1) / 0xFFFF
	case TSL2561_FULLSPECTRUM:
		return float64(ch0) / 0xFFFF
	default:
		return 0
	}
}

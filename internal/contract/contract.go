// Package contract derives the one-byte contract score a leaf embeds in its
// telemetry frame. The score is computed from a short Lorenz attractor run
// whose constants are perturbed by the node's temperature and acoustic count.
package contract

// Status is the two-bit health class carried in the top of the score byte.
type Status uint8

const (
	StatusHomeostasis Status = iota
	StatusStress
	StatusAnomaly
	StatusTamper
)

func (s Status) String() string {
	switch s {
	case StatusHomeostasis:
		return "homeostasis"
	case StatusStress:
		return "stress"
	case StatusAnomaly:
		return "anomaly"
	default:
		return "tamper_detected"
	}
}

const (
	baseSigma = 10.0
	baseRho   = 28.0
	baseBeta  = 2.666

	dt         = 0.01
	iterations = 250

	criticalZMin = 2.0
	criticalZMax = 45.0
	optimalZ     = 29.0

	maxGrowth = 63
)

// AttractorZ integrates the perturbed Lorenz system and returns the final z.
func AttractorZ(seed uint32, temperature int8, acousticCount uint8) float64 {
	x := float64(seed%1000)/500.0 - 1.0
	y := float64((seed>>4)%1000)/500.0 - 1.0
	z := float64((seed>>8)%1000)/500.0 - 1.0

	sigma := baseSigma + float64(acousticCount)*0.1
	rho := baseRho + float64(temperature)*0.2

	for i := 0; i < iterations; i++ {
		dx := sigma * (y - x)
		dy := x*(rho-z) - y
		dz := x*y - baseBeta*z
		x += dx * dt
		y += dy * dt
		z += dz * dt
	}
	return z
}

// Score is the default hal.Scorer.
func Score(seed uint32, temperature int8, acousticCount uint8) byte {
	z := AttractorZ(seed, temperature, acousticCount)

	var (
		status Status
		growth int
	)
	switch {
	case z < criticalZMin:
		status, growth = StatusStress, 1
	case z > criticalZMax:
		status, growth = StatusAnomaly, 0
	default:
		deviation := optimalZ - z
		if deviation < 0 {
			deviation = -deviation
		}
		growth = 50 - int(deviation)
		if growth <= 0 {
			growth = 10
		}
	}
	return Pack(status, growth)
}

// Pack builds a score byte, clamping growth to six bits.
func Pack(status Status, growth int) byte {
	if growth > maxGrowth {
		growth = maxGrowth
	}
	if growth < 0 {
		growth = 0
	}
	return byte(status)<<6 | byte(growth)
}

// Unpack splits a score byte into its status and growth points.
func Unpack(score byte) (Status, uint8) {
	return Status(score >> 6), score & 0x3F
}

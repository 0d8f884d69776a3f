package pwm

import "github.com/pkg/errors"

// MaxDutyCycle is the full-scale duty cycle value: 100%.
const MaxDutyCycle = 1 << 16

const maxTop = TOPMask

// Plan holds the register values that realize a frequency.
type Plan struct {
	Top     uint16
	DivInt  uint8
	DivFrac uint8
}

// Divider returns the planned divider as a real number.
func (p Plan) Divider() float32 {
	return float32(p.DivInt) + float32(p.DivFrac)/16
}

// ComputeTopDivider picks top and divider for frequencyHz.
//
// Above systemClockHz/MaxDutyCycle the divider stays at 1.0 and top shrinks,
// trading duty resolution for frequency. At or below that threshold top is
// pinned at 65535 and the 8.4 divider slows the counter instead; frequencies
// that would need a divider of 256 or more fail with ErrUnsupportedDivider.
func ComputeTopDivider(frequencyHz, systemClockHz uint32) (Plan, error) {
	if frequencyHz == 0 || frequencyHz > systemClockHz {
		return Plan{}, errors.Wrapf(ErrInvalidFrequency, "%d Hz with a %d Hz system clock", frequencyHz, systemClockHz)
	}

	thresholdHz := systemClockHz / MaxDutyCycle
	if frequencyHz > thresholdHz {
		return Plan{Top: uint16(systemClockHz/frequencyHz - 1), DivInt: 1, DivFrac: 0}, nil
	}

	// float32 on purpose: the divider only has 12 significant bits
	divider := float32(thresholdHz) / float32(frequencyHz)
	if divider >= 256 {
		return Plan{}, errors.Wrapf(ErrUnsupportedDivider, "%d Hz needs a divider of %.1f", frequencyHz, divider)
	}
	integer := uint8(divider)
	frac := uint8((divider - float32(integer)) * 16)
	return Plan{Top: maxTop, DivInt: integer, DivFrac: frac}, nil
}

// ComputeCompare converts dutyCycle, in units of maxDutyCycle, into the
// compare value for a counter wrapping at top.
//
// A full duty cycle needs compare = top+1 so the output never drops, which
// does not fit the 16-bit register when top is 65535.
func ComputeCompare(top uint16, dutyCycle, maxDutyCycle uint32) (uint16, error) {
	if dutyCycle > maxDutyCycle {
		return 0, errors.Wrapf(ErrInvalidDutyCycle, "%d > %d", dutyCycle, maxDutyCycle)
	}
	if dutyCycle == maxDutyCycle {
		if top == maxTop {
			return 0, errors.WithStack(ErrUnrepresentableDuty)
		}
		return top + 1, nil
	}
	return uint16((uint64(top) + 1) * uint64(dutyCycle) / uint64(maxDutyCycle)), nil
}

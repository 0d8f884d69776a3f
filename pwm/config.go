package pwm

// DivMode selects what clocks the fractional divider of a slice.
type DivMode uint8

const (
	DivFreeRunning DivMode = iota // always counting; A and B are outputs
	DivBHigh                      // counts while pin B is high
	DivBRising                    // one count per rising edge on pin B
	DivBFalling                   // one count per falling edge on pin B
)

func (m DivMode) String() string {
	switch m {
	case DivFreeRunning:
		return "free-running"
	case DivBHigh:
		return "b-high"
	case DivBRising:
		return "b-rising"
	case DivBFalling:
		return "b-falling"
	default:
		return "invalid"
	}
}

// DividerStatus tells whether a divider write was applied or dropped because
// the value was out of range.
type DividerStatus uint8

const (
	DividerApplied DividerStatus = iota
	DividerIgnored
)

func (s DividerStatus) String() string {
	if s == DividerIgnored {
		return "ignored"
	}
	return "applied"
}

// validDivider reports whether int.frac is representable: 1.0 to 255+15/16.
func validDivider(integer, frac uint8) bool {
	return integer != 0 && frac <= 15
}

// ChannelConfig stages every setting of a slice so it can be written in one
// call, or shared between slices.
type ChannelConfig struct {
	Enabled      bool
	PhaseCorrect bool
	InvertA      bool
	InvertB      bool
	DivMode      DivMode
	DivInt       uint8
	DivFrac      uint8
	CompareA     uint16
	CompareB     uint16
	Top          uint16
}

// DefaultChannelConfig is the reset configuration: disabled, trailing-edge,
// no inversion, free-running divider of 1.0, 0% duty on both outputs and the
// maximum top.
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		DivMode: DivFreeRunning,
		DivInt:  1,
		DivFrac: 0,
		Top:     TOPMask,
	}
}

// SetDivider stages a divider of integer+frac/16. Out of range values leave
// the staged divider untouched.
func (c *ChannelConfig) SetDivider(integer, frac uint8) DividerStatus {
	if !validDivider(integer, frac) {
		return DividerIgnored
	}
	c.DivInt = integer
	c.DivFrac = frac
	return DividerApplied
}

// SetInvertPolarity stages the output inversion of both pins.
func (c *ChannelConfig) SetInvertPolarity(a, b bool) {
	c.InvertA = a
	c.InvertB = b
}

// SetCompareValues stages both compare values.
func (c *ChannelConfig) SetCompareValues(a, b uint16) {
	c.CompareA = a
	c.CompareB = b
}

// Divider returns the staged divider as a real number.
func (c ChannelConfig) Divider() float32 {
	return float32(c.DivInt) + float32(c.DivFrac)/16
}

package pwm

import "strconv"

// MaxGPIO is the highest RP2040 GPIO that can be routed to the PWM block.
const MaxGPIO = 29

// ChannelNumber identifies one of the eight PWM slices.
type ChannelNumber uint8

const (
	Ch0 ChannelNumber = iota
	Ch1
	Ch2
	Ch3
	Ch4
	Ch5
	Ch6
	Ch7
)

func (c ChannelNumber) String() string {
	return "ch" + strconv.Itoa(int(c))
}

// Valid reports whether c addresses an existing slice.
func (c ChannelNumber) Valid() bool {
	return c < NumChannels
}

func (c ChannelNumber) mask() uint32 {
	return 1 << c
}

// ChannelPin selects one of the two outputs of a slice. Pin B turns into an
// input when the divider is not free-running.
type ChannelPin uint8

const (
	PinA ChannelPin = iota
	PinB
)

func (p ChannelPin) String() string {
	if p == PinB {
		return "B"
	}
	return "A"
}

// FromPin maps a GPIO number to its slice and output.
//
//	GPIO  0  1  2  3 ... 14 15 16 17 ... 28 29
//	PWM  0A 0B 1A 1B ... 7A 7B 0A 0B ... 6A 6B
//
// The pattern repeats every 16 GPIOs; pins that map to the same output carry
// the same signal.
func FromPin(pin uint32) (ChannelNumber, ChannelPin) {
	return ChannelNumber((pin >> 1) & 7), ChannelPin(pin & 1)
}

// PinFor returns the lowest GPIO routed to the given slice output.
func PinFor(ch ChannelNumber, p ChannelPin) uint32 {
	return uint32(ch&7)<<1 | uint32(p&1)
}

// Aliases lists every GPIO up to maxPin that carries the given output.
func Aliases(ch ChannelNumber, p ChannelPin, maxPin uint32) []uint32 {
	var pins []uint32
	for pin := PinFor(ch, p); pin <= maxPin; pin += 2 * NumChannels {
		pins = append(pins, pin)
	}
	return pins
}

package pwm

import "github.com/pkg/errors"

// ErrInvalidArgument matches every error caused by a request the hardware
// cannot realize. Test with errors.Is.
var ErrInvalidArgument = errors.New("pwm: invalid argument")

// invalidArg is an error kind that also matches ErrInvalidArgument.
type invalidArg string

func (e invalidArg) Error() string { return string(e) }

func (e invalidArg) Is(target error) bool { return target == ErrInvalidArgument }

var (
	// ErrUnsupportedDivider is returned when a frequency would need a clock
	// divider of 256 or more.
	ErrUnsupportedDivider error = invalidArg("pwm: frequency too low for the clock divider")

	// ErrUnrepresentableDuty is returned for a 100% duty cycle at top 65535,
	// where the compare value would have to be 65536.
	ErrUnrepresentableDuty error = invalidArg("pwm: full duty cycle not representable at maximum top")

	// ErrInvalidFrequency is returned for 0 Hz or a frequency above the system clock.
	ErrInvalidFrequency error = invalidArg("pwm: frequency out of range")

	// ErrInvalidDutyCycle is returned for a duty cycle above the full-scale value.
	ErrInvalidDutyCycle error = invalidArg("pwm: duty cycle out of range")

	// ErrInvalidGate is returned for a measurement window that cannot be counted.
	ErrInvalidGate error = invalidArg("pwm: measurement gate out of range")
)

var (
	ErrNilBank          = errors.New("pwm: nil register bank")
	ErrNoClock          = errors.New("pwm: system clock not available")
	ErrHandshakeTimeout = errors.New("pwm: phase handshake did not complete")
	ErrNotInputPin      = errors.New("pwm: measurement needs a B pin")
	ErrMeasureOverflow  = errors.New("pwm: counter wrapped during measurement")
)

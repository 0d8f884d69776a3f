package core

import (
	"context"
	"time"

	"gopwm/pwm"
)

// PWMDriver is the PWM block as the command layer sees it. *pwm.Pwm
// implements it; tests substitute a driver over pwm.SimBank.
type PWMDriver interface {
	ConfigureChannel(ch pwm.ChannelNumber, config pwm.ChannelConfig) pwm.DividerStatus
	Config(ch pwm.ChannelNumber) pwm.ChannelConfig
	Start(pin, frequencyHz, dutyCycle uint32) error
	Stop(pin uint32)
	StopChannel(ch pwm.ChannelNumber)
	SetMaskEnabled(mask uint8)

	Counter(ch pwm.ChannelNumber) uint16
	SetCounter(ch pwm.ChannelNumber, value uint16)
	AdvanceCount(ch pwm.ChannelNumber) error
	RetardCount(ch pwm.ChannelNumber) error

	EnableInterrupt(ch pwm.ChannelNumber)
	DisableInterrupt(ch pwm.ChannelNumber)
	ForceInterrupt(ch pwm.ChannelNumber)
	SetInterruptMask(mask uint8)
	SetInterruptHandler(h pwm.Handler)

	MeasureFrequency(ctx context.Context, pin uint32, gate time.Duration) (uint32, error)
	MeasureDutyCycle(ctx context.Context, pin uint32, gate time.Duration) (uint32, error)

	MaxFrequencyHz() uint32
	MaxDutyCycle() uint32
}

var _ PWMDriver = (*pwm.Pwm)(nil)

// Global singleton used by core code.
var pwmDriver PWMDriver

// SetPWMDriver is called by target-specific code to register its driver.
func SetPWMDriver(d PWMDriver) {
	pwmDriver = d
}

// MustPWM returns the configured driver or panics if missing.
func MustPWM() PWMDriver {
	if pwmDriver == nil {
		panic("PWM driver not configured")
	}
	return pwmDriver
}

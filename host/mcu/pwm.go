package mcu

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Channel flag bits of config_pwm_channel and pwm_channel.
const (
	FlagEnable       = 1 << 0
	FlagPhaseCorrect = 1 << 1
	FlagInvertA      = 1 << 2
	FlagInvertB      = 1 << 3
)

// Measure modes of measure_pwm.
const (
	MeasureFrequency = 0
	MeasureDutyCycle = 1
)

// ChannelConfig mirrors the arguments of config_pwm_channel.
type ChannelConfig struct {
	Channel  uint8
	Flags    uint8
	DivMode  uint8
	DivInt   uint8
	DivFrac  uint8
	CompareA uint16
	CompareB uint16
	Top      uint16
}

func (c ChannelConfig) String() string {
	return fmt.Sprintf("ch%d flags=%#x divmode=%d div=%d.%d cc_a=%d cc_b=%d top=%d",
		c.Channel, c.Flags, c.DivMode, c.DivInt, c.DivFrac, c.CompareA, c.CompareB, c.Top)
}

// StartPWM drives gpio pin at freq Hz with duty out of the firmware's
// PWM_MAX_DUTY.
func (m *MCU) StartPWM(ctx context.Context, pin, freq, duty uint32) error {
	return m.Send(ctx, "start_pwm", pin, freq, duty)
}

// StopPWM stops the slice behind pin.
func (m *MCU) StopPWM(ctx context.Context, pin uint32) error {
	return m.Send(ctx, "stop_pwm", pin)
}

// StopAll stops every slice. Every channel is tried; the failures are
// combined.
func (m *MCU) StopAll(ctx context.Context) error {
	n, err := m.Channels()
	if err != nil {
		return err
	}
	var errs error
	for ch := uint32(0); ch < n; ch++ {
		// gpio 2*ch is output A of slice ch
		errs = multierr.Append(errs, m.StopPWM(ctx, 2*ch))
	}
	return errs
}

// Channels returns the number of slices the firmware reports.
func (m *MCU) Channels() (uint32, error) {
	dict := m.Dictionary()
	if dict == nil {
		return 0, ErrNoDictionary
	}
	return dict.ConfigUint("PWM_CHANNELS")
}

// MaxDuty returns the full-scale duty value.
func (m *MCU) MaxDuty() (uint32, error) {
	dict := m.Dictionary()
	if dict == nil {
		return 0, ErrNoDictionary
	}
	return dict.ConfigUint("PWM_MAX_DUTY")
}

// ConfigureChannel writes a raw slice configuration. It reports whether the
// firmware kept its previous divider because the requested one was invalid.
func (m *MCU) ConfigureChannel(ctx context.Context, c ChannelConfig) (dividerIgnored bool, err error) {
	var ignored bool
	cancel := m.watch("pwm_divider_status", func(msg Message) {
		if msg.Uint("channel") == uint32(c.Channel) {
			ignored = true
		}
	})
	defer cancel()

	err = m.Send(ctx, "config_pwm_channel", c.Channel, c.Flags, c.DivMode,
		c.DivInt, c.DivFrac, c.CompareA, c.CompareB, c.Top)
	if err != nil {
		return false, err
	}
	// pwm_divider_status precedes the ack
	m.mu.Lock()
	defer m.mu.Unlock()
	return ignored, nil
}

// QueryChannel reads back a slice configuration.
func (m *MCU) QueryChannel(ctx context.Context, ch uint8) (ChannelConfig, error) {
	msg, err := m.Query(ctx, []string{"pwm_channel"}, channelIs(ch), "query_pwm_channel", ch)
	if err != nil {
		return ChannelConfig{}, err
	}
	return ChannelConfig{
		Channel:  uint8(msg.Uint("channel")),
		Flags:    uint8(msg.Uint("flags")),
		DivMode:  uint8(msg.Uint("divmode")),
		DivInt:   uint8(msg.Uint("div_int")),
		DivFrac:  uint8(msg.Uint("div_frac")),
		CompareA: uint16(msg.Uint("cc_a")),
		CompareB: uint16(msg.Uint("cc_b")),
		Top:      uint16(msg.Uint("top")),
	}, nil
}

// SetMask enables the slices set in mask and disables the rest, in one
// register write.
func (m *MCU) SetMask(ctx context.Context, mask uint8) error {
	return m.Send(ctx, "set_pwm_mask", mask)
}

// SetCounter writes a slice counter.
func (m *MCU) SetCounter(ctx context.Context, ch uint8, value uint16) error {
	return m.Send(ctx, "set_pwm_counter", ch, value)
}

// Counter reads a slice counter.
func (m *MCU) Counter(ctx context.Context, ch uint8) (uint16, error) {
	msg, err := m.Query(ctx, []string{"pwm_counter"}, channelIs(ch), "get_pwm_counter", ch)
	if err != nil {
		return 0, err
	}
	return uint16(msg.Uint("value")), nil
}

// Phase moves a running slice one count forward (advance) or back.
func (m *MCU) Phase(ctx context.Context, ch uint8, advance bool) error {
	return m.Send(ctx, "pwm_phase", ch, advance)
}

// EnableIRQ unmasks or masks the wrap interrupt of a slice. Each serviced
// interrupt arrives as pwm_fired; see OnFired.
func (m *MCU) EnableIRQ(ctx context.Context, ch uint8, enable bool) error {
	return m.Send(ctx, "config_pwm_irq", ch, enable)
}

// ForceIRQ raises the interrupt of a slice from software.
func (m *MCU) ForceIRQ(ctx context.Context, ch uint8) error {
	return m.Send(ctx, "force_pwm_irq", ch)
}

// OnFired calls fn with the slice and its running interrupt count.
func (m *MCU) OnFired(fn func(ch uint8, count uint32)) {
	m.OnResponse("pwm_fired", func(msg Message) {
		fn(uint8(msg.Uint("channel")), msg.Uint("count"))
	})
}

// Measure samples a B pin for gate. In MeasureFrequency mode the result is
// in Hz, in MeasureDutyCycle mode it is out of PWM_MAX_DUTY. A failed
// measurement is reported as a *FirmwareError.
func (m *MCU) Measure(ctx context.Context, pin uint32, mode uint8, gate time.Duration) (uint32, error) {
	if gate < time.Microsecond {
		return 0, fmt.Errorf("gate %v is under a microsecond", gate)
	}
	msg, err := m.Query(ctx, []string{"pwm_measure", "pwm_error"}, nil,
		"measure_pwm", pin, mode, uint32(gate/time.Microsecond))
	if err != nil {
		return 0, err
	}
	if msg.Name == "pwm_error" {
		return 0, newFirmwareError(m.Dictionary(), "measure_pwm", msg.Uint("code"))
	}
	return msg.Uint("value"), nil
}

func channelIs(ch uint8) func(Message) bool {
	return func(msg Message) bool { return msg.Uint("channel") == uint32(ch) }
}

// watch registers a temporary callback and returns its remover.
func (m *MCU) watch(name string, fn Callback) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchID++
	id := m.watchID
	m.watchers = append(m.watchers, watcher{id: id, name: name, fn: fn})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, w := range m.watchers {
			if w.id == id {
				m.watchers = append(m.watchers[:i], m.watchers[i+1:]...)
				return
			}
		}
	}
}

package pwm

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// MeasureFrequency counts rising edges on a B pin for gate and returns the
// input frequency in Hz. The slice is left stopped and free-running with a
// divider of 1.0. Its wrap interrupt is masked for the duration of the gate
// and stays masked if ctx is canceled.
//
// Inputs above 65535 edges per gate fail with ErrMeasureOverflow; shorten
// the gate.
func (p *Pwm) MeasureFrequency(ctx context.Context, pin uint32, gate time.Duration) (uint32, error) {
	ch, err := p.inputChannel(pin, gate)
	if err != nil {
		return 0, err
	}
	count, err := p.gatedCount(ctx, ch, DivBRising, 1, gate)
	if err != nil {
		return 0, errors.Wrapf(err, "gpio%d", pin)
	}
	return uint32(uint64(count) * uint64(time.Second) / uint64(gate)), nil
}

// MeasureDutyCycle samples the level of a B pin for gate and returns the
// share of time it was high, in MaxDutyCycle units.
//
// The counter counts system clock cycles while the pin is high. The divider
// is raised until gate fits the 16-bit counter, so long gates lose
// resolution and gates over 255*65535 cycles fail with ErrInvalidGate.
func (p *Pwm) MeasureDutyCycle(ctx context.Context, pin uint32, gate time.Duration) (uint32, error) {
	ch, err := p.inputChannel(pin, gate)
	if err != nil {
		return 0, err
	}
	sysclk := p.clocks.SystemClockHz()
	if sysclk == 0 {
		return 0, ErrNoClock
	}
	cycles := uint64(sysclk) * uint64(gate) / uint64(time.Second)
	if cycles == 0 {
		return 0, errors.Wrapf(ErrInvalidGate, "%s is under one clock cycle", gate)
	}
	div := (cycles + CTRMask - 1) / CTRMask
	if div > 255 {
		return 0, errors.Wrapf(ErrInvalidGate, "%s needs a divider of %d", gate, div)
	}
	if div == 0 {
		div = 1
	}

	count, err := p.gatedCount(ctx, ch, DivBHigh, uint8(div), gate)
	if err != nil {
		return 0, errors.Wrapf(err, "gpio%d", pin)
	}
	duty := uint64(count) * div * MaxDutyCycle / cycles
	if duty > MaxDutyCycle {
		duty = MaxDutyCycle
	}
	return uint32(duty), nil
}

func (p *Pwm) inputChannel(pin uint32, gate time.Duration) (ChannelNumber, error) {
	ch, sub := FromPin(pin)
	if sub != PinB {
		return 0, errors.Wrapf(ErrNotInputPin, "gpio%d is %s%s", pin, ch, sub)
	}
	if gate <= 0 {
		return 0, errors.Wrapf(ErrInvalidGate, "%s", gate)
	}
	return ch, nil
}

// gatedCount runs ch in mode for gate and returns the counter.
func (p *Pwm) gatedCount(ctx context.Context, ch ChannelNumber, mode DivMode, div uint8, gate time.Duration) (uint16, error) {
	// the wrap bit in INTR is the overflow flag, keep HandleInterrupt off it
	irqEnabled := p.bank.GetGlobal(RegINTE)&ch.mask() != 0
	p.DisableInterrupt(ch)

	p.SetEnabled(ch, false)
	p.SetDivMode(ch, mode)
	p.SetDividerIntFrac(ch, div, 0)
	p.SetTop(ch, TOPMask)
	p.SetCounter(ch, 0)
	p.clearInterrupt(ch)

	defer func() {
		p.SetEnabled(ch, false)
		p.SetDivMode(ch, DivFreeRunning)
		p.SetDividerIntFrac(ch, 1, 0)
		p.clearInterrupt(ch)
		// a canceled measurement may race a shutdown masking every interrupt
		if irqEnabled && ctx.Err() == nil {
			p.EnableInterrupt(ch)
		}
	}()

	p.SetEnabled(ch, true)
	timer := p.clk.Timer(gate)
	select {
	case <-ctx.Done():
		timer.Stop()
		return 0, ctx.Err()
	case <-timer.C:
	}
	p.SetEnabled(ch, false)

	count := p.Counter(ch)
	if p.bank.GetGlobal(RegINTR)&ch.mask() != 0 {
		p.clearInterrupt(ch)
		return 0, ErrMeasureOverflow
	}
	return count, nil
}

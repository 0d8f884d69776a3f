package pwm

import (
	"strconv"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

// DefaultHandshakeLimit bounds the phase advance/retard poll loop.
const DefaultHandshakeLimit = 1 << 20

// ClockSource reports the frequency of the clock feeding the PWM block.
type ClockSource interface {
	SystemClockHz() uint32
}

// FixedClock is a ClockSource for a clock that never changes.
type FixedClock uint32

func (f FixedClock) SystemClockHz() uint32 { return uint32(f) }

// Pwm controls the PWM block.
//
// Pwm does no locking. Every channel must have a single owner at a time;
// HandleInterrupt may run concurrently with configuration of other channels.
type Pwm struct {
	bank   Bank
	clocks ClockSource

	// interrupt delivery, see interrupt.go
	handler         Handler
	channelHandlers [NumChannels]Handler

	handshakeLimit uint32
	clk            clock.Clock
	logf           func(string)
}

// Option customizes a Pwm at construction.
type Option func(*Pwm)

// WithHandshakeLimit sets how many times AdvanceCount and RetardCount poll
// the hardware before giving up. 0 polls forever.
func WithHandshakeLimit(n uint32) Option {
	return func(p *Pwm) { p.handshakeLimit = n }
}

// WithClock replaces the wall clock used to time measurement windows.
func WithClock(c clock.Clock) Option {
	return func(p *Pwm) { p.clk = c }
}

// WithLogger routes driver diagnostics to w.
func WithLogger(w func(string)) Option {
	return func(p *Pwm) { p.logf = w }
}

// New creates the driver for bank, clocked by clocks.
func New(bank Bank, clocks ClockSource, opts ...Option) (*Pwm, error) {
	if bank == nil {
		return nil, ErrNilBank
	}
	if clocks == nil {
		return nil, ErrNoClock
	}
	p := &Pwm{
		bank:           bank,
		clocks:         clocks,
		handshakeLimit: DefaultHandshakeLimit,
		clk:            clock.New(),
		logf:           func(string) {},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Init puts every channel in the default configuration with its counter at 0
// and drops any latched interrupt.
func (p *Pwm) Init() {
	def := DefaultChannelConfig()
	for ch := Ch0; ch < NumChannels; ch++ {
		p.ConfigureChannel(ch, def)
		p.SetCounter(ch, 0)
	}
	p.bank.SetGlobal(RegINTR, allChannels)
}

// modify rewrites the bits of mask in a channel register.
func (p *Pwm) modify(ch ChannelNumber, r Reg, mask, value uint32) {
	old := p.bank.Get(ch, r)
	if r == RegCSR {
		// never re-trigger a pending phase request
		old &^= csrPhase
	}
	p.bank.Set(ch, r, old&^mask|value&mask)
}

func (p *Pwm) setCSRBit(ch ChannelNumber, bit uint32, on bool) {
	if on {
		p.modify(ch, RegCSR, bit, bit)
	} else {
		p.modify(ch, RegCSR, bit, 0)
	}
}

// SetEnabled starts or stops the counter of ch.
func (p *Pwm) SetEnabled(ch ChannelNumber, enable bool) {
	p.setCSRBit(ch, CSREnable, enable)
}

// SetMaskEnabled enables every channel whose bit is set in mask with a single
// write, so they start in lockstep. Channels already running stay running.
func (p *Pwm) SetMaskEnabled(mask uint8) {
	en := p.bank.GetGlobal(RegEN)
	p.bank.SetGlobal(RegEN, en|uint32(mask))
}

// SetPhaseCorrect selects dual-slope (true) or trailing-edge (false) modulation.
func (p *Pwm) SetPhaseCorrect(ch ChannelNumber, phaseCorrect bool) {
	p.setCSRBit(ch, CSRPhaseCorrect, phaseCorrect)
}

// SetInvertPolarity sets the output inversion of pins A and B.
func (p *Pwm) SetInvertPolarity(ch ChannelNumber, a, b bool) {
	p.setCSRBit(ch, CSRInvertA, a)
	p.setCSRBit(ch, CSRInvertB, b)
}

// SetDivMode selects what clocks the divider. Anything but DivFreeRunning
// turns pin B into an input.
func (p *Pwm) SetDivMode(ch ChannelNumber, mode DivMode) {
	p.modify(ch, RegCSR, CSRDivModeMask, uint32(mode)<<CSRDivModePos)
}

// SetDividerIntFrac sets the 8.4 clock divider to integer+frac/16, from
// 1.0 to 255+15/16. Out of range values are dropped, leaving the previous
// divider in place, and reported as DividerIgnored.
func (p *Pwm) SetDividerIntFrac(ch ChannelNumber, integer, frac uint8) DividerStatus {
	if !validDivider(integer, frac) {
		p.logf("pwm: " + ch.String() + " divider " + strconv.Itoa(int(integer)) + "." + strconv.Itoa(int(frac)) + "/16 ignored")
		return DividerIgnored
	}
	p.bank.Set(ch, RegDIV, uint32(integer)<<DIVIntPos|uint32(frac))
	return DividerApplied
}

// SetCompareValueA sets the compare value of pin A. Pin A is high while the
// counter is below it.
func (p *Pwm) SetCompareValueA(ch ChannelNumber, cc uint16) {
	p.modify(ch, RegCC, CCAMask, uint32(cc))
}

// SetCompareValueB sets the compare value of pin B.
func (p *Pwm) SetCompareValueB(ch ChannelNumber, cc uint16) {
	p.modify(ch, RegCC, CCBMask, uint32(cc)<<CCBPos)
}

// SetCompareValues sets both compare values.
func (p *Pwm) SetCompareValues(ch ChannelNumber, a, b uint16) {
	p.SetCompareValueA(ch, a)
	p.SetCompareValueB(ch, b)
}

func (p *Pwm) setCompare(ch ChannelNumber, pin ChannelPin, cc uint16) {
	if pin == PinA {
		p.SetCompareValueA(ch, cc)
	} else {
		p.SetCompareValueB(ch, cc)
	}
}

// SetTop sets the counter wrap value.
func (p *Pwm) SetTop(ch ChannelNumber, top uint16) {
	p.bank.Set(ch, RegTOP, uint32(top))
}

// Counter returns the current counter value of ch.
func (p *Pwm) Counter(ch ChannelNumber) uint16 {
	return uint16(p.bank.Get(ch, RegCTR) & CTRMask)
}

// SetCounter overwrites the counter of ch.
func (p *Pwm) SetCounter(ch ChannelNumber, value uint16) {
	p.bank.Set(ch, RegCTR, uint32(value))
}

// AdvanceCount moves the counter of ch one count ahead while it runs.
// The divider must be above 1.0 for the hardware to complete the request.
func (p *Pwm) AdvanceCount(ch ChannelNumber) error {
	return p.phaseStep(ch, CSRPhaseAdvance)
}

// RetardCount holds the counter of ch back by one count. The channel must be
// running.
func (p *Pwm) RetardCount(ch ChannelNumber) error {
	return p.phaseStep(ch, CSRPhaseRetard)
}

// phaseStep sets a self-clearing CSR bit and polls until the hardware drops
// it, at most handshakeLimit times.
func (p *Pwm) phaseStep(ch ChannelNumber, bit uint32) error {
	p.bank.Set(ch, RegCSR, p.bank.Get(ch, RegCSR)&csrWritable|bit)
	for polls := uint32(0); p.bank.Get(ch, RegCSR)&bit != 0; polls++ {
		if p.handshakeLimit != 0 && polls >= p.handshakeLimit {
			p.bank.Set(ch, RegCSR, p.bank.Get(ch, RegCSR)&csrWritable)
			p.logf("pwm: " + ch.String() + " phase handshake timed out")
			return errors.Wrapf(ErrHandshakeTimeout, "%s after %d polls", ch, polls)
		}
	}
	return nil
}

// ConfigureChannel writes every field of config to ch. The enable bit is
// written last so the channel never runs with a half-written setup.
func (p *Pwm) ConfigureChannel(ch ChannelNumber, config ChannelConfig) DividerStatus {
	p.SetPhaseCorrect(ch, config.PhaseCorrect)
	p.SetInvertPolarity(ch, config.InvertA, config.InvertB)
	p.SetDivMode(ch, config.DivMode)
	status := p.SetDividerIntFrac(ch, config.DivInt, config.DivFrac)
	p.SetCompareValues(ch, config.CompareA, config.CompareB)
	p.SetTop(ch, config.Top)
	p.SetEnabled(ch, config.Enabled)
	return status
}

// Config reads back the live configuration of ch.
func (p *Pwm) Config(ch ChannelNumber) ChannelConfig {
	csr := p.bank.Get(ch, RegCSR)
	div := p.bank.Get(ch, RegDIV)
	cc := p.bank.Get(ch, RegCC)
	return ChannelConfig{
		Enabled:      csr&CSREnable != 0,
		PhaseCorrect: csr&CSRPhaseCorrect != 0,
		InvertA:      csr&CSRInvertA != 0,
		InvertB:      csr&CSRInvertB != 0,
		DivMode:      DivMode((csr & CSRDivModeMask) >> CSRDivModePos),
		DivInt:       uint8((div & DIVIntMask) >> DIVIntPos),
		DivFrac:      uint8(div & DIVFracMask),
		CompareA:     uint16(cc & CCAMask),
		CompareB:     uint16((cc & CCBMask) >> CCBPos),
		Top:          uint16(p.bank.Get(ch, RegTOP) & TOPMask),
	}
}

// MaxFrequencyHz is the highest frequency a channel can produce: the system
// clock, with top 0.
func (p *Pwm) MaxFrequencyHz() uint32 {
	return p.clocks.SystemClockHz()
}

// MaxDutyCycle is the duty cycle value meaning 100%.
func (p *Pwm) MaxDutyCycle() uint32 {
	return MaxDutyCycle
}

// Plan computes the register values for frequencyHz and dutyCycle without
// touching the hardware.
func (p *Pwm) Plan(frequencyHz, dutyCycle uint32) (Plan, uint16, error) {
	sysclk := p.clocks.SystemClockHz()
	if sysclk == 0 {
		return Plan{}, 0, ErrNoClock
	}
	plan, err := ComputeTopDivider(frequencyHz, sysclk)
	if err != nil {
		return Plan{}, 0, err
	}
	cc, err := ComputeCompare(plan.Top, dutyCycle, MaxDutyCycle)
	if err != nil {
		return Plan{}, 0, err
	}
	return plan, cc, nil
}

// Start drives GPIO pin at frequencyHz with dutyCycle (in MaxDutyCycle units).
//
// The other output of the slice keeps its compare value but shares the new
// frequency. Nothing is written when the request cannot be realized.
func (p *Pwm) Start(pin, frequencyHz, dutyCycle uint32) error {
	ch, sub := FromPin(pin)
	if err := p.StartChannel(ch, sub, frequencyHz, dutyCycle); err != nil {
		return errors.Wrapf(err, "gpio%d", pin)
	}
	return nil
}

// StartChannel is Start addressed by slice and output.
func (p *Pwm) StartChannel(ch ChannelNumber, sub ChannelPin, frequencyHz, dutyCycle uint32) error {
	plan, cc, err := p.Plan(frequencyHz, dutyCycle)
	if err != nil {
		p.logf("pwm: " + ch.String() + sub.String() + " start rejected: " + err.Error())
		return err
	}

	// top, divider, compare, then enable: enabling first could emit a
	// wrong edge with the previous period
	p.SetTop(ch, plan.Top)
	p.SetDividerIntFrac(ch, plan.DivInt, plan.DivFrac)
	p.setCompare(ch, sub, cc)
	p.SetEnabled(ch, true)
	return nil
}

// Stop halts the slice that drives pin. Both outputs of the slice stop.
// Stopping a stopped slice does nothing.
func (p *Pwm) Stop(pin uint32) {
	ch, _ := FromPin(pin)
	p.StopChannel(ch)
}

// StopChannel halts ch.
func (p *Pwm) StopChannel(ch ChannelNumber) {
	p.SetEnabled(ch, false)
}

// PinHandle returns a handle bound to GPIO pin.
func (p *Pwm) PinHandle(pin uint32) *PwmPin {
	ch, sub := FromPin(pin)
	return &PwmPin{pwm: p, gpio: pin, channel: ch, sub: sub}
}

// PwmPin controls one slice output.
type PwmPin struct {
	pwm     *Pwm
	gpio    uint32
	channel ChannelNumber
	sub     ChannelPin
}

// Start is Pwm.Start for this pin.
func (pp *PwmPin) Start(frequencyHz, dutyCycle uint32) error {
	return pp.pwm.Start(pp.gpio, frequencyHz, dutyCycle)
}

// Stop halts the slice of this pin, including its other output.
func (pp *PwmPin) Stop() {
	pp.pwm.StopChannel(pp.channel)
}

// GPIO returns the pin number the handle was created for.
func (pp *PwmPin) GPIO() uint32 { return pp.gpio }

// Channel returns the slice of the pin.
func (pp *PwmPin) Channel() ChannelNumber { return pp.channel }

// Sub returns which output of the slice the pin is.
func (pp *PwmPin) Sub() ChannelPin { return pp.sub }

// MaxFrequencyHz is Pwm.MaxFrequencyHz.
func (pp *PwmPin) MaxFrequencyHz() uint32 { return pp.pwm.MaxFrequencyHz() }

// MaxDutyCycle is Pwm.MaxDutyCycle.
func (pp *PwmPin) MaxDutyCycle() uint32 { return pp.pwm.MaxDutyCycle() }

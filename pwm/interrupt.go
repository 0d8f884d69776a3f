package pwm

// Handler receives wrap events. Fired runs in interrupt context and must not
// block.
type Handler interface {
	Fired(ch ChannelNumber)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ch ChannelNumber)

func (f HandlerFunc) Fired(ch ChannelNumber) { f(ch) }

// SetInterruptHandler registers the peripheral-wide handler, replacing the
// previous one. It receives events of every channel without a channel handler.
// A nil handler disables delivery; interrupts are still cleared.
func (p *Pwm) SetInterruptHandler(h Handler) {
	p.handler = h
}

// SetChannelHandler registers a handler for ch only. It takes precedence over
// the peripheral-wide handler. nil removes it.
func (p *Pwm) SetChannelHandler(ch ChannelNumber, h Handler) {
	p.channelHandlers[ch] = h
}

// EnableInterrupt lets the wrap of ch raise the PWM interrupt.
func (p *Pwm) EnableInterrupt(ch ChannelNumber) {
	p.bank.SetGlobal(RegINTE, p.bank.GetGlobal(RegINTE)|ch.mask())
}

// DisableInterrupt masks the wrap interrupt of ch.
func (p *Pwm) DisableInterrupt(ch ChannelNumber) {
	p.bank.SetGlobal(RegINTE, p.bank.GetGlobal(RegINTE)&^ch.mask())
}

// SetInterruptMask replaces the whole enable mask.
func (p *Pwm) SetInterruptMask(mask uint8) {
	p.bank.SetGlobal(RegINTE, uint32(mask))
}

// InterruptMask returns the enable mask.
func (p *Pwm) InterruptMask() uint8 {
	return uint8(p.bank.GetGlobal(RegINTE))
}

// ForceInterrupt makes ch pending without a wrap. The force stays on until
// HandleInterrupt services the channel.
func (p *Pwm) ForceInterrupt(ch ChannelNumber) {
	p.bank.SetGlobal(RegINTF, p.bank.GetGlobal(RegINTF)|ch.mask())
}

// InterruptPending reports whether ch shows up in the interrupt status.
func (p *Pwm) InterruptPending(ch ChannelNumber) bool {
	return p.bank.GetGlobal(RegINTS)&ch.mask() != 0
}

func (p *Pwm) clearInterrupt(ch ChannelNumber) {
	p.bank.SetGlobal(RegINTR, ch.mask())
}

func (p *Pwm) unforceInterrupt(ch ChannelNumber) {
	p.bank.SetGlobal(RegINTF, p.bank.GetGlobal(RegINTF)&^ch.mask())
}

// HandleInterrupt services every pending channel in ascending order: the
// handler is called first, then the raw and the forced bits are cleared.
// It returns the mask of channels serviced.
//
// HandleInterrupt is meant to be called from the PWM_IRQ_WRAP handler and is
// not reentrant.
func (p *Pwm) HandleInterrupt() uint32 {
	status := p.bank.GetGlobal(RegINTS) & allChannels
	if status == 0 {
		return 0
	}
	for ch := Ch0; ch < NumChannels; ch++ {
		if status&ch.mask() == 0 {
			continue
		}
		if h := p.channelHandlers[ch]; h != nil {
			h.Fired(ch)
		} else if p.handler != nil {
			p.handler.Fired(ch)
		}
		p.clearInterrupt(ch)
		p.unforceInterrupt(ch)
	}
	return status
}

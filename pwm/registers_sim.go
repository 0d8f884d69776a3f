package pwm

import "sync"

// Write records one register write seen by a SimBank.
type Write struct {
	Channel ChannelNumber
	Reg     Reg
	Global  bool      // true when Target is a peripheral-wide register
	Target  GlobalReg // valid when Global is set
	Value   uint32
}

type simChannel struct {
	csr uint32
	div uint32
	ctr uint32
	cc  uint32
	top uint32
}

// SimBank is a behavioral model of the PWM register file for host-side use.
//
// It reproduces the parts of the hardware the driver relies on: EN aliasing
// CSR.EN, write-1-to-clear INTR, INTS = (INTR & INTE) | INTF, and the phase
// handshake. An advance request completes only when the divider is above 1.0
// and a retard request only while the channel is enabled; otherwise the bit
// stays set, just as a stalled counter leaves it set on silicon.
//
// The counter only moves when Step is called. SimBank is safe for use from
// several goroutines.
type SimBank struct {
	mu    sync.Mutex
	ch    [NumChannels]simChannel
	intr  uint32
	inte  uint32
	intf  uint32
	trace []Write
}

// NewSimBank returns a bank holding the hardware reset values.
func NewSimBank() *SimBank {
	b := &SimBank{}
	for i := range b.ch {
		b.ch[i].div = 1 << DIVIntPos
		b.ch[i].top = TOPMask
	}
	return b
}

func (b *SimBank) Get(ch ChannelNumber, r Reg) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := &b.ch[ch]
	switch r {
	case RegCSR:
		return c.csr
	case RegDIV:
		return c.div
	case RegCTR:
		return c.ctr
	case RegCC:
		return c.cc
	default:
		return c.top
	}
}

func (b *SimBank) Set(ch ChannelNumber, r Reg, value uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trace = append(b.trace, Write{Channel: ch, Reg: r, Value: value})
	c := &b.ch[ch]
	switch r {
	case RegCSR:
		c.csr = value & (csrWritable | csrPhase)
		b.phaseLocked(ch)
	case RegDIV:
		c.div = value & (DIVIntMask | DIVFracMask)
	case RegCTR:
		c.ctr = value & CTRMask
	case RegCC:
		c.cc = value
	case RegTOP:
		c.top = value & TOPMask
	}
}

func (b *SimBank) GetGlobal(r GlobalReg) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch r {
	case RegEN:
		var en uint32
		for i := range b.ch {
			if b.ch[i].csr&CSREnable != 0 {
				en |= 1 << i
			}
		}
		return en
	case RegINTR:
		return b.intr
	case RegINTE:
		return b.inte
	case RegINTF:
		return b.intf
	default:
		return (b.intr & b.inte) | b.intf
	}
}

func (b *SimBank) SetGlobal(r GlobalReg, value uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trace = append(b.trace, Write{Global: true, Target: r, Value: value})
	switch r {
	case RegEN:
		for i := range b.ch {
			if value&(1<<i) != 0 {
				b.ch[i].csr |= CSREnable
			} else {
				b.ch[i].csr &^= CSREnable
			}
		}
	case RegINTR:
		b.intr &^= value & allChannels
	case RegINTE:
		b.inte = value & allChannels
	case RegINTF:
		b.intf = value & allChannels
	}
}

// phaseLocked services a pending advance or retard request.
func (b *SimBank) phaseLocked(ch ChannelNumber) {
	c := &b.ch[ch]
	if c.csr&CSRPhaseAdvance != 0 && divAboveOne(c.div) {
		b.countLocked(ch, 1)
		c.csr &^= CSRPhaseAdvance
	}
	if c.csr&CSRPhaseRetard != 0 && c.csr&CSREnable != 0 {
		c.ctr = (c.ctr - 1) & CTRMask
		c.csr &^= CSRPhaseRetard
	}
}

// countLocked moves the counter n steps, wrapping past TOP and latching the
// raw interrupt on every wrap.
func (b *SimBank) countLocked(ch ChannelNumber, n uint32) {
	c := &b.ch[ch]
	for ; n > 0; n-- {
		if c.ctr >= c.top {
			c.ctr = 0
			b.intr |= 1 << ch
			continue
		}
		c.ctr++
	}
}

func divAboveOne(div uint32) bool {
	integer := (div & DIVIntMask) >> DIVIntPos
	frac := div & DIVFracMask
	// INT == 0 selects a divide-by-256
	return integer != 1 || frac != 0
}

// Step advances a running channel's counter by n counts. Stopped channels
// do not move.
func (b *SimBank) Step(ch ChannelNumber, n uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch[ch].csr&CSREnable == 0 {
		return
	}
	b.countLocked(ch, n)
}

// Wrap latches the raw interrupt of ch as if its counter had wrapped.
func (b *SimBank) Wrap(ch ChannelNumber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.intr |= 1 << ch
}

// Trace returns a copy of every write since the last ResetTrace.
func (b *SimBank) Trace() []Write {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Write, len(b.trace))
	copy(out, b.trace)
	return out
}

// ResetTrace discards the write log.
func (b *SimBank) ResetTrace() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trace = b.trace[:0]
}

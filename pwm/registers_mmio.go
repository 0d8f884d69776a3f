//go:build tinygo && rp2040

package pwm

import (
	"runtime/volatile"
	"unsafe"
)

// RP2040 PWM peripheral memory map
const pwmBase = 0x40050000

type channelRegs struct {
	csr volatile.Register32
	div volatile.Register32
	ctr volatile.Register32
	cc  volatile.Register32
	top volatile.Register32
}

type pwmRegs struct {
	ch   [NumChannels]channelRegs
	en   volatile.Register32
	intr volatile.Register32
	inte volatile.Register32
	intf volatile.Register32
	ints volatile.Register32
}

// MMIOBank accesses the PWM block at its fixed address.
type MMIOBank struct {
	regs *pwmRegs
}

// NewMMIOBank returns the bank for the on-chip PWM block.
func NewMMIOBank() *MMIOBank {
	return &MMIOBank{regs: (*pwmRegs)(unsafe.Pointer(uintptr(pwmBase)))}
}

func (b *MMIOBank) reg(ch ChannelNumber, r Reg) *volatile.Register32 {
	c := &b.regs.ch[ch]
	switch r {
	case RegCSR:
		return &c.csr
	case RegDIV:
		return &c.div
	case RegCTR:
		return &c.ctr
	case RegCC:
		return &c.cc
	default:
		return &c.top
	}
}

func (b *MMIOBank) global(r GlobalReg) *volatile.Register32 {
	switch r {
	case RegEN:
		return &b.regs.en
	case RegINTR:
		return &b.regs.intr
	case RegINTE:
		return &b.regs.inte
	case RegINTF:
		return &b.regs.intf
	default:
		return &b.regs.ints
	}
}

func (b *MMIOBank) Get(ch ChannelNumber, r Reg) uint32 {
	return b.reg(ch, r).Get()
}

func (b *MMIOBank) Set(ch ChannelNumber, r Reg, value uint32) {
	b.reg(ch, r).Set(value)
}

func (b *MMIOBank) GetGlobal(r GlobalReg) uint32 {
	return b.global(r).Get()
}

func (b *MMIOBank) SetGlobal(r GlobalReg, value uint32) {
	if r == RegINTS {
		return
	}
	b.global(r).Set(value)
}

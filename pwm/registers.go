// Package pwm drives the RP2040 PWM block: eight counter/compare slices with
// two outputs each, a fractional clock divider per slice and a shared
// wrap interrupt.
//
// Register access goes through the Bank interface so the same driver runs on
// the memory-mapped hardware (MMIOBank, TinyGo only) and on the SimBank
// hardware model used by host tests.
package pwm

// NumChannels is the number of PWM slices in the block.
const NumChannels = 8

// allChannels has one bit per channel, as in the EN/INTR/INTE/INTF/INTS registers.
const allChannels = 1<<NumChannels - 1

// CSR bit layout
const (
	CSREnable       = 1 << 0
	CSRPhaseCorrect = 1 << 1
	CSRInvertA      = 1 << 2
	CSRInvertB      = 1 << 3
	CSRDivModePos   = 4
	CSRDivModeMask  = 0x3 << CSRDivModePos
	CSRPhaseRetard  = 1 << 6 // self-clearing
	CSRPhaseAdvance = 1 << 7 // self-clearing

	csrWritable = CSREnable | CSRPhaseCorrect | CSRInvertA | CSRInvertB | CSRDivModeMask
	csrPhase    = CSRPhaseRetard | CSRPhaseAdvance
)

// DIV bit layout: 8.4 fixed point.
const (
	DIVFracMask = 0xF
	DIVIntPos   = 4
	DIVIntMask  = 0xFF << DIVIntPos
)

// CC bit layout
const (
	CCAMask = 0xFFFF
	CCBPos  = 16
	CCBMask = 0xFFFF << CCBPos
)

// CTR and TOP are plain 16-bit values.
const (
	CTRMask = 0xFFFF
	TOPMask = 0xFFFF
)

// Reg identifies one of the five per-channel registers.
type Reg uint8

const (
	RegCSR Reg = iota // control and status
	RegDIV            // clock divider
	RegCTR            // counter
	RegCC             // compare values A and B
	RegTOP            // wrap value
)

// GlobalReg identifies one of the peripheral-wide registers.
type GlobalReg uint8

const (
	RegEN   GlobalReg = iota // aliases every channel's CSR.EN
	RegINTR                  // raw interrupts, write 1 to clear
	RegINTE                  // interrupt enable
	RegINTF                  // interrupt force
	RegINTS                  // status after masking and forcing, read-only
)

// Bank is raw 32-bit access to the PWM register file.
//
// Implementations must behave like the hardware: writes to INTR clear the
// written bits, INTS is (INTR & INTE) | INTF, and the phase advance/retard
// bits in CSR clear themselves once the counter has been adjusted.
type Bank interface {
	Get(ch ChannelNumber, r Reg) uint32
	Set(ch ChannelNumber, r Reg, value uint32)
	GetGlobal(r GlobalReg) uint32
	SetGlobal(r GlobalReg, value uint32)
}

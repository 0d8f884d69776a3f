//go:build rp2040

package main

// Reference square wave on a PIO state machine. It gives measure_pwm a known
// input: wire the refgen pin to a B pin and compare.

import (
	"errors"
	"machine"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"

	"gopwm/core"
	"gopwm/protocol"
)

// buildRefgenProgram toggles the SET pin forever. The first word pulled is
// kept in X and holds the half period twice, low and high 16 bits; each
// later "pull noblock" finds the FIFO empty and reloads OSR from X.
//
// One period takes 2*half+7 cycles.
func buildRefgenProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		asm.Pull(false, true).Encode(),        // 0: pull block
		asm.Out(rp2pio.OutDestX, 32).Encode(), // 1: out x, 32
		// .wrap_target
		asm.Pull(false, false).Encode(),          // 2: pull noblock
		asm.Out(rp2pio.OutDestY, 16).Encode(),    // 3: out y, 16
		asm.Set(rp2pio.SetDestPins, 1).Encode(),  // 4: set pins, 1
		asm.Jmp(5, rp2pio.JmpYNZeroDec).Encode(), // 5: jmp y--, 5
		asm.Out(rp2pio.OutDestY, 16).Encode(),    // 6: out y, 16
		asm.Set(rp2pio.SetDestPins, 0).Encode(),  // 7: set pins, 0
		asm.Jmp(8, rp2pio.JmpYNZeroDec).Encode(), // 8: jmp y--, 8
		// .wrap
	}
}

const (
	refgenOrigin   = 0 // jump targets are absolute
	refgenWrapFrom = 2
	refgenOverhead = 7
	refgenMaxHalf  = 0xFFFF
)

var errRefgenFrequency = errors.New("refgen frequency out of range")

// refgenTiming returns the clock divider and half period for freq.
func refgenTiming(sysclk, freq uint32) (div uint16, half uint16, err error) {
	if freq == 0 || freq > sysclk/(refgenOverhead+2) {
		return 0, 0, errRefgenFrequency
	}
	cycles := uint64(sysclk) / uint64(freq)
	maxCycles := uint64(2*refgenMaxHalf + refgenOverhead)
	d := (cycles + maxCycles - 1) / maxCycles
	if d > 0xFFFF {
		return 0, 0, errRefgenFrequency
	}
	perPeriod := cycles / d
	return uint16(d), uint16((perPeriod - refgenOverhead) / 2), nil
}

// Refgen owns one PIO state machine.
type Refgen struct {
	pio    *rp2pio.PIO
	sm     rp2pio.StateMachine
	offset uint8
	loaded bool
	pin    machine.Pin
	active bool
}

var refgen = &Refgen{pio: rp2pio.PIO0, sm: rp2pio.PIO0.StateMachine(0)}

// Start drives pin at freq Hz, replacing any earlier output.
func (r *Refgen) Start(pin machine.Pin, freq uint32) error {
	div, half, err := refgenTiming(machine.CPUFrequency(), freq)
	if err != nil {
		return err
	}
	r.Stop()

	if !r.loaded {
		r.sm.TryClaim()
		offset, err := r.pio.AddProgram(buildRefgenProgram(), refgenOrigin)
		if err != nil {
			return err
		}
		r.offset = offset
		r.loaded = true
	}

	r.pin = pin
	pin.Configure(machine.PinConfig{Mode: r.pio.PinMode()})

	program := buildRefgenProgram()
	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetSetPins(pin, 1)
	cfg.SetOutShift(true, false, 32)
	cfg.SetWrap(r.offset+uint8(len(program))-1, r.offset+refgenWrapFrom)
	cfg.SetClkDivIntFrac(div, 0)

	r.sm.Init(r.offset, cfg)
	r.sm.SetPindirsConsecutive(pin, 1, true)
	r.sm.SetPinsConsecutive(pin, 1, false)
	r.sm.TxPut(uint32(half) | uint32(half)<<16)
	r.sm.SetEnabled(true)
	r.active = true
	return nil
}

// Stop halts the state machine and leaves the pin low.
func (r *Refgen) Stop() {
	if !r.active {
		return
	}
	r.sm.SetEnabled(false)
	r.sm.ClearFIFOs()
	r.sm.Restart()
	r.sm.SetPinsConsecutive(r.pin, 1, false)
	r.active = false
}

// InitRefgenCommands registers refgen. A zero freq stops the output.
func InitRefgenCommands() {
	core.RegisterCommand("refgen", "pin=%u freq=%u", handleRefgen)
}

func handleRefgen(data *[]byte) error {
	pin, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	freq, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	if freq == 0 {
		refgen.Stop()
		return nil
	}
	if pin > 29 || core.IsShutdown() {
		core.DebugPrintln("[refgen] rejected")
		return nil
	}
	if err := refgen.Start(machine.Pin(pin), freq); err != nil {
		core.DebugPrintln("[refgen] " + err.Error())
	}
	return nil
}

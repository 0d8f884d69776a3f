//go:build rp2040

package main

import (
	"runtime/volatile"
	"unsafe"

	"gopwm/core"
)

// TIMER block, a free-running 1 MHz microsecond counter
const (
	timerBase     = 0x40054000
	timerTIMERAWL = timerBase + 0x0C
)

var timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))

// InitClock publishes the MCU name. The timer itself runs from reset.
func InitClock() {
	core.RegisterConstant("MCU", "rp2040")
}

// UpdateSystemTime feeds the low word of the hardware timer to core.
func UpdateSystemTime() {
	core.SetTime(timerRAWL.Get())
}

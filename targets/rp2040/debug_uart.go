//go:build rp2040 && debuguart

package main

import (
	"machine"

	"gopwm/core"
)

// The debug UART takes gpio0 and gpio1, so slice 0 is unusable in debug
// builds.
var debugUART *machine.UART

// InitDebugUART starts UART0 at 115200 baud on gpio0 (TX) and gpio1 (RX).
func InitDebugUART() {
	uart := machine.UART0
	err := uart.Configure(machine.UARTConfig{
		BaudRate: 115200,
		TX:       machine.GPIO0,
		RX:       machine.GPIO1,
	})
	if err != nil {
		return
	}
	debugUART = uart
	core.SetDebugEnabled(true)
	DebugPrintln("gopwm debug uart up")
}

// DebugPrintln writes s and a line break to the debug UART.
func DebugPrintln(s string) {
	if debugUART == nil {
		return
	}
	debugUART.Write([]byte(s))
	debugUART.Write([]byte("\r\n"))
}

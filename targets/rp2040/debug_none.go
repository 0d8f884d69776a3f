//go:build rp2040 && !debuguart

package main

// InitDebugUART is a no-op; build with -tags debuguart for UART logging.
func InitDebugUART() {}

func DebugPrintln(string) {}

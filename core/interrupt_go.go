//go:build !tinygo

package core

// State stands in for interrupt.State off the microcontroller.
type State uintptr

// disableInterrupts is a no-op off the microcontroller.
func disableInterrupts() State {
	return 0
}

// restoreInterrupts is a no-op off the microcontroller.
func restoreInterrupts(State) {}

package core

// TimerFreq is the rate of the RP2040 system timer: one tick per microsecond.
const TimerFreq = 1_000_000

var (
	systemTicks uint32
	uptimeHigh  uint32
	bootTicks   uint32
)

// GetTime returns the low 32 bits of the system timer.
func GetTime() uint32 {
	state := disableInterrupts()
	t := systemTicks
	restoreInterrupts(state)
	return t
}

// SetTime publishes a new timer reading. A reading below the previous one
// means the 32-bit counter wrapped and carries into the uptime high word.
func SetTime(ticks uint32) {
	state := disableInterrupts()
	if ticks < systemTicks {
		uptimeHigh++
	}
	systemTicks = ticks
	restoreInterrupts(state)
}

// GetUptime returns ticks since TimerInit as a 64-bit count.
func GetUptime() uint64 {
	state := disableInterrupts()
	up := uint64(uptimeHigh)<<32 | uint64(systemTicks)
	boot := bootTicks
	restoreInterrupts(state)
	return up - uint64(boot)
}

// TimerFromUS converts microseconds to timer ticks
func TimerFromUS(us uint32) uint32 {
	return uint32(uint64(us) * TimerFreq / 1_000_000)
}

// TimerToUS converts timer ticks to microseconds
func TimerToUS(ticks uint32) uint32 {
	return uint32(uint64(ticks) * 1_000_000 / TimerFreq)
}

// TimerInit starts the uptime count at the current timer reading.
func TimerInit() {
	state := disableInterrupts()
	bootTicks = systemTicks
	uptimeHigh = 0
	restoreInterrupts(state)
}

package core

import (
	"sync/atomic"

	"gopwm/protocol"
)

// Sender is the response path to the host. *protocol.Transport implements it.
type Sender interface {
	SendCommand(cmdID uint16, args func(output protocol.OutputBuffer))
}

// FirmwareState holds the global firmware state
type FirmwareState struct {
	configCRC      atomic.Uint32
	isShutdown     atomic.Bool
	shutdownReason atomic.Value // string
}

var globalState FirmwareState

var (
	globalSender       Sender
	globalResetHandler func()
	resetPending       atomic.Bool
)

// InitCoreCommands registers the protocol commands every build carries.
// identify_response and identify must stay IDs 0 and 1: the host bootstraps
// with them before it has the dictionary.
func InitCoreCommands() {
	RegisterResponse("identify_response", "offset=%u data=%*s")
	RegisterCommand("identify", "offset=%u count=%c", handleIdentify)

	RegisterCommand("get_uptime", "", handleGetUptime)
	RegisterCommand("get_clock", "", handleGetClock)
	RegisterCommand("get_config", "", handleGetConfig)
	RegisterCommand("config_reset", "", handleConfigReset)
	RegisterCommand("finalize_config", "crc=%u", handleFinalizeConfig)
	RegisterCommand("emergency_stop", "", handleEmergencyStop)
	RegisterCommand("clear_shutdown", "", handleClearShutdown)
	RegisterCommand("reset", "", handleReset)
	RegisterCommand("set_debug", "enable=%c", handleSetDebug)

	RegisterResponse("clock", "clock=%u")
	RegisterResponse("uptime", "high=%u clock=%u")
	RegisterResponse("config", "is_config=%c crc=%u is_shutdown=%c")
	RegisterResponse("shutdown", "clock=%u reason=%*s")

	RegisterConstant("CLOCK_FREQ", uint32(TimerFreq))
}

func handleIdentify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	chunk := GetGlobalDictionary().GetChunk(offset, uint8(count))

	SendResponse("identify_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQBytes(output, chunk)
	})
	return nil
}

func handleGetUptime(data *[]byte) error {
	uptime := GetUptime()
	SendResponse("uptime", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(uptime>>32))
		protocol.EncodeVLQUint(output, uint32(uptime))
	})
	return nil
}

func handleGetClock(data *[]byte) error {
	clock := GetTime()
	SendResponse("clock", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, clock)
	})
	return nil
}

func handleGetConfig(data *[]byte) error {
	crc := globalState.configCRC.Load()
	SendResponse("config", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, boolArg(crc != 0))
		protocol.EncodeVLQUint(output, crc)
		protocol.EncodeVLQUint(output, boolArg(IsShutdown()))
	})
	return nil
}

func handleConfigReset(data *[]byte) error {
	if !IsShutdown() {
		return ErrNotShutdown
	}
	ResetFirmwareState()
	return nil
}

func handleFinalizeConfig(data *[]byte) error {
	crc, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	globalState.configCRC.Store(crc)
	return nil
}

func handleEmergencyStop(data *[]byte) error {
	TryShutdown("emergency stop")
	return nil
}

func handleClearShutdown(data *[]byte) error {
	globalState.isShutdown.Store(false)
	globalState.shutdownReason.Store("")
	return nil
}

// handleReset defers the reset to the main loop so the ack goes out first.
func handleReset(data *[]byte) error {
	resetPending.Store(true)
	return nil
}

func handleSetDebug(data *[]byte) error {
	enable, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	SetDebugEnabled(enable != 0)
	return nil
}

// TryShutdown puts the firmware in the shutdown state, stops every output
// and reports reason to the host. A second call while already shut down
// does nothing.
func TryShutdown(reason string) {
	if !globalState.isShutdown.CompareAndSwap(false, true) {
		return
	}
	globalState.shutdownReason.Store(reason)
	ShutdownAllPWM()
	DebugPrintln("[core] shutdown: " + reason)

	clock := GetTime()
	SendResponse("shutdown", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, clock)
		protocol.EncodeVLQString(output, reason)
	})
}

// IsShutdown returns true if the firmware is in shutdown state
func IsShutdown() bool {
	return globalState.isShutdown.Load()
}

// ShutdownReason returns the reason given to the last TryShutdown.
func ShutdownReason() string {
	r, _ := globalState.shutdownReason.Load().(string)
	return r
}

// ResetFirmwareState clears config and shutdown state when the host
// reconnects.
func ResetFirmwareState() {
	globalState.configCRC.Store(0)
	globalState.isShutdown.Store(false)
	globalState.shutdownReason.Store("")
}

// SendResponse sends a registered response through the global sender.
// Responses are dropped while no sender is set.
func SendResponse(responseName string, args func(output protocol.OutputBuffer)) {
	if globalSender == nil {
		return
	}
	cmd, ok := globalRegistry.GetCommandByName(responseName)
	if !ok {
		panic("response not registered: " + responseName)
	}
	globalSender.SendCommand(cmd.ID, args)
}

// SetGlobalTransport sets the sender used by SendResponse.
func SetGlobalTransport(s Sender) {
	globalSender = s
}

// SetResetHandler sets the platform-specific reset handler
func SetResetHandler(handler func()) {
	globalResetHandler = handler
}

// CheckPendingReset runs the reset handler if a reset was requested.
// Call it from the main loop after pending output is written.
func CheckPendingReset() {
	if resetPending.Load() && globalResetHandler != nil {
		globalResetHandler()
	}
}

func boolArg(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

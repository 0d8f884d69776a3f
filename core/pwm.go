package core

import (
	"context"
	"errors"
	"time"

	"gopwm/protocol"
	"gopwm/pwm"
)

// config_pwm_channel flag bits
const (
	PWMFlagEnable       = 1 << 0
	PWMFlagPhaseCorrect = 1 << 1
	PWMFlagInvertA      = 1 << 2
	PWMFlagInvertB      = 1 << 3
)

// measure_pwm modes
const (
	MeasureFrequency = 0
	MeasureDutyCycle = 1
)

// MaxMeasureGate bounds the measure_pwm window.
const MaxMeasureGate = 10 * time.Second

// PWMErrorCode is the code carried by pwm_error.
type PWMErrorCode uint8

const (
	PWMErrOther PWMErrorCode = iota
	PWMErrBadChannel
	PWMErrBadPin
	PWMErrShutdown
	PWMErrUnsupportedDivider
	PWMErrUnrepresentableDuty
	PWMErrFrequency
	PWMErrDutyCycle
	PWMErrNoClock
	PWMErrHandshakeTimeout
	PWMErrNotInputPin
	PWMErrMeasureOverflow
	PWMErrGate
	PWMErrBusy
)

// pwmErrorNames is indexed by PWMErrorCode.
var pwmErrorNames = []string{
	"other", "bad_channel", "bad_pin", "shutdown",
	"unsupported_divider", "unrepresentable_duty", "bad_frequency", "bad_duty",
	"no_clock", "handshake_timeout", "not_input_pin", "measure_overflow",
	"bad_gate", "busy",
}

func (c PWMErrorCode) String() string {
	if int(c) < len(pwmErrorNames) {
		return pwmErrorNames[c]
	}
	return "code" + itoa(int(c))
}

var errMeasureBusy = errors.New("measurement already running")

// pwmErrorCode classifies err for the host. Specific kinds are tested
// before pwm.ErrInvalidArgument, which matches all of them.
func pwmErrorCode(err error) PWMErrorCode {
	switch {
	case errors.Is(err, ErrBadChannel):
		return PWMErrBadChannel
	case errors.Is(err, ErrBadPin):
		return PWMErrBadPin
	case errors.Is(err, ErrShutdown):
		return PWMErrShutdown
	case errors.Is(err, pwm.ErrUnsupportedDivider):
		return PWMErrUnsupportedDivider
	case errors.Is(err, pwm.ErrUnrepresentableDuty):
		return PWMErrUnrepresentableDuty
	case errors.Is(err, pwm.ErrInvalidFrequency):
		return PWMErrFrequency
	case errors.Is(err, pwm.ErrInvalidDutyCycle):
		return PWMErrDutyCycle
	case errors.Is(err, pwm.ErrInvalidGate):
		return PWMErrGate
	case errors.Is(err, pwm.ErrNoClock):
		return PWMErrNoClock
	case errors.Is(err, pwm.ErrHandshakeTimeout):
		return PWMErrHandshakeTimeout
	case errors.Is(err, pwm.ErrNotInputPin):
		return PWMErrNotInputPin
	case errors.Is(err, pwm.ErrMeasureOverflow):
		return PWMErrMeasureOverflow
	case errors.Is(err, errMeasureBusy):
		return PWMErrBusy
	default:
		return PWMErrOther
	}
}

// measurement tracks the single measure_pwm in flight.
type measurement struct {
	pin    uint32
	mode   uint8
	value  uint32
	err    error
	cancel context.CancelFunc
}

var (
	measureRunning *measurement
	measureDone    = make(chan *measurement, 1)
)

// InitPWMCommands registers the PWM commands, responses and constants.
func InitPWMCommands() {
	RegisterCommand("config_pwm_channel", "channel=%c flags=%c divmode=%c div_int=%c div_frac=%c cc_a=%hu cc_b=%hu top=%hu", handleConfigPWMChannel)
	RegisterCommand("query_pwm_channel", "channel=%c", handleQueryPWMChannel)
	RegisterCommand("start_pwm", "pin=%u freq=%u duty=%u", handleStartPWM)
	RegisterCommand("stop_pwm", "pin=%u", handleStopPWM)
	RegisterCommand("set_pwm_mask", "mask=%c", handleSetPWMMask)
	RegisterCommand("set_pwm_counter", "channel=%c value=%hu", handleSetPWMCounter)
	RegisterCommand("get_pwm_counter", "channel=%c", handleGetPWMCounter)
	RegisterCommand("pwm_phase", "channel=%c dir=%c", handlePWMPhase)
	RegisterCommand("config_pwm_irq", "channel=%c enable=%c", handleConfigPWMIRQ)
	RegisterCommand("force_pwm_irq", "channel=%c", handleForcePWMIRQ)
	RegisterCommand("measure_pwm", "pin=%u mode=%c gate_us=%u", handleMeasurePWM)

	RegisterResponse("pwm_channel", "channel=%c flags=%c divmode=%c div_int=%c div_frac=%c cc_a=%hu cc_b=%hu top=%hu")
	RegisterResponse("pwm_counter", "channel=%c value=%hu")
	RegisterResponse("pwm_measure", "pin=%u mode=%c value=%u")
	RegisterResponse("pwm_fired", "channel=%c count=%u")
	RegisterResponse("pwm_error", "code=%c")
	RegisterResponse("pwm_divider_status", "channel=%c status=%c")

	RegisterConstant("PWM_MAX_DUTY", uint32(pwm.MaxDutyCycle))
	RegisterConstant("PWM_CHANNELS", uint32(pwm.NumChannels))
	RegisterEnumeration("pwm_error_code", pwmErrorNames)
}

// AttachPWM registers d as the PWM driver, routes its interrupts to a new
// event queue and publishes its clock in the dictionary.
func AttachPWM(d PWMDriver) {
	SetPWMDriver(d)
	pwmEvents = NewEventQueue()
	d.SetInterruptHandler(pwmEvents)
	RegisterConstant("PWM_SYSCLK", d.MaxFrequencyHz())
}

// sendPWMError reports err to the host. The command itself succeeds so the
// rest of the block still runs.
func sendPWMError(err error) error {
	code := pwmErrorCode(err)
	DebugPrintln("[pwm] error " + code.String() + ": " + err.Error())
	SendResponse("pwm_error", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(code))
	})
	return nil
}

// decodeArgs decodes len(args) unsigned arguments in order.
func decodeArgs(data *[]byte, args ...*uint32) error {
	for _, a := range args {
		v, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		*a = v
	}
	return nil
}

func channelArg(v uint32) (pwm.ChannelNumber, error) {
	ch := pwm.ChannelNumber(v)
	if v > 0xFF || !ch.Valid() {
		return 0, ErrBadChannel
	}
	return ch, nil
}

func pinArg(v uint32) (uint32, error) {
	if v > pwm.MaxGPIO {
		return 0, ErrBadPin
	}
	return v, nil
}

func handleConfigPWMChannel(data *[]byte) error {
	var chArg, flags, divmode, divInt, divFrac, ccA, ccB, top uint32
	if err := decodeArgs(data, &chArg, &flags, &divmode, &divInt, &divFrac, &ccA, &ccB, &top); err != nil {
		return err
	}
	ch, err := channelArg(chArg)
	if err != nil {
		return sendPWMError(err)
	}
	if IsShutdown() {
		return sendPWMError(ErrShutdown)
	}

	config := pwm.ChannelConfig{
		Enabled:      flags&PWMFlagEnable != 0,
		PhaseCorrect: flags&PWMFlagPhaseCorrect != 0,
		InvertA:      flags&PWMFlagInvertA != 0,
		InvertB:      flags&PWMFlagInvertB != 0,
		DivMode:      pwm.DivMode(divmode & 3),
		DivInt:       uint8(divInt),
		DivFrac:      uint8(divFrac),
		CompareA:     uint16(ccA),
		CompareB:     uint16(ccB),
		Top:          uint16(top),
	}
	if divInt > 0xFF || divFrac > 0xFF {
		// out of range for the register, keep the divider the hardware has
		config.DivInt, config.DivFrac = 0, 0
	}

	status := MustPWM().ConfigureChannel(ch, config)
	if status == pwm.DividerIgnored {
		SendResponse("pwm_divider_status", func(output protocol.OutputBuffer) {
			protocol.EncodeVLQUint(output, uint32(ch))
			protocol.EncodeVLQUint(output, uint32(status))
		})
	}
	return nil
}

func handleQueryPWMChannel(data *[]byte) error {
	var chArg uint32
	if err := decodeArgs(data, &chArg); err != nil {
		return err
	}
	ch, err := channelArg(chArg)
	if err != nil {
		return sendPWMError(err)
	}

	c := MustPWM().Config(ch)
	var flags uint32
	if c.Enabled {
		flags |= PWMFlagEnable
	}
	if c.PhaseCorrect {
		flags |= PWMFlagPhaseCorrect
	}
	if c.InvertA {
		flags |= PWMFlagInvertA
	}
	if c.InvertB {
		flags |= PWMFlagInvertB
	}
	SendResponse("pwm_channel", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(ch))
		protocol.EncodeVLQUint(output, flags)
		protocol.EncodeVLQUint(output, uint32(c.DivMode))
		protocol.EncodeVLQUint(output, uint32(c.DivInt))
		protocol.EncodeVLQUint(output, uint32(c.DivFrac))
		protocol.EncodeVLQUint(output, uint32(c.CompareA))
		protocol.EncodeVLQUint(output, uint32(c.CompareB))
		protocol.EncodeVLQUint(output, uint32(c.Top))
	})
	return nil
}

func handleStartPWM(data *[]byte) error {
	var pinV, freq, duty uint32
	if err := decodeArgs(data, &pinV, &freq, &duty); err != nil {
		return err
	}
	pin, err := pinArg(pinV)
	if err != nil {
		return sendPWMError(err)
	}
	if IsShutdown() {
		return sendPWMError(ErrShutdown)
	}
	if err := MustPWM().Start(pin, freq, duty); err != nil {
		return sendPWMError(err)
	}
	return nil
}

func handleStopPWM(data *[]byte) error {
	var pinV uint32
	if err := decodeArgs(data, &pinV); err != nil {
		return err
	}
	pin, err := pinArg(pinV)
	if err != nil {
		return sendPWMError(err)
	}
	MustPWM().Stop(pin)
	return nil
}

func handleSetPWMMask(data *[]byte) error {
	var mask uint32
	if err := decodeArgs(data, &mask); err != nil {
		return err
	}
	if IsShutdown() {
		return sendPWMError(ErrShutdown)
	}
	MustPWM().SetMaskEnabled(uint8(mask))
	return nil
}

func handleSetPWMCounter(data *[]byte) error {
	var chArg, value uint32
	if err := decodeArgs(data, &chArg, &value); err != nil {
		return err
	}
	ch, err := channelArg(chArg)
	if err != nil {
		return sendPWMError(err)
	}
	if IsShutdown() {
		return sendPWMError(ErrShutdown)
	}
	MustPWM().SetCounter(ch, uint16(value))
	return nil
}

func handleGetPWMCounter(data *[]byte) error {
	var chArg uint32
	if err := decodeArgs(data, &chArg); err != nil {
		return err
	}
	ch, err := channelArg(chArg)
	if err != nil {
		return sendPWMError(err)
	}
	value := MustPWM().Counter(ch)
	SendResponse("pwm_counter", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(ch))
		protocol.EncodeVLQUint(output, uint32(value))
	})
	return nil
}

func handlePWMPhase(data *[]byte) error {
	var chArg, dir uint32
	if err := decodeArgs(data, &chArg, &dir); err != nil {
		return err
	}
	ch, err := channelArg(chArg)
	if err != nil {
		return sendPWMError(err)
	}
	if IsShutdown() {
		return sendPWMError(ErrShutdown)
	}
	if dir != 0 {
		err = MustPWM().AdvanceCount(ch)
	} else {
		err = MustPWM().RetardCount(ch)
	}
	if err != nil {
		return sendPWMError(err)
	}
	return nil
}

func handleConfigPWMIRQ(data *[]byte) error {
	var chArg, enable uint32
	if err := decodeArgs(data, &chArg, &enable); err != nil {
		return err
	}
	ch, err := channelArg(chArg)
	if err != nil {
		return sendPWMError(err)
	}
	if IsShutdown() {
		return sendPWMError(ErrShutdown)
	}
	if enable != 0 {
		MustPWM().EnableInterrupt(ch)
	} else {
		MustPWM().DisableInterrupt(ch)
	}
	return nil
}

func handleForcePWMIRQ(data *[]byte) error {
	var chArg uint32
	if err := decodeArgs(data, &chArg); err != nil {
		return err
	}
	ch, err := channelArg(chArg)
	if err != nil {
		return sendPWMError(err)
	}
	if IsShutdown() {
		return sendPWMError(ErrShutdown)
	}
	MustPWM().ForceInterrupt(ch)
	return nil
}

// handleMeasurePWM starts a measurement and returns at once. The result is
// sent as pwm_measure by FlushPWMMeasurement.
func handleMeasurePWM(data *[]byte) error {
	var pinV, mode, gateUS uint32
	if err := decodeArgs(data, &pinV, &mode, &gateUS); err != nil {
		return err
	}
	pin, err := pinArg(pinV)
	if err != nil {
		return sendPWMError(err)
	}
	gate := time.Duration(gateUS) * time.Microsecond
	if gate == 0 || gate > MaxMeasureGate || mode > MeasureDutyCycle {
		return sendPWMError(pwm.ErrInvalidGate)
	}
	if IsShutdown() {
		return sendPWMError(ErrShutdown)
	}
	if measureRunning != nil {
		return sendPWMError(errMeasureBusy)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &measurement{pin: pin, mode: uint8(mode), cancel: cancel}
	measureRunning = m
	drv := MustPWM()
	go func() {
		if m.mode == MeasureDutyCycle {
			m.value, m.err = drv.MeasureDutyCycle(ctx, m.pin, gate)
		} else {
			m.value, m.err = drv.MeasureFrequency(ctx, m.pin, gate)
		}
		measureDone <- m
	}()
	return nil
}

// FlushPWMMeasurement sends the result of a finished measurement. It reports
// whether one was sent.
func FlushPWMMeasurement() bool {
	var m *measurement
	select {
	case m = <-measureDone:
	default:
		return false
	}
	m.cancel()
	measureRunning = nil

	if m.err != nil {
		sendPWMError(m.err)
		return true
	}
	SendResponse("pwm_measure", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, m.pin)
		protocol.EncodeVLQUint(output, uint32(m.mode))
		protocol.EncodeVLQUint(output, m.value)
	})
	return true
}

// ShutdownAllPWM stops every slice, masks every interrupt and aborts a
// running measurement.
func ShutdownAllPWM() {
	if m := measureRunning; m != nil {
		m.cancel()
	}
	if pwmDriver == nil {
		return
	}
	pwmDriver.SetInterruptMask(0)
	for ch := pwm.Ch0; ch < pwm.NumChannels; ch++ {
		pwmDriver.StopChannel(ch)
	}
}

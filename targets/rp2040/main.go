//go:build rp2040

package main

import (
	"context"
	"device/rp"
	"machine"
	"runtime/interrupt"
	"strconv"
	"time"

	"gopwm/core"
	"gopwm/protocol"
	"gopwm/pwm"
)

var (
	inputBuffer  *protocol.FifoBuffer
	outputBuffer *protocol.ScratchOutput
	transport    *protocol.Transport

	pwmDriver *muxedPWM

	msgErrors uint32

	usbWasDisconnected       bool
	consecutiveWriteFailures uint32
)

func main() {
	// clear any watchdog state left by a previous reset
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}

	InitUSB()
	InitClock()
	core.TimerInit()
	InitDebugUART()
	core.SetDebugWriter(DebugPrintln)
	core.InitAsyncDebug()

	core.InitCoreCommands()
	core.InitPWMCommands()
	InitRefgenCommands()
	registerPins()

	bank := pwm.NewMMIOBank()
	drv, err := pwm.New(bank, pwm.FixedClock(machine.CPUFrequency()), pwm.WithLogger(core.DebugAsync))
	if err != nil {
		return
	}
	drv.Init()
	pwmDriver = &muxedPWM{Pwm: drv}
	core.AttachPWM(pwmDriver)

	irq := interrupt.New(rp.IRQ_PWM_IRQ_WRAP, handlePWMInterrupt)
	irq.SetPriority(0x40)
	irq.Enable()

	// after every command, constant and enumeration is registered
	core.GetGlobalDictionary().BuildDictionary()

	inputBuffer = protocol.NewFifoBuffer(256)
	outputBuffer = protocol.NewScratchOutput()

	transport = protocol.NewTransport(outputBuffer, core.DispatchCommand)
	transport.SetResetCallback(func() {
		inputBuffer.Reset()
		outputBuffer.Reset()
		core.ResetFirmwareState()
	})
	// acks go out before the responses that follow them
	transport.SetFlushCallback(writeUSB)
	core.SetGlobalTransport(transport)

	core.SetResetHandler(func() {
		// a watchdog reset re-enumerates USB more reliably than SYSRESETREQ
		if machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 1}) != nil {
			return
		}
		if machine.Watchdog.Start() != nil {
			return
		}
		for {
			time.Sleep(time.Millisecond)
		}
	})

	go usbReaderLoop()

	for {
		func() {
			defer func() {
				if r := recover(); r != nil {
					msgErrors++
					inputBuffer.Reset()
					outputBuffer.Reset()
				}
			}()

			UpdateSystemTime()

			if inputBuffer.Available() > 0 {
				transport.Receive(inputBuffer)
			}

			core.FlushPWMMeasurement()
			core.FlushPWMEvents()

			if len(outputBuffer.Result()) > 0 {
				writeUSB()
			}

			// only after the ack has been written
			core.CheckPendingReset()
		}()

		time.Sleep(10 * time.Microsecond)
	}
}

func handlePWMInterrupt(interrupt.Interrupt) {
	pwmDriver.HandleInterrupt()
}

// muxedPWM routes a GPIO to the PWM block before the driver uses it.
type muxedPWM struct {
	*pwm.Pwm
}

func muxPin(pin uint32) {
	machine.Pin(pin).Configure(machine.PinConfig{Mode: machine.PinPWM})
}

// Start muxes the pin only once the request was accepted. The slice is
// already running by then, so the pin comes up with the new waveform.
func (m *muxedPWM) Start(pin, frequencyHz, dutyCycle uint32) error {
	if err := m.Pwm.Start(pin, frequencyHz, dutyCycle); err != nil {
		return err
	}
	if pin <= pwm.MaxGPIO {
		muxPin(pin)
	}
	return nil
}

// ConfigureChannel routes the lowest GPIO pair of an enabled slice.
func (m *muxedPWM) ConfigureChannel(ch pwm.ChannelNumber, config pwm.ChannelConfig) pwm.DividerStatus {
	if config.Enabled && ch.Valid() {
		muxPin(pwm.PinFor(ch, pwm.PinA))
		muxPin(pwm.PinFor(ch, pwm.PinB))
	}
	return m.Pwm.ConfigureChannel(ch, config)
}

func (m *muxedPWM) MeasureFrequency(ctx context.Context, pin uint32, gate time.Duration) (uint32, error) {
	if pin <= pwm.MaxGPIO {
		muxPin(pin)
	}
	return m.Pwm.MeasureFrequency(ctx, pin, gate)
}

func (m *muxedPWM) MeasureDutyCycle(ctx context.Context, pin uint32, gate time.Duration) (uint32, error) {
	if pin <= pwm.MaxGPIO {
		muxPin(pin)
	}
	return m.Pwm.MeasureDutyCycle(ctx, pin, gate)
}

// usbReaderLoop moves USB bytes into inputBuffer.
func usbReaderLoop() {
	defer func() {
		if r := recover(); r != nil {
			msgErrors++
			time.Sleep(100 * time.Millisecond)
			go usbReaderLoop()
		}
	}()

	for {
		if USBAvailable() > 0 {
			data, err := USBRead()
			if err != nil {
				msgErrors++
				time.Sleep(time.Millisecond)
				continue
			}

			if usbWasDisconnected {
				// a new host session starts from a clean state
				usbWasDisconnected = false
				inputBuffer.Reset()
				outputBuffer.Reset()
				transport.Reset()
				core.ResetFirmwareState()
				consecutiveWriteFailures = 0
			}

			if inputBuffer.Write([]byte{data}) == 0 {
				msgErrors++
				time.Sleep(10 * time.Millisecond)
			}
		}
		time.Sleep(100 * time.Microsecond)
	}
}

// registerPins publishes gpio0 to gpio29 as the pin enumeration.
func registerPins() {
	names := make([]string, pwm.MaxGPIO+1)
	for i := range names {
		names[i] = "gpio" + strconv.Itoa(i)
	}
	core.RegisterEnumeration("pin", names)
}

// writeUSB drains outputBuffer. Repeated failures mark the host as gone.
func writeUSB() {
	result := outputBuffer.Result()
	for written := 0; written < len(result); {
		n, err := USBWriteBytes(result[written:])
		if err != nil || n == 0 {
			consecutiveWriteFailures++
			if consecutiveWriteFailures > 10 {
				usbWasDisconnected = true
				consecutiveWriteFailures = 0
				outputBuffer.Reset()
				inputBuffer.Reset()
			}
			return
		}
		written += n
	}
	consecutiveWriteFailures = 0
	outputBuffer.Reset()
}

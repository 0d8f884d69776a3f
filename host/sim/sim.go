//go:build !tinygo

// Package sim runs the PWM firmware in-process against a simulated register
// bank. A *Port speaks the wire protocol and can stand in for a serial port.
package sim

import (
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"gopwm/core"
	"gopwm/protocol"
	"gopwm/pwm"
)

// DefaultSysclk is the RP2040 reset system clock.
const DefaultSysclk = 125_000_000

const pumpInterval = time.Millisecond

var (
	initOnce sync.Once
	active   sync.Mutex
)

// Option configures a Port.
type Option func(*Port)

// WithSysclk sets the simulated system clock.
func WithSysclk(hz uint32) Option {
	return func(p *Port) { p.sysclk = hz }
}

// WithTicks advances every running slice by n counts per millisecond, so
// wraps and their interrupts happen without a test driving the bank.
func WithTicks(n uint32) Option {
	return func(p *Port) { p.ticks = n }
}

// Port is firmware on the far side of an io.ReadWriteCloser.
//
// The firmware keeps its state in package globals, so only one Port can be
// open at a time; New blocks until the previous one is closed.
type Port struct {
	Bank *pwm.SimBank
	PWM  *pwm.Pwm

	logger *zap.SugaredLogger
	sysclk uint32
	ticks  uint32

	mu   sync.Mutex
	fifo *protocol.FifoBuffer
	out  *protocol.ScratchOutput
	fw   *protocol.Transport

	reader *io.PipeReader
	writer *io.PipeWriter

	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// New boots the firmware.
func New(logger *zap.SugaredLogger, opts ...Option) (*Port, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	p := &Port{
		logger: logger,
		sysclk: DefaultSysclk,
		fifo:   protocol.NewFifoBuffer(512),
		out:    protocol.NewScratchOutput(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.Bank = pwm.NewSimBank()
	drv, err := pwm.New(p.Bank, pwm.FixedClock(p.sysclk), pwm.WithLogger(core.DebugPrintln))
	if err != nil {
		return nil, err
	}
	p.PWM = drv

	active.Lock()
	initOnce.Do(func() {
		core.InitCoreCommands()
		core.InitPWMCommands()
	})
	core.SetDebugWriter(func(s string) { logger.Debug(s) })
	core.ResetFirmwareState()
	core.TimerInit()
	drv.Init()
	core.AttachPWM(drv)
	core.GetGlobalDictionary().BuildDictionary()

	p.fw = protocol.NewTransport(p.out, core.DispatchCommand)
	p.fw.SetResetCallback(func() { logger.Debug("host resynchronized") })
	core.SetGlobalTransport(p.fw)
	p.reader, p.writer = io.Pipe()

	go p.pump()
	logger.Infow("firmware started", "sysclk", p.sysclk, "ticks", p.ticks)
	return p, nil
}

// Write feeds host bytes to the firmware and runs every complete command.
func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for rest := b; len(rest) > 0; {
		n := p.fifo.Write(rest)
		rest = rest[n:]
		p.fw.Receive(p.fifo)
		if n == 0 && len(rest) > 0 {
			p.fifo.Reset()
		}
	}
	return len(b), p.flushLocked()
}

// Read returns firmware output.
func (p *Port) Read(b []byte) (int, error) {
	return p.reader.Read(b)
}

// Close stops the firmware loop. Channels keep their state until the next
// New.
func (p *Port) Close() error {
	p.closeOnce.Do(func() {
		p.writer.Close()
		p.reader.Close()
		close(p.stop)
		<-p.done

		core.SetGlobalTransport(nil)
		core.SetDebugWriter(nil)
		active.Unlock()
	})
	return nil
}

// pump is the firmware main loop outside of command handling.
func (p *Port) pump() {
	defer close(p.done)
	ticker := time.NewTicker(pumpInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
		}

		if p.ticks > 0 {
			for ch := pwm.Ch0; ch < pwm.NumChannels; ch++ {
				p.Bank.Step(ch, p.ticks)
			}
		}

		p.mu.Lock()
		core.SetTime(uint32(time.Now().UnixMicro()))
		p.PWM.HandleInterrupt()
		core.FlushPWMMeasurement()
		core.FlushPWMEvents()
		err := p.flushLocked()
		p.mu.Unlock()
		if err != nil {
			return
		}
	}
}

func (p *Port) flushLocked() error {
	data := p.out.Result()
	if len(data) == 0 {
		return nil
	}
	pending := append([]byte(nil), data...)
	p.out.Reset()
	if _, err := p.writer.Write(pending); err != nil {
		p.logger.Debugw("host gone", "error", err)
		return err
	}
	return nil
}

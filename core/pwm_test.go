package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"gopwm/pwm"
)

func TestStartPWMCommand(t *testing.T) {
	p, _, rec := setupPWM(t)

	// gpio4 is ch2 output A; 10 kHz at 25%
	mustCall(t, "start_pwm", 4, 10_000, pwm.MaxDutyCycle/4)

	if code := rec.lastError(); code != -1 {
		t.Fatalf("Unexpected pwm_error %d", code)
	}
	got := p.Config(pwm.Ch2)
	if !got.Enabled || got.Top != 12499 || got.CompareA != 3125 || got.DivInt != 1 {
		t.Errorf("Unexpected ch2 configuration %+v", got)
	}

	mustCall(t, "stop_pwm", 5)
	if p.Config(pwm.Ch2).Enabled {
		t.Error("stop_pwm on gpio5 should stop the shared slice")
	}
}

func TestStartPWMErrors(t *testing.T) {
	p, bank, rec := setupPWM(t)
	bank.ResetTrace()

	tests := []struct {
		name string
		args []uint32
		want PWMErrorCode
	}{
		{"zero frequency", []uint32{4, 0, 100}, PWMErrFrequency},
		{"duty above full scale", []uint32{4, 1000, pwm.MaxDutyCycle + 1}, PWMErrDutyCycle},
		{"divider too large", []uint32{4, 1, 100}, PWMErrUnsupportedDivider},
		{"full duty at max top", []uint32{4, 1000, pwm.MaxDutyCycle}, PWMErrUnrepresentableDuty},
		{"no such gpio", []uint32{30, 1000, 100}, PWMErrBadPin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec.reset()
			mustCall(t, "start_pwm", tt.args...)
			if code := rec.lastError(); code != int(tt.want) {
				t.Errorf("Expected pwm_error %s, got %d", tt.want, code)
			}
		})
	}

	if n := len(bank.Trace()); n != 0 {
		t.Errorf("Rejected starts should not touch the hardware, got %d writes", n)
	}
	if p.Config(pwm.Ch2).Enabled {
		t.Error("ch2 should still be stopped")
	}
}

func TestConfigPWMChannelCommand(t *testing.T) {
	p, _, rec := setupPWM(t)

	flags := uint32(PWMFlagEnable | PWMFlagPhaseCorrect | PWMFlagInvertB)
	mustCall(t, "config_pwm_channel", 5, flags, uint32(pwm.DivFreeRunning), 4, 3, 100, 200, 999)

	want := pwm.ChannelConfig{
		Enabled:      true,
		PhaseCorrect: true,
		InvertB:      true,
		DivMode:      pwm.DivFreeRunning,
		DivInt:       4,
		DivFrac:      3,
		CompareA:     100,
		CompareB:     200,
		Top:          999,
	}
	if diff := cmp.Diff(want, p.Config(pwm.Ch5)); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	if len(rec.named("pwm_divider_status")) != 0 {
		t.Error("A valid divider should not be reported")
	}

	mustCall(t, "query_pwm_channel", 5)
	rsp := rec.named("pwm_channel")
	if len(rsp) != 1 {
		t.Fatalf("Expected one pwm_channel, got %d", len(rsp))
	}
	if diff := cmp.Diff([]uint32{5, flags, 0, 4, 3, 100, 200, 999}, rsp[0].Args); diff != "" {
		t.Errorf("pwm_channel mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigPWMChannelDividerIgnored(t *testing.T) {
	p, _, rec := setupPWM(t)
	mustCall(t, "config_pwm_channel", 1, 0, 0, 4, 0, 0, 0, 100)

	// integer part 0 is not a divider; the rest of the config still applies
	mustCall(t, "config_pwm_channel", 1, PWMFlagEnable, uint32(pwm.DivBHigh), 0, 5, 10, 20, 300)

	rsp := rec.named("pwm_divider_status")
	if len(rsp) != 1 {
		t.Fatalf("Expected one pwm_divider_status, got %d", len(rsp))
	}
	if diff := cmp.Diff([]uint32{1, uint32(pwm.DividerIgnored)}, rsp[0].Args); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}

	got := p.Config(pwm.Ch1)
	if got.DivInt != 4 || got.DivFrac != 0 {
		t.Errorf("Expected divider 4.0 kept, got %d.%d", got.DivInt, got.DivFrac)
	}
	if !got.Enabled || got.DivMode != pwm.DivBHigh || got.Top != 300 || got.CompareB != 20 {
		t.Errorf("Rest of the config not applied: %+v", got)
	}
}

func TestBadChannel(t *testing.T) {
	_, _, rec := setupPWM(t)
	for _, name := range []string{"get_pwm_counter", "force_pwm_irq", "query_pwm_channel"} {
		rec.reset()
		mustCall(t, name, 8)
		if code := rec.lastError(); code != int(PWMErrBadChannel) {
			t.Errorf("%s: expected bad_channel, got %d", name, code)
		}
	}
}

func TestPWMCounterCommands(t *testing.T) {
	_, _, rec := setupPWM(t)

	mustCall(t, "set_pwm_counter", 1, 500)
	mustCall(t, "get_pwm_counter", 1)

	rsp := rec.named("pwm_counter")
	if len(rsp) != 1 {
		t.Fatalf("Expected one pwm_counter, got %d", len(rsp))
	}
	if diff := cmp.Diff([]uint32{1, 500}, rsp[0].Args); diff != "" {
		t.Errorf("pwm_counter mismatch (-want +got):\n%s", diff)
	}
}

func TestSetPWMMaskCommand(t *testing.T) {
	_, bank, _ := setupPWM(t)
	mustCall(t, "set_pwm_mask", 0b101)
	if en := bank.GetGlobal(pwm.RegEN); en != 0b101 {
		t.Errorf("Expected EN 0b101, got %#b", en)
	}
}

func TestPWMPhaseCommand(t *testing.T) {
	p, _, rec := setupPWM(t, pwm.WithHandshakeLimit(8))

	// divider 1.0: the hardware never completes an advance
	mustCall(t, "pwm_phase", 0, 1)
	if code := rec.lastError(); code != int(PWMErrHandshakeTimeout) {
		t.Errorf("Expected handshake_timeout, got %d", code)
	}

	rec.reset()
	mustCall(t, "config_pwm_channel", 0, PWMFlagEnable, 0, 2, 0, 0, 0, 1000)
	mustCall(t, "pwm_phase", 0, 1)
	if got := p.Counter(pwm.Ch0); got != 1 {
		t.Errorf("Expected counter 1 after advance, got %d", got)
	}
	mustCall(t, "pwm_phase", 0, 0)
	if got := p.Counter(pwm.Ch0); got != 0 {
		t.Errorf("Expected counter 0 after retard, got %d", got)
	}
	if code := rec.lastError(); code != -1 {
		t.Errorf("Unexpected pwm_error %d", code)
	}
}

func TestInterruptToHost(t *testing.T) {
	p, bank, rec := setupPWM(t)

	mustCall(t, "config_pwm_irq", 3, 1)
	mustCall(t, "force_pwm_irq", 3)
	p.HandleInterrupt()
	bank.Wrap(3)
	p.HandleInterrupt()

	// masked channels latch but do not reach the host
	bank.Wrap(6)
	p.HandleInterrupt()

	if n := FlushPWMEvents(); n != 2 {
		t.Errorf("Expected 2 events flushed, got %d", n)
	}
	var got [][]uint32
	for _, m := range rec.named("pwm_fired") {
		got = append(got, m.Args)
	}
	if diff := cmp.Diff([][]uint32{{3, 1}, {3, 2}}, got); diff != "" {
		t.Errorf("pwm_fired mismatch (-want +got):\n%s", diff)
	}

	mustCall(t, "config_pwm_irq", 3, 0)
	if p.InterruptMask() != 0 {
		t.Errorf("Expected mask 0, got %#x", p.InterruptMask())
	}
}

func TestEmergencyStopStopsPWM(t *testing.T) {
	p, _, rec := setupPWM(t)

	mustCall(t, "start_pwm", 0, 1000, 100)
	mustCall(t, "start_pwm", 15, 1000, 100)
	mustCall(t, "config_pwm_irq", 7, 1)
	mustCall(t, "emergency_stop")

	for ch := pwm.Ch0; ch < pwm.NumChannels; ch++ {
		if p.Config(ch).Enabled {
			t.Errorf("%s still enabled after emergency_stop", ch)
		}
	}
	if p.InterruptMask() != 0 {
		t.Errorf("Expected interrupts masked, got %#x", p.InterruptMask())
	}
	if len(rec.named("shutdown")) != 1 || ShutdownReason() != "emergency stop" {
		t.Errorf("Expected one shutdown report, got %d (%q)", len(rec.named("shutdown")), ShutdownReason())
	}

	for _, c := range []struct {
		name string
		args []uint32
	}{
		{"start_pwm", []uint32{0, 1000, 100}},
		{"config_pwm_irq", []uint32{2, 1}},
		{"force_pwm_irq", []uint32{2}},
		{"set_pwm_counter", []uint32{2, 77}},
		{"pwm_phase", []uint32{2, 1}},
		{"set_pwm_mask", []uint32{0xFF}},
	} {
		rec.reset()
		mustCall(t, c.name, c.args...)
		if code := rec.lastError(); code != int(PWMErrShutdown) {
			t.Errorf("%s: expected shutdown error, got %d", c.name, code)
		}
	}
	if p.InterruptMask() != 0 || p.InterruptPending(pwm.Ch2) {
		t.Errorf("Interrupts changed while shut down: mask %#x", p.InterruptMask())
	}
	if v := p.Counter(pwm.Ch2); v != 0 {
		t.Errorf("Counter written while shut down: %d", v)
	}
	for ch := pwm.Ch0; ch < pwm.NumChannels; ch++ {
		if p.Config(ch).Enabled {
			t.Errorf("%s enabled while shut down", ch)
		}
	}

	mustCall(t, "config_reset")
	if IsShutdown() {
		t.Error("config_reset should leave the shutdown state")
	}
	if err := call(t, "config_reset"); !errors.Is(err, ErrNotShutdown) {
		t.Errorf("Expected ErrNotShutdown, got %v", err)
	}
}

// fakeMeasure answers measurements once release is closed.
type fakeMeasure struct {
	*pwm.Pwm
	value   uint32
	err     error
	release chan struct{}
}

func (f *fakeMeasure) MeasureFrequency(ctx context.Context, pin uint32, gate time.Duration) (uint32, error) {
	select {
	case <-f.release:
		return f.value, f.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (f *fakeMeasure) MeasureDutyCycle(ctx context.Context, pin uint32, gate time.Duration) (uint32, error) {
	v, err := f.MeasureFrequency(ctx, pin, gate)
	return v / 2, err
}

func newFakeMeasure(t *testing.T, value uint32, err error) (*fakeMeasure, *recordingSender) {
	t.Helper()
	p, _, _ := setupPWM(t)
	f := &fakeMeasure{Pwm: p, value: value, err: err, release: make(chan struct{})}
	return f, attach(t, f)
}

func waitMeasurement(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !FlushPWMMeasurement() {
		if time.Now().After(deadline) {
			t.Fatal("measurement did not finish")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestMeasurePWMCommand(t *testing.T) {
	f, rec := newFakeMeasure(t, 1000, nil)

	mustCall(t, "measure_pwm", 5, MeasureDutyCycle, 1000)
	if FlushPWMMeasurement() {
		t.Fatal("Result sent before the measurement finished")
	}

	mustCall(t, "measure_pwm", 7, MeasureFrequency, 1000)
	if code := rec.lastError(); code != int(PWMErrBusy) {
		t.Errorf("Expected busy, got %d", code)
	}

	close(f.release)
	waitMeasurement(t)

	rsp := rec.named("pwm_measure")
	if len(rsp) != 1 {
		t.Fatalf("Expected one pwm_measure, got %d", len(rsp))
	}
	if diff := cmp.Diff([]uint32{5, MeasureDutyCycle, 500}, rsp[0].Args); diff != "" {
		t.Errorf("pwm_measure mismatch (-want +got):\n%s", diff)
	}

	// the slot is free again
	rec.reset()
	mustCall(t, "measure_pwm", 7, MeasureFrequency, 1000)
	waitMeasurement(t)
	if len(rec.named("pwm_measure")) != 1 {
		t.Error("Second measurement not reported")
	}
}

func TestMeasurePWMErrors(t *testing.T) {
	f, rec := newFakeMeasure(t, 0, pwm.ErrMeasureOverflow)
	close(f.release)

	mustCall(t, "measure_pwm", 5, MeasureFrequency, 1000)
	waitMeasurement(t)
	if code := rec.lastError(); code != int(PWMErrMeasureOverflow) {
		t.Errorf("Expected measure_overflow, got %d", code)
	}

	for _, args := range [][]uint32{
		{5, MeasureFrequency, 0},
		{5, 2, 1000},
		{5, MeasureFrequency, uint32(MaxMeasureGate/time.Microsecond) + 1},
	} {
		rec.reset()
		mustCall(t, "measure_pwm", args...)
		if code := rec.lastError(); code != int(PWMErrGate) {
			t.Errorf("%v: expected bad_gate, got %d", args, code)
		}
	}
}

func TestShutdownAbortsMeasurement(t *testing.T) {
	_, rec := newFakeMeasure(t, 1000, nil)

	mustCall(t, "measure_pwm", 5, MeasureFrequency, 1000)
	mustCall(t, "emergency_stop")
	waitMeasurement(t)

	if len(rec.named("pwm_measure")) != 0 {
		t.Error("Aborted measurement should not report a value")
	}
	if code := rec.lastError(); code != int(PWMErrOther) {
		t.Errorf("Expected the cancellation reported, got %d", code)
	}
}

func TestPWMErrorCodeNames(t *testing.T) {
	if len(pwmErrorNames) != int(PWMErrBusy)+1 {
		t.Errorf("Expected a name for every code, have %d", len(pwmErrorNames))
	}
	if PWMErrShutdown.String() != "shutdown" {
		t.Errorf("Unexpected name %q", PWMErrShutdown.String())
	}
}

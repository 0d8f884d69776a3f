package mcu

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.viam.com/test"

	"gopwm/host/sim"
	"gopwm/pwm"
)

func newTestMCU(t *testing.T, opts ...sim.Option) (*MCU, *sim.Port) {
	t.Helper()
	logger := zap.NewNop().Sugar()
	port, err := sim.New(logger, opts...)
	test.That(t, err, test.ShouldBeNil)

	m := New(port, logger)
	t.Cleanup(func() {
		m.Close(context.Background(), false)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	test.That(t, m.Connect(ctx), test.ShouldBeNil)
	return m, port
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func firmwareReason(t *testing.T, err error) string {
	t.Helper()
	var fwErr *FirmwareError
	test.That(t, errors.As(err, &fwErr), test.ShouldBeTrue)
	return fwErr.Reason
}

func TestConnect(t *testing.T) {
	m, _ := newTestMCU(t)

	dict := m.Dictionary()
	test.That(t, dict, test.ShouldNotBeNil)
	test.That(t, len(m.RawDictionary()), test.ShouldBeGreaterThan, identifyChunk)

	n, err := m.Channels()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, uint32(8))

	maxDuty, err := m.MaxDuty()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, maxDuty, test.ShouldEqual, uint32(1<<16))

	sysclk, err := dict.ConfigUint("PWM_SYSCLK")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sysclk, test.ShouldEqual, uint32(sim.DefaultSysclk))

	f, ok := dict.Lookup("start_pwm")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, f.Response, test.ShouldBeFalse)
	test.That(t, len(f.Params), test.ShouldEqual, 3)

	name, ok := dict.EnumName("pwm_error_code", 13)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, name, test.ShouldEqual, "busy")
}

func TestSendBeforeConnect(t *testing.T) {
	port, err := sim.New(nil)
	test.That(t, err, test.ShouldBeNil)
	m := New(port, nil)
	defer m.Close(context.Background(), false)

	err = m.StartPWM(testContext(t), 4, 1000, 100)
	test.That(t, errors.Is(err, ErrNoDictionary), test.ShouldBeTrue)
}

func TestStartAndQuery(t *testing.T) {
	m, port := newTestMCU(t)
	ctx := testContext(t)

	// gpio4 is output A of slice 2; a quarter duty at 10 kHz
	test.That(t, m.StartPWM(ctx, 4, 10_000, 1<<14), test.ShouldBeNil)

	cfg := port.PWM.Config(pwm.Ch2)
	test.That(t, cfg.Enabled, test.ShouldBeTrue)
	test.That(t, cfg.Top, test.ShouldEqual, uint16(12499))
	test.That(t, cfg.CompareA, test.ShouldEqual, uint16(3125))

	got, err := m.QueryChannel(ctx, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, ChannelConfig{
		Channel:  2,
		Flags:    FlagEnable,
		DivInt:   1,
		CompareA: 3125,
		Top:      12499,
	})

	test.That(t, m.StopPWM(ctx, 5), test.ShouldBeNil)
	test.That(t, port.PWM.Config(pwm.Ch2).Enabled, test.ShouldBeFalse)
}

func TestFirmwareErrors(t *testing.T) {
	m, port := newTestMCU(t)
	ctx := testContext(t)

	for _, tc := range []struct {
		name            string
		pin, freq, duty uint32
		reason          string
	}{
		{"zero frequency", 4, 0, 100, "bad_frequency"},
		{"above sysclk", 4, sim.DefaultSysclk + 1, 100, "bad_frequency"},
		{"duty above max", 4, 1000, 1<<16 + 1, "bad_duty"},
		{"pin out of range", 30, 1000, 100, "bad_pin"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := m.StartPWM(ctx, tc.pin, tc.freq, tc.duty)
			test.That(t, firmwareReason(t, err), test.ShouldEqual, tc.reason)
		})
	}
	test.That(t, port.PWM.Config(pwm.Ch2).Enabled, test.ShouldBeFalse)

	// the link is still usable after a rejected command
	test.That(t, m.StartPWM(ctx, 4, 1000, 100), test.ShouldBeNil)
}

func TestConfigureChannel(t *testing.T) {
	m, port := newTestMCU(t)
	ctx := testContext(t)

	want := ChannelConfig{
		Channel:  6,
		Flags:    FlagEnable | FlagPhaseCorrect | FlagInvertB,
		DivInt:   4,
		DivFrac:  8,
		CompareA: 100,
		CompareB: 200,
		Top:      999,
	}
	ignored, err := m.ConfigureChannel(ctx, want)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ignored, test.ShouldBeFalse)

	got, err := m.QueryChannel(ctx, 6)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, want)

	// a zero integer divider is unrepresentable; the old one stays
	bad := want
	bad.DivInt = 0
	ignored, err = m.ConfigureChannel(ctx, bad)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ignored, test.ShouldBeTrue)
	test.That(t, port.PWM.Config(pwm.Ch6).DivInt, test.ShouldEqual, uint8(4))

	_, err = m.ConfigureChannel(ctx, ChannelConfig{Channel: 8})
	test.That(t, firmwareReason(t, err), test.ShouldEqual, "bad_channel")
}

func TestMaskAndCounter(t *testing.T) {
	m, port := newTestMCU(t)
	ctx := testContext(t)

	test.That(t, m.SendLine(ctx, []string{"set_pwm_mask", "mask=0b101"}), test.ShouldBeNil)
	test.That(t, port.Bank.GetGlobal(pwm.RegEN), test.ShouldEqual, uint32(0b101))
	test.That(t, m.SetMask(ctx, 0), test.ShouldBeNil)

	test.That(t, m.SetCounter(ctx, 1, 777), test.ShouldBeNil)
	v, err := m.Counter(ctx, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, uint16(777))

	err = m.SendLine(ctx, []string{"set_pwm_mask", "bits=1"})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "missing mask")

	err = m.SendLine(ctx, []string{"pwm_fired", "channel=1", "count=1"})
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown command")
}

func TestPhaseHandshake(t *testing.T) {
	m, port := newTestMCU(t)
	ctx := testContext(t)

	// divider 2.0 lets an advance complete on a running slice
	_, err := m.ConfigureChannel(ctx, ChannelConfig{Channel: 0, Flags: FlagEnable, DivInt: 2, Top: 1000})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.SetCounter(ctx, 0, 10), test.ShouldBeNil)

	test.That(t, m.Phase(ctx, 0, true), test.ShouldBeNil)
	test.That(t, port.PWM.Counter(pwm.Ch0), test.ShouldEqual, uint16(11))
	test.That(t, m.Phase(ctx, 0, false), test.ShouldBeNil)
	test.That(t, port.PWM.Counter(pwm.Ch0), test.ShouldEqual, uint16(10))
}

func TestInterruptEvents(t *testing.T) {
	m, port := newTestMCU(t)
	ctx := testContext(t)

	var (
		mu     sync.Mutex
		events [][2]uint32
	)
	got := make(chan struct{}, 8)
	m.OnFired(func(ch uint8, count uint32) {
		mu.Lock()
		events = append(events, [2]uint32{uint32(ch), count})
		mu.Unlock()
		got <- struct{}{}
	})

	test.That(t, m.EnableIRQ(ctx, 3, true), test.ShouldBeNil)
	port.Bank.Wrap(pwm.Ch3)
	waitEvents(t, got, 1)

	// forcing fires even while masked
	test.That(t, m.ForceIRQ(ctx, 5), test.ShouldBeNil)
	waitEvents(t, got, 1)

	// a masked wrap stays latched; only the force is delivered
	test.That(t, m.EnableIRQ(ctx, 3, false), test.ShouldBeNil)
	port.Bank.Wrap(pwm.Ch3)
	test.That(t, m.ForceIRQ(ctx, 3), test.ShouldBeNil)
	waitEvents(t, got, 1)

	mu.Lock()
	defer mu.Unlock()
	test.That(t, events, test.ShouldResemble, [][2]uint32{{3, 1}, {5, 1}, {3, 2}})
}

func waitEvents(t *testing.T, got chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d of %d", i+1, n)
		}
	}
}

func TestMeasure(t *testing.T) {
	m, _ := newTestMCU(t)
	ctx := testContext(t)

	// an idle input counts no edges
	v, err := m.Measure(ctx, 3, MeasureFrequency, 2*time.Millisecond)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, uint32(0))

	// gpio2 is an A output and cannot gate the counter
	_, err = m.Measure(ctx, 2, MeasureFrequency, 2*time.Millisecond)
	test.That(t, firmwareReason(t, err), test.ShouldEqual, "not_input_pin")

	_, err = m.Measure(ctx, 3, MeasureDutyCycle, 20*time.Second)
	test.That(t, firmwareReason(t, err), test.ShouldEqual, "bad_gate")
}

func TestEmergencyStop(t *testing.T) {
	m, port := newTestMCU(t)
	ctx := testContext(t)

	shutdowns := make(chan Message, 1)
	m.OnResponse("shutdown", func(msg Message) { shutdowns <- msg })

	test.That(t, m.StartPWM(ctx, 0, 1000, 100), test.ShouldBeNil)
	test.That(t, m.Send(ctx, "emergency_stop"), test.ShouldBeNil)
	test.That(t, port.PWM.Config(pwm.Ch0).Enabled, test.ShouldBeFalse)

	select {
	case msg := <-shutdowns:
		test.That(t, string(msg.Bytes("reason")), test.ShouldEqual, "emergency stop")
	case <-time.After(2 * time.Second):
		t.Fatal("no shutdown message")
	}

	err := m.StartPWM(ctx, 0, 1000, 100)
	test.That(t, firmwareReason(t, err), test.ShouldEqual, "shutdown")
}

func TestStopAllAndClose(t *testing.T) {
	m, port := newTestMCU(t)
	ctx := testContext(t)

	test.That(t, m.StartPWM(ctx, 0, 1000, 100), test.ShouldBeNil)
	test.That(t, m.StartPWM(ctx, 15, 2000, 100), test.ShouldBeNil)
	test.That(t, m.Close(ctx, true), test.ShouldBeNil)

	for ch := pwm.Ch0; ch < pwm.NumChannels; ch++ {
		test.That(t, port.PWM.Config(ch).Enabled, test.ShouldBeFalse)
	}
	test.That(t, errors.Is(m.StopPWM(ctx, 0), ErrClosed), test.ShouldBeTrue)
}

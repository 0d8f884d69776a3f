package main

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"gopwm/host/mcu"
	"gopwm/pwm"
)

func parseUint(s, what string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "bad %s %q", what, s)
	}
	return uint32(v), nil
}

func parsePin(s string) (uint32, error) {
	pin, err := parseUint(strings.TrimPrefix(s, "gpio"), "gpio")
	if err != nil {
		return 0, err
	}
	if pin > pwm.MaxGPIO {
		return 0, errors.Errorf("gpio%d is above gpio%d", pin, pwm.MaxGPIO)
	}
	return pin, nil
}

func parseChannel(s string) (uint8, error) {
	ch, err := parseUint(strings.TrimPrefix(s, "ch"), "channel")
	if err != nil {
		return 0, err
	}
	if ch >= pwm.NumChannels {
		return 0, errors.Errorf("channel %d out of range 0-%d", ch, pwm.NumChannels-1)
	}
	return uint8(ch), nil
}

// parseDuty accepts a percentage ("12.5%") or a raw value out of maxDuty.
func parseDuty(s string, maxDuty uint32) (uint32, error) {
	if pct, ok := strings.CutSuffix(s, "%"); ok {
		v, err := strconv.ParseFloat(pct, 64)
		if err != nil || v < 0 || v > 100 {
			return 0, errors.Errorf("bad duty %q", s)
		}
		return uint32(math.Round(v / 100 * float64(maxDuty))), nil
	}
	v, err := parseUint(s, "duty")
	if err != nil {
		return 0, err
	}
	if v > maxDuty {
		return 0, errors.Errorf("duty %d above %d", v, maxDuty)
	}
	return v, nil
}

// parseDivider splits a divider into its 8.4 fixed-point parts, rounding
// to the nearest sixteenth.
func parseDivider(s string) (uint8, uint8, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "bad divider %q", s)
	}
	sixteenths := math.Round(v * 16)
	if sixteenths < 16 || sixteenths > 255*16+15 {
		return 0, 0, errors.Errorf("divider %s out of range 1-255.9375", s)
	}
	n := uint32(sixteenths)
	return uint8(n / 16), uint8(n % 16), nil
}

func parseDivMode(s string) (pwm.DivMode, error) {
	for m := pwm.DivFreeRunning; m <= pwm.DivBFalling; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, errors.Errorf("unknown divider mode %q", s)
}

// describePlan renders the registers Start would program.
func describePlan(freq, duty, sysclk uint32) (string, error) {
	plan, err := pwm.ComputeTopDivider(freq, sysclk)
	if err != nil {
		return "", err
	}
	cc, err := pwm.ComputeCompare(plan.Top, duty, pwm.MaxDutyCycle)
	if err != nil {
		return "", err
	}
	actual := float64(sysclk) / (float64(plan.Divider()) * (float64(plan.Top) + 1))
	return fmt.Sprintf("top=%d div=%d.%d (%.4f) cc=%d actual=%.3f Hz resolution=%d steps",
		plan.Top, plan.DivInt, plan.DivFrac, plan.Divider(), cc, actual, uint32(plan.Top)+1), nil
}

func formatParams(f *mcu.MessageFormat) string {
	var b strings.Builder
	b.WriteString(f.Name)
	for _, p := range f.Params {
		b.WriteString(" " + p.Name)
		switch p.Type {
		case mcu.ParamInt:
			b.WriteString("=int")
		case mcu.ParamBytes, mcu.ParamString:
			b.WriteString("=bytes")
		default:
			b.WriteString("=uint")
		}
	}
	return b.String()
}

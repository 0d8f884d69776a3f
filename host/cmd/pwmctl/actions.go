package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"gopwm/host/mcu"
	"gopwm/host/serial"
	"gopwm/host/sim"
	"gopwm/pwm"
)

func newLogger(c *cli.Context) (*zap.SugaredLogger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !c.Bool(flagVerbose) {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// withMCU connects, runs fn and disconnects. Channels are left running.
func withMCU(c *cli.Context, fn func(ctx context.Context, m *mcu.MCU) error) error {
	logger, err := newLogger(c)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	var m *mcu.MCU
	if c.Bool(flagSim) {
		port, err := sim.New(logger.Named("sim"), sim.WithTicks(uint32(c.Uint(flagTicks))))
		if err != nil {
			return err
		}
		m = mcu.New(port, logger.Named("mcu"))
	} else {
		cfg := serial.DefaultConfig(c.String(flagDevice))
		cfg.Baud = c.Int(flagBaud)
		m, err = mcu.Open(cfg, logger.Named("mcu"))
		if err != nil {
			return err
		}
	}

	connectCtx, cancel := context.WithTimeout(c.Context, c.Duration(flagTimeout))
	defer cancel()
	if err := m.Connect(connectCtx); err != nil {
		return multierr.Combine(errors.Wrap(err, "connect"), m.Close(c.Context, false))
	}

	ctx, cancelRun := context.WithTimeout(c.Context, c.Duration(flagTimeout))
	defer cancelRun()
	return multierr.Combine(fn(ctx, m), m.Close(c.Context, false))
}

// StartAction drives a pin.
func StartAction(c *cli.Context) error {
	if c.NArg() != 3 {
		return errors.New("start needs <gpio> <hz> <duty>")
	}
	pin, err := parsePin(c.Args().Get(0))
	if err != nil {
		return err
	}
	freq, err := parseUint(c.Args().Get(1), "frequency")
	if err != nil {
		return err
	}
	return withMCU(c, func(ctx context.Context, m *mcu.MCU) error {
		maxDuty, err := m.MaxDuty()
		if err != nil {
			return err
		}
		duty, err := parseDuty(c.Args().Get(2), maxDuty)
		if err != nil {
			return err
		}
		if err := m.StartPWM(ctx, pin, freq, duty); err != nil {
			return err
		}
		ch, sub := pwm.FromPin(pin)
		fmt.Fprintf(c.App.Writer, "gpio%d (%s%s): %d Hz, duty %d/%d\n", pin, ch, sub, freq, duty, maxDuty)
		return nil
	})
}

// StopAction stops one slice or all of them.
func StopAction(c *cli.Context) error {
	if c.Bool(flagAll) {
		return withMCU(c, func(ctx context.Context, m *mcu.MCU) error {
			return m.StopAll(ctx)
		})
	}
	if c.NArg() != 1 {
		return errors.New("stop needs <gpio> or --all")
	}
	pin, err := parsePin(c.Args().First())
	if err != nil {
		return err
	}
	return withMCU(c, func(ctx context.Context, m *mcu.MCU) error {
		return m.StopPWM(ctx, pin)
	})
}

// ConfigAction writes a raw slice configuration.
func ConfigAction(c *cli.Context) error {
	ch, err := channelArg(c)
	if err != nil {
		return err
	}
	divInt, divFrac, err := parseDivider(c.String(flagDiv))
	if err != nil {
		return err
	}
	mode, err := parseDivMode(c.String(flagDivMode))
	if err != nil {
		return err
	}
	for _, name := range []string{flagTop, flagCompareA, flagCompareB} {
		if c.Uint(name) > 0xFFFF {
			return errors.Errorf("--%s %d does not fit 16 bits", name, c.Uint(name))
		}
	}

	cfg := mcu.ChannelConfig{
		Channel:  ch,
		DivMode:  uint8(mode),
		DivInt:   divInt,
		DivFrac:  divFrac,
		CompareA: uint16(c.Uint(flagCompareA)),
		CompareB: uint16(c.Uint(flagCompareB)),
		Top:      uint16(c.Uint(flagTop)),
	}
	for flag, bit := range map[string]uint8{
		flagEnable:       mcu.FlagEnable,
		flagPhaseCorrect: mcu.FlagPhaseCorrect,
		flagInvertA:      mcu.FlagInvertA,
		flagInvertB:      mcu.FlagInvertB,
	} {
		if c.Bool(flag) {
			cfg.Flags |= bit
		}
	}

	return withMCU(c, func(ctx context.Context, m *mcu.MCU) error {
		ignored, err := m.ConfigureChannel(ctx, cfg)
		if err != nil {
			return err
		}
		if ignored {
			fmt.Fprintf(c.App.Writer, "ch%d: divider %s ignored, previous divider kept\n", ch, c.String(flagDiv))
		}
		return nil
	})
}

// QueryAction prints a slice configuration.
func QueryAction(c *cli.Context) error {
	ch, err := channelArg(c)
	if err != nil {
		return err
	}
	return withMCU(c, func(ctx context.Context, m *mcu.MCU) error {
		cfg, err := m.QueryChannel(ctx, ch)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, cfg)
		return nil
	})
}

// MaskAction enables the slices of a bit mask.
func MaskAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("mask needs <mask>")
	}
	mask, err := parseUint(c.Args().First(), "mask")
	if err != nil {
		return err
	}
	if mask > 0xFF {
		return errors.Errorf("mask %#x has more than 8 bits", mask)
	}
	return withMCU(c, func(ctx context.Context, m *mcu.MCU) error {
		return m.SetMask(ctx, uint8(mask))
	})
}

// CounterAction reads or writes a counter.
func CounterAction(c *cli.Context) error {
	ch, err := channelArg(c)
	if err != nil {
		return err
	}
	set := c.Int(flagSet)
	if set > 0xFFFF {
		return errors.Errorf("counter value %d does not fit 16 bits", set)
	}
	return withMCU(c, func(ctx context.Context, m *mcu.MCU) error {
		if set >= 0 {
			return m.SetCounter(ctx, ch, uint16(set))
		}
		v, err := m.Counter(ctx, ch)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "ch%d counter %d\n", ch, v)
		return nil
	})
}

// PhaseAction nudges a running counter.
func PhaseAction(c *cli.Context) error {
	ch, err := channelArg(c)
	if err != nil {
		return err
	}
	return withMCU(c, func(ctx context.Context, m *mcu.MCU) error {
		return m.Phase(ctx, ch, !c.Bool(flagRetard))
	})
}

// IRQAction configures a wrap interrupt and prints events for --watch.
func IRQAction(c *cli.Context) error {
	ch, err := channelArg(c)
	if err != nil {
		return err
	}
	return withMCU(c, func(ctx context.Context, m *mcu.MCU) error {
		m.OnFired(func(fired uint8, count uint32) {
			fmt.Fprintf(c.App.Writer, "ch%d fired (%d)\n", fired, count)
		})
		if err := m.EnableIRQ(ctx, ch, !c.Bool(flagDisable)); err != nil {
			return err
		}
		if c.Bool(flagForce) {
			if err := m.ForceIRQ(ctx, ch); err != nil {
				return err
			}
		}
		select {
		case <-time.After(c.Duration(flagWatch)):
		case <-c.Context.Done():
		}
		return nil
	})
}

// MeasureAction samples a B pin.
func MeasureAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("measure needs <gpio>")
	}
	pin, err := parsePin(c.Args().First())
	if err != nil {
		return err
	}
	var mode uint8
	switch c.String(flagMode) {
	case "freq":
		mode = mcu.MeasureFrequency
	case "duty":
		mode = mcu.MeasureDutyCycle
	default:
		return errors.Errorf("unknown measure mode %q", c.String(flagMode))
	}
	gate := c.Duration(flagGate)

	return withMCU(c, func(ctx context.Context, m *mcu.MCU) error {
		// the firmware answers after the gate closes
		ctx, cancel := context.WithTimeout(c.Context, gate+c.Duration(flagTimeout))
		defer cancel()
		v, err := m.Measure(ctx, pin, mode, gate)
		if err != nil {
			return err
		}
		if mode == mcu.MeasureFrequency {
			fmt.Fprintf(c.App.Writer, "gpio%d: %d Hz\n", pin, v)
			return nil
		}
		maxDuty, err := m.MaxDuty()
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "gpio%d: duty %d/%d (%.2f%%)\n", pin, v, maxDuty, 100*float64(v)/float64(maxDuty))
		return nil
	})
}

// DictAction prints the dictionary.
func DictAction(c *cli.Context) error {
	return withMCU(c, func(ctx context.Context, m *mcu.MCU) error {
		if c.Bool(flagRaw) {
			_, err := c.App.Writer.Write(m.RawDictionary())
			return err
		}
		d := m.Dictionary()
		fmt.Fprintf(c.App.Writer, "version %s (%s)\n", d.Version, d.BuildVersions)

		keys := make([]string, 0, len(d.Config))
		for k := range d.Config {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(c.App.Writer, "  %s = %s\n", k, d.Config[k])
		}
		for _, responses := range []bool{false, true} {
			for _, name := range d.Names(responses) {
				f, _ := d.Lookup(name)
				kind := "command"
				if f.Response {
					kind = "response"
				}
				fmt.Fprintf(c.App.Writer, "  %-8s %3d %s\n", kind, f.ID, formatParams(f))
			}
		}
		if len(d.Enumerations) > 0 {
			enc := json.NewEncoder(c.App.Writer)
			enc.SetIndent("  ", "  ")
			return enc.Encode(d.Enumerations)
		}
		return nil
	})
}

// PlanAction shows the registers Start would write.
func PlanAction(c *cli.Context) error {
	if c.NArg() < 1 || c.NArg() > 2 {
		return errors.New("plan needs <hz> [duty]")
	}
	freq, err := parseUint(c.Args().Get(0), "frequency")
	if err != nil {
		return err
	}
	sysclk := c.Uint(flagSysclk)
	if sysclk == 0 || sysclk > 0xFFFFFFFF {
		return errors.Errorf("system clock %d out of range", sysclk)
	}
	duty := uint32(pwm.MaxDutyCycle / 2)
	if c.NArg() == 2 {
		if duty, err = parseDuty(c.Args().Get(1), pwm.MaxDutyCycle); err != nil {
			return err
		}
	}
	out, err := describePlan(freq, duty, uint32(sysclk))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, out)
	return nil
}

func channelArg(c *cli.Context) (uint8, error) {
	if c.NArg() != 1 {
		return 0, errors.Errorf("%s needs <channel>", c.Command.Name)
	}
	return parseChannel(c.Args().First())
}

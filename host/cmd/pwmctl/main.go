// Command pwmctl drives the PWM firmware over USB serial, or a simulated
// firmware in-process.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
)

const (
	flagDevice  = "device"
	flagBaud    = "baud"
	flagTimeout = "timeout"
	flagVerbose = "verbose"
	flagSim     = "sim"
	flagTicks   = "sim-ticks"

	flagAll          = "all"
	flagTop          = "top"
	flagDiv          = "div"
	flagDivMode      = "divmode"
	flagCompareA     = "cc-a"
	flagCompareB     = "cc-b"
	flagEnable       = "enable"
	flagPhaseCorrect = "phase-correct"
	flagInvertA      = "invert-a"
	flagInvertB      = "invert-b"
	flagSet          = "set"
	flagRetard       = "retard"
	flagDisable      = "disable"
	flagForce        = "force"
	flagWatch        = "watch"
	flagMode         = "mode"
	flagGate         = "gate"
	flagRaw          = "raw"
	flagSysclk       = "sysclk"
)

func main() {
	app := &cli.App{
		Name:            "pwmctl",
		Usage:           "control the PWM slices of an RP2040 running the PWM firmware",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagDevice,
				Aliases: []string{"d"},
				Value:   "/dev/ttyACM0",
				EnvVars: []string{"PWMCTL_DEVICE"},
				Usage:   "serial `DEVICE` of the firmware",
			},
			&cli.IntFlag{
				Name:    flagBaud,
				Value:   250000,
				EnvVars: []string{"PWMCTL_BAUD"},
				Usage:   "baud rate; ignored by USB CDC",
			},
			&cli.DurationFlag{
				Name:  flagTimeout,
				Value: 5 * time.Second,
				Usage: "deadline for connecting and for each command",
			},
			&cli.BoolFlag{
				Name:    flagVerbose,
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
			&cli.BoolFlag{
				Name:  flagSim,
				Usage: "talk to a simulated firmware instead of a device",
			},
			&cli.UintFlag{
				Name:  flagTicks,
				Usage: "counts per millisecond the simulated slices advance",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "start",
				Usage:     "drive a pin at a frequency and duty cycle",
				ArgsUsage: "<gpio> <hz> <duty>",
				Description: "duty is a percentage such as 25% or a raw value out of the\n" +
					"firmware's PWM_MAX_DUTY",
				Action: StartAction,
			},
			{
				Name:      "stop",
				Usage:     "stop the slice behind a pin",
				ArgsUsage: "<gpio>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: flagAll, Usage: "stop every slice"},
				},
				Action: StopAction,
			},
			{
				Name:      "config",
				Usage:     "write a raw slice configuration",
				ArgsUsage: "<channel>",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: flagTop, Value: 0xFFFF, Usage: "counter wrap value"},
					&cli.StringFlag{Name: flagDiv, Value: "1", Usage: "clock divider, 1 to 255.9375"},
					&cli.StringFlag{Name: flagDivMode, Value: "free-running",
						Usage: "free-running, b-high, b-rising or b-falling"},
					&cli.UintFlag{Name: flagCompareA, Usage: "compare value of output A"},
					&cli.UintFlag{Name: flagCompareB, Usage: "compare value of output B"},
					&cli.BoolFlag{Name: flagEnable, Usage: "start the slice"},
					&cli.BoolFlag{Name: flagPhaseCorrect, Usage: "count up and down"},
					&cli.BoolFlag{Name: flagInvertA, Usage: "invert output A"},
					&cli.BoolFlag{Name: flagInvertB, Usage: "invert output B"},
				},
				Action: ConfigAction,
			},
			{
				Name:      "query",
				Usage:     "print a slice configuration",
				ArgsUsage: "<channel>",
				Action:    QueryAction,
			},
			{
				Name:      "mask",
				Usage:     "enable exactly the slices in a bit mask",
				ArgsUsage: "<mask>",
				Action:    MaskAction,
			},
			{
				Name:      "counter",
				Usage:     "read or write a slice counter",
				ArgsUsage: "<channel>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: flagSet, Value: -1, Usage: "write `VALUE` instead of reading"},
				},
				Action: CounterAction,
			},
			{
				Name:      "phase",
				Usage:     "advance a running slice by one count",
				ArgsUsage: "<channel>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: flagRetard, Usage: "retard instead of advancing"},
				},
				Action: PhaseAction,
			},
			{
				Name:      "irq",
				Usage:     "enable a slice's wrap interrupt and print what fires",
				ArgsUsage: "<channel>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: flagDisable, Usage: "mask the interrupt instead"},
					&cli.BoolFlag{Name: flagForce, Usage: "raise the interrupt once from software"},
					&cli.DurationFlag{Name: flagWatch, Value: time.Second, Usage: "how long to print events"},
				},
				Action: IRQAction,
			},
			{
				Name:      "measure",
				Usage:     "measure the frequency or duty cycle on a B pin",
				ArgsUsage: "<gpio>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagMode, Value: "freq", Usage: "freq or duty"},
					&cli.DurationFlag{Name: flagGate, Value: 100 * time.Millisecond, Usage: "sampling window"},
				},
				Action: MeasureAction,
			},
			{
				Name:  "dict",
				Usage: "print the firmware's data dictionary",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: flagRaw, Usage: "dump the dictionary as downloaded"},
				},
				Action: DictAction,
			},
			{
				Name:   "shell",
				Usage:  "send dictionary commands interactively",
				Action: ShellAction,
			},
			{
				Name:      "plan",
				Usage:     "print the registers for a frequency and duty without a device",
				ArgsUsage: "<hz> [duty]",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: flagSysclk, Value: 125_000_000, Usage: "system clock in Hz"},
				},
				Action: PlanAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "pwmctl:", err)
		os.Exit(1)
	}
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/google/shlex"
	"github.com/urfave/cli/v2"

	"gopwm/host/mcu"
)

const shellHelp = `commands are sent by dictionary name with key=value arguments:
  start_pwm pin=4 freq=1000 duty=32768
  query_pwm_channel channel=2
"help" lists the firmware's commands, "quit" leaves.`

// ShellAction reads dictionary commands from stdin and prints every
// message the firmware sends.
func ShellAction(c *cli.Context) error {
	return withMCU(c, func(_ context.Context, m *mcu.MCU) error {
		d := m.Dictionary()
		for _, name := range d.Names(true) {
			m.OnResponse(name, func(msg mcu.Message) {
				fmt.Fprintln(c.App.Writer, "<", msg)
			})
		}

		fmt.Fprintln(c.App.Writer, shellHelp)
		in := bufio.NewScanner(c.App.Reader)
		for {
			fmt.Fprint(c.App.Writer, "> ")
			if !in.Scan() {
				return in.Err()
			}
			words, err := shlex.Split(in.Text())
			if err != nil {
				fmt.Fprintln(c.App.ErrWriter, "error:", err)
				continue
			}
			if len(words) == 0 {
				continue
			}
			switch strings.ToLower(words[0]) {
			case "quit", "exit":
				return nil
			case "help", "?":
				for _, name := range d.Names(false) {
					f, _ := d.Lookup(name)
					fmt.Fprintln(c.App.Writer, " ", formatParams(f))
				}
				continue
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration(flagTimeout))
			err = m.SendLine(ctx, words)
			cancel()
			if err != nil {
				fmt.Fprintln(c.App.ErrWriter, "error:", err)
			}
		}
	})
}

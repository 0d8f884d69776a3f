package core

import "errors"

var (
	// ErrNotShutdown is returned by commands only valid after a shutdown.
	ErrNotShutdown = errors.New("command only valid in shutdown state")

	// ErrShutdown is returned by commands rejected after a shutdown.
	ErrShutdown = errors.New("firmware is shut down")

	// ErrBadChannel is returned for a channel number outside 0-7.
	ErrBadChannel = errors.New("invalid pwm channel")

	// ErrBadPin is returned for a GPIO number without a PWM function.
	ErrBadPin = errors.New("invalid pwm pin")
)

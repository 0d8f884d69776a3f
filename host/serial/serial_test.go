package serial

import (
	"errors"
	"testing"

	"go.viam.com/test"
)

func TestConfigValidate(t *testing.T) {
	cfg := &Config{Device: "/dev/ttyACM0"}
	test.That(t, cfg.Validate(), test.ShouldBeNil)
	test.That(t, cfg.Baud, test.ShouldEqual, DefaultBaud)
	test.That(t, cfg.ReadTimeout, test.ShouldEqual, DefaultReadTimeout)

	test.That(t, errors.Is((&Config{}).Validate(), ErrNoDevice), test.ShouldBeTrue)
}

func TestOpenRequiresDevice(t *testing.T) {
	_, err := Open(nil)
	test.That(t, errors.Is(err, ErrNoDevice), test.ShouldBeTrue)
	_, err = Open(&Config{})
	test.That(t, errors.Is(err, ErrNoDevice), test.ShouldBeTrue)
}

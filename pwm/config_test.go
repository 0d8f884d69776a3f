package pwm

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultChannelConfig(t *testing.T) {
	want := ChannelConfig{DivInt: 1, Top: 0xFFFF}
	if diff := cmp.Diff(want, DefaultChannelConfig()); diff != "" {
		t.Errorf("DefaultChannelConfig mismatch (-want +got):\n%s", diff)
	}
}

func TestChannelConfigSetDivider(t *testing.T) {
	c := DefaultChannelConfig()

	if s := c.SetDivider(2, 8); s != DividerApplied {
		t.Errorf("Expected 2.8 to be applied, got %s", s)
	}
	if c.Divider() != 2.5 {
		t.Errorf("Expected divider 2.5, got %v", c.Divider())
	}

	tests := []struct {
		integer, frac uint8
	}{
		{0, 0},
		{0, 5},
		{3, 16},
		{255, 255},
	}
	for _, tt := range tests {
		if s := c.SetDivider(tt.integer, tt.frac); s != DividerIgnored {
			t.Errorf("SetDivider(%d, %d): expected ignored, got %s", tt.integer, tt.frac, s)
		}
		if c.DivInt != 2 || c.DivFrac != 8 {
			t.Errorf("SetDivider(%d, %d) changed the staged divider to %d.%d", tt.integer, tt.frac, c.DivInt, c.DivFrac)
		}
	}

	if s := c.SetDivider(255, 15); s != DividerApplied {
		t.Errorf("Expected 255.15 to be applied, got %s", s)
	}
}

func TestChannelConfigSetters(t *testing.T) {
	c := DefaultChannelConfig()
	c.SetInvertPolarity(true, false)
	c.SetCompareValues(10, 20)

	want := ChannelConfig{InvertA: true, DivInt: 1, CompareA: 10, CompareB: 20, Top: 0xFFFF}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestDivModeString(t *testing.T) {
	names := map[DivMode]string{
		DivFreeRunning: "free-running",
		DivBHigh:       "b-high",
		DivBRising:     "b-rising",
		DivBFalling:    "b-falling",
		DivMode(4):     "invalid",
	}
	for m, want := range names {
		if m.String() != want {
			t.Errorf("Expected '%s', got '%s'", want, m.String())
		}
	}
}

package pwm

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFromPin(t *testing.T) {
	tests := []struct {
		pin uint32
		ch  ChannelNumber
		sub ChannelPin
	}{
		{0, Ch0, PinA},
		{1, Ch0, PinB},
		{4, Ch2, PinA},
		{5, Ch2, PinB},
		{14, Ch7, PinA},
		{15, Ch7, PinB},
		{16, Ch0, PinA},
		{17, Ch0, PinB},
		{25, Ch4, PinB},
		{28, Ch6, PinA},
		{29, Ch6, PinB},
	}

	for _, tt := range tests {
		ch, sub := FromPin(tt.pin)
		if ch != tt.ch || sub != tt.sub {
			t.Errorf("FromPin(%d): expected %s%s, got %s%s", tt.pin, tt.ch, tt.sub, ch, sub)
		}
	}
}

func TestPinForRoundTrip(t *testing.T) {
	for ch := Ch0; ch < NumChannels; ch++ {
		for _, sub := range []ChannelPin{PinA, PinB} {
			pin := PinFor(ch, sub)
			gotCh, gotSub := FromPin(pin)
			if gotCh != ch || gotSub != sub {
				t.Errorf("PinFor(%s, %s) = %d maps back to %s%s", ch, sub, pin, gotCh, gotSub)
			}
			if pin > 15 {
				t.Errorf("PinFor(%s, %s) = %d, expected the first bank", ch, sub, pin)
			}
		}
	}
}

func TestAliases(t *testing.T) {
	if diff := cmp.Diff([]uint32{4, 20}, Aliases(Ch2, PinA, MaxGPIO)); diff != "" {
		t.Errorf("Aliases(ch2, A) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint32{15}, Aliases(Ch7, PinB, MaxGPIO)); diff != "" {
		t.Errorf("Aliases(ch7, B) mismatch (-want +got):\n%s", diff)
	}
	if got := Aliases(Ch7, PinB, 10); got != nil {
		t.Errorf("Expected no alias below pin 15, got %v", got)
	}
}

func TestChannelNumberString(t *testing.T) {
	if Ch3.String() != "ch3" {
		t.Errorf("Expected 'ch3', got '%s'", Ch3.String())
	}
	if !Ch7.Valid() || ChannelNumber(8).Valid() {
		t.Error("Valid() should accept ch0..ch7 only")
	}
}

package protocol

import (
	"bytes"
	"testing"
)

func TestVLQKnownEncodings(t *testing.T) {
	tests := []struct {
		v    int32
		want []byte
	}{
		{0, []byte{0x00}},
		{95, []byte{0x5F}},
		{96, []byte{0x80, 0x60}},
		{-1, []byte{0x7F}},
		{-32, []byte{0x60}},
		{-33, []byte{0xFF, 0x5F}},
		{1000, []byte{0x87, 0x68}},
	}

	for _, tt := range tests {
		got := AppendVLQInt(nil, tt.v)
		if !bytes.Equal(got, tt.want) {
			t.Errorf("AppendVLQInt(%d): expected % x, got % x", tt.v, tt.want, got)
		}
	}
}

func TestVLQRoundTrip(t *testing.T) {
	values := []int32{
		0, 1, -1, 95, 96, -32, -33,
		1000, -1000, 65535, -65535,
		1 << 20, 125_000_000, -1 << 31, 1<<31 - 1,
	}

	for _, v := range values {
		out := NewScratchOutput()
		EncodeVLQInt(out, v)
		data := out.Result()
		if len(data) > 5 {
			t.Errorf("%d encoded in %d bytes", v, len(data))
		}

		got, err := DecodeVLQInt(&data)
		if err != nil {
			t.Errorf("DecodeVLQInt(%d) failed: %v", v, err)
			continue
		}
		if got != v {
			t.Errorf("Expected %d, got %d", v, got)
		}
		if len(data) != 0 {
			t.Errorf("%d: %d bytes left over", v, len(data))
		}
	}
}

func TestVLQUintFullRange(t *testing.T) {
	for _, v := range []uint32{0, 65536, 125_000_000, 0xFFFFFFFF} {
		data := AppendVLQUint(nil, v)
		got, err := DecodeVLQUint(&data)
		if err != nil || got != v {
			t.Errorf("Expected %d, got %d (%v)", v, got, err)
		}
	}
}

func TestVLQSequence(t *testing.T) {
	out := NewScratchOutput()
	EncodeVLQUint(out, 7)
	EncodeVLQString(out, "gpio4")
	EncodeVLQBytes(out, []byte{1, 2, 3})
	EncodeVLQInt(out, -500)

	data := out.Result()
	if v, _ := DecodeVLQUint(&data); v != 7 {
		t.Errorf("Expected 7, got %d", v)
	}
	if s, _ := DecodeVLQString(&data); s != "gpio4" {
		t.Errorf("Expected 'gpio4', got '%s'", s)
	}
	if b, _ := DecodeVLQBytes(&data); !bytes.Equal(b, []byte{1, 2, 3}) {
		t.Errorf("Expected [1 2 3], got %v", b)
	}
	if v, _ := DecodeVLQInt(&data); v != -500 {
		t.Errorf("Expected -500, got %d", v)
	}
	if len(data) != 0 {
		t.Errorf("Expected all bytes consumed, %d left", len(data))
	}
}

func TestVLQErrors(t *testing.T) {
	data := []byte{0x80}
	if _, err := DecodeVLQInt(&data); err != ErrBufferTooSmall {
		t.Errorf("Expected ErrBufferTooSmall, got %v", err)
	}
	if len(data) != 1 {
		t.Error("Failed decode should not consume input")
	}

	data = []byte{0x81, 0x81, 0x81, 0x81, 0x81, 0x01}
	if _, err := DecodeVLQInt(&data); err != ErrInvalidVLQ {
		t.Errorf("Expected ErrInvalidVLQ, got %v", err)
	}

	data = []byte{0x05, 'a'}
	if _, err := DecodeVLQBytes(&data); err != ErrBufferTooSmall {
		t.Errorf("Expected ErrBufferTooSmall for a short string, got %v", err)
	}

	data = nil
	if _, err := DecodeVLQUint(&data); err != ErrBufferTooSmall {
		t.Errorf("Expected ErrBufferTooSmall for empty input, got %v", err)
	}
}

//go:build !tinygo

package protocol

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"go.viam.com/test"
)

// firmwarePort connects a HostTransport to an in-process Transport.
// Writes run the firmware side synchronously; its output flows back through
// a pipe.
type firmwarePort struct {
	mu     sync.Mutex
	fifo   *FifoBuffer
	out    *ScratchOutput
	fw     *Transport
	toHost *io.PipeWriter
	reader *io.PipeReader

	// dropWrites discards this many host writes before delivering any
	dropWrites int
}

func newFirmwarePort(handler func(fw *Transport, id uint16, data *[]byte) error) *firmwarePort {
	r, w := io.Pipe()
	p := &firmwarePort{
		fifo:   NewFifoBuffer(256),
		out:    NewScratchOutput(),
		toHost: w,
		reader: r,
	}
	p.fw = NewTransport(p.out, func(id uint16, data *[]byte) error {
		return handler(p.fw, id, data)
	})
	return p
}

func (p *firmwarePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	if p.dropWrites > 0 {
		p.dropWrites--
		p.mu.Unlock()
		return len(b), nil
	}
	p.fifo.Write(b)
	p.fw.Receive(p.fifo)
	pending := append([]byte(nil), p.out.Result()...)
	p.out.Reset()
	p.mu.Unlock()

	if len(pending) > 0 {
		// the host may be gone already
		_, _ = p.toHost.Write(pending)
	}
	return len(b), nil
}

func (p *firmwarePort) Read(b []byte) (int, error) { return p.reader.Read(b) }

func (p *firmwarePort) Close() error {
	p.toHost.Close()
	return p.reader.Close()
}

func TestHostTransportRoundTrip(t *testing.T) {
	const (
		cmdPing = 3
		rspPong = 4
	)
	port := newFirmwarePort(func(fw *Transport, id uint16, data *[]byte) error {
		v, err := DecodeVLQUint(data)
		if err != nil {
			return err
		}
		fw.SendCommand(rspPong, func(o OutputBuffer) { EncodeVLQUint(o, v*2) })
		return nil
	})
	host := NewHostTransport(port, nil)
	defer host.Close()

	pongs := make(chan uint32, 4)
	host.SetResponseHandler(func(id uint16, data *[]byte) error {
		v, err := DecodeVLQUint(data)
		if err != nil {
			return err
		}
		if id == rspPong {
			pongs <- v
		}
		return nil
	})

	for i := uint32(1); i <= 20; i++ {
		err := host.Send(context.Background(), cmdPing, func(o OutputBuffer) { EncodeVLQUint(o, i) })
		test.That(t, err, test.ShouldBeNil)

		select {
		case v := <-pongs:
			test.That(t, v, test.ShouldEqual, i*2)
		case <-time.After(2 * time.Second):
			t.Fatalf("no response to ping %d", i)
		}
	}
	// 20 blocks wrap the 4-bit sequence
	test.That(t, host.Sequence(), test.ShouldEqual, uint8(DestBits|20&SeqMask))
}

func TestHostTransportRetransmit(t *testing.T) {
	var runs int
	port := newFirmwarePort(func(fw *Transport, id uint16, data *[]byte) error {
		runs++
		return nil
	})
	port.dropWrites = 1
	host := NewHostTransport(port, nil)
	host.AckTimeout = 50 * time.Millisecond
	defer host.Close()

	err := host.Send(context.Background(), 7, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, runs, test.ShouldEqual, 1)
	test.That(t, host.Sequence(), test.ShouldEqual, uint8(0x11))
}

func TestHostTransportNoAck(t *testing.T) {
	port := newFirmwarePort(func(fw *Transport, id uint16, data *[]byte) error { return nil })
	port.dropWrites = sendAttempts
	host := NewHostTransport(port, nil)
	host.AckTimeout = 20 * time.Millisecond
	defer host.Close()

	err := host.Send(context.Background(), 7, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "not acknowledged")
	test.That(t, host.Sequence(), test.ShouldEqual, uint8(DestBits))
}

func TestHostTransportCanceled(t *testing.T) {
	port := newFirmwarePort(func(fw *Transport, id uint16, data *[]byte) error { return nil })
	port.dropWrites = 1
	host := NewHostTransport(port, nil)
	defer host.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := host.Send(ctx, 7, nil)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
}

func TestHostTransportOversized(t *testing.T) {
	port := newFirmwarePort(func(fw *Transport, id uint16, data *[]byte) error { return nil })
	host := NewHostTransport(port, nil)
	defer host.Close()

	err := host.Send(context.Background(), 1, func(o OutputBuffer) {
		EncodeVLQBytes(o, make([]byte, BlockMax))
	})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "does not fit")
}

func TestHostTransportClose(t *testing.T) {
	port := newFirmwarePort(func(fw *Transport, id uint16, data *[]byte) error { return nil })
	host := NewHostTransport(port, nil)

	test.That(t, host.Close(), test.ShouldBeNil)
	test.That(t, host.Close(), test.ShouldBeNil)

	err := host.Send(context.Background(), 1, nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestHostTransportErrorsWhileReading(t *testing.T) {
	port := newFirmwarePort(func(fw *Transport, id uint16, data *[]byte) error { return nil })
	host := NewHostTransport(port, nil)
	defer host.Close()

	block, ok := AppendBlock(nil, DestBits, []byte{1, 2, 3})
	test.That(t, ok, test.ShouldBeTrue)
	block[HeaderSize] ^= 0xFF
	go func() { _, _ = port.toHost.Write(block) }()

	// Errors is polled from this goroutine while the reader updates it
	deadline := time.Now().Add(2 * time.Second)
	for host.Errors() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("corrupt block was not counted")
		}
		time.Sleep(time.Millisecond)
	}
	test.That(t, host.Errors(), test.ShouldEqual, uint32(1))
}

//go:build !tinygo

package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultAckTimeout bounds the wait for the firmware to ack a block.
const DefaultAckTimeout = 2 * time.Second

const sendAttempts = 3

var ErrTransportClosed = errors.New("transport closed")

// ResponseHandler receives one message from the firmware. It must consume
// exactly the arguments of cmdID from data.
type ResponseHandler func(cmdID uint16, data *[]byte) error

// HostTransport is the host end of the link. Send blocks until the firmware
// acks; responses are delivered to the ResponseHandler from a reader
// goroutine.
type HostTransport struct {
	port   io.ReadWriteCloser
	logger *zap.SugaredLogger

	sendMu sync.Mutex
	seq    uint8 // guarded by sendMu

	acks chan uint8
	scan scanner

	handlerMu sync.RWMutex
	handler   ResponseHandler

	AckTimeout time.Duration

	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewHostTransport starts reading from port. Close releases port.
func NewHostTransport(port io.ReadWriteCloser, logger *zap.SugaredLogger) *HostTransport {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	t := &HostTransport{
		port:       port,
		logger:     logger,
		seq:        DestBits,
		acks:       make(chan uint8, 4),
		AckTimeout: DefaultAckTimeout,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// SetResponseHandler replaces the handler for firmware messages.
func (t *HostTransport) SetResponseHandler(h ResponseHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.handler = h
}

// Send frames cmdID and its args into one block and waits for the ack.
// A nak or a lost ack causes a retransmit.
func (t *HostTransport) Send(ctx context.Context, cmdID uint16, args func(output OutputBuffer)) error {
	scratch := NewScratchOutput()
	EncodeVLQUint(scratch, uint32(cmdID))
	if args != nil {
		args(scratch)
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	block, ok := AppendBlock(nil, t.seq, scratch.Result())
	if !ok {
		return fmt.Errorf("command %d: %d byte payload does not fit a block", cmdID, len(scratch.Result()))
	}
	want := nextSeq(t.seq)

	var lastErr error
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		t.drainAcks()
		if _, err := t.port.Write(block); err != nil {
			return fmt.Errorf("failed to write command %d: %w", cmdID, err)
		}
		got, err := t.waitAck(ctx)
		if err != nil {
			if errors.Is(err, ErrTransportClosed) || ctx.Err() != nil {
				return err
			}
			lastErr = err
			t.logger.Debugw("ack missing, retransmitting", "cmd", cmdID, "attempt", attempt)
			continue
		}
		if got == want {
			t.seq = want
			return nil
		}
		lastErr = fmt.Errorf("nak: expected seq 0x%02x, got 0x%02x", want, got)
		t.logger.Debugw("nak", "cmd", cmdID, "want", want, "got", got)
	}
	return fmt.Errorf("command %d not acknowledged: %w", cmdID, lastErr)
}

func (t *HostTransport) drainAcks() {
	for {
		select {
		case <-t.acks:
		default:
			return
		}
	}
}

func (t *HostTransport) waitAck(ctx context.Context) (uint8, error) {
	timer := time.NewTimer(t.AckTimeout)
	defer timer.Stop()
	select {
	case seq := <-t.acks:
		return seq, nil
	case <-timer.C:
		return 0, fmt.Errorf("ack timeout after %v", t.AckTimeout)
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-t.stop:
		return 0, ErrTransportClosed
	}
}

func (t *HostTransport) readLoop() {
	defer close(t.done)
	var pending []byte
	buf := make([]byte, 256)
	for {
		n, err := t.port.Read(buf)
		select {
		case <-t.stop:
			return
		default:
		}
		if n > 0 {
			pending = append(pending, buf[:n]...)
			used := t.scan.scan(pending, t.handleBlock)
			pending = append(pending[:0], pending[used:]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return
			}
			t.logger.Warnw("serial read failed", "error", err)
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func (t *HostTransport) handleBlock(seq uint8, payload []byte) {
	if len(payload) == 0 {
		select {
		case t.acks <- seq:
		default:
			t.logger.Debugw("ack dropped", "seq", seq)
		}
		return
	}

	t.handlerMu.RLock()
	h := t.handler
	t.handlerMu.RUnlock()
	if h == nil {
		return
	}
	data := append([]byte(nil), payload...)
	for len(data) > 0 {
		id, err := DecodeVLQUint(&data)
		if err != nil {
			t.logger.Warnw("bad message id", "error", err)
			return
		}
		if err := h(uint16(id), &data); err != nil {
			t.logger.Warnw("response handler failed", "id", id, "error", err)
			return
		}
	}
}

// Sequence returns the sequence number of the next block.
func (t *HostTransport) Sequence() uint8 {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	return t.seq
}

// Errors is the number of corrupt blocks received.
func (t *HostTransport) Errors() uint32 {
	return t.scan.Errors.Load()
}

// Close stops the reader and closes the port.
func (t *HostTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stop)
		err = t.port.Close()
		<-t.done
	})
	return err
}

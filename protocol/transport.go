package protocol

import "sync/atomic"

// CommandHandler runs one received command. It decodes its own arguments
// from data, leaving the rest of the block for the next command.
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the firmware end of the link: it parses host blocks, acks
// them, dispatches their commands and frames responses.
type Transport struct {
	// sequence the host must send next; responses and acks carry it too
	expected atomic.Uint32

	scan          scanner
	output        OutputBuffer
	handler       CommandHandler
	resetCallback func()
	flushCallback func()
	lastErr       error
}

// NewTransport creates a Transport writing to output and dispatching to handler.
func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	t := &Transport{output: output, handler: handler}
	t.expected.Store(DestBits)
	t.scan.acceptSeq = func(seq uint8) bool { return seq&^SeqMask == DestBits }
	t.scan.onResync = t.sendAck
	return t
}

// Receive consumes every complete block in input.
func (t *Transport) Receive(input InputBuffer) {
	n := t.scan.scan(input.Data(), t.handleBlock)
	input.Pop(n)
}

func (t *Transport) handleBlock(seq uint8, payload []byte) {
	expected := uint8(t.expected.Load())
	if seq == DestBits && expected != DestBits {
		// host restarted its sequence
		expected = DestBits
		t.expected.Store(DestBits)
		if t.resetCallback != nil {
			t.resetCallback()
		}
	}
	if seq == expected {
		t.expected.Store(uint32(nextSeq(seq)))
		t.lastErr = t.dispatch(payload)
	}
	// a stale sequence gets the expected one back, which the host treats as a nak
	t.sendAck()
}

// dispatch runs every command in payload. A handler error abandons the rest
// of the block; a panic also drops synchronization.
func (t *Transport) dispatch(payload []byte) error {
	defer func() {
		if r := recover(); r != nil {
			t.scan.drop()
		}
	}()
	for len(payload) > 0 {
		id, err := DecodeVLQUint(&payload)
		if err != nil {
			t.scan.drop()
			return err
		}
		if t.handler == nil {
			continue
		}
		if err := t.handler(uint16(id), &payload); err != nil {
			return err
		}
	}
	return nil
}

// sendAck emits an empty block. Acks are flushed right away since the host
// waits for them before releasing the next command.
func (t *Transport) sendAck() {
	var buf [BlockMin]byte
	block, _ := AppendBlock(buf[:0], uint8(t.expected.Load()), nil)
	t.output.Output(block)
	if t.flushCallback != nil {
		t.flushCallback()
	}
}

// EncodeFrame frames whatever body writes as one block.
func (t *Transport) EncodeFrame(body func(output OutputBuffer)) {
	start := t.output.CurPosition()
	t.output.Output([]byte{0, uint8(t.expected.Load())})
	body(t.output)
	n := len(t.output.DataSince(start)) + TrailerSize
	t.output.Update(start+posLen, uint8(n))
	crc := CRC16(t.output.DataSince(start))
	t.output.Output([]byte{byte(crc >> 8), byte(crc), SyncByte})
}

// SendCommand frames a single message: cmdID followed by whatever args writes.
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) {
	t.EncodeFrame(func(output OutputBuffer) {
		EncodeVLQUint(output, uint32(cmdID))
		if args != nil {
			args(output)
		}
	})
}

// Reset returns to the power-on state, as after a reconnect.
func (t *Transport) Reset() {
	t.scan.reset()
	t.expected.Store(DestBits)
	if t.resetCallback != nil {
		t.resetCallback()
	}
}

// SetResetCallback registers fn to run when the host restarts its sequence.
func (t *Transport) SetResetCallback(fn func()) { t.resetCallback = fn }

// SetFlushCallback registers fn to push output to the wire after each ack.
func (t *Transport) SetFlushCallback(fn func()) { t.flushCallback = fn }

// Errors is the number of blocks dropped as corrupt.
func (t *Transport) Errors() uint32 { return t.scan.Errors.Load() }

// LastError is the error of the most recent block, nil if it ran cleanly.
func (t *Transport) LastError() error { return t.lastErr }

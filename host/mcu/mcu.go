// Package mcu is the host-side client of the PWM firmware: it downloads the
// data dictionary, encodes commands by name and routes firmware messages to
// callbacks.
package mcu

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"gopwm/host/serial"
	"gopwm/protocol"
)

// Bootstrap message IDs, valid before the dictionary is known.
const (
	identifyResponseID = 0
	identifyID         = 1

	identifyChunk = 40
	maxDictionary = 1 << 20
)

var (
	ErrNoDictionary = errors.New("dictionary not loaded")
	ErrClosed       = errors.New("mcu connection closed")
)

// Callback receives a firmware message on the transport's reader goroutine.
// It must not block or send commands.
type Callback func(Message)

// watcher is a short-lived callback run under the client lock.
type watcher struct {
	id   uint64
	name string
	fn   Callback
}

// waiter is a pending Query.
type waiter struct {
	names []string
	match func(Message) bool
	ch    chan Message
}

// MCU is a connection to one firmware instance.
type MCU struct {
	transport *protocol.HostTransport
	logger    *zap.SugaredLogger

	// cmdMu serializes commands so firmware errors can be attributed
	cmdMu sync.Mutex

	mu        sync.Mutex
	dict      *Dictionary
	raw       []byte
	callbacks map[string][]Callback
	waiters   []*waiter
	watchers  []watcher
	watchID   uint64
	identify  chan []byte
	cmdErr    *Message
	closed    bool
}

// New starts a client over port. Close closes port.
func New(port io.ReadWriteCloser, logger *zap.SugaredLogger) *MCU {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	m := &MCU{
		transport: protocol.NewHostTransport(port, logger.Named("transport")),
		logger:    logger,
		callbacks: make(map[string][]Callback),
		identify:  make(chan []byte, 1),
	}
	m.transport.SetResponseHandler(m.handleResponse)
	return m
}

// Open opens the serial device in cfg and starts a client over it.
func Open(cfg *serial.Config, logger *zap.SugaredLogger) (*MCU, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, err
	}
	return New(port, logger), nil
}

// Transport exposes the link, mainly for tuning its ack timeout.
func (m *MCU) Transport() *protocol.HostTransport {
	return m.transport
}

// Connect downloads and parses the dictionary.
func (m *MCU) Connect(ctx context.Context) error {
	var buf bytes.Buffer
	for offset := uint32(0); ; {
		chunk, err := m.identifyChunk(ctx, offset)
		if err != nil {
			return fmt.Errorf("failed to retrieve dictionary at offset %d: %w", offset, err)
		}
		buf.Write(chunk)
		offset += uint32(len(chunk))
		if len(chunk) < identifyChunk {
			break
		}
		if offset > maxDictionary {
			return fmt.Errorf("dictionary larger than %d bytes", maxDictionary)
		}
	}

	dict, err := ParseDictionary(buf.Bytes())
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.dict = dict
	m.raw = buf.Bytes()
	m.mu.Unlock()

	m.logger.Infow("connected", "version", dict.Version, "commands", len(dict.Commands),
		"responses", len(dict.Responses), "bytes", buf.Len())
	return nil
}

func (m *MCU) identifyChunk(ctx context.Context, offset uint32) ([]byte, error) {
	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()

	// drop a reply to an earlier, abandoned request
	select {
	case <-m.identify:
	default:
	}

	err := m.transport.Send(ctx, identifyID, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQUint(output, identifyChunk)
	})
	if err != nil {
		return nil, err
	}

	for {
		select {
		case payload := <-m.identify:
			data := payload
			got, err := protocol.DecodeVLQUint(&data)
			if err != nil {
				return nil, err
			}
			if got != offset {
				m.logger.Debugw("stale identify_response", "want", offset, "got", got)
				continue
			}
			return protocol.DecodeVLQBytes(&data)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Dictionary returns the parsed dictionary, or nil before Connect.
func (m *MCU) Dictionary() *Dictionary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dict
}

// RawDictionary returns the dictionary bytes as downloaded.
func (m *MCU) RawDictionary() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.raw
}

// OnResponse calls fn for every firmware message called name.
func (m *MCU) OnResponse(name string, fn Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks[name] = append(m.callbacks[name], fn)
}

func (m *MCU) handleResponse(cmdID uint16, data *[]byte) error {
	m.mu.Lock()
	dict := m.dict
	m.mu.Unlock()

	if dict == nil {
		if cmdID != identifyResponseID {
			return fmt.Errorf("message %d before the dictionary", cmdID)
		}
		// offset=%u data=%*s; hand the raw arguments to identifyChunk
		start := *data
		if _, err := protocol.DecodeVLQUint(data); err != nil {
			return err
		}
		if _, err := protocol.DecodeVLQBytes(data); err != nil {
			return err
		}
		payload := append([]byte(nil), start[:len(start)-len(*data)]...)
		select {
		case m.identify <- payload:
		default:
		}
		return nil
	}

	f, ok := dict.LookupID(cmdID)
	if !ok {
		return fmt.Errorf("unknown message id %d", cmdID)
	}
	msg, err := f.Decode(data)
	if err != nil {
		return err
	}
	m.dispatch(msg)
	return nil
}

func (m *MCU) dispatch(msg Message) {
	m.mu.Lock()
	if msg.Name == "pwm_error" {
		m.cmdErr = &msg
	}
	for _, w := range m.watchers {
		if w.name == msg.Name {
			w.fn(msg)
		}
	}
	callbacks := append([]Callback(nil), m.callbacks[msg.Name]...)
	var woken *waiter
	for i, w := range m.waiters {
		if w.wants(msg) {
			woken = w
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	m.logger.Debugw("message", "msg", msg.String())
	if woken != nil {
		woken.ch <- msg
	}
	for _, fn := range callbacks {
		fn(msg)
	}
}

func (w *waiter) wants(msg Message) bool {
	for _, n := range w.names {
		if n == msg.Name {
			return w.match == nil || w.match(msg)
		}
	}
	return false
}

// Send encodes the named command and waits for the firmware to accept it.
// A pwm_error raised while the command ran is returned as a *FirmwareError.
func (m *MCU) Send(ctx context.Context, name string, args ...interface{}) error {
	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()
	return m.sendLocked(ctx, name, args...)
}

func (m *MCU) sendLocked(ctx context.Context, name string, args ...interface{}) error {
	m.mu.Lock()
	dict, closed := m.dict, m.closed
	m.cmdErr = nil
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if dict == nil {
		return ErrNoDictionary
	}
	f, ok := dict.Lookup(name)
	if !ok || f.Response {
		return fmt.Errorf("unknown command: %s", name)
	}

	var encErr error
	err := m.transport.Send(ctx, f.ID, func(output protocol.OutputBuffer) {
		encErr = f.Encode(output, args...)
	})
	if encErr != nil {
		return encErr
	}
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	// responses precede the ack on the wire, so an error raised by this
	// command has already been dispatched
	m.mu.Lock()
	fwErr := m.cmdErr
	m.cmdErr = nil
	m.mu.Unlock()
	if fwErr != nil {
		return newFirmwareError(dict, name, fwErr.Uint("code"))
	}
	return nil
}

// SendLine parses "name key=value ..." words and sends the command.
func (m *MCU) SendLine(ctx context.Context, words []string) error {
	if len(words) == 0 {
		return errors.New("empty command")
	}
	dict := m.Dictionary()
	if dict == nil {
		return ErrNoDictionary
	}
	f, ok := dict.Lookup(words[0])
	if !ok || f.Response {
		return fmt.Errorf("unknown command: %s", words[0])
	}
	args, err := f.ParseArgs(words[1:])
	if err != nil {
		return err
	}
	return m.Send(ctx, words[0], args...)
}

// Query sends a command and returns the first message named in responses
// that satisfies match. match may be nil.
func (m *MCU) Query(ctx context.Context, responses []string, match func(Message) bool, name string, args ...interface{}) (Message, error) {
	w := &waiter{names: responses, match: match, ch: make(chan Message, 1)}

	m.cmdMu.Lock()
	m.mu.Lock()
	m.waiters = append(m.waiters, w)
	m.mu.Unlock()
	err := m.sendLocked(ctx, name, args...)
	m.cmdMu.Unlock()

	if err != nil {
		m.dropWaiter(w)
		return Message{}, err
	}
	select {
	case msg := <-w.ch:
		return msg, nil
	case <-ctx.Done():
		m.dropWaiter(w)
		return Message{}, ctx.Err()
	}
}

func (m *MCU) dropWaiter(w *waiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, x := range m.waiters {
		if x == w {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			return
		}
	}
}

// Close stops every PWM channel when stopAll is set, then closes the link.
func (m *MCU) Close(ctx context.Context, stopAll bool) error {
	var err error
	if stopAll && m.Dictionary() != nil {
		err = multierr.Append(err, m.StopAll(ctx))
	}
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return multierr.Append(err, m.transport.Close())
}

// FirmwareError is a pwm_error reported for a command.
type FirmwareError struct {
	Command string
	Code    uint32
	Reason  string
}

func newFirmwareError(dict *Dictionary, command string, code uint32) *FirmwareError {
	reason, ok := dict.EnumName("pwm_error_code", code)
	if !ok {
		reason = fmt.Sprintf("code %d", code)
	}
	return &FirmwareError{Command: command, Code: code, Reason: reason}
}

func (e *FirmwareError) Error() string {
	return fmt.Sprintf("%s: firmware error %s", e.Command, e.Reason)
}

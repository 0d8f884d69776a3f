package mcu

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"gopwm/protocol"
)

// Dictionary is the parsed data dictionary of a firmware build.
type Dictionary struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]string         `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]int `json:"enumerations,omitempty"`

	byName map[string]*MessageFormat
	byID   map[uint16]*MessageFormat
}

// ParamType is the wire encoding of one message parameter.
type ParamType uint8

const (
	ParamUint   ParamType = iota // %c %u %hu
	ParamInt                     // %i %hi
	ParamBytes                   // %*s %.*s
	ParamString                  // %s
)

// Param is one named parameter of a message.
type Param struct {
	Name string
	Type ParamType
}

// MessageFormat describes a command or response.
type MessageFormat struct {
	ID       uint16
	Name     string
	Params   []Param
	Response bool
}

// ParseDictionary decodes a dictionary as served by identify, zlib
// compressed or plain JSON.
func ParseDictionary(data []byte) (*Dictionary, error) {
	if len(data) >= 2 && data[0] == 0x78 {
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to open compressed dictionary: %w", err)
		}
		plain, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress dictionary: %w", err)
		}
		data = plain
	}

	d := &Dictionary{}
	if err := json.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dictionary: %w", err)
	}
	d.byName = make(map[string]*MessageFormat)
	d.byID = make(map[uint16]*MessageFormat)

	add := func(entries map[string]int, response bool) error {
		for sig, id := range entries {
			f, err := parseFormat(sig)
			if err != nil {
				return err
			}
			f.ID = uint16(id)
			f.Response = response
			d.byName[f.Name] = f
			d.byID[f.ID] = f
		}
		return nil
	}
	if err := add(d.Commands, false); err != nil {
		return nil, err
	}
	if err := add(d.Responses, true); err != nil {
		return nil, err
	}
	return d, nil
}

// parseFormat splits "name a=%c b=%u" into a MessageFormat.
func parseFormat(sig string) (*MessageFormat, error) {
	fields := strings.Fields(sig)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty message format")
	}
	f := &MessageFormat{Name: fields[0]}
	for _, field := range fields[1:] {
		name, verb, ok := strings.Cut(field, "=")
		if !ok {
			return nil, fmt.Errorf("%s: malformed parameter %q", f.Name, field)
		}
		var typ ParamType
		switch verb {
		case "%c", "%u", "%hu":
			typ = ParamUint
		case "%i", "%hi":
			typ = ParamInt
		case "%*s", "%.*s":
			typ = ParamBytes
		case "%s":
			typ = ParamString
		default:
			return nil, fmt.Errorf("%s: unknown parameter type %q", f.Name, verb)
		}
		f.Params = append(f.Params, Param{Name: name, Type: typ})
	}
	return f, nil
}

// Lookup returns the format of a command or response by name.
func (d *Dictionary) Lookup(name string) (*MessageFormat, bool) {
	f, ok := d.byName[name]
	return f, ok
}

// LookupID returns the format of a message by ID.
func (d *Dictionary) LookupID(id uint16) (*MessageFormat, bool) {
	f, ok := d.byID[id]
	return f, ok
}

// ConfigUint returns a numeric config constant.
func (d *Dictionary) ConfigUint(name string) (uint32, error) {
	s, ok := d.Config[name]
	if !ok {
		return 0, fmt.Errorf("constant %s not in dictionary", name)
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("constant %s: %w", name, err)
	}
	return uint32(v), nil
}

// EnumName returns the name of value in enumeration enum.
func (d *Dictionary) EnumName(enum string, value uint32) (string, bool) {
	for name, v := range d.Enumerations[enum] {
		if uint32(v) == value {
			return name, true
		}
	}
	return "", false
}

// Names returns every command (or response) name, sorted.
func (d *Dictionary) Names(responses bool) []string {
	var out []string
	for name, f := range d.byName {
		if f.Response == responses {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Message is a decoded firmware message.
type Message struct {
	Name   string
	Fields map[string]interface{}
}

// Uint returns a numeric field, or 0 if absent.
func (m Message) Uint(name string) uint32 {
	switch v := m.Fields[name].(type) {
	case uint32:
		return v
	case int32:
		return uint32(v)
	}
	return 0
}

// Bytes returns a byte-string field.
func (m Message) Bytes(name string) []byte {
	switch v := m.Fields[name].(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	}
	return nil
}

// String renders the message in the dictionary's own syntax.
func (m Message) String() string {
	keys := make([]string, 0, len(m.Fields))
	for k := range m.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(m.Name)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, m.Fields[k])
	}
	return b.String()
}

// Decode reads the arguments of f from data.
func (f *MessageFormat) Decode(data *[]byte) (Message, error) {
	msg := Message{Name: f.Name, Fields: make(map[string]interface{}, len(f.Params))}
	for _, p := range f.Params {
		var (
			v   interface{}
			err error
		)
		switch p.Type {
		case ParamUint:
			v, err = protocol.DecodeVLQUint(data)
		case ParamInt:
			v, err = protocol.DecodeVLQInt(data)
		case ParamBytes:
			v, err = protocol.DecodeVLQBytes(data)
		case ParamString:
			v, err = protocol.DecodeVLQString(data)
		}
		if err != nil {
			return msg, fmt.Errorf("%s: decoding %s: %w", f.Name, p.Name, err)
		}
		msg.Fields[p.Name] = v
	}
	return msg, nil
}

// Encode writes args in parameter order. Numeric parameters take any
// integer type; byte parameters take []byte or string.
func (f *MessageFormat) Encode(output protocol.OutputBuffer, args ...interface{}) error {
	if len(args) != len(f.Params) {
		return fmt.Errorf("%s takes %d arguments, got %d", f.Name, len(f.Params), len(args))
	}
	for i, p := range f.Params {
		switch p.Type {
		case ParamUint, ParamInt:
			n, err := toInt64(args[i])
			if err != nil {
				return fmt.Errorf("%s %s: %w", f.Name, p.Name, err)
			}
			if p.Type == ParamInt {
				protocol.EncodeVLQInt(output, int32(n))
			} else {
				protocol.EncodeVLQUint(output, uint32(n))
			}
		case ParamBytes, ParamString:
			switch v := args[i].(type) {
			case []byte:
				protocol.EncodeVLQBytes(output, v)
			case string:
				protocol.EncodeVLQString(output, v)
			default:
				return fmt.Errorf("%s %s: want bytes, got %T", f.Name, p.Name, args[i])
			}
		}
	}
	return nil
}

// ParseArgs converts "key=value" words into arguments for f. Numbers accept
// the 0x and 0b prefixes.
func (f *MessageFormat) ParseArgs(words []string) ([]interface{}, error) {
	given := make(map[string]string, len(words))
	for _, w := range words {
		k, v, ok := strings.Cut(w, "=")
		if !ok {
			return nil, fmt.Errorf("%s: expected key=value, got %q", f.Name, w)
		}
		given[k] = v
	}

	args := make([]interface{}, len(f.Params))
	for i, p := range f.Params {
		v, ok := given[p.Name]
		if !ok {
			return nil, fmt.Errorf("%s: missing %s", f.Name, p.Name)
		}
		delete(given, p.Name)
		switch p.Type {
		case ParamUint:
			n, err := strconv.ParseUint(v, 0, 32)
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w", f.Name, p.Name, err)
			}
			args[i] = uint32(n)
		case ParamInt:
			n, err := strconv.ParseInt(v, 0, 32)
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w", f.Name, p.Name, err)
			}
			args[i] = int32(n)
		default:
			args[i] = v
		}
	}
	for k := range given {
		return nil, fmt.Errorf("%s: unknown parameter %s", f.Name, k)
	}
	return args, nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("want an integer, got %T", v)
}

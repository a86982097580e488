package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Errors
var (
	ErrMissingType = errors.New("message has no type field")
	ErrBadType     = errors.New("message type does not match provider.name grammar")
)

// typePattern is the dotted namespace grammar: provider part up to the
// first dot, name part may contain further dots.
var typePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+\.[A-Za-z0-9_.-]+$`)

// Message is a decoded wire frame. Type is the dotted dispatch key;
// Fields holds every other top-level key of the JSON object verbatim.
type Message struct {
	Type   string
	Fields map[string]any
}

// New creates an outbound message with the given type and fields.
// Fields may be nil.
func New(msgType string, fields map[string]any) *Message {
	if fields == nil {
		fields = make(map[string]any)
	}
	return &Message{Type: msgType, Fields: fields}
}

// ValidType reports whether t matches the provider.name grammar.
func ValidType(t string) bool {
	return typePattern.MatchString(t)
}

// Decode parses a raw frame into a Message. It fails on malformed JSON,
// a missing or non-string type field, or a type that violates the grammar.
func Decode(data []byte) (*Message, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("parse frame: %w", err)
	}

	raw, ok := fields["type"]
	if !ok {
		return nil, ErrMissingType
	}
	t, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%w: type is %T", ErrMissingType, raw)
	}
	if !ValidType(t) {
		return nil, fmt.Errorf("%w: %q", ErrBadType, t)
	}

	delete(fields, "type")
	return &Message{Type: t, Fields: fields}, nil
}

// Encode serializes the message back to a single JSON object with the
// type field restored.
func (m *Message) Encode() ([]byte, error) {
	if m.Type == "" {
		return nil, ErrMissingType
	}
	obj := make(map[string]any, len(m.Fields)+1)
	for k, v := range m.Fields {
		obj[k] = v
	}
	obj["type"] = m.Type
	return json.Marshal(obj)
}

// Provider returns the provider part of the type (text before the first dot).
func (m *Message) Provider() string {
	name, _, _ := strings.Cut(m.Type, ".")
	return name
}

// Name returns the handler part of the type (everything after the first dot).
func (m *Message) Name() string {
	_, rest, _ := strings.Cut(m.Type, ".")
	return rest
}

// String returns the string value of a payload field, or "" if the field
// is absent or not a string.
func (m *Message) String(key string) string {
	v, _ := m.Fields[key].(string)
	return v
}

package bus

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind is the envelope type carried in the "type" field.
type Kind string

const (
	KindMessage   Kind = "message"
	KindTyping    Kind = "typing"
	KindConnected Kind = "connected"
	KindError     Kind = "error"
)

func (k Kind) Valid() bool {
	switch k {
	case KindMessage, KindTyping, KindConnected, KindError:
		return true
	}
	return false
}

type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderAI
}

// Template selects the voice the reply producer answers with.
type Template string

const (
	TemplateGlobal   Template = "global"
	TemplateHealth   Template = "health"
	TemplateMindfull Template = "mindfull"
)

func (t Template) Valid() bool {
	switch t {
	case TemplateGlobal, TemplateHealth, TemplateMindfull:
		return true
	}
	return false
}

// OrDefault maps empty and unknown tags to global.
func (t Template) OrDefault() Template {
	if t.Valid() {
		return t
	}
	return TemplateGlobal
}

var (
	ErrInvalidKind      = errors.New("invalid envelope kind")
	ErrSenderNotAllowed = errors.New("sender is only allowed on message envelopes")
	ErrNotObject        = errors.New("envelope must be a JSON object")
)

// Envelope is the single wire entity exchanged over a channel. Values are
// passed by copy; nothing mutates an envelope after it has been built.
type Envelope struct {
	Kind           Kind      `json:"type"`
	Content        string    `json:"content,omitempty"`
	Sender         Sender    `json:"sender,omitempty"`
	Timestamp      time.Time `json:"timestamp,omitzero"`
	ConversationID string    `json:"conversationId,omitempty"`
	Template       Template  `json:"template,omitempty"`
}

func NewMessage(sender Sender, content, conversationID string, tmpl Template, at time.Time) Envelope {
	return Envelope{
		Kind:           KindMessage,
		Content:        content,
		Sender:         sender,
		Timestamp:      at,
		ConversationID: conversationID,
		Template:       tmpl,
	}
}

// NewTyping builds a typing indicator. conversationID may be empty.
func NewTyping(conversationID string, at time.Time) Envelope {
	return Envelope{Kind: KindTyping, ConversationID: conversationID, Timestamp: at}
}

func NewConnected(greeting string, at time.Time) Envelope {
	return Envelope{Kind: KindConnected, Content: greeting, Timestamp: at}
}

func NewError(content, conversationID string, at time.Time) Envelope {
	return Envelope{Kind: KindError, Content: content, ConversationID: conversationID, Timestamp: at}
}

// WithTimestamp returns a copy stamped with at.
func (e Envelope) WithTimestamp(at time.Time) Envelope {
	e.Timestamp = at
	return e
}

func (e Envelope) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, e.Kind)
	}
	if e.Sender != "" {
		if e.Kind != KindMessage {
			return fmt.Errorf("%w: got sender %q on %s", ErrSenderNotAllowed, e.Sender, e.Kind)
		}
		if !e.Sender.Valid() {
			return fmt.Errorf("invalid sender %q", e.Sender)
		}
	}
	return nil
}

func Encode(e Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// Decode parses a frame. Unknown kinds decode without error so callers can
// ignore them; payloads that are not a JSON object fail.
func Decode(data []byte) (Envelope, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, ErrNotObject
	}
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return e, nil
}

// Handler receives envelopes fanned out by a Registry.
type Handler func(Envelope)

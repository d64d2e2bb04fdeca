package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role represents the message role
type Role string

const (
	// RoleUser represents a user message
	RoleUser Role = "user"

	// RoleAssistant represents an assistant message
	RoleAssistant Role = "assistant"

	// RoleSystem represents a system message
	RoleSystem Role = "system"

	// RoleTool represents a tool result message
	RoleTool Role = "tool"
)

// Message is one entry of the conversation stream fed to the memory engine.
// A zero Timestamp means the message carries no timestamp.
type Message struct {
	ID        string
	Role      Role
	Content   []Part
	Timestamp time.Time
}

// NewTextMessage builds a single-part text message.
func NewTextMessage(id string, role Role, text string, ts time.Time) Message {
	return Message{
		ID:        id,
		Role:      role,
		Content:   []Part{TextPart{Text: text}},
		Timestamp: ts,
	}
}

// HasTimestamp reports whether the message carries a timestamp.
func (m Message) HasTimestamp() bool {
	return !m.Timestamp.IsZero()
}

// PartType names a content variant on the wire.
type PartType string

const (
	// PartTypeText represents text content
	PartTypeText PartType = "text"

	// PartTypeImage represents an image reference
	PartTypeImage PartType = "image"

	// PartTypeToolInvocation represents a tool call together with its result
	PartTypeToolInvocation PartType = "tool_invocation"

	// PartTypeReasoning represents a reasoning trace
	PartTypeReasoning PartType = "reasoning"
)

// Part is one content variant of a message. The set of implementations is
// closed: TextPart, ImagePart, ToolInvocationPart, ReasoningPart and
// UnknownPart.
type Part interface {
	PartType() PartType
	isPart()
}

// TextPart is plain text content.
type TextPart struct {
	Text string
}

// ImagePart references an image by URL or inline data.
type ImagePart struct {
	URL       string
	MediaType string
	Data      string
}

// ToolInvocationPart is a tool call and, once available, its result.
type ToolInvocationPart struct {
	ID      string
	Name    string
	Input   json.RawMessage
	Output  string
	IsError bool
}

// ReasoningPart is a model reasoning trace.
type ReasoningPart struct {
	Text string
}

// UnknownPart carries a variant this package does not understand. It is kept
// so messages round-trip, and is ignored by token accounting and transcripts.
type UnknownPart struct {
	Type string
	Raw  json.RawMessage
}

func (TextPart) PartType() PartType           { return PartTypeText }
func (ImagePart) PartType() PartType          { return PartTypeImage }
func (ToolInvocationPart) PartType() PartType { return PartTypeToolInvocation }
func (ReasoningPart) PartType() PartType      { return PartTypeReasoning }
func (p UnknownPart) PartType() PartType      { return PartType(p.Type) }

func (TextPart) isPart()           {}
func (ImagePart) isPart()          {}
func (ToolInvocationPart) isPart() {}
func (ReasoningPart) isPart()      {}
func (UnknownPart) isPart()        {}

// wireMessage is the JSON shape of Message.
type wireMessage struct {
	ID        string            `json:"id,omitempty"`
	Role      Role              `json:"role"`
	Content   []json.RawMessage `json:"content"`
	Timestamp *time.Time        `json:"timestamp,omitempty"`
}

// wirePart is the JSON shape shared by every known content variant.
type wirePart struct {
	Type      PartType        `json:"type"`
	Text      string          `json:"text,omitempty"`
	URL       string          `json:"url,omitempty"`
	MediaType string          `json:"media_type,omitempty"`
	Data      string          `json:"data,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Output    string          `json:"output,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// MarshalJSON encodes the message with a "type" discriminator per part.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		ID:      m.ID,
		Role:    m.Role,
		Content: make([]json.RawMessage, 0, len(m.Content)),
	}
	if m.HasTimestamp() {
		ts := m.Timestamp
		w.Timestamp = &ts
	}

	for _, part := range m.Content {
		raw, err := marshalPart(part)
		if err != nil {
			return nil, err
		}
		w.Content = append(w.Content, raw)
	}

	return json.Marshal(w)
}

// UnmarshalJSON decodes a message. Parts with an unrecognised type become
// UnknownPart rather than failing the whole message.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	m.ID = w.ID
	m.Role = w.Role
	m.Timestamp = time.Time{}
	if w.Timestamp != nil {
		m.Timestamp = *w.Timestamp
	}

	m.Content = make([]Part, 0, len(w.Content))
	for i, raw := range w.Content {
		part, err := unmarshalPart(raw)
		if err != nil {
			return fmt.Errorf("content[%d]: %w", i, err)
		}
		m.Content = append(m.Content, part)
	}
	return nil
}

func marshalPart(part Part) (json.RawMessage, error) {
	var w wirePart
	switch p := part.(type) {
	case TextPart:
		w = wirePart{Type: PartTypeText, Text: p.Text}
	case ImagePart:
		w = wirePart{Type: PartTypeImage, URL: p.URL, MediaType: p.MediaType, Data: p.Data}
	case ToolInvocationPart:
		w = wirePart{
			Type:    PartTypeToolInvocation,
			ID:      p.ID,
			Name:    p.Name,
			Input:   p.Input,
			Output:  p.Output,
			IsError: p.IsError,
		}
	case ReasoningPart:
		w = wirePart{Type: PartTypeReasoning, Text: p.Text}
	case UnknownPart:
		if len(p.Raw) > 0 {
			return p.Raw, nil
		}
		return json.Marshal(map[string]string{"type": p.Type})
	default:
		return nil, fmt.Errorf("unsupported content part %T", part)
	}
	return json.Marshal(w)
}

func unmarshalPart(raw json.RawMessage) (Part, error) {
	var head struct {
		Type PartType `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}

	var w wirePart
	switch head.Type {
	case PartTypeText, PartTypeImage, PartTypeToolInvocation, PartTypeReasoning:
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, err
		}
	default:
		return UnknownPart{Type: string(head.Type), Raw: append(json.RawMessage(nil), raw...)}, nil
	}

	switch w.Type {
	case PartTypeText:
		return TextPart{Text: w.Text}, nil
	case PartTypeImage:
		return ImagePart{URL: w.URL, MediaType: w.MediaType, Data: w.Data}, nil
	case PartTypeToolInvocation:
		return ToolInvocationPart{
			ID:      w.ID,
			Name:    w.Name,
			Input:   w.Input,
			Output:  w.Output,
			IsError: w.IsError,
		}, nil
	default:
		return ReasoningPart{Text: w.Text}, nil
	}
}

// Package types provides the core wire- and domain-level types shared across
// the gateway. This package has ZERO dependencies on other internal packages
// to avoid circular imports; everything else imports from here.
package types

import (
	"encoding/json"
	"time"
)

// Role represents the role of a message participant in the unified chat
// schema. developer and function are accepted on input and normalized by
// adapters that don't support them natively.
type Role string

const (
	RoleSystem    Role = "system"
	RoleDeveloper Role = "developer"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleFunction  Role = "function"
)

// ToolCall represents a tool invocation request from the LLM.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ContentPartType discriminates a Message's multipart content.
type ContentPartType string

const (
	ContentPartText     ContentPartType = "text"
	ContentPartImageURL ContentPartType = "image_url"
	ContentPartAudio    ContentPartType = "input_audio"
)

// ImageURL carries either a remote URL or a data: URL with inline base64.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// ContentPart is one element of a multipart message body, mirroring the
// OpenAI `content: [{type, text|image_url}, ...]` shape.
type ContentPart struct {
	Type     ContentPartType `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *ImageURL       `json:"image_url,omitempty"`
}

// ImageContent represents image data for multimodal messages, kept for
// adapters that carry images out-of-band from Content/Parts.
type ImageContent struct {
	Type string `json:"type"` // "url" or "base64"
	URL  string `json:"url,omitempty"`
	Data string `json:"data,omitempty"` // base64 encoded
}

// Message represents one turn in the unified chat schema. Content is either
// a plain string (Content) or a multipart array (Parts); exactly one should
// be set on the wire, but both may be populated internally once an adapter
// has normalized a request.
type Message struct {
	Role       Role           `json:"role"`
	Content    string         `json:"content,omitempty"`
	Parts      []ContentPart  `json:"-"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Images     []ImageContent `json:"images,omitempty"`
	Metadata   any            `json:"metadata,omitempty"`
	Timestamp  time.Time      `json:"timestamp,omitempty"`
}

// UnmarshalJSON accepts content as either a string or a parts array, the way
// OpenAI's wire format does, collapsing a parts array into both Content
// (text-only concatenation, for adapters that don't support multipart) and
// Parts (for adapters that do).
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	var raw struct {
		alias
		Content json.RawMessage `json:"content,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Message(raw.alias)
	if len(raw.Content) == 0 {
		return nil
	}
	var asString string
	if err := json.Unmarshal(raw.Content, &asString); err == nil {
		m.Content = asString
		return nil
	}
	var asParts []ContentPart
	if err := json.Unmarshal(raw.Content, &asParts); err == nil {
		m.Parts = asParts
		m.Content = flattenParts(asParts)
		return nil
	}
	return nil
}

func flattenParts(parts []ContentPart) string {
	var out string
	for _, p := range parts {
		if p.Type == ContentPartText {
			out += p.Text
		}
	}
	return out
}

// NewMessage creates a new message with the given role and content.
func NewMessage(role Role, content string) Message {
	return Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return NewMessage(RoleSystem, content)
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return NewMessage(RoleAssistant, content)
}

// NewToolMessage creates a new tool result message.
func NewToolMessage(toolCallID, name, content string) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		Name:       name,
		ToolCallID: toolCallID,
		Timestamp:  time.Now(),
	}
}

// WithToolCalls adds tool calls to the message.
func (m Message) WithToolCalls(calls []ToolCall) Message {
	m.ToolCalls = calls
	return m
}

// WithImages adds images to the message.
func (m Message) WithImages(images []ImageContent) Message {
	m.Images = images
	return m
}

// WithMetadata adds metadata to the message.
func (m Message) WithMetadata(metadata any) Message {
	m.Metadata = metadata
	return m
}

// HasImages reports whether the message carries any image content, either
// via Images or multipart Parts.
func (m Message) HasImages() bool {
	if len(m.Images) > 0 {
		return true
	}
	for _, p := range m.Parts {
		if p.Type == ContentPartImageURL {
			return true
		}
	}
	return false
}

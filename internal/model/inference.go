package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FunctionType distinguishes conversational functions from structured-output
// functions. It selects the inference table and the output shape.
type FunctionType string

const (
	FunctionTypeChat FunctionType = "chat"
	FunctionTypeJSON FunctionType = "json"
)

// Valid reports whether t is a known function type.
func (t FunctionType) Valid() bool {
	return t == FunctionTypeChat || t == FunctionTypeJSON
}

// Inference is one model invocation. Immutable once written.
type Inference struct {
	ID           uuid.UUID    `json:"id"`
	FunctionName string       `json:"function_name"`
	FunctionType FunctionType `json:"function_type"`
	VariantName  string       `json:"variant_name"`
	EpisodeID    uuid.UUID    `json:"episode_id"`
	Input        Input        `json:"input"`
	Output       Output       `json:"output"`
	Timestamp    time.Time    `json:"timestamp"`
}

// Input is the message history sent to the model.
type Input struct {
	System   json.RawMessage `json:"system,omitempty"`
	Messages []InputMessage  `json:"messages"`
}

// InputMessage is a single turn of the input history.
type InputMessage struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// Content block types.
const (
	BlockText       = "text"
	BlockToolCall   = "tool_call"
	BlockToolResult = "tool_result"
)

// ContentBlock is a piece of message or output content.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    string          `json:"result,omitempty"`
}

// TextBlock is shorthand for a text content block.
func TextBlock(s string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: s}
}

// JSONOutput is the result of a structured-output function.
type JSONOutput struct {
	Raw    string          `json:"raw"`
	Parsed json.RawMessage `json:"parsed"`
}

// Output holds either chat content blocks or a structured JSON result.
// Exactly one of Content and JSON is meaningful; JSON != nil selects the
// structured form. It serializes to an array for chat and an object for json.
type Output struct {
	Content []ContentBlock
	JSON    *JSONOutput
}

// ChatOutput wraps content blocks as an Output.
func ChatOutput(blocks ...ContentBlock) Output {
	if blocks == nil {
		blocks = []ContentBlock{}
	}
	return Output{Content: blocks}
}

// StructuredOutput wraps a structured result as an Output.
func StructuredOutput(raw string, parsed json.RawMessage) Output {
	return Output{JSON: &JSONOutput{Raw: raw, Parsed: parsed}}
}

// IsJSON reports whether o is the structured form.
func (o Output) IsJSON() bool { return o.JSON != nil }

// Text concatenates all text blocks, or returns the raw string for the
// structured form.
func (o Output) Text() string {
	if o.JSON != nil {
		return o.JSON.Raw
	}
	var buf bytes.Buffer
	for _, b := range o.Content {
		if b.Type == BlockText {
			buf.WriteString(b.Text)
		}
	}
	return buf.String()
}

func (o Output) MarshalJSON() ([]byte, error) {
	if o.JSON != nil {
		return json.Marshal(o.JSON)
	}
	if o.Content == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(o.Content)
}

func (o *Output) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*o = Output{}
		return nil
	}
	switch trimmed[0] {
	case '[':
		var blocks []ContentBlock
		if err := json.Unmarshal(trimmed, &blocks); err != nil {
			return fmt.Errorf("model: decode chat output: %w", err)
		}
		*o = Output{Content: blocks}
	case '{':
		var j JSONOutput
		if err := json.Unmarshal(trimmed, &j); err != nil {
			return fmt.Errorf("model: decode json output: %w", err)
		}
		*o = Output{JSON: &j}
	default:
		return fmt.Errorf("model: output must be an array or object")
	}
	return nil
}

// ParseDemonstration interprets a stored demonstration value as the desired
// output of a function of type ft. Chat demonstrations are either a JSON array
// of content blocks or plain text. JSON demonstrations keep the raw string and
// carry the parsed value when it is valid JSON.
func ParseDemonstration(ft FunctionType, value string) Output {
	switch ft {
	case FunctionTypeJSON:
		trimmed := bytes.TrimSpace([]byte(value))
		if json.Valid(trimmed) {
			return StructuredOutput(value, json.RawMessage(trimmed))
		}
		return StructuredOutput(value, nil)
	default:
		var blocks []ContentBlock
		if err := json.Unmarshal([]byte(value), &blocks); err == nil && len(blocks) > 0 {
			return ChatOutput(blocks...)
		}
		return ChatOutput(TextBlock(value))
	}
}

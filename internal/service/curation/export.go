package curation

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/tensorzero/curator/internal/model"
)

// Message is one turn of a chat fine-tuning example.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Example is one line of a chat-format fine-tuning dataset.
type Example struct {
	Messages []Message `json:"messages"`
}

// ToExample renders an inference as a chat example: the system prompt, the
// input history, then the (possibly substituted) output as the assistant turn.
func ToExample(inf model.Inference) Example {
	var msgs []Message
	if sys := systemText(inf.Input.System); sys != "" {
		msgs = append(msgs, Message{Role: "system", Content: sys})
	}
	for _, m := range inf.Input.Messages {
		msgs = append(msgs, Message{Role: m.Role, Content: blocksText(m.Content)})
	}
	msgs = append(msgs, Message{Role: "assistant", Content: outputText(inf.Output)})
	return Example{Messages: msgs}
}

// WriteJSONL writes one example per inference, newline-delimited, and returns
// the number written.
func WriteJSONL(w io.Writer, inferences []model.Inference) (int, error) {
	enc := json.NewEncoder(w)
	for i, inf := range inferences {
		if err := enc.Encode(ToExample(inf)); err != nil {
			return i, fmt.Errorf("curation: encode example %s: %w", inf.ID, err)
		}
	}
	return len(inferences), nil
}

// systemText accepts a bare JSON string or any other JSON value, which is
// kept verbatim.
func systemText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func blocksText(blocks []model.ContentBlock) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case model.BlockText:
			parts = append(parts, b.Text)
		default:
			data, err := json.Marshal(b)
			if err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.Join(parts, "\n")
}

func outputText(o model.Output) string {
	if o.IsJSON() {
		return o.JSON.Raw
	}
	return blocksText(o.Content)
}

// Package compress holds the editing core used to curate a recorded session
// into a shorter one: an operation registry with bounded undo/redo, a preview
// compositor, a token accountant and a session-keyed state persister.
//
// Everything in this package is synchronous and single-owner. An Editor is
// bound to one session and must not be shared between goroutines.
package compress

import "encoding/json"

// BlockType identifies one kind of content block inside a message.
type BlockType string

const (
	BlockText           BlockType = "text"
	BlockThinking       BlockType = "thinking"
	BlockToolUse        BlockType = "tool_use"
	BlockToolResult     BlockType = "tool_result"
	BlockCodeDiff       BlockType = "code_diff"
	BlockCodeSuggestion BlockType = "code_suggestion"
	BlockReference      BlockType = "reference"
	BlockImage          BlockType = "image"
)

// ContentBlock is one heterogeneous piece of a message. Only the fields that
// belong to Type are meaningful.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// Text carries plain text, thinking text, or the raw text of a tool result.
	Text string `json:"text,omitempty"`

	// ToolName and ArgsSummary describe a tool invocation.
	ToolName    string `json:"toolName,omitempty"`
	ArgsSummary string `json:"argsSummary,omitempty"`

	// DisplayText is the preferred rendering of a tool result.
	DisplayText string `json:"displayText,omitempty"`

	// Payload is the body of a code diff or suggestion.
	Payload string `json:"payload,omitempty"`

	// FilePath, Symbol and Content describe a reference.
	FilePath string `json:"filePath,omitempty"`
	Symbol   string `json:"symbol,omitempty"`
	Content  string `json:"content,omitempty"`

	MediaType string `json:"mediaType,omitempty"`
}

// Message is one immutable turn of the original conversation, or a synthetic
// turn created by an insertion.
type Message struct {
	ID        string         `json:"id"`
	Role      string         `json:"role"`
	Timestamp string         `json:"timestamp,omitempty"`
	Blocks    []ContentBlock `json:"blocks,omitempty"`
	Synthetic bool           `json:"synthetic,omitempty"`

	// Raw is the record as it was read from the source. Exporters write it
	// back for kept messages.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// NewTextMessage builds a message holding a single text block.
func NewTextMessage(id, role, text string) Message {
	return Message{
		ID:     id,
		Role:   role,
		Blocks: []ContentBlock{{Type: BlockText, Text: text}},
	}
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	out := m
	if m.Blocks != nil {
		out.Blocks = make([]ContentBlock, len(m.Blocks))
		copy(out.Blocks, m.Blocks)
	}
	if m.Raw != nil {
		out.Raw = append(json.RawMessage(nil), m.Raw...)
	}
	return out
}

func cloneMessages(messages []Message) []Message {
	if messages == nil {
		return nil
	}
	out := make([]Message, len(messages))
	for i, msg := range messages {
		out[i] = msg.Clone()
	}
	return out
}

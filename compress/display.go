package compress

import "strings"

// ImagePlaceholder stands in for image blocks in display text.
const ImagePlaceholder = "[image]"

// DisplayTextFunc maps a message to the single string used for rendering and
// token estimation.
type DisplayTextFunc func(Message) string

// DisplayText is the default display-text extractor. Each block is rendered by
// its type and the non-empty renderings are joined with newlines.
func DisplayText(m Message) string {
	parts := make([]string, 0, len(m.Blocks))
	for _, block := range m.Blocks {
		if part := blockDisplayText(block); part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, "\n")
}

func blockDisplayText(block ContentBlock) string {
	switch block.Type {
	case BlockText, BlockThinking:
		return block.Text
	case BlockToolUse:
		name := block.ToolName
		if name == "" {
			name = "unknown"
		}
		if block.ArgsSummary == "" {
			return "[" + name + "]"
		}
		return "[" + name + "] " + block.ArgsSummary
	case BlockToolResult:
		if block.DisplayText != "" {
			return block.DisplayText
		}
		return block.Text
	case BlockCodeDiff, BlockCodeSuggestion:
		return block.Payload
	case BlockImage:
		return ImagePlaceholder
	case BlockReference:
		ref := block.FilePath
		if block.Symbol != "" {
			ref += "#" + block.Symbol
		}
		if block.Content != "" {
			if ref == "" {
				return block.Content
			}
			ref += "\n" + block.Content
		}
		return ref
	default:
		return block.Text
	}
}

package llm

import (
	"encoding/json"
	"strings"
)

// Role identifies who produced a message in a conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// BlockKind is the discriminator tag for ContentBlock.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockImage      BlockKind = "image"
	BlockToolUse    BlockKind = "tool_use"
	BlockToolResult BlockKind = "tool_result"
)

// ImageData holds image content as raw bytes plus a media type.
type ImageData struct {
	Data      []byte `json:"data"`
	MediaType string `json:"media_type,omitempty"`
}

// ToolUseData represents a model-initiated tool invocation.
type ToolUseData struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResultData holds the result of a tool execution, addressed back to the
// tool_use block that requested it.
type ToolResultData struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

// ContentBlock is a tagged union representing one block of a message.
type ContentBlock struct {
	Kind       BlockKind       `json:"kind"`
	Text       string          `json:"text,omitempty"`
	Image      *ImageData      `json:"image,omitempty"`
	ToolUse    *ToolUseData    `json:"tool_use,omitempty"`
	ToolResult *ToolResultData `json:"tool_result,omitempty"`
}

// TextBlock creates a text ContentBlock.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Kind: BlockText, Text: text}
}

// ImageBlock creates an image ContentBlock from raw bytes.
func ImageBlock(data []byte, mediaType string) ContentBlock {
	if mediaType == "" {
		mediaType = "image/png"
	}
	return ContentBlock{
		Kind:  BlockImage,
		Image: &ImageData{Data: data, MediaType: mediaType},
	}
}

// ToolUseBlock creates a tool_use ContentBlock.
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{
		Kind:    BlockToolUse,
		ToolUse: &ToolUseData{ID: id, Name: name, Input: input},
	}
}

// ToolResultBlock creates a tool_result ContentBlock.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{
		Kind:       BlockToolResult,
		ToolResult: &ToolResultData{ToolUseID: toolUseID, Content: content, IsError: isError},
	}
}

// Message is the fundamental unit of conversation. Content uses one canonical
// block vocabulary regardless of which backend the message is sent to.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// TextContent returns the concatenation of all text blocks.
func (m Message) TextContent() string {
	var sb strings.Builder
	for _, block := range m.Content {
		if block.Kind == BlockText {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// ToolUses extracts all tool_use data from the message content.
func (m Message) ToolUses() []ToolUseData {
	var uses []ToolUseData
	for _, block := range m.Content {
		if block.Kind == BlockToolUse && block.ToolUse != nil {
			uses = append(uses, *block.ToolUse)
		}
	}
	return uses
}

// ToolResults extracts all tool_result data from the message content.
func (m Message) ToolResults() []ToolResultData {
	var results []ToolResultData
	for _, block := range m.Content {
		if block.Kind == BlockToolResult && block.ToolResult != nil {
			results = append(results, *block.ToolResult)
		}
	}
	return results
}

// UserMessage creates a user Message with text content.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{TextBlock(text)}}
}

// AssistantMessage creates an assistant Message with text content.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: []ContentBlock{TextBlock(text)}}
}

// ToolResultMessage creates a tool Message carrying a single tool_result block.
func ToolResultMessage(toolUseID, content string, isError bool) Message {
	return Message{
		Role:    RoleTool,
		Content: []ContentBlock{ToolResultBlock(toolUseID, content, isError)},
	}
}

// ToolDefinition describes a tool in the canonical shape: name, description,
// and a JSON-Schema input schema.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// StopReason describes why generation stopped.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopOther     StopReason = "other"
)

// Usage tracks token consumption for one provider call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add returns the sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
	}
}

// Request is the input for both Create and CreateStream.
type Request struct {
	Provider  string           `json:"provider,omitempty"`
	Model     string           `json:"model"`
	System    string           `json:"system,omitempty"`
	Messages  []Message        `json:"messages"`
	Tools     []ToolDefinition `json:"tools,omitempty"`
	MaxTokens int              `json:"max_tokens,omitempty"`
}

// Response is the unified output of one provider call. A streaming call
// yields zero or more IsDelta responses, each carrying only the newly
// produced text, followed by exactly one final aggregated response with the
// final stop reason and usage totals.
type Response struct {
	Blocks     []ContentBlock `json:"blocks"`
	StopReason StopReason     `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
	Model      string         `json:"model,omitempty"`
	Provider   string         `json:"provider,omitempty"`
	IsDelta    bool           `json:"is_delta,omitempty"`
}

// Text returns the concatenated text from all text blocks in the response.
func (r Response) Text() string {
	var sb strings.Builder
	for _, block := range r.Blocks {
		if block.Kind == BlockText {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// ToolUses extracts tool_use blocks from the response.
func (r Response) ToolUses() []ToolUseData {
	var uses []ToolUseData
	for _, block := range r.Blocks {
		if block.Kind == BlockToolUse && block.ToolUse != nil {
			uses = append(uses, *block.ToolUse)
		}
	}
	return uses
}

// deltaResponse builds an IsDelta text fragment.
func deltaResponse(provider, model, text string) Response {
	return Response{
		Blocks:   []ContentBlock{TextBlock(text)},
		Provider: provider,
		Model:    model,
		IsDelta:  true,
	}
}

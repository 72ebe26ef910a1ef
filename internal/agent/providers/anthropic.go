// Package providers implements the model vendors behind agent.ModelProvider.
//
// Both providers stream: text and tool calls are delivered as they arrive,
// and the final chunk carries token usage and the stop reason. Neither
// provider retries on its own; the session runtime owns retry policy and
// uses the Retryable flag on ProviderError to decide.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/duyemura/boxassist-sub000/internal/agent"
	"github.com/duyemura/boxassist-sub000/internal/usage"
	"github.com/duyemura/boxassist-sub000/pkg/models"
)

// maxEmptyStreamEvents caps consecutive events that carry nothing before the
// stream is treated as malformed.
const maxEmptyStreamEvents = 300

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
}

// AnthropicProvider streams completions from the Anthropic Messages API.
// Safe for concurrent use; every Complete call gets its own stream and
// goroutine.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropic builds an Anthropic provider. The API key is required.
func NewAnthropic(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key not configured")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...)}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// Complete starts a streaming request. Conversion failures surface
// synchronously; everything after the stream opens arrives on the channel.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(req.MaxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(stream, chunks)
	return chunks, nil
}

func (p *AnthropicProvider) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *agent.CompletionChunk) {
	defer close(chunks)

	var pendingCall *models.ToolCall
	var pendingInput strings.Builder
	var stopReason string
	use := &usage.Usage{}
	emptyEvents := 0

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Usage.InputTokens > 0 {
				use.InputTokens = start.Message.Usage.InputTokens
			}
			processed = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				pendingCall = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				pendingInput.Reset()
				processed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- &agent.CompletionChunk{Text: delta.Text}
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					pendingInput.WriteString(delta.PartialJSON)
					processed = true
				}
			}

		case "content_block_stop":
			if pendingCall != nil {
				input := pendingInput.String()
				if input == "" {
					input = "{}"
				}
				pendingCall.Input = json.RawMessage(input)
				chunks <- &agent.CompletionChunk{ToolCall: pendingCall}
				pendingCall = nil
				processed = true
			}

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Usage.OutputTokens > 0 {
				use.OutputTokens = delta.Usage.OutputTokens
			}
			if delta.Delta.StopReason != "" {
				stopReason = string(delta.Delta.StopReason)
			}
			processed = true

		case "message_stop":
			chunks <- &agent.CompletionChunk{Done: true, Usage: use, StopReason: stopReason}
			return

		case "error":
			chunks <- &agent.CompletionChunk{
				Err:  wrapAnthropicError(errors.New("stream error event")),
				Done: true,
			}
			return
		}

		if processed {
			emptyEvents = 0
			continue
		}
		emptyEvents++
		if emptyEvents >= maxEmptyStreamEvents {
			chunks <- &agent.CompletionChunk{
				Err:  wrapAnthropicError(fmt.Errorf("malformed stream: %d consecutive empty events", emptyEvents)),
				Done: true,
			}
			return
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- &agent.CompletionChunk{Err: wrapAnthropicError(err), Done: true}
		return
	}

	// Stream ended without message_stop; treat whatever we have as final.
	chunks <- &agent.CompletionChunk{Done: true, Usage: use, StopReason: stopReason}
}

func convertAnthropicMessages(messages []agent.CompletionMessage) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion

		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]interface{}
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				return nil, fmt.Errorf("tool call %s input: %w", tc.Name, err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		// Tool results travel as user messages in the Messages API.
		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

func convertAnthropicTools(tools []agent.Tool) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam

	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
			return nil, fmt.Errorf("tool %s schema: %w", tool.Name(), err)
		}

		param := anthropic.ToolUnionParamOfTool(schema, tool.Name())
		if param.OfTool == nil {
			return nil, fmt.Errorf("tool %s: missing tool definition", tool.Name())
		}
		param.OfTool.Description = anthropic.String(tool.Description())
		result = append(result, param)
	}

	return result, nil
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func wrapAnthropicError(err error) error {
	if err == nil {
		return nil
	}
	var pe *agent.ProviderError
	if errors.As(err, &pe) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		message := "request failed"
		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil && payload.Error.Message != "" {
				message = payload.Error.Message
			}
		}
		return &agent.ProviderError{
			Provider:   "anthropic",
			StatusCode: apiErr.StatusCode,
			Message:    message,
			Retryable:  retryableStatus(apiErr.StatusCode),
			Cause:      err,
		}
	}

	return &agent.ProviderError{
		Provider:  "anthropic",
		Message:   err.Error(),
		Retryable: agent.IsRetryableProviderError(err),
		Cause:     err,
	}
}

// retryableStatus classifies HTTP statuses the way the Messages API documents
// them: overload (529), rate limit (429), timeouts, and 5xx are transient.
func retryableStatus(status int) bool {
	switch {
	case status == 408, status == 429, status == 529:
		return true
	case status >= 500 && status < 600:
		return true
	}
	return false
}

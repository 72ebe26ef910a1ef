package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/duyemura/boxassist-sub000/internal/agent"
	"github.com/duyemura/boxassist-sub000/internal/usage"
	"github.com/duyemura/boxassist-sub000/pkg/models"
)

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
}

// OpenAIProvider streams completions from the OpenAI Chat Completions API.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAI builds an OpenAI provider. The API key is required.
func NewOpenAI(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key not configured")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(clientCfg)}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Complete starts a streaming request. The stream is opened synchronously so
// connection and auth failures surface as the returned error.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: convertOpenAIMessages(req.Messages, req.System),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, wrapOpenAIError(err)
	}

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(stream, chunks)
	return chunks, nil
}

func (p *OpenAIProvider) processStream(stream *openai.ChatCompletionStream, chunks chan<- *agent.CompletionChunk) {
	defer close(chunks)
	defer stream.Close()

	// Tool call fragments arrive across chunks, keyed by index.
	calls := make(map[int]*models.ToolCall)
	order := []int{}
	use := &usage.Usage{}
	var stopReason string

	flushCalls := func() {
		for _, i := range order {
			tc := calls[i]
			if tc == nil || tc.ID == "" || tc.Name == "" {
				continue
			}
			if len(tc.Input) == 0 {
				tc.Input = json.RawMessage("{}")
			}
			chunks <- &agent.CompletionChunk{ToolCall: tc}
		}
		calls = make(map[int]*models.ToolCall)
		order = order[:0]
	}

	for {
		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flushCalls()
				chunks <- &agent.CompletionChunk{Done: true, Usage: use, StopReason: stopReason}
				return
			}
			chunks <- &agent.CompletionChunk{Err: wrapOpenAIError(err), Done: true}
			return
		}

		// The usage-bearing chunk has no choices.
		if response.Usage != nil {
			use.InputTokens = int64(response.Usage.PromptTokens)
			use.OutputTokens = int64(response.Usage.CompletionTokens)
		}
		if len(response.Choices) == 0 {
			continue
		}

		choice := response.Choices[0]
		if choice.Delta.Content != "" {
			chunks <- &agent.CompletionChunk{Text: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if calls[index] == nil {
				calls[index] = &models.ToolCall{}
				order = append(order, index)
			}
			if tc.ID != "" {
				calls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				calls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				calls[index].Input = append(calls[index].Input, tc.Function.Arguments...)
			}
		}

		if choice.FinishReason != "" {
			stopReason = string(choice.FinishReason)
			if choice.FinishReason == openai.FinishReasonToolCalls {
				flushCalls()
			}
		}
	}
}

// convertOpenAIMessages maps the turn history to chat messages. The system
// prompt leads; each tool result becomes its own message with role "tool".
func convertOpenAIMessages(messages []agent.CompletionMessage, system string) []openai.ChatCompletionMessage {
	var result []openai.ChatCompletionMessage

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case "assistant":
			m := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			result = append(result, m)

		case "tool":
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}

		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		}
	}

	return result
}

func convertOpenAITools(tools []agent.Tool) []openai.Tool {
	result := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Schema(),
			},
		})
	}
	return result
}

func wrapOpenAIError(err error) error {
	if err == nil {
		return nil
	}
	var pe *agent.ProviderError
	if errors.As(err, &pe) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		message := apiErr.Message
		if message == "" {
			message = "request failed"
		}
		return &agent.ProviderError{
			Provider:   "openai",
			StatusCode: apiErr.HTTPStatusCode,
			Message:    message,
			Retryable:  retryableStatus(apiErr.HTTPStatusCode),
			Cause:      err,
		}
	}

	return &agent.ProviderError{
		Provider:  "openai",
		Message:   fmt.Sprintf("stream failed: %v", err),
		Retryable: agent.IsRetryableProviderError(err),
		Cause:     err,
	}
}

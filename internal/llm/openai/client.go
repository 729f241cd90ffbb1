// Package openai adapts the OpenAI chat completions SDK to the portable
// llm.Provider interface.
package openai

import (
	"context"
	"net/http"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"docintel/internal/config"
	"docintel/internal/llm"
)

// Client implements llm.Provider against the OpenAI API.
type Client struct {
	sdk   sdk.Client
	model string
	retry llm.RetryConfig
}

// New builds a Client from provider configuration.
func New(cfg config.LLMProviderConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o"
	}
	return &Client{sdk: sdk.NewClient(opts...), model: model, retry: llm.DefaultRetryConfig()}
}

func (c *Client) pickModel(model string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return c.model
}

// Chat implements llm.Provider.Chat.
func (c *Client) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(c.pickModel(model)),
		Messages: adaptMessages(msgs),
	}
	if len(tools) > 0 {
		params.Tools = adaptSchemas(tools)
	}

	comp, err := llm.WithRetry(ctx, c.retry, func() (*sdk.ChatCompletion, error) {
		return c.sdk.Chat.Completions.New(ctx, params)
	})
	if err != nil {
		return llm.Message{}, err
	}
	return messageFromCompletion(comp), nil
}

// ChatStream implements llm.Provider.ChatStream.
func (c *Client) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(c.pickModel(model)),
		Messages: adaptMessages(msgs),
	}
	if len(tools) > 0 {
		params.Tools = adaptSchemas(tools)
	}

	stream := c.sdk.Chat.Completions.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	toolCalls := map[int64]*llm.ToolCall{}
	var order []int64

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" && h != nil {
			h.OnDelta(delta.Content)
		}
		for _, tc := range delta.ToolCalls {
			idx := tc.Index
			existing, ok := toolCalls[idx]
			if !ok {
				existing = &llm.ToolCall{ID: tc.ID, Name: tc.Function.Name}
				toolCalls[idx] = existing
				order = append(order, idx)
			}
			if tc.Function.Name != "" {
				existing.Name = tc.Function.Name
			}
			existing.Args = append(existing.Args, []byte(tc.Function.Arguments)...)
		}
	}
	if err := stream.Err(); err != nil {
		return err
	}
	if h != nil {
		for _, idx := range order {
			h.OnToolCall(*toolCalls[idx])
		}
	}
	return nil
}

func adaptSchemas(schemas []llm.ToolSchema) []sdk.ChatCompletionToolUnionParam {
	out := make([]sdk.ChatCompletionToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		def := sdk.FunctionDefinitionParam{
			Name:        s.Name,
			Description: sdk.String(s.Description),
			Parameters:  s.Parameters,
		}
		out = append(out, sdk.ChatCompletionFunctionTool(def))
	}
	return out
}

func adaptMessages(msgs []llm.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, sdk.SystemMessage(m.Content))
		case "user":
			out = append(out, sdk.UserMessage(m.Content))
		case "assistant":
			if len(m.ToolCalls) == 0 {
				out = append(out, sdk.AssistantMessage(m.Content))
				continue
			}
			var asst sdk.ChatCompletionAssistantMessageParam
			asst.Content.OfString = sdk.String(m.Content)
			for _, tc := range m.ToolCalls {
				fn := sdk.ChatCompletionMessageFunctionToolCallParam{
					ID: tc.ID,
					Function: sdk.ChatCompletionMessageFunctionToolCallFunctionParam{
						Arguments: string(tc.Args),
						Name:      tc.Name,
					},
				}
				asst.ToolCalls = append(asst.ToolCalls, sdk.ChatCompletionMessageToolCallUnionParam{OfFunction: &fn})
			}
			out = append(out, sdk.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case "tool":
			out = append(out, sdk.ToolMessage(m.Content, m.ToolID))
		}
	}
	return out
}

func messageFromCompletion(comp *sdk.ChatCompletion) llm.Message {
	if comp == nil || len(comp.Choices) == 0 {
		return llm.Message{}
	}
	choice := comp.Choices[0]
	out := llm.Message{Role: "assistant", Content: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: []byte(tc.Function.Arguments),
		})
	}
	return out
}

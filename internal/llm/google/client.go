// Package google adapts the Google genai SDK to the portable llm.Provider
// interface. Wired as the third selectable provider behind the same factory
// as OpenAI and Anthropic (SPEC_FULL.md section 9).
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	genai "google.golang.org/genai"

	"docintel/internal/config"
	"docintel/internal/llm"
)

// Client implements llm.Provider against the Google genai API.
type Client struct {
	client *genai.Client
	model  string
	retry  llm.RetryConfig
}

// New builds a Client from provider configuration.
func New(cfg config.LLMProviderConfig, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:     strings.TrimSpace(cfg.APIKey),
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("init google client: %w", err)
	}
	return &Client{client: client, model: model, retry: llm.DefaultRetryConfig()}, nil
}

func (c *Client) pickModel(model string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return c.model
}

// Chat implements llm.Provider.Chat.
func (c *Client) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	effectiveModel := c.pickModel(model)
	contents, sysInstr := toContents(msgs)
	cfg := buildConfig(sysInstr, tools)

	resp, err := llm.WithRetry(ctx, c.retry, func() (*genai.GenerateContentResponse, error) {
		return c.client.Models.GenerateContent(ctx, effectiveModel, contents, cfg)
	})
	if err != nil {
		return llm.Message{}, err
	}
	return messageFromResponse(resp), nil
}

// ChatStream implements llm.Provider.ChatStream.
func (c *Client) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	effectiveModel := c.pickModel(model)
	contents, sysInstr := toContents(msgs)
	cfg := buildConfig(sysInstr, tools)

	for resp, err := range c.client.Models.GenerateContentStream(ctx, effectiveModel, contents, cfg) {
		if err != nil {
			return err
		}
		msg := messageFromResponse(resp)
		if h != nil {
			if msg.Content != "" {
				h.OnDelta(msg.Content)
			}
			for _, tc := range msg.ToolCalls {
				h.OnToolCall(tc)
			}
		}
	}
	return nil
}

func buildConfig(sysInstr *genai.Content, tools []llm.ToolSchema) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{SystemInstruction: sysInstr}
	if len(tools) == 0 {
		return cfg
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schemaFromMap(t.Parameters),
		})
	}
	cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	return cfg
}

func schemaFromMap(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	var s genai.Schema
	if err := json.Unmarshal(b, &s); err != nil {
		return nil
	}
	return &s
}

func toContents(msgs []llm.Message) ([]*genai.Content, *genai.Content) {
	var sysInstr *genai.Content
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			sysInstr = genai.NewContentFromText(m.Content, genai.RoleUser)
		case "user", "tool":
			out = append(out, genai.NewContentFromText(m.Content, genai.RoleUser))
		case "assistant":
			out = append(out, genai.NewContentFromText(m.Content, genai.RoleModel))
		}
	}
	return out, sysInstr
}

func messageFromResponse(resp *genai.GenerateContentResponse) llm.Message {
	out := llm.Message{Role: "assistant"}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			sb.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			args, _ := json.Marshal(part.FunctionCall.Args)
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{Name: part.FunctionCall.Name, Args: args})
		}
	}
	out.Content = sb.String()
	return out
}

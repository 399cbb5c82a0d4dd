// Package openai adapts github.com/openai/openai-go/v2 to the llm.Provider
// interface. Its Embed can serve as Gateway.WithEmbedFallback;
// cmd/gryagd does not construct this client.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/thathunky/gryag/internal/llm"
)

type Client struct {
	sdk sdk.Client
	model string
	embeddingModel string
}

func New(apiKey, model, embeddingModel string) *Client {
	if model == "" {
 model = "gpt-4o-mini"
	}
	if embeddingModel == "" {
 embeddingModel = "text-embedding-3-small"
	}
	return &Client{
 sdk: sdk.NewClient(option.WithAPIKey(apiKey)),
 model: model,
 embeddingModel: embeddingModel,
	}
}

func (c *Client) SupportsSystemInstruction() bool { return true }

func (c *Client) Generate(ctx context.Context, req llm.GenerateRequest) (llm.Turn, error) {
	messages := make([]sdk.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
 messages = append(messages, sdk.SystemMessage(req.SystemPrompt))
	}
	for _, t := range req.History {
 messages = append(messages, toMessageParam(t))
	}
	messages = append(messages, toMessageParam(llm.Turn{Role: "user", Parts: req.UserParts}))

	params := sdk.ChatCompletionNewParams{
 Model: sdk.ChatModel(c.model),
 Messages: messages,
	}
	if len(req.Tools) > 0 {
 params.Tools = adaptTools(req.Tools)
	}

	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
 if isQuotaErr(err) {
 return llm.Turn{}, fmt.Errorf("%w: %v", llm.ErrQuotaExceeded, err)
 }
 return llm.Turn{}, err
	}
	if len(resp.Choices) == 0 {
 return llm.Turn{Role: "model"}, nil
	}
	return turnFromChoice(resp.Choices[0]), nil
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.sdk.Embeddings.New(ctx, sdk.EmbeddingNewParams{
 Model: sdk.EmbeddingModel(c.embeddingModel),
 Input: sdk.EmbeddingNewParamsInputUnion{OfString: sdk.String(text)},
	})
	if err != nil {
 if isQuotaErr(err) {
 return nil, fmt.Errorf("%w: %v", llm.ErrQuotaExceeded, err)
 }
 return nil, err
	}
	if len(resp.Data) == 0 {
 return []float32{}, nil
	}
	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
 vec[i] = float32(v)
	}
	return vec, nil
}

func toMessageParam(t llm.Turn) sdk.ChatCompletionMessageParamUnion {
	var text strings.Builder
	for _, p := range t.Parts {
 text.WriteString(p.Text)
	}
	switch t.Role {
	case "model":
 return sdk.AssistantMessage(text.String())
	case "tool":
 return sdk.ToolMessage(text.String(), "")
	default:
 return sdk.UserMessage(text.String())
	}
}

func turnFromChoice(choice sdk.ChatCompletionChoice) llm.Turn {
	turn := llm.Turn{Role: "model"}
	if choice.Message.Content != "" {
 turn.Parts = append(turn.Parts, llm.Part{Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
 var args map[string]any
 _ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
 turn.Parts = append(turn.Parts, llm.Part{FuncCall: &llm.FuncCall{Name: tc.Function.Name, Args: args}})
	}
	return turn
}

func adaptTools(decls []llm.ToolDecl) []sdk.ChatCompletionToolParam {
	out := make([]sdk.ChatCompletionToolParam, 0, len(decls))
	for _, d := range decls {
 out = append(out, sdk.ChatCompletionToolParam{
 Function: sdk.FunctionDefinitionParam{
 Name: d.Name,
 Description: sdk.String(d.Description),
 Parameters: sdk.FunctionParameters(d.Parameters),
 },
 })
	}
	return out
}

func isQuotaErr(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "rate_limit") || strings.Contains(s, "429") || strings.Contains(s, "quota")
}

// Package anthropic adapts github.com/anthropics/anthropic-sdk-go to the
// llm.Provider interface.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/thathunky/gryag/internal/llm"
)

const defaultMaxTokens int64 = 2048

// Client is a secondary Provider. cmd/gryagd does not construct it, and
// the Gateway has no cross-provider failover for Generate.
type Client struct {
	sdk anthropic.Client
	model string
}

func New(apiKey, model string) *Client {
	if model == "" {
 model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	return &Client{
 sdk: anthropic.NewClient(option.WithAPIKey(apiKey)),
 model: model,
	}
}

// SupportsSystemInstruction is true: Anthropic takes "system" as a
// top-level params field, not as a leading history turn, so the Gateway
// must not fold it into a user message (it is applied directly below).
func (c *Client) SupportsSystemInstruction() bool { return true }

func (c *Client) Generate(ctx context.Context, req llm.GenerateRequest) (llm.Turn, error) {
	messages := make([]anthropic.MessageParam, 0, len(req.History)+1)
	for _, t := range req.History {
 messages = append(messages, toMessageParam(t))
	}
	messages = append(messages, toMessageParam(llm.Turn{Role: "user", Parts: req.UserParts}))

	params := anthropic.MessageNewParams{
 Model: anthropic.Model(c.model),
 Messages: messages,
 MaxTokens: defaultMaxTokens,
	}
	if req.SystemPrompt != "" {
 params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if len(req.Tools) > 0 {
 params.Tools = adaptTools(req.Tools)
	}

	resp, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
 if isQuotaErr(err) {
 return llm.Turn{}, fmt.Errorf("%w: %v", llm.ErrQuotaExceeded, err)
 }
 return llm.Turn{}, err
	}
	return turnFromMessage(resp), nil
}

// Embed is unsupported: Anthropic offers no embeddings endpoint. With
// Anthropic as the primary provider, Gateway.Embed gets this error and
// uses its embedFallback provider when one is set.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, llm.ErrUnsupportedFeature
}

func toMessageParam(t llm.Turn) anthropic.MessageParam {
	role := anthropic.MessageParamRoleUser
	if t.Role == "model" {
 role = anthropic.MessageParamRoleAssistant
	}
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(t.Parts))
	for _, p := range t.Parts {
 if p.FuncCall != nil {
 blocks = append(blocks, anthropic.NewToolUseBlock(p.FuncCall.Name, p.FuncCall.Args, p.FuncCall.Name))
 continue
 }
 if t.Role == "tool" {
 blocks = append(blocks, anthropic.NewToolResultBlock(p.Text))
 continue
 }
 blocks = append(blocks, anthropic.NewTextBlock(p.Text))
	}
	if t.Role == "tool" {
 role = anthropic.MessageParamRoleUser
	}
	return anthropic.MessageParam{Role: role, Content: blocks}
}

func turnFromMessage(msg *anthropic.Message) llm.Turn {
	turn := llm.Turn{Role: "model"}
	for _, block := range msg.Content {
 switch b := block.AsAny.(type) {
 case anthropic.TextBlock:
 turn.Parts = append(turn.Parts, llm.Part{Text: b.Text})
 case anthropic.ThinkingBlock:
 turn.Parts = append(turn.Parts, llm.Part{Text: b.Thinking, Thought: true})
 case anthropic.ToolUseBlock:
 var args map[string]any
 _ = json.Unmarshal(b.Input, &args)
 turn.Parts = append(turn.Parts, llm.Part{FuncCall: &llm.FuncCall{Name: b.Name, Args: args}})
 }
	}
	return turn
}

func adaptTools(decls []llm.ToolDecl) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(decls))
	for _, d := range decls {
 out = append(out, anthropic.ToolUnionParam{
 OfTool: &anthropic.ToolParam{
 Name: d.Name,
 Description: anthropic.String(d.Description),
 },
 })
	}
	return out
}

func isQuotaErr(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "rate_limit") || strings.Contains(s, "429") || strings.Contains(s, "overloaded")
}

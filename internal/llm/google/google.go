// Package google adapts google.golang.org/genai (Gemini) to the
// llm.Provider interface.
package google

import (
	"context"
	"fmt"
	"strings"

	genai "google.golang.org/genai"

	"github.com/thathunky/gryag/internal/llm"
)

type Client struct {
	client *genai.Client
	model string
	embeddingModel string
	thinkingBudget int32
}

// New builds a Gemini-backed Provider for a single API key.
func New(ctx context.Context, apiKey, model, embeddingModel string, thinkingBudget int32) (*Client, error) {
	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
 return nil, fmt.Errorf("init google client: %w", err)
	}
	if model == "" {
 model = "gemini-2.0-flash"
	}
	if embeddingModel == "" {
 embeddingModel = "text-embedding-004"
	}
	return &Client{client: c, model: model, embeddingModel: embeddingModel, thinkingBudget: thinkingBudget}, nil
}

func (c *Client) SupportsSystemInstruction() bool { return true }

func (c *Client) Generate(ctx context.Context, req llm.GenerateRequest) (llm.Turn, error) {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, t := range req.History {
 contents = append(contents, toContent(t))
	}
	contents = append(contents, toContent(llm.Turn{Role: "user", Parts: req.UserParts}))

	cfg := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
 cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
 cfg.Tools = []*genai.Tool{{FunctionDeclarations: adaptTools(req.Tools)}}
	}
	if c.thinkingBudget > 0 {
 cfg.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true, ThinkingBudget: &c.thinkingBudget}
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
 if isQuotaErr(err) {
 return llm.Turn{}, fmt.Errorf("%w: %v", llm.ErrQuotaExceeded, err)
 }
 if isGroundingUnsupported(err) {
 return llm.Turn{}, fmt.Errorf("search grounding not supported: %w", err)
 }
 return llm.Turn{}, err
	}
	return turnFromResponse(resp)
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.Models.EmbedContent(ctx, c.embeddingModel, []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}, nil)
	if err != nil {
 if isQuotaErr(err) {
 return nil, fmt.Errorf("%w: %v", llm.ErrQuotaExceeded, err)
 }
 return nil, err
	}
	if len(resp.Embeddings) == 0 {
 return []float32{}, nil
	}
	return resp.Embeddings[0].Values, nil
}

func toContent(t llm.Turn) *genai.Content {
	role := genai.RoleUser
	if t.Role == "model" {
 role = genai.RoleModel
	}
	parts := make([]*genai.Part, 0, len(t.Parts))
	for _, p := range t.Parts {
 if p.FuncCall != nil {
 parts = append(parts, genai.NewPartFromFunctionCall(p.FuncCall.Name, p.FuncCall.Args))
 continue
 }
 if t.Role == "tool" {
 parts = append(parts, genai.NewPartFromFunctionResponse("tool", map[string]any{"output": p.Text}))
 continue
 }
 parts = append(parts, &genai.Part{Text: p.Text})
	}
	if t.Role == "tool" {
 role = genai.RoleUser
	}
	return &genai.Content{Role: role, Parts: parts}
}

func turnFromResponse(resp *genai.GenerateContentResponse) (llm.Turn, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
 return llm.Turn{Role: "model"}, nil
	}
	turn := llm.Turn{Role: "model"}
	for _, part := range resp.Candidates[0].Content.Parts {
 if part == nil {
 continue
 }
 if part.FunctionCall != nil {
 turn.Parts = append(turn.Parts, llm.Part{
 FuncCall: &llm.FuncCall{Name: part.FunctionCall.Name, Args: part.FunctionCall.Args},
 })
 continue
 }
 if part.Text == "" {
 continue
 }
 turn.Parts = append(turn.Parts, llm.Part{Text: part.Text, Thought: part.Thought})
	}
	return turn, nil
}

func adaptTools(decls []llm.ToolDecl) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, d := range decls {
 out = append(out, &genai.FunctionDeclaration{
 Name: d.Name,
 Description: d.Description,
 ParametersJsonSchema: d.Parameters,
 })
	}
	return out
}

func isQuotaErr(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "quota") || strings.Contains(s, "429") || strings.Contains(s, "resource_exhausted")
}

func isGroundingUnsupported(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "search") && strings.Contains(s, "not supported")
}

package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"finsight/internal/config"
	"finsight/internal/logging"
	"finsight/internal/types"
)

// =============================================================================
// GEMINI CLIENT
// =============================================================================

// GeminiClient implements types.LLMClient against the Gemini API.
type GeminiClient struct {
	client      *genai.Client
	model       string
	maxTokens   int32
	temperature float32
}

// NewGeminiClient creates a Gemini-backed client.
func NewGeminiClient(cfg config.LLMConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	maxTokens := int32(cfg.MaxOutputTokens)
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client:      client,
		model:       model,
		maxTokens:   maxTokens,
		temperature: float32(cfg.Temperature),
	}, nil
}

// Complete generates a single completion for a bare prompt.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem generates a completion with a system instruction.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	timer := logging.StartTimer(logging.CategoryAPI, "CompleteWithSystem")
	defer timer.Stop()

	contents := []*genai.Content{
		genai.NewContentFromText(userPrompt, genai.RoleUser),
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, c.generateConfig(systemPrompt, nil))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	text := resp.Text()
	logging.APIDebug("CompleteWithSystem: %d chars returned", len(text))
	return text, nil
}

// CompleteWithTools runs one planning turn over the conversation, returning
// text, any requested tool calls, and usage counters.
func (c *GeminiClient) CompleteWithTools(ctx context.Context, systemPrompt string, messages []types.Message, tools []types.ToolDefinition) (*types.LLMToolResponse, error) {
	timer := logging.StartTimer(logging.CategoryAPI, "CompleteWithTools")
	defer timer.Stop()

	contents := buildContents(messages)
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, c.generateConfig(systemPrompt, tools))
	if err != nil {
		return nil, fmt.Errorf("gemini generate with tools: %w", err)
	}

	out := &types.LLMToolResponse{
		Text:       resp.Text(),
		StopReason: "end_turn",
	}

	for i, fc := range resp.FunctionCalls() {
		id := fc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		out.ToolCalls = append(out.ToolCalls, types.ToolCall{
			ID:    id,
			Name:  fc.Name,
			Input: fc.Args,
		})
	}
	if len(out.ToolCalls) > 0 {
		out.StopReason = "tool_use"
	}

	if um := resp.UsageMetadata; um != nil {
		out.Usage = types.UsageMetadata{
			InputTokens:  int(um.PromptTokenCount),
			OutputTokens: int(um.CandidatesTokenCount),
			TotalTokens:  int(um.TotalTokenCount),
		}
	}

	logging.APIDebug("CompleteWithTools: stop=%s tool_calls=%d tokens=%d",
		out.StopReason, len(out.ToolCalls), out.Usage.TotalTokens)
	return out, nil
}

// CompleteStream streams a completion chunk by chunk through emit. A non-nil
// error from emit aborts the stream and is returned as-is.
func (c *GeminiClient) CompleteStream(ctx context.Context, systemPrompt string, messages []types.Message, emit func(text string) error) error {
	timer := logging.StartTimer(logging.CategoryAPI, "CompleteStream")
	defer timer.Stop()

	contents := buildContents(messages)
	for resp, err := range c.client.Models.GenerateContentStream(ctx, c.model, contents, c.generateConfig(systemPrompt, nil)) {
		if err != nil {
			return fmt.Errorf("gemini stream: %w", err)
		}
		chunk := resp.Text()
		if chunk == "" {
			continue
		}
		if err := emit(chunk); err != nil {
			return err
		}
	}
	return nil
}

// generateConfig assembles the per-request generation settings.
func (c *GeminiClient) generateConfig(systemPrompt string, tools []types.ToolDefinition) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: c.maxTokens,
		Temperature:     genai.Ptr(c.temperature),
	}
	if systemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	if len(tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(tools))
		for i, t := range tools {
			decls[i] = &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.InputSchema,
			}
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return cfg
}

// buildContents maps conversation turns onto Gemini contents. Assistant
// turns become model turns carrying any function calls; tool turns become
// user turns carrying the function responses.
func buildContents(messages []types.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case types.RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   tc.ID,
						Name: tc.Name,
						Args: tc.Input,
					},
				})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))

		case types.RoleTool:
			var parts []*genai.Part
			for _, tr := range m.ToolResults {
				response := map[string]any{"output": tr.Content}
				if tr.IsError {
					response = map[string]any{"error": tr.Content}
				}
				parts = append(parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						ID:       tr.CallID,
						Name:     tr.Name,
						Response: response,
					},
				})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))

		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return contents
}

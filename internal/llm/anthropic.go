package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/vicpeacock/knowledge-navigator/internal/config"
)

// Anthropic talks to the Claude Messages API. Route requests go to the
// configured router model, Generate requests to the main model.
type Anthropic struct {
	client      anthropic.Client
	model       string
	routerModel string
	maxTokens   int
}

// NewAnthropic creates the adapter. The API key comes from the config,
// which in turn honors ANTHROPIC_API_KEY.
func NewAnthropic(cfg config.LLMConfig) *Anthropic {
	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	return &Anthropic{
		client:      anthropic.NewClient(opts...),
		model:       cfg.Model,
		routerModel: cfg.RouterModel,
		maxTokens:   cfg.MaxTokens,
	}
}

// Route asks the router model a single question and returns its raw text.
func (a *Anthropic) Route(ctx context.Context, prompt string) (string, error) {
	reply, err := a.Generate(ctx, Request{
		Model:     a.routerModel,
		Messages:  []Message{{Role: "user", Content: prompt}},
		MaxTokens: 512,
	})
	if err != nil {
		return "", err
	}
	return reply.Text, nil
}

// Generate sends one Messages API call and maps the response back.
func (a *Anthropic) Generate(ctx context.Context, req Request) (*Reply, error) {
	model := req.Model
	if model == "" {
		model = a.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  buildMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}

	reply := &Reply{StopReason: string(resp.StopReason)}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			reply.Text += block.AsText().Text
		case "tool_use":
			tu := block.AsToolUse()
			call := ToolCall{ID: tu.ID, Name: tu.Name}
			if raw, err := json.Marshal(tu.Input); err == nil {
				json.Unmarshal(raw, &call.Params)
			}
			reply.Calls = append(reply.Calls, call)
		}
	}
	return reply, nil
}

func buildMessages(msgs []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		var blocks []anthropic.ContentBlockParamUnion

		for _, o := range m.Outcomes {
			blocks = append(blocks, anthropic.NewToolResultBlock(o.CallID, o.Content, o.IsError))
		}
		if m.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(m.Content))
		}
		for _, c := range m.Calls {
			blocks = append(blocks, anthropic.NewToolUseBlock(c.ID, c.Params, c.Name))
		}
		if len(blocks) == 0 {
			continue
		}

		if m.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func buildTools(defs []ToolDef) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, len(defs))
	for i, def := range defs {
		schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if def.InputSchema != nil {
			if props, ok := def.InputSchema["properties"]; ok {
				schema.Properties = props
			}
			if req, ok := def.InputSchema["required"]; ok {
				switch v := req.(type) {
				case []string:
					schema.Required = v
				case []any:
					for _, r := range v {
						if s, ok := r.(string); ok {
							schema.Required = append(schema.Required, s)
						}
					}
				}
			}
		}
		tool := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if def.Description != "" && tool.OfTool != nil {
			tool.OfTool.Description = anthropic.String(def.Description)
		}
		tools[i] = tool
	}
	return tools
}

// Package rpcdispatcher is the MCP boundary that maps
// tools/call("promptmcp.enhance") onto the orchestrator: one *mcp.Tool
// registration, an argument extractor that decodes the request's raw
// JSON arguments into a map (absent arguments become an empty map), and a
// single error-result constructor.
package rpcdispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"promptmcp/model"
	"promptmcp/orchestrator"
)

const toolName = "promptmcp.enhance"

// Dispatcher registers and serves the promptmcp.enhance tool.
type Dispatcher struct {
	orchestrator *orchestrator.Orchestrator
}

// New constructs a Dispatcher around orch.
func New(orch *orchestrator.Orchestrator) *Dispatcher {
	return &Dispatcher{orchestrator: orch}
}

// Register adds the promptmcp.enhance tool to server. tools/list then
// reports exactly one descriptor with this schema.
func (d *Dispatcher) Register(server *mcp.Server) error {
	tool := &mcp.Tool{
		Name: toolName,
		Description: "Enrich a raw developer prompt with framework documentation, " +
			"project facts and code snippets, outstanding todos, and an optional task breakdown.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"prompt": {
					Type:        "string",
					Description: "The raw user prompt to enhance. Must be non-empty.",
				},
				"context": {
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"file":      {Type: "string"},
						"framework": {Type: "string"},
						"style":     {Type: "string"},
						"projectId": {Type: "string"},
					},
				},
				"options": {
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"useCache":            {Type: "boolean"},
						"maxTokens":           {Type: "integer"},
						"includeMetadata":     {Type: "boolean"},
						"includeBreakdown":    {Type: "boolean"},
						"maxTasks":            {Type: "integer"},
						"useAIEnhancement":    {Type: "boolean"},
						"enhancementStrategy": {Type: "string", Enum: []any{"framework-specific", "quality-focused", "project-aware", "general"}},
						"qualityFocus": {
							Type:  "array",
							Items: &jsonschema.Schema{Type: "string", Enum: []any{"accessibility", "performance", "security", "testing"}},
						},
					},
				},
			},
			Required: []string{"prompt"},
		},
	}

	server.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return d.handleEnhance(ctx, req), nil
	})

	return nil
}

type contextArgs struct {
	File      string `json:"file"`
	Framework string `json:"framework"`
	Style     string `json:"style"`
	ProjectID string `json:"projectId"`
}

type optionsArgs struct {
	UseCache            *bool    `json:"useCache"`
	MaxTokens           int      `json:"maxTokens"`
	IncludeMetadata     bool     `json:"includeMetadata"`
	IncludeBreakdown    *bool    `json:"includeBreakdown"`
	MaxTasks            int      `json:"maxTasks"`
	UseAIEnhancement    *bool    `json:"useAIEnhancement"`
	EnhancementStrategy string   `json:"enhancementStrategy"`
	QualityFocus        []string `json:"qualityFocus"`
}

type enhanceArgs struct {
	Prompt  string      `json:"prompt"`
	Context contextArgs `json:"context"`
	Options optionsArgs `json:"options"`
}

func (d *Dispatcher) handleEnhance(ctx context.Context, req *mcp.CallToolRequest) *mcp.CallToolResult {
	args, err := extractArguments(req)
	if err != nil {
		return errorResult(-32602, fmt.Sprintf("invalid params: %s", err.Error()))
	}

	parsed, err := parseEnhanceArgs(args)
	if err != nil {
		return errorResult(-32602, fmt.Sprintf("invalid params: %s", err.Error()))
	}

	ectx := model.EnhanceContext{
		File:      parsed.Context.File,
		Framework: parsed.Context.Framework,
		Style:     parsed.Context.Style,
		ProjectID: parsed.Context.ProjectID,
	}

	opts := orchestrator.Options{
		UseCache:            boolOr(parsed.Options.UseCache, true),
		MaxTokens:           parsed.Options.MaxTokens,
		IncludeMetadata:     parsed.Options.IncludeMetadata,
		IncludeBreakdown:    parsed.Options.IncludeBreakdown,
		MaxTasks:            parsed.Options.MaxTasks,
		UseAIEnhancement:    boolOr(parsed.Options.UseAIEnhancement, true),
		EnhancementStrategy: parsed.Options.EnhancementStrategy,
		QualityFocus:        parsed.Options.QualityFocus,
	}

	resp, outcome := d.orchestrator.Enhance(ctx, parsed.Prompt, ectx, opts)
	if outcome != nil {
		return errorResult(codeFor(outcome), outcome.Message)
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return errorResult(-32000, "failed to serialize enhanced response")
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(body)}},
	}
}

func parseEnhanceArgs(args map[string]any) (enhanceArgs, error) {
	prompt, _ := args["prompt"].(string)
	if prompt == "" {
		return enhanceArgs{}, fmt.Errorf("prompt is required and must be a non-empty string")
	}

	var parsed enhanceArgs
	parsed.Prompt = prompt

	body, err := json.Marshal(args)
	if err != nil {
		return enhanceArgs{}, fmt.Errorf("arguments must be serializable: %w", err)
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return enhanceArgs{}, fmt.Errorf("arguments do not match the expected schema: %w", err)
	}
	return parsed, nil
}

// extractArguments decodes a CallToolRequest's raw JSON arguments into a
// map, returning an empty map when none were sent and an error when they
// are not a JSON object.
func extractArguments(req *mcp.CallToolRequest) (map[string]any, error) {
	if len(req.Params.Arguments) == 0 {
		return make(map[string]any), nil
	}

	var result map[string]any
	if err := json.Unmarshal(req.Params.Arguments, &result); err != nil {
		return nil, fmt.Errorf("arguments must be unmarshable to an object: %w", err)
	}
	return result, nil
}

// errorResult builds a sanitized tool-error result. The JSON-RPC-style
// code is embedded in the message rather than the envelope because the
// MCP SDK reports tool failures via CallToolResult.IsError, not a raw
// JSON-RPC error object; the SDK's own dispatch already returns
// -32601/-32600 for unknown methods and malformed frames ahead of ever
// reaching this handler.
func errorResult(code int, message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("[%d] %s", code, message)}},
		IsError: true,
	}
}

func codeFor(outcome *model.Outcome) int {
	switch outcome.Kind {
	case model.KindValidation:
		return -32602
	default:
		return -32000
	}
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

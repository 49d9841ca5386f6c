package rpcdispatcher

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptmcp/frameworkdetector"
	"promptmcp/model"
	"promptmcp/orchestrator"
	"promptmcp/promptanalyzer"
	"promptmcp/promptcache"
)

func newTestDispatcher() *Dispatcher {
	orch := orchestrator.New(orchestrator.Capabilities{
		Cache:          promptcache.Open(promptcache.Config{}),
		PromptAnalyzer: promptanalyzer.New(nil),
		Detector:       frameworkdetector.New(nil),
	})
	return New(orch)
}

func TestHandleEnhanceEmptyPromptIsInvalidParams(t *testing.T) {
	d := newTestDispatcher()
	req := &mcp.CallToolRequest{Params: &mcp.CallToolParamsRaw{}}
	body, _ := json.Marshal(map[string]any{"prompt": ""})
	req.Params.Arguments = json.RawMessage(body)

	result := d.handleEnhance(context.Background(), req)
	require.True(t, result.IsError)
	text := result.Content[0].(*mcp.TextContent).Text
	assert.Contains(t, text, "-32602")
}

func TestHandleEnhanceMissingArgumentsMap(t *testing.T) {
	d := newTestDispatcher()
	req := &mcp.CallToolRequest{Params: &mcp.CallToolParamsRaw{}}

	result := d.handleEnhance(context.Background(), req)
	require.True(t, result.IsError)
}

func TestHandleEnhanceHappyPath(t *testing.T) {
	d := newTestDispatcher()
	req := &mcp.CallToolRequest{Params: &mcp.CallToolParamsRaw{}}
	body, _ := json.Marshal(map[string]any{
		"prompt":  "How do I create a button?",
		"context": map[string]any{"framework": "react"},
	})
	req.Params.Arguments = json.RawMessage(body)

	result := d.handleEnhance(context.Background(), req)
	require.False(t, result.IsError)
	require.Len(t, result.Content, 1)

	var resp model.EnhancedResponse
	text := result.Content[0].(*mcp.TextContent).Text
	require.NoError(t, json.Unmarshal([]byte(text), &resp))
	assert.True(t, resp.Success)
	assert.Contains(t, resp.EnhancedPrompt, "How do I create a button?")
}

func TestParseEnhanceArgsDefaults(t *testing.T) {
	parsed, err := parseEnhanceArgs(map[string]any{"prompt": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", parsed.Prompt)
	assert.Nil(t, parsed.Options.UseCache)
}

package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptmcp/curator"
	"promptmcp/frameworkdetector"
	"promptmcp/llmclient"
	"promptmcp/model"
	"promptmcp/promptanalyzer"
	"promptmcp/promptcache"
)

func newTestOrchestrator() *Orchestrator {
	return New(Capabilities{
		Cache:           promptcache.Open(promptcache.Config{}),
		PromptAnalyzer:  promptanalyzer.New(nil),
		Detector:        frameworkdetector.New(nil),
		MaxTasksDefault: 10,
	})
}

func TestEnhanceRejectsEmptyPrompt(t *testing.T) {
	o := newTestOrchestrator()
	_, outcome := o.Enhance(context.Background(), "", model.EnhanceContext{}, Options{})
	require.NotNil(t, outcome)
	assert.Equal(t, model.KindValidation, outcome.Kind)
}

func TestEnhanceSimplePromptSucceeds(t *testing.T) {
	o := newTestOrchestrator()
	resp, outcome := o.Enhance(context.Background(), "How do I create a button?", model.EnhanceContext{}, Options{UseCache: true})
	require.Nil(t, outcome)
	assert.True(t, resp.Success)
	assert.Contains(t, resp.EnhancedPrompt, "How do I create a button?")
	assert.Nil(t, resp.Breakdown)
}

func TestEnhanceFrameworkDetected(t *testing.T) {
	o := newTestOrchestrator()
	resp, outcome := o.Enhance(context.Background(), "Create a React component that displays a list of users",
		model.EnhanceContext{Framework: "react"}, Options{UseCache: true})
	require.Nil(t, outcome)
	assert.Contains(t, resp.FrameworksDetected, "react")
	assert.Empty(t, resp.ContextUsed.Context7Docs) // Context7 disabled in this fixture
}

func TestEnhanceCacheRoundTripIsByteIdentical(t *testing.T) {
	o := newTestOrchestrator()
	prompt := "Create a React component that displays a list of users with search functionality"
	ectx := model.EnhanceContext{Framework: "react"}

	first, outcome := o.Enhance(context.Background(), prompt, ectx, Options{UseCache: true})
	require.Nil(t, outcome)

	second, outcome := o.Enhance(context.Background(), prompt, ectx, Options{UseCache: true})
	require.Nil(t, outcome)

	assert.Equal(t, first.EnhancedPrompt, second.EnhancedPrompt)

	stats := o.caps.Cache.Stats()
	assert.Equal(t, 1, stats.TotalHits)
	assert.Equal(t, 1, stats.TotalMisses)
}

func TestEnhanceTokenBudgetRespected(t *testing.T) {
	o := newTestOrchestrator()
	resp, outcome := o.Enhance(context.Background(), "Build a full-stack app with auth, chat, and uploads using Next.js, TypeScript, and PostgreSQL",
		model.EnhanceContext{}, Options{UseCache: false, MaxTokens: 200})
	require.Nil(t, outcome)
	assert.LessOrEqual(t, (len(resp.EnhancedPrompt)+3)/4, 200)
}

func TestCurateDocsGatedOnUseAIEnhancement(t *testing.T) {
	// A wired curator with a fake LLM would rewrite content; with
	// useAIEnhancement=false the raw documentation must pass through.
	llm := &llmclient.Fake{Response: llmclient.CompletionResult{Text: `{"score": 9, "confidence": 0.9}`}}
	o := New(Capabilities{Curator: curator.New(llm, curator.Config{})})

	docs := []model.Documentation{{LibraryID: "/facebook/react", Content: "raw react docs"}}
	libraries, metrics := o.curateDocs(context.Background(), docs, "prompt", "fp", false)

	require.Len(t, libraries, 1)
	assert.Equal(t, "raw react docs", libraries[0].Content)
	require.NotNil(t, metrics)
	assert.False(t, metrics.CurationEnabled)
	assert.Empty(t, llm.Calls, "curator must not be invoked when AI enhancement is off")
}

func TestEnhanceNoFrameworkStillSucceeds(t *testing.T) {
	o := newTestOrchestrator()
	resp, outcome := o.Enhance(context.Background(), "asdkjalksdjalksjd qwoieuqwoiue", model.EnhanceContext{}, Options{})
	require.Nil(t, outcome)
	assert.True(t, resp.Success)
	assert.Empty(t, resp.FrameworksDetected)
}

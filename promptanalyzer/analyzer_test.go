package promptanalyzer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"promptmcp/llmclient"
	"promptmcp/model"
)

func TestAnalyzeSimpleHeuristic(t *testing.T) {
	a := New(nil)
	c := a.Analyze(context.Background(), "How do I create a button?", "")
	assert.Equal(t, model.ComplexitySimple, c.Level)
	assert.Equal(t, model.StrategyMinimal, c.Strategy)
	assert.Equal(t, heuristicConfidence, c.Confidence)
}

func TestAnalyzeComplexHeuristicOnTechnologyCount(t *testing.T) {
	a := New(nil)
	c := a.Analyze(context.Background(), "Build a full-stack application with user authentication, real-time chat, and file upload using Next.js, TypeScript, and PostgreSQL", "")
	assert.Equal(t, model.ComplexityComplex, c.Level)
	assert.Equal(t, model.StrategyComprehensive, c.Strategy)
	assert.GreaterOrEqual(t, c.EstimatedTokens, 600)
}

func TestAnalyzeMediumHeuristic(t *testing.T) {
	a := New(nil)
	c := a.Analyze(context.Background(), "Can you help me add a loading spinner to this component while the api query runs?", "")
	assert.Equal(t, model.ComplexityMedium, c.Level)
}

func TestAnalyzeAIOverrideWithValidReply(t *testing.T) {
	fake := &llmclient.Fake{Response: llmclient.CompletionResult{
		Text: `{"level":"complex","expertise":"advanced","strategy":"comprehensive","estimatedTokens":900,"confidence":0.95}`,
	}}
	a := New(fake)
	c := a.Analyze(context.Background(), "quick fix", "")
	assert.Equal(t, model.ComplexityComplex, c.Level)
	assert.Equal(t, 900, c.EstimatedTokens)
	assert.Equal(t, 0.95, c.Confidence)
}

func TestAnalyzeAIFallsBackOnMalformedReply(t *testing.T) {
	fake := &llmclient.Fake{Response: llmclient.CompletionResult{Text: "not json"}}
	a := New(fake)
	c := a.Analyze(context.Background(), "How do I create a button?", "")
	assert.Equal(t, model.ComplexitySimple, c.Level)
}

func TestAnalyzeAIFallsBackOnError(t *testing.T) {
	fake := &llmclient.Fake{Err: assertErr{}}
	a := New(fake)
	c := a.Analyze(context.Background(), "How do I create a button?", "")
	assert.Equal(t, model.ComplexitySimple, c.Level)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

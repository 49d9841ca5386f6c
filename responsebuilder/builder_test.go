package responsebuilder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"promptmcp/model"
)

func TestBuildPreservesOriginalPromptVerbatim(t *testing.T) {
	prompt := "How do I create a button?\n\n"
	resp := Build(Input{Prompt: prompt})
	assert.Contains(t, resp.EnhancedPrompt, prompt)
	assert.True(t, resp.Success)
}

func TestBuildRespectsTokenBudget(t *testing.T) {
	facts := model.RepoFacts{}
	for i := 0; i < 200; i++ {
		facts = append(facts, strings.Repeat("fact ", 20))
	}
	resp := Build(Input{
		Prompt:    "short prompt",
		Facts:     facts,
		MaxTokens: 100,
	})
	assert.LessOrEqual(t, estimateTokens(resp.EnhancedPrompt), 100)
}

func TestBuildDropsLowerPrioritySectionsFirst(t *testing.T) {
	in := Input{
		Prompt:    "x",
		Detection: model.FrameworkDetectionResult{Frameworks: []string{"react"}, Method: model.MethodPattern, Confidence: 0.9},
		Facts:     model.RepoFacts{"fact one"},
		Snippets:  []model.CodeSnippet{{FilePath: "a.go", Content: strings.Repeat("code ", 500), Relevance: 0.9}},
		MaxTokens: 40,
	}
	resp := Build(in)
	assert.Contains(t, resp.EnhancedPrompt, "Detected Frameworks")
	assert.NotContains(t, resp.EnhancedPrompt, "Code Snippets")
}

func TestBuildDeterministic(t *testing.T) {
	in := Input{
		Prompt:    "Build a React app",
		Detection: model.FrameworkDetectionResult{Frameworks: []string{"react"}, Method: model.MethodPattern, Confidence: 0.8},
		Facts:     model.RepoFacts{"Project uses Go modules (go.mod)"},
	}
	r1 := Build(in)
	r2 := Build(in)
	assert.Equal(t, r1.EnhancedPrompt, r2.EnhancedPrompt)
}

func TestBuildOmitsAbsentOptionalSections(t *testing.T) {
	resp := Build(Input{Prompt: "hello"})
	assert.NotContains(t, resp.EnhancedPrompt, "Task Breakdown")
	assert.NotContains(t, resp.EnhancedPrompt, "Current Project Tasks")
	assert.Nil(t, resp.Breakdown)
}

package curator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptmcp/llmclient"
	"promptmcp/model"
)

func docFixture() model.Documentation {
	return model.Documentation{
		LibraryID: "/facebook/react",
		Topic:     "hooks",
		Content:   "<p>Use <b>useState</b> for local component state. Example: const [x, setX] = useState(0);</p>",
	}
}

func TestCurateMissPassesThrough(t *testing.T) {
	c := New(nil, Config{})
	result := c.Curate(context.Background(), model.Documentation{}, "prompt", "fp")
	assert.True(t, result.Original.IsMiss())
	assert.Empty(t, result.Content)
}

func TestCurateWithoutProviderSanitizesOnly(t *testing.T) {
	c := New(nil, Config{})
	result := c.Curate(context.Background(), docFixture(), "use hooks", "fp1")
	assert.NotContains(t, result.Content, "<b>")
	assert.Contains(t, result.Content, "useState")
}

func TestCurateLowQualityReturnsVerbatim(t *testing.T) {
	fake := &llmclient.Fake{Response: llmclient.CompletionResult{Text: `{"score": 2, "confidence": 0.9}`}}
	c := New(fake, Config{QualityFloor: 6})
	result := c.Curate(context.Background(), docFixture(), "use hooks", "fp2")
	assert.Equal(t, 2.0, result.QualityScore)
	assert.Equal(t, 0.0, result.TokenReduction)
}

func TestCurateHighQualityRunsFullPipeline(t *testing.T) {
	responses := []llmclient.CompletionResult{
		{Text: `{"score": 9, "confidence": 0.8}`},
		{Text: `{"keyPatterns": ["hooks"], "bestPractices": ["use functional components"], "codeExamples": ["useState(0)"]}`},
		{Text: "Compressed docs about useState."},
	}
	fake := &sequencedFake{responses: responses}
	c := New(fake, Config{QualityFloor: 6})

	result := c.Curate(context.Background(), docFixture(), "use hooks", "fp3")
	assert.Equal(t, 9.0, result.QualityScore)
	assert.Equal(t, []string{"hooks"}, result.KeyPatterns)
	assert.NotEmpty(t, result.Content)
}

func TestCurateResultIsCached(t *testing.T) {
	calls := 0
	fake := &countingFake{onCall: func() { calls++ }, response: llmclient.CompletionResult{Text: `{"score": 2, "confidence": 0.9}`}}
	c := New(fake, Config{QualityFloor: 6})

	c.Curate(context.Background(), docFixture(), "use hooks", "fp4")
	c.Curate(context.Background(), docFixture(), "use hooks", "fp4")

	assert.Equal(t, 1, calls)
}

type sequencedFake struct {
	responses []llmclient.CompletionResult
	i         int
}

func (f *sequencedFake) Complete(ctx context.Context, req llmclient.CompletionRequest) (llmclient.CompletionResult, error) {
	if f.i >= len(f.responses) {
		return llmclient.CompletionResult{}, nil
	}
	r := f.responses[f.i]
	f.i++
	return r, nil
}

type countingFake struct {
	onCall   func()
	response llmclient.CompletionResult
}

func (f *countingFake) Complete(ctx context.Context, req llmclient.CompletionRequest) (llmclient.CompletionResult, error) {
	f.onCall()
	return f.response, nil
}

func TestCurateFixture(t *testing.T) {
	require.NotEmpty(t, docFixture().Content)
}

package llmclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDisabledWithoutAPIKey(t *testing.T) {
	p, err := New(Config{Provider: "openai", APIKey: ""})
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestNewUnsupportedProvider(t *testing.T) {
	_, err := New(Config{Provider: "watson", APIKey: "x"})
	assert.Error(t, err)
}

func TestStructuredRequestCapsTemperature(t *testing.T) {
	req := StructuredRequest("sys", "user", 500)
	assert.LessOrEqual(t, req.Temperature, 0.3)
}

func TestFakeProviderRecordsCalls(t *testing.T) {
	f := &Fake{Response: CompletionResult{Text: "ok"}}
	res, err := f.Complete(context.Background(), StructuredRequest("s", "u", 10))
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
	assert.Len(t, f.Calls, 1)

	f2 := &Fake{Err: errors.New("boom")}
	_, err = f2.Complete(context.Background(), StructuredRequest("s", "u", 10))
	assert.Error(t, err)
}

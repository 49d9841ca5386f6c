package taskbreakdown

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptmcp/llmclient"
	"promptmcp/model"
)

type fakeStore struct {
	plan    model.TaskPlan
	called  bool
	failErr error
}

func (f *fakeStore) CreateTasksFromBreakdown(ctx context.Context, plan model.TaskPlan) error {
	f.called = true
	if f.failErr != nil {
		return f.failErr
	}
	f.plan = plan
	return nil
}

func TestBreakdownNilLLMReturnsNil(t *testing.T) {
	e := New(nil, nil)
	assert.Nil(t, e.Breakdown(context.Background(), Request{Prompt: "build a thing"}))
}

func TestBreakdownHappyPath(t *testing.T) {
	fake := &llmclient.Fake{Response: llmclient.CompletionResult{Text: `{
		"mainTasks": [
			{"title": "Set up auth", "description": "d", "priority": "high", "category": "backend", "estimatedHours": 4},
			{"title": "Build chat UI", "description": "d", "priority": "medium", "category": "frontend", "estimatedHours": 6}
		],
		"subtasks": [
			{"parentTaskTitle": "Set up auth", "title": "Add login form", "description": "d", "estimatedHours": 2}
		],
		"dependencies": [
			{"taskTitle": "Build chat UI", "dependsOnTaskTitle": "Set up auth"}
		]
	}`}}
	store := &fakeStore{}
	e := New(fake, store)
	view := e.Breakdown(context.Background(), Request{Prompt: "build auth and chat", ProjectID: "p1", MaxTasks: 6})

	require.NotNil(t, view)
	assert.True(t, view.Success)
	assert.Len(t, view.MainTasks, 2)
	assert.Len(t, view.Subtasks, 1)
	assert.Len(t, view.Dependencies, 1)
	assert.True(t, store.called)
	for _, d := range view.Dependencies {
		assert.NotEqual(t, d.TaskID, d.DependsOnTaskID)
	}
}

func TestBreakdownDuplicateTitlesFailsWithoutPersisting(t *testing.T) {
	fake := &llmclient.Fake{Response: llmclient.CompletionResult{Text: `{
		"mainTasks": [
			{"title": "Dup", "priority": "medium"},
			{"title": "Dup", "priority": "medium"}
		]
	}`}}
	store := &fakeStore{}
	e := New(fake, store)
	view := e.Breakdown(context.Background(), Request{Prompt: "x"})

	require.NotNil(t, view)
	assert.False(t, view.Success)
	assert.False(t, store.called)
}

func TestBreakdownCyclicDependencyFails(t *testing.T) {
	fake := &llmclient.Fake{Response: llmclient.CompletionResult{Text: `{
		"mainTasks": [{"title": "A"}, {"title": "B"}],
		"dependencies": [
			{"taskTitle": "A", "dependsOnTaskTitle": "B"},
			{"taskTitle": "B", "dependsOnTaskTitle": "A"}
		]
	}`}}
	store := &fakeStore{}
	e := New(fake, store)
	view := e.Breakdown(context.Background(), Request{Prompt: "x"})

	require.NotNil(t, view)
	assert.False(t, view.Success)
	assert.False(t, store.called)
}

func TestBreakdownMaxTasksCap(t *testing.T) {
	fake := &llmclient.Fake{Response: llmclient.CompletionResult{Text: `{
		"mainTasks": [
			{"title": "1"}, {"title": "2"}, {"title": "3"}, {"title": "4"}
		]
	}`}}
	store := &fakeStore{}
	e := New(fake, store)
	view := e.Breakdown(context.Background(), Request{Prompt: "x", MaxTasks: 2})

	require.NotNil(t, view)
	assert.True(t, view.Success)
	assert.Len(t, view.MainTasks, 2)
}

type fakeDocs struct {
	content string
	err     error
}

func (f *fakeDocs) DocsForFramework(ctx context.Context, framework string, tokenBudget int) (string, error) {
	return f.content, f.err
}

func TestBreakdownIncludesFrameworkDocsInPrompt(t *testing.T) {
	fake := &llmclient.Fake{Response: llmclient.CompletionResult{Text: `{"mainTasks": [{"title": "T"}]}`}}
	e := NewWithDocs(fake, nil, &fakeDocs{content: "Use functional components."})
	view := e.Breakdown(context.Background(), Request{Prompt: "build a dashboard", Frameworks: []string{"react"}})

	require.NotNil(t, view)
	require.Len(t, fake.Calls, 1)
	assert.Contains(t, fake.Calls[0].User, "react documentation:")
	assert.Contains(t, fake.Calls[0].User, "Use functional components.")
}

func TestBreakdownDocsFetchFailureIsNonFatal(t *testing.T) {
	fake := &llmclient.Fake{Response: llmclient.CompletionResult{Text: `{"mainTasks": [{"title": "T"}]}`}}
	e := NewWithDocs(fake, nil, &fakeDocs{err: context.DeadlineExceeded})
	view := e.Breakdown(context.Background(), Request{Prompt: "build a dashboard", Frameworks: []string{"react"}})

	require.NotNil(t, view)
	assert.True(t, view.Success)
	require.Len(t, fake.Calls, 1)
	assert.NotContains(t, fake.Calls[0].User, "documentation:")
}

func TestBreakdownMalformedReplyFails(t *testing.T) {
	fake := &llmclient.Fake{Response: llmclient.CompletionResult{Text: "not json"}}
	e := New(fake, &fakeStore{})
	view := e.Breakdown(context.Background(), Request{Prompt: "x"})
	require.NotNil(t, view)
	assert.False(t, view.Success)
}

package todostore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptmcp/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "todos.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndListTodos(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	todo, err := s.CreateTodo(ctx, model.Todo{ID: "t1", ProjectID: "proj", Title: "Build auth"})
	require.NoError(t, err)
	assert.Equal(t, model.TodoPending, todo.Status)
	assert.Equal(t, model.PriorityMedium, todo.Priority)

	todos, err := s.ListTodos(ctx, "proj", "")
	require.NoError(t, err)
	require.Len(t, todos, 1)
	assert.Equal(t, "Build auth", todos[0].Title)
}

func TestUpdateStatusStampsCompletedAt(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.CreateTodo(ctx, model.Todo{ID: "t1", ProjectID: "proj", Title: "x"})
	require.NoError(t, err)

	require.NoError(t, s.UpdateStatus(ctx, "t1", model.TodoCompleted))

	todos, err := s.ListTodos(ctx, "proj", model.TodoCompleted)
	require.NoError(t, err)
	require.Len(t, todos, 1)
	require.NotNil(t, todos[0].CompletedAt)
}

func TestUpdateStatusMissingReturnsError(t *testing.T) {
	s := openTestStore(t)
	err := s.UpdateStatus(context.Background(), "missing", model.TodoCompleted)
	assert.Error(t, err)
}

func TestDeleteTodoCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.CreateTodo(ctx, model.Todo{ID: "t1", ProjectID: "proj", Title: "x"})
	require.NoError(t, err)
	_, err = s.CreateSubtask(ctx, model.Subtask{ID: "s1", ParentTaskID: "t1", Title: "sub"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteTodo(ctx, "t1"))

	subs, err := s.ListSubtasks(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestSubtaskLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.CreateTodo(ctx, model.Todo{ID: "t1", ProjectID: "proj", Title: "x"})
	require.NoError(t, err)

	st, err := s.CreateSubtask(ctx, model.Subtask{ID: "s1", ParentTaskID: "t1", Title: "sub"})
	require.NoError(t, err)
	assert.Equal(t, model.TodoPending, st.Status)

	require.NoError(t, s.MarkSubtaskDone(ctx, "s1"))

	subs, err := s.ListSubtasks(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, model.TodoCompleted, subs[0].Status)
}

func TestCreateSubtaskRejectsMissingParent(t *testing.T) {
	s := openTestStore(t)
	_, err := s.CreateSubtask(context.Background(), model.Subtask{ID: "s1", ParentTaskID: "missing", Title: "sub"})
	assert.Error(t, err)
}

func TestAddDependencyRejectsSelfLoop(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.CreateTodo(ctx, model.Todo{ID: "t1", ProjectID: "proj", Title: "x"})
	require.NoError(t, err)

	err = s.AddDependency(ctx, model.TaskDependency{TaskID: "t1", DependsOnTaskID: "t1"})
	assert.Error(t, err)
}

func TestAddDependencyRejectsCycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"t1", "t2", "t3"} {
		_, err := s.CreateTodo(ctx, model.Todo{ID: id, ProjectID: "proj", Title: id})
		require.NoError(t, err)
	}
	require.NoError(t, s.AddDependency(ctx, model.TaskDependency{TaskID: "t2", DependsOnTaskID: "t1"}))
	require.NoError(t, s.AddDependency(ctx, model.TaskDependency{TaskID: "t3", DependsOnTaskID: "t2"}))

	err := s.AddDependency(ctx, model.TaskDependency{TaskID: "t1", DependsOnTaskID: "t3"})
	assert.Error(t, err)
}

func TestGetExecutionOrderRespectsDependencies(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"t1", "t2", "t3"} {
		_, err := s.CreateTodo(ctx, model.Todo{ID: id, ProjectID: "proj", Title: id})
		require.NoError(t, err)
	}
	require.NoError(t, s.AddDependency(ctx, model.TaskDependency{TaskID: "t2", DependsOnTaskID: "t1"}))
	require.NoError(t, s.AddDependency(ctx, model.TaskDependency{TaskID: "t3", DependsOnTaskID: "t2"}))

	order, err := s.GetExecutionOrder(ctx, "proj")
	require.NoError(t, err)
	require.Len(t, order, 3)

	pos := map[string]int{}
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos["t1"], pos["t2"])
	assert.Less(t, pos["t2"], pos["t3"])
}

func TestCanStart(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"t1", "t2"} {
		_, err := s.CreateTodo(ctx, model.Todo{ID: id, ProjectID: "proj", Title: id})
		require.NoError(t, err)
	}
	require.NoError(t, s.AddDependency(ctx, model.TaskDependency{TaskID: "t2", DependsOnTaskID: "t1"}))

	can, err := s.CanStart(ctx, "t2")
	require.NoError(t, err)
	assert.False(t, can)

	require.NoError(t, s.UpdateStatus(ctx, "t1", model.TodoCompleted))

	can, err = s.CanStart(ctx, "t2")
	require.NoError(t, err)
	assert.True(t, can)
}

func TestCreateTasksFromBreakdownIsAtomic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	plan := model.TaskPlan{
		ID:             "plan1",
		ProjectID:      "proj",
		OriginalPrompt: "build a login flow",
		MainTasks: []model.Todo{
			{ID: "t1", ProjectID: "proj", Title: "Design schema"},
			{ID: "t2", ProjectID: "proj", Title: "Implement handlers"},
		},
		Subtasks: []model.Subtask{
			{ID: "s1", ParentTaskID: "t1", Title: "Pick columns"},
		},
		Dependencies: []model.TaskDependency{
			{TaskID: "t2", DependsOnTaskID: "t1"},
		},
		CreatedAt: time.Now().UTC(),
	}

	require.NoError(t, s.CreateTasksFromBreakdown(ctx, plan))

	todos, err := s.ListTodos(ctx, "proj", "")
	require.NoError(t, err)
	assert.Len(t, todos, 2)

	order, err := s.GetExecutionOrder(ctx, "proj")
	require.NoError(t, err)
	require.Equal(t, []string{"t1", "t2"}, order)
}

func TestCreateTasksFromBreakdownRejectsCycle(t *testing.T) {
	s := openTestStore(t)
	plan := model.TaskPlan{
		ID:        "plan1",
		ProjectID: "proj",
		MainTasks: []model.Todo{
			{ID: "t1", ProjectID: "proj", Title: "a"},
			{ID: "t2", ProjectID: "proj", Title: "b"},
		},
		Dependencies: []model.TaskDependency{
			{TaskID: "t1", DependsOnTaskID: "t2"},
			{TaskID: "t2", DependsOnTaskID: "t1"},
		},
		CreatedAt: time.Now().UTC(),
	}

	err := s.CreateTasksFromBreakdown(context.Background(), plan)
	assert.Error(t, err)

	todos, listErr := s.ListTodos(context.Background(), "proj", "")
	require.NoError(t, listErr)
	assert.Empty(t, todos, "failed breakdown must not persist partial state")
}

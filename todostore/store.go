// Package todostore provides durable, relational persistence for todos,
// subtasks, and task dependency graphs on embedded SQLite. The schema is
// created idempotently at Open; incremental changes go through a
// versioned migrate() recorded in schema_migrations.
package todostore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"promptmcp/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS todos (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	priority TEXT NOT NULL DEFAULT 'medium',
	category TEXT NOT NULL DEFAULT '',
	estimated_hours REAL NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS subtasks (
	id TEXT PRIMARY KEY,
	parent_task_id TEXT NOT NULL REFERENCES todos(id),
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	estimated_hours REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS task_dependencies (
	task_id TEXT NOT NULL REFERENCES todos(id),
	depends_on_task_id TEXT NOT NULL REFERENCES todos(id),
	PRIMARY KEY (task_id, depends_on_task_id)
);

CREATE TABLE IF NOT EXISTS task_plans (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	original_prompt TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_todos_project ON todos(project_id);
CREATE INDEX IF NOT EXISTS idx_todos_status ON todos(project_id, status);
CREATE INDEX IF NOT EXISTS idx_subtasks_parent ON subtasks(parent_task_id);
CREATE INDEX IF NOT EXISTS idx_deps_task ON task_dependencies(task_id);
CREATE INDEX IF NOT EXISTS idx_deps_depends_on ON task_dependencies(depends_on_task_id);
`

// Store is a SQLite-backed TodoStore.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at dbPath and ensures the schema exists.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("todostore: open %s: %w", dbPath, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("todostore: create schema: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("todostore: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// migrate applies versioned, idempotent schema migrations for existing
// databases, recording each applied version in schema_migrations.
func migrate(db *sql.DB) error {
	var version int
	err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	migrations := []func(*sql.DB) error{
		// v1: add category column for pre-existing databases (no-op here
		// since the base schema already includes it; kept as the pattern
		// future migrations should follow).
		func(db *sql.DB) error {
			var count int
			if err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('todos') WHERE name = 'category'`).Scan(&count); err != nil {
				return fmt.Errorf("check category column: %w", err)
			}
			if count == 0 {
				if _, err := db.Exec(`ALTER TABLE todos ADD COLUMN category TEXT NOT NULL DEFAULT ''`); err != nil {
					return fmt.Errorf("add category column: %w", err)
				}
			}
			return nil
		},
	}

	for i := version; i < len(migrations); i++ {
		if err := migrations[i](db); err != nil {
			return fmt.Errorf("migration v%d: %w", i+1, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, i+1); err != nil {
			return fmt.Errorf("record migration v%d: %w", i+1, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// CreateTodo inserts a new todo and returns it with defaults applied.
func (s *Store) CreateTodo(ctx context.Context, t model.Todo) (model.Todo, error) {
	if t.Status == "" {
		t.Status = model.TodoPending
	}
	if t.Priority == "" {
		t.Priority = model.PriorityMedium
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO todos (id, project_id, title, description, status, priority, category, estimated_hours, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, t.Title, t.Description, t.Status, t.Priority, t.Category, t.EstimatedHours, t.CreatedAt,
	)
	if err != nil {
		return model.Todo{}, fmt.Errorf("todostore: create todo: %w", err)
	}
	return t, nil
}

const todoCols = `id, project_id, title, description, status, priority, category, estimated_hours, created_at, completed_at`

// ListTodos returns todos for a project, optionally filtered by status.
func (s *Store) ListTodos(ctx context.Context, projectID string, status model.TodoStatus) ([]model.Todo, error) {
	query := `SELECT ` + todoCols + ` FROM todos WHERE project_id = ?`
	args := []any{projectID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("todostore: list todos: %w", err)
	}
	defer rows.Close()
	return scanTodos(rows)
}

// UpdateStatus transitions a todo's status, stamping completed_at when
// the new status is TodoCompleted and clearing it otherwise.
func (s *Store) UpdateStatus(ctx context.Context, id string, status model.TodoStatus) error {
	var completedAt any
	if status == model.TodoCompleted {
		completedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE todos SET status = ?, completed_at = ? WHERE id = ?`,
		status, completedAt, id,
	)
	if err != nil {
		return fmt.Errorf("todostore: update status: %w", err)
	}
	return mustAffectOne(res, "todo", id)
}

// DeleteTodo removes a todo and its subtasks/dependencies.
func (s *Store) DeleteTodo(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("todostore: delete todo: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM subtasks WHERE parent_task_id = ?`, id); err != nil {
		return fmt.Errorf("todostore: delete todo: subtasks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_dependencies WHERE task_id = ? OR depends_on_task_id = ?`, id, id); err != nil {
		return fmt.Errorf("todostore: delete todo: dependencies: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM todos WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("todostore: delete todo: %w", err)
	}
	if err := mustAffectOne(res, "todo", id); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateSubtask inserts a subtask under an existing parent todo.
func (s *Store) CreateSubtask(ctx context.Context, st model.Subtask) (model.Subtask, error) {
	if st.Status == "" {
		st.Status = model.TodoPending
	}
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM todos WHERE id = ?`, st.ParentTaskID).Scan(&exists); err != nil {
		return model.Subtask{}, fmt.Errorf("todostore: create subtask: check parent: %w", err)
	}
	if exists == 0 {
		return model.Subtask{}, fmt.Errorf("todostore: create subtask: parent task %q does not exist", st.ParentTaskID)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subtasks (id, parent_task_id, title, description, status, estimated_hours) VALUES (?, ?, ?, ?, ?, ?)`,
		st.ID, st.ParentTaskID, st.Title, st.Description, st.Status, st.EstimatedHours,
	)
	if err != nil {
		return model.Subtask{}, fmt.Errorf("todostore: create subtask: %w", err)
	}
	return st, nil
}

const subtaskCols = `id, parent_task_id, title, description, status, estimated_hours`

// ListSubtasks returns the subtasks of a parent todo, insertion order.
func (s *Store) ListSubtasks(ctx context.Context, parentTaskID string) ([]model.Subtask, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+subtaskCols+` FROM subtasks WHERE parent_task_id = ? ORDER BY rowid ASC`, parentTaskID)
	if err != nil {
		return nil, fmt.Errorf("todostore: list subtasks: %w", err)
	}
	defer rows.Close()

	var out []model.Subtask
	for rows.Next() {
		var st model.Subtask
		if err := rows.Scan(&st.ID, &st.ParentTaskID, &st.Title, &st.Description, &st.Status, &st.EstimatedHours); err != nil {
			return nil, fmt.Errorf("todostore: scan subtask: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// UpdateSubtask overwrites a subtask's mutable fields.
func (s *Store) UpdateSubtask(ctx context.Context, st model.Subtask) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subtasks SET title = ?, description = ?, status = ?, estimated_hours = ? WHERE id = ?`,
		st.Title, st.Description, st.Status, st.EstimatedHours, st.ID,
	)
	if err != nil {
		return fmt.Errorf("todostore: update subtask: %w", err)
	}
	return mustAffectOne(res, "subtask", st.ID)
}

// MarkSubtaskDone is a convenience wrapper setting status to completed.
func (s *Store) MarkSubtaskDone(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE subtasks SET status = ? WHERE id = ?`, model.TodoCompleted, id)
	if err != nil {
		return fmt.Errorf("todostore: mark subtask done: %w", err)
	}
	return mustAffectOne(res, "subtask", id)
}

// AddDependency records that taskID depends on dependsOnTaskID, rejecting
// self-loops and any dependency that would introduce a cycle.
func (s *Store) AddDependency(ctx context.Context, dep model.TaskDependency) error {
	if err := dep.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("todostore: add dependency: begin: %w", err)
	}
	defer tx.Rollback()

	edges, err := loadDependencyEdges(ctx, tx)
	if err != nil {
		return fmt.Errorf("todostore: add dependency: %w", err)
	}
	edges[dep.TaskID] = append(edges[dep.TaskID], dep.DependsOnTaskID)
	if hasCycle(edges) {
		return fmt.Errorf("todostore: add dependency: would introduce a cycle between %q and %q", dep.TaskID, dep.DependsOnTaskID)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO task_dependencies (task_id, depends_on_task_id) VALUES (?, ?)`,
		dep.TaskID, dep.DependsOnTaskID,
	)
	if err != nil {
		return fmt.Errorf("todostore: add dependency: %w", err)
	}
	return tx.Commit()
}

// GetExecutionOrder returns todo IDs for projectID in a valid topological
// order (dependencies before dependents). Returns an error if the stored
// graph somehow contains a cycle.
func (s *Store) GetExecutionOrder(ctx context.Context, projectID string) ([]string, error) {
	todos, err := s.ListTodos(ctx, projectID, "")
	if err != nil {
		return nil, fmt.Errorf("todostore: get execution order: %w", err)
	}
	ids := make([]string, 0, len(todos))
	idSet := make(map[string]struct{}, len(todos))
	for _, t := range todos {
		ids = append(ids, t.ID)
		idSet[t.ID] = struct{}{}
	}

	edges, err := loadDependencyEdgesDB(ctx, s.db)
	if err != nil {
		return nil, fmt.Errorf("todostore: get execution order: %w", err)
	}

	order, ok := topoSort(ids, edges)
	if !ok {
		return nil, fmt.Errorf("todostore: get execution order: dependency graph for project %q contains a cycle", projectID)
	}
	return order, nil
}

// CanStart reports whether every dependency of taskID is completed.
func (s *Store) CanStart(ctx context.Context, taskID string) (bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.status FROM task_dependencies d JOIN todos t ON t.id = d.depends_on_task_id WHERE d.task_id = ?`,
		taskID,
	)
	if err != nil {
		return false, fmt.Errorf("todostore: can start: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status model.TodoStatus
		if err := rows.Scan(&status); err != nil {
			return false, fmt.Errorf("todostore: can start: scan: %w", err)
		}
		if status != model.TodoCompleted {
			return false, nil
		}
	}
	return true, rows.Err()
}

// CreateTasksFromBreakdown atomically persists a task breakdown: main
// tasks, subtasks, and dependencies all commit together or not at all.
func (s *Store) CreateTasksFromBreakdown(ctx context.Context, plan model.TaskPlan) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("todostore: create tasks from breakdown: begin: %w", err)
	}
	defer tx.Rollback()

	for _, t := range plan.MainTasks {
		if t.Status == "" {
			t.Status = model.TodoPending
		}
		if t.Priority == "" {
			t.Priority = model.PriorityMedium
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = plan.CreatedAt
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO todos (id, project_id, title, description, status, priority, category, estimated_hours, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.ProjectID, t.Title, t.Description, t.Status, t.Priority, t.Category, t.EstimatedHours, t.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("todostore: create tasks from breakdown: insert todo %q: %w", t.ID, err)
		}
	}

	for _, st := range plan.Subtasks {
		if st.Status == "" {
			st.Status = model.TodoPending
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO subtasks (id, parent_task_id, title, description, status, estimated_hours) VALUES (?, ?, ?, ?, ?, ?)`,
			st.ID, st.ParentTaskID, st.Title, st.Description, st.Status, st.EstimatedHours,
		)
		if err != nil {
			return fmt.Errorf("todostore: create tasks from breakdown: insert subtask %q: %w", st.ID, err)
		}
	}

	edges := map[string][]string{}
	for _, t := range plan.MainTasks {
		edges[t.ID] = nil
	}
	for _, dep := range plan.Dependencies {
		if err := dep.Validate(); err != nil {
			return fmt.Errorf("todostore: create tasks from breakdown: %w", err)
		}
		edges[dep.TaskID] = append(edges[dep.TaskID], dep.DependsOnTaskID)
	}
	if hasCycle(edges) {
		return fmt.Errorf("todostore: create tasks from breakdown: dependency graph contains a cycle")
	}
	for _, dep := range plan.Dependencies {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO task_dependencies (task_id, depends_on_task_id) VALUES (?, ?)`,
			dep.TaskID, dep.DependsOnTaskID,
		)
		if err != nil {
			return fmt.Errorf("todostore: create tasks from breakdown: insert dependency: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO task_plans (id, project_id, original_prompt, created_at) VALUES (?, ?, ?, ?)`,
		plan.ID, plan.ProjectID, plan.OriginalPrompt, plan.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("todostore: create tasks from breakdown: insert plan: %w", err)
	}

	return tx.Commit()
}

func scanTodos(rows *sql.Rows) ([]model.Todo, error) {
	var out []model.Todo
	for rows.Next() {
		var t model.Todo
		var completedAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Status, &t.Priority, &t.Category, &t.EstimatedHours, &t.CreatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		if completedAt.Valid {
			t.CompletedAt = &completedAt.Time
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func mustAffectOne(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("todostore: %s %q not found", kind, id)
	}
	return nil
}

func loadDependencyEdges(ctx context.Context, tx *sql.Tx) (map[string][]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT task_id, depends_on_task_id FROM task_dependencies`)
	if err != nil {
		return nil, fmt.Errorf("load dependency edges: %w", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

func loadDependencyEdgesDB(ctx context.Context, db *sql.DB) (map[string][]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT task_id, depends_on_task_id FROM task_dependencies`)
	if err != nil {
		return nil, fmt.Errorf("load dependency edges: %w", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

func scanEdges(rows *sql.Rows) (map[string][]string, error) {
	edges := map[string][]string{}
	for rows.Next() {
		var taskID, dependsOn string
		if err := rows.Scan(&taskID, &dependsOn); err != nil {
			return nil, fmt.Errorf("scan dependency edge: %w", err)
		}
		edges[taskID] = append(edges[taskID], dependsOn)
	}
	return edges, rows.Err()
}

// hasCycle reports whether the task_id -> depends_on_task_id graph
// contains a cycle, via recursive DFS with a recursion-stack set.
func hasCycle(edges map[string][]string) bool {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := map[string]int{}

	var visit func(node string) bool
	visit = func(node string) bool {
		switch state[node] {
		case visiting:
			return true
		case done:
			return false
		}
		state[node] = visiting
		for _, next := range edges[node] {
			if visit(next) {
				return true
			}
		}
		state[node] = done
		return false
	}

	for node := range edges {
		if state[node] == unvisited {
			if visit(node) {
				return true
			}
		}
	}
	return false
}

// topoSort returns ids ordered so that every dependency precedes its
// dependent, using Kahn's algorithm for a deterministic, stable result.
func topoSort(ids []string, edges map[string][]string) ([]string, bool) {
	indegree := make(map[string]int, len(ids))
	for _, id := range ids {
		indegree[id] = 0
	}
	// edges[task] = [dependsOn...]; an edge dependsOn -> task.
	for task, deps := range edges {
		for range deps {
			indegree[task]++
		}
	}

	var queue []string
	for _, id := range ids {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	var order []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		for _, task := range ids {
			for _, dep := range edges[task] {
				if dep != node {
					continue
				}
				indegree[task]--
				if indegree[task] == 0 {
					queue = append(queue, task)
				}
			}
		}
	}

	if len(order) != len(ids) {
		return nil, false
	}
	return order, true
}

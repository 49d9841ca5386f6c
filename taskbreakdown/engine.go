// Package taskbreakdown decomposes a prompt into tasks. One structured
// LLM call proposes a main-task/subtask/dependency decomposition by
// title; the engine validates it (unique titles, existing parents,
// acyclic dependency graph), assigns IDs, and persists atomically via
// TodoStore.
package taskbreakdown

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"promptmcp/llmclient"
	"promptmcp/model"
)

const (
	defaultMaxTasks     = 10
	docsTokensPerLibrary = 1000
)

// TodoStore is the narrow persistence contract the engine depends on.
type TodoStore interface {
	CreateTasksFromBreakdown(ctx context.Context, plan model.TaskPlan) error
}

// DocsProvider supplies framework documentation to ground the
// decomposition prompt. context7.Client satisfies it.
type DocsProvider interface {
	DocsForFramework(ctx context.Context, framework string, tokenBudget int) (string, error)
}

// Engine runs task decompositions. A nil llm makes Breakdown
// return nil without calling the store.
type Engine struct {
	llm   llmclient.ChatProvider
	store TodoStore
	docs  DocsProvider
}

// New constructs an Engine. llm may be nil; store may be nil (Breakdown
// then validates but never persists).
func New(llm llmclient.ChatProvider, store TodoStore) *Engine {
	return &Engine{llm: llm, store: store}
}

// NewWithDocs constructs an Engine that also pulls framework documentation
// into the decomposition prompt, budgeted per library. docs may be nil.
func NewWithDocs(llm llmclient.ChatProvider, store TodoStore, docs DocsProvider) *Engine {
	return &Engine{llm: llm, store: store, docs: docs}
}

// Request parameterizes one Breakdown call.
type Request struct {
	Prompt      string
	ProjectID   string
	Frameworks  []string
	FactsSummary string
	MaxTasks    int
}

type rawMainTask struct {
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	Priority       string  `json:"priority"`
	Category       string  `json:"category"`
	EstimatedHours float64 `json:"estimatedHours"`
}

type rawSubtask struct {
	ParentTaskTitle string  `json:"parentTaskTitle"`
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	EstimatedHours  float64 `json:"estimatedHours"`
}

type rawDependency struct {
	TaskTitle        string `json:"taskTitle"`
	DependsOnTaskTitle string `json:"dependsOnTaskTitle"`
}

type rawBreakdown struct {
	MainTasks    []rawMainTask   `json:"mainTasks"`
	Subtasks     []rawSubtask    `json:"subtasks"`
	Dependencies []rawDependency `json:"dependencies"`
}

// Breakdown runs the LLM decomposition, validates it, and persists it via
// TodoStore. With no LLM configured it returns nil. Any other failure
// (unparseable reply, a validation error, a store error) produces a
// BreakdownView with Success=false and leaves the store untouched.
func (e *Engine) Breakdown(ctx context.Context, req Request) *model.BreakdownView {
	if e.llm == nil {
		return nil
	}

	maxTasks := req.MaxTasks
	if maxTasks <= 0 {
		maxTasks = defaultMaxTasks
	}

	raw, ok := e.requestBreakdown(ctx, req, maxTasks)
	if !ok {
		return &model.BreakdownView{Success: false}
	}

	if len(raw.MainTasks) > maxTasks {
		raw.MainTasks = raw.MainTasks[:maxTasks]
	}

	plan, view, err := materialize(raw, req)
	if err != nil {
		return &model.BreakdownView{
			MainTasks:    view.MainTasks,
			Subtasks:     view.Subtasks,
			Dependencies: view.Dependencies,
			Success:      false,
		}
	}

	if e.store != nil {
		if err := e.store.CreateTasksFromBreakdown(ctx, plan); err != nil {
			return &model.BreakdownView{
				MainTasks:    view.MainTasks,
				Subtasks:     view.Subtasks,
				Dependencies: view.Dependencies,
				Success:      false,
			}
		}
	}

	view.EstimatedTotalTime = estimateTotalTime(view.MainTasks, view.Subtasks)
	view.Success = true
	return &view
}

func (e *Engine) requestBreakdown(ctx context.Context, req Request, maxTasks int) (rawBreakdown, bool) {
	system := fmt.Sprintf(`Decompose the developer's request into at most %d main tasks. Reply with JSON:
{"mainTasks":[{"title","description","priority","category","estimatedHours"}],
"subtasks":[{"parentTaskTitle","title","description","estimatedHours"}],
"dependencies":[{"taskTitle","dependsOnTaskTitle"}]}
Priority is one of critical|high|medium|low. Titles must be unique within mainTasks.`, maxTasks)

	user := req.Prompt
	if len(req.Frameworks) > 0 {
		user += "\n\nFrameworks: " + strings.Join(req.Frameworks, ", ")
	}
	if req.FactsSummary != "" {
		user += "\n\nProject context: " + req.FactsSummary
	}
	user += e.frameworkDocs(ctx, req.Frameworks)

	res, err := e.llm.Complete(ctx, llmclient.StructuredRequest(system, user, 1500))
	if err != nil {
		return rawBreakdown{}, false
	}

	var parsed rawBreakdown
	if err := json.Unmarshal([]byte(extractJSON(res.Text)), &parsed); err != nil {
		return rawBreakdown{}, false
	}
	if len(parsed.MainTasks) == 0 {
		return rawBreakdown{}, false
	}
	return parsed, true
}

// frameworkDocs pulls a documentation excerpt per detected framework,
// budgeted at docsTokensPerLibrary each. Fetch failures and absences are
// skipped; the decomposition proceeds on the prompt alone.
func (e *Engine) frameworkDocs(ctx context.Context, frameworks []string) string {
	if e.docs == nil || len(frameworks) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, fw := range frameworks {
		content, err := e.docs.DocsForFramework(ctx, fw, docsTokensPerLibrary)
		if err != nil || content == "" {
			continue
		}
		if len(content) > docsTokensPerLibrary*4 {
			content = content[:docsTokensPerLibrary*4]
		}
		fmt.Fprintf(&sb, "\n\n%s documentation:\n%s", fw, content)
	}
	return sb.String()
}

// materialize validates raw (unique titles, existing parents, acyclic
// dependency graph referencing existing titles) and assigns IDs, building
// both the persistable model.TaskPlan and the caller-facing BreakdownView.
// On any validation failure it returns a non-nil error and the partial
// (ID-less, by-title) view for the caller to surface as success=false.
func materialize(raw rawBreakdown, req Request) (model.TaskPlan, model.BreakdownView, error) {
	now := time.Now().UTC()
	titleToID := make(map[string]string, len(raw.MainTasks))

	// Until validation succeeds, view holds the raw decomposition by
	// title: titles stand in for IDs in ParentTaskID and the dependencies.
	view := model.BreakdownView{}
	for _, rt := range raw.MainTasks {
		view.MainTasks = append(view.MainTasks, model.Todo{ProjectID: req.ProjectID, Title: rt.Title, Description: rt.Description,
			Status: model.TodoPending, Priority: model.TodoPriority(rt.Priority), Category: rt.Category, EstimatedHours: rt.EstimatedHours})
	}
	for _, rs := range raw.Subtasks {
		view.Subtasks = append(view.Subtasks, model.Subtask{ParentTaskID: rs.ParentTaskTitle, Title: rs.Title,
			Description: rs.Description, Status: model.TodoPending, EstimatedHours: rs.EstimatedHours})
	}
	for _, rd := range raw.Dependencies {
		view.Dependencies = append(view.Dependencies, model.TaskDependency{TaskID: rd.TaskTitle, DependsOnTaskID: rd.DependsOnTaskTitle})
	}

	mainTasks := make([]model.Todo, 0, len(raw.MainTasks))
	for _, rt := range raw.MainTasks {
		title := strings.TrimSpace(rt.Title)
		if title == "" {
			return model.TaskPlan{}, view, fmt.Errorf("taskbreakdown: main task with empty title")
		}
		if _, dup := titleToID[title]; dup {
			return model.TaskPlan{}, view, fmt.Errorf("taskbreakdown: duplicate main task title %q", title)
		}
		id := uuid.NewString()
		titleToID[title] = id

		priority := model.TodoPriority(rt.Priority)
		if !validPriority(priority) {
			priority = model.PriorityMedium
		}

		mainTasks = append(mainTasks, model.Todo{
			ID:             id,
			ProjectID:      req.ProjectID,
			Title:          title,
			Description:    rt.Description,
			Status:         model.TodoPending,
			Priority:       priority,
			Category:       rt.Category,
			EstimatedHours: rt.EstimatedHours,
			CreatedAt:      now,
		})
	}

	subtasks := make([]model.Subtask, 0, len(raw.Subtasks))
	for _, rs := range raw.Subtasks {
		parentID, ok := titleToID[strings.TrimSpace(rs.ParentTaskTitle)]
		if !ok {
			return model.TaskPlan{}, view, fmt.Errorf("taskbreakdown: subtask %q references unknown parent %q", rs.Title, rs.ParentTaskTitle)
		}
		subtasks = append(subtasks, model.Subtask{
			ID:             uuid.NewString(),
			ParentTaskID:   parentID,
			Title:          strings.TrimSpace(rs.Title),
			Description:    rs.Description,
			Status:         model.TodoPending,
			EstimatedHours: rs.EstimatedHours,
		})
	}

	deps := make([]model.TaskDependency, 0, len(raw.Dependencies))
	edges := make(map[string][]string, len(mainTasks))
	for _, rd := range raw.Dependencies {
		taskID, ok := titleToID[strings.TrimSpace(rd.TaskTitle)]
		if !ok {
			return model.TaskPlan{}, view, fmt.Errorf("taskbreakdown: dependency references unknown task %q", rd.TaskTitle)
		}
		dependsID, ok := titleToID[strings.TrimSpace(rd.DependsOnTaskTitle)]
		if !ok {
			return model.TaskPlan{}, view, fmt.Errorf("taskbreakdown: dependency references unknown task %q", rd.DependsOnTaskTitle)
		}
		dep := model.TaskDependency{TaskID: taskID, DependsOnTaskID: dependsID}
		if err := dep.Validate(); err != nil {
			return model.TaskPlan{}, view, fmt.Errorf("taskbreakdown: %w", err)
		}
		edges[taskID] = append(edges[taskID], dependsID)
		deps = append(deps, dep)
	}

	if cyclic(edges) {
		return model.TaskPlan{}, view, fmt.Errorf("taskbreakdown: dependency graph contains a cycle")
	}

	plan := model.TaskPlan{
		ID:             uuid.NewString(),
		ProjectID:      req.ProjectID,
		OriginalPrompt: req.Prompt,
		MainTasks:      mainTasks,
		Subtasks:       subtasks,
		Dependencies:   deps,
		CreatedAt:      now,
	}
	view.MainTasks = mainTasks
	view.Subtasks = subtasks
	view.Dependencies = deps
	return plan, view, nil
}

func validPriority(p model.TodoPriority) bool {
	switch p {
	case model.PriorityCritical, model.PriorityHigh, model.PriorityMedium, model.PriorityLow:
		return true
	default:
		return false
	}
}

// cyclic detects a cycle in the dependency graph via recursive DFS with a
// recursion-stack set, mirroring todostore's own cycle check so the engine
// fails fast before ever opening a transaction.
func cyclic(edges map[string][]string) bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(edges))

	var visit func(string) bool
	visit = func(n string) bool {
		color[n] = gray
		for _, next := range edges[n] {
			switch color[next] {
			case gray:
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		color[n] = black
		return false
	}

	for n := range edges {
		if color[n] == white {
			if visit(n) {
				return true
			}
		}
	}
	return false
}

func estimateTotalTime(tasks []model.Todo, subtasks []model.Subtask) string {
	var hours float64
	for _, t := range tasks {
		hours += t.EstimatedHours
	}
	for _, s := range subtasks {
		hours += s.EstimatedHours
	}
	if hours <= 0 {
		return "unknown"
	}
	return fmt.Sprintf("%.1fh", hours)
}

func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return "{}"
	}
	return s[start : end+1]
}

// Package model holds the shared data types that flow between PromptMCP's
// pipeline stages. Types here are intentionally dumb: validation lives in
// Validate methods, behavior lives in the owning component packages.
package model

import "time"

// Prompt is the raw user text. Non-empty, UTF-8. Immutable once constructed.
type Prompt string

// Validate enforces the Prompt invariant: non-empty. Whitespace is not
// trimmed, so a whitespace-only prompt passes.
func (p Prompt) Validate() error {
	if len([]rune(string(p))) == 0 {
		return ErrEmptyPrompt
	}
	return nil
}

// EnhanceContext carries optional caller-supplied hints. All fields optional.
type EnhanceContext struct {
	Framework string `json:"framework,omitempty"`
	Style     string `json:"style,omitempty"`
	File      string `json:"file,omitempty"`
	ProjectID string `json:"projectId,omitempty"`
}

// DetectionMethod names how a FrameworkDetectionResult was produced.
type DetectionMethod string

const (
	MethodPattern  DetectionMethod = "pattern"
	MethodKeyword  DetectionMethod = "keyword"
	MethodAI       DetectionMethod = "ai"
	MethodProject  DetectionMethod = "project"
	MethodHybrid   DetectionMethod = "hybrid"
	MethodFallback DetectionMethod = "fallback"
)

// FrameworkDetectionResult is the output of FrameworkDetector.
type FrameworkDetectionResult struct {
	Frameworks  []string        `json:"frameworks"`
	Confidence  float64         `json:"confidence"`
	Method      DetectionMethod `json:"method"`
	Suggestions []string        `json:"suggestions,omitempty"`
}

// Validate enforces: empty frameworks implies a justified method and low confidence.
func (r FrameworkDetectionResult) Validate() error {
	if r.Confidence < 0 || r.Confidence > 1 {
		return ErrInvalidConfidence
	}
	if len(r.Frameworks) == 0 {
		if r.Method != MethodFallback && r.Method != MethodAI {
			return ErrEmptyFrameworksBadMethod
		}
		if r.Confidence > 0.5 {
			return ErrEmptyFrameworksHighConfidence
		}
	}
	seen := make(map[string]struct{}, len(r.Frameworks))
	for _, f := range r.Frameworks {
		if f != lower(f) {
			return ErrFrameworkNotLowercase
		}
		if _, ok := seen[f]; ok {
			return ErrDuplicateFramework
		}
		seen[f] = struct{}{}
	}
	return nil
}

func lower(s string) string {
	out := []rune(s)
	for i, r := range out {
		if r >= 'A' && r <= 'Z' {
			out[i] = r + ('a' - 'A')
		}
	}
	return string(out)
}

// ComplexityLevel classifies a prompt's estimated complexity.
type ComplexityLevel string

const (
	ComplexitySimple  ComplexityLevel = "simple"
	ComplexityMedium  ComplexityLevel = "medium"
	ComplexityComplex ComplexityLevel = "complex"
)

// ExpertiseLevel estimates the audience's technical level.
type ExpertiseLevel string

const (
	ExpertiseBeginner     ExpertiseLevel = "beginner"
	ExpertiseIntermediate ExpertiseLevel = "intermediate"
	ExpertiseAdvanced     ExpertiseLevel = "advanced"
)

// ResponseStrategy selects how aggressively the pipeline should enrich.
type ResponseStrategy string

const (
	StrategyMinimal       ResponseStrategy = "minimal"
	StrategyStandard      ResponseStrategy = "standard"
	StrategyComprehensive ResponseStrategy = "comprehensive"
)

// PromptComplexity is the output of PromptAnalyzer.
type PromptComplexity struct {
	Level           ComplexityLevel `json:"level"`
	Expertise       ExpertiseLevel  `json:"expertise"`
	Strategy        ResponseStrategy `json:"strategy"`
	EstimatedTokens int             `json:"estimatedTokens"`
	Confidence      float64         `json:"confidence"`
}

// LibraryHandle is an opaque Context7-assigned library identifier plus metadata.
type LibraryHandle struct {
	LibraryID    string  `json:"libraryId"`
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	TrustScore   float64 `json:"trustScore"`
	CodeSnippets int     `json:"codeSnippets"`
}

// Documentation is raw content retrieved from Context7 for one library.
type Documentation struct {
	LibraryID   string    `json:"libraryId"`
	Topic       string    `json:"topic,omitempty"`
	Content     string    `json:"content"`
	Tokens      int       `json:"tokens"`
	RetrievedAt time.Time `json:"retrievedAt"`
	Source      string    `json:"source"`
}

// IsMiss reports whether the server reported a documented absence.
func (d Documentation) IsMiss() bool { return d.Content == "" }

// CurationMeta carries per-curation processing metrics.
type CurationMeta struct {
	InputTokens     int     `json:"inputTokens"`
	OutputTokens    int     `json:"outputTokens"`
	ProcessingMillis int64  `json:"processingMillis"`
	Confidence      float64 `json:"confidence"`
}

// CuratedContent is Documentation after LLM quality-scoring, extraction and compression.
type CuratedContent struct {
	Original       Documentation `json:"original"`
	Content        string        `json:"content"`
	QualityScore   float64       `json:"qualityScore"`
	TokenReduction float64       `json:"tokenReduction"`
	KeyPatterns    []string      `json:"keyPatterns"`
	BestPractices  []string      `json:"bestPractices"`
	CodeExamples   []string      `json:"codeExamples"`
	Meta           CurationMeta  `json:"meta"`
}

// ClampedTokenReduction computes 1 - outputTokens/inputTokens, clamped to [0,1].
func ClampedTokenReduction(inputTokens, outputTokens int) float64 {
	if inputTokens <= 0 {
		return 0
	}
	r := 1 - float64(outputTokens)/float64(inputTokens)
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

// Validate enforces the tokenReduction invariant.
func (c CuratedContent) Validate() error {
	want := ClampedTokenReduction(c.Meta.InputTokens, c.Meta.OutputTokens)
	diff := c.TokenReduction - want
	if diff < -1e-6 || diff > 1e-6 {
		return ErrTokenReductionMismatch
	}
	return nil
}

// CodeSnippet is a ranked extract of project source relevant to a prompt.
type CodeSnippet struct {
	FilePath  string  `json:"file"`
	Content   string  `json:"content"`
	Relevance float64 `json:"relevance"`
}

// RepoFacts is an ordered, deduplicated sequence of short project facts.
type RepoFacts []string

// TodoStatus is the lifecycle state of a Todo.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
	TodoCancelled  TodoStatus = "cancelled"
)

// TodoPriority ranks a Todo's urgency.
type TodoPriority string

const (
	PriorityCritical TodoPriority = "critical"
	PriorityHigh     TodoPriority = "high"
	PriorityMedium   TodoPriority = "medium"
	PriorityLow      TodoPriority = "low"
)

// Todo is a project-scoped task tracked by TodoStore.
type Todo struct {
	ID             string       `json:"id"`
	ProjectID      string       `json:"projectId"`
	Title          string       `json:"title"`
	Description    string       `json:"description,omitempty"`
	Status         TodoStatus   `json:"status"`
	Priority       TodoPriority `json:"priority"`
	Category       string       `json:"category"`
	EstimatedHours float64      `json:"estimatedHours"`
	CreatedAt      time.Time    `json:"createdAt"`
	CompletedAt    *time.Time   `json:"completedAt,omitempty"`
}

// Subtask is a child unit of work under a Todo (parent task).
type Subtask struct {
	ID             string     `json:"id"`
	ParentTaskID   string     `json:"parentTaskId"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Status         TodoStatus `json:"status"`
	EstimatedHours float64    `json:"estimatedHours"`
}

// TaskDependency records that TaskID depends on DependsOnTaskID.
type TaskDependency struct {
	TaskID          string `json:"taskId"`
	DependsOnTaskID string `json:"dependsOnTaskId"`
}

// Validate rejects a self-loop dependency.
func (d TaskDependency) Validate() error {
	if d.TaskID == d.DependsOnTaskID {
		return ErrSelfDependency
	}
	return nil
}

// TaskPlan is the persisted result of a TaskBreakdownEngine run.
type TaskPlan struct {
	ID            string     `json:"id"`
	ProjectID     string     `json:"projectId"`
	OriginalPrompt string    `json:"originalPrompt"`
	MainTasks     []Todo     `json:"mainTasks"`
	Subtasks      []Subtask  `json:"subtasks"`
	Dependencies  []TaskDependency `json:"dependencies"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// ContextUsed reports what context the pipeline actually drew on.
type ContextUsed struct {
	RepoFacts     []string `json:"repo_facts"`
	CodeSnippets  []CodeSnippetView `json:"code_snippets"`
	Context7Docs  []string `json:"context7_docs"`
	Todos         []string `json:"todos,omitempty"`
}

// CodeSnippetView is the wire shape of a CodeSnippet.
type CodeSnippetView struct {
	File      string  `json:"file"`
	Content   string  `json:"content"`
	Relevance float64 `json:"relevance"`
}

// CurationMetrics summarizes curation outcomes across all retrieved libraries.
type CurationMetrics struct {
	TotalTokenReduction  float64 `json:"totalTokenReduction"`
	AverageQualityScore  float64 `json:"averageQualityScore"`
	CurationEnabled      bool    `json:"curationEnabled"`
}

// BreakdownView is the wire shape of a task breakdown attached to a response.
type BreakdownView struct {
	MainTasks          []Todo           `json:"mainTasks"`
	Subtasks           []Subtask        `json:"subtasks"`
	Dependencies       []TaskDependency `json:"dependencies"`
	EstimatedTotalTime string           `json:"estimatedTotalTime"`
	Success            bool             `json:"success"`
}

// EnhancedResponse is the final output of one enhance() call.
type EnhancedResponse struct {
	EnhancedPrompt     string           `json:"enhanced_prompt"`
	ContextUsed        ContextUsed      `json:"context_used"`
	FrameworksDetected []string         `json:"frameworks_detected"`
	CurationMetrics    *CurationMetrics `json:"curation_metrics,omitempty"`
	Breakdown          *BreakdownView   `json:"breakdown,omitempty"`
	Success            bool             `json:"success"`
}

// CacheEntry is one stored PromptCache record.
type CacheEntry struct {
	Key          string           `json:"key"`
	Value        EnhancedResponse `json:"value"`
	Frameworks   []string         `json:"frameworks"`
	QualityScore *float64         `json:"qualityScore,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	LastAccessed time.Time        `json:"lastAccessed"`
	Hits         int              `json:"hits"`
	ExpiresAt    time.Time        `json:"expiresAt"`
}

// Validate enforces the CacheEntry time-ordering invariants.
func (e CacheEntry) Validate() error {
	if !e.ExpiresAt.After(e.CreatedAt) {
		return ErrExpiresBeforeCreated
	}
	if e.LastAccessed.Before(e.CreatedAt) {
		return ErrLastAccessedBeforeCreated
	}
	return nil
}

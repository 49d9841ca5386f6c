// Package orchestrator composes every other component into one enhance()
// call: analyze, cache lookup, framework detection, parallel retrieval,
// curation, breakdown, response assembly, and cache store. An explicit
// capability struct lists every collaborator, and each stage produces a
// result the orchestrator reduces into a partial response rather than
// failing the call.
package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"promptmcp/context7"
	"promptmcp/curator"
	"promptmcp/frameworkdetector"
	"promptmcp/model"
	"promptmcp/projectanalyzer"
	"promptmcp/promptanalyzer"
	"promptmcp/promptcache"
	"promptmcp/responsebuilder"
	"promptmcp/taskbreakdown"
)

// Per-stage deadlines.
const (
	detectionDeadline     = 1 * time.Second
	analyzerDeadline      = 2 * time.Second
	curatorPerDocDeadline = 5 * time.Second
	breakdownDeadline     = 10 * time.Second
	defaultCallDeadline   = 30 * time.Second
)

var breakdownTriggerPhrases = []string{"build ", "create ", "implement ", "develop ", "application"}

// TodoStore is the narrow contract the orchestrator needs from the todo store.
type TodoStore interface {
	ListTodos(ctx context.Context, projectID string, status model.TodoStatus) ([]model.Todo, error)
}

// Capabilities is the explicit construction record listing everything the
// orchestrator needs. Every field is independently nil-able: a nil
// capability means "this stage degrades/no-ops", never a panic, matching
// each component's own AI-optional / degrade-on-fault contract.
type Capabilities struct {
	Cache          *promptcache.Cache
	Context7       *context7.Client
	Curator        *curator.Curator
	Analyzer       *projectanalyzer.Analyzer
	Todos          TodoStore
	PromptAnalyzer *promptanalyzer.Analyzer
	Detector       *frameworkdetector.Detector
	Breakdown      *taskbreakdown.Engine

	WorkspaceRoot string
	CallDeadline  time.Duration
	MaxTasksDefault int

	// Logger receives per-stage structured events (stage name and
	// duration); no per-stage outcome field is recorded. Payloads never
	// include the prompt text. nil means no-op.
	Logger *zap.Logger
}

// Options mirrors the promptmcp.enhance tool's options object, with
// defaults applied by ResolveOptions.
type Options struct {
	UseCache             bool
	MaxTokens            int
	IncludeMetadata      bool
	IncludeBreakdown     *bool // nil = auto
	MaxTasks             int
	UseAIEnhancement     bool
	EnhancementStrategy  string
	QualityFocus         []string
}

// ResolveOptions fills an unset MaxTokens (4000) and MaxTasks
// (maxTasksDefault, else 10). Boolean options are taken as given; the
// rpcdispatcher is what defaults UseCache and UseAIEnhancement to true.
func ResolveOptions(o Options, maxTasksDefault int) Options {
	if o.MaxTokens <= 0 {
		o.MaxTokens = 4000
	}
	if o.MaxTasks <= 0 {
		if maxTasksDefault <= 0 {
			maxTasksDefault = 10
		}
		o.MaxTasks = maxTasksDefault
	}
	return o
}

// Orchestrator runs the enhancement pipeline. Construct with New and
// call Enhance per request.
type Orchestrator struct {
	caps Capabilities
}

// New constructs an Orchestrator from an explicit Capabilities record.
func New(caps Capabilities) *Orchestrator {
	if caps.CallDeadline <= 0 {
		caps.CallDeadline = defaultCallDeadline
	}
	if caps.Logger == nil {
		caps.Logger = zap.NewNop()
	}
	return &Orchestrator{caps: caps}
}

// stage wraps one pipeline stage with its structured start/end event.
func (o *Orchestrator) stage(name string, fn func()) {
	start := time.Now()
	o.caps.Logger.Debug("stage start", zap.String("stage", name))
	fn()
	o.caps.Logger.Info("stage end",
		zap.String("stage", name),
		zap.Duration("duration", time.Since(start)),
	)
}

// Enhance runs the full pipeline for one request. It returns a non-nil
// *model.Outcome only when validation fails, the call deadline is
// exceeded, or the cached build itself returns an error (internal);
// every other failure degrades in place and Enhance still returns a
// best-effort EnhancedResponse.
func (o *Orchestrator) Enhance(ctx context.Context, prompt string, ectx model.EnhanceContext, opts Options) (model.EnhancedResponse, *model.Outcome) {
	if err := model.Prompt(prompt).Validate(); err != nil {
		return model.EnhancedResponse{}, model.NewValidation(err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, o.caps.CallDeadline)
	defer cancel()

	opts = ResolveOptions(opts, o.caps.MaxTasksDefault)

	// Stage 1: analyze.
	var complexity model.PromptComplexity
	o.stage("analyze", func() {
		complexity = o.analyzePrompt(ctx, prompt)
	})

	// Stage 2: cache lookup / single-flight build.
	fpOptions := map[string]any{
		"maxTokens":           opts.MaxTokens,
		"useAIEnhancement":    opts.UseAIEnhancement,
		"enhancementStrategy": opts.EnhancementStrategy,
		"qualityFocus":        opts.QualityFocus,
		"includeBreakdown":    opts.IncludeBreakdown,
		"maxTasks":            opts.MaxTasks,
	}
	key := promptcache.Fingerprint(promptcache.FingerprintInputs{Prompt: prompt, Context: ectx, Options: fpOptions})

	build := func(ctx context.Context) (model.EnhancedResponse, []string, *float64, error) {
		resp, quality := o.buildResponse(ctx, prompt, ectx, opts, complexity)
		return resp, resp.FrameworksDetected, quality, nil
	}

	if opts.UseCache && o.caps.Cache != nil {
		entry, _, err := o.caps.Cache.GetOrBuild(ctx, key, build)
		if err != nil {
			if ctx.Err() != nil {
				return model.EnhancedResponse{}, model.NewDeadline("enhance: call deadline exceeded")
			}
			return model.EnhancedResponse{}, model.NewInternal("enhance: build failed", err)
		}
		return entry.Value, nil
	}

	resp, _, _, err := build(ctx)
	if err != nil {
		return model.EnhancedResponse{}, model.NewInternal("enhance: build failed", err)
	}
	if ctx.Err() != nil {
		return model.EnhancedResponse{}, model.NewDeadline("enhance: call deadline exceeded")
	}
	return resp, nil
}

func (o *Orchestrator) analyzePrompt(ctx context.Context, prompt string) model.PromptComplexity {
	if o.caps.PromptAnalyzer == nil {
		return model.PromptComplexity{
			Level: model.ComplexityMedium, Expertise: model.ExpertiseIntermediate,
			Strategy: model.StrategyStandard, EstimatedTokens: 300, Confidence: 0.6,
		}
	}
	return o.caps.PromptAnalyzer.Analyze(ctx, prompt, "")
}

// buildResponse runs stages 3-8 and returns the assembled response plus
// an overall curated-quality figure for the cache entry's qualityScore.
func (o *Orchestrator) buildResponse(ctx context.Context, prompt string, ectx model.EnhanceContext, opts Options, complexity model.PromptComplexity) (model.EnhancedResponse, *float64) {
	// Stage 3: framework detection. Project facts are not yet available;
	// the detector does not block on them.
	var detection model.FrameworkDetectionResult
	o.stage("detect", func() {
		detection = o.detectFrameworks(ctx, prompt, ectx)
	})

	// Stage 4: parallel retrieval.
	var (
		docs     []model.Documentation
		analysis projectanalyzer.Result
		todos    []model.Todo
	)
	o.stage("retrieve", func() {
		var wg sync.WaitGroup
		wg.Add(3)
		go func() { defer wg.Done(); docs = o.retrieveDocs(ctx, detection.Frameworks) }()
		go func() { defer wg.Done(); analysis = o.analyzeProject(ctx, prompt) }()
		go func() { defer wg.Done(); todos = o.listActiveTodos(ctx, ectx.ProjectID) }()
		wg.Wait()
	})

	// Stage 5: curate, gated on useAIEnhancement.
	var (
		libraries       []responsebuilder.CuratedLibrary
		curationMetrics *model.CurationMetrics
	)
	o.stage("curate", func() {
		libraries, curationMetrics = o.curateDocs(ctx, docs, prompt, key(prompt, ectx), opts.UseAIEnhancement)
	})

	// Stage 6: decide + run breakdown.
	var breakdown *model.BreakdownView
	if o.wantsBreakdown(opts, complexity, prompt) && o.caps.Breakdown != nil {
		o.stage("breakdown", func() {
			bctx, cancel := context.WithTimeout(ctx, breakdownDeadline)
			breakdown = o.caps.Breakdown.Breakdown(bctx, taskbreakdown.Request{
				Prompt:       prompt,
				ProjectID:    ectx.ProjectID,
				Frameworks:   detection.Frameworks,
				FactsSummary: strings.Join(analysis.Facts, "; "),
				MaxTasks:     opts.MaxTasks,
			})
			cancel()
		})
	}

	// Stage 7: build. The builder is pure CPU work well under its 500ms
	// deadline; no separate context is needed to bound it.
	var resp model.EnhancedResponse
	o.stage("build", func() {
		resp = responsebuilder.Build(responsebuilder.Input{
			Prompt:    prompt,
			Detection: detection,
			Libraries: libraries,
			Facts:     analysis.Facts,
			Snippets:  analysis.Snippets,
			Todos:     todos,
			Breakdown: breakdown,
			Curation:  curationMetrics,
			MaxTokens: opts.MaxTokens,
		})
	})

	var overallQuality *float64
	if curationMetrics != nil {
		q := curationMetrics.AverageQualityScore
		overallQuality = &q
	}
	return resp, overallQuality
}

func key(prompt string, ectx model.EnhanceContext) string {
	return promptcache.Fingerprint(promptcache.FingerprintInputs{Prompt: prompt, Context: ectx})
}

func (o *Orchestrator) detectFrameworks(ctx context.Context, prompt string, ectx model.EnhanceContext) model.FrameworkDetectionResult {
	if o.caps.Detector == nil {
		return model.FrameworkDetectionResult{Method: model.MethodFallback}
	}
	dctx, cancel := context.WithTimeout(ctx, detectionDeadline)
	defer cancel()
	return o.caps.Detector.Detect(dctx, prompt, ectx, nil)
}

func (o *Orchestrator) analyzeProject(ctx context.Context, prompt string) projectanalyzer.Result {
	if o.caps.Analyzer == nil {
		return projectanalyzer.Result{}
	}
	actx, cancel := context.WithTimeout(ctx, analyzerDeadline)
	defer cancel()
	return o.caps.Analyzer.Analyze(actx, o.caps.WorkspaceRoot, prompt)
}

func (o *Orchestrator) listActiveTodos(ctx context.Context, projectID string) []model.Todo {
	if o.caps.Todos == nil || projectID == "" {
		return nil
	}
	pending, err := o.caps.Todos.ListTodos(ctx, projectID, model.TodoPending)
	if err != nil {
		return nil
	}
	inProgress, err := o.caps.Todos.ListTodos(ctx, projectID, model.TodoInProgress)
	if err != nil {
		return pending
	}
	return append(pending, inProgress...)
}

// retrieveDocs resolves each detected framework to a library handle and
// fetches its documentation, bounded to a fixed fan-out and the overall
// Context7 per-call deadline. A timeout returns whatever completed.
func (o *Orchestrator) retrieveDocs(ctx context.Context, frameworks []string) []model.Documentation {
	if o.caps.Context7 == nil || len(frameworks) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, context7.PerCallDeadline())
	defer cancel()

	fanOut := o.caps.Context7.FanOut()
	if fanOut <= 0 {
		fanOut = 4
	}
	sem := make(chan struct{}, fanOut)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		docs []model.Documentation
	)

	for _, fw := range frameworks {
		fw := fw
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			candidates, err := o.caps.Context7.ResolveLibraryID(ctx, fw)
			if err != nil || len(candidates) == 0 {
				return
			}
			handle, ok := context7.SelectBest(fw, candidates)
			if !ok {
				return
			}
			doc, err := o.caps.Context7.GetLibraryDocs(ctx, handle.LibraryID, "", 4000)
			if err != nil || doc.IsMiss() {
				return
			}
			mu.Lock()
			docs = append(docs, doc)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return docs
}

// curateDocs curates each retrieved Documentation when useAIEnhancement is
// set and a curator is wired, falling back to the raw content otherwise.
func (o *Orchestrator) curateDocs(ctx context.Context, docs []model.Documentation, prompt, fingerprint string, useAIEnhancement bool) ([]responsebuilder.CuratedLibrary, *model.CurationMetrics) {
	if len(docs) == 0 {
		return nil, nil
	}

	libraries := make([]responsebuilder.CuratedLibrary, len(docs))
	var totalReduction, totalQuality float64
	curationEnabled := useAIEnhancement && o.caps.Curator != nil

	for i, doc := range docs {
		if !curationEnabled {
			libraries[i] = responsebuilder.CuratedLibrary{LibraryID: doc.LibraryID, Content: doc.Content}
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, curatorPerDocDeadline)
		curated := o.caps.Curator.Curate(cctx, doc, prompt, fingerprint)
		cancel()

		libraries[i] = responsebuilder.CuratedLibrary{LibraryID: doc.LibraryID, Content: curated.Content}
		totalReduction += curated.TokenReduction
		totalQuality += curated.QualityScore
	}

	metrics := &model.CurationMetrics{CurationEnabled: curationEnabled}
	if curationEnabled && len(docs) > 0 {
		metrics.TotalTokenReduction = totalReduction / float64(len(docs))
		metrics.AverageQualityScore = totalQuality / float64(len(docs))
	}
	return libraries, metrics
}

// wantsBreakdown resolves includeBreakdown's "auto" mode: a breakdown
// runs for complex prompts or ones phrased as a build/create request.
func (o *Orchestrator) wantsBreakdown(opts Options, complexity model.PromptComplexity, prompt string) bool {
	if opts.IncludeBreakdown != nil {
		return *opts.IncludeBreakdown
	}
	if complexity.Level == model.ComplexityComplex {
		return true
	}
	lower := strings.ToLower(prompt)
	for _, phrase := range breakdownTriggerPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

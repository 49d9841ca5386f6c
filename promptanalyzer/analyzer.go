// Package promptanalyzer classifies a Prompt into a PromptComplexity
// using a heuristic that is always available, optionally refined by a
// single deterministic LLM call. A nil ChatProvider means heuristic only.
package promptanalyzer

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/clipperhouse/uax29/v2/words"

	"promptmcp/llmclient"
	"promptmcp/model"
)

const heuristicConfidence = 0.6

// technicalVocabulary is the curated keyword set behind the
// technical-keyword count feature.
var technicalVocabulary = map[string]struct{}{
	"component": {}, "authentication": {}, "async": {}, "await": {},
	"api": {}, "database": {}, "schema": {}, "middleware": {}, "route": {},
	"hook": {}, "state": {}, "props": {}, "query": {}, "mutation": {},
	"cache": {}, "token": {}, "session": {}, "websocket": {}, "graphql": {},
	"microservice": {}, "container": {}, "deployment": {}, "migration": {},
	"test": {}, "mock": {}, "concurrency": {}, "thread": {}, "goroutine": {},
	"upload": {}, "stream": {}, "encryption": {}, "validation": {},
}

// namedTechnologies is used for the "named technologies" complex-trigger
// feature; distinct from FrameworkDetector's own dictionary on purpose —
// this one only needs to count distinct mentions, not resolve canonical IDs.
var namedTechnologies = []string{
	"react", "vue", "angular", "next.js", "nextjs", "typescript", "javascript",
	"express", "mongodb", "postgresql", "postgres", "mysql", "tailwind",
	"docker", "kubernetes", "redis", "graphql", "grpc", "go", "python", "rust",
}

// Analyzer classifies prompt complexity. A nil llm disables the AI-assisted
// mode; every call still succeeds via the heuristic path.
type Analyzer struct {
	llm llmclient.ChatProvider
}

// New constructs an Analyzer. llm may be nil.
func New(llm llmclient.ChatProvider) *Analyzer {
	return &Analyzer{llm: llm}
}

// Analyze classifies prompt, optionally sharpened by projectFactsSummary
// (a compact, facts-only string; may be empty). It never fails: AI
// failures or parse errors silently fall back to the heuristic result.
func (a *Analyzer) Analyze(ctx context.Context, prompt string, projectFactsSummary string) model.PromptComplexity {
	h := heuristic(prompt)

	if a.llm == nil {
		return h
	}

	ai, ok := a.aiAssist(ctx, prompt, projectFactsSummary, h)
	if !ok {
		return h
	}
	if ai.Confidence < h.Confidence {
		ai.Confidence = h.Confidence
	}
	return ai
}

func heuristic(prompt string) model.PromptComplexity {
	tokenCount := countTokens(prompt)
	keywordHits := countKeywords(prompt)
	technologies := countTechnologies(prompt)
	enumerated := hasEnumeration(prompt)

	switch {
	case tokenCount >= 40 || technologies >= 3 || enumerated:
		return model.PromptComplexity{
			Level:           model.ComplexityComplex,
			Expertise:       model.ExpertiseAdvanced,
			Strategy:        model.StrategyComprehensive,
			EstimatedTokens: max(600, tokenCount*8),
			Confidence:      heuristicConfidence,
		}
	case tokenCount <= 12 && keywordHits <= 1 && !enumerated:
		return model.PromptComplexity{
			Level:           model.ComplexitySimple,
			Expertise:       model.ExpertiseBeginner,
			Strategy:        model.StrategyMinimal,
			EstimatedTokens: min(150, max(40, tokenCount*6)),
			Confidence:      heuristicConfidence,
		}
	default:
		est := tokenCount * 8
		if est < 150 {
			est = 150
		}
		if est > 600 {
			est = 600
		}
		return model.PromptComplexity{
			Level:           model.ComplexityMedium,
			Expertise:       model.ExpertiseIntermediate,
			Strategy:        model.StrategyStandard,
			EstimatedTokens: est,
			Confidence:      heuristicConfidence,
		}
	}
}

type aiResponse struct {
	Level           string  `json:"level"`
	Expertise       string  `json:"expertise"`
	Strategy        string  `json:"strategy"`
	EstimatedTokens int     `json:"estimatedTokens"`
	Confidence      float64 `json:"confidence"`
}

func (a *Analyzer) aiAssist(ctx context.Context, prompt, factsSummary string, fallback model.PromptComplexity) (model.PromptComplexity, bool) {
	system := "Classify the developer prompt's complexity. Reply with JSON " +
		`{"level":"simple|medium|complex","expertise":"beginner|intermediate|advanced",` +
		`"strategy":"minimal|standard|comprehensive","estimatedTokens":int,"confidence":number 0-1}.`
	user := prompt
	if factsSummary != "" {
		user = prompt + "\n\nProject context: " + factsSummary
	}

	res, err := a.llm.Complete(ctx, llmclient.StructuredRequest(system, user, 150))
	if err != nil {
		return fallback, false
	}

	var parsed aiResponse
	if err := json.Unmarshal([]byte(extractJSON(res.Text)), &parsed); err != nil {
		return fallback, false
	}

	level := model.ComplexityLevel(parsed.Level)
	expertise := model.ExpertiseLevel(parsed.Expertise)
	strategy := model.ResponseStrategy(parsed.Strategy)
	if !validLevel(level) || !validExpertise(expertise) || !validStrategy(strategy) {
		return fallback, false
	}

	return model.PromptComplexity{
		Level:           level,
		Expertise:       expertise,
		Strategy:        strategy,
		EstimatedTokens: parsed.EstimatedTokens,
		Confidence:      parsed.Confidence,
	}, true
}

func validLevel(l model.ComplexityLevel) bool {
	return l == model.ComplexitySimple || l == model.ComplexityMedium || l == model.ComplexityComplex
}

func validExpertise(e model.ExpertiseLevel) bool {
	return e == model.ExpertiseBeginner || e == model.ExpertiseIntermediate || e == model.ExpertiseAdvanced
}

func validStrategy(s model.ResponseStrategy) bool {
	return s == model.StrategyMinimal || s == model.StrategyStandard || s == model.StrategyComprehensive
}

func countTokens(s string) int {
	n := 0
	seg := words.FromString(s)
	for seg.Next() {
		if isWordLike(seg.Value()) {
			n++
		}
	}
	return n
}

func countKeywords(s string) int {
	n := 0
	seg := words.FromString(strings.ToLower(s))
	for seg.Next() {
		if _, ok := technicalVocabulary[seg.Value()]; ok {
			n++
		}
	}
	return n
}

func countTechnologies(s string) int {
	lower := strings.ToLower(s)
	n := 0
	for _, tech := range namedTechnologies {
		if strings.Contains(lower, tech) {
			n++
		}
	}
	return n
}

// hasEnumeration reports whether the prompt contains multiple sentences or
// an enumeration: two or more '.', '!' or '?' characters, two or more
// commas, or two or more " and " joins.
func hasEnumeration(s string) bool {
	sentences := 0
	for _, r := range s {
		if r == '.' || r == '!' || r == '?' {
			sentences++
		}
	}
	if sentences >= 2 {
		return true
	}
	lower := strings.ToLower(s)
	if strings.Count(lower, ",") >= 2 {
		return true
	}
	return strings.Count(lower, " and ") >= 2
}

func isWordLike(tok string) bool {
	for _, r := range tok {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return true
		}
	}
	return false
}

func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return "{}"
	}
	return s[start : end+1]
}

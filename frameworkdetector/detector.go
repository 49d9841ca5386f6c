// Package frameworkdetector identifies frameworks and libraries in a
// free-form prompt: a pattern pass over a keyword dictionary, a context
// pass honoring caller-supplied hints and project facts, and an optional
// AI-assisted pass when the aggregated confidence is low. A nil
// ChatProvider disables the AI pass.
package frameworkdetector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"promptmcp/llmclient"
	"promptmcp/model"
)

// keywordDictionary maps a lowercase prompt keyword to the canonical
// framework identifier it implies. Order of insertion does not matter;
// detection output order is resolved separately by weight/first-occurrence.
var keywordDictionary = map[string]string{
	"react":      "react",
	"react.js":   "react",
	"reactjs":    "react",
	"jsx":        "react",
	"vue":        "vue",
	"vue.js":     "vue",
	"vuejs":      "vue",
	"angular":    "angular",
	"next.js":    "next.js",
	"nextjs":     "next.js",
	"typescript": "typescript",
	"express":    "express",
	"expressjs":  "express",
	"mongodb":    "mongodb",
	"mongo":      "mongodb",
	"postgresql": "postgresql",
	"postgres":   "postgresql",
	"tailwind":   "tailwind",
	"tailwindcss": "tailwind",
	"html":       "html",
	"css":        "css",
	"graphql":    "graphql",
	"docker":     "docker",
	"kubernetes": "kubernetes",
	"redis":      "redis",
	"grpc":       "grpc",
}

// sortKeywords returns dict's keys in a fixed, sorted order, so pattern
// matching always walks candidates in the same sequence. Map iteration
// order is randomized in Go; detection output depends on first-occurrence
// order and must be identical across runs for identical input.
func sortKeywords(dict map[string]string) []string {
	keys := make([]string, 0, len(dict))
	for k := range dict {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sortedKeywords is the default dictionary's keys, precomputed once.
var sortedKeywords = sortKeywords(keywordDictionary)

const (
	patternWeight = 1.0
	contextHintWeight = 1.0
	projectFactWeight = 0.5
	aiWeight = 0.5
	aiTriggerThreshold = 0.5
	fallbackConfidenceCeiling = 0.2
)

// Detector identifies frameworks in prompts. A nil llm disables the AI pass.
type Detector struct {
	llm    llmclient.ChatProvider
	dict   map[string]string
	sorted []string
}

// New constructs a Detector using the built-in keyword dictionary. llm may
// be nil.
func New(llm llmclient.ChatProvider) *Detector {
	return &Detector{llm: llm, dict: keywordDictionary, sorted: sortedKeywords}
}

// NewWithKeywordsPath constructs a Detector whose pattern dictionary is
// the built-in table overridden/extended by the JSON file at
// overridePath (the FRAMEWORK_KEYWORDS_PATH setting). An empty path is
// equivalent to New. The file must decode to a `map[string][]string` of
// canonical framework identifier to the keywords that imply it.
func NewWithKeywordsPath(llm llmclient.ChatProvider, overridePath string) (*Detector, error) {
	if overridePath == "" {
		return New(llm), nil
	}
	overrides, err := loadKeywordOverrides(overridePath)
	if err != nil {
		return nil, fmt.Errorf("frameworkdetector: loading keyword overrides: %w", err)
	}
	merged := make(map[string]string, len(keywordDictionary)+len(overrides))
	for k, v := range keywordDictionary {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return &Detector{llm: llm, dict: merged, sorted: sortKeywords(merged)}, nil
}

// loadKeywordOverrides reads a JSON file shaped { "framework": ["kw1", ...] }
// and flattens it to keyword -> canonical framework, lowercasing both sides.
func loadKeywordOverrides(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var byFramework map[string][]string
	if err := json.Unmarshal(raw, &byFramework); err != nil {
		return nil, fmt.Errorf("invalid keyword override file: %w", err)
	}
	out := make(map[string]string)
	for framework, keywords := range byFramework {
		fw := strings.ToLower(strings.TrimSpace(framework))
		if fw == "" {
			continue
		}
		for _, kw := range keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			out[kw] = fw
		}
	}
	return out, nil
}

// Detect runs the pattern, context, and (conditionally) AI passes over
// prompt, returning a normalized, confidence-scored result. It never
// blocks on repoFacts being populated; pass nil or empty when unavailable.
func (d *Detector) Detect(ctx context.Context, prompt string, hint model.EnhanceContext, repoFacts model.RepoFacts) model.FrameworkDetectionResult {
	weights := make(map[string]float64)
	order := []string{}
	addWeight := func(fw string, w float64) {
		fw = strings.ToLower(strings.TrimSpace(fw))
		if fw == "" {
			return
		}
		if _, seen := weights[fw]; !seen {
			order = append(order, fw)
		}
		weights[fw] += w
	}

	patternMatched := d.patternPass(prompt, addWeight)

	if hint.Framework != "" {
		addWeight(hint.Framework, contextHintWeight)
	}
	for _, fact := range repoFacts {
		if fw := d.frameworkMentionedIn(fact); fw != "" {
			addWeight(fw, projectFactWeight)
		}
	}

	confidence := confidenceOf(weights)
	method := model.MethodPattern
	if !patternMatched {
		method = model.MethodFallback
	}
	if hint.Framework != "" || len(repoFacts) > 0 {
		if patternMatched {
			method = model.MethodHybrid
		} else {
			method = model.MethodProject
		}
	}

	var suggestions []string
	if d.llm != nil && (len(weights) == 0 || confidence < aiTriggerThreshold) {
		if aiFrameworks, ok := d.aiPass(ctx, prompt); ok {
			for _, fw := range aiFrameworks {
				addWeight(fw, aiWeight)
			}
			suggestions = aiFrameworks
			if len(aiFrameworks) > 0 {
				method = model.MethodAI
			}
			confidence = confidenceOf(weights)
		}
	}

	frameworks := normalize(order, weights)

	if confidence <= fallbackConfidenceCeiling {
		frameworks = nil
		method = model.MethodFallback
	}

	return model.FrameworkDetectionResult{
		Frameworks:  frameworks,
		Confidence:  confidence,
		Method:      method,
		Suggestions: suggestions,
	}
}

func (d *Detector) patternPass(prompt string, addWeight func(string, float64)) bool {
	lower := strings.ToLower(prompt)
	matched := false
	for _, keyword := range d.sorted {
		if strings.Contains(lower, keyword) {
			addWeight(d.dict[keyword], patternWeight)
			matched = true
		}
	}
	return matched
}

func (d *Detector) frameworkMentionedIn(fact string) string {
	lower := strings.ToLower(fact)
	for _, keyword := range d.sorted {
		if strings.Contains(lower, keyword) {
			return d.dict[keyword]
		}
	}
	return ""
}

func confidenceOf(weights map[string]float64) float64 {
	var sum float64
	for _, w := range weights {
		sum += w
	}
	c := sum / 2.0
	if c > 1.0 {
		c = 1.0
	}
	return c
}

// normalize case-folds (already lowercase by construction), dedupes, and
// orders by descending weight then first-occurrence.
func normalize(order []string, weights map[string]float64) []string {
	if len(order) == 0 {
		return nil
	}
	idx := make(map[string]int, len(order))
	for i, fw := range order {
		idx[fw] = i
	}
	out := make([]string, len(order))
	copy(out, order)
	sort.SliceStable(out, func(i, j int) bool {
		wi, wj := weights[out[i]], weights[out[j]]
		if wi != wj {
			return wi > wj
		}
		return idx[out[i]] < idx[out[j]]
	})
	return out
}

// aiPass asks the LLM for a comma-separated suggestion list when pattern
// confidence is low or empty. Failures are non-fatal.
func (d *Detector) aiPass(ctx context.Context, prompt string) ([]string, bool) {
	system := "List the frameworks/libraries/languages this developer prompt most likely concerns, " +
		"as a comma-separated list of lowercase identifiers. Reply with the list only, no prose."
	res, err := d.llm.Complete(ctx, llmclient.StructuredRequest(system, prompt, 60))
	if err != nil {
		return nil, false
	}

	parts := strings.Split(res.Text, ",")
	seen := make(map[string]struct{})
	var out []string
	for _, p := range parts {
		fw := strings.ToLower(strings.TrimSpace(p))
		if fw == "" {
			continue
		}
		if _, dup := seen[fw]; dup {
			continue
		}
		seen[fw] = struct{}{}
		out = append(out, fw)
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

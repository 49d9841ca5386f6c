// Package curator refines raw documentation with three sequential LLM
// calls (quality scoring, extraction, compression) over
// bluemonday-sanitized content, caching results per
// (library, topic, prompt fingerprint).
package curator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"promptmcp/llmclient"
	"promptmcp/model"
)

const (
	defaultQualityFloor     = 6.0
	defaultTargetReduction  = 0.70
	defaultHardBudget       = 5 * time.Second
	cacheTTL                = 24 * time.Hour
)

// Config parameterizes a Curator.
type Config struct {
	QualityFloor    float64
	TargetReduction float64
	HardBudget      time.Duration
}

// Curator scores, extracts from, and compresses documentation. A nil
// llmclient.ChatProvider makes every curation call a pass-through of the
// sanitized Documentation content.
type Curator struct {
	llm          llmclient.ChatProvider
	policy       *bluemonday.Policy
	qualityFloor float64
	targetReduction float64
	hardBudget   time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	content model.CuratedContent
	expires time.Time
}

// New constructs a Curator.
func New(llm llmclient.ChatProvider, cfg Config) *Curator {
	if cfg.QualityFloor <= 0 {
		cfg.QualityFloor = defaultQualityFloor
	}
	if cfg.TargetReduction <= 0 {
		cfg.TargetReduction = defaultTargetReduction
	}
	if cfg.HardBudget <= 0 {
		cfg.HardBudget = defaultHardBudget
	}
	return &Curator{
		llm:             llm,
		policy:          bluemonday.StrictPolicy(),
		qualityFloor:    cfg.QualityFloor,
		targetReduction: cfg.TargetReduction,
		hardBudget:      cfg.HardBudget,
		cache:           make(map[string]cacheEntry),
	}
}

// Curate produces CuratedContent for doc, scoped to prompt and an
// optional project-context summary. Any internal failure or budget
// overrun falls back to the original content verbatim so the caller
// still gets usable documentation.
func (c *Curator) Curate(ctx context.Context, doc model.Documentation, prompt string, promptFingerprint string) model.CuratedContent {
	if doc.IsMiss() {
		return passthrough(doc)
	}

	key := cacheKey(doc.LibraryID, doc.Topic, promptFingerprint)
	if cached, ok := c.lookupCache(key); ok {
		return cached
	}

	ctx, cancel := context.WithTimeout(ctx, c.hardBudget)
	defer cancel()

	sanitized := c.policy.Sanitize(doc.Content)
	if c.llm == nil {
		result := passthrough(doc)
		result.Content = sanitized
		return result
	}

	start := time.Now()
	inputTokens := estimateTokens(sanitized)

	score, confidence := c.assessQuality(ctx, sanitized, prompt)
	if score < c.qualityFloor {
		result := model.CuratedContent{
			Original:     doc,
			Content:      sanitized,
			QualityScore: score,
			Meta: model.CurationMeta{
				InputTokens:      inputTokens,
				OutputTokens:     inputTokens,
				ProcessingMillis: time.Since(start).Milliseconds(),
				Confidence:       confidence,
			},
		}
		c.storeCache(key, result)
		return result
	}

	keyPatterns, bestPractices, codeExamples := c.extract(ctx, sanitized)
	compressed := c.compress(ctx, sanitized)
	if ctx.Err() != nil {
		result := passthrough(doc)
		result.Content = sanitized
		return result
	}

	outputTokens := estimateTokens(compressed)
	reduction := model.ClampedTokenReduction(inputTokens, outputTokens)

	result := model.CuratedContent{
		Original:       doc,
		Content:        compressed,
		QualityScore:   score,
		TokenReduction: reduction,
		KeyPatterns:    keyPatterns,
		BestPractices:  bestPractices,
		CodeExamples:   codeExamples,
		Meta: model.CurationMeta{
			InputTokens:      inputTokens,
			OutputTokens:     outputTokens,
			ProcessingMillis: time.Since(start).Milliseconds(),
			Confidence:       confidence,
		},
	}
	c.storeCache(key, result)
	return result
}

func passthrough(doc model.Documentation) model.CuratedContent {
	return model.CuratedContent{
		Original: doc,
		Content:  doc.Content,
		Meta:     model.CurationMeta{InputTokens: estimateTokens(doc.Content), OutputTokens: estimateTokens(doc.Content)},
	}
}

type qualityResponse struct {
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
}

// assessQuality weighs code examples 30%, best practices 25%,
// relevance-to-prompt 25%, completeness 20%. A failed call or a reply
// that does not parse yields a score of 0, which is below any positive
// floor, so the caller takes the cheap verbatim path rather than
// trusting a malformed judgment.
func (c *Curator) assessQuality(ctx context.Context, content, prompt string) (float64, float64) {
	system := "You score documentation quality on a 0-10 scale weighted: code examples 30%, best practices 25%, relevance to the user's prompt 25%, completeness 20%. Reply with JSON {\"score\": number, \"confidence\": number}."
	user := fmt.Sprintf("Prompt: %s\n\nDocumentation:\n%s", prompt, truncate(content, 6000))

	res, err := c.llm.Complete(ctx, llmclient.StructuredRequest(system, user, 200))
	if err != nil {
		return 0, 0
	}

	var parsed qualityResponse
	if err := json.Unmarshal([]byte(extractJSON(res.Text)), &parsed); err != nil {
		return 0, 0
	}
	if parsed.Score < 0 {
		parsed.Score = 0
	}
	if parsed.Score > 10 {
		parsed.Score = 10
	}
	return parsed.Score, parsed.Confidence
}

type extractionResponse struct {
	KeyPatterns   []string `json:"keyPatterns"`
	BestPractices []string `json:"bestPractices"`
	CodeExamples  []string `json:"codeExamples"`
}

func (c *Curator) extract(ctx context.Context, content string) (keyPatterns, bestPractices, codeExamples []string) {
	system := "Extract from the documentation: keyPatterns (short phrases), bestPractices (short phrases), codeExamples (short code excerpts). Reply with JSON {\"keyPatterns\": [...], \"bestPractices\": [...], \"codeExamples\": [...]}."
	user := truncate(content, 6000)

	res, err := c.llm.Complete(ctx, llmclient.StructuredRequest(system, user, 800))
	if err != nil {
		return nil, nil, nil
	}

	var parsed extractionResponse
	if err := json.Unmarshal([]byte(extractJSON(res.Text)), &parsed); err != nil {
		return nil, nil, nil
	}
	return boundSlice(parsed.KeyPatterns, 20), boundSlice(parsed.BestPractices, 20), boundSlice(parsed.CodeExamples, 10)
}

// compress rewrites content targeting c.targetReduction token reduction
// while preserving code blocks, with one retry if the result is still
// over budget, then a hard truncation at a paragraph boundary.
func (c *Curator) compress(ctx context.Context, content string) string {
	system := fmt.Sprintf("Rewrite the documentation to reduce its length by about %.0f%% while preserving all code blocks verbatim and the key technical meaning.", c.targetReduction*100)

	res, err := c.llm.Complete(ctx, llmclient.StructuredRequest(system, content, estimateTokens(content)))
	if err != nil {
		return content
	}
	compressed := res.Text

	targetTokens := int(float64(estimateTokens(content)) * (1 - c.targetReduction))
	if estimateTokens(compressed) > targetTokens*2 {
		res2, err := c.llm.Complete(ctx, llmclient.StructuredRequest(system+" Be more aggressive.", compressed, targetTokens))
		if err == nil {
			compressed = res2.Text
		}
	}

	if estimateTokens(compressed) > targetTokens*2 {
		compressed = truncateAtParagraph(compressed, targetTokens*4)
	}
	return compressed
}

func (c *Curator) lookupCache(key string) (model.CuratedContent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.cache[key]
	if !ok || time.Now().After(e.expires) {
		return model.CuratedContent{}, false
	}
	return e.content, true
}

func (c *Curator) storeCache(key string, content model.CuratedContent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = cacheEntry{content: content, expires: time.Now().Add(cacheTTL)}
}

func cacheKey(libraryID, topic, promptFingerprint string) string {
	return libraryID + "|" + topic + "|" + promptFingerprint
}

// estimateTokens approximates token count as characters/4, a widely used
// rule of thumb avoiding a tokenizer dependency beyond what the curation
// budget needs.
func estimateTokens(s string) int {
	n := len(s) / 4
	if n == 0 && len(s) > 0 {
		n = 1
	}
	return n
}

func truncate(s string, maxChars int) string {
	if len(s) <= maxChars {
		return s
	}
	return s[:maxChars]
}

func truncateAtParagraph(s string, maxChars int) string {
	if len(s) <= maxChars {
		return s
	}
	cut := s[:maxChars]
	if idx := strings.LastIndex(cut, "\n\n"); idx > 0 {
		return cut[:idx]
	}
	return cut
}

func boundSlice(items []string, max int) []string {
	if len(items) > max {
		return items[:max]
	}
	return items
}

// extractJSON pulls the first {...} span out of s, tolerating models that
// wrap JSON in prose or markdown code fences.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return "{}"
	}
	return s[start : end+1]
}

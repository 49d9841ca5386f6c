// Package projectanalyzer performs a bounded, read-only scan of the
// configured workspace, deriving repository facts from recognized
// manifest files and ranking code snippets by bag-of-words relevance to
// a prompt.
package projectanalyzer

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/clipperhouse/uax29/v2/words"

	"promptmcp/model"
)

const (
	defaultMaxDepth    = 5
	defaultTopK        = 5
	defaultMaxFactsCap = 40
	defaultMaxFiles    = 500
	defaultMaxFileSize = 200 * 1024 // 200KB
	defaultSnippetCap  = 2000       // chars
	defaultSoftDeadline = 2 * time.Second
)

var ignoredDirNames = map[string]struct{}{
	"node_modules": {}, ".git": {}, "vendor": {}, "dist": {}, "build": {},
	".vscode": {}, ".idea": {}, "__pycache__": {}, ".next": {}, "target": {},
}

var sourceExtensions = map[string]struct{}{
	".go": {}, ".js": {}, ".jsx": {}, ".ts": {}, ".tsx": {}, ".py": {},
	".java": {}, ".c": {}, ".cpp": {}, ".h": {}, ".hpp": {}, ".cs": {},
	".rb": {}, ".php": {}, ".rs": {}, ".swift": {}, ".kt": {}, ".vue": {},
}

// manifestFiles maps a recognized config/manifest filename to the short
// RepoFacts sentence it contributes, when present at the workspace root.
var manifestFiles = map[string]string{
	"package.json":     "Project uses Node.js package manifest (package.json)",
	"package-lock.json": "Lockfile present (package-lock.json)",
	"yarn.lock":        "Lockfile present (yarn.lock)",
	"pnpm-lock.yaml":   "Lockfile present (pnpm-lock.yaml)",
	"tsconfig.json":    "Project uses TypeScript (tsconfig.json)",
	"go.mod":           "Project uses Go modules (go.mod)",
	"Dockerfile":       "Dockerfile present",
	"jest.config.js":   "Testing setup present (jest)",
	"vitest.config.ts": "Testing setup present (vitest)",
	"pytest.ini":       "Testing setup present (pytest)",
	"Cargo.toml":       "Project uses Cargo (Rust)",
	"requirements.txt": "Project uses pip requirements (Python)",
}

// Config parameterizes an Analyzer.
type Config struct {
	MaxDepth     int
	TopK         int
	MaxFacts     int
	MaxFiles     int // cap on source files read per scan
	CacheDir     string // excluded from the walk, in addition to ignoredDirNames
	SoftDeadline time.Duration
}

// Analyzer scans a workspace root. It never writes.
type Analyzer struct {
	maxDepth     int
	topK         int
	maxFacts     int
	maxFiles     int
	cacheDir     string
	softDeadline time.Duration
}

// New constructs an Analyzer, applying defaults for unset fields.
func New(cfg Config) *Analyzer {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaultMaxDepth
	}
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.MaxFacts <= 0 {
		cfg.MaxFacts = defaultMaxFactsCap
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = defaultMaxFiles
	}
	if cfg.SoftDeadline <= 0 {
		cfg.SoftDeadline = defaultSoftDeadline
	}
	return &Analyzer{
		maxDepth:     cfg.MaxDepth,
		topK:         cfg.TopK,
		maxFacts:     cfg.MaxFacts,
		maxFiles:     cfg.MaxFiles,
		cacheDir:     cfg.CacheDir,
		softDeadline: cfg.SoftDeadline,
	}
}

// Result is the combined output of one Analyze call.
type Result struct {
	Facts    model.RepoFacts
	Snippets []model.CodeSnippet
}

// Analyze walks workspaceRoot bounded by maxDepth and the soft deadline,
// collecting RepoFacts from recognized manifest files and ranking whole
// source files against prompt by keyword overlap. Never writes; returns
// partial results on timeout rather than an error.
func (a *Analyzer) Analyze(ctx context.Context, workspaceRoot, prompt string) Result {
	deadline := time.Now().Add(a.softDeadline)

	facts := a.collectFacts(workspaceRoot)
	candidates := a.collectCandidates(workspaceRoot, deadline)
	snippets := rankSnippets(prompt, candidates, a.topK)

	return Result{Facts: facts, Snippets: snippets}
}

func (a *Analyzer) collectFacts(workspaceRoot string) model.RepoFacts {
	seen := make(map[string]struct{})
	var facts []string
	for name, fact := range manifestFiles {
		if _, err := os.Stat(filepath.Join(workspaceRoot, name)); err != nil {
			continue
		}
		if _, dup := seen[fact]; dup {
			continue
		}
		seen[fact] = struct{}{}
		facts = append(facts, fact)
		if len(facts) >= a.maxFacts {
			break
		}
	}
	sort.Strings(facts)
	return facts
}

type candidateFile struct {
	relPath string
	content string
}

func (a *Analyzer) collectCandidates(workspaceRoot string, deadline time.Time) []candidateFile {
	var candidates []candidateFile

	root := filepath.Clean(workspaceRoot)
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if time.Now().After(deadline) {
			return filepath.SkipAll
		}
		if len(candidates) >= a.maxFiles {
			return filepath.SkipAll
		}

		if info.IsDir() {
			name := info.Name()
			if _, ignored := ignoredDirNames[name]; ignored {
				return filepath.SkipDir
			}
			if a.cacheDir != "" && filepath.Base(a.cacheDir) == name {
				return filepath.SkipDir
			}
			if depthOf(root, path) > a.maxDepth {
				return filepath.SkipDir
			}
			return nil
		}

		if depthOf(root, path) > a.maxDepth {
			return nil
		}
		if _, ok := sourceExtensions[filepath.Ext(path)]; !ok {
			return nil
		}
		if info.Size() > defaultMaxFileSize {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		candidates = append(candidates, candidateFile{relPath: rel, content: string(data)})
		return nil
	})

	return candidates
}

func depthOf(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return 0
	}
	if rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}

// rankSnippets scores each candidate by cosine similarity of token-overlap
// bags of words between prompt and the file's entire content, returning
// the top-K files, each as its first defaultSnippetCap characters. Files
// are not split into windows; the returned text is the head of the file
// whatever part of it matched.
func rankSnippets(prompt string, candidates []candidateFile, topK int) []model.CodeSnippet {
	promptBag := tokenize(prompt)
	if len(promptBag) == 0 || len(candidates) == 0 {
		return nil
	}

	type scored struct {
		snippet model.CodeSnippet
	}
	var scoredList []scored

	for _, c := range candidates {
		fileBag := tokenize(c.content)
		relevance := cosineOverlap(promptBag, fileBag)
		if relevance <= 0 {
			continue
		}
		content := c.content
		if len(content) > defaultSnippetCap {
			content = content[:defaultSnippetCap]
		}
		scoredList = append(scoredList, scored{
			snippet: model.CodeSnippet{FilePath: c.relPath, Content: content, Relevance: relevance},
		})
	}

	sort.SliceStable(scoredList, func(i, j int) bool {
		return scoredList[i].snippet.Relevance > scoredList[j].snippet.Relevance
	})

	if len(scoredList) > topK {
		scoredList = scoredList[:topK]
	}

	out := make([]model.CodeSnippet, len(scoredList))
	for i, s := range scoredList {
		out[i] = s.snippet
	}
	return out
}

// tokenize lowercases and word-segments text using uax29's Unicode word
// boundary rules, returning a term-frequency bag of words.
func tokenize(text string) map[string]int {
	bag := make(map[string]int)
	seg := words.FromString(text)
	for seg.Next() {
		tok := strings.ToLower(strings.TrimSpace(seg.Value()))
		if tok == "" || !isWordLike(tok) {
			continue
		}
		bag[tok]++
	}
	return bag
}

func isWordLike(tok string) bool {
	for _, r := range tok {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return true
		}
	}
	return false
}

// cosineOverlap computes cosine similarity between two term-frequency bags.
func cosineOverlap(a, b map[string]int) float64 {
	var dot, normA, normB float64
	for term, countA := range a {
		normA += float64(countA) * float64(countA)
		if countB, ok := b[term]; ok {
			dot += float64(countA) * float64(countB)
		}
	}
	for _, countB := range b {
		normB += float64(countB) * float64(countB)
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

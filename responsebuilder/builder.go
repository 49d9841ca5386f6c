// Package responsebuilder assembles the final enhanced prompt from every
// pipeline stage's output, dropping lower-priority sections first
// whenever the token budget is exceeded. The original prompt is always
// preserved verbatim.
package responsebuilder

import (
	"fmt"
	"sort"
	"strings"

	"promptmcp/model"
)

const defaultMaxTokens = 4000

// CuratedLibrary pairs a library identifier with its curated (or raw,
// pass-through) documentation content, in the order retrieval resolved it.
type CuratedLibrary struct {
	LibraryID string
	Content   string
}

// Input is everything ResponseBuilder needs to assemble one EnhancedResponse.
type Input struct {
	Prompt        string
	Detection     model.FrameworkDetectionResult
	Libraries     []CuratedLibrary
	Facts         model.RepoFacts
	Snippets      []model.CodeSnippet
	Todos         []model.Todo
	Breakdown     *model.BreakdownView
	Curation      *model.CurationMetrics
	MaxTokens     int
}

// Build assembles the EnhancedResponse. The original prompt is always
// preserved verbatim; section priority (frameworks, docs, facts,
// snippets, tasks, breakdown) governs what gets dropped when the
// estimated token count would exceed MaxTokens.
func Build(in Input) model.EnhancedResponse {
	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	base := in.Prompt
	// separatorTokens is the estimated cost of the "\n\n" joining each
	// appended section (and base to the first section); reserving it
	// up front keeps the final joined string from creeping past
	// maxTokens by a few tokens once every separator is accounted for.
	const separatorTokens = 1
	budget := maxTokens - estimateTokens(base)

	var sections []string
	used := model.ContextUsed{}

	if section, tokens, ok := frameworksSection(in.Detection, budget-separatorTokens); ok {
		sections = append(sections, section)
		budget -= tokens + separatorTokens
	}

	docsSections, docsUsed, consumed := docsSection(in.Libraries, budget-separatorTokens*len(in.Libraries))
	if len(docsSections) > 0 {
		sections = append(sections, docsSections...)
		budget -= consumed + separatorTokens*len(docsSections)
	}
	used.Context7Docs = docsUsed

	if section, tokens, facts, ok := factsSection(in.Facts, budget-separatorTokens); ok {
		sections = append(sections, section)
		budget -= tokens + separatorTokens
		used.RepoFacts = facts
	}

	snippetSections, keptSnippets, consumed := snippetsSection(in.Snippets, budget-separatorTokens)
	if len(snippetSections) > 0 {
		sections = append(sections, snippetSections...)
		budget -= consumed + separatorTokens*len(snippetSections)
	}
	used.CodeSnippets = toSnippetViews(keptSnippets)

	if section, tokens, titles, ok := tasksSection(in.Todos, budget-separatorTokens); ok {
		sections = append(sections, section)
		budget -= tokens + separatorTokens
		used.Todos = titles
	}

	if section, tokens, ok := breakdownSection(in.Breakdown, budget-separatorTokens); ok {
		sections = append(sections, section)
		budget -= tokens + separatorTokens
	}

	enhanced := base
	if len(sections) > 0 {
		enhanced = base + "\n\n" + strings.Join(sections, "\n\n")
	}

	return model.EnhancedResponse{
		EnhancedPrompt:     enhanced,
		ContextUsed:        used,
		FrameworksDetected: append([]string(nil), in.Detection.Frameworks...),
		CurationMetrics:    in.Curation,
		Breakdown:          in.Breakdown,
		Success:            true,
	}
}

func frameworksSection(d model.FrameworkDetectionResult, budget int) (string, int, bool) {
	if budget <= 0 {
		return "", 0, false
	}
	frameworks := "none"
	if len(d.Frameworks) > 0 {
		frameworks = strings.Join(d.Frameworks, ", ")
	}
	section := fmt.Sprintf("## Detected Frameworks/Libraries:\n- Frameworks: %s\n- Detection Method: %s\n- Confidence: %d%%",
		frameworks, d.Method, int(d.Confidence*100))
	tokens := estimateTokens(section)
	if tokens > budget {
		return "", 0, false
	}
	return section, tokens, true
}

func docsSection(libs []CuratedLibrary, budget int) ([]string, []string, int) {
	var sections []string
	var used []string
	consumed := 0
	for _, lib := range libs {
		if budget-consumed <= 0 {
			break
		}
		header := fmt.Sprintf("## %s Documentation:", lib.LibraryID)
		content := lib.Content
		section := header + "\n" + content
		tokens := estimateTokens(section)
		remaining := budget - consumed
		if tokens > remaining {
			content = truncateAtBoundary(content, remaining*4)
			section = header + "\n" + content
			tokens = estimateTokens(section)
			if tokens > remaining || content == "" {
				continue
			}
		}
		sections = append(sections, section)
		used = append(used, lib.LibraryID)
		consumed += tokens
	}
	return sections, used, consumed
}

func factsSection(facts model.RepoFacts, budget int) (string, int, []string, bool) {
	if budget <= 0 || len(facts) == 0 {
		return "", 0, nil, false
	}
	kept := make([]string, 0, len(facts))
	lines := make([]string, 0, len(facts))
	for _, f := range facts {
		lines = append(lines, "- "+f)
	}
	for len(lines) > 0 {
		section := "## Project Context:\n- Repo facts:\n" + strings.Join(lines, "\n")
		if estimateTokens(section) <= budget {
			kept = facts[:len(lines)]
			return section, estimateTokens(section), kept, true
		}
		lines = lines[:len(lines)-1]
	}
	return "", 0, nil, false
}

func snippetsSection(snippets []model.CodeSnippet, budget int) ([]string, []model.CodeSnippet, int) {
	if budget <= 0 || len(snippets) == 0 {
		return nil, nil, 0
	}
	ordered := make([]model.CodeSnippet, len(snippets))
	copy(ordered, snippets)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Relevance > ordered[j].Relevance })

	var kept []model.CodeSnippet
	var blocks []string
	consumed := estimateTokens("## Code Snippets:\n")
	for _, s := range ordered {
		block := fmt.Sprintf("```%s\n%s\n```", s.FilePath, s.Content)
		tokens := estimateTokens(block)
		if len(blocks) > 0 {
			tokens += separatorTokens
		}
		if consumed+tokens > budget {
			continue
		}
		blocks = append(blocks, block)
		kept = append(kept, s)
		consumed += tokens
	}
	if len(blocks) == 0 {
		return nil, nil, 0
	}
	section := "## Code Snippets:\n" + strings.Join(blocks, "\n\n")
	return []string{section}, kept, estimateTokens(section)
}

func tasksSection(todos []model.Todo, budget int) (string, int, []string, bool) {
	if budget <= 0 || len(todos) == 0 {
		return "", 0, nil, false
	}
	titles := make([]string, 0, len(todos))
	lines := make([]string, 0, len(todos))
	for _, t := range todos {
		titles = append(titles, t.Title)
		lines = append(lines, "- "+t.Title)
	}
	for len(lines) > 0 {
		section := "## Current Project Tasks:\n" + strings.Join(lines, "\n")
		if estimateTokens(section) <= budget {
			return section, estimateTokens(section), titles[:len(lines)], true
		}
		lines = lines[:len(lines)-1]
	}
	return "", 0, nil, false
}

func breakdownSection(b *model.BreakdownView, budget int) (string, int, bool) {
	if b == nil || budget <= 0 {
		return "", 0, false
	}
	var sb strings.Builder
	sb.WriteString("## Task Breakdown:\n")
	for _, task := range b.MainTasks {
		fmt.Fprintf(&sb, "- %s (%s, %s, %.1fh)\n", task.Title, task.Priority, task.Category, task.EstimatedHours)
	}
	for _, st := range b.Subtasks {
		fmt.Fprintf(&sb, "  - %s: %s (%.1fh)\n", st.ParentTaskID, st.Title, st.EstimatedHours)
	}
	for _, dep := range b.Dependencies {
		fmt.Fprintf(&sb, "  depends: %s -> %s\n", dep.TaskID, dep.DependsOnTaskID)
	}
	fmt.Fprintf(&sb, "Estimated total time: %s\n", b.EstimatedTotalTime)

	section := sb.String()
	tokens := estimateTokens(section)
	if tokens > budget {
		return "", 0, false
	}
	return section, tokens, true
}

func toSnippetViews(snippets []model.CodeSnippet) []model.CodeSnippetView {
	if len(snippets) == 0 {
		return nil
	}
	out := make([]model.CodeSnippetView, len(snippets))
	for i, s := range snippets {
		out[i] = model.CodeSnippetView{File: s.FilePath, Content: s.Content, Relevance: s.Relevance}
	}
	return out
}

func truncateAtBoundary(s string, maxChars int) string {
	if maxChars <= 0 {
		return ""
	}
	if len(s) <= maxChars {
		return s
	}
	cut := s[:maxChars]
	if idx := strings.LastIndex(cut, "\n\n"); idx > 0 {
		return cut[:idx]
	}
	return cut
}

// estimateTokens approximates token count as ceil(length/4), avoiding a
// tokenizer dependency.
func estimateTokens(s string) int {
	n := len(s)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

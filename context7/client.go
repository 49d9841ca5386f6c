// Package context7 is a client for the external Context7 documentation
// service: library-ID resolution and documentation retrieval over HTTP
// with retry/backoff and an in-process resolution memo.
package context7

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"promptmcp/model"
	"promptmcp/outbound"
)

const (
	memoTTL          = 1 * time.Hour
	requestTimeout   = 5 * time.Second
	perCallDeadline  = 10 * time.Second
)

var backoffSchedule = []time.Duration{200 * time.Millisecond, 800 * time.Millisecond}

// canonicalMapping maps a free-form library name to the Context7 ID
// SelectBest should prefer, when known. Mirrors frameworkdetector's
// keyword dictionary, kept local here to avoid an import cycle.
var canonicalMapping = map[string]string{
	"react":      "/facebook/react",
	"vue":        "/vuejs/vue",
	"angular":    "/angular/angular",
	"next.js":    "/vercel/next.js",
	"typescript": "/microsoft/typescript",
	"express":    "/expressjs/express",
	"mongodb":    "/mongodb/docs",
	"postgresql": "/postgres/postgres",
	"tailwind":   "/tailwindlabs/tailwindcss",
}

// Client talks to the Context7 RPC endpoint over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	enabled    bool
	httpClient *http.Client
	fanOut     int
	limiter    *outbound.Limiter

	memoMu sync.Mutex
	memo   map[string]memoEntry
}

type memoEntry struct {
	handles []model.LibraryHandle
	expires time.Time
}

// New creates a Context7 client. enabled=false makes every method a no-op
// miss, so a disabled Context7 degrades rather than errors.
func New(baseURL, apiKey string, enabled bool, fanOut int) *Client {
	return NewWithLimiter(baseURL, apiKey, enabled, fanOut, nil)
}

// NewWithLimiter creates a Context7 client whose requests additionally
// acquire a slot from the process-wide outbound limiter. limiter may be
// nil, in which case only fanOut bounds concurrency.
func NewWithLimiter(baseURL, apiKey string, enabled bool, fanOut int, limiter *outbound.Limiter) *Client {
	if fanOut <= 0 {
		fanOut = 4
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		enabled:    enabled,
		httpClient: &http.Client{Timeout: requestTimeout},
		fanOut:     fanOut,
		limiter:    limiter,
		memo:       make(map[string]memoEntry),
	}
}

type rpcRequest struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

// resolveLibraryIDResponse mirrors the resolve-library-id reply payload.
type resolveLibraryIDResponse struct {
	Libraries []model.LibraryHandle `json:"libraries"`
}

// ResolveLibraryID returns ordered candidate LibraryHandles for name, or an
// empty slice on a documented miss. It never returns an error for absence;
// transport failures are surfaced as an error (UpstreamUnavailable is the
// orchestrator's job to attach, not this client's).
func (c *Client) ResolveLibraryID(ctx context.Context, name string) ([]model.LibraryHandle, error) {
	if !c.enabled {
		return nil, nil
	}

	key := strings.ToLower(strings.TrimSpace(name))
	if handles, ok := c.memoLookup(key); ok {
		return handles, nil
	}

	var out resolveLibraryIDResponse
	err := c.callWithRetry(ctx, "resolve-library-id", map[string]any{"libraryName": name}, &out)
	if err != nil {
		return nil, err
	}

	c.memoStore(key, out.Libraries)
	return out.Libraries, nil
}

type getLibraryDocsResponse struct {
	Content  string `json:"content"`
	Metadata struct {
		LibraryID string `json:"libraryId"`
		Topic     string `json:"topic"`
		Tokens    int    `json:"tokens"`
		Source    string `json:"source"`
	} `json:"metadata"`
}

// GetLibraryDocs fetches documentation for a resolved libraryId. A
// server-reported absence comes back as an empty-content Documentation,
// not an error.
func (c *Client) GetLibraryDocs(ctx context.Context, libraryID, topic string, tokenBudget int) (model.Documentation, error) {
	if !c.enabled {
		return model.Documentation{}, nil
	}

	params := map[string]any{
		"context7CompatibleLibraryID": libraryID,
		"tokens":                      tokenBudget,
	}
	if topic != "" {
		params["topic"] = topic
	}

	var out getLibraryDocsResponse
	if err := c.callWithRetry(ctx, "get-library-docs", params, &out); err != nil {
		return model.Documentation{}, err
	}

	return model.Documentation{
		LibraryID:   libraryID,
		Topic:       topic,
		Content:     out.Content,
		Tokens:      out.Metadata.Tokens,
		RetrievedAt: time.Now().UTC(),
		Source:      out.Metadata.Source,
	}, nil
}

// SelectBest picks the handle whose LibraryID matches name's canonical
// mapping when known, else the highest trust score, ties broken by code
// snippet count descending.
func SelectBest(name string, candidates []model.LibraryHandle) (model.LibraryHandle, bool) {
	if len(candidates) == 0 {
		return model.LibraryHandle{}, false
	}

	if want, ok := canonicalMapping[strings.ToLower(name)]; ok {
		for _, h := range candidates {
			if h.LibraryID == want {
				return h, true
			}
		}
	}

	best := make([]model.LibraryHandle, len(candidates))
	copy(best, candidates)
	sort.SliceStable(best, func(i, j int) bool {
		if best[i].TrustScore != best[j].TrustScore {
			return best[i].TrustScore > best[j].TrustScore
		}
		return best[i].CodeSnippets > best[j].CodeSnippets
	})
	return best[0], true
}

// DocsForFramework resolves a framework name and fetches its best
// candidate's documentation under tokenBudget, collapsing the
// resolve/select/fetch sequence for callers (taskbreakdown) that only
// want content. Misses come back as ("", nil).
func (c *Client) DocsForFramework(ctx context.Context, framework string, tokenBudget int) (string, error) {
	candidates, err := c.ResolveLibraryID(ctx, framework)
	if err != nil {
		return "", err
	}
	handle, ok := SelectBest(framework, candidates)
	if !ok {
		return "", nil
	}
	doc, err := c.GetLibraryDocs(ctx, handle.LibraryID, "", tokenBudget)
	if err != nil {
		return "", err
	}
	return doc.Content, nil
}

// FanOut is the configured bounded parallelism for multi-library lookups.
func (c *Client) FanOut() int { return c.fanOut }

// PerCallDeadline is the total external-time budget for one enhance()
// call's Context7 work.
func PerCallDeadline() time.Duration { return perCallDeadline }

func (c *Client) memoLookup(key string) ([]model.LibraryHandle, bool) {
	c.memoMu.Lock()
	defer c.memoMu.Unlock()
	e, ok := c.memo[key]
	if !ok || time.Now().After(e.expires) {
		return nil, false
	}
	return e.handles, true
}

func (c *Client) memoStore(key string, handles []model.LibraryHandle) {
	c.memoMu.Lock()
	defer c.memoMu.Unlock()
	c.memo[key] = memoEntry{handles: handles, expires: time.Now().Add(memoTTL)}
}

// callWithRetry issues one JSON RPC call with up to len(backoffSchedule)
// retries. Every failure of call is retried alike (transport error,
// non-200 status, undecodable body). The outbound slot is acquired
// once up front: a queue timeout fails the call immediately instead of
// being retried, and the slot is held across retries so a flapping
// upstream cannot multiply this call's share of the pool.
func (c *Client) callWithRetry(ctx context.Context, method string, params map[string]any, out any) error {
	release, err := c.limiter.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("context7: %s: %w", method, err)
	}
	defer release()

	var lastErr error
	attempts := len(backoffSchedule) + 1

	for attempt := 0; attempt < attempts; attempt++ {
		err := c.call(ctx, method, params, out)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < len(backoffSchedule) {
			select {
			case <-ctx.Done():
				return fmt.Errorf("context7: %s: %w", method, ctx.Err())
			case <-time.After(backoffSchedule[attempt]):
			}
		}
	}

	return fmt.Errorf("context7: %s failed after retries: %w", method, lastErr)
}

func (c *Client) call(ctx context.Context, method string, params map[string]any, out any) error {
	body, err := json.Marshal(rpcRequest{Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("context7: marshal request: %w", err)
	}

	url := strings.TrimRight(c.baseURL, "/") + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("context7: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("context7: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("context7: %s returned status %d: %s", method, resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("context7: decode response: %w", err)
	}

	return nil
}

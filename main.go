// PromptMCP is a local developer-assist service exposing a single MCP
// tool, promptmcp.enhance, over stdio JSON-RPC. main wires every
// component's concrete implementation into one orchestrator and runs
// the stdio transport.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"promptmcp/config"
	"promptmcp/context7"
	"promptmcp/curator"
	"promptmcp/frameworkdetector"
	"promptmcp/llmclient"
	"promptmcp/orchestrator"
	"promptmcp/outbound"
	"promptmcp/projectanalyzer"
	"promptmcp/promptanalyzer"
	"promptmcp/promptcache"
	"promptmcp/rpcdispatcher"
	"promptmcp/taskbreakdown"
	"promptmcp/todostore"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting PromptMCP")

	cfg := config.Load()

	if err := os.MkdirAll(filepath.Join(cfg.WorkspacePath, cfg.CacheDir), 0o755); err != nil {
		logger.Fatal("Failed to create cache directory", zap.Error(err))
	}
	cacheDir := filepath.Join(cfg.WorkspacePath, cfg.CacheDir)

	limiter := outbound.NewLimiter(int64(cfg.MaxConcurrentOutbound), cfg.OutboundQueueTimeout)

	llm, err := llmclient.New(llmclient.Config{
		Provider:    cfg.LLMProvider,
		APIKey:      cfg.LLMAPIKey,
		Model:       cfg.LLMModel,
		BaseURL:     cfg.LLMProviderURL,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
		Limiter:     limiter,
	})
	if err != nil {
		logger.Warn("LLM client unavailable, falling back to heuristic-only mode", zap.Error(err))
		llm = nil
	}
	if llm == nil {
		logger.Warn("No LLM configured: AI-assisted detection, curation, and task breakdown are disabled")
	}

	c7 := context7.NewWithLimiter(cfg.Context7BaseURL, cfg.Context7APIKey, cfg.Context7Enabled, cfg.Context7FanOut, limiter)
	if !cfg.Context7Enabled {
		logger.Info("Context7 disabled via configuration")
	}

	doc := curator.New(llm, curator.Config{})

	analyzer := projectanalyzer.New(projectanalyzer.Config{CacheDir: cacheDir})

	cache := promptcache.Open(promptcache.Config{
		HotCapacity:  cfg.CacheHotCapacity,
		HotMaxBytes:  cfg.CacheHotMaxBytes,
		QualityFloor: cfg.CacheQualityFloor,
		TTL:          cfg.CacheTTL,
		SoftRefresh:  cfg.CacheSoftRefreshTTL,
		DurablePath:  filepath.Join(cacheDir, "promptcache.db"),
	})
	defer cache.Close()

	todos, err := todostore.Open(filepath.Join(cacheDir, "todos.sqlite"))
	if err != nil {
		logger.Fatal("Failed to open todo store", zap.Error(err))
	}
	defer todos.Close()

	pAnalyzer := promptanalyzer.New(llm)
	detector, err := frameworkdetector.NewWithKeywordsPath(llm, cfg.FrameworkKeywordsPath)
	if err != nil {
		logger.Warn("Failed to load FRAMEWORK_KEYWORDS_PATH override, using built-in dictionary", zap.Error(err))
		detector = frameworkdetector.New(llm)
	}
	breakdown := taskbreakdown.NewWithDocs(llm, todos, c7)

	orch := orchestrator.New(orchestrator.Capabilities{
		Cache:           cache,
		Context7:        c7,
		Curator:         doc,
		Analyzer:        analyzer,
		Todos:           todos,
		PromptAnalyzer:  pAnalyzer,
		Detector:        detector,
		Breakdown:       breakdown,
		WorkspaceRoot:   cfg.WorkspacePath,
		CallDeadline:    cfg.CallDeadline,
		MaxTasksDefault: cfg.MaxTasksDefault,
		Logger:          logger,
	})

	impl := &mcp.Implementation{
		Name:    "promptmcp",
		Version: "1.0.0",
	}
	opts := &mcp.ServerOptions{
		HasTools: true,
	}
	server := mcp.NewServer(impl, opts)

	dispatcher := rpcdispatcher.New(orch)
	if err := dispatcher.Register(server); err != nil {
		logger.Fatal("Failed to register promptmcp.enhance tool", zap.Error(err))
	}

	logger.Info("promptmcp.enhance tool registered, starting stdio transport")

	transport := &mcp.StdioTransport{}
	if err := server.Run(context.Background(), transport); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}

	logger.Info("Server shutdown complete")
}

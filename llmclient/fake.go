package llmclient

import "context"

// Fake is a deterministic ChatProvider used by other packages' tests. It is
// exported (not _test.go) so downstream packages (curator, promptanalyzer,
// frameworkdetector, taskbreakdown, orchestrator) can depend on it in their
// own test files.
type Fake struct {
	Response CompletionResult
	Err      error
	// Calls records every request made, for assertions.
	Calls []CompletionRequest
}

func (f *Fake) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	f.Calls = append(f.Calls, req)
	if f.Err != nil {
		return CompletionResult{}, f.Err
	}
	return f.Response, nil
}

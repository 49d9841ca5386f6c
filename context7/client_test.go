package context7

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptmcp/model"
	"promptmcp/outbound"
)

func TestResolveLibraryIDDisabledReturnsNil(t *testing.T) {
	c := New("http://unused", "", false, 4)
	handles, err := c.ResolveLibraryID(context.Background(), "react")
	require.NoError(t, err)
	assert.Nil(t, handles)
}

func TestResolveLibraryIDHappyPathAndMemo(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(resolveLibraryIDResponse{
			Libraries: []model.LibraryHandle{{LibraryID: "/facebook/react", Name: "react", TrustScore: 9.5}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "key", true, 4)
	handles, err := c.ResolveLibraryID(context.Background(), "React")
	require.NoError(t, err)
	require.Len(t, handles, 1)
	assert.Equal(t, "/facebook/react", handles[0].LibraryID)

	// Second call should hit the memo, not the server.
	_, err = c.ResolveLibraryID(context.Background(), "react")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestGetLibraryDocsMiss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(getLibraryDocsResponse{})
	}))
	defer srv.Close()

	c := New(srv.URL, "", true, 4)
	doc, err := c.GetLibraryDocs(context.Background(), "/facebook/react", "hooks", 2000)
	require.NoError(t, err)
	assert.True(t, doc.IsMiss())
}

func TestCallWithRetryEventuallyFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "", true, 4)
	_, err := c.ResolveLibraryID(context.Background(), "react")
	assert.Error(t, err)
}

func TestCallFailsFastWhenOutboundPoolExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(resolveLibraryIDResponse{})
	}))
	defer srv.Close()

	limiter := outbound.NewLimiter(1, 20*time.Millisecond)
	release, err := limiter.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	c := NewWithLimiter(srv.URL, "", true, 4, limiter)
	start := time.Now()
	_, err = c.ResolveLibraryID(context.Background(), "react")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "a queued request past the threshold must fail fast, not back off and retry")
}

func TestSelectBestPrefersCanonicalMapping(t *testing.T) {
	candidates := []model.LibraryHandle{
		{LibraryID: "/some/other-react", TrustScore: 10},
		{LibraryID: "/facebook/react", TrustScore: 8},
	}
	best, ok := SelectBest("react", candidates)
	require.True(t, ok)
	assert.Equal(t, "/facebook/react", best.LibraryID)
}

func TestSelectBestFallsBackToTrustScore(t *testing.T) {
	candidates := []model.LibraryHandle{
		{LibraryID: "/a/a", TrustScore: 5, CodeSnippets: 10},
		{LibraryID: "/b/b", TrustScore: 7, CodeSnippets: 1},
	}
	best, ok := SelectBest("unknown-lib", candidates)
	require.True(t, ok)
	assert.Equal(t, "/b/b", best.LibraryID)
}

func TestSelectBestEmpty(t *testing.T) {
	_, ok := SelectBest("react", nil)
	assert.False(t, ok)
}

package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ai-talker/internal/domain"
)

// ---------------------------------------------------------------------------
// chatURL helper
// ---------------------------------------------------------------------------

func TestChatURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1/chat/completions"},
		{"http://localhost:8080", "http://localhost:8080/v1/chat/completions"},
		{"", "https://api.openai.com/v1/chat/completions"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, chatURL(tc.base), "base=%q", tc.base)
	}
}

// ---------------------------------------------------------------------------
// NewClient
// ---------------------------------------------------------------------------

func TestNewClient_RequiresKeySource(t *testing.T) {
	_, err := NewClient()
	require.ErrorContains(t, err, "must not be nil")

	_, err = NewClient(WithTokenParameter(&fakeGetter{}, " "))
	require.ErrorContains(t, err, "must not be empty")
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(WithAPIKey("sk-static"))
	require.NoError(t, err)
	require.Equal(t, "https://api.openai.com/v1/chat/completions", c.endpoint)
	require.Nil(t, c.limiter)
}

func TestNewClient_EndpointOverridesBaseURL(t *testing.T) {
	azure := "https://example.openai.azure.com/openai/deployments/gpt/chat/completions?api-version=2024-02-15-preview"
	c, err := NewClient(WithAPIKey("k"), WithBaseURL("http://ignored"), WithEndpoint(azure))
	require.NoError(t, err)
	require.Equal(t, azure, c.endpoint)
}

// ---------------------------------------------------------------------------
// resolveAPIKey and fetchAPIKeyFromParamStore
// ---------------------------------------------------------------------------

// fakeGetter is a minimal paramstore.Getter stub for use within this package.
type fakeGetter struct {
	val    string
	err    error
	onCall func(name string)
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	if f.onCall != nil {
		f.onCall(name)
	}
	return f.val, f.err
}

func TestResolveAPIKey_FetchedOnce(t *testing.T) {
	var names []string
	g := &fakeGetter{val: `{"token":"sk-from-ssm"}`}
	g.onCall = func(name string) { names = append(names, name) }
	c, err := NewClient(WithTokenParameter(g, "/ai-talker/open-ai-token"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		key, err := c.resolveAPIKey(context.Background())
		require.NoError(t, err)
		require.Equal(t, "sk-from-ssm", key)
	}
	require.Equal(t, []string{"/ai-talker/open-ai-token"}, names)
}

func TestResolveAPIKey_StaticKeySkipsParamStore(t *testing.T) {
	g := &fakeGetter{err: errors.New("must not be called")}
	c, err := NewClient(WithAPIKey("sk-static"), WithTokenParameter(g, "/p"))
	require.NoError(t, err)
	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-static", key)
}

func TestFetchAPIKey(t *testing.T) {
	cases := []struct {
		name    string
		getter  Getter
		param   string
		want    string
		wantErr string
	}{
		{name: "json token", getter: &fakeGetter{val: `{"token":"sk-json"}`}, param: "/p", want: "sk-json"},
		{name: "missing token field", getter: &fakeGetter{val: `{"other":"v"}`}, param: "/p", wantErr: "API token is empty"},
		{name: "malformed json", getter: &fakeGetter{val: `{"broken`}, param: "/p", wantErr: "unmarshal"},
		{name: "getter error", getter: &fakeGetter{err: errors.New("ssm unavailable")}, param: "/p", wantErr: "ssm unavailable"},
		{name: "nil getter", getter: nil, param: "/p", wantErr: "nil"},
		{name: "empty name", getter: &fakeGetter{val: `{"token":"x"}`}, param: " ", wantErr: "empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			key, err := fetchAPIKeyFromParamStore(context.Background(), tc.getter, tc.param)
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, key)
		})
	}
}

// ---------------------------------------------------------------------------
// Client.Complete
// ---------------------------------------------------------------------------

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithTokenParameter(&fakeGetter{val: `{"token":"sk-test"}`}, "/ai-talker/open-ai-token"),
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	}
	c, err := NewClient(append(base, opts...)...)
	require.NoError(t, err)
	return c
}

func userMessage(content string) []domain.ChatMessage {
	return []domain.ChatMessage{{Role: domain.ChatRoleUser, Content: content}}
}

func TestClient_Complete_HappyPath(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotReq  map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotReq)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-123",
			"choices": [{
				"index": 0,
				"message": { "role": "assistant", "content": "  Hello from mock\n" }
			}]
		}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, WithModel("gpt-mock"))
	resp, err := c.Complete(context.Background(), userMessage("hi"), 150)
	require.NoError(t, err)
	require.Equal(t, "Hello from mock", resp)

	require.Equal(t, "/v1/chat/completions", gotPath)
	require.Equal(t, "Bearer sk-test", gotAuth)
	require.Equal(t, "gpt-mock", gotReq["model"])
	require.EqualValues(t, 150, gotReq["max_tokens"])
	require.EqualValues(t, 0.7, gotReq["temperature"])
	require.EqualValues(t, 0.95, gotReq["top_p"])
	require.EqualValues(t, 0, gotReq["frequency_penalty"])
	require.EqualValues(t, 0, gotReq["presence_penalty"])
}

func TestClient_Complete_AzureHeaderAndNoModel(t *testing.T) {
	var (
		gotKey  string
		gotAuth string
		gotReq  map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("api-key")
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotReq)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(WithAPIKey("azure-key"), WithAPIKeyHeader("api-key"), WithEndpoint(srv.URL+"/deployments/x/chat/completions"))
	require.NoError(t, err)
	resp, err := c.Complete(context.Background(), userMessage("hi"), 16)
	require.NoError(t, err)
	require.Equal(t, "ok", resp)
	require.Equal(t, "azure-key", gotKey)
	require.Empty(t, gotAuth)
	_, hasModel := gotReq["model"]
	require.False(t, hasModel)
}

func TestClient_Complete_StatusErrors(t *testing.T) {
	for _, status := range []int{400, 429, 500} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		}))

		c := newTestClient(t, srv)
		_, err := c.Complete(context.Background(), userMessage("hi"), 150)
		srv.Close()

		var gwErr *GatewayError
		require.ErrorAs(t, err, &gwErr)
		require.Equal(t, status, gwErr.HTTPStatusCode())
		require.Contains(t, err.Error(), "unexpected status")
		require.Contains(t, gwErr.Detail(), `{"error":"nope"}`)
	}
}

func TestClient_Complete_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not-a-json`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Complete(context.Background(), userMessage("hi"), 150)
	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	require.Zero(t, gwErr.StatusCode)
	require.Contains(t, gwErr.Detail(), "decode response")
}

func TestClient_Complete_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Complete(context.Background(), userMessage("hi"), 150)
	require.ErrorContains(t, err, "no choices")
}

func TestClient_Complete_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))
	_, err := c.Complete(context.Background(), userMessage("hi"), 150)
	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
}

func TestClient_Complete_NetworkError(t *testing.T) {
	c, err := NewClient(WithAPIKey("k"), WithBaseURL("http://127.0.0.1:1"),
		WithHTTPClient(&http.Client{Timeout: 100 * time.Millisecond}))
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), userMessage("hi"), 150)
	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	require.Contains(t, err.Error(), "failed")
}

func TestClient_Complete_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"late"}}]}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestClient(t, srv).Complete(ctx, userMessage("hi"), 150)
	require.ErrorIs(t, err, context.Canceled)
}

func TestClient_Complete_RateLimitHonoursContext(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, WithRateLimit(0.001, 1))
	_, err := c.Complete(context.Background(), userMessage("first"), 10)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Complete(ctx, userMessage("second"), 10)
	require.ErrorContains(t, err, "rate limit")
	require.Equal(t, 1, calls)
}

func TestClient_Complete_EmptyMessages(t *testing.T) {
	c, err := NewClient(WithAPIKey("k"))
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), nil, 150)
	require.ErrorContains(t, err, "messages")
}

func TestGatewayError_Detail(t *testing.T) {
	require.Equal(t, "status code 503: busy", (&GatewayError{StatusCode: 503, Body: " busy\n"}).Detail())
	require.Equal(t, "dial tcp: refused", (&GatewayError{Body: "dial tcp: refused"}).Detail())
}

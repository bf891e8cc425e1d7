package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"ai-talker/internal/domain"
)

// Sampling parameters sent with every completion.
const (
	defaultTemperature = 0.7
	defaultTopP        = 0.95
)

// chatRequest is the Chat Completions request body.
type chatRequest struct {
	Model            string               `json:"model,omitempty"`
	Messages         []domain.ChatMessage `json:"messages"`
	MaxTokens        int                  `json:"max_tokens,omitempty"`
	Temperature      float64              `json:"temperature"`
	TopP             float64              `json:"top_p"`
	FrequencyPenalty float64              `json:"frequency_penalty"`
	PresencePenalty  float64              `json:"presence_penalty"`
}

// chatResponse is the minimal response shape returned by the Chat Completions endpoint.
type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Index   int                `json:"index"`
		Message domain.ChatMessage `json:"message"`
	} `json:"choices"`
}

// tokenPayload is the expected JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// GatewayError is returned by Complete for every failed call. StatusCode is
// zero when no HTTP response was received.
type GatewayError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *GatewayError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("openai: request to %s failed: %s", e.URL, e.Body)
	}
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *GatewayError) HTTPStatusCode() int {
	return e.StatusCode
}

// Detail is the human-readable failure text shown to the end user.
func (e *GatewayError) Detail() string {
	if e.StatusCode == 0 {
		return e.Body
	}
	return fmt.Sprintf("status code %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Client is a focused OpenAI-compatible client for chat completions. It
// works against api.openai.com and Azure OpenAI deployments.
type Client struct {
	endpoint   string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter

	keyHeader  string
	staticKey  string
	getter     Getter
	tokenParam string

	keyOnce sync.Once
	apiKey  string
	keyErr  error
}

type Option func(*Client)

// WithBaseURL points the client at an OpenAI-style base URL; /v1/chat/completions
// is appended.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.endpoint = chatURL(strings.TrimSpace(baseURL))
	}
}

// WithEndpoint sets the full completion URL, as Azure deployments require.
func WithEndpoint(url string) Option {
	return func(c *Client) {
		if u := strings.TrimSpace(url); u != "" {
			c.endpoint = u
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithModel(model string) Option {
	return func(c *Client) {
		c.model = strings.TrimSpace(model)
	}
}

// WithAPIKey uses a fixed key instead of reading one from the parameter store.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.staticKey = strings.TrimSpace(key)
	}
}

// WithTokenParameter reads the key once from the named parameter, which
// holds {"token": "..."}.
func WithTokenParameter(g Getter, name string) Option {
	return func(c *Client) {
		c.getter = g
		c.tokenParam = strings.TrimSpace(name)
	}
}

// WithAPIKeyHeader sends the key in the named header (Azure uses "api-key")
// instead of Authorization: Bearer.
func WithAPIKeyHeader(name string) Option {
	return func(c *Client) {
		c.keyHeader = strings.TrimSpace(name)
	}
}

// WithRateLimit caps outbound requests per second. Callers wait for a token
// and give up when their context ends.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient creates a Client. Either WithAPIKey or WithTokenParameter is
// required.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		endpoint:   chatURL(""),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.staticKey == "" {
		if c.getter == nil {
			return nil, errors.New("openai: paramstore getter must not be nil when no API key is set")
		}
		if c.tokenParam == "" {
			return nil, errors.New("openai: token parameter name must not be empty")
		}
	}
	return c, nil
}

// resolveAPIKey returns the static key, or fetches the key from SSM on the
// first call and returns the cached result afterwards.
func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	if c.staticKey != "" {
		return c.staticKey, nil
	}
	c.keyOnce.Do(func() {
		c.apiKey, c.keyErr = fetchAPIKeyFromParamStore(ctx, c.getter, c.tokenParam)
	})
	return c.apiKey, c.keyErr
}

// resolvedHTTPClient returns the configured HTTP client, or a default if none
// was set.
func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func chatURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

// Complete submits messages and returns the first choice's text. Failures
// past key resolution are returned as *GatewayError.
func (c *Client) Complete(ctx context.Context, messages []domain.ChatMessage, maxTokens int) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("openai: messages must not be empty")
	}

	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return "", err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("openai: rate limit wait: %w", err)
		}
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: defaultTemperature,
		TopP:        defaultTopP,
	})
	if err != nil {
		return "", fmt.Errorf("openai: marshal request: %w", err)
	}

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if reqErr != nil {
		return "", fmt.Errorf("openai: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.keyHeader != "" {
		req.Header.Set(c.keyHeader, apiKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	raw, err := c.doJSONRequest(req, c.endpoint)
	if err != nil {
		return "", err
	}

	var payload chatResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return "", &GatewayError{URL: c.endpoint, Body: "decode response: " + decErr.Error()}
	}
	if len(payload.Choices) == 0 {
		return "", &GatewayError{URL: c.endpoint, Body: "no choices in response"}
	}
	return strings.TrimSpace(payload.Choices[0].Message.Content), nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &GatewayError{URL: url, Body: doErr.Error()}
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &GatewayError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, &GatewayError{URL: url, Body: "read response body: " + err.Error()}
	}
	return buf, nil
}

func fetchAPIKeyFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("openai: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("openai: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("openai: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("openai: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", errors.New("openai: API token is empty")
	}
	return tp.Token, nil
}

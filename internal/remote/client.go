// Package remote wraps the remote service's HTTP API with timeouts,
// retry, bearer-token injection, and structured error classification.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/storesync/client/internal/models"
	"github.com/storesync/client/internal/observability"
)

// TokenStore holds the current session token and implements
// oauth2.TokenSource so the transport can inject it.
type TokenStore struct {
	mu    sync.RWMutex
	token string
}

// Token implements oauth2.TokenSource.
func (s *TokenStore) Token() (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &oauth2.Token{AccessToken: s.token}, nil
}

// Set replaces the current token; empty clears it.
func (s *TokenStore) Set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// authTransport injects a bearer token when one is present. Requests
// made before login (health, login itself) go out unauthenticated.
type authTransport struct {
	base   http.RoundTripper
	source oauth2.TokenSource
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	tok, err := t.source.Token()
	if err == nil && tok.AccessToken != "" {
		req = req.Clone(req.Context())
		tok.SetAuthHeader(req)
	}
	return t.base.RoundTrip(req)
}

// Client is the HTTP client for the remote API.
type Client struct {
	baseURL    string
	http       *http.Client
	tokens     *TokenStore
	log        *zap.Logger
	maxTries   uint
	retryDelay time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithRetry sets the retry budget for retryable failures.
func WithRetry(maxTries uint, delay time.Duration) Option {
	return func(c *Client) {
		c.maxTries = maxTries
		c.retryDelay = delay
	}
}

// WithLogger sets the client logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient creates a client for the given base URL (no trailing slash).
func NewClient(baseURL string, opts ...Option) *Client {
	tokens := &TokenStore{}
	c := &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: &authTransport{base: http.DefaultTransport, source: tokens},
		},
		tokens:     tokens,
		log:        zap.NewNop(),
		maxTries:   3,
		retryDelay: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetToken applies a session token to all subsequent requests.
func (c *Client) SetToken(token string) {
	c.tokens.Set(token)
}

// ClearToken removes the session token.
func (c *Client) ClearToken() {
	c.tokens.Set("")
}

// Health probes the liveness endpoint once (no retry; the connectivity
// checker owns the retry policy) and returns the observed latency.
func (c *Client) Health(ctx context.Context) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return 0, &Error{Kind: KindConnectivity, Message: err.Error(), Err: err}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &Error{Kind: KindConnectivity, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	latency := time.Since(start)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return latency, &Error{
			Kind:       kindFromStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("health check returned %d", resp.StatusCode),
		}
	}
	return latency, nil
}

// Login authenticates and returns the session token and profile. A 401
// or 403 comes back as a KindAuth error; callers must not fall back to
// offline verification for those.
func (c *Client) Login(ctx context.Context, identifier, password string) (*models.RemoteLoginResponse, error) {
	var out models.RemoteLoginResponse
	body := map[string]string{"identifier": identifier, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetUser fetches the full profile, including the password hash, for
// offline-cache population. Requires an applied session token.
func (c *Client) GetUser(ctx context.Context, id string) (*models.RemoteUser, error) {
	var out models.RemoteUser
	if err := c.do(ctx, http.MethodGet, "/api/auth/user/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRole fetches a role record for the user-cache foreign key.
func (c *Client) GetRole(ctx context.Context, id string) (*models.Role, error) {
	var out models.Role
	if err := c.do(ctx, http.MethodGet, "/api/roles/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadRecords posts one batch to the table's upload endpoint.
func (c *Client) UploadRecords(ctx context.Context, table string, records []models.Record) (*models.UploadResponse, error) {
	var out models.UploadResponse
	req := models.UploadRequest{Records: records}
	if err := c.do(ctx, http.MethodPost, "/api/sync/"+table+"/upload", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DownloadRecords fetches one page from the table's download endpoint.
func (c *Client) DownloadRecords(ctx context.Context, table string, limit, offset int) (*models.DownloadResponse, error) {
	var out models.DownloadResponse
	path := fmt.Sprintf("/api/sync/%s/download?limit=%d&offset=%d", table, limit, offset)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// List fetches all records of an entity resource (e.g. "categories").
func (c *Client) List(ctx context.Context, resource string) ([]models.Record, error) {
	var out []models.Record
	if err := c.do(ctx, http.MethodGet, "/api/"+resource, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get fetches a single entity record.
func (c *Client) Get(ctx context.Context, resource, id string) (models.Record, error) {
	var out models.Record
	if err := c.do(ctx, http.MethodGet, "/api/"+resource+"/"+id, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Create posts a new entity record.
func (c *Client) Create(ctx context.Context, resource string, record any) (models.Record, error) {
	var out models.Record
	if err := c.do(ctx, http.MethodPost, "/api/"+resource, record, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Update replaces an entity record.
func (c *Client) Update(ctx context.Context, resource, id string, record any) (models.Record, error) {
	var out models.Record
	if err := c.do(ctx, http.MethodPut, "/api/"+resource+"/"+id, record, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes an entity record.
func (c *Client) Delete(ctx context.Context, resource, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/"+resource+"/"+id, nil, nil)
}

// do performs one API call with retry on connectivity and server
// errors. Auth and data errors are permanent and returned immediately.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (err error) {
	ctx, span := observability.StartSpan(ctx, "remote.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.path", path),
		))
	defer func() {
		if err != nil {
			observability.RecordError(span, err)
		} else {
			observability.SetSuccess(span)
		}
		span.End()
	}()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindData, Message: "encode request: " + err.Error(), Err: err}
		}
	}

	operation := func() ([]byte, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, backoff.Permanent(&Error{Kind: KindData, Message: err.Error(), Err: err})
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, &Error{Kind: KindConnectivity, Message: err.Error(), Err: err}
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &Error{Kind: KindConnectivity, Message: "read response: " + err.Error(), Err: err}
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			rerr := &Error{
				Kind:       kindFromStatus(resp.StatusCode),
				StatusCode: resp.StatusCode,
				Message:    errorMessage(data, resp.StatusCode),
			}
			if rerr.Kind == KindServer {
				return nil, rerr
			}
			return nil, backoff.Permanent(rerr)
		}
		return data, nil
	}

	data, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.retryDelay)),
		backoff.WithMaxTries(c.maxTries),
	)
	if err != nil {
		c.log.Debug("remote request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return err
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Kind: KindData, Message: "decode response: " + err.Error(), Err: err}
	}
	return nil
}

// errorMessage extracts {"error": "..."} bodies, falling back to the
// status code.
func errorMessage(body []byte, status int) string {
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		return parsed.Error
	}
	return http.StatusText(status)
}

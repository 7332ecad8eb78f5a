// Package apiclient dispatches requests to the payment gateway API.
//
// Every call goes through the same pipeline: build the request, run the
// request interceptors (bearer token, request id, user supplied), send it,
// and normalise any failure into an *Error. A 401 response additionally tears
// the session down and forces a hard navigation to the login view.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-pay/client/internal/metrics"
	"github.com/zhouzirui/z-pay/client/internal/navigation"
	"github.com/zhouzirui/z-pay/client/internal/storage"
)

// DefaultTimeout applies when no timeout option is given.
const DefaultTimeout = 30 * time.Second

const maxErrorBody = 1 << 20

// RequestInterceptor mutates an outgoing request. Returning an error aborts
// the call with a REQUEST_ERROR.
type RequestInterceptor func(req *http.Request) error

// SessionInvalidator is reset when the server rejects the credentials.
type SessionInvalidator interface {
	Logout()
}

// Client is a configured gateway client. It is safe for concurrent use and
// is meant to be constructed once per base URL and shared.
type Client struct {
	name         string
	baseURL      *url.URL
	httpClient   *http.Client
	headers      http.Header
	storage      storage.Storage
	session      SessionInvalidator
	navigator    navigation.Navigator
	interceptors []RequestInterceptor
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithName labels the client in logs and metrics.
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// WithTimeout sets the fixed per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithHTTPClient replaces the underlying transport client. Its Timeout is
// kept as is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithHeader adds a default header sent on every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers.Set(key, value) }
}

// WithStorage sets the durable storage the bearer token is read from.
func WithStorage(st storage.Storage) Option {
	return func(c *Client) { c.storage = st }
}

// WithSession sets the session reset on a 401.
func WithSession(s SessionInvalidator) Option {
	return func(c *Client) { c.session = s }
}

// WithNavigator sets where the login redirect goes on a 401.
func WithNavigator(n navigation.Navigator) Option {
	return func(c *Client) { c.navigator = n }
}

// WithRequestInterceptor appends an interceptor run after the built-in ones.
func WithRequestInterceptor(fn RequestInterceptor) Option {
	return func(c *Client) {
		if fn != nil {
			c.interceptors = append(c.interceptors, fn)
		}
	}
}

// WithMetrics records every call in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New returns a client for baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host are required", baseURL)
	}

	c := &Client{
		name:       "api",
		baseURL:    u,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		headers:    http.Header{},
		logger:     zap.NewNop(),
	}
	c.headers.Set("Content-Type", "application/json")
	c.headers.Set("Accept", "application/json")

	for _, opt := range opts {
		opt(c)
	}

	builtin := []RequestInterceptor{c.attachBearer, attachRequestID}
	c.interceptors = append(builtin, c.interceptors...)
	c.logger = c.logger.With(zap.String("client", c.name))
	return c, nil
}

// BaseURL returns a copy of the configured base URL.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// Get issues a GET and decodes the JSON body into out (which may be nil).
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.call(ctx, http.MethodGet, path, nil, out)
}

// Post issues a POST with body encoded as JSON.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.call(ctx, http.MethodPost, path, body, out)
}

// Put issues a PUT with body encoded as JSON.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.call(ctx, http.MethodPut, path, body, out)
}

// Delete issues a DELETE.
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.call(ctx, http.MethodDelete, path, nil, out)
}

// call guarantees the caller only ever sees an *Error.
func (c *Client) call(ctx context.Context, method, path string, body, out any) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = unknownError(fmt.Errorf("panic during %s %s: %v", method, path, r))
		}
		if err != nil {
			if _, ok := AsError(err); !ok {
				err = unknownError(err)
			}
		}
		c.metrics.ObserveRequest(c.name, method, outcome(err), time.Since(start))
	}()

	return c.do(ctx, method, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	for _, intercept := range c.interceptors {
		if err := intercept(req); err != nil {
			return requestError(fmt.Errorf("request interceptor: %w", err))
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError(method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.responseError(resp)
	}

	return decodeBody(resp, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	target, err := c.resolve(path)
	if err != nil {
		return nil, requestError(err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, requestError(fmt.Errorf("encode request body: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, requestError(err)
	}
	for key, values := range c.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	return req, nil
}

// resolve joins path (which may carry a query string) onto the base URL.
func (c *Client) resolve(path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", path, err)
	}
	if ref.IsAbs() {
		return "", fmt.Errorf("invalid path %q: absolute urls are not allowed", path)
	}

	// Join the escaped forms so segments escaped by the caller (a "/" in an
	// id) stay inside their segment.
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(ref.Path, "/")
	u.RawPath = strings.TrimRight(c.baseURL.EscapedPath(), "/") + "/" + strings.TrimLeft(ref.EscapedPath(), "/")
	u.RawQuery = ref.RawQuery
	return u.String(), nil
}

func (c *Client) transportError(method, path string, err error) *Error {
	c.logger.Debug("request got no response",
		zap.String("method", method),
		zap.String("path", path),
		zap.Error(err))

	message := "no response received"
	var urlErr *url.Error
	switch {
	case errors.Is(err, context.Canceled):
		message = "request canceled"
	case errors.As(err, &urlErr) && urlErr.Timeout():
		message = "request timed out"
	case errors.Is(err, context.DeadlineExceeded):
		message = "request timed out"
	}
	return &Error{Kind: KindNetwork, StatusCode: 0, Message: message, Err: err}
}

func (c *Client) responseError(resp *http.Response) *Error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	message := extractMessage(data)
	if message == "" {
		message = fmt.Sprintf("request failed with status code %d", resp.StatusCode)
	}
	apiErr := &Error{Kind: KindHTTP, StatusCode: resp.StatusCode, Message: message}

	if resp.StatusCode == http.StatusUnauthorized {
		c.invalidateSession(resp.Request)
	}
	return apiErr
}

// invalidateSession is the hard teardown path for rejected credentials.
func (c *Client) invalidateSession(req *http.Request) {
	path := ""
	if req != nil && req.URL != nil {
		path = req.URL.Path
	}
	c.logger.Warn("credentials rejected, clearing session", zap.String("path", path))
	c.metrics.ObserveUnauthorized()

	if c.storage != nil {
		if err := c.storage.Remove(storage.KeyAuthToken); err != nil {
			c.logger.Warn("failed to clear auth token", zap.Error(err))
		}
	}
	if c.session != nil {
		c.session.Logout()
	}
	if c.navigator != nil {
		c.navigator.Navigate(navigation.LoginPath, navigation.Hard)
	}
}

func (c *Client) attachBearer(req *http.Request) error {
	if c.storage == nil {
		return nil
	}
	token, found, err := c.storage.Get(storage.KeyAuthToken)
	if err != nil {
		c.logger.Debug("auth token unavailable", zap.Error(err))
		return nil
	}
	if found && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

func attachRequestID(req *http.Request) error {
	if req.Header.Get("X-Request-ID") == "" {
		req.Header.Set("X-Request-ID", uuid.NewString())
	}
	return nil
}

func decodeBody(resp *http.Response, out any) error {
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindNetwork, StatusCode: 0, Message: "response body interrupted", Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return unknownError(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// extractMessage reads {"message": "..."} or {"message": ["...", "..."]}.
func extractMessage(data []byte) string {
	var body struct {
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err != nil || len(body.Message) == 0 {
		return ""
	}

	var single string
	if err := json.Unmarshal(body.Message, &single); err == nil {
		return strings.TrimSpace(single)
	}
	var many []string
	if err := json.Unmarshal(body.Message, &many); err == nil {
		return strings.TrimSpace(strings.Join(many, "; "))
	}
	return ""
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(KindOf(err))
}

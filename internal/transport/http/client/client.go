// Package client is the REST client for the TeachHelper backend. It attaches
// the bearer token, maps failures to user-facing notices and reports 401s to
// the session.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"teachhelper-console/internal/domain/eventbus"
	platformerrors "teachhelper-console/internal/platform/errors"
	"teachhelper-console/internal/platform/logging"
	"teachhelper-console/internal/platform/observability"
)

const logTag = "HTTP"

// HeaderRequestID carries a per-call id for backend log correlation.
const HeaderRequestID = "X-Request-ID"

// User-facing notices.
const (
	NoticeUnauthorized = "认证失败，请重新登录"
	NoticeForbidden    = "权限不足"
	NoticeNotFound     = "请求的资源不存在"
	NoticeServerError  = "服务器内部错误"
	NoticeFallback     = "请求失败"
	NoticeNetwork      = "网络错误，请检查网络连接"
)

// Defaults when Options leaves them unset.
const (
	DefaultBaseURL     = "http://localhost:8080/api"
	DefaultTimeout     = 30 * time.Second
	DefaultLongTimeout = 5 * time.Minute
)

// TokenSource yields the bearer token for outgoing requests.
type TokenSource interface {
	Token() string
}

// UnauthorizedFunc is called on every 401 with the token the request was
// sent with. It returns true when it cleared the session.
type UnauthorizedFunc func(ctx context.Context, sentToken string) bool

// APIError is a failed call. Status is 0 for transport failures.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
	Notice  string
	Cause   error
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s %s: %s: %v", e.Method, e.Path, e.Notice, e.Cause)
	}
	if e.Message != "" && e.Message != e.Notice {
		return fmt.Sprintf("%s %s: %d %s (%s)", e.Method, e.Path, e.Status, e.Notice, e.Message)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, e.Notice)
}

func (e *APIError) Unwrap() error { return e.Cause }

// StatusOf returns the HTTP status of err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// NoticeFor maps a status and the server's message to the notice shown to
// the user.
func NoticeFor(status int, serverMessage string) string {
	switch status {
	case http.StatusUnauthorized:
		return NoticeUnauthorized
	case http.StatusForbidden:
		return NoticeForbidden
	case http.StatusNotFound:
		return NoticeNotFound
	case http.StatusInternalServerError:
		return NoticeServerError
	}
	if serverMessage != "" {
		return serverMessage
	}
	return NoticeFallback
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	Timeout     time.Duration
	LongTimeout time.Duration
	Logger      *logging.Logger
	Bus         *eventbus.Bus
	DevMode     bool
	// Transport replaces the default round tripper, mainly for tests.
	Transport http.RoundTripper
}

type hooks struct {
	mu             sync.RWMutex
	tokens         TokenSource
	onUnauthorized UnauthorizedFunc
}

// Client wraps a resty client. Clients returned by Long and NoTimeout share
// the token source and unauthorized hook with their parent.
type Client struct {
	rest      *resty.Client
	long      *resty.Client
	noTimeout *resty.Client
	hooks   *hooks
	logger  *logging.Logger
	bus     *eventbus.Bus
	devMode bool
	baseURL string
}

func newResty(opts Options, timeout time.Duration) *resty.Client {
	r := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)
	if opts.Transport != nil {
		r.SetTransport(opts.Transport)
	}
	return r
}

// New creates a client. The token source and 401 hook are bound later with
// Bind because the session itself depends on the client.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.LongTimeout <= 0 {
		opts.LongTimeout = DefaultLongTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	return &Client{
		rest:      newResty(opts, opts.Timeout),
		long:      newResty(opts, opts.LongTimeout),
		noTimeout: newResty(opts, 0),
		hooks:     &hooks{},
		logger:    opts.Logger,
		bus:       opts.Bus,
		devMode:   opts.DevMode,
		baseURL:   opts.BaseURL,
	}
}

// Bind installs the token source and 401 hook.
func (c *Client) Bind(tokens TokenSource, onUnauthorized UnauthorizedFunc) {
	c.hooks.mu.Lock()
	c.hooks.tokens = tokens
	c.hooks.onUnauthorized = onUnauthorized
	c.hooks.mu.Unlock()
}

// Long returns a client for slow operations such as imports and exports.
func (c *Client) Long() *Client {
	cp := *c
	cp.rest = c.long
	return &cp
}

// NoTimeout returns a client without a request timeout, for AI generation
// calls that may run for minutes. Only ctx bounds them.
func (c *Client) NoTimeout() *Client {
	cp := *c
	cp.rest = c.noTimeout
	return &cp
}

// BaseURL is the API root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// Timeout is the per-request timeout of this client.
func (c *Client) Timeout() time.Duration { return c.rest.GetClient().Timeout }

func (c *Client) token() string {
	c.hooks.mu.RLock()
	defer c.hooks.mu.RUnlock()
	if c.hooks.tokens == nil {
		return ""
	}
	return c.hooks.tokens.Token()
}

func (c *Client) unauthorized(ctx context.Context, sent string) bool {
	c.hooks.mu.RLock()
	fn := c.hooks.onUnauthorized
	c.hooks.mu.RUnlock()
	if fn == nil {
		return false
	}
	return fn(ctx, sent)
}

// Request describes one call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// Response is a successful raw response.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Do performs req and decodes a JSON body into out when out is non-nil.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	resp, err := c.Raw(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(resp.Body, out); err != nil {
		return platformerrors.Wrap(platformerrors.KindTransport, "client.decode", req.Method+" "+req.Path, err)
	}
	return nil
}

// Raw performs req and returns the undecoded body.
func (c *Client) Raw(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	ctx, end := observability.StartSpan(ctx, "http", req.Method+" "+req.Path)
	start := time.Now()

	sent := c.token()
	r := c.rest.R().
		SetContext(ctx).
		SetHeader(HeaderRequestID, uuid.NewString())
	if sent != "" {
		r.SetAuthToken(sent)
	}
	if len(req.Query) > 0 {
		r.SetQueryParamsFromValues(req.Query)
	}
	if req.Body != nil {
		r.SetBody(req.Body)
	}

	resp, err := r.Execute(req.Method, req.Path)
	if err != nil {
		apiErr := c.transportFailure(ctx, req, err)
		end(apiErr)
		return nil, apiErr
	}

	status := resp.StatusCode()
	observability.RecordMetric(ctx, "http.request.duration_ms", float64(time.Since(start).Milliseconds()), map[string]string{
		"method": req.Method,
		"status": strconv.Itoa(status),
	})
	if c.devMode {
		c.logger.DebugTag(logTag, "%s %s -> %d (%s)", req.Method, req.Path, status, time.Since(start).Round(time.Millisecond))
	}

	if resp.IsError() {
		apiErr := c.statusFailure(ctx, req, resp, sent)
		end(apiErr)
		return nil, apiErr
	}
	end(nil)
	return &Response{
		Status:      status,
		ContentType: resp.Header().Get("Content-Type"),
		Body:        resp.Body(),
	}, nil
}

func (c *Client) transportFailure(ctx context.Context, req Request, err error) error {
	apiErr := &APIError{Method: req.Method, Path: req.Path, Notice: NoticeNetwork, Cause: err}
	if ctx.Err() != nil {
		// the caller gave up; nothing to tell the user
		apiErr.Cause = ctx.Err()
		return apiErr
	}
	c.logger.ErrorTag(logTag, "%s %s 网络错误: %v", req.Method, req.Path, err)
	c.notify(NoticeNetwork, 0)
	return apiErr
}

func (c *Client) statusFailure(ctx context.Context, req Request, resp *resty.Response, sent string) error {
	status := resp.StatusCode()
	msg := serverMessage(resp.Body())
	apiErr := &APIError{
		Method:  req.Method,
		Path:    req.Path,
		Status:  status,
		Message: msg,
		Notice:  NoticeFor(status, msg),
	}

	if status == http.StatusUnauthorized {
		if c.devMode {
			c.logger.DebugTag(logTag, "401 Unauthorized: %s %s body=%s", req.Method, req.Path, truncate(resp.Body(), 200))
		}
		c.notify(apiErr.Notice, status)
		if c.unauthorized(ctx, sent) && c.bus != nil {
			c.bus.PublishAsync(eventbus.TopicRedirect, eventbus.Redirect{Path: "/login", Reason: "unauthorized"})
		}
		return apiErr
	}

	c.logger.WarnTag(logTag, "%s %s 失败: %d %s", req.Method, req.Path, status, msg)
	c.notify(apiErr.Notice, status)
	return apiErr
}

func (c *Client) notify(message string, status int) {
	if c.bus == nil {
		return
	}
	c.bus.PublishAsync(eventbus.TopicNotification, eventbus.Notification{
		Level:   eventbus.LevelError,
		Message: message,
		Status:  status,
	})
}

func serverMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := sonic.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	return payload.Error
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Get issues a GET.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query}, out)
}

// Post issues a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body}, out)
}

// Put issues a PUT with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, Request{Method: http.MethodPut, Path: path, Body: body}, out)
}

// Patch issues a PATCH with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, Request{Method: http.MethodPatch, Path: path, Body: body}, out)
}

// Delete issues a DELETE. body may be nil.
func (c *Client) Delete(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: path, Body: body}, out)
}

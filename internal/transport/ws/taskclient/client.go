// Package taskclient keeps one WebSocket connection to the backend's task
// notification endpoint and fans task updates out to subscribers.
package taskclient

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"teachhelper-console/internal/domain/eventbus"
	"teachhelper-console/internal/domain/task"
	"teachhelper-console/internal/platform/logging"
	"teachhelper-console/internal/platform/observability"
)

const logTag = "WebSocket"

// Wildcard subscribes to every task.
const Wildcard = "*"

// Status is the connection state.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
	// StatusExhausted means the retry budget ran out; only Reconnect leaves it.
	StatusExhausted Status = "exhausted"
)

// Defaults used when Options leaves them unset.
const (
	DefaultMaxAttempts      = 5
	DefaultInterval         = 3 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

// ErrNotConnected is returned by Send while the socket is not open.
var ErrNotConnected = errors.New("task socket not connected")

// Handler receives task updates.
type Handler func(task.Update)

// Options configures a Client.
type Options struct {
	URL string
	// MaxAttempts is the number of consecutive reconnects allowed without
	// a successful open. Negative disables reconnects.
	MaxAttempts      int
	Interval         time.Duration
	HandshakeTimeout time.Duration
	Header           http.Header
	Logger           *logging.Logger
	Bus              *eventbus.Bus
}

type subscription struct {
	id uint64
	fn Handler
}

// Client is the task socket client. It is safe for concurrent use.
type Client struct {
	opts   Options
	dialer websocket.Dialer
	logger *logging.Logger

	mu       sync.Mutex
	status   Status
	attempts int
	conn     *websocket.Conn
	cancel   context.CancelFunc
	done     chan struct{}
	subs     map[string][]subscription
	nextID   uint64

	writeMu sync.Mutex
	dials   atomic.Int64
}

// New creates a client. Nothing is dialled until Connect.
func New(opts Options) *Client {
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Client{
		opts:   opts,
		dialer: websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
		logger: opts.Logger,
		status: StatusIdle,
		subs:   make(map[string][]subscription),
	}
}

// URL is the endpoint the client dials.
func (c *Client) URL() string { return c.opts.URL }

// Status returns the current connection state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Attempts is the number of reconnects scheduled since the last open.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Dials counts connection attempts over the client's lifetime.
func (c *Client) Dials() int64 { return c.dials.Load() }

// Connect starts the connection loop. Calling it while the loop runs is a
// no-op. The loop stops when ctx is done, on Disconnect, or when retries run
// out.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	c.startLocked(ctx)
}

func (c *Client) startLocked(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.attempts = 0
	go c.run(loopCtx, done)
}

// stop ends the loop and waits for it to exit.
func (c *Client) stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Reconnect drops the current socket, resets the retry counter and dials
// again right away.
func (c *Client) Reconnect(ctx context.Context) {
	c.logger.InfoTag(logTag, "手动重连 %s", c.opts.URL)
	c.stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		c.startLocked(ctx)
	}
}

// Disconnect closes the socket without scheduling a reconnect.
func (c *Client) Disconnect() {
	c.stop()
	c.setStatus(StatusDisconnected)
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		c.connectOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		if c.opts.MaxAttempts < 0 || c.attempts >= c.opts.MaxAttempts {
			attempts := c.attempts
			c.mu.Unlock()
			c.logger.WarnTag(logTag, "重连 %d 次后放弃", attempts)
			c.setStatus(StatusExhausted)
			c.mu.Lock()
			if c.done == done {
				c.cancel()
				c.cancel, c.done = nil, nil
			}
			c.mu.Unlock()
			return
		}
		c.attempts++
		attempt := c.attempts
		c.mu.Unlock()

		c.logger.InfoTag(logTag, "%v 后重连 (%d/%d)", c.opts.Interval, attempt, c.opts.MaxAttempts)
		observability.RecordMetric(ctx, "ws.task.reconnect", 1, map[string]string{"attempt": strconv.Itoa(attempt)})

		timer := time.NewTimer(c.opts.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// connectOnce dials and reads until the socket closes.
func (c *Client) connectOnce(ctx context.Context) {
	c.setStatus(StatusConnecting)
	c.dials.Add(1)

	conn, resp, err := c.dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.logger.ErrorTag(logTag, "连接 %s 失败: %v", c.opts.URL, err)
		c.setStatus(StatusError)
		return
	}

	c.mu.Lock()
	c.conn = conn
	c.attempts = 0
	c.mu.Unlock()
	c.logger.InfoTag(logTag, "已连接 %s", c.opts.URL)
	c.setStatus(StatusConnected)

	stopClose := context.AfterFunc(ctx, func() { _ = conn.Close() })
	err = c.readLoop(conn)
	stopClose()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()

	if ctx.Err() != nil {
		return
	}
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.WarnTag(logTag, "连接异常关闭: %v", err)
		c.setStatus(StatusError)
	}
	c.setStatus(StatusDisconnected)
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var update task.Update
		if err := sonic.Unmarshal(data, &update); err != nil {
			c.logger.WarnTag(logTag, "丢弃无法解析的消息: %v", err)
			continue
		}
		c.dispatch(update)
	}
}

func (c *Client) dispatch(update task.Update) {
	c.mu.Lock()
	handlers := make([]Handler, 0, len(c.subs[update.TaskID])+len(c.subs[Wildcard]))
	for _, s := range c.subs[update.TaskID] {
		handlers = append(handlers, s.fn)
	}
	if update.TaskID != Wildcard {
		for _, s := range c.subs[Wildcard] {
			handlers = append(handlers, s.fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range handlers {
		c.safeCall(fn, update)
	}
	if c.opts.Bus != nil {
		c.opts.Bus.PublishAsync(eventbus.TopicTaskUpdate, update)
	}
}

func (c *Client) safeCall(fn Handler, update task.Update) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.ErrorTag(logTag, "订阅回调异常 task=%s: %v", update.TaskID, r)
		}
	}()
	fn(update)
}

// Subscribe registers fn for updates of taskID, or of every task when key is
// Wildcard. The returned func removes exactly this registration.
func (c *Client) Subscribe(key string, fn Handler) (unsubscribe func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.subs[key] = append(c.subs[key], subscription{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			list := c.subs[key]
			for i, s := range list {
				if s.id == id {
					list = append(list[:i:i], list[i+1:]...)
					break
				}
			}
			if len(list) == 0 {
				delete(c.subs, key)
			} else {
				c.subs[key] = list
			}
		})
	}
}

// Subscribers reports how many handlers are registered for key.
func (c *Client) Subscribers(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs[key])
}

// Send writes v as JSON. While the socket is not open the message is dropped
// and ErrNotConnected returned.
func (c *Client) Send(v any) error {
	c.mu.Lock()
	conn := c.conn
	open := c.status == StatusConnected
	c.mu.Unlock()
	if conn == nil || !open {
		c.logger.WarnTag(logTag, "连接未就绪，丢弃消息")
		return ErrNotConnected
	}

	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	changed := c.status != s
	c.status = s
	c.mu.Unlock()
	if !changed {
		return
	}
	c.logger.DebugTag(logTag, "状态 -> %s", s)
	if c.opts.Bus != nil {
		c.opts.Bus.PublishAsync(eventbus.TopicTaskSocketStatus, string(s))
	}
}

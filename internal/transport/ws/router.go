// Package ws relays task updates to browser clients of the console server.
package ws

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"teachhelper-console/internal/platform/logging"
	"teachhelper-console/internal/platform/observability"
)

// Router upgrades HTTP connections to relay sessions.
type Router struct {
	hub    *Hub
	logger *logging.Logger
	parent context.Context

	upgrader         *websocket.Upgrader
	handshakeTimeout time.Duration
}

// RouterOptions configures the websocket router.
type RouterOptions struct {
	HandshakeTimeout time.Duration
	// CheckOrigin defaults to OriginPolicy(nil), same-origin only.
	CheckOrigin func(r *http.Request) bool
	// Context bounds every session; cancelling it ends them all.
	Context context.Context
}

// NewRouter constructs a websocket router.
func NewRouter(hub *Hub, logger *logging.Logger, opts RouterOptions) *Router {
	upgrader := &websocket.Upgrader{
		CheckOrigin: opts.CheckOrigin,
	}
	if upgrader.CheckOrigin == nil {
		upgrader.CheckOrigin = OriginPolicy(nil)
	}

	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	upgrader.HandshakeTimeout = timeout

	parent := opts.Context
	if parent == nil {
		parent = context.Background()
	}
	if logger == nil {
		logger = logging.Discard()
	}

	return &Router{
		hub:              hub,
		logger:           logger,
		parent:           parent,
		upgrader:         upgrader,
		handshakeTimeout: timeout,
	}
}

// Handle upgrades the HTTP connection and starts a relay session.
func (r *Router) Handle(w http.ResponseWriter, req *http.Request) {
	handshakeCtx, cancel := context.WithTimeoutCause(req.Context(), r.handshakeTimeout, ErrHandshakeTimeout)
	defer cancel()
	req = req.WithContext(handshakeCtx)

	spanCtx, spanEnd := observability.StartSpan(handshakeCtx, "transport.websocket", "handle")
	var spanErr error
	defer func() {
		spanEnd(spanErr)
	}()

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		spanErr = err
		observability.RecordMetric(spanCtx, "websocket.upgrade.error", 1, map[string]string{
			"component": "transport.websocket",
		})
		r.logger.ErrorTag("WebSocket", "握手失败: %v", err)
		return
	}

	clientID := resolveClientID(req)
	session := NewSession(r.parent, NewConnection(clientID, conn), r.logger)
	r.hub.Register(session)
	r.logger.InfoTag("WebSocket", "浏览器连接 client=%s 当前 %d 个", clientID, r.hub.Count())
	observability.RecordMetric(spanCtx, "websocket.connection.opened", 1, map[string]string{
		"component": "transport.websocket",
	})

	go session.Run(func(runErr error) {
		r.hub.Unregister(session.ID())
		if runErr != nil {
			r.logger.WarnTag("WebSocket", "会话 %s 异常结束: %v", session.ID(), runErr)
		}
		observability.RecordMetric(context.Background(), "websocket.connection.closed", 1, map[string]string{
			"component": "transport.websocket",
		})
	})
}

// OriginPolicy accepts handshakes without an Origin header, from the
// server's own host, or from one of allowed. A "*" entry accepts any origin.
func OriginPolicy(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	_, wildcard := set["*"]
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || wildcard {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

// resolveClientID keeps a caller-supplied id readable in logs while staying
// unique per connection.
func resolveClientID(req *http.Request) string {
	suffix := uuid.NewString()
	id := req.Header.Get("Client-Id")
	if id == "" {
		id = req.URL.Query().Get("client-id")
	}
	if id == "" {
		return suffix
	}
	return id + "#" + suffix[:8]
}

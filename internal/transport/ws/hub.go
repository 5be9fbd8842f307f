package ws

import (
	"sync"

	"github.com/bytedance/sonic"

	"teachhelper-console/internal/domain/eventbus"
	"teachhelper-console/internal/domain/task"
	"teachhelper-console/internal/platform/logging"
)

// Hub tracks the browser sessions of the task relay.
type Hub struct {
	logger   *logging.Logger
	sessions sync.Map // map[string]*Session
}

// NewHub builds a fresh session hub.
func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Hub{
		logger: logger,
	}
}

// Register adds a new session to the hub.
func (h *Hub) Register(session *Session) {
	if session == nil {
		return
	}
	h.sessions.Store(session.ID(), session)
}

// Unregister removes the session from the hub.
func (h *Hub) Unregister(id string) {
	if id == "" {
		return
	}
	h.sessions.Delete(id)
}

// Broadcast queues frame on every session and returns how many accepted it.
func (h *Hub) Broadcast(frame []byte) int {
	delivered := 0
	h.sessions.Range(func(_, value any) bool {
		if session, ok := value.(*Session); ok && session.Enqueue(frame) {
			delivered++
		}
		return true
	})
	return delivered
}

// Relay forwards a task update to every browser client.
func (h *Hub) Relay(update task.Update) {
	frame, err := sonic.Marshal(update)
	if err != nil {
		h.logger.ErrorTag("WebSocket", "编码任务更新失败 task=%s: %v", update.TaskID, err)
		return
	}
	h.Broadcast(frame)
}

// Frame types pushed next to task updates. Task update frames carry no type.
const (
	FrameRedirect = "redirect"
	FrameSession  = "session"
	FrameSocket   = "socket"
)

type redirectFrame struct {
	Type string `json:"type"`
	eventbus.Redirect
}

type sessionFrame struct {
	Type string `json:"type"`
	eventbus.SessionChange
}

type socketFrame struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// Redirect tells browsers to navigate to r.Path.
func (h *Hub) Redirect(r eventbus.Redirect) {
	h.push(FrameRedirect, redirectFrame{Type: FrameRedirect, Redirect: r})
}

// SessionChanged tells browsers the console session changed.
func (h *Hub) SessionChanged(c eventbus.SessionChange) {
	h.push(FrameSession, sessionFrame{Type: FrameSession, SessionChange: c})
}

// SocketStatus tells browsers the state of the upstream task socket.
func (h *Hub) SocketStatus(status string) {
	h.push(FrameSocket, socketFrame{Type: FrameSocket, Status: status})
}

func (h *Hub) push(kind string, v any) {
	frame, err := sonic.Marshal(v)
	if err != nil {
		h.logger.ErrorTag("WebSocket", "编码 %s 消息失败: %v", kind, err)
		return
	}
	h.Broadcast(frame)
}

// CloseAll terminates all active sessions.
func (h *Hub) CloseAll(reason error) {
	if reason == nil {
		reason = ErrSessionShutdown
	}

	h.sessions.Range(func(key, value any) bool {
		if session, ok := value.(*Session); ok {
			session.Close(reason)
		}
		h.sessions.Delete(key)
		return true
	})
}

// Count exposes the number of active websocket sessions.
func (h *Hub) Count() int {
	n := 0
	h.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

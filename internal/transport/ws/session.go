package ws

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"teachhelper-console/internal/platform/logging"
)

const (
	defaultCloseTimeout = 5 * time.Second
	writeWait           = 10 * time.Second
	sendBuffer          = 32
)

// Session relays broadcast frames to one browser client. Inbound frames are
// read only to notice the close.
type Session struct {
	id     string
	conn   *Connection
	logger *logging.Logger
	send   chan []byte

	ctx    context.Context
	cancel context.CancelCauseFunc

	closed atomic.Bool
}

// NewSession constructs a managed websocket session.
func NewSession(parent context.Context, conn *Connection, logger *logging.Logger) *Session {
	sessionCtx, cancel := context.WithCancelCause(parent)
	return &Session{
		id:     conn.ID(),
		conn:   conn,
		logger: logger,
		send:   make(chan []byte, sendBuffer),
		ctx:    sessionCtx,
		cancel: cancel,
	}
}

// Context returns the session context.
func (s *Session) Context() context.Context {
	return s.ctx
}

// ID exposes the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Enqueue queues a frame. A client whose buffer is full is closed.
func (s *Session) Enqueue(frame []byte) bool {
	if s.closed.Load() {
		return false
	}
	select {
	case s.send <- frame:
		return true
	default:
		s.logger.WarnTag("WebSocket", "会话 %s 发送缓冲已满，断开", s.id)
		go s.Close(ErrSlowConsumer)
		return false
	}
}

// Run pumps frames until the client goes away or the session is closed, then
// invokes onDone once.
func (s *Session) Run(onDone func(error)) {
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := s.conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	var runErr error
	defer func() {
		s.Close(runErr)
		if onDone != nil {
			onDone(runErr)
		}
	}()

	for {
		select {
		case <-s.ctx.Done():
			if cause := context.Cause(s.ctx); cause != ErrSessionShutdown {
				runErr = cause
			}
			return
		case err := <-readErr:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				runErr = err
			}
			return
		case frame := <-s.send:
			if err := s.conn.WriteMessage(websocket.TextMessage, frame, time.Now().Add(writeWait)); err != nil {
				runErr = err
				return
			}
		}
	}
}

// Close attempts to gracefully terminate the session.
func (s *Session) Close(reason error) {
	if reason == nil {
		reason = ErrSessionShutdown
	}

	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	if s.cancel != nil {
		s.cancel(reason)
	}

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason.Error())
	if err := s.conn.WriteMessage(websocket.CloseMessage, msg, time.Now().Add(defaultCloseTimeout)); err != nil {
		s.logger.DebugTag("WebSocket", "会话 %s 关闭帧发送失败: %v", s.id, err)
	}
	if err := s.conn.Close(); err != nil {
		s.logger.WarnTag("WebSocket", "会话 %s 连接关闭失败: %v", s.id, err)
	}
}

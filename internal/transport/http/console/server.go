// Package console serves the platform's route table behind the navigation
// guard and relays task updates to browsers.
package console

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"teachhelper-console/internal/domain/eventbus"
	"teachhelper-console/internal/domain/navigation"
	"teachhelper-console/internal/domain/registration"
	"teachhelper-console/internal/domain/session"
	"teachhelper-console/internal/platform/logging"
	"teachhelper-console/internal/platform/storage"
	httptransport "teachhelper-console/internal/transport/http"
	"teachhelper-console/internal/transport/ws"
	"teachhelper-console/internal/transport/ws/taskclient"
)

const (
	logTag          = "控制台"
	shutdownTimeout = 5 * time.Second
)

// Session is what the console needs from the session service.
type Session interface {
	navigation.Session
	Login(ctx context.Context, creds session.Credentials) error
	Register(ctx context.Context, req session.RegisterRequest) error
	Logout(ctx context.Context) error
	Snapshot() session.Snapshot
	PrimaryRole() string
}

// SocketState reports the upstream task socket for diagnostics.
type SocketState interface {
	Status() taskclient.Status
	URL() string
	Attempts() int
}

// Options configures a Server.
type Options struct {
	Addr         string
	StaticDir    string
	AllowOrigins []string
	DevMode      bool
	Logger       *logging.Logger
	Guard        *navigation.Guard
	Session      Session
	Store        storage.Store
	Socket       SocketState
	Hub          *ws.Hub
	// Context bounds relay sessions.
	Context context.Context
}

// Server is the console HTTP server.
type Server struct {
	opts      Options
	logger    *logging.Logger
	engine    *gin.Engine
	validator *registration.Validator
	hub       *ws.Hub
	httpSrv   *http.Server
}

// New wires routes onto a fresh engine.
func New(opts Options) (*Server, error) {
	if opts.Guard == nil || opts.Session == nil {
		return nil, errors.New("console requires a guard and a session")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Hub == nil {
		opts.Hub = ws.NewHub(opts.Logger)
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}

	router, err := httptransport.Build(httptransport.Options{
		Logger:       opts.Logger,
		DevMode:      opts.DevMode,
		AllowOrigins: opts.AllowOrigins,
		StaticRoot:   opts.StaticDir,
	})
	if err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}

	s := &Server{
		opts:      opts,
		logger:    opts.Logger,
		engine:    router.Engine,
		validator: registration.NewValidator(),
		hub:       opts.Hub,
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	relay := ws.NewRouter(s.hub, s.logger, ws.RouterOptions{
		Context:     s.opts.Context,
		CheckOrigin: ws.OriginPolicy(s.opts.AllowOrigins),
	})

	s.engine.POST("/login", s.handleLogin)
	s.engine.POST("/logout", s.handleLogout)
	s.engine.POST("/register", s.handleRegister)
	s.engine.GET("/session", s.handleSession)
	s.engine.GET("/ws/tasks", gin.WrapF(relay.Handle))

	// every page of the route table is resolved by the guard
	s.engine.NoRoute(s.guardMiddleware(), s.handlePage)
}

// Handler exposes the engine, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Hub is the browser relay hub.
func (s *Server) Hub() *ws.Hub { return s.hub }

// Bridge forwards redirects, session changes and task socket status from
// bus to every relay client. The returned func removes the subscriptions.
func (s *Server) Bridge(bus *eventbus.Bus) (func(), error) {
	redirect := func(r eventbus.Redirect) { s.hub.Redirect(r) }
	changed := func(c eventbus.SessionChange) { s.hub.SessionChanged(c) }
	socket := func(status string) { s.hub.SocketStatus(status) }

	subs := []struct {
		topic string
		fn    any
	}{
		{eventbus.TopicRedirect, redirect},
		{eventbus.TopicSessionChanged, changed},
		{eventbus.TopicTaskSocketStatus, socket},
	}
	unsubscribe := func(n int) {
		for _, sub := range subs[:n] {
			_ = bus.Unsubscribe(sub.topic, sub.fn)
		}
	}
	for i, sub := range subs {
		if err := bus.Subscribe(sub.topic, sub.fn); err != nil {
			unsubscribe(i)
			return nil, fmt.Errorf("subscribe %s: %w", sub.topic, err)
		}
	}
	return func() { unsubscribe(len(subs)) }, nil
}

// Start listens on Addr until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeoutCause(context.Background(), shutdownTimeout, context.Cause(ctx))
		defer cancel()
		s.hub.CloseAll(ws.ErrSessionShutdown)
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.WarnTag(logTag, "关闭失败: %v", err)
		}
	}()

	s.logger.InfoTag(logTag, "监听地址 %s", s.opts.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

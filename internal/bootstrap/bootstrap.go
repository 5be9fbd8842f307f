// Package bootstrap assembles the runtime shared by every command and runs
// the console server lifecycle.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"teachhelper-console/internal/domain/eventbus"
	"teachhelper-console/internal/domain/navigation"
	"teachhelper-console/internal/domain/session"
	"teachhelper-console/internal/domain/task"
	platformconfig "teachhelper-console/internal/platform/config"
	platformerrors "teachhelper-console/internal/platform/errors"
	platformlogging "teachhelper-console/internal/platform/logging"
	platformobservability "teachhelper-console/internal/platform/observability"
	platformstorage "teachhelper-console/internal/platform/storage"
	"teachhelper-console/internal/transport/http/api"
	"teachhelper-console/internal/transport/http/client"
	"teachhelper-console/internal/transport/http/console"
	"teachhelper-console/internal/transport/ws/taskclient"
)

const (
	logTag          = "引导"
	shutdownTimeout = 15 * time.Second
)

// Options tunes Build.
type Options struct {
	// ConfigPath is an explicit YAML file; empty looks for the default file.
	ConfigPath string
	DotEnv     bool
	// Env replaces os.LookupEnv.
	Env func(string) (string, bool)
	// Console receives log output. Defaults to stderr.
	Console io.Writer
	// Override adjusts the loaded config before anything is built from it.
	Override func(*platformconfig.Config)
}

type stepFn func(context.Context, *Runtime) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

// Runtime holds the wired components.
type Runtime struct {
	opts Options

	Config     *platformconfig.Config
	ConfigPath string
	Logger     *platformlogging.Logger
	Bus        *eventbus.Bus
	Store      platformstorage.Store
	Client     *client.Client
	API        *api.Services
	Session    *session.Service
	Guard      *navigation.Guard
	TaskSocket *taskclient.Client
	Board      *task.Board

	observabilityShutdown platformobservability.ShutdownFunc
}

// Build runs the init graph.
func Build(ctx context.Context, opts Options) (*Runtime, error) {
	rt := &Runtime{opts: opts}
	steps := InitGraph()
	if err := executeInitSteps(ctx, steps, rt); err != nil {
		_ = rt.Close(context.Background())
		return nil, err
	}
	logBootstrapGraph(steps, rt.Logger)
	return rt, nil
}

// Close releases everything Build acquired, in reverse order.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	if r.TaskSocket != nil {
		r.TaskSocket.Disconnect()
	}
	if r.Bus != nil {
		r.Bus.Close()
	}
	if r.Store != nil {
		if err := r.Store.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if r.observabilityShutdown != nil {
		if err := r.observabilityShutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if r.Logger != nil {
		if err := r.Logger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func logBootstrapGraph(steps []initStep, logger *platformlogging.Logger) {
	if logger == nil {
		return
	}
	logger.DebugTag(logTag, "初始化依赖关系概览")
	for _, step := range steps {
		if len(step.DependsOn) == 0 {
			logger.DebugTag(logTag, "%s (%s)", step.ID, step.Title)
			continue
		}
		logger.DebugTag(logTag, "%s (%s) <- %v", step.ID, step.Title, step.DependsOn)
	}
}

func executeInitSteps(ctx context.Context, steps []initStep, rt *Runtime) error {
	if rt == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil runtime",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, rt); err != nil {
			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

// InitGraph lists the init steps in execution order.
func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Execute:   initLoggingStep,
		},
		{
			ID:        "observability:setup-hooks",
			Title:     "Setup observability hooks",
			DependsOn: []string{"logging:init-provider"},
			Execute:   setupObservabilityStep,
		},
		{
			ID:        "eventbus:init",
			Title:     "Initialise event bus",
			DependsOn: []string{"logging:init-provider"},
			Execute:   initEventBusStep,
		},
		{
			ID:        "storage:open",
			Title:     "Open persisted mirror",
			DependsOn: []string{"config:load", "logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   openStorageStep,
		},
		{
			ID:        "transport:init-client",
			Title:     "Initialise REST client",
			DependsOn: []string{"eventbus:init"},
			Kind:      platformerrors.KindTransport,
			Execute:   initClientStep,
		},
		{
			ID:        "session:init",
			Title:     "Restore session",
			DependsOn: []string{"storage:open", "transport:init-client"},
			Kind:      platformerrors.KindAuth,
			Execute:   initSessionStep,
		},
		{
			ID:        "navigation:init-guard",
			Title:     "Initialise navigation guard",
			DependsOn: []string{"session:init"},
			Kind:      platformerrors.KindNavigation,
			Execute:   initGuardStep,
		},
		{
			ID:        "tasks:init-socket",
			Title:     "Initialise task socket",
			DependsOn: []string{"eventbus:init"},
			Kind:      platformerrors.KindTransport,
			Execute:   initTaskSocketStep,
		},
	}
}

func loadConfigStep(_ context.Context, rt *Runtime) error {
	res, err := platformconfig.NewLoader().
		WithPath(rt.opts.ConfigPath).
		WithDotEnv(rt.opts.DotEnv).
		WithEnv(rt.opts.Env).
		Load()
	if err != nil {
		return err
	}
	if rt.opts.Override != nil {
		rt.opts.Override(res.Config)
		if err := res.Config.Validate(); err != nil {
			return err
		}
	}
	rt.Config = res.Config
	rt.ConfigPath = res.Path
	return nil
}

func initLoggingStep(_ context.Context, rt *Runtime) error {
	logger, err := platformlogging.New(platformlogging.Config{
		Level:    rt.Config.LogLevel(),
		Dir:      rt.Config.Log.Dir,
		Filename: rt.Config.Log.File,
		Console:  rt.opts.Console,
	})
	if err != nil {
		return err
	}
	rt.Logger = logger

	source := rt.ConfigPath
	if source == "" {
		source = "defaults"
	}
	logger.DebugTag(logTag, "日志模块就绪 [%s] %s", rt.Config.LogLevel(), source)
	return nil
}

func setupObservabilityStep(ctx context.Context, rt *Runtime) error {
	shutdown, err := platformobservability.Setup(ctx, platformobservability.Config{
		Enabled: rt.Config.Observability.Enabled || rt.Config.App.DevMode,
	}, rt.Logger.Slog())
	if err != nil {
		return err
	}
	rt.observabilityShutdown = shutdown
	return nil
}

func initEventBusStep(_ context.Context, rt *Runtime) error {
	rt.Bus = eventbus.New(eventbus.Options{Logger: rt.Logger})
	return nil
}

func openStorageStep(_ context.Context, rt *Runtime) error {
	sc := rt.Config.Storage
	store, err := platformstorage.New(platformstorage.Config{
		Driver: sc.Driver,
		File:   &platformstorage.FileConfig{Path: sc.File.Path},
		SQLite: &platformstorage.SQLiteConfig{DSN: sc.SQLite.DSN},
		Redis: &platformstorage.RedisConfig{
			Addr:     sc.Redis.Addr,
			Username: sc.Redis.Username,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
			Prefix:   sc.Redis.Prefix,
		},
	}, platformstorage.Dependencies{})
	if err != nil {
		return err
	}
	rt.Store = store
	rt.Logger.DebugTag("存储", "使用 %s 驱动", sc.Driver)
	return nil
}

func initClientStep(_ context.Context, rt *Runtime) error {
	rt.Client = client.New(client.Options{
		BaseURL:     rt.Config.API.BaseURL,
		Timeout:     rt.Config.API.Timeout,
		LongTimeout: rt.Config.API.LongTimeout,
		Logger:      rt.Logger,
		Bus:         rt.Bus,
		DevMode:     rt.Config.App.DevMode,
	})
	rt.API = api.New(rt.Client, rt.Logger)
	return nil
}

func initSessionStep(ctx context.Context, rt *Runtime) error {
	svc, err := session.New(ctx, session.Options{
		Backend:      rt.API.Auth,
		Store:        rt.Store,
		Logger:       rt.Logger,
		Bus:          rt.Bus,
		ExpiryWindow: rt.Config.Auth.ExpiryWindow,
		DevMode:      rt.Config.App.DevMode,
	})
	if err != nil {
		return err
	}
	rt.Session = svc
	rt.Client.Bind(svc, svc.HandleUnauthorized)
	return nil
}

func initGuardStep(_ context.Context, rt *Runtime) error {
	rt.Guard = navigation.NewGuard(navigation.GuardOptions{
		Session:     rt.Session,
		Submissions: rt.API.Answers,
		Logger:      rt.Logger,
		DevMode:     rt.Config.App.DevMode,
	})
	return nil
}

func initTaskSocketStep(_ context.Context, rt *Runtime) error {
	url, err := rt.Config.TaskSocketURL()
	if err != nil {
		return err
	}
	attempts := rt.Config.WS.MaxReconnectAttempts
	if attempts == 0 {
		// zero in config means no reconnects; the client reads zero as unset
		attempts = -1
	}
	rt.TaskSocket = taskclient.New(taskclient.Options{
		URL:              url,
		MaxAttempts:      attempts,
		Interval:         rt.Config.WS.ReconnectInterval,
		HandshakeTimeout: rt.Config.WS.HandshakeTimeout,
		Logger:           rt.Logger,
		Bus:              rt.Bus,
	})
	rt.Board = task.NewBoard(nil)
	return nil
}

// Serve runs the console server, the task socket and the session monitor
// until ctx is cancelled or a SIGINT/SIGTERM arrives.
func (r *Runtime) Serve(ctx context.Context) error {
	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)

	srv, err := console.New(console.Options{
		Addr:         r.Config.Console.Addr,
		StaticDir:    r.Config.Console.StaticDir,
		AllowOrigins: r.Config.Console.AllowOrigins,
		DevMode:      r.Config.App.DevMode,
		Logger:       r.Logger,
		Guard:        r.Guard,
		Session:      r.Session,
		Store:        r.Store,
		Socket:       r.TaskSocket,
		Context:      groupCtx,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "bootstrap.serve", "build console", err)
	}

	hub := srv.Hub()
	unsubscribe := r.TaskSocket.Subscribe(taskclient.Wildcard, func(u task.Update) {
		r.Board.Apply(u)
		hub.Relay(u)
	})
	defer unsubscribe()

	if err := r.Bus.Subscribe(eventbus.TopicNotification, func(n eventbus.Notification) {
		r.Logger.WarnTag("通知", "%s", n.Message)
	}); err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "bootstrap.serve", "subscribe notifications", err)
	}
	unbridge, err := srv.Bridge(r.Bus)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "bootstrap.serve", "bridge bus to relay", err)
	}
	defer unbridge()

	group.Go(func() error {
		if err := srv.Start(groupCtx); err != nil {
			return fmt.Errorf("启动控制台服务失败: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		r.TaskSocket.Connect(groupCtx)
		<-groupCtx.Done()
		r.TaskSocket.Disconnect()
		return nil
	})
	group.Go(func() error {
		monitor := session.NewMonitor(r.Session, r.Config.Auth.MonitorInterval, func() {
			r.Bus.PublishAsync(eventbus.TopicRedirect, eventbus.Redirect{Path: navigation.PathLogin, Reason: "token_removed"})
		})
		return monitor.Run(groupCtx)
	})

	r.Logger.InfoTag(logTag, "服务已启动，控制台 %s，任务推送 %s", r.Config.Console.Addr, r.TaskSocket.URL())
	return waitForShutdown(signalCtx, groupCtx, cancel, r.Logger, group)
}

func waitForShutdown(
	signalCtx context.Context,
	groupCtx context.Context,
	cancel context.CancelFunc,
	logger *platformlogging.Logger,
	g *errgroup.Group,
) error {
	select {
	case <-signalCtx.Done():
		logger.InfoTag(logTag, "收到系统信号 %v，正在进行资源清理", context.Cause(signalCtx))
	case <-groupCtx.Done():
		logger.WarnTag(logTag, "服务提前退出: %v", context.Cause(groupCtx))
	}

	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag(logTag, "服务关闭过程中出现错误: %v", err)
			return err
		}
		logger.InfoTag(logTag, "所有服务已成功关闭")
	case <-time.After(shutdownTimeout):
		logger.ErrorTag(logTag, "服务关闭超时，已强制退出")
		return errors.New("服务关闭超时")
	}
	return nil
}

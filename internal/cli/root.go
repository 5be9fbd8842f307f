// Package cli is the teachhelper command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"teachhelper-console/internal/bootstrap"
	"teachhelper-console/internal/domain/eventbus"
	platformconfig "teachhelper-console/internal/platform/config"
)

// BuildInfo is stamped at link time.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

type globalFlags struct {
	configPath string
	apiURL     string
	storage    string
	dev        bool
	verbose    bool
}

// app carries state shared by every command of one invocation.
type app struct {
	info  BuildInfo
	flags globalFlags
	env   func(string) (string, bool)
	// interactive reports whether prompts may be shown.
	interactive func() bool

	rt *bootstrap.Runtime
}

// Option customises the command tree, mainly for tests.
type Option func(*app)

// WithEnv replaces environment lookups.
func WithEnv(lookup func(string) (string, bool)) Option {
	return func(a *app) { a.env = lookup }
}

// WithInteractive overrides terminal detection.
func WithInteractive(interactive bool) Option {
	return func(a *app) { a.interactive = func() bool { return interactive } }
}

// NewRootCommand builds the full command tree.
func NewRootCommand(info BuildInfo, opts ...Option) *cobra.Command {
	root, _ := newRoot(info, opts...)
	return root
}

func newRoot(info BuildInfo, opts ...Option) (*cobra.Command, *app) {
	a := &app{info: info, interactive: isInteractive}
	for _, opt := range opts {
		opt(a)
	}

	root := &cobra.Command{
		Use:   "teachhelper",
		Short: "TeachHelper 考试平台命令行客户端",
		Long: `teachhelper talks to the TeachHelper exam platform backend.

It keeps a signed-in session on disk, browses exams and answers, drives AI
evaluation tasks and can serve a small console that applies the platform's
route guard and relays task progress to browsers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close(cmd.Context())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configPath, "config", "", "config file (default ./teachhelper.yaml)")
	pf.StringVar(&a.flags.apiURL, "api", "", "backend API base URL")
	pf.StringVar(&a.flags.storage, "storage", "", "session storage driver: memory, file, sqlite, redis")
	pf.BoolVar(&a.flags.dev, "dev", false, "development mode (verbose logging, dev-only routes)")
	pf.BoolVarP(&a.flags.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newAuthCommand(a),
		newExamsCommand(a),
		newAnswersCommand(a),
		newTasksCommand(a),
		newQuestionsCommand(a),
		newKnowledgeCommand(a),
		newDevCommand(a),
		newRouteCommand(a),
		newServeCommand(a),
		newVersionCommand(a),
	)
	return root, a
}

// Execute runs the command tree and prints a failure to stderr.
func Execute(ctx context.Context, info BuildInfo) int {
	root, a := newRoot(info)
	// PersistentPostRunE is skipped when a command fails
	defer func() { _ = a.close(context.Background()) }()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("错误: "+err.Error()))
		return 1
	}
	return 0
}

// runtime builds the shared runtime on first use.
func (a *app) runtime(cmd *cobra.Command) (*bootstrap.Runtime, error) {
	if a.rt != nil {
		return a.rt, nil
	}

	var console io.Writer = io.Discard
	if a.flags.verbose || a.flags.dev {
		console = cmd.ErrOrStderr()
	}

	rt, err := bootstrap.Build(cmd.Context(), bootstrap.Options{
		ConfigPath: a.flags.configPath,
		DotEnv:     true,
		Env:        a.env,
		Console:    console,
		Override: func(cfg *platformconfig.Config) {
			if a.flags.apiURL != "" {
				cfg.API.BaseURL = a.flags.apiURL
			}
			if a.flags.storage != "" {
				cfg.Storage.Driver = a.flags.storage
			}
			if a.flags.dev {
				cfg.App.DevMode = true
			}
			if a.flags.verbose {
				cfg.Log.Level = "debug"
			}
		},
	})
	if err != nil {
		return nil, err
	}

	if err := subscribeNotices(rt.Bus, cmd.ErrOrStderr()); err != nil {
		_ = rt.Close(cmd.Context())
		return nil, err
	}

	a.rt = rt
	return rt, nil
}

// subscribeNotices prints user-facing bus events to w: notifications, forced
// redirects and sessions that ended without an explicit logout.
func subscribeNotices(bus *eventbus.Bus, w io.Writer) error {
	var mu sync.Mutex
	emit := func(s string) {
		mu.Lock()
		fmt.Fprintln(w, s)
		mu.Unlock()
	}
	if err := bus.Subscribe(eventbus.TopicNotification, func(n eventbus.Notification) {
		emit(errorStyle.Render(n.Message))
	}); err != nil {
		return err
	}
	if err := bus.Subscribe(eventbus.TopicRedirect, func(r eventbus.Redirect) {
		emit(warnStyle.Render(fmt.Sprintf("会话已失效，请重新登录 (%s): teachhelper auth login", r.Path)))
	}); err != nil {
		return err
	}
	return bus.Subscribe(eventbus.TopicSessionChanged, func(c eventbus.SessionChange) {
		if c.Authenticated || c.Reason == "logout" || c.Reason == "init" {
			return
		}
		emit(mutedStyle.Render("已退出登录: " + c.Reason))
	})
}

func (a *app) close(ctx context.Context) error {
	if a.rt == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	// flush pending notices before the bus goes away
	a.rt.Bus.Drain()
	err := a.rt.Close(ctx)
	a.rt = nil
	return err
}

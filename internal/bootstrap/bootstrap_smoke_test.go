package bootstrap

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teachhelper-console/internal/domain/session"
	platformconfig "teachhelper-console/internal/platform/config"
	platformerrors "teachhelper-console/internal/platform/errors"
)

func noEnv(string) (string, bool) { return "", false }

func testOptions(override func(*platformconfig.Config)) Options {
	return Options{
		Env:     noEnv,
		Console: io.Discard,
		Override: func(cfg *platformconfig.Config) {
			cfg.Storage.Driver = "memory"
			cfg.Console.Addr = "127.0.0.1:0"
			cfg.WS.ReconnectInterval = 10 * time.Millisecond
			if override != nil {
				override(cfg)
			}
		},
	}
}

func TestInitGraphOrder(t *testing.T) {
	steps := InitGraph()
	seen := map[string]bool{}
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			assert.True(t, seen[dep], "%s depends on %s which runs later", step.ID, dep)
		}
		seen[step.ID] = true
	}
	assert.Equal(t, "config:load", steps[0].ID)
}

func TestExecuteInitStepsRejectsMissingDependency(t *testing.T) {
	steps := []initStep{{
		ID:        "b",
		DependsOn: []string{"a"},
		Execute:   func(context.Context, *Runtime) error { return nil },
	}}
	err := executeInitSteps(context.Background(), steps, &Runtime{})
	require.Error(t, err)
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindBootstrap))
}

func TestBuildWiresRuntime(t *testing.T) {
	rt, err := Build(context.Background(), testOptions(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })

	assert.NotNil(t, rt.Logger)
	assert.NotNil(t, rt.Bus)
	assert.NotNil(t, rt.Store)
	assert.NotNil(t, rt.API)
	assert.NotNil(t, rt.Guard)
	assert.NotNil(t, rt.Board)
	assert.Equal(t, session.StateUninitialized, rt.Session.State())
	assert.Equal(t, "ws://localhost:8080/ws/tasks", rt.TaskSocket.URL())
	assert.Empty(t, rt.Session.Token(), "no stored token")
}

func TestBuildFailsOnInvalidConfig(t *testing.T) {
	_, err := Build(context.Background(), testOptions(func(cfg *platformconfig.Config) {
		cfg.Storage.Driver = "etcd"
	}))
	require.Error(t, err)
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindConfig))
}

func TestServeStopsWithContext(t *testing.T) {
	rt, err := Build(context.Background(), testOptions(func(cfg *platformconfig.Config) {
		cfg.API.BaseURL = "http://127.0.0.1:1/api"
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

// Package dedup drops repeated calls while an identical call is running.
// Unlike singleflight, a duplicate does not wait for or share the running
// call's result; it returns immediately without executing.
package dedup

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"teachhelper-console/internal/platform/logging"
)

const logTag = "任务"

// Group tracks in-flight keys.
type Group struct {
	mu      sync.Mutex
	pending map[string]struct{}
	logger  *logging.Logger
}

// New creates an empty group. logger may be nil.
func New(logger *logging.Logger) *Group {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Group{pending: make(map[string]struct{}), logger: logger}
}

// IsPending reports whether a call with key is running.
func (g *Group) IsPending(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.pending[key]
	return ok
}

func (g *Group) acquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.pending[key]; ok {
		return false
	}
	g.pending[key] = struct{}{}
	return true
}

func (g *Group) release(key string) {
	g.mu.Lock()
	delete(g.pending, key)
	g.mu.Unlock()
}

// Do runs fn unless a call with the same key is in flight. ran is false
// when the call was dropped, in which case the zero value and a nil error
// are returned. The key is released however fn ends, including a panic.
func Do[T any](ctx context.Context, g *Group, key string, fn func(context.Context) (T, error)) (result T, ran bool, err error) {
	if !g.acquire(key) {
		g.logger.DebugTag(logTag, "操作 %s 正在进行中，忽略重复请求", key)
		return result, false, nil
	}
	defer g.release(key)

	g.logger.DebugTag(logTag, "开始执行操作: %s", key)
	result, err = fn(ctx)
	if err != nil {
		g.logger.DebugTag(logTag, "操作失败: %s: %v", key, err)
		return result, true, err
	}
	g.logger.DebugTag(logTag, "操作完成: %s", key)
	return result, true, nil
}

// Wrap returns fn guarded by g. keyFn derives the in-flight key from the
// argument; when it is nil every call through the returned function shares
// one key, so at most one of them runs at a time.
func Wrap[A, T any](g *Group, fn func(context.Context, A) (T, error), keyFn func(A) string) func(context.Context, A) (T, bool, error) {
	if keyFn == nil {
		key := "call-" + uuid.NewString()
		keyFn = func(A) string { return key }
	}
	return func(ctx context.Context, arg A) (T, bool, error) {
		return Do(ctx, g, keyFn(arg), func(ctx context.Context) (T, error) {
			return fn(ctx, arg)
		})
	}
}

// TaskOperationKey keys a task control operation.
func TaskOperationKey(op, taskID string) string {
	return op + "-" + taskID
}

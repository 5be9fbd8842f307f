package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teachhelper-console/internal/domain/session"
	"teachhelper-console/internal/domain/task"
	platformconfig "teachhelper-console/internal/platform/config"
	platformtesting "teachhelper-console/internal/platform/testing"
)

type backend struct {
	srv *httptest.Server

	mu         sync.Mutex
	registered []session.RegisterRequest
	controls   []string
	generated  []map[string]any
	expired    bool
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{}
	tok := platformtesting.IssueToken(t, "lihua", time.Now().Add(time.Hour))
	user := map[string]any{"id": 7, "username": "lihua", "email": "lihua@example.edu", "roles": []string{session.RoleTeacher}}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var creds session.Credentials
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds.Password != "secret123" {
			w.WriteHeader(http.StatusUnauthorized)
			writeJSON(w, map[string]any{"message": "用户名或密码错误"})
			return
		}
		writeJSON(w, map[string]any{"token": tok, "type": "Bearer", "id": 7, "username": "lihua", "email": "lihua@example.edu", "roles": []string{session.RoleTeacher}})
	})
	mux.HandleFunc("GET /api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, user)
	})
	mux.HandleFunc("POST /api/auth/register", func(w http.ResponseWriter, r *http.Request) {
		var req session.RegisterRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		b.mu.Lock()
		b.registered = append(b.registered, req)
		b.mu.Unlock()
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("用户注册成功"))
	})
	mux.HandleFunc("GET /api/exams", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		expired := b.expired
		b.mu.Unlock()
		if expired {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, []map[string]any{
			{"id": 1, "title": "期中考试", "createdBy": "wang", "totalQuestions": 10},
			{"id": 2, "title": "期末考试", "createdBy": "wang", "totalQuestions": 20},
		})
	})
	mux.HandleFunc("GET /api/tasks", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"content": []map[string]any{
				{"taskId": "t-1", "name": "批量评阅", "status": task.StatusRunning, "progress": 40},
				{"taskId": "t-2", "name": "重新评阅", "status": task.StatusFailed},
				{"taskId": "t-3", "name": "导入", "status": task.StatusCompleted, "progress": 100},
			},
			"totalElements": 3,
		})
	})
	mux.HandleFunc("GET /api/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"taskId": r.PathValue("id"), "name": "批量评阅", "status": task.StatusRunning, "progress": 10})
	})
	mux.HandleFunc("POST /api/tasks/{id}/{op}", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.controls = append(b.controls, r.PathValue("op")+":"+r.PathValue("id"))
		b.mu.Unlock()
		if r.PathValue("id") == "t-bad" {
			w.WriteHeader(http.StatusInternalServerError)
			writeJSON(w, map[string]any{"message": "boom"})
			return
		}
		writeJSON(w, map[string]any{"taskId": r.PathValue("id"), "status": task.StatusPaused})
	})
	mux.HandleFunc("POST /api/tasks", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		b.generated = append(b.generated, body)
		b.mu.Unlock()
		writeJSON(w, map[string]any{"id": "gen-1"})
	})
	mux.HandleFunc("GET /api/knowledge-bases", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"content":       []map[string]any{{"id": 4, "name": "高中物理", "subject": "物理", "gradeLevel": "高一", "documentCount": 12}},
			"totalElements": 1,
		})
	})
	mux.HandleFunc("POST /api/vector-search", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{{"id": "c-1", "content": "a = F / m", "score": 0.92}})
	})
	mux.HandleFunc("GET /ws/tasks", func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"taskId":"t-9","progress":50,"processedCount":5,"totalCount":10}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"taskId":"t-9","status":"COMPLETED","progress":100,"processedCount":10}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backend) registrations() []session.RegisterRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]session.RegisterRequest(nil), b.registered...)
}

func (b *backend) controlCalls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.controls...)
}

type result struct {
	out    string
	errOut string
	err    error
}

// run executes one CLI invocation against b with its own runtime.
func (b *backend) run(env map[string]string, args ...string) result {
	root, a := newRoot(BuildInfo{Version: "1.2.3"},
		WithEnv(func(k string) (string, bool) {
			if k == platformconfig.EnvStorageDriver && env[k] == "" {
				return "memory", true
			}
			v, ok := env[k]
			return v, ok
		}),
		WithInteractive(false),
	)
	defer func() { _ = a.close(context.Background()) }()

	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--api", b.srv.URL + "/api"}, args...))
	err := root.ExecuteContext(context.Background())
	return result{out: out.String(), errOut: errOut.String(), err: err}
}

func fileStore(t *testing.T) map[string]string {
	return map[string]string{
		platformconfig.EnvStorageDriver: "file",
		platformconfig.EnvStoragePath:   filepath.Join(t.TempDir(), "session.json"),
	}
}

func TestLoginPersistsAcrossInvocations(t *testing.T) {
	b := newBackend(t)
	env := fileStore(t)

	res := b.run(env, "auth", "status")
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "未登录")

	res = b.run(env, "auth", "login", "-u", "lihua", "-p", "secret123")
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "登录成功")
	assert.Contains(t, res.out, "lihua")

	res = b.run(env, "auth", "status")
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "lihua")
	assert.Contains(t, res.out, "教师")

	res = b.run(env, "auth", "logout")
	require.NoError(t, res.err)

	res = b.run(env, "auth", "status")
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "未登录")
}

func TestLoginFailures(t *testing.T) {
	b := newBackend(t)

	res := b.run(nil, "auth", "login", "-u", "lihua")
	assert.EqualError(t, res.err, "用户名和密码不能为空")

	res = b.run(nil, "auth", "login", "-u", "lihua", "-p", "wrong")
	assert.Error(t, res.err)
}

func TestRegisterValidatesBeforeCallingBackend(t *testing.T) {
	b := newBackend(t)

	res := b.run(nil, "auth", "register", "--username", "ab", "--password", "short", "--email", "nope")
	assert.Error(t, res.err)
	assert.Empty(t, b.registrations())

	res = b.run(nil, "auth", "register", "--username", "wang_wei", "--password", "study2024x", "--email", "wang@example.edu", "--role", "teacher")
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "注册成功")
	regs := b.registrations()
	require.Len(t, regs, 1)
	assert.Equal(t, []string{session.RoleTeacher}, regs[0].Roles)

	res = b.run(nil, "auth", "register", "--username", "zhao_li", "--password", "study2024x", "--email", "z@example.edu", "--role", "admin")
	assert.Error(t, res.err, "visitors cannot create admins")
	assert.Len(t, b.registrations(), 1)
}

func TestExamsList(t *testing.T) {
	b := newBackend(t)
	res := b.run(nil, "exams", "list")
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "期中考试")
	assert.Contains(t, res.out, "期末考试")
	assert.Contains(t, res.out, "共 2 条")

	res = b.run(nil, "exams", "show", "abc")
	assert.Error(t, res.err)
}

func TestTasksListAndLocalStats(t *testing.T) {
	b := newBackend(t)

	res := b.run(nil, "tasks", "list")
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "t-1")
	assert.Contains(t, res.out, "40%")

	res = b.run(nil, "tasks", "stats", "--local")
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "合计")
	assert.Regexp(t, `合计\s+3`, res.out)
}

func TestTaskControlBatchReportsEachTask(t *testing.T) {
	b := newBackend(t)

	res := b.run(nil, "tasks", "pause", "t-1", "t-bad", "t-2")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "t-bad")
	assert.Contains(t, res.out, "t-1")
	assert.Contains(t, res.out, "t-2")
	assert.ElementsMatch(t, []string{"pause:t-1", "pause:t-bad", "pause:t-2"}, b.controlCalls())
}

func TestTasksWatchStopsWhenTaskFinishes(t *testing.T) {
	b := newBackend(t)

	done := make(chan result, 1)
	go func() { done <- b.run(nil, "tasks", "watch", "t-9", "--timeout", "5s") }()

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Contains(t, res.out, "t-9 50% (5/10)")
		assert.Contains(t, res.out, "t-9 100% (10/10)")
	case <-time.After(10 * time.Second):
		t.Fatal("watch did not return after the task completed")
	}
}

func TestRouteCheck(t *testing.T) {
	b := newBackend(t)

	res := b.run(nil, "route", "check", "/exams/3")
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "redirect")
	assert.Contains(t, res.out, "/login")

	res = b.run(nil, "route", "check", "/login")
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "proceed")
}

func TestDevCommandsNeedDevMode(t *testing.T) {
	b := newBackend(t)
	res := b.run(nil, "dev", "init-data")
	assert.ErrorIs(t, res.err, errDevOnly)
}

func TestVersion(t *testing.T) {
	b := newBackend(t)
	res := b.run(nil, "version")
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "teachhelper 1.2.3")
}

func TestUnauthorizedPrintsRedirectNotice(t *testing.T) {
	b := newBackend(t)
	env := fileStore(t)

	res := b.run(env, "auth", "login", "-u", "lihua", "-p", "secret123")
	require.NoError(t, res.err)

	b.mu.Lock()
	b.expired = true
	b.mu.Unlock()

	res = b.run(env, "exams", "list")
	require.Error(t, res.err)
	assert.Contains(t, res.errOut, "认证失败，请重新登录")
	assert.Contains(t, res.errOut, "会话已失效，请重新登录 (/login)")
	assert.Contains(t, res.errOut, "已退出登录: unauthorized")

	res = b.run(env, "auth", "status")
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "未登录")
}

func TestQuestionsGenerateAndKnowledge(t *testing.T) {
	b := newBackend(t)

	res := b.run(nil, "questions", "generate", "--types", "ESSAY", "--count", "2")
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "gen-1")
	b.mu.Lock()
	require.Len(t, b.generated, 1)
	assert.Equal(t, "AI_GENERATION", b.generated[0]["type"])
	b.mu.Unlock()

	res = b.run(nil, "knowledge", "list")
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "高中物理")

	res = b.run(nil, "knowledge", "search", "加速度")
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "a = F / m")
}

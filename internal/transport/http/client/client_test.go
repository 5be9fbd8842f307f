package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teachhelper-console/internal/domain/eventbus"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

type recorder struct {
	mu            sync.Mutex
	notifications []eventbus.Notification
	redirects     []eventbus.Redirect
}

func newRecordingBus(t *testing.T) (*eventbus.Bus, *recorder) {
	t.Helper()
	bus := eventbus.New(eventbus.Options{})
	t.Cleanup(bus.Close)
	rec := &recorder{}
	require.NoError(t, bus.Subscribe(eventbus.TopicNotification, func(n eventbus.Notification) {
		rec.mu.Lock()
		rec.notifications = append(rec.notifications, n)
		rec.mu.Unlock()
	}))
	require.NoError(t, bus.Subscribe(eventbus.TopicRedirect, func(r eventbus.Redirect) {
		rec.mu.Lock()
		rec.redirects = append(rec.redirects, r)
		rec.mu.Unlock()
	}))
	return bus, rec
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.notifications))
	for _, n := range r.notifications {
		out = append(out, n.Message)
	}
	return out
}

func TestBearerAndRequestID(t *testing.T) {
	var gotAuth, gotID, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotID = r.Header.Get(HeaderRequestID)
		gotQuery = r.URL.RawQuery
		assert.Equal(t, "/api/exams", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"id":1,"title":"期中考试"}]}`))
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL + "/api/"})
	c.Bind(staticToken("a.b.c"), nil)

	var out struct {
		Content []struct {
			ID    int64  `json:"id"`
			Title string `json:"title"`
		} `json:"content"`
	}
	require.NoError(t, c.Get(context.Background(), "/exams", url.Values{"page": {"0"}}, &out))

	assert.Equal(t, "Bearer a.b.c", gotAuth)
	assert.Len(t, gotID, 36)
	assert.Equal(t, "page=0", gotQuery)
	require.Len(t, out.Content, 1)
	assert.Equal(t, "期中考试", out.Content[0].Title)
}

func TestNoTokenNoHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "lihua", body["username"])
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL})
	require.NoError(t, c.Post(context.Background(), "/auth/register", map[string]string{"username": "lihua"}, nil))
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		body   string
		notice string
	}{
		{http.StatusForbidden, `{"message":"forbidden"}`, NoticeForbidden},
		{http.StatusNotFound, ``, NoticeNotFound},
		{http.StatusInternalServerError, `{"message":"NPE"}`, NoticeServerError},
		{http.StatusBadRequest, `{"message":"考试已结束"}`, "考试已结束"},
		{http.StatusConflict, `not json`, NoticeFallback},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			bus, rec := newRecordingBus(t)
			c := New(Options{BaseURL: srv.URL, Bus: bus})

			err := c.Get(context.Background(), "/x", nil, nil)
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tc.status, apiErr.Status)
			assert.Equal(t, tc.notice, apiErr.Notice)
			assert.Equal(t, tc.status, StatusOf(err))

			bus.Drain()
			assert.Equal(t, []string{tc.notice}, rec.messages())
		})
	}
}

func TestUnauthorizedInvokesHookAndRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	bus, rec := newRecordingBus(t)
	c := New(Options{BaseURL: srv.URL, Bus: bus})

	var sentTokens []string
	loggedOut := true
	c.Bind(staticToken("old.tok.en"), func(_ context.Context, sent string) bool {
		sentTokens = append(sentTokens, sent)
		return loggedOut
	})

	err := c.Get(context.Background(), "/auth/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, StatusOf(err))
	assert.Equal(t, []string{"old.tok.en"}, sentTokens)

	loggedOut = false
	_ = c.Get(context.Background(), "/auth/me", nil, nil)

	bus.Drain()
	assert.Equal(t, []string{NoticeUnauthorized, NoticeUnauthorized}, rec.messages())
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.redirects, 1, "only a real logout redirects")
	assert.Equal(t, "/login", rec.redirects[0].Path)
}

func TestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()

	bus, rec := newRecordingBus(t)
	c := New(Options{BaseURL: base, Bus: bus, Timeout: time.Second})

	err := c.Get(context.Background(), "/exams", nil, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 0, apiErr.Status)
	assert.Equal(t, NoticeNetwork, apiErr.Notice)

	bus.Drain()
	assert.Equal(t, []string{NoticeNetwork}, rec.messages())
}

func TestCancelledRequestIsSilent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-r.Context().Done()
	}))
	defer srv.Close()

	bus, rec := newRecordingBus(t)
	c := New(Options{BaseURL: srv.URL, Bus: bus})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.Get(ctx, "/slow", nil, nil)
	assert.Error(t, err)

	bus.Drain()
	assert.Empty(t, rec.messages())
}

func TestLongClientSharesHooks(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte{1, 2, 3})
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, Timeout: time.Second, LongTimeout: time.Hour})
	long := c.Long()
	c.Bind(staticToken("x.y.z"), nil)

	assert.Equal(t, time.Second, c.Timeout())
	assert.Equal(t, time.Hour, long.Timeout())

	resp, err := long.Raw(context.Background(), Request{Path: "/tasks/1/results/export"})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, resp.Body)
	assert.Equal(t, "application/octet-stream", resp.ContentType)
	assert.Equal(t, "Bearer x.y.z", gotAuth)
}

func TestNoTimeoutClientSharesHooks(t *testing.T) {
	var mu sync.Mutex
	var auths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auths = append(auths, r.Header.Get("Authorization"))
		mu.Unlock()
		if r.URL.Path == "/questions/9/generate-reference-answer" {
			time.Sleep(300 * time.Millisecond)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"referenceAnswer":"光合作用"}`))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	bus, rec := newRecordingBus(t)
	c := New(Options{BaseURL: srv.URL, Bus: bus, Timeout: 100 * time.Millisecond, LongTimeout: time.Hour})
	unbounded := c.NoTimeout()

	var hooked []string
	c.Bind(staticToken("g.e.n"), func(_ context.Context, sent string) bool {
		hooked = append(hooked, sent)
		return true
	})

	assert.Equal(t, time.Duration(0), unbounded.Timeout())
	assert.Equal(t, 100*time.Millisecond, c.Timeout(), "parent keeps its own timeout")

	var out struct {
		ReferenceAnswer string `json:"referenceAnswer"`
	}
	require.NoError(t, unbounded.Post(context.Background(), "/questions/9/generate-reference-answer", map[string]any{}, &out))
	assert.Equal(t, "光合作用", out.ReferenceAnswer)

	err := unbounded.Get(context.Background(), "/auth/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, StatusOf(err))
	assert.Equal(t, []string{"g.e.n"}, hooked)

	mu.Lock()
	assert.Equal(t, []string{"Bearer g.e.n", "Bearer g.e.n"}, auths)
	mu.Unlock()

	bus.Drain()
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.redirects, 1)
	assert.Equal(t, "/login", rec.redirects[0].Path)
}

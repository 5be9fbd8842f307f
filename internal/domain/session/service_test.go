package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"teachhelper-console/internal/domain/eventbus"
	"teachhelper-console/internal/domain/session"
	platformerrors "teachhelper-console/internal/platform/errors"
	platformtesting "teachhelper-console/internal/platform/testing"
	"teachhelper-console/internal/platform/storage"
)

// MockBackend 模拟认证后端
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Login(ctx context.Context, creds session.Credentials) (session.AuthResponse, error) {
	args := m.Called(ctx, creds)
	return args.Get(0).(session.AuthResponse), args.Error(1)
}

func (m *MockBackend) Register(ctx context.Context, req session.RegisterRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockBackend) CurrentUser(ctx context.Context) (session.User, error) {
	args := m.Called(ctx)
	return args.Get(0).(session.User), args.Error(1)
}

var student = session.User{ID: 7, Username: "lihua", Email: "lihua@example.edu", Roles: []string{"STUDENT"}}

func newService(t *testing.T, backend session.Backend, store storage.Store) *session.Service {
	t.Helper()
	svc, err := session.New(context.Background(), session.Options{
		Backend: backend,
		Store:   store,
		Logger:  platformtesting.SetupTestLogger(t),
		DevMode: true,
	})
	require.NoError(t, err)
	return svc
}

func seed(t *testing.T, store storage.Store, tok string, user *session.User) {
	t.Helper()
	ctx := context.Background()
	if tok != "" {
		require.NoError(t, store.Set(ctx, storage.KeyToken, tok))
	}
	if user != nil {
		raw, err := json.Marshal(user)
		require.NoError(t, err)
		require.NoError(t, store.Set(ctx, storage.KeyUser, string(raw)))
	}
}

func stored(t *testing.T, store storage.Store, key string) (string, bool) {
	t.Helper()
	v, ok, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	return v, ok
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := session.New(context.Background(), session.Options{Store: storage.NewMemory()})
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindAuth))

	_, err = session.New(context.Background(), session.Options{Backend: &MockBackend{}})
	assert.Error(t, err)
}

func TestInitAuthWithoutTokenClearsStaleUser(t *testing.T) {
	store := storage.NewMemory()
	seed(t, store, "", &student)
	backend := &MockBackend{}
	svc := newService(t, backend, store)

	assert.Equal(t, session.StateUninitialized, svc.State())
	require.NoError(t, svc.InitAuth(context.Background()))

	assert.True(t, svc.IsInitialized())
	assert.False(t, svc.IsAuthenticated())
	assert.Nil(t, svc.User())
	assert.Equal(t, session.StateAnonymous, svc.State())
	_, ok := stored(t, store, storage.KeyUser)
	assert.False(t, ok)
	backend.AssertNotCalled(t, "CurrentUser", mock.Anything)
}

func TestInitAuthFetchesUserForValidToken(t *testing.T) {
	store := storage.NewMemory()
	tok := platformtesting.IssueToken(t, "7", time.Now().Add(time.Hour))
	seed(t, store, tok, nil)

	backend := &MockBackend{}
	backend.On("CurrentUser", mock.Anything).Return(student, nil).Once()
	svc := newService(t, backend, store)

	require.NoError(t, svc.InitAuth(context.Background()))

	assert.True(t, svc.IsAuthenticated())
	assert.Equal(t, session.StateAuthenticated, svc.State())
	assert.Equal(t, "lihua", svc.User().Username)
	raw, ok := stored(t, store, storage.KeyUser)
	require.True(t, ok)
	assert.Contains(t, raw, `"username":"lihua"`)
	backend.AssertExpectations(t)
}

func TestInitAuthConcurrentCallsFetchOnce(t *testing.T) {
	store := storage.NewMemory()
	seed(t, store, platformtesting.IssueToken(t, "7", time.Now().Add(time.Hour)), nil)

	backend := &MockBackend{}
	backend.On("CurrentUser", mock.Anything).
		Run(func(mock.Arguments) { time.Sleep(50 * time.Millisecond) }).
		Return(student, nil)
	svc := newService(t, backend, store)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.InitAuth(context.Background()))
		}()
	}
	wg.Wait()

	backend.AssertNumberOfCalls(t, "CurrentUser", 1)
	assert.True(t, svc.IsAuthenticated())
}

func TestInitAuthWarmSessionSkipsFetch(t *testing.T) {
	store := storage.NewMemory()
	seed(t, store, platformtesting.IssueToken(t, "7", time.Now().Add(time.Hour)), &student)
	backend := &MockBackend{}
	svc := newService(t, backend, store)

	require.NoError(t, svc.InitAuth(context.Background()))
	assert.True(t, svc.IsAuthenticated())
	backend.AssertNotCalled(t, "CurrentUser", mock.Anything)
}

func TestInitAuthExpiredTokenEndsAnonymous(t *testing.T) {
	store := storage.NewMemory()
	seed(t, store, platformtesting.IssueToken(t, "7", time.Now().Add(-time.Minute)), &student)
	backend := &MockBackend{}
	svc := newService(t, backend, store)

	require.NoError(t, svc.InitAuth(context.Background()))

	assert.True(t, svc.IsInitialized())
	assert.False(t, svc.IsAuthenticated())
	assert.Empty(t, svc.Token())
	_, ok := stored(t, store, storage.KeyToken)
	assert.False(t, ok)
	backend.AssertNotCalled(t, "CurrentUser", mock.Anything)
}

func TestInitAuthFetchFailureLogsOut(t *testing.T) {
	store := storage.NewMemory()
	seed(t, store, platformtesting.IssueToken(t, "7", time.Now().Add(time.Hour)), nil)
	backend := &MockBackend{}
	backend.On("CurrentUser", mock.Anything).Return(session.User{}, errors.New("status 401")).Once()
	svc := newService(t, backend, store)

	err := svc.InitAuth(context.Background())
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindAuth))

	assert.True(t, svc.IsInitialized(), "initialisation completes even when the fetch fails")
	assert.False(t, svc.IsAuthenticated())
	_, ok := stored(t, store, storage.KeyToken)
	assert.False(t, ok)

	require.NoError(t, svc.InitAuth(context.Background()))
	backend.AssertNumberOfCalls(t, "CurrentUser", 1)
}

func TestLoginInstallsSession(t *testing.T) {
	store := storage.NewMemory()
	tok := platformtesting.IssueToken(t, "7", time.Now().Add(time.Hour))
	creds := session.Credentials{Username: "lihua", Password: "secret123"}

	backend := &MockBackend{}
	backend.On("Login", mock.Anything, creds).Return(session.AuthResponse{
		Token: tok, Type: "Bearer", ID: 7, Username: "lihua", Email: "lihua@example.edu", Roles: []string{"STUDENT", "TEACHER"},
	}, nil)

	svc := newService(t, backend, store)
	require.NoError(t, svc.Login(context.Background(), creds))

	assert.True(t, svc.IsAuthenticated())
	assert.Equal(t, tok, svc.Token())
	assert.True(t, svc.IsStudent())
	assert.True(t, svc.IsTeacher())
	assert.False(t, svc.IsAdmin())
	assert.Equal(t, "STUDENT", svc.PrimaryRole())

	v, ok := stored(t, store, storage.KeyToken)
	assert.True(t, ok)
	assert.Equal(t, tok, v)
	_, ok = stored(t, store, storage.KeyUser)
	assert.True(t, ok)
}

func TestLoginRejectsBadTokens(t *testing.T) {
	cases := map[string]struct {
		token string
		want  error
	}{
		"malformed": {token: "not-a-token", want: session.ErrInvalidToken},
		"expired":   {token: platformtesting.IssueToken(t, "7", time.Now().Add(-time.Second)), want: session.ErrExpiredToken},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			store := storage.NewMemory()
			backend := &MockBackend{}
			backend.On("Login", mock.Anything, mock.Anything).Return(session.AuthResponse{
				Token: tc.token, ID: 7, Username: "lihua", Roles: []string{"STUDENT"},
			}, nil)
			svc := newService(t, backend, store)

			err := svc.Login(context.Background(), session.Credentials{Username: "lihua", Password: "x"})
			assert.ErrorIs(t, err, tc.want)
			assert.False(t, svc.IsAuthenticated())
			keys, _ := store.Keys(context.Background())
			assert.Empty(t, keys)
		})
	}
}

func TestLoginBackendFailure(t *testing.T) {
	backend := &MockBackend{}
	backend.On("Login", mock.Anything, mock.Anything).Return(session.AuthResponse{}, errors.New("用户名或密码错误"))
	svc := newService(t, backend, storage.NewMemory())

	err := svc.Login(context.Background(), session.Credentials{Username: "a", Password: "b"})
	assert.Error(t, err)
	assert.False(t, svc.IsAuthenticated())
}

func TestRegisterDoesNotSignIn(t *testing.T) {
	req := session.RegisterRequest{Username: "wangwu", Password: "abc12345x", Email: "w@example.edu", Roles: []string{"STUDENT"}}
	backend := &MockBackend{}
	backend.On("Register", mock.Anything, req).Return(nil)
	store := storage.NewMemory()
	svc := newService(t, backend, store)

	require.NoError(t, svc.Register(context.Background(), req))
	assert.False(t, svc.IsAuthenticated())
	assert.Empty(t, svc.Token())
	backend.AssertNotCalled(t, "Login", mock.Anything, mock.Anything)
}

func TestLogoutClearsEverything(t *testing.T) {
	store := storage.NewMemory()
	seed(t, store, platformtesting.IssueToken(t, "7", time.Now().Add(time.Hour)), &student)
	bus := eventbus.New(eventbus.Options{})
	defer bus.Close()

	var mu sync.Mutex
	var changes []eventbus.SessionChange
	require.NoError(t, bus.Subscribe(eventbus.TopicSessionChanged, func(c eventbus.SessionChange) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	}))

	svc, err := session.New(context.Background(), session.Options{
		Backend: &MockBackend{},
		Store:   store,
		Logger:  platformtesting.SetupTestLogger(t),
		Bus:     bus,
	})
	require.NoError(t, err)
	require.NoError(t, svc.InitAuth(context.Background()))
	require.True(t, svc.IsAuthenticated())

	require.NoError(t, svc.Logout(context.Background()))

	snap := svc.Snapshot()
	assert.False(t, snap.Authenticated)
	assert.False(t, snap.Initialized)
	assert.False(t, snap.HasToken)
	assert.Nil(t, snap.User)
	keys, _ := store.Keys(context.Background())
	assert.Empty(t, keys)

	bus.Drain()
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, changes)
	assert.Equal(t, "logout", changes[len(changes)-1].Reason)
	assert.False(t, changes[len(changes)-1].Authenticated)
}

func TestHandleUnauthorized(t *testing.T) {
	store := storage.NewMemory()
	tok := platformtesting.IssueToken(t, "7", time.Now().Add(time.Hour))
	seed(t, store, tok, &student)
	svc := newService(t, &MockBackend{}, store)

	assert.False(t, svc.HandleUnauthorized(context.Background(), "some.older.token"))
	assert.True(t, svc.IsAuthenticated(), "401 for a stale token is ignored")

	assert.True(t, svc.HandleUnauthorized(context.Background(), tok))
	assert.False(t, svc.IsAuthenticated())
	assert.False(t, svc.IsInitialized())
}

// reentrantBackend calls the 401 hook from inside a session operation, the
// way the HTTP client does when /auth/me is rejected.
type reentrantBackend struct {
	svc *session.Service
	tok string
}

func (b *reentrantBackend) Login(context.Context, session.Credentials) (session.AuthResponse, error) {
	return session.AuthResponse{}, errors.New("unused")
}

func (b *reentrantBackend) Register(context.Context, session.RegisterRequest) error { return nil }

func (b *reentrantBackend) CurrentUser(ctx context.Context) (session.User, error) {
	if b.svc.HandleUnauthorized(ctx, b.tok) {
		return session.User{}, errors.New("hook must not log out inside an operation")
	}
	return session.User{}, errors.New("status 401")
}

func TestUnauthorizedDuringInitDoesNotDeadlock(t *testing.T) {
	store := storage.NewMemory()
	tok := platformtesting.IssueToken(t, "7", time.Now().Add(time.Hour))
	seed(t, store, tok, nil)

	backend := &reentrantBackend{tok: tok}
	svc := newService(t, backend, store)
	backend.svc = svc

	done := make(chan struct{})
	go func() {
		_ = svc.InitAuth(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("InitAuth deadlocked on the 401 hook")
	}
	assert.False(t, svc.IsAuthenticated())
}

func TestCheckTokenValidity(t *testing.T) {
	store := storage.NewMemory()
	svc := newService(t, &MockBackend{}, store)
	assert.False(t, svc.CheckTokenValidity(context.Background()), "no token")

	seed(t, store, platformtesting.IssueToken(t, "7", time.Now().Add(2*time.Minute)), &student)
	svc = newService(t, &MockBackend{}, store)
	assert.True(t, svc.CheckTokenValidity(context.Background()), "expiring soon is still valid")

	now := time.Now().Add(time.Hour)
	svc, err := session.New(context.Background(), session.Options{
		Backend: &MockBackend{},
		Store:   store,
		Logger:  platformtesting.SetupTestLogger(t),
		Now:     func() time.Time { return now },
	})
	require.NoError(t, err)
	assert.False(t, svc.CheckTokenValidity(context.Background()), "expired")
	_, ok := stored(t, store, storage.KeyToken)
	assert.False(t, ok)
}

func TestCorruptStoredUserIsDropped(t *testing.T) {
	store := storage.NewMemory()
	require.NoError(t, store.SetMany(context.Background(), map[string]string{
		storage.KeyToken: "a.b.c",
		storage.KeyUser:  "{not json",
	}))
	svc := newService(t, &MockBackend{}, store)

	assert.Empty(t, svc.Token())
	keys, _ := store.Keys(context.Background())
	assert.Empty(t, keys)
}

func TestRefreshUserReplacesSnapshot(t *testing.T) {
	store := storage.NewMemory()
	seed(t, store, platformtesting.IssueToken(t, "7", time.Now().Add(time.Hour)), &student)
	promoted := student
	promoted.Roles = []string{"TEACHER"}

	backend := &MockBackend{}
	backend.On("CurrentUser", mock.Anything).Return(promoted, nil)
	svc := newService(t, backend, store)

	require.NoError(t, svc.RefreshUser(context.Background()))
	assert.True(t, svc.IsTeacher())
	assert.False(t, svc.IsStudent())
}

func TestUserIsACopy(t *testing.T) {
	store := storage.NewMemory()
	seed(t, store, platformtesting.IssueToken(t, "7", time.Now().Add(time.Hour)), &student)
	svc := newService(t, &MockBackend{}, store)

	u := svc.User()
	u.Roles[0] = "ADMIN"
	assert.False(t, svc.IsAdmin())
}

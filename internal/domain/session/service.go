// Package session owns the signed-in state of the client: the bearer token,
// the current user snapshot and their durable mirror.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"teachhelper-console/internal/domain/eventbus"
	"teachhelper-console/internal/domain/token"
	platformerrors "teachhelper-console/internal/platform/errors"
	"teachhelper-console/internal/platform/logging"
	"teachhelper-console/internal/platform/observability"
	"teachhelper-console/internal/platform/storage"
)

const logTag = "认证"

var (
	// ErrInvalidToken is returned when the backend hands out a token that is
	// not three base64url segments.
	ErrInvalidToken = errors.New("invalid token format")
	// ErrExpiredToken is returned when the backend hands out an expired token.
	ErrExpiredToken = errors.New("token already expired")
)

type opKey struct{}

// withinOperation marks ctx as running under the operation lock so hooks
// triggered by backend calls do not try to take it again.
func withinOperation(ctx context.Context, s *Service) context.Context {
	return context.WithValue(ctx, opKey{}, s)
}

func inOperation(ctx context.Context, s *Service) bool {
	owner, _ := ctx.Value(opKey{}).(*Service)
	return owner == s
}

// Options configures a Service.
type Options struct {
	Backend      Backend
	Store        storage.Store
	Logger       *logging.Logger
	Bus          *eventbus.Bus
	ExpiryWindow time.Duration
	DevMode      bool
	Now          func() time.Time
}

// Service is the session state machine. Login, InitAuth, Logout and the other
// mutating operations are serialised by opMu; field reads take mu only.
type Service struct {
	backend      Backend
	store        storage.Store
	logger       *logging.Logger
	bus          *eventbus.Bus
	expiryWindow time.Duration
	devMode      bool
	now          func() time.Time

	opMu sync.Mutex

	mu          sync.RWMutex
	user        *User
	token       string
	initialized bool
	loading     bool
}

// New builds a Service and restores a warm session from the store. A stored
// user that cannot be decoded clears both keys.
func New(ctx context.Context, opts Options) (*Service, error) {
	if opts.Backend == nil {
		return nil, platformerrors.New(platformerrors.KindAuth, "session.new", "backend is required")
	}
	if opts.Store == nil {
		return nil, platformerrors.New(platformerrors.KindAuth, "session.new", "store is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ExpiryWindow <= 0 {
		opts.ExpiryWindow = token.DefaultExpiryWindow
	}

	s := &Service{
		backend:      opts.Backend,
		store:        opts.Store,
		logger:       opts.Logger,
		bus:          opts.Bus,
		expiryWindow: opts.ExpiryWindow,
		devMode:      opts.DevMode,
		now:          opts.Now,
	}
	if err := s.restore(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) restore(ctx context.Context) error {
	tok, hasToken, err := s.store.Get(ctx, storage.KeyToken)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "session.restore", "read token", err)
	}
	rawUser, hasUser, err := s.store.Get(ctx, storage.KeyUser)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "session.restore", "read user", err)
	}

	var user *User
	if hasUser && rawUser != "" {
		var u User
		if err := sonic.Unmarshal([]byte(rawUser), &u); err != nil {
			s.logger.WarnTag(logTag, "本地用户信息解析失败，清理存储: %v", err)
			if err := s.store.Remove(ctx, storage.KeyUser, storage.KeyToken); err != nil {
				return platformerrors.Wrap(platformerrors.KindStorage, "session.restore", "clear corrupt entries", err)
			}
			return nil
		}
		user = &u
	}

	s.mu.Lock()
	s.user = user
	if hasToken {
		s.token = strings.TrimSpace(tok)
	}
	s.mu.Unlock()

	s.debug("恢复会话: hasUser=%t hasToken=%t", user != nil, s.Token() != "")
	return nil
}

func (s *Service) debug(msg string, args ...any) {
	if s.devMode {
		s.logger.DebugTag(logTag, msg, args...)
	}
}

// InitAuth resolves the stored session once. Calls after the first
// completed initialisation are no-ops until Logout resets it; concurrent
// callers wait for the running initialisation instead of starting another.
func (s *Service) InitAuth(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.IsInitialized() {
		s.debug("跳过初始化: 已初始化")
		return nil
	}

	ctx, end := observability.StartSpan(ctx, "session", "init")
	ctx = withinOperation(ctx, s)

	s.mu.Lock()
	s.loading = true
	s.mu.Unlock()

	var fetchErr error
	defer func() {
		s.mu.Lock()
		s.loading = false
		s.initialized = true
		s.mu.Unlock()
		s.publish("init")
		s.debug("初始化完成: authenticated=%t", s.IsAuthenticated())
		end(fetchErr)
	}()

	if s.Token() == "" {
		if s.User() != nil {
			s.mu.Lock()
			s.user = nil
			s.mu.Unlock()
			if err := s.store.Remove(ctx, storage.KeyUser); err != nil {
				s.logger.WarnTag(logTag, "清理过期用户信息失败: %v", err)
			}
			s.debug("已清理无 token 的用户信息")
		}
		return nil
	}

	if !s.checkValidityLocked(ctx) {
		s.debug("初始化时 token 校验失败")
		return nil
	}

	if s.User() == nil {
		fetchErr = s.fetchUserLocked(ctx)
	}
	return fetchErr
}

// fetchUserLocked loads /auth/me. Any failure ends in a full logout.
func (s *Service) fetchUserLocked(ctx context.Context) error {
	if s.Token() == "" {
		return nil
	}
	s.debug("使用 token %s 获取当前用户", token.Redact(s.Token()))

	user, err := s.backend.CurrentUser(ctx)
	if err != nil {
		s.logger.ErrorTag(logTag, "获取当前用户失败: %v", err)
		if logoutErr := s.logoutLocked(ctx, "user fetch failed"); logoutErr != nil {
			s.logger.WarnTag(logTag, "清理会话失败: %v", logoutErr)
		}
		return platformerrors.Wrap(platformerrors.KindAuth, "session.current_user", "fetch current user", err)
	}

	raw, err := sonic.Marshal(user)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindAuth, "session.current_user", "encode user", err)
	}
	if err := s.store.Set(ctx, storage.KeyUser, string(raw)); err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "session.current_user", "persist user", err)
	}

	s.mu.Lock()
	s.user = user.clone()
	s.mu.Unlock()
	s.logger.InfoTag(logTag, "用户 %s 信息已加载", user.Username)
	return nil
}

// RefreshUser refetches the current user and replaces the snapshot.
func (s *Service) RefreshUser(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	ctx = withinOperation(ctx, s)
	err := s.fetchUserLocked(ctx)
	s.publish("refresh")
	return err
}

// Login authenticates against the backend and installs the returned token.
// A token that is malformed or already expired is rejected and the session
// stays as it was.
func (s *Service) Login(ctx context.Context, creds Credentials) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	ctx, end := observability.StartSpan(ctx, "session", "login")
	ctx = withinOperation(ctx, s)

	resp, err := s.backend.Login(ctx, creds)
	if err != nil {
		s.logger.ErrorTag(logTag, "登录失败: %v", err)
		err = platformerrors.Wrap(platformerrors.KindAuth, "session.login", "login request", err)
		end(err)
		return err
	}

	if err := s.setAuthLocked(ctx, resp); err != nil {
		end(err)
		return err
	}
	end(nil)
	s.logger.InfoTag(logTag, "用户 %s 登录成功", resp.Username)
	s.publish("login")
	return nil
}

func (s *Service) setAuthLocked(ctx context.Context, resp AuthResponse) error {
	if !token.ValidateFormat(resp.Token) {
		s.logger.ErrorTag(logTag, "收到格式无效的 token")
		return platformerrors.Wrap(platformerrors.KindAuth, "session.set_auth", "reject token", ErrInvalidToken)
	}
	if exp, ok := token.Expiration(resp.Token); ok {
		s.debug("token 过期时间: %s", exp.Format(time.RFC3339))
		if !exp.After(s.now()) {
			s.logger.ErrorTag(logTag, "收到已过期的 token")
			return platformerrors.Wrap(platformerrors.KindAuth, "session.set_auth", "reject token", ErrExpiredToken)
		}
	}

	user := resp.User()
	raw, err := sonic.Marshal(user)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindAuth, "session.set_auth", "encode user", err)
	}
	if err := s.store.SetMany(ctx, map[string]string{
		storage.KeyToken: resp.Token,
		storage.KeyUser:  string(raw),
	}); err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "session.set_auth", "persist session", err)
	}

	s.mu.Lock()
	s.user = user
	s.token = resp.Token
	s.mu.Unlock()
	return nil
}

// Register creates an account. It never signs the caller in.
func (s *Service) Register(ctx context.Context, req RegisterRequest) error {
	ctx, end := observability.StartSpan(ctx, "session", "register")
	err := s.backend.Register(ctx, req)
	if err != nil {
		s.logger.ErrorTag(logTag, "注册失败: %v", err)
		err = platformerrors.Wrap(platformerrors.KindAuth, "session.register", "register request", err)
	} else {
		s.logger.InfoTag(logTag, "用户 %s 注册成功", req.Username)
	}
	end(err)
	return err
}

// Logout clears memory and the durable mirror and resets initialisation.
// Memory is cleared even if the store fails.
func (s *Service) Logout(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.logoutLocked(withinOperation(ctx, s), "logout")
}

func (s *Service) logoutLocked(ctx context.Context, reason string) error {
	s.mu.Lock()
	hadUser := s.user != nil
	s.user = nil
	s.token = ""
	s.initialized = false
	s.mu.Unlock()

	err := s.store.Remove(ctx, storage.KeyToken, storage.KeyUser)
	if hadUser {
		s.logger.InfoTag(logTag, "已退出登录 (%s)", reason)
	}
	s.publish(reason)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "session.logout", "clear storage", err)
	}
	return nil
}

// HandleUnauthorized is the HTTP client's 401 hook. It logs out only when
// sentToken is still the active token and the request was not issued by a
// session operation, which handles the failure itself. It reports whether
// the session was cleared.
func (s *Service) HandleUnauthorized(ctx context.Context, sentToken string) bool {
	if inOperation(ctx, s) {
		return false
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	current := s.Token()
	if current == "" || current != sentToken {
		s.debug("忽略过期请求的 401")
		return false
	}
	s.logger.WarnTag(logTag, "认证失败，强制退出登录")
	if err := s.logoutLocked(withinOperation(ctx, s), "unauthorized"); err != nil {
		s.logger.WarnTag(logTag, "清理会话失败: %v", err)
	}
	return true
}

// CheckTokenValidity logs out and returns false when the token is missing,
// malformed or expired. A token inside the expiry window is still valid.
func (s *Service) CheckTokenValidity(ctx context.Context) bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.checkValidityLocked(withinOperation(ctx, s))
}

func (s *Service) checkValidityLocked(ctx context.Context) bool {
	tok := s.Token()
	if tok == "" {
		s.debug("没有需要检查的 token")
		return false
	}
	if !token.ValidateFormat(tok) {
		s.debug("token 格式无效")
		_ = s.logoutLocked(ctx, "invalid token")
		return false
	}
	now := s.now()
	exp, ok := token.Expiration(tok)
	if ok && !exp.After(now) {
		s.debug("token 已于 %s 过期", exp.Format(time.RFC3339))
		_ = s.logoutLocked(ctx, "token expired")
		return false
	}
	if ok && token.IsExpiringSoon(tok, s.expiryWindow, now) {
		s.logger.WarnTag(logTag, "token 即将过期: %s", exp.Format(time.RFC3339))
	}
	return true
}

// SyncWithStore logs out when the durable token was removed while memory
// still holds one. It returns true when a logout happened.
func (s *Service) SyncWithStore(ctx context.Context) (bool, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	_, stored, err := s.store.Get(ctx, storage.KeyToken)
	if err != nil {
		return false, platformerrors.Wrap(platformerrors.KindStorage, "session.sync", "read token", err)
	}
	s.debug("周期检查: storeHasToken=%t storageHasToken=%t", s.Token() != "", stored)
	if stored || s.Token() == "" {
		return false, nil
	}
	s.logger.WarnTag(logTag, "存储中的 token 已被移除，清理会话")
	return true, s.logoutLocked(withinOperation(ctx, s), "token removed from storage")
}

func (s *Service) publish(reason string) {
	if s.bus == nil {
		return
	}
	user := s.User()
	change := eventbus.SessionChange{
		Authenticated: s.IsAuthenticated(),
		Reason:        reason,
	}
	if user != nil {
		change.Username = user.Username
	}
	s.bus.PublishAsync(eventbus.TopicSessionChanged, change)
}

// Token returns the bearer token, or "" when signed out.
func (s *Service) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// User returns a copy of the current user, or nil.
func (s *Service) User() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.clone()
}

// IsInitialized reports whether InitAuth has completed since the last logout.
func (s *Service) IsInitialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// IsLoading reports whether InitAuth is running.
func (s *Service) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// IsAuthenticated is false while loading, and otherwise true iff both a
// token and a user are present.
func (s *Service) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.loading && s.token != "" && s.user != nil
}

// State derives the lifecycle position from the fields.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateLocked()
}

func (s *Service) stateLocked() State {
	switch {
	case s.loading:
		return StateInitializing
	case s.token != "" && s.user != nil:
		return StateAuthenticated
	case !s.initialized:
		return StateUninitialized
	default:
		return StateAnonymous
	}
}

// Snapshot returns a consistent copy of the session.
func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state := s.stateLocked()
	return Snapshot{
		State:         state,
		StateName:     state.String(),
		User:          s.user.clone(),
		HasToken:      s.token != "",
		Initialized:   s.initialized,
		Loading:       s.loading,
		Authenticated: !s.loading && s.token != "" && s.user != nil,
	}
}

// IsAdmin reports whether the user holds ADMIN.
func (s *Service) IsAdmin() bool { return s.HasRole(RoleAdmin) }

// IsTeacher reports whether the user holds TEACHER.
func (s *Service) IsTeacher() bool { return s.HasRole(RoleTeacher) }

// IsStudent reports whether the user holds STUDENT.
func (s *Service) IsStudent() bool { return s.HasRole(RoleStudent) }

// HasRole reports whether the current user holds role.
func (s *Service) HasRole(role string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.HasRole(role)
}

// PrimaryRole is the first role of the current user, or "".
func (s *Service) PrimaryRole() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil || len(s.user.Roles) == 0 {
		return ""
	}
	return s.user.Roles[0]
}

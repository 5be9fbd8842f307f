package console

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"teachhelper-console/internal/domain/navigation"
	"teachhelper-console/internal/domain/registration"
	"teachhelper-console/internal/domain/session"
	platformerrors "teachhelper-console/internal/platform/errors"
	httptransport "teachhelper-console/internal/transport/http"
	"teachhelper-console/internal/transport/http/client"
)

const decisionKey = "navigation.decision"

// Page describes the page a browser landed on.
type Page struct {
	Name   string            `json:"name"`
	Path   string            `json:"path"`
	Params map[string]string `json:"params,omitempty"`
	Query  url.Values        `json:"query,omitempty"`
	User   *session.User     `json:"user,omitempty"`
}

type loginForm struct {
	Username string `form:"username" json:"username" binding:"required"`
	Password string `form:"password" json:"password" binding:"required"`
}

type registerForm struct {
	Username string   `form:"username" json:"username"`
	Password string   `form:"password" json:"password"`
	Email    string   `form:"email" json:"email"`
	Roles    []string `form:"roles" json:"roles"`
}

func (s *Server) guardMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			httptransport.RespondError(c, http.StatusMethodNotAllowed, "method not allowed", nil)
			return
		}

		d, err := s.opts.Guard.Check(c.Request.Context(), c.Request.URL.RequestURI())
		if err != nil {
			httptransport.RespondError(c, http.StatusBadRequest, err.Error(), nil)
			return
		}
		if d.Action == navigation.Redirect {
			c.Redirect(http.StatusFound, d.Location)
			c.Abort()
			return
		}
		c.Set(decisionKey, d)
		c.Next()
	}
}

func (s *Server) handlePage(c *gin.Context) {
	d := c.MustGet(decisionKey).(navigation.Decision)
	to := d.Target

	switch to.Route.Name {
	case navigation.RouteNotFound:
		httptransport.RespondError(c, http.StatusNotFound, "页面不存在", Page{Name: to.Route.Name, Path: to.Path})
		return
	case navigation.RouteDevTools:
		httptransport.RespondSuccess(c, http.StatusOK, s.diagnostics(c), "")
		return
	}

	httptransport.RespondSuccess(c, http.StatusOK, Page{
		Name:   to.Route.Name,
		Path:   to.Path,
		Params: to.Params,
		Query:  to.Query,
		User:   s.opts.Session.User(),
	}, "")
}

func (s *Server) handleLogin(c *gin.Context) {
	var form loginForm
	if err := c.ShouldBind(&form); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "用户名和密码不能为空", nil)
		return
	}

	err := s.opts.Session.Login(c.Request.Context(), session.Credentials{Username: form.Username, Password: form.Password})
	if err != nil {
		httptransport.RespondError(c, statusFor(err), noticeFor(err), nil)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, s.opts.Session.Snapshot(), "登录成功")
}

func (s *Server) handleLogout(c *gin.Context) {
	if err := s.opts.Session.Logout(c.Request.Context()); err != nil {
		s.logger.WarnTag(logTag, "登出时清理存储失败: %v", err)
	}
	httptransport.RespondSuccess(c, http.StatusOK, s.opts.Session.Snapshot(), "已退出登录")
}

func (s *Server) handleRegister(c *gin.Context) {
	var raw registerForm
	if err := c.ShouldBind(&raw); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	form := registration.Form(raw)

	if err := s.validator.Validate(form); err != nil {
		var verr *registration.ValidationError
		if errors.As(err, &verr) {
			httptransport.RespondError(c, http.StatusUnprocessableEntity, verr.Error(), verr.Fields)
			return
		}
		httptransport.RespondError(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	current := ""
	if s.opts.Session.IsAuthenticated() {
		current = s.opts.Session.PrimaryRole()
	}
	for _, role := range form.Roles {
		if !registration.CanRegisterRole(current, role) {
			httptransport.RespondError(c, http.StatusForbidden, client.NoticeForbidden, nil)
			return
		}
	}

	if err := s.opts.Session.Register(c.Request.Context(), form.Request()); err != nil {
		httptransport.RespondError(c, statusFor(err), noticeFor(err), nil)
		return
	}
	httptransport.RespondSuccess(c, http.StatusCreated, nil, "注册成功，请登录")
}

func (s *Server) handleSession(c *gin.Context) {
	httptransport.RespondSuccess(c, http.StatusOK, s.opts.Session.Snapshot(), "")
}

func (s *Server) diagnostics(c *gin.Context) gin.H {
	out := gin.H{
		"session":      s.opts.Session.Snapshot(),
		"relayClients": s.hub.Count(),
	}
	if s.opts.Socket != nil {
		out["taskSocket"] = gin.H{
			"url":      s.opts.Socket.URL(),
			"status":   s.opts.Socket.Status(),
			"attempts": s.opts.Socket.Attempts(),
		}
	}
	if s.opts.Store != nil {
		stats, err := s.opts.Store.Stats(c.Request.Context())
		if err != nil {
			out["storageError"] = err.Error()
		} else {
			out["storage"] = stats
		}
	}
	return out
}

// statusFor picks the response status for a failed session call.
func statusFor(err error) int {
	if status := client.StatusOf(err); status != 0 {
		return status
	}
	switch {
	case errors.Is(err, session.ErrInvalidToken),
		errors.Is(err, session.ErrExpiredToken),
		platformerrors.IsKind(err, platformerrors.KindTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func noticeFor(err error) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Notice
	}
	return err.Error()
}

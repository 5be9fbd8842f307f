package navigation

import (
	"context"
	"strconv"
	"strings"

	"teachhelper-console/internal/domain/session"
	platformerrors "teachhelper-console/internal/platform/errors"
	"teachhelper-console/internal/platform/logging"
	"teachhelper-console/internal/platform/observability"
)

const logTag = "导航"

// Session is the part of the session service the guard reads.
type Session interface {
	IsInitialized() bool
	InitAuth(ctx context.Context) error
	IsAuthenticated() bool
	User() *session.User
}

// SubmissionChecker asks the backend whether the current student has
// already submitted an exam.
type SubmissionChecker interface {
	HasSubmitted(ctx context.Context, examID int64) (bool, error)
}

// SubmissionState is the advisory outcome of a submission check.
type SubmissionState int

const (
	SubmissionUnknown SubmissionState = iota
	SubmissionSubmitted
	SubmissionNotSubmitted
)

func (s SubmissionState) String() string {
	switch s {
	case SubmissionSubmitted:
		return "submitted"
	case SubmissionNotSubmitted:
		return "not_submitted"
	default:
		return "unknown"
	}
}

// CheckSubmission turns a checker call into a SubmissionState. Any failure
// is Unknown, and the error is returned for logging only.
func CheckSubmission(ctx context.Context, checker SubmissionChecker, examID int64) (SubmissionState, error) {
	if checker == nil {
		return SubmissionUnknown, nil
	}
	submitted, err := checker.HasSubmitted(ctx, examID)
	switch {
	case err != nil:
		return SubmissionUnknown, err
	case submitted:
		return SubmissionSubmitted, nil
	default:
		return SubmissionNotSubmitted, nil
	}
}

// Action is what the guard tells the navigator to do.
type Action int

const (
	Proceed Action = iota
	Redirect
)

func (a Action) String() string {
	if a == Redirect {
		return "redirect"
	}
	return "proceed"
}

// Decision reasons.
const (
	ReasonAllowed          = "allowed"
	ReasonLoginBypass      = "login"
	ReasonDevOnly          = "dev_only"
	ReasonAuthRequired     = "auth_required"
	ReasonGuestOnly        = "guest_only"
	ReasonRoleMismatch     = "role_mismatch"
	ReasonAlreadySubmitted = "already_submitted"
)

// Decision is the single terminal outcome of a transition.
type Decision struct {
	Action     Action          `json:"-"`
	ActionName string          `json:"action"`
	Location   string          `json:"location,omitempty"`
	Reason     string          `json:"reason"`
	Target     Match           `json:"target"`
	Submission SubmissionState `json:"-"`
}

func proceed(target Match, reason string) Decision {
	return Decision{Action: Proceed, ActionName: Proceed.String(), Reason: reason, Target: target}
}

func redirect(target Match, location, reason string) Decision {
	return Decision{Action: Redirect, ActionName: Redirect.String(), Location: location, Reason: reason, Target: target}
}

// AlreadySubmittedLocation is where a student is sent when the exam was
// already handed in.
func AlreadySubmittedLocation(examID int64) string {
	return PathMyExams + "?message=already_submitted&examId=" + strconv.FormatInt(examID, 10)
}

// GuardOptions configures a Guard.
type GuardOptions struct {
	Table       *Table
	Session     Session
	Submissions SubmissionChecker
	Logger      *logging.Logger
	DevMode     bool
}

// Guard authorises route transitions.
type Guard struct {
	table       *Table
	session     Session
	submissions SubmissionChecker
	logger      *logging.Logger
	devMode     bool
}

// NewGuard builds a guard. A nil table uses DefaultTable.
func NewGuard(opts GuardOptions) *Guard {
	if opts.Table == nil {
		opts.Table = DefaultTable()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Guard{
		table:       opts.Table,
		session:     opts.Session,
		submissions: opts.Submissions,
		logger:      opts.Logger,
		devMode:     opts.DevMode,
	}
}

// Table returns the route table the guard resolves against.
func (g *Guard) Table() *Table { return g.table }

// Check decides one transition to target. Only an unparsable target is an
// error; every other path ends in Proceed or Redirect.
func (g *Guard) Check(ctx context.Context, target string) (Decision, error) {
	ctx, end := observability.StartSpan(ctx, "navigation", "check")

	to, err := g.table.Resolve(target)
	if err != nil {
		err = platformerrors.Wrap(platformerrors.KindNavigation, "navigation.check", "parse target", err)
		end(err)
		return Decision{}, err
	}

	d := g.decide(ctx, to)
	end(nil)
	observability.RecordMetric(ctx, "navigation.decision", 1, map[string]string{"reason": d.Reason})
	if d.Action == Redirect {
		g.debug("%s -> %s (%s)", to.Path, d.Location, d.Reason)
	} else {
		g.debug("允许进入 %s", to.Path)
	}
	return d, nil
}

func (g *Guard) decide(ctx context.Context, to Match) Decision {
	meta := to.Route.Meta

	if meta.DevOnly && !g.devMode {
		return redirect(to, PathNotFound, ReasonDevOnly)
	}

	if to.Path == PathLogin {
		return proceed(to, ReasonLoginBypass)
	}

	if !g.session.IsInitialized() {
		g.debug("正在初始化认证状态")
		if err := g.session.InitAuth(ctx); err != nil {
			g.logger.WarnTag(logTag, "认证初始化失败: %v", err)
		}
	}

	authenticated := g.session.IsAuthenticated()
	if meta.RequiresAuth && !authenticated {
		return redirect(to, PathLogin, ReasonAuthRequired)
	}
	if meta.RequiresGuest && authenticated {
		return redirect(to, PathHome, ReasonGuestOnly)
	}

	user := g.session.User()
	if len(meta.Roles) > 0 && user != nil && !user.HasAnyRole(meta.Roles...) {
		g.debug("角色不足: 需要 %v, 当前 %v", meta.Roles, user.Roles)
		return redirect(to, PathHome, ReasonRoleMismatch)
	}

	if to.Route.Name == RouteTakeExam && user.HasRole(session.RoleStudent) {
		examID := leadingInt(to.Params["examId"])
		if examID != 0 {
			state, err := CheckSubmission(ctx, g.submissions, examID)
			if err != nil {
				g.logger.ErrorTag(logTag, "检查考试提交状态失败: %v", err)
			}
			if state == SubmissionSubmitted {
				d := redirect(to, AlreadySubmittedLocation(examID), ReasonAlreadySubmitted)
				d.Submission = state
				return d
			}
			d := proceed(to, ReasonAllowed)
			d.Submission = state
			return d
		}
	}

	return proceed(to, ReasonAllowed)
}

// leadingInt reads the integer prefix of s the way a browser's parseInt
// does: "12abc" is 12, "abc" and out-of-range values are 0.
func leadingInt(s string) int64 {
	s = strings.TrimLeft(s, " \t\n\r")
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start {
		return 0
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (g *Guard) debug(msg string, args ...any) {
	if g.devMode {
		g.logger.DebugTag(logTag, msg, args...)
	}
}

// Package navigation holds the platform route table and the per-transition
// guard that authorises moves between routes.
package navigation

import (
	"net/url"
	"slices"
	"strings"

	"teachhelper-console/internal/domain/session"
)

// Route names referenced by the guard.
const (
	RouteLogin    = "Login"
	RouteTakeExam = "TakeExam"
	RouteNotFound = "NotFound"
	RouteDevTools = "DevTools"
)

// Well-known paths.
const (
	PathLogin    = "/login"
	PathHome     = "/"
	PathNotFound = "/404"
	PathMyExams  = "/my-exams"
)

// Meta carries the access requirements of a route.
type Meta struct {
	RequiresAuth  bool     `json:"requiresAuth,omitempty"`
	RequiresGuest bool     `json:"requiresGuest,omitempty"`
	DevOnly       bool     `json:"devOnly,omitempty"`
	Roles         []string `json:"roles,omitempty"`
}

// merge returns parent overlaid with child. Flags accumulate and the
// nearest non-empty role list wins.
func (parent Meta) merge(child Meta) Meta {
	out := Meta{
		RequiresAuth:  parent.RequiresAuth || child.RequiresAuth,
		RequiresGuest: parent.RequiresGuest || child.RequiresGuest,
		DevOnly:       parent.DevOnly || child.DevOnly,
		Roles:         slices.Clone(parent.Roles),
	}
	if len(child.Roles) > 0 {
		out.Roles = slices.Clone(child.Roles)
	}
	return out
}

// Route is a flattened route with its effective meta.
type Route struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Meta Meta   `json:"meta"`

	segments []string
}

// Definition is a nested route declaration as written in the table.
type Definition struct {
	Path     string
	Name     string
	Meta     Meta
	Children []Definition
}

var (
	staff    = Meta{Roles: []string{session.RoleAdmin, session.RoleTeacher}}
	students = Meta{Roles: []string{session.RoleStudent}}
	admins   = Meta{Roles: []string{session.RoleAdmin}}
)

// DefaultDefinitions is the platform route table.
func DefaultDefinitions() []Definition {
	return []Definition{
		{Path: "/login", Name: RouteLogin, Meta: Meta{RequiresGuest: true}},
		{Path: "/register", Name: "Register", Meta: Meta{RequiresGuest: true}},
		{Path: "/dev-tools", Name: RouteDevTools, Meta: Meta{DevOnly: true}},
		{
			Path: "/",
			Meta: Meta{RequiresAuth: true},
			Children: []Definition{
				{Path: "", Name: "Dashboard"},
				{Path: "exams", Name: "ExamList"},
				{Path: "exams/create", Name: "CreateExam", Meta: staff},
				{Path: "exams/:id", Name: "ExamDetail", Meta: staff},
				{Path: "exams/:id/edit", Name: "EditExam", Meta: staff},
				{Path: "exams/:id/questions", Name: "QuestionManagement", Meta: staff},
				{Path: "exams/:examId/questions/new", Name: "AddQuestionToExam", Meta: staff},
				{Path: "exams/:examId/take", Name: RouteTakeExam, Meta: students},
				{Path: "exams/:examId/evaluation", Name: "ExamEvaluation", Meta: staff},
				{Path: "exams/:examId/ai-evaluation", Name: "AIEvaluation", Meta: staff},
				{Path: "exams/:examId/rubric-management", Name: "ExamRubricManagement", Meta: staff},
				{Path: "exams/:examId/reference-answer-management", Name: "ReferenceAnswerManagement", Meta: staff},
				{Path: "exams/:examId/answers", Name: "ExamAnswers", Meta: staff},
				{Path: "exams/:examId/students/:studentId/paper", Name: "StudentPaperDetail", Meta: staff},
				{Path: "exams/:examId/results", Name: "ExamResults", Meta: staff},
				{Path: "exams/:examId/generate-questions", Name: "GenerateQuestions", Meta: staff},
				{Path: "templates", Name: "UnifiedTemplateManagement", Meta: staff},
				{Path: "templates/:id", Name: "TemplateDetail", Meta: staff},
				{Path: "templates/:id/edit", Name: "TemplateEdit", Meta: staff},
				{Path: "evaluation/overview", Name: "EvaluationOverview", Meta: staff},
				{Path: "evaluation/center", Name: "AIEvaluationCenter", Meta: staff},
				{Path: "batch-evaluation", Name: "BatchAIEvaluation", Meta: staff},
				{Path: "rubric-management", Name: "RubricManagement", Meta: staff},
				{Path: "task-center", Name: "TaskCenter", Meta: staff},
				{Path: "task-monitor", Name: "TaskMonitor", Meta: staff},
				{Path: "tasks/:taskId", Name: "TaskDetail", Meta: staff},
				{Path: "tasks/:taskId/results", Name: "TaskResults", Meta: staff},
				{Path: "questions", Name: "QuestionLibrary", Meta: staff},
				{Path: "questions/create", Name: "CreateQuestion", Meta: staff},
				{Path: "questions/generate", Name: "GenerateQuestionsLibrary", Meta: staff},
				{Path: "questions/:id", Name: "QuestionDetail", Meta: staff},
				{Path: "questions/:id/edit", Name: "EditQuestion", Meta: staff},
				{Path: "questions/:id/evaluation", Name: "QuestionEvaluation", Meta: staff},
				{Path: "questions/:id/rubric", Name: "QuestionRubric", Meta: staff},
				{Path: "questions/:id/reference-answer", Name: "QuestionReferenceAnswer", Meta: staff},
				{Path: "question-banks", Name: "QuestionBankManagement", Meta: staff},
				{Path: "question-banks/:id", Name: "QuestionBankDetail", Meta: staff},
				{Path: "my-exams", Name: "MyExams", Meta: students},
				{Path: "my-exams/:examId", Name: "StudentExamDetail", Meta: students},
				{Path: "my-exams/:examId/result", Name: "StudentExamResult", Meta: students},
				{Path: "my-exams/:examId/answers", Name: "StudentExamAnswers", Meta: students},
				{Path: "users", Name: "UserManagement", Meta: admins},
				{Path: "system", Name: "SystemSettings", Meta: admins},
				{Path: "metadata", Name: "MetadataManagement", Meta: admins},
				{Path: "subjects", Name: "SubjectManagement", Meta: admins},
				{Path: "grade-levels", Name: "GradeLevelManagement", Meta: admins},
				{Path: "classrooms", Name: "ClassroomManagement", Meta: staff},
				{Path: "profile", Name: "Profile"},
				{Path: "ai-config", Name: "AIConfig"},
				{Path: "knowledge", Name: "KnowledgeBase", Meta: staff},
				{Path: "knowledge2", Name: "KnowledgeBase2", Meta: staff},
				{Path: "knowledge/dashboard", Name: "KnowledgeDashboard", Meta: staff},
				{Path: "knowledge/upload", Name: "KnowledgeUpload", Meta: staff},
				{Path: "knowledge/test", Name: "KnowledgeUploadTest", Meta: staff},
				{Path: "knowledge/dialog-test", Name: "KnowledgeDialogTest", Meta: staff},
				{Path: "knowledge/document-upload", Name: "DocumentUpload", Meta: staff},
				{Path: "knowledge/:id", Name: "KnowledgeBaseDetail", Meta: staff},
				{Path: "paper-generation", Name: "PaperGeneration", Meta: staff},
				{Path: "paper-generation/test", Name: "PaperGenerationTest", Meta: staff},
			},
		},
	}
}

// Flatten resolves nested definitions into routes with absolute paths and
// inherited meta. Definitions without a name only contribute to children.
func Flatten(defs []Definition) []Route {
	var out []Route
	var walk func(prefix string, parent Meta, defs []Definition)
	walk = func(prefix string, parent Meta, defs []Definition) {
		for _, d := range defs {
			full := joinPath(prefix, d.Path)
			meta := parent.merge(d.Meta)
			if d.Name != "" {
				out = append(out, Route{Name: d.Name, Path: full, Meta: meta, segments: splitPath(full)})
			}
			walk(full, meta, d.Children)
		}
	}
	walk("", Meta{}, defs)
	return out
}

func joinPath(prefix, p string) string {
	if strings.HasPrefix(p, "/") {
		return p
	}
	if p == "" {
		if prefix == "" {
			return "/"
		}
		return prefix
	}
	return strings.TrimSuffix(prefix, "/") + "/" + p
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// Match is a resolved navigation target.
type Match struct {
	Route  Route             `json:"route"`
	Path   string            `json:"path"`
	Params map[string]string `json:"params,omitempty"`
	Query  url.Values        `json:"query,omitempty"`
}

// FullPath is the path with its query string.
func (m Match) FullPath() string {
	if len(m.Query) == 0 {
		return m.Path
	}
	return m.Path + "?" + m.Query.Encode()
}

// Table resolves paths against a fixed route list.
type Table struct {
	routes []Route
	byName map[string]Route
}

// NewTable builds a table from flattened routes.
func NewTable(routes []Route) *Table {
	t := &Table{byName: make(map[string]Route, len(routes))}
	for _, r := range routes {
		if r.segments == nil && r.Path != "/" {
			r.segments = splitPath(r.Path)
		}
		t.routes = append(t.routes, r)
		t.byName[r.Name] = r
	}
	return t
}

// DefaultTable is the table for DefaultDefinitions.
func DefaultTable() *Table {
	return NewTable(Flatten(DefaultDefinitions()))
}

// Routes returns a copy of the route list.
func (t *Table) Routes() []Route {
	return slices.Clone(t.routes)
}

// Lookup finds a route by name.
func (t *Table) Lookup(name string) (Route, bool) {
	r, ok := t.byName[name]
	return r, ok
}

// Resolve maps target (path plus optional query) to a route. Unknown paths
// resolve to NotFound, which carries no requirements.
func (t *Table) Resolve(target string) (Match, error) {
	u, err := url.Parse(target)
	if err != nil {
		return Match{}, err
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	segs := splitPath(path)

	var (
		best      *Route
		bestScore []int
		params    map[string]string
	)
	for i := range t.routes {
		r := &t.routes[i]
		p, score, ok := matchSegments(r.segments, segs)
		if !ok {
			continue
		}
		if best == nil || slices.Compare(score, bestScore) > 0 {
			best, bestScore, params = r, score, p
		}
	}

	m := Match{Path: path, Query: u.Query(), Params: params}
	if best == nil {
		m.Route = Route{Name: RouteNotFound, Path: path}
		return m, nil
	}
	m.Route = *best
	return m, nil
}

// matchSegments scores a match: static segments outrank parameters.
func matchSegments(pattern, segs []string) (map[string]string, []int, bool) {
	if len(pattern) != len(segs) {
		return nil, nil, false
	}
	var params map[string]string
	score := make([]int, len(pattern))
	for i, p := range pattern {
		if strings.HasPrefix(p, ":") {
			value, err := url.PathUnescape(segs[i])
			if err != nil || value == "" {
				return nil, nil, false
			}
			if params == nil {
				params = make(map[string]string)
			}
			params[p[1:]] = value
			score[i] = 1
			continue
		}
		if p != segs[i] {
			return nil, nil, false
		}
		score[i] = 2
	}
	return params, score, true
}

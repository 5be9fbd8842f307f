package api

import (
	"context"
	"net/url"
	"strconv"

	"teachhelper-console/internal/transport/http/client"
)

// Exam is an exam as listed by the backend.
type Exam struct {
	ID               int64    `json:"id"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	CreatedBy        string   `json:"createdBy"`
	CreatedAt        string   `json:"createdAt"`
	UpdatedAt        string   `json:"updatedAt"`
	Status           string   `json:"status,omitempty"`
	Duration         int      `json:"duration,omitempty"`
	StartTime        string   `json:"startTime,omitempty"`
	EndTime          string   `json:"endTime,omitempty"`
	TotalScore       *float64 `json:"totalScore,omitempty"`
	TotalQuestions   int      `json:"totalQuestions,omitempty"`
	TotalAnswers     int      `json:"totalAnswers,omitempty"`
	EvaluatedAnswers int      `json:"evaluatedAnswers,omitempty"`
}

// ExamStatistics summarises evaluation progress of an exam.
type ExamStatistics struct {
	ExamID             int64    `json:"examId"`
	ExamTitle          string   `json:"examTitle,omitempty"`
	TotalQuestions     int      `json:"totalQuestions"`
	TotalAnswers       int      `json:"totalAnswers"`
	EvaluatedAnswers   int      `json:"evaluatedAnswers"`
	UnevaluatedAnswers int      `json:"unevaluatedAnswers"`
	EvaluationProgress float64  `json:"evaluationProgress"`
	AverageScore       *float64 `json:"averageScore,omitempty"`
	MaxScore           *float64 `json:"maxScore,omitempty"`
	MinScore           *float64 `json:"minScore,omitempty"`
	TotalPossibleScore float64  `json:"totalPossibleScore"`
	TotalStudents      int      `json:"totalStudents"`
	StudentsSubmitted  int      `json:"studentsSubmitted"`
	StudentsEvaluated  int      `json:"studentsEvaluated"`
}

// ExamsAPI is the exam resource.
type ExamsAPI struct {
	c *client.Client
}

func pageQuery(page, size int) url.Values {
	return url.Values{"page": {strconv.Itoa(page)}, "size": {strconv.Itoa(size)}}
}

// List pages through all exams.
func (e *ExamsAPI) List(ctx context.Context, page, size int) (Page[Exam], error) {
	return get[Page[Exam]](ctx, e.c, "/exams", pageQuery(page, size))
}

// My lists the exams of the signed-in student.
func (e *ExamsAPI) My(ctx context.Context, page, size int) (Page[Exam], error) {
	return get[Page[Exam]](ctx, e.c, "/exams/my", pageQuery(page, size))
}

// Get fetches one exam.
func (e *ExamsAPI) Get(ctx context.Context, examID int64) (Exam, error) {
	return get[Exam](ctx, e.c, "/exams/"+id(examID), nil)
}

// Search finds exams by keyword.
func (e *ExamsAPI) Search(ctx context.Context, keyword string) ([]Exam, error) {
	return get[[]Exam](ctx, e.c, "/exams/search", url.Values{"keyword": {keyword}})
}

// Statistics fetches evaluation statistics of an exam.
func (e *ExamsAPI) Statistics(ctx context.Context, examID int64) (ExamStatistics, error) {
	return get[ExamStatistics](ctx, e.c, "/exams/"+id(examID)+"/statistics", nil)
}

// Publish opens an exam to students.
func (e *ExamsAPI) Publish(ctx context.Context, examID int64) (Exam, error) {
	return post[Exam](ctx, e.c, "/exams/"+id(examID)+"/publish", nil)
}

// End closes an exam.
func (e *ExamsAPI) End(ctx context.Context, examID int64) (Exam, error) {
	return post[Exam](ctx, e.c, "/exams/"+id(examID)+"/end", nil)
}

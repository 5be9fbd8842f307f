package api

import (
	"context"
	"net/http"

	"teachhelper-console/internal/transport/http/client"
)

// Answer is a student's answer to one question.
type Answer struct {
	ID              int64    `json:"id"`
	AnswerText      string   `json:"answerText"`
	Score           *float64 `json:"score,omitempty"`
	MaxScore        *float64 `json:"maxScore,omitempty"`
	Feedback        string   `json:"feedback,omitempty"`
	Evaluated       bool     `json:"evaluated"`
	EvaluatedAt     string   `json:"evaluatedAt,omitempty"`
	SubmittedAt     string   `json:"submittedAt"`
	QuestionID      int64    `json:"questionId"`
	StudentID       int64    `json:"studentId"`
	ExamID          int64    `json:"examId"`
	QuestionContent string   `json:"questionContent,omitempty"`
	QuestionType    string   `json:"questionType,omitempty"`
	StudentName     string   `json:"studentName,omitempty"`
}

// AnswerSubmission is the body of an answer submission.
type AnswerSubmission struct {
	QuestionID int64  `json:"questionId"`
	AnswerText string `json:"answerText"`
}

// AnswersAPI is the student answer resource.
type AnswersAPI struct {
	c *client.Client
}

// SubmissionStatus reports whether the signed-in student already submitted
// examID.
func (a *AnswersAPI) SubmissionStatus(ctx context.Context, examID int64) (bool, error) {
	return get[bool](ctx, a.c, "/student-answers/exam/"+id(examID)+"/my-submission-status", nil)
}

// HasSubmitted adapts SubmissionStatus to the navigation guard.
func (a *AnswersAPI) HasSubmitted(ctx context.Context, examID int64) (bool, error) {
	return a.SubmissionStatus(ctx, examID)
}

// ListByExam lists all answers of an exam.
func (a *AnswersAPI) ListByExam(ctx context.Context, examID int64) ([]Answer, error) {
	return get[[]Answer](ctx, a.c, "/student-answers/exam/"+id(examID), nil)
}

// Mine lists the signed-in student's answers for an exam.
func (a *AnswersAPI) Mine(ctx context.Context, examID int64) ([]Answer, error) {
	return get[[]Answer](ctx, a.c, "/student-answers/my-exam/"+id(examID), nil)
}

// Get fetches one answer.
func (a *AnswersAPI) Get(ctx context.Context, answerID int64) (Answer, error) {
	return get[Answer](ctx, a.c, "/student-answers/"+id(answerID), nil)
}

// Submit stores one answer.
func (a *AnswersAPI) Submit(ctx context.Context, sub AnswerSubmission) (Answer, error) {
	return post[Answer](ctx, a.c, "/student-answers", sub)
}

// SubmitExam hands in the whole exam.
func (a *AnswersAPI) SubmitExam(ctx context.Context, examID int64) error {
	return a.c.Post(ctx, "/student-answers/exam/"+id(examID)+"/submit", nil, nil)
}

// Unevaluated lists answers still waiting for evaluation.
func (a *AnswersAPI) Unevaluated(ctx context.Context) ([]Answer, error) {
	return get[[]Answer](ctx, a.c, "/student-answers/unevaluated", nil)
}

// Report downloads the exam report through the long-timeout client.
func (a *AnswersAPI) Report(ctx context.Context, examID int64) (*client.Response, error) {
	return a.c.Long().Raw(ctx, client.Request{Method: http.MethodGet, Path: "/student-answers/exam/" + id(examID) + "/report"})
}

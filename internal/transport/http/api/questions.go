package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"teachhelper-console/internal/transport/http/client"
	"teachhelper-console/internal/util/dedup"
)

// Task type and action used for AI question generation.
const (
	TaskTypeAIGeneration      = "AI_GENERATION"
	ActionGenerateQuestions   = "GENERATE_QUESTIONS"
	defaultGenerationPriority = "MEDIUM"
)

// Question is a question as returned by the backend.
type Question struct {
	ID              int64    `json:"id"`
	ExamID          int64    `json:"examId,omitempty"`
	Title           string   `json:"title"`
	Content         string   `json:"content"`
	QuestionType    string   `json:"questionType"`
	MaxScore        *float64 `json:"maxScore,omitempty"`
	ReferenceAnswer string   `json:"referenceAnswer,omitempty"`
	Source          string   `json:"source,omitempty"`
	Subject         string   `json:"subject,omitempty"`
	GradeLevel      string   `json:"gradeLevel,omitempty"`
}

// QuestionFilter narrows a question listing. Zero fields are omitted.
type QuestionFilter struct {
	Page            int
	Size            int
	Keyword         string
	QuestionType    string
	Subject         string
	GradeLevel      string
	ExamID          int64
	Source          string
	QuestionBankID  int64
	KnowledgeBaseID int64
}

func (f QuestionFilter) values() url.Values {
	q := url.Values{}
	if f.Size > 0 {
		q.Set("page", strconv.Itoa(f.Page))
		q.Set("size", strconv.Itoa(f.Size))
	}
	for k, v := range map[string]string{
		"keyword":      f.Keyword,
		"questionType": f.QuestionType,
		"subject":      f.Subject,
		"gradeLevel":   f.GradeLevel,
		"source":       f.Source,
	} {
		if v != "" {
			q.Set(k, v)
		}
	}
	for k, v := range map[string]int64{
		"examId":                f.ExamID,
		"questionBankId":        f.QuestionBankID,
		"sourceKnowledgeBaseId": f.KnowledgeBaseID,
	} {
		if v > 0 {
			q.Set(k, id(v))
		}
	}
	return q
}

// RubricSuggestion is one AI-proposed scoring criterion.
type RubricSuggestion struct {
	CriterionText string  `json:"criterionText"`
	Points        float64 `json:"points"`
	Reasoning     string  `json:"reasoning,omitempty"`
}

// GenerationRequest asks for AI-generated questions. It is sent as the
// configuration of an AI_GENERATION task.
type GenerationRequest struct {
	QuestionTypes   []string `json:"questionTypes,omitempty"`
	Count           int      `json:"count,omitempty"`
	Subject         string   `json:"subject,omitempty"`
	GradeLevel      string   `json:"gradeLevel,omitempty"`
	Difficulty      string   `json:"difficulty,omitempty"`
	KnowledgeBaseID int64    `json:"knowledgeBaseId,omitempty"`
	Prompt          string   `json:"customPrompt,omitempty"`
}

func (g GenerationRequest) task() NewTask {
	types := "题目"
	if len(g.QuestionTypes) > 0 {
		types = strings.Join(g.QuestionTypes, ", ")
	}
	count := g.Count
	if count <= 0 {
		count = 1
	}
	cfg := map[string]any{
		"action": ActionGenerateQuestions,
		"count":  count,
	}
	if len(g.QuestionTypes) > 0 {
		cfg["questionTypes"] = g.QuestionTypes
	}
	for k, v := range map[string]string{
		"subject":      g.Subject,
		"gradeLevel":   g.GradeLevel,
		"difficulty":   g.Difficulty,
		"customPrompt": g.Prompt,
	} {
		if v != "" {
			cfg[k] = v
		}
	}
	if g.KnowledgeBaseID > 0 {
		cfg["knowledgeBaseId"] = g.KnowledgeBaseID
	}
	return NewTask{
		Type:          TaskTypeAIGeneration,
		Name:          "AI题目生成 - " + types,
		Description:   fmt.Sprintf("生成%d道题目", count),
		Configuration: cfg,
		Priority:      defaultGenerationPriority,
		AutoStart:     true,
	}
}

// QuestionsAPI is the question resource. The AI generation calls go
// through a client without a request timeout and are de-duplicated: a
// rubric or reference answer per question, and one question generation at
// a time.
type QuestionsAPI struct {
	c         *client.Client
	unbounded *client.Client

	generate  func(context.Context, GenerationRequest) (string, bool, error)
	rubric    func(context.Context, int64) ([]RubricSuggestion, bool, error)
	reference func(context.Context, int64) (string, bool, error)
}

func newQuestionsAPI(c *client.Client, ops *dedup.Group) *QuestionsAPI {
	q := &QuestionsAPI{c: c, unbounded: c.NoTimeout()}
	q.generate = dedup.Wrap(ops, q.createGeneration, nil)
	q.rubric = dedup.Wrap(ops, q.generateRubric, func(questionID int64) string {
		return "generate-rubric-" + id(questionID)
	})
	q.reference = dedup.Wrap(ops, q.generateReference, func(questionID int64) string {
		return "generate-reference-answer-" + id(questionID)
	})
	return q
}

// List pages through questions.
func (q *QuestionsAPI) List(ctx context.Context, filter QuestionFilter) (Page[Question], error) {
	return get[Page[Question]](ctx, q.c, "/questions", filter.values())
}

// Get fetches one question.
func (q *QuestionsAPI) Get(ctx context.Context, questionID int64) (Question, error) {
	return get[Question](ctx, q.c, "/questions/"+id(questionID), nil)
}

// ByExam lists the questions of an exam.
func (q *QuestionsAPI) ByExam(ctx context.Context, examID int64) ([]Question, error) {
	return get[[]Question](ctx, q.c, "/questions/exam/"+id(examID), nil)
}

// ForTaking lists an exam's questions without answers, for students.
func (q *QuestionsAPI) ForTaking(ctx context.Context, examID int64) ([]Question, error) {
	return get[[]Question](ctx, q.c, "/questions/exam/"+id(examID)+"/take", nil)
}

// Generate starts an AI question generation task and returns its id. ran is
// false when another generation started through this client is still being
// submitted.
func (q *QuestionsAPI) Generate(ctx context.Context, req GenerationRequest) (taskID string, ran bool, err error) {
	return q.generate(ctx, req)
}

func (q *QuestionsAPI) createGeneration(ctx context.Context, req GenerationRequest) (string, error) {
	var created struct {
		ID     any    `json:"id"`
		TaskID string `json:"taskId"`
	}
	if err := q.unbounded.Post(ctx, "/tasks", req.task(), &created); err != nil {
		return "", err
	}
	if created.TaskID != "" {
		return created.TaskID, nil
	}
	switch v := created.ID.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatInt(int64(v), 10), nil
	}
	return "", nil
}

// GenerateRubric asks the AI for scoring criteria suggestions. It has no
// request timeout; ctx bounds it.
func (q *QuestionsAPI) GenerateRubric(ctx context.Context, questionID int64) ([]RubricSuggestion, bool, error) {
	return q.rubric(ctx, questionID)
}

func (q *QuestionsAPI) generateRubric(ctx context.Context, questionID int64) ([]RubricSuggestion, error) {
	return post[[]RubricSuggestion](ctx, q.unbounded, "/questions/"+id(questionID)+"/generate-rubric", map[string]any{})
}

// GenerateReferenceAnswer asks the AI for a reference answer. It has no
// request timeout; ctx bounds it.
func (q *QuestionsAPI) GenerateReferenceAnswer(ctx context.Context, questionID int64) (string, bool, error) {
	return q.reference(ctx, questionID)
}

func (q *QuestionsAPI) generateReference(ctx context.Context, questionID int64) (string, error) {
	out, err := post[struct {
		ReferenceAnswer string `json:"referenceAnswer"`
	}](ctx, q.unbounded, "/questions/"+id(questionID)+"/generate-reference-answer", map[string]any{})
	return out.ReferenceAnswer, err
}

// Package api exposes the backend resources used by the console on top of
// the REST client.
package api

import (
	"bytes"
	"context"
	"strconv"

	"github.com/bytedance/sonic"

	"teachhelper-console/internal/platform/logging"
	"teachhelper-console/internal/transport/http/client"
	"teachhelper-console/internal/util/dedup"
)

// Services groups the resource clients.
type Services struct {
	Auth      *AuthAPI
	Answers   *AnswersAPI
	Exams     *ExamsAPI
	Tasks     *TasksAPI
	Questions *QuestionsAPI
	Knowledge *KnowledgeAPI
	Dev       *DevAPI
}

// New builds every resource client over c. Task control and AI generation
// calls share one de-duplication group.
func New(c *client.Client, logger *logging.Logger) *Services {
	ops := dedup.New(logger)
	return &Services{
		Auth:      &AuthAPI{c: c},
		Answers:   &AnswersAPI{c: c},
		Exams:     &ExamsAPI{c: c},
		Tasks:     &TasksAPI{c: c, long: c.Long(), ops: ops},
		Questions: newQuestionsAPI(c, ops),
		Knowledge: &KnowledgeAPI{c: c},
		Dev:       &DevAPI{c: c},
	}
}

// Page is a paged list. Endpoints that return a bare array decode into
// Content with the other fields derived.
type Page[T any] struct {
	Content       []T   `json:"content"`
	TotalElements int64 `json:"totalElements"`
	TotalPages    int   `json:"totalPages"`
	Number        int   `json:"number"`
	Size          int   `json:"size"`
}

// UnmarshalJSON accepts both a page object and a bare array.
func (p *Page[T]) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []T
		if err := sonic.Unmarshal(trimmed, &items); err != nil {
			return err
		}
		*p = Page[T]{Content: items, TotalElements: int64(len(items)), TotalPages: 1, Size: len(items)}
		return nil
	}
	type page Page[T]
	var raw page
	if err := sonic.Unmarshal(trimmed, &raw); err != nil {
		return err
	}
	*p = Page[T](raw)
	return nil
}

func id(v int64) string { return strconv.FormatInt(v, 10) }

// get is a typed GET helper.
func get[T any](ctx context.Context, c *client.Client, path string, query map[string][]string) (T, error) {
	var out T
	err := c.Get(ctx, path, query, &out)
	return out, err
}

// post is a typed POST helper.
func post[T any](ctx context.Context, c *client.Client, path string, body any) (T, error) {
	var out T
	err := c.Post(ctx, path, body, &out)
	return out, err
}

// text performs req and returns the body as a message. A JSON string body is
// unquoted; anything else is returned as sent.
func text(ctx context.Context, c *client.Client, req client.Request) (string, error) {
	resp, err := c.Raw(ctx, req)
	if err != nil {
		return "", err
	}
	body := bytes.TrimSpace(resp.Body)
	if len(body) > 0 && body[0] == '"' {
		var s string
		if err := sonic.Unmarshal(body, &s); err == nil {
			return s, nil
		}
	}
	return string(body), nil
}

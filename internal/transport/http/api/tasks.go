package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"teachhelper-console/internal/domain/task"
	"teachhelper-console/internal/transport/http/client"
	"teachhelper-console/internal/util/dedup"
)

// TaskFilter narrows a task listing. Zero fields are omitted.
type TaskFilter struct {
	Page     int
	Size     int
	Type     string
	Status   string
	Priority string
	Name     string
	Sort     string
}

func (f TaskFilter) values() url.Values {
	q := url.Values{}
	if f.Size > 0 {
		q.Set("page", strconv.Itoa(f.Page))
		q.Set("size", strconv.Itoa(f.Size))
	}
	for k, v := range map[string]string{
		"type":     f.Type,
		"status":   f.Status,
		"priority": f.Priority,
		"name":     f.Name,
		"sort":     f.Sort,
	} {
		if v != "" {
			q.Set(k, v)
		}
	}
	return q
}

// NewTask is the body of a task creation.
type NewTask struct {
	Type          string         `json:"type"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	Configuration map[string]any `json:"configuration,omitempty"`
	Priority      string         `json:"priority,omitempty"`
	AutoStart     bool           `json:"autoStart,omitempty"`
}

// TaskLog is one task log line.
type TaskLog struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// TasksAPI is the task resource. Start, Pause, Resume, Cancel and Retry
// drop repeated calls for the same task while one is in flight.
type TasksAPI struct {
	c    *client.Client
	long *client.Client
	ops  *dedup.Group
}

// List lists tasks.
func (t *TasksAPI) List(ctx context.Context, filter TaskFilter) (Page[task.Task], error) {
	return get[Page[task.Task]](ctx, t.c, "/tasks", filter.values())
}

// Stats fetches server-side task statistics.
func (t *TasksAPI) Stats(ctx context.Context) (task.Stats, error) {
	return get[task.Stats](ctx, t.c, "/tasks/stats", nil)
}

// Get fetches one task.
func (t *TasksAPI) Get(ctx context.Context, taskID string) (task.Task, error) {
	return get[task.Task](ctx, t.c, "/tasks/"+url.PathEscape(taskID), nil)
}

// Create creates a task.
func (t *TasksAPI) Create(ctx context.Context, req NewTask) (task.Task, error) {
	return post[task.Task](ctx, t.c, "/tasks", req)
}

// Delete removes a task.
func (t *TasksAPI) Delete(ctx context.Context, taskID string) error {
	return t.c.Delete(ctx, "/tasks/"+url.PathEscape(taskID), nil, nil)
}

// Logs pages through a task's log.
func (t *TasksAPI) Logs(ctx context.Context, taskID string, page, size int) (Page[TaskLog], error) {
	return get[Page[TaskLog]](ctx, t.c, "/tasks/"+url.PathEscape(taskID)+"/logs", pageQuery(page, size))
}

// Results fetches a task's results.
func (t *TasksAPI) Results(ctx context.Context, taskID string) (Page[map[string]any], error) {
	return get[Page[map[string]any]](ctx, t.c, "/tasks/"+url.PathEscape(taskID)+"/results", nil)
}

// Export downloads task results in format through the long-timeout client.
func (t *TasksAPI) Export(ctx context.Context, taskID, format string) (*client.Response, error) {
	if format == "" {
		format = "excel"
	}
	return t.long.Raw(ctx, client.Request{
		Method: http.MethodGet,
		Path:   "/tasks/" + url.PathEscape(taskID) + "/results/export",
		Query:  url.Values{"format": {format}},
	})
}

// Control runs a control operation. ran is false when an identical
// operation on the same task was already in flight and this call was
// dropped.
func (t *TasksAPI) Control(ctx context.Context, op task.Operation, taskID string) (result task.Task, ran bool, err error) {
	key := dedup.TaskOperationKey(string(op), taskID)
	return dedup.Do(ctx, t.ops, key, func(ctx context.Context) (task.Task, error) {
		return post[task.Task](ctx, t.c, "/tasks/"+url.PathEscape(taskID)+"/"+string(op), nil)
	})
}

// IsPending reports whether op on taskID is in flight.
func (t *TasksAPI) IsPending(op task.Operation, taskID string) bool {
	return t.ops.IsPending(dedup.TaskOperationKey(string(op), taskID))
}

// Start starts a task.
func (t *TasksAPI) Start(ctx context.Context, taskID string) (task.Task, bool, error) {
	return t.Control(ctx, task.OpStart, taskID)
}

// Pause pauses a running task.
func (t *TasksAPI) Pause(ctx context.Context, taskID string) (task.Task, bool, error) {
	return t.Control(ctx, task.OpPause, taskID)
}

// Resume resumes a paused task.
func (t *TasksAPI) Resume(ctx context.Context, taskID string) (task.Task, bool, error) {
	return t.Control(ctx, task.OpResume, taskID)
}

// Cancel cancels a task.
func (t *TasksAPI) Cancel(ctx context.Context, taskID string) (task.Task, bool, error) {
	return t.Control(ctx, task.OpCancel, taskID)
}

// Retry reruns a failed task.
func (t *TasksAPI) Retry(ctx context.Context, taskID string) (task.Task, bool, error) {
	return t.Control(ctx, task.OpRetry, taskID)
}

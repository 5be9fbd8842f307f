// Package task models evaluation tasks and keeps a local board of them in
// step with pushed updates.
package task

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Task statuses as sent by the backend.
const (
	StatusPending   = "PENDING"
	StatusRunning   = "RUNNING"
	StatusPaused    = "PAUSED"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusCancelled = "CANCELLED"
)

// Task types.
const (
	TypeBatchEvaluation     = "BATCH_EVALUATION"
	TypeAIGeneration        = "AI_GENERATION"
	TypeKnowledgeProcessing = "KNOWLEDGE_PROCESSING"
)

// Priorities.
const (
	PriorityLow    = "LOW"
	PriorityMedium = "MEDIUM"
	PriorityHigh   = "HIGH"
	PriorityUrgent = "URGENT"
)

// Operation is a user action on a task.
type Operation string

const (
	OpCreate Operation = "create"
	OpStart  Operation = "start"
	OpPause  Operation = "pause"
	OpResume Operation = "resume"
	OpCancel Operation = "cancel"
	OpRetry  Operation = "retry"
	OpDelete Operation = "delete"
	OpClear  Operation = "clear"
)

// Task is a row of the task list.
type Task struct {
	TaskID         string          `json:"taskId,omitempty"`
	ID             string          `json:"id,omitempty"`
	Name           string          `json:"name,omitempty"`
	Type           string          `json:"type,omitempty"`
	Description    string          `json:"description,omitempty"`
	Priority       string          `json:"priority,omitempty"`
	Status         string          `json:"status"`
	Progress       float64         `json:"progress"`
	ProcessedCount int             `json:"processedCount"`
	TotalCount     int             `json:"totalCount"`
	Message        string          `json:"message,omitempty"`
	Error          string          `json:"error,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	CreatedAt      string          `json:"createdAt,omitempty"`
	UpdatedAt      string          `json:"updatedAt,omitempty"`
	CompletedAt    string          `json:"completedAt,omitempty"`
}

// Key identifies the task, preferring taskId over id.
func (t Task) Key() string {
	if t.TaskID != "" {
		return t.TaskID
	}
	return t.ID
}

// Update is a pushed task change. Absent fields are nil and leave the task
// untouched.
type Update struct {
	TaskID         string          `json:"taskId"`
	Status         *string         `json:"status,omitempty"`
	Progress       *float64        `json:"progress,omitempty"`
	ProcessedCount *int            `json:"processedCount,omitempty"`
	TotalCount     *int            `json:"totalCount,omitempty"`
	Message        *string         `json:"message,omitempty"`
	Error          *string         `json:"error,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
}

// StatusOr returns the status, or def when absent.
func (u Update) StatusOr(def string) string {
	if u.Status == nil {
		return def
	}
	return *u.Status
}

// Terminal reports whether the update carries a final status.
func (u Update) Terminal() bool {
	switch strings.ToUpper(u.StatusOr("")) {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// changes reports whether applying u to t would alter any tracked field.
func (u Update) changes(t Task) bool {
	switch {
	case u.Status != nil && *u.Status != t.Status:
		return true
	case u.Progress != nil && *u.Progress != t.Progress:
		return true
	case u.ProcessedCount != nil && *u.ProcessedCount != t.ProcessedCount:
		return true
	case u.TotalCount != nil && *u.TotalCount != t.TotalCount:
		return true
	case u.Error != nil && *u.Error != t.Error:
		return true
	case u.Result != nil && !bytes.Equal(u.Result, t.Result):
		return true
	}
	return false
}

func (u Update) applyTo(t *Task) {
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.Progress != nil {
		t.Progress = *u.Progress
	}
	if u.ProcessedCount != nil {
		t.ProcessedCount = *u.ProcessedCount
	}
	if u.TotalCount != nil {
		t.TotalCount = *u.TotalCount
	}
	if u.Message != nil {
		t.Message = *u.Message
	}
	if u.Error != nil {
		t.Error = *u.Error
	}
	if u.Result != nil {
		t.Result = append(json.RawMessage(nil), u.Result...)
	}
}

// Stats counts tasks per status.
type Stats struct {
	Running   int `json:"running"`
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Paused    int `json:"paused"`
	Cancelled int `json:"cancelled"`
	Total     int `json:"total"`
}

// ComputeStats counts statuses case-insensitively. Unknown statuses only
// count toward Total.
func ComputeStats(tasks []Task) Stats {
	s := Stats{Total: len(tasks)}
	for _, t := range tasks {
		switch strings.ToUpper(t.Status) {
		case StatusRunning:
			s.Running++
		case StatusPending:
			s.Pending++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusPaused:
			s.Paused++
		case StatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

package task

import (
	"slices"
	"sync"
	"time"
)

// Board is a local copy of the task list kept current by pushed updates so
// the list does not have to be refetched after every change.
type Board struct {
	mu    sync.RWMutex
	tasks []Task
	now   func() time.Time
}

// NewBoard creates a board holding tasks.
func NewBoard(tasks []Task) *Board {
	return &Board{tasks: slices.Clone(tasks), now: time.Now}
}

func (b *Board) stamp() string {
	return b.now().UTC().Format(time.RFC3339)
}

// Replace swaps in a freshly loaded list.
func (b *Board) Replace(tasks []Task) {
	b.mu.Lock()
	b.tasks = slices.Clone(tasks)
	b.mu.Unlock()
}

// Tasks returns a copy of the list.
func (b *Board) Tasks() []Task {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.tasks)
}

// Get returns the task with key id.
func (b *Board) Get(id string) (Task, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if i := b.indexLocked(id); i >= 0 {
		return b.tasks[i], true
	}
	return Task{}, false
}

// Len is the number of tasks on the board.
func (b *Board) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.tasks)
}

func (b *Board) indexLocked(id string) int {
	return slices.IndexFunc(b.tasks, func(t Task) bool { return t.Key() == id })
}

// Apply merges u into its task. It returns false when the task is unknown
// or nothing tracked changed, in which case the board is untouched.
func (b *Board) Apply(u Update) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := b.indexLocked(u.TaskID)
	if i < 0 || !u.changes(b.tasks[i]) {
		return false
	}
	u.applyTo(&b.tasks[i])
	b.tasks[i].UpdatedAt = b.stamp()
	return true
}

// Stats counts the board's tasks per status.
func (b *Board) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return ComputeStats(b.tasks)
}

// PreUpdate applies the status an operation is expected to produce, ahead
// of the confirming push. It returns false when the task is unknown or its
// current status does not allow the transition.
func (b *Board) PreUpdate(id string, op Operation) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := b.indexLocked(id)
	if i < 0 {
		return false
	}
	t := &b.tasks[i]
	switch op {
	case OpPause:
		if t.Status != StatusRunning {
			return false
		}
		t.Status = StatusPaused
	case OpResume:
		if t.Status != StatusPaused {
			return false
		}
		t.Status = StatusRunning
	case OpCancel:
		switch t.Status {
		case StatusRunning, StatusPaused, StatusPending:
		default:
			return false
		}
		t.Status = StatusCancelled
		t.CompletedAt = b.stamp()
	default:
		return false
	}
	t.UpdatedAt = b.stamp()
	return true
}

// ShouldReload reports whether op needs a full refetch instead of relying
// on pushed updates.
func (b *Board) ShouldReload(op Operation) bool {
	switch op {
	case OpDelete, OpClear:
		return true
	case OpCreate:
		return b.Len() == 0
	default:
		return false
	}
}

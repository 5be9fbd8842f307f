package eventbus

// 事件主题
const (
	// TopicTaskUpdate carries a task.Update to listeners that did not
	// subscribe to a specific task.
	TopicTaskUpdate = "task:update"
	// TopicTaskSocketStatus carries the task socket status string.
	TopicTaskSocketStatus = "task:socket-status"
	// TopicNotification carries a Notification for the user.
	TopicNotification = "ui:notification"
	// TopicRedirect carries a Redirect the UI layer should follow.
	TopicRedirect = "navigation:redirect"
	// TopicSessionChanged carries a SessionChange.
	TopicSessionChanged = "session:changed"
)

// Notification levels.
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Notification is a user-facing message, the equivalent of a toast.
type Notification struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Status  int    `json:"status,omitempty"`
}

// Redirect asks the navigation layer to move to Path.
type Redirect struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// SessionChange describes a session transition.
type SessionChange struct {
	Authenticated bool   `json:"authenticated"`
	Username      string `json:"username,omitempty"`
	Reason        string `json:"reason"`
}

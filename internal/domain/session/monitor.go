package session

import (
	"context"
	"time"
)

// DefaultMonitorInterval matches how often the durable mirror is compared
// against memory.
const DefaultMonitorInterval = time.Minute

// Monitor periodically reconciles the session with its durable mirror. It
// only handles one inconsistency: the stored token disappeared (another
// process logged out) while this process still holds one.
type Monitor struct {
	service  *Service
	interval time.Duration
	// onLogout is called after the monitor forced a logout.
	onLogout func()
}

// NewMonitor creates a monitor. A non-positive interval uses the default.
func NewMonitor(service *Service, interval time.Duration, onLogout func()) *Monitor {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	return &Monitor{service: service, interval: interval, onLogout: onLogout}
}

// Run blocks until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.service.debug("会话监控已启动，间隔 %s", m.interval)
	for {
		select {
		case <-ctx.Done():
			m.service.debug("会话监控已停止")
			return nil
		case <-ticker.C:
			loggedOut, err := m.service.SyncWithStore(ctx)
			if err != nil {
				m.service.logger.WarnTag(logTag, "会话监控检查失败: %v", err)
				continue
			}
			if loggedOut && m.onLogout != nil {
				m.onLogout()
			}
		}
	}
}

// Package tasks holds the scheduled background tasks.
package tasks

import (
	"context"
	"time"
)

// Refresher is implemented by the session manager.
type Refresher interface {
	RefreshAll(ctx context.Context) error
}

// ConnectionRefreshTask periodically tears down and re-establishes every
// active mailbox session so stale or silently dead connections recover.
type ConnectionRefreshTask struct {
	manager  Refresher
	schedule string
}

func NewConnectionRefreshTask(manager Refresher, schedule string) *ConnectionRefreshTask {
	if schedule == "" {
		schedule = "0 0 * * * *" // hourly
	}
	return &ConnectionRefreshTask{manager: manager, schedule: schedule}
}

func (t *ConnectionRefreshTask) Name() string {
	return "connection-refresh"
}

func (t *ConnectionRefreshTask) Schedule() string {
	return t.schedule
}

func (t *ConnectionRefreshTask) Timeout() time.Duration {
	return 10 * time.Minute
}

func (t *ConnectionRefreshTask) Run(ctx context.Context) error {
	return t.manager.RefreshAll(ctx)
}

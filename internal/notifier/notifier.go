package notifier

import (
	"context"

	"SpotBridge/internal/model"
)

// Notifier is told about every completed cycle.
type Notifier interface {
	NotifyCycle(ctx context.Context, rep *model.CycleReport) error
}

// NoopNotifier is used when no alert channel is configured.
type NoopNotifier struct{}

func (NoopNotifier) NotifyCycle(context.Context, *model.CycleReport) error { return nil }

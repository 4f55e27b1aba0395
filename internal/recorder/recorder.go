package recorder

import "SpotBridge/internal/model"

// Recorder keeps a journal of synchronization cycles.
type Recorder interface {
	RecordCycle(report *model.CycleReport) error
	Close() error
}

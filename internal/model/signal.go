package model

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Metric names a value published to the PLC.
type Metric string

const (
	MetricSpread         Metric = "daily_spread"
	MetricAverage        Metric = "daily_average"
	MetricCurrentHour    Metric = "current_hour"
	MetricPercentileLow  Metric = "percentile_low"
	MetricPercentileHigh Metric = "percentile_high"
	MetricDailyMax       Metric = "daily_max"
	MetricDailyMin       Metric = "daily_min"
)

// Metrics lists every publishable metric in default register order.
var Metrics = []Metric{
	MetricSpread,
	MetricAverage,
	MetricCurrentHour,
	MetricPercentileLow,
	MetricPercentileHigh,
	MetricDailyMax,
	MetricDailyMin,
}

// Register locates a metric in PLC memory.
type Register struct {
	Address uint16
	Scale   int
}

// RegisterMap is the fixed metric -> holding register layout.
type RegisterMap map[Metric]Register

// DefaultRegisterMap places the metrics at addresses 0..6, all with the same scale.
func DefaultRegisterMap(scale int) RegisterMap {
	m := make(RegisterMap, len(Metrics))
	for i, metric := range Metrics {
		m[metric] = Register{Address: uint16(i), Scale: scale}
	}
	return m
}

// Validate rejects duplicate addresses and non-positive scales.
func (m RegisterMap) Validate() error {
	seen := make(map[uint16]Metric, len(m))
	for metric, r := range m {
		if r.Scale <= 0 {
			return fmt.Errorf("register %s: scale must be positive", metric)
		}
		if other, ok := seen[r.Address]; ok {
			return fmt.Errorf("register %s: address %d already used by %s", metric, r.Address, other)
		}
		seen[r.Address] = metric
	}
	return nil
}

// RegisterValue is one entry of the per-cycle write batch.
type RegisterValue struct {
	Metric   Metric
	Register Register
	Value    *float64 // nil: statistic unavailable this cycle
}

// RegisterValues is the write batch of a cycle, ordered by address.
type RegisterValues []RegisterValue

// Sorted returns a copy ordered by register address.
func (v RegisterValues) Sorted() RegisterValues {
	out := append(RegisterValues(nil), v...)
	sort.Slice(out, func(i, j int) bool { return out[i].Register.Address < out[j].Register.Address })
	return out
}

// WriteStatus is the outcome of a single register write.
type WriteStatus string

const (
	WriteOK          WriteStatus = "OK"
	WriteFailed      WriteStatus = "FAILED"
	WriteUnavailable WriteStatus = "UNAVAILABLE"
)

// WriteResult records what happened to one register in a cycle.
type WriteResult struct {
	Metric  Metric
	Address uint16
	Value   *float64
	Raw     uint16
	Status  WriteStatus
	Err     error
}

// TriggerType indicates what started a synchronization run.
type TriggerType string

const (
	TriggerOperator TriggerType = "OPERATOR"
	TriggerAuto     TriggerType = "AUTO"
	TriggerSchedule TriggerType = "SCHEDULE"
	TriggerManual   TriggerType = "MANUAL"
)

// CycleReport is the outcome of one acquire-compute-write cycle.
type CycleReport struct {
	ID         uuid.UUID
	Trigger    TriggerType
	StartedAt  time.Time
	FinishedAt time.Time
	Series     *PriceSeries
	Stats      *DerivedStatistics
	Writes     []WriteResult
	Err        error // set when the cycle failed before or during writing
}

// NewCycleReport starts a report with a fresh ID.
func NewCycleReport(trigger TriggerType, started time.Time) *CycleReport {
	return &CycleReport{ID: uuid.New(), Trigger: trigger, StartedAt: started}
}

func (r *CycleReport) count(s WriteStatus) int {
	n := 0
	for _, w := range r.Writes {
		if w.Status == s {
			n++
		}
	}
	return n
}

// Succeeded is the number of registers written.
func (r *CycleReport) Succeeded() int { return r.count(WriteOK) }

// Failed is the number of registers whose write was rejected or errored.
func (r *CycleReport) Failed() int { return r.count(WriteFailed) }

// Unavailable is the number of registers skipped for lack of data.
func (r *CycleReport) Unavailable() int { return r.count(WriteUnavailable) }

// OK reports whether the cycle completed without any failure.
func (r *CycleReport) OK() bool {
	return r.Err == nil && r.Failed() == 0
}

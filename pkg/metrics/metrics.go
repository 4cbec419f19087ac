// Package metrics provides Prometheus metrics for the clone/recover engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "clone_engine"
)

// Admission operation types.
const (
	OpClone   = "Clone"
	OpRecover = "Recover"
)

// Step names, matching cloneengine.Step.String().
const (
	StepCreateCloneFile   = "CreateCloneFile"
	StepCreateCloneMeta   = "CreateCloneMeta"
	StepCreateCloneChunk  = "CreateCloneChunk"
	StepCompleteCloneMeta = "CompleteCloneMeta"
	StepRecoverChunk      = "RecoverChunk"
	StepRenameCloneFile   = "RenameCloneFile"
	StepCompleteCloneFile = "CompleteCloneFile"
)

var (
	// Admission metrics: one sample per cloneOrRecoverPre call.
	admissionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Total number of admission attempts by task type and outcome",
		},
		[]string{"task_type", "status"},
	)

	admissionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "admission_duration_seconds",
			Help:      "Duration of preflight admission by task type",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		[]string{"task_type"},
	)

	// Step metrics: one sample per Step Executor handler invocation.
	stepTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_total",
			Help:      "Total number of step executions by step and outcome",
		},
		[]string{"step", "status"},
	)

	stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of a single step execution",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"step"},
	)

	// Cleanup metrics: one sample per Cleanup Executor run.
	cleanupTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_total",
			Help:      "Total number of cleanup executions by outcome",
		},
		[]string{"status"},
	)

	cleanupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cleanup_duration_seconds",
			Help:      "Duration of cleanup execution",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	// Gauges reflecting live engine state.
	tasksInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_in_flight",
			Help:      "Number of clone/recover tasks currently owned by an executor goroutine",
		},
	)

	snapshotReferences = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_references",
			Help:      "Current reference count for a snapshot source",
		},
		[]string{"source"},
	)

	taskProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "task_progress_percent",
			Help:      "Progress percentage of an in-flight task",
		},
		[]string{"task_id"},
	)
)

// RecordAdmission records the outcome of a preflight admission attempt.
func RecordAdmission(taskType, status string, duration time.Duration) {
	admissionTotal.WithLabelValues(taskType, status).Inc()
	admissionDuration.WithLabelValues(taskType).Observe(duration.Seconds())
}

// RecordStep records the outcome of a single step execution.
func RecordStep(step, status string, duration time.Duration) {
	stepTotal.WithLabelValues(step, status).Inc()
	stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordCleanup records the outcome of a cleanup execution.
func RecordCleanup(status string, duration time.Duration) {
	cleanupTotal.WithLabelValues(status).Inc()
	cleanupDuration.Observe(duration.Seconds())
}

// SetTasksInFlight sets the number of tasks currently tracked by the engine.
func SetTasksInFlight(n int) {
	tasksInFlight.Set(float64(n))
}

// SetSnapshotReferences sets the current reference count for a snapshot source.
func SetSnapshotReferences(source string, count int) {
	snapshotReferences.WithLabelValues(source).Set(float64(count))
}

// DeleteSnapshotReferences removes the reference-count metric for a source
// once it drops back to zero, so the label set does not grow unbounded.
func DeleteSnapshotReferences(source string) {
	snapshotReferences.DeleteLabelValues(source)
}

// SetTaskProgress sets the progress percentage for an in-flight task.
func SetTaskProgress(taskID string, percent uint32) {
	taskProgress.WithLabelValues(taskID).Set(float64(percent))
}

// DeleteTaskProgress removes the progress metric for a task once it reaches
// a terminal state and is untracked, so the label set does not grow
// unbounded across the engine's lifetime.
func DeleteTaskProgress(taskID string) {
	taskProgress.DeleteLabelValues(taskID)
}

// StepTimer helps time a step execution and record its outcome.
type StepTimer struct {
	start time.Time
	step  string
}

// NewStepTimer starts a timer for the named step.
func NewStepTimer(step string) *StepTimer {
	return &StepTimer{start: time.Now(), step: step}
}

// ObserveSuccess records a successful step execution.
func (t *StepTimer) ObserveSuccess() {
	RecordStep(t.step, "success", time.Since(t.start))
}

// ObserveError records a failed step execution.
func (t *StepTimer) ObserveError() {
	RecordStep(t.step, "error", time.Since(t.start))
}

// AdmissionTimer helps time a preflight admission attempt.
type AdmissionTimer struct {
	start    time.Time
	taskType string
}

// NewAdmissionTimer starts a timer for the named task type.
func NewAdmissionTimer(taskType string) *AdmissionTimer {
	return &AdmissionTimer{start: time.Now(), taskType: taskType}
}

// ObserveSuccess records a successful admission.
func (t *AdmissionTimer) ObserveSuccess() {
	RecordAdmission(t.taskType, "admitted", time.Since(t.start))
}

// ObserveError records a rejected admission.
func (t *AdmissionTimer) ObserveError() {
	RecordAdmission(t.taskType, "rejected", time.Since(t.start))
}

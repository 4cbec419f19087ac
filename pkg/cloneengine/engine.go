package cloneengine

import (
	"sync"

	"golang.org/x/sync/singleflight"
	"k8s.io/klog/v2"

	"github.com/curve-cloneadm/clone-engine/pkg/metrics"
)

// Engine wires together the five components of the clone/recover core
//: it holds the external collaborators, the process-local
// snapshot ref counter, and the registry of in-flight TaskInfo handles the
// dispatcher and executors share.
type Engine struct {
	Config Config

	VolumeClient      VolumeClient
	SnapshotMetaStore SnapshotMetaStore
	SnapshotDataStore SnapshotDataStore
	TaskMetaStore     TaskMetaStore

	refCounter *SnapshotRefCounter

	// destinationGroup serializes admission per destination so concurrent
	// clone/recover requests for the same destination coalesce rather than race.
	destinationGroup singleflight.Group

	mu    sync.Mutex
	tasks map[TaskId]*TaskInfo
}

// NewEngine constructs an Engine over the given external collaborators.
func NewEngine(cfg Config, vc VolumeClient, sms SnapshotMetaStore, sds SnapshotDataStore, tms TaskMetaStore) *Engine {
	return &Engine{
		Config:            cfg,
		VolumeClient:      vc,
		SnapshotMetaStore: sms,
		SnapshotDataStore: sds,
		TaskMetaStore:     tms,
		refCounter:        NewSnapshotRefCounter(),
		tasks:             make(map[TaskId]*TaskInfo),
	}
}

// RefCounter exposes the engine's snapshot reference counter, so the
// snapshot subsystem can consult it before permitting deletion.
func (e *Engine) RefCounter() *SnapshotRefCounter {
	return e.refCounter
}

func (e *Engine) track(t *TaskInfo) {
	e.mu.Lock()
	e.tasks[t.Info.TaskId] = t
	n := len(e.tasks)
	e.mu.Unlock()
	metrics.SetTasksInFlight(n)
}

func (e *Engine) untrack(id TaskId) {
	e.mu.Lock()
	delete(e.tasks, id)
	n := len(e.tasks)
	e.mu.Unlock()
	metrics.SetTasksInFlight(n)
	metrics.DeleteTaskProgress(string(id))
}

// Task returns the in-memory handle for a tracked task, if any executor
// currently owns it.
func (e *Engine) Task(id TaskId) (*TaskInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[id]
	return t, ok
}

func logTask(info CloneInfo, format string, args ...interface{}) {
	klog.Infof("[task %s dest=%s] "+format, append([]interface{}{info.TaskId, info.Destination}, args...)...)
}

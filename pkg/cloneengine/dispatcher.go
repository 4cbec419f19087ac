package cloneengine

import (
	"context"

	"k8s.io/klog/v2"
)

// Dispatch runs the Step Executor for a freshly admitted task. Callers
// (the worker pool) invoke this once per admitted task; it returns once
// the task reaches a terminal state.
func (e *Engine) Dispatch(ctx context.Context, info CloneInfo) {
	e.HandleCloneOrRecoverTask(ctx, NewTaskInfo(info))
}

// DispatchCleanup runs the Cleanup Executor for a task already
// transitioned to Cleaning.
func (e *Engine) DispatchCleanup(ctx context.Context, info CloneInfo) {
	e.HandleCleanCloneOrRecoverTask(ctx, NewTaskInfo(info))
}

// ResumeAll reloads every CloneInfo with Status=Cloning from the task
// metadata store and re-enters the Step Executor for each from Phase A,
// restoring in-flight tasks after a process restart. Each resumed task
// runs in its own goroutine: no nested executors for the same task, no
// ordering guaranteed across tasks.
func (e *Engine) ResumeAll(ctx context.Context) error {
	list, err := e.TaskMetaStore.GetCloneInfoList(ctx)
	if err != nil {
		return err
	}

	for _, info := range list {
		if info.Status != StatusCloning {
			continue
		}
		if !info.NextStep.Valid() {
			klog.Errorf("[task %s dest=%s] refusing to resume: unrecognized step %d", info.TaskId, info.Destination, info.NextStep)
			continue
		}
		klog.Infof("[task %s dest=%s] resuming from step %s", info.TaskId, info.Destination, info.NextStep)
		go e.Dispatch(ctx, info)
	}
	return nil
}

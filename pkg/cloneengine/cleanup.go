package cloneengine

import (
	"context"
	"time"

	"k8s.io/klog/v2"

	"github.com/curve-cloneadm/clone-engine/pkg/metrics"
	"github.com/curve-cloneadm/clone-engine/pkg/utils"
)

// CleanCloneOrRecoverTaskPre validates a cleanup request and transitions
// the target task to Cleaning.
func (e *Engine) CleanCloneOrRecoverTaskPre(ctx context.Context, user string, taskId TaskId) (CloneInfo, error) {
	info, found, err := e.TaskMetaStore.GetCloneInfo(ctx, taskId)
	if err != nil {
		return CloneInfo{}, err
	}
	if !found {
		return CloneInfo{}, taskError(ErrFileNotExist, "task %s not found", taskId)
	}
	if info.User != user {
		return CloneInfo{}, taskError(ErrInvalidUser, "task %s belongs to %s, not %s", taskId, info.User, user)
	}

	switch info.Status {
	case StatusCleaning:
		return CloneInfo{}, taskError(ErrTaskExist, "task %s is already being cleaned", taskId)
	case StatusError:
		info.Status = StatusCleaning
		if err := e.TaskMetaStore.UpdateCloneInfo(ctx, info); err != nil {
			return CloneInfo{}, err
		}
		logTask(info, "cleanup admitted")
		return info, nil
	default:
		return CloneInfo{}, taskError(ErrCannotCleanCloneNotError, "task %s has status %s, not Error", taskId, info.Status)
	}
}

// HandleCleanCloneOrRecoverTask executes the cleanup state machine for a
// task already transitioned to Cleaning.
func (e *Engine) HandleCleanCloneOrRecoverTask(ctx context.Context, task *TaskInfo) {
	e.track(task)
	defer e.untrack(task.Info.TaskId)

	start := time.Now()
	info := task.Info

	tempName := e.Config.tempName(info.TaskId)
	if err := e.deleteFileWithRetry(ctx, tempName, info.User, info.OriginId); err != nil {
		e.handleCleanError(ctx, task, start, err)
		return
	}

	// A Clone task that has not been renamed yet (non-lazy: rename is the
	// last step before completion) also owns the destination file and
	// must delete it. Recover tasks and lazy tasks never delete the
	// destination: it either pre-existed or was already published to
	// users.
	if info.TaskType == TaskTypeClone && !info.IsLazy {
		if err := e.deleteFileWithRetry(ctx, info.Destination, info.User, info.OriginId); err != nil {
			e.handleCleanError(ctx, task, start, err)
			return
		}
	}

	if err := e.TaskMetaStore.DeleteCloneInfo(ctx, info.TaskId); err != nil {
		e.handleCleanError(ctx, task, start, err)
		return
	}

	task.Lock()
	task.Info.Progress = 100
	task.Unlock()
	metrics.RecordCleanup("success", time.Since(start))
	logTask(info, "cleanup complete")
	task.MarkFinished()
}

func (e *Engine) handleCleanError(ctx context.Context, task *TaskInfo, start time.Time, cause error) {
	info := task.Info
	klog.Errorf("[task %s dest=%s] cleanup failed: %v", info.TaskId, info.Destination, cause)

	task.Lock()
	task.Info.Status = StatusError
	updated := task.Info
	task.Unlock()

	metrics.RecordCleanup("error", time.Since(start))
	if err := e.TaskMetaStore.UpdateCloneInfo(ctx, updated); err != nil {
		klog.Errorf("[task %s dest=%s] failed to persist cleanup error: %v", info.TaskId, info.Destination, err)
	}
	task.MarkFinished()
}

// deleteFileWithRetry deletes name from the volume service, retrying on
// busy-resource and transient network/API errors: a file the engine wants
// to delete may still have a lingering reader/writer on the volume-service
// side that needs a moment to drain.
func (e *Engine) deleteFileWithRetry(ctx context.Context, name, user string, fileId uint64) error {
	cfg := utils.DeletionRetryConfig("delete file " + name)
	_, err := utils.WithRetry(ctx, cfg, func() (FileStatus, error) {
		status, err := e.VolumeClient.DeleteFile(ctx, name, user, fileId)
		if err == nil && status != FileStatusOK && status != FileStatusNotExist {
			return status, taskError(ErrInternal, "delete file %s: unexpected status %v", name, status)
		}
		return status, err
	})
	if err != nil {
		return wrapOrNew(err, "delete file %s", name)
	}
	return nil
}

func wrapOrNew(err error, format string, args ...interface{}) error {
	if err != nil {
		return wrapf(err, format, args...)
	}
	return taskError(ErrInternal, format, args...)
}

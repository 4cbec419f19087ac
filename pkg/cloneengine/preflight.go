package cloneengine

import (
	"context"
	"time"

	"k8s.io/klog/v2"

	"github.com/curve-cloneadm/clone-engine/pkg/metrics"
)

// CloneOrRecoverRequest is the input to Preflight Admission.
type CloneOrRecoverRequest struct {
	Source      string
	User        string
	Destination string
	IsLazy      bool
	TaskType    TaskType
}

// CloneOrRecoverPre validates and classifies a clone/recover request and,
// on success, registers a new CloneInfo with the task metadata store
//. Admission is serialized per
// destination via singleflight so that two concurrent requests for the
// same destination cannot both pass the duplicate-destination scan (I2).
func (e *Engine) CloneOrRecoverPre(ctx context.Context, req CloneOrRecoverRequest) (CloneInfo, error) {
	timer := metrics.NewAdmissionTimer(req.TaskType.String())
	v, err, _ := e.destinationGroup.Do(req.Destination, func() (interface{}, error) {
		return e.cloneOrRecoverPreLocked(ctx, req)
	})
	if err != nil {
		timer.ObserveError()
		return CloneInfo{}, err
	}
	timer.ObserveSuccess()
	if info := v.(CloneInfo); info.IsSnapshot() {
		metrics.SetSnapshotReferences(info.Source, e.refCounter.Count(info.Source))
	}
	return v.(CloneInfo), nil
}

func (e *Engine) cloneOrRecoverPreLocked(ctx context.Context, req CloneOrRecoverRequest) (CloneInfo, error) {
	// Step 1: an errored task on the same destination blocks re-admission
	// until it is cleaned up.
	list, err := e.TaskMetaStore.GetCloneInfoList(ctx)
	if err != nil {
		return CloneInfo{}, err
	}
	for _, existing := range list {
		if existing.Destination == req.Destination && existing.Status == StatusError {
			klog.Errorf("cannot clone/recover %s: errored task %s blocks it", req.Destination, existing.TaskId)
			return CloneInfo{}, taskError(ErrSnapshotCannotCreateWhenError,
				"destination %s has an errored task %s; clean it up first", req.Destination, existing.TaskId)
		}
	}

	// Step 2: classify the source.
	fileType, err := e.classifySource(ctx, req)
	if err != nil {
		return CloneInfo{}, err
	}

	// Step 3: mint a TaskId, construct and persist the CloneInfo.
	info := CloneInfo{
		TaskId:      NewTaskId(),
		User:        req.User,
		TaskType:    req.TaskType,
		Source:      req.Source,
		Destination: req.Destination,
		FileType:    fileType,
		IsLazy:      req.IsLazy,
		Status:      StatusCloning,
		NextStep:    StepCreateCloneFile,
		Progress:    0,
		CreateTime:  time.Now(),
	}
	if err := e.TaskMetaStore.AddCloneInfo(ctx, info); err != nil {
		klog.Errorf("AddCloneInfo failed for task %s dest %s: %v", info.TaskId, req.Destination, err)
		return CloneInfo{}, err
	}

	// Step 4: protect the snapshot from deletion while this task is in
	// flight. Live-file sources have no analogous protection yet
	//.
	if fileType == FileTypeSnapshot {
		e.refCounter.Increment(req.Source)
	}

	logTask(info, "admitted %s task, fileType=%s, lazy=%v", info.TaskType, info.FileType, info.IsLazy)
	return info, nil
}

func (e *Engine) classifySource(ctx context.Context, req CloneOrRecoverRequest) (FileType, error) {
	snap, found, err := e.SnapshotMetaStore.GetSnapshotInfo(ctx, req.Source)
	if err != nil {
		return 0, err
	}
	if found {
		if snap.Status != SnapshotStatusDone {
			return 0, taskError(ErrInvalidSnapshot, "snapshot %s is not done (status=%d)", req.Source, snap.Status)
		}
		if snap.User != req.User {
			return 0, taskError(ErrInvalidUser, "snapshot %s belongs to %s, not %s", req.Source, snap.User, req.User)
		}
		return FileTypeSnapshot, nil
	}

	_, status, err := e.VolumeClient.GetFileInfo(ctx, req.Source, req.User)
	if err != nil {
		return 0, err
	}
	switch status {
	case FileStatusOK:
		return FileTypeFile, nil
	case FileStatusNotExist:
		return 0, taskError(ErrFileNotExist, "clone source %s does not exist", req.Source)
	case FileStatusAuthFail:
		return 0, taskError(ErrInvalidUser, "user %s is not authorized for source %s", req.User, req.Source)
	default:
		return 0, taskError(ErrInternal, "GetFileInfo for %s returned unexpected status %d", req.Source, status)
	}
}

package cloneengine

import (
	"context"
	"errors"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/curve-cloneadm/clone-engine/pkg/metrics"
)

// progressForStep returns the progress milestone published once a step
// completes successfully, or false
// if that step does not publish a new value.
func progressForStep(s Step) (uint32, bool) {
	switch s {
	case StepCreateCloneFile:
		return 10, true
	case StepCreateCloneMeta:
		return 20, true
	case StepCreateCloneChunk:
		return 50, true
	default:
		return 0, false
	}
}

// plan is the in-memory output of Phase A/B, rebuilt on every executor
// entry: never persisted, always recomputed.
type plan struct {
	newFileInfo NewFileInfo
	segments    CloneSegmentMap
}

// HandleCloneOrRecoverTask runs the Step Executor for task to one of its
// two terminal actions. task.Info.Status must already be
// Cloning; this is also the restart entry point: the
// dispatcher reloads every Cloning CloneInfo and re-invokes this method.
func (e *Engine) HandleCloneOrRecoverTask(ctx context.Context, task *TaskInfo) {
	e.track(task)
	defer e.untrack(task.Info.TaskId)

	p, err := e.rebuildPlan(ctx, task)
	if err != nil {
		e.HandleCloneError(ctx, task, err)
		return
	}

	if task.Info.NextStep > StepCreateCloneMeta && task.Info.NextStep != StepEnd {
		if err := e.createOrUpdateCloneMeta(ctx, task, &p); err != nil {
			e.HandleCloneError(ctx, task, err)
			return
		}
	}

	for {
		task.Lock()
		step := task.Info.NextStep
		task.Unlock()
		if step == StepEnd {
			break
		}

		if err := e.runStep(ctx, task, step, &p); err != nil {
			e.HandleCloneError(ctx, task, err)
			return
		}
	}

	e.HandleCloneSuccess(ctx, task)
}

// rebuildPlan implements Phase A.
func (e *Engine) rebuildPlan(ctx context.Context, task *TaskInfo) (plan, error) {
	task.Lock()
	info := task.Info
	task.Unlock()

	if info.IsSnapshot() {
		return e.rebuildPlanFromSnapshot(ctx, task, info)
	}
	return e.rebuildPlanFromFile(ctx, task, info)
}

func (e *Engine) rebuildPlanFromSnapshot(ctx context.Context, task *TaskInfo, info CloneInfo) (plan, error) {
	snap, found, err := e.SnapshotMetaStore.GetSnapshotInfo(ctx, info.Source)
	if err != nil {
		return plan{}, err
	}
	if !found {
		return plan{}, taskError(ErrInternal, "snapshot %s disappeared mid-task", info.Source)
	}

	seqNum := uint64(initialSeqNum)
	if info.IsRecover() {
		destInfo, status, err := e.VolumeClient.GetFileInfo(ctx, info.Destination, info.User)
		if err != nil {
			return plan{}, err
		}
		if status != FileStatusOK {
			return plan{}, taskError(ErrInternal, "recover destination %s not found (status=%d)", info.Destination, status)
		}
		seqNum = destInfo.SeqNum + 1
		task.Lock()
		task.Info.DestId = destInfo.FileId
		task.Unlock()
	}

	if snap.ChunkSize == 0 || snap.SegmentSize%snap.ChunkSize != 0 {
		return plan{}, taskError(ErrInternal, "snapshot %s has inconsistent chunk/segment size", info.Source)
	}
	chunksPerSegment := snap.SegmentSize / snap.ChunkSize

	entries, err := e.SnapshotDataStore.GetChunkIndexData(ctx, snap.FileName, snap.SeqNum)
	if err != nil {
		return plan{}, err
	}

	segments := make(CloneSegmentMap)
	for _, entry := range entries {
		segIdx := entry.ChunkIndex / chunksPerSegment
		chunkSeq := uint64(initialSeqNum)
		if info.IsRecover() {
			chunkSeq = entry.ChunkSeqNum
		}
		if _, ok := segments[segIdx]; !ok {
			segments[segIdx] = make(map[uint64]CloneChunkInfo)
		}
		segments[segIdx][entry.ChunkIndex] = CloneChunkInfo{
			Location: Location{Kind: LocationS3, S3Key: entry.S3Key},
			SeqNum:   chunkSeq,
		}
	}

	return plan{
		newFileInfo: NewFileInfo{
			Length:         snap.FileLength,
			SegmentSize:    snap.SegmentSize,
			ChunkSize:      snap.ChunkSize,
			SeqNum:         seqNum,
			ChunkSplitSize: e.Config.CloneChunkSplitSize,
		},
		segments: segments,
	}, nil
}

func (e *Engine) rebuildPlanFromFile(ctx context.Context, task *TaskInfo, info CloneInfo) (plan, error) {
	srcInfo, status, err := e.VolumeClient.GetFileInfo(ctx, info.Source, info.User)
	if err != nil {
		return plan{}, err
	}
	if status != FileStatusOK {
		return plan{}, taskError(ErrInternal, "clone source %s unreadable mid-task (status=%d)", info.Source, status)
	}
	if srcInfo.SegmentSize == 0 || srcInfo.Length%srcInfo.SegmentSize != 0 {
		return plan{}, taskError(ErrInternal, "source %s length %d not aligned to segment size %d", info.Source, srcInfo.Length, srcInfo.SegmentSize)
	}
	if srcInfo.ChunkSize == 0 || srcInfo.SegmentSize%srcInfo.ChunkSize != 0 {
		return plan{}, taskError(ErrInternal, "source %s has inconsistent chunk/segment size", info.Source)
	}
	chunksPerSegment := srcInfo.SegmentSize / srcInfo.ChunkSize
	segmentCount := srcInfo.Length / srcInfo.SegmentSize

	seqNum := uint64(initialSeqNum)
	if info.IsRecover() {
		destInfo, status, err := e.VolumeClient.GetFileInfo(ctx, info.Destination, info.User)
		if err != nil {
			return plan{}, err
		}
		if status != FileStatusOK {
			return plan{}, taskError(ErrInternal, "recover destination %s not found (status=%d)", info.Destination, status)
		}
		seqNum = destInfo.SeqNum + 1
		task.Lock()
		task.Info.DestId = destInfo.FileId
		task.Unlock()
	}

	segments := make(CloneSegmentMap)
	for i := uint64(0); i < segmentCount; i++ {
		offset := i * srcInfo.SegmentSize
		segInfo, status, err := e.VolumeClient.GetOrAllocateSegmentInfo(ctx, false, offset, info.Source, info.User)
		if err != nil {
			return plan{}, err
		}
		if status != FileStatusOK || !segInfo.Allocated {
			continue
		}
		chunkMap := make(map[uint64]CloneChunkInfo, len(segInfo.ChunkIds))
		for j, chunkID := range segInfo.ChunkIds {
			globalChunkIdx := i*chunksPerSegment + uint64(j)
			chunkMap[globalChunkIdx] = CloneChunkInfo{
				Location: Location{
					Kind:     LocationCurve,
					FileName: info.Destination,
					Offset:   offset + uint64(j)*srcInfo.ChunkSize,
				},
				SeqNum:      initialSeqNum,
				ChunkIdInfo: chunkID,
			}
		}
		if len(chunkMap) > 0 {
			segments[i] = chunkMap
		}
	}

	return plan{
		newFileInfo: NewFileInfo{
			Length:         srcInfo.Length,
			SegmentSize:    srcInfo.SegmentSize,
			ChunkSize:      srcInfo.ChunkSize,
			SeqNum:         seqNum,
			ChunkSplitSize: e.Config.CloneChunkSplitSize,
		},
		segments: segments,
	}, nil
}

// createOrUpdateCloneMeta is Phase B and also the
// CreateCloneMeta step handler itself: it refreshes p.newFileInfo from the
// live temporary file and force-allocates every segment present in
// p.segments, filling in each chunk's ChunkIdInfo.
func (e *Engine) createOrUpdateCloneMeta(ctx context.Context, task *TaskInfo, p *plan) error {
	task.Lock()
	info := task.Info
	task.Unlock()

	tempName := e.Config.tempName(info.TaskId)
	tempInfo, status, err := e.VolumeClient.GetFileInfo(ctx, tempName, info.User)
	if err != nil {
		return err
	}
	if status != FileStatusOK {
		return taskError(ErrInternal, "temp file %s missing while creating clone meta (status=%d)", tempName, status)
	}
	p.newFileInfo.FileId = tempInfo.FileId

	if p.newFileInfo.ChunkSize == 0 {
		return taskError(ErrInternal, "chunk size is zero for task %s", info.TaskId)
	}
	chunksPerSegment := p.newFileInfo.SegmentSize / p.newFileInfo.ChunkSize

	for segIdx, chunks := range p.segments {
		offset := segIdx * p.newFileInfo.SegmentSize
		segInfo, status, err := e.VolumeClient.GetOrAllocateSegmentInfo(ctx, true, offset, tempName, info.User)
		if err != nil {
			return err
		}
		if status != FileStatusOK {
			return taskError(ErrInternal, "failed to allocate segment %d for task %s (status=%d)", segIdx, info.TaskId, status)
		}
		for chunkIdx, chunk := range chunks {
			pos := chunkIdx % chunksPerSegment
			if int(pos) >= len(segInfo.ChunkIds) {
				return taskError(ErrInternal, "segment %d allocation missing chunk position %d", segIdx, pos)
			}
			chunk.ChunkIdInfo = segInfo.ChunkIds[pos]
			chunks[chunkIdx] = chunk
		}
	}
	return nil
}

// runStep executes the handler for step and advances/persists NextStep
//.
func (e *Engine) runStep(ctx context.Context, task *TaskInfo, step Step, p *plan) error {
	if !step.Valid() {
		klog.Fatalf("[task %s] %v: %d", task.Info.TaskId, ErrUnknownStep, step)
	}

	klog.V(4).Infof("[task %s] executing step %s", task.Info.TaskId, step)

	timer := metrics.NewStepTimer(step.String())
	err := e.runStepHandler(ctx, task, step, p)
	if errors.Is(err, ErrUnreachableBranch) {
		klog.Fatalf("[task %s] %v", task.Info.TaskId, err)
	}
	if err != nil {
		timer.ObserveError()
		return err
	}
	timer.ObserveSuccess()
	return nil
}

func (e *Engine) runStepHandler(ctx context.Context, task *TaskInfo, step Step, p *plan) error {
	switch step {
	case StepCreateCloneFile:
		return e.stepCreateCloneFile(ctx, task, p)
	case StepCreateCloneMeta:
		if err := e.createOrUpdateCloneMeta(ctx, task, p); err != nil {
			return err
		}
		return e.advance(ctx, task, step)
	case StepCreateCloneChunk:
		return e.stepCreateCloneChunk(ctx, task, p)
	case StepCompleteCloneMeta:
		return e.stepCompleteCloneMeta(ctx, task)
	case StepRecoverChunk:
		return e.stepRecoverChunk(ctx, task, p)
	case StepRenameCloneFile:
		return e.stepRenameCloneFile(ctx, task)
	case StepCompleteCloneFile:
		return e.stepCompleteCloneFile(ctx, task)
	default:
		return fmt.Errorf("%w: step %s has no handler", ErrUnreachableBranch, step)
	}
}

// advance moves task.Info.NextStep forward, stamps the progress milestone
// for the step just completed (if any), and persists.
func (e *Engine) advance(ctx context.Context, task *TaskInfo, completed Step) error {
	task.Lock()
	task.Info.NextStep = completed.next(task.Info.IsLazy)
	if ms, ok := progressForStep(completed); ok && ms > task.Info.Progress {
		task.Info.Progress = ms
	}
	info := task.Info
	task.Unlock()

	metrics.SetTaskProgress(string(info.TaskId), info.Progress)
	return e.TaskMetaStore.UpdateCloneInfo(ctx, info)
}

func (e *Engine) stepCreateCloneFile(ctx context.Context, task *TaskInfo, p *plan) error {
	task.Lock()
	info := task.Info
	task.Unlock()

	tempName := e.Config.tempName(info.TaskId)
	fileInfo, status, err := e.VolumeClient.CreateCloneFile(ctx, tempName, info.User, p.newFileInfo.Length, p.newFileInfo.SeqNum, p.newFileInfo.ChunkSize)
	if err != nil {
		return err
	}
	if status != FileStatusOK && status != FileStatusExists {
		return taskError(ErrInternal, "CreateCloneFile for %s returned status %d", tempName, status)
	}

	task.Lock()
	task.Info.OriginId = fileInfo.FileId
	if !task.Info.IsRecover() {
		task.Info.DestId = fileInfo.FileId
	}
	task.Unlock()

	return e.advance(ctx, task, StepCreateCloneFile)
}

func (e *Engine) stepCreateCloneChunk(ctx context.Context, task *TaskInfo, p *plan) error {
	for _, chunks := range p.segments {
		for _, chunk := range chunks {
			loc, err := EncodeLocation(chunk.Location)
			if err != nil {
				return err
			}
			if err := e.VolumeClient.CreateCloneChunk(ctx, loc, chunk.ChunkIdInfo, chunk.SeqNum, p.newFileInfo.SeqNum, p.newFileInfo.ChunkSize); err != nil {
				return err
			}
		}
	}
	return e.advance(ctx, task, StepCreateCloneChunk)
}

func (e *Engine) stepCompleteCloneMeta(ctx context.Context, task *TaskInfo) error {
	task.Lock()
	info := task.Info
	task.Unlock()

	tempName := e.Config.tempName(info.TaskId)
	if err := e.VolumeClient.CompleteCloneMeta(ctx, tempName, info.User); err != nil {
		return err
	}
	return e.advance(ctx, task, StepCompleteCloneMeta)
}

func (e *Engine) stepRecoverChunk(ctx context.Context, task *TaskInfo, p *plan) error {
	if p.newFileInfo.ChunkSplitSize == 0 || p.newFileInfo.ChunkSize%p.newFileInfo.ChunkSplitSize != 0 {
		return taskError(ErrChunkSizeNotAligned, "chunk size %d not aligned to split size %d", p.newFileInfo.ChunkSize, p.newFileInfo.ChunkSplitSize)
	}
	splitCount := p.newFileInfo.ChunkSize / p.newFileInfo.ChunkSplitSize

	segCount := uint64(len(p.segments))
	if segCount == 0 {
		return e.advance(ctx, task, StepRecoverChunk)
	}

	// Deterministic iteration order so progress milestones are reproducible.
	segIndexes := make([]uint64, 0, len(p.segments))
	for idx := range p.segments {
		segIndexes = append(segIndexes, idx)
	}
	sortUint64s(segIndexes)

	for i, segIdx := range segIndexes {
		for _, chunk := range p.segments[segIdx] {
			for split := uint64(0); split < splitCount; split++ {
				off := split * p.newFileInfo.ChunkSplitSize
				if err := e.VolumeClient.RecoverChunk(ctx, chunk.ChunkIdInfo, off, p.newFileInfo.ChunkSplitSize); err != nil {
					return err
				}
			}
		}

		progress := uint32(50 + (uint64(i)+1)*(90-50)/segCount)
		task.Lock()
		if progress > task.Info.Progress {
			task.Info.Progress = progress
		}
		info := task.Info
		task.Unlock()
		metrics.SetTaskProgress(string(info.TaskId), info.Progress)
		if err := e.TaskMetaStore.UpdateCloneInfo(ctx, info); err != nil {
			return err
		}
	}

	return e.advance(ctx, task, StepRecoverChunk)
}

func (e *Engine) stepRenameCloneFile(ctx context.Context, task *TaskInfo) error {
	task.Lock()
	info := task.Info
	task.Unlock()

	tempName := e.Config.tempName(info.TaskId)
	tempInfo, status, err := e.VolumeClient.GetFileInfo(ctx, tempName, info.User)
	if err != nil {
		return err
	}

	switch status {
	case FileStatusOK:
		if tempInfo.FileId != info.OriginId {
			return taskError(ErrInternal, "temp file %s id %d does not match originId %d", tempName, tempInfo.FileId, info.OriginId)
		}
		if err := e.VolumeClient.RenameCloneFile(ctx, info.User, info.OriginId, info.DestId, tempName, info.Destination); err != nil {
			return err
		}
	case FileStatusNotExist:
		destInfo, destStatus, err := e.VolumeClient.GetFileInfo(ctx, info.Destination, info.User)
		if err != nil {
			return err
		}
		if destStatus != FileStatusOK || destInfo.FileId != info.OriginId {
			return taskError(ErrInternal, "rename of %s already ran but destination %s does not match originId %d", tempName, info.Destination, info.OriginId)
		}
	default:
		return taskError(ErrInternal, "GetFileInfo for %s returned status %d", tempName, status)
	}

	return e.advance(ctx, task, StepRenameCloneFile)
}

func (e *Engine) stepCompleteCloneFile(ctx context.Context, task *TaskInfo) error {
	task.Lock()
	info := task.Info
	task.Unlock()

	name := e.Config.tempName(info.TaskId)
	if info.IsLazy {
		name = info.Destination
	}
	if err := e.VolumeClient.CompleteCloneFile(ctx, name, info.User); err != nil {
		return err
	}
	return e.advance(ctx, task, StepCompleteCloneFile)
}

// HandleCloneSuccess is the single success funnel: under
// the task's lock, decrement the snapshot ref count (if applicable), mark
// Done, bump progress to 100, then persist and release the task.
func (e *Engine) HandleCloneSuccess(ctx context.Context, task *TaskInfo) {
	task.Lock()
	if task.Info.IsSnapshot() {
		e.refCounter.Decrement(task.Info.Source)
	}
	task.Info.Status = StatusDone
	task.Info.Progress = 100
	updated := task.Info
	task.Unlock()

	if updated.IsSnapshot() {
		metrics.SetSnapshotReferences(updated.Source, e.refCounter.Count(updated.Source))
	}
	metrics.SetTaskProgress(string(updated.TaskId), updated.Progress)
	if err := e.TaskMetaStore.UpdateCloneInfo(ctx, updated); err != nil {
		klog.Errorf("[task %s dest=%s] failed to persist success: %v", updated.TaskId, updated.Destination, err)
	}
	logTask(updated, "completed successfully")
	task.MarkFinished()
}

// HandleCloneError is the single error funnel: it
// decrements the snapshot ref count exactly once, sets Status=Error while
// preserving NextStep (I3), and persists.
func (e *Engine) HandleCloneError(ctx context.Context, task *TaskInfo, cause error) {
	task.Lock()
	if task.Info.IsSnapshot() {
		e.refCounter.Decrement(task.Info.Source)
	}
	task.Info.Status = StatusError
	updated := task.Info
	task.Unlock()

	if updated.IsSnapshot() {
		metrics.SetSnapshotReferences(updated.Source, e.refCounter.Count(updated.Source))
	}
	klog.Errorf("[task %s dest=%s] step %s failed: %v", updated.TaskId, updated.Destination, updated.NextStep, cause)

	if err := e.TaskMetaStore.UpdateCloneInfo(ctx, updated); err != nil {
		klog.Errorf("[task %s dest=%s] failed to persist error: %v", updated.TaskId, updated.Destination, err)
	}
	task.MarkFinished()
}

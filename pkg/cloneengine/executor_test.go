package cloneengine

import (
	"context"
	"testing"

	"google.golang.org/grpc/codes"
)

// withAutoAllocation installs a GetOrAllocateSegmentInfoFunc that hands out
// fresh chunk ids the first time a segment offset is allocated and replays
// the same ids afterward, simulating a real volume service closely enough
// for createOrUpdateCloneMeta's force-allocation pass (Phase B) to proceed.
func withAutoAllocation(vc *FakeVolumeClient, chunksPerSegment uint64) {
	allocated := make(map[uint64][]ChunkIdInfo)
	var nextID uint64 = 1
	vc.GetOrAllocateSegmentInfoFunc = func(ctx context.Context, allocateIfMissing bool, offset uint64, fileName, user string) (SegmentInfo, FileStatus, error) {
		ids, ok := allocated[offset]
		if !ok {
			ids = make([]ChunkIdInfo, chunksPerSegment)
			for i := range ids {
				ids[i] = ChunkIdInfo{LogicalPoolId: 1, CopysetId: 1, ChunkId: nextID}
				nextID++
			}
			allocated[offset] = ids
		}
		return SegmentInfo{Allocated: true, ChunkIds: ids}, FileStatusOK, nil
	}
}

func seedSnapshotScenario(sms *FakeSnapshotMetaStore, sds *FakeSnapshotDataStore) {
	sms.Seed("snap-1", SnapshotInfo{
		User: "alice", Status: SnapshotStatusDone, FileName: "vol-a",
		SeqNum: 3, ChunkSize: 4096, SegmentSize: 8192, FileLength: 16384,
	})
	sds.Seed("vol-a", 3, []ChunkIndexEntry{
		{ChunkIndex: 0, S3Key: "k0", ChunkSeqNum: 1},
		{ChunkIndex: 1, S3Key: "k1", ChunkSeqNum: 1},
		{ChunkIndex: 2, S3Key: "k2", ChunkSeqNum: 1},
		{ChunkIndex: 3, S3Key: "k3", ChunkSeqNum: 1},
	})
}

func TestHandleCloneOrRecoverTaskCloneEagerFromSnapshot(t *testing.T) {
	e, vc, sms, sds, tms := newTestEngine()
	seedSnapshotScenario(sms, sds)
	withAutoAllocation(vc, 2)

	ctx := context.Background()
	admitted, err := e.CloneOrRecoverPre(ctx, CloneOrRecoverRequest{
		Source: "snap-1", User: "alice", Destination: "vol-b", TaskType: TaskTypeClone, IsLazy: false,
	})
	if err != nil {
		t.Fatalf("CloneOrRecoverPre: %v", err)
	}

	task := NewTaskInfo(admitted)
	e.HandleCloneOrRecoverTask(ctx, task)

	final, found, err := tms.GetCloneInfo(ctx, admitted.TaskId)
	if err != nil || !found {
		t.Fatalf("final task not found: found=%v err=%v", found, err)
	}
	if final.Status != StatusDone {
		t.Fatalf("Status = %v, want Done", final.Status)
	}
	if final.Progress != 100 {
		t.Fatalf("Progress = %d, want 100", final.Progress)
	}
	if final.NextStep != StepEnd {
		t.Fatalf("NextStep = %v, want End", final.NextStep)
	}
	if got := e.RefCounter().Count("snap-1"); got != 0 {
		t.Fatalf("snapshot ref count after completion = %d, want 0", got)
	}
	if _, _, err := vc.GetFileInfo(ctx, "vol-b", "alice"); err != nil {
		t.Fatalf("destination file lookup: %v", err)
	}
}

func TestHandleCloneOrRecoverTaskCloneLazy(t *testing.T) {
	e, vc, sms, sds, tms := newTestEngine()
	seedSnapshotScenario(sms, sds)
	withAutoAllocation(vc, 2)

	ctx := context.Background()
	admitted, err := e.CloneOrRecoverPre(ctx, CloneOrRecoverRequest{
		Source: "snap-1", User: "alice", Destination: "vol-b", TaskType: TaskTypeClone, IsLazy: true,
	})
	if err != nil {
		t.Fatalf("CloneOrRecoverPre: %v", err)
	}

	task := NewTaskInfo(admitted)
	e.HandleCloneOrRecoverTask(ctx, task)

	final, found, err := tms.GetCloneInfo(ctx, admitted.TaskId)
	if err != nil || !found {
		t.Fatalf("final task not found: found=%v err=%v", found, err)
	}
	if final.Status != StatusDone {
		t.Fatalf("Status = %v, want Done", final.Status)
	}
	if final.NextStep != StepEnd {
		t.Fatalf("NextStep = %v, want End", final.NextStep)
	}
}

func TestHandleCloneOrRecoverTaskRecover(t *testing.T) {
	e, vc, sms, sds, tms := newTestEngine()
	seedSnapshotScenario(sms, sds)
	withAutoAllocation(vc, 2)
	vc.SeedFile("vol-existing", FileInfo{FileId: 55, Owner: "alice", Length: 16384, SegmentSize: 8192, ChunkSize: 4096, SeqNum: 5})

	ctx := context.Background()
	admitted, err := e.CloneOrRecoverPre(ctx, CloneOrRecoverRequest{
		Source: "snap-1", User: "alice", Destination: "vol-existing", TaskType: TaskTypeRecover, IsLazy: false,
	})
	if err != nil {
		t.Fatalf("CloneOrRecoverPre: %v", err)
	}

	task := NewTaskInfo(admitted)
	e.HandleCloneOrRecoverTask(ctx, task)

	final, found, err := tms.GetCloneInfo(ctx, admitted.TaskId)
	if err != nil || !found {
		t.Fatalf("final task not found: found=%v err=%v", found, err)
	}
	if final.Status != StatusDone {
		t.Fatalf("Status = %v, want Done", final.Status)
	}
	if final.DestId != 55 {
		t.Fatalf("DestId = %d, want 55 (pre-existing destination file id)", final.DestId)
	}
	if _, _, err := vc.GetFileInfo(ctx, "vol-existing", "alice"); err != nil {
		t.Fatalf("destination file lookup: %v", err)
	}
}

func TestHandleCloneOrRecoverTaskErrorThenCleanup(t *testing.T) {
	e, vc, sms, sds, tms := newTestEngine()
	seedSnapshotScenario(sms, sds)
	withAutoAllocation(vc, 2)

	injected := fakeErr("volume service unavailable")
	vc.CreateCloneChunkFunc = func(ctx context.Context, location string, chunkID ChunkIdInfo, seqNum, correctSn, chunkSize uint64) error {
		return injected
	}

	ctx := context.Background()
	admitted, err := e.CloneOrRecoverPre(ctx, CloneOrRecoverRequest{
		Source: "snap-1", User: "alice", Destination: "vol-b", TaskType: TaskTypeClone, IsLazy: false,
	})
	if err != nil {
		t.Fatalf("CloneOrRecoverPre: %v", err)
	}

	task := NewTaskInfo(admitted)
	e.HandleCloneOrRecoverTask(ctx, task)

	errored, found, err := tms.GetCloneInfo(ctx, admitted.TaskId)
	if err != nil || !found {
		t.Fatalf("errored task not found: found=%v err=%v", found, err)
	}
	if errored.Status != StatusError {
		t.Fatalf("Status = %v, want Error", errored.Status)
	}
	if errored.NextStep != StepCreateCloneChunk {
		t.Fatalf("NextStep = %v, want CreateCloneChunk (I3: preserved at the failing step)", errored.NextStep)
	}
	if got := e.RefCounter().Count("snap-1"); got != 0 {
		t.Fatalf("snapshot ref count after error = %d, want 0 (decremented exactly once)", got)
	}

	// A second admission attempt on the same destination must be refused
	// until the errored task is cleaned up (P1).
	if _, err := e.CloneOrRecoverPre(ctx, CloneOrRecoverRequest{
		Source: "snap-1", User: "alice", Destination: "vol-b", TaskType: TaskTypeClone,
	}); codeOf(err) != codes.Aborted {
		t.Fatalf("re-admission code = %v, want Aborted", codeOf(err))
	}

	cleaning, err := e.CleanCloneOrRecoverTaskPre(ctx, "alice", admitted.TaskId)
	if err != nil {
		t.Fatalf("CleanCloneOrRecoverTaskPre: %v", err)
	}
	if cleaning.Status != StatusCleaning {
		t.Fatalf("Status = %v, want Cleaning", cleaning.Status)
	}

	cleanupTask := NewTaskInfo(cleaning)
	e.HandleCleanCloneOrRecoverTask(ctx, cleanupTask)

	if _, found, _ := tms.GetCloneInfo(ctx, admitted.TaskId); found {
		t.Fatal("task record should be deleted after cleanup")
	}
	if status, _ := vc.DeleteFile(ctx, e.Config.tempName(admitted.TaskId), "alice", 0); status != FileStatusNotExist {
		t.Fatalf("temp file should already be gone after cleanup, DeleteFile status = %v", status)
	}

	// Destination is now free for re-admission.
	if _, err := e.CloneOrRecoverPre(ctx, CloneOrRecoverRequest{
		Source: "snap-1", User: "alice", Destination: "vol-b", TaskType: TaskTypeClone,
	}); err != nil {
		t.Fatalf("re-admission after cleanup: %v", err)
	}
}

func TestHandleCloneOrRecoverTaskChunkSplitMisalignment(t *testing.T) {
	e, vc, sms, sds, tms := newTestEngine()
	seedSnapshotScenario(sms, sds)
	withAutoAllocation(vc, 2)
	e.Config.CloneChunkSplitSize = 3000 // does not evenly divide ChunkSize=4096

	vc.RecoverChunkFunc = func(ctx context.Context, chunkID ChunkIdInfo, offset, length uint64) error {
		t.Fatal("RecoverChunk must not be called once split-size alignment fails")
		return nil
	}

	ctx := context.Background()
	admitted, err := e.CloneOrRecoverPre(ctx, CloneOrRecoverRequest{
		Source: "snap-1", User: "alice", Destination: "vol-b", TaskType: TaskTypeClone, IsLazy: false,
	})
	if err != nil {
		t.Fatalf("CloneOrRecoverPre: %v", err)
	}

	task := NewTaskInfo(admitted)
	e.HandleCloneOrRecoverTask(ctx, task)

	errored, found, err := tms.GetCloneInfo(ctx, admitted.TaskId)
	if err != nil || !found {
		t.Fatalf("errored task not found: found=%v err=%v", found, err)
	}
	if errored.Status != StatusError {
		t.Fatalf("Status = %v, want Error", errored.Status)
	}
	if errored.NextStep != StepRecoverChunk {
		t.Fatalf("NextStep = %v, want RecoverChunk", errored.NextStep)
	}
}

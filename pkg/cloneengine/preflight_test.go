package cloneengine

import (
	"context"
	"testing"

	"google.golang.org/grpc/codes"
)

func newTestEngine() (*Engine, *FakeVolumeClient, *FakeSnapshotMetaStore, *FakeSnapshotDataStore, *FakeTaskMetaStore) {
	vc := NewFakeVolumeClient()
	sms := NewFakeSnapshotMetaStore()
	sds := NewFakeSnapshotDataStore()
	tms := NewFakeTaskMetaStore()
	cfg := Config{CloneTempDir: "/tmp/clone", CloneChunkSplitSize: 4096}
	return NewEngine(cfg, vc, sms, sds, tms), vc, sms, sds, tms
}

func TestCloneOrRecoverPreFromSnapshot(t *testing.T) {
	e, _, sms, _, _ := newTestEngine()
	sms.Seed("snap-1", SnapshotInfo{User: "alice", Status: SnapshotStatusDone, FileName: "vol-a", SeqNum: 3, ChunkSize: 4096, SegmentSize: 16384, FileLength: 65536})

	info, err := e.CloneOrRecoverPre(context.Background(), CloneOrRecoverRequest{
		Source: "snap-1", User: "alice", Destination: "vol-b", TaskType: TaskTypeClone,
	})
	if err != nil {
		t.Fatalf("CloneOrRecoverPre: %v", err)
	}
	if info.FileType != FileTypeSnapshot {
		t.Fatalf("FileType = %v, want FileTypeSnapshot", info.FileType)
	}
	if info.Status != StatusCloning || info.NextStep != StepCreateCloneFile {
		t.Fatalf("fresh task should start Cloning at CreateCloneFile, got status=%v step=%v", info.Status, info.NextStep)
	}
	if got := e.RefCounter().Count("snap-1"); got != 1 {
		t.Fatalf("snapshot ref count = %d, want 1", got)
	}
}

func TestCloneOrRecoverPreFromFile(t *testing.T) {
	e, vc, _, _, _ := newTestEngine()
	vc.SeedFile("vol-live", FileInfo{FileId: 7, Owner: "bob", Length: 65536, SegmentSize: 16384, ChunkSize: 4096, SeqNum: 1})

	info, err := e.CloneOrRecoverPre(context.Background(), CloneOrRecoverRequest{
		Source: "vol-live", User: "bob", Destination: "vol-b", TaskType: TaskTypeClone,
	})
	if err != nil {
		t.Fatalf("CloneOrRecoverPre: %v", err)
	}
	if info.FileType != FileTypeFile {
		t.Fatalf("FileType = %v, want FileTypeFile", info.FileType)
	}
	if e.RefCounter().Count("vol-live") != 0 {
		t.Fatal("live file sources must not be ref-counted")
	}
}

func TestCloneOrRecoverPreBlockedByErroredDestination(t *testing.T) {
	e, vc, _, _, tms := newTestEngine()
	vc.SeedFile("vol-live", FileInfo{FileId: 1, Owner: "bob", Length: 1, SegmentSize: 1, ChunkSize: 1})
	if err := tms.AddCloneInfo(context.Background(), CloneInfo{TaskId: NewTaskId(), Destination: "vol-b", Status: StatusError}); err != nil {
		t.Fatalf("seed AddCloneInfo: %v", err)
	}

	_, err := e.CloneOrRecoverPre(context.Background(), CloneOrRecoverRequest{
		Source: "vol-live", User: "bob", Destination: "vol-b", TaskType: TaskTypeClone,
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if codeOf(err) != codes.Aborted {
		t.Fatalf("code = %v, want Aborted", codeOf(err))
	}
}

func TestCloneOrRecoverPreSnapshotNotDone(t *testing.T) {
	e, _, sms, _, _ := newTestEngine()
	sms.Seed("snap-1", SnapshotInfo{User: "alice", Status: SnapshotStatusPending})

	_, err := e.CloneOrRecoverPre(context.Background(), CloneOrRecoverRequest{
		Source: "snap-1", User: "alice", Destination: "vol-b", TaskType: TaskTypeClone,
	})
	if codeOf(err) != codes.Unavailable {
		t.Fatalf("code = %v, want Unavailable", codeOf(err))
	}
}

func TestCloneOrRecoverPreSnapshotWrongUser(t *testing.T) {
	e, _, sms, _, _ := newTestEngine()
	sms.Seed("snap-1", SnapshotInfo{User: "alice", Status: SnapshotStatusDone})

	_, err := e.CloneOrRecoverPre(context.Background(), CloneOrRecoverRequest{
		Source: "snap-1", User: "mallory", Destination: "vol-b", TaskType: TaskTypeClone,
	})
	if codeOf(err) != codes.PermissionDenied {
		t.Fatalf("code = %v, want PermissionDenied", codeOf(err))
	}
}

func TestCloneOrRecoverPreSourceNotFound(t *testing.T) {
	e, _, _, _, _ := newTestEngine()

	_, err := e.CloneOrRecoverPre(context.Background(), CloneOrRecoverRequest{
		Source: "ghost", User: "alice", Destination: "vol-b", TaskType: TaskTypeClone,
	})
	if codeOf(err) != codes.NotFound {
		t.Fatalf("code = %v, want NotFound", codeOf(err))
	}
}

package cloneengine

import "context"

// SnapshotStatus mirrors the lifecycle of a snapshot in the snapshot
// metadata store; only Done snapshots may be cloned.
type SnapshotStatus int

const (
	SnapshotStatusPending SnapshotStatus = iota
	SnapshotStatusDone
	SnapshotStatusError
)

// SnapshotInfo is the subset of snapshot metadata the core needs.
type SnapshotInfo struct {
	User        string
	Status      SnapshotStatus
	FileName    string
	SeqNum      uint64
	ChunkSize   uint64
	SegmentSize uint64
	FileLength  uint64
}

// ChunkIndexEntry is one entry of a snapshot's chunk index: the logical
// chunk position within the snapshotted file, the object key holding its
// data, and the chunk's own version number at snapshot time.
type ChunkIndexEntry struct {
	ChunkIndex  uint64
	S3Key       string
	ChunkSeqNum uint64
}

// SnapshotMetaStore is the contract this engine consumes from the
// snapshot metadata store.
type SnapshotMetaStore interface {
	GetSnapshotInfo(ctx context.Context, source string) (SnapshotInfo, bool, error)
}

// SnapshotDataStore is the contract this engine consumes from the
// snapshot data store: chunk index
// data keyed by (fileName, seqNum), mapping chunkIndex to the encoded
// location of that chunk's data plus its version at snapshot time.
type SnapshotDataStore interface {
	GetChunkIndexData(ctx context.Context, fileName string, seqNum uint64) ([]ChunkIndexEntry, error)
}

// TaskMetaStore is the durable record of in-flight and completed tasks.
// Its operations must be internally atomic; errors from Update propagate
// unwrapped.
type TaskMetaStore interface {
	AddCloneInfo(ctx context.Context, info CloneInfo) error
	UpdateCloneInfo(ctx context.Context, info CloneInfo) error
	GetCloneInfo(ctx context.Context, taskId TaskId) (CloneInfo, bool, error)
	GetCloneInfoList(ctx context.Context) ([]CloneInfo, error)
	DeleteCloneInfo(ctx context.Context, taskId TaskId) error
}

package cloneengine

import "context"

// FileStatus is the outcome of a volume-client file/segment lookup.
type FileStatus int

const (
	FileStatusOK FileStatus = iota
	FileStatusNotExist
	FileStatusAuthFail
	FileStatusExists
	FileStatusNotAllocated
	FileStatusOther
)

// FileInfo describes a volume-service file (source or destination).
type FileInfo struct {
	FileId      uint64
	Owner       string
	Length      uint64
	SegmentSize uint64
	ChunkSize   uint64
	SeqNum      uint64
}

// SegmentInfo describes one segment's allocated chunks.
type SegmentInfo struct {
	Allocated bool
	ChunkIds  []ChunkIdInfo
}

// VolumeClient is the contract this engine consumes from the volume
// service. It is a single capability-set interface rather than many
// small per-resource interfaces, since the engine always needs the full
// set together.
//
//nolint:interfacebloat // the volume service naturally exposes many
// distinct verbs the core must drive in sequence.
type VolumeClient interface {
	GetFileInfo(ctx context.Context, name, user string) (FileInfo, FileStatus, error)
	CreateCloneFile(ctx context.Context, name, user string, length, seqNum, chunkSize uint64) (FileInfo, FileStatus, error)
	GetOrAllocateSegmentInfo(ctx context.Context, allocateIfMissing bool, offset uint64, fileName, user string) (SegmentInfo, FileStatus, error)
	CreateCloneChunk(ctx context.Context, location string, chunkID ChunkIdInfo, seqNum, correctSn, chunkSize uint64) error
	CompleteCloneMeta(ctx context.Context, name, user string) error
	RecoverChunk(ctx context.Context, chunkID ChunkIdInfo, offset, length uint64) error
	RenameCloneFile(ctx context.Context, user string, originId, destId uint64, origin, destination string) error
	CompleteCloneFile(ctx context.Context, name, user string) error
	DeleteFile(ctx context.Context, name, user string, fileId uint64) (FileStatus, error)
}

// Package cloneengine implements the clone/recover orchestration core: a
// resumable, persisted state machine that turns a snapshot or live volume
// into a new or restored destination volume.
package cloneengine

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskType distinguishes a clone (new destination) from a recover
// (overwrite an existing destination) request.
type TaskType int

const (
	TaskTypeClone TaskType = iota
	TaskTypeRecover
)

func (t TaskType) String() string {
	switch t {
	case TaskTypeClone:
		return "Clone"
	case TaskTypeRecover:
		return "Recover"
	default:
		return "Unknown"
	}
}

// FileType classifies the source a task clones/recovers from.
type FileType int

const (
	FileTypeSnapshot FileType = iota
	FileTypeFile
)

func (t FileType) String() string {
	switch t {
	case FileTypeSnapshot:
		return "Snapshot"
	case FileTypeFile:
		return "File"
	default:
		return "Unknown"
	}
}

// Status is the top-level lifecycle state of a CloneInfo record.
type Status int

const (
	StatusCloning Status = iota
	StatusDone
	StatusError
	StatusCleaning
)

func (s Status) String() string {
	switch s {
	case StatusCloning:
		return "Cloning"
	case StatusDone:
		return "Done"
	case StatusError:
		return "Error"
	case StatusCleaning:
		return "Cleaning"
	default:
		return "Unknown"
	}
}

// Step is a node in the per-task step state machine.
type Step int

const (
	StepCreateCloneFile Step = iota
	StepCreateCloneMeta
	StepCreateCloneChunk
	StepCompleteCloneMeta
	StepRecoverChunk
	StepRenameCloneFile
	StepCompleteCloneFile
	StepEnd
)

func (s Step) String() string {
	switch s {
	case StepCreateCloneFile:
		return "CreateCloneFile"
	case StepCreateCloneMeta:
		return "CreateCloneMeta"
	case StepCreateCloneChunk:
		return "CreateCloneChunk"
	case StepCompleteCloneMeta:
		return "CompleteCloneMeta"
	case StepRecoverChunk:
		return "RecoverChunk"
	case StepRenameCloneFile:
		return "RenameCloneFile"
	case StepCompleteCloneFile:
		return "CompleteCloneFile"
	case StepEnd:
		return "End"
	default:
		return "Unknown"
	}
}

// Valid reports whether s is one of the named steps. A CloneInfo loaded
// from the metadata store with an out-of-range step must be rejected at
// load time and never executed.
func (s Step) Valid() bool {
	return s >= StepCreateCloneFile && s <= StepEnd
}

// next returns the step that follows s for the given isLazy flag,
// implementing the two canonical step orderings. Recover and
// Clone share the same ordering; only the lazy/non-lazy split changes
// where RenameCloneFile falls relative to RecoverChunk.
func (s Step) next(isLazy bool) Step {
	switch s {
	case StepCreateCloneFile:
		return StepCreateCloneMeta
	case StepCreateCloneMeta:
		return StepCreateCloneChunk
	case StepCreateCloneChunk:
		return StepCompleteCloneMeta
	case StepCompleteCloneMeta:
		if isLazy {
			return StepRenameCloneFile
		}
		return StepRecoverChunk
	case StepRecoverChunk:
		return StepCompleteCloneFile
	case StepRenameCloneFile:
		if isLazy {
			return StepRecoverChunk
		}
		return StepEnd
	case StepCompleteCloneFile:
		if isLazy {
			return StepEnd
		}
		return StepRenameCloneFile
	default:
		return StepEnd
	}
}

// TaskId is the opaque, globally unique identifier of a clone/recover task.
type TaskId string

// NewTaskId mints a fresh, unique TaskId.
func NewTaskId() TaskId {
	return TaskId(uuid.New().String())
}

// CloneInfo is the durable record of a single clone/recover task. It is created once by Preflight Admission and mutated only by the
// Step Executor and Cleanup Executor.
type CloneInfo struct {
	TaskId      TaskId
	User        string
	TaskType    TaskType
	Source      string
	Destination string
	FileType    FileType
	IsLazy      bool
	Status      Status
	NextStep    Step
	OriginId    uint64
	DestId      uint64
	CreateTime  time.Time
	Progress    uint32
}

// IsRecover reports whether this task restores into a pre-existing
// destination rather than creating a new one.
func (c CloneInfo) IsRecover() bool {
	return c.TaskType == TaskTypeRecover
}

// IsSnapshot reports whether the task's source is a point-in-time
// snapshot rather than a live file.
func (c CloneInfo) IsSnapshot() bool {
	return c.FileType == FileTypeSnapshot
}

// ChunkIdInfo identifies a chunk within the volume service: a
// (logical-pool, copyset, chunk id) triple (GLOSSARY: "Chunk").
type ChunkIdInfo struct {
	LogicalPoolId uint32
	CopysetId     uint32
	ChunkId       uint64
}

// CloneChunkInfo is a transient, per-task record describing one chunk to
// be materialized on the destination. It is never persisted; it is
// rebuilt by Phase A of the Step Executor on every entry, including after
// a restart.
type CloneChunkInfo struct {
	Location    Location
	SeqNum      uint64
	ChunkIdInfo ChunkIdInfo
}

// CloneSegmentMap maps segmentIndex -> chunkIndex -> CloneChunkInfo.
// Only segments with at least one chunk to materialize are present
//.
type CloneSegmentMap map[uint64]map[uint64]CloneChunkInfo

// NewFileInfo is the rebuilt view of the file being cloned/recovered into,
// computed fresh in Phase A of every executor entry.
type NewFileInfo struct {
	FileId         uint64
	Length         uint64
	SegmentSize    uint64
	ChunkSize      uint64
	SeqNum         uint64
	ChunkSplitSize uint64
}

// SegmentCount returns the number of segments implied by Length and
// SegmentSize.
func (f NewFileInfo) SegmentCount() uint64 {
	if f.SegmentSize == 0 {
		return 0
	}
	return f.Length / f.SegmentSize
}

// TaskInfo is the in-memory handle the Step Executor and Cleanup Executor
// operate on: a CloneInfo plus the per-task mutex that guards success/error
// finalization and a completion signal for callers awaiting
// the task's terminal outcome.
type TaskInfo struct {
	mu       sync.Mutex
	Info     CloneInfo
	done     chan struct{}
	doneOnce sync.Once
}

// NewTaskInfo wraps a CloneInfo in a fresh TaskInfo handle.
func NewTaskInfo(info CloneInfo) *TaskInfo {
	return &TaskInfo{
		Info: info,
		done: make(chan struct{}),
	}
}

// Lock acquires the task's per-task mutex.
func (t *TaskInfo) Lock() { t.mu.Lock() }

// Unlock releases the task's per-task mutex.
func (t *TaskInfo) Unlock() { t.mu.Unlock() }

// MarkFinished signals that the task has reached a terminal state
// (Done or Error) and is no longer owned by any executor goroutine.
func (t *TaskInfo) MarkFinished() {
	t.doneOnce.Do(func() { close(t.done) })
}

// Done returns a channel closed once the task reaches a terminal state.
func (t *TaskInfo) Done() <-chan struct{} {
	return t.done
}

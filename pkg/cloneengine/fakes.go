package cloneengine

import (
	"context"
	"strconv"
	"sync"
)

// This file provides in-memory reference implementations of the four
// external contracts. Concrete implementations of these collaborators are
// out of scope for the core; these fakes are the only implementations this
// repo ships for the snapshot metadata, snapshot data and task metadata
// stores (pkg/wsvolume also implements VolumeClient). They are used by
// tests and by cmd/clone-engine, which runs on the fake metadata stores.
// Exported `XxxFunc` fields let a
// test override any single method while falling back to working default
// behavior for everything else.

// FakeVolumeClient is an in-memory VolumeClient.
//
//nolint:govet // fieldalignment: field order favors readability.
type FakeVolumeClient struct {
	mu       sync.Mutex
	files    map[string]FileInfo
	segments map[string]map[uint64][]ChunkIdInfo
	nextID   uint64

	// Overrides, checked before the default in-memory behavior.
	GetFileInfoFunc              func(ctx context.Context, name, user string) (FileInfo, FileStatus, error)
	CreateCloneFileFunc          func(ctx context.Context, name, user string, length, seqNum, chunkSize uint64) (FileInfo, FileStatus, error)
	GetOrAllocateSegmentInfoFunc func(ctx context.Context, allocateIfMissing bool, offset uint64, fileName, user string) (SegmentInfo, FileStatus, error)
	CreateCloneChunkFunc         func(ctx context.Context, location string, chunkID ChunkIdInfo, seqNum, correctSn, chunkSize uint64) error
	CompleteCloneMetaFunc        func(ctx context.Context, name, user string) error
	RecoverChunkFunc             func(ctx context.Context, chunkID ChunkIdInfo, offset, length uint64) error
	RenameCloneFileFunc          func(ctx context.Context, user string, originId, destId uint64, origin, destination string) error
	CompleteCloneFileFunc        func(ctx context.Context, name, user string) error
	DeleteFileFunc               func(ctx context.Context, name, user string, fileId uint64) (FileStatus, error)
}

// NewFakeVolumeClient returns an empty FakeVolumeClient.
func NewFakeVolumeClient() *FakeVolumeClient {
	return &FakeVolumeClient{
		files:    make(map[string]FileInfo),
		segments: make(map[string]map[uint64][]ChunkIdInfo),
		nextID:   1,
	}
}

// SeedFile registers a pre-existing file, for building Recover/File-source
// scenarios in tests.
func (f *FakeVolumeClient) SeedFile(name string, info FileInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[name] = info
}

// SeedSegment registers a pre-allocated segment with its chunk ids, for
// File-source scenarios.
func (f *FakeVolumeClient) SeedSegment(name string, offset uint64, chunks []ChunkIdInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.segments[name] == nil {
		f.segments[name] = make(map[uint64][]ChunkIdInfo)
	}
	f.segments[name][offset] = chunks
}

func (f *FakeVolumeClient) GetFileInfo(ctx context.Context, name, user string) (FileInfo, FileStatus, error) {
	if f.GetFileInfoFunc != nil {
		return f.GetFileInfoFunc(ctx, name, user)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.files[name]
	if !ok {
		return FileInfo{}, FileStatusNotExist, nil
	}
	return info, FileStatusOK, nil
}

func (f *FakeVolumeClient) CreateCloneFile(ctx context.Context, name, user string, length, seqNum, chunkSize uint64) (FileInfo, FileStatus, error) {
	if f.CreateCloneFileFunc != nil {
		return f.CreateCloneFileFunc(ctx, name, user, length, seqNum, chunkSize)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.files[name]; ok {
		return existing, FileStatusExists, nil
	}
	info := FileInfo{
		FileId:      f.nextID,
		Owner:       user,
		Length:      length,
		ChunkSize:   chunkSize,
		SegmentSize: chunkSize, // refined by SeedFile/CreateCloneMeta in real scenarios
		SeqNum:      seqNum,
	}
	f.nextID++
	f.files[name] = info
	return info, FileStatusOK, nil
}

func (f *FakeVolumeClient) GetOrAllocateSegmentInfo(ctx context.Context, allocateIfMissing bool, offset uint64, fileName, user string) (SegmentInfo, FileStatus, error) {
	if f.GetOrAllocateSegmentInfoFunc != nil {
		return f.GetOrAllocateSegmentInfoFunc(ctx, allocateIfMissing, offset, fileName, user)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	bySeg := f.segments[fileName]
	if bySeg == nil && !allocateIfMissing {
		return SegmentInfo{Allocated: false}, FileStatusOK, nil
	}
	chunks, ok := bySeg[offset]
	if !ok {
		if !allocateIfMissing {
			return SegmentInfo{Allocated: false}, FileStatusOK, nil
		}
		return SegmentInfo{}, FileStatusOther, nil
	}
	return SegmentInfo{Allocated: true, ChunkIds: chunks}, FileStatusOK, nil
}

func (f *FakeVolumeClient) CreateCloneChunk(ctx context.Context, location string, chunkID ChunkIdInfo, seqNum, correctSn, chunkSize uint64) error {
	if f.CreateCloneChunkFunc != nil {
		return f.CreateCloneChunkFunc(ctx, location, chunkID, seqNum, correctSn, chunkSize)
	}
	return nil
}

func (f *FakeVolumeClient) CompleteCloneMeta(ctx context.Context, name, user string) error {
	if f.CompleteCloneMetaFunc != nil {
		return f.CompleteCloneMetaFunc(ctx, name, user)
	}
	return nil
}

func (f *FakeVolumeClient) RecoverChunk(ctx context.Context, chunkID ChunkIdInfo, offset, length uint64) error {
	if f.RecoverChunkFunc != nil {
		return f.RecoverChunkFunc(ctx, chunkID, offset, length)
	}
	return nil
}

func (f *FakeVolumeClient) RenameCloneFile(ctx context.Context, user string, originId, destId uint64, origin, destination string) error {
	if f.RenameCloneFileFunc != nil {
		return f.RenameCloneFileFunc(ctx, user, originId, destId, origin, destination)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.files[origin]
	if !ok {
		return ErrDatasetNotFoundFake
	}
	delete(f.files, origin)
	f.files[destination] = info
	return nil
}

func (f *FakeVolumeClient) CompleteCloneFile(ctx context.Context, name, user string) error {
	if f.CompleteCloneFileFunc != nil {
		return f.CompleteCloneFileFunc(ctx, name, user)
	}
	return nil
}

func (f *FakeVolumeClient) DeleteFile(ctx context.Context, name, user string, fileId uint64) (FileStatus, error) {
	if f.DeleteFileFunc != nil {
		return f.DeleteFileFunc(ctx, name, user, fileId)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[name]; !ok {
		return FileStatusNotExist, nil
	}
	delete(f.files, name)
	return FileStatusOK, nil
}

// ErrDatasetNotFoundFake is returned by the default RenameCloneFile
// behavior when the origin file is unknown.
var ErrDatasetNotFoundFake = fakeErr("origin file not found in fake volume client")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

// FakeSnapshotMetaStore is an in-memory SnapshotMetaStore.
type FakeSnapshotMetaStore struct {
	mu        sync.Mutex
	snapshots map[string]SnapshotInfo

	GetSnapshotInfoFunc func(ctx context.Context, source string) (SnapshotInfo, bool, error)
}

func NewFakeSnapshotMetaStore() *FakeSnapshotMetaStore {
	return &FakeSnapshotMetaStore{snapshots: make(map[string]SnapshotInfo)}
}

func (f *FakeSnapshotMetaStore) Seed(source string, info SnapshotInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[source] = info
}

func (f *FakeSnapshotMetaStore) GetSnapshotInfo(ctx context.Context, source string) (SnapshotInfo, bool, error) {
	if f.GetSnapshotInfoFunc != nil {
		return f.GetSnapshotInfoFunc(ctx, source)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.snapshots[source]
	return info, ok, nil
}

// FakeSnapshotDataStore is an in-memory SnapshotDataStore.
type FakeSnapshotDataStore struct {
	mu   sync.Mutex
	data map[string][]ChunkIndexEntry

	GetChunkIndexDataFunc func(ctx context.Context, fileName string, seqNum uint64) ([]ChunkIndexEntry, error)
}

func NewFakeSnapshotDataStore() *FakeSnapshotDataStore {
	return &FakeSnapshotDataStore{data: make(map[string][]ChunkIndexEntry)}
}

func chunkIndexKey(fileName string, seqNum uint64) string {
	return fileName + "#" + strconv.FormatUint(seqNum, 10)
}

func (f *FakeSnapshotDataStore) Seed(fileName string, seqNum uint64, entries []ChunkIndexEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[chunkIndexKey(fileName, seqNum)] = entries
}

func (f *FakeSnapshotDataStore) GetChunkIndexData(ctx context.Context, fileName string, seqNum uint64) ([]ChunkIndexEntry, error) {
	if f.GetChunkIndexDataFunc != nil {
		return f.GetChunkIndexDataFunc(ctx, fileName, seqNum)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data[chunkIndexKey(fileName, seqNum)], nil
}

// FakeTaskMetaStore is an in-memory TaskMetaStore.
type FakeTaskMetaStore struct {
	mu    sync.Mutex
	tasks map[TaskId]CloneInfo

	AddCloneInfoFunc    func(ctx context.Context, info CloneInfo) error
	UpdateCloneInfoFunc func(ctx context.Context, info CloneInfo) error
}

func NewFakeTaskMetaStore() *FakeTaskMetaStore {
	return &FakeTaskMetaStore{tasks: make(map[TaskId]CloneInfo)}
}

func (f *FakeTaskMetaStore) AddCloneInfo(ctx context.Context, info CloneInfo) error {
	if f.AddCloneInfoFunc != nil {
		return f.AddCloneInfoFunc(ctx, info)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[info.TaskId] = info
	return nil
}

func (f *FakeTaskMetaStore) UpdateCloneInfo(ctx context.Context, info CloneInfo) error {
	if f.UpdateCloneInfoFunc != nil {
		return f.UpdateCloneInfoFunc(ctx, info)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[info.TaskId] = info
	return nil
}

func (f *FakeTaskMetaStore) GetCloneInfo(ctx context.Context, taskId TaskId) (CloneInfo, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.tasks[taskId]
	return info, ok, nil
}

func (f *FakeTaskMetaStore) GetCloneInfoList(ctx context.Context) ([]CloneInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := make([]CloneInfo, 0, len(f.tasks))
	for _, info := range f.tasks {
		list = append(list, info)
	}
	return list, nil
}

func (f *FakeTaskMetaStore) DeleteCloneInfo(ctx context.Context, taskId TaskId) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tasks, taskId)
	return nil
}

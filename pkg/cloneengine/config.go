package cloneengine

// Config holds the clone engine's runtime configuration.
type Config struct {
	// CloneTempDir is the absolute path prefix for temporary clone files;
	// the temp file for a task lives at CloneTempDir + "/" + taskId.
	CloneTempDir string

	// CloneChunkSplitSize divides chunkSize into recovery stripes for
	// RecoverChunk. Must be >0 and evenly divide chunkSize.
	CloneChunkSplitSize uint64
}

// initialSeqNum is the seqnum a brand-new clone's destination starts at
//.
const initialSeqNum = 1

// tempName returns the path of a task's temporary clone file.
func (c Config) tempName(taskId TaskId) string {
	return c.CloneTempDir + "/" + string(taskId)
}

package cloneengine

import "sort"

// sortUint64s sorts s in place ascending, giving RecoverChunk a
// deterministic segment iteration order so published progress milestones
// land on reproducible values.
func sortUint64s(s []uint64) {
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
}

package chain

// Owned returns the chain indices owned by the worker with the given rank,
// using round-robin assignment: chain i belongs to worker i mod size.
// Every worker computes the same partition locally, so no assignment
// protocol is needed.
func Owned(nChains, size, rank int) []int {
	if size <= 0 || rank < 0 || rank >= size {
		return nil
	}
	var owned []int
	for i := rank; i < nChains; i += size {
		owned = append(owned, i)
	}
	return owned
}

// OwnerOf returns the rank that owns a chain under round-robin partitioning.
func OwnerOf(chainID, size int) int {
	if size <= 0 {
		return -1
	}
	return chainID % size
}

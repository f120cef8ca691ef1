// Package cluster provides the collective-communication layer for the
// distributed sampler, implementing worker identity, registration, and the
// all-gather primitive that synchronizes the chain population between
// generations.
//
// # Overview
//
// The sampler is SPMD: every worker process runs the same run loop over a
// disjoint subset of chains, and twice per generation all workers meet at an
// all-gather barrier. The package exposes that model as a small Comm
// interface:
//
//	Rank()      - this worker's index in [0, Size)
//	Size()      - total number of workers
//	AllGather() - submit a payload for a round, block until all arrive,
//	              receive every worker's payload indexed by rank
//	Barrier()   - AllGather with an empty payload
//
// Rank 0 is the root worker: it owns the history log, the checkpoint file,
// and parameter estimation.
//
// # Implementations
//
// LocalComm runs all workers as goroutines in one process, exchanging
// payloads through shared memory. It is used by tests and by single-machine
// runs where process isolation is not needed.
//
// HTTPComm talks to a hub process (cmd/hub) over HTTP/JSON. Workers register
// at startup and are assigned ranks; every AllGather is one POST that the
// hub holds open until the round is complete. Each worker also serves a
// /health endpoint so the hub can detect a worker that died between
// barriers and abort the run instead of hanging the survivors.
//
// # Ordering guarantee
//
// Rounds are numbered by the caller and strictly increase. A worker cannot
// observe a partially gathered round: AllGather returns either every
// worker's payload or an error. Determinism across runs requires fixing
// both the seed and the worker count, since chain ownership and donor
// sampling depend on Size().
package cluster

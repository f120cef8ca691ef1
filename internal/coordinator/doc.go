// Package coordinator implements the hub side of the sampler's collective
// protocol: worker registration with rank assignment, all-gather round
// bookkeeping, and liveness monitoring of registered workers.
//
// # Overview
//
// The hub is a rendezvous point, not a participant: it never sees chain
// semantics, only opaque payloads. A run is configured with an expected
// worker count. Workers register and are assigned ranks 0..n-1 in arrival
// order; registration blocks until the roster is complete, so it doubles as
// the run's first barrier.
//
// Each generation the workers meet at numbered all-gather rounds. A round
// completes when every rank has submitted exactly one payload; the hub then
// releases the assembled round to every waiting worker. A worker can never
// observe a partially gathered round.
//
// # Failure handling
//
// If a worker dies between barriers the rest of the group would block
// forever, so the hub health-checks any worker that registered a probe
// address. After enough consecutive failures the monitor declares the
// worker unhealthy and the hub aborts all pending and future rounds; the
// surviving workers see the abort as a communication error and terminate
// the run. There is no rejoin protocol: a lost worker means a lost run,
// recoverable from the last checkpoint.
package coordinator

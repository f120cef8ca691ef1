package sampler

import "errors"

// Error kinds surfaced by the sampler. Callers classify with errors.Is;
// everything else wraps one of these.
var (
	// ErrConfig marks an invalid configuration: too few chains,
	// non-positive dimension, a zero scale factor. Fatal at construction.
	ErrConfig = errors.New("invalid sampler configuration")

	// ErrInfeasibleState marks a NaN log-density from the model. This is a
	// hard failure, distinct from the legitimate -Inf rejection path: a NaN
	// poisons the Metropolis ratio and cannot be recovered locally.
	ErrInfeasibleState = errors.New("model returned NaN log-density")

	// ErrEstimation marks a parameter-estimation query that cannot be
	// answered: burn-in past the available history, or a query on a
	// non-root worker.
	ErrEstimation = errors.New("estimation error")

	// ErrCheckpointFormat marks a checkpoint file that is missing required
	// fields or disagrees with the caller about the dimension.
	ErrCheckpointFormat = errors.New("bad checkpoint")

	// ErrCommunication marks a failed collective: a worker did not reach
	// the barrier. Fatal for the whole run, since the population snapshot
	// can no longer be kept consistent.
	ErrCommunication = errors.New("collective communication failed")
)

// Package sampler implements population-based differential-evolution MCMC
// over a worker group.
//
// A Sampler holds the full chain population but advances only the chains
// its rank owns. Every generation crosses two collective barriers: the
// first fixes the population snapshot all proposals draw donors from, the
// second exchanges the advanced states, so every worker ends each
// generation with an identical population. Two proposal rules are
// available: plain DE-MC and DREAM with adaptive crossover and snooker
// updates.
//
// The root worker additionally records the generation history, answers
// parameter-estimation queries, and persists checkpoints for warm starts.
package sampler

// Package chain holds the chain population data structure for the sampler.
//
// A Population is the ordered set of Markov chains being advanced together.
// Every chain has a stable integer identity, a parameter vector of the
// run-wide dimension, and a log-density. The population is partitioned across
// workers: each worker exclusively mutates the chains it owns, while all
// workers read a synchronized snapshot of the full population when drawing
// difference vectors.
//
// Partitioning is round-robin by chain index, so chain i belongs to worker
// i mod size. The partition is a pure function of (nChains, size, rank) and
// needs no registry: every worker can compute every other worker's share.
//
// Populations never store a NaN log-density. Infeasible states are
// represented by -Inf, which the acceptance rule always rejects.
package chain

// Command linefit fits a straight line to noisy synthetic data with the
// population sampler, as a worked example of the full API: fresh runs,
// checkpointing, warm starts, and both execution modes.
//
// In local mode every worker runs as a goroutine in this process. In hub
// mode the process is one worker of a distributed run and needs a running
// hub (see cmd/hub); start one process per worker.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	exprand "golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat/distuv"
	"gopkg.in/yaml.v3"

	"github.com/dreamware/demc/internal/cluster"
	"github.com/dreamware/demc/internal/sampler"
)

// True line the synthetic data is drawn from; the run should recover these.
const (
	trueSlope     = 2.5
	trueIntercept = -1.0
	noiseSigma    = 0.5
	nPoints       = 60
)

func main() {
	var (
		mode        = flag.String("mode", "local", "execution mode: local or hub")
		workers     = flag.Int("workers", 2, "worker count (local mode)")
		hubURL      = flag.String("hub", "http://localhost:8080", "hub base URL (hub mode)")
		workerID    = flag.String("worker-id", "", "worker ID (hub mode, default random)")
		configPath  = flag.String("config", "", "YAML sampler configuration file")
		generations = flag.Int("generations", 2000, "generations to run")
		burn        = flag.Int("burn", 500, "generations to discard before estimating")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	xs, ys := syntheticData()
	f := lineLogProb(xs, ys)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch *mode {
	case "local":
		err = runLocal(ctx, cfg, f, *workers, *generations, *burn)
	case "hub":
		err = runHub(ctx, cfg, f, *hubURL, *workerID, *generations, *burn)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		log.Fatalf("linefit: %v", err)
	}
}

// loadConfig reads a sampler configuration from a YAML file, or returns a
// reasonable default setup when no file is given.
func loadConfig(path string) (sampler.Config, error) {
	cfg := sampler.Config{
		NChains: 10,
		Seed:    20260827,
	}
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// syntheticData draws noisy observations of the true line from a fixed
// seed, so every worker sees the same data.
func syntheticData() (xs, ys []float64) {
	src := exprand.NewSource(99)
	abscissa := distuv.Uniform{Min: 0, Max: 10, Src: src}
	noise := distuv.Normal{Mu: 0, Sigma: noiseSigma, Src: src}
	xs = make([]float64, nPoints)
	ys = make([]float64, nPoints)
	for i := range xs {
		xs[i] = abscissa.Rand()
		ys[i] = trueSlope*xs[i] + trueIntercept + noise.Rand()
	}
	return xs, ys
}

// lineLogProb builds the Gaussian log-likelihood of the data under a line
// with parameters (slope, intercept), with a flat prior on [-100, 100]^2.
func lineLogProb(xs, ys []float64) sampler.LogProb {
	return func(p []float64) float64 {
		slope, intercept := p[0], p[1]
		if math.Abs(slope) > 100 || math.Abs(intercept) > 100 {
			return math.Inf(-1)
		}
		var sse float64
		for i := range xs {
			r := ys[i] - (slope*xs[i] + intercept)
			sse += r * r
		}
		return -sse / (2 * noiseSigma * noiseSigma)
	}
}

func runLocal(ctx context.Context, cfg sampler.Config, f sampler.LogProb, workers, generations, burn int) error {
	comms, err := cluster.NewLocalGroup(workers)
	if err != nil {
		return err
	}
	theta0 := []float64{1, 0}
	samplers := make([]*sampler.Sampler, workers)
	for i, c := range comms {
		if samplers[i], err = sampler.New(cfg, f, theta0, c); err != nil {
			return fmt.Errorf("rank %d: %w", i, err)
		}
	}

	eg, ctx := errgroup.WithContext(ctx)
	for _, s := range samplers {
		s := s
		eg.Go(func() error { return s.RunMCMC(ctx, generations) })
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	return report(samplers[0], burn)
}

func runHub(ctx context.Context, cfg sampler.Config, f sampler.LogProb, hubURL, workerID string, generations, burn int) error {
	if workerID == "" {
		workerID = "linefit-" + uuid.NewString()
	}
	comm, err := cluster.NewHTTPComm(ctx, cluster.HTTPCommOptions{
		HubURL:       hubURL,
		WorkerID:     workerID,
		HealthListen: ":0",
	})
	if err != nil {
		return err
	}
	defer comm.Close()

	theta0 := []float64{1, 0}
	s, err := sampler.New(cfg, f, theta0, comm)
	if err != nil {
		return err
	}
	if err := s.RunMCMC(ctx, generations); err != nil {
		return err
	}
	if comm.Rank() != 0 {
		log.Printf("worker %s (rank %d) finished %d generations", workerID, comm.Rank(), generations)
		return nil
	}
	return report(s, burn)
}

// report prints the posterior estimate from the root sampler and writes a
// final checkpoint when one is configured.
func report(s *sampler.Sampler, burn int) error {
	mean, stddev, flat, err := s.ParamEst(burn)
	if err != nil {
		return err
	}
	log.Printf("run %s: %d generations, %d post-burn-in samples, acceptance %.3f",
		s.RunID(), s.Generation(), len(flat), s.AcceptanceFraction())
	log.Printf("slope     = %.4f +- %.4f (true %.2f)", mean[0], stddev[0], trueSlope)
	log.Printf("intercept = %.4f +- %.4f (true %.2f)", mean[1], stddev[1], trueIntercept)

	if err := s.SaveState(); err != nil {
		log.Printf("checkpoint skipped: %v", err)
	}
	return nil
}

// fairness.go implements the 'lockstress fairness' command.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jothan/async-lock/internal/goid"
	"github.com/jothan/async-lock/mutex"
)

// fairnessConfig holds configuration for the fairness command.
type fairnessConfig struct {
	// How long the greedy goroutine holds the lock each time.
	hold time.Duration

	// How long to run.
	duration time.Duration

	// Racy-to-fair escalation threshold.
	threshold time.Duration

	verbose bool
}

// fairnessResult summarizes a fairness run.
type fairnessResult struct {
	GreedyAcquisitions  int
	PatientAcquisitions int
	MaxWait             time.Duration
	MeanWait            time.Duration
	// SlowWaits counts patient acquisitions that waited past the threshold.
	SlowWaits int
	// MaxStarved is the largest escalated count observed by the sampler.
	MaxStarved uint64
}

// fairnessCommand implements the 'lockstress fairness' command.
//
// Example:
//
//	lockstress fairness -hold 100us -duration 2s
func fairnessCommand(args []string) {
	config, err := parseFairnessArgs(args, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(os.Stderr, config.verbose)

	res, err := runFairness(context.Background(), config, log)
	if err != nil {
		log.Error("fairness run failed", "err", err)
		os.Exit(1)
	}

	fmt.Printf("greedy: %d acquisitions\n", res.GreedyAcquisitions)
	fmt.Printf("patient: %d acquisitions, max wait %v, mean wait %v, %d waits over %v\n",
		res.PatientAcquisitions, res.MaxWait, res.MeanWait, res.SlowWaits, config.threshold)
	fmt.Printf("max starved observed: %d\n", res.MaxStarved)
}

// parseFairnessArgs parses command-line arguments for 'lockstress fairness'.
func parseFairnessArgs(args []string, output io.Writer) (*fairnessConfig, error) {
	config := &fairnessConfig{}

	fs := flag.NewFlagSet("fairness", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.DurationVar(&config.hold, "hold", 100*time.Microsecond, "greedy hold time per acquisition")
	fs.DurationVar(&config.duration, "duration", 2*time.Second, "run time")
	fs.DurationVar(&config.threshold, "threshold", mutex.DefaultStarvationThreshold, "starvation threshold")
	fs.BoolVar(&config.verbose, "v", false, "debug logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if config.hold <= 0 || config.duration <= 0 {
		return nil, fmt.Errorf("hold and duration must be positive")
	}

	return config, nil
}

// runFairness pits a greedy goroutine that re-locks immediately after every
// unlock against a patient one that locks once per hold period.
//
// The run fails if the patient goroutine never gets the lock.
func runFairness(ctx context.Context, config *fairnessConfig, log *slog.Logger) (*fairnessResult, error) {
	m := mutex.NewWithOptions(0, mutex.Options{StarvationThreshold: config.threshold})

	ctx, cancel := context.WithTimeout(ctx, config.duration)
	defer cancel()

	res := &fairnessResult{}
	var totalWait time.Duration

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Debug("greedy goroutine started", "goid", goid.Get())
		for gctx.Err() == nil {
			guard, err := m.Lock(gctx)
			if err != nil {
				return nil
			}
			time.Sleep(config.hold)
			guard.Unlock()
			res.GreedyAcquisitions++
		}
		return nil
	})

	g.Go(func() error {
		log.Debug("patient goroutine started", "goid", goid.Get())
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-time.After(config.hold):
			}

			start := time.Now()
			guard, err := m.Lock(gctx)
			if err != nil {
				return nil
			}
			wait := time.Since(start)
			guard.Unlock()

			res.PatientAcquisitions++
			totalWait += wait
			if wait > res.MaxWait {
				res.MaxWait = wait
			}
			if wait > config.threshold {
				res.SlowWaits++
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(max(config.hold/2, 10*time.Microsecond))
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if s := m.State().Starved(); s > res.MaxStarved {
					res.MaxStarved = s
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if res.PatientAcquisitions > 0 {
		res.MeanWait = totalWait / time.Duration(res.PatientAcquisitions)
	}
	log.Info("fairness run finished",
		"greedy", res.GreedyAcquisitions,
		"patient", res.PatientAcquisitions,
		"max_wait", res.MaxWait,
		"slow_waits", res.SlowWaits,
		"max_starved", res.MaxStarved)

	if res.PatientAcquisitions == 0 {
		return res, fmt.Errorf("patient goroutine starved for %v", config.duration)
	}
	if s := m.State(); s != 0 {
		return res, fmt.Errorf("state word not clean after run: %v", s)
	}
	return res, nil
}

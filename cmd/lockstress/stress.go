// stress.go implements the 'lockstress stress' command.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/jothan/async-lock/coop"
	"github.com/jothan/async-lock/mutex"
)

// Driver modes for the stress command.
const (
	modeBlocking = "blocking"
	modeCoop     = "coop"
	modeMixed    = "mixed"
)

// stressConfig holds configuration for the stress command.
type stressConfig struct {
	// Number of contenders.
	workers int

	// Increments performed by each contender.
	iterations int

	// How contenders drive their lock operations: blocking, coop or mixed.
	mode string

	// Maximum number of parked goroutines admitted at once.
	parallel int

	// Cooperative executor size (coop and mixed modes).
	executor int

	// Racy-to-fair escalation threshold.
	threshold time.Duration

	// Overall time limit.
	timeout time.Duration

	verbose bool
}

// stressResult summarizes a stress run.
type stressResult struct {
	Expected   int
	Total      int
	MaxStarved uint64
	Final      mutex.State
	Elapsed    time.Duration
}

// stressCommand implements the 'lockstress stress' command.
//
// Example:
//
//	lockstress stress -workers 64 -iterations 1000 -mode mixed
func stressCommand(args []string) {
	config, err := parseStressArgs(args, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(os.Stderr, config.verbose)

	ctx, cancel := context.WithTimeout(context.Background(), config.timeout)
	defer cancel()

	res, err := runStress(ctx, config, log)
	if err != nil {
		log.Error("stress run failed", "err", err)
		os.Exit(1)
	}

	fmt.Printf("ok: %d increments in %v (max starved %d)\n", res.Total, res.Elapsed, res.MaxStarved)
}

// parseStressArgs parses command-line arguments for 'lockstress stress'.
func parseStressArgs(args []string, output io.Writer) (*stressConfig, error) {
	config := &stressConfig{}

	fs := flag.NewFlagSet("stress", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.IntVar(&config.workers, "workers", 64, "number of contenders")
	fs.IntVar(&config.iterations, "iterations", 1000, "increments per contender")
	fs.StringVar(&config.mode, "mode", modeBlocking, "driver: blocking, coop or mixed")
	fs.IntVar(&config.parallel, "parallel", 0, "max parked goroutines at once (0 = workers)")
	fs.IntVar(&config.executor, "executor", runtime.GOMAXPROCS(0), "cooperative executor workers")
	fs.DurationVar(&config.threshold, "threshold", mutex.DefaultStarvationThreshold, "starvation threshold")
	fs.DurationVar(&config.timeout, "timeout", time.Minute, "overall time limit")
	fs.BoolVar(&config.verbose, "v", false, "debug logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	switch config.mode {
	case modeBlocking, modeCoop, modeMixed:
	default:
		return nil, fmt.Errorf("unknown mode %q", config.mode)
	}
	if config.workers <= 0 || config.iterations <= 0 {
		return nil, fmt.Errorf("workers and iterations must be positive")
	}
	if config.executor <= 0 {
		return nil, fmt.Errorf("executor must be positive")
	}
	if config.parallel <= 0 {
		config.parallel = config.workers
	}

	return config, nil
}

// runStress runs the configured load against a fresh mutex and verifies the
// outcome.
func runStress(ctx context.Context, config *stressConfig, log *slog.Logger) (*stressResult, error) {
	m := mutex.NewWithOptions(0, mutex.Options{StarvationThreshold: config.threshold})

	blocking, cooperative := config.workers, 0
	switch config.mode {
	case modeCoop:
		blocking, cooperative = 0, config.workers
	case modeMixed:
		cooperative = config.workers / 2
		blocking = config.workers - cooperative
	}

	log = log.With("mode", config.mode, "workers", config.workers, "iterations", config.iterations)
	log.Debug("starting stress run", "blocking", blocking, "cooperative", cooperative)

	var maxStarved atomic.Uint64
	observe := func() {
		s := m.State().Starved()
		for {
			cur := maxStarved.Load()
			if s <= cur || maxStarved.CompareAndSwap(cur, s) {
				return
			}
		}
	}

	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)

	sem := semaphore.NewWeighted(int64(config.parallel))
	for w := 0; w < blocking; w++ {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return fmt.Errorf("admission: %w", err)
			}
			defer sem.Release(1)

			for i := 0; i < config.iterations; i++ {
				guard, err := m.Lock(gctx)
				if err != nil {
					return fmt.Errorf("lock: %w", err)
				}
				observe()
				*guard.Value()++
				guard.Unlock()
			}
			return nil
		})
	}

	if cooperative > 0 {
		ex, err := coop.NewExecutor(config.executor)
		if err != nil {
			return nil, err
		}
		defer ex.Close()

		for w := 0; w < cooperative; w++ {
			task := &incrementTask{m: m, remaining: config.iterations, observe: observe}
			if _, err := ex.Spawn(task); err != nil {
				return nil, fmt.Errorf("spawn: %w", err)
			}
		}
		log.Debug("cooperative tasks spawned", "tasks", cooperative, "draining", ex.Running())
		g.Go(func() error {
			err := ex.Wait(gctx)
			log.Debug("executor wait returned", "draining", ex.Running(), "err", err)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &stressResult{
		Expected:   config.workers * config.iterations,
		Total:      m.IntoInner(),
		MaxStarved: maxStarved.Load(),
		Final:      m.State(),
		Elapsed:    time.Since(start),
	}
	log.Info("stress run finished",
		"total", res.Total,
		"elapsed", res.Elapsed,
		"max_starved", res.MaxStarved,
		"state", res.Final)

	if res.Total != res.Expected {
		return res, fmt.Errorf("lost increments: total %d, want %d", res.Total, res.Expected)
	}
	if res.Final != 0 {
		return res, fmt.Errorf("state word not clean after run: %v", res.Final)
	}
	return res, nil
}

// incrementTask is a cooperative contender. It increments the counter
// remaining times, suspending whenever the lock is contended.
type incrementTask struct {
	m         *mutex.Mutex[int]
	remaining int
	op        *mutex.LockOp[int]
	observe   func()
}

// Poll implements coop.Future.
func (t *incrementTask) Poll(wake func()) bool {
	for t.remaining > 0 {
		if t.op == nil {
			t.op = t.m.LockOp()
		}
		guard, ok := t.op.Poll(wake)
		if !ok {
			return false
		}
		t.op = nil

		t.observe()
		*guard.Value()++
		guard.Unlock()
		t.remaining--
	}
	return true
}

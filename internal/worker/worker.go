// Package worker runs one thread's share of an experiment: a rate-paced
// loop calling Workload.NextRequest against a Driver until its operation
// quota is met, a global deadline passes, or it is told to stop (spec.md
// §4.8).
package worker

import (
	"context"
	"math/rand"
	"time"

	"github.com/pkg/errors"

	"github.com/tracebench/tracebench/internal/driver"
	"github.com/tracebench/tracebench/internal/model"
	"github.com/tracebench/tracebench/internal/workload"
)

// TimeoutLimit bounds the wall-clock length of a single worker's run,
// independent of num_ops — a worker that is badly behind schedule gives up
// rather than running indefinitely.
const TimeoutLimit = 612 * time.Second

// Config carries one worker's share of an ExperimentInfo plus its
// collaborators. NumOps, TargetThroughput come from the enclosing
// model.ExperimentInfo; CleanupDriver instructs the worker to call
// Driver.Cleanup() on exit (only the last phase of a driver's life should
// do this).
type Config struct {
	Driver           driver.Driver
	Workload         *workload.Workload
	NumOps           int64
	TargetThroughput float64 // ops/sec, this thread's share
	SleepOnWait      bool
	CleanupDriver    bool
	Latch            *CountDownLatch
}

// Run executes Config's share of an experiment and returns the completed/
// overtime/failed op counts. It always calls Latch.CountDown() on exit,
// even if ctx is cancelled mid-run.
func Run(ctx context.Context, cfg Config) (model.ClientThreadInfo, error) {
	defer cfg.Latch.CountDown()

	if cfg.TargetThroughput <= 0 {
		return model.ClientThreadInfo{}, errors.New("worker: target throughput must be strictly positive")
	}
	nanosPerOp := int64(1e9 / cfg.TargetThroughput)
	if nanosPerOp <= 0 {
		return model.ClientThreadInfo{}, errors.New("worker: nanos_per_op computed as non-positive")
	}

	// Decorrelate thread starts so the backend isn't hit by every thread
	// at once. Stays within [5000ns, nanosPerOp); when nanosPerOp itself
	// is too small to leave room above the 5000ns floor, fall back to a
	// single fixed delay rather than risk rand.Int63n panicking on a
	// non-positive argument.
	var jitter time.Duration
	if span := nanosPerOp - 5000; span > 0 {
		jitter = time.Duration(5000 + rand.Int63n(span))
	} else {
		jitter = time.Duration(nanosPerOp)
	}
	select {
	case <-time.After(jitter):
	case <-ctx.Done():
		return model.ClientThreadInfo{}, nil
	}

	start := time.Now()
	var info model.ClientThreadInfo

	for i := int64(0); i < cfg.NumOps; i++ {
		select {
		case <-ctx.Done():
			return info, nil
		default:
		}

		opStart := time.Now()
		ok, err := cfg.Workload.NextRequest(cfg.Driver)
		if err != nil {
			return info, errors.Wrap(err, "worker: generating request")
		}
		if ok {
			info.CompletedOps++
		} else {
			info.FailedOps++
		}

		elapsed := time.Since(opStart)
		if time.Since(start) > TimeoutLimit {
			break
		}

		remaining := time.Duration(nanosPerOp) - elapsed
		switch {
		case remaining < 0:
			info.OvertimeOps++
		case cfg.SleepOnWait:
			time.Sleep(remaining)
		default:
			deadline := opStart.Add(time.Duration(nanosPerOp))
			for time.Now().Before(deadline) {
			}
		}
	}

	if cfg.CleanupDriver {
		if err := cfg.Driver.Cleanup(); err != nil {
			return info, errors.Wrap(err, "worker: driver cleanup")
		}
	}
	return info, nil
}

// Package runner drives the two process phases benchmark.cc's main()
// dispatches to: RunLoadPhase (here, LoadPhase) populates the Edges/Objects
// tables from scratch, and RunTransactions (here, RunPhase) reloads the
// table into a shared KeyPool and then executes each configured experiment
// in turn, exactly mirroring the reference harness's two std::async fan-out
// stages plus its StatusThread.
package runner

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/tracebench/tracebench/internal/config"
	"github.com/tracebench/tracebench/internal/driver"
	"github.com/tracebench/tracebench/internal/keypool"
	"github.com/tracebench/tracebench/internal/loader"
	"github.com/tracebench/tracebench/internal/logging"
	"github.com/tracebench/tracebench/internal/measurements"
	"github.com/tracebench/tracebench/internal/model"
	"github.com/tracebench/tracebench/internal/worker"
	"github.com/tracebench/tracebench/internal/workload"
	"github.com/tracebench/tracebench/internal/workloadspec"
)

func newThreadTag() string {
	return uuid.NewString()[:8]
}

// shardBound builds the (id1, id2, type) triple that sorts immediately
// above every real edge whose primary shard is shard but below the first
// edge of shard+1, mirroring workload_loader.cc's "0:0:+" high-sentinel
// trick for id2/type. Appending '~' (above ':' in ASCII) to the bare
// zero-padded shard prefix is what makes it sort above "<shard>:<rest>"
// while staying below "<shard+1>:...".
func shardBound(shard model.ShardID) []string {
	return []string{fmt.Sprintf("%03d~", shard), "~", "~"}
}

// shardRange is one thread's contiguous, half-open [start, end) slice of
// the shard space.
type shardRange struct {
	start, end model.ShardID
}

// partitionShards splits [0, numShards) into numThreads contiguous,
// near-equal ranges, the first numShards%numThreads of which get one extra
// shard.
func partitionShards(numShards, numThreads int) []shardRange {
	ranges := make([]shardRange, numThreads)
	base := numShards / numThreads
	rem := numShards % numThreads
	cursor := 0
	for i := 0; i < numThreads; i++ {
		size := base
		if i < rem {
			size++
		}
		ranges[i] = shardRange{start: model.ShardID(cursor), end: model.ShardID(cursor + size)}
		cursor += size
	}
	return ranges
}

// distributeOps splits totalOps across numThreads, the first
// totalOps%numThreads threads getting one extra op — the same rule
// RunTransactions uses ("i < total_ops % workload_threads").
func distributeOps(totalOps int64, numThreads int) []int64 {
	ops := make([]int64, numThreads)
	base := totalOps / int64(numThreads)
	rem := totalOps % int64(numThreads)
	for i := 0; i < numThreads; i++ {
		ops[i] = base
		if int64(i) < rem {
			ops[i]++
		}
	}
	return ops
}

// distributeLoadKeys splits totalKeys across numThreads equally, with the
// last thread absorbing whatever remainder floor division leaves (spec.md
// §4.9's load-phase distribution rule).
func distributeLoadKeys(totalKeys int64, numThreads int) []int64 {
	keys := make([]int64, numThreads)
	base := totalKeys / int64(numThreads)
	for i := 0; i < numThreads; i++ {
		keys[i] = base
	}
	keys[numThreads-1] += totalKeys - base*int64(numThreads)
	return keys
}

func startupJitter() {
	time.Sleep(time.Duration(rand.Intn(100_000)) * time.Microsecond)
}

func newDriver(name string, props config.Properties) (driver.Driver, error) {
	d, err := driver.Create(name, props)
	if err != nil {
		return nil, err
	}
	if err := d.Init(); err != nil {
		return nil, errors.Wrapf(err, "runner: initializing driver %q", name)
	}
	return d, nil
}

// LoadPhase runs the from-scratch loading phase: run.Threads driver+loader
// pairs each generate and batch-insert their share of
// Workload.NumKeysToGenerate(run.TotalOps) rows.
func LoadPhase(ctx context.Context, run config.Run, spec *workloadspec.Config, props config.Properties, logger logging.Logger) error {
	logger.Info("running loading phase", logging.Fields.Int("threads", run.Threads), logging.Fields.Int64("total_ops", run.TotalOps))

	if err := spec.ResizeShardBuckets("primary_shards", run.NumShards); err != nil {
		return errors.Wrap(err, "runner: resizing primary_shards")
	}
	if err := spec.ResizeShardBuckets("remote_shards", run.NumShards); err != nil {
		return errors.Wrap(err, "runner: resizing remote_shards")
	}

	drivers := make([]driver.Driver, run.Threads)
	loaders := make([]*loader.Loader, run.Threads)
	workloads := make([]*workload.Workload, run.Threads)
	for i := 0; i < run.Threads; i++ {
		d, err := newDriver(run.DBName, props)
		if err != nil {
			return err
		}
		drivers[i] = d
		loaders[i] = loader.New(d, model.Edges, model.Objects, nil, nil, logger)
		rng := rand.New(rand.NewSource(rand.Int63()))
		workloads[i] = workload.New(spec, keypool.New(), model.Edges, model.Objects, newThreadTag(), rng)
	}
	defer func() {
		for _, d := range drivers {
			_ = d.Cleanup()
		}
	}()

	totalKeys, err := workloads[0].NumKeysToGenerate(run.TotalOps)
	if err != nil {
		return errors.Wrap(err, "runner: computing load phase key target")
	}
	keysPerThread := distributeLoadKeys(totalKeys, run.Threads)
	logger.Info("load phase key target", logging.Fields.Int64("total_keys", totalKeys))

	failedCounts := make([]int, run.Threads)
	group, gctx := errgroup.WithContext(ctx)
	for i := 0; i < run.Threads; i++ {
		i := i
		group.Go(func() error {
			startupJitter()
			failed := 0
			for k := int64(0); k < keysPerThread[i]; k++ {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				n, err := workloads[i].LoadRow(loaders[i])
				if err != nil {
					return errors.Wrapf(err, "runner: load thread %d", i)
				}
				failed += n
			}
			if !loaders[i].FlushEdgeBuffer() {
				failed++
			}
			if !loaders[i].FlushObjectBuffer() {
				failed++
			}
			failedCounts[i] = failed
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	totalFailed := 0
	var totalLoaded int64
	for i := 0; i < run.Threads; i++ {
		totalFailed += failedCounts[i]
		totalLoaded += loaders[i].Pool().NumLoadedEdges()
	}
	logger.Info("loading phase complete",
		logging.Fields.Int("failed_batches", totalFailed), logging.Fields.Int64("edges_loaded", totalLoaded))
	return nil
}

// RunPhase reloads the Edges table into a shared KeyPool and then executes
// every experiment in order, mirroring RunTransactions.
// RunPhase executes the reload step followed by every experiment in order.
// meas may be nil, in which case RunPhase allocates its own; passing a
// caller-owned Measurements (e.g. one already registered with a
// prometheus.Registerer) lets a caller observe counters live as the run
// progresses rather than only after it completes.
func RunPhase(ctx context.Context, run config.Run, spec *workloadspec.Config, experiments []model.ExperimentInfo, props config.Properties, logger logging.Logger, meas *measurements.Measurements) error {
	logger.Info("running transaction phase", logging.Fields.Int("experiments", len(experiments)))

	if err := spec.ResizeShardBuckets("primary_shards", run.NumShards); err != nil {
		return errors.Wrap(err, "runner: resizing primary_shards")
	}
	if err := spec.ResizeShardBuckets("remote_shards", run.NumShards); err != nil {
		return errors.Wrap(err, "runner: resizing remote_shards")
	}

	sharedPool, err := reload(ctx, run, props, logger)
	if err != nil {
		return err
	}
	logger.Info("reload complete", logging.Fields.Int64("edges_loaded", sharedPool.NumLoadedEdges()))

	if err := sleepCtx(ctx, orDefault(run.PreRunQuiesce, config.DefaultPreRunQuiesce)); err != nil {
		return err
	}

	if meas == nil {
		meas = measurements.New(true)
	}
	for _, experiment := range experiments {
		if err := runExperiment(ctx, run, spec, experiment, props, sharedPool, meas, logger); err != nil {
			return err
		}
		if err := sleepCtx(ctx, orDefault(run.InterExperimentSleep, config.DefaultInterExperimentSleep)); err != nil {
			return err
		}
	}
	return nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

func reload(ctx context.Context, run config.Run, props config.Properties, logger logging.Logger) (*keypool.KeyPool, error) {
	ranges := partitionShards(run.NumShards, run.Threads)
	drivers := make([]driver.Driver, run.Threads)
	loaders := make([]*loader.Loader, run.Threads)
	for i, r := range ranges {
		d, err := newDriver(run.DBName, props)
		if err != nil {
			return nil, err
		}
		drivers[i] = d
		var floor []string
		if r.start > 0 {
			floor = shardBound(r.start - 1)
		}
		ceiling := shardBound(r.end - 1)
		loaders[i] = loader.New(d, model.Edges, model.Objects, floor, ceiling, logger)
	}
	defer func() {
		for _, d := range drivers {
			_ = d.Cleanup()
		}
	}()

	failedCounts := make([]int, run.Threads)
	group, gctx := errgroup.WithContext(ctx)
	for i := range loaders {
		i := i
		group.Go(func() error {
			startupJitter()
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			failed, err := loaders[i].ReloadFromDB()
			if err != nil {
				return errors.Wrapf(err, "runner: reload thread %d", i)
			}
			failedCounts[i] = failed
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	shared := keypool.New()
	totalFailed := 0
	for i, l := range loaders {
		shared.Merge(l.Pool())
		totalFailed += failedCounts[i]
	}
	if totalFailed > 0 {
		logger.Warn("reload reported failed batch reads", logging.Fields.Int("failed", totalFailed))
	}
	loaded := shared.NumLoadedEdges()
	if run.Rows > 0 && loaded != run.Rows {
		logger.Warn("reload loaded a different row count than expected",
			logging.Fields.Int64("expected", run.Rows), logging.Fields.Int64("loaded", loaded))
	}
	return shared, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func runExperiment(ctx context.Context, run config.Run, spec *workloadspec.Config, experiment model.ExperimentInfo, props config.Properties, pool *keypool.KeyPool, meas *measurements.Measurements, logger logging.Logger) error {
	logger.Info("running experiment", logging.Fields.Experiment(experiment.NumThreads, experiment.NumOps, experiment.TargetThroughput)...)

	drivers := make([]driver.Driver, experiment.NumThreads)
	for i := 0; i < experiment.NumThreads; i++ {
		d, err := driver.CreateInstrumented(run.DBName, props, meas)
		if err != nil {
			return err
		}
		if err := d.Init(); err != nil {
			return errors.Wrapf(err, "runner: initializing experiment driver %d", i)
		}
		drivers[i] = d
	}
	defer func() {
		for _, d := range drivers {
			_ = d.Cleanup()
		}
	}()

	latch := worker.NewCountDownLatch(experiment.NumThreads)
	meas.Reset()
	start := time.Now()

	statusDone := make(chan struct{})
	if run.StatusEnabled {
		statusInterval := time.Duration(props.GetInt("status.interval", int(config.DefaultStatusInterval/time.Second))) * time.Second
		warmupPeriod := time.Duration(props.GetInt("warmup.period", int(config.DefaultWarmupPeriod/time.Second))) * time.Second
		go statusThread(meas, latch, statusInterval, warmupPeriod, statusDone, logger)
	} else {
		close(statusDone)
	}

	perThreadOps := distributeOps(experiment.NumOps, experiment.NumThreads)
	targetPerThread := experiment.TargetThroughput / float64(experiment.NumThreads)

	infos := make([]model.ClientThreadInfo, experiment.NumThreads)
	group, gctx := errgroup.WithContext(ctx)
	for i := 0; i < experiment.NumThreads; i++ {
		i := i
		rng := rand.New(rand.NewSource(rand.Int63()))
		wl := workload.New(spec, pool, model.Edges, model.Objects, newThreadTag(), rng)
		cfg := worker.Config{
			Driver:           drivers[i],
			Workload:         wl,
			NumOps:           perThreadOps[i],
			TargetThroughput: targetPerThread,
			SleepOnWait:      !run.Spin,
			CleanupDriver:    false,
			Latch:            latch,
		}
		group.Go(func() error {
			info, err := worker.Run(gctx, cfg)
			infos[i] = info
			return err
		})
	}
	err := group.Wait()
	runtime := time.Since(start)
	<-statusDone
	if err != nil {
		return errors.Wrap(err, "runner: running experiment")
	}

	var completed, failed, overtime int64
	for _, info := range infos {
		completed += info.CompletedOps
		failed += info.FailedOps
		overtime += info.OvertimeOps
	}

	logger.Info("experiment complete",
		logging.Fields.Duration("runtime", runtime),
		logging.Fields.Int64("completed_ops", completed),
		logging.Fields.Int64("failed_ops", failed),
		logging.Fields.Int64("overtime_ops", overtime),
		logging.Fields.Float64("throughput", float64(completed)/runtime.Seconds()),
	)
	logger.Info(meas.StatusMessage())

	if run.OutputDir != "" {
		if _, err := meas.WriteLatencies(run.OutputDir, time.Now().UnixMilli()); err != nil {
			return errors.Wrap(err, "runner: writing latencies")
		}
	}
	return nil
}

// statusThread mirrors benchmark.cc's StatusThread: it logs
// meas.StatusMessage() every interval until latch reaches zero, resetting
// meas exactly once after warmupPeriod elapses.
func statusThread(meas *measurements.Measurements, latch *worker.CountDownLatch, interval, warmupPeriod time.Duration, done chan<- struct{}, logger logging.Logger) {
	defer close(done)
	start := time.Now()
	resetDone := false
	for {
		elapsed := time.Since(start)
		if !resetDone && elapsed > warmupPeriod {
			meas.Reset()
			resetDone = true
		}
		logger.Info(meas.StatusMessage(), logging.Fields.Int64("elapsed_sec", int64(elapsed.Seconds())))
		if latch.AwaitFor(interval) {
			return
		}
	}
}

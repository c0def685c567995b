package runner_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracebench/tracebench/internal/config"
	_ "github.com/tracebench/tracebench/internal/drivers/memory"
	"github.com/tracebench/tracebench/internal/logging"
	"github.com/tracebench/tracebench/internal/model"
	"github.com/tracebench/tracebench/internal/runner"
	"github.com/tracebench/tracebench/internal/workloadspec"
)

func quietLogger(t *testing.T) logging.Logger {
	t.Helper()
	l, err := logging.New(logging.Config{Level: "fatal", Format: "console", Output: "stdout"})
	require.NoError(t, err)
	return l
}

func specFixture(t *testing.T) *workloadspec.Config {
	t.Helper()
	const spec = `{"name":"operations","weights":[1,1,1,1]}
{"name":"primary_shards","weights":[1,1]}
{"name":"remote_shards","weights":[1,1]}
{"name":"edge_types","values":["unique","bidirectional","unique_and_bidirectional","other"],"weights":[1,1,1,1]}
{"name":"read_operation_types","values":["obj_read","edge_read"],"weights":[1,1]}
{"name":"read_txn_operation_types","values":["obj_read","edge_read"],"weights":[1,1]}
{"name":"write_operation_types","values":["obj_add","edge_add","obj_update","edge_update","obj_delete","edge_delete"],"weights":[1,1,1,1,1,1]}
{"name":"read_txn_sizes","values":[1,2,3],"weights":[1,1,1]}
{"name":"write_txn_sizes","values":[1,2,3],"weights":[1,1,1]}
`
	cfg, err := workloadspec.Parse(strings.NewReader(spec))
	require.NoError(t, err)
	return cfg
}

func TestLoadPhasePopulatesMemoryDriver(t *testing.T) {
	run := config.Run{
		Threads:   2,
		DBName:    "memory",
		NumShards: 2,
		TotalOps:  10,
	}
	err := runner.LoadPhase(context.Background(), run, specFixture(t), config.Properties{}, quietLogger(t))
	require.NoError(t, err)
}

func TestRunPhaseLoadThenRunEndToEnd(t *testing.T) {
	props := config.Properties{}
	logger := quietLogger(t)

	run := config.Run{
		Threads:   2,
		DBName:    "memory",
		NumShards: 2,
		TotalOps:  20,
	}
	require.NoError(t, runner.LoadPhase(context.Background(), run, specFixture(t), props, logger))

	run.PreRunQuiesce = time.Millisecond
	run.InterExperimentSleep = time.Millisecond
	run.OutputDir = t.TempDir()

	experiments := []model.ExperimentInfo{
		{NumThreads: 2, NumOps: 6, TargetThroughput: 2000},
		{NumThreads: 1, NumOps: 3, TargetThroughput: 1000},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := runner.RunPhase(ctx, run, specFixture(t), experiments, props, logger, nil)
	require.NoError(t, err)
}

func TestRunPhaseZeroOpsExperimentCompletes(t *testing.T) {
	props := config.Properties{}
	logger := quietLogger(t)

	run := config.Run{
		Threads:              1,
		DBName:               "memory",
		NumShards:            1,
		TotalOps:             4,
		PreRunQuiesce:        time.Millisecond,
		InterExperimentSleep: time.Millisecond,
	}
	require.NoError(t, runner.LoadPhase(context.Background(), run, specFixture(t), props, logger))

	experiments := []model.ExperimentInfo{
		{NumThreads: 1, NumOps: 0, TargetThroughput: 1000},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := runner.RunPhase(ctx, run, specFixture(t), experiments, props, logger, nil)
	require.NoError(t, err)
}

func TestLoadPhaseRejectsUnknownDriver(t *testing.T) {
	run := config.Run{
		Threads:   1,
		DBName:    "does-not-exist",
		NumShards: 1,
		TotalOps:  2,
	}
	err := runner.LoadPhase(context.Background(), run, specFixture(t), config.Properties{}, quietLogger(t))
	assert.Error(t, err)
}

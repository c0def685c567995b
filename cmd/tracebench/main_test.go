package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/tracebench/tracebench/internal/drivers/memory"
)

func TestDriverRegisteredKnowsMemory(t *testing.T) {
	assert.True(t, driverRegistered("memory"))
	assert.False(t, driverRegistered("not-a-real-driver"))
}

func TestLoadPropertiesMergesFileAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "props.txt")
	require.NoError(t, os.WriteFile(path, []byte("edge_table=edges\n# comment\nobject_table=objects\n"), 0o644))

	opts := &CLIOptions{PropertiesPath: path, Overrides: []string{"object_table=things"}}
	props, err := loadProperties(opts)
	require.NoError(t, err)
	assert.Equal(t, "edges", props.GetString("edge_table", ""))
	assert.Equal(t, "things", props.GetString("object_table", ""))
}

func TestLoadPropertiesWithoutFileAppliesOverridesOnly(t *testing.T) {
	opts := &CLIOptions{Overrides: []string{"db.host=localhost"}}
	props, err := loadProperties(opts)
	require.NoError(t, err)
	assert.Equal(t, "localhost", props.GetString("db.host", ""))
}

func TestLoadWorkloadSpecRequiresPath(t *testing.T) {
	_, err := loadWorkloadSpec(&CLIOptions{})
	assert.Error(t, err)
}

func TestLoadExperimentsRequiresPath(t *testing.T) {
	_, err := loadExperiments(&CLIOptions{})
	assert.Error(t, err)
}

func TestLoadExperimentsParsesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "experiments.csv")
	require.NoError(t, os.WriteFile(path, []byte("# comment\n2,100,500\n4,200,1000\n"), 0o644))

	experiments, err := loadExperiments(&CLIOptions{ExperimentPath: path})
	require.NoError(t, err)
	require.Len(t, experiments, 2)
	assert.Equal(t, 2, experiments[0].NumThreads)
	assert.Equal(t, int64(100), experiments[0].NumOps)
	assert.Equal(t, 500.0, experiments[0].TargetThroughput)
}

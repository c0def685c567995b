package config

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/tracebench/tracebench/internal/model"
)

// ParseExperiments reads one experiment per line in the shape
// "num_threads,num_ops,target_throughput"; lines whose first non-whitespace
// character is '#' are ignored.
func ParseExperiments(r io.Reader) ([]model.ExperimentInfo, error) {
	var experiments []model.ExperimentInfo
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != 3 {
			return nil, errors.Errorf("config: experiment line %d: expected 3 comma-separated fields, got %d", lineNo, len(fields))
		}
		numThreads, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			return nil, errors.Wrapf(err, "config: experiment line %d: num_threads", lineNo)
		}
		numOps, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "config: experiment line %d: num_ops", lineNo)
		}
		throughput, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "config: experiment line %d: target_throughput", lineNo)
		}
		experiments = append(experiments, model.ExperimentInfo{
			NumThreads:       numThreads,
			NumOps:           numOps,
			TargetThroughput: throughput,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "config: reading experiment file")
	}
	return experiments, nil
}

// Package merge combines downloaded tiles into a single output file using an
// external merge tool, falling back to the first tile when merging fails.
package merge

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/lidarfetch/lidarfetch/internal/core/model"
	"github.com/lidarfetch/lidarfetch/internal/core/observability"
)

// Merger combines input files into one output under destDir.
type Merger interface {
	Merge(ctx context.Context, inputs []string, destDir string) (model.MergeOutcome, error)
}

const outputBase = "merged_output"

// CommandMerger shells out to an external merge tool. A merge failure is not
// a run failure: the outcome falls back to the first input so the caller
// still gets usable data.
type CommandMerger struct {
	log     *slog.Logger
	command string
	scheme  string
}

func NewCommandMerger(log *slog.Logger, command, scheme string) *CommandMerger {
	if command == "" {
		command = "pdal"
	}
	return &CommandMerger{log: log, command: command, scheme: scheme}
}

func (m *CommandMerger) Merge(ctx context.Context, inputs []string, destDir string) (model.MergeOutcome, error) {
	if len(inputs) == 0 {
		return model.MergeOutcome{}, errors.New("merge: no input files")
	}
	if len(inputs) == 1 {
		// nothing to merge
		return model.MergeOutcome{Path: inputs[0]}, nil
	}

	output := filepath.Join(destDir, outputBase+outputExt(inputs[0]))
	if err := os.Remove(output); err != nil && !os.IsNotExist(err) {
		m.log.Warn("could not remove previous merge output", "path", output, "err", err)
	}

	args := make([]string, 0, len(inputs)+2)
	args = append(args, "merge")
	for _, in := range inputs {
		args = append(args, m.inputArg(in))
	}
	args = append(args, output)

	start := time.Now()
	cmd := exec.CommandContext(ctx, m.command, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		observability.ObserveMerge("fallback")
		m.log.Warn("merge tool failed, falling back to first tile",
			"command", m.command, "err", err, "output", strings.TrimSpace(string(out)))
		return model.MergeOutcome{Path: inputs[0], Fallback: true}, nil
	}
	if _, err := os.Stat(output); err != nil {
		observability.ObserveMerge("fallback")
		m.log.Warn("merge tool produced no output, falling back to first tile", "path", output)
		return model.MergeOutcome{Path: inputs[0], Fallback: true}, nil
	}

	observability.ObserveMerge("success")
	m.log.Info("merged tiles", "inputs", len(inputs), "path", output,
		"duration", time.Since(start).Round(time.Millisecond))
	return model.MergeOutcome{Path: output}, nil
}

// inputArg applies the reader scheme for cloud-optimized point clouds, which
// the merge tool requires to pick the right driver.
func (m *CommandMerger) inputArg(path string) string {
	if m.scheme != "" && strings.HasSuffix(strings.ToLower(path), ".copc.laz") {
		return m.scheme + "://" + path
	}
	return path
}

// outputExt keeps the merged file in the family of its inputs: point clouds
// merge to .laz, rasters to .tif.
func outputExt(first string) string {
	lower := strings.ToLower(first)
	switch {
	case strings.HasSuffix(lower, ".laz"), strings.HasSuffix(lower, ".las"):
		return ".laz"
	case strings.HasSuffix(lower, ".tif"), strings.HasSuffix(lower, ".tiff"):
		return ".tif"
	default:
		return filepath.Ext(lower)
	}
}

package harness

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/weiihann/benchrun/target"
)

// Build compiles the benchmarks of the cargo workspace in manifestDir without
// running them and returns the resulting executables. cargoArgs are passed to
// cargo after the fixed arguments, e.g. "--bench", "parse" or "--features", "x".
func Build(
	ctx context.Context,
	logger *slog.Logger,
	manifestDir string,
	cargoArgs []string,
) ([]target.Target, error) {
	args := make([]string, 0, len(cargoArgs)+3)
	args = append(args, "bench", "--no-run", "--message-format=json-render-diagnostics")
	args = append(args, cargoArgs...)

	logger.InfoContext(ctx, "building benchmarks",
		slog.String("manifest_dir", manifestDir),
		slog.Any("cargo_args", cargoArgs),
	)

	cmd := exec.CommandContext(ctx, "cargo", args...)
	cmd.Dir = manifestDir

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("build benchmarks in %s: %w", manifestDir, err)
	}

	targets, err := parseArtifacts(&stdout)
	if err != nil {
		return nil, fmt.Errorf("build benchmarks in %s: %w", manifestDir, err)
	}

	if len(targets) == 0 {
		return nil, fmt.Errorf("build benchmarks in %s: no benchmark targets found", manifestDir)
	}

	for _, t := range targets {
		logger.InfoContext(ctx, "benchmark built",
			slog.String("target", t.Name),
			slog.String("executable", t.Executable),
		)
	}

	return targets, nil
}

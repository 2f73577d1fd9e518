// Package harness finds the benchmark targets of a cargo workspace.
package harness

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"github.com/weiihann/benchrun/target"
)

// cargoMessage is one line of cargo's --message-format=json output. Only the
// fields needed to find benchmark executables are decoded.
type cargoMessage struct {
	Reason     string      `json:"reason"`
	Target     cargoTarget `json:"target"`
	Executable *string     `json:"executable"`
	Success    *bool       `json:"success"`
}

type cargoTarget struct {
	Name string   `json:"name"`
	Kind []string `json:"kind"`
}

// parseArtifacts reads cargo's JSON message stream and returns the benchmark
// executables it produced, in build order.
func parseArtifacts(r io.Reader) ([]target.Target, error) {
	var targets []target.Target

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(text, "{") {
			continue
		}

		var msg cargoMessage
		if err := json.Unmarshal([]byte(text), &msg); err != nil {
			return nil, fmt.Errorf("decode cargo message on line %d: %w", line, err)
		}

		switch msg.Reason {
		case "compiler-artifact":
			if msg.Executable == nil || *msg.Executable == "" {
				continue
			}
			if !slices.Contains(msg.Target.Kind, "bench") {
				continue
			}
			targets = append(targets, target.Target{
				Name:       msg.Target.Name,
				Executable: *msg.Executable,
			})

		case "build-finished":
			if msg.Success != nil && !*msg.Success {
				return nil, fmt.Errorf("cargo reported a failed build")
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read cargo output: %w", err)
	}

	return targets, nil
}

// ParseTargetSpec parses a "name=path" target description. A bare path is
// named after its file.
func ParseTargetSpec(spec string) (target.Target, error) {
	name, path, found := strings.Cut(spec, "=")
	if !found {
		path = spec
		name = filepath.Base(spec)
	}

	name = strings.TrimSpace(name)
	path = strings.TrimSpace(path)

	if name == "" || path == "" {
		return target.Target{}, fmt.Errorf("invalid target %q: want name=path", spec)
	}

	return target.Target{Name: name, Executable: path}, nil
}

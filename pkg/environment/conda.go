// Package environment owns the lifecycle of one isolated conda environment
// per tool.
//
// Install policy is two-phase: every requirement is first pinned to its
// exact declared version; on failure the install retries with the version as
// a floor. The installed package set is reported after success for
// observability.
package environment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/rhea-ai/rhea/pkg/toolspec"
)

// ArgvWrapper lets a scheduler provider reshape a command line before
// execution (container run prefix, batch submission wrapper). The identity
// wrapper runs commands directly on the local host.
type ArgvWrapper func(argv []string) []string

// InstallError reports a two-phase install that exhausted both phases.
type InstallError struct {
	Env     string
	Strict  string
	Relaxed string
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("environment %s: install failed in both phases: %s", e.Env, e.Relaxed)
}

// ExecResult carries a finished subprocess call.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Manager creates, runs inside, and destroys conda environments.
type Manager struct {
	condaBin string
	wrap     ArgvWrapper
}

// NewManager creates a Manager executing through the given wrapper. A nil
// wrapper runs conda directly.
func NewManager(wrap ArgvWrapper) *Manager {
	if wrap == nil {
		wrap = func(argv []string) []string { return argv }
	}
	return &Manager{condaBin: "conda", wrap: wrap}
}

// PackageSpecs converts a requirements list into conda package
// specifications. strict pins exact versions; otherwise the declared version
// becomes a floor. Requirement types other than "package" are rejected.
func PackageSpecs(requirements []toolspec.Requirement, strict bool) ([]string, error) {
	specs := make([]string, 0, len(requirements))
	for _, r := range requirements {
		if r.Type != "package" {
			return nil, fmt.Errorf("environment: requirement type %q not supported", r.Type)
		}
		if strict {
			specs = append(specs, fmt.Sprintf("%s=%s", r.Value, r.Version))
		} else {
			specs = append(specs, fmt.Sprintf("%s>=%s", r.Value, r.Version))
		}
	}
	return specs, nil
}

// Create builds the environment and installs the requirements, returning the
// installed package set.
func (m *Manager) Create(ctx context.Context, envID string, requirements []toolspec.Requirement) ([]string, error) {
	var strictOut string
	for _, strict := range []bool{true, false} {
		specs, err := PackageSpecs(requirements, strict)
		if err != nil {
			return nil, err
		}
		slog.Info("installing conda packages", "env", envID, "strict", strict, "packages", strings.Join(specs, " "))

		argv := append([]string{m.condaBin, "create", "-n", envID, "-y"}, specs...)
		res, err := m.exec(ctx, argv, nil, "")
		if err != nil {
			return nil, err
		}
		if res.ExitCode == 0 {
			return m.List(ctx, envID)
		}
		if strict {
			strictOut = res.Stdout + "\n" + res.Stderr
			continue
		}
		return nil, &InstallError{
			Env:     envID,
			Strict:  strings.TrimSpace(strictOut),
			Relaxed: strings.TrimSpace(res.Stdout + "\n" + res.Stderr),
		}
	}
	return nil, &InstallError{Env: envID}
}

// List reports the installed packages as name=version strings.
func (m *Manager) List(ctx context.Context, envID string) ([]string, error) {
	res, err := m.exec(ctx, []string{m.condaBin, "list", "-n", envID, "--json"}, nil, "")
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("environment %s: list packages: %s", envID, res.Stderr)
	}

	var pkgInfo []struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}
	if err := json.Unmarshal([]byte(res.Stdout), &pkgInfo); err != nil {
		return nil, fmt.Errorf("environment %s: parse package list: %w", envID, err)
	}

	packages := make([]string, len(pkgInfo))
	for i, p := range pkgInfo {
		packages[i] = fmt.Sprintf("%s=%s", p.Name, p.Version)
	}
	return packages, nil
}

// Run executes a script inside the environment with the prepared env and
// working directory. A non-zero exit is returned in the result, not as an
// error; only infrastructure faults raise.
func (m *Manager) Run(ctx context.Context, envID, scriptPath string, env map[string]string, cwd string) (*ExecResult, error) {
	argv := []string{m.condaBin, "run", "-n", envID, "--no-capture-output", "bash", scriptPath}
	return m.exec(ctx, argv, env, cwd)
}

// RunVersionCommand runs the descriptor's version command inside the
// environment and returns its stdout.
func (m *Manager) RunVersionCommand(ctx context.Context, envID, command string) (string, error) {
	if command == "" {
		return "", nil
	}
	script, err := os.CreateTemp("", "rhea-version-*.sh")
	if err != nil {
		return "", fmt.Errorf("environment %s: version script: %w", envID, err)
	}
	defer os.Remove(script.Name())

	if _, err := script.WriteString("#!/usr/bin/env bash\n" + command + "\n"); err != nil {
		script.Close()
		return "", fmt.Errorf("environment %s: version script: %w", envID, err)
	}
	script.Close()
	if err := os.Chmod(script.Name(), 0o755); err != nil {
		return "", fmt.Errorf("environment %s: version script: %w", envID, err)
	}

	res, err := m.Run(ctx, envID, script.Name(), nil, "")
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("environment %s: version command: %s", envID, res.Stderr)
	}
	return res.Stdout, nil
}

// Destroy removes the environment. Best-effort and idempotent: a missing
// environment is not an error.
func (m *Manager) Destroy(ctx context.Context, envID string) error {
	res, err := m.exec(ctx, []string{m.condaBin, "env", "remove", "-n", envID, "-y"}, nil, "")
	if err != nil {
		return err
	}
	if res.ExitCode != 0 && !strings.Contains(res.Stderr, "Could not find") {
		slog.Warn("conda env remove reported failure", "env", envID, "stderr", strings.TrimSpace(res.Stderr))
	}
	return nil
}

func (m *Manager) exec(ctx context.Context, argv []string, env map[string]string, cwd string) (*ExecResult, error) {
	argv = m.wrap(argv)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = cwd
	if env != nil {
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("environment: exec %s: %w", argv[0], err)
		}
	}

	return &ExecResult{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

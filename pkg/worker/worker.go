// Package worker provides the long-lived executor bound to exactly one
// tool.
//
// A worker stages file inputs from the object store into a scratch
// directory, mirrors the tool's resources, renders the command template,
// executes the script inside the tool's conda environment, and registers
// discovered outputs back into the store. Execution inside one worker is
// strictly sequential; parallelism exists only across workers.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rhea-ai/rhea/pkg/artifact"
	"github.com/rhea-ai/rhea/pkg/environment"
	"github.com/rhea-ai/rhea/pkg/objectstore"
	"github.com/rhea-ai/rhea/pkg/params"
	"github.com/rhea-ai/rhea/pkg/template"
	"github.com/rhea-ai/rhea/pkg/toolspec"
)

// State is a worker's lifecycle phase.
type State int

const (
	StateProvisioning State = iota
	StateReady
	StateBusy
	StateDraining
	StateDead
)

func (s State) String() string {
	switch s {
	case StateProvisioning:
		return "provisioning"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateDraining:
		return "draining"
	case StateDead:
		return "dead"
	}
	return "unknown"
}

// ErrBusy is returned when Run is called on a worker already executing.
var ErrBusy = errors.New("worker: busy")

// ErrNotReady is returned when Run is called outside the Ready state.
var ErrNotReady = errors.New("worker: not ready")

// CrashError marks an infrastructure fault during a run. The worker moves
// to Dead and the call fails fast; there is no automatic retry on another
// worker because tool execution may have side effects.
type CrashError struct {
	Tool string
	Err  error
}

func (e *CrashError) Error() string {
	return fmt.Sprintf("worker for tool %s crashed: %v", e.Tool, e.Err)
}

func (e *CrashError) Unwrap() error { return e.Err }

// DataOutput is one registered output artifact.
type DataOutput struct {
	Handle   objectstore.Handle `json:"key"`
	Size     int64              `json:"size"`
	Filename string             `json:"filename"`
	Name     string             `json:"name,omitempty"`
	Format   string             `json:"format,omitempty"`
}

// Result is a finished invocation. A non-zero exit code is a successful
// invocation whose tool failed; stdout and stderr are always present.
type Result struct {
	ExitCode    int                         `json:"return_code"`
	Stdout      string                      `json:"stdout"`
	Stderr      string                      `json:"stderr"`
	Files       []DataOutput                `json:"files,omitempty"`
	Collections []toolspec.CollectionOutput `json:"collections,omitempty"`
}

// EnvRunner executes scripts inside a named environment. Satisfied by
// *environment.Manager.
type EnvRunner interface {
	Run(ctx context.Context, envID, scriptPath string, env map[string]string, cwd string) (*environment.ExecResult, error)
}

// Worker executes one tool.
type Worker struct {
	tool   *toolspec.Tool
	envID  string
	store  objectstore.Store
	runner EnvRunner

	runTimeout time.Duration

	mu        sync.Mutex
	state     State
	created   time.Time
	lastUsed  time.Time
	installed []string
}

// New constructs a worker in the Provisioning state.
func New(tool *toolspec.Tool, envID string, store objectstore.Store, runner EnvRunner, runTimeout time.Duration) *Worker {
	now := time.Now()
	return &Worker{
		tool:       tool,
		envID:      envID,
		store:      store,
		runner:     runner,
		runTimeout: runTimeout,
		state:      StateProvisioning,
		created:    now,
		lastUsed:   now,
	}
}

// Tool returns the descriptor this worker serves.
func (w *Worker) Tool() *toolspec.Tool { return w.tool }

// EnvID returns the conda environment identifier.
func (w *Worker) EnvID() string { return w.envID }

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// LastUsed returns when the worker last finished a call.
func (w *Worker) LastUsed() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastUsed
}

// SetInstalled records the installed package set after provisioning and
// moves the worker to Ready.
func (w *Worker) SetInstalled(packages []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.installed = packages
	if w.state == StateProvisioning {
		w.state = StateReady
	}
}

// Installed returns the package set installed into the environment.
func (w *Worker) Installed() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.installed
}

// Drain marks the worker as draining; a drained worker accepts no further
// calls.
func (w *Worker) Drain() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateDead {
		w.state = StateDraining
	}
}

// Kill marks the worker dead.
func (w *Worker) Kill() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = StateDead
}

func (w *Worker) acquire() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.state {
	case StateBusy:
		return ErrBusy
	case StateReady:
		w.state = StateBusy
		return nil
	default:
		return fmt.Errorf("%w: state %s", ErrNotReady, w.state)
	}
}

func (w *Worker) release(next State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateBusy {
		w.state = next
	}
	w.lastUsed = time.Now()
}

// Run executes the tool with the given typed parameters.
func (w *Worker) Run(ctx context.Context, invocation []params.Param) (*Result, error) {
	if err := w.acquire(); err != nil {
		return nil, err
	}

	result, err := w.run(ctx, invocation)
	switch {
	case err == nil:
		w.release(StateReady)
	case errors.Is(err, context.DeadlineExceeded):
		w.release(StateDraining)
	default:
		var crash *CrashError
		if errors.As(err, &crash) {
			w.release(StateDead)
		} else {
			w.release(StateReady)
		}
	}
	return result, err
}

func (w *Worker) run(ctx context.Context, invocation []params.Param) (*Result, error) {
	inputDir, err := os.MkdirTemp("", "rhea-input-*")
	if err != nil {
		return nil, fmt.Errorf("worker: scratch input dir: %w", err)
	}
	defer os.RemoveAll(inputDir)

	outputDir, err := os.MkdirTemp("", "rhea-output-*")
	if err != nil {
		return nil, fmt.Errorf("worker: scratch output dir: %w", err)
	}
	defer os.RemoveAll(outputDir)

	env := template.Env{}

	// Stage inputs and render the remaining parameters.
	if err := w.buildEnvParameters(ctx, env, invocation, inputDir); err != nil {
		return nil, err
	}

	// Mirror the tool-resources prefix from the object store.
	toolDir, err := w.mirrorToolDirectory(ctx)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(toolDir)
	env["__tool_directory__"] = template.Scalar(toolDir)

	// Declared outputs resolve to absolute paths under the scratch output
	// directory.
	buildOutputEnv(env, w.tool.Outputs.Data, outputDir)

	// Render configfiles and export their paths.
	configDir, err := w.renderConfigFiles(env)
	if configDir != "" {
		defer os.RemoveAll(configDir)
	}
	if err != nil {
		return nil, err
	}

	// Render the command and write the script.
	body, err := template.Render(w.tool.Command, env, &template.Options{Interpreter: w.tool.Interpreter})
	if err != nil {
		return nil, err
	}
	scriptPath := filepath.Join(outputDir, "tool_script.sh")
	if err := os.WriteFile(scriptPath, []byte(template.Script(body)), 0o755); err != nil {
		return nil, fmt.Errorf("worker: write script: %w", err)
	}

	runCtx := ctx
	if w.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.runTimeout)
		defer cancel()
	}

	slog.Info("running tool", "tool_id", w.tool.ID, "env", w.envID, "script", scriptPath)
	execRes, err := w.runner.Run(runCtx, w.envID, scriptPath, env.Strings(), toolDir)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &CrashError{Tool: w.tool.ID, Err: err}
	}

	result := &Result{
		ExitCode: execRes.ExitCode,
		Stdout:   execRes.Stdout,
		Stderr:   execRes.Stderr,
	}
	if err := w.discoverOutputs(ctx, result, env, outputDir); err != nil {
		return nil, err
	}
	return result, nil
}

// buildEnvParameters stages file parameters under the input directory and
// renders everything else into env. Repeated file parameters accumulate
// into a list value. Optional declared parameters missing from the
// invocation fall back to their declared default.
func (w *Worker) buildEnvParameters(ctx context.Context, env template.Env, invocation []params.Param, inputDir string) error {
	for _, p := range invocation {
		switch v := p.(type) {
		case *params.File:
			data, err := w.store.Get(ctx, v.Handle)
			if err != nil {
				return fmt.Errorf("stage input %s: %w", v.Name(), err)
			}
			filename := v.Filename
			// Uploaded inputs arrive wrapped in a proxy envelope; raw
			// handles (test fixtures, direct seeding) stage as-is.
			if proxy, perr := artifact.Decode(data); perr == nil {
				data = proxy.Contents
				if filename == "" {
					filename = proxy.Filename
				}
			}
			path := filepath.Join(inputDir, string(v.Handle))
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("stage input %s: %w", v.Name(), err)
			}

			value := template.FileValue(path, filename, v.Format)
			if existing, ok := env[v.Name()]; ok {
				if list, isList := existing.(template.List); isList {
					env[v.Name()] = append(list, value)
				} else {
					env[v.Name()] = template.List{existing, value}
				}
			} else {
				env[v.Name()] = value
			}
		default:
			env[p.Name()] = template.Scalar(params.Render(p))
		}
	}

	for i := range w.tool.Inputs.Params {
		decl := &w.tool.Inputs.Params[i]
		name := decl.EffectiveName()
		if !decl.Optional || name == "" || decl.Value == "" {
			continue
		}
		if _, ok := env[name]; !ok {
			env[name] = template.Scalar(decl.Value)
		}
	}
	return nil
}

// mirrorToolDirectory pulls every object under the tool's resource prefix
// into a temporary directory.
func (w *Worker) mirrorToolDirectory(ctx context.Context) (string, error) {
	dir, err := os.MkdirTemp("", "rhea-tooldir-*")
	if err != nil {
		return "", fmt.Errorf("worker: tool directory: %w", err)
	}

	prefix := w.tool.ID + "/"
	objects, err := w.store.Iter(ctx, prefix)
	if err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("worker: mirror tool resources: %w", err)
	}

	for _, obj := range objects {
		rel := obj.Key[len(prefix):]
		local := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
			os.RemoveAll(dir)
			return "", fmt.Errorf("worker: mirror tool resources: %w", err)
		}
		if err := os.WriteFile(local, obj.Data, 0o644); err != nil {
			os.RemoveAll(dir)
			return "", fmt.Errorf("worker: mirror tool resources: %w", err)
		}
	}
	slog.Debug("mirrored tool resources", "tool_id", w.tool.ID, "objects", len(objects), "dir", dir)
	return dir, nil
}

// renderConfigFiles writes each declared configfile and exports its path
// under the configfile's name. Returns the directory holding them.
func (w *Worker) renderConfigFiles(env template.Env) (string, error) {
	if len(w.tool.ConfigFiles) == 0 {
		return "", nil
	}
	dir, err := os.MkdirTemp("", "rhea-config-*")
	if err != nil {
		return "", fmt.Errorf("worker: configfiles: %w", err)
	}
	for _, cf := range w.tool.ConfigFiles {
		text, err := template.RenderConfig(cf.Text, env)
		if err != nil {
			return dir, err
		}
		path := filepath.Join(dir, cf.Name)
		if err := os.WriteFile(path, []byte(text), 0o755); err != nil {
			return dir, fmt.Errorf("worker: configfile %s: %w", cf.Name, err)
		}
		env[cf.Name] = template.Scalar(path)
	}
	return dir, nil
}

// buildOutputEnv computes output environment variables: each declared data
// output maps to output_dir/from_work_dir when present, else
// output_dir/name.
func buildOutputEnv(env template.Env, outputs []toolspec.DataOutput, outputDir string) {
	for _, out := range outputs {
		if out.FromWorkDir != "" {
			env[out.Name] = template.Scalar(filepath.Join(outputDir, out.FromWorkDir))
		} else {
			env[out.Name] = template.Scalar(filepath.Join(outputDir, out.Name))
		}
	}
}

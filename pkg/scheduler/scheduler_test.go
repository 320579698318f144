package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhea-ai/rhea/pkg/config"
	"github.com/rhea-ai/rhea/pkg/environment"
	"github.com/rhea-ai/rhea/pkg/objectstore"
	"github.com/rhea-ai/rhea/pkg/toolspec"
)

type fakeEnvs struct {
	mu       sync.Mutex
	created  []string
	removed  []string
	blockRun func() // optional hook, lets tests stall executions
}

func (f *fakeEnvs) Create(ctx context.Context, envID string, reqs []toolspec.Requirement) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, envID)
	return []string{"python=3.12"}, nil
}

func (f *fakeEnvs) Destroy(ctx context.Context, envID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, envID)
	return nil
}

func (f *fakeEnvs) Run(ctx context.Context, envID, scriptPath string, env map[string]string, cwd string) (*environment.ExecResult, error) {
	if f.blockRun != nil {
		f.blockRun()
	}
	return &environment.ExecResult{ExitCode: 0}, nil
}

func (f *fakeEnvs) creations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type countingRegistry struct {
	registered   atomic.Int64
	deregistered atomic.Int64
}

func (r *countingRegistry) Register(ctx context.Context, toolID, blockID string) error {
	r.registered.Add(1)
	return nil
}

func (r *countingRegistry) Deregister(ctx context.Context, toolID string) error {
	r.deregistered.Add(1)
	return nil
}

func (r *countingRegistry) Count(ctx context.Context) (int64, error) {
	return r.registered.Load() - r.deregistered.Load(), nil
}

func testConfig(maxBlocks int) config.SchedulerConfig {
	return config.SchedulerConfig{
		Provider:       "local",
		MaxBlocks:      maxBlocks,
		AcquireTimeout: 200 * time.Millisecond,
		RunTimeout:     time.Minute,
		WorkerTTL:      time.Hour,
	}
}

func newTestScheduler(t *testing.T, maxBlocks int, envs *fakeEnvs, registry HandleRegistry) *Scheduler {
	t.Helper()
	s := New(testConfig(maxBlocks), &LocalProvider{}, objectstore.NewMemoryStore(), registry, "run1",
		WithEnvironmentFactory(func(environment.ArgvWrapper) Environments { return envs }),
	)
	t.Cleanup(s.Shutdown)
	return s
}

func TestEnsureReusesWorker(t *testing.T) {
	envs := &fakeEnvs{}
	s := newTestScheduler(t, 4, envs, nil)
	tool := &toolspec.Tool{ID: "tool-a", Version: "1.0"}

	first, err := s.Ensure(context.Background(), tool)
	require.NoError(t, err)
	second, err := s.Ensure(context.Background(), tool)
	require.NoError(t, err)

	// Two sequential calls to the same tool: exactly one provisioning.
	assert.Same(t, first, second)
	assert.Equal(t, 1, envs.creations())

	// A different tool provisions a second worker.
	other, err := s.Ensure(context.Background(), &toolspec.Tool{ID: "tool-b", Version: "1.0"})
	require.NoError(t, err)
	assert.NotSame(t, first, other)
	assert.Equal(t, 2, envs.creations())
	assert.Equal(t, 2, s.WorkerCount())
}

func TestEnsureConcurrentCallersShareProvisioning(t *testing.T) {
	envs := &fakeEnvs{}
	s := newTestScheduler(t, 4, envs, nil)
	tool := &toolspec.Tool{ID: "tool-a", Version: "1.0"}

	var wg sync.WaitGroup
	handles := make([]*Handle, 8)
	for i := 0; i < len(handles); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := s.Ensure(context.Background(), tool)
			require.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, envs.creations())
	for _, h := range handles[1:] {
		assert.Same(t, handles[0], h)
	}
}

func TestEnsureReplacesDeadWorker(t *testing.T) {
	envs := &fakeEnvs{}
	s := newTestScheduler(t, 4, envs, nil)
	tool := &toolspec.Tool{ID: "tool-a", Version: "1.0"}

	first, err := s.Ensure(context.Background(), tool)
	require.NoError(t, err)
	first.Worker.Kill()

	second, err := s.Ensure(context.Background(), tool)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, envs.creations())
}

func TestEnsurePoolExhaustion(t *testing.T) {
	envs := &fakeEnvs{}
	s := newTestScheduler(t, 1, envs, nil)

	_, err := s.Ensure(context.Background(), &toolspec.Tool{ID: "tool-a", Version: "1"})
	require.NoError(t, err)

	_, err = s.Ensure(context.Background(), &toolspec.Tool{ID: "tool-b", Version: "1"})
	assert.ErrorIs(t, err, ErrResourceExhausted)
}

func TestEnsureRegistersHandle(t *testing.T) {
	envs := &fakeEnvs{}
	registry := &countingRegistry{}
	s := newTestScheduler(t, 2, envs, registry)

	h, err := s.Ensure(context.Background(), &toolspec.Tool{ID: "tool-a", Version: "1"})
	require.NoError(t, err)
	assert.Equal(t, "agent_handle:run1-tool-a", h.Key)
	assert.Equal(t, int64(1), registry.registered.Load())
}

func TestShutdownDrainsWorkers(t *testing.T) {
	envs := &fakeEnvs{}
	registry := &countingRegistry{}
	s := New(testConfig(2), &LocalProvider{}, objectstore.NewMemoryStore(), registry, "run1",
		WithEnvironmentFactory(func(environment.ArgvWrapper) Environments { return envs }),
	)

	_, err := s.Ensure(context.Background(), &toolspec.Tool{ID: "tool-a", Version: "1"})
	require.NoError(t, err)

	s.Shutdown()
	assert.Equal(t, 0, s.WorkerCount())
	assert.Equal(t, int64(1), registry.deregistered.Load())
	envs.mu.Lock()
	defer envs.mu.Unlock()
	assert.Equal(t, []string{"rhea-tool-a"}, envs.removed)
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "rhea-abc123", envName("abc123"))
	assert.Equal(t, "rhea-my_tool_1_2", envName("my tool/1.2"))
}

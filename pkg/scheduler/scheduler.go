// Package scheduler maintains the bounded pool of worker blocks.
//
// Workers are provisioned lazily on first use of a tool, reused across
// calls, and drained when idle beyond their TTL. At most one worker exists
// per (tool id, version) across the fleet. When the pool is saturated,
// Ensure blocks until a slot frees or the acquire timeout expires.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/rhea-ai/rhea/pkg/config"
	"github.com/rhea-ai/rhea/pkg/environment"
	"github.com/rhea-ai/rhea/pkg/objectstore"
	"github.com/rhea-ai/rhea/pkg/toolspec"
	"github.com/rhea-ai/rhea/pkg/worker"
)

// ErrResourceExhausted is returned when no block frees within the acquire
// timeout.
var ErrResourceExhausted = errors.New("scheduler: no free worker slot")

// Handle binds a provisioned worker to its registry key and block.
type Handle struct {
	Key    string
	Worker *worker.Worker
	Block  *Block
}

// Environments is the slice of the environment manager the scheduler
// drives. Satisfied by *environment.Manager.
type Environments interface {
	worker.EnvRunner
	Create(ctx context.Context, envID string, requirements []toolspec.Requirement) ([]string, error)
	Destroy(ctx context.Context, envID string) error
}

// EnvironmentFactory builds the environment manager for one block.
type EnvironmentFactory func(wrap environment.ArgvWrapper) Environments

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithEnvironmentFactory overrides how environment managers are built
// (used by tests and alternative package backends).
func WithEnvironmentFactory(factory EnvironmentFactory) Option {
	return func(s *Scheduler) {
		s.newEnv = factory
	}
}

type entry struct {
	ready  chan struct{}
	handle *Handle
	err    error
}

// Scheduler provisions and pools workers.
type Scheduler struct {
	cfg      config.SchedulerConfig
	provider Provider
	store    objectstore.Store
	registry HandleRegistry
	runID    string

	slots chan struct{}

	newEnv EnvironmentFactory

	mu      sync.Mutex
	workers map[string]*entry // keyed by tool id @ version

	reapStop chan struct{}
	reapDone chan struct{}
}

// New creates a scheduler over the given provider and registry. A nil
// registry disables handle publication.
func New(cfg config.SchedulerConfig, provider Provider, store objectstore.Store, registry HandleRegistry, runID string, opts ...Option) *Scheduler {
	if registry == nil {
		registry = NoopRegistry{}
	}
	s := &Scheduler{
		cfg:      cfg,
		provider: provider,
		store:    store,
		registry: registry,
		runID:    runID,
		slots:    make(chan struct{}, cfg.MaxBlocks),
		newEnv:   func(wrap environment.ArgvWrapper) Environments { return environment.NewManager(wrap) },
		workers:  make(map[string]*entry),
		reapStop: make(chan struct{}),
		reapDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.reapLoop()
	return s
}

func workerKey(tool *toolspec.Tool) string {
	return tool.ID + "@" + tool.Version
}

// Ensure returns the worker handle for a tool, provisioning one on first
// use. Concurrent callers for the same tool share a single provisioning.
func (s *Scheduler) Ensure(ctx context.Context, tool *toolspec.Tool) (*Handle, error) {
	key := workerKey(tool)

	s.mu.Lock()
	if e, ok := s.workers[key]; ok {
		s.mu.Unlock()
		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if e.err != nil {
			return nil, e.err
		}
		switch e.handle.Worker.State() {
		case worker.StateDraining, worker.StateDead:
			// Stale handle: tear the remains down and provision afresh.
			s.drain(key)
			return s.Ensure(ctx, tool)
		}
		return e.handle, nil
	}

	e := &entry{ready: make(chan struct{})}
	s.workers[key] = e
	s.mu.Unlock()

	handle, err := s.provision(ctx, tool)
	e.handle, e.err = handle, err
	close(e.ready)

	if err != nil {
		s.mu.Lock()
		delete(s.workers, key)
		s.mu.Unlock()
		return nil, err
	}
	return handle, nil
}

func (s *Scheduler) provision(ctx context.Context, tool *toolspec.Tool) (*Handle, error) {
	// Wait for a pool slot.
	select {
	case s.slots <- struct{}{}:
	case <-time.After(s.cfg.AcquireTimeout):
		return nil, fmt.Errorf("%w: tool %s waited %s", ErrResourceExhausted, tool.ID, s.cfg.AcquireTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	handle, err := s.boot(ctx, tool)
	if err != nil {
		<-s.slots
		return nil, err
	}
	return handle, nil
}

func (s *Scheduler) boot(ctx context.Context, tool *toolspec.Tool) (*Handle, error) {
	slog.Info("provisioning worker", "tool_id", tool.ID, "provider", s.provider.Name())

	block, err := s.provider.Allocate(ctx, tool)
	if err != nil {
		return nil, fmt.Errorf("scheduler: allocate block: %w", err)
	}

	manager := s.newEnv(block.Wrapper)
	envID := envName(tool.ID)

	provisionCtx := ctx
	if s.cfg.ProvisionTimeout > 0 {
		var cancel context.CancelFunc
		provisionCtx, cancel = context.WithTimeout(ctx, s.cfg.ProvisionTimeout)
		defer cancel()
	}

	installed, err := manager.Create(provisionCtx, envID, tool.PackageRequirements())
	if err != nil {
		s.provider.Free(block)
		return nil, err
	}

	w := worker.New(tool, envID, s.store, manager, s.cfg.RunTimeout)
	w.SetInstalled(installed)

	key := handleKeyPrefix + s.runID + "-" + tool.ID
	logRegistryErr("register", s.registry.Register(ctx, tool.ID, block.ID))

	slog.Info("worker ready", "tool_id", tool.ID, "env", envID, "block", block.ID, "packages", len(installed))
	return &Handle{Key: key, Worker: w, Block: block}, nil
}

// envName derives a conda environment identifier from a tool id.
func envName(toolID string) string {
	return "rhea-" + envNamePattern.ReplaceAllString(toolID, "_")
}

var envNamePattern = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// reapLoop drains workers idle beyond the TTL.
func (s *Scheduler) reapLoop() {
	defer close(s.reapDone)
	if s.cfg.WorkerTTL <= 0 {
		<-s.reapStop
		return
	}

	ticker := time.NewTicker(s.cfg.WorkerTTL / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.reapIdle()
		case <-s.reapStop:
			return
		}
	}
}

func (s *Scheduler) reapIdle() {
	cutoff := time.Now().Add(-s.cfg.WorkerTTL)

	s.mu.Lock()
	var victims []string
	for key, e := range s.workers {
		select {
		case <-e.ready:
		default:
			continue // still provisioning
		}
		if e.err != nil {
			continue
		}
		w := e.handle.Worker
		if w.State() == worker.StateReady && w.LastUsed().Before(cutoff) {
			victims = append(victims, key)
		}
	}
	s.mu.Unlock()

	for _, key := range victims {
		s.drain(key)
	}
}

// drain tears one worker down and frees its slot.
func (s *Scheduler) drain(key string) {
	s.mu.Lock()
	e, ok := s.workers[key]
	if ok {
		delete(s.workers, key)
	}
	s.mu.Unlock()
	if !ok || e.err != nil {
		return
	}

	h := e.handle
	h.Worker.Drain()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	manager := s.newEnv(h.Block.Wrapper)
	if err := manager.Destroy(ctx, h.Worker.EnvID()); err != nil {
		slog.Warn("environment destroy failed", "env", h.Worker.EnvID(), "error", err)
	}
	logRegistryErr("deregister", s.registry.Deregister(ctx, h.Worker.Tool().ID))
	s.provider.Free(h.Block)
	h.Worker.Kill()
	<-s.slots

	slog.Info("worker drained", "tool_id", h.Worker.Tool().ID, "env", h.Worker.EnvID())
}

// WorkerCount reports the number of pooled workers (provisioned or in
// flight).
func (s *Scheduler) WorkerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// Shutdown drains every worker and stops the reaper.
func (s *Scheduler) Shutdown() {
	close(s.reapStop)
	<-s.reapDone

	s.mu.Lock()
	keys := make([]string, 0, len(s.workers))
	for key := range s.workers {
		keys = append(keys, key)
	}
	s.mu.Unlock()

	for _, key := range keys {
		s.drain(key)
	}
}

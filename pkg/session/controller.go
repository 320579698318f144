// Package session provides the per-session tool registry and the invocation
// dispatch path.
//
// A session sees the global baseline (only find_tools) plus whatever
// bindings its own find calls installed. Bindings never leak across
// sessions; idle sessions are swept after their TTL.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rhea-ai/rhea/pkg/index"
	"github.com/rhea-ai/rhea/pkg/params"
	"github.com/rhea-ai/rhea/pkg/scheduler"
	"github.com/rhea-ai/rhea/pkg/toolspec"
	"github.com/rhea-ai/rhea/pkg/worker"
)

// DefaultTopK is how many tools one find call retrieves.
const DefaultTopK = 10

// ErrUnknownTool is returned when a call names no resolvable binding.
var ErrUnknownTool = errors.New("session: unknown tool")

// Binding maps a sanitized tool name to its descriptor within one session.
type Binding struct {
	Name string
	Tool *toolspec.Tool
}

// FindResult reports a find operation: which bindings were cleared and
// which were installed.
type FindResult struct {
	Removed []string
	Added   []Binding
}

// state is one live session.
type state struct {
	mu       sync.Mutex
	bindings map[string]*toolspec.Tool // sanitized name -> descriptor
	lastSeen time.Time
}

// Controller owns session states and dispatches tool invocations.
type Controller struct {
	catalog *toolspec.Catalog
	index   index.Semantic
	sched   *scheduler.Scheduler
	ttl     time.Duration

	mu       sync.Mutex
	sessions map[string]*state

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// NewController creates a session controller sweeping idle sessions after
// ttl.
func NewController(catalog *toolspec.Catalog, idx index.Semantic, sched *scheduler.Scheduler, ttl time.Duration) *Controller {
	c := &Controller{
		catalog:   catalog,
		index:     idx,
		sched:     sched,
		ttl:       ttl,
		sessions:  make(map[string]*state),
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

func (c *Controller) session(id string) *state {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	if !ok {
		s = &state{bindings: make(map[string]*toolspec.Tool)}
		c.sessions[id] = s
	}
	s.lastSeen = time.Now()
	return s
}

// Find clears the session's previous bindings, retrieves the top-K relevant
// tools from the semantic index, and installs a binding per resolved
// descriptor.
func (c *Controller) Find(ctx context.Context, sessionID, query string) (*FindResult, error) {
	ids, err := c.index.Find(ctx, query, DefaultTopK)
	if err != nil {
		return nil, err
	}

	s := c.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &FindResult{}
	for name := range s.bindings {
		result.Removed = append(result.Removed, name)
	}
	s.bindings = make(map[string]*toolspec.Tool)

	for _, id := range ids {
		tool, ok := c.catalog.Get(id)
		if !ok {
			slog.Warn("index returned unknown tool", "tool_id", id)
			continue
		}
		name := SanitizeToolName(strings.ToLower(tool.Name))
		if name == "" {
			name = tool.ID
		}
		s.bindings[name] = tool
		result.Added = append(result.Added, Binding{Name: name, Tool: tool})
	}

	slog.Info("session bindings updated", "session_id", sessionID, "removed", len(result.Removed), "added", len(result.Added))
	return result, nil
}

// Bindings lists the session's current bindings.
func (c *Controller) Bindings(sessionID string) []Binding {
	s := c.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	bindings := make([]Binding, 0, len(s.bindings))
	for name, tool := range s.bindings {
		bindings = append(bindings, Binding{Name: name, Tool: tool})
	}
	return bindings
}

// Resolve maps a called name to a descriptor: session bindings first, then
// the catalog (lazy materialization for names that match a cataloged tool).
func (c *Controller) Resolve(sessionID, name string) (*toolspec.Tool, error) {
	s := c.session(sessionID)
	s.mu.Lock()
	tool, ok := s.bindings[name]
	s.mu.Unlock()
	if ok {
		return tool, nil
	}

	if id, ok := c.catalog.ResolveName(name); ok {
		if tool, ok := c.catalog.Get(id); ok {
			return tool, nil
		}
	}
	for _, tool := range c.catalog.All() {
		if SanitizeToolName(strings.ToLower(tool.Name)) == name {
			return tool, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
}

// Call invokes a bound tool with untyped RPC arguments.
func (c *Controller) Call(ctx context.Context, sessionID, name string, args map[string]any) (*worker.Result, error) {
	tool, err := c.Resolve(sessionID, name)
	if err != nil {
		return nil, err
	}

	typed, err := ProjectArgs(tool, args)
	if err != nil {
		return nil, err
	}

	handle, err := c.sched.Ensure(ctx, tool)
	if err != nil {
		return nil, err
	}

	slog.Info("executing tool", "session_id", sessionID, "tool_id", tool.ID, "handle", handle.Key)
	return handle.Worker.Run(ctx, typed)
}

// Close drops a session and its bindings.
func (c *Controller) Close(sessionID string) {
	c.mu.Lock()
	delete(c.sessions, sessionID)
	c.mu.Unlock()
}

// Shutdown stops the TTL sweeper.
func (c *Controller) Shutdown() {
	close(c.sweepStop)
	<-c.sweepDone
}

func (c *Controller) sweepLoop() {
	defer close(c.sweepDone)
	if c.ttl <= 0 {
		<-c.sweepStop
		return
	}
	ticker := time.NewTicker(c.ttl / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.sweepStop:
			return
		}
	}
}

func (c *Controller) sweep() {
	cutoff := time.Now().Add(-c.ttl)
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, s := range c.sessions {
		if s.lastSeen.Before(cutoff) {
			delete(c.sessions, id)
			slog.Debug("session expired", "session_id", id)
		}
	}
}

// ProjectArgs coerces the flat RPC argument map into typed parameters
// against the declared inputs. A declared parameter's name is the argument
// key; nested (dotted) names are additionally reachable through their
// underscore spelling, and conditional parameters through
// {conditional}_{param}. Only supplied arguments are coerced.
func ProjectArgs(tool *toolspec.Tool, args map[string]any) ([]params.Param, error) {
	var typed []params.Param

	coerceIfPresent := func(decl *toolspec.Param, keys ...string) error {
		for _, key := range keys {
			value, ok := args[key]
			if !ok {
				continue
			}
			p, err := params.Coerce(decl, value)
			if err != nil {
				return err
			}
			typed = append(typed, p)
			return nil
		}
		return nil
	}

	for i := range tool.Inputs.Params {
		decl := &tool.Inputs.Params[i]
		name := decl.EffectiveName()
		if name == "" {
			continue
		}
		if err := coerceIfPresent(decl, name, strings.ReplaceAll(name, ".", "_")); err != nil {
			return nil, err
		}
	}

	for i := range tool.Inputs.Conditionals {
		cond := &tool.Inputs.Conditionals[i]
		pivot := cond.Param
		pivotName := pivot.EffectiveName()
		if pivotName != "" {
			if err := coerceIfPresent(&pivot, pivotName, cond.Name+"_"+pivotName); err != nil {
				return nil, err
			}
		}
		for j := range cond.Whens {
			for k := range cond.Whens[j].Params {
				decl := &cond.Whens[j].Params[k]
				name := decl.EffectiveName()
				if name == "" {
					continue
				}
				if err := coerceIfPresent(decl, name, cond.Name+"_"+name); err != nil {
					return nil, err
				}
			}
		}
	}

	return typed, nil
}

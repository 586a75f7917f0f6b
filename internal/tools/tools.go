// Package tools implements component K: a closed-set registry of named
// units with a JSON schema for input and an executor function. Grounded
// directly on the teacher's internal/jobs/registry.go HandlerRegistry
// (Register(name, handler) / GetHandler(name) keyed by string) — the
// explicitly-registered style spec.md §9 calls for in place of a
// reflection or decorator-based tool discovery mechanism.
package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/metasuper/core/internal/domainerr"
	"github.com/metasuper/core/internal/logger"
	"github.com/metasuper/core/internal/metrics"
)

// Scope marks whether a tool is callable from every project endpoint or
// only from an explicit allow-list (spec.md §4.K).
type Scope string

const (
	ScopeGlobal        Scope = "global"
	ScopeProjectScoped Scope = "project_scoped"
)

// ExecContext carries the calling project's identity into a tool
// execution, mirroring the teacher's ProgressTracker argument shape.
type ExecContext struct {
	Project string
}

// Executor runs a tool's logic against raw JSON-decoded params.
type Executor func(ctx context.Context, ec ExecContext, params map[string]any) (any, error)

// Tool is one registrable unit: a name, its JSON schema (carried as a raw
// map so the registry stays dependency-free), its scope, and its executor.
type Tool struct {
	Name            string
	Description     string
	InputSchema     map[string]any
	Scope           Scope
	AllowedProjects []string
	Run             Executor
}

func (t Tool) allowed(project string) bool {
	if t.Scope == ScopeGlobal {
		return true
	}
	for _, p := range t.AllowedProjects {
		if p == project {
			return true
		}
	}
	return false
}

// Registry maps tool names to their registrations, exactly the teacher's
// HandlerRegistry pattern generalized from job-type strings to tool names.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds tool to the closed set. Re-registering a name overwrites
// the prior entry, matching the teacher's registry semantics.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = tool
}

// Get returns the named tool, or domainerr.ErrNotFound.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return Tool{}, domainerr.WrapNotFound(fmt.Sprintf("tool %q", name), nil)
	}
	return t, nil
}

// ListFor returns every tool visible to project: every global tool plus
// any project-scoped tool that names it in AllowedProjects.
func (r *Registry) ListFor(project string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Tool
	for _, t := range r.tools {
		if t.allowed(project) {
			out = append(out, t)
		}
	}
	return out
}

// Execute dispatches to the named tool's executor, rejecting the call with
// AccessDenied if the tool is not permitted for ec.Project (spec.md
// §4.K). Every call bumps the tool+outcome counter and records its
// duration, regardless of how it resolves.
func (r *Registry) Execute(ctx context.Context, name string, ec ExecContext, params map[string]any) (result any, err error) {
	start := time.Now()
	outcome := "ok"
	defer func() {
		metrics.ToolCallsTotal.WithLabelValues(name, outcome).Inc()
		metrics.ToolCallDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		logger.LogToolCall(ec.Project, name, outcome, time.Since(start), err)
	}()

	t, err := r.Get(name)
	if err != nil {
		outcome = "not_found"
		return nil, err
	}
	if !t.allowed(ec.Project) {
		outcome = "access_denied"
		return nil, domainerr.New(domainerr.KindAccessDenied, fmt.Sprintf("tool %q is not permitted for project %q", name, ec.Project), nil)
	}

	out, runErr := t.Run(ctx, ec, params)
	if runErr != nil {
		outcome = "error"
		return nil, runErr
	}
	return out, nil
}

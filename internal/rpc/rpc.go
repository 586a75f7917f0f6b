// Package rpc implements component L: one JSON-RPC 2.0 endpoint per
// project. The envelope types are hand-rolled over encoding/json rather
// than adopting the pack's github.com/mark3labs/mcp-go — that library's
// dispatch is reflection/method-based tool discovery, the exact pattern
// spec.md §9 replaces with an explicit, closed registry (component K).
// Hand-rolling a handful of request/response structs keeps the dispatch
// path explicit while K stays the single source of truth for what tools
// exist (see DESIGN.md).
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/metasuper/core/internal/domainerr"
	"github.com/metasuper/core/internal/tools"
)

// JSON-RPC 2.0 reserved error codes, plus the custom -32000..-32003 space
// spec.md §4.L assigns to tool-not-found / access-denied / validation /
// internal tool failure.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeToolNotFound     = -32000
	CodeToolAccessDenied = -32001
	CodeValidationError  = -32002
	CodeInternalTool     = -32003
)

// Request is a JSON-RPC 2.0 request object.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Error is a JSON-RPC 2.0 error object. Data carries the domainerr
// recommendation, when one is available, under the "recommendation" key
// (spec.md §7's user-visible-recommendation requirement).
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Response is a JSON-RPC 2.0 response object. Exactly one of Result/Error
// is populated.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id,omitempty"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

func errorResponse(id any, code int, message string, data any) Response {
	return Response{JSONRPC: "2.0", ID: id, Error: &Error{Code: code, Message: message, Data: data}}
}

func resultResponse(id any, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}

// ProjectContext is the fixed identity an Endpoint carries: spec.md §4.L
// requires it hold no mutable shared state for other projects.
type ProjectContext struct {
	Name         string
	WorkingDir   string
	AllowedTools []string
}

// LogEntry is one bounded request-log record (spec.md §4.L "a bounded
// request log (last N entries)").
type LogEntry struct {
	Method     string
	At         time.Time
	DurationMS int64
	Success    bool
}

const requestLogCapacity = 200

// Endpoint is component L's public API: one instance per project.
type Endpoint struct {
	ctx      ProjectContext
	registry *tools.Registry
	version  string

	mu       sync.Mutex
	log      []LogEntry
	requests int64
	errors   int64
}

// NewEndpoint builds an Endpoint bound to ctx and registry, matching
// spec.md §4.L's "holds no mutable shared state for other projects".
func NewEndpoint(ctx ProjectContext, registry *tools.Registry, version string) *Endpoint {
	return &Endpoint{ctx: ctx, registry: registry, version: version}
}

// Handle dispatches one JSON-RPC request to the matching method and
// always records it in the bounded log plus the request/error counters.
func (e *Endpoint) Handle(ctx context.Context, req Request) Response {
	start := time.Now()
	resp := e.dispatch(ctx, req)

	e.mu.Lock()
	e.requests++
	if resp.Error != nil {
		e.errors++
	}
	e.log = append(e.log, LogEntry{
		Method: req.Method, At: start,
		DurationMS: time.Since(start).Milliseconds(),
		Success:    resp.Error == nil,
	})
	if len(e.log) > requestLogCapacity {
		e.log = e.log[len(e.log)-requestLogCapacity:]
	}
	e.mu.Unlock()

	return resp
}

func (e *Endpoint) dispatch(ctx context.Context, req Request) Response {
	if req.JSONRPC != "2.0" {
		return errorResponse(req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\"", nil)
	}

	switch req.Method {
	case "initialize":
		return e.handleInitialize(req)
	case "tools/list":
		return e.handleToolsList(req)
	case "tools/call":
		return e.handleToolsCall(ctx, req)
	case "ping":
		return resultResponse(req.ID, map[string]any{"pong": true, "project": e.ctx.Name})
	default:
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method), nil)
	}
}

func (e *Endpoint) handleInitialize(req Request) Response {
	return resultResponse(req.ID, map[string]any{
		"protocolVersion": "2024-11-05",
		"serverInfo":      map[string]string{"name": "metasuper-control-plane", "version": e.version},
		"project":         map[string]string{"name": e.ctx.Name, "workingDir": e.ctx.WorkingDir},
		"capabilities":    map[string]any{"tools": map[string]any{}},
	})
}

type toolSummary struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

func (e *Endpoint) handleToolsList(req Request) Response {
	visible := e.registry.ListFor(e.ctx.Name)
	out := make([]toolSummary, 0, len(visible))
	for _, t := range visible {
		if !e.toolAllowed(t.Name) {
			continue
		}
		out = append(out, toolSummary{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return resultResponse(req.ID, map[string]any{"tools": out})
}

// toolAllowed applies the project config's allow-list on top of the
// registry's own global/project_scoped visibility rules. An empty
// AllowedTools means "use whatever the registry exposes" — most project
// configs leave this unset and rely solely on K's scoping.
func (e *Endpoint) toolAllowed(name string) bool {
	if len(e.ctx.AllowedTools) == 0 {
		return true
	}
	for _, allowed := range e.ctx.AllowedTools {
		if allowed == name {
			return true
		}
	}
	return false
}

type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (e *Endpoint) handleToolsCall(ctx context.Context, req Request) Response {
	var params toolCallParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, CodeInvalidParams, "malformed tools/call params", nil)
		}
	}
	if params.Name == "" {
		return errorResponse(req.ID, CodeValidationError, "tools/call requires a tool name", nil)
	}
	if !e.toolAllowed(params.Name) {
		return errorResponse(req.ID, CodeToolAccessDenied, fmt.Sprintf("tool %q is not in this project's allowed_tools", params.Name), nil)
	}

	result, err := e.registry.Execute(ctx, params.Name, tools.ExecContext{Project: e.ctx.Name}, params.Arguments)
	if err != nil {
		return errorResponse(req.ID, codeFor(err), err.Error(), errorData(err))
	}
	return resultResponse(req.ID, result)
}

func codeFor(err error) int {
	switch domainerr.KindOf(err) {
	case domainerr.KindNotFound:
		return CodeToolNotFound
	case domainerr.KindAccessDenied:
		return CodeToolAccessDenied
	case domainerr.KindValidation:
		return CodeValidationError
	default:
		return CodeInternalTool
	}
}

func errorData(err error) any {
	if rec := domainerr.RecommendationOf(err); rec != "" {
		return map[string]string{"recommendation": rec}
	}
	return nil
}

// Stats is the read-only counters snapshot GET /stats exposes.
type Stats struct {
	Project      string `json:"project"`
	RequestCount int64  `json:"request_count"`
	ErrorCount   int64  `json:"error_count"`
}

// Snapshot returns the endpoint's current counters.
func (e *Endpoint) Snapshot() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{Project: e.ctx.Name, RequestCount: e.requests, ErrorCount: e.errors}
}

// RecentLog returns a copy of the bounded request log, newest last.
func (e *Endpoint) RecentLog() []LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]LogEntry, len(e.log))
	copy(out, e.log)
	return out
}

// Project returns the endpoint's fixed project context.
func (e *Endpoint) Project() ProjectContext {
	return e.ctx
}

package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/metasuper/core/internal/domainerr"
)

func echoTool(name string, scope Scope, allowed ...string) Tool {
	return Tool{
		Name:            name,
		Description:     "echoes its params",
		Scope:           scope,
		AllowedProjects: allowed,
		Run: func(ctx context.Context, ec ExecContext, params map[string]any) (any, error) {
			return params, nil
		},
	}
}

func TestExecuteGlobalToolAnyProject(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("ping", ScopeGlobal))

	out, err := r.Execute(context.Background(), "ping", ExecContext{Project: "anything"}, map[string]any{"x": 1})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out.(map[string]any)["x"] != 1 {
		t.Errorf("Execute() = %v, want echoed params", out)
	}
}

func TestExecuteProjectScopedDeniesOtherProjects(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("deploy", ScopeProjectScoped, "consilio"))

	if _, err := r.Execute(context.Background(), "deploy", ExecContext{Project: "consilio"}, nil); err != nil {
		t.Fatalf("Execute() for allowed project error = %v", err)
	}

	_, err := r.Execute(context.Background(), "deploy", ExecContext{Project: "other"}, nil)
	if !domainerr.Is(err, domainerr.KindAccessDenied) {
		t.Errorf("Execute() for disallowed project = %v, want AccessDenied", err)
	}
}

func TestExecuteUnknownToolNotFound(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), "missing", ExecContext{Project: "p"}, nil)
	if !domainerr.Is(err, domainerr.KindNotFound) {
		t.Errorf("Execute() for unknown tool = %v, want NotFound", err)
	}
}

func TestExecutePropagatesRunError(t *testing.T) {
	r := NewRegistry()
	r.Register(Tool{
		Name:  "broken",
		Scope: ScopeGlobal,
		Run: func(ctx context.Context, ec ExecContext, params map[string]any) (any, error) {
			return nil, errors.New("boom")
		},
	})

	_, err := r.Execute(context.Background(), "broken", ExecContext{Project: "p"}, nil)
	if err == nil || err.Error() != "boom" {
		t.Errorf("Execute() error = %v, want boom", err)
	}
}

func TestListForGlobalAndScoped(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("ping", ScopeGlobal))
	r.Register(echoTool("deploy", ScopeProjectScoped, "consilio"))

	consilioTools := r.ListFor("consilio")
	if len(consilioTools) != 2 {
		t.Errorf("ListFor(consilio) = %d tools, want 2", len(consilioTools))
	}

	otherTools := r.ListFor("other")
	if len(otherTools) != 1 {
		t.Errorf("ListFor(other) = %d tools, want 1", len(otherTools))
	}
}

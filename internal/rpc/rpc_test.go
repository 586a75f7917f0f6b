package rpc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/metasuper/core/internal/tools"
)

func newTestEndpoint() (*Endpoint, *tools.Registry) {
	reg := tools.NewRegistry()
	reg.Register(tools.Tool{
		Name:  "echo",
		Scope: tools.ScopeGlobal,
		Run: func(ctx context.Context, ec tools.ExecContext, params map[string]any) (any, error) {
			return params, nil
		},
	})
	reg.Register(tools.Tool{
		Name:            "deploy",
		Scope:           tools.ScopeProjectScoped,
		AllowedProjects: []string{"other-project"},
		Run: func(ctx context.Context, ec tools.ExecContext, params map[string]any) (any, error) {
			return "deployed", nil
		},
	})
	return NewEndpoint(ProjectContext{Name: "consilio", WorkingDir: "/srv/consilio"}, reg, "test"), reg
}

func TestInitializeReturnsProjectInfo(t *testing.T) {
	ep, _ := newTestEndpoint()
	resp := ep.Handle(context.Background(), Request{JSONRPC: "2.0", ID: 1, Method: "initialize"})
	if resp.Error != nil {
		t.Fatalf("initialize returned error: %+v", resp.Error)
	}
	result := resp.Result.(map[string]any)
	project := result["project"].(map[string]string)
	if project["name"] != "consilio" {
		t.Errorf("project name = %q, want consilio", project["name"])
	}
}

func TestPingEchoesProject(t *testing.T) {
	ep, _ := newTestEndpoint()
	resp := ep.Handle(context.Background(), Request{JSONRPC: "2.0", ID: 2, Method: "ping"})
	result := resp.Result.(map[string]any)
	if result["project"] != "consilio" {
		t.Errorf("ping project = %v, want consilio", result["project"])
	}
}

func TestToolsListOnlyShowsVisibleTools(t *testing.T) {
	ep, _ := newTestEndpoint()
	resp := ep.Handle(context.Background(), Request{JSONRPC: "2.0", ID: 3, Method: "tools/list"})
	result := resp.Result.(map[string]any)
	list := result["tools"].([]toolSummary)
	if len(list) != 1 || list[0].Name != "echo" {
		t.Errorf("tools/list = %+v, want only echo", list)
	}
}

func TestToolsCallDispatchesToRegistry(t *testing.T) {
	ep, _ := newTestEndpoint()
	params, _ := json.Marshal(toolCallParams{Name: "echo", Arguments: map[string]any{"x": "y"}})
	resp := ep.Handle(context.Background(), Request{JSONRPC: "2.0", ID: 4, Method: "tools/call", Params: params})
	if resp.Error != nil {
		t.Fatalf("tools/call returned error: %+v", resp.Error)
	}
}

func TestToolsCallAccessDeniedMapsToCustomCode(t *testing.T) {
	ep, _ := newTestEndpoint()
	params, _ := json.Marshal(toolCallParams{Name: "deploy"})
	resp := ep.Handle(context.Background(), Request{JSONRPC: "2.0", ID: 5, Method: "tools/call", Params: params})
	if resp.Error == nil || resp.Error.Code != CodeToolAccessDenied {
		t.Errorf("tools/call for disallowed tool = %+v, want code %d", resp.Error, CodeToolAccessDenied)
	}
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	ep, _ := newTestEndpoint()
	resp := ep.Handle(context.Background(), Request{JSONRPC: "2.0", ID: 6, Method: "nonsense"})
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Errorf("unknown method = %+v, want code %d", resp.Error, CodeMethodNotFound)
	}
}

func TestSnapshotTracksRequestsAndErrors(t *testing.T) {
	ep, _ := newTestEndpoint()
	ep.Handle(context.Background(), Request{JSONRPC: "2.0", ID: 1, Method: "ping"})
	ep.Handle(context.Background(), Request{JSONRPC: "2.0", ID: 2, Method: "nonsense"})

	stats := ep.Snapshot()
	if stats.RequestCount != 2 {
		t.Errorf("RequestCount = %d, want 2", stats.RequestCount)
	}
	if stats.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", stats.ErrorCount)
	}
	if len(ep.RecentLog()) != 2 {
		t.Errorf("RecentLog() length = %d, want 2", len(ep.RecentLog()))
	}
}

func TestInvalidJSONRPCVersionRejected(t *testing.T) {
	ep, _ := newTestEndpoint()
	resp := ep.Handle(context.Background(), Request{JSONRPC: "1.0", Method: "ping"})
	if resp.Error == nil || resp.Error.Code != CodeInvalidRequest {
		t.Errorf("bad jsonrpc version = %+v, want code %d", resp.Error, CodeInvalidRequest)
	}
}

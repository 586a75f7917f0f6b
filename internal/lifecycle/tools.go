package lifecycle

import (
	"context"
	"fmt"

	"github.com/metasuper/core/internal/cname"
	"github.com/metasuper/core/internal/domainerr"
	"github.com/metasuper/core/internal/portalloc"
	"github.com/metasuper/core/internal/secrets"
	"github.com/metasuper/core/internal/store"
	"github.com/metasuper/core/internal/tools"
	"github.com/metasuper/core/internal/tunnelmon"
)

// registerTools builds the closed set of global tools component K exposes
// to every project endpoint, each wrapping the collaborator component
// spec.md §2's critical path names: J for the CNAME lifecycle, F for port
// allocation, G for secrets, I for tunnel status.
func registerTools(reg *tools.Registry, lc *cname.Lifecycle, alloc *portalloc.Allocator, sec *secrets.Manager, mon *tunnelmon.Monitor, s *store.Store) {
	reg.Register(tools.Tool{
		Name:        "tunnel_request_cname",
		Description: "Publish a CNAME for a port this project owns, routed through the tunnel.",
		Scope:       tools.ScopeGlobal,
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"subdomain", "target_port"},
			"properties": map[string]any{
				"subdomain":   map[string]any{"type": "string"},
				"domain":      map[string]any{"type": "string"},
				"target_port": map[string]any{"type": "integer"},
			},
		},
		Run: func(ctx context.Context, ec tools.ExecContext, params map[string]any) (any, error) {
			subdomain, err := paramString(params, "subdomain", true)
			if err != nil {
				return nil, err
			}
			domain, _ := paramString(params, "domain", false)
			targetPort, err := paramInt(params, "target_port", true)
			if err != nil {
				return nil, err
			}
			result, err := lc.RequestCNAME(ctx, subdomain, domain, targetPort, ec.Project)
			if err != nil {
				return nil, err
			}
			return map[string]any{"url": result.URL, "ingress_target": result.IngressTarget, "target_type": result.TargetType}, nil
		},
	})

	reg.Register(tools.Tool{
		Name:        "tunnel_delete_cname",
		Description: "Remove a previously published CNAME owned by this project.",
		Scope:       tools.ScopeGlobal,
		Run: func(ctx context.Context, ec tools.ExecContext, params map[string]any) (any, error) {
			subdomain, err := paramString(params, "subdomain", true)
			if err != nil {
				return nil, err
			}
			domain, err := paramString(params, "domain", true)
			if err != nil {
				return nil, err
			}
			if err := lc.DeleteCNAME(ctx, subdomain, domain, ec.Project, false); err != nil {
				return nil, err
			}
			return map[string]any{"deleted": true}, nil
		},
	})

	reg.Register(tools.Tool{
		Name:        "port_allocate",
		Description: "Allocate a port for a named service within this project's assigned range.",
		Scope:       tools.ScopeGlobal,
		Run: func(ctx context.Context, ec tools.ExecContext, params map[string]any) (any, error) {
			service, err := paramString(params, "service", true)
			if err != nil {
				return nil, err
			}
			allocation, err := alloc.GetOrAllocate(ctx, ec.Project, service, portalloc.Options{})
			if err != nil {
				return nil, err
			}
			return map[string]any{"port": allocation.Port, "host": allocation.Host}, nil
		},
	})

	reg.Register(tools.Tool{
		Name:        "port_release",
		Description: "Release this project's allocation for a named service.",
		Scope:       tools.ScopeGlobal,
		Run: func(ctx context.Context, ec tools.ExecContext, params map[string]any) (any, error) {
			service, err := paramString(params, "service", true)
			if err != nil {
				return nil, err
			}
			if err := alloc.Release(ctx, ec.Project, service); err != nil {
				return nil, err
			}
			return map[string]any{"released": true}, nil
		},
	})

	reg.Register(tools.Tool{
		Name:        "port_audit",
		Description: "Probe liveness of every active allocation owned by this project.",
		Scope:       tools.ScopeGlobal,
		Run: func(ctx context.Context, ec tools.ExecContext, params map[string]any) (any, error) {
			report, err := alloc.Audit(ctx, ec.Project)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"in_use":      len(report.InUse),
				"not_running": len(report.NotRunning),
			}, nil
		},
	})

	reg.Register(tools.Tool{
		Name:        "secret_set",
		Description: "Store an encrypted secret scoped to this project.",
		Scope:       tools.ScopeGlobal,
		Run: func(ctx context.Context, ec tools.ExecContext, params map[string]any) (any, error) {
			keyPath, err := paramString(params, "key_path", true)
			if err != nil {
				return nil, err
			}
			value, err := paramString(params, "value", true)
			if err != nil {
				return nil, err
			}
			description, err := paramString(params, "description", true)
			if err != nil {
				return nil, err
			}
			project := ec.Project
			if err := sec.Set(ctx, keyPath, value, description, secrets.SetOptions{Project: &project}); err != nil {
				return nil, err
			}
			return map[string]any{"stored": true}, nil
		},
	})

	reg.Register(tools.Tool{
		Name:        "secret_get",
		Description: "Decrypt and return a secret this project is scoped to read.",
		Scope:       tools.ScopeGlobal,
		Run: func(ctx context.Context, ec tools.ExecContext, params map[string]any) (any, error) {
			keyPath, err := paramString(params, "key_path", true)
			if err != nil {
				return nil, err
			}
			value, err := sec.Get(ctx, keyPath)
			if err != nil {
				return nil, err
			}
			return map[string]any{"value": value}, nil
		},
	})

	reg.Register(tools.Tool{
		Name:        "secret_list",
		Description: "List secret metadata scoped to this project, without decrypting values.",
		Scope:       tools.ScopeGlobal,
		Run: func(ctx context.Context, ec tools.ExecContext, params map[string]any) (any, error) {
			metas, err := s.ListSecrets(ctx, store.SecretFilter{Project: ec.Project})
			if err != nil {
				return nil, err
			}
			out := make([]map[string]any, 0, len(metas))
			for _, meta := range metas {
				out = append(out, map[string]any{
					"key_path":       meta.KeyPath,
					"description":    meta.Description,
					"scope":          meta.Scope,
					"needs_rotation": meta.NeedsRotation,
				})
			}
			return map[string]any{"secrets": out}, nil
		},
	})

	reg.Register(tools.Tool{
		Name:        "tunnel_status",
		Description: "Return the current tunnel health snapshot plus recent history.",
		Scope:       tools.ScopeGlobal,
		Run: func(ctx context.Context, ec tools.ExecContext, params map[string]any) (any, error) {
			snap := mon.Current()
			history, err := s.ListTunnelHealth(ctx, 10)
			if err != nil {
				return nil, err
			}
			samples := make([]map[string]any, 0, len(history))
			for _, h := range history {
				samples = append(samples, map[string]any{
					"timestamp":     h.Timestamp,
					"status":        h.Status,
					"uptime_s":      h.UptimeS,
					"restart_count": h.RestartCount,
				})
			}
			return map[string]any{
				"status":        string(snap.Status),
				"uptime_s":      snap.UptimeS,
				"restart_count": snap.RestartCount,
				"history":       samples,
			}, nil
		},
	})

	reg.Register(tools.Tool{
		Name:        "audit_recent",
		Description: "Return this project's most recent audit log entries.",
		Scope:       tools.ScopeGlobal,
		Run: func(ctx context.Context, ec tools.ExecContext, params map[string]any) (any, error) {
			limit, err := paramInt(params, "limit", false)
			if err != nil {
				return nil, err
			}
			if limit <= 0 {
				limit = 20
			}
			entries, err := s.ListRecentAudit(ctx, ec.Project, limit)
			if err != nil {
				return nil, err
			}
			out := make([]map[string]any, 0, len(entries))
			for _, e := range entries {
				out = append(out, map[string]any{
					"timestamp": e.Timestamp,
					"action":    e.Action,
					"success":   e.Success,
				})
			}
			return map[string]any{"entries": out}, nil
		},
	})
}

func paramString(params map[string]any, key string, required bool) (string, error) {
	raw, ok := params[key]
	if !ok {
		if required {
			return "", domainerr.WrapValidation(fmt.Sprintf("missing required parameter %q", key), nil)
		}
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", domainerr.WrapValidation(fmt.Sprintf("parameter %q must be a string", key), nil)
	}
	return s, nil
}

func paramInt(params map[string]any, key string, required bool) (int, error) {
	raw, ok := params[key]
	if !ok {
		if required {
			return 0, domainerr.WrapValidation(fmt.Sprintf("missing required parameter %q", key), nil)
		}
		return 0, nil
	}
	switch v := raw.(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	default:
		return 0, domainerr.WrapValidation(fmt.Sprintf("parameter %q must be a number", key), nil)
	}
}

// Package cname implements component J: the CNAME request/delete
// lifecycle. It orchestrates the relational store (B), the topology
// prober's cached graph (C), the ingress file manager (D), the Cloudflare
// client (E), and the port allocator (F) exactly as spec.md §4.J
// specifies. The reverse-order undo stack adapts the teacher's
// internal/cleanup/cleanup.go CleanupOperation shape — inverted from
// "run forward, collect results" into a LIFO compensation stack pushed as
// each step commits.
package cname

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/metasuper/core/internal/cfclient"
	"github.com/metasuper/core/internal/constants"
	"github.com/metasuper/core/internal/domainerr"
	"github.com/metasuper/core/internal/ingress"
	"github.com/metasuper/core/internal/metrics"
	"github.com/metasuper/core/internal/portalloc"
	"github.com/metasuper/core/internal/store"
	"github.com/metasuper/core/internal/valueobjects"
)

// Reloader is the seam to component I: a CNAME mutation that changes the
// ingress file must trigger a tunnel reload (spec.md §4.J step 7).
type Reloader interface {
	Reload(ctx context.Context) error
}

// Reacher is the seam to component C's is_reachable contract (spec.md
// §4.C): "shared network ⇒ true; else TCP connect ... with 1s timeout".
// Target selection uses it to confirm a host-port-binding fallback is
// actually dialable before accepting it as the route.
type Reacher interface {
	IsReachable(ctx context.Context, sourceContainerID, targetContainerID, targetHost string, targetPort int) (bool, error)
}

// Lifecycle is the public API for component J.
type Lifecycle struct {
	store     *store.Store
	ingress   *ingress.Manager
	cf        *cfclient.Client
	allocator *portalloc.Allocator
	reloader  Reloader
	reach     Reacher
	tunnelID  string
}

// New wires the lifecycle over its five collaborator components.
func New(s *store.Store, im *ingress.Manager, cf *cfclient.Client, alloc *portalloc.Allocator, reloader Reloader, reach Reacher, tunnelID string) *Lifecycle {
	return &Lifecycle{store: s, ingress: im, cf: cf, allocator: alloc, reloader: reloader, reach: reach, tunnelID: tunnelID}
}

// Result is what RequestCNAME returns on success (spec.md §4.J step 8).
type Result struct {
	URL           string
	IngressTarget string
	TargetType    string
}

// undoStep is one entry in the LIFO compensation stack: Name documents the
// step for logging; Undo reverses the committed effect.
type undoStep struct {
	Name string
	Undo func(ctx context.Context)
}

// RequestCNAME runs the full validation → target-selection → publish
// pipeline (spec.md §4.J). Steps 1-4 are read-only; any failure from step
// 5 onward unwinds the undo stack in reverse order.
func (l *Lifecycle) RequestCNAME(ctx context.Context, subdomain, domain string, targetPort int, project string) (result *Result, err error) {
	if domain == "" {
		domain = defaultDomain
	}
	fullHost, err := valueobjects.NewHostname(fmt.Sprintf("%s.%s", subdomain, domain))
	if err != nil {
		metrics.CNAMERequestsTotal.WithLabelValues("request", "error").Inc()
		return nil, err
	}

	zone, err := l.store.GetZone(ctx, domain)
	if err != nil {
		metrics.CNAMERequestsTotal.WithLabelValues("request", "error").Inc()
		return nil, err
	}

	if existing, lookupErr := l.store.GetCNAME(ctx, subdomain, domain); lookupErr != nil {
		return nil, lookupErr
	} else if existing != nil {
		metrics.CNAMERequestsTotal.WithLabelValues("request", "error").Inc()
		return nil, domainerr.WrapConflict(fmt.Sprintf("%s.%s is already in use", subdomain, domain), nil)
	}
	if records, lookupErr := l.cf.ListRecords(ctx, zone.ZoneID, "CNAME", fmt.Sprintf("%s.%s", subdomain, domain)); lookupErr != nil {
		return nil, lookupErr
	} else if len(records) > 0 {
		metrics.CNAMERequestsTotal.WithLabelValues("request", "error").Inc()
		return nil, domainerr.WrapConflict(fmt.Sprintf("%s.%s already has a Cloudflare DNS record", subdomain, domain), nil)
	}

	allocation, err := l.store.FindAllocationByPortAnyHost(ctx, targetPort, "tcp")
	if err != nil {
		return nil, err
	}
	if allocation == nil || allocation.Project != project {
		metrics.CNAMERequestsTotal.WithLabelValues("request", "error").Inc()
		return nil, domainerr.ErrAccessDenied
	}

	var target, targetType string
	var containerName, dockerNetwork *string
	externalIP := allocation.Host != "" && allocation.Host != "localhost"
	if externalIP {
		if net.ParseIP(allocation.Host) == nil {
			metrics.CNAMERequestsTotal.WithLabelValues("request", "error").Inc()
			return nil, domainerr.WrapValidation(fmt.Sprintf("allocation host %q is not a valid IPv4 literal", allocation.Host), nil)
		}
		target, targetType = fmt.Sprintf("http://%s:%d", allocation.Host, targetPort), constants.TargetTypeExternal
	} else {
		var warning string
		target, targetType, containerName, dockerNetwork, warning, err = l.selectTarget(ctx, targetPort)
		if err != nil {
			metrics.CNAMERequestsTotal.WithLabelValues("request", "error").Inc()
			return nil, err
		}
		if warning != "" {
			slog.Warn("cname target selection fell back to a less preferred route", "subdomain", subdomain, "domain", domain, "warning", warning)
		}
	}

	var undoStack []undoStep
	defer func() {
		if err != nil {
			l.unwind(ctx, undoStack)
		}
	}()

	fullHostname := fullHost.String()

	var record cfclient.Record
	if externalIP {
		// An externally hosted target is not reachable through this host's
		// tunnel: point DNS straight at its IP instead of routing it
		// through the ingress file (spec.md §4.E create_a).
		record, err = l.cf.CreateA(ctx, zone.ZoneID, fullHostname, allocation.Host)
	} else {
		record, err = l.cf.CreateCNAME(ctx, zone.ZoneID, fullHostname, l.tunnelID)
	}
	if err != nil {
		return nil, err
	}
	undoStack = append(undoStack, undoStep{
		Name: "delete DNS record",
		Undo: func(ctx context.Context) {
			if e := l.cf.DeleteRecord(ctx, zone.ZoneID, record.ID); e != nil {
				slog.Error("failed to undo DNS record creation", "error", e)
			}
		},
	})

	if !externalIP {
		if err = l.ingress.Add(fullHostname, target, nil); err != nil {
			return nil, err
		}
		undoStack = append(undoStack, undoStep{
			Name: "restore ingress",
			Undo: func(ctx context.Context) {
				if e := l.ingress.Remove(fullHostname); e != nil {
					slog.Error("failed to undo ingress rule addition", "error", e)
				}
			},
		})

		if err = l.reloader.Reload(ctx); err != nil {
			return nil, err
		}
	}

	cnameRow := &store.CNAME{
		Subdomain: subdomain, Domain: domain, FullHostname: fullHostname,
		TargetService: target, TargetType: targetType,
		ContainerName: containerName, DockerNetwork: dockerNetwork,
		Project: project, CloudflareRecordID: record.ID, CreatedBy: project,
	}
	if err = l.store.PutCNAME(ctx, cnameRow); err != nil {
		return nil, err
	}

	_ = l.store.SetCloudflareHostname(ctx, allocation.ID, fullHostname)
	l.audit(ctx, "request_cname", project, fullHostname, true, "")
	metrics.CNAMERequestsTotal.WithLabelValues("request", "ok").Inc()

	return &Result{URL: "https://" + fullHostname, IngressTarget: target, TargetType: targetType}, nil
}

func (l *Lifecycle) unwind(ctx context.Context, stack []undoStep) {
	for i := len(stack) - 1; i >= 0; i-- {
		slog.Warn("unwinding cname step after failure", "step", stack[i].Name)
		stack[i].Undo(ctx)
	}
}

func (l *Lifecycle) audit(ctx context.Context, action, project, hostname string, success bool, errMsg string) {
	details := fmt.Sprintf(`{"hostname":%q}`, hostname)
	var errPtr *string
	if errMsg != "" {
		errPtr = &errMsg
	}
	if err := l.store.AppendAudit(ctx, action, &project, details, success, errPtr); err != nil {
		slog.Error("failed to append cname audit entry", "error", err)
	}
}

// DeleteCNAME removes a CNAME end-to-end: DNS record, ingress rule, reload,
// row, audit (spec.md §4.J delete_cname). requester may only delete CNAMEs
// it owns unless it is meta-privileged.
func (l *Lifecycle) DeleteCNAME(ctx context.Context, subdomain, domain, requester string, metaPrivileged bool) error {
	row, err := l.store.GetCNAME(ctx, subdomain, domain)
	if err != nil {
		return err
	}
	if row == nil {
		return domainerr.ErrNotFound
	}
	if row.Project != requester && !metaPrivileged {
		metrics.CNAMERequestsTotal.WithLabelValues("delete", "error").Inc()
		return domainerr.ErrAccessDenied
	}

	zone, err := l.store.GetZone(ctx, domain)
	if err != nil {
		return err
	}
	if err := l.cf.DeleteRecord(ctx, zone.ZoneID, row.CloudflareRecordID); err != nil {
		metrics.CNAMERequestsTotal.WithLabelValues("delete", "error").Inc()
		return err
	}
	if row.TargetType != constants.TargetTypeExternal {
		if err := l.ingress.Remove(row.FullHostname); err != nil {
			metrics.CNAMERequestsTotal.WithLabelValues("delete", "error").Inc()
			return err
		}
		if err := l.reloader.Reload(ctx); err != nil {
			metrics.CNAMERequestsTotal.WithLabelValues("delete", "error").Inc()
			return err
		}
	}
	if err := l.store.DeleteCNAME(ctx, subdomain, domain); err != nil {
		return err
	}

	l.audit(ctx, "delete_cname", requester, row.FullHostname, true, "")
	metrics.CNAMERequestsTotal.WithLabelValues("delete", "ok").Inc()
	return nil
}

const defaultDomain = "153.se"

package store

import (
	"context"
	"testing"
)

func TestReplaceTopologyFindAndSharedNetworks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	project := "blog"
	hostPort := 8080
	containers := []*Container{
		{ID: "c1", Name: "blog-web", Image: "blog:latest", Status: "running", Project: &project},
		{ID: "c2", Name: "blog-db", Image: "postgres:16", Status: "running", Project: &project},
	}
	networks := []*Network{{ID: "n1", Name: "blog_default", Driver: "bridge"}}
	memberships := []*NetworkMembership{
		{ContainerID: "c1", NetworkID: "n1", IPAddress: "172.18.0.2"},
		{ContainerID: "c2", NetworkID: "n1", IPAddress: "172.18.0.3"},
	}
	ports := []*ContainerPort{{ContainerID: "c1", InternalPort: 80, HostPort: &hostPort, Protocol: "tcp"}}

	if err := s.ReplaceTopology(ctx, containers, networks, memberships, ports); err != nil {
		t.Fatalf("ReplaceTopology() error = %v", err)
	}

	found, err := s.FindContainerByListeningPort(ctx, 8080, "tcp")
	if err != nil {
		t.Fatalf("FindContainerByListeningPort() error = %v", err)
	}
	if found == nil || found.Name != "blog-web" {
		t.Errorf("FindContainerByListeningPort() = %+v, want blog-web", found)
	}

	shared, err := s.SharedNetworks(ctx, "c1", "c2")
	if err != nil {
		t.Fatalf("SharedNetworks() error = %v", err)
	}
	if len(shared) != 1 || shared[0] != "blog_default" {
		t.Errorf("SharedNetworks() = %v, want [blog_default]", shared)
	}
}

func TestReplaceTopologySurvivesOneMissedTick(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.ReplaceTopology(ctx, []*Container{{ID: "c1", Name: "old", Image: "x", Status: "running"}}, nil, nil, nil); err != nil {
		t.Fatalf("first ReplaceTopology() error = %v", err)
	}
	// back-date last_seen by less than the stale grace period, simulating
	// a single missed poll rather than a prune-worthy absence
	if _, err := s.Exec(`UPDATE containers SET last_seen = datetime('now', '-70 seconds') WHERE id = 'c1'`); err != nil {
		t.Fatalf("backdate last_seen: %v", err)
	}

	if err := s.ReplaceTopology(ctx, nil, nil, nil, nil); err != nil {
		t.Fatalf("second ReplaceTopology() error = %v", err)
	}

	got, err := s.ListContainers(ctx)
	if err != nil {
		t.Fatalf("ListContainers() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "c1" {
		t.Errorf("ListContainers() = %v, want c1 to survive a single missed tick within the grace period", got)
	}
}

func TestReplaceTopologyPrunesStaleContainers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.ReplaceTopology(ctx, []*Container{{ID: "c1", Name: "old", Image: "x", Status: "running"}}, nil, nil, nil); err != nil {
		t.Fatalf("first ReplaceTopology() error = %v", err)
	}
	// back-date last_seen past the stale grace period (2 ticks * 60s)
	if _, err := s.Exec(`UPDATE containers SET last_seen = datetime('now', '-150 seconds') WHERE id = 'c1'`); err != nil {
		t.Fatalf("backdate last_seen: %v", err)
	}

	if err := s.ReplaceTopology(ctx, nil, nil, nil, nil); err != nil {
		t.Fatalf("second ReplaceTopology() error = %v", err)
	}

	got, err := s.ListContainers(ctx)
	if err != nil {
		t.Fatalf("ListContainers() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ListContainers() = %v, want empty once the container is stale past the grace period", got)
	}
}

func TestFindContainerHostPortAndByNameOrImage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	hostPort := 9105
	containers := []*Container{
		{ID: "cf1", Name: "cloudflared-tunnel", Image: "cloudflare/cloudflared:latest", Status: "running"},
	}
	ports := []*ContainerPort{{ContainerID: "cf1", InternalPort: 3105, HostPort: &hostPort, Protocol: "tcp"}}
	if err := s.ReplaceTopology(ctx, containers, nil, nil, ports); err != nil {
		t.Fatalf("ReplaceTopology() error = %v", err)
	}

	got, err := s.FindContainerHostPort(ctx, "cf1", 3105)
	if err != nil {
		t.Fatalf("FindContainerHostPort() error = %v", err)
	}
	if got == nil || *got != hostPort {
		t.Errorf("FindContainerHostPort() = %v, want %d", got, hostPort)
	}

	none, err := s.FindContainerHostPort(ctx, "cf1", 9999)
	if err != nil {
		t.Fatalf("FindContainerHostPort() error = %v", err)
	}
	if none != nil {
		t.Errorf("FindContainerHostPort() = %v, want nil for unbound port", none)
	}

	byImage, err := s.FindContainerByNameOrImageLike(ctx, "cloudflared")
	if err != nil {
		t.Fatalf("FindContainerByNameOrImageLike() error = %v", err)
	}
	if byImage == nil || byImage.ID != "cf1" {
		t.Errorf("FindContainerByNameOrImageLike() = %+v, want cf1", byImage)
	}
}

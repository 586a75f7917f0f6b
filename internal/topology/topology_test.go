package topology

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/metasuper/core/internal/store"
)

// rewriteHostTransport redirects every request to target's host, so the
// docker API decoding path can be exercised against a standard
// httptest.Server instead of a real UNIX socket.
type rewriteHostTransport struct {
	base   http.RoundTripper
	target *url.URL
}

func (t rewriteHostTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = t.target.Scheme
	req.URL.Host = t.target.Host
	return t.base.RoundTrip(req)
}

func TestProberPopulatesTopologyFromFakeDockerAPI(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1.43/containers/json", func(w http.ResponseWriter, r *http.Request) {
		containers := []dockerContainer{
			{ID: "c1", Names: []string{"/blog-web"}, Image: "blog:latest", State: "running",
				Ports: []dockerPort{{PrivatePort: 80, PublicPort: 8080, Type: "tcp"}}},
		}
		containers[0].NetworkSettings.Networks = map[string]struct{ IPAddress string }{
			"blog_default": {IPAddress: "172.18.0.2"},
		}
		_ = json.NewEncoder(w).Encode(containers)
	})
	mux.HandleFunc("/v1.43/networks", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]dockerNetwork{{ID: "n1", Name: "blog_default", Driver: "bridge"}})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()
	target, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}

	s, err := store.Init(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Init() error = %v", err)
	}
	defer s.Close()

	p := &Prober{
		store:      s,
		httpClient: &http.Client{Transport: rewriteHostTransport{base: http.DefaultTransport, target: target}},
	}

	if err := p.tick(context.Background()); err != nil {
		t.Fatalf("tick() error = %v", err)
	}

	containers, err := s.ListContainers(context.Background())
	if err != nil {
		t.Fatalf("ListContainers() error = %v", err)
	}
	if len(containers) != 1 || containers[0].Name != "blog-web" {
		t.Errorf("ListContainers() = %+v, want one container named blog-web", containers)
	}
	if containers[0].Project == nil || *containers[0].Project != "blog" {
		t.Errorf("ListContainers()[0].Project = %v, want \"blog\" from the name-prefix fallback", containers[0].Project)
	}

	found, err := s.FindContainerByListeningPort(context.Background(), 8080, "tcp")
	if err != nil {
		t.Fatalf("FindContainerByListeningPort() error = %v", err)
	}
	if found == nil || found.Name != "blog-web" {
		t.Errorf("FindContainerByListeningPort() = %+v", found)
	}
}

func TestProjectForPrefersLabelOverNamePrefix(t *testing.T) {
	c := dockerContainer{Labels: map[string]string{"com.supervisor.project": "storefront"}}
	got := projectFor(c, "storefront-worker")
	if got == nil || *got != "storefront" {
		t.Errorf("projectFor() = %v, want storefront from the label", got)
	}
}

func TestProjectForFallsBackToNamePrefix(t *testing.T) {
	c := dockerContainer{}
	got := projectFor(c, "storefront-worker")
	if got == nil || *got != "storefront" {
		t.Errorf("projectFor() = %v, want storefront from the name prefix", got)
	}
}

func TestProjectForUnattributedWithoutSeparator(t *testing.T) {
	c := dockerContainer{}
	got := projectFor(c, "standalone")
	if got != nil {
		t.Errorf("projectFor() = %v, want nil for a name with no separator", got)
	}
}

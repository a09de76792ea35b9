package app

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/NiceMatters/lwan/pkg/config"
	"github.com/NiceMatters/lwan/pkg/request"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := &config.Config{}
	routes := []*request.Route{{
		Prefix:  "/",
		Handler: func(*request.Request) request.Status { return request.StatusOK },
	}}
	a, err := New(cfg, routes, "flags", "test", "", "")
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a
}

func TestAdminHealthz(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(a.adminHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "application/json" {
		t.Fatalf("content-type = %q", got)
	}
}

func TestAdminMetrics(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(a.adminHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestAdminAccessLogDisabled(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(a.adminHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/admin/accesslog")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestAdminAccessLogMethodNotAllowed(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(a.adminHandler())
	defer srv.Close()

	// Method gating happens before the store check, so a POST is refused
	// either way.
	resp, err := http.Post(srv.URL+"/admin/accesslog", "text/plain", strings.NewReader(""))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestNewRejectsBadRoute(t *testing.T) {
	cfg := &config.Config{}
	routes := []*request.Route{{Prefix: "no-slash"}}
	if _, err := New(cfg, routes, "flags", "test", "", ""); err == nil {
		t.Fatalf("bad route accepted")
	}
}

package rotate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// fakeTunnel emulates the tunnel management API: stop/start cycles the
// egress IP through the provided list.
type fakeTunnel struct {
	status  string
	ips     []string
	ipIndex int
	stops   int
	starts  int
}

func (f *fakeTunnel) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/publicip/ip", func(w http.ResponseWriter, r *http.Request) {
		ip := f.ips[f.ipIndex]
		fmt.Fprintf(w, `{"public_ip":%q}`, ip)
	})
	mux.HandleFunc("GET /v1/vpn/status", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"status":%q}`, f.status)
	})
	mux.HandleFunc("PUT /v1/vpn/status", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.status = body.Status
		switch body.Status {
		case statusStopped:
			f.stops++
		case statusRunning:
			f.starts++
			if f.ipIndex < len(f.ips)-1 {
				f.ipIndex++
			}
		}
		fmt.Fprint(w, `{}`)
	})
	return mux
}

func newTestRotator(t *testing.T, tunnel *fakeTunnel) (*TunnelRotator, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(tunnel.handler())
	t.Cleanup(srv.Close)

	rot := NewTunnelRotator(srv.URL, "")
	rot.Client = srv.Client()
	rot.sleep = func(ctx context.Context, d time.Duration) {}
	return rot, srv
}

func TestRotate_Success(t *testing.T) {
	tunnel := &fakeTunnel{status: statusRunning, ips: []string{"203.0.113.1", "203.0.113.2"}}
	rot, _ := newTestRotator(t, tunnel)

	r, err := rot.Rotate(context.Background())
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if r.OldIdentity != "203.0.113.1" || r.NewIdentity != "203.0.113.2" {
		t.Fatalf("rotation: %+v", r)
	}
	if tunnel.stops != 1 || tunnel.starts != 1 {
		t.Fatalf("stop/start: %d/%d, want 1/1", tunnel.stops, tunnel.starts)
	}
}

func TestRotate_RetriesOnSameIP(t *testing.T) {
	// First restart lands on the same IP; second gets a new one.
	tunnel := &fakeTunnel{status: statusRunning, ips: []string{"203.0.113.1", "203.0.113.1", "203.0.113.2"}}
	rot, _ := newTestRotator(t, tunnel)
	rot.MaxAttempts = 3

	r, err := rot.Rotate(context.Background())
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if r.NewIdentity != "203.0.113.2" {
		t.Fatalf("rotation: %+v", r)
	}
	if tunnel.stops != 2 {
		t.Fatalf("stops: %d, want 2", tunnel.stops)
	}
}

func TestRotate_FailsWhenIPNeverChanges(t *testing.T) {
	tunnel := &fakeTunnel{status: statusRunning, ips: []string{"203.0.113.1"}}
	rot, _ := newTestRotator(t, tunnel)
	rot.MaxAttempts = 2

	_, err := rot.Rotate(context.Background())
	if err == nil {
		t.Fatal("expected error when egress IP never changes")
	}
	if !strings.Contains(err.Error(), "unchanged") {
		t.Fatalf("error: %v", err)
	}
	if tunnel.stops != 2 {
		t.Fatalf("stops: %d, want 2 attempts", tunnel.stops)
	}
}

func TestRotate_ControlAPIDown(t *testing.T) {
	tunnel := &fakeTunnel{status: statusRunning, ips: []string{"203.0.113.1"}}
	rot, srv := newTestRotator(t, tunnel)
	srv.Close()

	if _, err := rot.Rotate(context.Background()); err == nil {
		t.Fatal("expected error when the control API is unreachable")
	}
}

func TestNoop(t *testing.T) {
	r, err := Noop{}.Rotate(context.Background())
	if err != nil {
		t.Fatalf("Noop: %v", err)
	}
	if r.OldIdentity != "" || r.NewIdentity != "" {
		t.Fatalf("Noop rotation: %+v", r)
	}
}

package rotate

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/oschwald/maxminddb-golang"
)

const (
	statusRunning = "running"
	statusStopped = "stopped"
)

// TunnelRotator cycles an upstream VPN tunnel through its management API.
// Stopping and restarting the tunnel makes it connect to a new random
// upstream server, which yields a fresh egress address.
type TunnelRotator struct {
	BaseURL string
	Client  *http.Client

	// MaxAttempts bounds retries when the tunnel reconnects to the same
	// egress address (default 3).
	MaxAttempts int

	// GeoDBPath optionally points at a MaxMind database; when set, the
	// new egress address's country is logged after rotation.
	GeoDBPath string

	// sleep is injectable for tests; defaults to a context-aware wait.
	sleep func(ctx context.Context, d time.Duration)
}

// NewTunnelRotator creates a rotator for the tunnel control API at
// baseURL (e.g. http://localhost:8000).
func NewTunnelRotator(baseURL, geoDBPath string) *TunnelRotator {
	return &TunnelRotator{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Client:      &http.Client{Timeout: 10 * time.Second},
		MaxAttempts: 3,
		GeoDBPath:   geoDBPath,
	}
}

// Rotate implements Rotator: stop the tunnel, restart it, wait for it to
// come back, and verify the egress address changed.
func (t *TunnelRotator) Rotate(ctx context.Context) (Rotation, error) {
	oldIP, err := t.publicIP(ctx)
	if err != nil {
		log.Printf("rotate: could not read current egress IP: %v", err)
	}

	attempts := t.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := t.setStatus(ctx, statusStopped); err != nil {
			return Rotation{}, fmt.Errorf("rotate: stop tunnel: %w", err)
		}
		t.wait(ctx, 5*time.Second)

		if err := t.setStatus(ctx, statusRunning); err != nil {
			return Rotation{}, fmt.Errorf("rotate: start tunnel: %w", err)
		}
		if err := t.waitReady(ctx, time.Minute); err != nil {
			return Rotation{}, fmt.Errorf("rotate: %w", err)
		}
		t.wait(ctx, 5*time.Second) // let routes stabilize

		newIP, err := t.publicIP(ctx)
		if err != nil {
			return Rotation{}, fmt.Errorf("rotate: verify egress IP: %w", err)
		}
		if newIP != "" && newIP != oldIP {
			t.logRegion(newIP)
			return Rotation{OldIdentity: oldIP, NewIdentity: newIP}, nil
		}
		log.Printf("rotate: attempt %d/%d got same egress IP %s, retrying", attempt, attempts, newIP)
	}

	return Rotation{OldIdentity: oldIP, NewIdentity: oldIP},
		fmt.Errorf("rotate: egress IP unchanged after %d attempts", attempts)
}

func (t *TunnelRotator) publicIP(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.BaseURL+"/v1/publicip/ip", nil)
	if err != nil {
		return "", err
	}
	resp, err := t.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("publicip: status %d", resp.StatusCode)
	}
	var body struct {
		PublicIP string `json:"public_ip"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.PublicIP, nil
}

func (t *TunnelRotator) status(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.BaseURL+"/v1/vpn/status", nil)
	if err != nil {
		return "", err
	}
	resp, err := t.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("vpn status: status %d", resp.StatusCode)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.Status, nil
}

func (t *TunnelRotator) setStatus(ctx context.Context, status string) error {
	payload := fmt.Sprintf(`{"status":%q}`, status)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, t.BaseURL+"/v1/vpn/status", strings.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("set vpn status %s: status %d", status, resp.StatusCode)
	}
	return nil
}

func (t *TunnelRotator) waitReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		status, err := t.status(ctx)
		if err == nil && status == statusRunning {
			return nil
		}
		t.wait(ctx, 3*time.Second)
	}
	return fmt.Errorf("tunnel not running within %s", timeout)
}

// logRegion logs the country of the new egress address when a geo
// database is configured. Lookup failures are logged, never fatal.
func (t *TunnelRotator) logRegion(ip string) {
	if t.GeoDBPath == "" {
		return
	}
	if _, err := os.Stat(t.GeoDBPath); err != nil {
		return
	}
	db, err := maxminddb.Open(t.GeoDBPath)
	if err != nil {
		log.Printf("rotate: open geo db: %v", err)
		return
	}
	defer db.Close()

	addr := net.ParseIP(ip)
	if addr == nil {
		return
	}
	var record struct {
		Country struct {
			ISOCode string `maxminddb:"iso_code"`
		} `maxminddb:"country"`
	}
	if err := db.Lookup(addr, &record); err != nil {
		log.Printf("rotate: geo lookup %s: %v", ip, err)
		return
	}
	log.Printf("rotate: new egress %s (%s)", ip, record.Country.ISOCode)
}

func (t *TunnelRotator) wait(ctx context.Context, d time.Duration) {
	if t.sleep != nil {
		t.sleep(ctx, d)
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

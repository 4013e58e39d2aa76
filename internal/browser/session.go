// Package browser owns headless Chrome sessions: at most one live session
// per target, bounded reuse, and eviction with optional profile scrub.
package browser

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// Session is one live headless browser bound to a single target.
// It is driven by exactly one caller at a time; the scheduler enforces
// this.
type Session struct {
	TargetID   string
	ProfileDir string

	ctx         context.Context
	cancelChain []context.CancelFunc

	mu       sync.Mutex
	uses     int
	lastUsed time.Time
	console  []string

	// aliveFn overrides the liveness probe; injectable for tests.
	aliveFn func() bool
}

// newChromeSession launches a headless Chrome with a persistent profile
// directory for the target. Viewport size is randomized per launch so
// consecutive identities do not share an exact fingerprint.
func newChromeSession(targetID, profileDir string) (*Session, error) {
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}

	width := 1820 + rand.IntN(160)
	height := 960 + rand.IntN(140)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserDataDir(profileDir),
		chromedp.WindowSize(width, height),
		chromedp.UserAgent(userAgent),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	s := &Session{
		TargetID:    targetID,
		ProfileDir:  profileDir,
		ctx:         browserCtx,
		cancelChain: []context.CancelFunc{cancelBrowser, cancelAlloc},
		lastUsed:    time.Now(),
	}

	chromedp.ListenTarget(browserCtx, func(ev any) {
		e, ok := ev.(*runtime.EventConsoleAPICalled)
		if !ok {
			return
		}
		var line string
		for _, arg := range e.Args {
			if len(arg.Value) > 0 {
				line += string(arg.Value) + " "
			}
		}
		s.mu.Lock()
		if len(s.console) < 256 {
			s.console = append(s.console, line)
		}
		s.mu.Unlock()
	})

	// Force the browser process to start now so a broken Chrome install
	// fails Acquire instead of the first Fetch.
	startCtx, cancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer cancel()
	if err := chromedp.Run(startCtx); err != nil {
		s.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	return s, nil
}

// Context returns the browser context used to drive this session.
func (s *Session) Context() context.Context { return s.ctx }

// Alive performs a trivial property read against the browser handle and
// reports whether it responds.
func (s *Session) Alive() bool {
	if s.aliveFn != nil {
		return s.aliveFn()
	}
	if s.ctx == nil {
		return false
	}
	if err := s.ctx.Err(); err != nil {
		return false
	}
	checkCtx, cancel := context.WithTimeout(s.ctx, 3*time.Second)
	defer cancel()
	var state string
	return chromedp.Run(checkCtx, chromedp.Evaluate("document.readyState", &state)) == nil
}

// RecordUse increments the use counter and returns the new value.
func (s *Session) RecordUse(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uses++
	s.lastUsed = now
	return s.uses
}

// Uses returns how many fetches this session has served.
func (s *Session) Uses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uses
}

// LastUsed returns when the session last served a fetch.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// DrainConsole returns and clears the console lines collected since the
// last drain.
func (s *Session) DrainConsole() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.console
	s.console = nil
	return out
}

// Close tears the browser down. Idempotent.
func (s *Session) Close() {
	for _, cancel := range s.cancelChain {
		cancel()
	}
	s.cancelChain = nil
}

// ScrubProfile removes the persisted profile directory, forcing a clean
// identity on the next launch. Call only after Close.
func (s *Session) ScrubProfile() error {
	if s.ProfileDir == "" {
		return nil
	}
	return os.RemoveAll(s.ProfileDir)
}

func profileDirFor(stateDir, targetID string) string {
	return filepath.Join(stateDir, "profiles", targetID)
}

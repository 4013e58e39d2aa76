// Package fetch drives one browser session against a target's calendar
// page and returns the rendered DOM plus the side channel the classifier
// needs to tell a blocked page from an empty one.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"

	"github.com/lotwatch/lotwatch/internal/browser"
)

// ErrSessionBroken means the browser handle is unusable. The caller
// should evict the session; the fetcher never resurrects state silently.
var ErrSessionBroken = errors.New("browser session broken")

// Result is the rendered DOM snapshot plus side-channel signals.
type Result struct {
	HTML     string
	FinalURL string
	Title    string
	Console  []string
}

// Fetcher navigates sessions with bounded per-operation deadlines.
type Fetcher struct {
	// NavTimeout bounds page navigation (default 30s).
	NavTimeout time.Duration
	// ElementTimeout bounds the wait for the first requested date's
	// element (default 10s). The snapshot is taken even if this wait
	// times out.
	ElementTimeout time.Duration
	// SettleDelay is the base settling delay after navigation
	// (default 8s); a small random fraction is added on top.
	SettleDelay time.Duration
}

// Fetch loads the target URL in the session, waits for the element
// labeled firstLabel (best-effort), and snapshots the page. One
// navigation retry is attempted on transient connection errors.
func (f *Fetcher) Fetch(s *browser.Session, url, firstLabel string) (Result, error) {
	if !s.Alive() {
		return Result{}, ErrSessionBroken
	}
	s.DrainConsole() // drop lines from previous visits

	if err := f.navigate(s, url); err != nil {
		if !isTransient(err) {
			return Result{}, err
		}
		if err := f.navigate(s, url); err != nil {
			return Result{}, err
		}
	}

	f.settle(s.Context())
	f.humanize(s)
	f.waitForLabel(s, firstLabel)

	var res Result
	snapCtx, cancel := context.WithTimeout(s.Context(), 15*time.Second)
	defer cancel()
	err := chromedp.Run(snapCtx,
		chromedp.Location(&res.FinalURL),
		chromedp.Title(&res.Title),
		chromedp.OuterHTML("html", &res.HTML, chromedp.ByQuery),
	)
	if err != nil {
		if s.Context().Err() != nil {
			return Result{}, ErrSessionBroken
		}
		return Result{}, fmt.Errorf("snapshot: %w", err)
	}
	res.Console = s.DrainConsole()
	return res, nil
}

func (f *Fetcher) navigate(s *browser.Session, url string) error {
	timeout := f.NavTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	navCtx, cancel := context.WithTimeout(s.Context(), timeout)
	defer cancel()

	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		if s.Context().Err() != nil {
			return ErrSessionBroken
		}
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// settle gives the calendar's scripts time to render. The delay is the
// configured base plus up to 25% jitter, cancellable with the session.
func (f *Fetcher) settle(ctx context.Context) {
	base := f.SettleDelay
	if base <= 0 {
		base = 8 * time.Second
	}
	delay := base + time.Duration(rand.Int64N(int64(base/4)+1))
	sleepCtx(ctx, delay)
}

// waitForLabel waits, bounded, for the first requested date's element.
// Timeout is not an error: the classifier is robust to partial pages.
func (f *Fetcher) waitForLabel(s *browser.Session, label string) {
	if label == "" {
		return
	}
	timeout := f.ElementTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	waitCtx, cancel := context.WithTimeout(s.Context(), timeout)
	defer cancel()

	sel := fmt.Sprintf("[aria-label=%q]", label)
	_ = chromedp.Run(waitCtx, chromedp.WaitReady(sel, chromedp.ByQuery))
}

// humanize performs a few randomized, non-deterministic interactions:
// short pauses, small scroll deltas, and an occasional pointer move.
func (f *Fetcher) humanize(s *browser.Session) {
	ctx := s.Context()

	scrolls := 1 + rand.IntN(3)
	for i := 0; i < scrolls; i++ {
		sleepCtx(ctx, time.Duration(150+rand.IntN(450))*time.Millisecond)
		delta := 40 + rand.IntN(260)
		stepCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_ = chromedp.Run(stepCtx,
			chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", delta), nil),
		)
		cancel()
	}

	if rand.IntN(100) < 30 {
		x := float64(100 + rand.IntN(900))
		y := float64(100 + rand.IntN(500))
		moveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_ = chromedp.Run(moveCtx,
			input.DispatchMouseEvent(input.MouseMoved, x, y),
		)
		cancel()
	}
}

func isTransient(err error) bool {
	if err == nil || errors.Is(err, ErrSessionBroken) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"net::err_connection",
		"net::err_name_not_resolved",
		"net::err_timed_out",
		"net::err_network_changed",
		"context deadline exceeded",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

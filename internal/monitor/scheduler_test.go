package monitor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lotwatch/lotwatch/internal/browser"
	"github.com/lotwatch/lotwatch/internal/datelabel"
	"github.com/lotwatch/lotwatch/internal/fetch"
	"github.com/lotwatch/lotwatch/internal/model"
	"github.com/lotwatch/lotwatch/internal/rotate"
)

// --- fakes ---

type schedStore struct {
	active []model.ActiveSubscription

	listErr   error
	sweepErr  error
	calls     []string
	checks    []model.CheckLogEntry
	touched   []string
	increment []string
	swept     int64
}

func (s *schedStore) DeleteExpired(now time.Time) (int64, error) {
	s.calls = append(s.calls, "DeleteExpired")
	return s.swept, s.sweepErr
}

func (s *schedStore) ListActive() ([]model.ActiveSubscription, error) {
	s.calls = append(s.calls, "ListActive")
	return s.active, s.listErr
}

func (s *schedStore) TouchLastChecked(id string, ts time.Time) error {
	s.touched = append(s.touched, id)
	return nil
}

func (s *schedStore) IncrementSuccessCount(id string) error {
	s.increment = append(s.increment, id)
	return nil
}

func (s *schedStore) RecordCheck(e model.CheckLogEntry) error {
	s.checks = append(s.checks, e)
	return nil
}

type schedPool struct {
	acquired   int
	evicted    []string
	scrubbed   []string
	evictAll   int
	scrubAll   int
	acquireErr error
}

func (p *schedPool) Acquire(targetID string) (*browser.Session, bool, error) {
	if p.acquireErr != nil {
		return nil, false, p.acquireErr
	}
	p.acquired++
	return &browser.Session{TargetID: targetID}, false, nil
}

func (p *schedPool) Evict(targetID string, scrubProfile bool) {
	p.evicted = append(p.evicted, targetID)
	if scrubProfile {
		p.scrubbed = append(p.scrubbed, targetID)
	}
}

func (p *schedPool) EvictAll(scrubProfile bool) {
	p.evictAll++
	if scrubProfile {
		p.scrubAll++
	}
}

type schedFetcher struct {
	results []fetch.Result
	errs    []error
	calls   int
	labels  []string
}

func (f *schedFetcher) Fetch(s *browser.Session, url, firstLabel string) (fetch.Result, error) {
	i := f.calls
	f.calls++
	f.labels = append(f.labels, firstLabel)
	var res fetch.Result
	if i < len(f.results) {
		res = f.results[i]
	}
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return res, err
}

type schedNotifier struct {
	notified []string
	err      error
}

func (n *schedNotifier) Notify(sub model.ActiveSubscription) error {
	n.notified = append(n.notified, sub.ID)
	return n.err
}

type schedRotator struct {
	calls int
	err   error
}

func (r *schedRotator) Rotate(ctx context.Context) (rotate.Rotation, error) {
	r.calls++
	return rotate.Rotation{OldIdentity: "1.1.1.1", NewIdentity: "2.2.2.2"}, r.err
}

// --- helpers ---

func testSub(id, targetID, date string) model.ActiveSubscription {
	return model.ActiveSubscription{
		Subscription: model.Subscription{
			ID:         id,
			UserID:     "user-1",
			TargetID:   targetID,
			TargetDate: date,
			State:      model.StateActive,
		},
		OwnerEmail: "skier@example.com",
		Target: model.Target{
			ID:             targetID,
			Name:           "Resort " + targetID,
			URL:            "https://reserve.example.com/" + targetID,
			AvailableColor: "rgba(49, 200, 25, 0.2)",
		},
	}
}

func availablePage(labels ...string) fetch.Result {
	body := ""
	for _, l := range labels {
		body += fmt.Sprintf(`<div aria-label=%q style="background-color: rgba(49, 200, 25, 0.2);">16</div>`, l)
	}
	return fetch.Result{
		HTML:     "<html><body>" + body + "</body></html>",
		FinalURL: "https://reserve.example.com/parking",
		Title:    "Reserve Parking",
	}
}

func unavailablePage(labels ...string) fetch.Result {
	body := ""
	for _, l := range labels {
		body += fmt.Sprintf(`<div aria-label=%q style="background-color: rgb(231, 231, 231);">16</div>`, l)
	}
	return fetch.Result{HTML: "<html><body>" + body + "</body></html>"}
}

func blockedPage() fetch.Result {
	return fetch.Result{HTML: "<html><body><h1>Access Denied</h1></body></html>"}
}

type schedFixture struct {
	store    *schedStore
	pool     *schedPool
	fetcher  *schedFetcher
	notifier *schedNotifier
	rotator  *schedRotator
	sched    *Scheduler
}

func newFixture(t *testing.T, subs ...model.ActiveSubscription) *schedFixture {
	t.Helper()
	coder, err := datelabel.NewCoder("America/Denver")
	if err != nil {
		t.Fatalf("NewCoder: %v", err)
	}
	f := &schedFixture{
		store:    &schedStore{active: subs},
		pool:     &schedPool{},
		fetcher:  &schedFetcher{},
		notifier: &schedNotifier{},
		rotator:  &schedRotator{},
	}
	f.sched, err = New(Config{
		Store:               f.store,
		Pool:                f.pool,
		Fetcher:             f.fetcher,
		Notifier:            f.notifier,
		Rotator:             f.rotator,
		Coder:               coder,
		BaseTick:            time.Minute,
		InterGroupJitterMax: 0,
		CooldownMin:         10 * time.Minute,
		CooldownMax:         20 * time.Minute,
		NewSessionSettle:    time.Millisecond,
		Now:                 func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

// --- tests ---

func TestTick_AvailabilityHit(t *testing.T) {
	sub := testSub("sub-1", "t1", "2026-03-16")
	f := newFixture(t, sub)
	f.fetcher.results = []fetch.Result{availablePage("Monday, March 16, 2026")}

	extra := f.sched.tick(context.Background())
	if extra != 0 {
		t.Fatalf("extra delay: got %s, want 0", extra)
	}

	if got := f.notifier.notified; len(got) != 1 || got[0] != "sub-1" {
		t.Fatalf("notified: %v", got)
	}
	if got := f.store.increment; len(got) != 1 || got[0] != "sub-1" {
		t.Fatalf("incremented: %v", got)
	}
	if got := f.store.touched; len(got) != 1 || got[0] != "sub-1" {
		t.Fatalf("touched: %v", got)
	}
	if len(f.store.checks) != 1 {
		t.Fatalf("checks: %d", len(f.store.checks))
	}
	c := f.store.checks[0]
	if c.Outcome != model.CheckSuccess || !c.FoundAvailable || c.SnapshotHash == "" {
		t.Fatalf("check entry: %+v", c)
	}
}

func TestTick_SweepsBeforeListing(t *testing.T) {
	f := newFixture(t)
	f.sched.tick(context.Background())
	if len(f.store.calls) < 2 || f.store.calls[0] != "DeleteExpired" || f.store.calls[1] != "ListActive" {
		t.Fatalf("call order: %v", f.store.calls)
	}
}

func TestTick_NoSubscriptionsNoFetch(t *testing.T) {
	f := newFixture(t)
	f.sched.tick(context.Background())
	if f.fetcher.calls != 0 {
		t.Fatalf("fetched %d times with no subscriptions", f.fetcher.calls)
	}
}

func TestTick_UnavailableDoesNotNotify(t *testing.T) {
	sub := testSub("sub-1", "t1", "2026-03-16")
	f := newFixture(t, sub)
	f.fetcher.results = []fetch.Result{unavailablePage("Monday, March 16, 2026")}

	f.sched.tick(context.Background())
	if len(f.notifier.notified) != 0 {
		t.Fatalf("notified: %v", f.notifier.notified)
	}
	if len(f.store.touched) != 1 {
		t.Fatalf("unavailable subs must still be touched: %v", f.store.touched)
	}
}

func TestTick_BlockTriggersCooldownAndRotation(t *testing.T) {
	sub := testSub("sub-1", "t1", "2026-03-16")
	f := newFixture(t, sub)
	f.fetcher.results = []fetch.Result{blockedPage()}

	extra := f.sched.tick(context.Background())
	if extra < 10*time.Minute || extra >= 20*time.Minute {
		t.Fatalf("cooldown: got %s, want in [10m, 20m)", extra)
	}
	if f.rotator.calls != 1 {
		t.Fatalf("rotator calls: %d, want 1", f.rotator.calls)
	}
	if f.pool.scrubAll != 1 {
		t.Fatalf("EvictAll(scrub): %d, want 1", f.pool.scrubAll)
	}
	if len(f.notifier.notified) != 0 {
		t.Fatalf("blocked tick must not notify: %v", f.notifier.notified)
	}
	if len(f.store.checks) != 1 || f.store.checks[0].Outcome != model.CheckFailed {
		t.Fatalf("checks: %+v", f.store.checks)
	}
}

func TestTick_RotationFailureIsNotFatal(t *testing.T) {
	sub := testSub("sub-1", "t1", "2026-03-16")
	f := newFixture(t, sub)
	f.fetcher.results = []fetch.Result{blockedPage()}
	f.rotator.err = errors.New("tunnel unreachable")

	extra := f.sched.tick(context.Background())
	if extra < 10*time.Minute {
		t.Fatalf("cooldown still expected, got %s", extra)
	}
	f.sched.mu.Lock()
	fatal := f.sched.fatalErr
	f.sched.mu.Unlock()
	if fatal != nil {
		t.Fatalf("rotation failure became fatal: %v", fatal)
	}
}

func TestTick_BadDateSkipped(t *testing.T) {
	good := testSub("sub-good", "t1", "2026-03-16")
	bad := testSub("sub-bad", "t1", "2025-02-30")
	f := newFixture(t, good, bad)
	f.fetcher.results = []fetch.Result{availablePage("Monday, March 16, 2026")}

	f.sched.tick(context.Background())
	if f.fetcher.calls != 1 {
		t.Fatalf("fetch calls: %d, want 1", f.fetcher.calls)
	}
	if got := f.notifier.notified; len(got) != 1 || got[0] != "sub-good" {
		t.Fatalf("notified: %v", got)
	}
	for _, id := range f.store.touched {
		if id == "sub-bad" {
			t.Fatal("bad-date subscription must not be touched")
		}
	}
}

func TestTick_AllBadDatesNoFetch(t *testing.T) {
	bad := testSub("sub-bad", "t1", "2025-02-30")
	f := newFixture(t, bad)
	f.sched.tick(context.Background())
	if f.fetcher.calls != 0 {
		t.Fatalf("fetch calls: %d, want 0", f.fetcher.calls)
	}
}

func TestTick_SessionBrokenRecoversOnce(t *testing.T) {
	sub := testSub("sub-1", "t1", "2026-03-16")
	f := newFixture(t, sub)
	f.fetcher.errs = []error{fetch.ErrSessionBroken, nil}
	f.fetcher.results = []fetch.Result{{}, availablePage("Monday, March 16, 2026")}

	f.sched.tick(context.Background())
	if f.fetcher.calls != 2 {
		t.Fatalf("fetch calls: %d, want 2", f.fetcher.calls)
	}
	if len(f.pool.evicted) != 1 || f.pool.evicted[0] != "t1" {
		t.Fatalf("evicted: %v", f.pool.evicted)
	}
	if len(f.pool.scrubbed) != 0 {
		t.Fatalf("broken-session evict must not scrub: %v", f.pool.scrubbed)
	}
	if len(f.notifier.notified) != 1 {
		t.Fatalf("notified: %v", f.notifier.notified)
	}
}

func TestTick_FetchFailureRecordsCheck(t *testing.T) {
	sub := testSub("sub-1", "t1", "2026-03-16")
	f := newFixture(t, sub)
	f.fetcher.errs = []error{errors.New("net::ERR_TIMED_OUT")}

	extra := f.sched.tick(context.Background())
	if extra != 0 {
		t.Fatalf("plain fetch failure must not cool down, got %s", extra)
	}
	if len(f.store.checks) != 1 || f.store.checks[0].Outcome != model.CheckFailed {
		t.Fatalf("checks: %+v", f.store.checks)
	}
	if f.store.checks[0].ErrorText == "" {
		t.Fatal("failed check must record the error text")
	}
}

func TestTick_StoreErrorIsFatal(t *testing.T) {
	f := newFixture(t)
	f.store.listErr = errors.New("database is locked")

	f.sched.tick(context.Background())
	f.sched.mu.Lock()
	fatal := f.sched.fatalErr
	f.sched.mu.Unlock()
	if fatal == nil {
		t.Fatal("store error must be fatal")
	}
}

func TestRun_ReturnsFatalError(t *testing.T) {
	f := newFixture(t)
	f.store.sweepErr = errors.New("disk I/O error")

	err := f.sched.Run(context.Background())
	if err == nil || !errors.Is(err, f.store.sweepErr) {
		t.Fatalf("Run: got %v, want wrapped sweep error", err)
	}
	if f.pool.evictAll == 0 {
		t.Fatal("Run must tear down sessions on exit")
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sched.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run: got %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestGroupByTarget(t *testing.T) {
	subs := []model.ActiveSubscription{
		testSub("a", "t1", "2026-03-16"),
		testSub("b", "t2", "2026-03-16"),
		testSub("c", "t1", "2026-03-17"),
	}
	groups := groupByTarget(subs)
	if len(groups) != 2 {
		t.Fatalf("groups: %d, want 2", len(groups))
	}
	for _, g := range groups {
		switch g.target.ID {
		case "t1":
			if len(g.subs) != 2 || g.subs[0].ID != "a" || g.subs[1].ID != "c" {
				t.Fatalf("t1 group: %+v", g.subs)
			}
		case "t2":
			if len(g.subs) != 1 || g.subs[0].ID != "b" {
				t.Fatalf("t2 group: %+v", g.subs)
			}
		default:
			t.Fatalf("unexpected group %q", g.target.ID)
		}
	}
}

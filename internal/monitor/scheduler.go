// Package monitor runs the availability-monitoring control loop: one
// worker that sweeps expired subscriptions, groups the active ones by
// target, drives a browser visit per target, classifies the rendered
// calendar, and feeds detections to the notifier with block-aware
// backoff.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/lotwatch/lotwatch/internal/classify"
	"github.com/lotwatch/lotwatch/internal/datelabel"
	"github.com/lotwatch/lotwatch/internal/fetch"
	"github.com/lotwatch/lotwatch/internal/model"
	"github.com/lotwatch/lotwatch/internal/scanloop"
)

// Config configures a Scheduler.
type Config struct {
	Store    Store
	Pool     SessionPool
	Fetcher  Fetcher
	Notifier Notifier
	Rotator  Rotator
	Coder    *datelabel.Coder

	// BaseTick is the normal cadence between ticks; TickJitter is added
	// randomly on top.
	BaseTick   time.Duration
	TickJitter time.Duration

	// InterGroupJitterMax bounds the random pause between target visits
	// within a tick.
	InterGroupJitterMax time.Duration

	// Cooldown bounds for the extra delay after a blocked tick. The
	// actual cooldown is drawn uniformly from [Min, Max).
	CooldownMin time.Duration
	CooldownMax time.Duration

	// NewSessionSettle is the extra delay after a fresh browser launch,
	// giving challenge pages time to pass.
	NewSessionSettle time.Duration

	Now func() time.Time
}

// Scheduler is the single long-lived worker.
type Scheduler struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	fatalErr error
	cancel   context.CancelFunc
}

// New creates a Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Store == nil || cfg.Pool == nil || cfg.Fetcher == nil || cfg.Notifier == nil || cfg.Coder == nil {
		return nil, errors.New("monitor: store, pool, fetcher, notifier, and coder are required")
	}
	if cfg.BaseTick <= 0 {
		cfg.BaseTick = time.Minute
	}
	if cfg.CooldownMin <= 0 {
		cfg.CooldownMin = 10 * time.Minute
	}
	if cfg.CooldownMax <= cfg.CooldownMin {
		cfg.CooldownMax = cfg.CooldownMin + 10*time.Minute
	}
	if cfg.NewSessionSettle <= 0 {
		cfg.NewSessionSettle = 10 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{cfg: cfg, now: now}, nil
}

// Run executes the control loop until ctx is cancelled or a fatal store
// error occurs. On exit, all browser sessions are torn down.
func (s *Scheduler) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	scanloop.Run(ctx, s.cfg.BaseTick, s.cfg.TickJitter, func() time.Duration {
		return s.tick(ctx)
	})

	s.cfg.Pool.EvictAll(false)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatalErr != nil {
		return s.fatalErr
	}
	return parent.Err()
}

// fatal records a loop-halting error and cancels the loop.
func (s *Scheduler) fatal(err error) {
	s.mu.Lock()
	if s.fatalErr == nil {
		s.fatalErr = err
	}
	cancel := s.cancel
	s.mu.Unlock()
	log.Printf("monitor: fatal: %v", err)
	if cancel != nil {
		cancel()
	}
}

// group is all subscriptions for one target, in stored order.
type group struct {
	target model.Target
	subs   []model.ActiveSubscription
}

// tick runs one scheduler iteration and returns the extra delay to apply
// before the next one (the block cooldown, or 0).
func (s *Scheduler) tick(ctx context.Context) time.Duration {
	now := s.now()

	if n, err := s.cfg.Store.DeleteExpired(now); err != nil {
		s.fatal(fmt.Errorf("delete expired: %w", err))
		return 0
	} else if n > 0 {
		log.Printf("monitor: swept %d expired subscription(s)", n)
	}

	subs, err := s.cfg.Store.ListActive()
	if err != nil {
		s.fatal(fmt.Errorf("list active: %w", err))
		return 0
	}
	if len(subs) == 0 {
		return 0
	}

	groups := groupByTarget(subs)
	rand.Shuffle(len(groups), func(i, j int) { groups[i], groups[j] = groups[j], groups[i] })

	anyBlocked := false
	for _, g := range groups {
		if ctx.Err() != nil {
			return 0
		}
		if !scanloop.Sleep(ctx, scanloop.Jitter(s.cfg.InterGroupJitterMax)) {
			return 0
		}
		if blocked := s.checkGroup(ctx, g); blocked {
			anyBlocked = true
		}
	}

	if !anyBlocked {
		return 0
	}

	// Block response: drop every session and profile, rotate identity
	// best-effort, and stretch the loop by a long cooldown.
	s.cfg.Pool.EvictAll(true)
	if s.cfg.Rotator != nil {
		rotCtx, cancel := context.WithTimeout(ctx, 3*time.Minute)
		rot, err := s.cfg.Rotator.Rotate(rotCtx)
		cancel()
		if err != nil {
			log.Printf("monitor: identity rotation failed: %v", err)
		} else if rot.NewIdentity != "" {
			log.Printf("monitor: identity rotated %s -> %s", rot.OldIdentity, rot.NewIdentity)
		}
	}

	cooldown := s.cfg.CooldownMin + scanloop.Jitter(s.cfg.CooldownMax-s.cfg.CooldownMin)
	log.Printf("monitor: blocked; cooling down for %s", cooldown.Round(time.Second))
	return cooldown
}

// checkGroup visits one target and dispatches verdicts for its
// subscriptions. Returns whether the target looked blocked.
func (s *Scheduler) checkGroup(ctx context.Context, g group) bool {
	now := s.now()

	// BAD_DATE rows are skipped for the tick, never crash the loop.
	var requests []classify.Request
	seen := make(map[string]bool)
	valid := g.subs[:0:0]
	for _, sub := range g.subs {
		label, err := s.cfg.Coder.Encode(sub.TargetDate)
		if err != nil {
			log.Printf("monitor: %s: bad date %q: %v", sub.ID, sub.TargetDate, err)
			continue
		}
		valid = append(valid, sub)
		if !seen[sub.TargetDate] {
			seen[sub.TargetDate] = true
			requests = append(requests, classify.Request{Date: sub.TargetDate, Label: label})
		}
	}
	if len(requests) == 0 {
		return false
	}

	start := time.Now()
	res, err := s.fetchWithRecovery(ctx, g.target, requests[0].Label)
	elapsedMs := time.Since(start).Milliseconds()
	if err != nil {
		s.recordCheck(model.CheckLogEntry{
			TargetID:    g.target.ID,
			CheckedAtNs: now.UnixNano(),
			Outcome:     model.CheckFailed,
			ElapsedMs:   elapsedMs,
			ErrorText:   err.Error(),
		})
		log.Printf("monitor: %s: fetch failed: %v", g.target.Name, err)
		return false
	}

	verdicts := classify.Classify(classify.Page{
		HTML:     res.HTML,
		FinalURL: res.FinalURL,
		Title:    res.Title,
		Console:  res.Console,
	}, requests, g.target.AvailableColor)

	blocked := false
	foundAvailable := false
	histogram := make(map[classify.Verdict]int)
	allNotFound := true
	for _, v := range verdicts {
		histogram[v]++
		switch v {
		case classify.VerdictBlocked:
			blocked = true
		case classify.VerdictAvailable:
			foundAvailable = true
		}
		if v != classify.VerdictNotFound {
			allNotFound = false
		}
	}

	outcome := model.CheckSuccess
	errText := ""
	if blocked {
		outcome = model.CheckFailed
		errText = "blocked by target"
	} else if allNotFound {
		outcome = model.CheckFailed
		errText = "no requested dates found"
	}
	s.recordCheck(model.CheckLogEntry{
		TargetID:       g.target.ID,
		CheckedAtNs:    now.UnixNano(),
		Outcome:        outcome,
		ElapsedMs:      elapsedMs,
		FoundAvailable: foundAvailable,
		SnapshotHash:   fmt.Sprintf("%016x", xxh3.HashString(res.HTML)),
		ErrorText:      errText,
	})
	log.Printf("monitor: %s: %d date(s) in %dms: %v", g.target.Name, len(requests), elapsedMs, histogram)

	for _, sub := range valid {
		if err := s.cfg.Store.TouchLastChecked(sub.ID, now); err != nil {
			log.Printf("monitor: touch %s: %v", sub.ID, err)
		}
		switch verdicts[sub.TargetDate] {
		case classify.VerdictAvailable:
			if err := s.cfg.Notifier.Notify(sub); err != nil {
				log.Printf("monitor: notify %s: %v", sub.ID, err)
			}
			if err := s.cfg.Store.IncrementSuccessCount(sub.ID); err != nil {
				log.Printf("monitor: increment %s: %v", sub.ID, err)
			}
		case classify.VerdictBlocked, classify.VerdictUnavailable, classify.VerdictNotFound:
			// No per-subscription state change.
		}
	}

	if blocked {
		log.Printf("monitor: %s: BLOCKED", g.target.Name)
		s.cfg.Pool.Evict(g.target.ID, true)
	}
	return blocked
}

// fetchWithRecovery acquires the target's session and fetches once,
// recovering a single time from a broken browser handle by evicting (no
// profile scrub) and retrying with a fresh session.
func (s *Scheduler) fetchWithRecovery(ctx context.Context, target model.Target, firstLabel string) (fetch.Result, error) {
	for attempt := 0; attempt < 2; attempt++ {
		session, isNew, err := s.cfg.Pool.Acquire(target.ID)
		if err != nil {
			return fetch.Result{}, err
		}
		if isNew {
			if !scanloop.Sleep(ctx, s.cfg.NewSessionSettle) {
				return fetch.Result{}, ctx.Err()
			}
		}

		res, err := s.cfg.Fetcher.Fetch(session, target.URL, firstLabel)
		if err == nil {
			session.RecordUse(s.now())
			return res, nil
		}
		if errors.Is(err, fetch.ErrSessionBroken) && attempt == 0 {
			log.Printf("monitor: %s: session broken, replacing", target.Name)
			s.cfg.Pool.Evict(target.ID, false)
			continue
		}
		return fetch.Result{}, err
	}
	return fetch.Result{}, fetch.ErrSessionBroken
}

func (s *Scheduler) recordCheck(e model.CheckLogEntry) {
	if err := s.cfg.Store.RecordCheck(e); err != nil {
		log.Printf("monitor: record check for %s: %v", e.TargetID, err)
	}
}

// groupByTarget buckets subscriptions by target, preserving stored order
// within each bucket.
func groupByTarget(subs []model.ActiveSubscription) []group {
	index := make(map[string]int)
	var groups []group
	for _, sub := range subs {
		i, ok := index[sub.TargetID]
		if !ok {
			i = len(groups)
			index[sub.TargetID] = i
			groups = append(groups, group{target: sub.Target})
		}
		groups[i].subs = append(groups[i].subs, sub)
	}
	return groups
}

package monitor

import (
	"context"
	"time"

	"github.com/lotwatch/lotwatch/internal/browser"
	"github.com/lotwatch/lotwatch/internal/fetch"
	"github.com/lotwatch/lotwatch/internal/model"
	"github.com/lotwatch/lotwatch/internal/rotate"
)

// Store is the slice of the persistence layer the scheduler reads and
// writes. Store failures are fatal to the loop.
type Store interface {
	DeleteExpired(now time.Time) (int64, error)
	ListActive() ([]model.ActiveSubscription, error)
	TouchLastChecked(id string, ts time.Time) error
	IncrementSuccessCount(id string) error
	RecordCheck(e model.CheckLogEntry) error
}

// SessionPool hands out and tears down browser sessions.
type SessionPool interface {
	Acquire(targetID string) (*browser.Session, bool, error)
	Evict(targetID string, scrubProfile bool)
	EvictAll(scrubProfile bool)
}

// Fetcher loads a target's calendar page in a session.
type Fetcher interface {
	Fetch(s *browser.Session, url, firstLabel string) (fetch.Result, error)
}

// Notifier emits at most one email per subscription per availability
// event.
type Notifier interface {
	Notify(sub model.ActiveSubscription) error
}

// Rotator replaces the egress identity after a block.
type Rotator interface {
	Rotate(ctx context.Context) (rotate.Rotation, error)
}

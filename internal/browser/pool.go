package browser

import (
	"fmt"
	"log"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// Pool maintains at most one live session per target and at most Cap
// sessions overall. Sessions persist between ticks; Acquire replaces a
// session that is dead or past its use bound.
type Pool struct {
	sessions *xsync.Map[string, *Session]

	stateDir string
	cap      int
	useBound int

	// launch creates a session for a target. Defaults to Chrome;
	// injectable for tests.
	launch func(targetID, profileDir string) (*Session, error)

	now func() time.Time
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	StateDir string
	Cap      int // max concurrent sessions across all targets
	UseBound int // fetches per session before proactive teardown
	Launch   func(targetID, profileDir string) (*Session, error)
	Now      func() time.Time
}

// NewPool creates a Pool.
func NewPool(cfg PoolConfig) *Pool {
	p := &Pool{
		sessions: xsync.NewMap[string, *Session](),
		stateDir: cfg.StateDir,
		cap:      cfg.Cap,
		useBound: cfg.UseBound,
		launch:   cfg.Launch,
		now:      cfg.Now,
	}
	if p.cap <= 0 {
		p.cap = 1
	}
	if p.useBound <= 0 {
		p.useBound = 3
	}
	if p.launch == nil {
		p.launch = newChromeSession
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Acquire returns a healthy session for the target, creating one if
// absent, replacing one whose liveness check fails or whose use counter
// reached the bound, and evicting the least-recently-used peer if the
// session cap would be exceeded.
func (p *Pool) Acquire(targetID string) (*Session, bool, error) {
	if s, ok := p.sessions.Load(targetID); ok {
		if s.Alive() && s.Uses() < p.useBound {
			return s, false, nil
		}
		p.Evict(targetID, false)
	}

	p.evictOverCap(targetID)

	s, err := p.launch(targetID, profileDirFor(p.stateDir, targetID))
	if err != nil {
		return nil, false, fmt.Errorf("acquire session for %s: %w", targetID, err)
	}
	p.sessions.Store(targetID, s)
	return s, true, nil
}

// evictOverCap makes room for one more session by evicting the
// least-recently-used session other than keepID.
func (p *Pool) evictOverCap(keepID string) {
	for p.sessions.Size() >= p.cap {
		var lruID string
		var lruTime time.Time
		p.sessions.Range(func(id string, s *Session) bool {
			if id == keepID {
				return true
			}
			if lruID == "" || s.LastUsed().Before(lruTime) {
				lruID = id
				lruTime = s.LastUsed()
			}
			return true
		})
		if lruID == "" {
			return
		}
		log.Printf("session pool: cap %d reached, evicting %s", p.cap, lruID)
		p.Evict(lruID, false)
	}
}

// Evict tears down the target's session. With scrubProfile, the persisted
// browser profile is removed as well, forcing a clean identity next
// acquisition.
func (p *Pool) Evict(targetID string, scrubProfile bool) {
	s, ok := p.sessions.LoadAndDelete(targetID)
	if !ok {
		return
	}
	s.Close()
	if scrubProfile {
		if err := s.ScrubProfile(); err != nil {
			log.Printf("session pool: scrub profile for %s: %v", targetID, err)
		}
	}
}

// EvictAll tears down every session. With scrubProfile, all profiles are
// removed too. Used on block cooldowns and at shutdown.
func (p *Pool) EvictAll(scrubProfile bool) {
	var ids []string
	p.sessions.Range(func(id string, _ *Session) bool {
		ids = append(ids, id)
		return true
	})
	for _, id := range ids {
		p.Evict(id, scrubProfile)
	}
}

// Size returns the number of live sessions.
func (p *Pool) Size() int { return p.sessions.Size() }

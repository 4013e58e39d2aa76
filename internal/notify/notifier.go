// Package notify converts an availability detection into at most one
// email per subscription per event, with signed resume/stop links.
package notify

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/maypok86/otter"

	"github.com/lotwatch/lotwatch/internal/datelabel"
	"github.com/lotwatch/lotwatch/internal/model"
	"github.com/lotwatch/lotwatch/internal/token"
)

// ErrSendFailed wraps an SMTP failure. The subscription stays ACTIVE so
// a later tick can retry once the soft debounce allows.
var ErrSendFailed = errors.New("notification send failed")

// Store is the slice of the persistence layer the notifier writes to.
type Store interface {
	RecordNotification(subscriptionID, userID, targetName, targetDate string, now time.Time) (string, error)
	SetNotificationStatus(id, status string) error
	MarkState(id string, state model.SubscriptionState) error
	LastSentNotificationNs(subscriptionID string) (int64, error)
}

// Config configures a Notifier.
type Config struct {
	Store   Store
	Mailer  Mailer
	Signer  *token.Signer
	Coder   *datelabel.Coder
	BaseURL string // public base URL for signed links, no trailing slash

	// SoftDebounce is the minimum gap between emails for the same
	// subscription, independent of the state gate (default 30m).
	SoftDebounce time.Duration

	Now func() time.Time
}

// Notifier applies the debounce policy and drives the
// record → send → transition sequence.
type Notifier struct {
	store        Store
	mailer       Mailer
	signer       *token.Signer
	coder        *datelabel.Coder
	baseURL      string
	softDebounce time.Duration
	now          func() time.Time

	// recent is a safety net against state-machine bugs: a TTL cache of
	// subscription IDs emailed within the soft-debounce window.
	recent otter.Cache[string, struct{}]
}

// New creates a Notifier.
func New(cfg Config) (*Notifier, error) {
	if cfg.Store == nil || cfg.Mailer == nil || cfg.Signer == nil || cfg.Coder == nil {
		return nil, errors.New("notify: store, mailer, signer, and coder are required")
	}
	soft := cfg.SoftDebounce
	if soft <= 0 {
		soft = 30 * time.Minute
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	recent, err := otter.MustBuilder[string, struct{}](4096).
		WithTTL(soft).
		Build()
	if err != nil {
		return nil, fmt.Errorf("notify: build debounce cache: %w", err)
	}

	return &Notifier{
		store:        cfg.Store,
		mailer:       cfg.Mailer,
		signer:       cfg.Signer,
		coder:        cfg.Coder,
		baseURL:      cfg.BaseURL,
		softDebounce: soft,
		now:          now,
		recent:       recent,
	}, nil
}

// Notify emails the subscription's owner about an availability hit.
// A non-ACTIVE subscription is a silent no-op (the strong debounce);
// a recent send for the same subscription is skipped (the soft one).
// On send success the subscription transitions ACTIVE → NOTIFIED.
func (n *Notifier) Notify(sub model.ActiveSubscription) error {
	if sub.State != model.StateActive {
		return nil
	}
	now := n.now()

	if _, hit := n.recent.Get(sub.ID); hit {
		log.Printf("notify: %s debounced (cache)", sub.ID)
		return nil
	}
	lastNs, err := n.store.LastSentNotificationNs(sub.ID)
	if err != nil {
		return fmt.Errorf("notify: check last notification: %w", err)
	}
	if lastNs > 0 && now.Sub(model.NsToTime(lastNs)) < n.softDebounce {
		log.Printf("notify: %s debounced (store)", sub.ID)
		return nil
	}

	subject, body, err := n.compose(sub, now)
	if err != nil {
		return fmt.Errorf("notify: compose: %w", err)
	}

	// Record before send so a crash between the two leaves evidence.
	noteID, err := n.store.RecordNotification(sub.ID, sub.UserID, sub.Target.Name, sub.TargetDate, now)
	if err != nil {
		return fmt.Errorf("notify: record: %w", err)
	}

	if err := n.mailer.SendMail(sub.OwnerEmail, subject, body); err != nil {
		if markErr := n.store.SetNotificationStatus(noteID, "failed"); markErr != nil {
			log.Printf("notify: mark notification %s failed: %v", noteID, markErr)
		}
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	if err := n.store.SetNotificationStatus(noteID, "sent"); err != nil {
		return fmt.Errorf("notify: finalize notification: %w", err)
	}
	if err := n.store.MarkState(sub.ID, model.StateNotified); err != nil {
		return fmt.Errorf("notify: transition subscription: %w", err)
	}
	n.recent.Set(sub.ID, struct{}{})

	log.Printf("notify: emailed %s for %s %s", sub.OwnerEmail, sub.Target.Name, sub.TargetDate)
	return nil
}

func (n *Notifier) compose(sub model.ActiveSubscription, now time.Time) (subject, body string, err error) {
	humanDate, err := n.coder.Encode(sub.TargetDate)
	if err != nil {
		return "", "", err
	}

	resumeTok, err := n.signer.Issue(sub.ID, token.IntentResume, now)
	if err != nil {
		return "", "", err
	}
	stopTok, err := n.signer.Issue(sub.ID, token.IntentStop, now)
	if err != nil {
		return "", "", err
	}

	subject = fmt.Sprintf("Parking Available: %s on %s", sub.Target.Name, humanDate)
	body = fmt.Sprintf(`<html><body>
<p>Good news! Parking is now available at <b>%s</b> for <b>%s</b>.</p>
<p><a href="%s">Book your parking spot</a></p>
<p>This alert is paused until you act on it:</p>
<ul>
<li><a href="%s/continue-monitoring/%s">Keep monitoring this date</a> (if you didn't get a spot)</li>
<li><a href="%s/stop-monitoring/%s">Stop monitoring this date</a></li>
</ul>
<p>This is an automated notification. Please do not reply to this email.</p>
</body></html>`,
		sub.Target.Name, humanDate,
		sub.Target.URL,
		n.baseURL, resumeTok,
		n.baseURL, stopTok,
	)
	return subject, body, nil
}

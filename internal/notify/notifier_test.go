package notify

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/lotwatch/lotwatch/internal/datelabel"
	"github.com/lotwatch/lotwatch/internal/model"
	"github.com/lotwatch/lotwatch/internal/token"
)

type sentMail struct {
	to      string
	subject string
	body    string
}

type fakeMailer struct {
	sent []sentMail
	err  error
}

func (m *fakeMailer) SendMail(to, subject, htmlBody string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to, subject, htmlBody})
	return nil
}

type fakeStore struct {
	lastSentNs int64
	nextNoteID int

	recorded []string          // notification IDs in record order
	statuses map[string]string // notification ID -> final status
	states   map[string]model.SubscriptionState
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		statuses: make(map[string]string),
		states:   make(map[string]model.SubscriptionState),
	}
}

func (s *fakeStore) RecordNotification(subscriptionID, userID, targetName, targetDate string, now time.Time) (string, error) {
	s.nextNoteID++
	id := fmt.Sprintf("note-%d", s.nextNoteID)
	s.recorded = append(s.recorded, id)
	s.statuses[id] = "pending"
	return id, nil
}

func (s *fakeStore) SetNotificationStatus(id, status string) error {
	if _, ok := s.statuses[id]; !ok {
		return errors.New("unknown notification")
	}
	s.statuses[id] = status
	return nil
}

func (s *fakeStore) MarkState(id string, state model.SubscriptionState) error {
	s.states[id] = state
	return nil
}

func (s *fakeStore) LastSentNotificationNs(string) (int64, error) {
	return s.lastSentNs, nil
}

var notifyNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestNotifier(t *testing.T, store Store, mailer Mailer) *Notifier {
	t.Helper()
	signer, err := token.NewSigner("a long random notifier test secret", time.Hour)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	coder, err := datelabel.NewCoder("America/Denver")
	if err != nil {
		t.Fatalf("NewCoder: %v", err)
	}
	n, err := New(Config{
		Store:        store,
		Mailer:       mailer,
		Signer:       signer,
		Coder:        coder,
		BaseURL:      "https://alerts.example.com",
		SoftDebounce: 30 * time.Minute,
		Now:          func() time.Time { return notifyNow },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return n
}

func activeSub(id string) model.ActiveSubscription {
	return model.ActiveSubscription{
		Subscription: model.Subscription{
			ID:         id,
			UserID:     "user-1",
			TargetID:   "target-1",
			TargetDate: "2026-03-16",
			State:      model.StateActive,
		},
		OwnerEmail: "skier@example.com",
		Target: model.Target{
			ID:   "target-1",
			Name: "Big Sky Resort",
			URL:  "https://reserve.bigsky.example/parking",
		},
	}
}

func TestNotify_HappyPath(t *testing.T) {
	store := newFakeStore()
	mailer := &fakeMailer{}
	n := newTestNotifier(t, store, mailer)

	if err := n.Notify(activeSub("sub-1")); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if len(mailer.sent) != 1 {
		t.Fatalf("sent %d mails, want 1", len(mailer.sent))
	}
	m := mailer.sent[0]
	if m.to != "skier@example.com" {
		t.Errorf("to: got %q", m.to)
	}
	if !strings.Contains(m.subject, "Big Sky Resort") || !strings.Contains(m.subject, "Monday, March 16, 2026") {
		t.Errorf("subject: got %q", m.subject)
	}
	for _, want := range []string{
		"https://reserve.bigsky.example/parking",
		"https://alerts.example.com/continue-monitoring/",
		"https://alerts.example.com/stop-monitoring/",
	} {
		if !strings.Contains(m.body, want) {
			t.Errorf("body missing %q", want)
		}
	}

	if len(store.recorded) != 1 {
		t.Fatalf("recorded %d notifications, want 1", len(store.recorded))
	}
	if got := store.statuses[store.recorded[0]]; got != "sent" {
		t.Errorf("status: got %q, want sent", got)
	}
	if got := store.states["sub-1"]; got != model.StateNotified {
		t.Errorf("state: got %q, want NOTIFIED", got)
	}
}

func TestNotify_LinksAreVerifiableAndDistinct(t *testing.T) {
	store := newFakeStore()
	mailer := &fakeMailer{}
	n := newTestNotifier(t, store, mailer)

	if err := n.Notify(activeSub("sub-1")); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	body := mailer.sent[0].body

	extract := func(prefix string) string {
		i := strings.Index(body, prefix)
		if i < 0 {
			t.Fatalf("body missing %q", prefix)
		}
		rest := body[i+len(prefix):]
		return rest[:strings.IndexByte(rest, '"')]
	}
	resumeTok := extract("https://alerts.example.com/continue-monitoring/")
	stopTok := extract("https://alerts.example.com/stop-monitoring/")

	claims, err := n.signer.Verify(resumeTok, token.IntentResume, notifyNow)
	if err != nil || claims.SubscriptionID != "sub-1" {
		t.Fatalf("resume token: claims=%+v err=%v", claims, err)
	}
	if _, err := n.signer.Verify(stopTok, token.IntentStop, notifyNow); err != nil {
		t.Fatalf("stop token: %v", err)
	}
	// The resume token must not work as a stop token.
	if _, err := n.signer.Verify(resumeTok, token.IntentStop, notifyNow); err == nil {
		t.Fatal("resume token verified under stop intent")
	}
}

func TestNotify_NonActiveIsNoop(t *testing.T) {
	store := newFakeStore()
	mailer := &fakeMailer{}
	n := newTestNotifier(t, store, mailer)

	sub := activeSub("sub-1")
	sub.State = model.StateNotified
	if err := n.Notify(sub); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(mailer.sent) != 0 || len(store.recorded) != 0 {
		t.Fatalf("non-ACTIVE subscription produced side effects: %d mails, %d records",
			len(mailer.sent), len(store.recorded))
	}
}

func TestNotify_CacheDebounce(t *testing.T) {
	store := newFakeStore()
	mailer := &fakeMailer{}
	n := newTestNotifier(t, store, mailer)

	sub := activeSub("sub-1")
	if err := n.Notify(sub); err != nil {
		t.Fatalf("first: %v", err)
	}
	// Same subscription still claims ACTIVE (stale snapshot); the TTL
	// cache must still swallow the repeat.
	if err := n.Notify(sub); err != nil {
		t.Fatalf("second: %v", err)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("sent %d mails, want 1", len(mailer.sent))
	}
}

func TestNotify_StoreDebounce(t *testing.T) {
	store := newFakeStore()
	store.lastSentNs = notifyNow.Add(-10 * time.Minute).UnixNano()
	mailer := &fakeMailer{}
	n := newTestNotifier(t, store, mailer)

	if err := n.Notify(activeSub("sub-1")); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(mailer.sent) != 0 {
		t.Fatalf("sent %d mails, want 0 (inside debounce window)", len(mailer.sent))
	}
}

func TestNotify_StoreDebounceExpired(t *testing.T) {
	store := newFakeStore()
	store.lastSentNs = notifyNow.Add(-45 * time.Minute).UnixNano()
	mailer := &fakeMailer{}
	n := newTestNotifier(t, store, mailer)

	if err := n.Notify(activeSub("sub-1")); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("sent %d mails, want 1 (debounce window passed)", len(mailer.sent))
	}
}

func TestNotify_SendFailure(t *testing.T) {
	store := newFakeStore()
	mailer := &fakeMailer{err: errors.New("smtp: connection refused")}
	n := newTestNotifier(t, store, mailer)

	err := n.Notify(activeSub("sub-1"))
	if !errors.Is(err, ErrSendFailed) {
		t.Fatalf("got %v, want ErrSendFailed", err)
	}
	if got := store.statuses[store.recorded[0]]; got != "failed" {
		t.Errorf("status: got %q, want failed", got)
	}
	if _, transitioned := store.states["sub-1"]; transitioned {
		t.Error("failed send must leave the subscription ACTIVE")
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}

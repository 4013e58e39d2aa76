// Package model defines domain structs shared across the persistence layer.
package model

import "time"

// SubscriptionState is the lifecycle state of a monitoring subscription.
type SubscriptionState string

const (
	// StateActive means the subscription is scheduled for checks.
	StateActive SubscriptionState = "ACTIVE"
	// StateNotified means an availability email has been sent and the
	// subscription is paused until the user resumes it.
	StateNotified SubscriptionState = "NOTIFIED"
	// StateExpired is a terminal marker used only in exports; expired rows
	// are normally deleted by the sweep.
	StateExpired SubscriptionState = "EXPIRED"
)

// IsValid reports whether s is a known subscription state.
func (s SubscriptionState) IsValid() bool {
	switch s {
	case StateActive, StateNotified, StateExpired:
		return true
	}
	return false
}

// CheckOutcome is the per-target result of one scheduler tick.
type CheckOutcome string

const (
	CheckSuccess CheckOutcome = "SUCCESS"
	CheckFailed  CheckOutcome = "FAILED"
)

// User owns subscriptions. Only the credential hash is persisted, never
// the PIN itself.
type User struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	CredentialHash string `json:"-"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Timezone       string `json:"timezone"`
	CreatedAtNs    int64  `json:"created_at_ns"`
}

// Target is one monitored reservation site.
type Target struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	URL              string `json:"url"`
	AvailableColor   string `json:"available_color"`
	UnavailableColor string `json:"unavailable_color"`
	CheckIntervalSec int    `json:"check_interval_sec"`
}

// Subscription is the unit of scheduled work: one (user, target, date).
type Subscription struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	TargetID      string            `json:"target_id"`
	TargetDate    string            `json:"target_date"` // YYYY-MM-DD
	State         SubscriptionState `json:"state"`
	Priority      int               `json:"priority"`
	CreatedAtNs   int64             `json:"created_at_ns"`
	LastCheckedNs int64             `json:"last_checked_ns"`
	SuccessCount  int               `json:"success_count"`
}

// ActiveSubscription is a Subscription joined with its owner's email and
// the full target row, as returned by ListActive.
type ActiveSubscription struct {
	Subscription
	OwnerEmail string `json:"owner_email"`
	Target     Target `json:"target"`
}

// Notification records one email actually emitted. Target name and date are
// denormalized so history stays readable after the subscription is deleted.
type Notification struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	SubscriptionID string `json:"subscription_id"`
	SentAtNs       int64  `json:"sent_at_ns"`
	DeliveryStatus string `json:"delivery_status"` // "sent" or "failed"
	TargetName     string `json:"target_name"`
	TargetDate     string `json:"target_date"`
}

// CheckLogEntry is one append-only row per (target, tick).
type CheckLogEntry struct {
	ID             int64        `json:"id"`
	TargetID       string       `json:"target_id"`
	CheckedAtNs    int64        `json:"checked_at_ns"`
	Outcome        CheckOutcome `json:"outcome"`
	ElapsedMs      int64        `json:"elapsed_ms"`
	FoundAvailable bool         `json:"found_available"`
	SnapshotHash   string       `json:"snapshot_hash"`
	ErrorText      string       `json:"error_text"`
}

// NsToTime converts a unix-nanosecond timestamp to time.Time.
func NsToTime(ns int64) time.Time { return time.Unix(0, ns) }

package store

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lotwatch/lotwatch/internal/datelabel"
	"github.com/lotwatch/lotwatch/internal/model"
)

// Repo wraps the database and provides transactional CRUD for all
// persisted state. All writes are serialized by an internal mutex.
type Repo struct {
	db    *sql.DB
	coder *datelabel.Coder
	mu    sync.Mutex
}

// NewRepo creates a Repo over an opened, migrated database.
func NewRepo(db *sql.DB, coder *datelabel.Coder) *Repo {
	return &Repo{db: db, coder: coder}
}

// --- users ---

// UpsertUser returns the ID of the user with the given email, creating the
// row if absent. If the email exists with a different credential hash, it
// returns ErrConflict.
func (r *Repo) UpsertUser(email, credentialHash string, now time.Time) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	r.mu.Lock()
	defer r.mu.Unlock()

	var id, existingHash string
	err := r.db.QueryRow(
		"SELECT id, credential_hash FROM users WHERE email = ?", email,
	).Scan(&id, &existingHash)
	switch {
	case err == sql.ErrNoRows:
		id = uuid.NewString()
		_, err = r.db.Exec(`
			INSERT INTO users (id, email, credential_hash, created_at_ns)
			VALUES (?, ?, ?, ?)
		`, id, email, credentialHash, now.UnixNano())
		if err != nil {
			return "", fmt.Errorf("insert user: %w", err)
		}
		return id, nil
	case err != nil:
		return "", fmt.Errorf("lookup user: %w", err)
	}

	if existingHash != credentialHash {
		return "", fmt.Errorf("user %s: %w", email, ErrConflict)
	}
	return id, nil
}

// AuthByEmailAndPin returns the user whose credential hash matches the
// given email and PIN. Returns ErrNotFound on any mismatch, without
// distinguishing unknown email from wrong PIN.
func (r *Repo) AuthByEmailAndPin(email, pin string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	want := CredentialHash(email, pin)

	var u model.User
	err := r.db.QueryRow(`
		SELECT id, email, credential_hash, first_name, last_name, timezone, created_at_ns
		FROM users WHERE email = ?
	`, email).Scan(&u.ID, &u.Email, &u.CredentialHash, &u.FirstName, &u.LastName, &u.Timezone, &u.CreatedAtNs)
	if err == sql.ErrNoRows {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if u.CredentialHash != want {
		return model.User{}, ErrNotFound
	}
	return u, nil
}

// DeleteUserCascade removes a user and, via foreign keys, all owned
// subscriptions and notifications.
func (r *Repo) DeleteUserCascade(userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.Exec("DELETE FROM users WHERE id = ?", userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- targets ---

// ListTargets returns all targets ordered by name.
func (r *Repo) ListTargets() ([]model.Target, error) {
	rows, err := r.db.Query(`
		SELECT id, name, url, available_color, unavailable_color, check_interval_sec
		FROM targets ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Target
	for rows.Next() {
		var t model.Target
		if err := rows.Scan(&t.ID, &t.Name, &t.URL, &t.AvailableColor,
			&t.UnavailableColor, &t.CheckIntervalSec); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// GetTarget returns one target by ID.
func (r *Repo) GetTarget(id string) (model.Target, error) {
	var t model.Target
	err := r.db.QueryRow(`
		SELECT id, name, url, available_color, unavailable_color, check_interval_sec
		FROM targets WHERE id = ?
	`, id).Scan(&t.ID, &t.Name, &t.URL, &t.AvailableColor, &t.UnavailableColor, &t.CheckIntervalSec)
	if err == sql.ErrNoRows {
		return model.Target{}, ErrNotFound
	}
	if err != nil {
		return model.Target{}, fmt.Errorf("lookup target: %w", err)
	}
	return t, nil
}

// --- subscriptions ---

// CreateSubscriptions forms the cross product of targets and dates for the
// user and inserts the pairs that do not already exist. Past dates are
// rejected with ErrPastDate before anything is written. Returns the IDs of
// the rows actually created.
func (r *Repo) CreateSubscriptions(userID string, targetIDs, dates []string, now time.Time) ([]string, error) {
	for _, d := range dates {
		past, err := r.coder.IsPast(d, now)
		if err != nil {
			return nil, err
		}
		if past {
			return nil, fmt.Errorf("%s: %w", d, ErrPastDate)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var created []string
	for _, targetID := range targetIDs {
		for _, d := range dates {
			id := uuid.NewString()
			res, err := tx.Exec(`
				INSERT INTO subscriptions (id, user_id, target_id, target_date, state, created_at_ns)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(user_id, target_id, target_date) DO NOTHING
			`, id, userID, targetID, d, model.StateActive, now.UnixNano())
			if err != nil {
				return nil, fmt.Errorf("insert subscription: %w", err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				created = append(created, id)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return created, nil
}

// ListActive returns all ACTIVE subscriptions joined with owner email and
// target, ordered by (priority DESC, creation ASC).
func (r *Repo) ListActive() ([]model.ActiveSubscription, error) {
	rows, err := r.db.Query(`
		SELECT s.id, s.user_id, s.target_id, s.target_date, s.state, s.priority,
		       s.created_at_ns, s.last_checked_ns, s.success_count,
		       u.email,
		       t.id, t.name, t.url, t.available_color, t.unavailable_color, t.check_interval_sec
		FROM subscriptions s
		JOIN users u ON u.id = s.user_id
		JOIN targets t ON t.id = s.target_id
		WHERE s.state = ?
		ORDER BY s.priority DESC, s.created_at_ns ASC
	`, model.StateActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.ActiveSubscription
	for rows.Next() {
		var a model.ActiveSubscription
		if err := rows.Scan(
			&a.ID, &a.UserID, &a.TargetID, &a.TargetDate, &a.State, &a.Priority,
			&a.CreatedAtNs, &a.LastCheckedNs, &a.SuccessCount,
			&a.OwnerEmail,
			&a.Target.ID, &a.Target.Name, &a.Target.URL, &a.Target.AvailableColor,
			&a.Target.UnavailableColor, &a.Target.CheckIntervalSec,
		); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// ListForUser returns all of a user's subscriptions, newest first.
func (r *Repo) ListForUser(userID string) ([]model.Subscription, error) {
	rows, err := r.db.Query(`
		SELECT id, user_id, target_id, target_date, state, priority,
		       created_at_ns, last_checked_ns, success_count
		FROM subscriptions WHERE user_id = ?
		ORDER BY created_at_ns DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Subscription
	for rows.Next() {
		var s model.Subscription
		if err := rows.Scan(&s.ID, &s.UserID, &s.TargetID, &s.TargetDate, &s.State,
			&s.Priority, &s.CreatedAtNs, &s.LastCheckedNs, &s.SuccessCount); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// GetSubscription returns a subscription with its owner's email and target.
func (r *Repo) GetSubscription(id string) (model.Subscription, string, model.Target, error) {
	var s model.Subscription
	var email string
	var t model.Target
	err := r.db.QueryRow(`
		SELECT s.id, s.user_id, s.target_id, s.target_date, s.state, s.priority,
		       s.created_at_ns, s.last_checked_ns, s.success_count,
		       u.email,
		       t.id, t.name, t.url, t.available_color, t.unavailable_color, t.check_interval_sec
		FROM subscriptions s
		JOIN users u ON u.id = s.user_id
		JOIN targets t ON t.id = s.target_id
		WHERE s.id = ?
	`, id).Scan(
		&s.ID, &s.UserID, &s.TargetID, &s.TargetDate, &s.State, &s.Priority,
		&s.CreatedAtNs, &s.LastCheckedNs, &s.SuccessCount,
		&email,
		&t.ID, &t.Name, &t.URL, &t.AvailableColor, &t.UnavailableColor, &t.CheckIntervalSec,
	)
	if err == sql.ErrNoRows {
		return model.Subscription{}, "", model.Target{}, ErrNotFound
	}
	if err != nil {
		return model.Subscription{}, "", model.Target{}, fmt.Errorf("lookup subscription: %w", err)
	}
	return s, email, t, nil
}

// DeleteSubscription removes a subscription after verifying ownership.
func (r *Repo) DeleteSubscription(id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var owner string
	err := r.db.QueryRow("SELECT user_id FROM subscriptions WHERE id = ?", id).Scan(&owner)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup subscription: %w", err)
	}
	if owner != userID {
		return ErrForbidden
	}

	_, err = r.db.Exec("DELETE FROM subscriptions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

// DeleteSubscriptionByID removes a subscription without an ownership
// check. Callers must have authorized the removal some other way, such
// as a signed stop link.
func (r *Repo) DeleteSubscriptionByID(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.Exec("DELETE FROM subscriptions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpired removes subscriptions whose date is before today in the
// configured zone, regardless of state. Returns the number removed.
func (r *Repo) DeleteExpired(now time.Time) (int64, error) {
	today := r.coder.Today(now)

	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.Exec("DELETE FROM subscriptions WHERE target_date < ?", today)
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// MarkState sets a subscription's state.
func (r *Repo) MarkState(id string, state model.SubscriptionState) error {
	if !state.IsValid() {
		return fmt.Errorf("invalid state %q", state)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.Exec("UPDATE subscriptions SET state = ? WHERE id = ?", state, id)
	if err != nil {
		return fmt.Errorf("mark state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastChecked stamps the subscription's last-check time.
func (r *Repo) TouchLastChecked(id string, ts time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec("UPDATE subscriptions SET last_checked_ns = ? WHERE id = ?", ts.UnixNano(), id)
	return err
}

// IncrementSuccessCount bumps the subscription's availability-hit counter.
func (r *Repo) IncrementSuccessCount(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec("UPDATE subscriptions SET success_count = success_count + 1 WHERE id = ?", id)
	return err
}

// CountActive returns the number of ACTIVE subscriptions.
func (r *Repo) CountActive() (int, error) {
	var n int
	err := r.db.QueryRow("SELECT COUNT(*) FROM subscriptions WHERE state = ?", model.StateActive).Scan(&n)
	return n, err
}

// --- notifications ---

// RecordNotification inserts a pending notification row before the send is
// attempted and returns its ID.
func (r *Repo) RecordNotification(subscriptionID, userID, targetName, targetDate string, now time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewString()
	_, err := r.db.Exec(`
		INSERT INTO notifications (id, user_id, subscription_id, sent_at_ns, delivery_status, target_name, target_date)
		VALUES (?, ?, ?, ?, 'pending', ?, ?)
	`, id, userID, subscriptionID, now.UnixNano(), targetName, targetDate)
	if err != nil {
		return "", fmt.Errorf("insert notification: %w", err)
	}
	return id, nil
}

// SetNotificationStatus finalizes a notification's delivery status
// ("sent" or "failed").
func (r *Repo) SetNotificationStatus(id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.Exec("UPDATE notifications SET delivery_status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("set notification status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// LastSentNotificationNs returns the sent_at_ns of the most recent
// successfully sent notification for a subscription, or 0 if none exists.
func (r *Repo) LastSentNotificationNs(subscriptionID string) (int64, error) {
	var ns int64
	err := r.db.QueryRow(`
		SELECT sent_at_ns FROM notifications
		WHERE subscription_id = ? AND delivery_status = 'sent'
		ORDER BY sent_at_ns DESC LIMIT 1
	`, subscriptionID).Scan(&ns)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return ns, err
}

// ListNotificationsForUser returns a user's notification history, newest
// first.
func (r *Repo) ListNotificationsForUser(userID string) ([]model.Notification, error) {
	rows, err := r.db.Query(`
		SELECT id, user_id, subscription_id, sent_at_ns, delivery_status, target_name, target_date
		FROM notifications WHERE user_id = ?
		ORDER BY sent_at_ns DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.SubscriptionID, &n.SentAtNs,
			&n.DeliveryStatus, &n.TargetName, &n.TargetDate); err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

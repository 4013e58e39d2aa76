package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lotwatch/lotwatch/internal/datelabel"
	"github.com/lotwatch/lotwatch/internal/store"
)

// CreateSubscriptionsRequest creates the cross product of targets and
// dates for one user, registering the user on first contact.
type CreateSubscriptionsRequest struct {
	Email     string   `json:"email"`
	Pin       string   `json:"pin"`
	TargetIDs []string `json:"target_ids"`
	Dates     []string `json:"dates"` // YYYY-MM-DD
}

// CreateSubscriptionsResponse reports the rows actually created. Existing
// (target, date) pairs are skipped silently, so Created may be shorter
// than len(TargetIDs) * len(Dates).
type CreateSubscriptionsResponse struct {
	UserID          string   `json:"user_id"`
	SubscriptionIDs []string `json:"subscription_ids"`
	Created         int      `json:"created"`
}

func validateCreateSubscriptions(req CreateSubscriptionsRequest, coder *datelabel.Coder) error {
	if !ValidateEmail(NormalizeEmail(req.Email)) {
		return fmt.Errorf("email: must be a valid address")
	}
	if len(req.Pin) < 4 {
		return fmt.Errorf("pin: must be at least 4 characters")
	}
	if len(req.TargetIDs) == 0 {
		return fmt.Errorf("target_ids: must be non-empty")
	}
	if len(req.Dates) == 0 {
		return fmt.Errorf("dates: must be non-empty")
	}
	for _, d := range req.Dates {
		if _, err := coder.ParseISO(d); err != nil {
			return fmt.Errorf("dates: %q is not a valid YYYY-MM-DD date", d)
		}
	}
	return nil
}

// HandleCreateSubscriptions returns a handler for POST /api/v1/subscriptions.
func HandleCreateSubscriptions(repo *store.Repo, coder *datelabel.Coder, now func() time.Time) http.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSubscriptionsRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		if err := validateCreateSubscriptions(req, coder); err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}

		email := NormalizeEmail(req.Email)
		ts := now()
		userID, err := repo.UpsertUser(email, store.CredentialHash(email, req.Pin), ts)
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				WriteError(w, http.StatusConflict, "CONFLICT", "email is already registered with a different PIN")
				return
			}
			writeStoreError(w, err)
			return
		}

		ids, err := repo.CreateSubscriptions(userID, req.TargetIDs, req.Dates, ts)
		if err != nil {
			writeStoreError(w, err)
			return
		}

		WriteJSON(w, http.StatusCreated, CreateSubscriptionsResponse{
			UserID:          userID,
			SubscriptionIDs: ids,
			Created:         len(ids),
		})
	}
}

// HandleListSubscriptions returns a handler for GET /api/v1/subscriptions.
func HandleListSubscriptions(repo *store.Repo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "no authenticated user")
			return
		}
		subs, err := repo.ListForUser(user.ID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, subs)
	}
}

// HandleDeleteSubscription returns a handler for DELETE /api/v1/subscriptions/{id}.
func HandleDeleteSubscription(repo *store.Repo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "no authenticated user")
			return
		}
		id := PathParam(r, "id")
		if id == "" {
			writeInvalidArgument(w, "id: must be non-empty")
			return
		}
		if err := repo.DeleteSubscription(id, user.ID); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleListNotifications returns a handler for GET /api/v1/notifications.
func HandleListNotifications(repo *store.Repo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "no authenticated user")
			return
		}
		notes, err := repo.ListNotificationsForUser(user.ID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, notes)
	}
}

// HandleDeleteAccount returns a handler for DELETE /api/v1/account. It
// removes the user and, via cascade, every subscription and notification
// they own.
func HandleDeleteAccount(repo *store.Repo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "no authenticated user")
			return
		}
		if err := repo.DeleteUserCascade(user.ID); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

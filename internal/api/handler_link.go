package api

import (
	"errors"
	"fmt"
	"html"
	"log"
	"net/http"
	"time"

	"github.com/lotwatch/lotwatch/internal/datelabel"
	"github.com/lotwatch/lotwatch/internal/model"
	"github.com/lotwatch/lotwatch/internal/store"
	"github.com/lotwatch/lotwatch/internal/token"
)

// writeLinkPage renders the minimal HTML shown after clicking an email
// link. These pages are opened in whatever browser the mail client
// launches, so they carry no assets or scripts.
func writeLinkPage(w http.ResponseWriter, status int, title, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>%s</title></head>
<body style="font-family: sans-serif; max-width: 32em; margin: 4em auto;">
<h1>%s</h1>
<p>%s</p>
</body>
</html>
`, html.EscapeString(title), html.EscapeString(title), html.EscapeString(message))
}

func writeLinkTokenError(w http.ResponseWriter, err error) {
	if errors.Is(err, token.ErrExpired) {
		writeLinkPage(w, http.StatusGone, "Link Expired",
			"This link has expired. Create a new subscription to keep monitoring.")
		return
	}
	writeLinkPage(w, http.StatusNotFound, "Invalid Link",
		"This link is not valid. It may have been truncated by your mail client.")
}

// HandleResumeLink returns a handler for GET /continue-monitoring/{token}.
// It flips a NOTIFIED subscription back to ACTIVE so the scheduler picks
// it up again. Resuming an already-active subscription succeeds.
func HandleResumeLink(repo *store.Repo, signer *token.Signer, coder *datelabel.Coder, now func() time.Time) http.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ts := now()
		claims, err := signer.Verify(PathParam(r, "token"), token.IntentResume, ts)
		if err != nil {
			writeLinkTokenError(w, err)
			return
		}

		sub, _, target, err := repo.GetSubscription(claims.SubscriptionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeLinkPage(w, http.StatusNotFound, "Subscription Not Found",
					"This subscription no longer exists. It may have been stopped or expired.")
				return
			}
			log.Printf("api: resume link: %v", err)
			writeLinkPage(w, http.StatusInternalServerError, "Something Went Wrong",
				"Could not resume monitoring. Please try again later.")
			return
		}

		past, err := coder.IsPast(sub.TargetDate, ts)
		if err != nil || past {
			writeLinkPage(w, http.StatusGone, "Date Has Passed",
				fmt.Sprintf("The date %s has already passed, so monitoring cannot be resumed.", sub.TargetDate))
			return
		}

		if err := repo.MarkState(sub.ID, model.StateActive); err != nil {
			log.Printf("api: resume link: mark active %s: %v", sub.ID, err)
			writeLinkPage(w, http.StatusInternalServerError, "Something Went Wrong",
				"Could not resume monitoring. Please try again later.")
			return
		}

		log.Printf("api: resumed subscription %s (%s on %s)", sub.ID, target.Name, sub.TargetDate)
		writeLinkPage(w, http.StatusOK, "Monitoring Resumed",
			fmt.Sprintf("You will be emailed again when parking at %s on %s becomes available.", target.Name, sub.TargetDate))
	}
}

// HandleStopLink returns a handler for GET /stop-monitoring/{token}. The
// token is the only authorization; stopping twice is treated as success.
func HandleStopLink(repo *store.Repo, signer *token.Signer, now func() time.Time) http.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := signer.Verify(PathParam(r, "token"), token.IntentStop, now())
		if err != nil {
			writeLinkTokenError(w, err)
			return
		}

		err = repo.DeleteSubscriptionByID(claims.SubscriptionID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Printf("api: stop link: delete %s: %v", claims.SubscriptionID, err)
			writeLinkPage(w, http.StatusInternalServerError, "Something Went Wrong",
				"Could not stop monitoring. Please try again later.")
			return
		}

		log.Printf("api: stopped subscription %s", claims.SubscriptionID)
		writeLinkPage(w, http.StatusOK, "Monitoring Stopped",
			"You will not receive further emails for this date. Thanks for using lotwatch.")
	}
}

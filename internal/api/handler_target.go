package api

import (
	"net/http"
	"strconv"

	"github.com/lotwatch/lotwatch/internal/store"
)

const defaultCheckHistoryLimit = 50

// HandleListTargets returns a handler for GET /api/v1/targets.
func HandleListTargets(repo *store.Repo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		targets, err := repo.ListTargets()
		if err != nil {
			writeStoreError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, targets)
	}
}

// HandleRecentChecks returns a handler for GET /api/v1/targets/{id}/checks.
func HandleRecentChecks(repo *store.Repo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := PathParam(r, "id")
		if _, err := repo.GetTarget(id); err != nil {
			writeStoreError(w, err)
			return
		}

		limit := defaultCheckHistoryLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > 1000 {
				writeInvalidArgument(w, "limit: must be an integer in 1-1000")
				return
			}
			limit = n
		}

		checks, err := repo.RecentChecks(id, limit)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, checks)
	}
}

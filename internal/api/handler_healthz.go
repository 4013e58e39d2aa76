package api

import (
	"log"
	"net/http"
	"time"

	"github.com/lotwatch/lotwatch/internal/store"
)

type healthzResponse struct {
	Status              string `json:"status"`
	ActiveSubscriptions int    `json:"activeSubscriptions"`
	NowISO              string `json:"nowISO"`
}

// HandleHealthz returns a handler for GET /healthz. It reports 503 when
// the database cannot be queried, which also serves as a liveness probe
// for the store.
func HandleHealthz(repo *store.Repo, now func() time.Time) http.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := repo.CountActive()
		if err != nil {
			log.Printf("api: healthz: %v", err)
			WriteJSON(w, http.StatusServiceUnavailable, healthzResponse{
				Status: "degraded",
				NowISO: now().UTC().Format(time.RFC3339),
			})
			return
		}
		WriteJSON(w, http.StatusOK, healthzResponse{
			Status:              "ok",
			ActiveSubscriptions: n,
			NowISO:              now().UTC().Format(time.RFC3339),
		})
	}
}

package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/lotwatch/lotwatch/internal/datelabel"
	"github.com/lotwatch/lotwatch/internal/store"
	"github.com/lotwatch/lotwatch/internal/token"
)

const apiMaxBodyBytes = 1 << 20

// Server wraps the HTTP server and mux for the lotwatch API.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a new API server wired with all routes.
func NewServer(
	port int,
	repo *store.Repo,
	signer *token.Signer,
	coder *datelabel.Coder,
	now func() time.Time,
) *Server {
	return NewServerWithAddress("", port, repo, signer, coder, now)
}

// NewServerWithAddress creates a new API server with an explicit listen
// address.
func NewServerWithAddress(
	listenAddress string,
	port int,
	repo *store.Repo,
	signer *token.Signer,
	coder *datelabel.Coder,
	now func() time.Time,
) *Server {
	mux := http.NewServeMux()

	// Public (no auth)
	mux.Handle("GET /healthz", HandleHealthz(repo, now))
	mux.Handle("GET /continue-monitoring/{token}", HandleResumeLink(repo, signer, coder, now))
	mux.Handle("GET /stop-monitoring/{token}", HandleStopLink(repo, signer, now))
	mux.Handle("GET /api/v1/targets", HandleListTargets(repo))
	mux.Handle("GET /api/v1/targets/{id}/checks", HandleRecentChecks(repo))
	mux.Handle("POST /api/v1/subscriptions", RequestBodyLimitMiddleware(apiMaxBodyBytes,
		HandleCreateSubscriptions(repo, coder, now)))

	// Authenticated routes (email + PIN headers)
	authed := http.NewServeMux()
	authed.Handle("GET /api/v1/subscriptions", HandleListSubscriptions(repo))
	authed.Handle("DELETE /api/v1/subscriptions/{id}", HandleDeleteSubscription(repo))
	authed.Handle("GET /api/v1/notifications", HandleListNotifications(repo))
	authed.Handle("DELETE /api/v1/account", HandleDeleteAccount(repo))

	limitedAuthed := RequestBodyLimitMiddleware(apiMaxBodyBytes, authed)
	mux.Handle("GET /api/v1/subscriptions", AuthMiddleware(repo, limitedAuthed))
	mux.Handle("DELETE /api/v1/subscriptions/{id}", AuthMiddleware(repo, limitedAuthed))
	mux.Handle("GET /api/v1/notifications", AuthMiddleware(repo, limitedAuthed))
	mux.Handle("DELETE /api/v1/account", AuthMiddleware(repo, limitedAuthed))

	srv := &http.Server{
		Addr:              net.JoinHostPort(listenAddress, strconv.Itoa(port)),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
	}
}

// ListenAndServe starts the HTTP server. It blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.mux
}

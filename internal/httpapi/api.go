// Package httpapi is the HTTP surface of the access gateway. Routing uses
// the standard ServeMux; all responses are JSON.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"xplora.org/internal/audit"
	"xplora.org/internal/auth"
	"xplora.org/internal/fieldcrypt"
	"xplora.org/internal/gateway"
	"xplora.org/internal/obs"
	"xplora.org/internal/ratelimit"
	"xplora.org/internal/request"
)

// ReadyProbe checks downstream readiness (DB ping when configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	authn    *auth.Authenticator
	requests *request.Service
	gateway  *gateway.Gateway
	recorder *audit.Recorder
	limiter  ratelimit.Limiter
}

// Option configures the API.
type Option func(*API)

// WithLimiter installs the per-IP request limiter.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(a *API) {
		if l != nil {
			a.limiter = l
		}
	}
}

// WithRecorder installs the audit recorder used for login events.
func WithRecorder(rec *audit.Recorder) Option {
	return func(a *API) { a.recorder = rec }
}

func New(rp ReadyProbe, version string, authn *auth.Authenticator, requests *request.Service, gw *gateway.Gateway, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		authn:      authn,
		requests:   requests,
		gateway:    gw,
		limiter:    ratelimit.Unlimited{},
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/requests", a.handleRequestsCollection)
	a.mux.HandleFunc("/v1/requests/", a.handleRequestResource)
	a.mux.HandleFunc("/v1/requests/mine", a.handleMyRequests)
	a.mux.HandleFunc("/v1/requests/pending", a.handlePendingRequests)
	a.mux.HandleFunc("/v1/accounts", a.handleAccountsCollection)
	a.mux.HandleFunc("/v1/accounts/", a.handleAccountResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.limiter)
	h = Logging(h)
	h = SecurityHeaders(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "xplora-gateway",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// handleDomainError maps sentinel errors to HTTP statuses. Unknown errors
// collapse to a bare 500; decrypt failures never leak detail.
func handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, request.ErrInvalidField),
		errors.Is(err, request.ErrEmptyReason),
		errors.Is(err, request.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, request.ErrNotApprover):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, request.ErrRequestNotFound),
		errors.Is(err, gateway.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, request.ErrDuplicateRequest):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, request.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, fieldcrypt.ErrDecrypt):
		writeError(w, http.StatusInternalServerError, "internal error")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, statusClientClosed, "request cancelled")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// 499 in the nginx tradition; there is no stdlib constant for it.
const statusClientClosed = 499

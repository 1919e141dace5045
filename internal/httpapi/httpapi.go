package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"pesanaja/backend/internal/domain"
	"pesanaja/backend/internal/notifier"
	"pesanaja/backend/internal/service"
	"pesanaja/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	hub           *notifier.Hub
	allowedOrigin string
	loginLimiter  *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, hub *notifier.Hub, allowedOrigin string) *API {
	return &API{
		service:       svc,
		auth:          auth,
		hub:           hub,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)

	mux.HandleFunc("/api/v1/orders/lines", a.requireAuth(a.handleAddLine))
	mux.HandleFunc("/api/v1/orders/lines/", a.requireAuth(a.handleLineActions))
	mux.HandleFunc("/api/v1/orders/tables", a.requireAuth(a.handleOccupiedTables))
	mux.HandleFunc("/api/v1/orders/tables/", a.requireAuth(a.handleTableActions))
	mux.HandleFunc("/api/v1/orders/confirm", a.requireAuth(a.handleConfirm))
	mux.HandleFunc("/api/v1/sequence", a.requireAuth(a.handleSequence))

	mux.HandleFunc("/api/v1/ws", a.handleWS)

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"at":          time.Now().UTC().Format(time.RFC3339),
		"subscribers": a.hub.SubscriberCount(),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleAddLine(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.LineCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.LineID == 0 {
		writeError(w, http.StatusBadRequest, errors.New("line_id is required"))
		return
	}
	if req.TableID == "" {
		writeError(w, http.StatusBadRequest, errors.New("table_id is required"))
		return
	}

	line, err := a.service.AddLine(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"id":      line.LineID,
		"line":    line,
	})
}

// handleLineActions serves PUT/DELETE /api/v1/orders/lines/{table}/{line}.
func (a *API) handleLineActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/orders/lines/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, errors.New("unknown line path"))
		return
	}
	tableID := parts[0]
	lineID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || lineID == 0 {
		writeError(w, http.StatusBadRequest, errors.New("invalid line id"))
		return
	}

	switch r.Method {
	case http.MethodPut:
		var patch domain.LineUpdateRequest
		if err := decodeJSON(r, &patch); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		line, err := a.service.UpdateLine(r.Context(), tableID, lineID, patch)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "line": line})
	case http.MethodDelete:
		if err := a.service.RemoveLine(r.Context(), tableID, lineID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleOccupiedTables(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	tables, err := a.service.OccupiedTables(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

// handleTableActions serves GET/DELETE /api/v1/orders/tables/{table}.
func (a *API) handleTableActions(w http.ResponseWriter, r *http.Request) {
	tableID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/orders/tables/"), "/")
	if tableID == "" || strings.Contains(tableID, "/") {
		writeError(w, http.StatusNotFound, errors.New("unknown table path"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		lines, err := a.service.ListByTable(r.Context(), tableID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"table_id": tableID, "lines": lines})
	case http.MethodDelete:
		removed, err := a.service.ClearTable(r.Context(), tableID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "removed": removed})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.ConfirmRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.TableID == "" {
		writeError(w, http.StatusBadRequest, errors.New("table_id is required"))
		return
	}

	actor, _ := service.ActorFromContext(r.Context())
	resp, err := a.service.Confirm(r.Context(), req.TableID, actor.SalesmanCode, req.ReceiptID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"receiptId": resp.ReceiptID,
		"lineCount": resp.LineCount,
	})
}

func (a *API) handleSequence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	state, err := a.service.SequenceState(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"unit_prefix":  state.UnitPrefix,
		"counter":      state.Counter,
		"next_receipt": nextReceiptPreview(state),
	})
}

func nextReceiptPreview(state domain.SequenceState) string {
	return state.UnitPrefix + padCounter(state.Counter+1)
}

func padCounter(counter uint64) string {
	raw := strconv.FormatUint(counter, 10)
	for len(raw) < 8 {
		raw = "0" + raw
	}
	return raw
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeServiceError maps the staging error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrDuplicateLine):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrNoStagedOrder):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrSequenceExhausted):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, store.ErrInvalidLine):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, store.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// For 5xx responses, return a generic message to avoid leaking internal
	// implementation details. 4xx responses are user-facing so we return
	// the original error message. 503 keeps its kind so devices can back off.
	msg := err.Error()
	if status >= 500 && status != http.StatusServiceUnavailable {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	if status == http.StatusServiceUnavailable {
		log.Printf("store unavailable: %v", err)
		msg = "store unavailable"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

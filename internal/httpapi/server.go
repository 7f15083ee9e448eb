// Package httpapi exposes the sync engine over HTTP: webhook intake, manual
// trigger, status, and an admin stream of cycle summaries.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/agentworkforce/calsync/internal/scheduler"
	"github.com/agentworkforce/calsync/internal/syncer"
	"github.com/agentworkforce/calsync/internal/webhook"
)

// SyncService is the engine surface the API serves.
type SyncService interface {
	SyncAll(ctx context.Context) (syncer.CycleSummary, error)
	Stats() syncer.Stats
	Subscribe() (<-chan syncer.CycleSummary, func())
}

// Processor handles webhook payloads.
type Processor interface {
	VerifySignature(payload []byte, signature string) bool
	Validate(payload []byte) (*webhook.Notification, error)
	Process(ctx context.Context, n *webhook.Notification) (webhook.Result, error)
}

type ServerConfig struct {
	AdminToken      string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
	ProcessTimeout  time.Duration

	// Jobs, when set, adds scheduler state to the status payload.
	Jobs func() []scheduler.JobInfo
}

type Server struct {
	engine      SyncService
	processor   Processor
	logger      syncer.Logger
	cfg         ServerConfig
	rateLimiter *rateLimiter
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(engine SyncService, processor Processor, logger syncer.Logger, cfg ServerConfig) *Server {
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 2 * time.Minute
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		engine:      engine,
		processor:   processor,
		logger:      logger,
		cfg:         cfg,
		rateLimiter: limiter,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/health" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case r.URL.Path == "/webhooks/tracker" && r.Method == http.MethodPost:
		s.handleWebhook(w, r)
	case r.URL.Path == "/webhooks/sync" && r.Method == http.MethodPost:
		s.handleManualSync(w, r)
	case r.URL.Path == "/webhooks/status" && r.Method == http.MethodGet:
		s.handleStatus(w, r)
	case r.URL.Path == "/v1/admin/stream" && r.Method == http.MethodGet:
		s.handleAdminStream(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
	}
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	if s.rateLimiter != nil && !s.rateLimiter.allow(clientKey(r), time.Now()) {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", correlationID)
		return
	}

	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return
	}
	if !s.processor.VerifySignature(body, r.Header.Get("X-Webhook-Signature")) {
		writeError(w, http.StatusUnauthorized, "invalid_signature", "webhook signature mismatch", correlationID)
		return
	}
	notification, err := s.processor.Validate(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", err.Error(), correlationID)
		return
	}

	// Acknowledge before syncing; the sender's delivery timeout is shorter
	// than a calendar round trip.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ProcessTimeout)
		defer cancel()
		result, err := s.processor.Process(ctx, notification)
		if err != nil {
			if errors.Is(err, syncer.ErrSyncBusy) {
				s.logger.Printf("webhook %s: sync busy, notification for item %s skipped", correlationID, notification.Data.ID)
				return
			}
			s.logger.Printf("webhook %s: process %s %s: %v", correlationID, notification.Action, notification.Data.ID, err)
			return
		}
		s.logger.Printf("webhook %s: %s item %s: %s", correlationID, result.Action, result.ItemID, result.Message)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":        "accepted",
		"correlationId": correlationID,
	})
}

func (s *Server) handleManualSync(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	summary, err := s.engine.SyncAll(r.Context())
	if err != nil {
		if errors.Is(err, syncer.ErrSyncBusy) {
			writeError(w, http.StatusConflict, "sync_busy", "a sync cycle is already running", correlationID)
			return
		}
		writeError(w, http.StatusBadGateway, "sync_failed", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{"sync": s.engine.Stats()}
	if s.cfg.Jobs != nil {
		payload["jobs"] = s.cfg.Jobs()
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleAdminStream pushes a JSON summary to the client after every
// completed cycle, over a websocket.
func (s *Server) handleAdminStream(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	if s.cfg.AdminToken != "" && r.Header.Get("Authorization") != "Bearer "+s.cfg.AdminToken {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid admin token", correlationID)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Printf("admin stream accept: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	summaries, cancel := s.engine.Subscribe()
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case summary := <-summaries:
			writeCtx, writeCancel := context.WithTimeout(ctx, 10*time.Second)
			err := wsjson.Write(writeCtx, conn, summary)
			writeCancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func clientKey(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}

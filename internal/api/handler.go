package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/drift"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/profile"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	pipe     *pipeline.Pipeline
	profiles *profile.Store
	monitor  *drift.Monitor
	cache    domain.Cache
	kv       domain.KVStore
	bus      domain.EventBus
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(pipe *pipeline.Pipeline, profiles *profile.Store, monitor *drift.Monitor, cache domain.Cache, kv domain.KVStore, bus domain.EventBus, version string) *Handler {
	return &Handler{
		pipe:     pipe,
		profiles: profiles,
		monitor:  monitor,
		cache:    cache,
		kv:       kv,
		bus:      bus,
		version:  version,
	}
}

// ScoreRequest is the request body for POST /score.
// Timestamps are accepted in several layouts because upstream feeds
// disagree on formats; an unparseable previous timestamp degrades to
// the one-day default rather than rejecting the transaction.
type ScoreRequest struct {
	TransactionID     string   `json:"transactionId"`
	AccountID         string   `json:"accountId"`
	MerchantID        string   `json:"merchantId"`
	DeviceID          string   `json:"deviceId"`
	Location          string   `json:"location"`
	Amount            float64  `json:"amount"`
	DurationSecs      *float64 `json:"durationSecs,omitempty"`
	LoginAttempts     int      `json:"loginAttempts"`
	AccountBalance    float64  `json:"accountBalance"`
	Timestamp         string   `json:"timestamp"`
	PreviousTimestamp string   `json:"previousTimestamp,omitempty"`
	Type              string   `json:"type"`
	Channel           string   `json:"channel"`
	Occupation        string   `json:"occupation"`
	Age               int      `json:"age"`
}

// ScoreResponse is the response for POST /score.
type ScoreResponse struct {
	ScoreID               string                     `json:"scoreId"`
	TxID                  string                     `json:"txId"`
	AnomalyScore          float64                    `json:"anomalyScore"`
	ClassifierProbability float64                    `json:"classifierProbability"`
	GraphProbability      *float64                   `json:"graphProbability,omitempty"`
	CustomerRiskScore     float64                    `json:"customerRiskScore"`
	CompositeScore        float64                    `json:"compositeScore"`
	TopFeatures           []domain.FeatureAttribution `json:"topFeatures"`
	DriftAlert            bool                       `json:"driftAlert"`
	Warning               string                     `json:"warning,omitempty"`
	Metadata              struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// timestampLayouts are tried in order when parsing request timestamps.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
}

func parseTimestamp(value string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// Score handles POST /score requests.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	traceID := GetTraceID(ctx)

	var req ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.AccountID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "accountId is required",
		})
		return
	}
	if req.Amount < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount must not be negative",
		})
		return
	}

	tx := requestToTransaction(&req)

	bundle, err := h.pipe.Score(ctx, tx)
	if err != nil && bundle == nil {
		status := http.StatusInternalServerError
		msg := "scoring failed"

		switch {
		case errors.Is(err, domain.ErrInvalidInput):
			status = http.StatusBadRequest
			msg = err.Error()
		case errors.Is(err, domain.ErrProviderUnavailable):
			status = http.StatusBadGateway
			msg = "model provider unavailable"
		}

		slog.Error("scoring failed",
			"tx_id", req.TransactionID,
			"trace_id", traceID,
			"error", err,
		)
		writeJSON(w, status, map[string]string{"error": msg})
		return
	}

	resp := ScoreResponse{
		ScoreID:               bundle.ID,
		TxID:                  bundle.TxID,
		AnomalyScore:          bundle.AnomalyScore,
		ClassifierProbability: bundle.ClassifierProbability,
		GraphProbability:      bundle.GraphProbability,
		CustomerRiskScore:     bundle.CustomerRiskScore,
		CompositeScore:        bundle.CompositeScore,
		TopFeatures:           bundle.TopFeatures,
		DriftAlert:            bundle.DriftAlert,
	}
	if err != nil {
		// Persistence degraded; the score stands but the profile update
		// may not survive a restart.
		slog.Warn("profile persistence degraded",
			"tx_id", req.TransactionID,
			"error", err,
		)
		resp.Warning = "profile update not persisted"
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

func requestToTransaction(req *ScoreRequest) *domain.Transaction {
	tx := &domain.Transaction{
		ID:             req.TransactionID,
		AccountID:      req.AccountID,
		MerchantID:     req.MerchantID,
		DeviceID:       req.DeviceID,
		Location:       req.Location,
		Amount:         req.Amount,
		LoginAttempts:  req.LoginAttempts,
		AccountBalance: req.AccountBalance,
		Type:           req.Type,
		Channel:        req.Channel,
		Occupation:     req.Occupation,
		Age:            req.Age,
	}

	// Absent duration defaults to a minute; zero and negative values
	// are clamped downstream.
	if req.DurationSecs != nil {
		tx.Duration = *req.DurationSecs
	} else {
		tx.Duration = 60
	}

	if ts, ok := parseTimestamp(req.Timestamp); ok {
		tx.Timestamp = ts
	} else {
		tx.Timestamp = time.Now().UTC()
	}
	if req.PreviousTimestamp != "" {
		if ts, ok := parseTimestamp(req.PreviousTimestamp); ok {
			tx.PreviousTimestamp = ts
		}
	}

	return tx
}

// GetScore retrieves a cached score bundle by ID.
func (h *Handler) GetScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scoreID := chi.URLParam(r, "id")

	if scoreID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "score id is required",
		})
		return
	}

	if h.cache == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "score cache not available",
		})
		return
	}

	bundle, err := h.cache.GetScore(ctx, scoreID)
	if err != nil {
		slog.Error("failed to get score", "id", scoreID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to retrieve score",
		})
		return
	}
	if bundle == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "score not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, bundle)
}

// GetProfile retrieves a customer risk profile.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	customerID := chi.URLParam(r, "id")

	if customerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "customer id is required",
		})
		return
	}

	p, err := h.profiles.Snapshot(ctx, customerID)
	if err != nil {
		slog.Error("failed to load profile", "customer_id", customerID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load profile",
		})
		return
	}
	if p.TxCount == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "customer not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"profile": p,
		"stats":   p.Stats(),
	})
}

// DriftStatus reports the drift monitor state.
func (h *Handler) DriftStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.Status())
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.kv != nil {
		if err := h.kv.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Package endpoints provides HTTP endpoint handlers
package endpoints

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/leadwire/rtb-core/internal/auction"
	"github.com/leadwire/rtb-core/internal/bid"
	"github.com/leadwire/rtb-core/internal/partner"
	"github.com/leadwire/rtb-core/pkg/logger"
)

// maxRequestBodySize limits request body reads to prevent OOM attacks (1MB)
const maxRequestBodySize = 1024 * 1024

// AuctionRequest is the POST /auction payload. TimeoutMS overrides the
// partner call budget for this auction; the engine clamps it to the
// wire contract's [100,1000] ms window.
type AuctionRequest struct {
	LeadID           string                 `json:"lead_id"`
	Vertical         string                 `json:"vertical"`
	LeadScore        float64                `json:"lead_score"`
	TimeoutMS        int                    `json:"timeout_ms,omitempty"`
	UserData         map[string]interface{} `json:"user_data,omitempty"`
	MarketConditions bid.MarketConditions   `json:"market_conditions,omitempty"`
}

// AuctionResponse carries the ranked bid set back to the caller
type AuctionResponse struct {
	RequestID        string    `json:"request_id"`
	LeadID           string    `json:"lead_id"`
	Bids             []bid.Bid `json:"bids"`
	ProcessingTimeMS int64     `json:"processing_time_ms"`
	Timestamp        time.Time `json:"timestamp"`
}

// AuctionHandler handles /auction requests
type AuctionHandler struct {
	engine *auction.Engine
}

// NewAuctionHandler creates a new auction handler
func NewAuctionHandler(engine *auction.Engine) *AuctionHandler {
	return &AuctionHandler{engine: engine}
}

// ServeHTTP runs one auction round for a lead
func (h *AuctionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var req AuctionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		logger.Log.Warn().Err(err).Msg("Invalid JSON in auction request")
		writeError(w, "Invalid JSON in request body", http.StatusBadRequest)
		return
	}

	if err := validateAuctionRequest(&req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	start := time.Now()

	bids, err := h.engine.RequestBids(ctx, req.LeadID, req.Vertical, req.UserData, time.Duration(req.TimeoutMS)*time.Millisecond)
	if err != nil {
		duration := time.Since(start)
		switch {
		case errors.Is(err, auction.ErrRateLimited):
			logger.Log.Warn().Str("lead_id", req.LeadID).Msg("auction rate limited")
			writeError(w, "Rate limit exceeded", http.StatusTooManyRequests)
		case errors.Is(err, partner.ErrCircuitOpen):
			logger.Log.Warn().Str("lead_id", req.LeadID).Msg("partner circuit open")
			writeError(w, "Partner temporarily unavailable", http.StatusServiceUnavailable)
		default:
			logger.Log.Error().
				Err(err).
				Str("lead_id", req.LeadID).
				Dur("duration_ms", duration).
				Msg("Auction failed")
			writeError(w, "Partner request failed", http.StatusBadGateway)
		}
		return
	}

	ranked := h.engine.SelectOptimalBids(bids, req.LeadScore, req.Vertical, req.MarketConditions)
	if ranked == nil {
		ranked = []bid.Bid{}
	}

	response := AuctionResponse{
		RequestID:        uuid.NewString(),
		LeadID:           req.LeadID,
		Bids:             ranked,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
		Timestamp:        time.Now().UTC(),
	}

	logger.Log.Info().
		Str("request_id", response.RequestID).
		Str("lead_id", req.LeadID).
		Str("vertical", req.Vertical).
		Int("bid_count", len(ranked)).
		Dur("duration_ms", time.Since(start)).
		Msg("Auction completed")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Log.Error().Err(err).Str("request_id", response.RequestID).Msg("failed to encode auction response")
	}
}

// validateAuctionRequest validates the auction request
func validateAuctionRequest(req *AuctionRequest) error {
	if req.LeadID == "" {
		return &ValidationError{Field: "lead_id", Message: "required"}
	}
	if req.Vertical == "" {
		return &ValidationError{Field: "vertical", Message: "required"}
	}
	if req.LeadScore < 0 || req.LeadScore > 1 {
		return &ValidationError{Field: "lead_score", Message: "must be within [0,1]"}
	}
	if req.TimeoutMS < 0 {
		return &ValidationError{Field: "timeout_ms", Message: "cannot be negative"}
	}
	return nil
}

// ValidationError represents a request validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// writeError writes an error response
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		logger.Log.Error().Err(err).Str("message", message).Msg("failed to encode error response")
	}
}

// StatusHandler handles /status requests
type StatusHandler struct {
	started time.Time
}

// NewStatusHandler creates a new status handler
func NewStatusHandler() *StatusHandler {
	return &StatusHandler{started: time.Now()}
}

// ServeHTTP handles status requests
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.started).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		logger.Log.Error().Err(err).Msg("failed to encode status response")
	}
}

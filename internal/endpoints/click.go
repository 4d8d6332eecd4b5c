package endpoints

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/leadwire/rtb-core/internal/auction"
	"github.com/leadwire/rtb-core/internal/bid"
	"github.com/leadwire/rtb-core/internal/tracking"
	"github.com/leadwire/rtb-core/pkg/logger"
)

// ClickRequest is the POST /events/click payload
type ClickRequest struct {
	Bid    *bid.Bid                    `json:"bid"`
	LeadID string                      `json:"lead_id"`
	Timing *tracking.PerformanceTiming `json:"timing,omitempty"`
}

// ClickHandler handles /events/click requests. Click delivery failures
// surface to the caller because the click gates navigation.
type ClickHandler struct {
	engine *auction.Engine
}

// NewClickHandler creates a new click handler
func NewClickHandler(engine *auction.Engine) *ClickHandler {
	return &ClickHandler{engine: engine}
}

// ServeHTTP records a bid selection
func (h *ClickHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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

	var req ClickRequest
	if err := json.Unmarshal(body, &req); err != nil {
		logger.Log.Warn().Err(err).Msg("Invalid JSON in click request")
		writeError(w, "Invalid JSON in request body", http.StatusBadRequest)
		return
	}

	if req.Bid == nil {
		writeError(w, "bid: required", http.StatusBadRequest)
		return
	}
	if req.LeadID == "" {
		writeError(w, "lead_id: required", http.StatusBadRequest)
		return
	}

	if err := h.engine.TrackBidSelection(r.Context(), req.Bid, req.LeadID, req.Timing); err != nil {
		logger.Log.Error().
			Err(err).
			Str("bid_id", req.Bid.ID).
			Str("lead_id", req.LeadID).
			Msg("Click tracking failed")
		writeError(w, "Click tracking failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "recorded"}) //nolint:errcheck
}

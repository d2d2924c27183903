package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/user/txstream/internal/domain"
)

// StatsHandler serves fraud analytics read from the sink.
type StatsHandler struct {
	repo   domain.TransactionRepository
	logger *slog.Logger
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(repo domain.TransactionRepository, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{repo: repo, logger: logger}
}

// GetFraudStats handles requests for overall fraud statistics.
// GET /stats/fraud
func (h *StatsHandler) GetFraudStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.repo.GetFraudStats(r.Context())
	if err != nil {
		h.logger.Error("failed to get fraud stats", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.respondWithJSON(w, http.StatusOK, stats)
}

// GetTopMerchants handles requests for merchants by transaction volume.
// GET /stats/merchants?limit={limit}
func (h *StatsHandler) GetTopMerchants(w http.ResponseWriter, r *http.Request) {
	limit := h.limitParam(r, 10)

	merchants, err := h.repo.GetTopMerchants(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to get top merchants", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.respondWithJSON(w, http.StatusOK, merchants)
}

// GetRecentFraud handles requests for the latest fraudulent transactions.
// GET /stats/fraud/recent?limit={limit}
func (h *StatsHandler) GetRecentFraud(w http.ResponseWriter, r *http.Request) {
	limit := h.limitParam(r, 10)

	txns, err := h.repo.GetRecentFraud(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to get recent fraud", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.respondWithJSON(w, http.StatusOK, txns)
}

func (h *StatsHandler) limitParam(r *http.Request, def int) int {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return def
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		return def
	}
	return limit
}

func (h *StatsHandler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to marshal JSON response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal Server Error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

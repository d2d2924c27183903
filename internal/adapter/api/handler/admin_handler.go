package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/user/txstream/internal/stream"
	"github.com/user/txstream/internal/usecase"
)

// AdminHandler handles HTTP requests for stream administration.
type AdminHandler struct {
	uc     *usecase.AdminStreamUseCase
	logger *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(uc *usecase.AdminStreamUseCase, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{uc: uc, logger: logger}
}

// HealthCheck is a simple health check endpoint.
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// GetStreamLength handles requests for the stream's entry count.
// GET /admin/streams/{streamName}/length
func (h *AdminHandler) GetStreamLength(w http.ResponseWriter, r *http.Request) {
	streamName := r.PathValue("streamName")

	length, err := h.uc.StreamLength(r.Context(), streamName)
	if err != nil {
		h.respondWithError(w, "failed to get stream length", err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]int64{"length": length})
}

// GetGroupInfo handles requests to get consumer group info.
// GET /admin/streams/{streamName}/groups
func (h *AdminHandler) GetGroupInfo(w http.ResponseWriter, r *http.Request) {
	streamName := r.PathValue("streamName")
	if streamName == "" {
		http.Error(w, "streamName is required", http.StatusBadRequest)
		return
	}

	groups, err := h.uc.GetGroupInfo(r.Context(), streamName)
	if err != nil {
		h.respondWithError(w, "failed to get group info", err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, groups)
}

// GetConsumerInfo handles requests to get consumer info for a group.
// GET /admin/streams/{streamName}/groups/{groupName}/consumers
func (h *AdminHandler) GetConsumerInfo(w http.ResponseWriter, r *http.Request) {
	streamName := r.PathValue("streamName")
	groupName := r.PathValue("groupName")

	consumers, err := h.uc.GetConsumerInfo(r.Context(), streamName, groupName)
	if err != nil {
		h.respondWithError(w, "failed to get consumer info", err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, consumers)
}

// GetPendingSummary handles requests to get a summary of pending entries.
// GET /admin/streams/{streamName}/groups/{groupName}/pending
func (h *AdminHandler) GetPendingSummary(w http.ResponseWriter, r *http.Request) {
	streamName := r.PathValue("streamName")
	groupName := r.PathValue("groupName")

	summary, err := h.uc.GetPendingSummary(r.Context(), streamName, groupName)
	if err != nil {
		h.respondWithError(w, "failed to get pending summary", err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, summary)
}

// GetPendingEntries handles requests to list pending entries.
// GET /admin/streams/{streamName}/groups/{groupName}/pending/entries?consumer={consumerName}&count={count}
func (h *AdminHandler) GetPendingEntries(w http.ResponseWriter, r *http.Request) {
	streamName := r.PathValue("streamName")
	groupName := r.PathValue("groupName")
	consumerName := r.URL.Query().Get("consumer")
	countStr := r.URL.Query().Get("count")

	var count int64 = 100 // default
	if countStr != "" {
		var err error
		count, err = strconv.ParseInt(countStr, 10, 64)
		if err != nil {
			http.Error(w, "invalid count parameter", http.StatusBadRequest)
			return
		}
	}

	entries, err := h.uc.GetPendingEntries(r.Context(), streamName, groupName, consumerName, count)
	if err != nil {
		h.respondWithError(w, "failed to get pending entries", err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, entries)
}

// ClaimEntries handles requests to claim pending entries for a new consumer.
// POST /admin/streams/{streamName}/groups/{groupName}/claim
func (h *AdminHandler) ClaimEntries(w http.ResponseWriter, r *http.Request) {
	streamName := r.PathValue("streamName")
	groupName := r.PathValue("groupName")

	var payload struct {
		Consumer    string   `json:"consumer"`
		MinIdleTime string   `json:"min_idle_time"`
		EntryIDs    []string `json:"entry_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if payload.Consumer == "" {
		http.Error(w, "consumer is required", http.StatusBadRequest)
		return
	}

	minIdle, err := time.ParseDuration(payload.MinIdleTime)
	if err != nil {
		http.Error(w, "invalid min_idle_time format", http.StatusBadRequest)
		return
	}

	claimed, err := h.uc.ClaimEntries(r.Context(), streamName, groupName, payload.Consumer, minIdle, payload.EntryIDs)
	if err != nil {
		h.respondWithError(w, "failed to claim entries", err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, claimed)
}

// AcknowledgeEntries handles requests to acknowledge entries.
// POST /admin/streams/{streamName}/groups/{groupName}/ack
func (h *AdminHandler) AcknowledgeEntries(w http.ResponseWriter, r *http.Request) {
	streamName := r.PathValue("streamName")
	groupName := r.PathValue("groupName")

	var payload struct {
		EntryIDs []string `json:"entry_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if len(payload.EntryIDs) == 0 {
		http.Error(w, "entry_ids cannot be empty", http.StatusBadRequest)
		return
	}

	count, err := h.uc.AcknowledgeEntries(r.Context(), streamName, groupName, payload.EntryIDs...)
	if err != nil {
		h.respondWithError(w, "failed to acknowledge entries", err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]int64{"acknowledged": count})
}

func (h *AdminHandler) respondWithError(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, stream.ErrStreamNotFound) || errors.Is(err, stream.ErrGroupNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	h.logger.Error(msg, "error", err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func (h *AdminHandler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
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

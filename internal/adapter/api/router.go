package api

import (
	"log/slog"
	"net/http"

	"github.com/user/txstream/internal/adapter/api/handler"
	"github.com/user/txstream/internal/domain"
	"github.com/user/txstream/internal/usecase"
)

// NewOpsRouter creates the HTTP router for stream administration and fraud
// analytics. It uses path patterns (e.g. "/{streamName}/") available in
// Go 1.22+.
func NewOpsRouter(adminUseCase *usecase.AdminStreamUseCase, sinkRepo domain.TransactionRepository, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	adminHandler := handler.NewAdminHandler(adminUseCase, logger)
	statsHandler := handler.NewStatsHandler(sinkRepo, logger)

	mux.HandleFunc("GET /health", adminHandler.HealthCheck)

	// Stream info
	mux.HandleFunc("GET /admin/streams/{streamName}/length", adminHandler.GetStreamLength)
	mux.HandleFunc("GET /admin/streams/{streamName}/groups", adminHandler.GetGroupInfo)
	mux.HandleFunc("GET /admin/streams/{streamName}/groups/{groupName}/consumers", adminHandler.GetConsumerInfo)

	// Pending entries
	mux.HandleFunc("GET /admin/streams/{streamName}/groups/{groupName}/pending", adminHandler.GetPendingSummary)
	mux.HandleFunc("GET /admin/streams/{streamName}/groups/{groupName}/pending/entries", adminHandler.GetPendingEntries)

	// Recovery operations
	mux.HandleFunc("POST /admin/streams/{streamName}/groups/{groupName}/claim", adminHandler.ClaimEntries)
	mux.HandleFunc("POST /admin/streams/{streamName}/groups/{groupName}/ack", adminHandler.AcknowledgeEntries)

	// Fraud analytics
	mux.HandleFunc("GET /stats/fraud", statsHandler.GetFraudStats)
	mux.HandleFunc("GET /stats/fraud/recent", statsHandler.GetRecentFraud)
	mux.HandleFunc("GET /stats/merchants", statsHandler.GetTopMerchants)

	return mux
}

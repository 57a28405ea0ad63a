package handlers

import (
	"net/http"
	"time"

	"github.com/dvloznov/portfolio-tracker/internal/api/middleware"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Handlers groups everything the router serves. A nil member disables its routes.
type Handlers struct {
	Uploads  *UploadsHandler
	Jobs     *JobsHandler
	Batches  *BatchesHandler
	Review   *ReviewHandler
	Holdings *HoldingsHandler
}

// NewRouter registers the API routes and wraps them in the standard middleware.
func NewRouter(h Handlers, log zerolog.Logger) http.Handler {
	r := mux.NewRouter()
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	})

	api := r.PathPrefix("/api").Subrouter()
	if h.Uploads != nil {
		api.HandleFunc("/uploads", h.Uploads.CreateUpload).Methods(http.MethodPost)
	}
	if h.Jobs != nil {
		api.HandleFunc("/jobs", h.Jobs.ListJobs).Methods(http.MethodGet)
		api.HandleFunc("/jobs/{id}", h.Jobs.GetJob).Methods(http.MethodGet)
	}
	if h.Batches != nil {
		api.HandleFunc("/batches", h.Batches.ListBatches).Methods(http.MethodGet)
		api.HandleFunc("/batches/{id}", h.Batches.GetBatch).Methods(http.MethodGet)
	}
	if h.Review != nil {
		api.HandleFunc("/batches/{id}/transactions", h.Review.ListByBatch).Methods(http.MethodGet)
		api.HandleFunc("/batches/{id}/approve", h.Review.BulkApprove).Methods(http.MethodPost)
		api.HandleFunc("/transactions", h.Review.ListByUser).Methods(http.MethodGet)
		api.HandleFunc("/transactions/{id}", h.Review.GetTransaction).Methods(http.MethodGet)
		api.HandleFunc("/transactions/{id}/approve", h.Review.Approve).Methods(http.MethodPost)
		api.HandleFunc("/transactions/{id}/reject", h.Review.Reject).Methods(http.MethodPost)
		api.HandleFunc("/transactions/{id}/modify", h.Review.Modify).Methods(http.MethodPost)
	}
	if h.Holdings != nil {
		api.HandleFunc("/holdings", h.Holdings.CurrentHoldings).Methods(http.MethodGet)
		api.HandleFunc("/holdings/statements", h.Holdings.ListStatements).Methods(http.MethodGet)
	}

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	}).Methods(http.MethodGet)

	return middleware.Recovery(log)(
		middleware.RequestID(
			middleware.Logger(log)(
				middleware.CORS(r),
			),
		),
	)
}

// Package handlers serves the upload, review and holdings HTTP API.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/portfolio-tracker/internal/api/middleware"
	"github.com/dvloznov/portfolio-tracker/internal/domain"
	"github.com/dvloznov/portfolio-tracker/internal/gcsuploader"
	"github.com/dvloznov/portfolio-tracker/internal/jobs"
	"github.com/dvloznov/portfolio-tracker/internal/logger"
	"github.com/dvloznov/portfolio-tracker/internal/review"
	"github.com/dvloznov/portfolio-tracker/internal/snapshot"
	"github.com/dvloznov/portfolio-tracker/internal/statement"
	"github.com/gorilla/mux"
)

// MaxUploadBytes caps a multipart statement upload.
const MaxUploadBytes = 32 << 20

// ObjectUploader stores uploaded files.
type ObjectUploader interface {
	Upload(ctx context.Context, bucket, object, contentType string, r io.Reader) (string, error)
}

// BatchReader reads upload batches.
type BatchReader interface {
	GetBatch(ctx context.Context, batchID string) (*domain.UploadBatch, error)
	ListBatches(ctx context.Context, userID string) ([]*domain.UploadBatch, error)
}

// HoldingsView answers which statement is current for a user.
type HoldingsView interface {
	CurrentStatement(ctx context.Context, userID string) (snapshot.Statement, bool, error)
	Statements(ctx context.Context, userID string) ([]snapshot.Statement, error)
}

// writeServiceError maps domain errors to status codes and logs the rest.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, jobs.ErrJobNotFound):
		middleware.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflictingReview):
		middleware.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidOverride):
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg(msg)
		middleware.WriteError(w, http.StatusInternalServerError, msg)
	}
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "user_id is required")
		return "", false
	}
	return userID, true
}

// UploadsHandler accepts statements and queues them for ingestion.
type UploadsHandler struct {
	uploader  ObjectUploader
	publisher jobs.Publisher
	bucket    string
	now       func() time.Time
}

// NewUploadsHandler creates an uploads handler. With a nil uploader or an
// empty bucket only source_uri uploads are accepted.
func NewUploadsHandler(uploader ObjectUploader, publisher jobs.Publisher, bucket string) *UploadsHandler {
	return &UploadsHandler{uploader: uploader, publisher: publisher, bucket: bucket, now: time.Now}
}

type enqueueRequest struct {
	UserID      string `json:"user_id"`
	SourceURI   string `json:"source_uri"`
	StatementID string      `json:"statement_id"`
	AsOfDate    *civil.Date `json:"as_of_date"`
}

// CreateUpload handles POST /api/uploads. A multipart body with a "file"
// part is stored in GCS first; a JSON body names an existing source_uri.
func (h *UploadsHandler) CreateUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req enqueueRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		uri, ok := h.storeMultipart(w, r, &req)
		if !ok {
			return
		}
		req.SourceURI = uri
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.UserID == "" || req.SourceURI == "" {
		middleware.WriteError(w, http.StatusBadRequest, "user_id and source_uri are required")
		return
	}

	job := &jobs.ProcessUploadJob{
		UserID:      req.UserID,
		SourceURI:   req.SourceURI,
		StatementID: req.StatementID,
		AsOfDate:    req.AsOfDate,
	}
	if err := h.publisher.PublishProcessUpload(ctx, job); err != nil {
		writeServiceError(w, r, err, "Failed to enqueue upload")
		return
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("job_id", job.JobID).
		Str("batch_id", job.BatchID).
		Str("source_uri", job.SourceURI).
		Msg("Upload enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id":     job.JobID,
		"batch_id":   job.BatchID,
		"source_uri": job.SourceURI,
		"status":     string(job.Status),
	})
}

func (h *UploadsHandler) storeMultipart(w http.ResponseWriter, r *http.Request, req *enqueueRequest) (string, bool) {
	if h.uploader == nil || h.bucket == "" {
		middleware.WriteError(w, http.StatusServiceUnavailable, "File uploads are disabled; send a source_uri")
		return "", false
	}
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid multipart body")
		return "", false
	}
	req.UserID = r.FormValue("user_id")
	req.StatementID = r.FormValue("statement_id")
	if v := r.FormValue("as_of_date"); v != "" {
		d, err := civil.ParseDate(v)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "as_of_date must be YYYY-MM-DD")
			return "", false
		}
		req.AsOfDate = &d
	}
	if req.UserID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "user_id is required")
		return "", false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "file is required")
		return "", false
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read file")
		return "", false
	}

	object := gcsuploader.ObjectName(req.UserID, header.Filename, statement.Checksum(data), h.now())
	uri, err := h.uploader.Upload(r.Context(), h.bucket, object, gcsuploader.ContentType(header.Filename), bytes.NewReader(data))
	if err != nil {
		writeServiceError(w, r, err, "Failed to store file")
		return "", false
	}
	return uri, true
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore) *JobsHandler {
	return &JobsHandler{store: store}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.GetJob(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err, "Failed to get job")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.JobFilter{
		UserID:  query.Get("user_id"),
		BatchID: query.Get("batch_id"),
		Status:  jobs.JobStatus(query.Get("status")),
	}
	if limit, err := strconv.Atoi(query.Get("limit")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(query.Get("offset")); err == nil {
		filter.Offset = offset
	}

	list, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err, "Failed to list jobs")
		return
	}
	if list == nil {
		list = []*jobs.ProcessUploadJob{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  list,
		"count": len(list),
	})
}

// BatchesHandler serves upload batches and their diagnostics.
type BatchesHandler struct {
	batches BatchReader
}

// NewBatchesHandler creates a batches handler.
func NewBatchesHandler(batches BatchReader) *BatchesHandler {
	return &BatchesHandler{batches: batches}
}

// ListBatches handles GET /api/batches?user_id=
func (h *BatchesHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	list, err := h.batches.ListBatches(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err, "Failed to list batches")
		return
	}
	if list == nil {
		list = []*domain.UploadBatch{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"batches": list,
		"count":   len(list),
	})
}

// GetBatch handles GET /api/batches/{id}
func (h *BatchesHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	b, err := h.batches.GetBatch(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err, "Failed to get batch")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, b)
}

// HoldingsHandler serves the reconciled holdings.
type HoldingsHandler struct {
	view HoldingsView
}

// NewHoldingsHandler creates a holdings handler.
func NewHoldingsHandler(view HoldingsView) *HoldingsHandler {
	return &HoldingsHandler{view: view}
}

// CurrentHoldings handles GET /api/holdings?user_id=. The response is the
// single statement with the latest as-of date; holdings are never merged
// across statements.
func (h *HoldingsHandler) CurrentHoldings(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	s, found, err := h.view.CurrentStatement(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err, "Failed to load holdings")
		return
	}
	if !found {
		middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"user_id":  userID,
			"holdings": []domain.Holding{},
		})
		return
	}
	if s.Holdings == nil {
		s.Holdings = []domain.Holding{}
	}
	middleware.WriteJSON(w, http.StatusOK, s)
}

// ListStatements handles GET /api/holdings/statements?user_id=
func (h *HoldingsHandler) ListStatements(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	list, err := h.view.Statements(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err, "Failed to load statements")
		return
	}
	type summary struct {
		StatementID string    `json:"statement_id"`
		BatchID     string    `json:"batch_id"`
		AsOfDate    string    `json:"as_of_date"`
		UploadedAt  time.Time `json:"uploaded_at"`
		Holdings    int       `json:"holdings"`
	}
	out := make([]summary, 0, len(list))
	for _, s := range list {
		out = append(out, summary{
			StatementID: s.StatementID,
			BatchID:     s.BatchID,
			AsOfDate:    s.AsOfDate.String(),
			UploadedAt:  s.UploadedAt,
			Holdings:    len(s.Holdings),
		})
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"statements": out,
		"count":      len(out),
	})
}

// ReviewHandler lists staged transactions and applies reviewer decisions.
type ReviewHandler struct {
	svc *review.Service
}

// NewReviewHandler creates a review handler.
func NewReviewHandler(svc *review.Service) *ReviewHandler {
	return &ReviewHandler{svc: svc}
}

// ListByBatch handles GET /api/batches/{id}/transactions
func (h *ReviewHandler) ListByBatch(w http.ResponseWriter, r *http.Request) {
	txs, err := h.svc.Store().ListByBatch(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err, "Failed to list transactions")
		return
	}
	writeTransactions(w, txs)
}

// ListByUser handles GET /api/transactions?user_id=&status=
func (h *ReviewHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	status := domain.ReviewStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid status")
		return
	}
	txs, err := h.svc.Store().ListByUser(r.Context(), userID, status)
	if err != nil {
		writeServiceError(w, r, err, "Failed to list transactions")
		return
	}
	writeTransactions(w, txs)
}

// GetTransaction handles GET /api/transactions/{id}
func (h *ReviewHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.svc.Store().Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err, "Failed to get transaction")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, tx)
}

// Approve handles POST /api/transactions/{id}/approve
func (h *ReviewHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.svc.Approve)
}

// Reject handles POST /api/transactions/{id}/reject
func (h *ReviewHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.svc.Reject)
}

// Modify handles POST /api/transactions/{id}/modify with an overrides body.
func (h *ReviewHandler) Modify(w http.ResponseWriter, r *http.Request) {
	reviewer, ok := requireReviewer(w, r)
	if !ok {
		return
	}
	var o domain.Overrides
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid overrides body")
		return
	}
	tx, err := h.svc.Modify(r.Context(), mux.Vars(r)["id"], reviewer, o)
	if err != nil {
		writeServiceError(w, r, err, "Failed to modify transaction")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, tx)
}

// BulkApprove handles POST /api/batches/{id}/approve. Each record succeeds
// or fails on its own; the response lists every outcome.
func (h *ReviewHandler) BulkApprove(w http.ResponseWriter, r *http.Request) {
	reviewer, ok := requireReviewer(w, r)
	if !ok {
		return
	}
	outcomes, err := h.svc.BulkApprove(r.Context(), mux.Vars(r)["id"], reviewer)
	if err != nil {
		writeServiceError(w, r, err, "Failed to approve batch")
		return
	}
	approved := 0
	for _, o := range outcomes {
		if o.Err == nil {
			approved++
		}
	}
	if outcomes == nil {
		outcomes = []review.Outcome{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"outcomes": outcomes,
		"approved": approved,
		"failed":   len(outcomes) - approved,
	})
}

func (h *ReviewHandler) decide(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, id, reviewer string) (*domain.PendingTransaction, error)) {
	reviewer, ok := requireReviewer(w, r)
	if !ok {
		return
	}
	tx, err := fn(r.Context(), mux.Vars(r)["id"], reviewer)
	if err != nil {
		writeServiceError(w, r, err, "Failed to review transaction")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, tx)
}

func requireReviewer(w http.ResponseWriter, r *http.Request) (string, bool) {
	reviewer := middleware.Reviewer(r)
	if reviewer == "" {
		middleware.WriteError(w, http.StatusBadRequest, middleware.ReviewerHeader+" header is required")
		return "", false
	}
	return reviewer, true
}

func writeTransactions(w http.ResponseWriter, txs []*domain.PendingTransaction) {
	if txs == nil {
		txs = []*domain.PendingTransaction{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"count":        len(txs),
	})
}

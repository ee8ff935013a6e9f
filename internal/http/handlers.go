package http

import (
	"context"
	"net/http"

	"lucro/internal/log"
)

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.FromContext(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	batch, err := ParseIngestRequest(r)
	if err != nil {
		logger.WarnContext(ctx, "Rejected ingestion payload", log.FieldError, err)
		writeServiceError(w, r, err)
		return
	}

	result, err := s.ingester.Ingest(ctx, batch.Accounts, batch.Transactions)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	logger.InfoContext(ctx, "Batch accepted",
		log.FieldBatchID, result.BatchID,
		"accounts", len(batch.Accounts),
		"transactions", len(batch.Transactions))

	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/integrations/batches/"+result.BatchID+"/").
		Body(IngestResponse{
			BatchID:           result.BatchID,
			TotalTransactions: result.TotalTransactions,
		}).
		Write(w)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("account_id")
	q := r.URL.Query()

	summary, err := s.reporter.Summarize(r.Context(), accountID, q.Get("start_date"), q.Get("end_date"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	NewJSONResponse().Body(NewSummaryResponse(summary)).Write(w)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	progress, err := s.reporter.BatchProgress(r.Context(), r.PathValue("batch_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	NewJSONResponse().Body(NewBatchResponse(progress)).Write(w)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]string{"status": "ok"}).Write(w)
}

// handleReady runs every readiness check and reports 503 when any fails.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	results := make(map[string]string, len(s.checks))
	ready := true
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			ready = false
			results[name] = err.Error()
			log.FromContext(ctx).WarnContext(ctx, "Readiness check failed", "check", name, log.FieldError, err)
			continue
		}
		results[name] = "ok"
	}

	if !ready {
		NewJSONResponse().
			Status(http.StatusServiceUnavailable).
			Body(map[string]any{"status": "unavailable", "checks": results}).
			Write(w)
		return
	}
	NewJSONResponse().Body(map[string]any{"status": "ready", "checks": results}).Write(w)
}

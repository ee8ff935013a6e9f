// Package http provides HTTP server and handler implementations.
//
// This file implements a small builder for JSON responses and the wire
// shapes of the API's success bodies.

package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"lucro/internal/core"
	"lucro/internal/middleware/trace"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	body       any
	headers    map[string]string
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

// Write sends the response. An unencodable body becomes a 500.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	payload := []byte("{}")
	if b.body != nil {
		encoded, err := json.Marshal(b.body)
		if err != nil {
			slog.Error("Failed to encode response body", "error", err)
			b.statusCode = http.StatusInternalServerError
			encoded = []byte(`{"error":"internal server error"}`)
		}
		payload = encoded
	}

	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(append(payload, '\n'))
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorResponse creates an error response with the given status and message.
func ErrorResponse(statusCode int, message string) *JSONResponseBuilder {
	return NewJSONResponse().Status(statusCode).Body(errorBody{Error: message})
}

// BadRequestError creates a 400 Bad Request response.
func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, message)
}

// NotFoundError creates a 404 Not Found response.
func NotFoundError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusNotFound, message)
}

// ValidationErrorResponse creates a 400 response listing problems per field.
func ValidationErrorResponse(errs core.ValidationErrors) *JSONResponseBuilder {
	return NewJSONResponse().Status(http.StatusBadRequest).Body(errs)
}

// writeServiceError maps a service error onto a status code. Unknown errors
// are logged and hidden behind a generic 500 that carries the request id.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs core.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		ValidationErrorResponse(verrs).Write(w)
	case errors.Is(err, core.ErrUnknownAccount):
		var unknown *core.UnknownAccountsError
		if errors.As(err, &unknown) {
			ValidationErrorResponse(core.ValidationErrors{
				"transactions": {"Unknown account_id: " + strings.Join(unknown.AccountIDs, ", ") + "."},
			}).Write(w)
			return
		}
		BadRequestError(err.Error()).Write(w)
	case errors.Is(err, core.ErrInvalidDateRange):
		BadRequestError(core.ErrInvalidDateRange.Error()).Write(w)
	case errors.Is(err, core.ErrDuplicateTransaction):
		ErrorResponse(http.StatusConflict, err.Error()).Write(w)
	case errors.Is(err, core.ErrBatchNotFound):
		NotFoundError(core.ErrBatchNotFound.Error()).Write(w)
	default:
		requestID := trace.GetRequestID(r.Context())
		slog.ErrorContext(r.Context(), "Request failed",
			"error", err,
			"request_id", requestID,
			"path", r.URL.Path)
		NewJSONResponse().
			Status(http.StatusInternalServerError).
			Body(errorBody{Error: "internal server error", RequestID: requestID}).
			Write(w)
	}
}

// IngestResponse is the 201 body of a successful ingestion.
type IngestResponse struct {
	BatchID           string `json:"batch_id"`
	TotalTransactions int    `json:"total_transactions"`
}

// SummaryResponse is the body of GET /reports/account/{account_id}/summary/.
type SummaryResponse struct {
	AccountID        string               `json:"account_id"`
	DateRange        dateRangeResponse    `json:"date_range"`
	Metrics          metricsResponse      `json:"metrics"`
	TopCategories    []categoryResponse   `json:"top_categories"`
	ProcessingStatus core.StatusBreakdown `json:"processing_status"`
}

type dateRangeResponse struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type metricsResponse struct {
	TotalTransactions int64      `json:"total_transactions"`
	TotalSpend        core.Money `json:"total_spend"`
	TotalIncome       core.Money `json:"total_income"`
	Net               core.Money `json:"net"`
}

type categoryResponse struct {
	Category         core.Category `json:"category"`
	TotalSpend       core.Money    `json:"total_spend"`
	TransactionCount int64         `json:"transaction_count"`
}

// NewSummaryResponse converts a domain summary to its wire shape.
func NewSummaryResponse(s core.AccountSummary) SummaryResponse {
	resp := SummaryResponse{
		AccountID: s.AccountID,
		DateRange: dateRangeResponse{
			Start: s.Range.Start.Format(core.DateLayout),
			End:   s.Range.End.Format(core.DateLayout),
		},
		Metrics: metricsResponse{
			TotalTransactions: s.Metrics.TotalTransactions,
			TotalSpend:        s.Metrics.TotalSpend,
			TotalIncome:       s.Metrics.TotalIncome,
			Net:               s.Metrics.Net,
		},
		TopCategories:    make([]categoryResponse, 0, len(s.TopCategories)),
		ProcessingStatus: s.ProcessingStatus,
	}
	for _, c := range s.TopCategories {
		resp.TopCategories = append(resp.TopCategories, categoryResponse{
			Category:         c.Category,
			TotalSpend:       c.TotalSpend,
			TransactionCount: c.TransactionCount,
		})
	}
	return resp
}

// BatchResponse is the body of GET /integrations/batches/{batch_id}/.
type BatchResponse struct {
	BatchID           string               `json:"batch_id"`
	TotalTransactions int64                `json:"total_transactions"`
	Done              bool                 `json:"done"`
	ProcessingStatus  core.StatusBreakdown `json:"processing_status"`
}

// NewBatchResponse converts batch progress to its wire shape.
func NewBatchResponse(p core.BatchProgress) BatchResponse {
	return BatchResponse{
		BatchID:           p.BatchID,
		TotalTransactions: p.Status.Total(),
		Done:              p.Done(),
		ProcessingStatus:  p.Status,
	}
}

package simulate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxErrorBody = 4 << 10

// IngestResult is the server's answer to a posted payload.
type IngestResult struct {
	BatchID           string `json:"batch_id"`
	TotalTransactions int    `json:"total_transactions"`
}

// StatusCounts is the per-status row count of a batch.
type StatusCounts struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

// BatchStatus is the server's view of a batch's categorization progress.
type BatchStatus struct {
	BatchID           string       `json:"batch_id"`
	TotalTransactions int64        `json:"total_transactions"`
	Done              bool         `json:"done"`
	ProcessingStatus  StatusCounts `json:"processing_status"`
}

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Body)
}

// Client talks to the ingestion API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Submit posts p and returns the batch the server created for it.
func (c *Client) Submit(ctx context.Context, p Payload) (IngestResult, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return IngestResult{}, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/integrations/transactions/", bytes.NewReader(body))
	if err != nil {
		return IngestResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var res IngestResult
	if err := c.do(req, http.StatusCreated, &res); err != nil {
		return IngestResult{}, err
	}
	return res, nil
}

// Status fetches the categorization progress of batchID.
func (c *Client) Status(ctx context.Context, batchID string) (BatchStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/integrations/batches/"+url.PathEscape(batchID)+"/", nil)
	if err != nil {
		return BatchStatus{}, err
	}

	var st BatchStatus
	if err := c.do(req, http.StatusOK, &st); err != nil {
		return BatchStatus{}, err
	}
	return st, nil
}

// Wait polls batchID every interval until no row is pending or processing.
// onPoll, when set, sees every intermediate status.
func (c *Client) Wait(ctx context.Context, batchID string, interval time.Duration, onPoll func(BatchStatus)) (BatchStatus, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		st, err := c.Status(ctx, batchID)
		if err != nil {
			return st, err
		}
		if onPoll != nil {
			onPoll(st)
		}
		if st.Done {
			return st, nil
		}

		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(req *http.Request, want int, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

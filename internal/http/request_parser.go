// Package http provides HTTP server and handler implementations.
//
// This file decodes the ingestion payload into domain values. It only
// checks what the JSON itself can tell (presence, number and date syntax);
// domain rules live in core.ValidateBatch.

package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lucro/internal/core"
)

const (
	msgRequired     = "This field is required."
	msgInvalidNum   = "A valid number is required."
	msgInvalidDate  = "Datetime has wrong format. Use one of these formats instead: YYYY-MM-DDThh:mm[:ss[.uuuuuu]][+HH:MM|-HH:MM|Z]."
	msgBodyTooLarge = "Request body too large."
)

// ingestRequest mirrors the body of POST /integrations/transactions/.
// Pointers tell a missing list from an empty one.
type ingestRequest struct {
	Accounts     *[]accountPayload     `json:"accounts"`
	Transactions *[]transactionPayload `json:"transactions"`
}

type accountPayload struct {
	AccountID string  `json:"account_id"`
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	Subtype   *string `json:"subtype"`
	Mask      *string `json:"mask"`
}

type transactionPayload struct {
	TransactionID   string          `json:"transaction_id"`
	AccountID       string          `json:"account_id"`
	Amount          json.RawMessage `json:"amount"`
	ISOCurrencyCode string          `json:"iso_currency_code"`
	Date            string          `json:"date"`
	MerchantName    *string         `json:"merchant_name"`
	Name            string          `json:"name"`
}

// IngestBatch is a decoded ingestion request.
type IngestBatch struct {
	Accounts     []core.Account
	Transactions []core.Transaction
}

// ParseIngestRequest decodes r's JSON body. Syntax problems come back as
// core.ValidationErrors keyed by field path, e.g. "transactions[0].amount".
func ParseIngestRequest(r *http.Request) (IngestBatch, error) {
	var req ingestRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		return IngestBatch{}, decodeError(err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return IngestBatch{}, core.ValidationErrors{"body": {"JSON parse error: unexpected data after the top-level object."}}
	}

	errs := core.ValidationErrors{}
	if req.Accounts == nil {
		errs.Add("accounts", msgRequired)
	}
	if req.Transactions == nil {
		errs.Add("transactions", msgRequired)
	}
	if len(errs) > 0 {
		return IngestBatch{}, errs
	}

	batch := IngestBatch{
		Accounts:     make([]core.Account, 0, len(*req.Accounts)),
		Transactions: make([]core.Transaction, 0, len(*req.Transactions)),
	}
	for _, a := range *req.Accounts {
		batch.Accounts = append(batch.Accounts, core.Account{
			ID:      strings.TrimSpace(a.AccountID),
			Name:    a.Name,
			Type:    a.Type,
			Subtype: a.Subtype,
			Mask:    a.Mask,
		})
	}

	for i, t := range *req.Transactions {
		prefix := fmt.Sprintf("transactions[%d].", i)
		tx := core.Transaction{
			ID:           strings.TrimSpace(t.TransactionID),
			AccountID:    strings.TrimSpace(t.AccountID),
			Currency:     strings.TrimSpace(t.ISOCurrencyCode),
			MerchantName: t.MerchantName,
			Description:  t.Name,
		}

		amount, err := parseAmount(t.Amount)
		if err != nil {
			errs.Add(prefix+"amount", err.Error())
		}
		tx.Amount = amount

		if strings.TrimSpace(t.Date) == "" {
			errs.Add(prefix+"date", msgRequired)
		} else if d, err := parseDateTime(t.Date); err != nil {
			errs.Add(prefix+"date", msgInvalidDate)
		} else {
			tx.Date = d
		}

		batch.Transactions = append(batch.Transactions, tx)
	}

	if len(errs) > 0 {
		return IngestBatch{}, errs
	}
	return batch, nil
}

func decodeError(err error) error {
	var tooLarge *http.MaxBytesError
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	switch {
	case errors.As(err, &tooLarge):
		return core.ValidationErrors{"body": {msgBodyTooLarge}}
	case errors.As(err, &typeErr):
		field := typeErr.Field
		if field == "" {
			field = "body"
		}
		return core.ValidationErrors{field: {fmt.Sprintf("Expected %s but got %s.", typeErr.Type, typeErr.Value)}}
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		return core.ValidationErrors{"body": {"JSON parse error: " + err.Error()}}
	case errors.Is(err, io.EOF):
		return core.ValidationErrors{"body": {"Request body is empty."}}
	default:
		return core.ValidationErrors{"body": {"JSON parse error: " + err.Error()}}
	}
}

// parseAmount accepts a JSON number or a numeric string.
func parseAmount(raw json.RawMessage) (core.Money, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return core.Money{}, errors.New(msgRequired)
	}

	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return core.Money{}, errors.New(msgInvalidNum)
		}
	}

	m, err := core.ParseAmount(s)
	if err != nil {
		if msg, ok := strings.CutPrefix(err.Error(), core.ErrInvalidAmount.Error()+": "); ok && !strings.Contains(msg, "is not a number") {
			return core.Money{}, errors.New(upperFirst(msg) + ".")
		}
		return core.Money{}, errors.New(msgInvalidNum)
	}
	return m, nil
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseDateTime accepts RFC 3339 timestamps. Timestamps without an offset
// and bare dates are taken as UTC.
func parseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid datetime %q", s)
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

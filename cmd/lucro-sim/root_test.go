package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lucro/internal/simulate"
)

func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /integrations/transactions/", func(w http.ResponseWriter, r *http.Request) {
		var p simulate.Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(simulate.IngestResult{BatchID: "b-1", TotalTransactions: len(p.Transactions)})
	})
	mux.HandleFunc("GET /integrations/batches/b-1/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(simulate.BatchStatus{
			BatchID:          "b-1",
			Done:             true,
			ProcessingStatus: simulate.StatusCounts{Completed: 4, Failed: 1},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCmd(t *testing.T) {
	srv := fakeAPI(t)

	tests := []struct {
		name    string
		args    []string
		want    []string
		wantErr string
	}{
		{
			name: "post only",
			args: []string{"--server", srv.URL, "--count", "5", "--seed", "3"},
			want: []string{"Generated 5 transactions", "batch_id=b-1 total=5"},
		},
		{
			name: "wait for categorization",
			args: []string{"--server", srv.URL, "--count", "5", "--wait", "--interval", "10ms"},
			want: []string{"completed=4 failed=1", "Batch categorized"},
		},
		{
			name: "preview payload",
			args: []string{"--server", srv.URL, "--count", "1", "--preview"},
			want: []string{`"iso_currency_code": "USD"`},
		},
		{
			name:    "invalid accounts",
			args:    []string{"--server", srv.URL, "--accounts", "0"},
			wantErr: "at least one account",
		},
		{
			name:    "server rejects",
			args:    []string{"--server", srv.URL + "/nothing-here"},
			wantErr: "server returned 404",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			for _, w := range tt.want {
				assert.True(t, strings.Contains(out, w), "output %q lacks %q", out, w)
			}
		})
	}
}

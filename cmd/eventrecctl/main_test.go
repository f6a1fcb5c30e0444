// Eventrec - Event Similarity and Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventrec

package main

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
)

// fakeServer records requests and answers with a canned envelope.
type fakeServer struct {
	mu     sync.Mutex
	method string
	path   string
	query  string
	body   string
	status int
	reply  string
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.method = r.Method
	f.path = r.URL.Path
	f.query = r.URL.RawQuery
	f.body = string(data)
	status := f.status
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(f.reply))
}

func runCmd(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append(args, "--server", srv.URL))
	err := cmd.Execute()
	return out.String(), err
}

const scoredReply = `{"status":"success","data":{"events":[{"event_id":7,"score":0.5},{"event_id":3,"score":0.25}],"count":2}}`

func TestCommands_Requests(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		reply      string
		wantMethod string
		wantPath   string
		wantQuery  string
		wantBody   string
		wantOutput string
	}{
		{
			name:       "similar",
			args:       []string{"similar", "--event", "1", "--user", "2", "--max", "5"},
			reply:      scoredReply,
			wantMethod: http.MethodGet,
			wantPath:   "/api/v1/events/1/similar",
			wantQuery:  "max_results=5&user_id=2",
			wantOutput: "7            0.5000",
		},
		{
			name:       "predict",
			args:       []string{"predict", "--user", "4"},
			reply:      scoredReply,
			wantMethod: http.MethodGet,
			wantPath:   "/api/v1/users/4/predictions",
			wantQuery:  "max_results=10",
			wantOutput: "3            0.2500",
		},
		{
			name:       "counts",
			args:       []string{"counts", "1", "2", "3"},
			reply:      `{"status":"success","data":{"events":[],"count":0}}`,
			wantMethod: http.MethodPost,
			wantPath:   "/api/v1/interactions/counts",
			wantBody:   `{"event_ids":[1,2,3]}`,
			wantOutput: "no results",
		},
		{
			name:       "send",
			args:       []string{"send", "--user", "1", "--event", "2", "--action", "LIKE", "--message-id", "m-1"},
			reply:      `{"status":"success","data":{"message_id":"m-1","topic":"interactions.recorded"}}`,
			wantMethod: http.MethodPost,
			wantPath:   "/api/v1/interactions",
			wantBody:   `{"message_id":"m-1","user_id":1,"event_id":2,"action":"like"}`,
			wantOutput: "accepted m-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeServer{status: http.StatusOK, reply: tt.reply}
			srv := httptest.NewServer(fake)
			defer srv.Close()

			out, err := runCmd(t, srv, tt.args...)
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}

			fake.mu.Lock()
			defer fake.mu.Unlock()
			if fake.method != tt.wantMethod {
				t.Errorf("method = %s, want %s", fake.method, tt.wantMethod)
			}
			if fake.path != tt.wantPath {
				t.Errorf("path = %s, want %s", fake.path, tt.wantPath)
			}
			if tt.wantQuery != "" && fake.query != tt.wantQuery {
				t.Errorf("query = %s, want %s", fake.query, tt.wantQuery)
			}
			if tt.wantBody != "" && fake.body != tt.wantBody {
				t.Errorf("body = %s, want %s", fake.body, tt.wantBody)
			}
			if !strings.Contains(out, tt.wantOutput) {
				t.Errorf("output = %q, want it to contain %q", out, tt.wantOutput)
			}
		})
	}
}

func TestCommands_JSONOutput(t *testing.T) {
	fake := &fakeServer{status: http.StatusOK, reply: scoredReply}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	out, err := runCmd(t, srv, "predict", "--user", "1", "--json")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var got struct {
		Events []struct {
			EventID int64   `json:"event_id"`
			Score   float32 `json:"score"`
		} `json:"events"`
		Count int `json:"count"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if got.Count != 2 || got.Events[0].EventID != 7 {
		t.Errorf("decoded = %+v, want 2 events starting with 7", got)
	}
}

func TestCommands_ServerError(t *testing.T) {
	fake := &fakeServer{
		status: http.StatusBadRequest,
		reply:  `{"status":"error","error":{"code":"INVALID_EVENT_ID","message":"event ID must be positive"}}`,
	}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	_, err := runCmd(t, srv, "similar", "--event", "0")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != "INVALID_EVENT_ID" {
		t.Errorf("APIError = %+v, want 400 INVALID_EVENT_ID", apiErr)
	}
}

func TestCommands_LocalValidation(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	tests := []struct {
		name string
		args []string
	}{
		{"unknown action", []string{"send", "--user", "1", "--event", "2", "--action", "share"}},
		{"missing action", []string{"send", "--user", "1", "--event", "2"}},
		{"non-numeric id", []string{"counts", "1", "abc"}},
		{"zero id", []string{"counts", "0"}},
		{"no ids", []string{"counts"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := runCmd(t, srv, tt.args...); err == nil {
				t.Error("Execute() error = nil, want error")
			}
		})
	}
}

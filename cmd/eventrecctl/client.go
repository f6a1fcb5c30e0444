// Eventrec - Event Similarity and Recommendation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventrec

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/eventrec/internal/models"
)

// client calls the eventrec HTTP API.
type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string, timeout time.Duration) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// envelope mirrors models.APIResponse with a raw data field.
type envelope struct {
	Status string           `json:"status"`
	Data   json.RawMessage  `json:"data"`
	Error  *models.APIError `json:"error,omitempty"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

func (c *client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{StatusCode: resp.StatusCode}
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

// SimilarEvents calls GET /api/v1/events/{id}/similar.
func (c *client) SimilarEvents(ctx context.Context, eventID, userID int64, maxResults int) (*models.ScoredEventsResponse, error) {
	q := url.Values{}
	q.Set("user_id", strconv.FormatInt(userID, 10))
	q.Set("max_results", strconv.Itoa(maxResults))
	path := fmt.Sprintf("/api/v1/events/%d/similar?%s", eventID, q.Encode())

	var out models.ScoredEventsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UserPredictions calls GET /api/v1/users/{id}/predictions.
func (c *client) UserPredictions(ctx context.Context, userID int64, maxResults int) (*models.ScoredEventsResponse, error) {
	path := fmt.Sprintf("/api/v1/users/%d/predictions?max_results=%d", userID, maxResults)

	var out models.ScoredEventsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// InteractionCounts calls POST /api/v1/interactions/counts.
func (c *client) InteractionCounts(ctx context.Context, eventIDs []int64) (*models.ScoredEventsResponse, error) {
	body := map[string][]int64{"event_ids": eventIDs}

	var out models.ScoredEventsResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/interactions/counts", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// interactionBody is the collector request body.
type interactionBody struct {
	MessageID string `json:"message_id,omitempty"`
	UserID    int64  `json:"user_id"`
	EventID   int64  `json:"event_id"`
	Action    string `json:"action"`
}

// RecordInteraction calls POST /api/v1/interactions.
func (c *client) RecordInteraction(ctx context.Context, body interactionBody) (*models.InteractionAccepted, error) {
	var out models.InteractionAccepted
	if err := c.do(ctx, http.MethodPost, "/api/v1/interactions", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

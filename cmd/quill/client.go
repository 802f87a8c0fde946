package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"quill/internal/pipeline"
)

// apiClient talks to the daemon API over HTTP with optional bearer auth.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

type healthReport struct {
	Status      string `json:"status"`
	Error       string `json:"error"`
	Workers     int    `json:"workers"`
	Ready       int    `json:"ready"`
	Leased      int    `json:"leased"`
	DeadLetters int    `json:"deadLetters"`
}

func newAPIClient(addr, token string) *apiClient {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &apiClient{
		baseURL: strings.TrimRight(base, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) Submit(ctx context.Context, userID, manuscriptID, tier string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"userId":       userID,
		"manuscriptId": manuscriptID,
		"tier":         tier,
	})
	if err != nil {
		return "", fmt.Errorf("encode submit request: %w", err)
	}
	payload, err := c.do(ctx, http.MethodPost, "/api/submit", body)
	if err != nil {
		return "", err
	}
	var resp struct {
		ReportID string `json:"reportId"`
	}
	if err := json.Unmarshal(payload, &resp); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	return resp.ReportID, nil
}

func (c *apiClient) Status(ctx context.Context, reportID string) (pipeline.StatusRecord, error) {
	payload, err := c.do(ctx, http.MethodGet, "/api/status/"+url.PathEscape(reportID), nil)
	if err != nil {
		return pipeline.StatusRecord{}, err
	}
	var record pipeline.StatusRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return pipeline.StatusRecord{}, fmt.Errorf("decode status response: %w", err)
	}
	return record, nil
}

func (c *apiClient) Cancel(ctx context.Context, reportID string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/cancel/"+url.PathEscape(reportID), nil)
	return err
}

func (c *apiClient) Result(ctx context.Context, reportID, stageID string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, "/api/result/"+url.PathEscape(reportID)+"/"+url.PathEscape(stageID), nil)
}

func (c *apiClient) Health(ctx context.Context) (healthReport, error) {
	payload, err := c.do(ctx, http.MethodGet, "/api/health", nil)
	var report healthReport
	// An unhealthy daemon answers 503 with a structured body.
	if len(payload) > 0 && json.Unmarshal(payload, &report) == nil && report.Status != "" {
		return report, nil
	}
	return report, err
}

func (c *apiClient) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call daemon at %s: %w (is the daemon running?)", c.baseURL, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return payload, apiError(resp.StatusCode, payload)
	}
	return payload, nil
}

func apiError(status int, payload []byte) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err == nil && body.Error != "" {
		return fmt.Errorf("daemon returned %d: %s", status, body.Error)
	}
	return fmt.Errorf("daemon returned %d", status)
}

// Package engine adapts the external scan engine daemon to the agent's
// ports: commands go out as JSON over loopback HTTP, events come back on a
// websocket feed.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/kversteeg/starshield/internal/interfaces"
	"github.com/kversteeg/starshield/internal/logging"
	"github.com/kversteeg/starshield/internal/model"
)

// Client implements interfaces.Engine against the engine daemon's command
// API. Transport-level failures are retried briefly with exponential backoff
// and surface as ErrEngineUnavailable; a command the engine rejected is
// returned as-is without retrying.
type Client struct {
	baseURL string
	http    *http.Client
	logger  logging.Logger
}

// NewClient creates a command client. httpClient may be nil, in which case a
// default with the given timeout is constructed.
func NewClient(baseURL string, timeout time.Duration, logger logging.Logger, httpClient *http.Client) *Client {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger.With(logging.Field{Key: "component", Value: "engine_client"}),
	}
}

type commandError struct {
	Error string `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s payload: %w", path, err)
		}
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			// No engine answered; worth retrying, and if it keeps
			// failing the caller falls back to local handling.
			return fmt.Errorf("%w: %v", interfaces.ErrEngineUnavailable, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusBadRequest {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			var ce commandError
			msg := strings.TrimSpace(string(raw))
			if json.Unmarshal(raw, &ce) == nil && ce.Error != "" {
				msg = ce.Error
			}
			// The engine answered and said no; retrying won't help.
			return backoff.Permanent(fmt.Errorf("engine rejected %s: %s", path, msg))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 400 * time.Millisecond
	bo.MaxElapsedTime = 3 * time.Second

	err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), func(err error, next time.Duration) {
		c.logger.Warn("engine command retry",
			logging.Field{Key: "path", Value: path},
			logging.Field{Key: "retry_in", Value: next.String()},
			logging.Field{Key: "error", Value: err.Error()})
	})
	if err != nil {
		return err
	}

	c.logger.Debug("engine command accepted", logging.Field{Key: "path", Value: path})
	return nil
}

func (c *Client) StartFullScan(ctx context.Context) error {
	return c.post(ctx, "/scan/full", nil)
}

func (c *Client) StartQuickScan(ctx context.Context) error {
	return c.post(ctx, "/scan/quick", nil)
}

func (c *Client) SetRealtimeEnabled(ctx context.Context, enabled bool) error {
	return c.post(ctx, "/realtime", map[string]bool{"enabled": enabled})
}

func (c *Client) IsolateFiles(ctx context.Context, paths []string) error {
	return c.post(ctx, "/quarantine/isolate", map[string][]string{"paths": paths})
}

func (c *Client) RestoreFromQuarantine(ctx context.Context, items []model.RestoreItem) error {
	return c.post(ctx, "/quarantine/restore", map[string][]model.RestoreItem{"items": items})
}

func (c *Client) DeleteQuarantineFiles(ctx context.Context, fileNames []string) error {
	return c.post(ctx, "/quarantine/delete", map[string][]string{"fileNames": fileNames})
}

func (c *Client) ProbeFilesystemAccess(ctx context.Context) ([]model.ProbeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/probe", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("engine rejected /probe: status %d", resp.StatusCode)
	}
	var results []model.ProbeResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decoding probe results: %w", err)
	}
	return results, nil
}

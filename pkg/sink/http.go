package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/canopy-network/exposure/pkg/models"
	"github.com/canopy-network/exposure/pkg/retry"
	"github.com/canopy-network/exposure/pkg/utils"
	"go.uber.org/zap"
)

// HTTP posts each batch as {"type": ..., "records": [...]} to a batch API. Server errors
// are retried with backoff; client errors fail the batch immediately.
type HTTP struct {
	url    string
	client *http.Client
	retry  retry.Config
	logger *zap.Logger
}

func NewHTTP(url string, client *http.Client, logger *zap.Logger) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTP{url: url, client: client, retry: retry.SinkConfig(), logger: logger}
}

type batchBody struct {
	Type    string `json:"type"`
	Records any    `json:"records"`
}

func (s *HTTP) WriteWindows(ctx context.Context, windows []models.EnrichedWindow) error {
	return s.post(ctx, kindWindows, windows)
}

func (s *HTTP) WriteActions(ctx context.Context, actions []models.EnrichedAction) error {
	return s.post(ctx, kindActions, actions)
}

func (s *HTTP) Close() error { return nil }

func (s *HTTP) post(ctx context.Context, kind string, records any) error {
	bz, err := json.Marshal(batchBody{Type: kind, Records: records})
	if err != nil {
		return fmt.Errorf("encode %s batch: %w", kind, err)
	}
	return retry.WithBackoff(ctx, s.retry, s.logger, "sink post "+kind, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(bz))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer utils.DrainAndClose(resp.Body)
		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("sink %s returned %d", s.url, resp.StatusCode)
		default:
			return retry.Permanent(fmt.Errorf("sink %s rejected %s batch with %d", s.url, kind, resp.StatusCode))
		}
	})
}

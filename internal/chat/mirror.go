package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Mirror posts a redacted summary of each message to an external chat webhook.
// Mirroring is fire-and-forget: failures are logged and never reach the
// poster.
type Mirror struct {
	url        string
	logger     *slog.Logger
	httpClient *http.Client
}

// NewMirror builds a Mirror; returns nil when no webhook is configured.
func NewMirror(url string, timeout time.Duration, logger *slog.Logger) *Mirror {
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		url:    url,
		logger: logger,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Post sends the message summary in the background. The message text is
// already redacted by the chat service.
func (m *Mirror) Post(msg Message) {
	payload := map[string]any{
		"thread": msg.ThreadID,
		"author": msg.Author,
		"ts":     msg.TS.Format(time.RFC3339),
		"text":   fmt.Sprintf("[%s] %s", msg.ThreadID, msg.Text),
	}

	go func() {
		body, err := json.Marshal(payload)
		if err != nil {
			m.logger.Warn("mirror payload marshal failed", slog.Any("error", err))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), m.httpClient.Timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
		if err != nil {
			m.logger.Warn("mirror request build failed", slog.Any("error", err))
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := m.httpClient.Do(req)
		if err != nil {
			m.logger.Warn("mirror post failed", slog.Any("error", err))
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			m.logger.Warn("mirror post rejected", slog.String("status", resp.Status))
		}
	}()
}

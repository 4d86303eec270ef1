package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"cronflow/internal/domain"
)

const (
	defaultWebhookTimeout = 30 * time.Second
	maxWebhookBody        = 64 << 10
)

// Webhook delivers the task payload to an HTTP endpoint. The payload drives
// the request: "url" (required), "method", "headers", "body", "timeout"
// (seconds).
type Webhook struct {
	Client *http.Client
}

func NewWebhook() *Webhook {
	return &Webhook{Client: &http.Client{Timeout: defaultWebhookTimeout}}
}

func (w *Webhook) Execute(ctx context.Context, task domain.Task) (string, error) {
	url, _ := task.Payload["url"].(string)
	if url == "" {
		return "", classify(KindInvalid, errors.New("webhook payload missing url"))
	}

	method, _ := task.Payload["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	method = strings.ToUpper(method)

	if secs, ok := task.Payload["timeout"].(float64); ok && secs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(secs)*time.Second)
		defer cancel()
	}

	var body io.Reader
	if raw, ok := task.Payload["body"].(string); ok && raw != "" {
		body = strings.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return "", classify(KindInvalid, fmt.Errorf("build webhook request: %w", err))
	}
	if headers, ok := task.Payload["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := w.Client.Do(req)
	if err != nil {
		return "", classify(netKind(err), fmt.Errorf("webhook request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxWebhookBody))
	if err != nil {
		return "", classify(KindNetwork, fmt.Errorf("read webhook response: %w", err))
	}

	if resp.StatusCode >= 400 {
		return "", classify(KindHTTP, fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))))
	}
	return fmt.Sprintf("%s %s -> %d", method, url, resp.StatusCode), nil
}

func netKind(err error) string {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindNetwork
}

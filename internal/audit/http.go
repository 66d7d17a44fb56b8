package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const postAttempts = 3

// HTTPSink posts events as JSON to an endpoint.
type HTTPSink struct {
	endpoint   string
	client     *http.Client
	newBackOff func() backoff.BackOff
}

func NewHTTPSink(endpoint string) *HTTPSink {
	return &HTTPSink{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			return b
		},
	}
}

// Post sends evt, retrying transport errors and 5xx responses. A 4xx
// response is not retried.
func (s *HTTPSink) Post(ctx context.Context, evt *Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), postAttempts-1), ctx)
	return backoff.Retry(func() error { return s.post(ctx, body) }, policy)
}

func (s *HTTPSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	err = fmt.Errorf("http %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
	if resp.StatusCode < 500 {
		return backoff.Permanent(err)
	}
	return err
}

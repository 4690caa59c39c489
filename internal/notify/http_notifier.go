package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"github.com/Stavin13/Threat-lens-sub000/pkg/threatlens"
)

// HTTPNotifier delivers an EventUpdate as a JSON POST to a webhook URL,
// retrying transient failures (the `webhook`/`retry_count`/`retry_delay`
// channel shape of notification_config.py) with exponential backoff.
type HTTPNotifier struct {
	url    string
	client *retryablehttp.Client
}

// NewHTTPNotifier builds an HTTPNotifier that retries a failed request up
// to retryMax times after the first attempt, over a pooled, keep-alive
// transport.
func NewHTTPNotifier(url string, retryMax int, timeout time.Duration) *HTTPNotifier {
	client := retryablehttp.NewClient()
	client.HTTPClient = cleanhttp.DefaultPooledClient()
	client.HTTPClient.Timeout = timeout
	client.RetryMax = retryMax
	client.Logger = nil // ambient logging goes through sf-apis/logger at the call site, not retryablehttp's own
	return &HTTPNotifier{url: url, client: client}
}

// Dispatch POSTs ev as JSON to the configured webhook URL.
func (n *HTTPNotifier) Dispatch(ctx context.Context, ev threatlens.EventUpdate) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("notify: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Close releases the underlying HTTP transport's idle connections.
func (n *HTTPNotifier) Close() error {
	n.client.HTTPClient.CloseIdleConnections()
	return nil
}

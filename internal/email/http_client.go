package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/imrishuroy/go-idempotent-newsletter/pkg/utils"
)

const retryJitter = 0.25

// HTTPConfig configures the HTTP email client.
type HTTPConfig struct {
	BaseURL    string
	Sender     string
	AuthToken  string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	MaxDelay   time.Duration
}

// HTTPClient delivers messages through a Postmark-compatible JSON API.
type HTTPClient struct {
	config     HTTPConfig
	httpClient *http.Client
}

type sendEmailRequest struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// NewHTTPClient builds a client whose transport is traced with otelhttp.
func NewHTTPClient(config HTTPConfig) *HTTPClient {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 2 * time.Second
	}
	return &HTTPClient{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Send posts msg to {base_url}/email, retrying server errors, rate limiting
// and network failures unless ctx was marked with WithoutRetries. A 4xx
// other than 429 is a permanent rejection.
func (c *HTTPClient) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(sendEmailRequest{
		From:     c.config.Sender,
		To:       msg.To,
		Subject:  msg.Subject,
		HtmlBody: msg.HTML,
		TextBody: msg.Text,
	})
	if err != nil {
		return fmt.Errorf("marshal email request: %w", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + "/email"

	attempt := 0
	err = utils.RetryWithExponentialBackoff(ctx, c.retryConfig(ctx), shouldRetry, func() error {
		attempt++
		postErr := c.post(ctx, url, payload)
		if postErr != nil && shouldRetry(postErr) {
			slog.WarnContext(ctx, "email api request failed", "attempt", attempt, "error", postErr)
		}
		return postErr
	})
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

func (c *HTTPClient) retryConfig(ctx context.Context) utils.RetryConfig {
	attempts := c.config.MaxRetries + 1
	if !RetriesAllowed(ctx) {
		attempts = 1
	}
	return utils.NewRetryConfig(attempts, c.config.RetryDelay, c.config.MaxDelay).WithJitter(retryJitter)
}

func (c *HTTPClient) post(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.config.AuthToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{StatusCode: resp.StatusCode, Message: string(body)}
	}
	return nil
}

func shouldRetry(err error) bool {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return transportErr.Temporary()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

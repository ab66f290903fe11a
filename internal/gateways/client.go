package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

var ErrProviderUnavailable = errors.New("payment provider unavailable")

type Config struct {
	Timeout         time.Duration
	MaxRetries      int
	RetryDelay      time.Duration
	MaxConns        int
	ReadBufferSize  int
	WriteBufferSize int
}

func DefaultConfig() *Config {
	return &Config{
		Timeout:         10 * time.Second,
		MaxRetries:      2,
		RetryDelay:      200 * time.Millisecond,
		MaxConns:        512,
		ReadBufferSize:  8192,
		WriteBufferSize: 8192,
	}
}

// restClient is the HTTP plumbing shared by provider adapters. Retries cover
// transport errors and 5xx only: a definitive provider answer, success or
// decline, is never retried.
type restClient struct {
	baseURL string
	client  *fasthttp.Client
	config  *Config
}

func newRESTClient(baseURL string, config *Config) *restClient {
	if config == nil {
		config = DefaultConfig()
	}
	return &restClient{
		baseURL: baseURL,
		config:  config,
		client: &fasthttp.Client{
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
			ReadBufferSize:      config.ReadBufferSize,
			WriteBufferSize:     config.WriteBufferSize,
		},
	}
}

func (c *restClient) doRequest(ctx context.Context, method, path, authToken string, body []byte) ([]byte, int, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}

		body, status, err := c.doOnce(ctx, method, path, authToken, body)
		if err != nil {
			lastErr = err
			continue
		}
		if status >= fasthttp.StatusInternalServerError {
			lastErr = fmt.Errorf("provider returned %d: %s", status, body)
			continue
		}
		return body, status, nil
	}

	return nil, 0, fmt.Errorf("%w: %s after %d attempts: %s", ErrProviderUnavailable, c.baseURL, c.config.MaxRetries+1, lastErr)
}

func (c *restClient) doOnce(ctx context.Context, method, path, authToken string, body []byte) ([]byte, int, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
	if body != nil {
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}

	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}

	out := make([]byte, len(resp.Body()))
	copy(out, resp.Body())

	return out, resp.StatusCode(), nil
}

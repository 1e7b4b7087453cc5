// Package venue предоставляет шлюзы к двум венью:
// Solana lending/margin протоколу (длинная нога) и
// Arbitrum perp-бирже (короткая нога).
package venue

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"deltahedge/pkg/ratelimit"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// httpClient - общий HTTP клиент для обоих венью:
// connection pooling, таймауты, rate limiting, JSON decode
type httpClient struct {
	baseURL string
	client  *http.Client
	limiter *ratelimit.RateLimiter
}

func newHTTPClient(baseURL string, timeout time.Duration, limiter *ratelimit.RateLimiter) *httpClient {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		ForceAttemptHTTP2: true,
	}
	return &httpClient{
		baseURL: baseURL,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		limiter: limiter,
	}
}

// apiError - ошибка уровня API венью
type apiError struct {
	StatusCode int
	Body       string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("venue API error: status %d: %s", e.StatusCode, e.Body)
}

// Temporary: 5xx и 429 можно retry'ить
func (e *apiError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// getJSON выполняет GET и декодирует ответ в out
func (c *httpClient) getJSON(ctx context.Context, path string, out interface{}) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

// postJSON выполняет POST с JSON-телом и декодирует ответ в out
func (c *httpClient) postJSON(ctx context.Context, path string, body, out interface{}) error {
	return c.doJSON(ctx, http.MethodPost, path, body, out)
}

func (c *httpClient) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	// Rate limit перед каждым запросом к венью
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return &apiError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// Close закрывает idle соединения (graceful shutdown)
func (c *httpClient) Close() {
	if transport, ok := c.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}

package resilience

import (
	"fmt"
	"io"
	"net/http"
)

// ResilientHTTPClient wraps an http.Client with circuit breaker protection
type ResilientHTTPClient struct {
	client *http.Client
	cb     *CircuitBreaker
}

// NewResilientHTTPClient creates a new HTTP client with circuit breaker protection
func NewResilientHTTPClient(client *http.Client, cb *CircuitBreaker) *ResilientHTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &ResilientHTTPClient{
		client: client,
		cb:     cb,
	}
}

// Breaker returns the circuit breaker guarding the client
func (rc *ResilientHTTPClient) Breaker() *CircuitBreaker {
	return rc.cb
}

// Do executes an HTTP request through the circuit breaker. 5xx and 429
// responses count as failures; their bodies are drained and closed and a nil
// response is returned with the error.
func (rc *ResilientHTTPClient) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := rc.cb.Execute(func() error {
		r, err := rc.client.Do(req)
		if err != nil {
			return err
		}
		if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
			io.Copy(io.Discard, io.LimitReader(r.Body, 4096))
			r.Body.Close()
			return fmt.Errorf("upstream error: HTTP %d", r.StatusCode)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

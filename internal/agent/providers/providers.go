// Package providers implements the upstream adapters for the agent
// loop. Both adapters forward the client's Anthropic-compatible JSON
// body as-is and return the upstream reply raw, so error bodies reach
// the client verbatim.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/modelrelay/relay/internal/agent"
)

// httpClient is shared across adapters; the transport is tuned for a
// small number of long-lived upstream connections.
var httpClient = &http.Client{
	Timeout: 120 * time.Second,
	Transport: &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	},
}

// maxResponseBody bounds how much of an upstream reply is read.
const maxResponseBody = 16 << 20

func post(ctx context.Context, url string, headers map[string]string, body map[string]any) (*agent.ProviderResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("providers: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("providers: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("providers: %s: %w", url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("providers: read response: %w", err)
	}
	return &agent.ProviderResponse{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   raw,
	}, nil
}

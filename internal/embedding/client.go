package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"politicalassistant/internal/apperr"
	"politicalassistant/internal/config"
)

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// backoffBaseDelay and backoffMaxDelay bound the exponential-backoff retry
// loop in EmbedText.
const (
	backoffBaseDelay = 500 * time.Millisecond
	backoffMaxDelay  = 10 * time.Second
	backoffJitter    = 0.3
)

// EmbedText calls the configured embedding endpoint and returns one embedding
// per input string. Caller should provide cfg loaded from config.Load().
// Transient failures (network errors, 5xx, timeouts) are retried locally
// with bounded exponential backoff and jitter; a 4xx response is
// classified Permanent and returned immediately since retrying it cannot
// succeed.
func EmbedText(ctx context.Context, cfg config.EmbeddingConfig, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, apperr.New(apperr.InvalidInput, "embedding", "no inputs", nil)
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		out, err := doEmbedRequest(ctx, cfg, inputs)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if apperr.KindOf(err) != apperr.Transient || attempt == maxRetries {
			return nil, err
		}

		delay := backoffBaseDelay * time.Duration(uint64(1)<<uint(attempt))
		if delay > backoffMaxDelay {
			delay = backoffMaxDelay
		}
		jitter := time.Duration(float64(delay) * backoffJitter * (0.5 + jitterFraction()))
		delay += jitter

		select {
		case <-ctx.Done():
			return nil, apperr.New(apperr.Cancelled, "embedding", "context cancelled during retry backoff", ctx.Err())
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

// jitterFraction returns a pseudo-random value in [0,1) without pulling in
// math/rand; clock-derived jitter is enough to de-synchronize retries.
func jitterFraction() float64 {
	return float64(time.Now().UnixNano()%1000) / 1000.0
}

// doEmbedRequest performs a single attempt against the embedding endpoint.
func doEmbedRequest(ctx context.Context, cfg config.EmbeddingConfig, inputs []string) ([][]float32, error) {
	reqBody, _ := json.Marshal(embedReq{Model: cfg.Model, Input: inputs})
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	url := cfg.BaseURL + cfg.Path
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, apperr.New(apperr.Permanent, "embedding", "request construction failed", err)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if _, already := cfg.Headers[cfg.APIHeader]; !already {
		if cfg.APIHeader == "Authorization" {
			req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
		} else if cfg.APIHeader != "" {
			req.Header.Set(cfg.APIHeader, cfg.APIKey)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if cctx.Err() != nil {
			return nil, apperr.New(apperr.Transient, "embedding", "request timed out", err)
		}
		return nil, apperr.New(apperr.Transient, "embedding", "request failed", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.New(apperr.Transient, "embedding", "failed to read response body", err)
	}

	if resp.StatusCode/100 != 2 {
		msg := fmt.Sprintf("embeddings error: %s: %s", resp.Status, string(bodyBytes[:min(500, len(bodyBytes))]))
		// 4xx (bad input, bad auth, unknown model) cannot succeed on retry;
		// 5xx and anything else is presumed transient.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, apperr.New(apperr.Permanent, "embedding", msg, nil)
		}
		return nil, apperr.New(apperr.Transient, "embedding", msg, nil)
	}

	var er embedResp
	if err := json.Unmarshal(bodyBytes, &er); err != nil {
		return nil, apperr.New(apperr.Permanent, "embedding",
			fmt.Sprintf("failed to parse embedding response (input count: %d, response: %s)",
				len(inputs), string(bodyBytes[:min(200, len(bodyBytes))])), err)
	}
	if len(er.Data) != len(inputs) {
		return nil, apperr.New(apperr.Permanent, "embedding",
			fmt.Sprintf("unexpected embedding count: got %d, want %d", len(er.Data), len(inputs)), nil)
	}
	out := make([][]float32, len(er.Data))
	for i := range er.Data {
		out[i] = er.Data[i].Embedding
	}
	return out, nil
}

// CheckReachability verifies that the embedding endpoint is reachable and
// responding correctly by sending a small test request.
func CheckReachability(ctx context.Context, cfg config.EmbeddingConfig) error {
	_, err := EmbedText(ctx, cfg, []string{"ping"})
	if err != nil {
		return fmt.Errorf("embedding endpoint reachability check failed: %w", err)
	}
	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Package embedding implements the Embedding Model half of C7: a text→vector
// HTTP client matching the OpenAI /v1/embeddings request/response shape.
// Grounded on the teacher's internal/embedding/client.go (EmbedText).
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"ailoy/internal/aerr"
	"ailoy/internal/config"
	"ailoy/internal/observability"
)

// Client calls a configured OpenAI-shaped embeddings endpoint.
type Client struct {
	cfg        config.EmbeddingConfig
	httpClient *http.Client
}

// New builds a Client, wrapping httpClient (or, when nil, a new http.Client
// over http.DefaultTransport) with the otel-instrumented transport every
// outbound call in this module uses.
func New(cfg config.EmbeddingConfig, httpClient *http.Client) *Client {
	return &Client{cfg: cfg, httpClient: observability.NewHTTPClient(httpClient)}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per input string, in input order.
func (c *Client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, aerr.New(aerr.Validation, "embed: no inputs")
	}

	log := observability.LoggerWithTrace(ctx)
	body, err := json.Marshal(embedRequest{Model: c.cfg.Model, Input: inputs})
	if err != nil {
		return nil, aerr.Wrap(aerr.Validation, err, "marshal embed request")
	}

	timeout := time.Duration(c.cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, c.cfg.BaseURL+c.cfg.Path, bytes.NewReader(body))
	if err != nil {
		return nil, aerr.Wrap(aerr.Validation, err, "build embed request")
	}
	if c.cfg.APIHeader == "Authorization" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	} else if c.cfg.APIHeader != "" {
		req.Header.Set(c.cfg.APIHeader, c.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Str("model", c.cfg.Model).Msg("embed_request_error")
		return nil, aerr.Wrap(aerr.Transport, err, "embed request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, aerr.Wrap(aerr.Transport, err, "read embed response")
	}
	if resp.StatusCode/100 != 2 {
		safeBody := observability.RedactJSON(respBody)
		return nil, aerr.New(aerr.Transport, "embed request failed: %s: %s", resp.Status, string(safeBody))
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, aerr.Wrap(aerr.Transport, err, "parse embed response")
	}
	if len(parsed.Data) != len(inputs) {
		return nil, aerr.New(aerr.Transport, "embed response count mismatch: got %d, want %d", len(parsed.Data), len(inputs))
	}

	out := make([][]float32, len(parsed.Data))
	for i := range parsed.Data {
		out[i] = parsed.Data[i].Embedding
	}
	return out, nil
}

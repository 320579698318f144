// Package embedder provides the embeddings client the semantic index
// queries through. Any OpenAI-compatible /embeddings endpoint works (vLLM
// deployments included).
package embedder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rhea-ai/rhea/pkg/config"
	"github.com/rhea-ai/rhea/pkg/httpclient"
)

// EmbedRequest is the request payload for the embeddings API.
type EmbedRequest struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	EncodingFormat string   `json:"encoding_format,omitempty"`
}

// EmbedResponse is the response from the embeddings API.
type EmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

// Client calls an OpenAI-compatible embeddings endpoint.
type Client struct {
	http    *httpclient.Client
	baseURL string
	apiKey  string
	model   string
}

// New creates an embeddings client from configuration.
func New(cfg config.EmbeddingConfig) *Client {
	return &Client{
		http:    httpclient.New(),
		baseURL: cfg.URL,
		apiKey:  cfg.Key,
		model:   cfg.Model,
	}
}

// Embed returns the embedding vector for one input text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(EmbedRequest{
		Model:          c.model,
		Input:          []string{text},
		EncodingFormat: "float",
	})
	if err != nil {
		return nil, err
	}

	header := http.Header{"Content-Type": {"application/json"}}
	if c.apiKey != "" {
		header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(ctx, http.MethodPost, c.baseURL+"/embeddings", payload, header)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embedder: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedder: %s: %s", resp.Status, string(body))
	}

	var decoded EmbedResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("embedder: decode response: %w", err)
	}
	if len(decoded.Data) == 0 {
		return nil, fmt.Errorf("embedder: empty response for model %s", c.model)
	}
	return decoded.Data[0].Embedding, nil
}

package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultCLIPTimeout = 30 * time.Second

// CLIPClient encodes images against a CLIP-style embedding service that
// accepts base64 payloads and returns a single vector per request.
type CLIPClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Model      string
}

type clipEmbedRequest struct {
	Image string `json:"image"`
	Model string `json:"model,omitempty"`
}

type clipEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

func NewCLIPClient(baseURL, apiKey string) *CLIPClient {
	return &CLIPClient{
		BaseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		APIKey:     strings.TrimSpace(apiKey),
		HTTPClient: &http.Client{Timeout: defaultCLIPTimeout},
	}
}

func (c *CLIPClient) EncodeImage(ctx context.Context, data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, encodeErr("image embedding input is empty", false, nil)
	}
	baseURL := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if baseURL == "" {
		return nil, encodeErr("image encoder endpoint is not configured", false, nil)
	}

	payload, err := json.Marshal(clipEmbedRequest{
		Image: base64.StdEncoding.EncodeToString(data),
		Model: c.Model,
	})
	if err != nil {
		return nil, encodeErr("failed to build image embedding request", false, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/embed/image", bytes.NewReader(payload))
	if err != nil {
		return nil, encodeErr("failed to build image embedding request", false, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultCLIPTimeout}
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, encodeErr("image embedding request failed", true, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, encodeErr("failed to read image embedding response", true, err)
	}

	if resp.StatusCode != http.StatusOK {
		message := strings.TrimSpace(string(body))
		if message == "" {
			message = fmt.Sprintf("image encoder returned status %d", resp.StatusCode)
		}
		retryable := resp.StatusCode == http.StatusTooManyRequests ||
			resp.StatusCode >= http.StatusInternalServerError
		return nil, encodeErr(message, retryable, nil)
	}

	var parsed clipEmbedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, encodeErr("failed to decode image embedding response", false, err)
	}
	if parsed.Error != "" {
		return nil, encodeErr(parsed.Error, false, nil)
	}
	if len(parsed.Embedding) == 0 {
		return nil, encodeErr("image embedding response had no vector", false, nil)
	}
	return parsed.Embedding, nil
}

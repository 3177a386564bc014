package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPEngine calls a remote late-interaction embedding server over HTTP,
// the production counterpart to DeterministicEngine. Requests/responses
// follow the same OpenAI-embeddings-style envelope the teacher's
// internal/embedding and internal/embeddings clients use, generalized
// from a flat `embedding: []float32` field to a multi-vector
// `embedding: [][]float32` field (one row per token) to carry a T×D
// tensor per item instead of one vector per item.
type HTTPEngine struct {
	BaseURL   string
	Model     string
	APIKey    string
	APIHeader string // e.g. "Authorization"; defaults to "Authorization"
	Timeout   time.Duration
	HTTPClient *http.Client

	device    Device
	precision Precision
}

// NewHTTPEngine constructs an engine targeting a remote embedding
// endpoint already negotiated to device/precision (the teacher's
// clientEmbedder likewise takes the device/model decision as given,
// config rather than a runtime capability probe it performs itself).
func NewHTTPEngine(baseURL, model, apiKey string, device Device, precision Precision) *HTTPEngine {
	return &HTTPEngine{
		BaseURL:    baseURL,
		Model:      model,
		APIKey:     apiKey,
		APIHeader:  "Authorization",
		Timeout:    30 * time.Second,
		HTTPClient: http.DefaultClient,
		device:     device,
		precision:  normalizePrecision(precision),
	}
}

func (e *HTTPEngine) Device() Device       { return e.device }
func (e *HTTPEngine) Precision() Precision { return e.precision }

type embedRequest struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	InputKind      string   `json:"input_kind"` // "text" | "image_base64"
	EncodingFormat string   `json:"encoding_format"`
	Precision      string   `json:"precision"`
}

type embedResponseItem struct {
	Embedding [][]float32 `json:"embedding"`
	Index     int         `json:"index"`
}

type embedResponse struct {
	Data []embedResponseItem `json:"data"`
}

func (e *HTTPEngine) call(ctx context.Context, inputs []string, inputKind string) ([]Tensor, error) {
	if len(inputs) == 0 {
		return nil, ErrEmptyBatch
	}
	body, err := json.Marshal(embedRequest{
		Model:          e.Model,
		Input:          inputs,
		InputKind:      inputKind,
		EncodingFormat: "float",
		Precision:      string(e.precision),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, e.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w", err)
	}
	if e.APIKey != "" {
		if e.APIHeader == "Authorization" {
			req.Header.Set("Authorization", "Bearer "+e.APIKey)
		} else {
			req.Header.Set(e.APIHeader, e.APIKey)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	client := e.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embedding: read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("embedding: server returned %s: %s", resp.Status, string(bodyBytes))
	}

	var parsed embedResponse
	if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
		return nil, fmt.Errorf("embedding: parse response (input count %d): %w", len(inputs), err)
	}
	if len(parsed.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding: unexpected item count: got %d, want %d", len(parsed.Data), len(inputs))
	}
	out := make([]Tensor, len(parsed.Data))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(out) {
			return nil, fmt.Errorf("embedding: response index %d out of range", item.Index)
		}
		rows := make(Tensor, len(item.Embedding))
		for i, row := range item.Embedding {
			cp := make([]float32, len(row))
			copy(cp, row)
			l2Normalize(cp)
			rows[i] = cp
		}
		out[item.Index] = rows
	}
	return out, nil
}

func (e *HTTPEngine) EmbedImages(ctx context.Context, images [][]byte, batchSize int) ([]Tensor, error) {
	encoded := make([]string, len(images))
	for i, img := range images {
		encoded[i] = base64.StdEncoding.EncodeToString(img)
	}
	return e.embedBatched(ctx, encoded, "image_base64", batchSize)
}

func (e *HTTPEngine) EmbedText(ctx context.Context, texts []string, batchSize int) ([]Tensor, error) {
	return e.embedBatched(ctx, texts, "text", batchSize)
}

func (e *HTTPEngine) EmbedQuery(ctx context.Context, text string) (Tensor, error) {
	out, err := e.call(ctx, []string{text}, "text")
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (e *HTTPEngine) embedBatched(ctx context.Context, inputs []string, kind string, batchSize int) ([]Tensor, error) {
	if batchSize <= 0 {
		batchSize = len(inputs)
	}
	out := make([]Tensor, 0, len(inputs))
	for start := 0; start < len(inputs); start += batchSize {
		end := start + batchSize
		if end > len(inputs) {
			end = len(inputs)
		}
		batch, err := e.call(ctx, inputs[start:end], kind)
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

// CheckReachability mirrors the teacher's embedding.CheckReachability: a
// small real request against the endpoint to confirm it is up, used by
// health checks rather than every embed call.
func (e *HTTPEngine) CheckReachability(ctx context.Context) error {
	_, err := e.EmbedQuery(ctx, "ping")
	if err != nil {
		return fmt.Errorf("embedding: reachability check failed: %w", err)
	}
	return nil
}

package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Options configures the HTTP generation client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// Client performs HTTP calls to the remote photo generation API.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	log        *slog.Logger
}

type generationPayload struct {
	Model      string          `json:"model"`
	Prompt     string          `json:"prompt"`
	Variations int             `json:"n"`
	Settings   json.RawMessage `json:"settings,omitempty"`
	Reference  referenceImage  `json:"reference_image"`
	RequestID  string          `json:"request_id,omitempty"`
}

type referenceImage struct {
	MIME string `json:"mime"`
	Data string `json:"data"`
}

type generationResult struct {
	Images []struct {
		MIME string `json:"mime"`
		Data string `json:"data"`
	} `json:"images"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "framelight-v2"
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		model:      model,
		httpClient: httpClient,
		log:        log,
	}
}

var _ Generator = (*Client)(nil)

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Generate invokes the remote API once and returns the generated images.
func (c *Client) Generate(ctx context.Context, req Request) ([]Image, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, errors.New("provider: prompt is required")
	}
	if len(req.Composite) == 0 {
		return nil, errors.New("provider: reference image is required")
	}
	model := req.Model
	if model == "" {
		model = c.model
	}
	variations := req.Variations
	if variations <= 0 {
		variations = 1
	}

	payload := generationPayload{
		Model:      model,
		Prompt:     prompt,
		Variations: variations,
		Settings:   json.RawMessage(req.StyleSettings),
		Reference: referenceImage{
			MIME: req.CompositeMIME,
			Data: base64.StdEncoding.EncodeToString(req.Composite),
		},
		RequestID: req.RequestID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("provider: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generations", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("provider: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("provider: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var detail generationResult
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Message != "" {
			return nil, fmt.Errorf("provider: %s (%s)", detail.Message, detail.Code)
		}
		return nil, fmt.Errorf("provider: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var decoded generationResult
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("provider: decode response: %w", err)
	}
	if decoded.Code != "" {
		return nil, fmt.Errorf("provider: %s (%s)", decoded.Message, decoded.Code)
	}
	if len(decoded.Images) == 0 {
		return nil, errors.New("provider: response contained no images")
	}

	images := make([]Image, 0, len(decoded.Images))
	for _, img := range decoded.Images {
		data, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil {
			return nil, fmt.Errorf("provider: decode image payload: %w", err)
		}
		mime := img.MIME
		if mime == "" {
			mime = "image/png"
		}
		images = append(images, Image{Data: data, MIME: mime})
	}
	c.log.Debug("provider call succeeded",
		"model", model, "request_id", decoded.RequestID, "images", len(images))
	return images, nil
}

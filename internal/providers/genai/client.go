// Package genai is a small client for the Gemini generateContent API, limited
// to the single-document prompts the AI tools send.
package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"docify/internal/infra"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-1.5-flash"

	maxErrorBody = 4 << 10
)

var (
	ErrMissingAPIKey = errors.New("GEMINI_API_KEY is not configured")
	ErrNoContent     = errors.New("gemini returned no text content")
)

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gemini status %d", e.StatusCode)
	}
	return fmt.Sprintf("gemini status %d: %s", e.StatusCode, e.Message)
}

type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature *float64
	MaxTokens   int
	HTTPClient  *http.Client
	Logger      *infra.Logger
}

type Client struct {
	apiKey   string
	endpoint string
	model    string
	gen      *generationConfig
	http     *http.Client
	logger   *infra.Logger
}

// DocumentRequest asks the model to act on one attached document.
type DocumentRequest struct {
	Prompt            string
	SystemInstruction string
	MimeType          string
	Data              []byte
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts,omitempty"`
}

type part struct {
	Text   string `json:"text,omitempty"`
	Inline *blob  `json:"inlineData,omitempty"`
}

type blob struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type generateRequest struct {
	System   *content          `json:"systemInstruction,omitempty"`
	Contents []content         `json:"contents"`
	Config   *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason,omitempty"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback"`
}

// NewClient fills in the public endpoint, a default model and an HTTP client
// whose timeout leaves room for large inline uploads.
func NewClient(opts Options) *Client {
	c := &Client{
		apiKey: strings.TrimSpace(opts.APIKey),
		model:  strings.TrimSpace(opts.Model),
		http:   opts.HTTPClient,
		logger: opts.Logger,
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if c.model == "" {
		c.model = defaultModel
	}
	c.endpoint = fmt.Sprintf("%s/models/%s:generateContent", base, url.PathEscape(c.model))
	if c.http == nil {
		c.http = &http.Client{Timeout: 2 * time.Minute}
	}
	if c.logger == nil {
		nop := infra.NopLogger()
		c.logger = &nop
	}
	if opts.Temperature != nil || opts.MaxTokens > 0 {
		c.gen = &generationConfig{Temperature: opts.Temperature, MaxOutputTokens: opts.MaxTokens}
	}
	return c
}

func (c *Client) Model() string { return c.model }

func (c *Client) Configured() bool { return c.apiKey != "" }

// GenerateText sends the document inline and returns the text of the first
// candidate that has any.
func (c *Client) GenerateText(ctx context.Context, req DocumentRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.apiKey == "" {
		return "", ErrMissingAPIKey
	}

	body := generateRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{Text: req.Prompt},
				{Inline: &blob{MimeType: req.MimeType, Data: base64.StdEncoding.EncodeToString(req.Data)}},
			},
		}},
		Config: c.gen,
	}
	if sys := strings.TrimSpace(req.SystemInstruction); sys != "" {
		body.System = &content{Parts: []part{{Text: sys}}}
	}

	started := time.Now()
	var resp generateResponse
	if err := c.post(ctx, body, &resp); err != nil {
		return "", err
	}
	if reason := resp.PromptFeedback.BlockReason; reason != "" {
		return "", fmt.Errorf("gemini blocked the prompt: %s", strings.ToLower(reason))
	}
	text := candidateText(resp)
	if text == "" {
		return "", ErrNoContent
	}

	c.logger.Debug().
		Str("model", c.model).
		Str("mime_type", req.MimeType).
		Int("bytes_in", len(req.Data)).
		Int("chars_out", len(text)).
		Dur("took", time.Since(started)).
		Msg("genai: generateContent")
	return text, nil
}

func candidateText(resp generateResponse) string {
	for _, cand := range resp.Candidates {
		var sb strings.Builder
		for _, p := range cand.Content.Parts {
			sb.WriteString(p.Text)
		}
		if sb.Len() > 0 {
			return sb.String()
		}
	}
	return ""
}

func (c *Client) post(ctx context.Context, payload, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("genai: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("genai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("genai: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("genai: decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &envelope) == nil && envelope.Error.Message != "" {
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

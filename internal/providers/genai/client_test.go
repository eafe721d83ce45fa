package genai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGenerateTextRequiresKey(t *testing.T) {
	c := NewClient(Options{})
	if c.Configured() {
		t.Fatal("Configured() = true without a key")
	}
	if _, err := c.GenerateText(context.Background(), DocumentRequest{Prompt: "x"}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("GenerateText() error = %v, want ErrMissingAPIKey", err)
	}
}

func TestGenerateTextSendsInlineDocument(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/test-model:generateContent" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "secret" || r.URL.Query().Has("key") {
			t.Errorf("api key not sent as header only")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[]}},{"content":{"parts":[{"text":"hello "},{"text":"world"}]}}]}`))
	}))
	defer srv.Close()

	temp := 0.2
	c := NewClient(Options{APIKey: " secret ", BaseURL: srv.URL + "/", Model: "test-model", Temperature: &temp, MaxTokens: 512})
	text, err := c.GenerateText(context.Background(), DocumentRequest{
		Prompt:            "extract",
		SystemInstruction: "be precise",
		MimeType:          "application/pdf",
		Data:              []byte("%PDF"),
	})
	if err != nil {
		t.Fatalf("GenerateText() error = %v", err)
	}
	if text != "hello world" {
		t.Fatalf("GenerateText() = %q, want %q", text, "hello world")
	}

	if len(got.Contents) != 1 || len(got.Contents[0].Parts) != 2 || got.Contents[0].Parts[0].Text != "extract" {
		t.Fatalf("unexpected contents: %+v", got.Contents)
	}
	inline := got.Contents[0].Parts[1].Inline
	if inline == nil || inline.MimeType != "application/pdf" || inline.Data != base64.StdEncoding.EncodeToString([]byte("%PDF")) {
		t.Fatalf("inline data = %+v", inline)
	}
	if got.System == nil || got.System.Parts[0].Text != "be precise" {
		t.Fatalf("system instruction = %+v", got.System)
	}
	if got.Config == nil || got.Config.MaxOutputTokens != 512 || got.Config.Temperature == nil || *got.Config.Temperature != 0.2 {
		t.Fatalf("generation config = %+v", got.Config)
	}
}

func TestGenerateTextErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{
			name:   "api error message",
			status: http.StatusForbidden,
			body:   `{"error":{"code":403,"message":"API key not valid"}}`,
			check: func(err error) bool {
				var apiErr *APIError
				return errors.As(err, &apiErr) && apiErr.StatusCode == 403 && apiErr.Message == "API key not valid"
			},
		},
		{
			name:   "plain text error",
			status: http.StatusBadGateway,
			body:   "upstream down\n",
			check:  func(err error) bool { return err != nil && strings.HasSuffix(err.Error(), ": upstream down") },
		},
		{
			name:   "no candidates",
			status: http.StatusOK,
			body:   `{"candidates":[]}`,
			check:  func(err error) bool { return errors.Is(err, ErrNoContent) },
		},
		{
			name:   "blocked prompt",
			status: http.StatusOK,
			body:   `{"promptFeedback":{"blockReason":"SAFETY"}}`,
			check:  func(err error) bool { return err != nil && strings.Contains(err.Error(), "safety") },
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := NewClient(Options{APIKey: "k", BaseURL: srv.URL})
			_, err := c.GenerateText(context.Background(), DocumentRequest{Prompt: "x"})
			if !tc.check(err) {
				t.Fatalf("GenerateText() error = %v", err)
			}
		})
	}
}

func TestDefaults(t *testing.T) {
	c := NewClient(Options{APIKey: "k"})
	if c.Model() != defaultModel {
		t.Fatalf("Model() = %q", c.Model())
	}
	if !strings.HasPrefix(c.endpoint, defaultBaseURL+"/models/") || c.gen != nil {
		t.Fatalf("endpoint = %q gen = %+v", c.endpoint, c.gen)
	}
}

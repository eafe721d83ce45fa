package convert

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"docify/internal/domain"
	"docify/internal/providers/genai"
)

type recordingAI struct {
	reqs  []genai.DocumentRequest
	reply string
}

func (r *recordingAI) GenerateText(_ context.Context, req genai.DocumentRequest) (string, error) {
	r.reqs = append(r.reqs, req)
	return r.reply, nil
}

func TestTranslatePromptUsesLanguageName(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "letter.pdf", "%PDF")
	ai := &recordingAI{reply: "Bonjour"}
	r := New(Config{AI: ai})

	out := filepath.Join(dir, "out.txt")
	execute(t, r, "translate-doc", []string{in}, out, domain.Options{"targetLanguage": "fr"})

	if len(ai.reqs) != 1 {
		t.Fatalf("got %d AI calls, want 1", len(ai.reqs))
	}
	if !strings.Contains(ai.reqs[0].Prompt, "into French") {
		t.Fatalf("prompt = %q", ai.reqs[0].Prompt)
	}
	if ai.reqs[0].MimeType != "application/pdf" {
		t.Fatalf("mime type = %q", ai.reqs[0].MimeType)
	}
	if got := readFile(t, out); got != "Bonjour" {
		t.Fatalf("output = %q", got)
	}
}

func TestSmartConvertStripsFence(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "notes.docx", "PK")
	ai := &recordingAI{reply: "```json\n{\"a\": 1}\n```"}
	r := New(Config{AI: ai})

	out := filepath.Join(dir, "out.json")
	execute(t, r, "smart-convert", []string{in}, out, domain.Options{"targetFormat": "json"})

	if got := readFile(t, out); got != "{\"a\": 1}\n" {
		t.Fatalf("output = %q", got)
	}
	if ai.reqs[0].SystemInstruction == "" {
		t.Fatalf("smart-convert sent no system instruction")
	}
}

func TestStripFence(t *testing.T) {
	tests := map[string]string{
		"plain":                "plain",
		"```\nx\n```":          "x\n",
		"  ```csv\na,b\n```  ": "a,b\n",
		"```":                  "```",
	}
	for in, want := range tests {
		if got := stripFence(in); got != want {
			t.Fatalf("stripFence(%q) = %q, want %q", in, got, want)
		}
	}
}

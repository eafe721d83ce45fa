package convert

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"docify/internal/domain"
	"docify/internal/providers/genai"
)

// TextGenerator answers a prompt about an attached document.
type TextGenerator interface {
	GenerateText(ctx context.Context, req genai.DocumentRequest) (string, error)
}

const (
	ToolInvoiceToData      ToolID = "invoice-to-data"
	ToolReceiptToCSV       ToolID = "receipt-to-csv"
	ToolHandwritingToText  ToolID = "handwriting-to-text"
	ToolOCRPDF             ToolID = "ocr-pdf"
	ToolTranslateDoc       ToolID = "translate-doc"
	ToolUnstructuredToJSON ToolID = "unstructured-to-json"
	ToolSmartConvert       ToolID = "smart-convert"
)

var aiPrompts = map[ToolID]string{
	ToolInvoiceToData:      "Extract all data from this invoice and return it as a clean JSON object. Include fields like invoice_number, date, vendor_name, total_amount, tax, and item_list.",
	ToolReceiptToCSV:       "Extract all items from this receipt and return them in CSV format. Include Columns: Date, Item, Quantity, Price.",
	ToolHandwritingToText:  "Transcribe the handwriting in this image into clear, formatted digital text.",
	ToolOCRPDF:             "Extract all text from this document, maintaining the structure as much as possible.",
	ToolUnstructuredToJSON: "Parse this document and restructure it into a professional JSON format based on its contents.",
}

const smartConvertInstruction = `You are a document conversion engine. Infer the structure of the attached file and convert it into the requested target format with maximum structural and semantic fidelity.
Reconstruct headings, tables, lists and hierarchy. Structured targets (JSON, XML, CSV, YAML, Markdown, HTML) must be syntactically valid.
Never invent missing content. Mark unreadable or ambiguous parts as [UNREADABLE], [MISSING] or [ESTIMATED].
Output only the converted content, with no commentary and no code fences.`

// smartTargets maps accepted targetFormat values to file extensions. Only
// text formats are accepted because the model answers in text.
var smartTargets = map[string]string{
	"json":     ".json",
	"csv":      ".csv",
	"xml":      ".xml",
	"yaml":     ".yaml",
	"yml":      ".yaml",
	"markdown": ".md",
	"md":       ".md",
	"html":     ".html",
	"text":     ".txt",
	"txt":      ".txt",
}

func normalizeTarget(opts domain.Options) string {
	return strings.TrimPrefix(strings.ToLower(opts.String("targetFormat", "")), ".")
}

// targetLanguageName resolves a BCP-47 tag to its English name, or accepts a
// plain language name as given.
func targetLanguageName(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "English", nil
	}
	if tag, err := language.Parse(raw); err == nil {
		if name := display.English.Tags().Name(tag); name != "" {
			return name, nil
		}
	}
	for _, r := range raw {
		if !(r == ' ' || r == '-' || r == '(' || r == ')' || ('a' <= r|0x20 && r|0x20 <= 'z')) {
			return "", fmt.Errorf("targetLanguage %q is neither a language tag nor a language name", raw)
		}
	}
	return raw, nil
}

// aiConverter builds the generic converter for a Gemini-backed tool.
func aiConverter(gen TextGenerator, id ToolID) converter {
	c := converter{kind: "ai"}
	switch id {
	case ToolInvoiceToData:
		c.ext = fixedExt(".json")
	case ToolHandwritingToText, ToolOCRPDF, ToolTranslateDoc:
		c.ext = fixedExt(".txt")
	case ToolSmartConvert:
		c.ext = func(opts domain.Options) string { return smartTargets[normalizeTarget(opts)] }
		c.validate = func(opts domain.Options) error {
			target := normalizeTarget(opts)
			if target == "" {
				return fmt.Errorf("%w: targetFormat is required", domain.ErrValidation)
			}
			if _, ok := smartTargets[target]; !ok {
				return fmt.Errorf("%w: unsupported targetFormat %q", domain.ErrValidation, target)
			}
			return nil
		}
	}
	if id == ToolTranslateDoc {
		c.validate = func(opts domain.Options) error {
			if _, err := targetLanguageName(opts.String("targetLanguage", "")); err != nil {
				return fmt.Errorf("%w: %v", domain.ErrValidation, err)
			}
			return nil
		}
	}

	c.run = func(ctx context.Context, in, out string, opts domain.Options) error {
		req, err := aiRequest(id, in, opts)
		if err != nil {
			return err
		}
		text, err := gen.GenerateText(ctx, req)
		if err != nil {
			return fmt.Errorf("AI processing failed: %w", err)
		}
		if ext := filepath.Ext(out); ext != ".txt" && ext != ".md" {
			text = stripFence(text)
		}
		return os.WriteFile(out, []byte(text), 0o644)
	}
	return c
}

func aiRequest(id ToolID, in string, opts domain.Options) (genai.DocumentRequest, error) {
	data, err := os.ReadFile(in)
	if err != nil {
		return genai.DocumentRequest{}, err
	}
	req := genai.DocumentRequest{MimeType: mimeTypeOf(in), Data: data}
	switch id {
	case ToolTranslateDoc:
		lang, err := targetLanguageName(opts.String("targetLanguage", ""))
		if err != nil {
			return genai.DocumentRequest{}, err
		}
		req.Prompt = fmt.Sprintf("Translate this document into %s while preserving its formatting and core meaning.", lang)
	case ToolSmartConvert:
		req.Prompt = fmt.Sprintf("Convert the attached file to %s format. Follow the system instructions precisely.", normalizeTarget(opts))
		req.SystemInstruction = smartConvertInstruction
	default:
		req.Prompt = aiPrompts[id]
	}
	return req, nil
}

func fixedExt(ext string) func(domain.Options) string {
	return func(domain.Options) string { return ext }
}

func mimeTypeOf(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".pptx":
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	case ".md":
		return "text/markdown"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if base, _, err := mime.ParseMediaType(t); err == nil {
			return base
		}
		return t
	}
	return "application/octet-stream"
}

// stripFence removes a surrounding ``` block that models often add.
func stripFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") || !strings.HasSuffix(trimmed, "```") || len(trimmed) < 6 {
		return text
	}
	body := strings.TrimSuffix(strings.TrimPrefix(trimmed, "```"), "```")
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	}
	return strings.TrimSpace(body) + "\n"
}

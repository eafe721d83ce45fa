package convert

import (
	"context"
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"docify/internal/domain"
)

// pageText is the plain text of one PDF page.
type pageText struct {
	Number int
	Text   string
}

// extractPages reads the text layer page by page. Pages without content are
// reported with empty text so numbering stays aligned.
func extractPages(ctx context.Context, path string, progress ProgressFunc) ([]pageText, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	total := r.NumPage()
	pages := make([]pageText, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, pageText{Number: i})
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract text from page %d: %w", i, err)
		}
		pages = append(pages, pageText{Number: i, Text: strings.TrimSpace(text)})
		report(progress, i*80/total)
	}
	return pages, nil
}

type textExport struct {
	suffix string
	ext    string
	write  func(out string, pages []pageText) error
}

func (textExport) Validate(int, domain.Options) error { return nil }

func (t textExport) Output(domain.Options) OutputSpec {
	return OutputSpec{Suffix: t.suffix, Ext: t.ext}
}

func (t textExport) Execute(ctx context.Context, req Request, progress ProgressFunc) (Result, error) {
	in, err := firstInput(req)
	if err != nil {
		return Result{}, err
	}
	pages, err := extractPages(ctx, in, progress)
	if err != nil {
		return Result{}, err
	}
	if err := t.write(req.Output, pages); err != nil {
		return Result{}, err
	}
	report(progress, 100)
	return Result{Path: req.Output}, nil
}

func pagesToCSV() textExport {
	return textExport{suffix: "table", ext: ".csv", write: writePagesCSV}
}

func pagesToXML() textExport {
	return textExport{suffix: "document", ext: ".xml", write: writePagesXML}
}

func pagesToText() textExport {
	return textExport{suffix: "text", ext: ".txt", write: writePagesText}
}

func writePagesCSV(out string, pages []pageText) (err error) {
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"Page", "Text Content"}); err != nil {
		return err
	}
	for _, p := range pages {
		if err := w.Write([]string{fmt.Sprint(p.Number), p.Text}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

type xmlDocument struct {
	XMLName xml.Name  `xml:"pdf"`
	Pages   []xmlPage `xml:"page"`
}

type xmlPage struct {
	Number int    `xml:"number,attr"`
	Text   string `xml:"text"`
}

func writePagesXML(out string, pages []pageText) (err error) {
	doc := xmlDocument{Pages: make([]xmlPage, len(pages))}
	for i, p := range pages {
		doc.Pages[i] = xmlPage{Number: p.Number, Text: p.Text}
	}

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create xml: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	if _, err := f.WriteString(xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(f)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode xml: %w", err)
	}
	return enc.Close()
}

func writePagesText(out string, pages []pageText) error {
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = p.Text
	}
	return os.WriteFile(out, []byte(strings.Join(parts, "\n\n")+"\n"), 0o644)
}

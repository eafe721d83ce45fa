package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/nguyenthenguyen/docx"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"docify/internal/domain"
)

const (
	xmlAttrKey = "$"
	xmlTextKey = "_"
)

// decodeOrderedJSON decodes any JSON value, representing objects as records
// so key order survives.
func decodeOrderedJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeOrderedValue(dec)
	if err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("parse json: trailing data after top-level value")
	}
	return v, nil
}

func decodeOrderedValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch tok {
	case json.Delim('{'):
		rec := newRecord()
		for dec.More() {
			kt, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, _ := kt.(string)
			v, err := decodeOrderedValue(dec)
			if err != nil {
				return nil, err
			}
			rec.set(key, v)
		}
		_, err := dec.Token()
		return rec, err
	case json.Delim('['):
		items := []any{}
		for dec.More() {
			v, err := decodeOrderedValue(dec)
			if err != nil {
				return nil, err
			}
			items = append(items, v)
		}
		_, err := dec.Token()
		return items, err
	default:
		return tok, nil
	}
}

// xmlToJSON maps elements the way xml2js does by default: attributes under
// "$", mixed text under "_", children always as arrays and the root kept.
func xmlToJSON(_ context.Context, in, out string, _ domain.Options) error {
	f, err := os.Open(in)
	if err != nil {
		return err
	}
	defer f.Close()

	type frame struct {
		name     string
		attrs    []xml.Attr
		text     strings.Builder
		children *record
	}
	var stack []*frame
	var root *record

	dec := xml.NewDecoder(f)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("parse xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, &frame{name: qualifiedName(t.Name), attrs: t.Attr, children: newRecord()})
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		case xml.EndElement:
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			text := top.text.String()
			if strings.TrimSpace(text) == "" {
				text = ""
			}
			var value any = text
			if len(top.attrs) > 0 || len(top.children.keys) > 0 {
				rec := newRecord()
				if len(top.attrs) > 0 {
					attrs := newRecord()
					for _, a := range top.attrs {
						attrs.set(qualifiedName(a.Name), a.Value)
					}
					rec.set(xmlAttrKey, attrs)
				}
				if text != "" {
					rec.set(xmlTextKey, text)
				}
				for _, k := range top.children.keys {
					rec.set(k, top.children.values[k])
				}
				value = rec
			}

			if len(stack) == 0 {
				root = newRecord()
				root.set(top.name, value)
				continue
			}
			parent := stack[len(stack)-1].children
			items, _ := parent.values[top.name].([]any)
			parent.set(top.name, append(items, value))
		}
	}
	if root == nil {
		return errors.New("parse xml: no root element")
	}
	return writeJSON(out, root)
}

func qualifiedName(n xml.Name) string {
	if n.Space == "xmlns" {
		return "xmlns:" + n.Local
	}
	return n.Local
}

// jsonToXML is the inverse mapping. A single top-level key names the root
// element; anything else is wrapped in <root>.
func jsonToXML(_ context.Context, in, out string, _ domain.Options) error {
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	v, err := decodeOrderedJSON(data)
	if err != nil {
		return err
	}

	rootName := "root"
	if rec, ok := v.(*record); ok && len(rec.keys) == 1 && rec.keys[0] != xmlAttrKey && rec.keys[0] != xmlTextKey {
		rootName = rec.keys[0]
		v = rec.values[rootName]
	}

	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n")
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := encodeXMLValue(enc, rootName, v); err != nil {
		return fmt.Errorf("encode xml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	buf.WriteByte('\n')
	return os.WriteFile(out, buf.Bytes(), 0o644)
}

func encodeXMLValue(enc *xml.Encoder, name string, v any) error {
	if items, ok := v.([]any); ok {
		for _, item := range items {
			if err := encodeXMLValue(enc, name, item); err != nil {
				return err
			}
		}
		return nil
	}

	start := xml.StartElement{Name: xml.Name{Local: xmlName(name)}}
	rec, isRecord := v.(*record)
	if isRecord {
		if attrs, ok := rec.values[xmlAttrKey].(*record); ok {
			for _, k := range attrs.keys {
				start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: xmlName(k)}, Value: cellText(attrs.values[k])})
			}
		}
	}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if isRecord {
		if text, ok := rec.values[xmlTextKey]; ok {
			if err := enc.EncodeToken(xml.CharData(cellText(text))); err != nil {
				return err
			}
		}
		for _, k := range rec.keys {
			if k == xmlAttrKey || k == xmlTextKey {
				continue
			}
			if err := encodeXMLValue(enc, k, rec.values[k]); err != nil {
				return err
			}
		}
	} else if v != nil {
		if err := enc.EncodeToken(xml.CharData(cellText(v))); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

// xmlName replaces characters that cannot appear in an element name.
func xmlName(s string) string {
	if s == "" {
		return "item"
	}
	var b strings.Builder
	for i, r := range s {
		valid := unicode.IsLetter(r) || r == '_' || r == ':' ||
			(i > 0 && (unicode.IsDigit(r) || r == '-' || r == '.'))
		if valid {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func htmlToMarkdown(_ context.Context, in, out string, _ domain.Options) error {
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(string(data))
	if err != nil {
		return fmt.Errorf("convert html: %w", err)
	}
	return os.WriteFile(out, []byte(markdown), 0o644)
}

var markdownRenderer = goldmark.New(goldmark.WithExtensions(extension.GFM))

func markdownToHTML(_ context.Context, in, out string, _ domain.Options) error {
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := markdownRenderer.Convert(data, &buf); err != nil {
		return fmt.Errorf("render markdown: %w", err)
	}
	return os.WriteFile(out, buf.Bytes(), 0o644)
}

// wordParagraph is one w:p of a document body.
type wordParagraph struct {
	style  string
	listed bool
	text   string
}

// readWordParagraphs walks word/document.xml of a .docx.
func readWordParagraphs(path string) ([]wordParagraph, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return nil, fmt.Errorf("read docx: %w", err)
	}
	defer doc.Close()

	dec := xml.NewDecoder(strings.NewReader(doc.Editable().GetContent()))
	var (
		paragraphs []wordParagraph
		current    *wordParagraph
		text       strings.Builder
		inText     bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse docx body: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				current = &wordParagraph{}
				text.Reset()
			case "pStyle":
				if current != nil {
					current.style = attrValue(t, "val")
				}
			case "numPr":
				if current != nil {
					current.listed = true
				}
			case "t":
				inText = true
			case "tab":
				text.WriteByte('\t')
			case "br", "cr":
				text.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if current != nil {
					current.text = text.String()
					paragraphs = append(paragraphs, *current)
					current = nil
				}
			}
		case xml.CharData:
			if inText {
				text.Write(t)
			}
		}
	}
	return paragraphs, nil
}

func attrValue(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

func wordToText(_ context.Context, in, out string, _ domain.Options) error {
	paragraphs, err := readWordParagraphs(in)
	if err != nil {
		return err
	}
	lines := make([]string, len(paragraphs))
	for i, p := range paragraphs {
		lines[i] = p.text
	}
	return os.WriteFile(out, []byte(strings.Join(lines, "\n")+"\n"), 0o644)
}

func wordToMarkdown(_ context.Context, in, out string, _ domain.Options) error {
	paragraphs, err := readWordParagraphs(in)
	if err != nil {
		return err
	}
	var blocks []string
	for _, p := range paragraphs {
		text := strings.TrimSpace(p.text)
		if text == "" {
			continue
		}
		blocks = append(blocks, markdownPrefix(p)+text)
	}
	return os.WriteFile(out, []byte(strings.Join(blocks, "\n\n")+"\n"), 0o644)
}

func markdownPrefix(p wordParagraph) string {
	style := strings.ToLower(p.style)
	switch {
	case style == "title":
		return "# "
	case strings.HasPrefix(style, "heading") && len(style) == len("heading")+1:
		level := int(style[len(style)-1] - '0')
		if level >= 1 && level <= 6 {
			return strings.Repeat("#", level) + " "
		}
	case p.listed || strings.HasPrefix(style, "listparagraph"):
		return "- "
	}
	return ""
}

package convert

import (
	"context"
	"fmt"
	"strings"

	"docify/internal/domain"
)

// convertFunc transforms one input file into out.
type convertFunc func(ctx context.Context, in, out string, opts domain.Options) error

// converter is a universal conversion keyed by exact tool id.
type converter struct {
	kind     string
	ext      func(domain.Options) string
	validate func(domain.Options) error
	run      convertFunc
}

// genericHandler serves every tool without a dedicated handler. It derives
// the output extension from the tool id, runs a universal converter when
// one is registered and otherwise copies the first input unchanged.
type genericHandler struct {
	converters map[ToolID]converter
}

func newGenericHandler() *genericHandler {
	return &genericHandler{converters: make(map[ToolID]converter)}
}

func (g *genericHandler) add(kind string, id ToolID, run convertFunc) {
	g.converters[id] = converter{kind: kind, run: run}
}

// Knows reports whether id has a universal converter.
func (g *genericHandler) Knows(id ToolID) bool {
	_, ok := g.converters[id]
	return ok
}

func (g *genericHandler) forTool(id ToolID) Handler {
	return genericTool{g: g, id: id}
}

func (g *genericHandler) extension(id ToolID, opts domain.Options) string {
	if c, ok := g.converters[id]; ok && c.ext != nil {
		if ext := c.ext(opts); ext != "" {
			return ext
		}
	}
	return conventionExt(string(id))
}

type extRule struct {
	markers []string
	ext     string
}

// extRules is ordered; the first matching marker wins.
var extRules = []extRule{
	{[]string{"-to-csv"}, ".csv"},
	{[]string{"-to-json"}, ".json"},
	{[]string{"-to-xml"}, ".xml"},
	{[]string{"-to-yaml"}, ".yaml"},
	{[]string{"-to-webp"}, ".webp"},
	{[]string{"-to-jpg", "-to-jpeg", "-to-image"}, ".jpg"},
	{[]string{"-to-png"}, ".png"},
	{[]string{"-to-markdown", "-to-md"}, ".md"},
	{[]string{"-to-html", "-to-markup"}, ".html"},
	{[]string{"-to-ppt", "-to-slideshow"}, ".pptx"},
	{[]string{"-to-word", "-to-document"}, ".docx"},
	{[]string{"-to-text", "-to-txt"}, ".txt"},
	{[]string{"-to-excel", "-to-spreadsheet"}, ".xlsx"},
}

// conventionExt maps a tool id to the extension implied by its "-to-"
// target, defaulting to .pdf.
func conventionExt(tool string) string {
	tool = strings.ToLower(tool)
	for _, rule := range extRules {
		for _, m := range rule.markers {
			if strings.Contains(tool, m) {
				return rule.ext
			}
		}
	}
	return ".pdf"
}

// genericTool binds the generic handler to one tool id.
type genericTool struct {
	g  *genericHandler
	id ToolID
}

func (t genericTool) Validate(_ int, opts domain.Options) error {
	if c, ok := t.g.converters[t.id]; ok && c.validate != nil {
		return c.validate(opts)
	}
	return nil
}

func (t genericTool) Output(opts domain.Options) OutputSpec {
	return OutputSpec{Suffix: "converted", Ext: t.g.extension(t.id, opts)}
}

func (t genericTool) Execute(ctx context.Context, req Request, progress ProgressFunc) (Result, error) {
	in, err := firstInput(req)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	report(progress, 10)

	c, ok := t.g.converters[t.id]
	if !ok {
		if err := copyFile(in, req.Output); err != nil {
			return Result{}, fmt.Errorf("passthrough: %w", err)
		}
		report(progress, 100)
		return Result{Path: req.Output}, nil
	}

	if err := c.run(ctx, in, req.Output, req.Options); err != nil {
		return Result{}, fmt.Errorf("%s: %w", t.id, err)
	}
	report(progress, 100)
	return Result{Path: req.Output}, nil
}

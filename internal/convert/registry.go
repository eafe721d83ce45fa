package convert

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"docify/internal/domain"
)

// ToolID names a conversion tool as it appears in /api/process/{tool}.
type ToolID string

const (
	ToolMerge       ToolID = "merge"
	ToolCombine     ToolID = "combine"
	ToolSplit       ToolID = "split"
	ToolPartition   ToolID = "partition"
	ToolCompress    ToolID = "compress"
	ToolShrink      ToolID = "shrink"
	ToolRotate      ToolID = "rotate"
	ToolImageToPDF  ToolID = "image-to-pdf"
	ToolImagesToPDF ToolID = "images-to-pdf"
	ToolJPGToPDF    ToolID = "jpg-to-pdf"
	ToolPNGToPDF    ToolID = "png-to-pdf"

	ToolPDFToExcel ToolID = "pdf-to-excel"
	ToolPDFToCSV   ToolID = "pdf-to-csv"
	ToolPDFToXML   ToolID = "pdf-to-xml"
	ToolPDFToText  ToolID = "pdf-to-text"
	ToolPDFToWord  ToolID = "pdf-to-word"
	ToolWordToPDF  ToolID = "word-to-pdf"
	ToolPPTToPDF   ToolID = "ppt-to-pdf"
	ToolExcelToPDF ToolID = "excel-to-pdf"
	ToolPDFToJPG   ToolID = "pdf-to-jpg"

	ToolReorder     ToolID = "reorder"
	ToolDeletePages ToolID = "delete-pages"
	ToolProtect     ToolID = "protect"
	ToolUnlock      ToolID = "unlock"
	ToolWatermark   ToolID = "watermark"
	ToolPageNumbers ToolID = "page-numbers"
	ToolRepair      ToolID = "repair"
	ToolOCR         ToolID = "ocr"
)

// ProgressFunc receives handler progress in the range 0..100.
type ProgressFunc func(percent int)

// Request is a single execution of a handler.
type Request struct {
	Tool    string
	Inputs  []string
	Output  string
	Options domain.Options
}

// Result carries the path actually written. It differs from Request.Output
// only when a handler changes the container, e.g. a single page export.
type Result struct {
	Path string
}

// OutputSpec determines the planned result file name:
// results/{jobID}_{Suffix}{Ext}.
type OutputSpec struct {
	Suffix string
	Ext    string
}

// Handler executes one family of conversions.
type Handler interface {
	Validate(fileCount int, opts domain.Options) error
	Output(opts domain.Options) OutputSpec
	Execute(ctx context.Context, req Request, progress ProgressFunc) (Result, error)
}

// ToolInfo describes a registered tool for GET /api/tools.
type ToolInfo struct {
	ID       string   `json:"id"`
	Aliases  []string `json:"aliases,omitempty"`
	MinFiles int      `json:"minFiles"`
	MaxFiles int      `json:"maxFiles,omitempty"`
	Output   string   `json:"output"`
	Kind     string   `json:"kind"`
}

type entry struct {
	id      ToolID
	aliases []ToolID
	handler Handler
	arity   Arity
	kind    string
}

// Registry maps tool identifiers to handlers.
type Registry struct {
	entries       map[ToolID]*entry
	order         []*entry
	generic       *genericHandler
	rejectUnknown bool
	maxBatch      int
}

// newRegistry creates an empty registry. Unknown tools resolve to the
// generic handler unless rejectUnknown is set.
func newRegistry(generic *genericHandler, rejectUnknown bool, maxBatch int) *Registry {
	return &Registry{
		entries:       make(map[ToolID]*entry),
		generic:       generic,
		rejectUnknown: rejectUnknown,
		maxBatch:      maxBatch,
	}
}

// Register binds a handler under id and any aliases.
func (r *Registry) Register(kind string, id ToolID, arity Arity, h Handler, aliases ...ToolID) {
	e := &entry{id: id, aliases: aliases, handler: h, arity: arity, kind: kind}
	r.entries[id] = e
	for _, alias := range aliases {
		r.entries[alias] = e
	}
	r.order = append(r.order, e)
}

// Resolve returns the handler for tool. Dedicated handlers win, then the
// universal converters; anything else follows the unknown tool policy.
func (r *Registry) Resolve(tool string) (Handler, error) {
	id := ToolID(strings.ToLower(strings.TrimSpace(tool)))
	if id == "" {
		return nil, fmt.Errorf("%w: tool is required", domain.ErrValidation)
	}
	if e, ok := r.entries[id]; ok {
		return &boundHandler{Handler: e.handler, arity: e.arity, maxBatch: r.maxBatch}, nil
	}
	if !r.generic.Knows(id) && r.rejectUnknown {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedTool, tool)
	}
	return &boundHandler{Handler: r.generic.forTool(id), arity: AtLeast(1), maxBatch: r.maxBatch}, nil
}

// Tools lists every registered dedicated handler and universal converter.
func (r *Registry) Tools() []ToolInfo {
	out := make([]ToolInfo, 0, len(r.order)+len(r.generic.converters))
	for _, e := range r.order {
		info := ToolInfo{
			ID:       string(e.id),
			MinFiles: e.arity.Min,
			MaxFiles: e.arity.Max,
			Output:   e.handler.Output(nil).Ext,
			Kind:     e.kind,
		}
		for _, a := range e.aliases {
			info.Aliases = append(info.Aliases, string(a))
		}
		out = append(out, info)
	}
	ids := make([]string, 0, len(r.generic.converters))
	for id := range r.generic.converters {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	for _, id := range ids {
		c := r.generic.converters[ToolID(id)]
		out = append(out, ToolInfo{
			ID:       id,
			MinFiles: 1,
			Output:   r.generic.extension(ToolID(id), nil),
			Kind:     c.kind,
		})
	}
	return out
}

// boundHandler applies the registry arity and batch limits before the
// handler's own option checks.
type boundHandler struct {
	Handler
	arity    Arity
	maxBatch int
}

func (b *boundHandler) Validate(fileCount int, opts domain.Options) error {
	if b.maxBatch > 0 && fileCount > b.maxBatch {
		return fmt.Errorf("%w: at most %d files per job", domain.ErrValidation, b.maxBatch)
	}
	if err := b.arity.Check(fileCount); err != nil {
		return err
	}
	return b.Handler.Validate(fileCount, opts)
}

// Arity bounds the number of input files. Max 0 means unbounded.
type Arity struct {
	Min int
	Max int
}

func AtLeast(n int) Arity { return Arity{Min: n} }

func Exactly(n int) Arity { return Arity{Min: n, Max: n} }

// Check rejects counts outside the bounds. Zero files always fails.
func (a Arity) Check(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: at least one file is required", domain.ErrValidation)
	}
	if n < a.Min {
		return fmt.Errorf("%w: at least %d files are required", domain.ErrValidation, a.Min)
	}
	if a.Max > 0 && n > a.Max {
		if a.Max == 1 {
			return fmt.Errorf("%w: exactly one file is required", domain.ErrValidation)
		}
		return fmt.Errorf("%w: at most %d files are allowed", domain.ErrValidation, a.Max)
	}
	return nil
}

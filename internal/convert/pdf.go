package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"docify/internal/domain"
	"docify/pkg/zip"
)

var disableConfigDir sync.Once

// pdfConfig returns a fresh relaxed configuration. pdfcpu mutates the
// configuration per command, so it is never shared between calls.
func pdfConfig() *model.Configuration {
	disableConfigDir.Do(api.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

func pageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("read page count: %w", err)
	}
	return n, nil
}

type mergeHandler struct{}

func (mergeHandler) Validate(int, domain.Options) error { return nil }

func (mergeHandler) Output(domain.Options) OutputSpec {
	return OutputSpec{Suffix: "merged", Ext: ".pdf"}
}

func (mergeHandler) Execute(ctx context.Context, req Request, progress ProgressFunc) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	report(progress, 20)
	if err := api.MergeCreateFile(req.Inputs, req.Output, false, pdfConfig()); err != nil {
		return Result{}, fmt.Errorf("merge pdf: %w", err)
	}
	report(progress, 100)
	return Result{Path: req.Output}, nil
}

type splitHandler struct{}

const (
	splitAll   = "all"
	splitFixed = "fixed"
	splitRange = "range"
)

func (splitHandler) Validate(_ int, opts domain.Options) error {
	switch mode := opts.String("splitType", splitAll); mode {
	case splitAll:
		return nil
	case splitFixed:
		n, ok := opts.Int("pagesPerFile")
		if !ok || n < 1 {
			return fmt.Errorf("%w: pagesPerFile must be a whole number >= 1", domain.ErrValidation)
		}
		return nil
	case splitRange:
		if _, err := parseRanges(opts.String("ranges", "")); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: splitType must be all, fixed or range, got %q", domain.ErrValidation, mode)
	}
}

func (splitHandler) Output(domain.Options) OutputSpec {
	return OutputSpec{Suffix: "split", Ext: ".zip"}
}

type pageSpan struct{ from, to int }

func (s pageSpan) selector() string {
	if s.from == s.to {
		return strconv.Itoa(s.from)
	}
	return fmt.Sprintf("%d-%d", s.from, s.to)
}

// parseRanges reads "1-3,5,7-9".
func parseRanges(spec string) ([]pageSpan, error) {
	var spans []pageSpan
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		from, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil || from < 1 {
			return nil, fmt.Errorf("invalid range %q", part)
		}
		to := from
		if isRange {
			to, err = strconv.Atoi(strings.TrimSpace(hi))
			if err != nil || to < from {
				return nil, fmt.Errorf("invalid range %q", part)
			}
		}
		spans = append(spans, pageSpan{from: from, to: to})
	}
	if len(spans) == 0 {
		return nil, fmt.Errorf("ranges is required for range splitting")
	}
	return spans, nil
}

// splitPlan groups pages into output parts and names each part.
func splitPlan(opts domain.Options, total int) ([]pageSpan, string, error) {
	switch opts.String("splitType", splitAll) {
	case splitFixed:
		per, _ := opts.Int("pagesPerFile")
		var spans []pageSpan
		for from := 1; from <= total; from += per {
			spans = append(spans, pageSpan{from: from, to: min(from+per-1, total)})
		}
		return spans, "part", nil
	case splitRange:
		requested, err := parseRanges(opts.String("ranges", ""))
		if err != nil {
			return nil, "", err
		}
		var spans []pageSpan
		for _, s := range requested {
			if s.from > total {
				continue
			}
			spans = append(spans, pageSpan{from: s.from, to: min(s.to, total)})
		}
		if len(spans) == 0 {
			return nil, "", fmt.Errorf("no requested range falls within %d pages", total)
		}
		return spans, "range", nil
	default:
		spans := make([]pageSpan, total)
		for i := range spans {
			spans[i] = pageSpan{from: i + 1, to: i + 1}
		}
		return spans, "page", nil
	}
}

func (splitHandler) Execute(ctx context.Context, req Request, progress ProgressFunc) (Result, error) {
	in, err := firstInput(req)
	if err != nil {
		return Result{}, err
	}
	total, err := pageCount(in)
	if err != nil {
		return Result{}, err
	}
	spans, label, err := splitPlan(req.Options, total)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	dir, err := workDir(req.Output, "split")
	if err != nil {
		return Result{}, err
	}
	defer os.RemoveAll(dir)

	base := strings.TrimSuffix(filepath.Base(req.Output), filepath.Ext(req.Output))
	parts := make([]string, 0, len(spans))
	for i, span := range spans {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		part := filepath.Join(dir, fmt.Sprintf("%s_%s_%d.pdf", base, label, i+1))
		if err := api.TrimFile(in, part, []string{span.selector()}, pdfConfig()); err != nil {
			return Result{}, fmt.Errorf("split pages %s: %w", span.selector(), err)
		}
		parts = append(parts, part)
		report(progress, (i+1)*90/len(spans))
	}

	if err := zip.ArchiveFiles(req.Output, zip.EntriesFor(parts)); err != nil {
		return Result{}, err
	}
	report(progress, 100)
	return Result{Path: req.Output}, nil
}

// compressHandler prefers Ghostscript and falls back to pdfcpu's optimizer
// when the binary is missing.
type compressHandler struct {
	tools Toolchain
}

var compressPresets = map[string]string{
	"low":    "/screen",
	"medium": "/ebook",
	"high":   "/printer",
}

func (compressHandler) Validate(_ int, opts domain.Options) error {
	quality := opts.String("quality", "medium")
	if _, ok := compressPresets[quality]; !ok {
		return fmt.Errorf("%w: quality must be low, medium or high, got %q", domain.ErrValidation, quality)
	}
	return nil
}

func (compressHandler) Output(domain.Options) OutputSpec {
	return OutputSpec{Suffix: "compressed", Ext: ".pdf"}
}

func (h compressHandler) Execute(ctx context.Context, req Request, progress ProgressFunc) (Result, error) {
	in, err := firstInput(req)
	if err != nil {
		return Result{}, err
	}
	report(progress, 10)

	if h.tools.Available(h.tools.Ghostscript) {
		preset := compressPresets[req.Options.String("quality", "medium")]
		err := run(ctx, h.tools.Ghostscript,
			"-sDEVICE=pdfwrite",
			"-dCompatibilityLevel=1.4",
			"-dPDFSETTINGS="+preset,
			"-dNOPAUSE", "-dQUIET", "-dBATCH",
			"-sOutputFile="+req.Output,
			in,
		)
		if err != nil {
			return Result{}, fmt.Errorf("compress pdf: %w", err)
		}
	} else if err := api.OptimizeFile(in, req.Output, pdfConfig()); err != nil {
		return Result{}, fmt.Errorf("optimize pdf: %w", err)
	}

	report(progress, 100)
	return Result{Path: req.Output}, nil
}

type rotateHandler struct{}

// rotationAngle reads "angle", falling back to the older "rotation" key.
func rotationAngle(opts domain.Options) (int, bool) {
	if opts.Has("angle") {
		return opts.Int("angle")
	}
	return opts.Int("rotation")
}

func (rotateHandler) Validate(_ int, opts domain.Options) error {
	angle, ok := rotationAngle(opts)
	if !ok {
		return fmt.Errorf("%w: angle is required", domain.ErrValidation)
	}
	if angle == 0 || angle%90 != 0 {
		return fmt.Errorf("%w: angle must be a non-zero multiple of 90, got %d", domain.ErrValidation, angle)
	}
	if _, err := opts.Ints("pages"); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

func (rotateHandler) Output(domain.Options) OutputSpec {
	return OutputSpec{Suffix: "rotated", Ext: ".pdf"}
}

func (rotateHandler) Execute(ctx context.Context, req Request, progress ProgressFunc) (Result, error) {
	in, err := firstInput(req)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	angle, _ := rotationAngle(req.Options)
	pages, _ := req.Options.Ints("pages")

	report(progress, 30)
	if err := api.RotateFile(in, req.Output, angle, pageSelectors(pages), pdfConfig()); err != nil {
		return Result{}, fmt.Errorf("rotate pdf: %w", err)
	}
	report(progress, 100)
	return Result{Path: req.Output}, nil
}

type imageToPDFHandler struct{}

func (imageToPDFHandler) Validate(int, domain.Options) error { return nil }

func (imageToPDFHandler) Output(domain.Options) OutputSpec {
	return OutputSpec{Suffix: "images", Ext: ".pdf"}
}

func (imageToPDFHandler) Execute(ctx context.Context, req Request, progress ProgressFunc) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	// ImportImagesFile appends to an existing file.
	_ = os.Remove(req.Output)
	report(progress, 20)
	if err := api.ImportImagesFile(req.Inputs, req.Output, nil, pdfConfig()); err != nil {
		return Result{}, fmt.Errorf("import images: %w", err)
	}
	report(progress, 100)
	return Result{Path: req.Output}, nil
}

func pageSelectors(pages []int) []string {
	if len(pages) == 0 {
		return nil
	}
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = strconv.Itoa(p)
	}
	return out
}

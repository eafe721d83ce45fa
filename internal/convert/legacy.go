package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"golang.org/x/sync/errgroup"

	"docify/internal/domain"
)

// documentTool runs one pdfcpu operation over a single input document.
type documentTool struct {
	suffix   string
	validate func(domain.Options) error
	apply    func(ctx context.Context, in, out string, opts domain.Options) error
}

func (t documentTool) Validate(_ int, opts domain.Options) error {
	if t.validate == nil {
		return nil
	}
	return t.validate(opts)
}

func (t documentTool) Output(domain.Options) OutputSpec {
	return OutputSpec{Suffix: t.suffix, Ext: ".pdf"}
}

func (t documentTool) Execute(ctx context.Context, req Request, progress ProgressFunc) (Result, error) {
	in, err := firstInput(req)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	report(progress, 20)
	if err := t.apply(ctx, in, req.Output, req.Options); err != nil {
		return Result{}, err
	}
	report(progress, 100)
	return Result{Path: req.Output}, nil
}

func requirePages(key string) func(domain.Options) error {
	return func(opts domain.Options) error {
		pages, err := opts.Ints(key)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
		if len(pages) == 0 {
			return fmt.Errorf("%w: %s is required", domain.ErrValidation, key)
		}
		for _, p := range pages {
			if p < 1 {
				return fmt.Errorf("%w: %s entries must be >= 1, got %d", domain.ErrValidation, key, p)
			}
		}
		return nil
	}
}

func requireString(key string) func(domain.Options) error {
	return func(opts domain.Options) error {
		if opts.String(key, "") == "" {
			return fmt.Errorf("%w: %s is required", domain.ErrValidation, key)
		}
		return nil
	}
}

func reorderTool() documentTool {
	return documentTool{
		suffix:   "reordered",
		validate: requirePages("order"),
		apply: func(_ context.Context, in, out string, opts domain.Options) error {
			order, _ := opts.Ints("order")
			total, err := pageCount(in)
			if err != nil {
				return err
			}
			for _, p := range order {
				if p > total {
					return fmt.Errorf("%w: page %d is out of range (document has %d pages)", domain.ErrValidation, p, total)
				}
			}
			if err := api.CollectFile(in, out, pageSelectors(order), pdfConfig()); err != nil {
				return fmt.Errorf("reorder pages: %w", err)
			}
			return nil
		},
	}
}

func deletePagesTool() documentTool {
	return documentTool{
		suffix:   "pages-removed",
		validate: requirePages("pages"),
		apply: func(_ context.Context, in, out string, opts domain.Options) error {
			pages, _ := opts.Ints("pages")
			total, err := pageCount(in)
			if err != nil {
				return err
			}
			seen := make(map[int]bool)
			var remove []int
			for _, p := range pages {
				if p <= total && !seen[p] {
					seen[p] = true
					remove = append(remove, p)
				}
			}
			if len(remove) >= total {
				return fmt.Errorf("%w: cannot delete every page", domain.ErrValidation)
			}
			if len(remove) == 0 {
				return copyFile(in, out)
			}
			sort.Ints(remove)
			if err := api.RemovePagesFile(in, out, pageSelectors(remove), pdfConfig()); err != nil {
				return fmt.Errorf("delete pages: %w", err)
			}
			return nil
		},
	}
}

func protectTool() documentTool {
	return documentTool{
		suffix:   "protected",
		validate: requireString("password"),
		apply: func(_ context.Context, in, out string, opts domain.Options) error {
			conf := pdfConfig()
			conf.UserPW = opts.String("password", "")
			conf.OwnerPW = opts.String("ownerPassword", conf.UserPW)
			if err := api.EncryptFile(in, out, conf); err != nil {
				return fmt.Errorf("encrypt pdf: %w", err)
			}
			return nil
		},
	}
}

// unlockTool decrypts with the given password. A document that is not
// encrypted is rewritten unchanged.
func unlockTool() documentTool {
	return documentTool{
		suffix: "unlocked",
		apply: func(_ context.Context, in, out string, opts domain.Options) error {
			conf := pdfConfig()
			conf.UserPW = opts.String("password", "")
			conf.OwnerPW = conf.UserPW
			decryptErr := api.DecryptFile(in, out, conf)
			if decryptErr == nil {
				return nil
			}
			if err := api.OptimizeFile(in, out, pdfConfig()); err != nil {
				return fmt.Errorf("decrypt pdf: %w", decryptErr)
			}
			return nil
		},
	}
}

const defaultWatermarkText = "Docify Watermark"

func watermarkTool() documentTool {
	return documentTool{
		suffix: "watermarked",
		apply: func(_ context.Context, in, out string, opts domain.Options) error {
			text := opts.String("text", defaultWatermarkText)
			desc := "fontname:Helvetica-Bold, points:50, rotation:45, opacity:0.3, fillcolor:#B3B3B3, scalefactor:0.5 rel"
			if err := api.AddTextWatermarksFile(in, out, nil, true, text, desc, pdfConfig()); err != nil {
				return fmt.Errorf("watermark pdf: %w", err)
			}
			return nil
		},
	}
}

var pageNumberPositions = map[string]string{
	"bottom-center": "position:bc, offset:0 20",
	"bottom-right":  "position:br, offset:-40 20",
	"top-right":     "position:tr, offset:-40 -30",
}

func pageNumbersTool() documentTool {
	return documentTool{
		suffix: "numbered",
		validate: func(opts domain.Options) error {
			pos := opts.String("position", "bottom-center")
			if _, ok := pageNumberPositions[pos]; !ok {
				return fmt.Errorf("%w: position must be bottom-center, bottom-right or top-right, got %q", domain.ErrValidation, pos)
			}
			return nil
		},
		apply: func(_ context.Context, in, out string, opts domain.Options) error {
			placement := pageNumberPositions[opts.String("position", "bottom-center")]
			desc := "fontname:Helvetica, points:12, rotation:0, scalefactor:1 abs, fillcolor:#000000, " + placement
			if err := api.AddTextWatermarksFile(in, out, nil, true, "%p / %P", desc, pdfConfig()); err != nil {
				return fmt.Errorf("number pages: %w", err)
			}
			return nil
		},
	}
}

// repairTool parses leniently and writes a freshly serialized copy.
func repairTool() documentTool {
	return documentTool{
		suffix: "repaired",
		apply: func(_ context.Context, in, out string, _ domain.Options) error {
			if err := api.ValidateFile(in, pdfConfig()); err != nil {
				return fmt.Errorf("repair pdf: document is unreadable: %w", err)
			}
			if err := api.OptimizeFile(in, out, pdfConfig()); err != nil {
				return fmt.Errorf("repair pdf: %w", err)
			}
			return nil
		},
	}
}

// ocrHandler rasterizes each page with Ghostscript, runs Tesseract over the
// pages concurrently and merges the searchable pages back into one PDF.
type ocrHandler struct {
	tools Toolchain
}

func (ocrHandler) Validate(int, domain.Options) error { return nil }

func (ocrHandler) Output(domain.Options) OutputSpec {
	return OutputSpec{Suffix: "ocr", Ext: ".pdf"}
}

func (h ocrHandler) Execute(ctx context.Context, req Request, progress ProgressFunc) (Result, error) {
	in, err := firstInput(req)
	if err != nil {
		return Result{}, err
	}
	lang := req.Options.String("language", h.tools.TesseractLang)

	dir, err := workDir(req.Output, "ocr")
	if err != nil {
		return Result{}, err
	}
	defer os.RemoveAll(dir)

	var images []string
	switch strings.ToLower(filepath.Ext(in)) {
	case ".jpg", ".jpeg", ".png":
		images = []string{in}
	default:
		images, err = rasterize(ctx, h.tools.Ghostscript, in, dir, "png16m", "300", "page_%04d.png")
		if err != nil {
			return Result{}, fmt.Errorf("ocr: %w", err)
		}
	}
	report(progress, 20)

	pages := make([]string, len(images))
	var done atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(h.tools.OCRParallelism, 1))
	for i, img := range images {
		base := filepath.Join(dir, fmt.Sprintf("ocr_%04d", i+1))
		pages[i] = base + ".pdf"
		g.Go(func() error {
			if err := run(gctx, h.tools.Tesseract, img, base, "-l", lang, "pdf"); err != nil {
				return fmt.Errorf("ocr page %d: %w", i+1, err)
			}
			report(progress, 20+int(done.Add(1))*70/len(images))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	if len(pages) == 1 {
		if err := moveFile(pages[0], req.Output); err != nil {
			return Result{}, err
		}
	} else if err := api.MergeCreateFile(pages, req.Output, false, pdfConfig()); err != nil {
		return Result{}, fmt.Errorf("ocr: merge pages: %w", err)
	}
	report(progress, 100)
	return Result{Path: req.Output}, nil
}

// rasterize renders every page of in to dir using a Ghostscript device and
// returns the produced files in page order.
func rasterize(ctx context.Context, gs, in, dir, device, dpi, pattern string) ([]string, error) {
	err := run(ctx, gs,
		"-sDEVICE="+device,
		"-r"+dpi,
		"-dNOPAUSE", "-dQUIET", "-dBATCH",
		"-sOutputFile="+filepath.Join(dir, pattern),
		in,
	)
	if err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(dir, strings.Replace(pattern, "%04d", "*", 1)))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("ghostscript produced no pages")
	}
	sort.Strings(matches)
	return matches, nil
}

package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"docify/internal/domain"
	"docify/pkg/zip"
)

// officeHandler converts through LibreOffice in headless mode. Each run gets
// a private profile directory so concurrent conversions do not contend for
// the user installation lock.
type officeHandler struct {
	tools    Toolchain
	suffix   string
	target   string
	ext      string
	inFilter string
}

func (officeHandler) Validate(int, domain.Options) error { return nil }

func (h officeHandler) Output(domain.Options) OutputSpec {
	return OutputSpec{Suffix: h.suffix, Ext: h.ext}
}

func (h officeHandler) Execute(ctx context.Context, req Request, progress ProgressFunc) (Result, error) {
	in, err := firstInput(req)
	if err != nil {
		return Result{}, err
	}
	dir, err := workDir(req.Output, "office")
	if err != nil {
		return Result{}, err
	}
	defer os.RemoveAll(dir)

	args := []string{
		"-env:UserInstallation=file://" + filepath.ToSlash(filepath.Join(dir, "profile")),
		"--headless",
	}
	if h.inFilter != "" {
		args = append(args, "--infilter="+h.inFilter)
	}
	args = append(args, "--convert-to", h.target, "--outdir", dir, in)

	report(progress, 10)
	if err := run(ctx, h.tools.LibreOffice, args...); err != nil {
		return Result{}, fmt.Errorf("libreoffice: %w", err)
	}

	produced := filepath.Join(dir, strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))+h.ext)
	if _, err := os.Stat(produced); err != nil {
		return Result{}, fmt.Errorf("libreoffice produced no %s output", h.ext)
	}
	if err := moveFile(produced, req.Output); err != nil {
		return Result{}, err
	}
	report(progress, 100)
	return Result{Path: req.Output}, nil
}

// pdfToJPGHandler renders pages with Ghostscript. A single page yields a
// .jpg next to the planned archive; otherwise pages are zipped.
type pdfToJPGHandler struct {
	tools Toolchain
}

func (pdfToJPGHandler) Validate(_ int, opts domain.Options) error {
	if opts.Has("dpi") {
		dpi, ok := opts.Int("dpi")
		if !ok || dpi < 36 || dpi > 600 {
			return fmt.Errorf("%w: dpi must be between 36 and 600", domain.ErrValidation)
		}
	}
	return nil
}

func (pdfToJPGHandler) Output(domain.Options) OutputSpec {
	return OutputSpec{Suffix: "images", Ext: ".zip"}
}

func (h pdfToJPGHandler) Execute(ctx context.Context, req Request, progress ProgressFunc) (Result, error) {
	in, err := firstInput(req)
	if err != nil {
		return Result{}, err
	}
	dir, err := workDir(req.Output, "raster")
	if err != nil {
		return Result{}, err
	}
	defer os.RemoveAll(dir)

	dpi := req.Options.String("dpi", "150")
	report(progress, 10)
	pages, err := rasterize(ctx, h.tools.Ghostscript, in, dir, "jpeg", dpi, "page_%04d.jpg")
	if err != nil {
		return Result{}, fmt.Errorf("render pages: %w", err)
	}
	report(progress, 80)

	if len(pages) == 1 {
		single := strings.TrimSuffix(req.Output, filepath.Ext(req.Output)) + ".jpg"
		if err := moveFile(pages[0], single); err != nil {
			return Result{}, err
		}
		report(progress, 100)
		return Result{Path: single}, nil
	}

	if err := zip.ArchiveFiles(req.Output, zip.EntriesFor(pages)); err != nil {
		return Result{}, err
	}
	report(progress, 100)
	return Result{Path: req.Output}, nil
}

package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Toolchain locates the external binaries used by the raster, office and OCR
// handlers.
type Toolchain struct {
	LibreOffice    string
	Ghostscript    string
	ImageMagick    string
	Tesseract      string
	TesseractLang  string
	OCRParallelism int
}

// Available reports whether bin resolves to an executable.
func (Toolchain) Available(bin string) bool {
	if bin == "" {
		return false
	}
	_, err := exec.LookPath(bin)
	return err == nil
}

// run executes bin and folds the tail of stderr into the returned error.
func run(ctx context.Context, bin string, args ...string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		if msg == "" {
			return fmt.Errorf("%s: %w", filepath.Base(bin), err)
		}
		return fmt.Errorf("%s: %w: %s", filepath.Base(bin), err, msg)
	}
	return nil
}

// workDir creates a scratch directory next to the planned output so renames
// stay on one filesystem.
func workDir(output, label string) (string, error) {
	base := strings.TrimSuffix(filepath.Base(output), filepath.Ext(output))
	dir, err := os.MkdirTemp(filepath.Dir(output), "."+base+"-"+label+"-")
	if err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	return dir, nil
}

// moveFile renames src to dst, copying when a rename crosses devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(src), err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(dst), err)
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	if _, err = out.ReadFrom(in); err != nil {
		return fmt.Errorf("copy %s: %w", filepath.Base(src), err)
	}
	return nil
}

var errNoInput = errors.New("no input file")

func firstInput(req Request) (string, error) {
	if len(req.Inputs) == 0 {
		return "", errNoInput
	}
	return req.Inputs[0], nil
}

func report(progress ProgressFunc, percent int) {
	if progress != nil {
		progress(percent)
	}
}

package convert

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// writePNG writes a small solid image.
func writePNG(t *testing.T, path string, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 60))
	for y := 0; y < 60; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create png: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
}

// makePDF builds a PDF with the given number of pages, one image per page.
func makePDF(t *testing.T, dir, name string, pages int) string {
	t.Helper()
	var images []string
	for i := 0; i < pages; i++ {
		p := filepath.Join(dir, name+"_img_"+string(rune('a'+i))+".png")
		writePNG(t, p, color.RGBA{R: uint8(40 * i), G: 100, B: 200, A: 255})
		images = append(images, p)
	}
	out := filepath.Join(dir, name+".pdf")
	if err := api.ImportImagesFile(images, out, nil, pdfConfig()); err != nil {
		t.Fatalf("build fixture pdf: %v", err)
	}
	return out
}

func countPages(t *testing.T, path string) int {
	t.Helper()
	n, err := api.PageCountFile(path)
	if err != nil {
		t.Fatalf("PageCountFile(%s) error = %v", filepath.Base(path), err)
	}
	return n
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", filepath.Base(path), err)
	}
	return string(b)
}

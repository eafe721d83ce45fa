package zip

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestArchiveFiles(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for name, body := range map[string]string{"a_1.pdf": "first", "a_2.pdf": "second"} {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}

	dst := filepath.Join(dir, "out.zip")
	if err := ArchiveFiles(dst, EntriesFor(paths)); err != nil {
		t.Fatalf("ArchiveFiles() error = %v", err)
	}

	zr, err := zip.OpenReader(dst)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer zr.Close()

	got := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open entry: %v", err)
		}
		b, _ := io.ReadAll(rc)
		rc.Close()
		got[f.Name] = string(b)
	}
	if got["a_1.pdf"] != "first" || got["a_2.pdf"] != "second" || len(got) != 2 {
		t.Fatalf("archive contents = %v", got)
	}
}

func TestArchiveFilesRemovesPartialArchive(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "out.zip")
	err := ArchiveFiles(dst, []Entry{{Name: "missing.pdf", Path: filepath.Join(dir, "missing.pdf")}})
	if err == nil {
		t.Fatalf("ArchiveFiles() error = nil for a missing input")
	}
	if _, statErr := os.Stat(dst); !os.IsNotExist(statErr) {
		t.Fatalf("partial archive left behind: %v", statErr)
	}
}

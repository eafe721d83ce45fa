package zip

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Entry is a file to be placed in an archive under Name.
type Entry struct {
	Name string
	Path string
}

// EntriesFor names each file by its base name.
func EntriesFor(paths []string) []Entry {
	entries := make([]Entry, len(paths))
	for i, p := range paths {
		entries[i] = Entry{Name: filepath.Base(p), Path: p}
	}
	return entries
}

// ArchiveFiles writes a deflate-compressed archive of entries to dst. A
// partially written archive is removed on error.
func ArchiveFiles(dst string, entries []Entry) (err error) {
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("zip: create archive: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("zip: close archive: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	zw := zip.NewWriter(out)
	for _, entry := range entries {
		if err := addFile(zw, entry); err != nil {
			_ = zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("zip: finalize archive: %w", err)
	}
	return nil
}

func addFile(zw *zip.Writer, entry Entry) error {
	src, err := os.Open(entry.Path)
	if err != nil {
		return fmt.Errorf("zip: open %s: %w", entry.Name, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("zip: stat %s: %w", entry.Name, err)
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("zip: header %s: %w", entry.Name, err)
	}
	header.Name = entry.Name
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("zip: add %s: %w", entry.Name, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("zip: write %s: %w", entry.Name, err)
	}
	return nil
}

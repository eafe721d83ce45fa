package intake

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"docify/internal/domain"
	"docify/internal/storage"
)

func upload(name, mediaType, body string) Upload {
	return Upload{
		OriginalName: name,
		MediaType:    mediaType,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(body)), nil
		},
	}
}

func newService(t *testing.T, maxSize int64) (*Service, *storage.FileStore) {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	return NewService(store, maxSize, zerolog.Nop()), store
}

func TestStoreAcceptsAllowedTypes(t *testing.T) {
	svc, store := newService(t, 1024)
	files, err := svc.Store(context.Background(), []Upload{
		upload("report.PDF", "application/pdf", "%PDF-1.4"),
		upload("photo", "image/png; charset=binary", "png"),
	})
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("Store() returned %d files, want 2", len(files))
	}
	if files[0].StoredName != files[0].ID+".pdf" {
		t.Fatalf("StoredName = %q, want %q", files[0].StoredName, files[0].ID+".pdf")
	}
	if files[1].StoredName != files[1].ID+".png" || files[1].MediaType != "image/png" {
		t.Fatalf("second file = %+v", files[1])
	}
	if files[0].ID == files[1].ID {
		t.Fatalf("ids are not unique")
	}
	resolved, err := store.ResolveUpload(files[0].ID)
	if err != nil || resolved != files[0].StoredPath {
		t.Fatalf("ResolveUpload() = %q, %v, want %q", resolved, err, files[0].StoredPath)
	}
	if files[0].SizeBytes != int64(len("%PDF-1.4")) {
		t.Fatalf("SizeBytes = %d", files[0].SizeBytes)
	}
}

func TestStoreRejections(t *testing.T) {
	tests := []struct {
		name    string
		uploads []Upload
		want    error
	}{
		{name: "no files", uploads: nil, want: domain.ErrValidation},
		{name: "disallowed type", uploads: []Upload{upload("a.exe", "application/x-msdownload", "MZ")}, want: domain.ErrUnsupportedMediaType},
		{name: "too large", uploads: []Upload{upload("a.pdf", "application/pdf", strings.Repeat("x", 17))}, want: domain.ErrFileTooLarge},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, _ := newService(t, 16)
			_, err := svc.Store(context.Background(), tc.uploads)
			if !errors.Is(err, tc.want) {
				t.Fatalf("Store() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestStoreRejectionNamesType(t *testing.T) {
	svc, _ := newService(t, 16)
	_, err := svc.Store(context.Background(), []Upload{upload("a.gif", "image/gif", "GIF")})
	if err == nil || !strings.Contains(err.Error(), "image/gif") {
		t.Fatalf("Store() error = %v, want it to name image/gif", err)
	}
}

func TestStoreRollsBackOnFailure(t *testing.T) {
	svc, store := newService(t, 4)
	_, err := svc.Store(context.Background(), []Upload{
		upload("a.pdf", "application/pdf", "ok"),
		upload("b.pdf", "application/pdf", "too long"),
	})
	if !errors.Is(err, domain.ErrFileTooLarge) {
		t.Fatalf("Store() error = %v, want ErrFileTooLarge", err)
	}
	entries, _ := os.ReadDir(filepath.Join(store.BasePath(), storage.NamespaceTemp))
	if len(entries) != 0 {
		t.Fatalf("temp namespace has %d leftover files", len(entries))
	}
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"docify/internal/domain"
)

// Namespaces under the storage root.
const (
	NamespaceTemp    = "temp"
	NamespaceResults = "results"
)

// UploadExtensions is the probe order used to find an upload by id.
var UploadExtensions = []string{".pdf", ".docx", ".pptx", ".xlsx", ".jpg", ".jpeg", ".png", ".json", ".xml", ".csv", ".md", ".html", ".txt", ".yaml", ".zip"}

// FileStore persists uploads and job results on the local filesystem under
// two namespaces: temp for intake and results for job outputs. Names are
// generated by the callers and never collide, so no locking is needed.
type FileStore struct {
	basePath string
}

// NewFileStore initializes a FileStore rooted at basePath and creates both
// namespaces.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve base path: %w", err)
	}
	for _, ns := range []string{NamespaceTemp, NamespaceResults} {
		if err := os.MkdirAll(filepath.Join(abs, ns), 0o755); err != nil {
			return nil, fmt.Errorf("storage: ensure %s directory: %w", ns, err)
		}
	}
	return &FileStore{basePath: abs}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Dir returns the absolute directory of a namespace.
func (s *FileStore) Dir(namespace string) string {
	return filepath.Join(s.basePath, namespace)
}

// Save streams r into namespace/name. When more than limit bytes arrive the
// partial file is removed and domain.ErrFileTooLarge is returned. A limit of
// zero or less disables the check.
func (s *FileStore) Save(ctx context.Context, namespace, name string, r io.Reader, limit int64) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	cleanName, err := sanitizeKey(name)
	if err != nil {
		return "", 0, err
	}
	if strings.Contains(cleanName, "/") {
		return "", 0, errors.New("storage: nested names are not allowed")
	}
	fullPath := filepath.Join(s.Dir(namespace), cleanName)

	f, err := os.OpenFile(fullPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("storage: create file: %w", err)
	}
	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	n, copyErr := io.Copy(f, src)
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		_ = os.Remove(fullPath)
		return "", 0, fmt.Errorf("storage: write file: %w", copyErr)
	case closeErr != nil:
		_ = os.Remove(fullPath)
		return "", 0, fmt.Errorf("storage: close file: %w", closeErr)
	case limit > 0 && n > limit:
		_ = os.Remove(fullPath)
		return "", 0, fmt.Errorf("%w: more than %d bytes", domain.ErrFileTooLarge, limit)
	}
	return fullPath, n, nil
}

// ResolveUpload finds a temp file by upload id, probing UploadExtensions in
// order.
func (s *FileStore) ResolveUpload(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("%w: file %q", domain.ErrNotFound, id)
	}
	dir := s.Dir(NamespaceTemp)
	for _, ext := range UploadExtensions {
		candidate := filepath.Join(dir, id+ext)
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: file %q", domain.ErrNotFound, id)
}

// ResultPath computes the output location for a job.
func (s *FileStore) ResultPath(jobID, suffix, ext string) string {
	return filepath.Join(s.Dir(NamespaceResults), fmt.Sprintf("%s_%s%s", jobID, suffix, ext))
}

// Stat returns the size of a stored file, or domain.ErrNotFound.
func (s *FileStore) Stat(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", domain.ErrNotFound, filepath.Base(path))
		}
		return 0, fmt.Errorf("storage: stat: %w", err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%w: %s is a directory", domain.ErrNotFound, filepath.Base(path))
	}
	return info.Size(), nil
}

// Remove deletes a file inside the store. A file that is already gone counts
// as removed. Paths outside the store root are refused.
func (s *FileStore) Remove(path string) error {
	if !s.Contains(path) {
		return fmt.Errorf("storage: refusing to remove %q outside %s", path, s.basePath)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: remove: %w", err)
	}
	return nil
}

// Contains reports whether path lies inside the store root.
func (s *FileStore) Contains(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(s.basePath, abs)
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, "..")
}

// StoredFile is an entry returned by ListOlderThan.
type StoredFile struct {
	Path    string
	ModTime time.Time
	Size    int64
}

// ListOlderThan returns regular files in namespace last modified before cutoff.
func (s *FileStore) ListOlderThan(namespace string, cutoff time.Time) ([]StoredFile, error) {
	entries, err := os.ReadDir(s.Dir(namespace))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: list %s: %w", namespace, err)
	}
	var out []StoredFile
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			out = append(out, StoredFile{
				Path:    filepath.Join(s.Dir(namespace), entry.Name()),
				ModTime: info.ModTime(),
				Size:    info.Size(),
			})
		}
	}
	return out, nil
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}

// Package intake accepts uploaded files into the temp namespace.
package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"docify/internal/domain"
	"docify/internal/storage"
)

// MaxFilesPerRequest bounds a single upload request.
const MaxFilesPerRequest = 50

// extensionsByType maps allowed media types to the extension used when the
// original name carries none we can resolve later.
var extensionsByType = map[string]string{
	"application/pdf": ".pdf",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   ".docx",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": ".pptx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         ".xlsx",
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
}

// Upload is one incoming file.
type Upload struct {
	OriginalName string
	MediaType    string
	Open         func() (io.ReadCloser, error)
}

// Service validates and stores uploads.
type Service struct {
	store   *storage.FileStore
	maxSize int64
	logger  zerolog.Logger
	newID   func() string
}

// NewService builds an intake service writing into store.
func NewService(store *storage.FileStore, maxSize int64, logger zerolog.Logger) *Service {
	return &Service{
		store:   store,
		maxSize: maxSize,
		logger:  logger,
		newID:   uuid.NewString,
	}
}

// Allowed reports whether the media type may be uploaded.
func Allowed(mediaType string) bool {
	_, ok := extensionsByType[normalizeType(mediaType)]
	return ok
}

// Store validates every upload before writing any of them, then saves each
// as {id}{ext} in the temp namespace. If a write fails, files already saved
// by this call are removed.
func (s *Service) Store(ctx context.Context, uploads []Upload) ([]domain.UploadedFile, error) {
	if len(uploads) == 0 {
		return nil, fmt.Errorf("%w: no files uploaded", domain.ErrValidation)
	}
	if len(uploads) > MaxFilesPerRequest {
		return nil, fmt.Errorf("%w: at most %d files per upload", domain.ErrValidation, MaxFilesPerRequest)
	}
	for _, up := range uploads {
		if !Allowed(up.MediaType) {
			return nil, fmt.Errorf("%w: invalid file type %q for %s; only PDF, DOCX, PPTX, XLSX and images are allowed",
				domain.ErrUnsupportedMediaType, up.MediaType, up.OriginalName)
		}
	}

	stored := make([]domain.UploadedFile, 0, len(uploads))
	for _, up := range uploads {
		file, err := s.storeOne(ctx, up)
		if err != nil {
			s.rollback(stored)
			return nil, err
		}
		stored = append(stored, file)
	}
	return stored, nil
}

func (s *Service) storeOne(ctx context.Context, up Upload) (domain.UploadedFile, error) {
	mediaType := normalizeType(up.MediaType)
	id := s.newID()
	name := id + extensionFor(up.OriginalName, mediaType)

	rc, err := up.Open()
	if err != nil {
		return domain.UploadedFile{}, fmt.Errorf("intake: open %s: %w", up.OriginalName, err)
	}
	defer rc.Close()

	path, size, err := s.store.Save(ctx, storage.NamespaceTemp, name, rc, s.maxSize)
	if err != nil {
		if errors.Is(err, domain.ErrFileTooLarge) {
			return domain.UploadedFile{}, fmt.Errorf("%w: %s exceeds %d bytes", domain.ErrFileTooLarge, up.OriginalName, s.maxSize)
		}
		return domain.UploadedFile{}, err
	}

	s.logger.Info().
		Str("file_id", id).
		Str("original_name", up.OriginalName).
		Int64("size", size).
		Msg("intake: file stored")

	return domain.UploadedFile{
		ID:           id,
		StoredName:   name,
		OriginalName: up.OriginalName,
		StoredPath:   path,
		MediaType:    mediaType,
		SizeBytes:    size,
	}, nil
}

func (s *Service) rollback(files []domain.UploadedFile) {
	for _, f := range files {
		if err := s.store.Remove(f.StoredPath); err != nil {
			s.logger.Warn().Err(err).Str("file_id", f.ID).Msg("intake: rollback failed")
		}
	}
}

func normalizeType(mediaType string) string {
	parsed, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(mediaType))
	}
	return parsed
}

func extensionFor(originalName, mediaType string) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	for _, known := range storage.UploadExtensions {
		if ext == known {
			return ext
		}
	}
	return extensionsByType[mediaType]
}

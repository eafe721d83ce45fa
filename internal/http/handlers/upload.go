package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"docify/internal/domain"
	"docify/internal/intake"
)

const multipartMemory = 32 << 20

// multipartOverhead allows for part headers and boundaries on top of the
// file payloads.
const multipartOverhead = 1 << 20

// UploadLimit returns the largest upload body accepted for maxFiles files of
// at most maxFileSize bytes each.
func UploadLimit(maxFiles int, maxFileSize int64) int64 {
	return int64(maxFiles)*maxFileSize + multipartOverhead
}

type uploadedFileView struct {
	FileID       string `json:"fileId"`
	Filename     string `json:"filename"`
	OriginalName string `json:"originalName"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mimeType"`
}

// Upload accepts multipart field "files" and stores each file for later jobs.
func (a *App) Upload(w http.ResponseWriter, r *http.Request) {
	if a.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, a.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if errors.Is(err, http.ErrNotMultipart) || errors.Is(err, http.ErrMissingBoundary) {
			a.fail(w, r, fmt.Errorf("%w: No files uploaded", domain.ErrValidation))
			return
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.fail(w, r, fmt.Errorf("%w: request body exceeds %d bytes", domain.ErrFileTooLarge, tooLarge.Limit))
			return
		}
		a.fail(w, r, fmt.Errorf("%w: malformed multipart body", domain.ErrValidation))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		a.fail(w, r, fmt.Errorf("%w: No files uploaded", domain.ErrValidation))
		return
	}

	uploads := make([]intake.Upload, 0, len(headers))
	for _, fh := range headers {
		uploads = append(uploads, intake.Upload{
			OriginalName: fh.Filename,
			MediaType:    fh.Header.Get("Content-Type"),
			Open:         func() (io.ReadCloser, error) { return fh.Open() },
		})
	}

	stored, err := a.Intake.Store(r.Context(), uploads)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	out := make([]uploadedFileView, 0, len(stored))
	for _, f := range stored {
		out = append(out, uploadedFileView{
			FileID:       f.ID,
			Filename:     f.StoredName,
			OriginalName: f.OriginalName,
			Size:         f.SizeBytes,
			MimeType:     f.MediaType,
		})
	}
	a.Logger.Info().Int("files", len(out)).Msg("http: files uploaded")
	a.ok(w, out)
}

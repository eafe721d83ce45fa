package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"docify/internal/convert"
	"docify/internal/domain"
	"docify/internal/events"
	"docify/internal/intake"
)

// JobService is the job engine surface used by the HTTP layer.
type JobService interface {
	Create(ctx context.Context, tool string, fileIDs []string, opts domain.Options) (*domain.Job, error)
	GetStatus(ctx context.Context, id string) (*domain.Job, error)
	List(ctx context.Context, limit int) ([]domain.Job, error)
	Download(ctx context.Context, id string) (domain.OutputFile, error)
	Delete(ctx context.Context, id string) error
	MirrorURL(ctx context.Context, job *domain.Job) (string, error)
	QueueDepth() int
}

// Uploader stores incoming files.
type Uploader interface {
	Store(ctx context.Context, uploads []intake.Upload) ([]domain.UploadedFile, error)
}

// ToolCatalog lists the registered conversion tools.
type ToolCatalog interface {
	Tools() []convert.ToolInfo
}

// Pinger reports store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// App carries the dependencies of every handler.
type App struct {
	Jobs    JobService
	Intake  Uploader
	Tools   ToolCatalog
	Hub     *events.Hub
	DB      Pinger
	Origins []string
	Env     string
	Logger  zerolog.Logger
	Now     func() time.Time

	// MaxUploadBytes caps the upload request body. Zero disables the cap.
	MaxUploadBytes int64
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (a *App) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) ok(w http.ResponseWriter, data any) {
	a.json(w, http.StatusOK, envelope{Success: true, Data: data})
}

func (a *App) error(w http.ResponseWriter, code int, msg string) {
	a.json(w, code, envelope{Success: false, Error: msg})
}

// fail maps domain errors onto HTTP statuses. Unexpected errors are logged
// and reported without detail.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrUnsupportedTool),
		errors.Is(err, domain.ErrUnsupportedMediaType),
		errors.Is(err, domain.ErrNotCompleted):
		code = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, domain.ErrFileTooLarge):
		code = http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrQueueFull):
		code = http.StatusServiceUnavailable
	}
	if code == http.StatusInternalServerError {
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("http: request failed")
		a.error(w, code, "Internal server error")
		return
	}
	a.error(w, code, err.Error())
}

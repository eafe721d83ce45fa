package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"docify/internal/convert"
	"docify/internal/domain"
	"docify/internal/middleware"
)

const maxProcessBody = 1 << 20

type processRequest struct {
	FileIDs []string       `json:"fileIds"`
	Options domain.Options `json:"options"`
}

// Process creates a job for the tool in the path and returns immediately.
func (a *App) Process(w http.ResponseWriter, r *http.Request) {
	tool := strings.TrimSpace(chi.URLParam(r, "tool"))

	var req processRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxProcessBody))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		a.fail(w, r, fmt.Errorf("%w: invalid JSON body", domain.ErrValidation))
		return
	}
	if len(req.FileIDs) == 0 {
		a.fail(w, r, fmt.Errorf("%w: fileIds must list at least one uploaded file", domain.ErrValidation))
		return
	}
	if req.Options == nil {
		req.Options = domain.Options{}
	}
	if convert.ToolID(strings.ToLower(tool)) == convert.ToolTranslateDoc && req.Options.String("targetLanguage", "") == "" {
		req.Options["targetLanguage"] = middleware.LocaleFromContext(r.Context())
	}

	job, err := a.Jobs.Create(r.Context(), tool, req.FileIDs, req.Options)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, map[string]any{
		"jobId":  job.ID,
		"status": job.Status,
	})
}

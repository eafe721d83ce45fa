package handlers

import "net/http"

// ListTools returns the registered conversion tools.
func (a *App) ListTools(w http.ResponseWriter, r *http.Request) {
	a.ok(w, a.Tools.Tools())
}

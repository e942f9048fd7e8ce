// Package handlers holds the HTTP handlers. They parse the request, call a
// service and either render a template or answer JSON.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/diewo77/go-blog/gate"
	"github.com/diewo77/go-blog/httpx"
	"github.com/diewo77/go-blog/internal/services"
	"github.com/diewo77/go-blog/view"
)

// fail maps a service error to a response: 404 for missing rows and bad
// pages, 403 for ownership failures, 500 for everything else.
func fail(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	status, msg := http.StatusInternalServerError, "Internal Server Error"
	switch {
	case errors.Is(err, services.ErrNotFound), errors.Is(err, services.ErrPageNotFound):
		status, msg = http.StatusNotFound, "Not Found"
	case errors.Is(err, gate.ErrUnauthorized):
		status, msg = http.StatusForbidden, "Forbidden"
	default:
		log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	errorPage(w, r, log, status, msg)
}

func errorPage(w http.ResponseWriter, r *http.Request, log *slog.Logger, status int, msg string) {
	if httpx.WantsJSON(r) {
		httpx.JSONError(w, status, msg, nil)
		return
	}
	err := view.RenderStatus(w, r, status, "error.html", map[string]any{"Status": status, "Message": msg})
	if err != nil {
		log.Error("render error page", "err", err)
		http.Error(w, msg, status)
	}
}

func render(w http.ResponseWriter, r *http.Request, log *slog.Logger, name string, data map[string]any) {
	if err := view.Render(w, r, name, data); err != nil {
		log.Error("render", "template", name, "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// pathID reads the {id} path value. ok is false for anything but a positive integer.
func pathID(r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 0)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

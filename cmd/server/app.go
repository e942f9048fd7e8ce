package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/diewo77/go-blog/auth"
	"github.com/diewo77/go-blog/gate"
	"github.com/diewo77/go-blog/internal/db"
	"github.com/diewo77/go-blog/view"
	"gorm.io/gorm"
)

// App is the main application handler that sets up all routes.
type App struct {
	mux       *http.ServeMux
	db        *gorm.DB
	log       *slog.Logger
	routerCfg *RouterConfig
}

// NewApp creates a new application with all routes configured.
func NewApp(conn *gorm.DB, routerCfg *RouterConfig, log *slog.Logger) *App {
	app := &App{
		mux:       http.NewServeMux(),
		db:        conn,
		log:       log,
		routerCfg: routerCfg,
	}
	// Templates show edit links only to the owner.
	view.SetCanResolver(app.can)
	app.setupRoutes()
	return app
}

func (a *App) can(r *http.Request, action, resourceType string, resource any) bool {
	return a.routerCfg.Guard.Can(r.Context(), gate.Action(action), resourceType, resource)
}

// ServeHTTP implements http.Handler.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	handler := a.withRecover(auth.Middleware(a.mux))
	handler.ServeHTTP(w, r)
}

func (a *App) setupRoutes() {
	bh := a.routerCfg.BlogHandler
	uh := a.routerCfg.UserHandler

	// Public
	a.mux.HandleFunc("GET /{$}", bh.Home)
	a.mux.HandleFunc("GET /latest/{$}", bh.Latest)
	a.mux.HandleFunc("GET /about/{$}", bh.About)
	a.mux.HandleFunc("GET /post/{id}/{$}", bh.PostDetail)
	a.mux.HandleFunc("GET /user/{username}/{$}", bh.UserPosts)

	a.mux.HandleFunc("GET /register/{$}", uh.Register)
	a.mux.HandleFunc("POST /register/{$}", uh.Register)
	a.mux.HandleFunc("GET /login/{$}", uh.Login)
	a.mux.HandleFunc("POST /login/{$}", uh.Login)
	a.mux.HandleFunc("GET /logout/{$}", uh.Logout)
	a.mux.HandleFunc("POST /logout/{$}", uh.Logout)

	// Logged in; ownership is checked by the services.
	a.mux.Handle("GET /post/new/{$}", a.requireAuth(http.HandlerFunc(bh.PostCreate)))
	a.mux.Handle("POST /post/new/{$}", a.requireAuth(http.HandlerFunc(bh.PostCreate)))
	a.mux.Handle("GET /post/{id}/update/{$}", a.requireAuth(http.HandlerFunc(bh.PostUpdate)))
	a.mux.Handle("POST /post/{id}/update/{$}", a.requireAuth(http.HandlerFunc(bh.PostUpdate)))
	a.mux.Handle("GET /post/{id}/delete/{$}", a.requireAuth(http.HandlerFunc(bh.PostDelete)))
	a.mux.Handle("POST /post/{id}/delete/{$}", a.requireAuth(http.HandlerFunc(bh.PostDelete)))
	a.mux.Handle("GET /profile/{$}", a.requireAuth(http.HandlerFunc(uh.Profile)))
	a.mux.Handle("POST /profile/{$}", a.requireAuth(http.HandlerFunc(uh.Profile)))

	a.mux.HandleFunc("GET /healthz", a.healthz)

	// Files
	a.mux.Handle("GET /media/", http.StripPrefix("/media/", http.FileServer(http.Dir(a.routerCfg.Store.Root))))
	a.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir("static"))))
}

// requireAuth wraps a handler to require authentication.
func (a *App) requireAuth(next http.Handler) http.Handler {
	return auth.RequireAuth(next)
}

func (a *App) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := db.Ping(ctx, a.db); err != nil {
		a.log.Error("health check failed", "err", err)
		http.Error(w, "db unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "ok")
}

// withRecover turns a panic into a 500 and logs the stack.
func (a *App) withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				a.log.Error("panic", "method", r.Method, "path", r.URL.Path, "panic", rec, "stack", string(debug.Stack()))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// withLogging adds request logging middleware.
func withLogging(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

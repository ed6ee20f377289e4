// Package web is the backend HTTP surface: the events and upload API, the
// uploaded image files, an iCalendar export and the embedded web UI.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"contentcal/internal/config"
	appLog "contentcal/internal/log"
	"contentcal/internal/store"
)

// Server serves the API on top of a store.
type Server struct {
	cfg   *config.Config
	store *store.Store
	loc   *time.Location
	mux   *http.ServeMux

	// In-memory cache of the GET /api/events body and its ETag. It is
	// dropped on every write so the list is never stale after a create.
	eventsMu    sync.RWMutex
	eventsCache *eventsCache

	// verified remembers credentials that passed the argon2id check.
	verified sync.Map
}

// embeddedStatic holds the browser UI.
//
//go:embed all:static
var embeddedStatic embed.FS

// NewServer constructs a Server. cfg must be normalized.
func NewServer(cfg *config.Config, st *store.Store) *Server {
	s := &Server{
		cfg:   cfg,
		store: st,
		loc:   resolveLocationOrLocal(cfg.Timezone),
		mux:   http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the routes wrapped in CORS and, when configured, Basic
// Auth.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "user", s.cfg.BasicAuth.Username, "hashed", s.cfg.BasicAuth.PasswordHash != "")
		h = s.basicAuthMiddleware(h)
	}
	return corsMiddleware(h)
}

// Run serves on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		appLog.Info("HTTP server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api", s.handleIndex)
	s.mux.HandleFunc("/api/", s.handleAPINotFound)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/events.ics", s.handleEventsICS)
	s.mux.HandleFunc("/api/upload", s.handleUpload)
	s.mux.Handle("/uploads/", s.uploadsHandler())

	// Everything else is the embedded UI.
	s.mux.Handle("/", s.staticFileServer())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type indexResponse struct {
	Message   string            `json:"message"`
	Endpoints map[string]string `json:"endpoints"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, indexResponse{
		Message: "Content calendar API",
		Endpoints: map[string]string{
			"events":       "GET /api/events",
			"createEvent":  "POST /api/events",
			"upload":       "POST /api/upload",
			"icsExport":    "GET /api/events.ics",
			"uploadedFile": "GET /uploads/{filename}",
			"health":       "GET /health",
		},
	})
}

func (s *Server) handleAPINotFound(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/" {
		s.handleIndex(w, r)
		return
	}
	writeError(w, http.StatusNotFound, "not found")
}

// staticFileServer serves the embedded UI from internal/web/static.
func (s *Server) staticFileServer() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("failed to initialize embedded static filesystem", err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "static UI not available", http.StatusServiceUnavailable)
		})
	}
	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /api/* 는 정적 UI 로 넘기지 않는다.
		if r.URL.Path == "/api" || strings.HasPrefix(r.URL.Path, "/api/") {
			http.NotFound(w, r)
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// Package server provides the HTTP server and handlers.
package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/bryan-buckman/movierec/internal/logging"
	"github.com/bryan-buckman/movierec/internal/model"
	"github.com/bryan-buckman/movierec/internal/session"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static/*
var staticFS embed.FS

// SessionCookie names the cookie carrying the session ID.
const SessionCookie = "movierec_session"

// Config configures the server.
type Config struct {
	Addr       string
	PosterBase string
	RateLimit  int // API requests per minute per IP, 0 disables
}

// Server is the main HTTP server.
type Server struct {
	addr       string
	posterBase string
	sessions   *Registry
	router     chi.Router
	templates  *template.Template
	upgrader   websocket.Upgrader
	log        zerolog.Logger
}

// New creates a new server.
func New(cfg Config, sessions *Registry) (*Server, error) {
	tmpl, err := template.New("").ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	s := &Server{
		addr:       cfg.Addr,
		posterBase: cfg.PosterBase,
		sessions:   sessions,
		templates:  tmpl,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: logging.WithComponent("server"),
	}
	s.setupRoutes(cfg.RateLimit)
	return s, nil
}

func (s *Server) setupRoutes(rateLimit int) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	staticSub, _ := fs.Sub(staticFS, "static")
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	// Pages.
	r.With(middleware.Compress(5)).Get("/", s.handlePage)
	r.With(middleware.Compress(5)).Get("/fragment", s.handleFragment)
	r.Get("/ws", s.handleWebsocket)
	r.Handle("/metrics", promhttp.Handler())

	// API.
	r.Route("/api", func(r chi.Router) {
		if rateLimit > 0 {
			r.Use(httprate.LimitByIP(rateLimit, time.Minute))
		}
		r.Get("/state", s.handleState)
		r.Post("/query", s.handleQuery)
		r.Post("/select", s.handleSelect)
		r.Post("/remove", s.handleRemove)
		r.Post("/years", s.handleYears)
		r.Post("/recommend", s.handleRecommend)
		r.Post("/posters/{list}/{movieID}/loaded", s.handlePosterLoaded)
	})

	s.router = r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("shutdown")
		}
		return ctx.Err()
	}
}

func (s *Server) String() string { return "http-server" }

// --- Sessions ---

// sessionFor returns the caller's session, creating one and setting the cookie
// when the request carries none or an expired one.
func (s *Server) sessionFor(w http.ResponseWriter, r *http.Request) *session.Store {
	if c, err := r.Cookie(SessionCookie); err == nil {
		if st, ok := s.sessions.Get(c.Value); ok {
			return st
		}
	}
	id, st := s.sessions.Create()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return st
}

// existing returns the caller's session without creating one.
func (s *Server) existing(r *http.Request) (string, *session.Store, bool) {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return "", nil, false
	}
	st, ok := s.sessions.Get(c.Value)
	return c.Value, st, ok
}

// --- Page Handlers ---

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	st := s.sessionFor(w, r)
	s.render(w, "layout.html", s.view(st.Snapshot()))
}

func (s *Server) handleFragment(w http.ResponseWriter, r *http.Request) {
	_, st, ok := s.existing(r)
	if !ok {
		http.Error(w, "Unknown session", http.StatusNotFound)
		return
	}
	s.render(w, "results", s.view(st.Snapshot()))
}

// --- API Handlers ---

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st := s.sessionFor(w, r)
	writeJSON(w, http.StatusOK, s.view(st.Snapshot()))
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if !decode(w, r, &req) {
		return
	}
	st := s.sessionFor(w, r)
	st.SetQuery(req.Query)
	writeJSON(w, http.StatusOK, s.view(st.Snapshot()))
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MovieID int `json:"movie_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	st := s.sessionFor(w, r)
	if err := st.SelectCandidate(req.MovieID); err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, s.view(st.Snapshot()))
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MovieID int `json:"movie_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	st := s.sessionFor(w, r)
	st.RemoveFavourite(req.MovieID)
	writeJSON(w, http.StatusOK, s.view(st.Snapshot()))
}

func (s *Server) handleYears(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Years model.YearRange `json:"years"`
	}
	if !decode(w, r, &req) {
		return
	}
	// Inverted ranges are rejected by the session; ordered ones are held to
	// the years the page offers.
	years := req.Years
	if years.Min <= years.Max {
		years = years.Clamp()
	}
	st := s.sessionFor(w, r)
	if err := st.SetYearRange(years.Min, years.Max); err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, s.view(st.Snapshot()))
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	st := s.sessionFor(w, r)
	if err := st.RequestRecommendations(); err != nil {
		writeError(w, err, noticeFor(err))
		return
	}
	writeJSON(w, http.StatusAccepted, s.view(st.Snapshot()))
}

func (s *Server) handlePosterLoaded(w http.ResponseWriter, r *http.Request) {
	list, ok := session.ParseList(chi.URLParam(r, "list"))
	if !ok {
		http.Error(w, "Unknown list", http.StatusNotFound)
		return
	}
	movieID, err := strconv.Atoi(chi.URLParam(r, "movieID"))
	if err != nil {
		http.Error(w, "Invalid movie id", http.StatusBadRequest)
		return
	}
	_, st, found := s.existing(r)
	if !found {
		http.Error(w, "Unknown session", http.StatusNotFound)
		return
	}
	st.PosterLoaded(list, movieID)
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

type errorBody struct {
	Error  string          `json:"error"`
	Notice *session.Notice `json:"notice,omitempty"`
}

func noticeFor(err error) *session.Notice {
	if errors.Is(err, session.ErrNoFavourites) {
		n := session.NoFavouritesNotice
		return &n
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNoFavourites):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrInvalidYearRange):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrUnknownCandidate), errors.Is(err, session.ErrClosed):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error, notice *session.Notice) {
	writeJSON(w, statusFor(err), errorBody{Error: err.Error(), Notice: notice})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		s.log.Error().Err(err).Str("template", name).Msg("template error")
		http.Error(w, "Render error", http.StatusInternalServerError)
	}
}

// requestLogger writes one zerolog line per request.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}

// Package stubserver is a development REST backend speaking the json-server
// dialect the quotation client was built against.
package stubserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"quoteflow/pagination"
	"quoteflow/quotation"
)

type Server struct {
	repo        quotation.Repository
	log         logrus.FieldLogger
	now         func() time.Time
	newID       func() string
	requireAuth bool
}

func New(repo quotation.Repository, log logrus.FieldLogger) *Server {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Server{
		repo:  repo,
		log:   log.WithField("module", "stubserver"),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// WithAuthRequired rejects requests that carry no bearer credential.
func (s *Server) WithAuthRequired() *Server {
	s.requireAuth = true
	return s
}

func (s *Server) WithClock(now func() time.Time) *Server {
	s.now = now
	return s
}

func (s *Server) WithIDGenerator(fn func() string) *Server {
	s.newID = fn
	return s
}

// Handler returns the routed, instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Total-Count"},
		MaxAge:         300,
	}))
	r.Use(middleware.SetHeader("Content-Type", "application/json"))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Group(func(r chi.Router) {
		if s.requireAuth {
			r.Use(requireBearer)
		}
		r.Get("/quotations", s.handleList)
		r.Post("/quotations", s.handleCreate)
		r.Get("/quotations/{id}", s.handleGet)
		r.Patch("/quotations/{id}", s.handlePatch)
	})

	return otelhttp.NewHandler(r, "quotestub")
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := quotation.Filter{Query: q.Get("q"), Status: quotation.Status(q.Get("status"))}.Normalized()
	if filter.Status != "" && !filter.Status.Valid() {
		sendError(w, http.StatusBadRequest, "invalid status filter")
		return
	}

	page, err := intParam(q.Get("_page"), 1)
	if err != nil {
		sendError(w, http.StatusBadRequest, "invalid _page")
		return
	}
	limit, err := intParam(q.Get("_limit"), pagination.DefaultPageSize)
	if err != nil {
		sendError(w, http.StatusBadRequest, "invalid _limit")
		return
	}

	items, total, err := s.repo.List(r.Context(), filter, page, limit)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if items == nil {
		items = []quotation.Quotation{}
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	sendJSON(w, http.StatusOK, items)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	q, err := s.repo.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.repoError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, q)
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	var patch quotation.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		sendError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if patch.Status != nil && !patch.Status.Valid() {
		sendError(w, http.StatusBadRequest, "invalid status")
		return
	}
	if patch.Amount != nil && patch.Amount.IsNegative() {
		sendError(w, http.StatusBadRequest, "amount must not be negative")
		return
	}

	q, err := s.repo.Patch(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		s.repoError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, q)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var q quotation.Quotation
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		sendError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if q.ID == "" {
		q.ID = s.newID()
	}
	if q.Status == "" {
		q.Status = quotation.StatusPending
	}
	if !q.Status.Valid() {
		sendError(w, http.StatusBadRequest, "invalid status")
		return
	}
	if q.LastUpdated.IsZero() {
		q.LastUpdated = s.now().UTC()
	}

	created, err := s.repo.Create(r.Context(), q)
	if errors.Is(err, quotation.ErrDuplicate) {
		sendError(w, http.StatusConflict, "quotation already exists")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, created)
}

func (s *Server) repoError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, quotation.ErrNotFound) {
		sendError(w, http.StatusNotFound, "quotation not found")
		return
	}
	s.internalError(w, r, err)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.WithFields(logrus.Fields{"path": r.URL.Path, "method": r.Method}).WithError(err).Error("request failed")
	sendError(w, http.StatusInternalServerError, "internal error")
}

func requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			sendError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := s.now()
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": s.now().Sub(start).String(),
		}).Info("request")
	})
}

func intParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func sendJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func sendError(w http.ResponseWriter, status int, msg string) {
	sendJSON(w, status, map[string]string{"error": msg})
}

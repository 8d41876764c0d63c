// Package api exposes the HTTP interface of the bot: the WhatsApp webhook
// plus health, metrics and a small operations surface.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/barcrawlhq/crawlbot/internal/bot"
	"github.com/barcrawlhq/crawlbot/internal/metrics"
	"github.com/barcrawlhq/crawlbot/internal/responses"
	"github.com/barcrawlhq/crawlbot/internal/settings"

	"go.uber.org/zap"
)

// Server wires HTTP handlers to the executor and stores.
type Server struct {
	router      chi.Router
	exec        bot.Executor
	groups      bot.GroupStore
	venues      bot.VenueStore
	settings    *settings.Service
	catalog     *responses.Catalog
	clock       bot.Clock
	ids         bot.IDGenerator
	verifyToken string
	logger      *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	exec bot.Executor,
	groups bot.GroupStore,
	venues bot.VenueStore,
	svcSettings *settings.Service,
	catalog *responses.Catalog,
	clock bot.Clock,
	ids bot.IDGenerator,
	verifyToken string,
	logger *zap.Logger,
) *Server {
	s := &Server{
		exec:        exec,
		groups:      groups,
		venues:      venues,
		settings:    svcSettings,
		catalog:     catalog,
		clock:       clock,
		ids:         ids,
		verifyToken: verifyToken,
		logger:      logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Post("/webhook/whatsapp", s.receiveWebhook)
	r.Get("/webhook/whatsapp", s.verifyWebhook)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/venues", func(r chi.Router) {
			r.Get("/", s.listVenues)
			r.Post("/", s.createVenue)
		})
		r.Route("/groups", func(r chi.Router) {
			r.Get("/", s.listGroups)
			r.Get("/{group_id}", s.getGroup)
			r.Post("/{group_id}/end", s.endGroup)
		})
		r.Route("/settings", func(r chi.Router) {
			r.Get("/", s.getSettings)
			r.Put("/", s.updateSettings)
		})
		r.Post("/responses/reload", s.reloadResponses)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listVenues(w http.ResponseWriter, r *http.Request) {
	venues, err := s.venues.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list venues")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"venues": venues})
}

type createVenueRequest struct {
	Name      string  `json:"name"`
	Address   string  `json:"address"`
	Area      string  `json:"area"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (s *Server) createVenue(w http.ResponseWriter, r *http.Request) {
	var req createVenueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || req.Area == "" {
		writeError(w, http.StatusBadRequest, "name and area are required")
		return
	}
	id, err := s.ids.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate id")
		return
	}
	venue, err := s.venues.Create(r.Context(), bot.Venue{
		ID:        id,
		Name:      req.Name,
		Address:   req.Address,
		Area:      req.Area,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Active:    true,
		CreatedAt: s.clock.Now(),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create venue")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"venue": venue})
}

func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	filter := bot.GroupFilter{Area: r.URL.Query().Get("area")}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Statuses = []bot.GroupStatus{bot.GroupStatus(status)}
	}
	groups, err := s.groups.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list groups")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

func (s *Server) getGroup(w http.ResponseWriter, r *http.Request) {
	group, err := s.groups.Get(r.Context(), chi.URLParam(r, "group_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "group not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"group": group})
}

// endGroup force-ends an active crawl. The actual teardown runs async so the
// members still get their farewell messages.
func (s *Server) endGroup(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "group_id")
	group, err := s.groups.Get(r.Context(), groupID)
	if err != nil {
		writeError(w, http.StatusNotFound, "group not found")
		return
	}
	if group.Status != bot.GroupActive {
		writeError(w, http.StatusConflict, "group is not active")
		return
	}
	task, err := bot.NewTask(bot.TaskEndSession, bot.EndSessionPayload{GroupID: groupID})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build task")
		return
	}
	if err := s.exec.Submit(r.Context(), task); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to schedule end")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "ending"})
}

func (s *Server) getSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"settings": s.settings.Snapshot()})
}

func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	var values map[string]string
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil || len(values) == 0 {
		writeError(w, http.StatusBadRequest, "expected a settings object")
		return
	}
	for key, value := range values {
		if err := s.settings.Set(r.Context(), key, value); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to save settings")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": s.settings.Snapshot()})
}

func (s *Server) reloadResponses(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.Reload(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reload responses")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/lexicore/internal/bus"
	"github.com/nidhogg/lexicore/internal/catalog"
	"github.com/nidhogg/lexicore/internal/coordinator"
	"github.com/nidhogg/lexicore/internal/gateway"
	"github.com/nidhogg/lexicore/internal/review"
	"github.com/nidhogg/lexicore/internal/sediment"
	"github.com/nidhogg/lexicore/internal/synthesis"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	defaultSessionSize = 5

	// source tags events the API publishes.
	source = "api"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	core      *coordinator.Coordinator
	announcer *gateway.Announcer
	relay     *bus.RedisRelay
	logger    *zap.Logger
}

// NewHandler creates a new API handler. announcer and relay may be nil.
func NewHandler(core *coordinator.Coordinator, announcer *gateway.Announcer, relay *bus.RedisRelay, logger *zap.Logger) *Handler {
	return &Handler{
		core:      core,
		announcer: announcer,
		relay:     relay,
		logger:    logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		// Catalog
		r.Get("/senses", h.listSenses)
		r.Get("/senses/{id}", h.getSense)

		// Review
		r.Get("/learners/{learnerID}/due", h.dueSenses)
		r.Get("/learners/{learnerID}/mastery", h.listMastery)
		r.Get("/learners/{learnerID}/mastery/{senseID}", h.getMastery)
		r.Post("/sessions", h.createSession)
		r.Get("/sessions/{id}", h.getSession)
		r.Post("/sessions/{id}/games/{gameID}/answer", h.submitAnswer)
		r.Post("/sessions/{id}/complete", h.completeSession)

		// Sedimentation
		r.Post("/feedback", h.submitFeedback)
		r.Post("/reports", h.submitReport)
		r.Post("/discoveries", h.claimDiscovery)
		r.Get("/meta/{targetID}", h.getMeta)
		r.Get("/meta/{targetID}/reports", h.listReports)
		r.Post("/meta/{targetID}/usage", h.recordUsage)

		// Synthesis
		r.Post("/synthesis", h.resolveSynthesis)
		r.Get("/synthesis/stats", h.synthesisStats)

		// Diagnostics
		r.Get("/bus/log", h.busLog)
		r.Get("/bus/relay", h.busRelay)
		r.Get("/announcements", h.listAnnouncements)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "lexicore"})
}

func (h *Handler) listSenses(w http.ResponseWriter, r *http.Request) {
	senses, err := h.core.Catalog.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	level, err := queryLevel(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if level != 0 {
		filtered := make([]*catalog.Sense, 0, len(senses))
		for _, s := range senses {
			if s.Level == level {
				filtered = append(filtered, s)
			}
		}
		senses = filtered
	}
	writeJSON(w, http.StatusOK, senses)
}

func (h *Handler) getSense(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, err := h.core.Catalog.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]interface{}{"sense": s}
	if m, ok := h.core.Scorer.GetMetaData(id); ok {
		resp["meta"] = m
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) dueSenses(w http.ResponseWriter, r *http.Request) {
	learnerID := chi.URLParam(r, "learnerID")
	count := queryInt(r, "count", defaultSessionSize)
	level, err := queryLevel(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	ids, err := catalog.IDs(r.Context(), h.core.Catalog, level)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"learner_id": learnerID,
		"due":        h.core.Scheduler.SelectDue(learnerID, ids, count),
	})
}

func (h *Handler) listMastery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.core.Scheduler.MasteryFor(chi.URLParam(r, "learnerID")))
}

func (h *Handler) getMastery(w http.ResponseWriter, r *http.Request) {
	m, ok := h.core.Scheduler.Mastery(chi.URLParam(r, "learnerID"), chi.URLParam(r, "senseID"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "mastery record not found"})
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type createSessionRequest struct {
	LearnerID string   `json:"learner_id"`
	SenseIDs  []string `json:"sense_ids"`
	Count     int      `json:"count"`
	Level     string   `json:"level"`
}

// createSession starts a session over the given senses, or over the
// learner's due senses when none are given.
func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.LearnerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "learner_id is required"})
		return
	}

	ids := req.SenseIDs
	if len(ids) == 0 {
		var level catalog.CEFR
		if req.Level != "" {
			lv, err := catalog.ParseCEFR(req.Level)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}
			level = lv
		}
		all, err := catalog.IDs(r.Context(), h.core.Catalog, level)
		if err != nil {
			writeError(w, err)
			return
		}
		count := req.Count
		if count <= 0 {
			count = defaultSessionSize
		}
		ids = h.core.Scheduler.SelectDue(req.LearnerID, all, count)
		if len(ids) == 0 {
			writeJSON(w, http.StatusOK, map[string]interface{}{"session": nil, "message": "nothing due"})
			return
		}
	}

	sess, err := h.core.Scheduler.CreateSession(r.Context(), req.LearnerID, ids)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSessionView(sess))
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.core.Scheduler.Session(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, review.ErrSessionNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(sess))
}

type answerRequest struct {
	Answer    string `json:"answer"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

func (h *Handler) submitAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	a := &review.Answer{
		SessionID: chi.URLParam(r, "id"),
		GameID:    chi.URLParam(r, "gameID"),
		Answer:    req.Answer,
		Elapsed:   time.Duration(req.ElapsedMs) * time.Millisecond,
	}
	h.core.Bus.Send(r.Context(), bus.AnswerSubmitted, a, source)
	g, handled, err := a.Result()
	if !handled {
		h.logger.Error("answer not consumed", zap.String("session", a.SessionID))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "answer was not processed"})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *Handler) completeSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.core.Scheduler.CompleteSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(sess))
}

func (h *Handler) submitFeedback(w http.ResponseWriter, r *http.Request) {
	var fb sediment.Feedback
	if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	h.core.Bus.Send(r.Context(), bus.FeedbackSubmitted, &fb, source)
	m, handled, err := fb.Result()
	if !handled {
		h.logger.Error("feedback not consumed", zap.String("target", fb.TargetID))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "feedback was not processed"})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type reportRequest struct {
	UserID      string                  `json:"user_id"`
	TargetID    string                  `json:"target_id"`
	Category    sediment.ReportCategory `json:"category"`
	Description string                  `json:"description"`
}

func (h *Handler) submitReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	rep, err := h.core.Scorer.SubmitReport(r.Context(), req.UserID, req.TargetID, req.Category, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rep)
}

type discoveryRequest struct {
	UserID   string              `json:"user_id"`
	TargetID string              `json:"target_id"`
	Kind     sediment.TargetKind `json:"kind"`
}

func (h *Handler) claimDiscovery(w http.ResponseWriter, r *http.Request) {
	var req discoveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.UserID == "" || req.TargetID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id and target_id are required"})
		return
	}
	m, first := h.core.Scorer.ClaimDiscovery(r.Context(), req.TargetID, req.Kind, req.UserID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"meta": m, "first": first})
}

func (h *Handler) getMeta(w http.ResponseWriter, r *http.Request) {
	m, ok := h.core.Scorer.GetMetaData(chi.URLParam(r, "targetID"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no metadata for target"})
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) listReports(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.core.Scorer.Reports(chi.URLParam(r, "targetID")))
}

func (h *Handler) recordUsage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind sediment.TargetKind `json:"kind"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, h.core.Scorer.RecordUsage(r.Context(), chi.URLParam(r, "targetID"), req.Kind))
}

type synthesisRequest struct {
	InputIDs []string `json:"input_ids"`
}

func (h *Handler) resolveSynthesis(w http.ResponseWriter, r *http.Request) {
	var req synthesisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	e, cached, err := h.core.Resolver.Resolve(r.Context(), req.InputIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entry": e, "cached": cached})
}

func (h *Handler) synthesisStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.core.Cache.Stats())
}

func (h *Handler) busLog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.core.Bus.Log())
}

func (h *Handler) busRelay(w http.ResponseWriter, r *http.Request) {
	if h.relay == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "redis relay not configured"})
		return
	}
	msgs, err := h.relay.Tail(r.Context(), int64(queryInt(r, "count", 50)))
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) listAnnouncements(w http.ResponseWriter, r *http.Request) {
	if h.announcer == nil {
		writeJSON(w, http.StatusOK, []*gateway.Announcement{})
		return
	}
	writeJSON(w, http.StatusOK, h.announcer.History(queryInt(r, "limit", 0)))
}

// queryLevel reads an optional CEFR filter; the zero level means any.
func queryLevel(r *http.Request) (catalog.CEFR, error) {
	lv := r.URL.Query().Get("level")
	if lv == "" {
		return 0, nil
	}
	return catalog.ParseCEFR(lv)
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// writeError maps engine errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, review.ErrSessionNotFound),
		errors.Is(err, review.ErrGameNotFound),
		errors.Is(err, catalog.ErrSenseNotFound):
		status = http.StatusNotFound
	case errors.Is(err, review.ErrGameAnswered),
		errors.Is(err, review.ErrSessionCompleted),
		errors.Is(err, sediment.ErrDuplicateVote):
		status = http.StatusConflict
	case errors.Is(err, review.ErrEmptySession),
		errors.Is(err, sediment.ErrInvalidVote),
		errors.Is(err, sediment.ErrInvalidReport),
		errors.Is(err, synthesis.ErrEmptyInput):
		status = http.StatusBadRequest
	case errors.Is(err, synthesis.ErrNoSynthesizer):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/Krimson/fetal-monitory/extractor/internal/session"
	"github.com/Krimson/fetal-monitory/extractor/internal/signal"
	"github.com/Krimson/fetal-monitory/extractor/internal/sink"
	"github.com/Krimson/fetal-monitory/extractor/internal/store"
)

// Engine - операции движка сессий, доступные через REST
type Engine interface {
	Accumulate(ctx context.Context, sessionID string, m signal.Modality, timeSec, value float64) error
	ProcessBatch(ctx context.Context, sessionID string) (*session.Result, error)
	Reset(ctx context.Context, sessionID string) error
	History(sessionID string) ([]session.Row, bool)
	Prediction(sessionID string) (float64, bool)
	Sessions() []string
	Analyze(ctx context.Context, sessionID string, bpm, uterus signal.Series) (*session.Result, error)
}

// Handler обрабатывает HTTP запросы онлайн-сессий и офлайн-анализа
type Handler struct {
	engine    Engine
	cache     store.CacheStore
	repo      store.Repository // nil - архив отключен
	publisher sink.Publisher   // nil - результаты REST не рассылаются

	analysisTTL time.Duration
}

// NewHandler создает HTTP обработчик. cache обязателен, repo и publisher могут быть nil.
func NewHandler(engine Engine, cache store.CacheStore, repo store.Repository, publisher sink.Publisher, analysisTTL time.Duration) *Handler {
	return &Handler{
		engine:      engine,
		cache:       cache,
		repo:        repo,
		publisher:   publisher,
		analysisTTL: analysisTTL,
	}
}

// RegisterRoutes регистрирует маршруты в роутере
func (h *Handler) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix("/api/sessions").Subrouter()

	api.HandleFunc("", h.ListSessions).Methods("GET")
	api.HandleFunc("/{id}/samples", h.AddSamples).Methods("POST")
	api.HandleFunc("/{id}/process", h.ProcessSession).Methods("POST")
	api.HandleFunc("/{id}/reset", h.ResetSession).Methods("POST")
	api.HandleFunc("/{id}/features", h.GetFeatures).Methods("GET")
	api.HandleFunc("/{id}/prediction", h.GetPrediction).Methods("GET")
	api.HandleFunc("/{id}/data", h.GetSessionData).Methods("GET")

	archive := router.PathPrefix("/api/archive").Subrouter()
	archive.HandleFunc("", h.ListArchive).Methods("GET")
	archive.HandleFunc("/{id}", h.GetArchive).Methods("GET")

	offline := router.PathPrefix("/api/offline").Subrouter()
	offline.HandleFunc("/upload", h.UploadDualCSV).Methods("POST")
	offline.HandleFunc("/decision", h.HandleDecision).Methods("POST")
}

// SampleRequest - один отсчет, переданный через REST
type SampleRequest struct {
	Metric  string  `json:"metric"`
	TimeSec float64 `json:"time_sec"`
	Value   float64 `json:"value"`
}

// AddSamples добавляет отсчеты в буферы сессии без обработки
// @Summary Добавить отсчеты
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "ID сессии"
// @Param samples body []SampleRequest true "Отсчеты (metric: fhr | uc)"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Router /api/sessions/{id}/samples [post]
func (h *Handler) AddSamples(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	var req []SampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	modalities := make([]signal.Modality, len(req))
	for i, s := range req {
		m, err := signal.ParseModality(s.Metric)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		modalities[i] = m
	}

	for i, s := range req {
		if err := h.engine.Accumulate(r.Context(), sessionID, modalities[i], s.TimeSec, s.Value); err != nil {
			respondEngineError(w, sessionID, err)
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"accepted":   len(req),
	})
}

// ProcessSession обрабатывает накопленные буферы сессии
// @Summary Обработать батч сессии
// @Tags Sessions
// @Produce json
// @Param id path string true "ID сессии"
// @Success 200 {object} session.Result
// @Failure 429 {object} map[string]interface{}
// @Router /api/sessions/{id}/process [post]
func (h *Handler) ProcessSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	res, err := h.engine.ProcessBatch(r.Context(), sessionID)
	if err != nil {
		respondEngineError(w, sessionID, err)
		return
	}

	if h.publisher != nil {
		if err := h.publisher.Publish(r.Context(), res); err != nil {
			log.Printf("[WARN] Failed to publish result: session=%s, error=%v", sessionID, err)
		}
	}

	respondJSON(w, http.StatusOK, res)
}

// ResetSession очищает буферы, историю и предсказание сессии
// @Summary Сбросить сессию
// @Tags Sessions
// @Produce json
// @Param id path string true "ID сессии"
// @Success 200 {object} map[string]interface{}
// @Router /api/sessions/{id}/reset [post]
func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	if err := h.engine.Reset(r.Context(), sessionID); err != nil {
		respondEngineError(w, sessionID, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message":    "Session reset successfully",
		"session_id": sessionID,
		"success":    true,
	})
}

// GetFeatures возвращает историю признаков сессии
// GET /api/sessions/{id}/features
func (h *Handler) GetFeatures(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	rows, ok := h.engine.History(sessionID)
	if !ok {
		respondError(w, http.StatusNotFound, "Session not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"count":      len(rows),
		"rows":       rows,
	})
}

// GetPrediction возвращает последнее предсказание сессии
// GET /api/sessions/{id}/prediction
func (h *Handler) GetPrediction(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	if _, ok := h.engine.History(sessionID); !ok {
		respondError(w, http.StatusNotFound, "Session not found")
		return
	}
	prediction, available := h.engine.Prediction(sessionID)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"prediction": prediction,
		"available":  available,
	})
}

// ListSessions возвращает идентификаторы известных сессий
// GET /api/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	ids := h.engine.Sessions()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": ids,
		"count":    len(ids),
	})
}

// GetSessionData возвращает закэшированные данные сессии
// GET /api/sessions/{id}/data
func (h *Handler) GetSessionData(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	data, err := h.cache.GetSessionData(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Session data not found")
			return
		}
		log.Printf("[ERROR] Failed to get session data %s: %v", sessionID, err)
		respondError(w, http.StatusInternalServerError, "Failed to get session data")
		return
	}

	respondJSON(w, http.StatusOK, data)
}

// ListArchive возвращает сохраненные сессии
// GET /api/archive?limit=50&offset=0
func (h *Handler) ListArchive(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		respondError(w, http.StatusServiceUnavailable, "Archive is not configured")
		return
	}

	limit := getQueryInt(r, "limit", 50)
	offset := getQueryInt(r, "offset", 0)

	sessions, err := h.repo.ListSessions(r.Context(), limit, offset)
	if err != nil {
		log.Printf("[ERROR] Failed to list archived sessions: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"limit":    limit,
		"offset":   offset,
		"count":    len(sessions),
	})
}

// GetArchive возвращает сохраненную сессию
// GET /api/archive/{id}
func (h *Handler) GetArchive(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		respondError(w, http.StatusServiceUnavailable, "Archive is not configured")
		return
	}

	sessionID := mux.Vars(r)["id"]
	archive, err := h.repo.GetArchive(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Session not found")
			return
		}
		log.Printf("[ERROR] Failed to get archived session %s: %v", sessionID, err)
		respondError(w, http.StatusInternalServerError, "Failed to get session")
		return
	}

	respondJSON(w, http.StatusOK, archive)
}

// ===== Утилиты =====

// statusForError переводит ошибки движка в HTTP статус
func statusForError(err error) int {
	switch {
	case errors.Is(err, session.ErrEmptySessionID), errors.Is(err, signal.ErrInvalidSample):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respondEngineError(w http.ResponseWriter, sessionID string, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		log.Printf("[ERROR] Session request failed: session=%s, error=%v", sessionID, err)
	}
	respondError(w, status, err.Error())
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[ERROR] Failed to encode JSON response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":  message,
		"status": status,
	})
}

func getQueryInt(r *http.Request, key string, defaultValue int) int {
	valueStr := r.URL.Query().Get(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

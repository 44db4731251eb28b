package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/Krimson/fetal-monitory/extractor/internal/session"
	"github.com/Krimson/fetal-monitory/extractor/internal/signal"
	"github.com/Krimson/fetal-monitory/extractor/internal/store"
)

const maxUploadMemory = 32 << 20

// UploadResponse - результат офлайн-анализа пары CSV
type UploadResponse struct {
	SessionID string          `json:"session_id"`
	Result    *session.Result `json:"result"`
}

// SaveDecision - решение врача по результату офлайн-анализа
type SaveDecision struct {
	SessionID string `json:"session_id"`
	Save      bool   `json:"save"`
}

// DecisionResponse - результат применения решения
type DecisionResponse struct {
	SessionID string `json:"session_id"`
	Saved     bool   `json:"saved"`
	Message   string `json:"message"`
}

// UploadDualCSV загружает и обрабатывает CSV файлы с FHR и UC данными
// @Summary Загрузить CSV файлы для анализа
// @Description Загружает два CSV файла (BPM и UC), выполняет фильтрацию, извлечение признаков и предсказание
// @Tags Offline Analysis
// @Accept multipart/form-data
// @Produce json
// @Param bpm_file formData file true "CSV файл с данными FHR (time_sec,value)"
// @Param uc_file formData file true "CSV файл с данными UC (time_sec,value)"
// @Param session_id formData string false "ID сессии (генерируется автоматически если не указан)"
// @Success 200 {object} UploadResponse
// @Failure 400 {object} map[string]interface{}
// @Failure 500 {object} map[string]interface{}
// @Router /api/offline/upload [post]
func (h *Handler) UploadDualCSV(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		respondError(w, http.StatusBadRequest, "Failed to parse form: "+err.Error())
		return
	}

	bpm, err := readFormCSV(r, "bpm_file")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	uterus, err := readFormCSV(r, "uc_file")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessionID := r.FormValue("session_id")
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	log.Printf("[INFO] Offline analysis: session=%s, bpm_points=%d, uc_points=%d", sessionID, len(bpm), len(uterus))

	res, err := h.engine.Analyze(r.Context(), sessionID, bpm, uterus)
	if err != nil {
		respondEngineError(w, sessionID, err)
		return
	}

	if err := h.cache.SaveAnalysis(r.Context(), res, h.analysisTTL); err != nil {
		log.Printf("[ERROR] Failed to cache analysis %s: %v", sessionID, err)
		respondError(w, http.StatusInternalServerError, "Failed to store analysis")
		return
	}

	respondJSON(w, http.StatusOK, UploadResponse{SessionID: sessionID, Result: res})
}

// HandleDecision обрабатывает решение о сохранении данных сессии
// @Summary Принять решение о сохранении
// @Description Сохраняет результат анализа в архив или удаляет его из кэша
// @Tags Offline Analysis
// @Accept json
// @Produce json
// @Param request body SaveDecision true "Решение о сохранении"
// @Success 200 {object} DecisionResponse
// @Failure 400 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/offline/decision [post]
func (h *Handler) HandleDecision(w http.ResponseWriter, r *http.Request) {
	var decision SaveDecision
	if err := json.NewDecoder(r.Body).Decode(&decision); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if decision.SessionID == "" {
		respondError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	res, err := h.cache.GetAnalysis(r.Context(), decision.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Analysis not found or expired")
			return
		}
		log.Printf("[ERROR] Failed to load analysis %s: %v", decision.SessionID, err)
		respondError(w, http.StatusInternalServerError, "Failed to load analysis")
		return
	}

	response := DecisionResponse{SessionID: decision.SessionID, Message: "Analysis discarded"}
	if decision.Save {
		if h.repo == nil {
			respondError(w, http.StatusServiceUnavailable, "Archive is not configured")
			return
		}
		if err := h.repo.SaveArchive(r.Context(), decision.SessionID, store.ArchiveFromResult(res, "offline")); err != nil {
			log.Printf("[ERROR] Failed to archive session %s: %v", decision.SessionID, err)
			respondError(w, http.StatusInternalServerError, "Failed to save session")
			return
		}
		response.Saved = true
		response.Message = "Session saved successfully"
	}

	if err := h.cache.DeleteSession(r.Context(), decision.SessionID); err != nil {
		log.Printf("[WARN] Failed to drop cached analysis %s: %v", decision.SessionID, err)
	}

	log.Printf("[INFO] Offline decision: session=%s, saved=%t", decision.SessionID, response.Saved)
	respondJSON(w, http.StatusOK, response)
}

func readFormCSV(r *http.Request, field string) (signal.Series, error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", field, err)
	}
	defer file.Close()

	return signal.ReadCSV(file, field)
}

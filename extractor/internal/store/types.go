package store

import (
	"errors"
	"time"

	"github.com/Krimson/fetal-monitory/extractor/internal/features"
	"github.com/Krimson/fetal-monitory/extractor/internal/session"
	"github.com/Krimson/fetal-monitory/extractor/internal/signal"
)

// ErrNotFound - запись отсутствует в хранилище
var ErrNotFound = errors.New("not found")

// Metrics содержит текущие скалярные признаки сессии и последнее предсказание
type Metrics struct {
	SessionID             string         `json:"session_id"`
	Status                session.Status `json:"status"`
	Prediction            float64        `json:"prediction"`
	STV                   float64        `json:"stv"`
	LTV                   float64        `json:"ltv"`
	BaselineHeartRate     float64        `json:"baseline_heart_rate"`
	TotalAccelerations    int            `json:"total_accelerations"`
	TotalDecelerations    int            `json:"total_decelerations"`
	LateDecelerations     int            `json:"late_decelerations"`
	LateDecelerationRatio float64        `json:"late_deceleration_ratio"`
	TotalContractions     int            `json:"total_contractions"`
	AccelDecelRatio       float64        `json:"accel_decel_ratio"`
	STVTrend              float64        `json:"stv_trend"`
	BPMTrend              float64        `json:"bpm_trend"`
	DataPoints            int            `json:"data_points"`
	TimeSpanSec           float64        `json:"time_span_sec"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

// Event - клиническое событие во времени записи (секунды от начала)
type Event struct {
	ID        int64              `json:"id,omitempty"`
	SessionID string             `json:"session_id"`
	Type      features.EventKind `json:"type"`
	StartTime float64            `json:"start_time"`
	EndTime   float64            `json:"end_time"`
	Duration  float64            `json:"duration"`
	Amplitude float64            `json:"amplitude"`
	IsLate    bool               `json:"is_late,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// TimeSeriesType - вид поокнного ряда
type TimeSeriesType string

const (
	TimeSeriesSTV TimeSeriesType = "stv"
	TimeSeriesLTV TimeSeriesType = "ltv"
)

// TimeSeriesPoint - значение показателя в одном окне
type TimeSeriesPoint struct {
	SessionID      string         `json:"session_id"`
	Type           TimeSeriesType `json:"type"`
	TimeIndex      int            `json:"time_index"`
	Value          float64        `json:"value"`
	WindowDuration float64        `json:"window_duration"`
}

// SessionData - все закэшированные данные сессии
type SessionData struct {
	Metrics        *Metrics          `json:"metrics"`
	Events         []Event           `json:"events"`
	TimeSeriesSTV  []TimeSeriesPoint `json:"time_series_stv"`
	TimeSeriesLTV  []TimeSeriesPoint `json:"time_series_ltv"`
	FilteredBPM    signal.Series     `json:"filtered_bpm_data"`
	FilteredUterus signal.Series     `json:"filtered_uterus_data"`
}

// Archive - сохраненная в архив сессия
type Archive struct {
	Metrics    *Metrics          `json:"metrics"`
	Events     []Event           `json:"events"`
	TimeSeries []TimeSeriesPoint `json:"time_series"`
	Source     string            `json:"source"` // "online", "offline"
	SavedAt    time.Time         `json:"saved_at"`
}

// ArchivedSession - строка списка архивных сессий
type ArchivedSession struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Prediction float64   `json:"prediction"`
	DataPoints int       `json:"data_points"`
	SavedAt    time.Time `json:"saved_at"`
}

// MetricsFromResult переводит результат обработки батча в метрики
func MetricsFromResult(res *session.Result) *Metrics {
	r := res.Records
	updated := res.ProcessedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	return &Metrics{
		SessionID:             res.SessionID,
		Status:                res.Status,
		Prediction:            res.Prediction,
		STV:                   r.STV,
		LTV:                   r.LTV,
		BaselineHeartRate:     r.BaselineHeartRate,
		TotalAccelerations:    r.TotalAccelerations,
		TotalDecelerations:    r.TotalDecelerations,
		LateDecelerations:     r.LateDecelerations,
		LateDecelerationRatio: r.LateDecelerationRatio,
		TotalContractions:     r.TotalContractions,
		AccelDecelRatio:       r.AccelDecelRatio,
		STVTrend:              r.STVTrend,
		BPMTrend:              r.BPMTrend,
		DataPoints:            r.DataPoints,
		TimeSpanSec:           r.TimeSpanSec,
		UpdatedAt:             updated,
	}
}

// EventsFromResult переводит индексы событий во время записи.
// ЧСС-события пересчитываются по частоте ЧСС, схватки - по частоте маточной активности.
func EventsFromResult(res *session.Result) []Event {
	r := res.Records
	events := make([]Event, 0, len(r.Accelerations)+len(r.Decelerations)+len(r.Contractions))
	events = appendEvents(events, res, features.KindAcceleration, r.Accelerations, res.HeartRateFS)
	events = appendEvents(events, res, features.KindDeceleration, r.Decelerations, res.HeartRateFS)
	events = appendEvents(events, res, features.KindContraction, r.Contractions, res.UterineFS)
	return events
}

func appendEvents(dst []Event, res *session.Result, kind features.EventKind, src []features.Event, fs float64) []Event {
	if fs <= 0 {
		fs = 1
	}
	for _, e := range src {
		dst = append(dst, Event{
			SessionID: res.SessionID,
			Type:      kind,
			StartTime: float64(e.StartIndex) / fs,
			EndTime:   float64(e.EndIndex) / fs,
			Duration:  e.DurationSec,
			Amplitude: e.Amplitude,
			IsLate:    e.IsLate,
			CreatedAt: res.ProcessedAt,
		})
	}
	return dst
}

// TimeSeriesFromResult возвращает поокнные ряды STV и LTV
func TimeSeriesFromResult(res *session.Result) (stv, ltv []TimeSeriesPoint) {
	r := res.Records
	return seriesPoints(res.SessionID, TimeSeriesSTV, r.STVs, r.STVsWindowDuration),
		seriesPoints(res.SessionID, TimeSeriesLTV, r.LTVs, r.LTVsWindowDuration)
}

func seriesPoints(sessionID string, kind TimeSeriesType, values []float64, window float64) []TimeSeriesPoint {
	points := make([]TimeSeriesPoint, len(values))
	for i, v := range values {
		points[i] = TimeSeriesPoint{
			SessionID:      sessionID,
			Type:           kind,
			TimeIndex:      i,
			Value:          v,
			WindowDuration: window,
		}
	}
	return points
}

// ArchiveFromResult собирает архивную запись из результата обработки
func ArchiveFromResult(res *session.Result, source string) *Archive {
	stv, ltv := TimeSeriesFromResult(res)
	return &Archive{
		Metrics:    MetricsFromResult(res),
		Events:     EventsFromResult(res),
		TimeSeries: append(stv, ltv...),
		Source:     source,
		SavedAt:    time.Now(),
	}
}

// dedupeEvents оставляет события, чьего начала еще нет среди известных того же типа
func dedupeEvents(known []Event, incoming []Event) []Event {
	type key struct {
		kind  features.EventKind
		start float64
	}
	seen := make(map[key]struct{}, len(known)+len(incoming))
	for _, e := range known {
		seen[key{e.Type, e.StartTime}] = struct{}{}
	}

	fresh := make([]Event, 0, len(incoming))
	for _, e := range incoming {
		k := key{e.Type, e.StartTime}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		fresh = append(fresh, e)
	}
	return fresh
}

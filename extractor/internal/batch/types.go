package batch

import (
	"context"

	"github.com/Krimson/fetal-monitory/extractor/internal/signal"
)

// Sample - одна входящая точка телеметрии
type Sample struct {
	SessionID string          `json:"session_id"`
	TsMS      int64           `json:"ts_ms"`
	Metric    signal.Modality `json:"metric"`
	Value     float64         `json:"value"`
}

// Point представляет одну точку данных
type Point struct {
	TsMS  int64   // Временная метка в миллисекундах
	Value float64 // Значение измерения
}

// TimeSec переводит метку времени точки в секунды
func (p Point) TimeSec() float64 {
	return float64(p.TsMS) / 1000.0
}

// BatchKey уникально идентифицирует батч по сессии и модальности
type BatchKey struct {
	SessionID string
	Metric    signal.Modality
}

// Batch представляет собранный батч точек
type Batch struct {
	Key    BatchKey
	T0MS   int64 // Время первой точки в батче
	T1MS   int64 // Время последней точки в батче
	Points []Point
}

// Samples переводит точки батча в отсчеты сигнала
func (b Batch) Samples() []signal.Sample {
	out := make([]signal.Sample, len(b.Points))
	for i, p := range b.Points {
		out[i] = signal.Sample{TimeSec: p.TimeSec(), Value: p.Value}
	}
	return out
}

// Sink интерфейс для обработки готовых батчей
type Sink interface {
	Consume(ctx context.Context, b Batch) error
}

// currentBatch - внутренняя структура для отслеживания текущего состояния батча
type currentBatch struct {
	Batch
	lastAddedMS int64 // Локальное время последнего добавления точки
}

func newCurrentBatch(key BatchKey) *currentBatch {
	return &currentBatch{
		Batch: Batch{
			Key:    key,
			Points: make([]Point, 0),
		},
	}
}

// addPoint добавляет точку и обновляет временные границы
func (cb *currentBatch) addPoint(point Point, nowMS int64) {
	if len(cb.Points) == 0 {
		cb.T0MS = point.TsMS
		cb.T1MS = point.TsMS
	} else {
		if point.TsMS < cb.T0MS {
			cb.T0MS = point.TsMS
		}
		if point.TsMS > cb.T1MS {
			cb.T1MS = point.TsMS
		}
	}

	cb.Points = append(cb.Points, point)
	cb.lastAddedMS = nowMS
}

func (cb *currentBatch) shouldFlushBySize(maxSamples int) bool {
	return len(cb.Points) >= maxSamples
}

// spanWith возвращает ширину батча с учетом новой точки
func (cb *currentBatch) spanWith(tsMS int64) int64 {
	lo, hi := cb.T0MS, cb.T1MS
	if tsMS < lo {
		lo = tsMS
	}
	if tsMS > hi {
		hi = tsMS
	}
	return hi - lo
}

// clone создает копию батча для отправки в sink
func (cb *currentBatch) clone() Batch {
	pointsCopy := make([]Point, len(cb.Points))
	copy(pointsCopy, cb.Points)

	return Batch{
		Key:    cb.Key,
		T0MS:   cb.T0MS,
		T1MS:   cb.T1MS,
		Points: pointsCopy,
	}
}

func (cb *currentBatch) reset() {
	cb.T0MS = 0
	cb.T1MS = 0
	cb.Points = cb.Points[:0]
	cb.lastAddedMS = 0
}

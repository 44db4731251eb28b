package features

import (
	"gonum.org/v1/gonum/floats"
)

// EventKind - тип клинического события
type EventKind string

const (
	KindAcceleration EventKind = "acceleration"
	KindDeceleration EventKind = "deceleration"
	KindContraction  EventKind = "contraction"
)

// Event - участок сигнала, где пороговое условие выполняется не меньше минимальной длительности.
// Индексы относятся к очищенному сигналу, использованному при детекции.
type Event struct {
	StartIndex  int     `json:"start"`
	EndIndex    int     `json:"end"`
	DurationSec float64 `json:"duration"`
	Amplitude   float64 `json:"amplitude"`
	IsLate      bool    `json:"is_late"`
}

// HeartRateEventConfig - параметры детекции акселераций и децелераций
type HeartRateEventConfig struct {
	Threshold      float64 `toml:"threshold"`        // Отклонение от базальной ЧСС (уд/мин)
	MinDurationSec float64 `toml:"min_duration_sec"` // Минимальная длительность (сек)
}

// ContractionConfig - параметры детекции схваток
type ContractionConfig struct {
	Threshold      float64 `toml:"threshold"`        // Порог нормированной амплитуды [0, 1]
	MinDurationSec float64 `toml:"min_duration_sec"` // Минимальная длительность (сек)
	RangeFloor     float64 `toml:"range_floor"`      // Минимальный размах сигнала
}

// DefaultHeartRateEvents - ±15 уд/мин не меньше 15 секунд
func DefaultHeartRateEvents() HeartRateEventConfig {
	return HeartRateEventConfig{Threshold: 15, MinDurationSec: 15}
}

// DefaultContractions - 20% размаха не меньше 20 секунд
func DefaultContractions() ContractionConfig {
	return ContractionConfig{Threshold: 0.2, MinDurationSec: 20, RangeFloor: 1e-8}
}

// segments находит интервалы, где mask истинна.
// Начало - индекс перед подъемом, конец - индекс перед спадом; незакрытый интервал
// заканчивается длиной сигнала. Если сигнал истинен с первого отсчета и затем
// спадает, добавляется синтетическое начало 0.
func segments(mask []bool, fs, minDuration float64) []Event {
	if len(mask) < 2 || fs <= 0 {
		return []Event{}
	}

	var starts, ends []int
	for i := 0; i < len(mask)-1; i++ {
		switch {
		case !mask[i] && mask[i+1]:
			starts = append(starts, i)
		case mask[i] && !mask[i+1]:
			ends = append(ends, i)
		}
	}
	if mask[0] && len(ends) > 0 {
		starts = append([]int{0}, starts...)
	}

	events := []Event{}
	pairs := min(len(starts), len(ends)+1)
	for i := 0; i < pairs; i++ {
		start := starts[i]
		end := len(mask)
		if i < len(ends) {
			end = ends[i]
		}
		if end <= start {
			continue
		}

		duration := float64(end-start) / fs
		if duration >= minDuration {
			events = append(events, Event{StartIndex: start, EndIndex: end, DurationSec: duration})
		}
	}
	return events
}

// DetectDecelerations находит участки ЧСС ниже baseline - Threshold.
// Амплитуда = baseline - минимум участка.
func DetectDecelerations(bpm []float64, baseline, fs float64, cfg HeartRateEventConfig) []Event {
	mask := make([]bool, len(bpm))
	for i, v := range bpm {
		mask[i] = v < baseline-cfg.Threshold
	}

	events := segments(mask, fs, cfg.MinDurationSec)
	for i := range events {
		events[i].Amplitude = baseline - floats.Min(bpm[events[i].StartIndex:events[i].EndIndex])
	}
	return events
}

// DetectAccelerations находит участки ЧСС выше baseline + Threshold.
// Амплитуда = максимум участка - baseline.
func DetectAccelerations(bpm []float64, baseline, fs float64, cfg HeartRateEventConfig) []Event {
	mask := make([]bool, len(bpm))
	for i, v := range bpm {
		mask[i] = v > baseline+cfg.Threshold
	}

	events := segments(mask, fs, cfg.MinDurationSec)
	for i := range events {
		events[i].Amplitude = floats.Max(bpm[events[i].StartIndex:events[i].EndIndex]) - baseline
	}
	return events
}

// DetectContractions находит схватки по сигналу, нормированному к [0, 1].
// Амплитуда считается по исходному (ненормированному) сигналу.
// Постоянный сигнал (размах меньше RangeFloor) схваток не содержит.
func DetectContractions(uc []float64, fs float64, cfg ContractionConfig) []Event {
	if len(uc) < 2 || fs <= 0 {
		return []Event{}
	}

	lo, hi := floats.Min(uc), floats.Max(uc)
	span := hi - lo
	if span < cfg.RangeFloor {
		return []Event{}
	}

	mask := make([]bool, len(uc))
	for i, v := range uc {
		mask[i] = (v-lo)/span > cfg.Threshold
	}

	events := segments(mask, fs, cfg.MinDurationSec)
	for i := range events {
		segment := uc[events[i].StartIndex:events[i].EndIndex]
		events[i].Amplitude = floats.Max(segment) - floats.Min(segment)
	}
	return events
}

package features

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/Krimson/fetal-monitory/extractor/internal/preprocess"
)

const (
	// stvWindowSec - длительность окна кратковременной вариабельности
	stvWindowSec = 3.75
	// ltvWindowSec - длительность окна долговременной вариабельности
	ltvWindowSec = 60.0
	// rrEpsilon защищает от деления на ноль при переводе ЧСС в RR
	rrEpsilon = 1e-18
)

// Variability - значение показателя вариабельности вместе с поокнными значениями
type Variability struct {
	Value     float64   `json:"value"`
	Windows   []float64 `json:"windows"`
	WindowSec float64   `json:"window_sec"`
}

func emptyVariability() Variability {
	return Variability{Windows: []float64{}}
}

// RRIntervals переводит ЧСС (уд/мин) в RR-интервалы (мс)
func RRIntervals(bpm []float64) []float64 {
	rr := make([]float64, len(bpm))
	for i, v := range bpm {
		rr[i] = 60000.0 / (v + rrEpsilon)
	}
	return rr
}

// windowSize переводит длительность окна в число отсчетов
func windowSize(sec, fs float64) int {
	return int(math.Round(sec * fs))
}

// ShortTermVariability - STV: среднее модулей разностей средних RR в соседних окнах 3.75 с.
// Неполное последнее окно отбрасывается. Меньше двух окон - нулевой результат.
func ShortTermVariability(bpm []float64, fs float64) Variability {
	if fs <= 0 {
		return emptyVariability()
	}
	size := windowSize(stvWindowSec, fs)
	if size < 1 {
		return emptyVariability()
	}

	rr := RRIntervals(bpm)
	count := len(rr) / size
	if count < 2 {
		return emptyVariability()
	}

	means := make([]float64, count)
	for w := 0; w < count; w++ {
		means[w] = stat.Mean(rr[w*size:(w+1)*size], nil)
	}

	diffs := make([]float64, count-1)
	for i := range diffs {
		diffs[i] = math.Abs(means[i+1] - means[i])
	}

	return Variability{
		Value:     stat.Mean(diffs, nil),
		Windows:   diffs,
		WindowSec: float64(size) / fs,
	}
}

// LongTermVariability - LTV: медиана размахов RR в минутных окнах
func LongTermVariability(bpm []float64, fs float64) Variability {
	if len(bpm) < 2 || fs <= 0 {
		return emptyVariability()
	}
	size := windowSize(ltvWindowSec, fs)
	if size < 1 {
		return emptyVariability()
	}

	rr := RRIntervals(bpm)
	count := len(rr) / size
	spans := make([]float64, count)
	for w := 0; w < count; w++ {
		window := rr[w*size : (w+1)*size]
		spans[w] = floats.Max(window) - floats.Min(window)
	}

	return Variability{
		Value:     preprocess.Median(spans),
		Windows:   spans,
		WindowSec: float64(size) / fs,
	}
}

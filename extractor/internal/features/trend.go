package features

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

const trendEpsilon = 1e-8

// Trend возвращает наклон МНК-прямой по последним windowSec·rate точкам ряда.
// Ось x = индекс · rate; при rate, не равном частоте ряда, это условные секунды.
func Trend(series []float64, windowSec, rate float64) float64 {
	size := int(math.Round(windowSec * rate))
	if size > len(series) || size <= 0 {
		size = len(series)
	}
	window := series[len(series)-size:]

	n := len(window)
	if n < 2 {
		return 0
	}

	x := make([]float64, n)
	for i := range x {
		x[i] = float64(i) * rate
	}
	xMean := stat.Mean(x, nil)
	yMean := stat.Mean(window, nil)

	var num, den float64
	for i := range window {
		dx := x[i] - xMean
		num += dx * (window[i] - yMean)
		den += dx * dx
	}
	return num / (den + trendEpsilon)
}

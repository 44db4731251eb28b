package preprocess

import (
	"math"
	"sort"
)

// frequencyProbe - число первых точек, по которым оценивается частота
const frequencyProbe = 10

// EstimateFrequency оценивает частоту дискретизации по первым 10 отсортированным меткам.
// При нехватке точек или отсутствии положительных интервалов возвращает defaultFS.
func EstimateFrequency(times []float64, defaultFS float64) float64 {
	if len(times) < frequencyProbe {
		return defaultFS
	}

	diffs := make([]float64, 0, frequencyProbe-1)
	for i := 1; i < frequencyProbe; i++ {
		if d := times[i] - times[i-1]; d > 0 {
			diffs = append(diffs, d)
		}
	}
	if len(diffs) == 0 {
		return defaultFS
	}

	step := Median(diffs)
	if step <= 0 || math.IsNaN(step) {
		return defaultFS
	}
	return 1.0 / step
}

// MedianWindow переводит окно в секундах в нечетное число отсчетов (минимум 3)
func MedianWindow(windowSec, fs float64) int {
	window := int(math.Min(math.Round(windowSec*fs), math.MaxInt32))
	if window < 3 {
		window = 3
	}
	if window%2 == 0 {
		window++
	}
	return window
}

// MedianFilter применяет скользящую медиану нечетной ширины.
// Края дополняются симметричным отражением, длина сигнала сохраняется.
func MedianFilter(values []float64, window int) []float64 {
	n := len(values)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	if window < 1 {
		window = 1
	}
	if window%2 == 0 {
		window++
	}
	// Окно шире сигнала после отражения ничего не добавляет
	if window > n {
		window = n
		if window%2 == 0 {
			window--
		}
	}

	half := window / 2
	buf := make([]float64, window)
	for i := 0; i < n; i++ {
		for k := -half; k <= half; k++ {
			buf[k+half] = values[reflect(i+k, n)]
		}
		sort.Float64s(buf)
		out[i] = buf[half]
	}
	return out
}

// reflect отображает индекс за границами массива симметрично (d c b a | a b c d)
func reflect(idx, n int) int {
	for idx < 0 || idx >= n {
		if idx < 0 {
			idx = -idx - 1
		} else {
			idx = 2*n - idx - 1
		}
	}
	return idx
}

// SuppressArtifacts заменяет короткие сегменты грубых артефактов глобальной медианой.
// Сегменты разделяются точками резкого скачка (|Δv|·fs > ThresholdDiff). Последний
// незакрытый сегмент не проверяется. Исходный срез не изменяется.
func SuppressArtifacts(values []float64, fs float64, p Profile) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	if !p.ArtifactsEnabled() || len(out) < 2 {
		return out
	}

	globalMedian := Median(out)

	splits := make([]int, 0)
	for i := 0; i < len(out)-1; i++ {
		if math.Abs(out[i+1]-out[i])*fs > p.ThresholdDiff {
			splits = append(splits, i)
		}
	}

	maxLen := p.ThresholdDel * float64(len(out))
	start := 0
	for _, idx := range splits {
		end := idx + 1
		segment := out[start:end]
		if float64(end-start) < maxLen &&
			math.Abs(Median(segment)-globalMedian) > globalMedian*p.ThresholdVal {
			for i := range segment {
				segment[i] = globalMedian
			}
		}
		start = end
	}

	return out
}

// Median возвращает медиану (среднее двух центральных для четной длины), 0 для пустого среза
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := n / 2
	if n%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

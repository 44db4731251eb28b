package preprocess

import (
	"sort"

	"github.com/Krimson/fetal-monitory/extractor/internal/signal"
)

// Result - очищенный сигнал с оценкой частоты дискретизации
type Result struct {
	Series signal.Series
	FS     float64

	// LowPassApplied false, если ФНЧ пропущен (короткий сигнал или ошибка проектирования)
	LowPassApplied bool
}

// Values возвращает значения очищенного сигнала
func (r Result) Values() []float64 {
	return r.Series.Values()
}

// Conditioner очищает накопленные буферы перед извлечением признаков
type Conditioner struct {
	defaultFS float64
}

// NewConditioner создает кондиционер с частотой по умолчанию для коротких сигналов
func NewConditioner(defaultFS float64) *Conditioner {
	if defaultFS <= 0 {
		defaultFS = DefaultFS
	}
	return &Conditioner{defaultFS: defaultFS}
}

// Condition выполняет полный конвейер очистки одной модальности:
// сортировка и удаление дубликатов, оценка частоты, медианный фильтр,
// подавление артефактов, ФНЧ Баттерворта с нулевой фазой.
func (c *Conditioner) Condition(raw signal.Series, p Profile) Result {
	if len(raw) == 0 {
		return Result{Series: signal.Series{}, FS: 0}
	}

	series := Normalize(raw)
	fs := EstimateFrequency(series.Times(), c.defaultFS)

	values, filtered := c.Clean(series.Values(), fs, p)
	for i := range series {
		series[i].Value = values[i]
	}

	return Result{
		Series:         series,
		FS:             fs,
		LowPassApplied: filtered,
	}
}

// Clean применяет фильтрацию к значениям с известной частотой
func (c *Conditioner) Clean(values []float64, fs float64, p Profile) ([]float64, bool) {
	if len(values) < 2 {
		out := make([]float64, len(values))
		copy(out, values)
		return out, false
	}

	out := MedianFilter(values, MedianWindow(p.MedianWindowSec, fs))
	out = SuppressArtifacts(out, fs, p)

	if len(out) <= 2*p.Order {
		return out, false
	}

	sos, err := Butterworth(p.Order, normalizedCutoff(p.CutoffHz, fs))
	if err != nil {
		return out, false
	}
	smoothed, err := FiltFilt(sos, out)
	if err != nil {
		return out, false
	}
	return smoothed, true
}

// normalizedCutoff нормирует частоту среза к Найквисту и ограничивает 0.99
func normalizedCutoff(cutoffHz, fs float64) float64 {
	nyquist := 0.5 * fs
	if nyquist <= 0 {
		return 0.99
	}
	return min(cutoffHz/nyquist, 0.99)
}

// Normalize сортирует точки по времени и удаляет повторы, оставляя первое вхождение
func Normalize(raw signal.Series) signal.Series {
	sorted := make(signal.Series, len(raw))
	copy(sorted, raw)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TimeSec < sorted[j].TimeSec
	})

	out := sorted[:0]
	for i, s := range sorted {
		if i > 0 && s.TimeSec == out[len(out)-1].TimeSec {
			continue
		}
		out = append(out, s)
	}
	return out
}

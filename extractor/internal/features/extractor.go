package features

import (
	"github.com/Krimson/fetal-monitory/extractor/internal/preprocess"
	"github.com/Krimson/fetal-monitory/extractor/internal/signal"
)

// Options - параметры агрегации признаков
type Options struct {
	// Summarize считает базальную ЧСС, STV и LTV по всему буферу (офлайн-анализ)
	Summarize bool `toml:"summarize"`

	DefaultBaseline float64 `toml:"default_baseline"` // Базальная ЧСС при отсутствии данных
	STVScopeSec     float64 `toml:"stv_scope_sec"`    // Окно для STV (последние 2 минуты)
	LTVScopeSec     float64 `toml:"ltv_scope_sec"`    // Окно для LTV и базальной ЧСС (10 минут)

	HeartRateEvents HeartRateEventConfig `toml:"heart_rate_events"`
	Contractions    ContractionConfig    `toml:"contractions"`

	// Тренды: окно в секундах и условная частота оси x
	STVTrendWindowSec float64 `toml:"stv_trend_window_sec"`
	STVTrendRate      float64 `toml:"stv_trend_rate"`
	BPMTrendWindowSec float64 `toml:"bpm_trend_window_sec"`
	BPMTrendRate      float64 `toml:"bpm_trend_rate"`
}

// DefaultOptions возвращает параметры онлайн-мониторинга
func DefaultOptions() Options {
	return Options{
		DefaultBaseline:   130,
		STVScopeSec:       120,
		LTVScopeSec:       600,
		HeartRateEvents:   DefaultHeartRateEvents(),
		Contractions:      DefaultContractions(),
		STVTrendWindowSec: 60,
		STVTrendRate:      stvWindowSec,
		BPMTrendWindowSec: 300,
		BPMTrendRate:      60,
	}
}

// Record - набор признаков одного обработанного батча
type Record struct {
	STV               float64 `json:"stv"`
	LTV               float64 `json:"ltv"`
	BaselineHeartRate float64 `json:"baseline_heart_rate"`

	Accelerations []Event `json:"accelerations"`
	Decelerations []Event `json:"decelerations"`
	Contractions  []Event `json:"contractions"`

	STVs               []float64 `json:"stvs"`
	STVsWindowDuration float64   `json:"stvs_window_duration"`
	LTVs               []float64 `json:"ltvs"`
	LTVsWindowDuration float64   `json:"ltvs_window_duration"`

	TotalDecelerations    int     `json:"total_decelerations"`
	LateDecelerations     int     `json:"late_decelerations"`
	LateDecelerationRatio float64 `json:"late_deceleration_ratio"`
	TotalAccelerations    int     `json:"total_accelerations"`
	AccelDecelRatio       float64 `json:"accel_decel_ratio"`
	TotalContractions     int     `json:"total_contractions"`

	STVTrend    float64 `json:"stv_trend"`
	BPMTrend    float64 `json:"bpm_trend"`
	DataPoints  int     `json:"data_points"`
	TimeSpanSec float64 `json:"time_span_sec"`
}

// ScalarNames - порядок скалярных признаков для классификатора и хранилищ
var ScalarNames = []string{
	"stv",
	"ltv",
	"baseline_heart_rate",
	"total_decelerations",
	"late_decelerations",
	"late_deceleration_ratio",
	"total_accelerations",
	"accel_decel_ratio",
	"total_contractions",
	"stv_trend",
	"bpm_trend",
	"data_points",
	"time_span_sec",
}

// Vector возвращает скалярные признаки (без событий и поокнных массивов)
func (r Record) Vector() map[string]float64 {
	return map[string]float64{
		"stv":                     r.STV,
		"ltv":                     r.LTV,
		"baseline_heart_rate":     r.BaselineHeartRate,
		"total_decelerations":     float64(r.TotalDecelerations),
		"late_decelerations":      float64(r.LateDecelerations),
		"late_deceleration_ratio": r.LateDecelerationRatio,
		"total_accelerations":     float64(r.TotalAccelerations),
		"accel_decel_ratio":       r.AccelDecelRatio,
		"total_contractions":      float64(r.TotalContractions),
		"stv_trend":               r.STVTrend,
		"bpm_trend":               r.BPMTrend,
		"data_points":             float64(r.DataPoints),
		"time_span_sec":           r.TimeSpanSec,
	}
}

// Extract собирает признаки по очищенным сигналам ЧСС и маточной активности.
// Пустые и вырожденные входы дают нулевые значения, а не ошибки.
func Extract(hr, uc signal.Series, fsHR, fsUC float64, opts Options) Record {
	bpm := hr.Values()
	uterus := uc.Values()

	var (
		baseline float64
		stv, ltv Variability
	)
	if opts.Summarize {
		baseline = baselineOf(bpm, opts.DefaultBaseline)
		stv = ShortTermVariability(bpm, fsHR)
		ltv = LongTermVariability(bpm, fsHR)
	} else {
		recent := trailing(bpm, opts.LTVScopeSec, fsHR)
		baseline = baselineOf(recent, opts.DefaultBaseline)
		stv = ShortTermVariability(trailing(bpm, opts.STVScopeSec, fsHR), fsHR)
		ltv = LongTermVariability(recent, fsHR)
	}

	decels := DetectDecelerations(bpm, baseline, fsHR, opts.HeartRateEvents)
	contractions := DetectContractions(uterus, fsUC, opts.Contractions)
	late := MarkLate(decels, contractions, bpm, uterus, fsHR, fsUC)
	accels := DetectAccelerations(bpm, baseline, fsHR, opts.HeartRateEvents)

	rec := Record{
		STV:                stv.Value,
		LTV:                ltv.Value,
		BaselineHeartRate:  baseline,
		Accelerations:      accels,
		Decelerations:      decels,
		Contractions:       contractions,
		STVs:               stv.Windows,
		STVsWindowDuration: stv.WindowSec,
		LTVs:               ltv.Windows,
		LTVsWindowDuration: ltv.WindowSec,
		TotalDecelerations: len(decels),
		LateDecelerations:  late,
		TotalAccelerations: len(accels),
		TotalContractions:  len(contractions),
		STVTrend:           Trend(stv.Windows, opts.STVTrendWindowSec, opts.STVTrendRate),
		BPMTrend:           Trend(bpm, opts.BPMTrendWindowSec, opts.BPMTrendRate),
		DataPoints:         len(hr),
		TimeSpanSec:        hr.Span(),
	}

	if rec.TotalDecelerations > 0 {
		rec.LateDecelerationRatio = float64(late) / float64(rec.TotalDecelerations)
		rec.AccelDecelRatio = float64(rec.TotalAccelerations) / float64(rec.TotalDecelerations)
	} else {
		rec.AccelDecelRatio = float64(rec.TotalAccelerations)
	}

	return rec
}

// ExtractConditioned - то же, что Extract, для результатов кондиционера
func ExtractConditioned(hr, uc preprocess.Result, opts Options) Record {
	return Extract(hr.Series, uc.Series, hr.FS, uc.FS, opts)
}

// trailing возвращает последние scopeSec секунд ряда, либо весь ряд, если он короче
func trailing(values []float64, scopeSec, fs float64) []float64 {
	n := windowSize(scopeSec, fs)
	if n > 0 && len(values) > n {
		return values[len(values)-n:]
	}
	return values
}

func baselineOf(values []float64, fallback float64) float64 {
	if len(values) == 0 {
		return fallback
	}
	return preprocess.Median(values)
}

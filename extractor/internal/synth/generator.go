package synth

import (
	"errors"
	"math"
	"math/rand"

	"github.com/Krimson/fetal-monitory/extractor/internal/signal"
)

// Ошибки генераторов
var (
	ErrInvalidConfig = errors.New("invalid generator configuration")
)

// FHRConfig - параметры пульса плода
type FHRConfig struct {
	Baseline    float64 `toml:"baseline"`    // Базальная ЧСС, уд/мин
	Variability float64 `toml:"variability"` // Амплитуда колебаний, уд/мин
	Noise       float64 `toml:"noise"`       // Амплитуда случайного шума
	MinValue    float64 `toml:"min_value"`
	MaxValue    float64 `toml:"max_value"`
}

// TOCOConfig - параметры маточных сокращений
type TOCOConfig struct {
	Rest          float64 `toml:"rest"`           // Тонус вне схватки
	PeakIntensity float64 `toml:"peak_intensity"` // Интенсивность на пике
	FirstAtSec    float64 `toml:"first_at_sec"`   // Начало первой схватки
	IntervalSec   float64 `toml:"interval_sec"`   // Период схваток (0 - без схваток)
	DurationSec   float64 `toml:"duration_sec"`   // Длительность схватки
}

// DecelConfig - поздние децелерации, привязанные к пику схватки
type DecelConfig struct {
	Enabled     bool    `toml:"enabled"`
	Depth       float64 `toml:"depth"`        // Глубина, уд/мин
	LagSec      float64 `toml:"lag_sec"`      // Задержка начала относительно пика схватки
	DurationSec float64 `toml:"duration_sec"` // Длительность децелерации
}

// Scenario - полный сценарий КТГ
type Scenario struct {
	FS    float64     `toml:"fs"`
	Seed  int64       `toml:"seed"`
	FHR   FHRConfig   `toml:"fhr"`
	TOCO  TOCOConfig  `toml:"toco"`
	Decel DecelConfig `toml:"decel"`
}

// NormalScenario - нормальная КТГ с редкими схватками без децелераций
func NormalScenario() Scenario {
	return Scenario{
		FS:   4,
		Seed: 1,
		FHR: FHRConfig{
			Baseline:    140,
			Variability: 4,
			Noise:       1,
			MinValue:    50,
			MaxValue:    240,
		},
		TOCO: TOCOConfig{
			Rest:          5,
			PeakIntensity: 60,
			FirstAtSec:    120,
			IntervalSec:   300,
			DurationSec:   120,
		},
	}
}

// LateDecelerationScenario - схватки с поздними децелерациями после каждого пика
func LateDecelerationScenario() Scenario {
	s := NormalScenario()
	s.Decel = DecelConfig{
		Enabled:     true,
		Depth:       40,
		LagSec:      10,
		DurationSec: 60,
	}
	return s
}

// Generator детерминированно синтезирует ЧСС и ТОКО по времени отсчета
type Generator struct {
	scenario Scenario
	rand     *rand.Rand
	index    int
}

// New создает генератор
func New(s Scenario) (*Generator, error) {
	if s.FS <= 0 {
		return nil, ErrInvalidConfig
	}
	if s.TOCO.IntervalSec > 0 && s.TOCO.DurationSec <= 0 {
		return nil, ErrInvalidConfig
	}
	return &Generator{
		scenario: s,
		rand:     rand.New(rand.NewSource(s.Seed)),
	}, nil
}

// FS возвращает частоту дискретизации сценария, Гц
func (g *Generator) FS() float64 {
	return g.scenario.FS
}

// Next возвращает следующий такт с обеими модальностями
func (g *Generator) Next() signal.Tick {
	t := float64(g.index) / g.scenario.FS
	g.index++

	return signal.Tick{
		TimeSec:   t,
		HeartRate: signal.Value(g.heartRate(t)),
		Uterine:   signal.Value(g.uterine(t)),
	}
}

// Series генерирует durationSec секунд записи
func (g *Generator) Series(durationSec float64) (bpm, uterus signal.Series) {
	n := int(math.Round(durationSec * g.scenario.FS))
	bpm = make(signal.Series, 0, n)
	uterus = make(signal.Series, 0, n)
	for i := 0; i < n; i++ {
		tick := g.Next()
		bpm = append(bpm, signal.Sample{TimeSec: tick.TimeSec, Value: *tick.HeartRate})
		uterus = append(uterus, signal.Sample{TimeSec: tick.TimeSec, Value: *tick.Uterine})
	}
	return bpm, uterus
}

// Reset возвращает генератор в начало сценария
func (g *Generator) Reset() {
	g.index = 0
	g.rand = rand.New(rand.NewSource(g.scenario.Seed))
}

// ContractionAt возвращает номер схватки, идущей в момент t, или -1
func (g *Generator) ContractionAt(t float64) int {
	toco := g.scenario.TOCO
	if toco.IntervalSec <= 0 || t < toco.FirstAtSec {
		return -1
	}
	k := int((t - toco.FirstAtSec) / toco.IntervalSec)
	start := toco.FirstAtSec + float64(k)*toco.IntervalSec
	if t-start < toco.DurationSec {
		return k
	}
	return -1
}

// PeakTime возвращает середину плато k-й схватки
func (g *Generator) PeakTime(k int) float64 {
	toco := g.scenario.TOCO
	return toco.FirstAtSec + float64(k)*toco.IntervalSec + toco.DurationSec/2
}

func (g *Generator) heartRate(t float64) float64 {
	fhr := g.scenario.FHR
	value := fhr.Baseline +
		fhr.Variability*math.Sin(2*math.Pi*t/20) +
		fhr.Noise*(2*g.rand.Float64()-1)

	value -= g.decelDepth(t)

	if value < fhr.MinValue {
		value = fhr.MinValue
	}
	if value > fhr.MaxValue {
		value = fhr.MaxValue
	}
	return value
}

// decelDepth - косинусная яма после пика ближайшей предшествующей схватки
func (g *Generator) decelDepth(t float64) float64 {
	d := g.scenario.Decel
	toco := g.scenario.TOCO
	if !d.Enabled || d.DurationSec <= 0 || toco.IntervalSec <= 0 {
		return 0
	}

	for k := int((t-toco.FirstAtSec)/toco.IntervalSec) - 1; k <= int((t-toco.FirstAtSec)/toco.IntervalSec); k++ {
		if k < 0 {
			continue
		}
		start := g.PeakTime(k) + d.LagSec
		if t >= start && t < start+d.DurationSec {
			phase := (t - start) / d.DurationSec
			return d.Depth * 0.5 * (1 - math.Cos(2*math.Pi*phase))
		}
	}
	return 0
}

// uterine - трапеция: подъем, плато, спад по трети длительности
func (g *Generator) uterine(t float64) float64 {
	toco := g.scenario.TOCO
	rest := toco.Rest * g.rand.Float64()

	k := g.ContractionAt(t)
	if k < 0 {
		return rest
	}

	elapsed := t - (toco.FirstAtSec + float64(k)*toco.IntervalSec)
	phase := toco.DurationSec / 3
	span := toco.PeakIntensity - toco.Rest

	switch {
	case elapsed < phase:
		return toco.Rest + span*elapsed/phase
	case elapsed < 2*phase:
		return toco.PeakIntensity
	default:
		return toco.PeakIntensity - span*(elapsed-2*phase)/phase
	}
}

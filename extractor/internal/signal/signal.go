package signal

import (
	"fmt"
	"strings"
)

// Modality определяет тип физиологического сигнала
type Modality string

const (
	HeartRate Modality = "bpm"    // ЧСС плода
	Uterine   Modality = "uterus" // Маточная активность
)

// ParseModality разбирает название метрики из внешних источников (gRPC, MQTT, REST)
func ParseModality(name string) (Modality, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bpm", "fhr", "heart_rate", "fetal_heart_rate", "metric_fhr":
		return HeartRate, nil
	case "uterus", "uc", "toco", "uterine", "uterine_contractions", "metric_uc":
		return Uterine, nil
	default:
		return "", fmt.Errorf("unknown modality: %q", name)
	}
}

func (m Modality) String() string {
	return string(m)
}

// Sample - одна точка сигнала
type Sample struct {
	TimeSec float64 `json:"time_sec"`
	Value   float64 `json:"value"`
}

// Series - упорядоченная последовательность точек одной модальности
type Series []Sample

// Values возвращает значения без временных меток
func (s Series) Values() []float64 {
	values := make([]float64, len(s))
	for i, p := range s {
		values[i] = p.Value
	}
	return values
}

// Times возвращает временные метки
func (s Series) Times() []float64 {
	times := make([]float64, len(s))
	for i, p := range s {
		times[i] = p.TimeSec
	}
	return times
}

// Tail возвращает копию последних n точек (скользящее окно для графиков)
func (s Series) Tail(n int) Series {
	if n <= 0 {
		return Series{}
	}
	if n > len(s) {
		n = len(s)
	}
	out := make(Series, n)
	copy(out, s[len(s)-n:])
	return out
}

// Span возвращает длительность ряда в секундах (0 если точек меньше двух)
func (s Series) Span() float64 {
	if len(s) < 2 {
		return 0
	}
	return s[len(s)-1].TimeSec - s[0].TimeSec
}

// Tick - один такт приема данных. nil означает, что модальность в этом такте не обновлялась.
type Tick struct {
	TimeSec   float64  `json:"time_sec"`
	HeartRate *float64 `json:"heart_rate,omitempty"`
	Uterine   *float64 `json:"uterine,omitempty"`
}

// Value возвращает указатель на значение для использования в Tick
func Value(v float64) *float64 {
	return &v
}

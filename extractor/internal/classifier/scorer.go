package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrModelUnavailable - модель не загружена или недоступна; вызывающий должен
// использовать последнее удачное предсказание
var ErrModelUnavailable = errors.New("model unavailable")

// Scorer оценивает вероятность гипоксии по скалярным признакам
type Scorer interface {
	Score(ctx context.Context, features map[string]float64) (float64, error)
}

// Clamp ограничивает вероятность отрезком [0, 1]
func Clamp(p float64) float64 {
	switch {
	case math.IsNaN(p):
		return 0
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}

// Ensemble усредняет предсказания участников. Отказавшие участники пропускаются;
// ошибка возвращается только если отказали все.
type Ensemble struct {
	members []Scorer
}

// NewEnsemble создает ансамбль из непустых участников
func NewEnsemble(members ...Scorer) *Ensemble {
	e := &Ensemble{}
	for _, m := range members {
		if m != nil {
			e.members = append(e.members, m)
		}
	}
	return e
}

// Size возвращает число участников
func (e *Ensemble) Size() int {
	return len(e.members)
}

func (e *Ensemble) Score(ctx context.Context, features map[string]float64) (float64, error) {
	if len(e.members) == 0 {
		return 0, fmt.Errorf("%w: empty ensemble", ErrModelUnavailable)
	}

	var (
		sum  float64
		ok   int
		errs []error
	)
	for _, m := range e.members {
		p, err := m.Score(ctx, features)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		sum += Clamp(p)
		ok++
	}

	if ok == 0 {
		return 0, fmt.Errorf("%w: all %d members failed: %w", ErrModelUnavailable, len(e.members), errors.Join(errs...))
	}
	return sum / float64(ok), nil
}

// Without возвращает копию признаков без перечисленных полей
func Without(features map[string]float64, drop []string) map[string]float64 {
	out := make(map[string]float64, len(features))
	for k, v := range features {
		out[k] = v
	}
	for _, name := range drop {
		delete(out, name)
	}
	return out
}

// orderedValues возвращает значения признаков в порядке names; при пустом names - по алфавиту
func orderedValues(features map[string]float64, names []string) ([]float64, error) {
	if len(names) == 0 {
		names = make([]string, 0, len(features))
		for k := range features {
			names = append(names, k)
		}
		sort.Strings(names)
	}

	values := make([]float64, 0, len(names))
	for _, name := range names {
		v, ok := features[name]
		if !ok {
			return nil, fmt.Errorf("missing feature %q", name)
		}
		values = append(values, v)
	}
	return values, nil
}

// Probe проверяет готовность scorer на нулевом векторе признаков
func Probe(ctx context.Context, s Scorer, names []string) error {
	if s == nil {
		return ErrModelUnavailable
	}
	zero := make(map[string]float64, len(names))
	for _, name := range names {
		zero[name] = 0
	}
	_, err := s.Score(ctx, zero)
	return err
}

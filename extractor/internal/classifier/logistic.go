package classifier

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// LogisticModel - веса логистической регрессии над стандартизованными признаками.
// Формат файла:
//
//	bias = -1.2
//	[weights]
//	stv = -0.8
//	[means]
//	stv = 3.5
//	[scales]
//	stv = 1.7
type LogisticModel struct {
	Bias    float64            `toml:"bias"`
	Weights map[string]float64 `toml:"weights"`
	Means   map[string]float64 `toml:"means"`
	Scales  map[string]float64 `toml:"scales"`
}

// LogisticScorer - локальная модель. Если веса не загрузились, каждый вызов
// Score возвращает ErrModelUnavailable.
type LogisticScorer struct {
	model   *LogisticModel
	loadErr error
}

// NewLogisticScorer создает скорер из готовой модели
func NewLogisticScorer(model LogisticModel) *LogisticScorer {
	return &LogisticScorer{model: &model}
}

// LoadLogisticScorer читает веса из TOML-файла. Ошибка загрузки не фатальна.
func LoadLogisticScorer(path string) *LogisticScorer {
	data, err := os.ReadFile(path)
	if err != nil {
		return &LogisticScorer{loadErr: fmt.Errorf("read weights %s: %w", path, err)}
	}

	var model LogisticModel
	if err := toml.Unmarshal(data, &model); err != nil {
		return &LogisticScorer{loadErr: fmt.Errorf("parse weights %s: %w", path, err)}
	}
	if len(model.Weights) == 0 {
		return &LogisticScorer{loadErr: fmt.Errorf("weights %s: no weights defined", path)}
	}
	return &LogisticScorer{model: &model}
}

// Available сообщает, загружена ли модель
func (s *LogisticScorer) Available() bool {
	return s.model != nil
}

// LoadError возвращает причину недоступности модели
func (s *LogisticScorer) LoadError() error {
	return s.loadErr
}

func (s *LogisticScorer) Score(_ context.Context, features map[string]float64) (float64, error) {
	if s.model == nil {
		return 0, fmt.Errorf("%w: %v", ErrModelUnavailable, s.loadErr)
	}

	z := s.model.Bias
	for name, w := range s.model.Weights {
		x, ok := features[name]
		if !ok {
			return 0, fmt.Errorf("logistic: missing feature %q", name)
		}
		if mean, ok := s.model.Means[name]; ok {
			x -= mean
		}
		if scale, ok := s.model.Scales[name]; ok && scale != 0 {
			x /= scale
		}
		z += w * x
	}

	return Clamp(1 / (1 + math.Exp(-z))), nil
}

package preprocess

// DefaultFS - частота дискретизации по умолчанию для КТГ (Гц)
const DefaultFS = 4.0

// Profile описывает параметры очистки сигнала для одной модальности
type Profile struct {
	Name            string  `toml:"name" json:"name"`
	MedianWindowSec float64 `toml:"median_window_sec" json:"median_window_sec"` // Окно медианного фильтра (сек)
	CutoffHz        float64 `toml:"cutoff_hz" json:"cutoff_hz"`                 // Частота среза ФНЧ (Гц)
	Order           int     `toml:"order" json:"order"`                         // Порядок фильтра Баттерворта

	// Подавление артефактов. ThresholdDiff <= 0 отключает этап.
	ThresholdDiff float64 `toml:"threshold_diff" json:"threshold_diff"` // Порог скорости изменения (ед./сек)
	ThresholdDel  float64 `toml:"threshold_del" json:"threshold_del"`   // Максимальная доля длины сегмента
	ThresholdVal  float64 `toml:"threshold_val" json:"threshold_val"`   // Относительное отклонение медианы сегмента
}

// ArtifactsEnabled сообщает, включено ли подавление артефактов
func (p Profile) ArtifactsEnabled() bool {
	return p.ThresholdDiff > 0
}

// HeartRateProfile возвращает профиль для ЧСС: сохраняет акселерации и децелерации
func HeartRateProfile() Profile {
	return Profile{
		Name:            "bpm",
		MedianWindowSec: 3,
		CutoffHz:        0.05,
		Order:           3,
		ThresholdDiff:   70,
		ThresholdDel:    0.1,
		ThresholdVal:    0.3,
	}
}

// UterineProfile возвращает профиль для маточной активности: только очень низкие частоты
func UterineProfile() Profile {
	return Profile{
		Name:            "uterus",
		MedianWindowSec: 3,
		CutoffHz:        0.01,
		Order:           4,
		ThresholdDel:    0.1,
		ThresholdVal:    0.3,
	}
}

package features

import "gonum.org/v1/gonum/floats"

// IsLate определяет позднюю децелерацию: минимум ЧСС наступает строго после пика
// хотя бы одной пересекающейся по времени схватки. Сигналы могут иметь разную частоту,
// поэтому индексы переводятся в секунды каждый по своей частоте.
func IsLate(decel Event, contractions []Event, bpm, uc []float64, fsHR, fsUC float64) bool {
	if len(contractions) == 0 || fsHR <= 0 || fsUC <= 0 {
		return false
	}
	if decel.StartIndex < 0 || decel.EndIndex > len(bpm) || decel.EndIndex <= decel.StartIndex {
		return false
	}

	decelStart := float64(decel.StartIndex) / fsHR
	decelEnd := float64(decel.EndIndex) / fsHR
	minTime := float64(decel.StartIndex+floats.MinIdx(bpm[decel.StartIndex:decel.EndIndex])) / fsHR

	for _, c := range contractions {
		if c.StartIndex < 0 || c.EndIndex > len(uc) || c.EndIndex <= c.StartIndex {
			continue
		}
		if decelEnd < float64(c.StartIndex)/fsUC || decelStart > float64(c.EndIndex)/fsUC {
			continue
		}

		peakTime := float64(c.StartIndex+floats.MaxIdx(uc[c.StartIndex:c.EndIndex])) / fsUC
		if minTime > peakTime {
			return true
		}
	}
	return false
}

// MarkLate проставляет IsLate для каждой децелерации и возвращает число поздних
func MarkLate(decels, contractions []Event, bpm, uc []float64, fsHR, fsUC float64) int {
	late := 0
	for i := range decels {
		decels[i].IsLate = IsLate(decels[i], contractions, bpm, uc, fsHR, fsUC)
		if decels[i].IsLate {
			late++
		}
	}
	return late
}

package session

import "time"

// Row - скалярные признаки одного батча
type Row struct {
	Features map[string]float64 `json:"features"`
	At       time.Time          `json:"at"`
}

// History накапливает признаки сессии для классификатора.
// limit > 0 ограничивает число хранимых строк (старые вытесняются).
type History struct {
	rows  []Row
	limit int
}

// NewHistory создает пустую историю
func NewHistory(limit int) *History {
	return &History{limit: limit}
}

// Append добавляет строку признаков
func (h *History) Append(features map[string]float64, at time.Time) {
	h.rows = append(h.rows, Row{Features: features, At: at})
	if h.limit > 0 && len(h.rows) > h.limit {
		h.rows = append(h.rows[:0], h.rows[len(h.rows)-h.limit:]...)
	}
}

func (h *History) Count() int {
	return len(h.rows)
}

// HasEnough сообщает, накоплено ли минимальное число строк
func (h *History) HasEnough(min int) bool {
	return len(h.rows) >= min
}

// Latest возвращает последнюю строку
func (h *History) Latest() (Row, bool) {
	if len(h.rows) == 0 {
		return Row{}, false
	}
	return h.rows[len(h.rows)-1], true
}

// Rows возвращает копию истории
func (h *History) Rows() []Row {
	out := make([]Row, len(h.rows))
	copy(out, h.rows)
	return out
}

func (h *History) Reset() {
	h.rows = nil
}

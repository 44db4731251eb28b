package signal

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidSample - точка не может быть добавлена в буфер
var ErrInvalidSample = errors.New("invalid sample")

// Buffer накапливает точки одной модальности в порядке поступления
type Buffer struct {
	samples []Sample
}

// Append добавляет точку в конец буфера
func (b *Buffer) Append(s Sample) {
	b.samples = append(b.samples, s)
}

// Samples возвращает копию всего содержимого буфера
func (b *Buffer) Samples() Series {
	out := make(Series, len(b.samples))
	copy(out, b.samples)
	return out
}

func (b *Buffer) Len() int {
	return len(b.samples)
}

// Reset заменяет буфер пустым
func (b *Buffer) Reset() {
	b.samples = nil
}

// Collector хранит буферы ЧСС и маточной активности одной сессии.
// Collector не синхронизирован: доступ сериализует владелец сессии.
type Collector struct {
	heartRate Buffer
	uterine   Buffer
}

// NewCollector создает пустой коллектор
func NewCollector() *Collector {
	return &Collector{}
}

// Append добавляет одну точку в буфер указанной модальности
func (c *Collector) Append(m Modality, timeSec, value float64) error {
	if err := validateTime(timeSec); err != nil {
		return err
	}

	buf, err := c.buffer(m)
	if err != nil {
		return err
	}
	buf.Append(Sample{TimeSec: timeSec, Value: value})
	return nil
}

// Validate проверяет такт без изменения буферов
func (t Tick) Validate() error {
	return validateTime(t.TimeSec)
}

func validateTime(timeSec float64) error {
	if math.IsNaN(timeSec) || math.IsInf(timeSec, 0) {
		return fmt.Errorf("%w: time_sec %v", ErrInvalidSample, timeSec)
	}
	return nil
}

// Update применяет такт: обновляются только присутствующие модальности
func (c *Collector) Update(t Tick) error {
	if t.HeartRate != nil {
		if err := c.Append(HeartRate, t.TimeSec, *t.HeartRate); err != nil {
			return err
		}
	}
	if t.Uterine != nil {
		if err := c.Append(Uterine, t.TimeSec, *t.Uterine); err != nil {
			return err
		}
	}
	return nil
}

// Read возвращает полное накопленное содержимое модальности
func (c *Collector) Read(m Modality) Series {
	buf, err := c.buffer(m)
	if err != nil {
		return Series{}
	}
	return buf.Samples()
}

// Len возвращает число точек в буфере модальности
func (c *Collector) Len(m Modality) int {
	buf, err := c.buffer(m)
	if err != nil {
		return 0
	}
	return buf.Len()
}

// Reset очищает оба буфера
func (c *Collector) Reset() {
	c.heartRate.Reset()
	c.uterine.Reset()
}

func (c *Collector) buffer(m Modality) (*Buffer, error) {
	switch m {
	case HeartRate:
		return &c.heartRate, nil
	case Uterine:
		return &c.uterine, nil
	default:
		return nil, fmt.Errorf("%w: unknown modality %q", ErrInvalidSample, m)
	}
}

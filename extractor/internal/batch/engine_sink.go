package batch

import (
	"context"
	"fmt"
	"log"

	"github.com/Krimson/fetal-monitory/extractor/internal/session"
	"github.com/Krimson/fetal-monitory/extractor/internal/signal"
)

// Processor - движок, принимающий точки сессии и возвращающий результат обработки
type Processor interface {
	Ingest(ctx context.Context, sessionID string, bpm, uterus []signal.Sample) (*session.Result, error)
}

// Publisher передает результат обработки дальше (кэш, WebSocket, брокеры)
type Publisher interface {
	Publish(ctx context.Context, res *session.Result) error
}

// EngineSink отправляет батчи в движок признаков и публикует результат
type EngineSink struct {
	engine    Processor
	publisher Publisher
}

// NewEngineSink создает sink; publisher может быть nil
func NewEngineSink(engine Processor, publisher Publisher) *EngineSink {
	return &EngineSink{engine: engine, publisher: publisher}
}

// Consume реализует интерфейс Sink
func (es *EngineSink) Consume(ctx context.Context, b Batch) error {
	var bpm, uterus []signal.Sample
	switch b.Key.Metric {
	case signal.HeartRate:
		bpm = b.Samples()
	case signal.Uterine:
		uterus = b.Samples()
	default:
		return fmt.Errorf("unknown metric %q in batch", b.Key.Metric)
	}

	res, err := es.engine.Ingest(ctx, b.Key.SessionID, bpm, uterus)
	if err != nil {
		return fmt.Errorf("process batch session=%s metric=%s: %w", b.Key.SessionID, b.Key.Metric, err)
	}

	log.Printf("[ENGINE] Processed batch: session=%s metric=%s points=%d status=%s stv=%.2f ltv=%.2f baseline=%.1f",
		res.SessionID, b.Key.Metric, len(b.Points), res.Status, res.Records.STV, res.Records.LTV, res.Records.BaselineHeartRate)

	if es.publisher != nil {
		if err := es.publisher.Publish(ctx, res); err != nil {
			// Ошибка доставки не отменяет обработку
			log.Printf("[ERROR] Failed to publish result: session=%s: %v", res.SessionID, err)
		}
	}
	return nil
}

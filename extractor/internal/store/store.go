package store

import (
	"context"
	"time"

	"github.com/Krimson/fetal-monitory/extractor/internal/session"
	"github.com/Krimson/fetal-monitory/extractor/internal/signal"
)

// CacheStore - оперативный кэш результатов онлайн-сессий и офлайн-анализов
type CacheStore interface {
	// Метрики (перезаписываются целиком)
	SetMetrics(ctx context.Context, metrics *Metrics) error
	GetMetrics(ctx context.Context, sessionID string) (*Metrics, error)

	// События (добавляются без повторов по времени начала)
	AppendEvents(ctx context.Context, sessionID string, events []Event) error
	GetEvents(ctx context.Context, sessionID string) ([]Event, error)

	// Поокнные ряды заменяются последним расчетом
	SetTimeSeries(ctx context.Context, sessionID string, seriesType TimeSeriesType, points []TimeSeriesPoint) error
	GetTimeSeries(ctx context.Context, sessionID string, seriesType TimeSeriesType) ([]TimeSeriesPoint, error)

	// Отфильтрованные точки, упорядоченные по времени
	UpdateFilteredData(ctx context.Context, sessionID string, m signal.Modality, points signal.Series) error
	GetFilteredData(ctx context.Context, sessionID string, m signal.Modality) (signal.Series, error)

	// Результаты офлайн-анализа до решения о сохранении
	SaveAnalysis(ctx context.Context, res *session.Result, ttl time.Duration) error
	GetAnalysis(ctx context.Context, sessionID string) (*session.Result, error)

	GetSessionData(ctx context.Context, sessionID string) (*SessionData, error)
	DeleteSession(ctx context.Context, sessionID string) error
	SetSessionTTL(ctx context.Context, sessionID string, ttl time.Duration) error
}

// Repository - долговременный архив сессий
type Repository interface {
	SaveArchive(ctx context.Context, sessionID string, archive *Archive) error
	GetArchive(ctx context.Context, sessionID string) (*Archive, error)
	ListSessions(ctx context.Context, limit, offset int) ([]ArchivedSession, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// CacheResult раскладывает результат батча по кэшу: метрики, новые события,
// ряды STV/LTV и хвосты отфильтрованных сигналов.
func CacheResult(ctx context.Context, cache CacheStore, res *session.Result) error {
	if err := cache.SetMetrics(ctx, MetricsFromResult(res)); err != nil {
		return err
	}
	if err := cache.AppendEvents(ctx, res.SessionID, EventsFromResult(res)); err != nil {
		return err
	}

	stv, ltv := TimeSeriesFromResult(res)
	if err := cache.SetTimeSeries(ctx, res.SessionID, TimeSeriesSTV, stv); err != nil {
		return err
	}
	if err := cache.SetTimeSeries(ctx, res.SessionID, TimeSeriesLTV, ltv); err != nil {
		return err
	}

	if err := cache.UpdateFilteredData(ctx, res.SessionID, signal.HeartRate, res.FilteredBPM); err != nil {
		return err
	}
	return cache.UpdateFilteredData(ctx, res.SessionID, signal.Uterine, res.FilteredUterus)
}

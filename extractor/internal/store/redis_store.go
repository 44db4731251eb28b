package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Krimson/fetal-monitory/extractor/internal/features"
	"github.com/Krimson/fetal-monitory/extractor/internal/session"
	"github.com/Krimson/fetal-monitory/extractor/internal/signal"
)

// RedisStore реализует CacheStore для Redis
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisStoreFromAddr подключается к Redis и проверяет соединение
func NewRedisStoreFromAddr(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis %s: %w", addr, err)
	}
	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// ===== Ключи Redis =====

func metricsKey(sessionID string) string {
	return fmt.Sprintf("session:%s:features:current", sessionID)
}

func eventsKey(sessionID string, kind features.EventKind) string {
	return fmt.Sprintf("session:%s:events:%s", sessionID, kind)
}

func timeSeriesKey(sessionID string, seriesType TimeSeriesType) string {
	return fmt.Sprintf("session:%s:timeseries:%s", sessionID, seriesType)
}

func filteredDataKey(sessionID string, m signal.Modality) string {
	return fmt.Sprintf("session:%s:filtered:%s", sessionID, m)
}

func analysisKey(sessionID string) string {
	return fmt.Sprintf("session:%s:analysis", sessionID)
}

var eventKinds = []features.EventKind{
	features.KindAcceleration,
	features.KindDeceleration,
	features.KindContraction,
}

// ===== Метрики =====

func (r *RedisStore) SetMetrics(ctx context.Context, metrics *Metrics) error {
	// Hash позволяет читать отдельные поля без разбора JSON
	fields := map[string]interface{}{
		"status":                  string(metrics.Status),
		"prediction":              metrics.Prediction,
		"stv":                     metrics.STV,
		"ltv":                     metrics.LTV,
		"baseline_heart_rate":     metrics.BaselineHeartRate,
		"total_accelerations":     metrics.TotalAccelerations,
		"total_decelerations":     metrics.TotalDecelerations,
		"late_decelerations":      metrics.LateDecelerations,
		"late_deceleration_ratio": metrics.LateDecelerationRatio,
		"total_contractions":      metrics.TotalContractions,
		"accel_decel_ratio":       metrics.AccelDecelRatio,
		"stv_trend":               metrics.STVTrend,
		"bpm_trend":               metrics.BPMTrend,
		"data_points":             metrics.DataPoints,
		"time_span_sec":           metrics.TimeSpanSec,
		"updated_at":              metrics.UpdatedAt.Unix(),
	}

	return r.client.HSet(ctx, metricsKey(metrics.SessionID), fields).Err()
}

func (r *RedisStore) GetMetrics(ctx context.Context, sessionID string) (*Metrics, error) {
	data, err := r.client.HGetAll(ctx, metricsKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("metrics for session %s: %w", sessionID, ErrNotFound)
	}

	return metricsFromHash(sessionID, data), nil
}

// metricsFromHash разбирает Hash метрик; поврежденные поля остаются нулевыми
func metricsFromHash(sessionID string, data map[string]string) *Metrics {
	float := func(name string) float64 {
		v, _ := strconv.ParseFloat(data[name], 64)
		return v
	}
	integer := func(name string) int {
		v, _ := strconv.Atoi(data[name])
		return v
	}

	m := &Metrics{
		SessionID:             sessionID,
		Status:                session.Status(data["status"]),
		Prediction:            float("prediction"),
		STV:                   float("stv"),
		LTV:                   float("ltv"),
		BaselineHeartRate:     float("baseline_heart_rate"),
		TotalAccelerations:    integer("total_accelerations"),
		TotalDecelerations:    integer("total_decelerations"),
		LateDecelerations:     integer("late_decelerations"),
		LateDecelerationRatio: float("late_deceleration_ratio"),
		TotalContractions:     integer("total_contractions"),
		AccelDecelRatio:       float("accel_decel_ratio"),
		STVTrend:              float("stv_trend"),
		BPMTrend:              float("bpm_trend"),
		DataPoints:            integer("data_points"),
		TimeSpanSec:           float("time_span_sec"),
	}
	if ts, err := strconv.ParseInt(data["updated_at"], 10, 64); err == nil {
		m.UpdatedAt = time.Unix(ts, 0)
	}
	return m
}

// ===== События =====

func (r *RedisStore) AppendEvents(ctx context.Context, sessionID string, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	known, err := r.GetEvents(ctx, sessionID)
	if err != nil {
		return err
	}
	fresh := dedupeEvents(known, events)
	if len(fresh) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for _, event := range fresh {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		pipe.RPush(ctx, eventsKey(sessionID, event.Type), data)
	}

	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) GetEvents(ctx context.Context, sessionID string) ([]Event, error) {
	var events []Event
	for _, kind := range eventKinds {
		data, err := r.client.LRange(ctx, eventsKey(sessionID, kind), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to get %s events: %w", kind, err)
		}
		for _, item := range data {
			var event Event
			if err := json.Unmarshal([]byte(item), &event); err != nil {
				continue // Пропускаем поврежденные записи
			}
			events = append(events, event)
		}
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].StartTime < events[j].StartTime })
	return events, nil
}

// ===== Временные ряды =====

func (r *RedisStore) SetTimeSeries(ctx context.Context, sessionID string, seriesType TimeSeriesType, points []TimeSeriesPoint) error {
	key := timeSeriesKey(sessionID, seriesType)

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	for _, point := range points {
		data, err := json.Marshal(point)
		if err != nil {
			return fmt.Errorf("failed to marshal time series point: %w", err)
		}
		pipe.RPush(ctx, key, data)
	}

	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) GetTimeSeries(ctx context.Context, sessionID string, seriesType TimeSeriesType) ([]TimeSeriesPoint, error) {
	data, err := r.client.LRange(ctx, timeSeriesKey(sessionID, seriesType), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get time series: %w", err)
	}

	points := make([]TimeSeriesPoint, 0, len(data))
	for _, item := range data {
		var point TimeSeriesPoint
		if err := json.Unmarshal([]byte(item), &point); err != nil {
			continue
		}
		points = append(points, point)
	}
	return points, nil
}

// ===== Отфильтрованные данные =====

// UpdateFilteredData заменяет точки в диапазоне времени нового хвоста.
// Sorted Set со score = time_sec держит точки упорядоченными.
func (r *RedisStore) UpdateFilteredData(ctx context.Context, sessionID string, m signal.Modality, points signal.Series) error {
	if len(points) == 0 {
		return nil
	}

	key := filteredDataKey(sessionID, m)
	lo, hi := points[0].TimeSec, points[len(points)-1].TimeSec
	if lo > hi {
		lo, hi = hi, lo
	}

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, formatScore(lo), formatScore(hi))
	for _, point := range points {
		data, err := json.Marshal(point)
		if err != nil {
			return fmt.Errorf("failed to marshal filtered data point: %w", err)
		}
		pipe.ZAdd(ctx, key, redis.Z{Score: point.TimeSec, Member: data})
	}

	_, err := pipe.Exec(ctx)
	return err
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (r *RedisStore) GetFilteredData(ctx context.Context, sessionID string, m signal.Modality) (signal.Series, error) {
	data, err := r.client.ZRange(ctx, filteredDataKey(sessionID, m), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get filtered data: %w", err)
	}

	points := make(signal.Series, 0, len(data))
	for _, item := range data {
		var point signal.Sample
		if err := json.Unmarshal([]byte(item), &point); err != nil {
			continue
		}
		points = append(points, point)
	}
	return points, nil
}

// ===== Офлайн-анализ =====

func (r *RedisStore) SaveAnalysis(ctx context.Context, res *session.Result, ttl time.Duration) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}
	return r.client.Set(ctx, analysisKey(res.SessionID), data, ttl).Err()
}

func (r *RedisStore) GetAnalysis(ctx context.Context, sessionID string) (*session.Result, error) {
	data, err := r.client.Get(ctx, analysisKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("analysis %s: %w", sessionID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}

	var res session.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to unmarshal analysis: %w", err)
	}
	return &res, nil
}

// ===== Сессия целиком =====

func (r *RedisStore) GetSessionData(ctx context.Context, sessionID string) (*SessionData, error) {
	metrics, err := r.GetMetrics(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// Остальные части могут отсутствовать
	events, _ := r.GetEvents(ctx, sessionID)
	stv, _ := r.GetTimeSeries(ctx, sessionID, TimeSeriesSTV)
	ltv, _ := r.GetTimeSeries(ctx, sessionID, TimeSeriesLTV)
	bpm, _ := r.GetFilteredData(ctx, sessionID, signal.HeartRate)
	uterus, _ := r.GetFilteredData(ctx, sessionID, signal.Uterine)

	return &SessionData{
		Metrics:        metrics,
		Events:         events,
		TimeSeriesSTV:  stv,
		TimeSeriesLTV:  ltv,
		FilteredBPM:    bpm,
		FilteredUterus: uterus,
	}, nil
}

func (r *RedisStore) DeleteSession(ctx context.Context, sessionID string) error {
	return r.forEachKey(ctx, sessionID, func(pipe redis.Pipeliner, key string) {
		pipe.Del(ctx, key)
	})
}

func (r *RedisStore) SetSessionTTL(ctx context.Context, sessionID string, ttl time.Duration) error {
	return r.forEachKey(ctx, sessionID, func(pipe redis.Pipeliner, key string) {
		pipe.Expire(ctx, key, ttl)
	})
}

// forEachKey применяет команду ко всем ключам сессии одним pipeline
func (r *RedisStore) forEachKey(ctx context.Context, sessionID string, cmd func(redis.Pipeliner, string)) error {
	iter := r.client.Scan(ctx, 0, fmt.Sprintf("session:%s:*", sessionID), 0).Iterator()
	pipe := r.client.Pipeline()

	for iter.Next(ctx) {
		cmd(pipe, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan keys: %w", err)
	}

	if pipe.Len() == 0 {
		return nil
	}
	_, err := pipe.Exec(ctx)
	return err
}

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Krimson/fetal-monitory/extractor/internal/session"
	"github.com/Krimson/fetal-monitory/extractor/internal/signal"
)

// MemoryStore - CacheStore в памяти процесса, когда Redis не настроен.
// TTL не поддерживается: данные живут до DeleteSession.
type MemoryStore struct {
	mu       sync.RWMutex
	metrics  map[string]Metrics
	events   map[string][]Event
	series   map[string]map[TimeSeriesType][]TimeSeriesPoint
	filtered map[string]map[signal.Modality]signal.Series
	analyses map[string]session.Result
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		metrics:  make(map[string]Metrics),
		events:   make(map[string][]Event),
		series:   make(map[string]map[TimeSeriesType][]TimeSeriesPoint),
		filtered: make(map[string]map[signal.Modality]signal.Series),
		analyses: make(map[string]session.Result),
	}
}

func (s *MemoryStore) SetMetrics(ctx context.Context, metrics *Metrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[metrics.SessionID] = *metrics
	return nil
}

func (s *MemoryStore) GetMetrics(ctx context.Context, sessionID string) (*Metrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metrics[sessionID]
	if !ok {
		return nil, fmt.Errorf("metrics for session %s: %w", sessionID, ErrNotFound)
	}
	return &m, nil
}

func (s *MemoryStore) AppendEvents(ctx context.Context, sessionID string, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[sessionID] = append(s.events[sessionID], dedupeEvents(s.events[sessionID], events)...)
	return nil
}

func (s *MemoryStore) GetEvents(ctx context.Context, sessionID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := append([]Event(nil), s.events[sessionID]...)
	sort.SliceStable(events, func(i, j int) bool { return events[i].StartTime < events[j].StartTime })
	return events, nil
}

func (s *MemoryStore) SetTimeSeries(ctx context.Context, sessionID string, seriesType TimeSeriesType, points []TimeSeriesPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.series[sessionID] == nil {
		s.series[sessionID] = make(map[TimeSeriesType][]TimeSeriesPoint)
	}
	s.series[sessionID][seriesType] = append([]TimeSeriesPoint(nil), points...)
	return nil
}

func (s *MemoryStore) GetTimeSeries(ctx context.Context, sessionID string, seriesType TimeSeriesType) ([]TimeSeriesPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]TimeSeriesPoint(nil), s.series[sessionID][seriesType]...), nil
}

// UpdateFilteredData повторяет семантику Sorted Set: точки нового хвоста
// заменяют все сохраненные точки в его диапазоне времени.
func (s *MemoryStore) UpdateFilteredData(ctx context.Context, sessionID string, m signal.Modality, points signal.Series) error {
	if len(points) == 0 {
		return nil
	}

	lo, hi := points[0].TimeSec, points[len(points)-1].TimeSec
	if lo > hi {
		lo, hi = hi, lo
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.filtered[sessionID] == nil {
		s.filtered[sessionID] = make(map[signal.Modality]signal.Series)
	}

	kept := make(signal.Series, 0, len(s.filtered[sessionID][m])+len(points))
	for _, p := range s.filtered[sessionID][m] {
		if p.TimeSec < lo || p.TimeSec > hi {
			kept = append(kept, p)
		}
	}
	kept = append(kept, points...)
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].TimeSec < kept[j].TimeSec })
	s.filtered[sessionID][m] = kept
	return nil
}

func (s *MemoryStore) GetFilteredData(ctx context.Context, sessionID string, m signal.Modality) (signal.Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append(signal.Series(nil), s.filtered[sessionID][m]...), nil
}

func (s *MemoryStore) SaveAnalysis(ctx context.Context, res *session.Result, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyses[res.SessionID] = *res
	return nil
}

func (s *MemoryStore) GetAnalysis(ctx context.Context, sessionID string) (*session.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.analyses[sessionID]
	if !ok {
		return nil, fmt.Errorf("analysis %s: %w", sessionID, ErrNotFound)
	}
	return &res, nil
}

func (s *MemoryStore) GetSessionData(ctx context.Context, sessionID string) (*SessionData, error) {
	metrics, err := s.GetMetrics(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	events, _ := s.GetEvents(ctx, sessionID)
	stv, _ := s.GetTimeSeries(ctx, sessionID, TimeSeriesSTV)
	ltv, _ := s.GetTimeSeries(ctx, sessionID, TimeSeriesLTV)
	bpm, _ := s.GetFilteredData(ctx, sessionID, signal.HeartRate)
	uterus, _ := s.GetFilteredData(ctx, sessionID, signal.Uterine)

	return &SessionData{
		Metrics:        metrics,
		Events:         events,
		TimeSeriesSTV:  stv,
		TimeSeriesLTV:  ltv,
		FilteredBPM:    bpm,
		FilteredUterus: uterus,
	}, nil
}

func (s *MemoryStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.metrics, sessionID)
	delete(s.events, sessionID)
	delete(s.series, sessionID)
	delete(s.filtered, sessionID)
	delete(s.analyses, sessionID)
	return nil
}

func (s *MemoryStore) SetSessionTTL(ctx context.Context, sessionID string, ttl time.Duration) error {
	return nil
}

package session

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Krimson/fetal-monitory/extractor/internal/signal"
)

// State - изолированное состояние одной сессии.
// Буферы доступны только владельцу lock; история и предсказание защищены mu
// для чтения из HTTP-обработчиков.
type State struct {
	id string

	// lock - слот эксклюзивного доступа к конвейеру сессии (емкость 1)
	lock      chan struct{}
	collector *signal.Collector
	limiter   *rate.Limiter

	mu             sync.RWMutex
	history        *History
	lastPrediction float64
	hasPrediction  bool
	createdAt      time.Time
	updatedAt      time.Time
}

func newState(id string, historyLimit int, limit rate.Limit, burst int) *State {
	now := time.Now()
	return &State{
		id:        id,
		lock:      make(chan struct{}, 1),
		collector: signal.NewCollector(),
		limiter:   rate.NewLimiter(limit, burst),
		history:   NewHistory(historyLimit),
		createdAt: now,
		updatedAt: now,
	}
}

func (s *State) ID() string {
	return s.id
}

// prediction возвращает последнее удачное предсказание или fallback
func (s *State) prediction(fallback float64) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasPrediction {
		return fallback
	}
	return s.lastPrediction
}

func (s *State) setPrediction(p float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPrediction = p
	s.hasPrediction = true
	s.updatedAt = time.Now()
}

func (s *State) appendHistory(features map[string]float64, at time.Time) (count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.Append(features, at)
	s.updatedAt = at
	return s.history.Count()
}

func (s *State) latest() (Row, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.Latest()
}

func (s *State) reset() {
	s.collector.Reset()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.Reset()
	s.lastPrediction = 0
	s.hasPrediction = false
	s.updatedAt = time.Now()
}

// Registry - таблица сессий, принадлежащая движку. Сессия создается при первом обращении.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*State

	historyLimit int
	rateLimit    rate.Limit
	rateBurst    int
}

// NewRegistry создает пустой реестр. processRate <= 0 отключает ограничение частоты обработки.
func NewRegistry(historyLimit int, processRate float64, burst int) *Registry {
	limit := rate.Inf
	if processRate > 0 {
		limit = rate.Limit(processRate)
	}
	if burst < 1 {
		burst = 1
	}
	return &Registry{
		sessions:     make(map[string]*State),
		historyLimit: historyLimit,
		rateLimit:    limit,
		rateBurst:    burst,
	}
}

// Get возвращает сессию, создавая ее при необходимости
func (r *Registry) Get(id string) *State {
	r.mu.RLock()
	st, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		return st
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.sessions[id]; ok {
		return st
	}
	st = newState(id, r.historyLimit, r.rateLimit, r.rateBurst)
	r.sessions[id] = st
	return st
}

// Lookup возвращает сессию без создания
func (r *Registry) Lookup(id string) (*State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.sessions[id]
	return st, ok
}

// IDs возвращает отсортированный список идентификаторов сессий
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

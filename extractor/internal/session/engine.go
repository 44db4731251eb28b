package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/Krimson/fetal-monitory/extractor/internal/classifier"
	"github.com/Krimson/fetal-monitory/extractor/internal/features"
	"github.com/Krimson/fetal-monitory/extractor/internal/preprocess"
	"github.com/Krimson/fetal-monitory/extractor/internal/signal"
)

var (
	// ErrBusy - сессия уже обрабатывается, а политика запрещает ожидание
	ErrBusy = errors.New("session is busy")
	// ErrRateLimited - превышена частота обработки батчей для сессии
	ErrRateLimited = errors.New("session processing rate exceeded")
	// ErrClosed - движок остановлен
	ErrClosed = errors.New("engine is closed")
	// ErrInternal - паника или иная внутренняя ошибка обработки
	ErrInternal = errors.New("internal processing error")
	// ErrEmptySessionID - пустой идентификатор сессии
	ErrEmptySessionID = errors.New("session_id is required")
)

// Policy определяет поведение при пересечении запросов одной сессии
type Policy string

const (
	PolicyQueue  Policy = "queue"
	PolicyReject Policy = "reject"
)

// Status результата обработки батча
type Status string

const (
	StatusSuccess    Status = "success"
	StatusProcessing Status = "processing"
	StatusError      Status = "error"
)

// Options - параметры движка
type Options struct {
	DefaultFS float64
	HeartRate preprocess.Profile
	Uterine   preprocess.Profile
	Features  features.Options

	TailPoints        int      // Размер хвоста отфильтрованного сигнала в ответе
	MinHistory        int      // Минимум строк истории для скоринга
	HistoryLimit      int      // 0 - без ограничения
	ScoringExclude    []string // Признаки, не передаваемые классификатору
	NeutralPrediction float64  // Предсказание при отсутствии удачного скоринга

	Policy       Policy
	Workers      int
	ProcessRate  float64 // Батчей в секунду на сессию, 0 - без ограничения
	ProcessBurst int
	ScoreTimeout time.Duration
}

// DefaultOptions возвращает параметры онлайн-сервиса
func DefaultOptions() Options {
	return Options{
		DefaultFS:      preprocess.DefaultFS,
		HeartRate:      preprocess.HeartRateProfile(),
		Uterine:        preprocess.UterineProfile(),
		Features:       features.DefaultOptions(),
		TailPoints:     52,
		MinHistory:     1,
		HistoryLimit:   1000,
		ScoringExclude: []string{"time_span_sec"},
		Policy:         PolicyQueue,
		ScoreTimeout:   5 * time.Second,
	}
}

// Result - результат обработки батча сессии
type Result struct {
	SessionID      string          `json:"session_id"`
	Status         Status          `json:"status"`
	Message        string          `json:"message"`
	Prediction     float64         `json:"prediction"`
	Records        features.Record `json:"records"`
	FilteredBPM    signal.Series   `json:"filtered_bpm_batch"`
	FilteredUterus signal.Series   `json:"filtered_uterus_batch"`
	HeartRateFS    float64         `json:"bpm_fs"`
	UterineFS      float64         `json:"uterus_fs"`
	HistorySize    int             `json:"history_size"`
	ProcessedAt    time.Time       `json:"processed_at"`
}

// Engine - фасад над реестром сессий, конвейером очистки и классификатором
type Engine struct {
	opts        Options
	registry    *Registry
	pool        *Pool
	conditioner *preprocess.Conditioner
	scorer      classifier.Scorer
	closed      atomic.Bool
}

// NewEngine создает движок. scorer может быть nil - тогда результаты имеют статус error.
func NewEngine(opts Options, scorer classifier.Scorer) *Engine {
	if opts.MinHistory < 1 {
		opts.MinHistory = 1
	}
	if opts.Policy == "" {
		opts.Policy = PolicyQueue
	}
	if opts.TailPoints < 0 {
		opts.TailPoints = 0
	}

	return &Engine{
		opts:        opts,
		registry:    NewRegistry(opts.HistoryLimit, opts.ProcessRate, opts.ProcessBurst),
		pool:        NewPool(opts.Workers),
		conditioner: preprocess.NewConditioner(opts.DefaultFS),
		scorer:      scorer,
	}
}

func (e *Engine) Options() Options {
	return e.opts
}

// Close запрещает новые операции; выполняющиеся батчи завершаются
func (e *Engine) Close() {
	e.closed.Store(true)
}

// acquire захватывает сессию согласно политике
func (e *Engine) acquire(ctx context.Context, sessionID string) (*State, func(), error) {
	if e.closed.Load() {
		return nil, nil, ErrClosed
	}
	if sessionID == "" {
		return nil, nil, ErrEmptySessionID
	}

	st := e.registry.Get(sessionID)
	switch e.opts.Policy {
	case PolicyReject:
		select {
		case st.lock <- struct{}{}:
		default:
			return nil, nil, fmt.Errorf("%w: %s", ErrBusy, sessionID)
		}
	default:
		select {
		case st.lock <- struct{}{}:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}

	return st, func() { <-st.lock }, nil
}

// Accumulate добавляет один отсчет в буфер модальности
func (e *Engine) Accumulate(ctx context.Context, sessionID string, m signal.Modality, timeSec, value float64) error {
	st, release, err := e.acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer release()

	return st.collector.Append(m, timeSec, value)
}

// AccumulateTick добавляет отсчет с опциональными значениями обеих модальностей
func (e *Engine) AccumulateTick(ctx context.Context, sessionID string, tick signal.Tick) error {
	st, release, err := e.acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer release()

	return st.collector.Update(tick)
}

// ProcessBatch обрабатывает накопленные буферы сессии
func (e *Engine) ProcessBatch(ctx context.Context, sessionID string) (*Result, error) {
	st, release, err := e.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	return e.process(ctx, st)
}

// Ingest накапливает переданные точки и сразу обрабатывает сессию.
// Точки обеих модальностей добавляются попарно, как тики.
func (e *Engine) Ingest(ctx context.Context, sessionID string, bpm, uterus []signal.Sample) (*Result, error) {
	st, release, err := e.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	ticks := interleave(bpm, uterus)
	// Запрос с некорректной точкой отклоняется целиком
	for _, tick := range ticks {
		if err := tick.Validate(); err != nil {
			return nil, fmt.Errorf("invalid sample for session %s: %w", sessionID, err)
		}
	}
	for _, tick := range ticks {
		if err := st.collector.Update(tick); err != nil {
			return nil, fmt.Errorf("invalid sample for session %s: %w", sessionID, err)
		}
	}

	return e.process(ctx, st)
}

// Reset очищает буферы, историю и предсказание сессии
func (e *Engine) Reset(ctx context.Context, sessionID string) error {
	st, release, err := e.acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer release()

	st.reset()
	log.Printf("[SESSION] Reset session=%s", sessionID)
	return nil
}

// Prediction возвращает последнее удачное предсказание сессии
func (e *Engine) Prediction(sessionID string) (float64, bool) {
	st, ok := e.registry.Lookup(sessionID)
	if !ok {
		return 0, false
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.lastPrediction, st.hasPrediction
}

// History возвращает копию истории признаков сессии
func (e *Engine) History(sessionID string) ([]Row, bool) {
	st, ok := e.registry.Lookup(sessionID)
	if !ok {
		return nil, false
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.history.Rows(), true
}

// Sessions возвращает идентификаторы известных сессий
func (e *Engine) Sessions() []string {
	return e.registry.IDs()
}

// Analyze обрабатывает законченную запись вне реестра сессий (офлайн-анализ).
// Признаки считаются в режиме Summarize, результат сразу скорится.
func (e *Engine) Analyze(ctx context.Context, sessionID string, bpm, uterus signal.Series) (*Result, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}

	opts := e.opts.Features
	opts.Summarize = true

	var hr, uc preprocess.Result
	var record features.Record
	err := e.pool.Run(ctx, func() error {
		hr = e.conditioner.Condition(bpm, e.opts.HeartRate)
		uc = e.conditioner.Condition(uterus, e.opts.Uterine)
		record = features.ExtractConditioned(hr, uc, opts)
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := e.newResult(sessionID, hr, uc, record)
	res.HistorySize = 1
	prediction, err := e.score(ctx, record.Vector())
	if err != nil {
		res.Status = StatusError
		res.Message = err.Error()
		res.Prediction = e.opts.NeutralPrediction
		return res, nil
	}
	res.Status = StatusSuccess
	res.Message = "Analysis completed"
	res.Prediction = prediction
	return res, nil
}

// process выполняет конвейер под захваченной сессией.
// Если ctx истек до получения результата, история и предсказание не меняются.
func (e *Engine) process(ctx context.Context, st *State) (*Result, error) {
	if !st.limiter.Allow() {
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, st.id)
	}

	bpm := st.collector.Read(signal.HeartRate)
	uterus := st.collector.Read(signal.Uterine)

	var hr, uc preprocess.Result
	var record features.Record
	started := time.Now()
	err := e.pool.Run(ctx, func() error {
		hr = e.conditioner.Condition(bpm, e.opts.HeartRate)
		uc = e.conditioner.Condition(uterus, e.opts.Uterine)
		record = features.ExtractConditioned(hr, uc, e.opts.Features)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInternal) {
			log.Printf("[ERROR] [ENGINE] Processing failed session=%s: %v", st.id, err)
		}
		return nil, err
	}

	res := e.newResult(st.id, hr, uc, record)
	res.HistorySize = st.appendHistory(record.Vector(), res.ProcessedAt)

	if res.HistorySize < e.opts.MinHistory {
		res.Status = StatusProcessing
		res.Message = fmt.Sprintf("Accumulating data: %d/%d batches", res.HistorySize, e.opts.MinHistory)
		res.Prediction = st.prediction(e.opts.NeutralPrediction)
		return res, nil
	}

	latest, _ := st.latest()
	prediction, err := e.score(ctx, latest.Features)
	if err != nil {
		log.Printf("[WARN] [ENGINE] Scoring failed session=%s: %v", st.id, err)
		res.Status = StatusError
		res.Message = err.Error()
		res.Prediction = st.prediction(e.opts.NeutralPrediction)
		return res, nil
	}

	st.setPrediction(prediction)
	res.Status = StatusSuccess
	res.Message = "Prediction updated"
	res.Prediction = prediction

	log.Printf("[ENGINE] Processed session=%s bpm_points=%d uterus_points=%d prediction=%.3f elapsed=%v",
		st.id, len(bpm), len(uterus), prediction, time.Since(started))
	return res, nil
}

func (e *Engine) score(ctx context.Context, vector map[string]float64) (float64, error) {
	if e.scorer == nil {
		return 0, classifier.ErrModelUnavailable
	}

	if e.opts.ScoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.ScoreTimeout)
		defer cancel()
	}

	p, err := e.scorer.Score(ctx, classifier.Without(vector, e.opts.ScoringExclude))
	if err != nil {
		return 0, err
	}
	return classifier.Clamp(p), nil
}

func (e *Engine) newResult(sessionID string, hr, uc preprocess.Result, record features.Record) *Result {
	return &Result{
		SessionID:      sessionID,
		Records:        record,
		FilteredBPM:    hr.Series.Tail(e.opts.TailPoints),
		FilteredUterus: uc.Series.Tail(e.opts.TailPoints),
		HeartRateFS:    hr.FS,
		UterineFS:      uc.FS,
		ProcessedAt:    time.Now(),
	}
}

// interleave превращает два списка точек в последовательность тиков:
// i-й тик несет i-ю точку каждой модальности, если она есть.
func interleave(bpm, uterus []signal.Sample) []signal.Tick {
	n := len(bpm)
	if len(uterus) > n {
		n = len(uterus)
	}

	ticks := make([]signal.Tick, 0, len(bpm)+len(uterus))
	for i := 0; i < n; i++ {
		if i < len(bpm) {
			ticks = append(ticks, signal.Tick{TimeSec: bpm[i].TimeSec, HeartRate: signal.Value(bpm[i].Value)})
		}
		if i < len(uterus) {
			ticks = append(ticks, signal.Tick{TimeSec: uterus[i].TimeSec, Uterine: signal.Value(uterus[i].Value)})
		}
	}
	return ticks
}

package batch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/Krimson/fetal-monitory/extractor/internal/config"
	"github.com/Krimson/fetal-monitory/extractor/internal/signal"
)

var (
	// ErrInvalidSample - точка не прошла валидацию и отброшена
	ErrInvalidSample = errors.New("invalid sample")
	// ErrStopped - батчер остановлен
	ErrStopped = errors.New("batcher stopped")
)

type Batcher struct {
	cfg     *config.Config
	sink    Sink
	mu      sync.Mutex
	batches map[BatchKey]*currentBatch
	stopped bool

	flushChan chan Batch
	stopChan  chan struct{}
	wg        sync.WaitGroup

	stats struct {
		mu         sync.RWMutex
		received   int64
		dropped    int64
		flushed    int64
		outOfOrder int64
	}
}

// LogSink только пишет сводку батча в лог
type LogSink struct{}

func (ls *LogSink) Consume(ctx context.Context, b Batch) error {
	log.Printf("[BATCH] session=%s metric=%s points=%d span_ms=%d t0=%d t1=%d",
		b.Key.SessionID,
		b.Key.Metric,
		len(b.Points),
		b.T1MS-b.T0MS,
		b.T0MS,
		b.T1MS)
	return nil
}

func NewBatcher(cfg *config.Config, sink Sink) *Batcher {
	b := &Batcher{
		cfg:       cfg,
		sink:      sink,
		batches:   make(map[BatchKey]*currentBatch),
		flushChan: make(chan Batch, 100),
		stopChan:  make(chan struct{}),
	}

	b.wg.Add(2)
	go b.flushWorker()
	go b.timerFlusher()

	return b
}

// Add добавляет точку в батч своей сессии и модальности.
// Невалидные точки отбрасываются с ErrInvalidSample, слишком старые - молча.
func (b *Batcher) Add(sample Sample) error {
	if err := b.validateSample(sample); err != nil {
		b.incrementDropped()
		log.Printf("[WARN] Invalid sample dropped: %v", err)
		return fmt.Errorf("%w: %v", ErrInvalidSample, err)
	}

	key := BatchKey{
		SessionID: sample.SessionID,
		Metric:    sample.Metric,
	}
	point := Point{
		TsMS:  sample.TsMS,
		Value: sample.Value,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return ErrStopped
	}

	batch, exists := b.batches[key]
	if !exists {
		batch = newCurrentBatch(key)
		b.batches[key] = batch
	}

	if len(batch.Points) > 0 {
		timeDiff := batch.T1MS - point.TsMS

		if timeDiff > b.cfg.DropTooOldMS {
			b.incrementDropped()
			log.Printf("[WARN] Sample too old, dropped: session=%s metric=%s ts_diff=%d",
				key.SessionID, key.Metric, timeDiff)
			return nil
		}

		if timeDiff > b.cfg.OutOfOrderTolerance().Milliseconds() {
			b.incrementOutOfOrder()
			log.Printf("[WARN] Out of order sample: session=%s metric=%s ts_diff=%d",
				key.SessionID, key.Metric, timeDiff)
		}

		if batch.spanWith(point.TsMS) > b.cfg.BatchMaxSpanMS {
			b.flushBatch(batch)
		}
	}

	batch.addPoint(point, time.Now().UnixMilli())
	b.incrementReceived()

	if batch.shouldFlushBySize(b.cfg.BatchMaxSamples) {
		b.flushBatch(batch)
	}

	return nil
}

func (b *Batcher) validateSample(sample Sample) error {
	if sample.SessionID == "" {
		return fmt.Errorf("empty session_id")
	}

	if sample.Metric != signal.HeartRate && sample.Metric != signal.Uterine {
		return fmt.Errorf("invalid metric: %q", sample.Metric)
	}

	if sample.TsMS < 0 {
		return fmt.Errorf("invalid timestamp: %d", sample.TsMS)
	}

	if math.IsNaN(sample.Value) || math.IsInf(sample.Value, 0) {
		return fmt.Errorf("invalid value: %f", sample.Value)
	}

	return nil
}

// flushBatch вызывается под b.mu
func (b *Batcher) flushBatch(batch *currentBatch) {
	if len(batch.Points) == 0 {
		return
	}

	batchCopy := batch.clone()
	batch.reset()

	select {
	case b.flushChan <- batchCopy:
		b.incrementFlushed()
	default:
		log.Printf("[WARN] Flush channel full, batch dropped: session=%s metric=%s points=%d",
			batchCopy.Key.SessionID, batchCopy.Key.Metric, len(batchCopy.Points))
		b.incrementDropped()
	}
}

func (b *Batcher) flushWorker() {
	defer b.wg.Done()

	for batch := range b.flushChan {
		ctx, cancel := context.WithTimeout(context.Background(), b.consumeTimeout())
		if err := b.sink.Consume(ctx, batch); err != nil {
			log.Printf("[ERROR] Failed to consume batch: session=%s metric=%s: %v",
				batch.Key.SessionID, batch.Key.Metric, err)
		}
		cancel()
	}
}

func (b *Batcher) consumeTimeout() time.Duration {
	if timeout := b.cfg.ProcessTimeout(); timeout > 0 {
		return timeout
	}
	return 5 * time.Second
}

func (b *Batcher) timerFlusher() {
	defer b.wg.Done()

	ticker := time.NewTicker(time.Duration(b.cfg.FlushIntervalMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.flushOldBatches()

		case <-b.stopChan:
			return
		}
	}
}

// flushOldBatches сбрасывает батчи, в которые давно не поступали точки
func (b *Batcher) flushOldBatches() {
	now := time.Now().UnixMilli()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, batch := range b.batches {
		if len(batch.Points) > 0 && (now-batch.lastAddedMS) >= b.cfg.FlushIntervalMS {
			b.flushBatch(batch)
		}
	}
}

// Flush немедленно сбрасывает все незаполненные батчи
func (b *Batcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, batch := range b.batches {
		b.flushBatch(batch)
	}
}

// Stop сбрасывает остатки, дожидается их обработки и останавливает горутины
func (b *Batcher) Stop() {
	log.Printf("[INFO] Stopping batcher...")

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	for _, batch := range b.batches {
		b.flushBatch(batch)
	}
	b.stopped = true
	close(b.stopChan)
	close(b.flushChan)
	b.mu.Unlock()

	b.wg.Wait()
	b.logStats()
}

func (b *Batcher) incrementReceived() {
	b.stats.mu.Lock()
	b.stats.received++
	b.stats.mu.Unlock()
}

func (b *Batcher) incrementDropped() {
	b.stats.mu.Lock()
	b.stats.dropped++
	b.stats.mu.Unlock()
}

func (b *Batcher) incrementFlushed() {
	b.stats.mu.Lock()
	b.stats.flushed++
	b.stats.mu.Unlock()
}

func (b *Batcher) incrementOutOfOrder() {
	b.stats.mu.Lock()
	b.stats.outOfOrder++
	b.stats.mu.Unlock()
}

func (b *Batcher) logStats() {
	received, dropped, flushed, outOfOrder := b.GetStats()
	log.Printf("[STATS] received=%d dropped=%d flushed=%d out_of_order=%d",
		received, dropped, flushed, outOfOrder)
}

func (b *Batcher) GetStats() (received, dropped, flushed, outOfOrder int64) {
	b.stats.mu.RLock()
	defer b.stats.mu.RUnlock()

	return b.stats.received, b.stats.dropped, b.stats.flushed, b.stats.outOfOrder
}

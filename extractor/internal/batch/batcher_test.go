package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Krimson/fetal-monitory/extractor/internal/config"
	"github.com/Krimson/fetal-monitory/extractor/internal/session"
	"github.com/Krimson/fetal-monitory/extractor/internal/signal"
)

// TestSink для тестирования - собирает все батчи
type TestSink struct {
	mu      sync.Mutex
	batches []Batch
}

func (ts *TestSink) Consume(ctx context.Context, b Batch) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.batches = append(ts.batches, b)
	return nil
}

func (ts *TestSink) GetBatches() []Batch {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	result := make([]Batch, len(ts.batches))
	copy(result, ts.batches)
	return result
}

func testConfig() *config.Config {
	return &config.Config{
		BatchMaxSamples:       100,
		BatchMaxSpanMS:        30000,
		FlushIntervalMS:       500,
		AckEveryN:             50,
		OutOfOrderToleranceMS: 500,
		DropTooOldMS:          30000,
	}
}

func fhr(ts int64, v float64) Sample {
	return Sample{SessionID: "session1", TsMS: ts, Metric: signal.HeartRate, Value: v}
}

func TestBatcher_FlushBySize(t *testing.T) {
	cfg := testConfig()
	cfg.BatchMaxSamples = 3

	sink := &TestSink{}
	batcher := NewBatcher(cfg, sink)
	defer batcher.Stop()

	// 5 сэмплов подряд - один полный батч (3) и остаток (2)
	for i, ts := range []int64{1000, 1100, 1200, 1300, 1400} {
		if err := batcher.Add(fhr(ts, 120+float64(i))); err != nil {
			t.Fatalf("Failed to add sample: %v", err)
		}
	}

	time.Sleep(100 * time.Millisecond)

	batches := sink.GetBatches()
	if len(batches) != 1 {
		t.Fatalf("Expected 1 flushed batch, got %d", len(batches))
	}
	if len(batches[0].Points) != 3 {
		t.Errorf("Expected 3 points in first batch, got %d", len(batches[0].Points))
	}
}

func TestBatcher_FlushBySpan(t *testing.T) {
	cfg := testConfig()
	cfg.BatchMaxSpanMS = 1000

	sink := &TestSink{}
	batcher := NewBatcher(cfg, sink)
	defer batcher.Stop()

	for _, s := range []Sample{fhr(1000, 120), fhr(1500, 121), fhr(2100, 122)} {
		if err := batcher.Add(s); err != nil {
			t.Fatalf("Failed to add sample: %v", err)
		}
	}

	time.Sleep(100 * time.Millisecond)

	batches := sink.GetBatches()
	if len(batches) != 1 {
		t.Fatalf("Expected 1 flushed batch, got %d", len(batches))
	}
	// Третья точка расширила бы батч до 1100 мс, поэтому сброшены первые две
	if len(batches[0].Points) != 2 {
		t.Errorf("Expected 2 points in flushed batch, got %d", len(batches[0].Points))
	}
	if span := batches[0].T1MS - batches[0].T0MS; span != 500 {
		t.Errorf("Expected span of 500ms, got %dms", span)
	}
}

func TestBatcher_OutOfOrderTolerance(t *testing.T) {
	sink := &TestSink{}
	batcher := NewBatcher(testConfig(), sink)

	for _, s := range []Sample{fhr(1000, 120), fhr(1500, 121), fhr(1200, 122)} {
		if err := batcher.Add(s); err != nil {
			t.Fatalf("Failed to add sample: %v", err)
		}
	}

	batcher.Stop()

	batches := sink.GetBatches()
	if len(batches) != 1 {
		t.Fatalf("Expected 1 batch, got %d", len(batches))
	}
	if len(batches[0].Points) != 3 {
		t.Errorf("Expected 3 points in batch, got %d", len(batches[0].Points))
	}
	_, _, _, outOfOrder := batcher.GetStats()
	if outOfOrder != 0 {
		t.Errorf("Expected no out-of-order samples within tolerance, got %d", outOfOrder)
	}
}

func TestBatcher_DropTooOld(t *testing.T) {
	cfg := testConfig()
	cfg.DropTooOldMS = 2000

	sink := &TestSink{}
	batcher := NewBatcher(cfg, sink)
	defer batcher.Stop()

	for _, s := range []Sample{fhr(5000, 120), fhr(6000, 121), fhr(1000, 122)} {
		if err := batcher.Add(s); err != nil {
			t.Fatalf("Failed to add sample: %v", err)
		}
	}

	received, dropped, _, _ := batcher.GetStats()
	if received != 2 {
		t.Errorf("Expected 2 received samples, got %d", received)
	}
	if dropped != 1 {
		t.Errorf("Expected 1 dropped sample, got %d", dropped)
	}
}

func TestBatcher_InvalidSamples(t *testing.T) {
	batcher := NewBatcher(testConfig(), &TestSink{})
	defer batcher.Stop()

	invalid := []Sample{
		{SessionID: "", TsMS: 1, Metric: signal.HeartRate, Value: 120},
		{SessionID: "s", TsMS: 1, Metric: "spo2", Value: 97},
		{SessionID: "s", TsMS: -1, Metric: signal.Uterine, Value: 10},
	}
	for _, s := range invalid {
		if err := batcher.Add(s); !errors.Is(err, ErrInvalidSample) {
			t.Errorf("Expected ErrInvalidSample for %+v, got %v", s, err)
		}
	}

	// Нулевое время допустимо для относительных меток
	if err := batcher.Add(Sample{SessionID: "s", TsMS: 0, Metric: signal.Uterine, Value: 10}); err != nil {
		t.Errorf("Expected zero timestamp to be accepted, got %v", err)
	}
}

func TestBatcher_TimerFlush(t *testing.T) {
	cfg := testConfig()
	cfg.FlushIntervalMS = 100

	sink := &TestSink{}
	batcher := NewBatcher(cfg, sink)
	defer batcher.Stop()

	if err := batcher.Add(fhr(1000, 120)); err != nil {
		t.Fatalf("Failed to add sample: %v", err)
	}

	time.Sleep(350 * time.Millisecond)

	batches := sink.GetBatches()
	if len(batches) != 1 {
		t.Fatalf("Expected 1 batch flushed by timer, got %d", len(batches))
	}
	if len(batches[0].Points) != 1 {
		t.Errorf("Expected 1 point in batch, got %d", len(batches[0].Points))
	}
}

func TestBatcher_MultipleMetrics(t *testing.T) {
	cfg := testConfig()
	cfg.BatchMaxSamples = 2

	sink := &TestSink{}
	batcher := NewBatcher(cfg, sink)
	defer batcher.Stop()

	samples := []Sample{
		fhr(1000, 120),
		{SessionID: "session1", TsMS: 1100, Metric: signal.Uterine, Value: 50},
		fhr(1200, 121),
		{SessionID: "session1", TsMS: 1300, Metric: signal.Uterine, Value: 51},
	}
	for _, s := range samples {
		if err := batcher.Add(s); err != nil {
			t.Fatalf("Failed to add sample: %v", err)
		}
	}

	time.Sleep(100 * time.Millisecond)

	if batches := sink.GetBatches(); len(batches) != 2 {
		t.Errorf("Expected 2 batches (one per metric), got %d", len(batches))
	}
}

func TestBatcher_AddAfterStop(t *testing.T) {
	batcher := NewBatcher(testConfig(), &TestSink{})
	batcher.Stop()

	if err := batcher.Add(fhr(1000, 120)); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped, got %v", err)
	}
}

// fakeProcessor запоминает точки, переданные движку
type fakeProcessor struct {
	mu     sync.Mutex
	bpm    []signal.Sample
	uterus []signal.Sample
	err    error
}

func (f *fakeProcessor) Ingest(ctx context.Context, sessionID string, bpm, uterus []signal.Sample) (*session.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.bpm = append(f.bpm, bpm...)
	f.uterus = append(f.uterus, uterus...)
	return &session.Result{SessionID: sessionID, Status: session.StatusSuccess}, nil
}

type fakePublisher struct {
	mu      sync.Mutex
	results []*session.Result
}

func (f *fakePublisher) Publish(ctx context.Context, res *session.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, res)
	return nil
}

func TestEngineSink_RoutesByMetric(t *testing.T) {
	proc := &fakeProcessor{}
	pub := &fakePublisher{}
	sink := NewEngineSink(proc, pub)

	err := sink.Consume(context.Background(), Batch{
		Key:    BatchKey{SessionID: "s1", Metric: signal.Uterine},
		Points: []Point{{TsMS: 1500, Value: 12}, {TsMS: 1750, Value: 13}},
	})
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}

	if len(proc.bpm) != 0 || len(proc.uterus) != 2 {
		t.Fatalf("Expected 2 uterine samples, got bpm=%d uterus=%d", len(proc.bpm), len(proc.uterus))
	}
	if proc.uterus[0].TimeSec != 1.5 {
		t.Errorf("Expected time 1.5s, got %v", proc.uterus[0].TimeSec)
	}
	if len(pub.results) != 1 || pub.results[0].SessionID != "s1" {
		t.Errorf("Expected published result for s1, got %v", pub.results)
	}
}

func TestEngineSink_ProcessorError(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewEngineSink(&fakeProcessor{err: session.ErrBusy}, pub)

	err := sink.Consume(context.Background(), Batch{
		Key:    BatchKey{SessionID: "s1", Metric: signal.HeartRate},
		Points: []Point{{TsMS: 0, Value: 140}},
	})
	if !errors.Is(err, session.ErrBusy) {
		t.Errorf("Expected wrapped ErrBusy, got %v", err)
	}
	if len(pub.results) != 0 {
		t.Error("Nothing must be published on failure")
	}
}

func TestBatcher_EndToEndWithEngine(t *testing.T) {
	engine := session.NewEngine(session.DefaultOptions(), nil)
	pub := &fakePublisher{}

	cfg := testConfig()
	cfg.BatchMaxSamples = 40
	batcher := NewBatcher(cfg, NewEngineSink(engine, pub))

	for i := 0; i < 80; i++ {
		ts := int64(i * 250)
		if err := batcher.Add(Sample{SessionID: "e2e", TsMS: ts, Metric: signal.HeartRate, Value: 140}); err != nil {
			t.Fatalf("Failed to add sample: %v", err)
		}
	}
	batcher.Stop()

	rows, ok := engine.History("e2e")
	if !ok || len(rows) != 2 {
		t.Fatalf("Expected 2 processed batches, got %d", len(rows))
	}
	if got := rows[1].Features["data_points"]; got != 80 {
		t.Errorf("Expected 80 accumulated points, got %v", got)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.results) != 2 {
		t.Errorf("Expected 2 published results, got %d", len(pub.results))
	}
}

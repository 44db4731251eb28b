package sink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/segmentio/kafka-go"

	"github.com/Krimson/fetal-monitory/extractor/internal/features"
	"github.com/Krimson/fetal-monitory/extractor/internal/session"
	"github.com/Krimson/fetal-monitory/extractor/internal/signal"
	"github.com/Krimson/fetal-monitory/extractor/internal/store"
)

func testResult() *session.Result {
	return &session.Result{
		SessionID:  "s1",
		Status:     session.StatusSuccess,
		Prediction: 0.7,
		Records: features.Record{
			STV:           5.5,
			Decelerations: []features.Event{{StartIndex: 8, EndIndex: 16, DurationSec: 2, Amplitude: 20}},
			STVs:          []float64{5, 6},
			DataPoints:    120,
		},
		FilteredBPM: signal.Series{{TimeSec: 1, Value: 140}},
		HeartRateFS: 4,
		UterineFS:   4,
		ProcessedAt: time.Unix(1700000000, 0),
	}
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

type fakePointWriter struct {
	points []*write.Point
}

func (f *fakePointWriter) WritePoint(ctx context.Context, point ...*write.Point) error {
	f.points = append(f.points, point...)
	return nil
}

type failingPublisher struct {
	err error
}

func (f failingPublisher) Publish(ctx context.Context, res *session.Result) error {
	return f.err
}

type countingPublisher struct {
	mu    sync.Mutex
	count int
}

func (c *countingPublisher) Publish(ctx context.Context, res *session.Result) error {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
	return nil
}

func TestKafkaSink_Publish(t *testing.T) {
	w := &fakeWriter{}
	ks := &KafkaSink{writer: w, topic: "ctg.features"}

	if err := ks.Publish(context.Background(), testResult()); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(w.msgs))
	}

	msg := w.msgs[0]
	if string(msg.Key) != "s1" {
		t.Errorf("Expected key s1, got %s", msg.Key)
	}

	var decoded FeatureMessage
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("Invalid payload: %v", err)
	}
	if decoded.Prediction != 0.7 || decoded.Records.STV != 5.5 || len(decoded.Records.Decelerations) != 1 {
		t.Errorf("Unexpected payload: %+v", decoded)
	}

	if err := ks.Close(); err != nil || !w.closed {
		t.Errorf("Expected writer closed, err=%v", err)
	}
}

func TestKafkaSink_WrapsError(t *testing.T) {
	broken := errors.New("broker down")
	ks := &KafkaSink{writer: &fakeWriter{err: broken}, topic: "t"}

	if err := ks.Publish(context.Background(), testResult()); !errors.Is(err, broken) {
		t.Errorf("Expected wrapped broker error, got %v", err)
	}
}

func TestInfluxSink_Point(t *testing.T) {
	w := &fakePointWriter{}
	is := &InfluxSink{writer: w}

	if err := is.Publish(context.Background(), testResult()); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if len(w.points) != 1 {
		t.Fatalf("Expected 1 point, got %d", len(w.points))
	}

	p := w.points[0]
	if p.Name() != "ctg_features" {
		t.Errorf("Unexpected measurement %s", p.Name())
	}

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	if tags["session_id"] != "s1" || tags["status"] != "success" {
		t.Errorf("Unexpected tags: %v", tags)
	}

	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	if fields["prediction"] != 0.7 || fields["stv"] != 5.5 {
		t.Errorf("Unexpected fields: %v", fields)
	}
	if _, ok := fields["time_span_sec"]; !ok {
		t.Error("Expected every scalar feature as a field")
	}
	if !p.Time().Equal(time.Unix(1700000000, 0)) {
		t.Errorf("Unexpected point time %v", p.Time())
	}
}

func TestCacheSink_Publish(t *testing.T) {
	cache := store.NewMemoryStore()
	cs := NewCacheSink(cache, time.Hour)

	if err := cs.Publish(context.Background(), testResult()); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	data, err := cache.GetSessionData(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetSessionData failed: %v", err)
	}
	if data.Metrics.Prediction != 0.7 || len(data.Events) != 1 || len(data.TimeSeriesSTV) != 2 || len(data.FilteredBPM) != 1 {
		t.Errorf("Unexpected cached data: %+v", data)
	}
	if data.Events[0].StartTime != 2 {
		t.Errorf("Expected event start at 2 s, got %v", data.Events[0].StartTime)
	}
}

func TestComposite_FanOutCollectsErrors(t *testing.T) {
	first := errors.New("first")
	second := errors.New("second")
	ok := &countingPublisher{}

	c := NewComposite(failingPublisher{err: first}, nil, ok)
	c.Add(failingPublisher{err: second})
	c.Add(LogPublisher{})

	if c.Len() != 4 {
		t.Fatalf("Expected 4 publishers (nil skipped), got %d", c.Len())
	}

	err := c.Publish(context.Background(), testResult())
	if !errors.Is(err, first) || !errors.Is(err, second) {
		t.Errorf("Expected both errors joined, got %v", err)
	}
	if ok.count != 1 {
		t.Errorf("Healthy publisher must still receive the result, got %d", ok.count)
	}
}

func TestComposite_Empty(t *testing.T) {
	if err := NewComposite().Publish(context.Background(), testResult()); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
}

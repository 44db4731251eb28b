package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Krimson/fetal-monitory/extractor/internal/batch"
	"github.com/Krimson/fetal-monitory/extractor/internal/config"
	"github.com/Krimson/fetal-monitory/extractor/internal/signal"
)

type recordingSink struct {
	mu      sync.Mutex
	samples []batch.Sample
	err     error
}

func (r *recordingSink) Add(s batch.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.samples = append(r.samples, s)
	return nil
}

type countingBatchSink struct {
	mu      sync.Mutex
	batches int
}

func (c *countingBatchSink) Consume(ctx context.Context, b batch.Batch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches++
	return nil
}

func (c *countingBatchSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batches
}

func newSubscriber(sink SampleSink) *MQTTSubscriber {
	return NewMQTTSubscriber(config.Default().MQTT, sink)
}

func TestTopic(t *testing.T) {
	s := newSubscriber(&recordingSink{})
	if got := s.Topic(); got != "medical/ctg/+/+" {
		t.Errorf("Expected medical/ctg/+/+, got %s", got)
	}
}

func TestHandleMessage(t *testing.T) {
	sink := &recordingSink{}
	s := newSubscriber(sink)

	err := s.HandleMessage("medical/ctg/fetal_heart_rate/monitor-1",
		[]byte(`{"data_type":"fetal_heart_rate","value":142.5,"time_sec":12.25}`))
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	// Тип данных из топика, если его нет в payload
	err = s.HandleMessage("medical/ctg/uterine_contractions/monitor-1", []byte(`{"value":18,"time_sec":12.5}`))
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	if len(sink.samples) != 2 {
		t.Fatalf("Expected 2 samples, got %d", len(sink.samples))
	}

	fhr := sink.samples[0]
	if fhr.SessionID != "monitor-1" || fhr.Metric != signal.HeartRate || fhr.TsMS != 12250 || fhr.Value != 142.5 {
		t.Errorf("Unexpected FHR sample: %+v", fhr)
	}
	uc := sink.samples[1]
	if uc.Metric != signal.Uterine || uc.TsMS != 12500 {
		t.Errorf("Unexpected UC sample: %+v", uc)
	}
}

func TestHandleMessage_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
	}{
		{"foreign topic", "medical/ecg/heart/monitor-1", `{"value":1,"time_sec":0}`},
		{"missing session", "medical/ctg/fetal_heart_rate", `{"value":1,"time_sec":0}`},
		{"broken json", "medical/ctg/fetal_heart_rate/monitor-1", `{"value":`},
		{"unknown type", "medical/ctg/spo2/monitor-1", `{"value":97,"time_sec":0}`},
	}

	sink := &recordingSink{}
	s := newSubscriber(sink)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.HandleMessage(tt.topic, []byte(tt.payload)); err == nil {
				t.Error("Expected error")
			}
		})
	}

	if len(sink.samples) != 0 {
		t.Errorf("Rejected messages must not reach the sink, got %d", len(sink.samples))
	}
	received, rejected := s.Stats()
	if received != 4 || rejected != 4 {
		t.Errorf("Expected 4 received and 4 rejected, got %d and %d", received, rejected)
	}

	err := s.HandleMessage("medical/ctg/spo2/monitor-1", []byte(`{"value":97,"time_sec":0}`))
	if !errors.Is(err, signal.ErrInvalidSample) {
		t.Errorf("Expected ErrInvalidSample for unknown type, got %v", err)
	}
}

func TestHandleMessage_SinkError(t *testing.T) {
	sink := &recordingSink{err: batch.ErrStopped}
	s := newSubscriber(sink)

	err := s.HandleMessage("medical/ctg/fetal_heart_rate/monitor-1", []byte(`{"value":140,"time_sec":1}`))
	if !errors.Is(err, batch.ErrStopped) {
		t.Errorf("Expected ErrStopped, got %v", err)
	}
	if _, rejected := s.Stats(); rejected != 1 {
		t.Errorf("Expected 1 rejected message, got %d", rejected)
	}
}

func TestHandleMessage_WithBatcher(t *testing.T) {
	cfg := config.Default()
	cfg.BatchMaxSamples = 2
	sink := &countingBatchSink{}
	b := batch.NewBatcher(cfg, sink)
	defer b.Stop()

	s := NewMQTTSubscriber(cfg.MQTT, b)
	for _, payload := range []string{`{"value":140,"time_sec":0}`, `{"value":141,"time_sec":0.25}`} {
		if err := s.HandleMessage("medical/ctg/fhr/bed-3", []byte(payload)); err != nil {
			t.Fatalf("HandleMessage failed: %v", err)
		}
	}

	// Stop дожидается обработки отправленных батчей
	b.Stop()
	if n := sink.count(); n != 1 {
		t.Errorf("Expected 1 flushed batch, got %d", n)
	}
}

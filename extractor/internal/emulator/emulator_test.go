package emulator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/Krimson/fetal-monitory/extractor/internal/batch"
	"github.com/Krimson/fetal-monitory/extractor/internal/classifier"
	"github.com/Krimson/fetal-monitory/extractor/internal/config"
	"github.com/Krimson/fetal-monitory/extractor/internal/server"
	"github.com/Krimson/fetal-monitory/extractor/internal/session"
	"github.com/Krimson/fetal-monitory/extractor/internal/signal"
	"github.com/Krimson/fetal-monitory/extractor/internal/synth"
)

type recordingSink struct {
	mu      sync.Mutex
	samples []batch.Sample
}

func (r *recordingSink) Add(s batch.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
	return nil
}

func (r *recordingSink) count(m signal.Modality) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.samples {
		if s.Metric == m {
			n++
		}
	}
	return n
}

func startServer(t *testing.T, sink server.SampleSink) *server.Client {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	engine := session.NewEngine(session.DefaultOptions(), classifier.NewLogisticScorer(classifier.LogisticModel{}))
	server.Register(s, server.NewFeatureServer(config.Default(), engine, sink))
	go s.Serve(lis)
	t.Cleanup(s.Stop)

	client, err := server.Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRun_Synthetic(t *testing.T) {
	sink := &recordingSink{}
	client := startServer(t, sink)

	gen, err := synth.New(synth.NormalScenario())
	if err != nil {
		t.Fatalf("Failed to create generator: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats, err := New(client, 0).Run(ctx, "emu-1", NewSyntheticSource(gen, 10))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if stats.Ticks != 40 || stats.Sent != 80 {
		t.Errorf("Expected 40 ticks and 80 samples, got %d and %d", stats.Ticks, stats.Sent)
	}
	if stats.Acked != 80 {
		t.Errorf("Expected final ack of 80, got %d", stats.Acked)
	}
	if sink.count(signal.HeartRate) != 40 || sink.count(signal.Uterine) != 40 {
		t.Errorf("Expected 40 samples per modality, got %d and %d",
			sink.count(signal.HeartRate), sink.count(signal.Uterine))
	}
}

func TestRun_Paced(t *testing.T) {
	client := startServer(t, &recordingSink{})

	bpm := signal.Series{{TimeSec: 0, Value: 140}, {TimeSec: 0.5, Value: 141}}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	started := time.Now()
	// Ускорение x10: 0.5 с записи передаются за 50 мс
	stats, err := New(client, 10).Run(ctx, "emu-2", NewReplaySource(bpm, nil))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if elapsed := time.Since(started); elapsed < 50*time.Millisecond {
		t.Errorf("Expected paced replay to take at least 50ms, took %v", elapsed)
	}
	if stats.Sent != 2 {
		t.Errorf("Expected 2 samples, got %d", stats.Sent)
	}
}

func TestRun_Cancelled(t *testing.T) {
	client := startServer(t, &recordingSink{})

	bpm := signal.Series{{TimeSec: 0, Value: 140}, {TimeSec: 60, Value: 141}}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := New(client, 1).Run(ctx, "emu-3", NewReplaySource(bpm, nil))
	if err == nil {
		t.Fatal("Expected error after context cancellation")
	}
}

func TestReplaySource_MergesByTime(t *testing.T) {
	bpm := signal.Series{{TimeSec: 0, Value: 140}, {TimeSec: 0.25, Value: 141}, {TimeSec: 0.5, Value: 142}}
	uterus := signal.Series{{TimeSec: 0, Value: 10}, {TimeSec: 0.5, Value: 12}, {TimeSec: 0.75, Value: 13}}

	src := NewReplaySource(bpm, uterus)
	var ticks []signal.Tick
	for {
		tick, ok := src.Next()
		if !ok {
			break
		}
		ticks = append(ticks, tick)
	}

	if len(ticks) != 4 {
		t.Fatalf("Expected 4 ticks, got %d", len(ticks))
	}

	expect := []struct {
		time  float64
		hasHR bool
		hasUC bool
	}{
		{0, true, true},
		{0.25, true, false},
		{0.5, true, true},
		{0.75, false, true},
	}
	for i, e := range expect {
		tick := ticks[i]
		if tick.TimeSec != e.time || (tick.HeartRate != nil) != e.hasHR || (tick.Uterine != nil) != e.hasUC {
			t.Errorf("Tick %d: unexpected %+v", i, tick)
		}
	}
	if *ticks[2].Uterine != 12 {
		t.Errorf("Expected uterine 12 at 0.5s, got %v", *ticks[2].Uterine)
	}
}

func TestSyntheticSource_Length(t *testing.T) {
	gen, err := synth.New(synth.LateDecelerationScenario())
	if err != nil {
		t.Fatalf("Failed to create generator: %v", err)
	}

	src := NewSyntheticSource(gen, 2.5)
	n := 0
	var last signal.Tick
	for {
		tick, ok := src.Next()
		if !ok {
			break
		}
		last = tick
		n++
	}
	if n != 10 || last.TimeSec != 2.25 {
		t.Errorf("Expected 10 ticks ending at 2.25s, got %d ending at %v", n, last.TimeSec)
	}
}

func TestWriteJSONL(t *testing.T) {
	bpm := signal.Series{{TimeSec: 0, Value: 140}, {TimeSec: 0.25, Value: 141}}
	uterus := signal.Series{{TimeSec: 0, Value: 10}}

	var buf bytes.Buffer
	n, err := WriteJSONL(context.Background(), &buf, "rec-1", NewReplaySource(bpm, uterus))
	if err != nil {
		t.Fatalf("WriteJSONL failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("Expected 2 lines, got %d", n)
	}

	var lines []Line
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var line Line
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			t.Fatalf("Invalid JSONL line %q: %v", scanner.Text(), err)
		}
		lines = append(lines, line)
	}

	if len(lines) != 2 {
		t.Fatalf("Expected 2 decoded lines, got %d", len(lines))
	}
	if lines[0].SessionID != "rec-1" || lines[0].Uterine == nil || *lines[0].Uterine != 10 {
		t.Errorf("Unexpected first line: %+v", lines[0])
	}
	if lines[1].TimeSec != 0.25 || lines[1].Uterine != nil || *lines[1].HeartRate != 141 {
		t.Errorf("Unexpected second line: %+v", lines[1])
	}
}

func TestWriteJSONL_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	bpm := signal.Series{{TimeSec: 0, Value: 140}}
	if _, err := WriteJSONL(ctx, &buf, "rec-2", NewReplaySource(bpm, nil)); err == nil {
		t.Error("Expected error for cancelled context")
	}
}

package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/Krimson/fetal-monitory/extractor/internal/batch"
	"github.com/Krimson/fetal-monitory/extractor/internal/classifier"
	"github.com/Krimson/fetal-monitory/extractor/internal/config"
	"github.com/Krimson/fetal-monitory/extractor/internal/session"
	"github.com/Krimson/fetal-monitory/extractor/internal/signal"
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

type failingProcessor struct {
	err error
}

func (f failingProcessor) Ingest(ctx context.Context, id string, bpm, uterus []signal.Sample) (*session.Result, error) {
	return nil, f.err
}

func (f failingProcessor) Reset(ctx context.Context, id string) error {
	return f.err
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.AckEveryN = 2
	return cfg
}

func newEngine() *session.Engine {
	// Модель без весов всегда дает 0.5
	return session.NewEngine(session.DefaultOptions(), classifier.NewLogisticScorer(classifier.LogisticModel{}))
}

func startServer(t *testing.T, cfg *config.Config, engine Processor, sink SampleSink) *Client {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	Register(s, NewFeatureServer(cfg, engine, sink))
	go s.Serve(lis)
	t.Cleanup(s.Stop)

	client, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func batchRequest(id string, n int, offset float64) *ProcessBatchRequest {
	req := &ProcessBatchRequest{SessionID: id}
	for i := 0; i < n; i++ {
		ts := offset + float64(i)*0.25
		req.BPMData = append(req.BPMData, DataPoint{TimeSec: ts, Value: 140})
		req.UterusData = append(req.UterusData, DataPoint{TimeSec: ts, Value: 10})
	}
	return req
}

func TestProcessBatch(t *testing.T) {
	engine := newEngine()
	client := startServer(t, testConfig(), engine, &recordingSink{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := client.ProcessBatch(ctx, batchRequest("s1", 80, 0))
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if res.SessionID != "s1" || res.Status != session.StatusSuccess {
		t.Errorf("Unexpected result: session=%s status=%s message=%s", res.SessionID, res.Status, res.Message)
	}
	if res.Prediction != 0.5 {
		t.Errorf("Expected prediction 0.5, got %v", res.Prediction)
	}
	if len(res.FilteredBPM) != 52 || len(res.FilteredUterus) != 52 {
		t.Errorf("Expected 52-point tails, got %d and %d", len(res.FilteredBPM), len(res.FilteredUterus))
	}
	if res.HeartRateFS != 4 || res.Records.DataPoints != 80 {
		t.Errorf("Unexpected fs=%v data_points=%d", res.HeartRateFS, res.Records.DataPoints)
	}

	reset, err := client.ResetSession(ctx, "s1")
	if err != nil || !reset.Success {
		t.Fatalf("ResetSession failed: %v %+v", err, reset)
	}
	if rows, _ := engine.History("s1"); len(rows) != 0 {
		t.Errorf("Expected empty history after reset, got %d rows", len(rows))
	}
}

func TestProcessBatch_StatusCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code codes.Code
	}{
		{"busy", session.ErrBusy, codes.ResourceExhausted},
		{"rate limited", session.ErrRateLimited, codes.ResourceExhausted},
		{"closed", session.ErrClosed, codes.Unavailable},
		{"invalid sample", signal.ErrInvalidSample, codes.InvalidArgument},
		{"internal", session.ErrInternal, codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := startServer(t, testConfig(), failingProcessor{err: tt.err}, &recordingSink{})

			_, err := client.ProcessBatch(context.Background(), batchRequest("s1", 1, 0))
			if got := status.Code(err); got != tt.code {
				t.Errorf("Expected %s, got %s (%v)", tt.code, got, err)
			}
		})
	}
}

func TestProcessBatch_EmptySession(t *testing.T) {
	client := startServer(t, testConfig(), newEngine(), &recordingSink{})

	_, err := client.ProcessBatch(context.Background(), &ProcessBatchRequest{})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("Expected InvalidArgument, got %v", err)
	}
	_, err = client.ResetSession(context.Background(), "")
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("Expected InvalidArgument for reset, got %v", err)
	}
}

func TestPushSamples_Acks(t *testing.T) {
	sink := &recordingSink{}
	client := startServer(t, testConfig(), newEngine(), sink)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.PushSamples(ctx)
	if err != nil {
		t.Fatalf("Failed to open stream: %v", err)
	}

	samples := []*Sample{
		{SessionID: "s1", TsMS: 0, Metric: "fhr", Value: 140},
		{SessionID: "s1", TsMS: 250, Metric: "uc", Value: 10},
		{SessionID: "s1", TsMS: 500, Metric: "spo2", Value: 97}, // неизвестная метрика пропускается
		{SessionID: "s1", TsMS: 500, Metric: "fhr", Value: 141},
		{SessionID: "s1", TsMS: 750, Metric: "uc", Value: 11},
		{SessionID: "s1", TsMS: 1000, Metric: "fhr", Value: 142},
	}
	for _, s := range samples {
		if err := stream.Send(s); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatalf("CloseSend failed: %v", err)
	}

	var counts []uint64
	for {
		ack, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv failed: %v", err)
		}
		counts = append(counts, ack.ReceivedCnt)
	}

	want := []uint64{2, 4, 5}
	if len(counts) != len(want) {
		t.Fatalf("Expected acks %v, got %v", want, counts)
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Errorf("Ack %d: expected %d, got %d", i, want[i], counts[i])
		}
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.samples) != 5 {
		t.Fatalf("Expected 5 samples in batcher, got %d", len(sink.samples))
	}
	if sink.samples[1].Metric != signal.Uterine || sink.samples[0].Metric != signal.HeartRate {
		t.Errorf("Metrics not normalized: %+v", sink.samples[:2])
	}
}

func TestProcessBatchStream_InOrder(t *testing.T) {
	client := startServer(t, testConfig(), newEngine(), &recordingSink{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.ProcessBatchStream(ctx)
	if err != nil {
		t.Fatalf("Failed to open stream: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := stream.Send(batchRequest("stream", 40, float64(i)*10)); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		res, err := stream.Recv()
		if err != nil {
			t.Fatalf("Recv failed: %v", err)
		}
		if res.HistorySize != i+1 {
			t.Errorf("Expected history size %d, got %d", i+1, res.HistorySize)
		}
		if res.Records.DataPoints != 40*(i+1) {
			t.Errorf("Expected %d accumulated points, got %d", 40*(i+1), res.Records.DataPoints)
		}
	}
	stream.CloseSend()
}

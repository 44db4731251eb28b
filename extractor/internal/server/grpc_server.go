package server

import (
	"context"
	"errors"
	"io"
	"log"
	"sort"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Krimson/fetal-monitory/extractor/internal/batch"
	"github.com/Krimson/fetal-monitory/extractor/internal/config"
	"github.com/Krimson/fetal-monitory/extractor/internal/session"
	"github.com/Krimson/fetal-monitory/extractor/internal/signal"
)

// Processor - движок признаков, которым пользуется сервис
type Processor interface {
	Ingest(ctx context.Context, sessionID string, bpm, uterus []signal.Sample) (*session.Result, error)
	Reset(ctx context.Context, sessionID string) error
}

// SampleSink принимает потоковые точки (батчер)
type SampleSink interface {
	Add(sample batch.Sample) error
}

// FeatureServer реализует сервис ctg.v1.FeatureExtractor
type FeatureServer struct {
	cfg     *config.Config
	engine  Processor
	batcher SampleSink
}

func NewFeatureServer(cfg *config.Config, engine Processor, batcher SampleSink) *FeatureServer {
	return &FeatureServer{
		cfg:     cfg,
		engine:  engine,
		batcher: batcher,
	}
}

// PushSamples принимает поток точек в батчер и подтверждает каждые AckEveryN.
// При закрытии потока клиентом отправляются итоговые Ack по всем сессиям.
func (s *FeatureServer) PushSamples(stream grpc.BidiStreamingServer[Sample, Ack]) error {
	log.Printf("[INFO] New PushSamples stream started")

	ackEvery := uint64(s.cfg.AckEveryN)
	if ackEvery == 0 {
		ackEvery = 1
	}

	var totalReceived uint64
	sessionCounters := make(map[string]uint64)

	for {
		sample, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Printf("[INFO] PushSamples stream finished normally: received=%d", totalReceived)
				return sendFinalAcks(stream, sessionCounters)
			}
			if st, ok := status.FromError(err); ok && st.Code() == codes.Canceled {
				log.Printf("[INFO] PushSamples stream context cancelled")
				return err
			}
			log.Printf("[ERROR] Failed to receive sample: %v", err)
			return err
		}

		if err := s.processSample(sample); err != nil {
			if errors.Is(err, batch.ErrStopped) {
				return status.Error(codes.Unavailable, err.Error())
			}
			log.Printf("[WARN] Failed to process sample: %v", err)
			// Не прерываем поток из-за одной точки
			continue
		}

		totalReceived++
		sessionCounters[sample.SessionID]++

		if totalReceived%ackEvery == 0 {
			ack := &Ack{
				SessionID:   sample.SessionID,
				ReceivedCnt: sessionCounters[sample.SessionID],
			}
			if err := stream.Send(ack); err != nil {
				log.Printf("[ERROR] Failed to send ack: %v", err)
				return err
			}
		}
	}
}

func (s *FeatureServer) processSample(sample *Sample) error {
	metric, err := signal.ParseModality(sample.Metric)
	if err != nil {
		return err
	}
	return s.batcher.Add(batch.Sample{
		SessionID: sample.SessionID,
		TsMS:      sample.TsMS,
		Metric:    metric,
		Value:     sample.Value,
	})
}

func sendFinalAcks(stream grpc.BidiStreamingServer[Sample, Ack], counters map[string]uint64) error {
	ids := make([]string, 0, len(counters))
	for id := range counters {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := stream.Send(&Ack{SessionID: id, ReceivedCnt: counters[id]}); err != nil {
			return err
		}
	}
	return nil
}

// ProcessBatch накапливает точки запроса и обрабатывает сессию
func (s *FeatureServer) ProcessBatch(ctx context.Context, req *ProcessBatchRequest) (*session.Result, error) {
	if req.SessionID == "" {
		return nil, status.Error(codes.InvalidArgument, session.ErrEmptySessionID.Error())
	}

	if timeout := s.cfg.ProcessTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := s.engine.Ingest(ctx, req.SessionID, toSamples(req.BPMData), toSamples(req.UterusData))
	if err != nil {
		return nil, toStatus(err)
	}
	return res, nil
}

// ProcessBatchStream отвечает на каждый запрос потока по порядку
func (s *FeatureServer) ProcessBatchStream(stream grpc.BidiStreamingServer[ProcessBatchRequest, session.Result]) error {
	for {
		req, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		res, err := s.ProcessBatch(stream.Context(), req)
		if err != nil {
			return err
		}
		if err := stream.Send(res); err != nil {
			log.Printf("[ERROR] Failed to send batch result: session=%s: %v", req.SessionID, err)
			return err
		}
	}
}

// ResetSession очищает буферы, историю и предсказание сессии
func (s *FeatureServer) ResetSession(ctx context.Context, req *ResetSessionRequest) (*ResetSessionResponse, error) {
	if req.SessionID == "" {
		return nil, status.Error(codes.InvalidArgument, session.ErrEmptySessionID.Error())
	}
	if err := s.engine.Reset(ctx, req.SessionID); err != nil {
		return nil, toStatus(err)
	}
	return &ResetSessionResponse{
		SessionID: req.SessionID,
		Success:   true,
		Message:   "Session reset",
	}, nil
}

// toStatus переводит ошибки движка в коды gRPC
func toStatus(err error) error {
	switch {
	case errors.Is(err, session.ErrEmptySessionID), errors.Is(err, signal.ErrInvalidSample):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, session.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		log.Printf("[ERROR] Processing failed: %v", err)
		return status.Error(codes.Internal, err.Error())
	}
}

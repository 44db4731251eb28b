package emulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"

	"github.com/Krimson/fetal-monitory/extractor/internal/server"
	"github.com/Krimson/fetal-monitory/extractor/internal/signal"
	"github.com/Krimson/fetal-monitory/extractor/internal/synth"
)

// Source выдает такты записи по возрастанию времени
type Source interface {
	Next() (signal.Tick, bool)
}

// Pusher открывает поток PushSamples (server.Client)
type Pusher interface {
	PushSamples(ctx context.Context) (grpc.BidiStreamingClient[server.Sample, server.Ack], error)
}

// Stats - итог передачи одной сессии
type Stats struct {
	SessionID string
	Ticks     int
	Sent      uint64
	Acked     uint64 // Последний received_cnt от сервера
}

// Emulator передает записи КТГ в сервис через PushSamples.
// speed задает ускорение относительно реального времени; 0 - без пауз.
type Emulator struct {
	client Pusher
	speed  float64
}

func New(client Pusher, speed float64) *Emulator {
	if speed < 0 {
		speed = 0
	}
	return &Emulator{client: client, speed: speed}
}

// Run передает все такты источника и дожидается финального подтверждения
func (e *Emulator) Run(ctx context.Context, sessionID string, src Source) (Stats, error) {
	stats := Stats{SessionID: sessionID}

	stream, err := e.client.PushSamples(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to create stream: %w", err)
	}

	var acked atomic.Uint64
	ackDone := make(chan error, 1)
	go func() {
		ackDone <- receiveAcks(stream, &acked)
	}()

	start := time.Now()
	for {
		tick, ok := src.Next()
		if !ok {
			break
		}
		if err := e.wait(ctx, start, tick.TimeSec); err != nil {
			return stats, err
		}

		tsMS := int64(math.Round(tick.TimeSec * 1000))
		if tick.HeartRate != nil {
			if err := stream.Send(&server.Sample{SessionID: sessionID, TsMS: tsMS, Metric: "fhr", Value: *tick.HeartRate}); err != nil {
				return stats, fmt.Errorf("failed to send sample: %w", err)
			}
			stats.Sent++
		}
		if tick.Uterine != nil {
			if err := stream.Send(&server.Sample{SessionID: sessionID, TsMS: tsMS, Metric: "uc", Value: *tick.Uterine}); err != nil {
				return stats, fmt.Errorf("failed to send sample: %w", err)
			}
			stats.Sent++
		}
		stats.Ticks++
	}

	if err := stream.CloseSend(); err != nil {
		return stats, fmt.Errorf("failed to close stream: %w", err)
	}
	err = <-ackDone
	stats.Acked = acked.Load()
	return stats, err
}

// wait выдерживает паузу до момента отправки такта
func (e *Emulator) wait(ctx context.Context, start time.Time, timeSec float64) error {
	if e.speed == 0 {
		return ctx.Err()
	}

	target := start.Add(time.Duration(timeSec / e.speed * float64(time.Second)))
	delay := time.Until(target)
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func receiveAcks(stream grpc.BidiStreamingClient[server.Sample, server.Ack], acked *atomic.Uint64) error {
	for {
		ack, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to receive ack: %w", err)
		}
		acked.Store(ack.ReceivedCnt)
		log.Printf("[INFO] Received ack for session %s: received_cnt=%d", ack.SessionID, ack.ReceivedCnt)
	}
}

// SyntheticSource - такты генератора заданной длительности
type SyntheticSource struct {
	gen       *synth.Generator
	remaining int
}

func NewSyntheticSource(gen *synth.Generator, durationSec float64) *SyntheticSource {
	return &SyntheticSource{
		gen:       gen,
		remaining: int(math.Round(durationSec * gen.FS())),
	}
}

func (s *SyntheticSource) Next() (signal.Tick, bool) {
	if s.remaining <= 0 {
		return signal.Tick{}, false
	}
	s.remaining--
	return s.gen.Next(), true
}

// ReplaySource сливает два ряда CSV в такты по времени.
// Отсчеты с одинаковым временем попадают в один такт.
type ReplaySource struct {
	bpm, uterus signal.Series
	i, j        int
}

func NewReplaySource(bpm, uterus signal.Series) *ReplaySource {
	return &ReplaySource{bpm: bpm, uterus: uterus}
}

func (r *ReplaySource) Next() (signal.Tick, bool) {
	hasBPM := r.i < len(r.bpm)
	hasUC := r.j < len(r.uterus)

	switch {
	case !hasBPM && !hasUC:
		return signal.Tick{}, false

	case hasBPM && (!hasUC || r.bpm[r.i].TimeSec < r.uterus[r.j].TimeSec):
		s := r.bpm[r.i]
		r.i++
		return signal.Tick{TimeSec: s.TimeSec, HeartRate: signal.Value(s.Value)}, true

	case hasUC && (!hasBPM || r.uterus[r.j].TimeSec < r.bpm[r.i].TimeSec):
		s := r.uterus[r.j]
		r.j++
		return signal.Tick{TimeSec: s.TimeSec, Uterine: signal.Value(s.Value)}, true

	default:
		hr, uc := r.bpm[r.i], r.uterus[r.j]
		r.i++
		r.j++
		return signal.Tick{TimeSec: hr.TimeSec, HeartRate: signal.Value(hr.Value), Uterine: signal.Value(uc.Value)}, true
	}
}

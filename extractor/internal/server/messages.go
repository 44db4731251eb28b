package server

import (
	"github.com/Krimson/fetal-monitory/extractor/internal/signal"
)

// Sample - точка телеметрии в потоке PushSamples
type Sample struct {
	SessionID string  `json:"session_id"`
	TsMS      int64   `json:"ts_ms"`
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
}

// Ack подтверждает число принятых точек сессии
type Ack struct {
	SessionID   string `json:"session_id"`
	ReceivedCnt uint64 `json:"received_cnt"`
}

// DataPoint - точка сигнала во времени записи
type DataPoint struct {
	TimeSec float64 `json:"time_sec"`
	Value   float64 `json:"value"`
}

// ProcessBatchRequest - пачка точек обеих модальностей для одной сессии
type ProcessBatchRequest struct {
	SessionID  string      `json:"session_id"`
	BPMData    []DataPoint `json:"bpm_data"`
	UterusData []DataPoint `json:"uterus_data"`
}

type ResetSessionRequest struct {
	SessionID string `json:"session_id"`
}

type ResetSessionResponse struct {
	SessionID string `json:"session_id"`
	Success   bool   `json:"success"`
	Message   string `json:"message"`
}

func toSamples(points []DataPoint) []signal.Sample {
	out := make([]signal.Sample, len(points))
	for i, p := range points {
		out[i] = signal.Sample{TimeSec: p.TimeSec, Value: p.Value}
	}
	return out
}

package sink

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/Krimson/fetal-monitory/extractor/internal/session"
)

const influxMeasurement = "ctg_features"

type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxSink пишет скалярные признаки как точки временного ряда
type InfluxSink struct {
	writer pointWriter
	client influxdb2.Client
}

func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: 5 * time.Second,
			}).DialContext,
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	client := influxdb2.NewClientWithOptions(url, token, influxdb2.DefaultOptions().SetHTTPClient(httpClient))
	return &InfluxSink{
		writer: client.WriteAPIBlocking(org, bucket),
		client: client,
	}
}

func (is *InfluxSink) Publish(ctx context.Context, res *session.Result) error {
	if err := is.writer.WritePoint(ctx, featurePoint(res)); err != nil {
		return fmt.Errorf("influx write session %s: %w", res.SessionID, err)
	}
	return nil
}

func featurePoint(res *session.Result) *write.Point {
	ts := res.ProcessedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	p := influxdb2.NewPointWithMeasurement(influxMeasurement).
		AddTag("session_id", res.SessionID).
		AddTag("status", string(res.Status)).
		AddField("prediction", res.Prediction).
		SetTime(ts)
	for name, value := range res.Records.Vector() {
		p.AddField(name, value)
	}
	return p
}

func (is *InfluxSink) Close() {
	if is.client != nil {
		is.client.Close()
	}
}

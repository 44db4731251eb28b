package server

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/Krimson/fetal-monitory/extractor/internal/session"
)

// Client - типизированный клиент сервиса FeatureExtractor
type Client struct {
	conn *grpc.ClientConn
}

// Dial создает клиент; по умолчанию соединение без TLS
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return NewClient(conn), nil
}

func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) ProcessBatch(ctx context.Context, req *ProcessBatchRequest) (*session.Result, error) {
	out := new(session.Result)
	if err := c.conn.Invoke(ctx, processBatchMethod, req, out, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ResetSession(ctx context.Context, sessionID string) (*ResetSessionResponse, error) {
	out := new(ResetSessionResponse)
	err := c.conn.Invoke(ctx, resetSessionMethod, &ResetSessionRequest{SessionID: sessionID}, out, grpc.CallContentSubtype(codecName))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PushSamples открывает поток точек; сервер отвечает периодическими Ack
func (c *Client) PushSamples(ctx context.Context) (grpc.BidiStreamingClient[Sample, Ack], error) {
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], pushSamplesMethod, grpc.CallContentSubtype(codecName))
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[Sample, Ack]{ClientStream: stream}, nil
}

func (c *Client) ProcessBatchStream(ctx context.Context) (grpc.BidiStreamingClient[ProcessBatchRequest, session.Result], error) {
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[1], processBatchStreamMethod, grpc.CallContentSubtype(codecName))
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[ProcessBatchRequest, session.Result]{ClientStream: stream}, nil
}

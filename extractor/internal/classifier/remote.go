package classifier

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ServiceName - имя gRPC-сервиса классификатора
	ServiceName = "ctg.v1.Classifier"
	scoreMethod = "/" + ServiceName + "/Score"
)

// RemoteScorer вызывает внешний сервис классификатора.
// Запрос - google.protobuf.Struct с признаками, ответ - google.protobuf.DoubleValue.
type RemoteScorer struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// DialRemote создает клиент удаленного классификатора
func DialRemote(addr string, timeout time.Duration) (*RemoteScorer, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to classifier %s: %w", addr, err)
	}
	return NewRemoteScorer(conn, timeout), nil
}

// NewRemoteScorer создает клиент поверх существующего соединения
func NewRemoteScorer(conn *grpc.ClientConn, timeout time.Duration) *RemoteScorer {
	return &RemoteScorer{conn: conn, timeout: timeout}
}

func (r *RemoteScorer) Score(ctx context.Context, features map[string]float64) (float64, error) {
	fields := make(map[string]any, len(features))
	for k, v := range features {
		fields[k] = v
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return 0, fmt.Errorf("failed to encode features: %w", err)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	resp := &wrapperspb.DoubleValue{}
	if err := r.conn.Invoke(ctx, scoreMethod, req, resp); err != nil {
		switch status.Code(err) {
		case codes.Unavailable, codes.Unimplemented, codes.FailedPrecondition, codes.DeadlineExceeded:
			return 0, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
		}
		return 0, fmt.Errorf("remote score failed: %w", err)
	}
	return Clamp(resp.GetValue()), nil
}

// Close закрывает соединение
func (r *RemoteScorer) Close() error {
	return r.conn.Close()
}

// classifierServer - тип обработчика для ServiceDesc
type classifierServer interface {
	Score(ctx context.Context, features map[string]float64) (float64, error)
}

// RegisterServer публикует scorer как сервис ctg.v1.Classifier
func RegisterServer(s grpc.ServiceRegistrar, scorer Scorer) {
	s.RegisterService(&classifierServiceDesc, scorer)
}

var classifierServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*classifierServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Score",
			Handler:    scoreHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ctg/v1/classifier.proto",
}

func scoreHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}

	handler := func(ctx context.Context, req any) (any, error) {
		return serveScore(ctx, srv.(classifierServer), req.(*structpb.Struct))
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: scoreMethod}
	return interceptor(ctx, in, info, handler)
}

func serveScore(ctx context.Context, scorer classifierServer, req *structpb.Struct) (*wrapperspb.DoubleValue, error) {
	features := make(map[string]float64, len(req.GetFields()))
	for name, v := range req.GetFields() {
		num, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "feature %q is not a number", name)
		}
		features[name] = num.NumberValue
	}

	p, err := scorer.Score(ctx, features)
	if err != nil {
		if errors.Is(err, ErrModelUnavailable) {
			return nil, status.Error(codes.Unavailable, err.Error())
		}
		log.Printf("[ERROR] [CLASSIFIER] Score failed: %v", err)
		return nil, status.Error(codes.Internal, err.Error())
	}
	return wrapperspb.Double(Clamp(p)), nil
}

package server

import (
	"context"

	"google.golang.org/grpc"

	"github.com/Krimson/fetal-monitory/extractor/internal/session"
)

const (
	// ServiceName - полное имя gRPC-сервиса
	ServiceName = "ctg.v1.FeatureExtractor"

	pushSamplesMethod        = "/" + ServiceName + "/PushSamples"
	processBatchMethod       = "/" + ServiceName + "/ProcessBatch"
	processBatchStreamMethod = "/" + ServiceName + "/ProcessBatchStream"
	resetSessionMethod       = "/" + ServiceName + "/ResetSession"
)

// featureExtractorServer - тип обработчика для ServiceDesc
type featureExtractorServer interface {
	PushSamples(grpc.BidiStreamingServer[Sample, Ack]) error
	ProcessBatch(context.Context, *ProcessBatchRequest) (*session.Result, error)
	ProcessBatchStream(grpc.BidiStreamingServer[ProcessBatchRequest, session.Result]) error
	ResetSession(context.Context, *ResetSessionRequest) (*ResetSessionResponse, error)
}

// Register публикует сервис на gRPC-сервере
func Register(s grpc.ServiceRegistrar, srv *FeatureServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*featureExtractorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ProcessBatch",
			Handler:    processBatchHandler,
		},
		{
			MethodName: "ResetSession",
			Handler:    resetSessionHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "PushSamples",
			Handler:       pushSamplesHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
		{
			StreamName:    "ProcessBatchStream",
			Handler:       processBatchStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "ctg/v1/feature_extractor.proto",
}

func processBatchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ProcessBatchRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(featureExtractorServer).ProcessBatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: processBatchMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(featureExtractorServer).ProcessBatch(ctx, req.(*ProcessBatchRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func resetSessionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ResetSessionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(featureExtractorServer).ResetSession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: resetSessionMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(featureExtractorServer).ResetSession(ctx, req.(*ResetSessionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func pushSamplesHandler(srv any, stream grpc.ServerStream) error {
	return srv.(featureExtractorServer).PushSamples(&grpc.GenericServerStream[Sample, Ack]{ServerStream: stream})
}

func processBatchStreamHandler(srv any, stream grpc.ServerStream) error {
	return srv.(featureExtractorServer).ProcessBatchStream(&grpc.GenericServerStream[ProcessBatchRequest, session.Result]{ServerStream: stream})
}

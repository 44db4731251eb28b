package server

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName - content-subtype сообщений FeatureExtractor (application/grpc+json)
const codecName = "json"

// jsonCodec передает сообщения сервиса как JSON поверх gRPC
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

package classifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
)

// endpointInvoker - часть клиента SageMaker Runtime, используемая скорером
type endpointInvoker interface {
	InvokeEndpoint(ctx context.Context, params *sagemakerruntime.InvokeEndpointInput, optFns ...func(*sagemakerruntime.Options)) (*sagemakerruntime.InvokeEndpointOutput, error)
}

type sageMakerResponse struct {
	Scores []struct {
		Score float64 `json:"score"`
	} `json:"scores"`
}

// SageMakerScorer вызывает развернутую модель SageMaker.
// Признаки передаются вектором в порядке featureOrder.
type SageMakerScorer struct {
	client       endpointInvoker
	endpoint     string
	featureOrder []string
}

// NewSageMakerScorer загружает конфигурацию AWS и создает клиент SageMaker Runtime
func NewSageMakerScorer(ctx context.Context, endpoint, region string, featureOrder []string) (*SageMakerScorer, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("%w: sagemaker endpoint not configured", ErrModelUnavailable)
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	return &SageMakerScorer{
		client:       sagemakerruntime.NewFromConfig(cfg),
		endpoint:     endpoint,
		featureOrder: featureOrder,
	}, nil
}

func (s *SageMakerScorer) Score(ctx context.Context, features map[string]float64) (float64, error) {
	vector, err := orderedValues(features, s.featureOrder)
	if err != nil {
		return 0, fmt.Errorf("sagemaker: %w", err)
	}

	payload, err := json.Marshal(map[string]any{
		"instances": []map[string]any{
			{"features": vector},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("sagemaker: failed to encode payload: %w", err)
	}

	output, err := s.client.InvokeEndpoint(ctx, &sagemakerruntime.InvokeEndpointInput{
		EndpointName: aws.String(s.endpoint),
		Body:         payload,
		ContentType:  aws.String("application/json"),
		Accept:       aws.String("application/json"),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: failed to invoke endpoint %s: %v", ErrModelUnavailable, s.endpoint, err)
	}

	var response sageMakerResponse
	if err := json.Unmarshal(output.Body, &response); err != nil {
		return 0, fmt.Errorf("sagemaker: failed to parse response: %w", err)
	}
	if len(response.Scores) == 0 {
		return 0, fmt.Errorf("sagemaker: empty scores in response")
	}

	return Clamp(response.Scores[0].Score), nil
}

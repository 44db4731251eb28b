package health

import (
	"context"
	"log"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// Probe проверяет готовность зависимости; nil - сервис готов
type Probe func(ctx context.Context) error

type HealthServer struct {
	grpc_health_v1.UnimplementedHealthServer
	mu       sync.RWMutex
	services map[string]grpc_health_v1.HealthCheckResponse_ServingStatus
	watchers map[string][]chan grpc_health_v1.HealthCheckResponse_ServingStatus
}

func NewHealthServer() *HealthServer {
	return &HealthServer{
		services: make(map[string]grpc_health_v1.HealthCheckResponse_ServingStatus),
		watchers: make(map[string][]chan grpc_health_v1.HealthCheckResponse_ServingStatus),
	}
}

func (h *HealthServer) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	servingStatus, exists := h.Status(req.GetService())
	if !exists {
		return nil, status.Error(codes.NotFound, "service not found")
	}

	return &grpc_health_v1.HealthCheckResponse{
		Status: servingStatus,
	}, nil
}

// Status возвращает текущий статус сервиса. Пустое имя без явного статуса
// означает сам процесс и считается SERVING.
func (h *HealthServer) Status(service string) (grpc_health_v1.HealthCheckResponse_ServingStatus, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	st, ok := h.services[service]
	if !ok && service == "" {
		return grpc_health_v1.HealthCheckResponse_SERVING, true
	}
	return st, ok
}

// Watch отправляет текущий статус и затем каждое его изменение
func (h *HealthServer) Watch(req *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	service := req.GetService()
	updates := h.subscribe(service)
	defer h.unsubscribe(service, updates)

	current, ok := h.Status(service)
	if !ok {
		current = grpc_health_v1.HealthCheckResponse_SERVICE_UNKNOWN
	}
	if err := stream.Send(&grpc_health_v1.HealthCheckResponse{Status: current}); err != nil {
		return err
	}

	for {
		select {
		case st := <-updates:
			if st == current {
				continue
			}
			current = st
			if err := stream.Send(&grpc_health_v1.HealthCheckResponse{Status: st}); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

func (h *HealthServer) SetServingStatus(service string) {
	h.setStatus(service, grpc_health_v1.HealthCheckResponse_SERVING)
}

func (h *HealthServer) SetNotServingStatus(service string) {
	h.setStatus(service, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
}

// Monitor опрашивает probe с интервалом и переключает статус сервиса
// до отмены ctx. Первая проверка выполняется сразу.
func (h *HealthServer) Monitor(ctx context.Context, service string, probe Probe, interval time.Duration) {
	check := func() {
		probeCtx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()

		if err := probe(probeCtx); err != nil {
			if h.setStatus(service, grpc_health_v1.HealthCheckResponse_NOT_SERVING) {
				log.Printf("[WARN] [HEALTH] %s is not serving: %v", service, err)
			}
			return
		}
		if h.setStatus(service, grpc_health_v1.HealthCheckResponse_SERVING) {
			log.Printf("[INFO] [HEALTH] %s is serving", service)
		}
	}

	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			check()
		case <-ctx.Done():
			return
		}
	}
}

// setStatus возвращает true, если статус изменился
func (h *HealthServer) setStatus(service string, st grpc_health_v1.HealthCheckResponse_ServingStatus) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev, existed := h.services[service]
	h.services[service] = st
	if existed && prev == st {
		return false
	}

	for _, ch := range h.watchers[service] {
		// В канале держим только последний статус
		select {
		case ch <- st:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- st
		}
	}
	return true
}

func (h *HealthServer) subscribe(service string) chan grpc_health_v1.HealthCheckResponse_ServingStatus {
	ch := make(chan grpc_health_v1.HealthCheckResponse_ServingStatus, 1)
	h.mu.Lock()
	h.watchers[service] = append(h.watchers[service], ch)
	h.mu.Unlock()
	return ch
}

func (h *HealthServer) unsubscribe(service string, ch chan grpc_health_v1.HealthCheckResponse_ServingStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()

	list := h.watchers[service]
	for i, c := range list {
		if c == ch {
			h.watchers[service] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

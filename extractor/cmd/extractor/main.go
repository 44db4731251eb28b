package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/Krimson/fetal-monitory/extractor/internal/batch"
	"github.com/Krimson/fetal-monitory/extractor/internal/classifier"
	"github.com/Krimson/fetal-monitory/extractor/internal/config"
	"github.com/Krimson/fetal-monitory/extractor/internal/health"
	"github.com/Krimson/fetal-monitory/extractor/internal/httpapi"
	"github.com/Krimson/fetal-monitory/extractor/internal/ingest"
	"github.com/Krimson/fetal-monitory/extractor/internal/server"
	"github.com/Krimson/fetal-monitory/extractor/internal/session"
	"github.com/Krimson/fetal-monitory/extractor/internal/sink"
	"github.com/Krimson/fetal-monitory/extractor/internal/store"
	"github.com/Krimson/fetal-monitory/extractor/internal/websocket"
)

const (
	classifierHealthService = "classifier"
	healthProbeInterval     = 30 * time.Second
	shutdownTimeout         = 30 * time.Second
)

func main() {
	log.Printf("[INFO] Starting feature extractor...")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[FATAL] Invalid configuration: %v", err)
	}
	log.Printf("[INFO] Configuration loaded: grpc_port=%s http_port=%s classifier=%s policy=%s",
		cfg.GRPCPort, cfg.HTTPPort, cfg.Classifier.Backend, cfg.Engine.Policy)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	opts := cfg.EngineOptions()
	scoringNames := scoringFeatures(cfg.Classifier.FeatureOrder, opts.ScoringExclude)

	scorer, closeScorer := buildScorer(ctx, cfg, scoringNames)
	closers = append(closers, closeScorer)

	engine := session.NewEngine(opts, scorer)

	cache, closeCache := buildCache(ctx, cfg)
	closers = append(closers, closeCache)

	repo, closeRepo := buildRepository(ctx, cfg)
	closers = append(closers, closeRepo)

	hub := websocket.NewHub()
	go hub.Run(ctx)

	sessionTTL := time.Duration(cfg.SessionDataTTLSeconds) * time.Second
	publisher := sink.NewComposite(
		sink.LogPublisher{},
		sink.NewCacheSink(cache, sessionTTL),
		hub,
	)
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink := sink.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		publisher.Add(kafkaSink)
		closers = append(closers, func() {
			if err := kafkaSink.Close(); err != nil {
				log.Printf("[WARN] Failed to close Kafka writer: %v", err)
			}
		})
		log.Printf("[INFO] Kafka sink enabled: brokers=%v topic=%s", cfg.Kafka.Brokers, cfg.Kafka.Topic)
	}
	if cfg.Influx.URL != "" {
		influxSink := sink.NewInfluxSink(cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket)
		publisher.Add(influxSink)
		closers = append(closers, influxSink.Close)
		log.Printf("[INFO] InfluxDB sink enabled: url=%s bucket=%s", cfg.Influx.URL, cfg.Influx.Bucket)
	}
	log.Printf("[INFO] Result publishers: %d", publisher.Len())

	batcher := batch.NewBatcher(cfg, batch.NewEngineSink(engine, publisher))

	grpcServer := grpc.NewServer()
	server.Register(grpcServer, server.NewFeatureServer(cfg, engine, batcher))
	if scorer != nil && cfg.Classifier.Backend == "logistic" {
		classifier.RegisterServer(grpcServer, scorer)
	}

	healthServer := health.NewHealthServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)

	if cfg.GRPCReflection {
		reflection.Register(grpcServer)
	}

	address := fmt.Sprintf(":%s", cfg.GRPCPort)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		log.Fatalf("[FATAL] Failed to listen on %s: %v", address, err)
	}
	log.Printf("[INFO] gRPC server listening on %s", address)

	healthServer.SetServingStatus("")
	healthServer.SetServingStatus(server.ServiceName)
	go healthServer.Monitor(ctx, classifierHealthService, func(ctx context.Context) error {
		return classifier.Probe(ctx, scorer, scoringNames)
	}, healthProbeInterval)

	handler := httpapi.NewHandler(engine, cache, repo, publisher, sessionTTL)
	httpServer := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: httpapi.NewRouter(httpapi.RouterConfig{
			Handler:     handler,
			WebSocket:   hub.HandleWebSocket,
			Health:      healthServer,
			Services:    []string{"", server.ServiceName, classifierHealthService},
			CORSOrigins: cfg.CORSOrigins,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var subscriber *ingest.MQTTSubscriber
	if cfg.MQTT.Broker != "" {
		subscriber = ingest.NewMQTTSubscriber(cfg.MQTT, batcher)
		if err := subscriber.Start(); err != nil {
			log.Printf("[ERROR] MQTT ingest disabled: %v", err)
			subscriber = nil
		}
	}

	serverErrChan := make(chan error, 2)
	go func() {
		if err := grpcServer.Serve(listener); err != nil {
			serverErrChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()
	go func() {
		log.Printf("[INFO] HTTP server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrChan:
		log.Printf("[ERROR] Server error: %v", err)

	case sig := <-shutdownChan:
		log.Printf("[INFO] Received signal %v, starting graceful shutdown...", sig)
	}

	healthServer.SetNotServingStatus("")
	healthServer.SetNotServingStatus(server.ServiceName)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if subscriber != nil {
		subscriber.Stop()
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[WARN] HTTP shutdown: %v", err)
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		log.Printf("[WARN] Graceful shutdown timeout, forcing stop")
		grpcServer.Stop()
	}

	batcher.Stop()
	engine.Close()
	cancel()

	log.Printf("[INFO] Server stopped")
}

// scoringFeatures - признаки, передаваемые классификатору, в порядке конфигурации
func scoringFeatures(order, exclude []string) []string {
	out := make([]string, 0, len(order))
	for _, name := range order {
		if !slices.Contains(exclude, name) {
			out = append(out, name)
		}
	}
	return out
}

// buildScorer собирает классификатор выбранного бэкенда.
// Недоступный бэкенд не останавливает сервис: результаты получают статус error.
func buildScorer(ctx context.Context, cfg *config.Config, names []string) (classifier.Scorer, func()) {
	noop := func() {}
	cc := cfg.Classifier

	logistic := func() classifier.Scorer {
		s := classifier.LoadLogisticScorer(cc.WeightsPath)
		if !s.Available() {
			log.Printf("[WARN] [CLASSIFIER] Logistic model unavailable: %v", s.LoadError())
		}
		return s
	}
	remote := func() (*classifier.RemoteScorer, bool) {
		r, err := classifier.DialRemote(cc.RemoteAddr, time.Duration(cc.RemoteTimeoutMS)*time.Millisecond)
		if err != nil {
			log.Printf("[ERROR] [CLASSIFIER] Remote scorer %s unavailable: %v", cc.RemoteAddr, err)
			return nil, false
		}
		return r, true
	}
	sagemaker := func() (*classifier.SageMakerScorer, bool) {
		s, err := classifier.NewSageMakerScorer(ctx, cc.SageMakerEndpoint, cc.AWSRegion, names)
		if err != nil {
			log.Printf("[ERROR] [CLASSIFIER] SageMaker scorer unavailable: %v", err)
			return nil, false
		}
		return s, true
	}

	switch cc.Backend {
	case "remote":
		r, ok := remote()
		if !ok {
			return nil, noop
		}
		return r, func() { r.Close() }

	case "sagemaker":
		s, ok := sagemaker()
		if !ok {
			return nil, noop
		}
		return s, noop

	case "ensemble":
		members := []classifier.Scorer{logistic()}
		closeFn := noop
		if cc.RemoteAddr != "" {
			if r, ok := remote(); ok {
				members = append(members, r)
				closeFn = func() { r.Close() }
			}
		}
		if cc.SageMakerEndpoint != "" {
			if s, ok := sagemaker(); ok {
				members = append(members, s)
			}
		}
		log.Printf("[INFO] [CLASSIFIER] Ensemble of %d scorers", len(members))
		return classifier.NewEnsemble(members...), closeFn

	default:
		return logistic(), noop
	}
}

// buildCache подключает Redis; без него кэш живет в памяти процесса
func buildCache(ctx context.Context, cfg *config.Config) (store.CacheStore, func()) {
	if cfg.RedisAddr == "" {
		log.Printf("[INFO] Redis not configured, using in-memory cache")
		return store.NewMemoryStore(), func() {}
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	redisStore, err := store.NewRedisStoreFromAddr(connectCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Printf("[WARN] Redis unavailable at %s, using in-memory cache: %v", cfg.RedisAddr, err)
		return store.NewMemoryStore(), func() {}
	}
	log.Printf("[INFO] Connected to Redis at %s", cfg.RedisAddr)
	return redisStore, func() { redisStore.Close() }
}

// buildRepository подключает архив PostgreSQL; nil - архив отключен
func buildRepository(ctx context.Context, cfg *config.Config) (store.Repository, func()) {
	if cfg.PostgresDSN == "" {
		log.Printf("[INFO] PostgreSQL not configured, archive disabled")
		return nil, func() {}
	}

	repo, err := store.NewPostgresRepositoryFromDSN(cfg.PostgresDSN)
	if err != nil {
		log.Printf("[ERROR] PostgreSQL unavailable, archive disabled: %v", err)
		return nil, func() {}
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Printf("[ERROR] Failed to apply archive schema: %v", err)
		repo.Close()
		return nil, func() {}
	}
	log.Printf("[INFO] Connected to PostgreSQL archive")
	return repo, func() { repo.Close() }
}

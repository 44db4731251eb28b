package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/Krimson/fetal-monitory/extractor/internal/features"
	"github.com/Krimson/fetal-monitory/extractor/internal/preprocess"
	"github.com/Krimson/fetal-monitory/extractor/internal/session"
)

// Config содержит все настройки приложения
type Config struct {
	// Server settings
	GRPCPort       string `toml:"grpc_port"`
	HTTPPort       string `toml:"http_port"`
	GRPCReflection bool   `toml:"grpc_reflection"`

	// Batch settings
	BatchMaxSamples       int   `toml:"batch_max_samples"`
	BatchMaxSpanMS        int64 `toml:"batch_max_span_ms"`
	FlushIntervalMS       int64 `toml:"flush_interval_ms"`
	AckEveryN             int   `toml:"ack_every_n"`
	OutOfOrderToleranceMS int64 `toml:"out_of_order_tolerance_ms"`
	DropTooOldMS          int64 `toml:"drop_too_old_ms"`

	// Redis settings (пустой адрес отключает Redis)
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`

	// PostgreSQL settings (пустой DSN отключает архив)
	PostgresDSN string `toml:"postgres_dsn"`

	// Session settings
	SessionDataTTLSeconds int `toml:"session_data_ttl_seconds"`

	Engine     EngineConfig     `toml:"engine"`
	Classifier ClassifierConfig `toml:"classifier"`
	Kafka      KafkaConfig      `toml:"kafka"`
	Influx     InfluxConfig     `toml:"influx"`
	MQTT       MQTTConfig       `toml:"mqtt"`

	CORSOrigins []string `toml:"cors_origins"`
}

// EngineConfig - параметры обработки сессий
type EngineConfig struct {
	Workers          int     `toml:"workers"`
	Policy           string  `toml:"policy"` // queue | reject
	ProcessRate      float64 `toml:"process_rate"`
	ProcessBurst     int     `toml:"process_burst"`
	MinHistory       int     `toml:"min_history"`
	HistoryLimit     int     `toml:"history_limit"`
	TailPoints       int     `toml:"tail_points"`
	DefaultFS        float64 `toml:"default_fs"`
	ScoreTimeoutMS   int64   `toml:"score_timeout_ms"`
	ProcessTimeoutMS int64   `toml:"process_timeout_ms"`

	HeartRate preprocess.Profile `toml:"heart_rate"`
	Uterine   preprocess.Profile `toml:"uterine"`
	Features  features.Options   `toml:"features"`
}

// ClassifierConfig - выбор и параметры классификатора
type ClassifierConfig struct {
	Backend           string   `toml:"backend"` // logistic | remote | sagemaker | ensemble
	WeightsPath       string   `toml:"weights_path"`
	RemoteAddr        string   `toml:"remote_addr"`
	RemoteTimeoutMS   int64    `toml:"remote_timeout_ms"`
	SageMakerEndpoint string   `toml:"sagemaker_endpoint"`
	AWSRegion         string   `toml:"aws_region"`
	FeatureOrder      []string `toml:"feature_order"`
}

type KafkaConfig struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

type InfluxConfig struct {
	URL    string `toml:"url"`
	Token  string `toml:"token"`
	Org    string `toml:"org"`
	Bucket string `toml:"bucket"`
}

type MQTTConfig struct {
	Broker      string `toml:"broker"`
	ClientID    string `toml:"client_id"`
	TopicPrefix string `toml:"topic_prefix"`
	QoS         int    `toml:"qos"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
}

// Default возвращает настройки по умолчанию
func Default() *Config {
	engine := session.DefaultOptions()
	return &Config{
		GRPCPort:              "50051",
		HTTPPort:              "8080",
		GRPCReflection:        true,
		BatchMaxSamples:       20,   // 5 секунд при 4Hz
		BatchMaxSpanMS:        5000, // Не больше 5 секунд на батч
		FlushIntervalMS:       1000,
		AckEveryN:             10,
		OutOfOrderToleranceMS: 250,
		DropTooOldMS:          5000,

		RedisAddr: "localhost:6379",
		RedisDB:   0,

		SessionDataTTLSeconds: 86400, // 24 часа

		Engine: EngineConfig{
			Workers:          0,
			Policy:           string(engine.Policy),
			MinHistory:       engine.MinHistory,
			HistoryLimit:     engine.HistoryLimit,
			TailPoints:       engine.TailPoints,
			DefaultFS:        engine.DefaultFS,
			ScoreTimeoutMS:   engine.ScoreTimeout.Milliseconds(),
			ProcessTimeoutMS: 10000,
			HeartRate:        engine.HeartRate,
			Uterine:          engine.Uterine,
			Features:         engine.Features,
		},
		Classifier: ClassifierConfig{
			Backend:         "logistic",
			WeightsPath:     "config/weights.toml",
			RemoteTimeoutMS: 2000,
			AWSRegion:       "us-east-1",
			FeatureOrder:    append([]string(nil), features.ScalarNames...),
		},
		Kafka: KafkaConfig{
			Topic: "ctg.features",
		},
		Influx: InfluxConfig{
			Bucket: "ctg",
		},
		MQTT: MQTTConfig{
			ClientID:    "ctg-extractor",
			TopicPrefix: "medical/ctg",
			QoS:         1,
		},
		CORSOrigins: []string{"*"},
	}
}

// Load загружает конфигурацию: значения по умолчанию, затем TOML-файл (CONFIG_FILE),
// затем переменные окружения
func Load() *Config {
	path := getEnvString("CONFIG_FILE", "config/extractor.toml")

	cfg, err := LoadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Printf("[WARN] Failed to load config file %s: %v, using defaults", path, err)
		}
		cfg = Default()
	}

	cfg.applyEnv()
	return cfg
}

// LoadFile накладывает TOML-файл на значения по умолчанию.
// Отсутствующие в файле ключи сохраняют значения по умолчанию.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.GRPCPort = getEnvString("GRPC_PORT", c.GRPCPort)
	c.HTTPPort = getEnvString("HTTP_PORT", c.HTTPPort)
	c.GRPCReflection = getEnvBool("GRPC_REFLECTION", c.GRPCReflection)

	c.BatchMaxSamples = getEnvInt("BATCH_MAX_SAMPLES", c.BatchMaxSamples)
	c.BatchMaxSpanMS = getEnvInt64("BATCH_MAX_SPAN_MS", c.BatchMaxSpanMS)
	c.FlushIntervalMS = getEnvInt64("FLUSH_INTERVAL_MS", c.FlushIntervalMS)
	c.AckEveryN = getEnvInt("ACK_EVERY_N", c.AckEveryN)
	c.OutOfOrderToleranceMS = getEnvInt64("OUT_OF_ORDER_TOLERANCE_MS", c.OutOfOrderToleranceMS)
	c.DropTooOldMS = getEnvInt64("DROP_TOO_OLD_MS", c.DropTooOldMS)

	// Redis
	c.RedisAddr = getEnvString("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnvString("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)

	// PostgreSQL
	c.PostgresDSN = getEnvString("POSTGRES_DSN", c.PostgresDSN)

	c.SessionDataTTLSeconds = getEnvInt("SESSION_DATA_TTL_SECONDS", c.SessionDataTTLSeconds)

	// Engine
	c.Engine.Workers = getEnvInt("ENGINE_WORKERS", c.Engine.Workers)
	c.Engine.Policy = getEnvString("ENGINE_POLICY", c.Engine.Policy)
	c.Engine.ProcessRate = getEnvFloat("ENGINE_PROCESS_RATE", c.Engine.ProcessRate)
	c.Engine.ProcessBurst = getEnvInt("ENGINE_PROCESS_BURST", c.Engine.ProcessBurst)
	c.Engine.MinHistory = getEnvInt("ENGINE_MIN_HISTORY", c.Engine.MinHistory)
	c.Engine.TailPoints = getEnvInt("ENGINE_TAIL_POINTS", c.Engine.TailPoints)
	c.Engine.DefaultFS = getEnvFloat("ENGINE_DEFAULT_FS", c.Engine.DefaultFS)

	// Classifier
	c.Classifier.Backend = getEnvString("CLASSIFIER_BACKEND", c.Classifier.Backend)
	c.Classifier.WeightsPath = getEnvString("CLASSIFIER_WEIGHTS", c.Classifier.WeightsPath)
	c.Classifier.RemoteAddr = getEnvString("CLASSIFIER_ADDR", c.Classifier.RemoteAddr)
	c.Classifier.SageMakerEndpoint = getEnvString("SAGEMAKER_ENDPOINT", c.Classifier.SageMakerEndpoint)
	c.Classifier.AWSRegion = getEnvString("AWS_REGION", c.Classifier.AWSRegion)

	// Downstream
	c.Kafka.Brokers = getEnvSlice("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.Topic = getEnvString("KAFKA_TOPIC", c.Kafka.Topic)
	c.Influx.URL = getEnvString("INFLUX_URL", c.Influx.URL)
	c.Influx.Token = getEnvString("INFLUX_TOKEN", c.Influx.Token)
	c.Influx.Org = getEnvString("INFLUX_ORG", c.Influx.Org)
	c.Influx.Bucket = getEnvString("INFLUX_BUCKET", c.Influx.Bucket)

	// Ingest
	c.MQTT.Broker = getEnvString("MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.ClientID = getEnvString("MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.MQTT.TopicPrefix = getEnvString("MQTT_TOPIC_PREFIX", c.MQTT.TopicPrefix)
	c.MQTT.QoS = getEnvInt("MQTT_QOS", c.MQTT.QoS)
	c.MQTT.Username = getEnvString("MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = getEnvString("MQTT_PASSWORD", c.MQTT.Password)

	c.CORSOrigins = getEnvSlice("CORS_ORIGINS", c.CORSOrigins)
}

// OutOfOrderTolerance возвращает допуск на нарушение порядка отсчетов
func (c *Config) OutOfOrderTolerance() time.Duration {
	return time.Duration(c.OutOfOrderToleranceMS) * time.Millisecond
}

// ProcessTimeout - предел ожидания результата обработки батча
func (c *Config) ProcessTimeout() time.Duration {
	return time.Duration(c.Engine.ProcessTimeoutMS) * time.Millisecond
}

// EngineOptions собирает параметры движка сессий
func (c *Config) EngineOptions() session.Options {
	opts := session.DefaultOptions()
	opts.DefaultFS = c.Engine.DefaultFS
	opts.HeartRate = c.Engine.HeartRate
	opts.Uterine = c.Engine.Uterine
	opts.Features = c.Engine.Features
	opts.TailPoints = c.Engine.TailPoints
	opts.MinHistory = c.Engine.MinHistory
	opts.HistoryLimit = c.Engine.HistoryLimit
	opts.Policy = session.Policy(c.Engine.Policy)
	opts.Workers = c.Engine.Workers
	opts.ProcessRate = c.Engine.ProcessRate
	opts.ProcessBurst = c.Engine.ProcessBurst
	opts.ScoreTimeout = time.Duration(c.Engine.ScoreTimeoutMS) * time.Millisecond
	return opts
}

// Validate проверяет согласованность настроек
func (c *Config) Validate() error {
	switch session.Policy(c.Engine.Policy) {
	case session.PolicyQueue, session.PolicyReject:
	default:
		return fmt.Errorf("unknown engine policy %q", c.Engine.Policy)
	}
	switch c.Classifier.Backend {
	case "logistic", "remote", "sagemaker", "ensemble":
	default:
		return fmt.Errorf("unknown classifier backend %q", c.Classifier.Backend)
	}
	if c.BatchMaxSamples <= 0 {
		return fmt.Errorf("batch_max_samples must be positive, got %d", c.BatchMaxSamples)
	}
	if c.FlushIntervalMS <= 0 {
		return fmt.Errorf("flush_interval_ms must be positive, got %d", c.FlushIntervalMS)
	}
	if c.Engine.HeartRate.Order <= 0 || c.Engine.Uterine.Order <= 0 {
		return fmt.Errorf("filter order must be positive")
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package ingest

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Krimson/fetal-monitory/extractor/internal/batch"
	"github.com/Krimson/fetal-monitory/extractor/internal/config"
	"github.com/Krimson/fetal-monitory/extractor/internal/signal"
)

const connectTimeout = 10 * time.Second

// SampleSink принимает отсчеты (Batcher)
type SampleSink interface {
	Add(sample batch.Sample) error
}

// Payload - сообщение монитора в топике {prefix}/{data_type}/{session_id}
type Payload struct {
	DataType string  `json:"data_type"`
	Value    float64 `json:"value"`
	TimeSec  float64 `json:"time_sec"`
}

// MQTTSubscriber переводит сообщения мониторов КТГ в отсчеты батчера
type MQTTSubscriber struct {
	cfg    config.MQTTConfig
	sink   SampleSink
	client mqtt.Client

	received atomic.Int64
	rejected atomic.Int64
}

func NewMQTTSubscriber(cfg config.MQTTConfig, sink SampleSink) *MQTTSubscriber {
	return &MQTTSubscriber{
		cfg:  cfg,
		sink: sink,
	}
}

// Topic возвращает фильтр подписки на все типы данных и сессии
func (s *MQTTSubscriber) Topic() string {
	return strings.TrimSuffix(s.cfg.TopicPrefix, "/") + "/+/+"
}

// Start подключается к брокеру. Подписка восстанавливается при каждом переподключении.
func (s *MQTTSubscriber) Start() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		token := c.Subscribe(s.Topic(), byte(s.cfg.QoS), s.onMessage)
		if token.Wait() && token.Error() != nil {
			log.Printf("[ERROR] [MQTT] Failed to subscribe to %s: %v", s.Topic(), token.Error())
			return
		}
		log.Printf("[INFO] [MQTT] Connected to %s, topic: %s", s.cfg.Broker, s.Topic())
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		log.Printf("[WARN] [MQTT] Connection lost: %v", err)
	})

	s.client = mqtt.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt connect to %s timed out", s.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect to %s: %w", s.cfg.Broker, err)
	}
	return nil
}

// Stop отписывается и закрывает соединение
func (s *MQTTSubscriber) Stop() {
	if s.client == nil {
		return
	}
	if s.client.IsConnected() {
		s.client.Unsubscribe(s.Topic()).WaitTimeout(time.Second)
	}
	s.client.Disconnect(250)

	received, rejected := s.Stats()
	log.Printf("[INFO] [MQTT] Subscriber stopped: received=%d, rejected=%d", received, rejected)
}

// Stats возвращает число принятых и отклоненных сообщений
func (s *MQTTSubscriber) Stats() (received, rejected int64) {
	return s.received.Load(), s.rejected.Load()
}

func (s *MQTTSubscriber) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if err := s.HandleMessage(msg.Topic(), msg.Payload()); err != nil {
		log.Printf("[WARN] [MQTT] Message rejected: topic=%s, error=%v", msg.Topic(), err)
	}
}

// HandleMessage разбирает сообщение и передает отсчет в батчер.
// Тип данных берется из payload, при его отсутствии из топика.
func (s *MQTTSubscriber) HandleMessage(topic string, payload []byte) error {
	s.received.Add(1)

	sample, err := s.parse(topic, payload)
	if err == nil {
		err = s.sink.Add(sample)
	}
	if err != nil {
		s.rejected.Add(1)
		return err
	}
	return nil
}

func (s *MQTTSubscriber) parse(topic string, payload []byte) (batch.Sample, error) {
	prefix := strings.TrimSuffix(s.cfg.TopicPrefix, "/") + "/"
	if !strings.HasPrefix(topic, prefix) {
		return batch.Sample{}, fmt.Errorf("unexpected topic %q", topic)
	}
	parts := strings.Split(strings.TrimPrefix(topic, prefix), "/")
	if len(parts) != 2 || parts[1] == "" {
		return batch.Sample{}, fmt.Errorf("topic %q must be %s{data_type}/{session_id}", topic, prefix)
	}
	topicType, sessionID := parts[0], parts[1]

	var p Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		return batch.Sample{}, fmt.Errorf("invalid payload: %w", err)
	}
	if p.DataType == "" {
		p.DataType = topicType
	}

	metric, err := signal.ParseModality(p.DataType)
	if err != nil {
		return batch.Sample{}, fmt.Errorf("%w: %v", signal.ErrInvalidSample, err)
	}

	return batch.Sample{
		SessionID: sessionID,
		TsMS:      int64(math.Round(p.TimeSec * 1000)),
		Metric:    metric,
		Value:     p.Value,
	}, nil
}

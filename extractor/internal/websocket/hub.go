package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Krimson/fetal-monitory/extractor/internal/features"
	"github.com/Krimson/fetal-monitory/extractor/internal/session"
	"github.com/Krimson/fetal-monitory/extractor/internal/signal"
	"github.com/Krimson/fetal-monitory/extractor/internal/store"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Hub управляет WebSocket соединениями и рассылает результаты по сессиям
type Hub struct {
	// Зарегистрированные клиенты
	clients map[*Client]bool
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan envelope

	// Закрывается при остановке Run
	done chan struct{}
}

// envelope - сообщение для подписчиков одной сессии
type envelope struct {
	sessionID string
	payload   []byte
}

// Client представляет WebSocket клиента
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// Буферизованный канал исходящих сообщений
	send chan []byte

	// Пустой sessionID - подписка на все сессии
	sessionID string
}

// ProcessedData - сообщение фронтенду о результате батча
type ProcessedData struct {
	Message    string         `json:"message"`
	Prediction float64        `json:"prediction"`
	Records    RecordsData    `json:"records"`
	SessionID  string         `json:"session_id"`
	Status     session.Status `json:"status"`
}

// RecordsData - признаки батча; события переведены в секунды записи,
// отфильтрованные хвосты - в колонки для графиков
type RecordsData struct {
	features.Record
	Accelerations       []EventData       `json:"accelerations"`
	Decelerations       []EventData       `json:"decelerations"`
	Contractions        []EventData       `json:"contractions"`
	FilteredBPMBatch    FilteredBatchData `json:"filtered_bpm_batch"`
	FilteredUterusBatch FilteredBatchData `json:"filtered_uterus_batch"`
}

// FilteredBatchData представляет скользящее окно отфильтрованных данных
type FilteredBatchData struct {
	TimeSec []float64 `json:"time_sec"`
	Value   []float64 `json:"value"`
}

type EventData struct {
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	Duration  float64 `json:"duration"`
	Amplitude float64 `json:"amplitude"`
	IsLate    bool    `json:"is_late"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Источник ограничивается CORS на уровне HTTP API
		return true
	},
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan envelope, 256),
		done:       make(chan struct{}),
	}
}

// Run обслуживает регистрацию и рассылку до отмены ctx
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("[WEBSOCKET] Client registered: %p, session: %s", client, client.sessionID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			log.Printf("[WEBSOCKET] Client unregistered: %p", client)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if client.sessionID != "" && client.sessionID != msg.sessionID {
					continue
				}
				select {
				case client.send <- msg.payload:
				default:
					// Клиент не успевает читать
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount возвращает число клиентов, получающих данные сессии
func (h *Hub) ClientCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for client := range h.clients {
		if client.sessionID == "" || client.sessionID == sessionID {
			n++
		}
	}
	return n
}

// Publish отправляет результат подписчикам сессии
func (h *Hub) Publish(ctx context.Context, res *session.Result) error {
	message, err := json.Marshal(NewProcessedData(res))
	if err != nil {
		return fmt.Errorf("failed to marshal processed data: %w", err)
	}

	select {
	case h.broadcast <- envelope{sessionID: res.SessionID, payload: message}:
	default:
		log.Printf("[WARN] [WEBSOCKET] Broadcast channel full, dropping message: session=%s", res.SessionID)
	}
	return nil
}

// NewProcessedData собирает сообщение фронтенду из результата батча
func NewProcessedData(res *session.Result) *ProcessedData {
	records := RecordsData{
		Record:              res.Records,
		Accelerations:       []EventData{},
		Decelerations:       []EventData{},
		Contractions:        []EventData{},
		FilteredBPMBatch:    columns(res.FilteredBPM),
		FilteredUterusBatch: columns(res.FilteredUterus),
	}

	for _, e := range store.EventsFromResult(res) {
		data := EventData{
			Start:     e.StartTime,
			End:       e.EndTime,
			Duration:  e.Duration,
			Amplitude: e.Amplitude,
			IsLate:    e.IsLate,
		}
		switch e.Type {
		case features.KindAcceleration:
			records.Accelerations = append(records.Accelerations, data)
		case features.KindDeceleration:
			records.Decelerations = append(records.Decelerations, data)
		case features.KindContraction:
			records.Contractions = append(records.Contractions, data)
		}
	}

	return &ProcessedData{
		Message:    res.Message,
		Prediction: res.Prediction,
		Records:    records,
		SessionID:  res.SessionID,
		Status:     res.Status,
	}
}

func columns(s signal.Series) FilteredBatchData {
	return FilteredBatchData{
		TimeSec: s.Times(),
		Value:   s.Values(),
	}
}

// HandleWebSocket обрабатывает WebSocket соединения (?session_id=...)
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ERROR] Failed to upgrade connection: %v", err)
		return
	}

	client := &Client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, 256),
		sessionID: r.URL.Query().Get("session_id"),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump читает входящие кадры, чтобы обрабатывать pong и закрытие
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[ERROR] WebSocket error: %v", err)
			}
			return
		}
	}
}

// writePump отправляет сообщения клиенту и поддерживает соединение ping-кадрами
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[ERROR] Failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

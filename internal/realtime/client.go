package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/interflow/internal/logger"
	"github.com/interflow/internal/telemetry"
)

const (
	writeWait         = 10 * time.Second
	heartbeatInterval = 25 * time.Second
	readWait          = 60 * time.Second
	maxBackoff        = 30 * time.Second
)

type subEntry struct {
	id      string
	table   string
	events  []EventType
	filter  *Filter
	handler Handler
}

// Subscription — одна логическая подписка. Close снимает её; после Close
// handler больше не вызывается для новых событий.
type Subscription struct {
	id string
	c  *Client
}

func (s *Subscription) Close() {
	s.c.unsubscribe(s.id)
}

// Client держит одно websocket-соединение с сервисом ленты и мультиплексирует
// по нему все подписки. При обрыве переподключается с экспоненциальной задержкой
// и заново отправляет subscribe для всех живых подписок; пропущенные за время
// обрыва события не доигрываются — за это отвечает resync-монитор сессии.
type Client struct {
	url string

	mu   sync.Mutex
	conn *websocket.Conn
	subs map[string]*subEntry

	// lastActivity — unix-наносекунды последней подтверждённой активности
	// (connected, heartbeat_ack, любое доставленное событие).
	lastActivity atomic.Int64

	reconnects atomic.Int64
}

func New(url string) *Client {
	c := &Client{url: url, subs: make(map[string]*subEntry)}
	c.lastActivity.Store(time.Now().UnixNano())
	return c
}

// LastActivity возвращает время последней подтверждённой активности ленты.
func (c *Client) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// Reconnects возвращает число переподключений (для телеметрии).
func (c *Client) Reconnects() int64 { return c.reconnects.Load() }

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// Subscribe регистрирует подписку. Если соединение активно, subscribe-кадр
// уходит сразу; иначе — при следующем подключении.
func (c *Client) Subscribe(table string, events []EventType, filter *Filter, h Handler) *Subscription {
	entry := &subEntry{
		id:      uuid.New().String(),
		table:   table,
		events:  events,
		filter:  filter,
		handler: h,
	}
	c.mu.Lock()
	c.subs[entry.id] = entry
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.writeFrame(conn, outFrame{Action: "subscribe", ID: entry.id, Table: table, Events: events, Filter: filter})
	}
	return &Subscription{id: entry.id, c: c}
}

func (c *Client) unsubscribe(id string) {
	c.mu.Lock()
	_, ok := c.subs[id]
	delete(c.subs, id)
	conn := c.conn
	c.mu.Unlock()
	if ok && conn != nil {
		c.writeFrame(conn, outFrame{Action: "unsubscribe", ID: id})
	}
}

func (c *Client) writeFrame(conn *websocket.Conn, f outFrame) {
	data, err := json.Marshal(f)
	if err != nil {
		logger.Errorf("realtime marshal frame: %v", err)
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		logger.Errorf("realtime write %s: %v", f.Action, err)
	}
}

// Run подключается и читает ленту до отмены ctx. Блокирует вызывающего.
func (c *Client) Run(ctx context.Context) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			logger.Errorf("realtime dial %s: %v (retry in %v)", c.url, backoff, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		c.mu.Lock()
		c.conn = conn
		pending := make([]*subEntry, 0, len(c.subs))
		for _, e := range c.subs {
			pending = append(pending, e)
		}
		c.mu.Unlock()

		// Повторная отправка всех подписок после (пере)подключения.
		for _, e := range pending {
			c.writeFrame(conn, outFrame{Action: "subscribe", ID: e.id, Table: e.table, Events: e.events, Filter: e.filter})
		}

		c.readLoop(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
		c.reconnects.Add(1)
		telemetry.FeedReconnects.Inc()
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				c.writeFrame(conn, outFrame{Action: "heartbeat"})
			}
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(readWait))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logger.Errorf("realtime read: %v", err)
			}
			return
		}
		var f inFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			logger.Errorf("realtime unmarshal: %v", err)
			continue
		}
		switch f.Type {
		case "connected", "heartbeat_ack":
			c.touch()
		case "event":
			c.touch()
			c.dispatch(f)
		case "error":
			logger.Errorf("realtime server error: %s", f.Error)
		}
	}
}

func (c *Client) dispatch(f inFrame) {
	c.mu.Lock()
	entry, ok := c.subs[f.SubID]
	c.mu.Unlock()
	if !ok {
		// Подписка снята, пока кадр был в пути.
		return
	}
	logger.Debugf("realtime event table=%s type=%s", f.Table, f.Event)
	entry.handler(Event{Table: f.Table, Type: f.Event, Old: f.Old, New: f.New})
}

package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/interflow/internal/logger"
	"github.com/interflow/internal/thread"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufSize    = 256
)

// bufPool pools bytes.Buffer for JSON encoding in the hot-path (writePump).
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Client represents a single agent console connection. One connection views
// one thread at a time; activate commands swap the underlying session.
// Lifecycle: NewClient -> Start(ctx, cancel) -> [readPump, writePump] -> Close -> Wait.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan OutgoingMessage
	agentID  string
	embedded bool

	// session the console is currently driving; swapped by activate commands.
	sessionMu sync.Mutex
	session   *thread.Session

	// viewport RPC: request id -> reply channel.
	pendingMu sync.Mutex
	pending   map[string]chan ViewportResult

	// done is used as a non-blocking guard in enqueue.
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn, agentID string, embedded bool) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan OutgoingMessage, sendBufSize),
		agentID:  agentID,
		embedded: embedded,
		pending:  make(map[string]chan ViewportResult),
		done:     make(chan struct{}),
	}
}

func (c *Client) AgentID() string { return c.agentID }

// Start launches readPump and writePump goroutines with controlled lifecycle.
func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

// Wait blocks until both pump goroutines have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close signals the client to stop. Safe to call multiple times from any goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		c.conn.Close()
		c.closeSession()
		c.failPending()
	})
}

func (c *Client) closeSession() {
	c.sessionMu.Lock()
	sess := c.session
	c.session = nil
	c.sessionMu.Unlock()
	if sess != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sess.Close(ctx)
	}
}

func (c *Client) currentSession() *thread.Session {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	return c.session
}

func (c *Client) swapSession(sess *thread.Session) {
	c.sessionMu.Lock()
	prev := c.session
	c.session = sess
	c.sessionMu.Unlock()
	if prev != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		prev.Close(ctx)
	}
}

// enqueue queues an outgoing message. Drops the message if the client is gone
// or its buffer is full: a console that cannot keep up gets the next snapshot.
func (c *Client) enqueue(msg OutgoingMessage) {
	select {
	case <-c.done:
	case c.send <- msg:
	default:
		logger.Errorf("ws send buffer full agent=%s, dropping %s", c.agentID, msg.Type)
	}
}

// --- thread.Notifier / thread.UpdateSink ---

func (c *Client) Notice(text string) {
	c.enqueue(OutgoingMessage{Type: EventNotice, Payload: NoticePayload{Text: text}})
}

func (c *Client) ErrorBanner(text string) {
	c.enqueue(OutgoingMessage{Type: EventErrorBanner, Payload: NoticePayload{Text: text}})
}

func (c *Client) ThreadUpdated(s thread.Snapshot) {
	c.enqueue(OutgoingMessage{Type: EventThreadUpdate, Payload: ThreadUpdatePayload{Snapshot: s}})
}

// readPump reads commands from the console connection.
func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Errorf("ws set read deadline agent=%s: %v", c.agentID, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read error agent=%s: %v", c.agentID, err)
			}
			return
		}

		var msg IncomingMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Errorf("ws unmarshal error agent=%s: %v", c.agentID, err)
			continue
		}

		c.hub.HandleCommand(ctx, c, msg)
	}
}

// writePump writes messages to the console connection.
func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			if err := c.conn.WriteMessage(websocket.CloseMessage, nil); err != nil {
				logger.Errorf("ws close message agent=%s: %v", c.agentID, err)
			}
			return
		case msg := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("ws set write deadline agent=%s: %v", c.agentID, err)
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			enc := json.NewEncoder(buf)
			if err := enc.Encode(msg); err != nil {
				bufPool.Put(buf)
				logger.Errorf("ws marshal error agent=%s: %v", c.agentID, err)
				continue
			}
			data := buf.Bytes()
			// json.Encoder appends '\n'; trim it for WebSocket text messages.
			if len(data) > 0 && data[len(data)-1] == '\n' {
				data = data[:len(data)-1]
			}
			writeErr := c.conn.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if writeErr != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("ws set write deadline agent=%s: %v", c.agentID, err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

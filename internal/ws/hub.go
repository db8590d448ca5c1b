package ws

import (
	"context"
	"sync"

	"github.com/interflow/internal/logger"
	"github.com/interflow/internal/telemetry"
	"github.com/interflow/internal/thread"
)

// SessionFactory builds a thread session bound to one console connection.
// The connection itself serves as viewport, notifier and snapshot sink.
type SessionFactory func(chatID string, vp thread.Viewport, n thread.Notifier, sink thread.UpdateSink) *thread.Session

type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	total    int
	maxConns int

	factory    SessionFactory
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(factory SessionFactory, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		factory:    factory,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Connected сообщает, есть ли у агента хотя бы одна живая консоль.
func (h *Hub) Connected(agentID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[agentID]) > 0
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting agent=%s", h.maxConns, c.agentID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.agentID]; !ok {
		h.clients[c.agentID] = make(map[*Client]struct{})
	}
	h.clients[c.agentID][c] = struct{}{}
	h.total++
	h.mu.Unlock()
	telemetry.ConsoleConnections.Inc()
	logger.Infof("ws console connected agent=%s", c.agentID)
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.agentID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	if len(clients) == 0 {
		delete(h.clients, c.agentID)
	}
	h.mu.Unlock()
	telemetry.ConsoleConnections.Dec()
	c.Close()
	logger.Infof("ws console disconnected agent=%s", c.agentID)
}

// HandleCommand dispatches one console command. Session-driving commands run
// in their own goroutine: they may issue viewport RPCs whose replies arrive
// through the same read pump that delivered the command.
func (h *Hub) HandleCommand(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.Type == CmdViewportResult {
		if msg.Viewport != nil {
			c.resolveViewport(msg.RequestID, *msg.Viewport)
		}
		return
	}

	switch msg.Type {
	case CmdActivate:
		if msg.ChatID == "" {
			c.ErrorBanner("chat_id обязателен")
			return
		}
		sess := h.factory(msg.ChatID, c, c, c)
		c.swapSession(sess)
		go func() {
			if err := sess.Activate(ctx); err != nil {
				logger.Errorf("ws activate chat=%s agent=%s: %v", msg.ChatID, c.agentID, err)
				c.ErrorBanner("Не удалось открыть чат")
			}
		}()

	case CmdActivateMessage:
		if msg.ChatID == "" || msg.MessageID == "" {
			c.ErrorBanner("chat_id и message_id обязательны")
			return
		}
		sess := h.factory(msg.ChatID, c, c, c)
		c.swapSession(sess)
		go func() {
			if err := sess.ActivateWithMessage(ctx, msg.MessageID); err != nil {
				logger.Errorf("ws activate message=%s agent=%s: %v", msg.MessageID, c.agentID, err)
				c.ErrorBanner("Не удалось открыть чат")
			}
		}()

	case CmdCustomerHistory:
		if msg.ChatID == "" || msg.CustomerID == "" || msg.ChannelID == "" {
			c.ErrorBanner("chat_id, customer_id и channel_id обязательны")
			return
		}
		sess := h.factory(msg.ChatID, c, c, c)
		c.swapSession(sess)
		go func() {
			if err := sess.ActivateCustomerHistory(ctx, msg.CustomerID, msg.ChannelID); err != nil {
				logger.Errorf("ws customer history agent=%s: %v", c.agentID, err)
				c.ErrorBanner("Не удалось загрузить историю клиента")
			}
		}()

	case CmdSend:
		sess := c.currentSession()
		if sess == nil {
			c.ErrorBanner("Чат не открыт")
			return
		}
		go sess.Send(ctx, msg.Content, nil, msg.ReplyToID)

	case CmdRetry:
		sess := c.currentSession()
		if sess == nil || msg.TempID == "" {
			return
		}
		go func() {
			if err := sess.Retry(ctx, msg.TempID); err != nil {
				logger.Errorf("ws retry %s agent=%s: %v", msg.TempID, c.agentID, err)
			}
		}()

	case CmdDiscard:
		sess := c.currentSession()
		if sess == nil || msg.TempID == "" {
			return
		}
		go sess.DiscardLocal(ctx, msg.TempID)

	case CmdDelete:
		sess := c.currentSession()
		if sess == nil || msg.MessageID == "" {
			return
		}
		go func() {
			if err := sess.DeleteMessage(ctx, msg.MessageID); err != nil {
				logger.Errorf("ws delete %s agent=%s: %v", msg.MessageID, c.agentID, err)
			}
		}()

	case CmdLoadOlder:
		sess := c.currentSession()
		if sess == nil {
			return
		}
		go func() {
			if err := sess.LoadOlder(ctx); err != nil {
				logger.Errorf("ws load older agent=%s: %v", c.agentID, err)
			}
		}()

	case CmdMarkRead:
		if sess := c.currentSession(); sess != nil {
			sess.MarkRead()
		}

	case CmdVisible:
		if sess := c.currentSession(); sess != nil {
			sess.HandleVisible()
		}

	default:
		logger.Errorf("ws unknown command %q agent=%s", msg.Type, c.agentID)
		c.enqueue(OutgoingMessage{Type: EventError, Payload: NoticePayload{Text: "unknown command"}})
	}
}

package ws

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/interflow/internal/thread"
)

// viewportTimeout bounds one scroll RPC round-trip to the console.
const viewportTimeout = 2 * time.Second

// Client implements thread.Viewport: scroll operations are RPC frames to the
// console, replies correlate by request id. A console that never answers costs
// one timeout, not a stuck session.

func (c *Client) IsEmbeddedWebView() bool { return c.embedded }

func (c *Client) Metrics(ctx context.Context, anchorID string) (thread.ViewportMetrics, error) {
	res, err := c.viewportCall(ctx, ViewportRequestPayload{Op: "metrics", AnchorID: anchorID})
	if err != nil {
		return thread.ViewportMetrics{}, err
	}
	return thread.ViewportMetrics{
		AnchorFound:  res.AnchorFound,
		AnchorOffset: res.AnchorOffset,
		ScrollTop:    res.ScrollTop,
		ScrollHeight: res.ScrollHeight,
		BottomGap:    res.BottomGap,
	}, nil
}

func (c *Client) FirstVisibleMessage(ctx context.Context) (string, error) {
	res, err := c.viewportCall(ctx, ViewportRequestPayload{Op: "first_visible"})
	if err != nil {
		return "", err
	}
	if res.FirstVisibleID == "" {
		return "", fmt.Errorf("ws.FirstVisibleMessage: empty viewport")
	}
	return res.FirstVisibleID, nil
}

func (c *Client) SetScrollTop(ctx context.Context, top float64) error {
	_, err := c.viewportCall(ctx, ViewportRequestPayload{Op: "set_scroll_top", ScrollTop: top})
	return err
}

func (c *Client) ScrollToBottom(ctx context.Context) error {
	_, err := c.viewportCall(ctx, ViewportRequestPayload{Op: "scroll_bottom"})
	return err
}

func (c *Client) ScrollToMessage(ctx context.Context, messageID string, highlight time.Duration) error {
	_, err := c.viewportCall(ctx, ViewportRequestPayload{
		Op:          "scroll_to",
		MessageID:   messageID,
		HighlightMS: highlight.Milliseconds(),
	})
	return err
}

func (c *Client) ForceReflow(ctx context.Context) error {
	_, err := c.viewportCall(ctx, ViewportRequestPayload{Op: "reflow"})
	return err
}

func (c *Client) viewportCall(ctx context.Context, req ViewportRequestPayload) (ViewportResult, error) {
	req.RequestID = uuid.NewString()
	reply := make(chan ViewportResult, 1)

	c.pendingMu.Lock()
	c.pending[req.RequestID] = reply
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.RequestID)
		c.pendingMu.Unlock()
	}()

	c.enqueue(OutgoingMessage{Type: EventViewportRequest, Payload: req})

	timer := time.NewTimer(viewportTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ViewportResult{}, ctx.Err()
	case <-c.done:
		return ViewportResult{}, fmt.Errorf("ws.viewportCall: connection closed")
	case <-timer.C:
		return ViewportResult{}, fmt.Errorf("ws.viewportCall: %s timed out", req.Op)
	case res := <-reply:
		if !res.OK {
			return ViewportResult{}, fmt.Errorf("ws.viewportCall: %s rejected by console", req.Op)
		}
		return res, nil
	}
}

// resolveViewport routes a viewport_result frame to its waiting call.
func (c *Client) resolveViewport(requestID string, res ViewportResult) {
	c.pendingMu.Lock()
	reply, ok := c.pending[requestID]
	delete(c.pending, requestID)
	c.pendingMu.Unlock()
	if ok {
		// Buffered channel, never closed: the waiter may already be gone.
		select {
		case reply <- res:
		default:
		}
	}
}

// failPending unblocks all in-flight viewport calls on disconnect.
func (c *Client) failPending() {
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan ViewportResult)
	c.pendingMu.Unlock()
	for _, reply := range pending {
		select {
		case reply <- ViewportResult{}:
		default:
		}
	}
}

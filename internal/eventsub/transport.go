package eventsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/coder/websocket"
)

// TransportHandler receives lifecycle events from a Transport. Methods are
// invoked from the Transport's own read goroutine; implementations must not
// block on network I/O and must return quickly (the Session applies state
// transitions itself and calls into the Pool synchronously, which runs API
// calls on separate goroutines).
type TransportHandler interface {
	// OnMessage is called for every inbound text frame, in receive order.
	OnMessage(data []byte)
	// OnDisconnected is called exactly once when the read loop ends, with
	// the error that ended it (nil on a clean caller-initiated close).
	OnDisconnected(cause error)
}

// Transport is a single reconnecting-capable websocket client. One instance
// is owned by exactly one Session; on EventSub's session_reconnect handoff a
// brand new Transport (inside a brand new Session) is created rather than
// reused.
//
// Send is ordered within a connection: writes are funneled through a single
// channel drained by one goroutine.
type Transport struct {
	mu   sync.Mutex
	conn *websocket.Conn

	uri     string
	handler TransportHandler

	writeCh   chan []byte
	connected bool
}

// NewTransport creates a Transport bound to uri. The connection itself is
// opened by Connect.
func NewTransport(uri string, handler TransportHandler) *Transport {
	return &Transport{
		uri:     uri,
		handler: handler,
		writeCh: make(chan []byte, 64),
	}
}

// Connect dials uri and starts the write/read loops. It returns once the
// handshake completes; frame delivery happens asynchronously via
// TransportHandler.
func (t *Transport) Connect(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, t.uri, &websocket.DialOptions{})
	if err != nil {
		return fmt.Errorf("dialing %s: %w", t.uri, err)
	}
	conn.SetReadLimit(1 << 20) // 1 MiB, EventSub notification payloads can be large

	t.mu.Lock()
	t.conn = conn
	t.connected = true
	t.mu.Unlock()

	go t.writeLoop(ctx)
	go t.readLoop(ctx)

	return nil
}

// Send queues a text frame for delivery. Ordering within this Transport is
// guaranteed; Send never blocks on network I/O itself.
func (t *Transport) Send(text string) error {
	select {
	case t.writeCh <- []byte(text):
		return nil
	default:
		return fmt.Errorf("transport write queue full")
	}
}

// Close closes the underlying connection. Safe to call multiple times.
func (t *Transport) Close(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return
	}
	t.connected = false
	if t.conn != nil {
		t.conn.Close(websocket.StatusNormalClosure, reason)
	}
}

// IsConnected reports whether the underlying connection is believed open.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Transport) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-t.writeCh:
			if !ok {
				return
			}
			t.mu.Lock()
			conn := t.conn
			t.mu.Unlock()
			if conn == nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				// The read loop observes the same failure via its Read call
				// and is responsible for reporting OnDisconnected; avoid a
				// double report here.
				return
			}
		}
	}
}

func (t *Transport) readLoop(ctx context.Context) {
	for {
		_, data, err := t.conn.Read(ctx)
		if err != nil {
			t.mu.Lock()
			callerClosed := !t.connected
			t.connected = false
			t.mu.Unlock()

			if ctx.Err() != nil {
				t.handler.OnDisconnected(ctx.Err())
				return
			}
			if callerClosed {
				t.handler.OnDisconnected(nil)
				return
			}
			t.handler.OnDisconnected(fmt.Errorf("transport read: %w", err))
			return
		}
		t.handler.OnMessage(data)
	}
}

package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket carries the serial byte stream in binary WebSocket messages.
// A read pump owns the connection's read side, so a receive timeout never
// poisons the connection.
type WebSocket struct {
	conn    *websocket.Conn
	inbound chan []byte
	done    chan struct{}
	pending []byte

	writeMu sync.Mutex
	err     error
}

func newWebSocket(conn *websocket.Conn) *WebSocket {
	w := &WebSocket{
		conn:    conn,
		inbound: make(chan []byte, 64),
		done:    make(chan struct{}),
	}
	go w.readPump()
	return w
}

func (w *WebSocket) readPump() {
	defer close(w.done)
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.err = err
			return
		}

		// Only binary messages carry link bytes
		if messageType != websocket.BinaryMessage || len(data) == 0 {
			continue
		}
		w.inbound <- data
	}
}

// Receive fills buf or returns ErrTimeout.
func (w *WebSocket) Receive(buf []byte, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	got := 0
	for got < len(buf) {
		if len(w.pending) > 0 {
			n := copy(buf[got:], w.pending)
			w.pending = w.pending[n:]
			got += n
			continue
		}

		select {
		case data := <-w.inbound:
			w.pending = data
		case <-timer.C:
			return ErrTimeout
		case <-w.done:
			// Drain anything the pump queued before it stopped
			select {
			case data := <-w.inbound:
				w.pending = data
			default:
				return fmt.Errorf("%w: %v", ErrClosed, w.err)
			}
		}
	}
	return nil
}

// Transmit sends buf as one binary message.
func (w *WebSocket) Transmit(buf []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteMessage(websocket.BinaryMessage, buf)
}

// Close closes the WebSocket connection.
func (w *WebSocket) Close() error {
	return w.conn.Close()
}

// DialWebSocket opens a WebSocket link with optional HTTP Basic auth.
func DialWebSocket(wsURL, username, password string, skipSSLVerify bool) (*WebSocket, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return newWebSocket(conn), nil
}

// AcceptWebSocket upgrades an incoming HTTP request to a WebSocket link.
func AcceptWebSocket(upgrader *websocket.Upgrader, rw http.ResponseWriter, r *http.Request) (*WebSocket, error) {
	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return nil, fmt.Errorf("WebSocket upgrade failed: %w", err)
	}
	return newWebSocket(conn), nil
}

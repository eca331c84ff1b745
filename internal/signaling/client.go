package signaling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	clientWriteWait  = 10 * time.Second
	clientPongWait   = 60 * time.Second
	clientPingPeriod = clientPongWait * 9 / 10

	clientMaxMessageBytes = 64 * 1024

	clientSendBuffer = 32
	clientRecvBuffer = 32
)

// Client is the peer-side half of the signaling connection. It owns the
// WebSocket, runs read/write pumps, and surfaces decoded envelopes on
// Incoming. Unknown message types are logged and dropped before they
// reach the caller.
type Client struct {
	log  *slog.Logger
	conn *websocket.Conn

	incoming chan Message
	outgoing chan Message

	closeOnce sync.Once
	done      chan struct{}
	err       error
	errMu     sync.Mutex
}

// Dial connects to the relay's /ws endpoint and starts the pumps.
func Dial(ctx context.Context, url string, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(clientMaxMessageBytes)

	c := &Client{
		log:      log.With("component", "signaling"),
		conn:     conn,
		incoming: make(chan Message, clientRecvBuffer),
		outgoing: make(chan Message, clientSendBuffer),
		done:     make(chan struct{}),
	}
	go c.readPump()
	go c.writePump()
	return c, nil
}

// Incoming yields decoded messages until the connection closes, then
// the channel is closed. Call Err afterwards to learn why.
func (c *Client) Incoming() <-chan Message {
	return c.incoming
}

// Send queues an envelope for the write pump. It fails once the
// connection is closed or when the send queue is saturated.
func (c *Client) Send(msg Message) error {
	select {
	case <-c.done:
		return fmt.Errorf("signaling: connection closed")
	default:
	}
	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return fmt.Errorf("signaling: connection closed")
	default:
		return fmt.Errorf("signaling: send queue full")
	}
}

// Close tears the connection down. Safe to call more than once and
// concurrently with the pumps.
func (c *Client) Close() error {
	c.shutdown(nil)
	return nil
}

// Err reports the error that ended the connection, nil for a clean
// local Close.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = cause
		c.errMu.Unlock()
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) readPump() {
	defer close(c.incoming)

	_ = c.conn.SetReadDeadline(time.Now().Add(clientPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(clientPongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.shutdown(err)
			} else {
				c.shutdown(nil)
			}
			return
		}

		msg, err := Parse(raw)
		if err != nil {
			// Unknown or malformed traffic never kills the link.
			c.log.Debug("dropping unparseable message", "error", err)
			continue
		}

		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(clientPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.outgoing:
			raw, err := msg.Encode()
			if err != nil {
				c.log.Warn("dropping unencodable message", "type", msg.Type, "error", err)
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				c.shutdown(err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(err)
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

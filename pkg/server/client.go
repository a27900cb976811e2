package server

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mkarlsson/chatrelay/pkg/protocol"
)

// Connection parameters.
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = 50 * time.Second
	// Outbound frame buffer per client.
	sendBuffer = 192
)

var connSeq atomic.Int64

// wsClient wraps a websocket connection with a buffered send channel. The
// send channel exists because frames must be written sequentially: gorilla
// allows only one concurrent writer per connection. It receives raw bytes so
// a broadcast encodes its payload once, not per recipient.
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

// newWSClient creates a client and sets the connection read properties.
func newWSClient(conn *websocket.Conn) *wsClient {
	c := &wsClient{
		id:   fmt.Sprintf("c%d", connSeq.Add(1)),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	c.conn.SetReadLimit(protocol.MaxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	return c
}

// Send queues a frame for the write pump. A slow client whose buffer is full
// loses the frame rather than blocking the sender.
func (c *wsClient) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close tears the connection down. The read pump unblocks with an error and
// the caller's cleanup path runs from there.
func (c *wsClient) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// readFrames reads envelopes sequentially and hands each to fn. Returns when
// the connection drops or the peer sends a malformed frame.
func (c *wsClient) readFrames(fn func(e protocol.Envelope)) {
	for {
		var e protocol.Envelope
		if err := c.conn.ReadJSON(&e); err != nil {
			return
		}
		fn(e)
	}
}

// writeFrames drains the send channel to the connection sequentially and
// keeps the heartbeat alive. Runs on its own goroutine per client.
func (c *wsClient) writeFrames() {
	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
			return

		case raw := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				c.Close()
				return
			}

		case <-pingTicker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

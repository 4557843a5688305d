package main

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 4096
	sendBufSize       = 256
	maxMessagesPerSec = 50
)

// Client is one websocket connection. It is the Outbound handle the world
// stores in its connection registry.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	codec      Codec
	send       chan Msg
	done       chan struct{}
	closeOnce  sync.Once
	remoteAddr string
	sess       *Session
	msgCount   int
	msgResetAt time.Time
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, codec Codec, remoteAddr string) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		codec:      codec,
		send:       make(chan Msg, sendBufSize),
		done:       make(chan struct{}),
		remoteAddr: remoteAddr,
	}
}

// Send queues msg for the write pump. It never blocks: a closed client or a
// full queue drops the message.
func (c *Client) Send(msg Msg) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close shuts the socket; the read pump then exits and runs cleanup
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// ReadPump reads commands until the socket fails or a command is rejected,
// then tears the connection down.
func (c *Client) ReadPump() {
	logger := Log.With("conn", c.sess.ConnID, "remote", c.remoteAddr)
	defer func() {
		c.hub.world.Disconnect(c.sess)
		c.hub.TrackDisconnect(c.remoteAddr)
		c.Close()
		logger.Infow("socket closed", "user", c.sess.Username)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		frameType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debugf("ws error: %v", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		// Rate limiting
		now := time.Now()
		if now.After(c.msgResetAt) {
			c.msgCount = 0
			c.msgResetAt = now.Add(time.Second)
		}
		c.msgCount++
		if c.msgCount > maxMessagesPerSec {
			logger.Warnf("client error: %v: rate limit exceeded", ErrProtocol)
			return
		}

		msg, err := decodeFrame(frameType, data)
		if err != nil {
			logger.Warnf("client error: %v", err)
			return
		}

		if err := c.hub.world.HandleCommand(c.sess, msg); err != nil {
			if errors.Is(err, ErrClosed) {
				logger.Infof("client closed the connection")
			} else {
				logger.Warnw("client error", "cmd", msg.Cmd, "err", err)
			}
			return
		}
	}
}

// WritePump encodes queued messages with the client's codec and writes them
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			data, err := c.codec.Encode(msg)
			if err != nil {
				Log.Errorf("encode %s: %v", msg.Cmd, err)
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(c.codec.FrameType(), data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

package channel

import (
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	pkglog "github.com/weiawesome/wes-io-consult/pkg/log"
	"github.com/weiawesome/wes-io-consult/pkg/wire"
)

const maxFrameSize = 1 << 20

// run is the supervisor: dial, serve until the socket breaks, back off, repeat.
func (c *Client) run() {
	defer close(c.done)
	l := pkglog.Component("event_channel")

	attempt := 0
	for c.ctx.Err() == nil {
		conn, err := c.dial()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			wait := backoff(attempt, c.cfg.MinBackoff, c.cfg.MaxBackoff)
			attempt++
			l.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("event channel connect failed")
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		attempt = 0
		c.serve(conn)
		if c.ctx.Err() == nil {
			l.Warn().Uint64(pkglog.FieldEpoch, c.Epoch()).Msg("event channel disconnected, reconnecting")
		}
	}
}

// dial opens the socket and completes the auth handshake.
func (c *Client) dial() (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(c.ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, err
	}

	auth, err := (&wire.Frame{Type: wire.TypeAuth, Token: c.cfg.Token}).Encode()
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, auth); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send auth: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read auth result: %w", err)
	}
	f, err := wire.Decode(data)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("invalid auth result: %w", err)
	}
	if f.Type != wire.TypeAuthResult || !f.Success {
		conn.Close()
		return nil, fmt.Errorf("relay refused auth: %s", f.Message)
	}
	return conn, nil
}

// serve owns one connection epoch.
func (c *Client) serve(conn *websocket.Conn) {
	c.connMu.Lock()
	if c.ctx.Err() != nil {
		c.connMu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.connMu.Unlock()

	epoch := c.epoch.Add(1)
	send := make(chan []byte, c.cfg.SendBuffer)

	c.mu.Lock()
	c.send = send
	c.connected = true
	for room := range c.rooms {
		c.enqueueLocked(&wire.Frame{Type: wire.TypeJoinRoom, RoomID: room})
	}
	c.mu.Unlock()

	writerDone := make(chan struct{})
	go c.writeLoop(conn, send, writerDone)

	c.readyOnce.Do(func() { close(c.ready) })

	if epoch > 1 {
		c.hmu.RLock()
		hooks := make([]hookEntry, len(c.hooks))
		copy(hooks, c.hooks)
		c.hmu.RUnlock()
		for _, h := range hooks {
			h.fn(c.ctx, epoch)
		}
	}

	c.readLoop(conn)

	c.mu.Lock()
	c.connected = false
	c.send = nil
	close(send)
	c.mu.Unlock()
	<-writerDone

	c.connMu.Lock()
	conn.Close()
	c.conn = nil
	c.connMu.Unlock()
}

func (c *Client) readLoop(conn *websocket.Conn) {
	l := pkglog.Component("event_channel")

	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && c.ctx.Err() == nil {
				l.Debug().Err(err).Msg("event channel read failed")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))

		f, err := wire.Decode(data)
		if err != nil {
			l.Warn().Err(err).Msg("invalid frame from relay")
			continue
		}

		switch f.Type {
		case wire.TypeEvent:
			c.dispatch(f)
		case wire.TypeError:
			if f.RoomID != "" && f.Code == wire.ErrCodeForbidden {
				// Do not keep re-joining a room the relay refuses.
				c.mu.Lock()
				delete(c.rooms, f.RoomID)
				c.mu.Unlock()
			}
			l.Warn().Str("code", f.Code).Str(pkglog.FieldRoomID, f.RoomID).Msg(f.Message)
		}
	}
}

func (c *Client) dispatch(f *wire.Frame) {
	ev := f.Event
	if ev == nil {
		return
	}
	c.hmu.RLock()
	subs := make([]subscription, len(c.handlers[ev.Type]))
	copy(subs, c.handlers[ev.Type])
	c.hmu.RUnlock()

	for _, s := range subs {
		s.fn(c.ctx, ev)
	}
}

func (c *Client) writeLoop(conn *websocket.Conn, send <-chan []byte, done chan<- struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		close(done)
	}()

	broken := false
	for {
		select {
		case data, ok := <-send:
			if !ok {
				if !broken {
					conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
					conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				}
				return
			}
			if broken {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				// Unblock the reader; serve closes send afterwards.
				broken = true
				conn.Close()
			}

		case <-ticker.C:
			if broken {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				broken = true
				conn.Close()
			}
		}
	}
}

/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package room

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	ErrNotConnected   = errors.New("not connected")
	ErrSendBufferFull = errors.New("send buffer full")
)

const (
	writeWait      = 5 * time.Second
	maxFrameSize   = 8 << 20
	sendBufferSize = 16
)

// Transport opens the real-time channel for a room.
type Transport interface {
	Dial(ctx context.Context, roomID string) (Link, error)
}

// Link is one open real-time channel. Inbound is closed once the channel
// stops reading; Alive is only meaningful when polled.
type Link interface {
	ID() string
	Send(cmd Command) error
	Inbound() <-chan Event
	Alive() bool
	Ping() error
	Close() error
	// Drop closes the channel without announcing departure, for a link
	// that a newer one has replaced.
	Drop() error
}

// Dialer connects to <Server>/ws/rooms/<roomID> with gorilla/websocket.
type Dialer struct {
	Server   *url.URL
	Header   http.Header
	Local    Participant
	Attempts int
	Retry    time.Duration
	Liveness time.Duration
	Log      zerolog.Logger

	ws *websocket.Dialer
}

func NewDialer(server string, local Participant) (*Dialer, error) {
	u, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}

	return &Dialer{
		Server:   u,
		Header:   http.Header{},
		Local:    local,
		Attempts: 3,
		Retry:    time.Second,
		Liveness: 2 * time.Second,
		Log:      zerolog.Nop(),
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}, nil
}

func (d *Dialer) endpoint(roomID string) string {
	return d.Server.JoinPath("ws", "rooms", url.PathEscape(roomID)).String()
}

// Dial retries failed handshakes up to Attempts times, one per Retry
// interval. Handshakes the server refuses outright are not retried.
func (d *Dialer) Dial(ctx context.Context, roomID string) (Link, error) {
	attempts := max(d.Attempts, 1)
	limiter := rate.NewLimiter(rate.Every(d.Retry), 1)
	endpoint := d.endpoint(roomID)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}

		ws, resp, err := d.ws.DialContext(ctx, endpoint, d.Header)
		if err == nil {
			c := newConn(ws, roomID, d.Liveness, d.Log)
			c.leave = newCommand(CmdLeaveRoom, LeavePayload{RoomID: roomID, ParticipantID: d.Local.ID, SessionID: c.id})
			go c.readPump()
			go c.writePump()

			if err := c.Send(newCommand(CmdJoinRoom, JoinPayload{
				RoomID:        roomID,
				ParticipantID: d.Local.ID,
				Nickname:      d.Local.Nickname,
				Avatar:        d.Local.Avatar,
				SessionID:     c.id,
			})); err != nil {
				_ = c.Close()
				return nil, err
			}

			d.Log.Info().Str("room", roomID).Str("session", c.id).Int("attempt", attempt).Msg("connected")

			return c, nil
		}

		lastErr = err
		d.Log.Warn().Err(err).Str("room", roomID).Int("attempt", attempt).Msg("dial failed")

		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			break
		}
	}

	return nil, fmt.Errorf("dial room %s: %w", roomID, lastErr)
}

type conn struct {
	id       string
	roomID   string
	ws       *websocket.Conn
	log      zerolog.Logger
	liveness time.Duration
	leave    Command

	send    chan []byte
	inbound chan Event

	lastSeen atomic.Int64
	silent   atomic.Bool

	// mu orders Send against Close so nothing is queued after the final flush.
	mu         sync.RWMutex
	quit       chan struct{}
	writerDone chan struct{}
	down       chan struct{}

	quitOnce sync.Once
	downOnce sync.Once
}

func newConn(ws *websocket.Conn, roomID string, liveness time.Duration, log zerolog.Logger) *conn {
	c := &conn{
		id:         uuid.NewString(),
		roomID:     roomID,
		ws:         ws,
		log:        log,
		liveness:   liveness,
		send:       make(chan []byte, sendBufferSize),
		inbound:    make(chan Event, 64),
		quit:       make(chan struct{}),
		writerDone: make(chan struct{}),
		down:       make(chan struct{}),
	}
	c.touch()

	ws.SetReadLimit(maxFrameSize)
	ws.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	return c
}

func (c *conn) ID() string { return c.id }

func (c *conn) Inbound() <-chan Event { return c.inbound }

func (c *conn) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

func (c *conn) markDown() {
	c.downOnce.Do(func() {
		close(c.down)
		_ = c.ws.Close()
	})
}

func (c *conn) isDown() bool {
	select {
	case <-c.down:
		return true
	default:
		return false
	}
}

func (c *conn) Alive() bool {
	if c.isDown() {
		return false
	}
	last := time.Unix(0, c.lastSeen.Load())
	return time.Since(last) <= 2*c.liveness
}

func (c *conn) Ping() error {
	if c.isDown() {
		return ErrNotConnected
	}
	if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		c.markDown()
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

func (c *conn) Send(cmd Command) error {
	data, err := cmd.encode()
	if err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.isDown() || c.isQuitting() {
		return ErrNotConnected
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *conn) isQuitting() bool {
	select {
	case <-c.quit:
		return true
	default:
		return false
	}
}

// Close announces departure once, then tears the socket down. Later calls
// return nil without doing anything.
func (c *conn) Close() error {
	c.quitOnce.Do(func() {
		c.mu.Lock()
		close(c.quit)
		c.mu.Unlock()

		<-c.writerDone
		c.markDown()
		c.log.Info().Str("room", c.roomID).Str("session", c.id).Msg("disconnected")
	})
	return nil
}

func (c *conn) Drop() error {
	c.silent.Store(true)
	return c.Close()
}

func (c *conn) readPump() {
	defer func() {
		c.markDown()
		close(c.inbound)
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.isDown() {
				c.log.Warn().Err(err).Str("room", c.roomID).Msg("read failed")
			}
			return
		}
		c.touch()

		ev, err := Decode(data)
		if err != nil {
			c.log.Warn().Err(err).Str("room", c.roomID).Msg("dropped frame")
			continue
		}

		select {
		case c.inbound <- ev:
		case <-c.down:
			return
		}
	}
}

func (c *conn) writePump() {
	defer close(c.writerDone)

	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Warn().Err(err).Str("room", c.roomID).Msg("write failed")
				c.markDown()
				return
			}

		case <-c.quit:
			if c.isDown() {
				return
			}
			c.flush()
			if !c.silent.Load() {
				if data, err := c.leave.encode(); err == nil {
					_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
					_ = c.ws.WriteMessage(websocket.TextMessage, data)
				}
			}
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "leave"),
				time.Now().Add(writeWait))
			return

		case <-c.down:
			return
		}
	}
}

// flush writes whatever is still queued before the departure frame.
func (c *conn) flush() {
	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

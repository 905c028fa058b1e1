// Package stream keeps a persistent WebSocket connection to the chat feed
// and hands every frame to a MessageHandler, reconnecting with exponential
// backoff until its context is cancelled.
package stream

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CCasusensa/ArtaleBroadcast/internal/eventbus"
	logx "github.com/CCasusensa/ArtaleBroadcast/pkg/logx"
)

var ErrNoURL = errors.New("stream: url is empty")

type Config struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration // default 10s
	PingInterval     time.Duration // 0 disables keepalive pings
	BackoffMin       time.Duration // default 1s
	BackoffMax       time.Duration // default 30s
	ReadLimit        int64         // bytes per frame; default 1 MiB
}

// MessageHandler processes one frame. Frames are delivered one at a time in
// arrival order; returned errors are informational only.
type MessageHandler interface {
	Handle(ctx context.Context, raw []byte) error
}

type HandlerFunc func(ctx context.Context, raw []byte) error

func (f HandlerFunc) Handle(ctx context.Context, raw []byte) error { return f(ctx, raw) }

type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ConnEvent is published on stream.connected / stream.disconnected.
type ConnEvent struct {
	Endpoint string        `json:"endpoint"`
	Uptime   time.Duration `json:"uptime,omitempty"`
	Error    string        `json:"error,omitempty"`
}

type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	h      MessageHandler
	log    logx.Logger
	bus    eventbus.Bus

	state    atomic.Int32
	connects atomic.Uint64

	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg Config, h MessageHandler, log logx.Logger, bus eventbus.Bus) (*Client, error) {
	if cfg.URL == "" {
		return nil, ErrNoURL
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, err
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 1 << 20
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		h:     h,
		log:   log,
		bus:   bus,
		sleep: sleepCtx,
	}
	c.state.Store(int32(StateConnecting))
	return c, nil
}

func (c *Client) State() State { return State(c.state.Load()) }

// Connects returns how many connections were opened so far.
func (c *Client) Connects() uint64 { return c.connects.Load() }

// Run connects and reads until ctx is done. Every failure, whether a dial
// error, a read error or a close frame, goes through the same wait-and-redial
// path. Run returns nil on cancellation.
func (c *Client) Run(ctx context.Context) error {
	defer c.state.Store(int32(StateClosed))
	endpoint := redact(c.cfg.URL)
	bo := Backoff{Min: c.cfg.BackoffMin, Max: c.cfg.BackoffMax}
	bo.Reset()

	for {
		if ctx.Err() != nil {
			return nil
		}
		c.state.Store(int32(StateConnecting))

		conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fields := []logx.Field{logx.String("endpoint", endpoint), logx.Duration("retry_in", bo.Current()), logx.Err(err)}
			if resp != nil {
				fields = append(fields, logx.Int("status", resp.StatusCode))
			}
			c.log.Warn("stream dial failed", fields...)
			if c.sleep(ctx, bo.Next()) != nil {
				return nil
			}
			continue
		}

		bo.Reset()
		c.connects.Add(1)
		c.state.Store(int32(StateOpen))
		c.log.Info("stream connected", logx.String("endpoint", endpoint))
		eventbus.Publish(c.bus, eventbus.StreamConnected, ConnEvent{Endpoint: endpoint})

		opened := time.Now()
		err = c.serve(ctx, conn)
		uptime := time.Since(opened)
		if ctx.Err() != nil {
			eventbus.Publish(c.bus, eventbus.StreamDisconnected, ConnEvent{Endpoint: endpoint, Uptime: uptime})
			c.log.Info("stream closed", logx.String("endpoint", endpoint))
			return nil
		}

		c.state.Store(int32(StateConnecting))
		eventbus.Publish(c.bus, eventbus.StreamDisconnected, ConnEvent{Endpoint: endpoint, Uptime: uptime, Error: errString(err)})
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			c.log.Warn("stream closed by server", logx.String("endpoint", endpoint), logx.Duration("uptime", uptime), logx.Duration("retry_in", bo.Current()), logx.Err(err))
		} else {
			c.log.Error("stream read failed", logx.String("endpoint", endpoint), logx.Duration("uptime", uptime), logx.Duration("retry_in", bo.Current()), logx.Err(err))
		}
		if c.sleep(ctx, bo.Next()) != nil {
			return nil
		}
	}
}

// serve reads frames from conn until it fails or ctx is done. conn is always
// closed on return.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer func() {
		close(done)
		_ = conn.Close()
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()

	conn.SetReadLimit(c.cfg.ReadLimit)
	if iv := c.cfg.PingInterval; iv > 0 {
		wait := 2 * iv
		_ = conn.SetReadDeadline(time.Now().Add(wait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wait))
		})
		go c.pingLoop(conn, iv, done)
	}

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if c.cfg.PingInterval > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(2 * c.cfg.PingInterval))
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		if c.h != nil {
			_ = c.h.Handle(ctx, data)
		}
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, every time.Duration, done <-chan struct{}) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(every)); err != nil {
				c.log.Debug("stream ping failed", logx.Err(err))
				return
			}
		}
	}
}

// redact strips credentials and query parameters, which commonly carry tokens.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid-url"
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

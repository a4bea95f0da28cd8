// Package transport provides the websocket connection to the interview
// backend. It translates frames to protocol events and knows nothing about
// conversation turns.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jwulff/interview/internal/protocol"
)

// ErrNotOpen is returned by Send when no connection is open.
var ErrNotOpen = errors.New("connection not open")

// Handlers receive connection events. They are invoked sequentially from a
// single goroutine per connection, in the order frames arrive. A handler
// must not call Connect or Disconnect on the same Client.
type Handlers struct {
	OnMessage func(protocol.Event)
	OnError   func(error)
	OnOpen    func()
	OnClose   func(error)
}

// Options configures a Client.
type Options struct {
	// URL is the websocket base, e.g. ws://localhost:8000.
	URL           string
	ApplicationID string
	Token         string

	Logger           *zap.Logger
	Dialer           *websocket.Dialer
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// Client is one candidate's channel to the interview endpoint.
type Client struct {
	endpoint     string
	token        string
	dialer       *websocket.Dialer
	writeTimeout time.Duration
	log          *zap.Logger

	mu  sync.Mutex
	cur *link
}

// New validates opts and builds a Client. It does not dial.
func New(opts Options) (*Client, error) {
	if opts.ApplicationID == "" {
		return nil, fmt.Errorf("application id is required")
	}
	endpoint, err := Endpoint(opts.URL, opts.ApplicationID, opts.Token)
	if err != nil {
		return nil, err
	}

	dialer := opts.Dialer
	if dialer == nil {
		d := *websocket.DefaultDialer
		if opts.HandshakeTimeout > 0 {
			d.HandshakeTimeout = opts.HandshakeTimeout
		}
		dialer = &d
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Client{
		endpoint:     endpoint,
		token:        opts.Token,
		dialer:       dialer,
		writeTimeout: writeTimeout,
		log:          log.With(zap.String("application_id", opts.ApplicationID)),
	}, nil
}

// Endpoint builds {base}/ws/interview/{applicationID}?token={token}.
func Endpoint(base, applicationID, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse websocket url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported websocket scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/interview/" + url.PathEscape(applicationID)
	q := u.Query()
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect opens the channel in the background. Failures are reported
// through h.OnError followed by h.OnClose; Connect itself never fails. Any
// previous connection of this Client is torn down first.
func (c *Client) Connect(h Handlers) {
	h = h.withDefaults()
	l := newLink()

	c.mu.Lock()
	prev := c.cur
	c.cur = l
	c.mu.Unlock()

	if prev != nil {
		prev.stop()
	}
	go c.run(l, h)
}

// Send writes one command frame. It returns ErrNotOpen when the channel is
// not open.
func (c *Client) Send(cmd protocol.Command) error {
	c.mu.Lock()
	l := c.cur
	c.mu.Unlock()
	if l == nil {
		return ErrNotOpen
	}
	return l.write(cmd, c.writeTimeout)
}

// Disconnect closes the connection, cancelling a dial in progress, and
// waits until the reader has exited. No handler runs after it returns.
func (c *Client) Disconnect() {
	c.mu.Lock()
	l := c.cur
	c.cur = nil
	c.mu.Unlock()
	if l != nil {
		l.stop()
	}
}

func (c *Client) run(l *link, h Handlers) {
	defer close(l.done)

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, _, err := l.dialer(c.dialer).DialContext(l.ctx, c.endpoint, header)
	if err != nil {
		if !l.alive() {
			return
		}
		c.log.Warn("Dial failed", zap.Error(err))
		err = fmt.Errorf("dial interview endpoint: %w", err)
		h.OnError(err)
		if l.alive() {
			h.OnClose(err)
		}
		return
	}
	if !l.attach(conn) {
		conn.Close()
		return
	}
	defer l.detach()

	c.log.Debug("Websocket open")
	h.OnOpen()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !l.alive() {
				return
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("Websocket read failed", zap.Error(err))
				h.OnError(fmt.Errorf("read event: %w", err))
			} else {
				c.log.Info("Websocket closed by server", zap.Error(err))
			}
			if l.alive() {
				h.OnClose(err)
			}
			return
		}

		ev, err := protocol.DecodeEvent(data)
		if err != nil {
			c.log.Debug("Dropping malformed frame", zap.Error(err), zap.Int("bytes", len(data)))
			continue
		}
		if !ev.Known() {
			c.log.Debug("Dropping unknown event", zap.String("type", string(ev.Type)))
			continue
		}
		if !l.alive() {
			return
		}
		h.OnMessage(ev)
	}
}

func (h Handlers) withDefaults() Handlers {
	if h.OnMessage == nil {
		h.OnMessage = func(protocol.Event) {}
	}
	if h.OnError == nil {
		h.OnError = func(error) {}
	}
	if h.OnOpen == nil {
		h.OnOpen = func() {}
	}
	if h.OnClose == nil {
		h.OnClose = func(error) {}
	}
	return h
}

// link is a single connection attempt and its reader goroutine.
type link struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	raw     net.Conn
	conn    *websocket.Conn
	stopped bool

	writeMu sync.Mutex
}

func newLink() *link {
	ctx, cancel := context.WithCancel(context.Background())
	return &link{ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

// dialer wraps base so the raw socket is tracked while the handshake runs;
// stop closes it to abort a handshake that ignores context cancellation.
func (l *link) dialer(base *websocket.Dialer) *websocket.Dialer {
	d := *base
	netDial := base.NetDialContext
	d.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		var (
			nc  net.Conn
			err error
		)
		if netDial != nil {
			nc, err = netDial(ctx, network, addr)
		} else {
			var nd net.Dialer
			nc, err = nd.DialContext(ctx, network, addr)
		}
		if err != nil {
			return nil, err
		}

		l.mu.Lock()
		defer l.mu.Unlock()
		if l.stopped {
			nc.Close()
			return nil, context.Canceled
		}
		l.raw = nc
		return nc, nil
	}
	return &d
}

func (l *link) alive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.stopped
}

// attach records the dialed connection unless stop already ran.
func (l *link) attach(conn *websocket.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return false
	}
	l.conn = conn
	return true
}

func (l *link) detach() {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (l *link) stop() {
	l.mu.Lock()
	l.stopped = true
	conn, raw := l.conn, l.raw
	l.mu.Unlock()

	l.cancel()
	if conn == nil && raw != nil {
		raw.Close()
	}
	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
	<-l.done
}

func (l *link) write(cmd protocol.Command, timeout time.Duration) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return ErrNotOpen
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(timeout))
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	return nil
}

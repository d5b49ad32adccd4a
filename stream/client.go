package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/gorilla/websocket"
	"github.com/jmcleod/tradedesk/broker"
	"github.com/jmcleod/tradedesk/session"
)

// EventBus topics.
const (
	TopicTick  = "stream:tick"
	TopicOrder = "stream:order"
	TopicDepth = "stream:depth"
	TopicAck   = "stream:ack"
	TopicError = "stream:error"
)

// DefaultURL is the Integrate streaming endpoint.
const DefaultURL = "wss://trade.definedgesecurities.com/NorenWSTRTP/"

// ErrConnectRejected is returned when the feed refuses the session.
var ErrConnectRejected = errors.New("stream connect rejected")

// Event is what subscribers of every topic receive.
type Event struct {
	Kind  string
	Frame map[string]any
}

// Config configures a Client.
type Config struct {
	URL           string
	Subscriptions *Subscriptions
	Bus           evbus.Bus
	Heartbeat     time.Duration
	Dialer        *websocket.Dialer
	Logger        *slog.Logger
}

// Client maintains one feed connection per Run call.
type Client struct {
	url       string
	subs      *Subscriptions
	bus       evbus.Bus
	heartbeat time.Duration
	dialer    *websocket.Dialer
	logger    *slog.Logger
}

// NewClient returns a Client. A nil Bus gets a fresh one.
func NewClient(cfg Config) *Client {
	c := &Client{
		url:       cfg.URL,
		subs:      cfg.Subscriptions,
		bus:       cfg.Bus,
		heartbeat: cfg.Heartbeat,
		dialer:    cfg.Dialer,
		logger:    cfg.Logger,
	}
	if c.url == "" {
		c.url = DefaultURL
	}
	if c.bus == nil {
		c.bus = evbus.New()
	}
	if c.heartbeat <= 0 {
		c.heartbeat = 30 * time.Second
	}
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "stream")
	return c
}

// Bus exposes the bus for subscribing callbacks.
func (c *Client) Bus() evbus.Bus { return c.bus }

type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(f)
}

// Run connects, authenticates with the session's transport key, sends the
// subscriptions and publishes frames until ctx is done or the connection
// fails. It returns nil after ctx is cancelled.
func (c *Client) Run(ctx context.Context, sess *session.Session) error {
	if !sess.IsActive() {
		return broker.ErrNotLoggedIn
	}

	ws, resp, err := c.dialer.DialContext(ctx, c.url, http.Header{})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dialing stream: %w", err)
	}
	cn := &conn{ws: ws}
	defer ws.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			cn.mu.Lock()
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			cn.mu.Unlock()
			ws.Close()
		case <-stop:
		}
	}()

	if err := cn.send(Frame{
		"t":          "c",
		"uid":        sess.UserID,
		"actid":      sess.AccountID,
		"susertoken": sess.TransportSessionKey,
		"source":     "API",
	}); err != nil {
		return c.exit(ctx, fmt.Errorf("sending connect frame: %w", err))
	}

	go c.heartbeatLoop(ctx, cn, stop)

	for {
		var frame map[string]any
		if err := ws.ReadJSON(&frame); err != nil {
			return c.exit(ctx, fmt.Errorf("reading stream: %w", err))
		}
		if err := c.dispatch(cn, sess, frame); err != nil {
			return c.exit(ctx, err)
		}
	}
}

func (c *Client) exit(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		c.logger.Info("stream closed")
		return nil
	}
	c.bus.Publish(TopicError, Event{Kind: "error", Frame: map[string]any{"emsg": err.Error()}})
	return err
}

func (c *Client) heartbeatLoop(ctx context.Context, cn *conn, stop <-chan struct{}) {
	t := time.NewTicker(c.heartbeat)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-t.C:
			if err := cn.send(Frame{"t": "h"}); err != nil {
				return
			}
		}
	}
}

func (c *Client) dispatch(cn *conn, sess *session.Session, frame map[string]any) error {
	t, _ := frame["t"].(string)
	switch t {
	case "ck":
		if s, _ := frame["s"].(string); s != "OK" {
			msg, _ := frame["emsg"].(string)
			return fmt.Errorf("%w: %s", ErrConnectRejected, msg)
		}
		c.logger.Info("stream connected", slog.Int("tokens", len(c.tokens())))
		c.bus.Publish(TopicAck, Event{Kind: "connect", Frame: frame})
		if c.subs != nil {
			for _, f := range c.subs.Frames(sess.AccountID) {
				if err := cn.send(f); err != nil {
					return fmt.Errorf("sending subscription: %w", err)
				}
			}
		}
	case "tk", "tf":
		c.bus.Publish(TopicTick, Event{Kind: KindTick, Frame: frame})
	case "dk", "df":
		c.bus.Publish(TopicDepth, Event{Kind: KindDepth, Frame: frame})
	case "om":
		c.bus.Publish(TopicOrder, Event{Kind: KindOrder, Frame: frame})
	case "ok":
		c.bus.Publish(TopicAck, Event{Kind: KindOrder, Frame: frame})
	case "er":
		msg, _ := frame["emsg"].(string)
		c.logger.Warn("stream error frame", slog.String("emsg", msg))
		c.bus.Publish(TopicError, Event{Kind: "error", Frame: frame})
	case "h":
	default:
		c.logger.Warn("unexpected stream frame", slog.String("type", t))
		c.bus.Publish(TopicError, Event{Kind: "error", Frame: frame})
	}
	return nil
}

func (c *Client) tokens() []Token {
	if c.subs == nil {
		return nil
	}
	return c.subs.Tokens()
}

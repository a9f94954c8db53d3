package feed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rxtech-lab/bitstamp-trading/internal/logger"
	"github.com/rxtech-lab/bitstamp-trading/internal/types"
	"github.com/rxtech-lab/bitstamp-trading/pkg/errors"
)

// Channels subscribed after the connection is established.
const (
	ChannelLiveTrades = "live_trades"
	ChannelOrderBook  = "order_book"
)

// MessageHandler is the callback surface driven by a SocketClient's receive
// loop. All callbacks run on the goroutine that called Run.
type MessageHandler interface {
	// OnOpened fires once when the receive loop starts.
	OnOpened()
	// OnClosed fires when the peer closes the connection.
	OnClosed(code int, reason string)
	// OnConnectionEstablished fires when the feed acknowledges the session.
	OnConnectionEstablished()
	// OnSubscriptionSucceeded fires when a channel subscription is acknowledged.
	OnSubscriptionSucceeded(channel string)
	// OnSubscriptionError fires when a channel subscription is rejected.
	OnSubscriptionError(event string)
	// OnError fires on a protocol-level error event.
	OnError(event string)
	// OnUnknownEvent fires for events this client does not recognize.
	OnUnknownEvent(event string)
	// OnTrade fires for each trade on the live_trades channel.
	OnTrade(trade types.Trade)
	// OnOrderBookUpdate fires for each snapshot on the order_book channel.
	OnOrderBookUpdate(update types.OrderBookUpdate)
	// OnDisconnectionDetected fires when the transport fails without a local
	// Close having been requested.
	OnDisconnectionDetected()
}

// protocolConn is the connection surface the client and worker need. It is
// satisfied by SocketClient; tests substitute scripted fakes.
type protocolConn interface {
	Subscribe(channel string) error
	Run(handler MessageHandler)
	Close() error
}

// socketFrame is the wire envelope used by the feed. Data is either a JSON
// object or a JSON-encoded string containing one (the feed double-encodes
// payloads on data events).
type socketFrame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// SocketClient is a websocket client speaking the feed's Pusher-style wire
// framing. It owns one connection for its lifetime: Connect dials once, Run
// consumes frames until the connection goes away, and a client is never
// reused after that.
type SocketClient struct {
	url         string
	dialTimeout time.Duration
	logger      *logger.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

// NewSocketClient creates a client for the given feed URL. Connect must be
// called before Run or Subscribe.
func NewSocketClient(url string, dialTimeout time.Duration, log *logger.Logger) *SocketClient {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &SocketClient{
		url:         url,
		dialTimeout: dialTimeout,
		logger:      log,
	}
}

// Connect establishes the websocket connection.
func (c *SocketClient) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.dialTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeConnectionFailed, "failed to dial feed", err)
	}

	c.conn = conn
	c.logger.Debug("websocket connected", zap.String("url", c.url))

	return nil
}

// Subscribe requests events for a channel. The acknowledgment arrives
// asynchronously through OnSubscriptionSucceeded.
func (c *SocketClient) Subscribe(channel string) error {
	frame := map[string]any{
		"event": "pusher:subscribe",
		"data":  map[string]string{"channel": channel},
	}

	if err := c.writeJSON(frame); err != nil {
		return errors.Wrapf(errors.ErrCodeSubscriptionFailed, err, "failed to subscribe channel %s", channel)
	}

	return nil
}

// Close requests a clean local shutdown. After Close, the receive loop exits
// without reporting a disconnection.
func (c *SocketClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)

	return c.conn.Close()
}

// Run consumes frames until the connection goes away, delivering protocol
// callbacks to handler. It blocks the calling goroutine for the lifetime of
// the connection.
func (c *SocketClient) Run(handler MessageHandler) {
	handler.OnOpened()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.isClosed() {
				// Local shutdown, not a detected disconnection.
				return
			}

			if closeErr, ok := err.(*websocket.CloseError); ok {
				handler.OnClosed(closeErr.Code, closeErr.Text)
			}

			handler.OnDisconnectionDetected()

			return
		}

		c.handleFrame(data, handler)
	}
}

func (c *SocketClient) handleFrame(data []byte, handler MessageHandler) {
	var frame socketFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		handler.OnError(string(data))
		return
	}

	switch frame.Event {
	case "pusher:connection_established":
		handler.OnConnectionEstablished()

	case "pusher_internal:subscription_succeeded":
		handler.OnSubscriptionSucceeded(frame.Channel)

	case "pusher:subscription_error", "pusher_internal:subscription_error":
		handler.OnSubscriptionError(string(frame.Data))

	case "pusher:error":
		handler.OnError(string(frame.Data))

	case "pusher:ping":
		if err := c.writeJSON(map[string]any{"event": "pusher:pong"}); err != nil {
			c.logger.Debug("failed to send pong", zap.Error(err))
		}

	case "pusher:pong":
		// Keepalive reply, nothing to do.

	case "trade":
		payload, err := framePayload(frame.Data)
		if err != nil {
			handler.OnError(string(frame.Data))
			return
		}

		trade, err := types.ParseTrade(payload)
		if err != nil {
			handler.OnError(err.Error())
			return
		}

		handler.OnTrade(trade)

	case "data":
		payload, err := framePayload(frame.Data)
		if err != nil {
			handler.OnError(string(frame.Data))
			return
		}

		update, err := types.ParseOrderBookUpdate(payload)
		if err != nil {
			handler.OnError(err.Error())
			return
		}

		handler.OnOrderBookUpdate(update)

	default:
		handler.OnUnknownEvent(frame.Event)
	}
}

// framePayload unwraps an event payload. The feed sends data payloads as
// JSON-encoded strings; control frames carry plain objects.
func framePayload(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return nil, errors.New(errors.ErrCodeParseFailed, "empty frame payload")
	}

	if raw[0] != '"' {
		return raw, nil
	}

	var inner string
	if err := json.Unmarshal(raw, &inner); err != nil {
		return nil, errors.Wrap(errors.ErrCodeParseFailed, "failed to unwrap frame payload", err)
	}

	return []byte(inner), nil
}

func (c *SocketClient) writeJSON(v any) error {
	if c.conn == nil {
		return errors.New(errors.ErrCodeNotConnected, "socket is not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	return c.conn.WriteJSON(v)
}

func (c *SocketClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

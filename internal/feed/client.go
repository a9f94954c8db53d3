// Package feed adapts the exchange's push-based realtime websocket feed to
// the pull-based Subject contract of a host trading engine: the engine drives
// time by calling Dispatch once per tick instead of receiving callbacks on
// arbitrary goroutines.
package feed

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/rxtech-lab/bitstamp-trading/internal/event"
	"github.com/rxtech-lab/bitstamp-trading/internal/logger"
	"github.com/rxtech-lab/bitstamp-trading/internal/types"
	"github.com/rxtech-lab/bitstamp-trading/pkg/errors"
)

// DefaultFeedURL is the exchange's public Pusher endpoint.
const DefaultFeedURL = "wss://ws.pusherapp.com/app/de504dc5763aeef9ff52?protocol=7"

const (
	// dispatchTimeout bounds how long one Dispatch call may wait for an event.
	dispatchTimeout = 10 * time.Millisecond
	// reconnectInterval is the fixed sleep between failed reconnection
	// attempts. Retries continue indefinitely until Stop.
	reconnectInterval = 5 * time.Second
)

// Config contains configuration for the feed client.
type Config struct {
	// URL is the websocket endpoint to connect to.
	URL string `json:"url" yaml:"url" validate:"required,url"`
	// EnableReconnection re-establishes the connection after a detected
	// disconnection. When false, a disconnection permanently stops the client.
	EnableReconnection bool `json:"enable_reconnection" yaml:"enable_reconnection"`
	// DialTimeout bounds a single websocket handshake. Defaults to 10s.
	DialTimeout time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
}

// Validate validates the Config fields.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid feed config", err)
	}

	return nil
}

type initState int

const (
	initPending initState = iota
	initSucceeded
	initFailed
)

// Client is the pollable adapter over the realtime feed. It has to be driven
// by the host engine's dispatch loop: every Dispatch call delivers at most
// one pending event to the trade or order book notifiers, or handles an
// internal lifecycle transition.
//
// Exactly two goroutines are involved: the connection worker (sole producer
// onto the queue) and the consumer calling Start/Dispatch (sole queue
// consumer and sole mutator of lifecycle state). Stop and Eof may be called
// from any goroutine.
type Client struct {
	cfg    Config
	logger *logger.Logger

	queue             *event.Queue
	tradeNotifier     *event.Notifier[types.Trade]
	orderBookNotifier *event.Notifier[types.OrderBookUpdate]

	// stopped is the only cross-goroutine lifecycle signal. The reconnection
	// loop observes it between attempts and exits cooperatively.
	stopped atomic.Bool

	// mu guards the connection handles, which Stop may read concurrently
	// with the consumer goroutine swapping them during reconnection. It is
	// never held across a blocking wait.
	mu         sync.Mutex
	conn       protocolConn
	workerDone chan struct{}

	// Consumer-goroutine state. Mutated only by dispatch handlers and
	// initializeClient, never by the worker.
	initResult initState
	ctx        context.Context

	// dial creates and connects one connection. Swapped out in tests.
	dial func(ctx context.Context) (protocolConn, error)

	// reconnectWait is the fixed sleep between failed reconnection
	// attempts. Shortened in tests.
	reconnectWait time.Duration
}

// NewClient creates a feed client. A nil logger discards log output.
func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	client := &Client{
		cfg:               cfg,
		logger:            log,
		queue:             event.NewQueue(),
		tradeNotifier:     event.NewNotifier[types.Trade](),
		orderBookNotifier: event.NewNotifier[types.OrderBookUpdate](),
		reconnectWait:     reconnectInterval,
	}

	client.dial = func(ctx context.Context) (protocolConn, error) {
		socket := NewSocketClient(cfg.URL, cfg.DialTimeout, log)
		if err := socket.Connect(ctx); err != nil {
			return nil, err
		}

		return socket, nil
	}

	return client, nil
}

// TradeNotifier returns the notification point emitted for every trade
// received from the feed. Subscribe before Start.
func (c *Client) TradeNotifier() *event.Notifier[types.Trade] {
	return c.tradeNotifier
}

// OrderBookUpdateNotifier returns the notification point emitted for every
// order book snapshot received from the feed. Subscribe before Start.
func (c *Client) OrderBookUpdateNotifier() *event.Notifier[types.OrderBookUpdate] {
	return c.orderBookNotifier
}

// Start connects to the feed and blocks until the session is established.
// It fails with ErrCodeAlreadyRunning if a worker was already created, and
// with ErrCodeInitializationFailed if the connection could not be brought up.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	running := c.workerDone != nil
	c.mu.Unlock()

	if running {
		return errors.New(errors.ErrCodeAlreadyRunning, "client is already running")
	}

	c.ctx = ctx

	if !c.initializeClient(ctx) {
		c.stopped.Store(true)
		return errors.New(errors.ErrCodeInitializationFailed, "client initialization failed")
	}

	return nil
}

// Stop requests shutdown. It sets the stopped flag first, so an in-progress
// reconnection loop observes it between attempts, then asks a live worker to
// close its connection. Stop never fails and is safe to call repeatedly from
// any goroutine.
func (c *Client) Stop() {
	c.stopped.Store(true)

	c.mu.Lock()
	conn := c.conn
	done := c.workerDone
	c.mu.Unlock()

	if conn == nil || !workerAlive(done) {
		return
	}

	c.logger.Info("shutting down client")

	if err := conn.Close(); err != nil {
		c.logger.Error("error shutting down client", zap.Error(err))
	}
}

// Join blocks until the worker goroutine has exited, if one was ever created.
func (c *Client) Join() {
	c.mu.Lock()
	done := c.workerDone
	c.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Eof reports whether the client is permanently stopped and no further
// events will ever be dispatched.
func (c *Client) Eof() bool {
	return c.stopped.Load()
}

// Dispatch processes at most one pending event, waiting briefly for one to
// arrive. It returns true iff an event reached a handler. Dispatch never
// fails; it must be called from a single consumer goroutine.
func (c *Client) Dispatch() bool {
	return c.dispatch(nil)
}

// PeekDateTime returns no timestamp: this is a realtime source with no
// schedulable ordering key.
func (c *Client) PeekDateTime() optional.Option[time.Time] {
	return optional.None[time.Time]()
}

// initializeClient brings up one connection and blocks dispatching
// Connected-only until the session is established or the worker dies.
// Runs on the consumer goroutine.
func (c *Client) initializeClient(ctx context.Context) bool {
	c.initResult = initPending
	c.logger.Info("initializing client")

	conn, err := c.dial(ctx)
	if err != nil {
		c.initResult = initFailed

		c.logger.Error("error connecting", zap.Error(err))
	} else {
		done := make(chan struct{})
		worker := newConnWorker(conn, c.queue, c.logger)

		c.mu.Lock()
		c.conn = conn
		c.workerDone = done
		c.mu.Unlock()

		go func() {
			defer close(done)
			worker.run()
		}()
	}

	// Wait for initialization to complete. The Connected-only filter means
	// data events arriving during this drain are consumed and discarded.
	for c.initResult == initPending && c.workerRunning() {
		c.dispatch([]event.Type{event.TypeConnected})
	}

	if c.initResult == initSucceeded {
		c.logger.Info("initialization ok")
		return true
	}

	c.initResult = initFailed
	c.logger.Error("initialization failed")

	return false
}

// dispatch pops at most one event with a bounded wait and routes it. A
// non-nil filter consumes but discards events of other types.
func (c *Client) dispatch(filter []event.Type) bool {
	ev, ok := c.queue.Pop(dispatchTimeout)
	if !ok {
		return false
	}

	if filter != nil && !containsType(filter, ev.Type) {
		return false
	}

	switch ev.Type {
	case event.TypeTrade:
		trade, ok := ev.Data.(types.Trade)
		if !ok {
			c.logger.Error("trade event with invalid payload")
			return false
		}

		c.tradeNotifier.Emit(trade)

		return true

	case event.TypeOrderBookUpdate:
		update, ok := ev.Data.(types.OrderBookUpdate)
		if !ok {
			c.logger.Error("order book event with invalid payload")
			return false
		}

		c.orderBookNotifier.Emit(update)

		return true

	case event.TypeConnected:
		c.onConnected()
		return true

	case event.TypeDisconnected:
		c.onDisconnected()
		return true

	default:
		c.logger.Error("invalid event received to dispatch",
			zap.Stringer("type", ev.Type),
		)

		return false
	}
}

func (c *Client) onConnected() {
	c.initResult = initSucceeded
}

// onDisconnected drives the reconnection policy on the consumer goroutine:
// retry the connect-and-wait procedure at fixed intervals until it succeeds
// or Stop is observed between attempts. Without reconnection enabled, a
// disconnection is terminal.
func (c *Client) onDisconnected() {
	if !c.cfg.EnableReconnection {
		c.stopped.Store(true)
		return
	}

	initialized := false
	for !c.stopped.Load() && !initialized {
		c.logger.Info("reconnecting")

		initialized = c.initializeClient(c.ctx)
		if !initialized {
			time.Sleep(c.reconnectWait)
		}
	}
}

func (c *Client) workerRunning() bool {
	c.mu.Lock()
	done := c.workerDone
	c.mu.Unlock()

	return workerAlive(done)
}

func workerAlive(done chan struct{}) bool {
	if done == nil {
		return false
	}

	select {
	case <-done:
		return false
	default:
		return true
	}
}

func containsType(filter []event.Type, t event.Type) bool {
	for _, ft := range filter {
		if ft == t {
			return true
		}
	}

	return false
}

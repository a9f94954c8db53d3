package feed

import (
	"go.uber.org/zap"

	"github.com/rxtech-lab/bitstamp-trading/internal/event"
	"github.com/rxtech-lab/bitstamp-trading/internal/logger"
	"github.com/rxtech-lab/bitstamp-trading/internal/types"
)

// connWorker owns one live connection for its entire lifetime and is the
// sole producer onto the event queue. It translates protocol callbacks into
// tagged events; it never touches client state directly.
type connWorker struct {
	conn   protocolConn
	queue  *event.Queue
	logger *logger.Logger
}

func newConnWorker(conn protocolConn, queue *event.Queue, log *logger.Logger) *connWorker {
	return &connWorker{
		conn:   conn,
		queue:  queue,
		logger: log,
	}
}

// run blocks inside the connection's receive loop. It is the worker
// goroutine's main function.
func (w *connWorker) run() {
	w.logger.Debug("worker started")
	w.conn.Run(w)
	w.logger.Debug("worker finished")
}

func (w *connWorker) OnOpened() {}

func (w *connWorker) OnClosed(code int, reason string) {
	w.logger.Info("connection closed",
		zap.Int("code", code),
		zap.String("reason", reason),
	)
}

func (w *connWorker) OnConnectionEstablished() {
	w.logger.Info("connection established")

	for _, channel := range []string{ChannelLiveTrades, ChannelOrderBook} {
		if err := w.conn.Subscribe(channel); err != nil {
			// Subscription failures are reported only; they do not tear
			// down the connection.
			w.logger.Error("failed to subscribe channel",
				zap.String("channel", channel),
				zap.Error(err),
			)
		}
	}

	w.queue.Push(event.Event{Type: event.TypeConnected})
}

func (w *connWorker) OnSubscriptionSucceeded(channel string) {
	w.logger.Debug("subscribed", zap.String("channel", channel))
}

func (w *connWorker) OnSubscriptionError(ev string) {
	w.logger.Error("channel subscription error", zap.String("event", ev))
}

func (w *connWorker) OnError(ev string) {
	w.logger.Error("feed error", zap.String("event", ev))
}

func (w *connWorker) OnUnknownEvent(ev string) {
	w.logger.Warn("unknown event", zap.String("event", ev))
}

func (w *connWorker) OnTrade(trade types.Trade) {
	w.queue.Push(event.Event{Type: event.TypeTrade, Data: trade})
}

func (w *connWorker) OnOrderBookUpdate(update types.OrderBookUpdate) {
	w.queue.Push(event.Event{Type: event.TypeOrderBookUpdate, Data: update})
}

// OnDisconnectionDetected is the single funnel through which the consumer
// learns of any connection loss: best-effort local shutdown, then a
// Disconnected event.
func (w *connWorker) OnDisconnectionDetected() {
	w.logger.Info("disconnection detected")

	if err := w.conn.Close(); err != nil {
		w.logger.Error("error stopping connection", zap.Error(err))
	}

	w.queue.Push(event.Event{Type: event.TypeDisconnected})
}

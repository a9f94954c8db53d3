// Package event provides the tagged-event plumbing between the connection
// worker goroutine and the synchronous dispatch loop: an unbounded FIFO queue
// with a bounded-wait pop, and observer-style notification points.
package event

// Type identifies the kind of payload an Event carries.
type Type int

const (
	TypeTrade Type = iota + 1
	TypeOrderBookUpdate
	TypeConnected
	TypeDisconnected
)

// String returns a human readable name for logging.
func (t Type) String() string {
	switch t {
	case TypeTrade:
		return "trade"
	case TypeOrderBookUpdate:
		return "order_book_update"
	case TypeConnected:
		return "connected"
	case TypeDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is a tagged value moved through the queue. Data is nil for
// TypeConnected and TypeDisconnected, a types.Trade or types.OrderBookUpdate
// otherwise. Events are created by the connection worker and consumed exactly
// once by the dispatch loop.
type Event struct {
	Type Type
	Data any
}

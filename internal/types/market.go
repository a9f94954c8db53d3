package types

import (
	"encoding/json"
	"strconv"

	"github.com/rxtech-lab/bitstamp-trading/pkg/errors"
)

// Trade represents a single trade reported on the live_trades channel.
type Trade struct {
	ID     int64   `json:"id"`
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
}

// PriceLevel is one price/amount pair in an order book side.
type PriceLevel struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
}

// OrderBookUpdate represents a full order book snapshot reported on the
// order_book channel. Bids and asks are sorted by the exchange, best first.
type OrderBookUpdate struct {
	Bids []PriceLevel `json:"bids"`
	Asks []PriceLevel `json:"asks"`
}

// ParseTrade decodes a live_trades payload.
func ParseTrade(data []byte) (Trade, error) {
	var trade Trade
	if err := json.Unmarshal(data, &trade); err != nil {
		return Trade{}, errors.Wrap(errors.ErrCodeParseFailed, "failed to parse trade payload", err)
	}

	return trade, nil
}

// wireOrderBook matches the order_book payload. Levels arrive as
// ["price", "amount"] string pairs.
type wireOrderBook struct {
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`
}

// ParseOrderBookUpdate decodes an order_book payload.
func ParseOrderBookUpdate(data []byte) (OrderBookUpdate, error) {
	var wire wireOrderBook
	if err := json.Unmarshal(data, &wire); err != nil {
		return OrderBookUpdate{}, errors.Wrap(errors.ErrCodeParseFailed, "failed to parse order book payload", err)
	}

	bids, err := parseLevels(wire.Bids)
	if err != nil {
		return OrderBookUpdate{}, err
	}

	asks, err := parseLevels(wire.Asks)
	if err != nil {
		return OrderBookUpdate{}, err
	}

	return OrderBookUpdate{
		Bids: bids,
		Asks: asks,
	}, nil
}

func parseLevels(levels [][]string) ([]PriceLevel, error) {
	parsed := make([]PriceLevel, 0, len(levels))

	for _, level := range levels {
		if len(level) < 2 {
			return nil, errors.Newf(errors.ErrCodeParseFailed, "order book level has %d fields, expected 2", len(level))
		}

		price, err := strconv.ParseFloat(level[0], 64)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeParseFailed, "failed to parse order book price", err)
		}

		amount, err := strconv.ParseFloat(level[1], 64)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeParseFailed, "failed to parse order book amount", err)
		}

		parsed = append(parsed, PriceLevel{Price: price, Amount: amount})
	}

	return parsed, nil
}

package types

import (
	"time"

	"github.com/rxtech-lab/bitstamp-trading/pkg/errors"
)

type PurchaseType string

const (
	PurchaseTypeBuy  PurchaseType = "BUY"
	PurchaseTypeSell PurchaseType = "SELL"
)

// AccountBalance represents the available funds on the account.
type AccountBalance struct {
	// USDAvailable is the available USD balance
	USDAvailable float64 `json:"usd_available,string"`
	// BTCAvailable is the available BTC balance
	BTCAvailable float64 `json:"btc_available,string"`
}

// Order represents an open limit order on the exchange.
type Order struct {
	ID       int64        `json:"id"`
	Side     PurchaseType `json:"side"`
	Price    float64      `json:"price"`
	Amount   float64      `json:"amount"`
	DateTime time.Time    `json:"datetime"`
}

// Order datetime layout used by the exchange. Values are interpreted as UTC.
// Go's parser accepts an optional fractional seconds field after the seconds,
// so timestamps with and without microseconds both match this layout.
const orderDateTimeLayout = "2006-01-02 15:04:05"

// ParseOrderDateTime parses an order timestamp as reported by the exchange.
func ParseOrderDateTime(value string) (time.Time, error) {
	ts, err := time.ParseInLocation(orderDateTimeLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, errors.Wrapf(errors.ErrCodeParseFailed, err, "failed to parse order datetime %q", value)
	}

	return ts, nil
}

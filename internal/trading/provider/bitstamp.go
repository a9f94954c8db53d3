package tradingprovider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rxtech-lab/bitstamp-trading/internal/types"
	"github.com/rxtech-lab/bitstamp-trading/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	// DefaultBitstampBaseURL is the live REST endpoint.
	DefaultBitstampBaseURL = "https://www.bitstamp.net"

	// BitstampPricePrecision is the number of decimals accepted for USD prices.
	BitstampPricePrecision = 2
	// BitstampAmountPrecision is the number of decimals accepted for BTC amounts.
	BitstampAmountPrecision = 8
)

// HTTPDoer abstracts the HTTP transport for testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// BitstampTradingProvider implements TradingProvider against the Bitstamp REST API.
// It is stateless - all data is fetched directly from the exchange.
type BitstampTradingProvider struct {
	config     BitstampProviderConfig
	httpClient HTTPDoer
	baseURL    string

	// Nonces must be strictly increasing per API key. The guard keeps them
	// monotonic even when requests fire within the same second.
	nonceMu   sync.Mutex
	prevNonce int64
	now       func() time.Time
}

// NewBitstampTradingProvider creates a new Bitstamp trading provider.
// If config.BaseURL is set, it takes precedence over the live endpoint.
func NewBitstampTradingProvider(config BitstampProviderConfig) (*BitstampTradingProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBitstampBaseURL
	}

	return &BitstampTradingProvider{
		config:     config,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		now:        time.Now,
	}, nil
}

// newBitstampTradingProviderWithClient creates a provider with a custom transport.
// This is used for testing with mock transports.
func newBitstampTradingProviderWithClient(config BitstampProviderConfig, client HTTPDoer) *BitstampTradingProvider {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBitstampBaseURL
	}

	return &BitstampTradingProvider{
		config:     config,
		httpClient: client,
		baseURL:    strings.TrimRight(baseURL, "/"),
		now:        time.Now,
	}
}

// GetAccountBalance returns the available USD and BTC funds.
func (b *BitstampTradingProvider) GetAccountBalance(ctx context.Context) (types.AccountBalance, error) {
	var balance types.AccountBalance
	if err := b.post(ctx, "/api/balance/", nil, &balance); err != nil {
		return types.AccountBalance{}, err
	}

	return balance, nil
}

// GetOpenOrders returns all open limit orders on the account.
func (b *BitstampTradingProvider) GetOpenOrders(ctx context.Context) ([]types.Order, error) {
	var wireOrders []wireOrder
	if err := b.post(ctx, "/api/open_orders/", nil, &wireOrders); err != nil {
		return nil, err
	}

	orders := make([]types.Order, 0, len(wireOrders))

	for _, wo := range wireOrders {
		order, err := wo.toOrder()
		if err != nil {
			return nil, err
		}

		orders = append(orders, order)
	}

	return orders, nil
}

// CancelOrder cancels an open order. The exchange acknowledges a successful
// cancellation with a literal true response.
func (b *BitstampTradingProvider) CancelOrder(ctx context.Context, orderID int64) error {
	params := url.Values{}
	params.Set("id", strconv.FormatInt(orderID, 10))

	var acknowledged bool
	if err := b.post(ctx, "/api/cancel_order/", params, &acknowledged); err != nil {
		return err
	}

	if !acknowledged {
		return errors.Newf(errors.ErrCodeCancelOrderFailed, "cancel order %d was not acknowledged", orderID)
	}

	return nil
}

// BuyLimit places a limit buy order and returns the order as registered by the
// exchange.
func (b *BitstampTradingProvider) BuyLimit(ctx context.Context, price float64, amount float64) (types.Order, error) {
	return b.placeLimitOrder(ctx, "/api/buy/", price, amount)
}

// SellLimit places a limit sell order and returns the order as registered by
// the exchange.
func (b *BitstampTradingProvider) SellLimit(ctx context.Context, price float64, amount float64) (types.Order, error) {
	return b.placeLimitOrder(ctx, "/api/sell/", price, amount)
}

func (b *BitstampTradingProvider) placeLimitOrder(ctx context.Context, path string, price float64, amount float64) (types.Order, error) {
	if price <= 0 {
		return types.Order{}, errors.New(errors.ErrCodeInvalidParameter, "order price must be greater than zero")
	}

	if amount <= 0 {
		return types.Order{}, errors.New(errors.ErrCodeInvalidParameter, "order amount must be greater than zero")
	}

	roundedAmount := decimal.NewFromFloat(amount).Round(BitstampAmountPrecision)
	if roundedAmount.IsZero() {
		return types.Order{}, errors.Newf(errors.ErrCodeInvalidParameter,
			"order amount %.8f is too small after rounding to %d decimal places",
			amount, BitstampAmountPrecision)
	}

	params := url.Values{}
	params.Set("price", decimal.NewFromFloat(price).Round(BitstampPricePrecision).String())
	params.Set("amount", roundedAmount.String())

	var wo wireOrder
	if err := b.post(ctx, path, params, &wo); err != nil {
		return types.Order{}, err
	}

	order, err := wo.toOrder()
	if err != nil {
		return types.Order{}, err
	}

	return order, nil
}

// post sends a signed form request and decodes the JSON response into out.
func (b *BitstampTradingProvider) post(ctx context.Context, path string, params url.Values, out any) error {
	form := b.authParams()

	for key, values := range params {
		for _, value := range values {
			form.Add(key, value)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrapf(errors.ErrCodeRequestFailed, err, "failed to build request for %s", path)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeRequestFailed, err, "request to %s failed", path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeRequestFailed, err, "failed to read %s response", path)
	}

	if resp.StatusCode != http.StatusOK {
		return errors.Newf(errors.ErrCodeServerError, "%s returned status %d: %s", path, resp.StatusCode, body)
	}

	if apiErr := apiError(body); apiErr != nil {
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return errors.Wrapf(errors.ErrCodeParseFailed, err, "failed to decode %s response", path)
		}
	}

	return nil
}

// authParams builds the credential fields every request must carry: the API
// key, a fresh nonce, and an HMAC-SHA256 signature over nonce+clientID+apiKey
// keyed by the API secret, hex encoded in upper case.
func (b *BitstampTradingProvider) authParams() url.Values {
	nonce := b.nonce()
	message := nonce + b.config.ClientID + b.config.ApiKey

	mac := hmac.New(sha256.New, []byte(b.config.SecretKey))
	mac.Write([]byte(message))
	signature := strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))

	values := url.Values{}
	values.Set("key", b.config.ApiKey)
	values.Set("signature", signature)
	values.Set("nonce", nonce)

	return values
}

func (b *BitstampTradingProvider) nonce() string {
	b.nonceMu.Lock()
	defer b.nonceMu.Unlock()

	nonce := b.now().Unix()
	if nonce <= b.prevNonce {
		nonce = b.prevNonce + 1
	}

	b.prevNonce = nonce

	return strconv.FormatInt(nonce, 10)
}

// apiError surfaces the error field the exchange embeds in failure responses.
func apiError(body []byte) error {
	var probe struct {
		Error json.RawMessage `json:"error"`
	}

	if json.Unmarshal(body, &probe) != nil {
		return nil
	}

	if len(probe.Error) == 0 || string(probe.Error) == "null" {
		return nil
	}

	return errors.Newf(errors.ErrCodeRequestFailed, "bitstamp error: %s", probe.Error)
}

// wireOrder is the order shape returned by the exchange. Numeric fields arrive
// as strings and the side is an enumeration where 0 is buy and 1 is sell.
type wireOrder struct {
	ID       int64       `json:"id"`
	DateTime string      `json:"datetime"`
	Type     json.Number `json:"type"`
	Price    float64     `json:"price,string"`
	Amount   float64     `json:"amount,string"`
}

func (wo wireOrder) toOrder() (types.Order, error) {
	ts, err := types.ParseOrderDateTime(wo.DateTime)
	if err != nil {
		return types.Order{}, err
	}

	var side types.PurchaseType

	switch wo.Type.String() {
	case "0":
		side = types.PurchaseTypeBuy
	case "1":
		side = types.PurchaseTypeSell
	default:
		return types.Order{}, errors.Newf(errors.ErrCodeParseFailed, "unknown order type: %s", wo.Type)
	}

	return types.Order{
		ID:       wo.ID,
		Side:     side,
		Price:    wo.Price,
		Amount:   wo.Amount,
		DateTime: ts,
	}, nil
}

// Ensure BitstampTradingProvider implements TradingProvider.
var _ TradingProvider = (*BitstampTradingProvider)(nil)

package tradingprovider

import (
	"context"
	"fmt"

	"github.com/rxtech-lab/bitstamp-trading/internal/types"
)

type TradingProvider interface {
	// GetAccountBalance returns the available funds on the account
	GetAccountBalance(ctx context.Context) (types.AccountBalance, error)
	// GetOpenOrders returns all open limit orders
	GetOpenOrders(ctx context.Context) ([]types.Order, error)
	// CancelOrder cancels an open order by its identifier
	CancelOrder(ctx context.Context, orderID int64) error
	// BuyLimit places a limit buy order and returns the resulting order
	BuyLimit(ctx context.Context, price float64, amount float64) (types.Order, error)
	// SellLimit places a limit sell order and returns the resulting order
	SellLimit(ctx context.Context, price float64, amount float64) (types.Order, error)
}

type ProviderType string

const (
	ProviderBitstampLive ProviderType = "bitstamp-live"
)

type ProviderInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
}

var providerRegistry = map[ProviderType]ProviderInfo{
	ProviderBitstampLive: {
		Name:        string(ProviderBitstampLive),
		DisplayName: "Bitstamp Live",
		Description: "Bitstamp live environment for real-funds BTC/USD trading",
	},
}

func GetSupportedProviders() []string {
	providers := make([]string, 0, len(providerRegistry))
	for providerType := range providerRegistry {
		providers = append(providers, string(providerType))
	}

	return providers
}

// GetProviderInfo returns metadata for a specific trading provider.
func GetProviderInfo(providerName string) (ProviderInfo, error) {
	info, exists := providerRegistry[ProviderType(providerName)]
	if !exists {
		return ProviderInfo{}, fmt.Errorf("unsupported trading provider: %s", providerName)
	}

	return info, nil
}

// ParseProviderConfig parses a JSON configuration string for the given provider.
func ParseProviderConfig(providerName string, jsonConfig string) (any, error) {
	switch ProviderType(providerName) {
	case ProviderBitstampLive:
		return parseBitstampConfig(jsonConfig)
	default:
		return nil, fmt.Errorf("unsupported trading provider: %s", providerName)
	}
}

// NewTradingProvider creates a new trading provider based on the provider type.
func NewTradingProvider(providerType ProviderType, config any) (TradingProvider, error) {
	switch providerType {
	case ProviderBitstampLive:
		cfg, ok := config.(*BitstampProviderConfig)
		if !ok {
			return nil, fmt.Errorf("invalid config type for bitstamp live provider")
		}

		return NewBitstampTradingProvider(*cfg)

	default:
		return nil, fmt.Errorf("unsupported trading provider: %s", providerType)
	}
}

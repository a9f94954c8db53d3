package tradingprovider

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/rxtech-lab/bitstamp-trading/pkg/errors"
)

// BitstampProviderConfig contains configuration for Bitstamp trading.
type BitstampProviderConfig struct {
	ClientID  string `json:"clientId" yaml:"clientId" validate:"required"`
	ApiKey    string `json:"apiKey" yaml:"apiKey" validate:"required"`
	SecretKey string `json:"secretKey" yaml:"secretKey" validate:"required"`
	// BaseURL overrides the default API endpoint. Used for testing.
	BaseURL string `json:"baseUrl" yaml:"baseUrl" validate:"omitempty,url"`
}

// Validate validates the BitstampProviderConfig struct.
func (c *BitstampProviderConfig) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidParameter, "invalid bitstamp provider config", err)
	}

	return nil
}

// parseBitstampConfig parses a JSON configuration string into a BitstampProviderConfig.
func parseBitstampConfig(jsonConfig string) (*BitstampProviderConfig, error) {
	var config BitstampProviderConfig
	if err := json.Unmarshal([]byte(jsonConfig), &config); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidParameter, "failed to parse bitstamp config", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

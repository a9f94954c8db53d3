package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type AccountTestSuite struct {
	suite.Suite
}

func TestAccountSuite(t *testing.T) {
	suite.Run(t, new(AccountTestSuite))
}

func (suite *AccountTestSuite) TestAccountBalanceDecode() {
	payload := `{"usd_available": "1234.56", "btc_available": "0.12345678"}`

	var balance AccountBalance
	suite.NoError(json.Unmarshal([]byte(payload), &balance))
	suite.Equal(1234.56, balance.USDAvailable)
	suite.Equal(0.12345678, balance.BTCAvailable)
}

func (suite *AccountTestSuite) TestParseOrderDateTime() {
	ts, err := ParseOrderDateTime("2014-05-29 13:30:01")
	suite.NoError(err)
	suite.Equal(time.Date(2014, 5, 29, 13, 30, 1, 0, time.UTC), ts)
}

func (suite *AccountTestSuite) TestParseOrderDateTimeWithMicroseconds() {
	ts, err := ParseOrderDateTime("2014-05-29 13:30:01.123456")
	suite.NoError(err)
	suite.Equal(time.Date(2014, 5, 29, 13, 30, 1, 123456000, time.UTC), ts)
}

func (suite *AccountTestSuite) TestParseOrderDateTimeInvalid() {
	_, err := ParseOrderDateTime("29/05/2014")
	suite.Error(err)
}

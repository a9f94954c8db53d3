package mockserver

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
)

type MockServerTestSuite struct {
	suite.Suite

	server *MockBitstampServer
}

func TestMockServerSuite(t *testing.T) {
	suite.Run(t, new(MockServerTestSuite))
}

func (suite *MockServerTestSuite) SetupTest() {
	suite.server = NewMockBitstampServer(ServerConfig{
		ClientID:   "100",
		ApiKey:     "key",
		SecretKey:  "secret",
		InitialUSD: 500,
		InitialBTC: 0.25,
	})
	suite.Require().NoError(suite.server.Start(""))
}

func (suite *MockServerTestSuite) TearDownTest() {
	suite.Require().NoError(suite.server.Stop())
}

func (suite *MockServerTestSuite) signedForm(extra url.Values) url.Values {
	nonce := "1756555200"
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte(nonce + "100" + "key"))

	form := url.Values{}
	form.Set("key", "key")
	form.Set("nonce", nonce)
	form.Set("signature", strings.ToUpper(hex.EncodeToString(mac.Sum(nil))))

	for name, values := range extra {
		for _, value := range values {
			form.Add(name, value)
		}
	}

	return form
}

func (suite *MockServerTestSuite) post(path string, form url.Values) []byte {
	resp, err := http.PostForm(suite.server.BaseURL()+path, form)
	suite.Require().NoError(err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	suite.Require().NoError(err)
	suite.Equal(http.StatusOK, resp.StatusCode)

	return body
}

func (suite *MockServerTestSuite) TestBalanceRequiresValidSignature() {
	body := suite.post("/api/balance/", suite.signedForm(nil))
	suite.JSONEq(`{"usd_available":"500.00","btc_available":"0.25000000"}`, string(body))

	form := suite.signedForm(nil)
	form.Set("signature", "DEADBEEF")
	body = suite.post("/api/balance/", form)
	suite.Contains(string(body), "Invalid signature")

	form = suite.signedForm(nil)
	form.Set("key", "someone-else")
	body = suite.post("/api/balance/", form)
	suite.Contains(string(body), "API key not found")
}

func (suite *MockServerTestSuite) TestOrderLifecycle() {
	body := suite.post("/api/buy/", suite.signedForm(url.Values{
		"price":  []string{"580.50"},
		"amount": []string{"0.25000000"},
	}))

	var placed map[string]any
	suite.Require().NoError(json.Unmarshal(body, &placed))

	orderID := int64(placed["id"].(float64))
	suite.Equal("0", placed["type"])
	suite.NotNil(suite.server.GetOrder(orderID))

	body = suite.post("/api/open_orders/", suite.signedForm(nil))

	var orders []map[string]any
	suite.Require().NoError(json.Unmarshal(body, &orders))
	suite.Len(orders, 1)

	body = suite.post("/api/cancel_order/", suite.signedForm(url.Values{
		"id": []string{strconv.FormatInt(orderID, 10)},
	}))
	suite.Equal("true", strings.TrimSpace(string(body)))
	suite.Nil(suite.server.GetOrder(orderID))

	body = suite.post("/api/cancel_order/", suite.signedForm(url.Values{
		"id": []string{strconv.FormatInt(orderID, 10)},
	}))
	suite.Contains(string(body), "Order not found")
}

func (suite *MockServerTestSuite) TestRejectsInvalidOrderParameters() {
	body := suite.post("/api/sell/", suite.signedForm(url.Values{
		"price":  []string{"-1"},
		"amount": []string{"0.25"},
	}))
	suite.Contains(string(body), "Invalid order parameters")
}

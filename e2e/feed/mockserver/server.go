// Package mockserver provides a mock Bitstamp server for testing.
// It implements the Pusher-style WebSocket feed and the signed REST API
// endpoints that mimic Bitstamp's behavior.
package mockserver

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/rxtech-lab/bitstamp-trading/internal/types"
)

// Order represents an open limit order held by the mock exchange.
type Order struct {
	ID       int64
	Side     int // 0 buy, 1 sell
	Price    float64
	Amount   float64
	DateTime time.Time
}

// ServerConfig holds configuration for the mock server.
type ServerConfig struct {
	// Credentials accepted by the signed REST endpoints
	ClientID  string
	ApiKey    string
	SecretKey string
	// Initial account funds
	InitialUSD float64
	InitialBTC float64
}

// MockBitstampServer provides a mock Bitstamp server for testing.
// It supports the realtime WebSocket feed and the trading REST API.
type MockBitstampServer struct {
	mu sync.RWMutex

	config ServerConfig

	// HTTP server
	httpServer *http.Server
	listener   net.Listener

	// WebSocket upgrader
	upgrader websocket.Upgrader

	// State management
	usdAvailable float64
	btcAvailable float64
	orders       map[int64]*Order
	orderIDSeq   int64

	// WebSocket connections mapped to their subscribed channels
	wsMu          sync.Mutex
	wsConnections map[*websocket.Conn]map[string]bool
}

// NewMockBitstampServer creates a new mock Bitstamp server.
func NewMockBitstampServer(config ServerConfig) *MockBitstampServer {
	return &MockBitstampServer{
		config: config,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		usdAvailable:  config.InitialUSD,
		btcAvailable:  config.InitialBTC,
		orders:        make(map[int64]*Order),
		orderIDSeq:    1000,
		wsConnections: make(map[*websocket.Conn]map[string]bool),
	}
}

// Start starts the mock server on the given address.
// If address is empty or ":0", a random available port is used.
func (s *MockBitstampServer) Start(address string) error {
	if address == "" {
		address = ":0"
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	s.listener = listener

	router := mux.NewRouter()

	// REST API endpoints
	router.HandleFunc("/api/balance/", s.handleBalance).Methods("POST")
	router.HandleFunc("/api/open_orders/", s.handleOpenOrders).Methods("POST")
	router.HandleFunc("/api/cancel_order/", s.handleCancelOrder).Methods("POST")
	router.HandleFunc("/api/buy/", s.handleBuy).Methods("POST")
	router.HandleFunc("/api/sell/", s.handleSell).Methods("POST")

	// WebSocket feed endpoint
	router.HandleFunc("/app/{key}", s.handleWebSocket)

	s.httpServer = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != http.ErrServerClosed {
			fmt.Printf("HTTP server error: %v\n", err)
		}
	}()

	return nil
}

// Stop stops the mock server.
func (s *MockBitstampServer) Stop() error {
	s.CloseClients()

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

// Address returns the address the server is listening on.
func (s *MockBitstampServer) Address() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// BaseURL returns the base URL for the REST API.
func (s *MockBitstampServer) BaseURL() string {
	return "http://" + s.Address()
}

// WebSocketURL returns the WebSocket URL for the feed endpoint.
func (s *MockBitstampServer) WebSocketURL() string {
	return "ws://" + s.Address() + "/app/test-key?protocol=7"
}

// GetBalance returns the current account funds.
func (s *MockBitstampServer) GetBalance() (usd, btc float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.usdAvailable, s.btcAvailable
}

// SetBalance sets the account funds.
func (s *MockBitstampServer) SetBalance(usd, btc float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.usdAvailable = usd
	s.btcAvailable = btc
}

// GetOrder returns an open order by ID, or nil if it does not exist.
func (s *MockBitstampServer) GetOrder(orderID int64) *Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if order, ok := s.orders[orderID]; ok {
		copied := *order
		return &copied
	}

	return nil
}

// ConnectionCount returns the number of active feed connections.
func (s *MockBitstampServer) ConnectionCount() int {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()

	return len(s.wsConnections)
}

// SendTrade broadcasts a trade event to every connection subscribed to the
// live_trades channel.
func (s *MockBitstampServer) SendTrade(trade types.Trade) {
	payload, _ := json.Marshal(trade)
	s.broadcast("live_trades", "trade", string(payload))
}

// SendOrderBook broadcasts an order book snapshot to every connection
// subscribed to the order_book channel.
func (s *MockBitstampServer) SendOrderBook(bids, asks [][2]float64) {
	wire := struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	}{
		Bids: formatLevels(bids),
		Asks: formatLevels(asks),
	}

	payload, _ := json.Marshal(wire)
	s.broadcast("order_book", "data", string(payload))
}

// CloseClients closes every active feed connection with a going-away frame.
// This simulates the server dropping its clients.
func (s *MockBitstampServer) CloseClients() {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()

	for conn := range s.wsConnections {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "going away"),
			time.Now().Add(time.Second),
		)
		conn.Close()
	}

	s.wsConnections = make(map[*websocket.Conn]map[string]bool)
}

// WebSocket feed

func (s *MockBitstampServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.wsMu.Lock()
	s.wsConnections[conn] = make(map[string]bool)
	s.wsMu.Unlock()

	socketID := uuid.New().String()
	established := fmt.Sprintf(`{"event":"pusher:connection_established","data":"{\"socket_id\":\"%s\"}"}`, socketID)
	s.writeFrame(conn, []byte(established))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.wsMu.Lock()
			delete(s.wsConnections, conn)
			s.wsMu.Unlock()
			conn.Close()

			return
		}

		var frame struct {
			Event string `json:"event"`
			Data  struct {
				Channel string `json:"channel"`
			} `json:"data"`
		}

		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}

		switch frame.Event {
		case "pusher:subscribe":
			s.wsMu.Lock()
			if channels, ok := s.wsConnections[conn]; ok {
				channels[frame.Data.Channel] = true
			}
			s.wsMu.Unlock()

			ack := fmt.Sprintf(`{"event":"pusher_internal:subscription_succeeded","channel":"%s","data":"{}"}`, frame.Data.Channel)
			s.writeFrame(conn, []byte(ack))

		case "pusher:ping":
			s.writeFrame(conn, []byte(`{"event":"pusher:pong","data":"{}"}`))
		}
	}
}

// broadcast sends an event frame to every connection subscribed to channel.
// The payload is embedded as a JSON-encoded string, matching the feed's wire
// format for data events.
func (s *MockBitstampServer) broadcast(channel, eventName, payload string) {
	encodedPayload, _ := json.Marshal(payload)
	frame := fmt.Sprintf(`{"event":"%s","channel":"%s","data":%s}`, eventName, channel, encodedPayload)

	s.wsMu.Lock()
	defer s.wsMu.Unlock()

	for conn, channels := range s.wsConnections {
		if channels[channel] {
			conn.WriteMessage(websocket.TextMessage, []byte(frame))
		}
	}
}

func (s *MockBitstampServer) writeFrame(conn *websocket.Conn, frame []byte) {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()

	conn.WriteMessage(websocket.TextMessage, frame)
}

// REST API Handlers

// handleBalance handles POST /api/balance/
func (s *MockBitstampServer) handleBalance(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	writeJSON(w, map[string]string{
		"usd_available": strconv.FormatFloat(s.usdAvailable, 'f', 2, 64),
		"btc_available": strconv.FormatFloat(s.btcAvailable, 'f', 8, 64),
	})
}

// handleOpenOrders handles POST /api/open_orders/
func (s *MockBitstampServer) handleOpenOrders(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	response := make([]map[string]any, 0, len(s.orders))
	for _, order := range s.orders {
		response = append(response, wireOrder(order))
	}

	writeJSON(w, response)
}

// handleCancelOrder handles POST /api/cancel_order/
func (s *MockBitstampServer) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}

	orderID, err := strconv.ParseInt(r.PostFormValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, map[string]string{"error": "Invalid order id."})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[orderID]; !ok {
		writeJSON(w, map[string]string{"error": "Order not found."})
		return
	}

	delete(s.orders, orderID)
	writeJSON(w, true)
}

// handleBuy handles POST /api/buy/
func (s *MockBitstampServer) handleBuy(w http.ResponseWriter, r *http.Request) {
	s.handlePlaceOrder(w, r, 0)
}

// handleSell handles POST /api/sell/
func (s *MockBitstampServer) handleSell(w http.ResponseWriter, r *http.Request) {
	s.handlePlaceOrder(w, r, 1)
}

func (s *MockBitstampServer) handlePlaceOrder(w http.ResponseWriter, r *http.Request, side int) {
	if !s.authorize(w, r) {
		return
	}

	price, priceErr := strconv.ParseFloat(r.PostFormValue("price"), 64)
	amount, amountErr := strconv.ParseFloat(r.PostFormValue("amount"), 64)

	if priceErr != nil || amountErr != nil || price <= 0 || amount <= 0 {
		writeJSON(w, map[string]string{"error": "Invalid order parameters."})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.orderIDSeq++
	order := &Order{
		ID:       s.orderIDSeq,
		Side:     side,
		Price:    price,
		Amount:   amount,
		DateTime: time.Now().UTC(),
	}
	s.orders[order.ID] = order

	writeJSON(w, wireOrder(order))
}

// authorize validates the request signature against the configured
// credentials. On failure it writes the exchange's error response and
// returns false.
func (s *MockBitstampServer) authorize(w http.ResponseWriter, r *http.Request) bool {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, map[string]string{"error": "Invalid request."})
		return false
	}

	key := r.PostFormValue("key")
	nonce := r.PostFormValue("nonce")
	signature := r.PostFormValue("signature")

	if key != s.config.ApiKey {
		writeJSON(w, map[string]string{"error": "API key not found"})
		return false
	}

	mac := hmac.New(sha256.New, []byte(s.config.SecretKey))
	mac.Write([]byte(nonce + s.config.ClientID + s.config.ApiKey))
	expected := strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))

	if signature != expected {
		writeJSON(w, map[string]string{"error": "Invalid signature"})
		return false
	}

	return true
}

func wireOrder(order *Order) map[string]any {
	return map[string]any{
		"id":       order.ID,
		"datetime": order.DateTime.Format("2006-01-02 15:04:05"),
		"type":     strconv.Itoa(order.Side),
		"price":    strconv.FormatFloat(order.Price, 'f', 2, 64),
		"amount":   strconv.FormatFloat(order.Amount, 'f', 8, 64),
	}
}

func formatLevels(levels [][2]float64) [][]string {
	formatted := make([][]string, 0, len(levels))
	for _, level := range levels {
		formatted = append(formatted, []string{
			strconv.FormatFloat(level[0], 'f', 2, 64),
			strconv.FormatFloat(level[1], 'f', 8, 64),
		})
	}

	return formatted
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

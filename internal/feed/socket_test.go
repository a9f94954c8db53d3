package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"

	"github.com/rxtech-lab/bitstamp-trading/internal/types"
	"github.com/rxtech-lab/bitstamp-trading/pkg/errors"
)

// recordingHandler captures every callback for later assertions.
type recordingHandler struct {
	mu sync.Mutex

	opened       bool
	established  bool
	disconnected bool
	closedCode   int
	closedReason string

	subscribed []string
	subErrors  []string
	errs       []string
	unknown    []string
	trades     []types.Trade
	updates    []types.OrderBookUpdate
}

func (r *recordingHandler) OnOpened() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened = true
}

func (r *recordingHandler) OnClosed(code int, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closedCode = code
	r.closedReason = reason
}

func (r *recordingHandler) OnConnectionEstablished() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.established = true
}

func (r *recordingHandler) OnSubscriptionSucceeded(channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribed = append(r.subscribed, channel)
}

func (r *recordingHandler) OnSubscriptionError(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subErrors = append(r.subErrors, event)
}

func (r *recordingHandler) OnError(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, event)
}

func (r *recordingHandler) OnUnknownEvent(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unknown = append(r.unknown, event)
}

func (r *recordingHandler) OnTrade(trade types.Trade) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, trade)
}

func (r *recordingHandler) OnOrderBookUpdate(update types.OrderBookUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
}

func (r *recordingHandler) OnDisconnectionDetected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected = true
}

func (r *recordingHandler) snapshot() recordingHandler {
	r.mu.Lock()
	defer r.mu.Unlock()

	return recordingHandler{
		opened:       r.opened,
		established:  r.established,
		disconnected: r.disconnected,
		closedCode:   r.closedCode,
		closedReason: r.closedReason,
		subscribed:   append([]string(nil), r.subscribed...),
		subErrors:    append([]string(nil), r.subErrors...),
		errs:         append([]string(nil), r.errs...),
		unknown:      append([]string(nil), r.unknown...),
		trades:       append([]types.Trade(nil), r.trades...),
		updates:      append([]types.OrderBookUpdate(nil), r.updates...),
	}
}

// testFeedServer is a minimal in-process feed endpoint: it acknowledges the
// session on connect and acknowledges subscriptions.
type testFeedServer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	writeMu sync.Mutex
	conns   []*websocket.Conn
}

func (s *testFeedServer) write(conn *websocket.Conn, frame string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

func newTestFeedServer() *testFeedServer {
	s := &testFeedServer{}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))

	return s
}

func (s *testFeedServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	s.write(conn, `{"event":"pusher:connection_established","data":"{\"socket_id\":\"1.1\"}"}`)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame struct {
			Event string `json:"event"`
			Data  struct {
				Channel string `json:"channel"`
			} `json:"data"`
		}

		if json.Unmarshal(data, &frame) == nil && frame.Event == "pusher:subscribe" {
			s.write(conn, `{"event":"pusher_internal:subscription_succeeded","channel":"`+frame.Data.Channel+`","data":"{}"}`)
		}
	}
}

func (s *testFeedServer) url() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

func (s *testFeedServer) send(frame string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, conn := range s.conns {
		s.write(conn, frame)
	}
}

func (s *testFeedServer) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, conn := range s.conns {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "going away"),
			time.Now().Add(time.Second),
		)
		conn.Close()
	}

	s.conns = nil
}

func (s *testFeedServer) shutdown() {
	s.closeClients()
	s.server.Close()
}

type SocketTestSuite struct {
	suite.Suite
}

func TestSocketSuite(t *testing.T) {
	suite.Run(t, new(SocketTestSuite))
}

func (suite *SocketTestSuite) eventually(condition func() bool, msg string) {
	suite.Require().Eventually(condition, 5*time.Second, 10*time.Millisecond, msg)
}

func (suite *SocketTestSuite) startClient(server *testFeedServer) (*SocketClient, *recordingHandler, chan struct{}) {
	client := NewSocketClient(server.url(), 5*time.Second, nil)
	suite.Require().NoError(client.Connect(context.Background()))

	handler := &recordingHandler{}
	done := make(chan struct{})

	go func() {
		defer close(done)
		client.Run(handler)
	}()

	suite.eventually(func() bool { return handler.snapshot().established }, "session never established")

	return client, handler, done
}

func (suite *SocketTestSuite) TestConnectFailure() {
	client := NewSocketClient("ws://127.0.0.1:1/app/test", 200*time.Millisecond, nil)

	err := client.Connect(context.Background())
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeConnectionFailed))
}

func (suite *SocketTestSuite) TestSessionHandshakeAndSubscription() {
	server := newTestFeedServer()
	defer server.shutdown()

	client, handler, done := suite.startClient(server)

	suite.NoError(client.Subscribe(ChannelLiveTrades))
	suite.eventually(func() bool {
		snap := handler.snapshot()
		return len(snap.subscribed) == 1 && snap.subscribed[0] == ChannelLiveTrades
	}, "subscription never acknowledged")

	suite.True(handler.snapshot().opened)

	client.Close()
	<-done
}

func (suite *SocketTestSuite) TestTradeAndOrderBookFrames() {
	server := newTestFeedServer()
	defer server.shutdown()

	client, handler, done := suite.startClient(server)

	server.send(`{"event":"trade","channel":"live_trades","data":"{\"id\":184127273,\"price\":583.17,\"amount\":0.05}"}`)
	server.send(`{"event":"data","channel":"order_book","data":"{\"bids\":[[\"582.50\",\"1.25\"]],\"asks\":[[\"583.00\",\"0.50\"]]}"}`)

	suite.eventually(func() bool {
		snap := handler.snapshot()
		return len(snap.trades) == 1 && len(snap.updates) == 1
	}, "data frames never delivered")

	snap := handler.snapshot()
	suite.Equal(int64(184127273), snap.trades[0].ID)
	suite.Equal(583.17, snap.trades[0].Price)
	suite.Equal(582.50, snap.updates[0].Bids[0].Price)

	client.Close()
	<-done
}

func (suite *SocketTestSuite) TestErrorAndUnknownFrames() {
	server := newTestFeedServer()
	defer server.shutdown()

	client, handler, done := suite.startClient(server)

	server.send(`{"event":"pusher:error","data":{"message":"over quota","code":4100}}`)
	server.send(`{"event":"order_deleted","channel":"live_orders","data":"{}"}`)
	server.send(`{"event":"trade","channel":"live_trades","data":"{\"id\":"}`)

	suite.eventually(func() bool {
		snap := handler.snapshot()
		return len(snap.errs) == 2 && len(snap.unknown) == 1
	}, "error and unknown frames never reported")

	suite.Equal("order_deleted", handler.snapshot().unknown[0])

	client.Close()
	<-done
}

func (suite *SocketTestSuite) TestServerCloseIsDetectedAsDisconnection() {
	server := newTestFeedServer()
	defer server.shutdown()

	_, handler, done := suite.startClient(server)

	server.closeClients()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		suite.FailNow("receive loop did not exit after server close")
	}

	snap := handler.snapshot()
	suite.True(snap.disconnected, "remote close must funnel into disconnection detection")
	suite.Equal(websocket.CloseGoingAway, snap.closedCode)
	suite.Equal("going away", snap.closedReason)
}

func (suite *SocketTestSuite) TestLocalCloseIsNotADisconnection() {
	server := newTestFeedServer()
	defer server.shutdown()

	client, handler, done := suite.startClient(server)

	suite.NoError(client.Close())

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		suite.FailNow("receive loop did not exit after local close")
	}

	suite.False(handler.snapshot().disconnected)

	// Close is idempotent.
	suite.NoError(client.Close())
}

func (suite *SocketTestSuite) TestFramePayloadUnwrapping() {
	// Double-encoded payload.
	payload, err := framePayload(json.RawMessage(`"{\"id\":1}"`))
	suite.NoError(err)
	suite.JSONEq(`{"id":1}`, string(payload))

	// Plain object payload.
	payload, err = framePayload(json.RawMessage(`{"id":1}`))
	suite.NoError(err)
	suite.JSONEq(`{"id":1}`, string(payload))

	// Empty payload.
	_, err = framePayload(nil)
	suite.Error(err)
}

package apiserver

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twamm-labs/twamm/backend/internal/indexer"
)

type receivedEnvelope struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func readEnvelope(t *testing.T, conn *websocket.Conn) receivedEnvelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var out receivedEnvelope
	require.NoError(t, conn.ReadJSON(&out))
	return out
}

func TestWebsocketSubscribePushesSnapshots(t *testing.T) {
	store := &fakeStore{price: &indexer.MarketPriceRecord{Market: "SOLUSDC", Price: 150}}
	svc := newTestService(store, &fakeChain{}, &fakeBuilder{})
	server := httptest.NewServer(svc.Handler())
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	channel := "market.price.sol/usdc"
	require.NoError(t, conn.WriteJSON(websocketSubscribeRequest{Type: "subscribe", Channel: channel}))
	ack := readEnvelope(t, conn)
	assert.Equal(t, "subscribed", ack.Type)
	assert.Equal(t, channel, ack.Channel)

	event := readEnvelope(t, conn)
	require.Equal(t, "event", event.Type)
	var price indexer.MarketPriceRecord
	require.NoError(t, json.Unmarshal(event.Data, &price))
	assert.Equal(t, 150.0, price.Price)

	store.mu.Lock()
	store.price = &indexer.MarketPriceRecord{Market: "SOLUSDC", Price: 152}
	store.mu.Unlock()
	event = readEnvelope(t, conn)
	require.Equal(t, "event", event.Type, "changed payloads are pushed on the next tick")
	require.NoError(t, json.Unmarshal(event.Data, &price))
	assert.Equal(t, 152.0, price.Price)

	require.NoError(t, conn.WriteJSON(websocketSubscribeRequest{Type: "subscribe", Channel: "orders.not-a-key"}))
	rejected := readEnvelope(t, conn)
	assert.Equal(t, "error", rejected.Type)
	assert.Contains(t, rejected.Error, "unknown channel")

	require.NoError(t, conn.WriteJSON(websocketSubscribeRequest{Type: "unsubscribe", Channel: channel}))
	assert.Equal(t, "unsubscribed", readEnvelope(t, conn).Type)
}

func TestParseChannel(t *testing.T) {
	owner := newKey()
	tests := []struct {
		channel    string
		wantPrefix string
		wantKey    string
		wantErr    bool
	}{
		{"market.price.sol-usdc", channelMarketPrice, "SOLUSDC", false},
		{"market.price.", "", "", true},
		{"orders." + owner.String(), channelOrders, owner.String(), false},
		{"pools." + owner.String(), channelPools, owner.String(), false},
		{"pools.xyz", "", "", true},
		{"agent.signals", "", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.channel, func(t *testing.T) {
			prefix, key, err := parseChannel(tc.channel)
			if tc.wantErr {
				assert.ErrorIs(t, err, errUnknownChannel)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantPrefix, prefix)
			assert.Equal(t, tc.wantKey, key)
		})
	}
}

func TestSubscriptionSetChanged(t *testing.T) {
	subs := newSubscriptionSet()
	assert.False(t, subs.Changed("pools.a", []byte(`1`)), "unsubscribed")

	subs.Add("pools.b")
	subs.Add("pools.a")
	assert.Equal(t, []string{"pools.a", "pools.b"}, subs.List())
	assert.True(t, subs.Changed("pools.a", []byte(`1`)))
	assert.False(t, subs.Changed("pools.a", []byte(`1`)))
	assert.True(t, subs.Changed("pools.a", []byte(`2`)))

	subs.Add("pools.a")
	assert.False(t, subs.Changed("pools.a", []byte(`2`)), "re-subscribing keeps the last payload")

	subs.Remove("pools.a")
	assert.Equal(t, []string{"pools.b"}, subs.List())
}

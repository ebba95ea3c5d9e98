package apiserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/websocket"
	"github.com/twamm-labs/twamm/backend/internal/indexer"
)

const (
	channelMarketPrice = "market.price."
	channelPools       = "pools."
	channelOrders      = "orders."

	websocketReadTimeout  = 90 * time.Second
	websocketWriteTimeout = 10 * time.Second
	websocketPingInterval = 30 * time.Second
)

var errUnknownChannel = errors.New("unknown channel")

type websocketSubscribeRequest struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

type websocketEnvelope struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	TS      int64  `json:"ts"`
}

var websocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// handleWebsocket owns every write to the connection. The read loop only
// forwards subscribe and unsubscribe requests.
func (s *Service) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	upgrader := websocketUpgrader
	upgrader.CheckOrigin = func(req *http.Request) bool {
		return s.isOriginAllowed(strings.TrimSpace(req.Header.Get("Origin")))
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.requestLogger(r).Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	logger := s.requestLogger(r)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	requests := make(chan websocketSubscribeRequest)
	readErrCh := make(chan error, 1)
	go websocketReadLoop(ctx, conn, requests, readErrCh)

	subs := newSubscriptionSet()
	pushTicker := time.NewTicker(s.cfg.PushInterval)
	defer pushTicker.Stop()
	pingTicker := time.NewTicker(websocketPingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-readErrCh:
			if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("websocket read loop ended", "err", err)
			}
			return
		case req := <-requests:
			if err := s.handleSubscription(ctx, conn, subs, req); err != nil {
				return
			}
		case <-pushTicker.C:
			for _, channel := range subs.List() {
				if err := s.pushChannel(ctx, conn, subs, channel); err != nil {
					return
				}
			}
		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(websocketWriteTimeout)); err != nil {
				return
			}
		}
	}
}

// handleSubscription acknowledges a request and pushes the first snapshot of a
// new channel right away. Only write failures are returned.
func (s *Service) handleSubscription(ctx context.Context, conn *websocket.Conn, subs *subscriptionSet, req websocketSubscribeRequest) error {
	now := time.Now().Unix()
	switch req.Type {
	case "subscribe":
		if _, _, err := parseChannel(req.Channel); err != nil {
			return writeWebsocketJSON(conn, websocketEnvelope{Type: "error", Channel: req.Channel, Error: err.Error(), TS: now})
		}
		subs.Add(req.Channel)
		if err := writeWebsocketJSON(conn, websocketEnvelope{Type: "subscribed", Channel: req.Channel, TS: now}); err != nil {
			return err
		}
		return s.pushChannel(ctx, conn, subs, req.Channel)
	case "unsubscribe":
		subs.Remove(req.Channel)
		return writeWebsocketJSON(conn, websocketEnvelope{Type: "unsubscribed", Channel: req.Channel, TS: now})
	default:
		return writeWebsocketJSON(conn, websocketEnvelope{Type: "error", Error: fmt.Sprintf("unknown message type %q", req.Type), TS: now})
	}
}

// pushChannel sends the channel's payload when it differs from the last one
// sent on this connection.
func (s *Service) pushChannel(ctx context.Context, conn *websocket.Conn, subs *subscriptionSet, channel string) error {
	payload, err := s.getWebsocketPayload(ctx, channel)
	if err != nil {
		s.logger.Warn("websocket channel fetch failed", "channel", channel, "err", err)
		return writeWebsocketJSON(conn, websocketEnvelope{Type: "error", Channel: channel, Error: "failed to fetch channel data", TS: time.Now().Unix()})
	}
	if payload == nil {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", channel, err)
	}
	if !subs.Changed(channel, raw) {
		return nil
	}
	return writeWebsocketJSON(conn, websocketEnvelope{Type: "event", Channel: channel, Data: json.RawMessage(raw), TS: time.Now().Unix()})
}

func websocketReadLoop(ctx context.Context, conn *websocket.Conn, requests chan<- websocketSubscribeRequest, readErrCh chan<- error) {
	conn.SetReadLimit(1024 * 1024)
	if err := conn.SetReadDeadline(time.Now().Add(websocketReadTimeout)); err == nil {
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(websocketReadTimeout))
		})
	}
	for {
		var message websocketSubscribeRequest
		if err := conn.ReadJSON(&message); err != nil {
			readErrCh <- err
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(websocketReadTimeout))
		message.Type = strings.ToLower(strings.TrimSpace(message.Type))
		message.Channel = strings.TrimSpace(message.Channel)
		if message.Channel == "" {
			continue
		}
		select {
		case requests <- message:
		case <-ctx.Done():
			return
		}
	}
}

// parseChannel splits a channel name into its prefix and key. Market keys are
// normalized symbols; pool and order keys must be public keys.
func parseChannel(channel string) (string, string, error) {
	for _, prefix := range []string{channelMarketPrice, channelPools, channelOrders} {
		key, ok := strings.CutPrefix(channel, prefix)
		if !ok {
			continue
		}
		if prefix == channelMarketPrice {
			market := indexer.NormalizeMarketSymbol(key)
			if market == "" {
				return "", "", fmt.Errorf("%w: %s", errUnknownChannel, channel)
			}
			return prefix, market, nil
		}
		pubkey, err := solana.PublicKeyFromBase58(strings.TrimSpace(key))
		if err != nil {
			return "", "", fmt.Errorf("%w: %s", errUnknownChannel, channel)
		}
		return prefix, pubkey.String(), nil
	}
	return "", "", fmt.Errorf("%w: %s", errUnknownChannel, channel)
}

func (s *Service) getWebsocketPayload(ctx context.Context, channel string) (any, error) {
	prefix, key, err := parseChannel(channel)
	if err != nil {
		return nil, err
	}
	switch prefix {
	case channelMarketPrice:
		price, err := s.store.GetLatestMarketPrice(ctx, key)
		if errors.Is(err, indexer.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return price, nil
	case channelPools:
		pools, _, _, err := s.store.ListPools(ctx, indexer.PoolFilter{TokenPair: key})
		if err != nil {
			return nil, err
		}
		return map[string]any{"token_pair": key, "pools": pools}, nil
	default:
		orders, _, _, err := s.store.ListOrders(ctx, indexer.OrderFilter{Owner: key})
		if err != nil {
			return nil, err
		}
		return map[string]any{"owner": key, "orders": orders}, nil
	}
}

func writeWebsocketJSON(conn *websocket.Conn, payload websocketEnvelope) error {
	if err := conn.SetWriteDeadline(time.Now().Add(websocketWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(payload)
}

// subscriptionSet is owned by one connection's write loop and remembers the
// last payload sent per channel.
type subscriptionSet struct {
	items map[string][]byte
}

func newSubscriptionSet() *subscriptionSet {
	return &subscriptionSet{items: map[string][]byte{}}
}

func (s *subscriptionSet) Add(channel string) {
	if _, ok := s.items[channel]; !ok {
		s.items[channel] = nil
	}
}

func (s *subscriptionSet) Remove(channel string) {
	delete(s.items, channel)
}

func (s *subscriptionSet) List() []string {
	out := make([]string, 0, len(s.items))
	for channel := range s.items {
		out = append(out, channel)
	}
	slices.Sort(out)
	return out
}

// Changed records payload as the channel's latest and reports whether it
// differs from the previous one. Unsubscribed channels never change.
func (s *subscriptionSet) Changed(channel string, payload []byte) bool {
	last, ok := s.items[channel]
	if !ok || bytes.Equal(last, payload) {
		return false
	}
	s.items[channel] = payload
	return true
}

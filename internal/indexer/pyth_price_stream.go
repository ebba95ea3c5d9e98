package indexer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/twamm-labs/twamm/backend/internal/config"
)

const pythPriceSource = "pyth"

type pythStreamEnvelope struct {
	Parsed []pythPriceUpdate `json:"parsed"`
}

type pythPriceUpdate struct {
	ID       string            `json:"id"`
	Price    pythPriceSnapshot `json:"price"`
	Metadata pythMetadata      `json:"metadata"`
}

type pythPriceSnapshot struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

type pythMetadata struct {
	Slot int64 `json:"slot"`
}

type tickWriter interface {
	InsertMarketPriceTick(ctx context.Context, input MarketPriceTickInput) (bool, error)
}

// pythStream follows a Hermes SSE endpoint for every configured feed and
// stores each parsed price as a market tick.
type pythStream struct {
	endpoint  string
	markets   map[string]string // feed id -> market
	reconnect time.Duration
	client    *http.Client
	ticks     tickWriter
	logger    *slog.Logger
}

func newPythStream(endpoint string, feeds []config.PythFeed, reconnect time.Duration, ticks tickWriter, logger *slog.Logger) *pythStream {
	markets := make(map[string]string, len(feeds))
	for _, feed := range feeds {
		id := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(feed.FeedID), "0x"))
		if id == "" {
			continue
		}
		markets[id] = normalizeMarketWithDefault(feed.Market)
	}
	if reconnect <= 0 {
		reconnect = 3 * time.Second
	}
	return &pythStream{
		endpoint:  strings.TrimSpace(endpoint),
		markets:   markets,
		reconnect: reconnect,
		client:    &http.Client{},
		ticks:     ticks,
		logger:    logger,
	}
}

func (p *pythStream) feedIDs() []string {
	ids := make([]string, 0, len(p.markets))
	for id := range p.markets {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (p *pythStream) run(ctx context.Context) {
	if p.endpoint == "" || len(p.markets) == 0 {
		p.logger.Warn("pyth price stream disabled due to missing endpoint or feeds")
		return
	}

	p.logger.Info("pyth price stream enabled",
		"endpoint", p.endpoint,
		"feeds", len(p.markets),
		"reconnect_delay", p.reconnect.String(),
	)

	for {
		if ctx.Err() != nil {
			return
		}
		err := p.consume(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Warn("pyth price stream disconnected", "err", err, "retry_in", p.reconnect.String())
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.reconnect):
		}
	}
}

// consume reads one SSE connection until it ends. It always returns an
// error; io.EOF means the server closed the stream.
func (p *pythStream) consume(ctx context.Context) error {
	streamURL, err := buildPythStreamURL(p.endpoint, p.feedIDs())
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return fmt.Errorf("build pyth stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("open pyth stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("open pyth stream: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 1024), 64*1024*1024)

	var data strings.Builder
	flush := func() {
		if data.Len() == 0 {
			return
		}
		if err := p.handleEvent(ctx, data.String()); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Warn("failed to process pyth stream event", "err", err)
		}
		data.Reset()
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			flush()
			continue
		}
		payload, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		payload = strings.TrimSpace(payload)
		if payload == "" {
			continue
		}
		if data.Len() > 0 {
			data.WriteByte('\n')
		}
		data.WriteString(payload)
	}
	flush()

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read pyth stream: %w", err)
	}
	return io.EOF
}

// handleEvent stores the updates of one SSE event that belong to a
// configured feed.
func (p *pythStream) handleEvent(ctx context.Context, raw string) error {
	payload := strings.TrimSpace(raw)
	if payload == "" || payload == "[DONE]" {
		return nil
	}

	var event pythStreamEnvelope
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return fmt.Errorf("decode pyth stream event: %w", err)
	}

	now := time.Now().Unix()
	for _, update := range event.Parsed {
		id := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(update.ID), "0x"))
		market, ok := p.markets[id]
		if !ok {
			continue
		}

		price, err := decodePythPrice(update.Price.Price, update.Price.Expo)
		if err != nil || price <= 0 {
			continue
		}
		conf, err := decodePythPrice(update.Price.Conf, update.Price.Expo)
		if err != nil {
			conf = 0
		}
		publishTime := update.Price.PublishTime
		if publishTime <= 0 {
			publishTime = now
		}
		rawUpdate, err := json.Marshal(update)
		if err != nil {
			rawUpdate = []byte("{}")
		}

		if _, err := p.ticks.InsertMarketPriceTick(ctx, MarketPriceTickInput{
			Market:      market,
			Source:      pythPriceSource,
			FeedID:      id,
			Slot:        update.Metadata.Slot,
			PublishTime: publishTime,
			Price:       price,
			Conf:        conf,
			Expo:        update.Price.Expo,
			ReceivedAt:  now,
			RawJSON:     string(rawUpdate),
		}); err != nil {
			return fmt.Errorf("store pyth tick for %s: %w", market, err)
		}
	}
	return nil
}

func buildPythStreamURL(endpoint string, feedIDs []string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return "", fmt.Errorf("parse pyth endpoint: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("invalid pyth endpoint: %q", endpoint)
	}

	query := parsed.Query()
	query.Del("ids[]")
	for _, id := range feedIDs {
		query.Add("ids[]", id)
	}
	if strings.TrimSpace(query.Get("parsed")) == "" {
		query.Set("parsed", "true")
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func decodePythPrice(raw string, expo int32) (float64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, errors.New("empty price")
	}
	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, err
	}
	return value * math.Pow10(int(expo)), nil
}

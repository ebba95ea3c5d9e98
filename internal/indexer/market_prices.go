package indexer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// DefaultMarket is used when a price query names no market.
const DefaultMarket = "SOLUSDC"

const (
	defaultCandleLimit = 120
	maxCandleLimit     = 2000
)

type MarketPriceTickInput struct {
	Market      string
	Source      string
	FeedID      string
	Slot        int64
	PublishTime int64
	Price       float64
	Conf        float64
	Expo        int32
	ReceivedAt  int64
	RawJSON     string
}

// normalize fills defaults and rejects ticks that cannot be charted.
func (in MarketPriceTickInput) normalize(now int64) (MarketPriceTickInput, error) {
	in.Market = normalizeMarketWithDefault(in.Market)
	in.FeedID = strings.ToLower(strings.TrimSpace(in.FeedID))
	if in.FeedID == "" {
		return in, errors.New("feed id is required")
	}
	if in.Price <= 0 || math.IsNaN(in.Price) || math.IsInf(in.Price, 0) {
		return in, fmt.Errorf("price %v is not positive", in.Price)
	}
	if in.Source = strings.TrimSpace(in.Source); in.Source == "" {
		in.Source = pythPriceSource
	}
	if in.PublishTime <= 0 {
		in.PublishTime = now
	}
	if in.ReceivedAt <= 0 {
		in.ReceivedAt = now
	}
	if in.RawJSON = strings.TrimSpace(in.RawJSON); in.RawJSON == "" {
		in.RawJSON = "{}"
	}
	return in, nil
}

type MarketPriceRecord struct {
	Market      string  `json:"market"`
	Source      string  `json:"source"`
	FeedID      string  `json:"feed_id"`
	Slot        int64   `json:"slot"`
	PublishTime int64   `json:"publish_time"`
	Price       float64 `json:"price"`
	Conf        float64 `json:"conf"`
	Expo        int32   `json:"expo"`
	ReceivedAt  int64   `json:"received_at"`
}

type CandleRecord struct {
	TS     int64   `json:"ts"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// priceTick is the part of a stored tick that candles are built from.
type priceTick struct {
	PublishTime int64
	Price       float64
}

// NormalizeMarketSymbol upper-cases raw and keeps only letters and digits,
// so "sol/usdc" and "SOL-USDC" both become "SOLUSDC".
func NormalizeMarketSymbol(raw string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		default:
			return -1
		}
	}, raw)
}

func normalizeMarketWithDefault(raw string) string {
	if market := NormalizeMarketSymbol(raw); market != "" {
		return market
	}
	return DefaultMarket
}

// InsertMarketPriceTick stores one tick and reports whether it was new. A
// repeat of the same market, source, publish time and slot is ignored.
func (s *Store) InsertMarketPriceTick(ctx context.Context, input MarketPriceTickInput) (bool, error) {
	tick, err := input.normalize(time.Now().Unix())
	if err != nil {
		return false, err
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO market_price_ticks (
			market, source, feed_id, slot, publish_time, price, conf, expo, received_at, raw_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (market, source, publish_time, slot) DO NOTHING
	`, tick.Market, tick.Source, tick.FeedID, tick.Slot, tick.PublishTime,
		tick.Price, tick.Conf, int64(tick.Expo), tick.ReceivedAt, tick.RawJSON)
	if err != nil {
		return false, fmt.Errorf("insert %s tick: %w", tick.Market, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		// The insert itself succeeded; only the count is unknown.
		return false, nil
	}
	return affected > 0, nil
}

func (s *Store) GetLatestMarketPrice(ctx context.Context, market string) (MarketPriceRecord, error) {
	var (
		item MarketPriceRecord
		expo int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT market, source, feed_id, slot, publish_time, price, conf, expo, received_at
		FROM market_price_ticks
		WHERE market = ?
		ORDER BY publish_time DESC, slot DESC, id DESC
		LIMIT 1
	`, normalizeMarketWithDefault(market)).Scan(
		&item.Market, &item.Source, &item.FeedID, &item.Slot, &item.PublishTime,
		&item.Price, &item.Conf, &expo, &item.ReceivedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return MarketPriceRecord{}, ErrNotFound
	}
	if err != nil {
		return MarketPriceRecord{}, fmt.Errorf("latest %s price: %w", market, err)
	}
	item.Expo = int32(expo)
	item.Price = round6(item.Price)
	item.Conf = round6(item.Conf)
	return item, nil
}

// GetMarketCandles returns up to limit intervalSec candles ending at the
// current bucket, oldest first. Volume is the tick count of the bucket.
func (s *Store) GetMarketCandles(ctx context.Context, market string, intervalSec int64, limit int) ([]CandleRecord, error) {
	if intervalSec <= 0 {
		intervalSec = 60
	}
	limit = min(max(limit, 0), maxCandleLimit)
	if limit == 0 {
		limit = defaultCandleLimit
	}
	now := time.Now().Unix()
	from := (now/intervalSec - int64(limit) + 1) * intervalSec

	rows, err := s.db.QueryContext(ctx, `
		SELECT publish_time, price
		FROM market_price_ticks
		WHERE market = ? AND publish_time >= ?
		ORDER BY publish_time ASC, slot ASC, id ASC
	`, normalizeMarketWithDefault(market), from)
	if err != nil {
		return nil, fmt.Errorf("load %s ticks: %w", market, err)
	}
	defer rows.Close()

	var ticks []priceTick
	for rows.Next() {
		var tick priceTick
		if err := rows.Scan(&tick.PublishTime, &tick.Price); err != nil {
			return nil, err
		}
		ticks = append(ticks, tick)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return buildCandles(ticks, intervalSec, limit), nil
}

// buildCandles folds ticks, sorted by time, into buckets of intervalSec and
// keeps the newest limit buckets. Buckets without ticks are omitted.
func buildCandles(ticks []priceTick, intervalSec int64, limit int) []CandleRecord {
	candles := make([]CandleRecord, 0, min(len(ticks), limit))
	for _, tick := range ticks {
		bucket := tick.PublishTime - tick.PublishTime%intervalSec
		if n := len(candles); n > 0 && candles[n-1].TS == bucket {
			last := &candles[n-1]
			last.High = math.Max(last.High, tick.Price)
			last.Low = math.Min(last.Low, tick.Price)
			last.Close = tick.Price
			last.Volume++
			continue
		}
		candles = append(candles, CandleRecord{
			TS:     bucket,
			Open:   tick.Price,
			High:   tick.Price,
			Low:    tick.Price,
			Close:  tick.Price,
			Volume: 1,
		})
	}
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	for i := range candles {
		c := &candles[i]
		c.Open, c.High, c.Low, c.Close = round6(c.Open), round6(c.High), round6(c.Low), round6(c.Close)
	}
	return candles
}

// ParseTimeframe maps a chart timeframe to its canonical name and bucket
// width in seconds.
func ParseTimeframe(raw string) (string, int64, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "1m", "1min", "1":
		return "1m", 60, nil
	case "5m", "5min", "5":
		return "5m", 5 * 60, nil
	case "15m", "15min", "15":
		return "15m", 15 * 60, nil
	case "1h", "60m", "60min":
		return "1h", 60 * 60, nil
	case "4h", "240m", "240min":
		return "4h", 4 * 60 * 60, nil
	case "1d", "24h":
		return "1d", 24 * 60 * 60, nil
	default:
		return "", 0, fmt.Errorf("timeframe must be one of 1m, 5m, 15m, 1h, 4h, 1d")
	}
}

func round6(v float64) float64 {
	rounded := math.Round(v*1_000_000) / 1_000_000
	if math.Abs(rounded) < 0.0000005 {
		return 0
	}
	return rounded
}

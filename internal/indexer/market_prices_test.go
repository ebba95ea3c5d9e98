package indexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCandles(t *testing.T) {
	ticks := []priceTick{
		{PublishTime: 120, Price: 10},
		{PublishTime: 130, Price: 12},
		{PublishTime: 150, Price: 9},
		{PublishTime: 179, Price: 11},
		{PublishTime: 300, Price: 20.1234567},
	}

	tests := []struct {
		name  string
		limit int
		want  []CandleRecord
	}{
		{
			name:  "gaps are skipped",
			limit: 10,
			want: []CandleRecord{
				{TS: 120, Open: 10, High: 12, Low: 9, Close: 11, Volume: 4},
				{TS: 300, Open: 20.123457, High: 20.123457, Low: 20.123457, Close: 20.123457, Volume: 1},
			},
		},
		{
			name:  "newest buckets are kept",
			limit: 1,
			want: []CandleRecord{
				{TS: 300, Open: 20.123457, High: 20.123457, Low: 20.123457, Close: 20.123457, Volume: 1},
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, buildCandles(ticks, 60, tc.limit))
		})
	}

	assert.Empty(t, buildCandles(nil, 60, 10))
}

func TestTickInputNormalize(t *testing.T) {
	got, err := MarketPriceTickInput{Market: "sol-usdc", FeedID: " ABC ", Price: 1.5}.normalize(1_000)
	require.NoError(t, err)
	assert.Equal(t, MarketPriceTickInput{
		Market:      "SOLUSDC",
		Source:      pythPriceSource,
		FeedID:      "abc",
		PublishTime: 1_000,
		Price:       1.5,
		ReceivedAt:  1_000,
		RawJSON:     "{}",
	}, got)

	_, err = MarketPriceTickInput{Price: 1}.normalize(1_000)
	assert.ErrorContains(t, err, "feed id")

	_, err = MarketPriceTickInput{FeedID: "abc"}.normalize(1_000)
	assert.ErrorContains(t, err, "not positive")
}

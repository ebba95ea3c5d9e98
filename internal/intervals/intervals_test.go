package intervals

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twamm-labs/twamm/backend/internal/anchor/twamm"
)

func TestIndexUsesCurrentPoolExpiration(t *testing.T) {
	pair := &twamm.TokenPair{
		Tifs:               [twamm.TimeInForceSlots]uint32{0, 300, 900, 3600},
		CurrentPoolPresent: [twamm.TimeInForceSlots]bool{false, true, true, false},
	}
	var pools [twamm.TimeInForceSlots]*twamm.Pool
	pools[1] = &twamm.Pool{ExpirationTime: 1_000 + 120}
	pools[2] = &twamm.Pool{ExpirationTime: 900, Status: twamm.PoolStatus_Active}

	got := Index(pair, pools, 1_000)

	assert.Equal(t, []IndexedTIF{
		{Index: 1, Left: 120, TIF: 300},
		{Index: 2, Left: 0, TIF: 900},
		{Index: 3, Left: 3600, TIF: 3600},
	}, got)
}

func TestIndexTreatsExpiredPoolAsZeroLeft(t *testing.T) {
	pair := &twamm.TokenPair{
		Tifs:               [twamm.TimeInForceSlots]uint32{60},
		CurrentPoolPresent: [twamm.TimeInForceSlots]bool{true},
	}
	var pools [twamm.TimeInForceSlots]*twamm.Pool
	pools[0] = &twamm.Pool{ExpirationTime: 5_000, Status: twamm.PoolStatus_Expired}

	assert.Equal(t, []IndexedTIF{{Index: 0, Left: 0, TIF: 60}}, Index(pair, pools, 1_000))
	assert.Nil(t, Index(nil, pools, 0))
}

func TestFormat(t *testing.T) {
	tests := []struct {
		seconds int64
		want    string
	}{
		{seconds: NoDelay, want: "No delay"},
		{seconds: Instant, want: "Instant"},
		{seconds: -5, want: "-"},
		{seconds: 0, want: "0s"},
		{seconds: 45, want: "45s"},
		{seconds: 300, want: "5m"},
		{seconds: 5400, want: "1h 30m"},
		{seconds: 86400 * 7, want: "7d"},
		{seconds: 90061, want: "1d 1h 1m 1s"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.seconds))
		})
	}
}

var sampleTifs = []IndexedTIF{
	{Index: 0, Left: 250, TIF: 300},
	{Index: 1, Left: 40, TIF: 900},
	{Index: 2, Left: 3000, TIF: 3600},
}

func TestSetTifsWithNoDelayOffersLeftValuesAndOptional(t *testing.T) {
	minTTE := 0.1
	state := Reduce(InitialState(), SetTifs{
		IndexedTifs:           sampleTifs,
		MinTimeTillExpiration: &minTTE,
		Optional:              OptionalIntervals{0: {{Index: -1, Left: 0, TIF: Instant}}},
	})

	assert.Equal(t, []int64{250, 40, 3000}, state.TifsLeft)
	assert.Equal(t, []int64{300, 900, 3600}, state.Tifs)
	assert.Equal(t, []int64{Instant, 40, 250, 3000}, state.PeriodTifs)
	assert.Equal(t, []int64{NoDelay, 40, 250, 3000}, state.ScheduleTifs)
	assert.Equal(t, Selection{Schedule: NoDelay}, state.PairSelected)
	assert.Equal(t, 0.1, state.MinTimeTillExpiration)
}

func TestSetTifsWithScheduledSelection(t *testing.T) {
	period := int64(3600)
	start := InitialState()
	start.MinTimeTillExpiration = 0.25

	state := Reduce(start, SetTifs{
		IndexedTifs: sampleTifs,
		Selected:    &Selection{Period: &period, Schedule: 3000},
	})

	assert.Equal(t, []int64{3600}, state.PeriodTifs)
	assert.Equal(t, int64(3000), state.PairSelected.Schedule)
	assert.Equal(t, 0.25, state.MinTimeTillExpiration, "kept when payload omits it")
}

func TestSetTifsUnknownScheduleYieldsNoPeriods(t *testing.T) {
	state := Reduce(InitialState(), SetTifs{
		IndexedTifs: sampleTifs,
		Selected:    &Selection{Schedule: 12345},
	})
	assert.Empty(t, state.PeriodTifs)
}

func TestSetScheduleExcludesAlmostExpiredPools(t *testing.T) {
	minTTE := 0.1
	state := Reduce(InitialState(), SetTifs{IndexedTifs: sampleTifs, MinTimeTillExpiration: &minTTE})

	// 900 * 0.1 = 90 >= 40, so the 900s slot is hidden.
	next := Reduce(state, SetSchedule{TIF: NoDelay})

	assert.Equal(t, []int64{0, 250, 3000}, next.PeriodTifs)
	assert.Equal(t, []int64{NoDelay, 0, 250, 3000}, next.ScheduleTifs)
	assert.Nil(t, next.PairSelected.Period)
	assert.Equal(t, NoDelay, next.PairSelected.Schedule)
	assert.Equal(t, state.TifsLeft, next.TifsLeft)
	assert.Equal(t, state.Tifs, next.Tifs)
	assert.Equal(t, 0.1, next.MinTimeTillExpiration)
}

func TestSetScheduleSelectsMatchingTif(t *testing.T) {
	state := Reduce(InitialState(), SetTifs{IndexedTifs: sampleTifs})

	next := Reduce(state, SetSchedule{TIF: 250})

	require.NotNil(t, next.PairSelected.Period)
	assert.Equal(t, int64(300), *next.PairSelected.Period)
	assert.Equal(t, int64(250), next.PairSelected.Schedule)
	assert.Equal(t, []int64{300}, next.PeriodTifs)
}

func TestSetPeriodKeepsSchedule(t *testing.T) {
	state := Reduce(InitialState(), SetTifs{IndexedTifs: sampleTifs})
	state = Reduce(state, SetSchedule{TIF: 3000})

	next := Reduce(state, SetPeriod{TIF: 900})

	require.NotNil(t, next.PairSelected.Period)
	assert.Equal(t, int64(900), *next.PairSelected.Period)
	assert.Equal(t, int64(3000), next.PairSelected.Schedule)
	assert.Equal(t, state.PeriodTifs, next.PeriodTifs)
}

func TestReduceIgnoresNilAction(t *testing.T) {
	state := InitialState()
	assert.Equal(t, state, Reduce(state, nil))
}

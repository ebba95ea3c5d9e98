// Package intervals derives time-in-force choices for order entry.
package intervals

import (
	"fmt"
	"strings"

	"github.com/twamm-labs/twamm/backend/internal/anchor/twamm"
)

const (
	// NoDelay schedules an order into the currently running pool.
	NoDelay int64 = -1
	// Instant routes an order immediately instead of through a pool.
	Instant int64 = -2
)

// IndexedTIF is a configured time-in-force slot and the seconds left until
// its current pool expires.
type IndexedTIF struct {
	Index int   `json:"index"`
	Left  int64 `json:"left"`
	TIF   int64 `json:"tif"`
}

// OptionalIntervals holds extra choices keyed by slot; key 0 is offered
// alongside NoDelay.
type OptionalIntervals map[int][]IndexedTIF

// Index lists the pair's non-empty slots. currentPools is aligned with the
// pair's slots and may hold nil where no current pool exists; such slots
// report their full time in force as left.
func Index(pair *twamm.TokenPair, currentPools [twamm.TimeInForceSlots]*twamm.Pool, now int64) []IndexedTIF {
	if pair == nil {
		return nil
	}
	out := make([]IndexedTIF, 0, twamm.TimeInForceSlots)
	for i, tif := range pair.Tifs {
		if tif == 0 {
			continue
		}
		left := int64(tif)
		if pool := currentPools[i]; pair.CurrentPoolPresent[i] && pool != nil {
			left = pool.ExpirationTime - now
			if pool.Status == twamm.PoolStatus_Expired || left < 0 {
				left = 0
			}
		}
		out = append(out, IndexedTIF{Index: i, Left: left, TIF: int64(tif)})
	}
	return out
}

// Format renders a duration in seconds as compact text such as "1h 30m".
func Format(seconds int64) string {
	switch {
	case seconds == NoDelay:
		return "No delay"
	case seconds == Instant:
		return "Instant"
	case seconds < 0:
		return "-"
	case seconds == 0:
		return "0s"
	}

	units := []struct {
		suffix string
		size   int64
	}{
		{"d", 86400},
		{"h", 3600},
		{"m", 60},
		{"s", 1},
	}
	parts := make([]string, 0, len(units))
	for _, unit := range units {
		if seconds >= unit.size {
			parts = append(parts, fmt.Sprintf("%d%s", seconds/unit.size, unit.suffix))
			seconds %= unit.size
		}
	}
	return strings.Join(parts, " ")
}

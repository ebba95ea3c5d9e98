package chain

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// DefaultFetchMultipleMax is the batch size used when none is configured.
const DefaultFetchMultipleMax = 5

// BatchFetcher loads one batch of accounts. Result i belongs to addrs[i] and
// is nil when the account does not exist.
type BatchFetcher[T any] func(ctx context.Context, addrs []solana.PublicKey) ([]*T, error)

// FetchMultipleAddresses loads addrs in sequential batches of at most max
// unique keys. The result is aligned with addrs, repeats included.
func FetchMultipleAddresses[T any](ctx context.Context, fetch BatchFetcher[T], addrs []solana.PublicKey, max int) ([]*T, error) {
	if max <= 0 {
		max = DefaultFetchMultipleMax
	}

	unique := make([]solana.PublicKey, 0, len(addrs))
	seen := make(map[solana.PublicKey]struct{}, len(addrs))
	for _, addr := range addrs {
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		unique = append(unique, addr)
	}

	byAddr := make(map[solana.PublicKey]*T, len(unique))
	for start := 0; start < len(unique); start += max {
		end := min(start+max, len(unique))
		group := unique[start:end]

		results, err := fetch(ctx, group)
		if err != nil {
			return nil, fmt.Errorf("fetch accounts %d..%d: %w", start, end, err)
		}
		if len(results) != len(group) {
			return nil, fmt.Errorf("fetch accounts %d..%d: got %d results for %d keys", start, end, len(results), len(group))
		}
		for i, addr := range group {
			byAddr[addr] = results[i]
		}
	}

	out := make([]*T, len(addrs))
	for i, addr := range addrs {
		out[i] = byAddr[addr]
	}
	return out, nil
}

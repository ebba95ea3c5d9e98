package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/twamm-labs/twamm/backend/internal/anchor/twamm"
	"github.com/twamm-labs/twamm/backend/internal/chain"
	"github.com/twamm-labs/twamm/backend/internal/config"
)

// Source is the chain view the indexer polls. *chain.Reader satisfies it.
type Source interface {
	Slot(ctx context.Context) (uint64, error)
	ClusterTime(ctx context.Context) int64
	ListTokenPairs(ctx context.Context) ([]chain.Keyed[twamm.TokenPair], error)
	ListPools(ctx context.Context, tokenPair solana.PublicKey) ([]chain.Keyed[twamm.Pool], error)
	ListOrders(ctx context.Context, owner solana.PublicKey) ([]chain.Keyed[twamm.Order], error)
	ListMultisigs(ctx context.Context) ([]chain.Keyed[twamm.Multisig], error)
}

type Service struct {
	cfg    config.IndexerConfig
	client *rpc.Client
	source Source
	store  *Store
	logger *slog.Logger
}

func New(cfg config.IndexerConfig, logger *slog.Logger) (*Service, error) {
	store, err := NewStore(context.Background(), cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	twamm.ProgramID = cfg.ProgramID
	client := rpc.New(cfg.RPCURL)

	return &Service{
		cfg:    cfg,
		client: client,
		source: chain.NewReader(client, cfg.ProgramID, cfg.Commitment, chain.DefaultFetchMultipleMax, logger),
		store:  store,
		logger: logger,
	}, nil
}

func (s *Service) Run(ctx context.Context) error {
	defer func() {
		if err := s.store.Close(); err != nil {
			s.logger.Error("failed to close store", "err", err)
		}
		if err := s.client.Close(); err != nil {
			s.logger.Debug("failed to close rpc client", "err", err)
		}
	}()

	s.logger.Info("indexer started",
		"rpc", s.cfg.RPCURL,
		"program_id", s.cfg.ProgramID,
		"db_driver", "postgres",
		"commitment", s.cfg.Commitment,
		"poll_interval", s.cfg.PollInterval.String(),
	)

	if err := s.syncOnce(ctx); err != nil {
		s.logger.Error("initial sync failed", "err", err)
	}
	if s.cfg.EnablePythPriceStream {
		stream := newPythStream(s.cfg.PythStreamURL, s.cfg.PythFeeds, s.cfg.PythReconnectInterval, s.store, s.logger)
		go stream.run(ctx)
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("indexer stopped")
			return nil
		case <-ticker.C:
			if err := s.syncOnce(ctx); err != nil {
				s.logger.Error("sync failed", "err", err)
			}
		}
	}
}

// snapshot is every program account seen at one slot.
type snapshot struct {
	slot      uint64
	now       int64
	pairs     []chain.Keyed[twamm.TokenPair]
	pools     []chain.Keyed[twamm.Pool]
	orders    []chain.Keyed[twamm.Order]
	multisigs []chain.Keyed[twamm.Multisig]
}

func collect(ctx context.Context, source Source) (*snapshot, error) {
	slot, err := source.Slot(ctx)
	if err != nil {
		return nil, err
	}
	snap := &snapshot{slot: slot, now: source.ClusterTime(ctx)}

	if snap.pairs, err = source.ListTokenPairs(ctx); err != nil {
		return nil, err
	}
	if snap.pools, err = source.ListPools(ctx, solana.PublicKey{}); err != nil {
		return nil, err
	}
	if snap.orders, err = source.ListOrders(ctx, solana.PublicKey{}); err != nil {
		return nil, err
	}
	if snap.multisigs, err = source.ListMultisigs(ctx); err != nil {
		return nil, err
	}
	return snap, nil
}

// orderViews joins every order with its pool and pair from the same
// snapshot. Orders of vanished pools come out inactive.
func (s *snapshot) orderViews() []chain.OrderView {
	pools := make(map[solana.PublicKey]*twamm.Pool, len(s.pools))
	for _, item := range s.pools {
		pools[item.Address] = item.Account
	}
	pairs := make(map[solana.PublicKey]*twamm.TokenPair, len(s.pairs))
	for _, item := range s.pairs {
		pairs[item.Address] = item.Account
	}

	views := make([]chain.OrderView, 0, len(s.orders))
	for _, item := range s.orders {
		pool := pools[item.Account.Pool]
		var pair *twamm.TokenPair
		if pool != nil {
			pair = pairs[pool.TokenPair]
		}
		views = append(views, chain.NewOrderView(item.Address, item.Account, pool, pair, s.now))
	}
	return views
}

func (s *Service) syncOnce(ctx context.Context) error {
	snap, err := collect(ctx, s.source)
	if err != nil {
		return err
	}

	events := map[string]int{}
	var closedOrders int
	var closedPools int64

	err = s.store.WithTx(ctx, func(tx *Tx) error {
		for _, item := range snap.pairs {
			if err := s.store.UpsertTokenPairTx(ctx, tx, item, snap.slot); err != nil {
				return fmt.Errorf("upsert token pair %s: %w", item.Address, err)
			}
		}
		for _, item := range snap.pools {
			if err := s.store.UpsertPoolTx(ctx, tx, item, snap.slot); err != nil {
				return fmt.Errorf("upsert pool %s: %w", item.Address, err)
			}
		}
		for _, item := range snap.multisigs {
			if err := s.store.UpsertResourceTx(ctx, tx, item.Address, s.cfg.ProgramID, "Multisig", snap.slot, item.Account); err != nil {
				return fmt.Errorf("upsert multisig %s: %w", item.Address, err)
			}
		}
		for i, view := range snap.orderViews() {
			event, err := s.store.UpsertOrderTx(ctx, tx, view, snap.orders[i].Account, snap.slot)
			if err != nil {
				return fmt.Errorf("upsert order %s: %w", view.Address, err)
			}
			if event != "" {
				events[event]++
			}
		}

		if closedOrders, err = s.store.CloseMissingOrdersTx(ctx, tx, snap.slot); err != nil {
			return fmt.Errorf("close missing orders: %w", err)
		}
		if closedPools, err = s.store.CloseMissingPoolsTx(ctx, tx, snap.slot); err != nil {
			return fmt.Errorf("close missing pools: %w", err)
		}
		return s.store.UpsertSyncStateTx(ctx, tx, snap.slot)
	})
	if err != nil {
		return err
	}

	s.logger.Info("sync complete",
		"slot", snap.slot,
		"token_pairs", len(snap.pairs),
		"pools", len(snap.pools),
		"orders", len(snap.orders),
		"multisigs", len(snap.multisigs),
		"order_events", events,
		"closed_orders", closedOrders,
		"closed_pools", closedPools,
	)
	return nil
}

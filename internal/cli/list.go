package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/twamm-labs/twamm/backend/internal/anchor/twamm"
	"github.com/twamm-labs/twamm/backend/internal/chain"
	"github.com/twamm-labs/twamm/backend/internal/intervals"
)

func (a *App) writeJSON(value any) error {
	encoder := json.NewEncoder(a.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func (a *App) newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(a.out)
	t.SetTitle(title)
	return t
}

func formatTifs(tifs [twamm.TimeInForceSlots]uint32) string {
	parts := make([]string, 0, len(tifs))
	for _, tif := range tifs {
		if tif == 0 {
			continue
		}
		parts = append(parts, intervals.Format(int64(tif)))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}

func formatUnix(ts int64) string {
	if ts <= 0 {
		return "-"
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

func (a *App) parseListTokenPairs(fs *flag.FlagSet, args []string) (action, error) {
	asJSON := fs.Bool("json", false, "Print JSON")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := noExtraArgs(fs); err != nil {
		return nil, err
	}
	return func(ctx context.Context, s *Session) error {
		pairs, err := s.Backend.ListTokenPairs(ctx)
		if err != nil {
			return err
		}
		if *asJSON {
			return a.writeJSON(pairs)
		}
		t := a.newTable("Token pairs")
		t.AppendHeader(table.Row{"Address", "Mint A", "Mint B", "Fee", "Order volume", "Settle volume", "Trade volume", "Intervals"})
		for _, pair := range pairs {
			stats := chain.NewPairStats(pair.Account)
			t.AppendRow(table.Row{
				pair.Address,
				stats.MintA,
				stats.MintB,
				fmt.Sprintf("%.4f%%", stats.Fee*100),
				fmt.Sprintf("$%.2f", stats.OrderVolume),
				fmt.Sprintf("$%.2f", stats.SettleVolume),
				fmt.Sprintf("$%.2f", stats.TradeVolume),
				formatTifs(pair.Account.Tifs),
			})
		}
		t.SetCaption("%d token pairs", len(pairs))
		t.Render()
		return nil
	}, nil
}

func (a *App) parseListPools(fs *flag.FlagSet, args []string) (action, error) {
	pair := addPairFlags(fs)
	asJSON := fs.Bool("json", false, "Print JSON")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := noExtraArgs(fs); err != nil {
		return nil, err
	}
	if err := pair.validate(false); err != nil {
		return nil, err
	}
	return func(ctx context.Context, s *Session) error {
		var tokenPair solana.PublicKey
		if pair.set() {
			var err error
			if tokenPair, err = pair.resolve(s.ProgramID); err != nil {
				return err
			}
		}
		pools, err := s.Backend.ListPools(ctx, tokenPair)
		if err != nil {
			return err
		}
		if *asJSON {
			return a.writeJSON(pools)
		}
		t := a.newTable("Pools")
		t.AppendHeader(table.Row{"Address", "Token pair", "Interval", "Counter", "Expires", "Status", "Buy LP supply", "Sell LP supply"})
		for _, pool := range pools {
			p := pool.Account
			t.AppendRow(table.Row{
				pool.Address,
				p.TokenPair,
				intervals.Format(int64(p.TimeInForce)),
				p.Counter,
				formatUnix(p.ExpirationTime),
				p.Status,
				p.BuySide.LpSupply,
				p.SellSide.LpSupply,
			})
		}
		t.SetCaption("%d pools", len(pools))
		t.Render()
		return nil
	}, nil
}

func (a *App) parseListOrders(fs *flag.FlagSet, args []string) (action, error) {
	ownerRaw := fs.String("owner", "", "Only orders of this wallet")
	asJSON := fs.Bool("json", false, "Print JSON")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := noExtraArgs(fs); err != nil {
		return nil, err
	}
	owner, err := parseOptionalPubkey("owner", *ownerRaw)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, s *Session) error {
		orders, err := s.Backend.ListOrders(ctx, owner)
		if err != nil {
			return err
		}
		poolAddrs := make([]solana.PublicKey, len(orders))
		for i, order := range orders {
			poolAddrs[i] = order.Account.Pool
		}
		pools, err := s.Backend.Pools(ctx, poolAddrs)
		if err != nil {
			return err
		}
		now := s.Backend.ClusterTime(ctx)

		views := make([]chain.OrderView, len(orders))
		for i, order := range orders {
			views[i] = chain.NewOrderView(order.Address, order.Account, pools[i], nil, now)
		}
		if *asJSON {
			return a.writeJSON(views)
		}
		t := a.newTable("Orders")
		t.AppendHeader(table.Row{"Address", "Owner", "Pool", "Side", "Interval", "Supply", "Placed", "Expires", "Status"})
		for _, view := range views {
			t.AppendRow(table.Row{
				view.Address,
				view.Owner,
				view.Pool,
				view.Side,
				intervals.Format(int64(view.TimeInForce)),
				view.Supply,
				formatUnix(view.OrderTime),
				formatUnix(view.ExpirationTime),
				view.Status,
			})
		}
		t.SetCaption("%d orders", len(views))
		t.Render()
		return nil
	}, nil
}

type multisigView struct {
	Address       solana.PublicKey   `json:"address"`
	MinSignatures uint8              `json:"minSignatures"`
	NumSigned     uint8              `json:"numSigned"`
	Signers       []solana.PublicKey `json:"signers"`
	Signed        []bool             `json:"signed"`
}

func (a *App) parseGetMultisig(fs *flag.FlagSet, args []string) (action, error) {
	asJSON := fs.Bool("json", false, "Print JSON")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := noExtraArgs(fs); err != nil {
		return nil, err
	}
	return func(ctx context.Context, s *Session) error {
		address, multisig, err := s.Backend.GetMultisig(ctx)
		if err != nil {
			return err
		}
		signers := multisig.ActiveSigners()
		view := multisigView{
			Address:       address,
			MinSignatures: multisig.MinSignatures,
			NumSigned:     multisig.NumSigned,
			Signers:       signers,
			Signed:        multisig.Signed[:len(signers)],
		}
		if *asJSON {
			return a.writeJSON(view)
		}
		t := a.newTable("Multisig " + address.String())
		t.AppendHeader(table.Row{"#", "Signer", "Signed"})
		for i, signer := range view.Signers {
			t.AppendRow(table.Row{i, signer, view.Signed[i]})
		}
		t.SetCaption("%d of %d signers required, %d signed", view.MinSignatures, len(view.Signers), view.NumSigned)
		t.Render()
		return nil
	}, nil
}

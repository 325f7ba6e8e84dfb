package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"lending-strategy-lab/internal/domain"
	"lending-strategy-lab/internal/ledger"
	"lending-strategy-lab/internal/logger"
)

var (
	replayDataPath string
	replayFrom     int64
	replayTo       int64
	replayEvery    int64
	replayCapital  float64
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a position's rebalance history over snapshot data",
	Long: `Replay opens the top-ranked candidate at the start timestamp, walks
the snapshot history checking liquidation-distance drift at each step,
rebalances where the configured threshold is crossed and closes the position
at the end timestamp.

Examples:
  lab replay --data testdata/market.yaml --from 1700000000 --to 1702592000
  lab replay --data testdata/market.yaml --from 1700000000 --to 1702592000 --every 86400`,
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().StringVarP(&replayDataPath, "data", "d", "", "YAML market data fixture to load")
	replayCmd.Flags().Int64Var(&replayFrom, "from", 0, "open timestamp (unix seconds)")
	replayCmd.Flags().Int64Var(&replayTo, "to", 0, "close timestamp (unix seconds)")
	replayCmd.Flags().Int64Var(&replayEvery, "every", 86400, "drift check interval in seconds")
	replayCmd.Flags().Float64Var(&replayCapital, "capital", 1000, "capital to deploy in USD")
	_ = replayCmd.MarkFlagRequired("from")
	_ = replayCmd.MarkFlagRequired("to")
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if replayTo <= replayFrom {
		return fmt.Errorf("--to (%d) must be after --from (%d)", replayTo, replayFrom)
	}
	if replayEvery <= 0 {
		return fmt.Errorf("--every must be positive, got %d", replayEvery)
	}

	st, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	if replayDataPath != "" {
		if err := seedMarketData(ctx, st, replayDataPath); err != nil {
			return err
		}
	}

	candidates, err := scanAtTimestamp(ctx, st, replayFrom, domain.MetricNetAPR)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return fmt.Errorf("no viable candidates at %d", replayFrom)
	}
	top := candidates[0]

	led := ledger.New(st.positions, st.segments, st.snapshots,
		ledger.WithLogger(logger.GetForComponent("ledger")))

	pos, err := led.Open(ctx, &top, replayCapital, "", replayFrom)
	if err != nil {
		return err
	}
	fmt.Printf("Opened %s (%s) with %.2f USD at %d\n",
		pos.PositionID, pos.Variant, replayCapital, replayFrom)

	rebalances := 0
	for ts := replayFrom + replayEvery; ts < replayTo; ts += replayEvery {
		signal, err := led.ShouldRebalance(ctx, pos.PositionID, ts, cfg.Rebalance.DriftThreshold)
		if err != nil {
			return fmt.Errorf("drift check at %d: %w", ts, err)
		}
		if !signal.Triggered {
			continue
		}

		seg, err := led.Rebalance(ctx, pos.PositionID, ts, domain.ReasonDrift)
		if err != nil {
			return fmt.Errorf("rebalance at %d: %w", ts, err)
		}
		rebalances++
		fmt.Printf("  rebalance #%d at %d: realized %+.4f USD\n",
			seg.Seq, ts, seg.Realized.TotalUSD())
	}

	closed, err := led.Close(ctx, pos.PositionID, replayTo)
	if err != nil {
		return err
	}

	fmt.Printf("\nClosed at %d after %d drift rebalances.\n", replayTo, rebalances)
	printPnL(closed.Realized, replayCapital)
	return nil
}

func printPnL(pnl domain.PnLBreakdown, capital float64) {
	fmt.Printf("Realized PnL:\n")
	fmt.Printf("  lend base      %+10.4f USD\n", pnl.LendBaseUSD)
	fmt.Printf("  lend reward    %+10.4f USD\n", pnl.LendRewardUSD)
	fmt.Printf("  borrow paid    %-10.4f USD\n", pnl.BorrowBaseUSD)
	fmt.Printf("  borrow reward  %+10.4f USD\n", pnl.BorrowRewardUSD)
	fmt.Printf("  upfront fees   %-10.4f USD\n", pnl.FeesUSD)
	fmt.Printf("  total          %+10.4f USD (%+.4f%% of capital)\n",
		pnl.TotalUSD(), pnl.TotalUSD()/capital*100)
}

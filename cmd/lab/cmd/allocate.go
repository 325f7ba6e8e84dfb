package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"lending-strategy-lab/internal/allocator"
	"lending-strategy-lab/internal/domain"
	"lending-strategy-lab/internal/ledger"
	"lending-strategy-lab/internal/logger"
	"lending-strategy-lab/internal/observability"
)

var (
	allocDataPath string
	allocAt       int64
	allocCommit   bool
)

var allocateCmd = &cobra.Command{
	Use:   "allocate",
	Short: "Allocate portfolio capital across scanned candidates",
	Long: `Allocate scans the market at the given timestamp, scores every
candidate against its trailing rate history and greedily assigns portfolio
capital under the configured exposure constraints.

Nothing is persisted unless --commit is set.

Examples:
  lab allocate --data testdata/market.yaml --at 1700000000
  lab allocate --data testdata/market.yaml --at 1700000000 --commit`,
	RunE: runAllocate,
}

func init() {
	rootCmd.AddCommand(allocateCmd)

	allocateCmd.Flags().StringVarP(&allocDataPath, "data", "d", "", "YAML market data fixture to load")
	allocateCmd.Flags().Int64Var(&allocAt, "at", 0, "snapshot timestamp to allocate at (unix seconds)")
	allocateCmd.Flags().BoolVar(&allocCommit, "commit", false, "persist the allocation as a portfolio")
	_ = allocateCmd.MarkFlagRequired("at")
}

func runAllocate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	st, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	if allocDataPath != "" {
		if err := seedMarketData(ctx, st, allocDataPath); err != nil {
			return err
		}
	}

	candidates, err := scanAtTimestamp(ctx, st, allocAt, domain.MetricNetAPR)
	if err != nil {
		return err
	}

	led := ledger.New(st.positions, st.segments, st.snapshots,
		ledger.WithLogger(logger.GetForComponent("ledger")))
	alloc := allocator.New(st.snapshots, st.positions, st.portfolios, led,
		allocator.WithLogger(logger.GetForComponent("allocator")))

	result, err := alloc.Allocate(ctx, candidates, cfg.Allocation, allocAt)
	if err != nil {
		observability.RecordAllocation("error", 0, 0)
		return err
	}
	observability.RecordAllocation("success", result.TotalAllocatedUSD, len(result.Selected))
	observability.DefaultMetrics.LastSuccessfulAllocation.Set(float64(allocAt))

	fmt.Printf("Allocated %.2f of %.2f USD across %d strategies:\n\n",
		result.TotalAllocatedUSD, cfg.Allocation.PortfolioSizeUSD, len(result.Selected))
	fmt.Printf("%-4s %-26s %10s %9s %11s\n",
		"#", "VARIANT", "USD", "BLENDED", "CONFIDENCE")
	for i, sel := range result.Selected {
		fmt.Printf("%-4d %-26s %10.2f %8.2f%% %11.3f\n",
			i+1, sel.Candidate.Variant, sel.AllocationUSD,
			sel.BlendedAPR*100, sel.Confidence)
	}

	if !allocCommit {
		fmt.Println("\nDry run; pass --commit to persist.")
		return nil
	}

	portfolio, err := alloc.Commit(ctx, result, cfg.Allocation, allocAt)
	if err != nil {
		return err
	}
	fmt.Printf("\nCommitted portfolio %s with %d positions.\n",
		portfolio.PortfolioID, len(portfolio.PositionIDs))
	return nil
}

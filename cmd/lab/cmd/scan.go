package cmd

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"lending-strategy-lab/internal/analyzer"
	"lending-strategy-lab/internal/domain"
	"lending-strategy-lab/internal/logger"
	"lending-strategy-lab/internal/observability"
	"lending-strategy-lab/internal/strategy"
)

var (
	scanDataPath string
	scanAt       int64
	scanMetric   string
	scanTop      int
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan a market snapshot for strategy candidates ranked by APR",
	Long: `Scan enumerates every valid strategy combination over the market
snapshot at the given timestamp and prints the candidates ranked by the
chosen APR metric.

Examples:
  lab scan --data testdata/market.yaml --at 1700000000
  lab scan --data testdata/market.yaml --at 1700000000 --metric 30d --top 5`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVarP(&scanDataPath, "data", "d", "", "YAML market data fixture to load")
	scanCmd.Flags().Int64Var(&scanAt, "at", 0, "snapshot timestamp to scan (unix seconds)")
	scanCmd.Flags().StringVarP(&scanMetric, "metric", "m", "net", "ranking metric: net, 5d, 30d or 90d")
	scanCmd.Flags().IntVarP(&scanTop, "top", "n", 10, "number of candidates to print")
	_ = scanCmd.MarkFlagRequired("at")
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	st, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	if scanDataPath != "" {
		if err := seedMarketData(ctx, st, scanDataPath); err != nil {
			return err
		}
	}

	metric, err := parseMetric(scanMetric)
	if err != nil {
		return err
	}

	candidates, err := scanAtTimestamp(ctx, st, scanAt, metric)
	if err != nil {
		return err
	}

	printCandidates(candidates, metric, scanTop)
	return nil
}

// scanAtTimestamp builds a market view from the stores and runs the analyzer.
func scanAtTimestamp(ctx context.Context, st *stores, at int64, metric domain.APRMetric) ([]domain.Candidate, error) {
	view, err := buildView(ctx, st, at)
	if err != nil {
		return nil, err
	}

	calcs := make([]strategy.Calculator, 0, len(cfg.Strategies))
	for _, sc := range cfg.StrategyConfigs() {
		calc, err := strategy.FromConfig(sc)
		if err != nil {
			return nil, err
		}
		calcs = append(calcs, calc)
	}

	opts := []analyzer.Option{analyzer.WithLogger(logger.GetForComponent("analyzer"))}
	if cfg.Scan.Workers > 0 {
		opts = append(opts, analyzer.WithWorkers(cfg.Scan.Workers))
	}

	start := time.Now()
	candidates, err := analyzer.New(calcs, opts...).Scan(ctx, view, metric)
	if err != nil {
		return nil, err
	}

	byVariant := make(map[string]int)
	for _, c := range candidates {
		byVariant[c.Variant]++
	}
	observability.RecordScan(time.Since(start).Seconds(), byVariant)
	observability.DefaultMetrics.LastSuccessfulScan.Set(float64(at))

	return candidates, nil
}

// buildView assembles the analyzer's view of the market at one timestamp.
func buildView(ctx context.Context, st *stores, at int64) (*analyzer.MarketView, error) {
	rows, err := st.snapshots.GetByTimestamp(ctx, at)
	if err != nil {
		return nil, fmt.Errorf("load snapshots at %d: %w", at, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no snapshots recorded at %d", at)
	}

	snapshots := make([]domain.RateSnapshot, 0, len(rows))
	tokens := make(map[string]struct{})
	for _, row := range rows {
		snapshots = append(snapshots, *row)
		tokens[row.Token] = struct{}{}
	}

	var basis []domain.BasisPrice
	for _, market := range cfg.Markets.PerpMarkets {
		for token := range tokens {
			p, err := st.basis.GetAt(ctx, market, token, at)
			if err != nil {
				continue
			}
			if p.Timestamp == at {
				basis = append(basis, *p)
			}
		}
	}

	return analyzer.NewMarketView(at, snapshots, basis, analyzer.ViewConfig{
		PerpMarkets:  cfg.Markets.PerpMarkets,
		StableTokens: cfg.Markets.StableTokens,
	}), nil
}

func parseMetric(s string) (domain.APRMetric, error) {
	switch strings.ToLower(s) {
	case "net", "":
		return domain.MetricNetAPR, nil
	case "5d":
		return domain.MetricAPR5, nil
	case "30d":
		return domain.MetricAPR30, nil
	case "90d":
		return domain.MetricAPR90, nil
	default:
		return "", fmt.Errorf("unknown metric %q (want net, 5d, 30d or 90d)", s)
	}
}

func printCandidates(candidates []domain.Candidate, metric domain.APRMetric, top int) {
	if len(candidates) == 0 {
		fmt.Println("No viable candidates.")
		return
	}
	if top > 0 && len(candidates) > top {
		candidates = candidates[:top]
	}

	fmt.Printf("%-4s %-26s %-9s %9s %9s %10s %10s\n",
		"#", "VARIANT", "METRIC", "NET APR", "APR 30D", "BREAKEVEN", "FEE")
	for i, c := range candidates {
		breakeven := fmt.Sprintf("%.1fd", c.BreakevenDays)
		if math.IsInf(c.BreakevenDays, 1) {
			breakeven = "never"
		}
		fmt.Printf("%-4d %-26s %8.2f%% %8.2f%% %8.2f%% %10s %9.4f%%\n",
			i+1, c.Variant,
			c.MetricValue(metric)*100, c.NetAPR*100, c.APR30*100,
			breakeven, c.TotalUpfrontFee*100)
		for _, leg := range c.Legs {
			fmt.Printf("       %-10s %s / %s\n", leg.Side, leg.Protocol, shortToken(leg.Token))
		}
	}
}

func shortToken(token string) string {
	if len(token) <= 12 {
		return token
	}
	return token[:6] + ".." + token[len(token)-4:]
}

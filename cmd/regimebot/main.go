package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/irfndi/regimebot/internal/config"
	"github.com/irfndi/regimebot/internal/orchestrator"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Application failed: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	stateDir string
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "regimebot",
		Short: "Regime-switching BTC/USDT paper trading bot",
		Long: `regimebot runs one decision cycle per invocation against the latest closed
candle: it classifies the market regime, routes to a strategy, sizes the
trade and simulates execution against a durable paper ledger.

Schedule "regimebot run" every bar (cron or a systemd timer) and guard it
with an external lock such as flock.`,
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.stateDir, "state-dir", "", "Override state.dir from configuration")

	root.AddCommand(newRunCmd(opts), newStatusCmd(opts))
	return root
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.stateDir != "" {
		cfg.State.Dir = opts.stateDir
	}
	return cfg, nil
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one decision cycle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.orchestrator.RunCycle(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s cycle %s: regime=%s intent=%s equity=%s\n",
				result.CandleAt.Format(time.RFC3339), cfg.Trading.Symbol, result.Status,
				result.Classification.Regime, result.Intent.Intent, result.Equity.TotalEquity.StringFixed(2))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Abort the cycle if it has not committed within this duration")
	return cmd
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the ledger and heartbeat without running a cycle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			o, err := orchestrator.New(cfg, newStore(cfg, logger), nil, logger)
			if err != nil {
				return err
			}
			report, err := o.Status()
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), report, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func printStatus(w io.Writer, r *orchestrator.StatusReport, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	fmt.Fprintf(w, "Symbol:         %s\n", r.Symbol)
	fmt.Fprintf(w, "Total equity:   %s (%s%%)\n", r.Equity.TotalEquity.StringFixed(2), r.ReturnPct.StringFixed(2))
	fmt.Fprintf(w, "Cash:           %s\n", r.Equity.Cash.StringFixed(2))
	fmt.Fprintf(w, "Realized PnL:   %s\n", r.Equity.RealizedPnL.StringFixed(2))
	fmt.Fprintf(w, "Drawdown:       %s%%\n", r.DrawdownRatio.Mul(hundred).StringFixed(2))
	if r.Position != nil {
		fmt.Fprintf(w, "Position:       %s @ %s stop %s (%s)\n",
			r.Position.Quantity, r.Position.EntryPrice.StringFixed(2), r.Position.StopPrice.StringFixed(2), r.Position.Strategy)
	} else {
		fmt.Fprintln(w, "Position:       flat")
	}
	fmt.Fprintf(w, "Fills:          %d\n", r.Fills)
	if !r.LastCandleAt.IsZero() {
		fmt.Fprintf(w, "Last candle:    %s\n", r.LastCandleAt.Format(time.RFC3339))
	}
	if r.KillSwitchOn {
		fmt.Fprintln(w, "Kill-switch:    ACTIVE")
	}
	if r.Heartbeat == nil {
		fmt.Fprintln(w, "Heartbeat:      none")
		return nil
	}
	stale := ""
	if r.Stale {
		stale = " STALE"
	}
	fmt.Fprintf(w, "Heartbeat:      %s, %s ago%s\n", r.Heartbeat.Status, r.HeartbeatAge.Round(time.Second), stale)
	return nil
}

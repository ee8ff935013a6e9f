package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"lucro/internal/simulate"
)

type options struct {
	server   string
	count    int
	accounts int
	seed     int64
	timeout  time.Duration
	wait     bool
	interval time.Duration
	preview  bool
}

func newRootCmd() *cobra.Command {
	opts := options{}

	cmd := &cobra.Command{
		Use:   "lucro-sim",
		Short: "Post a synthetic transaction batch to a lucro server",
		Long: `lucro-sim generates random accounts and transactions and posts them to
the ingestion endpoint, the way a bank integration would.

Examples:
  lucro-sim                                  # 10 transactions to localhost:8000
  lucro-sim --count 500 --accounts 5         # bigger batch
  lucro-sim --wait                           # block until categorization ends
  lucro-sim --server http://api:8000 --seed 7`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.server, "server", "http://localhost:8000", "Base server URL")
	cmd.Flags().IntVar(&opts.count, "count", 10, "Number of transactions to generate in the batch")
	cmd.Flags().IntVar(&opts.accounts, "accounts", simulate.DefaultAccounts, "Number of accounts the transactions spread over")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "Random seed (0 picks one from the clock)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Per-request HTTP timeout")
	cmd.Flags().BoolVar(&opts.wait, "wait", false, "Poll the batch until no transaction is pending")
	cmd.Flags().DurationVar(&opts.interval, "interval", time.Second, "Polling interval used with --wait")
	cmd.Flags().BoolVar(&opts.preview, "preview", false, "Print the generated payload before posting it")

	return cmd
}

func run(ctx context.Context, out io.Writer, opts options) error {
	if opts.interval <= 0 {
		return fmt.Errorf("--interval must be positive")
	}

	seed := opts.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	payload, err := simulate.NewGenerator(seed).Build(opts.accounts, opts.count)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Generated %d transactions for accounts %v\n", len(payload.Transactions), payload.AccountIDs())

	if opts.preview {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(payload); err != nil {
			return fmt.Errorf("print payload: %w", err)
		}
	}

	client := simulate.NewClient(opts.server, opts.timeout)
	fmt.Fprintf(out, "Posting batch to %s\n", opts.server)

	res, err := client.Submit(ctx, payload)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	fmt.Fprintf(out, "Batch posted: batch_id=%s total=%d\n", res.BatchID, res.TotalTransactions)

	if !opts.wait {
		return nil
	}

	st, err := client.Wait(ctx, res.BatchID, opts.interval, func(st simulate.BatchStatus) {
		s := st.ProcessingStatus
		fmt.Fprintf(out, "  pending=%d processing=%d completed=%d failed=%d\n",
			s.Pending, s.Processing, s.Completed, s.Failed)
	})
	if err != nil {
		return fmt.Errorf("wait for batch %s: %w", res.BatchID, err)
	}
	fmt.Fprintf(out, "Batch categorized: completed=%d failed=%d\n",
		st.ProcessingStatus.Completed, st.ProcessingStatus.Failed)
	return nil
}

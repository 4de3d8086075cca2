// govbot: Polls Cosmos governance endpoints and announces proposals entering the voting period.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"github.com/itrocket-team/cosmos-governance-bot/internal/config"
	"github.com/itrocket-team/cosmos-governance-bot/internal/scheduler"
	"github.com/itrocket-team/cosmos-governance-bot/internal/watermark"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		slog.Error("govbot failed", "err", err)
		os.Exit(1)
	}
}

// cli carries state shared by every subcommand once config is loaded.
type cli struct {
	out io.Writer
	cfg config.Config
	log *slog.Logger
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}
	root := &cobra.Command{
		Use:           "govbot",
		Short:         "Announce Cosmos governance proposals entering the voting period",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd.Context())
		},
	}
	root.SetOut(out)
	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Check all chains on an interval until interrupted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.run(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "once",
			Short: "Run a single cycle and print what happened",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.once(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "chains",
			Short: "List the configured chains",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.listChains()
			},
		},
		c.watermarkCmd(),
	)
	return root
}

func (c *cli) load() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(c.log)
	return nil
}

func (c *cli) run(ctx context.Context) error {
	a, err := buildApp(ctx, c.cfg, c.log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			c.log.Error("close watermark store", "err", err)
		}
	}()

	srv := &http.Server{
		Addr:              c.cfg.HTTP.Addr,
		Handler:           newRouter(a),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var g run.Group
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return a.scheduler.Run(ctx)
		}, func(error) {
			cancel()
		})
	}
	{
		g.Add(func() error {
			c.log.Info("starting", "addr", srv.Addr, "mode", c.cfg.Mode, "chains", a.registry.Len())
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				c.log.Error("shutdown", "err", err)
			}
		})
	}
	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))

	err = g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		c.log.Info("shutting down", "signal", sig.Signal.String())
		return nil
	}
	return err
}

func (c *cli) once(ctx context.Context) error {
	a, err := buildApp(ctx, c.cfg, c.log)
	if err != nil {
		return err
	}
	defer a.Close()

	printReport(c.out, a.scheduler.RunCycle(ctx))
	return nil
}

func (c *cli) listChains() error {
	reg, err := loadRegistry(c.cfg.Chains)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHAIN\tQUERY\tDISPLAY")
	for _, ch := range reg.List() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", ch.ID, ch.QueryEndpoint, ch.DisplayEndpoint)
	}
	return tw.Flush()
}

func (c *cli) watermarkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watermark",
		Short: "Inspect or repair per-chain watermarks",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <chain>",
			Short: "Print the highest announced proposal ID for a chain",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withStore(cmd.Context(), args[0], func(ctx context.Context, s watermark.Store, chainID string) error {
					v, err := s.Get(ctx, chainID)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.out, "%s\t%d\n", chainID, v)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "set <chain> <id>",
			Short: "Raise a chain's watermark so older proposals are never announced",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := strconv.ParseUint(args[1], 10, 64)
				if err != nil {
					return fmt.Errorf("proposal id %q: %w", args[1], err)
				}
				return c.withStore(cmd.Context(), args[0], func(ctx context.Context, s watermark.Store, chainID string) error {
					cur, err := s.Get(ctx, chainID)
					if err != nil {
						return err
					}
					if id <= cur {
						return fmt.Errorf("watermark for %s is already %d; it only moves forward", chainID, cur)
					}
					if err := s.Advance(ctx, chainID, id); err != nil {
						return err
					}
					fmt.Fprintf(c.out, "%s\t%d -> %d\n", chainID, cur, id)
					return nil
				})
			},
		},
	)
	return cmd
}

// withStore opens the configured durable store for a registered chain.
func (c *cli) withStore(ctx context.Context, chainArg string, fn func(context.Context, watermark.Store, string) error) error {
	if c.cfg.Store.Driver == watermark.DriverMemory {
		return fmt.Errorf("%w: watermark commands need a durable store, set GOVBOT_STORE_DRIVER", config.ErrConfig)
	}
	reg, err := loadRegistry(c.cfg.Chains)
	if err != nil {
		return err
	}
	chain, ok := reg.Get(chainArg)
	if !ok {
		return fmt.Errorf("unknown chain %q", chainArg)
	}
	store, closeFn, err := watermark.Open(ctx, c.cfg.Store)
	if err != nil {
		return fmt.Errorf("open watermark store: %w", err)
	}
	defer closeFn()
	return fn(ctx, store, chain.ID)
}

func printReport(w io.Writer, r scheduler.CycleReport) {
	fmt.Fprintf(w, "cycle %s: %d chains, %d failed, %s\n", r.ID, len(r.Chains), r.Failed(), r.Duration.Round(time.Millisecond))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHAIN\tFETCHED\tREPORTED\tNOTIFY_FAILED\tWATERMARK\tERROR")
	for _, res := range r.Chains {
		errText := "-"
		if res.Err != nil {
			errText = res.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\n", res.ChainID, res.Fetched, res.Reported, res.NotifyFailures, res.Watermark, errText)
	}
	_ = tw.Flush()
}

// Command reclaimer returns abandoned stock holds to the ledger. It is meant
// to be invoked by an external scheduler (cron, a Kubernetes CronJob) for
// sweep; listen runs as a long-lived consumer of cart.abandoned.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-checkout/internal/app"
	"github.com/ariefcatur/marketplace-checkout/internal/config"
	"github.com/ariefcatur/marketplace-checkout/internal/events"
	kafkax "github.com/ariefcatur/marketplace-checkout/internal/kafka"
	"github.com/ariefcatur/marketplace-checkout/internal/logger"
	"github.com/ariefcatur/marketplace-checkout/internal/metrics"
	"github.com/ariefcatur/marketplace-checkout/internal/postgres"
	"github.com/ariefcatur/marketplace-checkout/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	var (
		cfg config.Config
		lg  *zap.Logger
		a   *app.App
	)

	root := &cobra.Command{
		Use:           "reclaimer",
		Short:         "Reservation reclaimer for the checkout engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.Load(); err != nil {
				return err
			}
			lg = logger.New(cfg.Logger())
			if err := metrics.Register(nil); err != nil {
				return err
			}
			if cmd.Name() == "migrate" {
				return nil
			}
			a, err = app.New(cmd.Context(), cfg, lg)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a != nil {
				a.Close()
			}
			if lg != nil {
				_ = lg.Sync()
			}
		},
	}

	var batch int
	var noLock bool
	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Expire reservations past their expiry and return their stock",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := a.Sweeper(a.ReservationService())
			if batch > 0 {
				w.BatchSize = batch
			}
			if noLock {
				w.Lock = nil
			}
			n, err := w.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("released=%d\n", n)
			return nil
		},
	}
	sweep.Flags().IntVar(&batch, "batch", 0, "max reservations per run (default SWEEP_BATCH_SIZE)")
	sweep.Flags().BoolVar(&noLock, "no-lock", false, "skip the distributed sweep lock")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print reservation statistics as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.ReservationService().GetReservationStatistics(cmd.Context())
			if err != nil {
				return err
			}
			b, _ := json.MarshalIndent(st, "", "  ")
			fmt.Println(string(b))
			return nil
		},
	}

	var reason string
	releaseCart := &cobra.Command{
		Use:   "release-cart <cart-id>",
		Short: "Cancel every active reservation of a cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.ReservationService().ReleaseReservationsForCart(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			fmt.Printf("released=%d\n", n)
			return nil
		},
	}
	releaseCart.Flags().StringVar(&reason, "reason", "released by operator", "cancellation reason")

	var workers int
	listen := &cobra.Command{
		Use:   "listen",
		Short: "Release holds of abandoned carts from the cart.abandoned topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(cfg.KafkaBrokers) == 0 {
				return fmt.Errorf("listen needs KAFKA_BROKERS")
			}
			if workers <= 0 {
				workers = cfg.ConsumerWorkers
			}
			h := &abandonHandler{svc: a.ReservationService(), log: lg.Named("listen")}
			if a.Redis != nil {
				h.dedup = &redisx.Dedup{RDB: a.Redis, Service: cfg.ServiceName}
			}
			cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup, events.TopicCartAbandoned, workers, lg.Named("kafka"))
			lg.Info("consumer started", zap.String("group", cfg.ConsumerGroup),
				zap.String("topic", events.TopicCartAbandoned), zap.Int("workers", workers))
			return cons.Start(cmd.Context(), kafkax.Envelopes(lg, h.handle))
		},
	}
	listen.Flags().IntVar(&workers, "workers", 0, "handler goroutines (default RECLAIMER_WORKERS)")

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := postgres.Connect(cmd.Context(), cfg.PostgresDSN, 2)
			if err != nil {
				return err
			}
			defer pool.Close()
			applied, err := postgres.Migrate(cmd.Context(), pool)
			if err != nil {
				return err
			}
			lg.Info("migrations applied", zap.Ints("versions", applied))
			return nil
		},
	}

	root.AddCommand(sweep, stats, releaseCart, listen, migrate)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// Command entsync reconciles local agreements against the vendor licensing
// program. Scheduling is external: each invocation runs one batch and exits.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"entsync/commerce"
	"entsync/config"
	"entsync/db"
	"entsync/ledger"
	"entsync/licensing"
	"entsync/notify"
	"entsync/sync"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		dryRun     bool
		syncPrices bool
	)

	root := &cobra.Command{
		Use:           "entsync",
		Short:         "Agreement reconciliation against the licensing vendor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "preview writes without performing them")
	root.PersistentFlags().BoolVar(&syncPrices, "sync-prices", false, "also refresh unit prices")

	opts := func() sync.Options {
		return sync.Options{DryRun: dryRun, SyncPrices: syncPrices}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "coterm",
			Short: "Reconcile agreements whose coterm date was yesterday",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSyncer(cmd.Context(), dryRun, func(ctx context.Context, syncer *sync.Syncer) error {
					o := opts()
					o.SyncPrices = true
					return syncer.SyncAgreementsByCotermDate(ctx, o)
				})
			},
		},
		&cobra.Command{
			Use:   "renewal",
			Short: "Reconcile agreements with subscriptions renewed yesterday",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSyncer(cmd.Context(), dryRun, func(ctx context.Context, syncer *sync.Syncer) error {
					o := opts()
					o.SyncPrices = true
					return syncer.SyncAgreementsByRenewalDate(ctx, o)
				})
			},
		},
		&cobra.Command{
			Use:   "commitment-end",
			Short: "Reconcile agreements whose commitment window closed yesterday",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSyncer(cmd.Context(), dryRun, func(ctx context.Context, syncer *sync.Syncer) error {
					o := opts()
					o.SyncPrices = true
					return syncer.SyncAgreementsBy3YCEndDate(ctx, o)
				})
			},
		},
		&cobra.Command{
			Use:   "agreements [id ...]",
			Short: "Reconcile an explicit list of agreements",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSyncer(cmd.Context(), dryRun, func(ctx context.Context, syncer *sync.Syncer) error {
					return syncer.SyncAgreementsByIDs(ctx, args, opts())
				})
			},
		},
		&cobra.Command{
			Use:   "all",
			Short: "Reconcile every active agreement (never syncs prices)",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSyncer(cmd.Context(), dryRun, func(ctx context.Context, syncer *sync.Syncer) error {
					return syncer.SyncAllAgreements(ctx, opts())
				})
			},
		},
	)
	return root
}

func withSyncer(ctx context.Context, dryRun bool, run func(context.Context, *sync.Syncer) error) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	credentials, err := config.LoadCredentials(cfg.CredentialsFile)
	if err != nil {
		return err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("bootstrap database pool: %w", err)
	}
	defer pool.Close()

	repo := ledger.NewRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		return err
	}

	senders := []notify.Sender{notify.NewLogSender(logger)}
	if cfg.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.WebhookURL, nil))
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaAlertTopic != "" {
		kafkaSender := notify.NewKafkaSender(cfg.KafkaBrokers, cfg.KafkaAlertTopic)
		defer kafkaSender.Close()
		senders = append(senders, kafkaSender)
	}

	authorizer := licensing.NewAuthorizer(cfg.VendorTokenURL, credentials, nil)
	deps := sync.Deps{
		Vendor:    licensing.NewClient(cfg.VendorAPIURL, authorizer, nil),
		Commerce:  commerce.NewClient(cfg.CommerceAPIURL, cfg.CommerceAPIToken, nil),
		Ledger:    repo,
		Notifier:  notify.NewFanout(senders...),
		Logger:    logger,
		ProductID: cfg.ProductID,
	}
	if dryRun {
		deps.Preview = os.Stdout
	}
	return run(ctx, sync.NewSyncer(deps))
}

package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"entsync/commerce"
)

const agreementSelect = "select=lines,parameters,subscriptions,assets,product,listing"

// SyncAgreementsByCotermDate reconciles agreements whose coterm date was
// yesterday and that were not already synchronized today.
func (s *Syncer) SyncAgreementsByCotermDate(ctx context.Context, opts Options) error {
	s.logger.Info("synchronizing agreements by coterm date")
	return s.syncAgreementsByParam(ctx, commerce.ParamCotermDate, opts)
}

// SyncAgreementsBy3YCEndDate reconciles agreements whose commitment window
// closed yesterday.
func (s *Syncer) SyncAgreementsBy3YCEndDate(ctx context.Context, opts Options) error {
	s.logger.Info("synchronizing agreements by commitment end date")
	return s.syncAgreementsByParam(ctx, commerce.Param3YCEndDate, opts)
}

func (s *Syncer) syncAgreementsByParam(ctx context.Context, param string, opts Options) error {
	today := s.now().UTC()
	yesterday := today.AddDate(0, 0, -1).Format("2006-01-02")
	query := fmt.Sprintf(
		"eq(status,Active)&any(parameters.fulfillment,and(eq(externalId,%s),eq(displayValue,%s)))&any(parameters.fulfillment,and(eq(externalId,%s),ne(displayValue,%s)))&%s",
		param, yesterday, commerce.ParamLastSyncDate, today.Format("2006-01-02"), agreementSelect,
	)
	agreements, err := s.commerce.GetAgreementsByQuery(ctx, query)
	if err != nil {
		return fmt.Errorf("sync: query agreements by %s: %w", param, err)
	}
	return s.syncBatch(ctx, agreements, opts)
}

// SyncAgreementsByRenewalDate reconciles agreements holding a subscription
// that renewed yesterday on any monthly anniversary of the last two years.
func (s *Syncer) SyncAgreementsByRenewalDate(ctx context.Context, opts Options) error {
	s.logger.Info("synchronizing agreements by renewal date")
	today := s.now().UTC()
	anniversaries := make([]string, 0, 24)
	base := today.AddDate(1, 0, -1)
	for month := 0; month < 24; month++ {
		anniversaries = append(anniversaries, base.AddDate(0, -month, 0).Format("2006-01-02"))
	}
	query := fmt.Sprintf(
		"eq(status,Active)&any(subscriptions,any(parameters.fulfillment,and(eq(externalId,%s),in(displayValue,(%s)))))&any(parameters.fulfillment,and(eq(externalId,%s),ne(displayValue,%s)))&%s",
		commerce.ParamRenewalDate, strings.Join(anniversaries, ","),
		commerce.ParamLastSyncDate, today.Format("2006-01-02"), agreementSelect,
	)
	agreements, err := s.commerce.GetAgreementsByQuery(ctx, query)
	if err != nil {
		return fmt.Errorf("sync: query agreements by renewal date: %w", err)
	}
	return s.syncBatch(ctx, agreements, opts)
}

// SyncAgreementsByIDs reconciles an explicit list of agreements.
func (s *Syncer) SyncAgreementsByIDs(ctx context.Context, ids []string, opts Options) error {
	query := fmt.Sprintf("in(id,(%s))&%s", strings.Join(ids, ","), agreementSelect)
	agreements, err := s.commerce.GetAgreementsByQuery(ctx, query)
	if err != nil {
		return fmt.Errorf("sync: query agreements by ids: %w", err)
	}
	return s.syncBatch(ctx, agreements, opts)
}

// SyncAllAgreements reconciles every active agreement. Prices are never
// synchronized on full runs.
func (s *Syncer) SyncAllAgreements(ctx context.Context, opts Options) error {
	s.logger.Info("synchronizing all active agreements")
	query := "eq(status,Active)&" + agreementSelect
	agreements, err := s.commerce.GetAgreementsByQuery(ctx, query)
	if err != nil {
		return fmt.Errorf("sync: query all agreements: %w", err)
	}
	opts.SyncPrices = false
	return s.syncBatch(ctx, agreements, opts)
}

// syncBatch runs one pass per agreement under a shared run id. A failed
// agreement never stops the batch; the aggregate is reported at the end.
func (s *Syncer) syncBatch(ctx context.Context, agreements []commerce.Agreement, opts Options) error {
	runID := uuid.NewString()
	logger := s.logger.With("run", runID)
	logger.Info("starting sync run", "agreements", len(agreements), "dry_run", opts.DryRun, "sync_prices", opts.SyncPrices)

	started := time.Now()
	var batch BatchResult
	for _, agreement := range agreements {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sync: run %s canceled: %w", runID, err)
		}
		batch.Record(agreement.ID, s.Sync(ctx, agreement, opts))
	}

	elapsed := time.Since(started).Round(time.Millisecond)
	if err := batch.Err(); err != nil {
		logger.Error("sync run finished with failures", "elapsed", elapsed, "error", err)
		return err
	}
	logger.Info("sync run finished", "elapsed", elapsed)
	return nil
}

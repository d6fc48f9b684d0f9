package sync

import (
	"context"
	"fmt"

	"entsync/commerce"
	"entsync/notify"
)

// TerminationReasonLostCustomer is recorded on every termination issued by
// the lost-customer procedure.
const TerminationReasonLostCustomer = "Suspected Lost Customer"

// processLostCustomer terminates every non-terminated entitlement of an
// agreement whose customer the vendor no longer recognizes. The cascade
// covers deployment agreements through the ledger; the vendor is assumed
// unreachable for this customer, so no vendor call is made. Each termination
// failure is alerted and the cascade moves on.
func (s *Syncer) processLostCustomer(ctx context.Context, agreement commerce.Agreement, opts Options) error {
	logger := s.logger.With("agreement", agreement.ID)

	var batch BatchResult
	s.terminateAgreementEntitlements(ctx, agreement, opts, &batch)

	rows, err := s.ledger.DeploymentsByMainAgreement(ctx, s.reconcileProductID(agreement), agreement.ID)
	if err != nil {
		return s.fail(ctx, logger, agreement.ID, fmt.Errorf("sync: list tracked deployments: %w", err))
	}
	deploymentAgreementIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.AgreementID != "" {
			deploymentAgreementIDs = append(deploymentAgreementIDs, row.AgreementID)
		}
	}
	for _, agreementID := range deploymentAgreementIDs {
		deploymentAgreement, err := s.commerce.GetAgreement(ctx, agreementID)
		if err != nil {
			logger.Error("failed to fetch deployment agreement for lost customer cascade",
				"deployment_agreement", agreementID, "error", err)
			batch.Record(agreementID, err)
			continue
		}
		s.terminateAgreementEntitlements(ctx, deploymentAgreement, opts, &batch)
	}

	if failed := batch.Failed(); len(failed) > 0 {
		logger.Warn("lost customer procedure finished with failures", "failed", len(failed))
	} else {
		logger.Info("lost customer procedure finished")
	}
	return nil
}

func (s *Syncer) terminateAgreementEntitlements(ctx context.Context, agreement commerce.Agreement, opts Options, batch *BatchResult) {
	for _, subscription := range agreement.Subscriptions {
		if subscription.Status == commerce.SubscriptionStatusTerminated {
			continue
		}
		s.logger.Info("terminating subscription for lost customer", "subscription", subscription.ID)
		if opts.DryRun {
			fmt.Fprintf(s.preview, "Terminate subscription: %s (lost customer)\n", subscription.ID)
			continue
		}
		if err := s.commerce.TerminateSubscription(ctx, subscription.ID, TerminationReasonLostCustomer); err != nil {
			s.logger.Error("failed to terminate subscription for lost customer",
				"subscription", subscription.ID, "error", err)
			s.notify(ctx, notify.LostCustomer(fmt.Sprintf(
				"error terminating subscription %s: %v", subscription.ID, err)))
			batch.Record(subscription.ID, err)
			continue
		}
		batch.Record(subscription.ID, nil)
	}

	for _, asset := range agreement.Assets {
		if asset.Status == commerce.AssetStatusTerminated {
			continue
		}
		s.logger.Info("terminating asset for lost customer", "asset", asset.ID)
		if opts.DryRun {
			fmt.Fprintf(s.preview, "Terminate asset: %s (lost customer)\n", asset.ID)
			continue
		}
		update := commerce.AssetUpdate{Status: commerce.AssetStatusTerminated}
		if err := s.commerce.UpdateAsset(ctx, asset.ID, update); err != nil {
			s.logger.Error("failed to terminate asset for lost customer", "asset", asset.ID, "error", err)
			s.notify(ctx, notify.LostCustomer(fmt.Sprintf(
				"error terminating asset %s: %v", asset.ID, err)))
			batch.Record(asset.ID, err)
			continue
		}
		batch.Record(asset.ID, nil)
	}
}

package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"entsync/commerce"
	"entsync/ledger"
	"entsync/licensing"
	"entsync/notify"
)

// trackMissingDeployments records vendor deployments the ledger does not
// know yet. New rows start pending with the topology derived from the
// customer's transfer identity; materialization into agreements happens on a
// later stage. One alert covers the whole batch.
func (s *Syncer) trackMissingDeployments(ctx context.Context, p pass, deployments []licensing.Deployment) error {
	logger := s.logger.With("agreement", p.agreement.ID)
	productID := s.reconcileProductID(p.agreement)

	tracked, err := s.ledger.DeploymentsByMainAgreement(ctx, productID, p.agreement.ID)
	if err != nil {
		return fmt.Errorf("sync: list tracked deployments: %w", err)
	}
	knownIDs := make(map[string]bool, len(tracked))
	for _, row := range tracked {
		knownIDs[row.DeploymentID] = true
	}

	var missing []licensing.Deployment
	for _, deployment := range deployments {
		if !knownIDs[deployment.DeploymentID] {
			missing = append(missing, deployment)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Slice(missing, func(i, j int) bool {
		return missing[i].DeploymentID < missing[j].DeploymentID
	})
	logger.Info("found untracked deployments", "count", len(missing))

	transfer, err := s.ledger.TransferByCustomer(ctx, productID, p.authorizationID, p.customerID)
	if err != nil {
		if errors.Is(err, ledger.ErrTransferNotFound) {
			logger.Info("no transfer identity for customer, deployments not tracked", "customer", p.customerID)
			return nil
		}
		return fmt.Errorf("sync: lookup transfer: %w", err)
	}

	rows := make([]ledger.Deployment, 0, len(missing))
	trackedIDs := make([]string, 0, len(missing))
	for _, deployment := range missing {
		logger.Info("tracking deployment", "deployment", deployment.DeploymentID)
		rows = append(rows, ledger.Deployment{
			DeploymentID:    deployment.DeploymentID,
			MainAgreementID: p.agreement.ID,
			MembershipID:    transfer.MembershipID,
			TransferID:      transfer.TransferID,
			CustomerID:      p.customerID,
			ProductID:       productID,
			AccountID:       refID(p.agreement.Client),
			SellerID:        refID(p.agreement.Seller),
			LicenseeID:      refID(p.agreement.Licensee),
			Currency:        s.deploymentCurrency(p, deployment.DeploymentID),
			Country:         deployment.CompanyProfile.Address.Country,
			Status:          ledger.StatusPending,
		})
		trackedIDs = append(trackedIDs, deployment.DeploymentID)
	}

	if p.opts.DryRun {
		for _, id := range trackedIDs {
			fmt.Fprintf(s.preview, "Track deployment: %s\n", id)
		}
		return nil
	}
	if err := s.ledger.CreateDeployments(ctx, rows); err != nil {
		return fmt.Errorf("sync: track deployments: %w", err)
	}
	s.notify(ctx, notify.NewDeployments(p.agreement.ID, trackedIDs))
	return nil
}

// deploymentCurrency infers a deployment's currency from its vendor
// subscriptions.
func (s *Syncer) deploymentCurrency(p pass, deploymentID string) string {
	for _, vendorSub := range p.vendorSubs {
		if vendorSub.DeploymentID == deploymentID {
			return vendorSub.CurrencyCode
		}
	}
	return ""
}

// syncDeploymentAgreements runs the full deployment stage of a global
// customer: pending ledger rows are materialized into agreements, vendor
// subscriptions bound to no local agreement get their auto-renewal disabled,
// and every tracked deployment agreement gets its own reconcile pass plus
// the commitment parameters propagated from the primary agreement.
func (s *Syncer) syncDeploymentAgreements(ctx context.Context, p pass, deployments []licensing.Deployment) error {
	if len(deployments) == 0 {
		return nil
	}

	if err := s.materializePendingDeployments(ctx, p, deployments); err != nil {
		return err
	}

	deploymentIDs := make([]string, 0, len(deployments))
	for _, deployment := range deployments {
		deploymentIDs = append(deploymentIDs, deployment.DeploymentID)
	}
	deploymentAgreements, err := s.commerce.GetAgreementsByCustomerDeployments(ctx, deploymentIDs)
	if err != nil {
		return fmt.Errorf("sync: get deployment agreements: %w", err)
	}

	s.disableOrphanedSubscriptions(ctx, p, deploymentAgreements)

	var batch BatchResult
	for _, deploymentAgreement := range deploymentAgreements {
		if deploymentAgreement.Status != commerce.AgreementStatusActive {
			continue
		}
		if err := s.syncDeploymentAgreement(ctx, p, deploymentAgreement); err != nil {
			s.logger.Error("failed to reconcile deployment agreement",
				"agreement", deploymentAgreement.ID, "error", err)
			batch.Record(deploymentAgreement.ID, err)
			continue
		}
		batch.Record(deploymentAgreement.ID, nil)
	}
	return batch.Err()
}

func (s *Syncer) syncDeploymentAgreement(ctx context.Context, p pass, agreement commerce.Agreement) error {
	if err := s.addMissingEntitlements(ctx, p, agreement); err != nil {
		return err
	}
	subscriptions, err := s.subscriptionsForUpdate(ctx, p, agreement)
	if err != nil {
		return err
	}
	if len(subscriptions) > 0 {
		if err := s.updateSubscriptions(ctx, p, agreement, subscriptions); err != nil {
			return err
		}
	}
	if err := s.updateAgreement(ctx, p, agreement); err != nil {
		return err
	}
	return s.propagateCommitmentParameters(ctx, p, agreement)
}

// propagateCommitmentParameters copies the primary agreement's commitment
// parameters onto a deployment agreement. Deployment agreements never talk
// to the vendor about commitments themselves.
func (s *Syncer) propagateCommitmentParameters(ctx context.Context, p pass, agreement commerce.Agreement) error {
	parameters := p.agreement.ThreeYCFulfillmentParameters()
	if len(parameters) == 0 || p.opts.DryRun {
		return nil
	}
	update := commerce.AgreementUpdate{
		Parameters: &commerce.Parameters{Fulfillment: parameters},
	}
	if err := s.commerce.UpdateAgreement(ctx, agreement.ID, update); err != nil {
		return fmt.Errorf("sync: propagate commitment parameters to %s: %w", agreement.ID, err)
	}
	return nil
}

// disableOrphanedSubscriptions turns off auto-renewal on vendor
// subscriptions that belong to a deployment but are referenced by no local
// subscription. Failures are alerted per subscription and never fail the
// pass. Subscriptions already non-renewing or not active are left alone.
func (s *Syncer) disableOrphanedSubscriptions(ctx context.Context, p pass, deploymentAgreements []commerce.Agreement) {
	known := make(map[string]bool)
	for _, agreement := range deploymentAgreements {
		for _, subscription := range agreement.Subscriptions {
			known[subscription.ExternalIDs.Vendor] = true
		}
	}

	for _, vendorSub := range p.vendorSubs {
		if vendorSub.DeploymentID == "" || known[vendorSub.SubscriptionID] {
			continue
		}
		if !vendorSub.AutoRenewal.Enabled || vendorSub.Status != licensing.StatusSubscriptionActive {
			continue
		}
		s.logger.Warn("disabling auto-renewal for orphaned vendor subscription", "vendor", vendorSub.SubscriptionID)
		if p.opts.DryRun {
			fmt.Fprintf(s.preview, "Disable auto-renewal: %s (orphaned)\n", vendorSub.SubscriptionID)
			continue
		}
		disabled := false
		if _, err := s.vendor.UpdateSubscription(ctx, p.authorizationID, p.customerID, vendorSub.SubscriptionID,
			licensing.SubscriptionUpdate{AutoRenewal: &disabled}); err != nil {
			s.notify(ctx, notify.OrphanedSubscription(vendorSub.SubscriptionID, err))
		}
	}
}

// materializePendingDeployments creates a deployment agreement for every
// pending ledger row. Topology lookups that fail park the row in error state
// with the reason recorded, so one bad deployment never blocks the rest.
func (s *Syncer) materializePendingDeployments(ctx context.Context, p pass, deployments []licensing.Deployment) error {
	productID := s.reconcileProductID(p.agreement)
	pending, err := s.ledger.PendingDeployments(ctx, productID, p.agreement.ID)
	if err != nil {
		return fmt.Errorf("sync: list pending deployments: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	deploymentsByID := make(map[string]licensing.Deployment, len(deployments))
	for _, deployment := range deployments {
		deploymentsByID[deployment.DeploymentID] = deployment
	}

	var batch BatchResult
	for _, row := range pending {
		if _, ok := deploymentsByID[row.DeploymentID]; !ok {
			s.logger.Info("pending deployment no longer active on vendor side", "deployment", row.DeploymentID)
			continue
		}
		if p.opts.DryRun {
			fmt.Fprintf(s.preview, "Materialize deployment agreement: %s\n", row.DeploymentID)
			continue
		}
		if err := s.materializeDeployment(ctx, p, row); err != nil {
			s.logger.Error("failed to materialize deployment agreement", "deployment", row.DeploymentID, "error", err)
			row.Status = ledger.StatusError
			row.ErrorDetail = err.Error()
			if updateErr := s.ledger.UpdateDeployment(ctx, row); updateErr != nil {
				s.logger.Error("failed to record deployment error", "deployment", row.DeploymentID, "error", updateErr)
			}
			batch.Record(row.DeploymentID, err)
		}
	}
	if failed := batch.Failed(); len(failed) > 0 {
		s.logger.Warn("some deployments failed to materialize", "failed", len(failed))
	}
	return nil
}

func (s *Syncer) materializeDeployment(ctx context.Context, p pass, row ledger.Deployment) error {
	productID := row.ProductID
	if row.Currency == "" {
		return fmt.Errorf("sync: deployment %s has no currency", row.DeploymentID)
	}

	authorization, ok, err := s.commerce.GetAuthorizationByCurrencyAndCountry(ctx, productID, row.Currency, row.Country)
	if err != nil {
		return fmt.Errorf("sync: resolve authorization: %w", err)
	}
	if !ok {
		return fmt.Errorf("sync: no authorization for currency %s country %s", row.Currency, row.Country)
	}

	priceList, ok, err := s.commerce.GetPriceListByCurrency(ctx, productID, row.Currency)
	if err != nil {
		return fmt.Errorf("sync: resolve price list: %w", err)
	}
	if !ok {
		return fmt.Errorf("sync: no price list for currency %s", row.Currency)
	}

	listing, ok, err := s.commerce.GetListing(ctx, productID, authorization.ID, priceList.ID)
	if err != nil {
		return fmt.Errorf("sync: resolve listing: %w", err)
	}
	if !ok {
		return fmt.Errorf("sync: no listing for authorization %s price list %s", authorization.ID, priceList.ID)
	}

	agreement := commerce.Agreement{
		Status: commerce.AgreementStatusActive,
		Name: fmt.Sprintf("%s - Deployment %s (%s)",
			p.agreement.Name, row.DeploymentID, row.Country),
		Parameters: commerce.Parameters{
			Fulfillment: []commerce.Parameter{
				{ExternalID: commerce.ParamCustomerID, Value: row.CustomerID},
				{ExternalID: commerce.ParamDeploymentID, Value: row.DeploymentID},
				{ExternalID: commerce.ParamMembershipID, Value: row.MembershipID},
				{ExternalID: commerce.ParamGlobalCustomer, Value: []string{"Yes"}},
				{ExternalID: commerce.ParamCotermDate, Value: p.customer.CotermDate},
			},
		},
		Product:       &commerce.NamedRef{ID: productID},
		Listing:       &commerce.Listing{ID: listing.ID},
		Authorization: &commerce.Reference{ID: authorization.ID},
		Client:        &commerce.Reference{ID: row.AccountID},
		Buyer:         p.agreement.Buyer,
		Seller:        p.agreement.Seller,
		Licensee:      p.agreement.Licensee,
		ExternalIDs:   commerce.ExternalIDs{Vendor: row.CustomerID},
	}
	created, err := s.commerce.CreateAgreement(ctx, agreement)
	if err != nil {
		return fmt.Errorf("sync: create deployment agreement: %w", err)
	}
	s.logger.Info("deployment agreement created", "deployment", row.DeploymentID, "agreement", created.ID)

	row.AgreementID = created.ID
	row.AuthorizationID = authorization.ID
	row.PriceListID = priceList.ID
	row.ListingID = listing.ID
	row.Status = ledger.StatusCreated
	row.ErrorDetail = ""
	if err := s.ledger.UpdateDeployment(ctx, row); err != nil {
		return fmt.Errorf("sync: mark deployment created: %w", err)
	}
	return nil
}

func refID(ref *commerce.Reference) string {
	if ref == nil {
		return ""
	}
	return ref.ID
}

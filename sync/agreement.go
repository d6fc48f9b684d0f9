package sync

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"entsync/commerce"
	"entsync/licensing"
)

// updateAgreement pushes the customer-level parameters onto the agreement:
// the coterm date, the three-year-commitment window and its committed
// minimum quantities, plus the re-priced one-time lines.
func (s *Syncer) updateAgreement(ctx context.Context, p pass, agreement commerce.Agreement) error {
	parameters := commerce.Parameters{}

	if commitment := p.customer.Commitment(); commitment != nil {
		s.addCommitmentParameters(&parameters, p, agreement, commitment)
	}

	parameters.Fulfillment = append(parameters.Fulfillment, commerce.Parameter{
		ExternalID: commerce.ParamCotermDate,
		Value:      p.customer.CotermDate,
	})

	if p.opts.DryRun {
		s.logger.Info("dry run, agreement parameters not updated", "agreement", agreement.ID)
		return nil
	}

	update := commerce.AgreementUpdate{
		Lines:      agreement.Lines,
		Parameters: &parameters,
	}
	if err := s.commerce.UpdateAgreement(ctx, agreement.ID, update); err != nil {
		return fmt.Errorf("sync: update agreement %s: %w", agreement.ID, err)
	}
	s.logger.Info("agreement updated", "agreement", agreement.ID)
	return nil
}

// addCommitmentParameters mirrors the commitment window, enrollment status,
// pending request status and committed minimums onto the agreement. Whether
// the request parameters land on the commitment or recommitment external ids
// depends on whether a recommitment was ever requested on the agreement.
func (s *Syncer) addCommitmentParameters(parameters *commerce.Parameters, p pass, agreement commerce.Agreement, commitment *licensing.Commitment) {
	recommitment := agreement.Parameters.FulfillmentValue(commerce.Param3YCRecommitment) != ""

	statusParam := commerce.Param3YCCommitmentReqStatus
	if recommitment {
		statusParam = commerce.Param3YCRecommitmentReqStatus
	}
	requestStatus := ""
	if request := p.customer.CommitmentRequest(recommitment); request != nil {
		requestStatus = request.Status
	}

	parameters.Fulfillment = append(parameters.Fulfillment,
		commerce.Parameter{ExternalID: statusParam, Value: requestStatus},
		commerce.Parameter{ExternalID: commerce.Param3YCEnrollStatus, Value: commitment.Status},
		commerce.Parameter{ExternalID: commerce.Param3YCStartDate, Value: commitment.StartDate},
		commerce.Parameter{ExternalID: commerce.Param3YCEndDate, Value: commitment.EndDate},
	)

	// The request flag itself is cleared once the vendor reports on it.
	if recommitment {
		parameters.Fulfillment = append(parameters.Fulfillment,
			commerce.Parameter{ExternalID: commerce.Param3YCRecommitment, Value: nil})
	} else {
		parameters.Ordering = append(parameters.Ordering,
			commerce.Parameter{ExternalID: commerce.Param3YC, Value: nil})
	}

	for _, minimum := range commitment.MinimumQuantities {
		switch minimum.OfferType {
		case licensing.OfferTypeLicense:
			parameters.Ordering = append(parameters.Ordering, commerce.Parameter{
				ExternalID: commerce.Param3YCLicenses,
				Value:      strconv.Itoa(minimum.Quantity),
			})
		case licensing.OfferTypeConsumables:
			parameters.Ordering = append(parameters.Ordering, commerce.Parameter{
				ExternalID: commerce.Param3YCConsumables,
				Value:      strconv.Itoa(minimum.Quantity),
			})
		}
	}
}

// syncGlobalCustomerParameters stamps the global-customer flag and the
// tracked deployment list on the primary agreement, and records newly
// observed deployments in the ledger.
func (s *Syncer) syncGlobalCustomerParameters(ctx context.Context, p pass, deployments []licensing.Deployment) error {
	logger := s.logger.With("agreement", p.agreement.ID)
	var fulfillment []commerce.Parameter

	if !p.agreement.IsGlobalCustomer() {
		logger.Info("setting global customer flag")
		fulfillment = append(fulfillment, commerce.Parameter{
			ExternalID: commerce.ParamGlobalCustomer,
			Value:      []string{"Yes"},
		})
	}

	descriptors := make([]string, 0, len(deployments))
	for _, deployment := range deployments {
		descriptors = append(descriptors, fmt.Sprintf("%s - %s",
			deployment.DeploymentID, deployment.CompanyProfile.Address.Country))
	}
	if !equalStrings(descriptors, p.agreement.DeploymentsCSV()) {
		logger.Info("setting deployments parameter", "deployments", descriptors)
		fulfillment = append(fulfillment, commerce.Parameter{
			ExternalID: commerce.ParamDeployments,
			Value:      strings.Join(descriptors, ","),
		})
		if err := s.trackMissingDeployments(ctx, p, deployments); err != nil {
			return err
		}
	}

	if len(fulfillment) == 0 {
		return nil
	}
	if p.opts.DryRun {
		logger.Info("dry run, global customer parameters not updated")
		return nil
	}
	update := commerce.AgreementUpdate{
		Parameters: &commerce.Parameters{Fulfillment: fulfillment},
	}
	if err := s.commerce.UpdateAgreement(ctx, p.agreement.ID, update); err != nil {
		return fmt.Errorf("sync: update global customer parameters: %w", err)
	}
	return nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

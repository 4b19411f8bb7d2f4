package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/calibration-cert-api/internal/dto"
	"github.com/noah-isme/calibration-cert-api/internal/models"
	"github.com/noah-isme/calibration-cert-api/internal/repository"
	appErrors "github.com/noah-isme/calibration-cert-api/pkg/errors"
)

// rejectionRoute is where a rejected certificate goes and how the ledger is repaired.
type rejectionRoute struct {
	destination   models.RejectionDestination
	nextStatus    models.CertificateStatus
	resetLevelOne bool
}

// routeRejection resolves the destination for a rejection at level.
// Level 1 always returns to the creator; level 2 may return to the creator or to verifikator 1.
func routeRejection(level models.VerificationLevel, destination models.RejectionDestination) (rejectionRoute, error) {
	if destination == "" {
		destination = models.RejectionDestinationCreator
	}
	switch level {
	case models.VerificationLevelOne:
		if destination != models.RejectionDestinationCreator {
			return rejectionRoute{}, appErrors.Clone(appErrors.ErrInvalidDestination, "level 1 rejections always return to the creator")
		}
		return rejectionRoute{destination: destination, nextStatus: models.CertificateStatusDraft}, nil
	case models.VerificationLevelTwo:
		switch destination {
		case models.RejectionDestinationCreator:
			return rejectionRoute{destination: destination, nextStatus: models.CertificateStatusDraft}, nil
		case models.RejectionDestinationVerifikator1:
			return rejectionRoute{destination: destination, nextStatus: models.CertificateStatusSent, resetLevelOne: true}, nil
		}
		return rejectionRoute{}, appErrors.Clone(appErrors.ErrInvalidDestination,
			fmt.Sprintf("unsupported rejection destination %q", destination))
	}
	return rejectionRoute{}, appErrors.Clone(appErrors.ErrInvalidDestination, fmt.Sprintf("level %d cannot be rejected", level))
}

// Reject records a rejection at a level and routes the certificate back to its destination.
func (s *WorkflowService) Reject(ctx context.Context, certificateID int64, req dto.RejectRequest, actorID string) (*models.Certificate, error) {
	if actorID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	if req.VerificationLevel == models.VerificationLevelThree {
		return nil, appErrors.Clone(appErrors.ErrValidation, "level 3 can only approve or abstain")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid rejection payload")
	}

	cert, ledger, err := s.loadState(ctx, certificateID)
	if err != nil {
		return nil, err
	}
	level := req.VerificationLevel
	if err := authorizeDecision(cert, ledger, level, actorID); err != nil {
		s.metrics.RecordDecision(int(level), appErrors.FromError(err).Code)
		return nil, err
	}
	route, err := routeRejection(level, req.RejectionDestination)
	if err != nil {
		return nil, err
	}
	record := ledger[level]
	if record == nil {
		return nil, appErrors.Clone(appErrors.ErrSequenceViolation, "no verification is open at this level; resend the certificate to verifiers")
	}
	if record.Status != models.VerificationStatusPending {
		return nil, appErrors.ErrAlreadyProcessed
	}

	reason := strings.TrimSpace(req.RejectionReason)
	err = s.ledger.Reject(ctx, repository.RejectParams{
		CertificateID: cert.ID,
		Level:         level,
		Version:       cert.Version,
		RejectedBy:    actorID,
		Reason:        reason,
		Notes:         optionalString(reason),
		Destination:   route.destination,
		RejectedAt:    s.now(),
		NextStatus:    route.nextStatus,
		ResetLevelOne: route.resetLevelOne,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrAlreadyProcessed
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record rejection")
	}

	s.metrics.RecordDecision(int(level), string(models.VerificationStatusRejected))
	emitAudit(ctx, s.audit, s.logger, "workflow-service",
		certificateAudit(models.AuditActionReject, models.AuditOutcomeSuccess, actorID, cert.ID),
		map[string]interface{}{
			"verification_level":    level,
			"rejection_destination": route.destination,
			"certificate_version":   cert.Version,
			"reason":                reason,
		})
	s.logger.Info("verification rejected",
		zap.Int64("certificate_id", cert.ID),
		zap.Int("level", int(level)),
		zap.String("destination", string(route.destination)),
		zap.String("actor_id", actorID),
	)
	return loadCertificate(ctx, s.certificates, cert.ID)
}

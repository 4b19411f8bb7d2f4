package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/calibration-cert-api/internal/dto"
	"github.com/noah-isme/calibration-cert-api/internal/models"
	"github.com/noah-isme/calibration-cert-api/internal/repository"
	appErrors "github.com/noah-isme/calibration-cert-api/pkg/errors"
)

type certificateLoader interface {
	GetByID(ctx context.Context, id int64) (*models.Certificate, error)
}

type ledgerStore interface {
	ListByCertificate(ctx context.Context, certificateID int64) ([]models.VerificationRecord, error)
	Reseed(ctx context.Context, certificateID int64, version int) error
	Approve(ctx context.Context, params repository.DecisionParams) (*models.VerificationRecord, error)
	Insert(ctx context.Context, record *models.VerificationRecord) error
	Reject(ctx context.Context, params repository.RejectParams) error
}

// Level3Signer performs the final approval through the signing provider.
type Level3Signer interface {
	SignLevel3(ctx context.Context, certificateID int64, actorID, passphrase string) (*models.VerificationRecord, error)
}

// WorkflowService is the approval state machine: it gates and applies level 1 and 2
// decisions, routes rejections and (re)starts the workflow for a certificate version.
type WorkflowService struct {
	certificates certificateLoader
	ledger       ledgerStore
	signer       Level3Signer
	audit        auditLogger
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
	now          func() time.Time
}

// NewWorkflowService constructs the service.
func NewWorkflowService(certificates certificateLoader, ledger ledgerStore, signer Level3Signer, audit auditLogger, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *WorkflowService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &WorkflowService{
		certificates: certificates,
		ledger:       ledger,
		signer:       signer,
		audit:        audit,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SendToVerifiers starts verification of the certificate's current version.
func (s *WorkflowService) SendToVerifiers(ctx context.Context, certificateID int64, actor *models.JWTClaims) (*models.Certificate, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	cert, err := loadCertificate(ctx, s.certificates, certificateID)
	if err != nil {
		return nil, err
	}
	if cert.CreatedBy != actor.UserID && actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the certificate creator may send it to verifiers")
	}
	if !cert.HasAllRoles() {
		return nil, appErrors.Clone(appErrors.ErrIncompleteAssignment, "verifikator_1, verifikator_2 and authorized_by must all be assigned")
	}
	switch cert.Status {
	case models.CertificateStatusSigned:
		return nil, appErrors.Clone(appErrors.ErrCertificateLocked, "certificate is already signed")
	case models.CertificateStatusSent:
		return nil, appErrors.Clone(appErrors.ErrConflict, "certificate version is already with the verifiers")
	}
	if cert.RejectionHistory.UnresolvedFor(cert.Version) {
		return nil, appErrors.Clone(appErrors.ErrBlockedByRejection, "certificate was rejected at this version and must be revised before resending")
	}

	if err := s.ledger.Reseed(ctx, cert.ID, cert.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if current, loadErr := loadCertificate(ctx, s.certificates, certificateID); loadErr == nil && !current.HasAllRoles() {
				return nil, appErrors.Clone(appErrors.ErrIncompleteAssignment, "verifikator_1, verifikator_2 and authorized_by must all be assigned")
			}
			return nil, appErrors.Clone(appErrors.ErrConflict, "certificate changed while sending; reload and retry")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to seed verification records")
	}
	emitAudit(ctx, s.audit, s.logger, "workflow-service",
		certificateAudit(models.AuditActionSendToVerifiers, models.AuditOutcomeSuccess, actor.UserID, cert.ID),
		map[string]interface{}{"certificate_version": cert.Version})
	s.logger.Info("certificate sent to verifiers",
		zap.Int64("certificate_id", cert.ID),
		zap.Int("version", cert.Version),
		zap.String("actor_id", actor.UserID),
	)
	return loadCertificate(ctx, s.certificates, certificateID)
}

// RecordDecision applies a verification decision by the authenticated actor.
// The verifier is always the actor; any verified_by in the request is ignored.
func (s *WorkflowService) RecordDecision(ctx context.Context, req dto.VerificationDecisionRequest, actorID string) (*models.VerificationRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid verification payload")
	}
	if actorID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	if req.VerifiedBy != "" && req.VerifiedBy != actorID {
		s.logger.Warn("ignoring client supplied verified_by",
			zap.Int64("certificate_id", req.CertificateID),
			zap.String("actor_id", actorID),
		)
	}

	if req.VerificationLevel == models.VerificationLevelThree {
		if req.Status != models.VerificationStatusApproved {
			return nil, appErrors.Clone(appErrors.ErrValidation, "level 3 can only be approved by signing")
		}
		if strings.TrimSpace(req.Passphrase) == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "passphrase is required to sign at level 3")
		}
		if s.signer == nil {
			return nil, appErrors.Clone(appErrors.ErrSigningProvider, "signing is not configured")
		}
		if err := s.checkVersion(ctx, req); err != nil {
			return nil, err
		}
		return s.signer.SignLevel3(ctx, req.CertificateID, actorID, req.Passphrase)
	}

	if req.Status == models.VerificationStatusRejected {
		reason := strings.TrimSpace(req.RejectionReason)
		if reason == "" {
			reason = strings.TrimSpace(req.Notes)
		}
		rejectReq := dto.RejectRequest{VerificationLevel: req.VerificationLevel, RejectionReason: reason}
		if req.RejectionDestination != nil {
			rejectReq.RejectionDestination = *req.RejectionDestination
		}
		if err := s.checkVersion(ctx, req); err != nil {
			return nil, err
		}
		cert, err := s.Reject(ctx, req.CertificateID, rejectReq, actorID)
		if err != nil {
			return nil, err
		}
		records, err := s.ledger.ListByCertificate(ctx, cert.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load verification records")
		}
		if record := models.NewLedger(records, cert.Version)[req.VerificationLevel]; record != nil {
			return record, nil
		}
		return nil, appErrors.ErrNotFound
	}

	return s.approve(ctx, req, actorID)
}

func (s *WorkflowService) approve(ctx context.Context, req dto.VerificationDecisionRequest, actorID string) (*models.VerificationRecord, error) {
	level := req.VerificationLevel
	cert, ledger, err := s.loadState(ctx, req.CertificateID)
	if err != nil {
		return nil, err
	}
	if err := authorizeDecision(cert, ledger, level, actorID); err != nil {
		s.metrics.RecordDecision(int(level), appErrors.FromError(err).Code)
		return nil, err
	}
	if req.CertificateVersion != nil && *req.CertificateVersion != cert.Version {
		return nil, staleVersion(*req.CertificateVersion, cert.Version)
	}
	existing := ledger[level]
	if existing != nil && existing.Status != models.VerificationStatusPending {
		return nil, appErrors.ErrDuplicateVerification
	}

	now := s.now()
	var record *models.VerificationRecord
	if existing != nil {
		record, err = s.ledger.Approve(ctx, repository.DecisionParams{
			CertificateID: cert.ID,
			Level:         level,
			Version:       cert.Version,
			VerifiedBy:    actorID,
			Notes:         optionalString(req.Notes),
			ApprovalNotes: optionalString(req.ApprovalNotes),
			DecidedAt:     now,
		})
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrDuplicateVerification
		}
	} else {
		record = &models.VerificationRecord{
			CertificateID:      cert.ID,
			VerificationLevel:  level,
			CertificateVersion: cert.Version,
			Status:             models.VerificationStatusApproved,
			VerifiedBy:         &actorID,
			Notes:              optionalString(req.Notes),
			ApprovalNotes:      optionalString(req.ApprovalNotes),
		}
		err = s.ledger.Insert(ctx, record)
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.ErrDuplicateVerification
		}
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record verification")
	}

	s.metrics.RecordDecision(int(level), string(models.VerificationStatusApproved))
	emitAudit(ctx, s.audit, s.logger, "workflow-service",
		certificateAudit(models.AuditActionVerificationCheck, models.AuditOutcomeSuccess, actorID, cert.ID),
		map[string]interface{}{"verification_level": level, "status": models.VerificationStatusApproved, "certificate_version": cert.Version})
	s.logger.Info("verification approved",
		zap.Int64("certificate_id", cert.ID),
		zap.Int("level", int(level)),
		zap.Int("version", cert.Version),
		zap.String("actor_id", actorID),
	)
	return record, nil
}

func (s *WorkflowService) checkVersion(ctx context.Context, req dto.VerificationDecisionRequest) error {
	if req.CertificateVersion == nil {
		return nil
	}
	cert, err := loadCertificate(ctx, s.certificates, req.CertificateID)
	if err != nil {
		return err
	}
	if *req.CertificateVersion != cert.Version {
		return staleVersion(*req.CertificateVersion, cert.Version)
	}
	return nil
}

// loadState reads the certificate and its ledger for the current version straight from the store.
func (s *WorkflowService) loadState(ctx context.Context, certificateID int64) (*models.Certificate, models.Ledger, error) {
	return loadWorkflowState(ctx, s.certificates, s.ledger, certificateID)
}

type ledgerLister interface {
	ListByCertificate(ctx context.Context, certificateID int64) ([]models.VerificationRecord, error)
}

func loadWorkflowState(ctx context.Context, certificates certificateLoader, ledger ledgerLister, certificateID int64) (*models.Certificate, models.Ledger, error) {
	cert, err := loadCertificate(ctx, certificates, certificateID)
	if err != nil {
		return nil, nil, err
	}
	records, err := ledger.ListByCertificate(ctx, cert.ID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load verification records")
	}
	return cert, models.NewLedger(records, cert.Version), nil
}

// authorizeDecision checks whether actorID may act at level on the certificate's current version.
func authorizeDecision(cert *models.Certificate, ledger models.Ledger, level models.VerificationLevel, actorID string) error {
	if !level.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "verification_level must be 1, 2 or 3")
	}
	if actorID == "" || cert.RoleHolder(level) != actorID {
		return appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("only the assigned %s may act at level %d", level.Role(), level))
	}
	if !cert.HasVerifiers() {
		return appErrors.ErrIncompleteAssignment
	}
	if ledger.HasRejection() {
		return appErrors.ErrBlockedByRejection
	}
	if cert.Status != models.CertificateStatusSent {
		return appErrors.Clone(appErrors.ErrSequenceViolation, "certificate is not awaiting verification")
	}
	if !ledger.Actionable(level) {
		return appErrors.Clone(appErrors.ErrSequenceViolation, fmt.Sprintf("level %d must be approved first", level-1))
	}
	return nil
}

func staleVersion(submitted, current int) error {
	return appErrors.Clone(appErrors.ErrSequenceViolation,
		fmt.Sprintf("certificate version %d is stale; current version is %d", submitted, current))
}

func loadCertificate(ctx context.Context, store certificateLoader, id int64) (*models.Certificate, error) {
	cert, err := store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "certificate not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load certificate")
	}
	return cert, nil
}

func optionalString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	v := strings.TrimSpace(value)
	return &v
}

package service

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/calibration-cert-api/internal/dto"
	"github.com/noah-isme/calibration-cert-api/internal/models"
	"github.com/noah-isme/calibration-cert-api/internal/repository"
	"github.com/noah-isme/calibration-cert-api/pkg/bsre"
	appErrors "github.com/noah-isme/calibration-cert-api/pkg/errors"
	"github.com/noah-isme/calibration-cert-api/pkg/jobs"
)

type signatureLedger interface {
	ListByCertificate(ctx context.Context, certificateID int64) ([]models.VerificationRecord, error)
	LatestLevel3(ctx context.Context, certificateID int64) (*models.VerificationRecord, error)
	UpsertLevel3(ctx context.Context, params repository.SignatureParams) (*models.VerificationRecord, error)
}

// PDFScheduler queues certificate PDF generation.
type PDFScheduler interface {
	Enqueue(certificateID int64) error
}

type cacheInvalidator interface {
	Invalidate(ctx context.Context, keys ...string) error
}

// SignatureService applies the level-3 electronic signature through BSrE.
// It is the only path that writes an approved level-3 record.
type SignatureService struct {
	certificates certificateLoader
	ledger       signatureLedger
	provider     bsre.Signer
	audit        auditLogger
	pdf          PDFScheduler
	cache        cacheInvalidator
	metrics      *MetricsService
	timeout      time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

// SignatureServiceOption configures optional collaborators.
type SignatureServiceOption func(*SignatureService)

// WithPDFScheduler wires post-signature PDF generation.
func WithPDFScheduler(pdf PDFScheduler) SignatureServiceOption {
	return func(s *SignatureService) {
		s.pdf = pdf
	}
}

// WithCacheInvalidator clears public verification entries after signing.
func WithCacheInvalidator(cache cacheInvalidator) SignatureServiceOption {
	return func(s *SignatureService) {
		s.cache = cache
	}
}

// WithSignatureMetrics records signing outcomes.
func WithSignatureMetrics(metrics *MetricsService) SignatureServiceOption {
	return func(s *SignatureService) {
		s.metrics = metrics
	}
}

// NewSignatureService constructs the service. timeout bounds each provider call.
func NewSignatureService(certificates certificateLoader, ledger signatureLedger, provider bsre.Signer, audit auditLogger, timeout time.Duration, logger *zap.Logger, opts ...SignatureServiceOption) *SignatureService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	svc := &SignatureService{
		certificates: certificates,
		ledger:       ledger,
		provider:     provider,
		audit:        audit,
		timeout:      timeout,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// SignLevel3 signs the certificate's current version on behalf of its authorized_by signer.
// A repeated call after success returns the existing record without contacting the provider.
func (s *SignatureService) SignLevel3(ctx context.Context, certificateID int64, actorID, passphrase string) (*models.VerificationRecord, error) {
	cert, ledger, err := loadWorkflowState(ctx, s.certificates, s.ledger, certificateID)
	if err != nil {
		return nil, err
	}
	details := map[string]interface{}{"certificate_version": cert.Version}
	fail := func(outcome string, err error) (*models.VerificationRecord, error) {
		details["error"] = err.Error()
		emitAudit(ctx, s.audit, s.logger, "signature-service",
			certificateAudit(models.AuditActionBSrESign, outcome, actorID, cert.ID), details)
		s.metrics.RecordSignature(outcome, 0)
		return nil, err
	}

	if actorID == "" || cert.RoleHolder(models.VerificationLevelThree) != actorID {
		return fail(models.AuditOutcomeRejected, appErrors.Clone(appErrors.ErrForbidden, "only the assigned authorized_by may sign"))
	}
	if existing := ledger[models.VerificationLevelThree]; existing != nil && existing.Status == models.VerificationStatusApproved {
		s.logger.Info("certificate already signed at this version",
			zap.Int64("certificate_id", cert.ID),
			zap.Int("version", cert.Version),
		)
		return existing, nil
	}
	if err := authorizeDecision(cert, ledger, models.VerificationLevelThree, actorID); err != nil {
		return fail(models.AuditOutcomeRejected, err)
	}

	// Provider call and persistence outlive the request context.
	workCtx := context.WithoutCancel(ctx)
	signCtx, cancel := context.WithTimeout(workCtx, s.timeout)
	defer cancel()

	started := time.Now()
	result, err := s.provider.Sign(signCtx, bsre.SignRequest{Passphrase: passphrase, DocumentID: documentReference(cert.PublicID, cert.Version)})
	latency := time.Since(started)
	if err != nil {
		if errors.Is(err, bsre.ErrInvalidPassphrase) {
			return fail(models.AuditOutcomeInvalidPassphrase, appErrors.ErrInvalidPassphrase)
		}
		s.logger.Warn("signing provider call failed", zap.Int64("certificate_id", cert.ID), zap.Duration("latency", latency), zap.Error(err))
		return fail(models.AuditOutcomeProviderError, appErrors.Wrap(err, appErrors.ErrSigningProvider.Code, appErrors.ErrSigningProvider.Status, appErrors.ErrSigningProvider.Message))
	}

	signatureData := []byte(result.Raw)
	if len(signatureData) == 0 {
		signatureData, _ = json.Marshal(result)
	}
	timestampData := s.trustedTimestamp(workCtx, cert, signatureData, result)

	record, err := s.ledger.UpsertLevel3(workCtx, repository.SignatureParams{
		CertificateID: cert.ID,
		Version:       cert.Version,
		SignedBy:      actorID,
		SignatureData: signatureData,
		TimestampData: timestampData,
		SignedAt:      s.now(),
	})
	if err != nil {
		s.logger.Error("signature issued but not persisted",
			zap.Int64("certificate_id", cert.ID),
			zap.Int("version", cert.Version),
			zap.ByteString("signature_data", signatureData),
			zap.Error(err),
		)
		return fail(models.AuditOutcomeError, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist signature"))
	}

	details["provider"] = result.Provider
	emitAudit(ctx, s.audit, s.logger, "signature-service",
		certificateAudit(models.AuditActionBSrESign, models.AuditOutcomeSuccess, actorID, cert.ID), details)
	s.metrics.RecordSignature(models.AuditOutcomeSuccess, latency)
	s.logger.Info("certificate signed",
		zap.Int64("certificate_id", cert.ID),
		zap.Int("version", cert.Version),
		zap.String("actor_id", actorID),
		zap.Duration("provider_latency", latency),
	)

	if s.cache != nil {
		_ = s.cache.Invalidate(workCtx, PublicVerificationKeys(cert.NoCertificate, cert.PublicID)...)
	}
	if s.pdf != nil {
		if err := s.pdf.Enqueue(cert.ID); err != nil && !errors.Is(err, jobs.ErrAlreadyQueued) {
			s.logger.Warn("failed to queue certificate pdf", zap.Int64("certificate_id", cert.ID), zap.Error(err))
		}
	}
	return record, nil
}

// trustedTimestamp asks the provider to timestamp the signed document hash. On failure the
// sign response's own timestamp is kept so the record still carries a signing time.
func (s *SignatureService) trustedTimestamp(ctx context.Context, cert *models.Certificate, signatureData []byte, result *bsre.SignResult) []byte {
	hash := documentHash(cert, signatureData)
	tsCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ts, err := s.provider.Timestamp(tsCtx, hash)
	if err != nil {
		s.logger.Warn("trusted timestamp unavailable", zap.Int64("certificate_id", cert.ID), zap.Error(err))
		fallback, _ := json.Marshal(map[string]string{
			"timestamp":     result.Timestamp,
			"document_hash": hash,
			"source":        "sign",
		})
		return fallback
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"token":         ts.Token,
		"timestamp":     ts.Timestamp,
		"document_hash": hash,
		"source":        "tsa",
	})
	return payload
}

// VerifySignature re-checks the stored level-3 signature with the provider.
func (s *SignatureService) VerifySignature(ctx context.Context, certificateID int64) (*dto.VerifySignatureResponse, error) {
	cert, err := loadCertificate(ctx, s.certificates, certificateID)
	if err != nil {
		return nil, err
	}
	record, err := s.ledger.LatestLevel3(ctx, cert.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "certificate has not been signed")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load signature")
	}
	if record.Status != models.VerificationStatusApproved || record.SignatureData == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "certificate has not been signed")
	}

	verifyCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	result, err := s.provider.Verify(verifyCtx, bsre.VerifyRequest{
		DocumentID:    documentReference(cert.PublicID, record.CertificateVersion),
		SignatureData: json.RawMessage(*record.SignatureData),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrSigningProvider.Code, appErrors.ErrSigningProvider.Status, appErrors.ErrSigningProvider.Message)
	}
	resp := &dto.VerifySignatureResponse{CertificateID: cert.ID, Valid: result.Valid, Signer: result.Signer}
	if ts, err := time.Parse(time.RFC3339, result.Timestamp); err == nil {
		resp.Timestamp = &ts
	}
	return resp, nil
}

func documentReference(publicID string, version int) string {
	return fmt.Sprintf("%s:v%d", publicID, version)
}

func documentHash(cert *models.Certificate, signatureData []byte) string {
	payload, _ := json.Marshal(struct {
		PublicID      string          `json:"public_id"`
		NoCertificate string          `json:"no_certificate"`
		Version       int             `json:"version"`
		IssueDate     time.Time       `json:"issue_date"`
		Results       json.RawMessage `json:"results"`
		Signature     json.RawMessage `json:"signature"`
	}{
		PublicID:      cert.PublicID,
		NoCertificate: cert.NoCertificate,
		Version:       cert.Version,
		IssueDate:     cert.IssueDate,
		Results:       rawOrNull(cert.Results),
		Signature:     rawOrNull(signatureData),
	})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func rawOrNull(data []byte) json.RawMessage {
	if len(data) == 0 || !json.Valid(data) {
		return json.RawMessage("null")
	}
	return json.RawMessage(data)
}

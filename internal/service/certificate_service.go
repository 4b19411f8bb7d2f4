package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/calibration-cert-api/internal/dto"
	"github.com/noah-isme/calibration-cert-api/internal/models"
	appErrors "github.com/noah-isme/calibration-cert-api/pkg/errors"
)

type certificateRepository interface {
	Create(ctx context.Context, cert *models.Certificate) error
	GetByID(ctx context.Context, id int64) (*models.Certificate, error)
	List(ctx context.Context, filter models.CertificateFilter) ([]models.Certificate, error)
	Update(ctx context.Context, cert *models.Certificate, expectedVersion int) error
}

type auditReader interface {
	ListByResource(ctx context.Context, resource, resourceID string, limit int) ([]models.AuditLog, error)
}

// CertificateService manages the certificate document outside the verification workflow.
type CertificateService struct {
	repo      certificateRepository
	ledger    ledgerLister
	audits    auditReader
	validator *validator.Validate
	logger    *zap.Logger
	cache     cacheInvalidator
}

// CertificateServiceOption configures optional collaborators.
type CertificateServiceOption func(*CertificateService)

// WithCertificateCache clears public verification entries when a certificate number is written.
func WithCertificateCache(cache cacheInvalidator) CertificateServiceOption {
	return func(s *CertificateService) {
		s.cache = cache
	}
}

// NewCertificateService creates a new certificate service instance.
func NewCertificateService(repo certificateRepository, ledger ledgerLister, audits auditReader, validate *validator.Validate, logger *zap.Logger, opts ...CertificateServiceOption) *CertificateService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &CertificateService{repo: repo, ledger: ledger, audits: audits, validator: validate, logger: logger}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Create stores a new draft at version 1.
func (s *CertificateService) Create(ctx context.Context, req dto.CreateCertificateRequest, actorID string) (*models.Certificate, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid certificate payload")
	}
	results, err := normalizeResults(req.Results)
	if err != nil {
		return nil, err
	}

	cert := &models.Certificate{
		NoCertificate:    strings.TrimSpace(req.NoCertificate),
		NoOrder:          strings.TrimSpace(req.NoOrder),
		NoIdentification: strings.TrimSpace(req.NoIdentification),
		IssueDate:        req.IssueDate,
		Station:          req.Station,
		Instrument:       req.Instrument,
		StationAddress:   req.StationAddress,
		Results:          results,
		Verifikator1:     trimmedOrNil(req.Verifikator1),
		Verifikator2:     trimmedOrNil(req.Verifikator2),
		AuthorizedBy:     trimmedOrNil(req.AuthorizedBy),
		Status:           models.CertificateStatusDraft,
		Version:          1,
		CreatedBy:        actorID,
	}
	if err := s.repo.Create(ctx, cert); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create certificate")
	}
	s.logger.Info("certificate created", zap.Int64("certificate_id", cert.ID), zap.String("no_certificate", cert.NoCertificate))
	s.invalidatePublic(ctx, cert.NoCertificate)
	return cert, nil
}

// Get returns a certificate by ID.
func (s *CertificateService) Get(ctx context.Context, id int64) (*models.Certificate, error) {
	return loadCertificate(ctx, s.repo, id)
}

// List returns certificates filtered by status and search term.
func (s *CertificateService) List(ctx context.Context, query dto.CertificateQuery) ([]models.Certificate, error) {
	certs, err := s.repo.List(ctx, models.CertificateFilter{
		Status: query.Status,
		Search: strings.TrimSpace(query.Search),
		Limit:  query.Limit,
		Offset: query.Offset,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list certificates")
	}
	return certs, nil
}

// Update applies a partial edit to a draft. The version is bumped only when a content
// field actually changes; role reassignment keeps the current version.
func (s *CertificateService) Update(ctx context.Context, id int64, req dto.UpdateCertificateRequest, actor *models.JWTClaims) (*models.Certificate, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid certificate payload")
	}
	cert, err := loadCertificate(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleAdmin && actor.UserID != cert.CreatedBy {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the creator may edit this certificate")
	}
	if cert.Status != models.CertificateStatusDraft {
		return nil, appErrors.ErrCertificateLocked
	}

	previousNumber := cert.NoCertificate
	contentChanged, err := applyCertificateUpdate(cert, req)
	if err != nil {
		return nil, err
	}
	expected := cert.Version
	if contentChanged {
		cert.Version++
	}
	if err := s.repo.Update(ctx, cert, expected); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "certificate was modified concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update certificate")
	}
	s.logger.Info("certificate updated",
		zap.Int64("certificate_id", cert.ID),
		zap.Int("version", cert.Version),
		zap.Bool("content_changed", contentChanged),
	)
	s.invalidatePublic(ctx, previousNumber, cert.NoCertificate)
	return cert, nil
}

// invalidatePublic drops cached lookups by number. A cached miss for a number must not
// outlive a write that creates or renames a certificate under it.
func (s *CertificateService) invalidatePublic(ctx context.Context, numbers ...string) {
	if s.cache == nil {
		return
	}
	keys := make([]string, 0, len(numbers))
	seen := make(map[string]struct{}, len(numbers))
	for _, number := range numbers {
		if _, ok := seen[number]; ok {
			continue
		}
		seen[number] = struct{}{}
		keys = append(keys, PublicVerificationKeys(number, "")...)
	}
	if len(keys) == 0 {
		return
	}
	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		s.logger.Warn("failed to invalidate public verification cache", zap.Strings("keys", keys), zap.Error(err))
	}
}

// History returns every ledger row of the certificate across versions, newest version first.
func (s *CertificateService) History(ctx context.Context, id int64) ([]models.VerificationRecord, error) {
	cert, err := loadCertificate(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}
	records, err := s.ledger.ListByCertificate(ctx, cert.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load verification history")
	}
	return records, nil
}

// AuditTrail lists audit entries recorded against the certificate.
func (s *CertificateService) AuditTrail(ctx context.Context, id int64, limit int) ([]models.AuditLog, error) {
	cert, err := loadCertificate(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}
	logs, err := s.audits.ListByResource(ctx, auditResourceCertificate, strconv.FormatInt(cert.ID, 10), limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load audit trail")
	}
	return logs, nil
}

// applyCertificateUpdate mutates cert in place and reports whether a content field changed.
func applyCertificateUpdate(cert *models.Certificate, req dto.UpdateCertificateRequest) (bool, error) {
	changed := false
	setString := func(dst *string, src *string) {
		if src == nil {
			return
		}
		v := strings.TrimSpace(*src)
		if v != *dst {
			*dst = v
			changed = true
		}
	}
	setString(&cert.NoCertificate, req.NoCertificate)
	setString(&cert.NoOrder, req.NoOrder)
	setString(&cert.NoIdentification, req.NoIdentification)

	if req.IssueDate != nil && !req.IssueDate.Equal(cert.IssueDate) {
		cert.IssueDate = *req.IssueDate
		changed = true
	}
	if req.Station != nil && !int64PtrEqual(cert.Station, req.Station) {
		cert.Station = req.Station
		changed = true
	}
	if req.Instrument != nil && !int64PtrEqual(cert.Instrument, req.Instrument) {
		cert.Instrument = req.Instrument
		changed = true
	}
	if req.StationAddress != nil && (cert.StationAddress == nil || *cert.StationAddress != *req.StationAddress) {
		cert.StationAddress = req.StationAddress
		changed = true
	}
	if len(req.Results) > 0 {
		results, err := normalizeResults(req.Results)
		if err != nil {
			return false, err
		}
		current, _ := normalizeResults(json.RawMessage(cert.Results))
		if !bytes.Equal(current, results) {
			cert.Results = results
			changed = true
		}
	}

	// Role fields: an empty string clears the assignment.
	if req.Verifikator1 != nil {
		cert.Verifikator1 = trimmedOrNil(req.Verifikator1)
	}
	if req.Verifikator2 != nil {
		cert.Verifikator2 = trimmedOrNil(req.Verifikator2)
	}
	if req.AuthorizedBy != nil {
		cert.AuthorizedBy = trimmedOrNil(req.AuthorizedBy)
	}
	return changed, nil
}

func normalizeResults(raw json.RawMessage) ([]byte, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "results must be valid JSON")
	}
	return buf.Bytes(), nil
}

func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	return optionalString(*value)
}

func int64PtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/calibration-cert-api/internal/dto"
	"github.com/noah-isme/calibration-cert-api/internal/models"
	appErrors "github.com/noah-isme/calibration-cert-api/pkg/errors"
)

// certificateReader is the read-only slice of the certificate store.
type certificateReader interface {
	GetByPublicID(ctx context.Context, publicID string) (*models.Certificate, error)
	GetLatestByNumber(ctx context.Context, number string) (*models.Certificate, error)
	ListAssigned(ctx context.Context, actorID string) ([]models.Certificate, error)
}

type ledgerReader interface {
	ListByCertificates(ctx context.Context, certificateIDs []int64) ([]models.VerificationRecord, error)
	LatestLevel3(ctx context.Context, certificateID int64) (*models.VerificationRecord, error)
}

type publicCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// PDFLinker produces public download links for rendered certificates.
type PDFLinker interface {
	PublicURL(publicID, pdfPath string) (string, error)
}

// VerificationQueryService answers read-side questions about the workflow.
type VerificationQueryService struct {
	certificates certificateReader
	ledger       ledgerReader
	cache        publicCache
	links        PDFLinker
	logger       *zap.Logger
}

// NewVerificationQueryService constructs the service. cache and links may be nil.
func NewVerificationQueryService(certificates certificateReader, ledger ledgerReader, cache publicCache, links PDFLinker, logger *zap.Logger) *VerificationQueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VerificationQueryService{certificates: certificates, ledger: ledger, cache: cache, links: links, logger: logger}
}

// Pending lists sent certificates on which the actor holds a role, with per-level state
// and whether the actor can act right now.
func (s *VerificationQueryService) Pending(ctx context.Context, actorID string) ([]dto.PendingCertificate, error) {
	if actorID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	certs, err := s.certificates.ListAssigned(ctx, actorID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assigned certificates")
	}
	if len(certs) == 0 {
		return []dto.PendingCertificate{}, nil
	}
	ids := make([]int64, len(certs))
	for i := range certs {
		ids[i] = certs[i].ID
	}
	records, err := s.ledger.ListByCertificates(ctx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load verification records")
	}
	byCertificate := make(map[int64][]models.VerificationRecord, len(certs))
	for _, record := range records {
		byCertificate[record.CertificateID] = append(byCertificate[record.CertificateID], record)
	}

	result := make([]dto.PendingCertificate, 0, len(certs))
	for i := range certs {
		cert := certs[i]
		ledger := models.NewLedger(byCertificate[cert.ID], cert.Version)
		result = append(result, projectPending(&cert, ledger, actorID))
	}
	return result, nil
}

// projectPending derives the dashboard row with the same rule the state machine enforces.
func projectPending(cert *models.Certificate, ledger models.Ledger, actorID string) dto.PendingCertificate {
	levels := make([]dto.LevelState, 0, len(models.VerificationLevels))
	for _, level := range models.VerificationLevels {
		state := dto.LevelState{Level: level, Status: ledger.StatusOf(level), AssignedTo: cert.RoleHolder(level)}
		if record := ledger[level]; record != nil {
			state.VerifiedBy = record.VerifiedBy
			updated := record.UpdatedAt
			state.UpdatedAt = &updated
			if record.RejectionTimestamp != nil {
				state.RejectionReason = record.RejectionReasonDetailed
				if state.RejectionReason == nil {
					state.RejectionReason = record.RejectionReason
				}
				state.RejectedAt = record.RejectionTimestamp
				state.Reopened = record.Status == models.VerificationStatusPending
			}
		}
		levels = append(levels, state)
	}
	userLevel := cert.LevelFor(actorID)
	return dto.PendingCertificate{
		Certificate: *cert,
		Levels:      levels,
		UserLevel:   userLevel,
		UserCanAct:  userLevel != 0 && ledger.StatusOf(userLevel) == models.VerificationStatusPending && authorizeDecision(cert, ledger, userLevel, actorID) == nil,
	}
}

// publicCacheEntry keeps the artifact path next to the cached answer so download links,
// which expire, are minted per request.
type publicCacheEntry struct {
	Response dto.PublicVerificationResponse `json:"response"`
	PDFPath  string                         `json:"pdf_path,omitempty"`
}

// PublicVerify reports whether the certificate identified by number or public id is validly signed.
// Ledger failures degrade to valid=false instead of an error.
func (s *VerificationQueryService) PublicVerify(ctx context.Context, number, publicID string) (*dto.PublicVerificationResponse, error) {
	number = strings.TrimSpace(number)
	publicID = strings.TrimSpace(publicID)
	if number == "" && publicID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "either no or id is required")
	}
	if publicID != "" {
		number = ""
	}
	key := PublicVerificationKeys(number, publicID)[0]

	if s.cache != nil {
		var cached publicCacheEntry
		if hit, _ := s.cache.Get(ctx, key, &cached); hit {
			resp := cached.Response
			s.attachLink(&resp, cached.PDFPath)
			return &resp, nil
		}
	}

	var (
		cert *models.Certificate
		err  error
	)
	if publicID != "" {
		cert, err = s.certificates.GetByPublicID(ctx, publicID)
	} else {
		cert, err = s.certificates.GetLatestByNumber(ctx, number)
	}
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("public verification lookup failed", zap.String("no", number), zap.String("id", publicID), zap.Error(err))
		}
		return &dto.PublicVerificationResponse{Found: false, Valid: false}, nil
	}

	resp := dto.PublicVerificationResponse{
		Found:         true,
		NoCertificate: cert.NoCertificate,
		PublicID:      cert.PublicID,
		Version:       cert.Version,
	}
	issueDate := cert.IssueDate
	resp.IssueDate = &issueDate

	record, err := s.ledger.LatestLevel3(ctx, cert.ID)
	switch {
	case err == nil:
		resp.Valid = record.Status == models.VerificationStatusApproved
		if resp.Valid {
			resp.SignedAt = record.SignedAt
			if record.VerifiedBy != nil {
				resp.SignedBy = *record.VerifiedBy
			}
		}
	case errors.Is(err, sql.ErrNoRows):
		resp.Valid = false
	default:
		// Degraded answers are not cached.
		s.logger.Warn("public verification ledger lookup failed", zap.Int64("certificate_id", cert.ID), zap.Error(err))
		return &resp, nil
	}

	entry := publicCacheEntry{Response: resp}
	if resp.Valid && cert.PDFPath != nil {
		entry.PDFPath = *cert.PDFPath
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, key, entry, 0)
	}
	s.attachLink(&resp, entry.PDFPath)
	return &resp, nil
}

func (s *VerificationQueryService) attachLink(resp *dto.PublicVerificationResponse, pdfPath string) {
	if s.links == nil || pdfPath == "" || !resp.Valid {
		return
	}
	url, err := s.links.PublicURL(resp.PublicID, pdfPath)
	if err != nil {
		s.logger.Warn("failed to sign pdf link", zap.String("public_id", resp.PublicID), zap.Error(err))
		return
	}
	resp.PDFURL = url
}

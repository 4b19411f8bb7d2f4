package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/calibration-cert-api/internal/dto"
	"github.com/noah-isme/calibration-cert-api/internal/models"
	appErrors "github.com/noah-isme/calibration-cert-api/pkg/errors"
	"github.com/noah-isme/calibration-cert-api/pkg/export"
	"github.com/noah-isme/calibration-cert-api/pkg/jobs"
	"github.com/noah-isme/calibration-cert-api/pkg/storage"
)

// JobTypeCertificatePDF identifies certificate rendering jobs.
const JobTypeCertificatePDF = "certificate_pdf"

type pdfCertificateStore interface {
	GetByID(ctx context.Context, id int64) (*models.Certificate, error)
	SetPDF(ctx context.Context, id int64, path string, generatedAt time.Time) error
}

type artifactStorage interface {
	Save(relPath string, data []byte) (string, error)
	Open(relPath string) (*os.File, error)
	Delete(relPath string) error
}

type certificateRenderer interface {
	Render(doc export.CertificateDocument) ([]byte, error)
}

type jobQueue interface {
	Enqueue(job jobs.Job) error
}

// PDFServiceConfig tunes rendering and link generation.
type PDFServiceConfig struct {
	RenderTimeout time.Duration
	// PublicBaseURL is the verification page encoded in the certificate QR code.
	PublicBaseURL string
	// DownloadPath is the API route serving signed download tokens.
	DownloadPath string
}

// PDFService renders signed certificates, stores the artifact and serves download links.
// Rendering is best-effort and runs on a background queue.
type PDFService struct {
	certificates pdfCertificateStore
	ledger       ledgerLister
	storage      artifactStorage
	renderer     certificateRenderer
	links        *storage.SignedURLSigner
	queue        jobQueue
	cache        cacheInvalidator
	audit        auditLogger
	metrics      *MetricsService
	cfg          PDFServiceConfig
	logger       *zap.Logger
	now          func() time.Time
}

// NewPDFService constructs the service. Call UseQueue before Enqueue.
func NewPDFService(certificates pdfCertificateStore, ledger ledgerLister, store artifactStorage, renderer certificateRenderer, links *storage.SignedURLSigner, cache cacheInvalidator, audit auditLogger, metrics *MetricsService, cfg PDFServiceConfig, logger *zap.Logger) *PDFService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = 60 * time.Second
	}
	if cfg.DownloadPath == "" {
		cfg.DownloadPath = "/api/certificates/pdf/download"
	}
	return &PDFService{
		certificates: certificates,
		ledger:       ledger,
		storage:      store,
		renderer:     renderer,
		links:        links,
		cache:        cache,
		audit:        audit,
		metrics:      metrics,
		cfg:          cfg,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// UseQueue attaches the worker queue that runs HandleJob.
func (s *PDFService) UseQueue(queue jobQueue) {
	s.queue = queue
}

// Enqueue schedules rendering for a certificate. Implements PDFScheduler.
func (s *PDFService) Enqueue(certificateID int64) error {
	if s.queue == nil {
		return fmt.Errorf("pdf queue not configured")
	}
	return s.queue.Enqueue(jobs.Job{
		ID:      "certificate-pdf-" + strconv.FormatInt(certificateID, 10),
		Type:    JobTypeCertificatePDF,
		Payload: certificateID,
	})
}

// HandleJob is the queue handler for JobTypeCertificatePDF.
func (s *PDFService) HandleJob(ctx context.Context, job jobs.Job) error {
	certificateID, ok := job.Payload.(int64)
	if !ok {
		return fmt.Errorf("unexpected pdf job payload %T", job.Payload)
	}
	_, err := s.Generate(ctx, certificateID)
	if appErrors.HasCode(err, appErrors.ErrPreconditionFailed) || appErrors.HasCode(err, appErrors.ErrNotFound) {
		// Not retryable.
		s.logger.Warn("skipping certificate pdf job", zap.Int64("certificate_id", certificateID), zap.Error(err))
		return nil
	}
	return err
}

// OnExhausted records a job that ran out of retries.
func (s *PDFService) OnExhausted(job jobs.Job, err error) {
	certificateID, _ := job.Payload.(int64)
	s.metrics.RecordPDFJob("exhausted", 0)
	emitAudit(context.Background(), s.audit, s.logger, "pdf-worker",
		certificateAudit(models.AuditActionPDFGenerate, models.AuditOutcomeError, "", certificateID),
		map[string]interface{}{"attempts": job.Attempt, "error": err.Error()})
}

// Trigger queues a manual re-generation for a signed certificate.
func (s *PDFService) Trigger(ctx context.Context, certificateID int64, actor *models.JWTClaims) (*dto.PDFJobResponse, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	cert, ledger, err := loadWorkflowState(ctx, s.certificates, s.ledger, certificateID)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleAdmin && actor.UserID != cert.CreatedBy && actor.UserID != cert.RoleHolder(models.VerificationLevelThree) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to regenerate this certificate")
	}
	if ledger.StatusOf(models.VerificationLevelThree) != models.VerificationStatusApproved {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "certificate is not signed")
	}
	status := "queued"
	if err := s.Enqueue(cert.ID); err != nil {
		if !errors.Is(err, jobs.ErrAlreadyQueued) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to queue pdf generation")
		}
		status = "already_queued"
	}
	return &dto.PDFJobResponse{CertificateID: cert.ID, Status: status}, nil
}

// Generate renders and stores the PDF for a signed certificate, returning the stored path.
func (s *PDFService) Generate(ctx context.Context, certificateID int64) (string, error) {
	started := time.Now()
	cert, ledger, err := loadWorkflowState(ctx, s.certificates, s.ledger, certificateID)
	if err != nil {
		return "", err
	}
	if ledger.StatusOf(models.VerificationLevelThree) != models.VerificationStatusApproved {
		return "", appErrors.Clone(appErrors.ErrPreconditionFailed, "certificate is not signed")
	}

	doc := s.document(cert, ledger)
	renderCtx, cancel := context.WithTimeout(ctx, s.cfg.RenderTimeout)
	defer cancel()
	data, err := s.render(renderCtx, doc)
	if err != nil {
		s.metrics.RecordPDFJob("failed", time.Since(started))
		return "", fmt.Errorf("render certificate %d: %w", cert.ID, err)
	}

	relPath := fmt.Sprintf("%d/%s-v%d.pdf", cert.ID, cert.PublicID, cert.Version)
	stored, err := s.storage.Save(relPath, data)
	if err != nil {
		s.metrics.RecordPDFJob("failed", time.Since(started))
		return "", fmt.Errorf("store certificate %d pdf: %w", cert.ID, err)
	}
	if err := s.certificates.SetPDF(ctx, cert.ID, stored, s.now()); err != nil {
		s.metrics.RecordPDFJob("failed", time.Since(started))
		return "", fmt.Errorf("record certificate %d pdf: %w", cert.ID, err)
	}
	if cert.PDFPath != nil && *cert.PDFPath != stored {
		if err := s.storage.Delete(*cert.PDFPath); err != nil {
			s.logger.Warn("failed to remove superseded pdf", zap.Int64("certificate_id", cert.ID), zap.Error(err))
		}
	}
	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, PublicVerificationKeys(cert.NoCertificate, cert.PublicID)...)
	}
	s.metrics.RecordPDFJob("success", time.Since(started))
	s.logger.Info("certificate pdf generated",
		zap.Int64("certificate_id", cert.ID),
		zap.String("path", stored),
		zap.Int("bytes", len(data)),
		zap.Duration("duration", time.Since(started)),
	)
	return stored, nil
}

func (s *PDFService) render(ctx context.Context, doc export.CertificateDocument) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := s.renderer.Render(doc)
		done <- result{data: data, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.data, r.err
	}
}

func (s *PDFService) document(cert *models.Certificate, ledger models.Ledger) export.CertificateDocument {
	results, err := export.DatasetFromJSON(cert.Results)
	if err != nil {
		s.logger.Warn("certificate results not tabular", zap.Int64("certificate_id", cert.ID), zap.Error(err))
	}
	doc := export.CertificateDocument{
		NoCertificate:    cert.NoCertificate,
		NoOrder:          cert.NoOrder,
		NoIdentification: cert.NoIdentification,
		IssueDate:        cert.IssueDate,
		Version:          cert.Version,
		Results:          results,
		VerificationURL:  s.VerificationURL(cert.PublicID),
	}
	if cert.Station != nil {
		doc.Station = "#" + strconv.FormatInt(*cert.Station, 10)
	}
	if cert.Instrument != nil {
		doc.Instrument = "#" + strconv.FormatInt(*cert.Instrument, 10)
	}
	if cert.StationAddress != nil {
		doc.StationAddress = *cert.StationAddress
	}
	roles := map[models.VerificationLevel]string{
		models.VerificationLevelOne:   "Verifikator 1",
		models.VerificationLevelTwo:   "Verifikator 2",
		models.VerificationLevelThree: "Authorized By",
	}
	for _, level := range models.VerificationLevels {
		line := export.SignatureLine{Role: roles[level], Name: cert.RoleHolder(level)}
		if record := ledger[level]; record != nil && record.Status == models.VerificationStatusApproved {
			at := record.UpdatedAt
			if record.SignedAt != nil {
				at = *record.SignedAt
			}
			line.SignedAt = &at
			if record.ApprovalNotes != nil {
				line.Note = *record.ApprovalNotes
			}
		}
		doc.Signatures = append(doc.Signatures, line)
	}
	return doc
}

// VerificationURL is the public page a certificate's QR code points at.
func (s *PDFService) VerificationURL(publicID string) string {
	return fmt.Sprintf("%s/verify-certificate?id=%s", s.cfg.PublicBaseURL, url.QueryEscape(publicID))
}

// VerificationQR returns a PNG QR code for the certificate's verification page.
func (s *PDFService) VerificationQR(publicID string, size int) ([]byte, error) {
	if publicID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "id is required")
	}
	png, err := export.QRCodePNG(s.VerificationURL(publicID), size)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render qr code")
	}
	return png, nil
}

// PublicURL mints a time-limited download link. Implements PDFLinker.
func (s *PDFService) PublicURL(publicID, pdfPath string) (string, error) {
	link, err := s.SignedLink(publicID, pdfPath)
	if err != nil {
		return "", err
	}
	return link.URL, nil
}

// SignedLink returns a download link and its expiry.
func (s *PDFService) SignedLink(publicID, pdfPath string) (*dto.PDFLinkResponse, error) {
	if s.links == nil {
		return nil, fmt.Errorf("download links not configured")
	}
	token, expiresAt, err := s.links.Generate(publicID, pdfPath)
	if err != nil {
		return nil, err
	}
	return &dto.PDFLinkResponse{
		URL:       fmt.Sprintf("%s?token=%s", s.cfg.DownloadPath, url.QueryEscape(token)),
		ExpiresAt: expiresAt,
	}, nil
}

// Link returns a download link for a certificate that has a rendered PDF.
func (s *PDFService) Link(ctx context.Context, certificateID int64) (*dto.PDFLinkResponse, error) {
	cert, err := loadCertificate(ctx, s.certificates, certificateID)
	if err != nil {
		return nil, err
	}
	if cert.PDFPath == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "certificate pdf has not been generated yet")
	}
	link, err := s.SignedLink(cert.PublicID, *cert.PDFPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download link")
	}
	return link, nil
}

// Open validates a download token and opens the referenced artifact.
func (s *PDFService) Open(token string) (*os.File, string, error) {
	if s.links == nil {
		return nil, "", appErrors.ErrNotFound
	}
	publicID, relPath, _, err := s.links.Parse(token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, "", appErrors.Clone(appErrors.ErrForbidden, "download link expired")
		}
		return nil, "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid download token")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "certificate pdf not found")
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open certificate pdf")
	}
	return file, publicID + ".pdf", nil
}

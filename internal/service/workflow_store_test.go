package service

import (
	"context"
	"database/sql"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jmoiron/sqlx/types"

	"github.com/noah-isme/calibration-cert-api/internal/models"
	"github.com/noah-isme/calibration-cert-api/internal/repository"
)

// workflowStoreStub is an in-memory stand-in for the certificate, ledger and audit repositories.
// Conditional writes follow the same rules as the SQL statements.
type workflowStoreStub struct {
	mu      sync.Mutex
	nextID  int64
	certs   map[int64]*models.Certificate
	records []models.VerificationRecord
	audits  []models.AuditLog

	upsertErr error
	auditErr  error
	// beforeReseed runs ahead of Reseed to interleave a concurrent edit.
	beforeReseed func(certificateID int64)
}

func newWorkflowStoreStub() *workflowStoreStub {
	return &workflowStoreStub{certs: make(map[int64]*models.Certificate)}
}

func strPtr(v string) *string { return &v }

// seedCertificate stores a draft with all roles assigned.
func (s *workflowStoreStub) seedCertificate(mutate func(*models.Certificate)) *models.Certificate {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	cert := &models.Certificate{
		ID:               s.nextID,
		PublicID:         "pub-" + strconv.FormatInt(s.nextID, 10),
		NoCertificate:    "CERT-001",
		NoOrder:          "ORD-1",
		NoIdentification: "ID-1",
		IssueDate:        time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Results:          types.JSONText(`{"temperature":"21.4"}`),
		Verifikator1:     strPtr("v1"),
		Verifikator2:     strPtr("v2"),
		AuthorizedBy:     strPtr("signer"),
		Status:           models.CertificateStatusDraft,
		Version:          1,
		RejectionHistory: models.RejectionHistory{},
		CreatedBy:        "creator",
		CreatedAt:        time.Now().UTC().Add(time.Duration(s.nextID) * time.Second),
	}
	if mutate != nil {
		mutate(cert)
	}
	s.certs[cert.ID] = cert
	clone := *cert
	return &clone
}

func (s *workflowStoreStub) cert(id int64) models.Certificate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.certs[id]
}

func (s *workflowStoreStub) rowsAt(certID int64, level models.VerificationLevel, version int) []models.VerificationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []models.VerificationRecord
	for _, r := range s.records {
		if r.CertificateID == certID && r.VerificationLevel == level && r.CertificateVersion == version {
			rows = append(rows, r)
		}
	}
	return rows
}

func (s *workflowStoreStub) find(certID int64, level models.VerificationLevel, version int) int {
	for i, r := range s.records {
		if r.CertificateID == certID && r.VerificationLevel == level && r.CertificateVersion == version {
			return i
		}
	}
	return -1
}

func (s *workflowStoreStub) Create(ctx context.Context, cert *models.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	cert.ID = s.nextID
	if cert.PublicID == "" {
		cert.PublicID = "pub-new"
	}
	cert.CreatedAt = time.Now().UTC()
	cert.UpdatedAt = cert.CreatedAt
	clone := *cert
	s.certs[cert.ID] = &clone
	return nil
}

func (s *workflowStoreStub) GetByID(ctx context.Context, id int64) (*models.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cert, ok := s.certs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *cert
	return &clone, nil
}

func (s *workflowStoreStub) GetByPublicID(ctx context.Context, publicID string) (*models.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cert := range s.certs {
		if cert.PublicID == publicID {
			clone := *cert
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *workflowStoreStub) GetLatestByNumber(ctx context.Context, number string) (*models.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.Certificate
	for _, cert := range s.certs {
		if cert.NoCertificate != number {
			continue
		}
		if latest == nil || cert.CreatedAt.After(latest.CreatedAt) {
			latest = cert
		}
	}
	if latest == nil {
		return nil, sql.ErrNoRows
	}
	clone := *latest
	return &clone, nil
}

func (s *workflowStoreStub) List(ctx context.Context, filter models.CertificateFilter) ([]models.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Certificate
	for _, cert := range s.certs {
		out = append(out, *cert)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *workflowStoreStub) ListAssigned(ctx context.Context, actorID string) ([]models.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Certificate
	for _, cert := range s.certs {
		if cert.Status == models.CertificateStatusSent && cert.LevelFor(actorID) != 0 {
			out = append(out, *cert)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *workflowStoreStub) ListSignedWithoutPDF(ctx context.Context, limit int) ([]models.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Certificate
	for _, cert := range s.certs {
		if cert.Status == models.CertificateStatusSigned && cert.PDFPath == nil {
			out = append(out, *cert)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *workflowStoreStub) Update(ctx context.Context, cert *models.Certificate, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.certs[cert.ID]
	if !ok || current.Version != expectedVersion || current.Status != models.CertificateStatusDraft {
		return sql.ErrNoRows
	}
	clone := *cert
	clone.Status = current.Status
	clone.RejectionHistory = current.RejectionHistory
	clone.RejectionCount = current.RejectionCount
	s.certs[cert.ID] = &clone
	return nil
}

func (s *workflowStoreStub) SetPDF(ctx context.Context, id int64, path string, generatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cert, ok := s.certs[id]
	if !ok {
		return sql.ErrNoRows
	}
	cert.PDFPath = &path
	cert.PDFGeneratedAt = &generatedAt
	return nil
}

func (s *workflowStoreStub) ListByCertificate(ctx context.Context, certificateID int64) ([]models.VerificationRecord, error) {
	return s.ListByCertificates(ctx, []int64{certificateID})
}

func (s *workflowStoreStub) ListByCertificates(ctx context.Context, ids []int64) ([]models.VerificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[int64]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var out []models.VerificationRecord
	for _, r := range s.records {
		if wanted[r.CertificateID] {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CertificateVersion != out[j].CertificateVersion {
			return out[i].CertificateVersion > out[j].CertificateVersion
		}
		return out[i].VerificationLevel < out[j].VerificationLevel
	})
	return out, nil
}

func (s *workflowStoreStub) LatestLevel3(ctx context.Context, certificateID int64) (*models.VerificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.VerificationRecord
	for i := range s.records {
		r := s.records[i]
		if r.CertificateID != certificateID || r.VerificationLevel != models.VerificationLevelThree {
			continue
		}
		if latest == nil || r.CertificateVersion > latest.CertificateVersion {
			latest = &r
		}
	}
	if latest == nil {
		return nil, sql.ErrNoRows
	}
	return latest, nil
}

func (s *workflowStoreStub) Reseed(ctx context.Context, certificateID int64, version int) error {
	if s.beforeReseed != nil {
		s.beforeReseed(certificateID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cert, ok := s.certs[certificateID]
	if !ok || cert.Version != version || cert.Status != models.CertificateStatusDraft || !cert.HasAllRoles() {
		return sql.ErrNoRows
	}
	kept := s.records[:0]
	for _, r := range s.records {
		if r.CertificateID == certificateID && r.CertificateVersion == version {
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	now := time.Now().UTC()
	for _, level := range []models.VerificationLevel{models.VerificationLevelOne, models.VerificationLevelTwo} {
		s.nextID++
		s.records = append(s.records, models.VerificationRecord{
			ID:                 s.nextID,
			CertificateID:      certificateID,
			VerificationLevel:  level,
			CertificateVersion: version,
			Status:             models.VerificationStatusPending,
			CreatedAt:          now,
			UpdatedAt:          now,
		})
	}
	cert.Status = models.CertificateStatusSent
	return nil
}

func (s *workflowStoreStub) Approve(ctx context.Context, params repository.DecisionParams) (*models.VerificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.find(params.CertificateID, params.Level, params.Version)
	if idx < 0 || s.records[idx].Status != models.VerificationStatusPending {
		return nil, sql.ErrNoRows
	}
	r := &s.records[idx]
	r.Status = models.VerificationStatusApproved
	r.VerifiedBy = strPtr(params.VerifiedBy)
	r.Notes = params.Notes
	r.ApprovalNotes = params.ApprovalNotes
	r.UpdatedAt = params.DecidedAt
	clone := *r
	return &clone, nil
}

func (s *workflowStoreStub) Insert(ctx context.Context, record *models.VerificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.find(record.CertificateID, record.VerificationLevel, record.CertificateVersion) >= 0 {
		return repository.ErrDuplicate
	}
	s.nextID++
	record.ID = s.nextID
	s.records = append(s.records, *record)
	return nil
}

func (s *workflowStoreStub) Reject(ctx context.Context, params repository.RejectParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.find(params.CertificateID, params.Level, params.Version)
	cert := s.certs[params.CertificateID]
	if idx < 0 || s.records[idx].Status != models.VerificationStatusPending || cert == nil || cert.Version != params.Version {
		return sql.ErrNoRows
	}
	r := &s.records[idx]
	destination := params.Destination
	at := params.RejectedAt
	r.Status = models.VerificationStatusRejected
	r.VerifiedBy = strPtr(params.RejectedBy)
	r.Notes = params.Notes
	r.RejectionReason = strPtr(params.Reason)
	r.RejectionReasonDetailed = strPtr(params.Reason)
	r.RejectionDestination = &destination
	r.RejectionTimestamp = &at

	cert.RejectionHistory = append(cert.RejectionHistory, models.RejectionEntry{
		VerificationLevel:    params.Level,
		RejectionReason:      params.Reason,
		RejectionDestination: destination,
		RejectionTimestamp:   at,
		RejectedBy:           params.RejectedBy,
		CertificateVersion:   params.Version,
	})
	cert.RejectionCount++
	cert.Status = params.NextStatus

	if params.ResetLevelOne {
		if one := s.find(params.CertificateID, models.VerificationLevelOne, params.Version); one >= 0 {
			l1 := &s.records[one]
			l1.Status = models.VerificationStatusPending
			l1.VerifiedBy = nil
			l1.Notes = nil
			l1.ApprovalNotes = nil
			l1.RejectionReasonDetailed = nil
		}
		r.Status = models.VerificationStatusPending
		r.VerifiedBy = nil
	}
	return nil
}

func (s *workflowStoreStub) UpsertLevel3(ctx context.Context, params repository.SignatureParams) (*models.VerificationRecord, error) {
	if s.upsertErr != nil {
		return nil, s.upsertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.find(params.CertificateID, models.VerificationLevelThree, params.Version)
	if idx < 0 {
		s.nextID++
		s.records = append(s.records, models.VerificationRecord{
			ID:                 s.nextID,
			CertificateID:      params.CertificateID,
			VerificationLevel:  models.VerificationLevelThree,
			CertificateVersion: params.Version,
			CreatedAt:          params.SignedAt,
		})
		idx = len(s.records) - 1
	}
	r := &s.records[idx]
	signature := types.JSONText(params.SignatureData)
	timestamp := types.JSONText(params.TimestampData)
	signedAt := params.SignedAt
	r.Status = models.VerificationStatusApproved
	r.VerifiedBy = strPtr(params.SignedBy)
	r.ApprovalNotes = strPtr(models.SignedViaBSrE)
	r.SignatureData = &signature
	r.TimestampData = &timestamp
	r.SignedAt = &signedAt
	r.UpdatedAt = signedAt
	if cert := s.certs[params.CertificateID]; cert != nil {
		cert.Status = models.CertificateStatusSigned
	}
	clone := *r
	return &clone, nil
}

func (s *workflowStoreStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if s.auditErr != nil {
		return s.auditErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	log.CreatedAt = time.Now().UTC()
	s.audits = append(s.audits, *log)
	return nil
}

func (s *workflowStoreStub) ListByResource(ctx context.Context, resource, resourceID string, limit int) ([]models.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AuditLog
	for _, log := range s.audits {
		if log.Resource == resource && log.ResourceID != nil && *log.ResourceID == resourceID {
			out = append(out, log)
		}
	}
	return out, nil
}

func (s *workflowStoreStub) auditOutcomes(action string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, log := range s.audits {
		if log.Action == action {
			out = append(out, log.Outcome)
		}
	}
	return out
}

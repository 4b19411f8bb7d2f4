package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/calibration-cert-api/internal/models"
)

const certificateColumns = `id, public_id, no_certificate, no_order, no_identification, issue_date, station, instrument,
       station_address, results, verifikator_1, verifikator_2, authorized_by, status, version, rejection_count,
       rejection_history, pdf_path, pdf_generated_at, created_by, created_at, updated_at`

// CertificateRepository persists certificates.
type CertificateRepository struct {
	db *sqlx.DB
}

// NewCertificateRepository constructs the repository.
func NewCertificateRepository(db *sqlx.DB) *CertificateRepository {
	return &CertificateRepository{db: db}
}

// Create inserts a certificate in draft at version 1.
func (r *CertificateRepository) Create(ctx context.Context, cert *models.Certificate) error {
	if cert.PublicID == "" {
		cert.PublicID = uuid.NewString()
	}
	if cert.Status == "" {
		cert.Status = models.CertificateStatusDraft
	}
	if cert.Version <= 0 {
		cert.Version = 1
	}
	if len(cert.Results) == 0 {
		cert.Results = []byte("{}")
	}
	const query = `INSERT INTO certificates
	(public_id, no_certificate, no_order, no_identification, issue_date, station, instrument, station_address, results,
	 verifikator_1, verifikator_2, authorized_by, status, version, rejection_count, rejection_history, created_by, created_at, updated_at)
	VALUES (:public_id, :no_certificate, :no_order, :no_identification, :issue_date, :station, :instrument, :station_address, :results,
	 :verifikator_1, :verifikator_2, :authorized_by, :status, :version, 0, '[]', :created_by, NOW(), NOW())
	RETURNING id, created_at, updated_at`
	bound, args, err := r.db.BindNamed(query, cert)
	if err != nil {
		return fmt.Errorf("bind certificate insert: %w", err)
	}
	if err := r.db.QueryRowxContext(ctx, bound, args...).Scan(&cert.ID, &cert.CreatedAt, &cert.UpdatedAt); err != nil {
		return fmt.Errorf("create certificate: %w", err)
	}
	return nil
}

// GetByID fetches a certificate by identifier.
func (r *CertificateRepository) GetByID(ctx context.Context, id int64) (*models.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE id = $1`
	var cert models.Certificate
	if err := r.db.GetContext(ctx, &cert, query, id); err != nil {
		return nil, err
	}
	return &cert, nil
}

// GetByPublicID fetches a certificate by its opaque external key.
func (r *CertificateRepository) GetByPublicID(ctx context.Context, publicID string) (*models.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE public_id = $1`
	var cert models.Certificate
	if err := r.db.GetContext(ctx, &cert, query, publicID); err != nil {
		return nil, err
	}
	return &cert, nil
}

// GetLatestByNumber resolves duplicate certificate numbers to the most recently created row.
func (r *CertificateRepository) GetLatestByNumber(ctx context.Context, number string) (*models.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE no_certificate = $1
	ORDER BY created_at DESC, id DESC LIMIT 1`
	var cert models.Certificate
	if err := r.db.GetContext(ctx, &cert, query, number); err != nil {
		return nil, err
	}
	return &cert, nil
}

// List returns certificates matching the filter (latest first).
func (r *CertificateRepository) List(ctx context.Context, filter models.CertificateFilter) ([]models.Certificate, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 4)
	builder.WriteString(`SELECT ` + certificateColumns + ` FROM certificates`)

	conditions := make([]string, 0, 3)
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			statuses[i] = string(status)
		}
		args = append(args, pq.Array(statuses))
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.CreatedBy != "" {
		args = append(args, filter.CreatedBy)
		conditions = append(conditions, fmt.Sprintf("created_by = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		conditions = append(conditions, fmt.Sprintf("(no_certificate ILIKE $%d OR no_order ILIKE $%d)", len(args), len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC, id DESC")
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", clampLimit(filter.Limit), clampOffset(filter.Offset)))

	var certs []models.Certificate
	if err := r.db.SelectContext(ctx, &certs, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	return certs, nil
}

// ListAssigned returns sent certificates where the actor holds any workflow role.
func (r *CertificateRepository) ListAssigned(ctx context.Context, actorID string) ([]models.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates
	WHERE status = $1 AND (verifikator_1 = $2 OR verifikator_2 = $2 OR authorized_by = $2)
	ORDER BY updated_at DESC, id DESC`
	var certs []models.Certificate
	if err := r.db.SelectContext(ctx, &certs, query, models.CertificateStatusSent, actorID); err != nil {
		return nil, fmt.Errorf("list assigned certificates: %w", err)
	}
	return certs, nil
}

// ListSignedWithoutPDF returns signed certificates missing a rendered artifact.
func (r *CertificateRepository) ListSignedWithoutPDF(ctx context.Context, limit int) ([]models.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates
	WHERE status = $1 AND pdf_path IS NULL ORDER BY updated_at ASC LIMIT $2`
	var certs []models.Certificate
	if err := r.db.SelectContext(ctx, &certs, query, models.CertificateStatusSigned, clampLimit(limit)); err != nil {
		return nil, fmt.Errorf("list certificates without pdf: %w", err)
	}
	return certs, nil
}

// Update persists content and role fields while the certificate is still a draft at the expected version.
func (r *CertificateRepository) Update(ctx context.Context, cert *models.Certificate, expectedVersion int) error {
	const query = `UPDATE certificates SET
	no_certificate = :no_certificate, no_order = :no_order, no_identification = :no_identification,
	issue_date = :issue_date, station = :station, instrument = :instrument, station_address = :station_address,
	results = :results, verifikator_1 = :verifikator_1, verifikator_2 = :verifikator_2, authorized_by = :authorized_by,
	version = :version, updated_at = :updated_at
	WHERE id = :id AND version = :expected_version AND status = :draft`
	cert.UpdatedAt = time.Now().UTC()
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":                cert.ID,
		"no_certificate":    cert.NoCertificate,
		"no_order":          cert.NoOrder,
		"no_identification": cert.NoIdentification,
		"issue_date":        cert.IssueDate,
		"station":           cert.Station,
		"instrument":        cert.Instrument,
		"station_address":   cert.StationAddress,
		"results":           cert.Results,
		"verifikator_1":     cert.Verifikator1,
		"verifikator_2":     cert.Verifikator2,
		"authorized_by":     cert.AuthorizedBy,
		"version":           cert.Version,
		"updated_at":        cert.UpdatedAt,
		"expected_version":  expectedVersion,
		"draft":             models.CertificateStatusDraft,
	})
	if err != nil {
		return fmt.Errorf("update certificate: %w", err)
	}
	return requireRow(result, "update certificate")
}

// SetPDF records the rendered artifact reference.
func (r *CertificateRepository) SetPDF(ctx context.Context, id int64, path string, generatedAt time.Time) error {
	const query = `UPDATE certificates SET pdf_path = $1, pdf_generated_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, path, generatedAt, id)
	if err != nil {
		return fmt.Errorf("set certificate pdf: %w", err)
	}
	return requireRow(result, "set certificate pdf")
}

func appendRejectionTx(ctx context.Context, tx *sqlx.Tx, certificateID int64, version int, status models.CertificateStatus, entry models.RejectionEntry) error {
	payload, err := json.Marshal([]models.RejectionEntry{entry})
	if err != nil {
		return fmt.Errorf("marshal rejection entry: %w", err)
	}
	const query = `UPDATE certificates SET status = $1, rejection_count = rejection_count + 1,
	rejection_history = COALESCE(rejection_history, '[]'::jsonb) || $2::jsonb, updated_at = NOW()
	WHERE id = $3 AND version = $4`
	result, err := tx.ExecContext(ctx, query, status, payload, certificateID, version)
	if err != nil {
		return fmt.Errorf("append rejection history: %w", err)
	}
	return requireRow(result, "append rejection history")
}

func requireRow(result sql.Result, op string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check %s rows: %w", op, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}

func clampOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

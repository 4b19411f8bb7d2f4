package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/calibration-cert-api/internal/models"
)

// ErrDuplicate is returned when a ledger row already exists for (certificate, level, version).
var ErrDuplicate = errors.New("verification record already exists")

const uniqueViolation = "23505"

const verificationColumns = `id, certificate_id, verification_level, certificate_version, status, verified_by, notes,
       rejection_reason, rejection_reason_detailed, rejection_destination, rejection_timestamp, approval_notes,
       signature_data, signed_at, timestamp_data, created_at, updated_at`

// VerificationRepository persists the verification ledger.
// Writes are conditional on the row state or the certificate version; a lost race
// surfaces as sql.ErrNoRows.
type VerificationRepository struct {
	db *sqlx.DB
}

// NewVerificationRepository constructs the repository.
func NewVerificationRepository(db *sqlx.DB) *VerificationRepository {
	return &VerificationRepository{db: db}
}

// ListByCertificate returns every ledger row of a certificate across versions.
func (r *VerificationRepository) ListByCertificate(ctx context.Context, certificateID int64) ([]models.VerificationRecord, error) {
	query := `SELECT ` + verificationColumns + ` FROM certificate_verification
	WHERE certificate_id = $1 ORDER BY certificate_version DESC, verification_level ASC`
	var records []models.VerificationRecord
	if err := r.db.SelectContext(ctx, &records, query, certificateID); err != nil {
		return nil, fmt.Errorf("list verification records: %w", err)
	}
	return records, nil
}

// ListByCertificates returns ledger rows for many certificates in one round trip.
func (r *VerificationRepository) ListByCertificates(ctx context.Context, certificateIDs []int64) ([]models.VerificationRecord, error) {
	if len(certificateIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + verificationColumns + ` FROM certificate_verification
	WHERE certificate_id = ANY($1) ORDER BY certificate_id, verification_level`
	var records []models.VerificationRecord
	if err := r.db.SelectContext(ctx, &records, query, pq.Array(certificateIDs)); err != nil {
		return nil, fmt.Errorf("list verification records for certificates: %w", err)
	}
	return records, nil
}

// LatestLevel3 returns the most recently updated level-3 record of a certificate.
func (r *VerificationRepository) LatestLevel3(ctx context.Context, certificateID int64) (*models.VerificationRecord, error) {
	query := `SELECT ` + verificationColumns + ` FROM certificate_verification
	WHERE certificate_id = $1 AND verification_level = $2 ORDER BY updated_at DESC LIMIT 1`
	var record models.VerificationRecord
	if err := r.db.GetContext(ctx, &record, query, certificateID, models.VerificationLevelThree); err != nil {
		return nil, err
	}
	return &record, nil
}

// Reseed moves a draft certificate with all three roles assigned to sent and replaces the
// current version's ledger with fresh pending rows for levels 1 and 2. Rows of earlier
// versions are kept. Returns sql.ErrNoRows when the certificate no longer qualifies.
func (r *VerificationRepository) Reseed(ctx context.Context, certificateID int64, version int) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reseed tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	result, err := tx.ExecContext(ctx, `UPDATE certificates SET status = $1, updated_at = NOW()
	WHERE id = $2 AND version = $3 AND status = $4
	  AND COALESCE(verifikator_1, '') <> '' AND COALESCE(verifikator_2, '') <> '' AND COALESCE(authorized_by, '') <> ''`,
		models.CertificateStatusSent, certificateID, version, models.CertificateStatusDraft)
	if err != nil {
		return fmt.Errorf("mark certificate sent: %w", err)
	}
	if err := requireRow(result, "mark certificate sent"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM certificate_verification
	WHERE certificate_id = $1 AND certificate_version = $2`, certificateID, version); err != nil {
		return fmt.Errorf("clear verification records: %w", err)
	}
	const insert = `INSERT INTO certificate_verification
	(certificate_id, verification_level, certificate_version, status, created_at, updated_at)
	VALUES ($1, $2, $3, $4, NOW(), NOW())`
	for _, level := range []models.VerificationLevel{models.VerificationLevelOne, models.VerificationLevelTwo} {
		if _, err := tx.ExecContext(ctx, insert, certificateID, level, version, models.VerificationStatusPending); err != nil {
			return fmt.Errorf("seed verification level %d: %w", level, mapUniqueViolation(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reseed tx: %w", err)
	}
	return nil
}

// DecisionParams describes an approval written onto a pending ledger row.
type DecisionParams struct {
	CertificateID int64
	Level         models.VerificationLevel
	Version       int
	VerifiedBy    string
	Notes         *string
	ApprovalNotes *string
	DecidedAt     time.Time
}

// Approve flips a pending row to approved. Returns sql.ErrNoRows when the row is no longer pending.
func (r *VerificationRepository) Approve(ctx context.Context, params DecisionParams) (*models.VerificationRecord, error) {
	query := `UPDATE certificate_verification SET status = $1, verified_by = $2, notes = $3, approval_notes = $4, updated_at = $5
	WHERE certificate_id = $6 AND verification_level = $7 AND certificate_version = $8 AND status = $9
	RETURNING ` + verificationColumns
	var record models.VerificationRecord
	if err := r.db.GetContext(ctx, &record, query,
		models.VerificationStatusApproved, params.VerifiedBy, params.Notes, params.ApprovalNotes, params.DecidedAt,
		params.CertificateID, params.Level, params.Version, models.VerificationStatusPending,
	); err != nil {
		return nil, err
	}
	return &record, nil
}

// Insert creates a decided ledger row where none was seeded. Returns ErrDuplicate on conflict.
func (r *VerificationRepository) Insert(ctx context.Context, record *models.VerificationRecord) error {
	query := `INSERT INTO certificate_verification
	(certificate_id, verification_level, certificate_version, status, verified_by, notes, approval_notes, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	RETURNING id, created_at, updated_at`
	err := r.db.QueryRowxContext(ctx, query,
		record.CertificateID, record.VerificationLevel, record.CertificateVersion, record.Status,
		record.VerifiedBy, record.Notes, record.ApprovalNotes,
	).Scan(&record.ID, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return mapUniqueViolation(err)
	}
	return nil
}

// RejectParams describes a rejection and the certificate state it routes to.
type RejectParams struct {
	CertificateID int64
	Level         models.VerificationLevel
	Version       int
	RejectedBy    string
	Reason        string
	Notes         *string
	Destination   models.RejectionDestination
	RejectedAt    time.Time
	NextStatus    models.CertificateStatus
	// ResetLevelOne reopens level 1 (and the rejecting level 2) for another pass.
	ResetLevelOne bool
}

// Reject marks the pending row rejected, appends to the certificate's rejection history and
// repairs the ledger for the chosen destination in a single transaction.
func (r *VerificationRepository) Reject(ctx context.Context, params RejectParams) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reject tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	result, err := tx.ExecContext(ctx, `UPDATE certificate_verification SET status = $1, verified_by = $2, notes = $3,
	rejection_reason = $4, rejection_reason_detailed = $4, rejection_destination = $5, rejection_timestamp = $6, updated_at = $6
	WHERE certificate_id = $7 AND verification_level = $8 AND certificate_version = $9 AND status = $10`,
		models.VerificationStatusRejected, params.RejectedBy, params.Notes, params.Reason, params.Destination, params.RejectedAt,
		params.CertificateID, params.Level, params.Version, models.VerificationStatusPending)
	if err != nil {
		return fmt.Errorf("mark verification rejected: %w", err)
	}
	if err := requireRow(result, "mark verification rejected"); err != nil {
		return err
	}

	entry := models.RejectionEntry{
		VerificationLevel:    params.Level,
		RejectionReason:      params.Reason,
		RejectionDestination: params.Destination,
		RejectionTimestamp:   params.RejectedAt,
		RejectedBy:           params.RejectedBy,
		CertificateVersion:   params.Version,
	}
	if err := appendRejectionTx(ctx, tx, params.CertificateID, params.Version, params.NextStatus, entry); err != nil {
		return err
	}

	if params.ResetLevelOne {
		if _, err := tx.ExecContext(ctx, `UPDATE certificate_verification SET status = $1, verified_by = NULL, notes = NULL,
		rejection_reason = NULL, rejection_reason_detailed = NULL, rejection_destination = NULL, rejection_timestamp = NULL,
		approval_notes = NULL, updated_at = $2
		WHERE certificate_id = $3 AND verification_level = $4 AND certificate_version = $5`,
			models.VerificationStatusPending, params.RejectedAt, params.CertificateID, models.VerificationLevelOne, params.Version); err != nil {
			return fmt.Errorf("reset level 1 verification: %w", err)
		}
		// The rejecting row keeps its reason for display but must not block the next pass.
		if _, err := tx.ExecContext(ctx, `UPDATE certificate_verification SET status = $1, updated_at = $2
		WHERE certificate_id = $3 AND verification_level = $4 AND certificate_version = $5`,
			models.VerificationStatusPending, params.RejectedAt, params.CertificateID, params.Level, params.Version); err != nil {
			return fmt.Errorf("reopen level %d verification: %w", params.Level, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reject tx: %w", err)
	}
	return nil
}

// SignatureParams carries a successful provider signature.
type SignatureParams struct {
	CertificateID int64
	Version       int
	SignedBy      string
	SignatureData []byte
	TimestampData []byte
	SignedAt      time.Time
}

// UpsertLevel3 records the signature on the level-3 row and marks the certificate signed.
// Repeating the call for the same version updates the single existing row.
func (r *VerificationRepository) UpsertLevel3(ctx context.Context, params SignatureParams) (*models.VerificationRecord, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin sign tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := `INSERT INTO certificate_verification
	(certificate_id, verification_level, certificate_version, status, verified_by, approval_notes, signature_data,
	 signed_at, timestamp_data, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $8, $8)
	ON CONFLICT (certificate_id, verification_level, certificate_version)
	DO UPDATE SET status = EXCLUDED.status, verified_by = EXCLUDED.verified_by, approval_notes = EXCLUDED.approval_notes,
	              signature_data = EXCLUDED.signature_data, signed_at = EXCLUDED.signed_at,
	              timestamp_data = EXCLUDED.timestamp_data, updated_at = EXCLUDED.updated_at
	RETURNING ` + verificationColumns
	var record models.VerificationRecord
	if err := tx.GetContext(ctx, &record, query,
		params.CertificateID, models.VerificationLevelThree, params.Version, models.VerificationStatusApproved,
		params.SignedBy, models.SignedViaBSrE, jsonOrNil(params.SignatureData), params.SignedAt, jsonOrNil(params.TimestampData),
	); err != nil {
		return nil, fmt.Errorf("upsert level 3 verification: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE certificates SET status = $1, updated_at = $2 WHERE id = $3 AND version = $4`,
		models.CertificateStatusSigned, params.SignedAt, params.CertificateID, params.Version); err != nil {
		return nil, fmt.Errorf("mark certificate signed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit sign tx: %w", err)
	}
	return &record, nil
}

func jsonOrNil(data []byte) interface{} {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}

func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return ErrDuplicate
	}
	return err
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/calibration-cert-api/internal/models"
)

var verificationRowColumns = []string{"id", "certificate_id", "verification_level", "certificate_version", "status",
	"verified_by", "notes", "rejection_reason", "rejection_reason_detailed", "rejection_destination", "rejection_timestamp",
	"approval_notes", "signature_data", "signed_at", "timestamp_data", "created_at", "updated_at"}

func TestVerificationRepositoryReseed(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewVerificationRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE certificates SET status = $1")).
		WithArgs(models.CertificateStatusSent, int64(5), 3, models.CertificateStatusDraft).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM certificate_verification")).
		WithArgs(int64(5), 3).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO certificate_verification")).
		WithArgs(int64(5), models.VerificationLevelOne, 3, models.VerificationStatusPending).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO certificate_verification")).
		WithArgs(int64(5), models.VerificationLevelTwo, 3, models.VerificationStatusPending).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Reseed(context.Background(), 5, 3))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerificationRepositoryReseedRollsBackOnSeedFailure(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewVerificationRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE certificates SET status = $1")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM certificate_verification")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO certificate_verification")).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.Reseed(context.Background(), 5, 3)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerificationRepositoryReseedRequiresDraft(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewVerificationRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE certificates SET status = $1")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Reseed(context.Background(), 5, 3)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerificationRepositoryReseedRequiresAllRoles(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewVerificationRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("AND COALESCE(verifikator_1, '') <> '' AND COALESCE(verifikator_2, '') <> '' AND COALESCE(authorized_by, '') <> ''")).
		WithArgs(models.CertificateStatusSent, int64(5), 3, models.CertificateStatusDraft).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Reseed(context.Background(), 5, 3)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerificationRepositoryApproveConflict(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewVerificationRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE certificate_verification SET status = $1")).
		WillReturnRows(sqlmock.NewRows(verificationRowColumns))

	_, err := repo.Approve(context.Background(), DecisionParams{CertificateID: 1, Level: 1, Version: 1, VerifiedBy: "v1", DecidedAt: time.Now()})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerificationRepositoryInsertMapsUniqueViolation(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewVerificationRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO certificate_verification")).
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Insert(context.Background(), &models.VerificationRecord{CertificateID: 1, VerificationLevel: 1, CertificateVersion: 1, Status: models.VerificationStatusApproved})
	require.ErrorIs(t, err, ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerificationRepositoryRejectToVerifikatorOne(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewVerificationRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE certificate_verification SET status = $1, verified_by = $2")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE certificates SET status = $1, rejection_count = rejection_count + 1")).
		WithArgs(models.CertificateStatusSent, sqlmock.AnyArg(), int64(9), 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("verified_by = NULL")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE certificate_verification SET status = $1, updated_at = $2")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Reject(context.Background(), RejectParams{
		CertificateID: 9, Level: models.VerificationLevelTwo, Version: 2, RejectedBy: "v2", Reason: "typo",
		Destination: models.RejectionDestinationVerifikator1, RejectedAt: time.Now(),
		NextStatus: models.CertificateStatusSent, ResetLevelOne: true,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerificationRepositoryRejectAlreadyProcessed(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewVerificationRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE certificate_verification SET status = $1, verified_by = $2")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Reject(context.Background(), RejectParams{CertificateID: 9, Level: 1, Version: 2, Destination: models.RejectionDestinationCreator, NextStatus: models.CertificateStatusDraft})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerificationRepositoryUpsertLevel3(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewVerificationRepository(db)
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (certificate_id, verification_level, certificate_version)")).
		WillReturnRows(sqlmock.NewRows(verificationRowColumns).AddRow(
			int64(30), int64(9), 3, 2, "approved", "signer", nil, nil, nil, nil, nil,
			models.SignedViaBSrE, `{"signature":"abc"}`, now, nil, now, now))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE certificates SET status = $1, updated_at = $2")).
		WithArgs(models.CertificateStatusSigned, now, int64(9), 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	record, err := repo.UpsertLevel3(context.Background(), SignatureParams{
		CertificateID: 9, Version: 2, SignedBy: "signer", SignatureData: []byte(`{"signature":"abc"}`), SignedAt: now,
	})
	require.NoError(t, err)
	require.Equal(t, models.VerificationLevelThree, record.VerificationLevel)
	require.NotNil(t, record.SignatureData)
	require.Nil(t, record.TimestampData)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerificationRepositoryListByCertificates(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewVerificationRepository(db)
	records, err := repo.ListByCertificates(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, records)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE certificate_id = ANY($1)")).
		WillReturnRows(sqlmock.NewRows(verificationRowColumns).
			AddRow(int64(1), int64(9), 1, 2, "approved", "v1", nil, nil, nil, nil, nil, nil, nil, nil, nil, now, now).
			AddRow(int64(2), int64(9), 2, 2, "pending", nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, now, now))

	records, err = repo.ListByCertificates(context.Background(), []int64{9})
	require.NoError(t, err)
	ledger := models.NewLedger(records, 2)
	require.True(t, ledger.Actionable(models.VerificationLevelTwo))
	require.False(t, ledger.Actionable(models.VerificationLevelThree))
	require.NoError(t, mock.ExpectationsWereMet())
}

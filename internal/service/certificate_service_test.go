package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/calibration-cert-api/internal/dto"
	"github.com/noah-isme/calibration-cert-api/internal/models"
	appErrors "github.com/noah-isme/calibration-cert-api/pkg/errors"
)

func TestCertificateServiceCreate(t *testing.T) {
	store := newWorkflowStoreStub()
	svc := NewCertificateService(store, store, store, nil, nil)

	cert, err := svc.Create(context.Background(), dto.CreateCertificateRequest{
		NoCertificate:    " CERT-9 ",
		NoOrder:          "ORD-9",
		NoIdentification: "ID-9",
		IssueDate:        time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Results:          json.RawMessage(`{ "pressure": 1013 }`),
		Verifikator1:     strPtr("v1"),
		Verifikator2:     strPtr(" "),
	}, "creator")
	require.NoError(t, err)
	assert.Equal(t, "CERT-9", cert.NoCertificate)
	assert.Equal(t, models.CertificateStatusDraft, cert.Status)
	assert.Equal(t, 1, cert.Version)
	assert.Equal(t, `{"pressure":1013}`, string(cert.Results))
	assert.Nil(t, cert.Verifikator2)
	assert.Equal(t, "creator", cert.CreatedBy)

	_, err = svc.Create(context.Background(), dto.CreateCertificateRequest{NoCertificate: "x"}, "creator")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation))

	_, err = svc.Create(context.Background(), dto.CreateCertificateRequest{
		NoCertificate:    "CERT-10",
		NoOrder:          "ORD",
		NoIdentification: "ID",
		IssueDate:        time.Now(),
		Results:          json.RawMessage(`{broken`),
	}, "creator")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation))
}

func TestCertificateServiceUpdateVersioning(t *testing.T) {
	store := newWorkflowStoreStub()
	svc := NewCertificateService(store, store, store, nil, nil)
	cert := store.seedCertificate(nil)
	creator := &models.JWTClaims{UserID: "creator", Role: models.RoleStaff}
	ctx := context.Background()

	updated, err := svc.Update(ctx, cert.ID, dto.UpdateCertificateRequest{Verifikator1: strPtr("v1-new")}, creator)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Version, "role-only edits keep the version")
	assert.Equal(t, "v1-new", *updated.Verifikator1)

	same := cert.NoOrder
	updated, err = svc.Update(ctx, cert.ID, dto.UpdateCertificateRequest{NoOrder: &same, Results: json.RawMessage(`{"temperature": "21.4"}`)}, creator)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Version, "unchanged content keeps the version")

	updated, err = svc.Update(ctx, cert.ID, dto.UpdateCertificateRequest{Results: json.RawMessage(`{"temperature":"21.5"}`)}, creator)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, 2, store.cert(cert.ID).Version)
}

func TestCertificateServiceUpdateGuards(t *testing.T) {
	store := newWorkflowStoreStub()
	svc := NewCertificateService(store, store, store, nil, nil)
	ctx := context.Background()
	order := "ORD-X"

	sent := store.seedCertificate(func(c *models.Certificate) { c.Status = models.CertificateStatusSent })
	_, err := svc.Update(ctx, sent.ID, dto.UpdateCertificateRequest{NoOrder: &order}, &models.JWTClaims{UserID: "creator"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCertificateLocked))

	draft := store.seedCertificate(nil)
	_, err = svc.Update(ctx, draft.ID, dto.UpdateCertificateRequest{NoOrder: &order}, &models.JWTClaims{UserID: "v1", Role: models.RoleStaff})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrForbidden))

	updated, err := svc.Update(ctx, draft.ID, dto.UpdateCertificateRequest{NoOrder: &order}, &models.JWTClaims{UserID: "ops", Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)

	_, err = svc.Update(ctx, 404, dto.UpdateCertificateRequest{}, &models.JWTClaims{UserID: "creator"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound))
}

func TestCertificateServiceClearsPublicLookupByNumber(t *testing.T) {
	store := newWorkflowStoreStub()
	cache := &cacheInvalidatorStub{}
	svc := NewCertificateService(store, store, store, nil, nil, WithCertificateCache(cache))
	ctx := context.Background()

	created, err := svc.Create(ctx, dto.CreateCertificateRequest{
		NoCertificate:    "CERT-77",
		NoOrder:          "ORD-77",
		NoIdentification: "ID-77",
		IssueDate:        time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}, "creator")
	require.NoError(t, err)
	assert.Equal(t, []string{"verify:no:CERT-77"}, cache.keys)

	cache.keys = nil
	renamed := "CERT-78"
	_, err = svc.Update(ctx, created.ID, dto.UpdateCertificateRequest{NoCertificate: &renamed},
		&models.JWTClaims{UserID: "creator", Role: models.RoleStaff})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"verify:no:CERT-77", "verify:no:CERT-78"}, cache.keys)

	cache.keys = nil
	_, err = svc.Update(ctx, created.ID, dto.UpdateCertificateRequest{Verifikator1: strPtr("v1")},
		&models.JWTClaims{UserID: "creator", Role: models.RoleStaff})
	require.NoError(t, err)
	assert.Equal(t, []string{"verify:no:CERT-78"}, cache.keys)
}

func TestApplyCertificateUpdateDetectsContentChanges(t *testing.T) {
	station := int64(4)
	cert := &models.Certificate{NoCertificate: "A", Station: &station, Results: []byte(`{}`)}

	changed, err := applyCertificateUpdate(cert, dto.UpdateCertificateRequest{Station: &station, AuthorizedBy: strPtr("signer")})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "signer", *cert.AuthorizedBy)

	other := int64(5)
	changed, err = applyCertificateUpdate(cert, dto.UpdateCertificateRequest{Station: &other})
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = applyCertificateUpdate(cert, dto.UpdateCertificateRequest{AuthorizedBy: strPtr("")})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Nil(t, cert.AuthorizedBy)
}

func TestCertificateServiceHistoryAndAudit(t *testing.T) {
	f := newWorkflowFixture(t)
	svc := NewCertificateService(f.store, f.store, f.store, nil, nil)
	cert := f.sent(t)
	_, err := f.decide(cert.ID, models.VerificationLevelOne, models.VerificationStatusApproved, "v1")
	require.NoError(t, err)

	records, err := svc.History(context.Background(), cert.ID)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	logs, err := svc.AuditTrail(context.Background(), cert.ID, 50)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

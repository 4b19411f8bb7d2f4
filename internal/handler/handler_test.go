package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/calibration-cert-api/internal/dto"
	"github.com/noah-isme/calibration-cert-api/internal/middleware"
	"github.com/noah-isme/calibration-cert-api/internal/models"
	appErrors "github.com/noah-isme/calibration-cert-api/pkg/errors"
)

func newGinContext(method, target, body string, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error *appErrors.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	return envelope.Error.Code
}

type workflowMock struct {
	decisionReq   dto.VerificationDecisionRequest
	decisionActor string
	decisionErr   error
	rejectReq     dto.RejectRequest
	rejectID      int64
	sendActor     *models.JWTClaims
}

func (m *workflowMock) RecordDecision(ctx context.Context, req dto.VerificationDecisionRequest, actorID string) (*models.VerificationRecord, error) {
	m.decisionReq = req
	m.decisionActor = actorID
	if m.decisionErr != nil {
		return nil, m.decisionErr
	}
	return &models.VerificationRecord{CertificateID: req.CertificateID, VerifiedBy: &actorID, Status: req.Status}, nil
}

func (m *workflowMock) SendToVerifiers(ctx context.Context, certificateID int64, actor *models.JWTClaims) (*models.Certificate, error) {
	m.sendActor = actor
	return &models.Certificate{ID: certificateID, Status: models.CertificateStatusSent}, nil
}

func (m *workflowMock) Reject(ctx context.Context, certificateID int64, req dto.RejectRequest, actorID string) (*models.Certificate, error) {
	m.rejectID = certificateID
	m.rejectReq = req
	return &models.Certificate{ID: certificateID, Status: models.CertificateStatusDraft}, nil
}

type signatureMock struct {
	err        error
	passphrase string
}

func (m *signatureMock) SignLevel3(ctx context.Context, certificateID int64, actorID, passphrase string) (*models.VerificationRecord, error) {
	m.passphrase = passphrase
	if m.err != nil {
		return nil, m.err
	}
	return &models.VerificationRecord{CertificateID: certificateID, Status: models.VerificationStatusApproved}, nil
}

func (m *signatureMock) VerifySignature(ctx context.Context, certificateID int64) (*dto.VerifySignatureResponse, error) {
	return &dto.VerifySignatureResponse{CertificateID: certificateID, Valid: true}, nil
}

type pendingMock struct{}

func (pendingMock) Pending(ctx context.Context, actorID string) ([]dto.PendingCertificate, error) {
	return []dto.PendingCertificate{{UserLevel: models.VerificationLevelOne, UserCanAct: true}}, nil
}

func TestVerificationHandlerDecideUsesAuthenticatedActor(t *testing.T) {
	workflow := &workflowMock{}
	h := NewVerificationHandler(workflow, pendingMock{}, &signatureMock{})

	c, w := newGinContext(http.MethodPost, "/certificate-verification",
		`{"certificate_id":7,"verification_level":1,"status":"approved","verified_by":"impostor"}`,
		&models.JWTClaims{UserID: "v1"})
	h.Decide(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "v1", workflow.decisionActor)
	assert.Equal(t, int64(7), workflow.decisionReq.CertificateID)
	assert.Equal(t, models.VerificationLevelOne, workflow.decisionReq.VerificationLevel)
}

func TestVerificationHandlerDecideMapsWorkflowErrors(t *testing.T) {
	workflow := &workflowMock{decisionErr: appErrors.ErrSequenceViolation}
	h := NewVerificationHandler(workflow, pendingMock{}, &signatureMock{})

	c, w := newGinContext(http.MethodPost, "/certificate-verification",
		`{"certificate_id":7,"verification_level":2,"status":"approved"}`, &models.JWTClaims{UserID: "v2"})
	h.Decide(c)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, appErrors.ErrSequenceViolation.Code, decodeError(t, w))
}

func TestVerificationHandlerSignLevel3(t *testing.T) {
	sig := &signatureMock{}
	h := NewVerificationHandler(&workflowMock{}, pendingMock{}, sig)

	c, w := newGinContext(http.MethodPost, "/certificate-verification/sign-level-3",
		`{"documentId":3,"userPassphrase":"secret"}`, &models.JWTClaims{UserID: "signer"})
	h.SignLevel3(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "secret", sig.passphrase)

	sig.err = appErrors.ErrInvalidPassphrase
	c, w = newGinContext(http.MethodPost, "/certificate-verification/sign-level-3",
		`{"documentId":3,"userPassphrase":"wrong"}`, &models.JWTClaims{UserID: "signer"})
	h.SignLevel3(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_PASSPHRASE", decodeError(t, w))

	sig.err = appErrors.ErrSigningProvider
	c, w = newGinContext(http.MethodPost, "/certificate-verification/sign-level-3",
		`{"documentId":3,"userPassphrase":"secret"}`, &models.JWTClaims{UserID: "signer"})
	h.SignLevel3(c)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	c, w = newGinContext(http.MethodPost, "/certificate-verification/sign-level-3", `{"documentId":3}`, &models.JWTClaims{UserID: "signer"})
	h.SignLevel3(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerificationHandlerPending(t *testing.T) {
	h := NewVerificationHandler(&workflowMock{}, pendingMock{}, &signatureMock{})
	c, w := newGinContext(http.MethodGet, "/certificate-verification/pending", "", &models.JWTClaims{UserID: "v1"})
	h.Pending(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_can_act":true`)
	assert.Contains(t, w.Body.String(), `"user_verification_level":1`)
}

type certificateServiceMock struct {
	created   dto.CreateCertificateRequest
	createdBy string
	query     dto.CertificateQuery
}

func (m *certificateServiceMock) Create(ctx context.Context, req dto.CreateCertificateRequest, actorID string) (*models.Certificate, error) {
	m.created = req
	m.createdBy = actorID
	return &models.Certificate{ID: 1, NoCertificate: req.NoCertificate, Status: models.CertificateStatusDraft, Version: 1}, nil
}

func (m *certificateServiceMock) Get(ctx context.Context, id int64) (*models.Certificate, error) {
	if id == 404 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "certificate not found")
	}
	return &models.Certificate{ID: id}, nil
}

func (m *certificateServiceMock) List(ctx context.Context, query dto.CertificateQuery) ([]models.Certificate, error) {
	m.query = query
	return []models.Certificate{{ID: 1}}, nil
}

func (m *certificateServiceMock) Update(ctx context.Context, id int64, req dto.UpdateCertificateRequest, actor *models.JWTClaims) (*models.Certificate, error) {
	return nil, appErrors.ErrCertificateLocked
}

func (m *certificateServiceMock) History(ctx context.Context, id int64) ([]models.VerificationRecord, error) {
	return []models.VerificationRecord{}, nil
}

func (m *certificateServiceMock) AuditTrail(ctx context.Context, id int64, limit int) ([]models.AuditLog, error) {
	return []models.AuditLog{}, nil
}

type pdfMock struct{}

func (pdfMock) Trigger(ctx context.Context, certificateID int64, actor *models.JWTClaims) (*dto.PDFJobResponse, error) {
	return &dto.PDFJobResponse{CertificateID: certificateID, Status: "queued"}, nil
}

func (pdfMock) Link(ctx context.Context, certificateID int64) (*dto.PDFLinkResponse, error) {
	return &dto.PDFLinkResponse{URL: "/download?token=abc"}, nil
}

func TestCertificateHandlerCreateAndList(t *testing.T) {
	svc := &certificateServiceMock{}
	h := NewCertificateHandler(svc, &workflowMock{}, pdfMock{})

	c, w := newGinContext(http.MethodPost, "/certificates",
		`{"no_certificate":"C-1","no_order":"O-1","no_identification":"I-1","issue_date":"2024-05-01T00:00:00Z"}`,
		&models.JWTClaims{UserID: "creator"})
	h.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "creator", svc.createdBy)
	assert.Equal(t, "C-1", svc.created.NoCertificate)

	c, w = newGinContext(http.MethodGet, "/certificates?status=draft,sent&q=C-&limit=5", "", &models.JWTClaims{UserID: "creator"})
	h.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []models.CertificateStatus{models.CertificateStatusDraft, models.CertificateStatusSent}, svc.query.Status)
	assert.Equal(t, 5, svc.query.Limit)
	assert.Equal(t, "C-", svc.query.Search)
}

func TestCertificateHandlerRoutesByID(t *testing.T) {
	workflow := &workflowMock{}
	h := NewCertificateHandler(&certificateServiceMock{}, workflow, pdfMock{})

	c, w := newGinContext(http.MethodGet, "/certificates/abc", "", nil)
	c.Params = gin.Params{{Key: "id", Value: "abc"}}
	h.Get(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newGinContext(http.MethodGet, "/certificates/404", "", nil)
	c.Params = gin.Params{{Key: "id", Value: "404"}}
	h.Get(c)
	assert.Equal(t, http.StatusNotFound, w.Code)

	c, w = newGinContext(http.MethodPatch, "/certificates/5", `{"no_order":"x"}`, &models.JWTClaims{UserID: "creator"})
	c.Params = gin.Params{{Key: "id", Value: "5"}}
	h.Update(c)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CERTIFICATE_LOCKED", decodeError(t, w))

	c, w = newGinContext(http.MethodPost, "/certificates/5/reject",
		`{"verification_level":2,"rejection_reason":"typo","rejection_destination":"verifikator_1"}`, &models.JWTClaims{UserID: "v2"})
	c.Params = gin.Params{{Key: "id", Value: "5"}}
	h.Reject(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(5), workflow.rejectID)
	assert.Equal(t, models.RejectionDestinationVerifikator1, workflow.rejectReq.RejectionDestination)

	claims := &models.JWTClaims{UserID: "creator"}
	c, w = newGinContext(http.MethodPost, "/certificates/5/send-to-verifiers", `{"sent_by":"someone"}`, claims)
	c.Params = gin.Params{{Key: "id", Value: "5"}}
	h.SendToVerifiers(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Same(t, claims, workflow.sendActor)

	c, w = newGinContext(http.MethodPost, "/certificates/5/generate-pdf", "", claims)
	c.Params = gin.Params{{Key: "id", Value: "5"}}
	h.GeneratePDF(c)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

type publicMock struct {
	number, id string
	file       string
}

func (m *publicMock) PublicVerify(ctx context.Context, number, publicID string) (*dto.PublicVerificationResponse, error) {
	m.number, m.id = number, publicID
	return &dto.PublicVerificationResponse{Found: false, Valid: false}, nil
}

func (m *publicMock) VerificationQR(publicID string, size int) ([]byte, error) {
	if publicID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "id is required")
	}
	return []byte("\x89PNG"), nil
}

func (m *publicMock) Open(token string) (*os.File, string, error) {
	if token != "good" {
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "download link expired")
	}
	f, err := os.Open(m.file)
	return f, "cert.pdf", err
}

func TestPublicHandler(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cert.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o600))
	mock := &publicMock{file: path}
	h := NewPublicHandler(mock, mock)

	c, w := newGinContext(http.MethodGet, "/verify-certificate?no=CERT-404", "", nil)
	h.Verify(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "CERT-404", mock.number)
	assert.Contains(t, w.Body.String(), `"found":false`)

	c, w = newGinContext(http.MethodGet, "/verify-certificate/qr?id=abc", "", nil)
	h.QRCode(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	c, w = newGinContext(http.MethodGet, "/certificates/pdf/download?token=good", "", nil)
	h.Download(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "%PDF-1.4", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "cert.pdf")

	c, w = newGinContext(http.MethodGet, "/certificates/pdf/download?token=old", "", nil)
	h.Download(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

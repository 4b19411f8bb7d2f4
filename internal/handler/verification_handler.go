package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/calibration-cert-api/internal/dto"
	"github.com/noah-isme/calibration-cert-api/internal/models"
	appErrors "github.com/noah-isme/calibration-cert-api/pkg/errors"
	"github.com/noah-isme/calibration-cert-api/pkg/response"
)

type decisionRecorder interface {
	RecordDecision(ctx context.Context, req dto.VerificationDecisionRequest, actorID string) (*models.VerificationRecord, error)
}

type pendingLister interface {
	Pending(ctx context.Context, actorID string) ([]dto.PendingCertificate, error)
}

type signatureService interface {
	SignLevel3(ctx context.Context, certificateID int64, actorID, passphrase string) (*models.VerificationRecord, error)
	VerifySignature(ctx context.Context, certificateID int64) (*dto.VerifySignatureResponse, error)
}

// VerificationHandler exposes the verifier and signer endpoints.
type VerificationHandler struct {
	workflow  decisionRecorder
	queries   pendingLister
	signature signatureService
}

// NewVerificationHandler builds a new handler.
func NewVerificationHandler(workflow decisionRecorder, queries pendingLister, signature signatureService) *VerificationHandler {
	return &VerificationHandler{workflow: workflow, queries: queries, signature: signature}
}

// Decide godoc
// @Summary Record a verification decision
// @Description verified_by is ignored; the decision is always attributed to the authenticated user.
// @Tags Verification
// @Accept json
// @Produce json
// @Param payload body dto.VerificationDecisionRequest true "Decision payload"
// @Success 201 {object} response.Envelope
// @Router /certificate-verification [post]
func (h *VerificationHandler) Decide(c *gin.Context) {
	var req dto.VerificationDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid verification payload"))
		return
	}
	record, err := h.workflow.RecordDecision(c.Request.Context(), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

// Pending godoc
// @Summary List certificates awaiting the current user
// @Tags Verification
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /certificate-verification/pending [get]
func (h *VerificationHandler) Pending(c *gin.Context) {
	items, err := h.queries.Pending(c.Request.Context(), actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// SignLevel3 godoc
// @Summary Sign the certificate with BSrE as authorized_by
// @Tags Verification
// @Accept json
// @Produce json
// @Param payload body dto.SignLevel3Request true "Signing payload"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /certificate-verification/sign-level-3 [post]
func (h *VerificationHandler) SignLevel3(c *gin.Context) {
	var req dto.SignLevel3Request
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid signing payload"))
		return
	}
	if req.DocumentID <= 0 || req.UserPassphrase == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "documentId and userPassphrase are required"))
		return
	}
	record, err := h.signature.SignLevel3(c.Request.Context(), req.DocumentID, actorID(c), req.UserPassphrase)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// VerifySignature godoc
// @Summary Re-check the stored level-3 signature with BSrE
// @Tags Verification
// @Accept json
// @Produce json
// @Param payload body dto.VerifySignatureRequest true "Certificate reference"
// @Success 200 {object} response.Envelope
// @Router /certificate-verification/verify-signature [post]
func (h *VerificationHandler) VerifySignature(c *gin.Context) {
	var req dto.VerifySignatureRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.DocumentID <= 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "documentId is required"))
		return
	}
	result, err := h.signature.VerifySignature(c.Request.Context(), req.DocumentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/calibration-cert-api/internal/dto"
	"github.com/noah-isme/calibration-cert-api/internal/models"
	appErrors "github.com/noah-isme/calibration-cert-api/pkg/errors"
	"github.com/noah-isme/calibration-cert-api/pkg/response"
)

type certificateService interface {
	Create(ctx context.Context, req dto.CreateCertificateRequest, actorID string) (*models.Certificate, error)
	Get(ctx context.Context, id int64) (*models.Certificate, error)
	List(ctx context.Context, query dto.CertificateQuery) ([]models.Certificate, error)
	Update(ctx context.Context, id int64, req dto.UpdateCertificateRequest, actor *models.JWTClaims) (*models.Certificate, error)
	History(ctx context.Context, id int64) ([]models.VerificationRecord, error)
	AuditTrail(ctx context.Context, id int64, limit int) ([]models.AuditLog, error)
}

type certificateWorkflow interface {
	SendToVerifiers(ctx context.Context, certificateID int64, actor *models.JWTClaims) (*models.Certificate, error)
	Reject(ctx context.Context, certificateID int64, req dto.RejectRequest, actorID string) (*models.Certificate, error)
}

type certificatePDF interface {
	Trigger(ctx context.Context, certificateID int64, actor *models.JWTClaims) (*dto.PDFJobResponse, error)
	Link(ctx context.Context, certificateID int64) (*dto.PDFLinkResponse, error)
}

// CertificateHandler exposes certificate lifecycle endpoints.
type CertificateHandler struct {
	certificates certificateService
	workflow     certificateWorkflow
	pdf          certificatePDF
}

// NewCertificateHandler builds a new handler.
func NewCertificateHandler(certificates certificateService, workflow certificateWorkflow, pdf certificatePDF) *CertificateHandler {
	return &CertificateHandler{certificates: certificates, workflow: workflow, pdf: pdf}
}

// Create godoc
// @Summary Create a draft certificate
// @Tags Certificates
// @Accept json
// @Produce json
// @Param payload body dto.CreateCertificateRequest true "Certificate payload"
// @Success 201 {object} response.Envelope
// @Router /certificates [post]
func (h *CertificateHandler) Create(c *gin.Context) {
	var req dto.CreateCertificateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid certificate payload"))
		return
	}
	cert, err := h.certificates.Create(c.Request.Context(), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, cert)
}

// List godoc
// @Summary List certificates
// @Tags Certificates
// @Produce json
// @Param status query string false "Comma separated statuses (draft,sent,signed)"
// @Param q query string false "Search by certificate or order number"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Router /certificates [get]
func (h *CertificateHandler) List(c *gin.Context) {
	query := dto.CertificateQuery{
		Search: c.Query("q"),
		Limit:  queryInt(c, "limit", 20),
		Offset: queryInt(c, "offset", 0),
	}
	for _, status := range strings.Split(c.Query("status"), ",") {
		if status = strings.TrimSpace(status); status != "" {
			query.Status = append(query.Status, models.CertificateStatus(status))
		}
	}
	certs, err := h.certificates.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, certs, &response.Pagination{Limit: query.Limit, Offset: query.Offset, Count: len(certs)})
}

// Get godoc
// @Summary Get certificate detail
// @Tags Certificates
// @Produce json
// @Param id path int true "Certificate ID"
// @Success 200 {object} response.Envelope
// @Router /certificates/{id} [get]
func (h *CertificateHandler) Get(c *gin.Context) {
	id, err := certificateIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	cert, err := h.certificates.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cert, nil)
}

// Update godoc
// @Summary Edit a draft certificate
// @Description Content changes bump the version; role reassignment does not.
// @Tags Certificates
// @Accept json
// @Produce json
// @Param id path int true "Certificate ID"
// @Param payload body dto.UpdateCertificateRequest true "Fields to change"
// @Success 200 {object} response.Envelope
// @Router /certificates/{id} [patch]
func (h *CertificateHandler) Update(c *gin.Context) {
	id, err := certificateIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.UpdateCertificateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid certificate payload"))
		return
	}
	cert, err := h.certificates.Update(c.Request.Context(), id, req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cert, nil)
}

// SendToVerifiers godoc
// @Summary Send the current version to the verifiers
// @Tags Certificates
// @Accept json
// @Produce json
// @Param id path int true "Certificate ID"
// @Param payload body dto.SendToVerifiersRequest false "Ignored; the sender is the authenticated user"
// @Success 200 {object} response.Envelope
// @Router /certificates/{id}/send-to-verifiers [post]
func (h *CertificateHandler) SendToVerifiers(c *gin.Context) {
	id, err := certificateIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	cert, err := h.workflow.SendToVerifiers(c.Request.Context(), id, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cert, nil)
}

// Reject godoc
// @Summary Reject the certificate at a verification level
// @Tags Certificates
// @Accept json
// @Produce json
// @Param id path int true "Certificate ID"
// @Param payload body dto.RejectRequest true "Rejection payload"
// @Success 200 {object} response.Envelope
// @Router /certificates/{id}/reject [post]
func (h *CertificateHandler) Reject(c *gin.Context) {
	id, err := certificateIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid rejection payload"))
		return
	}
	cert, err := h.workflow.Reject(c.Request.Context(), id, req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cert, nil)
}

// GeneratePDF godoc
// @Summary Queue PDF regeneration for a signed certificate
// @Tags Certificates
// @Produce json
// @Param id path int true "Certificate ID"
// @Success 202 {object} response.Envelope
// @Router /certificates/{id}/generate-pdf [post]
func (h *CertificateHandler) GeneratePDF(c *gin.Context) {
	id, err := certificateIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	job, err := h.pdf.Trigger(c.Request.Context(), id, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, job)
}

// PDFLink godoc
// @Summary Get a time-limited download link for the certificate PDF
// @Tags Certificates
// @Produce json
// @Param id path int true "Certificate ID"
// @Success 200 {object} response.Envelope
// @Router /certificates/{id}/pdf [get]
func (h *CertificateHandler) PDFLink(c *gin.Context) {
	id, err := certificateIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	link, err := h.pdf.Link(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// History godoc
// @Summary List verification records across all versions
// @Tags Certificates
// @Produce json
// @Param id path int true "Certificate ID"
// @Success 200 {object} response.Envelope
// @Router /certificates/{id}/history [get]
func (h *CertificateHandler) History(c *gin.Context) {
	id, err := certificateIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	records, err := h.certificates.History(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil)
}

// Audit godoc
// @Summary List audit entries for a certificate
// @Tags Certificates
// @Produce json
// @Param id path int true "Certificate ID"
// @Param limit query int false "Maximum entries"
// @Success 200 {object} response.Envelope
// @Router /certificates/{id}/audit [get]
func (h *CertificateHandler) Audit(c *gin.Context) {
	id, err := certificateIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	logs, err := h.certificates.AuditTrail(c.Request.Context(), id, queryInt(c, "limit", 100))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, nil)
}

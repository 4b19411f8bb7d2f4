package handler

import (
	"context"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/calibration-cert-api/internal/dto"
	appErrors "github.com/noah-isme/calibration-cert-api/pkg/errors"
	"github.com/noah-isme/calibration-cert-api/pkg/response"
)

type publicVerifier interface {
	PublicVerify(ctx context.Context, number, publicID string) (*dto.PublicVerificationResponse, error)
}

type publicArtifacts interface {
	VerificationQR(publicID string, size int) ([]byte, error)
	Open(token string) (*os.File, string, error)
}

// PublicHandler serves the unauthenticated verification page and signed downloads.
type PublicHandler struct {
	verifier  publicVerifier
	artifacts publicArtifacts
}

// NewPublicHandler builds a new handler.
func NewPublicHandler(verifier publicVerifier, artifacts publicArtifacts) *PublicHandler {
	return &PublicHandler{verifier: verifier, artifacts: artifacts}
}

// Verify godoc
// @Summary Check whether a certificate is validly signed
// @Description Not-found certificates answer 200 with found=false.
// @Tags Public
// @Produce json
// @Param no query string false "Certificate number"
// @Param id query string false "Certificate public id"
// @Success 200 {object} response.Envelope
// @Router /verify-certificate [get]
func (h *PublicHandler) Verify(c *gin.Context) {
	result, err := h.verifier.PublicVerify(c.Request.Context(), c.Query("no"), c.Query("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// QRCode godoc
// @Summary QR code PNG pointing at the verification page
// @Tags Public
// @Produce png
// @Param id query string true "Certificate public id"
// @Param size query int false "Image size in pixels"
// @Success 200 {file} binary
// @Router /verify-certificate/qr [get]
func (h *PublicHandler) QRCode(c *gin.Context) {
	size := queryInt(c, "size", 256)
	if size < 64 || size > 1024 {
		size = 256
	}
	png, err := h.artifacts.VerificationQR(c.Query("id"), size)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// Download godoc
// @Summary Download a certificate PDF using a signed token
// @Tags Public
// @Produce application/pdf
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Router /certificates/pdf/download [get]
func (h *PublicHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	file, name, err := h.artifacts.Open(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Header("Cache-Control", "private, no-store")
	http.ServeContent(c.Writer, c.Request, name, info.ModTime(), file)
}

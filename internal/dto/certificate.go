package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/calibration-cert-api/internal/models"
)

// CreateCertificateRequest captures POST /certificates payload.
type CreateCertificateRequest struct {
	NoCertificate    string          `json:"no_certificate" validate:"required,max=120"`
	NoOrder          string          `json:"no_order" validate:"required,max=120"`
	NoIdentification string          `json:"no_identification" validate:"required,max=120"`
	IssueDate        time.Time       `json:"issue_date" validate:"required"`
	Station          *int64          `json:"station" validate:"omitempty,gt=0"`
	Instrument       *int64          `json:"instrument" validate:"omitempty,gt=0"`
	StationAddress   *string         `json:"station_address"`
	Results          json.RawMessage `json:"results"`
	Verifikator1     *string         `json:"verifikator_1"`
	Verifikator2     *string         `json:"verifikator_2"`
	AuthorizedBy     *string         `json:"authorized_by"`
}

// UpdateCertificateRequest is a partial update; nil fields are left untouched.
// Content fields bump the version when they change, role fields never do.
type UpdateCertificateRequest struct {
	NoCertificate    *string         `json:"no_certificate" validate:"omitempty,min=1,max=120"`
	NoOrder          *string         `json:"no_order" validate:"omitempty,min=1,max=120"`
	NoIdentification *string         `json:"no_identification" validate:"omitempty,min=1,max=120"`
	IssueDate        *time.Time      `json:"issue_date"`
	Station          *int64          `json:"station" validate:"omitempty,gt=0"`
	Instrument       *int64          `json:"instrument" validate:"omitempty,gt=0"`
	StationAddress   *string         `json:"station_address"`
	Results          json.RawMessage `json:"results"`
	Verifikator1     *string         `json:"verifikator_1"`
	Verifikator2     *string         `json:"verifikator_2"`
	AuthorizedBy     *string         `json:"authorized_by"`
}

// CertificateQuery mirrors supported listing filters.
type CertificateQuery struct {
	Status []models.CertificateStatus
	Search string
	Limit  int
	Offset int
}

// SendToVerifiersRequest is kept for API compatibility; the sender is taken from the token.
type SendToVerifiersRequest struct {
	SentBy string `json:"sent_by"`
}

// RejectRequest captures POST /certificates/{id}/reject payload.
type RejectRequest struct {
	VerificationLevel    models.VerificationLevel    `json:"verification_level" validate:"required,oneof=1 2"`
	RejectionReason      string                      `json:"rejection_reason" validate:"required"`
	RejectionDestination models.RejectionDestination `json:"rejection_destination"`
}

// PDFJobResponse is returned when PDF generation is queued.
type PDFJobResponse struct {
	CertificateID int64  `json:"certificate_id"`
	Status        string `json:"status"`
}

// PDFLinkResponse exposes a time-limited download link.
type PDFLinkResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

package dto

import (
	"time"

	"github.com/noah-isme/calibration-cert-api/internal/models"
)

// VerificationDecisionRequest captures POST /certificate-verification payload.
// VerifiedBy is accepted for compatibility and always replaced by the authenticated actor.
type VerificationDecisionRequest struct {
	CertificateID        int64                        `json:"certificate_id" validate:"required,gt=0"`
	VerificationLevel    models.VerificationLevel     `json:"verification_level" validate:"required,oneof=1 2 3"`
	Status               models.VerificationStatus    `json:"status" validate:"required,oneof=approved rejected"`
	Notes                string                       `json:"notes"`
	RejectionReason      string                       `json:"rejection_reason"`
	RejectionDestination *models.RejectionDestination `json:"rejection_destination"`
	ApprovalNotes        string                       `json:"approval_notes"`
	CertificateVersion   *int                         `json:"certificate_version"`
	VerifiedBy           string                       `json:"verified_by"`
	Passphrase           string                       `json:"passphrase"`
}

// SignLevel3Request captures POST /certificate-verification/sign-level-3 payload.
type SignLevel3Request struct {
	DocumentID     int64  `json:"documentId" validate:"required,gt=0"`
	UserPassphrase string `json:"userPassphrase" validate:"required"`
}

// VerifySignatureRequest asks the provider to re-check a stored signature.
type VerifySignatureRequest struct {
	DocumentID int64 `json:"documentId" validate:"required,gt=0"`
}

// VerifySignatureResponse reports the provider's verdict.
type VerifySignatureResponse struct {
	CertificateID int64      `json:"certificate_id"`
	Valid         bool       `json:"valid"`
	Signer        string     `json:"signer,omitempty"`
	Timestamp     *time.Time `json:"timestamp,omitempty"`
}

// LevelState is one level of the dashboard projection.
type LevelState struct {
	Level      models.VerificationLevel  `json:"level"`
	Status     models.VerificationStatus `json:"status"`
	AssignedTo string                    `json:"assigned_to,omitempty"`
	VerifiedBy *string                   `json:"verified_by,omitempty"`
	UpdatedAt  *time.Time                `json:"updated_at,omitempty"`
	// Set on a level reopened after it sent the certificate back to verifikator_1.
	RejectionReason *string    `json:"rejection_reason,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	Reopened        bool       `json:"reopened,omitempty"`
}

// PendingCertificate is a certificate row in the actor dashboard.
type PendingCertificate struct {
	Certificate models.Certificate       `json:"certificate"`
	Levels      []LevelState             `json:"levels"`
	UserLevel   models.VerificationLevel `json:"user_verification_level,omitempty"`
	UserCanAct  bool                     `json:"user_can_act"`
}

// PublicVerificationResponse is returned by the unauthenticated verification page.
type PublicVerificationResponse struct {
	Found         bool       `json:"found"`
	Valid         bool       `json:"valid"`
	NoCertificate string     `json:"no_certificate,omitempty"`
	PublicID      string     `json:"public_id,omitempty"`
	IssueDate     *time.Time `json:"issue_date,omitempty"`
	Version       int        `json:"version,omitempty"`
	SignedAt      *time.Time `json:"signed_at,omitempty"`
	SignedBy      string     `json:"signed_by,omitempty"`
	PDFURL        string     `json:"pdf_url,omitempty"`
}

package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Audit actions recorded by the workflow.
const (
	AuditActionBSrESign          = "bsre_sign"
	AuditActionSendToVerifiers   = "send_to_verifiers"
	AuditActionVerificationCheck = "verification_decision"
	AuditActionReject            = "certificate_reject"
	AuditActionPDFGenerate       = "pdf_generate"
	AuditActionCreate            = "certificate_create"
	AuditActionUpdate            = "certificate_update"
)

// Audit outcomes.
const (
	AuditOutcomeSuccess           = "success"
	AuditOutcomeInvalidPassphrase = "invalid_passphrase"
	AuditOutcomeProviderError     = "provider_error"
	AuditOutcomeRejected          = "precondition_failed"
	AuditOutcomeError             = "error"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string         `db:"id" json:"id"`
	UserID     *string        `db:"user_id" json:"user_id,omitempty"`
	Action     string         `db:"action" json:"action"`
	Resource   string         `db:"resource" json:"resource"`
	ResourceID *string        `db:"resource_id" json:"resource_id,omitempty"`
	Outcome    string         `db:"outcome" json:"outcome"`
	Context    types.JSONText `db:"context" json:"context,omitempty"`
	IPAddress  string         `db:"ip_address" json:"ip_address"`
	UserAgent  string         `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}

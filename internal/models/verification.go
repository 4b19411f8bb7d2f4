package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// VerificationLevel identifies a reviewer tier.
type VerificationLevel int

const (
	VerificationLevelOne   VerificationLevel = 1
	VerificationLevelTwo   VerificationLevel = 2
	VerificationLevelThree VerificationLevel = 3
)

// VerificationLevels lists levels in workflow order.
var VerificationLevels = []VerificationLevel{VerificationLevelOne, VerificationLevelTwo, VerificationLevelThree}

// Valid reports whether the level is known.
func (l VerificationLevel) Valid() bool {
	return l >= VerificationLevelOne && l <= VerificationLevelThree
}

// Role returns the certificate role column that owns the level.
func (l VerificationLevel) Role() string {
	switch l {
	case VerificationLevelOne:
		return "verifikator_1"
	case VerificationLevelTwo:
		return "verifikator_2"
	case VerificationLevelThree:
		return "authorized_by"
	}
	return ""
}

// VerificationStatus is the per-level decision state.
type VerificationStatus string

const (
	VerificationStatusPending  VerificationStatus = "pending"
	VerificationStatusApproved VerificationStatus = "approved"
	VerificationStatusRejected VerificationStatus = "rejected"
)

// RejectionDestination names where a rejected certificate returns to.
type RejectionDestination string

const (
	RejectionDestinationCreator      RejectionDestination = "creator"
	RejectionDestinationVerifikator1 RejectionDestination = "verifikator_1"
)

// SignedViaBSrE is stored as approval notes on the level-3 record.
const SignedViaBSrE = "Signed via BSRE"

// VerificationRecord is one ledger row keyed by (certificate, level, version).
type VerificationRecord struct {
	ID                      int64                 `db:"id" json:"id"`
	CertificateID           int64                 `db:"certificate_id" json:"certificate_id"`
	VerificationLevel       VerificationLevel     `db:"verification_level" json:"verification_level"`
	CertificateVersion      int                   `db:"certificate_version" json:"certificate_version"`
	Status                  VerificationStatus    `db:"status" json:"status"`
	VerifiedBy              *string               `db:"verified_by" json:"verified_by,omitempty"`
	Notes                   *string               `db:"notes" json:"notes,omitempty"`
	RejectionReason         *string               `db:"rejection_reason" json:"rejection_reason,omitempty"`
	RejectionReasonDetailed *string               `db:"rejection_reason_detailed" json:"rejection_reason_detailed,omitempty"`
	RejectionDestination    *RejectionDestination `db:"rejection_destination" json:"rejection_destination,omitempty"`
	RejectionTimestamp      *time.Time            `db:"rejection_timestamp" json:"rejection_timestamp,omitempty"`
	ApprovalNotes           *string               `db:"approval_notes" json:"approval_notes,omitempty"`
	SignatureData           *types.JSONText       `db:"signature_data" json:"signature_data,omitempty"`
	SignedAt                *time.Time            `db:"signed_at" json:"signed_at,omitempty"`
	TimestampData           *types.JSONText       `db:"timestamp_data" json:"timestamp_data,omitempty"`
	CreatedAt               time.Time             `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time             `db:"updated_at" json:"updated_at"`
}

// Ledger indexes verification records of a single certificate version by level.
type Ledger map[VerificationLevel]*VerificationRecord

// NewLedger builds a ledger from records, keeping only the given version.
func NewLedger(records []VerificationRecord, version int) Ledger {
	ledger := make(Ledger, len(records))
	for i := range records {
		record := records[i]
		if record.CertificateVersion != version {
			continue
		}
		ledger[record.VerificationLevel] = &record
	}
	return ledger
}

// StatusOf returns the level status, defaulting to pending when no row exists.
func (l Ledger) StatusOf(level VerificationLevel) VerificationStatus {
	if record, ok := l[level]; ok && record != nil && record.Status != "" {
		return record.Status
	}
	return VerificationStatusPending
}

// HasRejection reports whether any level is currently rejected.
func (l Ledger) HasRejection() bool {
	for _, record := range l {
		if record != nil && record.Status == VerificationStatusRejected {
			return true
		}
	}
	return false
}

// Actionable reports whether the level's predecessor is approved.
// Level 1 is always actionable once sent.
func (l Ledger) Actionable(level VerificationLevel) bool {
	if level <= VerificationLevelOne {
		return true
	}
	return l.StatusOf(level-1) == VerificationStatusApproved
}

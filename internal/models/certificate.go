package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// CertificateStatus captures where a certificate sits in the verification workflow.
type CertificateStatus string

const (
	CertificateStatusDraft  CertificateStatus = "draft"
	CertificateStatusSent   CertificateStatus = "sent"
	CertificateStatusSigned CertificateStatus = "signed"
)

// Certificate is the versioned calibration document under review.
type Certificate struct {
	ID               int64             `db:"id" json:"id"`
	PublicID         string            `db:"public_id" json:"public_id"`
	NoCertificate    string            `db:"no_certificate" json:"no_certificate"`
	NoOrder          string            `db:"no_order" json:"no_order"`
	NoIdentification string            `db:"no_identification" json:"no_identification"`
	IssueDate        time.Time         `db:"issue_date" json:"issue_date"`
	Station          *int64            `db:"station" json:"station,omitempty"`
	Instrument       *int64            `db:"instrument" json:"instrument,omitempty"`
	StationAddress   *string           `db:"station_address" json:"station_address,omitempty"`
	Results          types.JSONText    `db:"results" json:"results"`
	Verifikator1     *string           `db:"verifikator_1" json:"verifikator_1,omitempty"`
	Verifikator2     *string           `db:"verifikator_2" json:"verifikator_2,omitempty"`
	AuthorizedBy     *string           `db:"authorized_by" json:"authorized_by,omitempty"`
	Status           CertificateStatus `db:"status" json:"status"`
	Version          int               `db:"version" json:"version"`
	RejectionCount   int               `db:"rejection_count" json:"rejection_count"`
	RejectionHistory RejectionHistory  `db:"rejection_history" json:"rejection_history"`
	PDFPath          *string           `db:"pdf_path" json:"pdf_path,omitempty"`
	PDFGeneratedAt   *time.Time        `db:"pdf_generated_at" json:"pdf_generated_at,omitempty"`
	CreatedBy        string            `db:"created_by" json:"created_by"`
	CreatedAt        time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time         `db:"updated_at" json:"updated_at"`
}

// RoleHolder returns the personnel id assigned to act at the given level.
func (c *Certificate) RoleHolder(level VerificationLevel) string {
	var holder *string
	switch level {
	case VerificationLevelOne:
		holder = c.Verifikator1
	case VerificationLevelTwo:
		holder = c.Verifikator2
	case VerificationLevelThree:
		holder = c.AuthorizedBy
	}
	if holder == nil {
		return ""
	}
	return *holder
}

// HasVerifiers reports whether both verifikator roles are assigned.
func (c *Certificate) HasVerifiers() bool {
	return nonEmpty(c.Verifikator1) && nonEmpty(c.Verifikator2)
}

// HasAllRoles reports whether every workflow role is assigned.
func (c *Certificate) HasAllRoles() bool {
	return c.HasVerifiers() && nonEmpty(c.AuthorizedBy)
}

// LevelFor returns the level the actor owns on this certificate, or 0.
func (c *Certificate) LevelFor(actorID string) VerificationLevel {
	for _, level := range VerificationLevels {
		if holder := c.RoleHolder(level); holder != "" && holder == actorID {
			return level
		}
	}
	return 0
}

func nonEmpty(v *string) bool {
	return v != nil && *v != ""
}

// RejectionEntry is one immutable rejection_history record.
type RejectionEntry struct {
	VerificationLevel    VerificationLevel    `json:"verification_level"`
	RejectionReason      string               `json:"rejection_reason"`
	RejectionDestination RejectionDestination `json:"rejection_destination"`
	RejectionTimestamp   time.Time            `json:"rejection_timestamp"`
	RejectedBy           string               `json:"rejected_by"`
	CertificateVersion   int                  `json:"certificate_version"`
}

// RejectionHistory is persisted as a JSONB array.
type RejectionHistory []RejectionEntry

// Value marshals the history for persistence.
func (h RejectionHistory) Value() (driver.Value, error) {
	if h == nil {
		h = RejectionHistory{}
	}
	data, err := json.Marshal([]RejectionEntry(h))
	if err != nil {
		return nil, fmt.Errorf("marshal rejection history: %w", err)
	}
	return data, nil
}

// Scan unmarshals a JSONB array into the history.
func (h *RejectionHistory) Scan(value interface{}) error {
	if value == nil {
		*h = RejectionHistory{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for RejectionHistory", value)
	}
	if len(data) == 0 {
		*h = RejectionHistory{}
		return nil
	}
	var entries []RejectionEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("unmarshal rejection history: %w", err)
	}
	*h = entries
	return nil
}

// UnresolvedFor reports whether a creator-bound rejection was recorded at the given version.
// Such a rejection is only cleared by revising the document content.
func (h RejectionHistory) UnresolvedFor(version int) bool {
	for _, entry := range h {
		if entry.CertificateVersion == version && entry.RejectionDestination == RejectionDestinationCreator {
			return true
		}
	}
	return false
}

// CertificateFilter constrains listing queries.
type CertificateFilter struct {
	Status    []CertificateStatus
	CreatedBy string
	Search    string
	Limit     int
	Offset    int
}

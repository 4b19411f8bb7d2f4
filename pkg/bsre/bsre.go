// Package bsre talks to the BSrE electronic signature provider.
package bsre

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/noah-isme/calibration-cert-api/pkg/config"
)

var (
	// ErrInvalidPassphrase means the provider rejected the signer's credential.
	ErrInvalidPassphrase = errors.New("bsre: invalid passphrase")
	// ErrProvider covers transport failures, timeouts, non-2xx and malformed responses.
	ErrProvider = errors.New("bsre: provider error")
)

// SignRequest is the body of POST /sign.
type SignRequest struct {
	Passphrase string `json:"passphrase"`
	DocumentID string `json:"document_id"`
}

// SignResult is the provider response to a successful sign call.
type SignResult struct {
	Signature string `json:"signature"`
	Timestamp string `json:"timestamp"`
	Provider  string `json:"provider"`
	// Raw keeps the provider payload verbatim for the ledger.
	Raw json.RawMessage `json:"-"`
}

// VerifyRequest is the body of POST /verify.
type VerifyRequest struct {
	DocumentID    string          `json:"document_id"`
	SignatureData json.RawMessage `json:"signature_data"`
}

// VerifyResult reports whether a stored signature is still valid.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Timestamp string `json:"timestamp"`
	Signer    string `json:"signer"`
}

// TimestampResult is a trusted timestamp token over a document hash.
type TimestampResult struct {
	Token     string          `json:"token"`
	Timestamp string          `json:"timestamp"`
	Raw       json.RawMessage `json:"-"`
}

// Signer is the contract the signing workflow depends on.
type Signer interface {
	Sign(ctx context.Context, req SignRequest) (*SignResult, error)
	Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error)
	Timestamp(ctx context.Context, documentHash string) (*TimestampResult, error)
}

// New returns the signer selected by configuration.
func New(cfg config.BSrEConfig) Signer {
	if cfg.Mode == config.BSrEModeLive {
		return NewHTTPClient(cfg)
	}
	return NewMock()
}

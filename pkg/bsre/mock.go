package bsre

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MockPassphraseInvalid deterministically triggers the invalid-credential path.
const MockPassphraseInvalid = "wrong"

const mockProvider = "BSRE-MOCK"

// Mock is an in-process stand-in for BSrE used in development and tests.
type Mock struct {
	now func() time.Time
}

// NewMock returns a mock signer.
func NewMock() *Mock {
	return &Mock{now: time.Now}
}

// Sign succeeds for any passphrase except MockPassphraseInvalid.
func (m *Mock) Sign(ctx context.Context, req SignRequest) (*SignResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	if req.Passphrase == MockPassphraseInvalid || strings.TrimSpace(req.Passphrase) == "" {
		return nil, ErrInvalidPassphrase
	}
	ts := m.now().UTC().Format(time.RFC3339)
	result := &SignResult{
		Signature: mockDigest("sig", req.DocumentID),
		Timestamp: ts,
		Provider:  mockProvider,
	}
	raw, _ := json.Marshal(result)
	result.Raw = raw
	return result, nil
}

// Verify accepts signatures previously produced by Sign for the same document.
func (m *Mock) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	var stored SignResult
	if err := json.Unmarshal(req.SignatureData, &stored); err != nil {
		return &VerifyResult{Valid: false}, nil
	}
	return &VerifyResult{
		Valid:     stored.Signature == mockDigest("sig", req.DocumentID),
		Timestamp: stored.Timestamp,
		Signer:    stored.Provider,
	}, nil
}

// Timestamp returns a deterministic token for the hash.
func (m *Mock) Timestamp(ctx context.Context, documentHash string) (*TimestampResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	result := &TimestampResult{
		Token:     mockDigest("tsa", documentHash),
		Timestamp: m.now().UTC().Format(time.RFC3339),
	}
	raw, _ := json.Marshal(result)
	result.Raw = raw
	return result, nil
}

func mockDigest(kind, value string) string {
	sum := sha256.Sum256([]byte(kind + ":" + value))
	return hex.EncodeToString(sum[:])
}

package bsre

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/calibration-cert-api/pkg/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *HTTPClient {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(config.BSrEConfig{BaseURL: srv.URL, APIKey: "key", Timeout: timeout})
}

func TestHTTPClientSignSuccess(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sign", r.URL.Path)
		require.Equal(t, "key", r.Header.Get("X-API-Key"))
		var req SignRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "cert-12-v3", req.DocumentID)
		_, _ = w.Write([]byte(`{"signature":"abc","timestamp":"2026-10-17T00:00:00Z","provider":"BSRE"}`))
	}, time.Second)

	result, err := client.Sign(context.Background(), SignRequest{Passphrase: "secret", DocumentID: "cert-12-v3"})
	require.NoError(t, err)
	require.Equal(t, "abc", result.Signature)
	require.JSONEq(t, `{"signature":"abc","timestamp":"2026-10-17T00:00:00Z","provider":"BSRE"}`, string(result.Raw))
}

func TestHTTPClientSignInvalidPassphrase(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}, time.Second)

	_, err := client.Sign(context.Background(), SignRequest{Passphrase: "bad", DocumentID: "d"})
	require.ErrorIs(t, err, ErrInvalidPassphrase)
}

func TestHTTPClientSignProviderFailures(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) },
		"malformed":    func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`not-json`)) },
		"no signature": func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"provider":"BSRE"}`)) },
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, handler, time.Second)
			_, err := client.Sign(context.Background(), SignRequest{Passphrase: "p", DocumentID: "d"})
			require.ErrorIs(t, err, ErrProvider)
			require.NotErrorIs(t, err, ErrInvalidPassphrase)
		})
	}
}

func TestHTTPClientSignTimeout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}, 20*time.Millisecond)

	_, err := client.Sign(context.Background(), SignRequest{Passphrase: "p", DocumentID: "d"})
	require.ErrorIs(t, err, ErrProvider)
}

func TestHTTPClientVerifyAndTimestamp(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/verify":
			_, _ = w.Write([]byte(`{"valid":true,"timestamp":"t","signer":"Kepala Balai"}`))
		case "/timestamp":
			_, _ = w.Write([]byte(`{"token":"tok","timestamp":"t"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}, time.Second)

	verified, err := client.Verify(context.Background(), VerifyRequest{DocumentID: "d", SignatureData: json.RawMessage(`{}`)})
	require.NoError(t, err)
	require.True(t, verified.Valid)
	require.Equal(t, "Kepala Balai", verified.Signer)

	ts, err := client.Timestamp(context.Background(), "deadbeef")
	require.NoError(t, err)
	require.Equal(t, "tok", ts.Token)
}

func TestMockSigner(t *testing.T) {
	mock := NewMock()
	ctx := context.Background()

	_, err := mock.Sign(ctx, SignRequest{Passphrase: MockPassphraseInvalid, DocumentID: "d"})
	require.ErrorIs(t, err, ErrInvalidPassphrase)

	signed, err := mock.Sign(ctx, SignRequest{Passphrase: "correct", DocumentID: "d"})
	require.NoError(t, err)
	require.NotEmpty(t, signed.Signature)

	verified, err := mock.Verify(ctx, VerifyRequest{DocumentID: "d", SignatureData: signed.Raw})
	require.NoError(t, err)
	require.True(t, verified.Valid)

	verified, err = mock.Verify(ctx, VerifyRequest{DocumentID: "other", SignatureData: signed.Raw})
	require.NoError(t, err)
	require.False(t, verified.Valid)
}

func TestNewSelectsImplementation(t *testing.T) {
	require.IsType(t, &Mock{}, New(config.BSrEConfig{Mode: config.BSrEModeMock}))
	require.IsType(t, &HTTPClient{}, New(config.BSrEConfig{Mode: config.BSrEModeLive, BaseURL: "http://x"}))
}

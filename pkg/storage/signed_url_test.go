package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignedURLSignerGenerateAndParse(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, expiresAt, err := signer.Generate("3f0c-public", "certificates/12/v3.pdf")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	subject, path, parsedExpiry, err := signer.Parse(token)
	require.NoError(t, err)
	require.Equal(t, "3f0c-public", subject)
	require.Equal(t, "certificates/12/v3.pdf", path)
	require.WithinDuration(t, expiresAt, parsedExpiry, time.Second)
}

func TestSignedURLSignerExpired(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Minute)
	base := time.Now()
	signer.now = func() time.Time { return base }
	token, _, err := signer.Generate("pub", "a.pdf")
	require.NoError(t, err)

	signer.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, _, _, err = signer.Parse(token)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestSignedURLSignerTampered(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, _, err := signer.Generate("pub", "a.pdf")
	require.NoError(t, err)

	other := NewSignedURLSigner("other-secret", time.Hour)
	_, _, _, err = other.Parse(token)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, _, _, err = signer.Parse("garbage")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestLocalStorageSaveOpenDelete(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	rel, err := store.Save("12/v1.pdf", []byte("%PDF-1.3"))
	require.NoError(t, err)
	require.True(t, store.Exists(rel))

	f, err := store.Open(rel)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, store.Delete(rel))
	require.False(t, store.Exists(rel))

	_, err = store.Save("../escape.pdf", []byte("x"))
	require.Error(t, err)
}

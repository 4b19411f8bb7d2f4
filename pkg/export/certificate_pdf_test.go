package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCertificatePDFRender(t *testing.T) {
	signedAt := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	results, err := DatasetFromJSON([]byte(`[{"setpoint":20,"reading":20.1,"correction":-0.1},{"setpoint":30,"reading":29.8,"correction":0.2}]`))
	require.NoError(t, err)

	pdf, err := NewCertificatePDF("").Render(CertificateDocument{
		NoCertificate:   "001/KAL/X/2026",
		IssueDate:       signedAt,
		Station:         "Stasiun Meteorologi Kemayoran",
		Instrument:      "Thermometer",
		Version:         2,
		Results:         results,
		Signatures:      []SignatureLine{{Role: "Authorized By", Name: "user-3", SignedAt: &signedAt}},
		VerificationURL: "https://example.go.id/verify?id=abc",
	})
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(pdf, []byte("%PDF-")))
}

func TestCertificatePDFRequiresNumber(t *testing.T) {
	_, err := NewCertificatePDF("").Render(CertificateDocument{})
	require.Error(t, err)
}

func TestDatasetFromJSON(t *testing.T) {
	data, err := DatasetFromJSON([]byte(`{"uncertainty":"0.2 C","method":"comparison"}`))
	require.NoError(t, err)
	require.Equal(t, []string{"Parameter", "Value"}, data.Headers)
	require.Len(t, data.Rows, 2)
	require.Equal(t, "method", data.Rows[0]["Parameter"])

	data, err = DatasetFromJSON([]byte(`[{"b":1},{"a":"x","b":2}]`))
	require.NoError(t, err)
	require.Equal(t, []string{"b", "a"}, data.Headers)
	require.Equal(t, "2", data.Rows[1]["b"])

	_, err = DatasetFromJSON([]byte(`42`))
	require.Error(t, err)
}

func TestQRCodePNG(t *testing.T) {
	png, err := QRCodePNG("https://example.go.id/verify?no=1", 128)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
}

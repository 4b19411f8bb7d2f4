package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/skip2/go-qrcode"
)

// CertificateDocument is everything the renderer needs to lay out a signed certificate.
type CertificateDocument struct {
	NoCertificate    string
	NoOrder          string
	NoIdentification string
	IssueDate        time.Time
	Station          string
	StationAddress   string
	Instrument       string
	Version          int
	Results          Dataset
	Signatures       []SignatureLine
	VerificationURL  string
}

// SignatureLine is one approval shown in the signature block.
type SignatureLine struct {
	Role     string
	Name     string
	SignedAt *time.Time
	Note     string
}

// CertificatePDF renders calibration certificates.
type CertificatePDF struct {
	title string
}

// NewCertificatePDF constructs a renderer.
func NewCertificatePDF(title string) *CertificatePDF {
	if title == "" {
		title = "Sertifikat Kalibrasi"
	}
	return &CertificatePDF{title: title}
}

// Render lays out the certificate and returns the PDF bytes.
func (r *CertificatePDF) Render(doc CertificateDocument) ([]byte, error) {
	if strings.TrimSpace(doc.NoCertificate) == "" {
		return nil, fmt.Errorf("certificate number is required")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetTitle(fmt.Sprintf("%s %s", r.title, doc.NoCertificate), true)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, strings.ToUpper(r.title), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(0, 6, fmt.Sprintf("No. %s", doc.NoCertificate), "", 1, "C", false, 0, "")
	pdf.Ln(6)

	pdf.SetFont("Arial", "", 10)
	for _, field := range [][2]string{
		{"No. Order", doc.NoOrder},
		{"No. Identifikasi", doc.NoIdentification},
		{"Tanggal Terbit", formatDate(doc.IssueDate)},
		{"Stasiun", doc.Station},
		{"Alamat Stasiun", doc.StationAddress},
		{"Instrumen", doc.Instrument},
		{"Revisi", fmt.Sprintf("%d", doc.Version)},
	} {
		pdf.CellFormat(45, 6, field[0], "", 0, "", false, 0, "")
		pdf.MultiCell(0, 6, ": "+field[1], "", "", false)
	}
	pdf.Ln(4)

	if len(doc.Results.Headers) > 0 {
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(0, 8, "Hasil Kalibrasi", "", 1, "", false, 0, "")
		renderTable(pdf, doc.Results)
		pdf.Ln(6)
	}

	r.renderSignatures(pdf, doc)

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *CertificatePDF) renderSignatures(pdf *gofpdf.Fpdf, doc CertificateDocument) {
	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(0, 8, "Pengesahan", "", 1, "", false, 0, "")
	pdf.SetFont("Arial", "", 9)
	for _, sig := range doc.Signatures {
		signed := "-"
		if sig.SignedAt != nil {
			signed = sig.SignedAt.UTC().Format("2006-01-02 15:04 MST")
		}
		line := fmt.Sprintf("%s: %s (%s)", sig.Role, sig.Name, signed)
		if sig.Note != "" {
			line += " - " + sig.Note
		}
		pdf.MultiCell(120, 5, line, "", "", false)
	}

	if doc.VerificationURL == "" {
		return
	}
	png, err := QRCodePNG(doc.VerificationURL, 256)
	if err != nil {
		// QR is decorative; the URL is still printed below.
		pdf.MultiCell(0, 5, doc.VerificationURL, "", "", false)
		return
	}
	opts := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
	pdf.RegisterImageOptionsReader("verification-qr", opts, bytes.NewReader(png))
	y := pdf.GetY() + 4
	pdf.ImageOptions("verification-qr", 15, y, 35, 35, false, opts, 0, doc.VerificationURL)
	pdf.SetXY(55, y+12)
	pdf.MultiCell(0, 5, "Pindai untuk memverifikasi keaslian sertifikat:\n"+doc.VerificationURL, "", "", false)
}

func renderTable(pdf *gofpdf.Fpdf, data Dataset) {
	colWidth := 180.0 / float64(len(data.Headers))
	pdf.SetFont("Arial", "B", 9)
	for _, header := range data.Headers {
		pdf.CellFormat(colWidth, 7, header, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, row := range data.Rows {
		for _, header := range data.Headers {
			pdf.CellFormat(colWidth, 6, row[header], "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}
}

// QRCodePNG encodes content as a PNG QR code of the given pixel size.
func QRCodePNG(content string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(content, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("02 January 2006")
}

package pdftext_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/ingestd/pkg/service/pdftext"
)

// buildPDF writes a minimal PDF with one Helvetica text line per page
func buildPDF(pages ...string) []byte {
	var buf bytes.Buffer
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	obj("<< /Type /Catalog /Pages 2 0 R >>")

	kids := ""
	for i := range pages {
		kids += fmt.Sprintf("%d 0 R ", 4+i*2)
	}
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, len(pages)))
	obj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	for i, text := range pages {
		content := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+i*2))
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func TestParse(t *testing.T) {
	data := buildPDF("Mercimek corbasi 90 TRY", "Adana kebap 350 TRY")

	res, err := pdftext.New().Parse(context.Background(), data)
	gt.NoError(t, err).Required()
	gt.Value(t, res.Pages).Equal(2)
	gt.String(t, res.Text).Contains("Mercimek")
	gt.String(t, res.Text).Contains("Adana kebap 350 TRY")
}

func TestParse_MaxPagesSkipsText(t *testing.T) {
	data := buildPDF("one", "two", "three")

	res, err := pdftext.New(pdftext.WithMaxPages(2)).Parse(context.Background(), data)
	gt.NoError(t, err).Required()
	gt.Value(t, res.Pages).Equal(3)
	gt.Value(t, res.Text).Equal("")
}

func TestParse_NotAPDF(t *testing.T) {
	_, err := pdftext.New().Parse(context.Background(), []byte("this is plainly not a pdf document at all, just some bytes that are long enough to read"))
	gt.Error(t, err)
}

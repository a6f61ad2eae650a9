package extraction

import (
	"bytes"
	"strings"

	"github.com/ledongthuc/pdf"
)

// samplePages is the number of leading PDF pages inspected to decide
// between TEXT_PDF and IMAGE_PDF.
const samplePages = 3

// textDenseCharsPerPage is the per-page character floor a page must clear
// to count as "text-bearing" in the sampling ratio.
const textDenseCharsPerPage = 50

// textPDFAvgCharsMin and textPDFRatioMin are the TEXT_PDF classification
// thresholds (§4.2).
const (
	textPDFAvgCharsMin = 100
	textPDFRatioMin    = 0.7
)

var spreadsheetExtensions = []string{".csv", ".tsv", ".xlsx", ".xls"}
var imageExtensions = []string{".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".webp"}

// TriageResult reports the classified kind plus diagnostic hints.
type TriageResult struct {
	Kind      DocumentKind
	PageCount int
	AvgChars  float64
	Ratio     float64
}

// Classify implements Triage (C2): classify(bytes, filename) -> DocumentKind.
func Classify(data []byte, filename string) (TriageResult, error) {
	lower := strings.ToLower(filename)

	for _, ext := range spreadsheetExtensions {
		if strings.HasSuffix(lower, ext) {
			return TriageResult{Kind: KindSpreadsheet}, nil
		}
	}
	for _, ext := range imageExtensions {
		if strings.HasSuffix(lower, ext) {
			return TriageResult{Kind: KindImage}, nil
		}
	}
	if !strings.HasSuffix(lower, ".pdf") {
		return TriageResult{Kind: KindUnknown}, newInputRejected("unsupported document kind: "+filename, nil)
	}

	return classifyPDF(data)
}

func classifyPDF(data []byte) (TriageResult, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		if isPasswordProtected(err) {
			return TriageResult{}, &Error{Code: ErrInputRejected, Message: "password-protected PDF", Cause: err, PasswordProtected: true}
		}
		return TriageResult{}, newInputRejected("unable to open PDF", err)
	}

	pageCount := reader.NumPage()
	if pageCount < 1 {
		return TriageResult{}, newInputRejected("PDF reports zero pages", nil)
	}

	sampled := pageCount
	if sampled > samplePages {
		sampled = samplePages
	}

	totalChars := 0
	denseCount := 0
	for i := 1; i <= sampled; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		n := len(text)
		totalChars += n
		if n >= textDenseCharsPerPage {
			denseCount++
		}
	}

	avgChars := float64(totalChars) / float64(sampled)
	ratio := float64(denseCount) / float64(sampled)

	kind := KindImagePDF
	if avgChars >= textPDFAvgCharsMin && ratio >= textPDFRatioMin {
		kind = KindTextPDF
	}

	return TriageResult{Kind: kind, PageCount: pageCount, AvgChars: avgChars, Ratio: ratio}, nil
}

func isPasswordProtected(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, sig := range passwordSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

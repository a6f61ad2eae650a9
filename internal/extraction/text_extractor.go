package extraction

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/korean"
)

// ExtractText implements TextExtractor (C4): extract(pdfBytes) -> TextRegion.
// It concatenates each page's structured text, separated by a paragraph
// break, and transcodes legacy non-UTF8 byte streams (EUC-KR statements,
// Windows-125x exports) that some text-PDF producers still embed.
//
// This is for text-PDFs only; callers MUST NOT invoke it on an IMAGE_PDF
// even though the library may still yield a few stray characters.
func ExtractText(pdfBytes []byte) (TextRegion, error) {
	reader, err := pdf.NewReader(bytes.NewReader(pdfBytes), int64(len(pdfBytes)))
	if err != nil {
		if isPasswordProtected(err) {
			return TextRegion{}, &Error{Code: ErrInputRejected, Message: "password-protected PDF", Cause: err, PasswordProtected: true}
		}
		return TextRegion{}, newInputRejected("unable to open PDF", err)
	}

	var paragraphs []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue // a single unreadable page does not fail the document
		}
		text = transcodeIfNeeded(text)
		text = strings.TrimSpace(text)
		if text != "" {
			paragraphs = append(paragraphs, text)
		}
	}

	joined := strings.Join(paragraphs, "\n\n")
	if joined == "" {
		return TextRegion{}, newExtractionEmpty("no text found in text-PDF")
	}
	return TextRegion{Text: joined}, nil
}

// transcodeIfNeeded re-decodes text whose bytes are not valid UTF-8, or
// are 5% or more replacement runes, as a legacy EUC-KR byte stream and,
// failing that, as Windows-1252. Text that passes both checks is returned
// unchanged.
func transcodeIfNeeded(text string) string {
	if utf8.ValidString(text) && isMostlyPrintableASCIIOrHangul(text) {
		return text
	}
	if decoded, ok := tryDecode(text, korean.EUCKR); ok {
		return decoded
	}
	if decoded, ok := tryDecode(text, charmap.Windows1252); ok {
		return decoded
	}
	return text
}

func tryDecode(text string, enc encoding.Encoding) (string, bool) {
	raw := make([]byte, len(text))
	for i := 0; i < len(text); i++ {
		raw[i] = byte(text[i])
	}
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", false
	}
	if !utf8.Valid(decoded) {
		return "", false
	}
	return string(decoded), true
}

// isMostlyPrintableASCIIOrHangul is a cheap heuristic: it reports whether
// fewer than 5% of text's runes are utf8.RuneError. It does not check
// which scripts the remaining runes belong to.
func isMostlyPrintableASCIIOrHangul(text string) bool {
	replacementCount := 0
	total := 0
	for _, r := range text {
		total++
		if r == utf8.RuneError {
			replacementCount++
		}
	}
	if total == 0 {
		return true
	}
	return float64(replacementCount)/float64(total) < 0.05
}

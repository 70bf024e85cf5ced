package extract

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// OCRResult is the raw text output of one provider invocation.
type OCRResult struct {
	Text       string
	PageCount  int
	Confidence float64
}

// ErrOCRUnavailable signals that no OCR engine is installed or enabled. The
// extractor degrades to an empty record with a warning instead of failing.
var ErrOCRUnavailable = errors.New("extract: ocr unavailable")

// OCRProvider recognizes text in image uploads. Implementations must honor
// context cancellation; recognition may be slow.
type OCRProvider interface {
	Recognize(ctx context.Context, contentType string, data []byte) (OCRResult, error)
}

// DisabledOCR is the provider used when OCR_ENABLED is false or no engine is
// configured. It always reports unavailability.
type DisabledOCR struct{}

func (DisabledOCR) Recognize(context.Context, string, []byte) (OCRResult, error) {
	return OCRResult{}, ErrOCRUnavailable
}

// pdfTextShow matches text-show operands in uncompressed PDF content streams:
// literal strings in parentheses followed by a Tj or TJ operator.
var pdfTextShow = regexp.MustCompile(`\(((?:\\.|[^\\()])*)\)\s*T[jJ]`)

// pdfPageMarker counts page objects.
var pdfPageMarker = regexp.MustCompile(`/Type\s*/Page[^s]`)

// PDFTextLayer pulls the digital text layer out of a PDF without rendering.
// It only understands uncompressed content streams; scanned PDFs and
// compressed streams yield empty text, which routes the document to OCR.
func PDFTextLayer(data []byte) (string, int) {
	pages := len(pdfPageMarker.FindAll(data, -1))
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		return "", 0
	}

	var b strings.Builder
	for _, m := range pdfTextShow.FindAllSubmatch(data, -1) {
		s := unescapePDFString(m[1])
		if utf8.ValidString(s) {
			b.WriteString(s)
			b.WriteByte(' ')
		}
	}
	return strings.TrimSpace(b.String()), pages
}

func unescapePDFString(s []byte) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

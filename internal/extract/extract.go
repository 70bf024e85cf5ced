// Package extract converts uploaded document bytes into text plus a
// structured evidence record. OCR and NLP are pluggable providers; the
// built-in providers are a PDF text-layer reader and regex NLP over curated
// dictionaries. Provider outages degrade the record, they never fail it.
package extract

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/saksflyt/saksflyt/internal/apperr"
	"github.com/saksflyt/saksflyt/internal/model"
)

// richnessDivisor normalizes distinct-entity counts into [0,1].
const richnessDivisor = 20.0

// Extractor produces one evidence record per document.
type Extractor struct {
	ocr OCRProvider
	nlp NLPProvider
}

// New wires an Extractor from its providers.
func New(ocr OCRProvider, nlp NLPProvider) *Extractor {
	return &Extractor{ocr: ocr, nlp: nlp}
}

// Extract reads the document bytes and returns extracted text plus the typed
// evidence bag. An unavailable OCR provider yields a valid empty record with
// the ocr_unavailable warning, never an error. Errors are returned only when
// a provider genuinely fails.
func (e *Extractor) Extract(ctx context.Context, contentType string, data []byte) (string, model.ExtractedFields, error) {
	var (
		text   string
		fields model.ExtractedFields
		err    error
	)

	switch contentType {
	case "application/pdf":
		text, fields, err = e.extractPDF(ctx, data)
	case "image/jpeg", "image/png", "image/webp":
		text, fields, err = e.extractImage(ctx, contentType, data)
	default:
		return "", model.ExtractedFields{Method: model.MethodNone}, apperr.Newf(apperr.KindInvalidInput, "unsupported content type %q", contentType)
	}
	if err != nil {
		return "", fields, err
	}

	if strings.TrimSpace(text) == "" {
		fields.Warnings = appendWarning(fields.Warnings, model.WarnEmptyText)
	}

	entities, err := e.nlp.Entities(ctx, text)
	if err != nil {
		return "", fields, apperr.Wrap(apperr.KindExtraction, "nlp provider", err)
	}
	fields.Entities = entities
	fields.CharCount = len(text)
	fields.EntityRichness = math.Min(1, float64(entities.Total())/richnessDivisor)

	return text, fields, nil
}

// HasDurationPhrase exposes the NLP provider's duration heuristic to the rule
// engine when the provider supports it.
func (e *Extractor) HasDurationPhrase(text string) bool {
	if p, ok := e.nlp.(interface{ HasDurationPhrase(string) bool }); ok {
		return p.HasDurationPhrase(text)
	}
	return false
}

func (e *Extractor) extractPDF(ctx context.Context, data []byte) (string, model.ExtractedFields, error) {
	text, pages := PDFTextLayer(data)
	if text != "" {
		return text, model.ExtractedFields{
			Method:    model.MethodDigitalText,
			PageCount: pages,
		}, nil
	}

	// No text layer. Treat the PDF as scanned and try OCR.
	res, err := e.ocr.Recognize(ctx, "application/pdf", data)
	if err != nil {
		if errors.Is(err, ErrOCRUnavailable) {
			return "", model.ExtractedFields{
				Method:    model.MethodNone,
				PageCount: pages,
				Warnings:  []string{model.WarnOCRUnavailable},
			}, nil
		}
		return "", model.ExtractedFields{Method: model.MethodNone}, apperr.Wrap(apperr.KindExtraction, "ocr provider", err)
	}
	return res.Text, model.ExtractedFields{
		Method:        model.MethodImageOCR,
		OCRConfidence: res.Confidence,
		PageCount:     res.PageCount,
	}, nil
}

func (e *Extractor) extractImage(ctx context.Context, contentType string, data []byte) (string, model.ExtractedFields, error) {
	res, err := e.ocr.Recognize(ctx, contentType, data)
	if err != nil {
		if errors.Is(err, ErrOCRUnavailable) {
			return "", model.ExtractedFields{
				Method:   model.MethodNone,
				Warnings: []string{model.WarnOCRUnavailable},
			}, nil
		}
		return "", model.ExtractedFields{Method: model.MethodNone}, apperr.Wrap(apperr.KindExtraction, "ocr provider", err)
	}
	return res.Text, model.ExtractedFields{
		Method:        model.MethodImageOCR,
		OCRConfidence: res.Confidence,
		PageCount:     res.PageCount,
	}, nil
}

func appendWarning(warnings []string, w string) []string {
	for _, existing := range warnings {
		if existing == w {
			return warnings
		}
	}
	return append(warnings, w)
}

package extract

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saksflyt/saksflyt/internal/model"
)

func newTestNLP(t *testing.T) *RegexNLP {
	t.Helper()
	dicts, err := LoadDictionaries()
	require.NoError(t, err)
	return NewRegexNLP(dicts)
}

func TestLoadDictionaries(t *testing.T) {
	dicts, err := LoadDictionaries()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, dicts.Version, 1)
	assert.GreaterOrEqual(t, len(dicts.Nationalities), 50)
	assert.NotEmpty(t, dicts.CitizenshipKeywords)
	assert.NotEmpty(t, dicts.LanguageIndicators)
	assert.NotEmpty(t, dicts.ResidencyIndicators)
}

func TestRegexNLPEntities(t *testing.T) {
	nlp := newTestNLP(t)

	text := `Name: Ola Nordmann
Passport no: NO1234567
Date of issue: 12.03.2015
Nationality: Filipino
Address: Storgata 12, 0155 Oslo
The applicant holds a permanent residence permit and passed norskprøve B1.
7 years in Norway, folkeregistrert since 2017.`

	e, err := nlp.Entities(context.Background(), text)
	require.NoError(t, err)

	assert.Contains(t, e.Persons, "Ola Nordmann")
	assert.Contains(t, e.Identifiers.Passport, "NO1234567")
	assert.Contains(t, e.Dates, "12.03.2015")
	assert.Contains(t, e.Nationalities, "filipino")
	assert.Contains(t, e.Keywords.Citizenship, "permanent residence")
	assert.Contains(t, e.Signals.Language, "norskprøve")
	assert.Contains(t, e.Signals.Residency, "folkeregistrert")
	assert.NotEmpty(t, e.Locations)
	assert.Greater(t, e.Total(), 10)
}

func TestRegexNLPEmptyText(t *testing.T) {
	nlp := newTestNLP(t)
	e, err := nlp.Entities(context.Background(), "   \n\t ")
	require.NoError(t, err)
	assert.Zero(t, e.Total())
}

func TestRegexNLPDeduplicates(t *testing.T) {
	nlp := newTestNLP(t)
	e, err := nlp.Entities(context.Background(), "passport PASSPORT Passport 123456789 123456789")
	require.NoError(t, err)
	assert.Len(t, e.Identifiers.Passport, 1)
	// "passport" appears in the citizenship dictionary once regardless of case.
	count := 0
	for _, k := range e.Keywords.Citizenship {
		if k == "passport" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestHasDurationPhrase(t *testing.T) {
	nlp := newTestNLP(t)
	assert.True(t, nlp.HasDurationPhrase("resident for 7 years"))
	assert.True(t, nlp.HasDurationPhrase("3 år i landet"))
	assert.True(t, nlp.HasDurationPhrase("Botid dokumentert"))
	assert.False(t, nlp.HasDurationPhrase("no relevant phrase here"))
}

// pdfWithText builds a minimal uncompressed PDF carrying one text-show operator.
func pdfWithText(text string) []byte {
	var b strings.Builder
	b.WriteString("%PDF-1.4\n")
	b.WriteString("1 0 obj << /Type /Page >> endobj\n")
	b.WriteString("2 0 obj << >> stream\nBT (")
	b.WriteString(text)
	b.WriteString(") Tj ET\nendstream endobj\n")
	b.WriteString("%%EOF")
	return []byte(b.String())
}

func TestExtractDigitalPDF(t *testing.T) {
	ex := New(DisabledOCR{}, newTestNLP(t))

	text, fields, err := ex.Extract(context.Background(), "application/pdf",
		pdfWithText("Passport NO1234567 issued 12.03.2015 statsborgerskap"))
	require.NoError(t, err)

	assert.Equal(t, model.MethodDigitalText, fields.Method)
	assert.Contains(t, text, "NO1234567")
	assert.Contains(t, fields.Entities.Identifiers.Passport, "NO1234567")
	assert.Contains(t, fields.Entities.Keywords.Citizenship, "statsborgerskap")
	assert.Greater(t, fields.EntityRichness, 0.0)
	assert.Equal(t, len(text), fields.CharCount)
}

func TestExtractImageWithoutOCR(t *testing.T) {
	ex := New(DisabledOCR{}, newTestNLP(t))

	text, fields, err := ex.Extract(context.Background(), "image/png", []byte{0x89, 'P', 'N', 'G'})
	require.NoError(t, err)

	assert.Empty(t, text)
	assert.Equal(t, model.MethodNone, fields.Method)
	assert.Contains(t, fields.Warnings, model.WarnOCRUnavailable)
	assert.Contains(t, fields.Warnings, model.WarnEmptyText)
	assert.Zero(t, fields.EntityRichness)
}

func TestExtractScannedPDFWithoutOCR(t *testing.T) {
	ex := New(DisabledOCR{}, newTestNLP(t))

	// A PDF with no extractable text layer falls through to OCR.
	_, fields, err := ex.Extract(context.Background(), "application/pdf", []byte("%PDF-1.4\nbinary only"))
	require.NoError(t, err)
	assert.Equal(t, model.MethodNone, fields.Method)
	assert.Contains(t, fields.Warnings, model.WarnOCRUnavailable)
}

func TestExtractUnsupportedContentType(t *testing.T) {
	ex := New(DisabledOCR{}, newTestNLP(t))
	_, _, err := ex.Extract(context.Background(), "text/plain", []byte("hello"))
	require.Error(t, err)
}

type fakeOCR struct {
	text string
}

func (f fakeOCR) Recognize(context.Context, string, []byte) (OCRResult, error) {
	return OCRResult{Text: f.text, PageCount: 1, Confidence: 0.8}, nil
}

func TestExtractImageWithOCR(t *testing.T) {
	ex := New(fakeOCR{text: "Nationality: norsk, politiattest vedlagt"}, newTestNLP(t))

	text, fields, err := ex.Extract(context.Background(), "image/jpeg", []byte("jpeg"))
	require.NoError(t, err)

	assert.Equal(t, model.MethodImageOCR, fields.Method)
	assert.Equal(t, 0.8, fields.OCRConfidence)
	assert.NotEmpty(t, text)
	assert.Contains(t, fields.Entities.Nationalities, "norsk")
	assert.Contains(t, fields.Entities.Keywords.Citizenship, "politiattest")
}

func TestEntityRichnessCapsAtOne(t *testing.T) {
	nlp := newTestNLP(t)
	ex := New(DisabledOCR{}, nlp)

	// Enough distinct keywords to exceed the richness divisor.
	var sb strings.Builder
	sb.WriteString("statsborgerskap nasjonalitet søknad oppholdstillatelse visum flyktning asyl ")
	sb.WriteString("politiattest vandelsattest integrering norskprøve samfunnskunnskap gebyr søker pass ")
	sb.WriteString("identitet fødselsattest vigselsattest skilsmisse udi politi midlertidig fornyelse ")
	sb.WriteString("norwegian svensk dansk finsk ")
	text, fields, err := ex.Extract(context.Background(), "application/pdf", pdfWithText(sb.String()))
	require.NoError(t, err)
	require.NotEmpty(t, text)
	assert.Equal(t, 1.0, fields.EntityRichness)
}

package rules_test

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saksflyt/saksflyt/internal/model"
	"github.com/saksflyt/saksflyt/internal/rules"
)

func hasDuration(text string) bool {
	return strings.Contains(strings.ToLower(text), "years") || strings.Contains(strings.ToLower(text), "år")
}

func doc(docType string, fields model.ExtractedFields, text string) model.Document {
	d := model.Document{
		ID:              uuid.New(),
		DocumentType:    docType,
		Status:          model.DocumentProcessed,
		ExtractedFields: fields,
	}
	if text != "" {
		d.ExtractedText = &text
	}
	return d
}

func TestWeightsSumToOne(t *testing.T) {
	engine := rules.New(nil)
	var sum float64
	for _, r := range engine.Registry() {
		sum += r.Weight
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestRegistryOrderIsStable(t *testing.T) {
	engine := rules.New(nil)
	codes := make([]string, 0, 7)
	for _, r := range engine.Registry() {
		codes = append(codes, r.Code)
	}
	assert.Equal(t, []string{
		"identity_document_present",
		"residency_evidence_present",
		"document_quality",
		"language_integration_evidence",
		"security_screening_evidence",
		"nlp_entity_richness",
		"residency_duration_signal",
	}, codes)
}

func TestEvaluateHighConfidenceCase(t *testing.T) {
	engine := rules.New(hasDuration)
	notes := "Applicant has 7 years of permanent residency."
	c := model.Case{
		ID:                   uuid.New(),
		ApplicantFullName:    "Ola Nordmann",
		ApplicantNationality: "Filipino",
		Notes:                &notes,
	}

	rich := model.ExtractedFields{
		EntityRichness: 0.6,
		Entities: model.Entities{
			Dates:         []string{"12.03.2015", "01.01.2020", "15.06.2018"},
			Nationalities: []string{"filipino"},
			Keywords:      model.Keywords{Citizenship: []string{"statsborgerskap", "passport"}},
			Signals: model.Signals{
				Language:  []string{"norskprøve", "bestått"},
				Residency: []string{"folkeregistrert", "botid"},
			},
		},
	}
	passport := rich
	passport.Entities.Identifiers.Passport = []string{"NO1234567"}

	docs := []model.Document{
		doc("passport", passport, "Passport NO1234567"),
		doc("residence_permit", rich, "Resident for 7 years"),
		doc("language_certificate", rich, "Norskprøve bestått"),
		doc("police_clearance", rich, "Politiattest"),
	}

	b := engine.Evaluate(c, docs)

	require.Len(t, b.Rules, 7)
	for _, r := range b.Rules {
		assert.True(t, r.Passed, "rule %s should pass", r.RuleCode)
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}
	assert.GreaterOrEqual(t, b.ConfidenceScore, 0.85)
	assert.Equal(t, model.RiskLow, b.RiskLevel)
	assert.Contains(t, b.Recommendation, "Low risk")
	assert.NotContains(t, b.Recommendation, "Weakest areas")
}

func TestEvaluateThinCase(t *testing.T) {
	engine := rules.New(hasDuration)
	c := model.Case{ID: uuid.New(), ApplicantFullName: "A", ApplicantNationality: "B"}

	docs := []model.Document{doc("passport", model.ExtractedFields{}, "")}

	b := engine.Evaluate(c, docs)

	byCode := map[string]model.RuleResult{}
	for _, r := range b.Rules {
		byCode[r.RuleCode] = r
	}

	identity := byCode["identity_document_present"]
	assert.True(t, identity.Passed)
	assert.Equal(t, 1.0, identity.Score)

	for _, code := range []string{
		"residency_evidence_present", "document_quality", "language_integration_evidence",
		"security_screening_evidence", "nlp_entity_richness", "residency_duration_signal",
	} {
		assert.False(t, byCode[code].Passed, "rule %s should fail", code)
		assert.Zero(t, byCode[code].Score, "rule %s score", code)
	}

	assert.LessOrEqual(t, b.ConfidenceScore, 0.35)
	assert.Equal(t, model.RiskHigh, b.RiskLevel)
	// Top two failed rules by weight: residency (0.18), then quality (0.17).
	assert.Contains(t, b.Recommendation, "Residency evidence present")
	assert.Contains(t, b.Recommendation, "Document OCR/NLP quality")
}

func TestIdentityFromTextOnly(t *testing.T) {
	engine := rules.New(nil)
	c := model.Case{ID: uuid.New()}
	fields := model.ExtractedFields{
		Entities: model.Entities{Identifiers: model.Identifiers{Passport: []string{"AB123456"}}},
	}
	b := engine.Evaluate(c, []model.Document{doc("other", fields, "")})

	identity := b.Rules[0]
	require.Equal(t, "identity_document_present", identity.RuleCode)
	assert.True(t, identity.Passed)
	assert.Equal(t, 0.6, identity.Score)
}

func TestResidencySignalOnly(t *testing.T) {
	engine := rules.New(nil)
	c := model.Case{ID: uuid.New()}
	fields := model.ExtractedFields{
		Entities: model.Entities{Signals: model.Signals{Residency: []string{"folkeregistrert"}}},
	}
	b := engine.Evaluate(c, []model.Document{doc("other", fields, "")})

	residency := b.Rules[1]
	require.Equal(t, "residency_evidence_present", residency.RuleCode)
	assert.True(t, residency.Passed)
	assert.Equal(t, 0.5, residency.Score)

	// A bare residency token also grants the partial duration score.
	duration := b.Rules[6]
	require.Equal(t, "residency_duration_signal", duration.RuleCode)
	assert.True(t, duration.Passed)
	assert.Equal(t, 0.5, duration.Score)
}

func TestEntityRichnessThresholds(t *testing.T) {
	engine := rules.New(nil)
	c := model.Case{ID: uuid.New()}

	fields := model.ExtractedFields{
		Entities: model.Entities{
			Dates:    []string{"1.1.2020", "2.2.2020", "3.3.2020", "4.4.2020", "5.5.2020"},
			Keywords: model.Keywords{Citizenship: []string{"visa", "asylum", "passport", "identity", "fee"}},
		},
	}
	b := engine.Evaluate(c, []model.Document{doc("other", fields, "")})

	richness := b.Rules[5]
	require.Equal(t, "nlp_entity_richness", richness.RuleCode)
	assert.True(t, richness.Passed) // exactly 10 entities
	assert.InDelta(t, 0.25, richness.Score, 1e-9)
}

func TestEntitiesDedupedAcrossDocuments(t *testing.T) {
	engine := rules.New(nil)
	c := model.Case{ID: uuid.New()}
	fields := model.ExtractedFields{
		Entities: model.Entities{Nationalities: []string{"norsk"}, Dates: []string{"1.1.2020"}},
	}
	b := engine.Evaluate(c, []model.Document{
		doc("a", fields, ""),
		doc("b", fields, ""),
	})

	richness := b.Rules[5]
	assert.Equal(t, 2, richness.Evidence["total_entities"])
}

func TestDeterminism(t *testing.T) {
	engine := rules.New(hasDuration)
	notes := "permanent residence for years"
	c := model.Case{ID: uuid.New(), Notes: &notes}
	docs := []model.Document{
		doc("passport", model.ExtractedFields{
			EntityRichness: 0.45,
			Entities:       model.Entities{Identifiers: model.Identifiers{Passport: []string{"NO1234567"}}},
		}, "Pass NO1234567"),
		doc("other", model.ExtractedFields{
			EntityRichness: 0.2,
			Entities:       model.Entities{Signals: model.Signals{Language: []string{"b1"}}},
		}, ""),
	}

	a := engine.Evaluate(c, docs)
	b := engine.Evaluate(c, docs)

	require.Equal(t, len(a.Rules), len(b.Rules))
	assert.Equal(t, a.ConfidenceScore, b.ConfidenceScore)
	assert.Equal(t, a.RiskLevel, b.RiskLevel)
	assert.Equal(t, a.Recommendation, b.Recommendation)
	for i := range a.Rules {
		assert.Equal(t, a.Rules[i].RuleCode, b.Rules[i].RuleCode)
		assert.Equal(t, a.Rules[i].Score, b.Rules[i].Score)
		assert.Equal(t, a.Rules[i].Passed, b.Rules[i].Passed)
		assert.Equal(t, a.Rules[i].Rationale, b.Rules[i].Rationale)
	}
}

func TestNoDocuments(t *testing.T) {
	engine := rules.New(nil)
	b := engine.Evaluate(model.Case{ID: uuid.New()}, nil)

	require.Len(t, b.Rules, 7)
	assert.Zero(t, b.ConfidenceScore)
	assert.Equal(t, model.RiskHigh, b.RiskLevel)
}

package advisory

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/saksflyt/saksflyt/internal/model"
)

const (
	fallbackExplainerLabel = "fallback:rules-v1"
	fallbackEvidenceLabel  = "fallback:evidence-recommendation-v1"

	maxListedRisks = 3
	maxNextSteps   = 4
)

// evidenceOption pairs a rule with the document types that would satisfy it.
// Order fixes the iteration order of recommendations.
type evidenceOption struct {
	ruleCode string
	docTypes []string
}

var evidenceOptions = []evidenceOption{
	{"identity_document_present", []string{"passport", "id_card"}},
	{"residency_evidence_present", []string{"residence_permit", "residence_proof", "tax_statement"}},
	{"language_integration_evidence", []string{"language_certificate", "norwegian_test", "education_certificate"}},
	{"security_screening_evidence", []string{"police_clearance"}},
}

// fallbackAction maps risk to a recommended action without consulting any
// external generator.
func fallbackAction(risk model.RiskLevel) model.ReviewAction {
	switch risk {
	case model.RiskLow:
		return model.ActionApprove
	case model.RiskMedium:
		return model.ActionRequestMoreInfo
	default:
		return model.ActionReject
	}
}

// sortFailedRules orders failed rules by weight descending, then by how far
// the score fell short.
func sortFailedRules(rules []model.RuleResult) []model.RuleResult {
	failed := make([]model.RuleResult, 0, len(rules))
	for _, r := range rules {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	sort.SliceStable(failed, func(i, j int) bool {
		if failed[i].Weight != failed[j].Weight {
			return failed[i].Weight > failed[j].Weight
		}
		return failed[i].Score < failed[j].Score
	})
	return failed
}

// buildFallbackExplanation derives an advisory memo from the rule breakdown
// alone. Deterministic for a fixed case state.
func buildFallbackExplanation(c model.Case, rules []model.RuleResult, docs []model.Document, risk model.RiskLevel, now time.Time) model.CaseExplanation {
	failed := sortFailedRules(rules)

	keyRisks := make([]string, 0, maxListedRisks)
	missingEvidence := make([]string, 0, maxListedRisks)
	for _, r := range failed {
		if len(keyRisks) == maxListedRisks {
			break
		}
		keyRisks = append(keyRisks, r.RuleName)
		missingEvidence = append(missingEvidence, r.Rationale)
	}
	if len(keyRisks) == 0 {
		keyRisks = []string{"No critical rule failures detected"}
		missingEvidence = []string{"No material evidence gaps identified"}
	}

	uploaded := uploadedTypes(docs)
	nextSteps := []string{
		"Validate identity details against uploaded evidence",
		"Confirm residency and language requirements against policy checklist",
		"Capture final caseworker reason before decision submission",
	}
	if !uploaded["police_clearance"] {
		nextSteps = append([]string{"Request police clearance evidence for security screening"}, nextSteps...)
	}
	if !uploaded["residence_permit"] && !uploaded["residence_proof"] {
		nextSteps = append([]string{"Request residency proof document"}, nextSteps...)
	}
	if len(nextSteps) > maxNextSteps {
		nextSteps = nextSteps[:maxNextSteps]
	}

	summary := fmt.Sprintf(
		"Case %s is currently %s risk with %d rule gaps. Prioritize evidence validation and a documented human decision.",
		c.ID, risk, len(failed),
	)

	return model.CaseExplanation{
		CaseID:            c.ID,
		Summary:           summary,
		RecommendedAction: fallbackAction(risk),
		KeyRisks:          keyRisks,
		MissingEvidence:   missingEvidence,
		NextSteps:         nextSteps,
		GeneratedBy:       fallbackExplainerLabel,
		GeneratedAt:       now,
	}
}

// buildEvidenceRecommendations maps each failed rule to the document types
// that could close the gap, skipping types already uploaded.
func buildEvidenceRecommendations(c model.Case, rules []model.RuleResult, docs []model.Document, risk model.RiskLevel, now time.Time) model.EvidenceRecommendations {
	uploaded := uploadedTypes(docs)
	failedByCode := make(map[string]model.RuleResult, len(rules))
	for _, r := range rules {
		if !r.Passed {
			failedByCode[r.RuleCode] = r
		}
	}

	recommended := make([]string, 0, 4)
	rationale := make(map[string]string)
	for _, opt := range evidenceOptions {
		failed, ok := failedByCode[opt.ruleCode]
		if !ok {
			continue
		}
		for _, docType := range opt.docTypes {
			if uploaded[docType] {
				continue
			}
			if _, seen := rationale[docType]; !seen {
				recommended = append(recommended, docType)
			}
			rationale[docType] = failed.Rationale
		}
	}

	actions := []string{
		"Request only high-impact missing documents first",
		"Re-run processing after document upload",
		"Review updated rule breakdown before final decision",
	}
	switch risk {
	case model.RiskHigh:
		actions = append([]string{"Prioritize this case for immediate reviewer follow-up"}, actions...)
	case model.RiskMedium:
		actions = append([]string{"Schedule targeted reviewer check after top missing evidence arrives"}, actions...)
	}
	if len(actions) > maxNextSteps {
		actions = actions[:maxNextSteps]
	}

	return model.EvidenceRecommendations{
		CaseID:                   c.ID,
		RecommendedDocumentTypes: recommended,
		RationaleByDocumentType:  rationale,
		RecommendedNextActions:   actions,
		GeneratedBy:              fallbackEvidenceLabel,
		GeneratedAt:              now,
	}
}

func uploadedTypes(docs []model.Document) map[string]bool {
	types := make(map[string]bool, len(docs))
	for _, d := range docs {
		types[strings.ToLower(strings.TrimSpace(d.DocumentType))] = true
	}
	return types
}

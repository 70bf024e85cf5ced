// Package rules evaluates the weighted eligibility rule set over a case's
// aggregated evidence. The engine is a pure function of its inputs: identical
// cases and documents always produce identical breakdowns.
package rules

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/saksflyt/saksflyt/internal/model"
)

// Thresholds shared by several rules.
const (
	qualityPassThreshold = 0.4
	richnessPassCount    = 10
	richnessScoreDivisor = 40.0
	signalOnlyIdentity   = 0.6
	signalOnlyResidency  = 0.5
	signalOnlyLanguage   = 0.6
	signalOnlyDuration   = 0.5
)

// Document type labels that satisfy rules outright.
var (
	identityTypes  = map[string]bool{"passport": true, "id_card": true}
	residencyTypes = map[string]bool{"residence_permit": true, "residence_proof": true, "tax_statement": true}
	languageTypes  = map[string]bool{"language_certificate": true, "norwegian_test": true, "education_certificate": true}
)

const securityType = "police_clearance"

// Tokens in case notes that indicate long residency.
var notesDurationTokens = []string{"long-term", "years", "permanent"}

// outcome is one rule's evaluation before it is stamped into a RuleResult.
type outcome struct {
	Passed    bool
	Score     float64
	Rationale string
	Evidence  map[string]any
}

// Rule is one enumerable entry of the immutable registry.
type Rule struct {
	Code     string
	Name     string
	Weight   float64
	evaluate func(in *input) outcome
}

// input carries the aggregates every rule reads. Computed once per evaluation.
type input struct {
	c               model.Case
	docs            []model.Document
	types           map[string]bool
	sortedTypes     []string
	merged          model.Entities
	totalEntities   int
	meanRichness    float64
	processedCount  int
	docHasDuration  bool
	notesMentionRes bool
}

// Engine evaluates the registry against case evidence.
type Engine struct {
	registry    []Rule
	hasDuration func(text string) bool
}

// New builds an Engine. hasDuration detects residency-duration phrases in
// document text; nil disables that signal.
func New(hasDuration func(text string) bool) *Engine {
	if hasDuration == nil {
		hasDuration = func(string) bool { return false }
	}
	return &Engine{registry: newRegistry(), hasDuration: hasDuration}
}

// Registry returns a copy of the rule registry in canonical order.
func (e *Engine) Registry() []Rule {
	out := make([]Rule, len(e.registry))
	copy(out, e.registry)
	return out
}

// Evaluate produces the ordered rule results and the derived confidence,
// risk level, and recommendation for one case.
func (e *Engine) Evaluate(c model.Case, docs []model.Document) model.DecisionBreakdown {
	in := e.buildInput(c, docs)

	results := make([]model.RuleResult, 0, len(e.registry))
	var weighted float64
	for i, rule := range e.registry {
		o := rule.evaluate(in)
		o.Score = clamp01(o.Score)
		weighted += o.Score * rule.Weight
		results = append(results, model.RuleResult{
			CaseID:    c.ID,
			RuleCode:  rule.Code,
			RuleName:  rule.Name,
			Passed:    o.Passed,
			Score:     o.Score,
			Weight:    rule.Weight,
			Rationale: o.Rationale,
			Evidence:  o.Evidence,
			Position:  i,
		})
	}

	confidence := round4(weighted)
	risk := model.RiskLevelFor(confidence)
	return model.DecisionBreakdown{
		CaseID:          c.ID,
		ConfidenceScore: confidence,
		RiskLevel:       risk,
		Recommendation:  recommendation(risk, e.registry, results),
		Rules:           results,
	}
}

func (e *Engine) buildInput(c model.Case, docs []model.Document) *input {
	in := &input{c: c, docs: docs, types: map[string]bool{}}

	for _, d := range docs {
		t := strings.ToLower(strings.TrimSpace(d.DocumentType))
		if t != "" && !in.types[t] {
			in.types[t] = true
			in.sortedTypes = append(in.sortedTypes, t)
		}
		mergeEntities(&in.merged, d.ExtractedFields.Entities)
		if d.Status == model.DocumentProcessed {
			in.processedCount++
			in.meanRichness += d.ExtractedFields.EntityRichness
		}
		if !in.docHasDuration && d.ExtractedText != nil && e.hasDuration(*d.ExtractedText) {
			in.docHasDuration = true
		}
	}
	sort.Strings(in.sortedTypes)
	if in.processedCount > 0 {
		in.meanRichness /= float64(in.processedCount)
	}
	in.totalEntities = in.merged.Total()

	if c.Notes != nil {
		notes := strings.ToLower(*c.Notes)
		for _, token := range notesDurationTokens {
			if strings.Contains(notes, token) {
				in.notesMentionRes = true
				break
			}
		}
	}
	return in
}

func newRegistry() []Rule {
	return []Rule{
		{
			Code: "identity_document_present", Name: "Identity document present", Weight: 0.20,
			evaluate: func(in *input) outcome {
				ev := map[string]any{
					"document_types":       in.sortedTypes,
					"nlp_passport_numbers": head(in.merged.Identifiers.Passport, 3),
				}
				if hasAnyType(in.types, identityTypes) {
					return outcome{Passed: true, Score: 1.0, Rationale: "Passport or national ID document uploaded", Evidence: ev}
				}
				if len(in.merged.Identifiers.Passport) > 0 {
					return outcome{Passed: true, Score: signalOnlyIdentity, Rationale: "Passport number extracted from document text without a matching document type", Evidence: ev}
				}
				return outcome{Passed: false, Score: 0, Rationale: "No passport or national ID document uploaded", Evidence: ev}
			},
		},
		{
			Code: "residency_evidence_present", Name: "Residency evidence present", Weight: 0.18,
			evaluate: func(in *input) outcome {
				ev := map[string]any{
					"document_types":           in.sortedTypes,
					"nlp_residency_indicators": head(in.merged.Signals.Residency, 5),
					"nlp_locations":            head(in.merged.Locations, 3),
				}
				if hasAnyType(in.types, residencyTypes) {
					return outcome{Passed: true, Score: 1.0, Rationale: "Residency-related document uploaded", Evidence: ev}
				}
				if len(in.merged.Signals.Residency) > 0 {
					return outcome{Passed: true, Score: signalOnlyResidency, Rationale: "Residency keywords found in document text", Evidence: ev}
				}
				return outcome{Passed: false, Score: 0, Rationale: "No residency proof document or text signals detected", Evidence: ev}
			},
		},
		{
			Code: "document_quality", Name: "Document OCR/NLP quality", Weight: 0.17,
			evaluate: func(in *input) outcome {
				q := in.meanRichness
				return outcome{
					Passed: q >= qualityPassThreshold,
					Score:  q,
					Rationale: fmt.Sprintf("Mean entity richness %.2f across %d processed of %d documents",
						q, in.processedCount, len(in.docs)),
					Evidence: map[string]any{
						"processed_documents":  in.processedCount,
						"total_documents":      len(in.docs),
						"mean_entity_richness": round4(q),
					},
				}
			},
		},
		{
			Code: "language_integration_evidence", Name: "Language/integration evidence", Weight: 0.15,
			evaluate: func(in *input) outcome {
				ev := map[string]any{
					"document_types":          in.sortedTypes,
					"nlp_language_indicators": head(in.merged.Signals.Language, 5),
				}
				if hasAnyType(in.types, languageTypes) {
					return outcome{Passed: true, Score: 1.0, Rationale: "Language or integration certificate uploaded", Evidence: ev}
				}
				if len(in.merged.Signals.Language) > 0 {
					return outcome{Passed: true, Score: signalOnlyLanguage, Rationale: "Language proficiency indicators found in document text", Evidence: ev}
				}
				return outcome{Passed: false, Score: 0, Rationale: "No language certificate or text indicators found", Evidence: ev}
			},
		},
		{
			Code: "security_screening_evidence", Name: "Security screening evidence", Weight: 0.15,
			evaluate: func(in *input) outcome {
				ev := map[string]any{"document_types": in.sortedTypes}
				if in.types[securityType] {
					return outcome{Passed: true, Score: 1.0, Rationale: "Police clearance document uploaded", Evidence: ev}
				}
				return outcome{Passed: false, Score: 0, Rationale: "No police clearance document uploaded", Evidence: ev}
			},
		},
		{
			Code: "nlp_entity_richness", Name: "NLP entity richness", Weight: 0.10,
			evaluate: func(in *input) outcome {
				n := in.totalEntities
				return outcome{
					Passed: n >= richnessPassCount,
					Score:  math.Min(1, float64(n)/richnessScoreDivisor),
					Rationale: fmt.Sprintf("%d distinct entities across %d documents (nationalities: %d, keywords: %d, dates: %d)",
						n, len(in.docs), len(in.merged.Nationalities), len(in.merged.Keywords.Citizenship), len(in.merged.Dates)),
					Evidence: map[string]any{
						"total_entities":      n,
						"nationalities_found": head(in.merged.Nationalities, 5),
						"keywords_found":      head(in.merged.Keywords.Citizenship, 10),
						"persons_found":       head(in.merged.Persons, 3),
					},
				}
			},
		},
		{
			Code: "residency_duration_signal", Name: "Residency duration signal", Weight: 0.05,
			evaluate: func(in *input) outcome {
				ev := map[string]any{
					"notes_mention_duration":   in.notesMentionRes,
					"document_duration_phrase": in.docHasDuration,
					"nlp_residency_indicators": head(in.merged.Signals.Residency, 5),
				}
				if in.notesMentionRes || in.docHasDuration {
					src := "document text"
					if in.notesMentionRes && in.docHasDuration {
						src = "case notes and document text"
					} else if in.notesMentionRes {
						src = "case notes"
					}
					return outcome{Passed: true, Score: 1.0, Rationale: "Residency duration detected via " + src, Evidence: ev}
				}
				if len(in.merged.Signals.Residency) > 0 {
					return outcome{Passed: true, Score: signalOnlyDuration, Rationale: "Residency signal tokens present without an explicit duration", Evidence: ev}
				}
				return outcome{Passed: false, Score: 0, Rationale: "No residency duration signal in notes or documents", Evidence: ev}
			},
		},
	}
}

// recommendation derives the summary sentence from the risk level plus the
// top two failed rules by weight (ties broken by registry order).
func recommendation(risk model.RiskLevel, registry []Rule, results []model.RuleResult) string {
	var base string
	switch risk {
	case model.RiskLow:
		base = "Low risk: evidence satisfies the weighted rule set; eligible for fast-track manual verification."
	case model.RiskMedium:
		base = "Medium risk: borderline evidence; prioritize targeted human review."
	default:
		base = "High risk: evidence insufficient in current submission; request additional evidence."
	}

	type failed struct {
		name   string
		weight float64
		pos    int
	}
	var fails []failed
	for i, r := range results {
		if !r.Passed {
			fails = append(fails, failed{name: registry[i].Name, weight: registry[i].Weight, pos: i})
		}
	}
	if len(fails) == 0 {
		return base
	}
	sort.SliceStable(fails, func(i, j int) bool {
		if fails[i].weight != fails[j].weight {
			return fails[i].weight > fails[j].weight
		}
		return fails[i].pos < fails[j].pos
	})
	if len(fails) > 2 {
		fails = fails[:2]
	}
	names := make([]string, len(fails))
	for i, f := range fails {
		names[i] = f.name
	}
	return base + " Weakest areas: " + strings.Join(names, ", ") + "."
}

func mergeEntities(dst *model.Entities, src model.Entities) {
	dst.Dates = mergeDistinct(dst.Dates, src.Dates)
	dst.Identifiers.Passport = mergeDistinct(dst.Identifiers.Passport, src.Identifiers.Passport)
	dst.Nationalities = mergeDistinct(dst.Nationalities, src.Nationalities)
	dst.Persons = mergeDistinct(dst.Persons, src.Persons)
	dst.Locations = mergeDistinct(dst.Locations, src.Locations)
	dst.Keywords.Citizenship = mergeDistinct(dst.Keywords.Citizenship, src.Keywords.Citizenship)
	dst.Signals.Language = mergeDistinct(dst.Signals.Language, src.Signals.Language)
	dst.Signals.Residency = mergeDistinct(dst.Signals.Residency, src.Signals.Residency)
}

func mergeDistinct(dst, src []string) []string {
	for _, v := range src {
		norm := strings.ToLower(strings.TrimSpace(v))
		found := false
		for _, existing := range dst {
			if strings.ToLower(existing) == norm {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, strings.TrimSpace(v))
		}
	}
	return dst
}

func hasAnyType(have map[string]bool, want map[string]bool) bool {
	for t := range want {
		if have[t] {
			return true
		}
	}
	return false
}

func head(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

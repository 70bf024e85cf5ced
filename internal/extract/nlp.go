package extract

import (
	"context"
	"regexp"
	"strings"

	"github.com/saksflyt/saksflyt/internal/model"
)

// NLPProvider turns raw document text into a structured entity set.
type NLPProvider interface {
	Entities(ctx context.Context, text string) (model.Entities, error)
}

// RegexNLP is the built-in provider: pattern matching against curated
// dictionaries plus date, identifier, name, and address regexes. It targets
// citizenship-relevant evidence in English and Norwegian text.
type RegexNLP struct {
	dicts Dictionaries
}

// NewRegexNLP builds the provider from a dictionary set.
func NewRegexNLP(dicts Dictionaries) *RegexNLP {
	return &RegexNLP{dicts: dicts}
}

var (
	// Dates: DD.MM.YYYY and friends, ISO, and written-out month names in
	// English and Norwegian.
	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(\d{1,2}[./\-]\d{1,2}[./\-]\d{4})\b`),
		regexp.MustCompile(`\b(\d{4}[.\-/]\d{1,2}[.\-/]\d{1,2})\b`),
		regexp.MustCompile(`(?i)\b(\d{1,2}\s+(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|jun(?:e)?|jul(?:y)?|aug(?:ust)?|sep(?:tember)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\s+\d{4})\b`),
		regexp.MustCompile(`(?i)\b(\d{1,2}\s+(?:januar|februar|mars|april|mai|juni|juli|august|september|oktober|november|desember)\s+\d{4})\b`),
	}

	// Passport and national-ID identifiers: up to two letters plus 6-9
	// digits, 11-digit national IDs, and the spaced fødselsnummer layout.
	passportPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b([A-Z]{0,2}\d{6,9})\b`),
		regexp.MustCompile(`\b(\d{11})\b`),
		regexp.MustCompile(`\b(\d{2}\s?\d{2}\s?\d{2}\s?\d{5})\b`),
	}

	// Addresses in the Norwegian postal format: "0001 Oslo", "Storgata 12".
	addressPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(\d{4}\s+[A-ZÆØÅ][a-zæøå]+(?:\s+[A-ZÆØÅ][a-zæøå]+)*)\b`),
		regexp.MustCompile(`\b([A-ZÆØÅ][a-zæøå]+(?:gata|gaten|veien|vegen|gate|vei|veg)\s+\d+)`),
	}

	// Names from labelled lines: "Name: ...", "Navn: ...".
	namePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?im)(?:full\s+)?name\s*:\s*(.+)`),
		regexp.MustCompile(`(?im)(?:fullt\s+)?navn\s*:\s*(.+)`),
		regexp.MustCompile(`(?im)(?:surname|etternavn)\s*:\s*(.+)`),
		regexp.MustCompile(`(?im)(?:given\s+name|fornavn)\s*:\s*(.+)`),
	}

	durationRe = regexp.MustCompile(`(?i)\b\d+\s+(?:years?|år)\b`)
)

// Entities implements NLPProvider. Output slices hold distinct values in
// first-seen order, which keeps extraction deterministic for a given text.
func (p *RegexNLP) Entities(_ context.Context, text string) (model.Entities, error) {
	var e model.Entities
	if strings.TrimSpace(text) == "" {
		return e, nil
	}
	lower := strings.ToLower(text)

	for _, re := range datePatterns {
		e.Dates = appendMatches(e.Dates, re, text)
	}
	for _, re := range passportPatterns {
		e.Identifiers.Passport = appendMatches(e.Identifiers.Passport, re, text)
	}
	for _, re := range namePatterns {
		e.Persons = appendMatches(e.Persons, re, text)
	}
	for _, re := range addressPatterns {
		e.Locations = appendMatches(e.Locations, re, text)
	}

	e.Nationalities = matchDictionary(lower, p.dicts.Nationalities)
	e.Keywords.Citizenship = matchDictionary(lower, p.dicts.CitizenshipKeywords)
	e.Signals.Language = matchDictionary(lower, p.dicts.LanguageIndicators)
	e.Signals.Residency = matchDictionary(lower, p.dicts.ResidencyIndicators)

	// Duration phrases like "7 years" / "3 år" count as residency signals.
	if m := durationRe.FindString(text); m != "" {
		e.Signals.Residency = appendDistinct(e.Signals.Residency, m)
	}

	return e, nil
}

// HasDurationPhrase reports whether the text carries a residency-duration
// phrase, either from the curated list or the numeric "N years / N år" form.
func (p *RegexNLP) HasDurationPhrase(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range p.dicts.DurationPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return durationRe.MatchString(text)
}

func appendMatches(dst []string, re *regexp.Regexp, text string) []string {
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		v := strings.TrimSpace(m[len(m)-1])
		if v != "" {
			dst = appendDistinct(dst, v)
		}
	}
	return dst
}

func matchDictionary(lowerText string, dict []string) []string {
	var out []string
	for _, token := range dict {
		if strings.Contains(lowerText, token) {
			out = appendDistinct(out, token)
		}
	}
	return out
}

func appendDistinct(dst []string, v string) []string {
	norm := strings.ToLower(strings.TrimSpace(v))
	for _, existing := range dst {
		if strings.ToLower(existing) == norm {
			return dst
		}
	}
	return append(dst, strings.TrimSpace(v))
}

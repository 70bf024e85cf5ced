package extract

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

// Dictionaries are the curated token lists driving entity matching. They are
// versioned so fixture tests can pin expectations to a dictionary revision.
type Dictionaries struct {
	Version             int      `json:"version"`
	Nationalities       []string `json:"nationalities"`
	CitizenshipKeywords []string `json:"citizenship_keywords"`
	LanguageIndicators  []string `json:"language_indicators"`
	ResidencyIndicators []string `json:"residency_indicators"`
	DurationPhrases     []string `json:"duration_phrases"`
}

//go:embed dictionaries.json
var dictionariesJSON []byte

// LoadDictionaries decodes the embedded dictionary file.
func LoadDictionaries() (Dictionaries, error) {
	var d Dictionaries
	if err := json.Unmarshal(dictionariesJSON, &d); err != nil {
		return Dictionaries{}, fmt.Errorf("extract: decode dictionaries: %w", err)
	}
	if d.Version < 1 {
		return Dictionaries{}, fmt.Errorf("extract: dictionaries missing version")
	}
	return d, nil
}

package langdetect

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

// Accident reports in the corpus come from alpine-country press and SAR
// bulletins; restricting the detector to these languages keeps it small
// and markedly more accurate on short narratives.
var corpusLanguages = []lingua.Language{
	lingua.English,
	lingua.French,
	lingua.German,
	lingua.Italian,
	lingua.Spanish,
	lingua.Slovene,
	lingua.Polish,
	lingua.Japanese,
	lingua.Bokmal,
	lingua.Swedish,
}

// sampleLimit bounds how much narrative the detector reads; language is
// stable well before this.
const sampleLimit = 2000

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// DetectISO6391 returns the two-letter language code of a narrative, or
// "" when the text is too short or the detector is unsure.
func DetectISO6391(text string) string {
	sample := strings.TrimSpace(text)
	if sample == "" {
		return ""
	}
	if len(sample) > sampleLimit {
		sample = sample[:sampleLimit]
	}

	letterCount := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letterCount++
		}
	}
	if letterCount < 6 {
		return ""
	}

	language, exists := getDetector().DetectLanguageOf(sample)
	if !exists {
		return ""
	}

	code := strings.ToLower(language.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(corpusLanguages...).
			WithPreloadedLanguageModels().
			Build()
	})
	return detector
}

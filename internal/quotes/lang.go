package quotes

import (
	"strings"
	"sync"

	lingua "github.com/pemistahl/lingua-go"
)

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromAllLanguages().
			Build()
	})
	return detector
}

// detectLanguage fills the language field for pages whose metadata lacks one.
// Returns the ISO 639-1 code, or "" when detection is unreliable.
func detectLanguage(text string) string {
	sample := strings.TrimSpace(text)
	if len(sample) < 20 {
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

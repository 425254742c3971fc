package dispatch

import "unicode"

// Language identifies the script family of a prompt.
type Language string

const (
	// LanguageRussian covers text containing any Cyrillic characters.
	LanguageRussian Language = "russian"
	// LanguageEnglish covers everything else, including empty text.
	LanguageEnglish Language = "english"
)

// DetectLanguage classifies text by script family. A single Cyrillic
// character marks the whole text as Russian; everything else is treated
// as English. Total over all inputs.
func DetectLanguage(text string) Language {
	for _, r := range text {
		if unicode.Is(unicode.Cyrillic, r) {
			return LanguageRussian
		}
	}
	return LanguageEnglish
}

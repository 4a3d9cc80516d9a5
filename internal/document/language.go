package document

import (
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// LanguageName renders a BCP-47 tag as its English name, falling back to
// the tag itself when it does not parse.
func LanguageName(tag string) string {
	t, err := language.Parse(tag)
	if err != nil || tag == "" {
		return tag
	}
	if name := display.English.Tags().Name(t); name != "" {
		return name
	}
	return tag
}

// LanguagePair names the translation direction in English, e.g.
// "Gujarati to English".
func LanguagePair(src, tgt string) string {
	return LanguageName(src) + " to " + LanguageName(tgt)
}

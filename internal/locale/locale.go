// Package locale parses the identifiers that select the narration language
// and regional formatting of route instructions.
package locale

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/language"
)

// Fallback is used when no system locale can be determined.
const Fallback Locale = "en-US"

// Pirate is the novelty narration language offered by Valhalla. It is not a
// BCP 47 tag so it bypasses language.Parse.
const Pirate Locale = "pirate"

// ErrInvalidLocale is returned by Parse for identifiers that are not
// well-formed language tags.
var ErrInvalidLocale = errors.New("invalid locale")

// Locale is a normalised language identifier such as "en-US".
type Locale string

func (l Locale) String() string { return string(l) }

// Parse normalises s to its canonical BCP 47 form. Underscore separators and
// POSIX charset suffixes ("fr_FR.UTF-8") are accepted.
func Parse(s string) (Locale, error) {
	raw := strings.TrimSpace(s)
	if i := strings.IndexAny(raw, ".@"); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "", fmt.Errorf("%w: empty identifier", ErrInvalidLocale)
	}
	if strings.EqualFold(raw, string(Pirate)) {
		return Pirate, nil
	}

	tag, err := language.Parse(strings.ReplaceAll(raw, "_", "-"))
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidLocale, s, err)
	}
	return Locale(tag.String()), nil
}

// System returns the process locale from LC_ALL, LC_MESSAGES or LANG, in
// that order, or Fallback when none is set to a usable value.
func System() Locale {
	return fromEnv(os.Getenv)
}

func fromEnv(getenv func(string) string) Locale {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		v := getenv(key)
		if v == "" || v == "C" || v == "POSIX" || strings.HasPrefix(v, "C.") {
			continue
		}
		if l, err := Parse(v); err == nil {
			return l
		}
	}
	return Fallback
}

// Option is one entry of the narration language menu.
type Option struct {
	Title  string `json:"title"`
	Locale Locale `json:"locale"`
}

// Narration lists the languages the demo offers for route instructions.
var Narration = []Option{
	{Title: "English", Locale: "en-US"},
	{Title: "French", Locale: "fr-FR"},
	{Title: "Catalan", Locale: "ca-ES"},
	{Title: "Hindi", Locale: "hi-IN"},
	{Title: "Spanish", Locale: "es-ES"},
	{Title: "Czech", Locale: "cs-CZ"},
	{Title: "Italian", Locale: "it-IT"},
	{Title: "German", Locale: "de-DE"},
	{Title: "Slovenian", Locale: "sl-SI"},
	{Title: "Pirate", Locale: Pirate},
}

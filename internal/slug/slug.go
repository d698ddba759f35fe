// Package slug derives URL slugs from free-form titles.
package slug

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const Separator = "-"

// germanFolds are applied before accent stripping so umlauts expand the way
// German readers expect instead of collapsing to the bare vowel.
var germanFolds = strings.NewReplacer(
	"ä", "ae", "Ä", "Ae",
	"ö", "oe", "Ö", "Oe",
	"ü", "ue", "Ü", "Ue",
	"ß", "ss", "ẞ", "SS",
)

// letters with no canonical decomposition into base + combining mark.
var ligatureFolds = strings.NewReplacer(
	"æ", "ae", "Æ", "AE",
	"œ", "oe", "Œ", "OE",
	"ø", "o", "Ø", "O",
	"ł", "l", "Ł", "L",
	"đ", "d", "Đ", "D",
	"ð", "d", "Ð", "D",
	"þ", "th", "Þ", "TH",
	"ı", "i",
)

// ASCII transliterates s to plain ASCII. Characters without a sensible ASCII
// form are dropped.
func ASCII(s string) string {
	s = germanFolds.Replace(s)
	s = ligatureFolds.Replace(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	var b strings.Builder
	b.Grow(len(out))
	for _, r := range out {
		if r < unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Make returns the lowercase, hyphen separated slug for title. Runs of
// anything other than ASCII letters and digits collapse into one separator and
// leading or trailing separators are trimmed.
func Make(title string) string {
	ascii := ASCII(title)
	var b strings.Builder
	b.Grow(len(ascii))
	pendingSep := false
	for i := 0; i < len(ascii); i++ {
		c := ascii[i]
		isAlnum := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if !isAlnum {
			pendingSep = b.Len() > 0
			continue
		}
		if pendingSep {
			b.WriteString(Separator)
			pendingSep = false
		}
		b.WriteByte(c)
	}
	return strings.ToLower(b.String())
}

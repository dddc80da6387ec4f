package providers

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName entfernt diakritische Zeichen und Satzzeichen, damit
// "Müller-Lüdenscheidt" und "Muller Ludenscheidt" übereinstimmen.
func NormalizeName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r):
			b.WriteRune(r)
		case r == '-' || unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// firstInitial liefert den ersten Buchstaben der Initialen in Kleinschrift.
func firstInitial(initials string) string {
	n := NormalizeName(initials)
	if n == "" {
		return ""
	}
	return string([]rune(n)[0])
}

// SamePerson vergleicht zwei Autorenangaben. ORCID entscheidet, wenn beide
// eine haben; sonst Nachname und erste Initiale.
func SamePerson(a, b Author) bool {
	if a.ORCID != "" && b.ORCID != "" {
		return strings.EqualFold(a.ORCID, b.ORCID)
	}
	if NormalizeName(a.LastName) == "" || NormalizeName(a.LastName) != NormalizeName(b.LastName) {
		return false
	}
	ia, ib := firstInitial(a.Initials), firstInitial(b.Initials)
	return ia == "" || ib == "" || ia == ib
}
